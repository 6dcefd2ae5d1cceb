package action_test

import (
	"crypto/ed25519"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blackyblack/identity-server/action"
	"github.com/blackyblack/identity-server/apperr"
	"github.com/blackyblack/identity-server/codec"
	"github.com/blackyblack/identity-server/nonce"
	"github.com/blackyblack/identity-server/roles"
	"github.com/blackyblack/identity-server/signing"
	"github.com/blackyblack/identity-server/trust"
)

func newService(t *testing.T) (*action.Service, *trust.MemoryStore, *roles.MemoryStore) {
	t.Helper()
	trustStore := trust.NewMemoryStore()
	roleStore := roles.NewMemoryStore()
	svc := &action.Service{
		Trust:  trustStore,
		Roles:  roleStore,
		Nonces: nonce.NewMemoryRegistry(),
		Locks:  nonce.NewKeyLocks(),
		Engine: trust.NewEngine(trustStore),
		Now:    func() int64 { return 1 },
	}
	return svc, trustStore, roleStore
}

func fixedID(b byte) []byte {
	out := make([]byte, codec.IdentitySize)
	for i := range out {
		out[i] = b
	}
	return out
}

func signVouch(t *testing.T, priv ed25519.PrivateKey, user string, n int64) string {
	t.Helper()
	msg := signing.VouchMessage(user, n)
	sig := ed25519.Sign(priv, msg)
	return base64.StdEncoding.EncodeToString(sig)
}

func TestVouchReplayResistance(t *testing.T) {
	svc, _, _ := newService(t)
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	signer := codec.EncodeIdentity(pub)
	user := codec.EncodeIdentity(fixedID('b'))

	req := action.Request{SignerB58: signer, UserB58: user, Nonce: 1, SigB64: signVouch(t, priv, user, 1)}
	_, err = svc.Vouch(req)
	require.NoError(t, err)

	// Same nonce must now fail.
	_, err = svc.Vouch(req)
	require.Equal(t, apperr.NonceConsumed, apperr.KindOf(err))

	// A lower nonce must also fail.
	lower := action.Request{SignerB58: signer, UserB58: user, Nonce: 0, SigB64: signVouch(t, priv, user, 0)}
	_, err = svc.Vouch(lower)
	require.Equal(t, apperr.NonceConsumed, apperr.KindOf(err))

	// A strictly higher nonce with a valid signature succeeds.
	higher := action.Request{SignerB58: signer, UserB58: user, Nonce: 2, SigB64: signVouch(t, priv, user, 2)}
	_, err = svc.Vouch(higher)
	require.NoError(t, err)
}

func TestVouchSignatureBinding(t *testing.T) {
	svc, _, _ := newService(t)
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	signer := codec.EncodeIdentity(pub)
	user := codec.EncodeIdentity(fixedID('b'))
	otherUser := codec.EncodeIdentity(fixedID('z'))

	sig := signVouch(t, priv, user, 1)

	// Mutating the user in the path must invalidate the signature.
	req := action.Request{SignerB58: signer, UserB58: otherUser, Nonce: 1, SigB64: sig}
	_, err = svc.Vouch(req)
	require.Equal(t, apperr.BadSignature, apperr.KindOf(err))

	// Mutating the nonce must invalidate the signature too.
	req2 := action.Request{SignerB58: signer, UserB58: user, Nonce: 2, SigB64: sig}
	_, err = svc.Vouch(req2)
	require.Equal(t, apperr.BadSignature, apperr.KindOf(err))
}

func TestProofRequiresModerator(t *testing.T) {
	svc, _, roleStore := newService(t)
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	signer := codec.EncodeIdentity(pub)
	user := codec.EncodeIdentity(fixedID('b'))

	msg := signing.ProofMessage(user, 1, 50, "id1")
	sig := base64.StdEncoding.EncodeToString(ed25519.Sign(priv, msg))
	req := action.Request{SignerB58: signer, UserB58: user, Nonce: 1, SigB64: sig, Balance: 50, ProofID: "id1"}

	_, err = svc.Proof(req)
	require.Equal(t, apperr.NotAllowed, apperr.KindOf(err))

	require.NoError(t, roleStore.BootstrapModerator(pub))
	result, err := svc.Proof(req)
	require.NoError(t, err)
	require.EqualValues(t, 50, result.IDT)
}

// A NotAllowed rejection must never consume the nonce: no mutation happened,
// so the signer must be able to retry the exact same (nonce, signature) once
// authorized, per spec.md §5's "successful nonce consumption implies the
// action was applied" invariant.
func TestNotAllowedDoesNotConsumeNonce(t *testing.T) {
	svc, _, roleStore := newService(t)
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	signer := codec.EncodeIdentity(pub)
	user := codec.EncodeIdentity(fixedID('b'))

	msg := signing.PunishMessage(user, 1, 10, "p1")
	sig := base64.StdEncoding.EncodeToString(ed25519.Sign(priv, msg))
	req := action.Request{SignerB58: signer, UserB58: user, Nonce: 1, SigB64: sig, Balance: 10, ProofID: "p1"}

	_, err = svc.Punish(req)
	require.Equal(t, apperr.NotAllowed, apperr.KindOf(err))

	require.NoError(t, roleStore.BootstrapModerator(pub))
	result, err := svc.Punish(req)
	require.NoError(t, err)
	require.EqualValues(t, 10, result.Penalty)
}

func TestProofRejectsOverMaxBalance(t *testing.T) {
	svc, _, roleStore := newService(t)
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	require.NoError(t, roleStore.BootstrapModerator(pub))
	signer := codec.EncodeIdentity(pub)
	user := codec.EncodeIdentity(fixedID('b'))

	msg := signing.ProofMessage(user, 1, trust.MaxIDTByProof+1, "id1")
	sig := base64.StdEncoding.EncodeToString(ed25519.Sign(priv, msg))
	req := action.Request{SignerB58: signer, UserB58: user, Nonce: 1, SigB64: sig, Balance: trust.MaxIDTByProof + 1, ProofID: "id1"}

	_, err = svc.Proof(req)
	require.Equal(t, apperr.InvariantViolation, apperr.KindOf(err))
}

func TestPunishSharesProofNonceNamespace(t *testing.T) {
	svc, _, roleStore := newService(t)
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	require.NoError(t, roleStore.BootstrapModerator(pub))
	signer := codec.EncodeIdentity(pub)
	user := codec.EncodeIdentity(fixedID('b'))

	proofMsg := signing.ProofMessage(user, 1, 10, "id1")
	proofSig := base64.StdEncoding.EncodeToString(ed25519.Sign(priv, proofMsg))
	_, err = svc.Proof(action.Request{SignerB58: signer, UserB58: user, Nonce: 1, SigB64: proofSig, Balance: 10, ProofID: "id1"})
	require.NoError(t, err)

	// A punish at the same nonce is rejected: punish shares the proof
	// namespace, a documented quirk rather than a bug fix.
	punishMsg := signing.PunishMessage(user, 1, 5, "p1")
	punishSig := base64.StdEncoding.EncodeToString(ed25519.Sign(priv, punishMsg))
	_, err = svc.Punish(action.Request{SignerB58: signer, UserB58: user, Nonce: 1, SigB64: punishSig, Balance: 5, ProofID: "p1"})
	require.Equal(t, apperr.NonceConsumed, apperr.KindOf(err))
}

func TestRemoveAdminAllowsSelfRemoval(t *testing.T) {
	svc, _, roleStore := newService(t)
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	require.NoError(t, roleStore.BootstrapAdmin(pub))
	signer := codec.EncodeIdentity(pub)

	msg := signing.AdminMessage(signer, 1)
	sig := base64.StdEncoding.EncodeToString(ed25519.Sign(priv, msg))
	_, err = svc.RemoveAdmin(action.Request{SignerB58: signer, UserB58: signer, Nonce: 1, SigB64: sig})
	require.NoError(t, err)

	isAdmin, err := roleStore.IsAdmin(pub)
	require.NoError(t, err)
	require.False(t, isAdmin)
}
