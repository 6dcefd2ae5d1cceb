package boltstore_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blackyblack/identity-server/nonce"
	"github.com/blackyblack/identity-server/storage/boltstore"
)

func openTestStore(t *testing.T) *boltstore.Store {
	t.Helper()
	store, err := boltstore.Open(filepath.Join(t.TempDir(), "identity.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestBoltStoreVouchAndProofRoundTrip(t *testing.T) {
	store := openTestStore(t)
	voucher := []byte("voucher-identity-000000000000000")[:32]
	vouchee := []byte("vouchee-identity-000000000000000")[:32]

	require.NoError(t, store.InsertVouch(voucher, vouchee, 10))
	incoming, err := store.IncomingVouches(vouchee)
	require.NoError(t, err)
	require.Len(t, incoming, 1)
	require.Equal(t, voucher, incoming[0].Identity)

	require.NoError(t, store.SetProof(vouchee, 100, 11, "id1"))
	proof, ok, err := store.GetProof(vouchee)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 100, proof.Balance)

	// Re-inserting the same edge must not duplicate it.
	require.NoError(t, store.InsertVouch(voucher, vouchee, 20))
	incoming, err = store.IncomingVouches(vouchee)
	require.NoError(t, err)
	require.Len(t, incoming, 1)
	require.EqualValues(t, 20, incoming[0].Timestamp)
}

func TestBoltStorePenaltyKeyedByProofID(t *testing.T) {
	store := openTestStore(t)
	target := []byte("target-identity-00000000000000000")[:32]
	mod := []byte("moderator-identity-000000000000000")[:32]

	require.NoError(t, store.InsertPenalty("p1", target, mod, 100, 1))
	require.NoError(t, store.InsertPenalty("p2", target, mod, 200, 2))
	penalties, err := store.PenaltiesOf(target)
	require.NoError(t, err)
	require.Len(t, penalties, 2)

	// Reusing a proof_id overwrites in place rather than duplicating.
	require.NoError(t, store.InsertPenalty("p1", target, mod, 999, 3))
	penalties, err = store.PenaltiesOf(target)
	require.NoError(t, err)
	require.Len(t, penalties, 2)
}

func TestBoltStoreRoleAuthorization(t *testing.T) {
	store := openTestStore(t)
	admin := []byte("admin-identity-0000000000000000000")[:32]
	outsider := []byte("outsider-identity-00000000000000000")[:32]
	target := []byte("target-role-identity-0000000000000")[:32]

	err := store.AddModerator(outsider, target)
	require.Error(t, err)

	require.NoError(t, store.BootstrapAdmin(admin))
	require.NoError(t, store.AddModerator(admin, target))
	isMod, err := store.IsModerator(target)
	require.NoError(t, err)
	require.True(t, isMod)
}

func TestBoltStoreNonceMonotonicity(t *testing.T) {
	store := openTestStore(t)
	signer := []byte("signer-identity-000000000000000000")[:32]

	consumed, err := store.IsConsumed(nonce.NamespaceVouch, signer, 1)
	require.NoError(t, err)
	require.False(t, consumed)

	require.NoError(t, store.Consume(nonce.NamespaceVouch, signer, 1))
	consumed, err = store.IsConsumed(nonce.NamespaceVouch, signer, 1)
	require.NoError(t, err)
	require.True(t, consumed)

	consumed, err = store.IsConsumed(nonce.NamespaceVouch, signer, 2)
	require.NoError(t, err)
	require.False(t, consumed)
}
