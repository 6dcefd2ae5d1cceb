// Package signing builds the canonical messages for each signed action kind
// and verifies Ed25519 signatures over them.
package signing

import (
	"crypto/ed25519"
	"strconv"
	"strings"
)

// Action identifies the kind of signed action a canonical message is built
// for, and doubles as the nonce namespace name for all but punish (which
// shares the proof namespace, see nonce.NamespaceProof).
type Action string

const (
	ActionVouch     Action = "vouch"
	ActionProof     Action = "proof"
	ActionPunish    Action = "punish"
	ActionModerator Action = "moderators"
	ActionAdmin     Action = "admins"
)

// VouchMessage builds the canonical message for a vouch action.
func VouchMessage(user string, nonce int64) []byte {
	return join(string(ActionVouch), user, strconv.FormatInt(nonce, 10))
}

// ProofMessage builds the canonical message for a proof action.
func ProofMessage(user string, nonce int64, balance int64, proofID string) []byte {
	return join(string(ActionProof), user, strconv.FormatInt(nonce, 10), strconv.FormatInt(balance, 10), proofID)
}

// PunishMessage builds the canonical message for a punish action.
func PunishMessage(user string, nonce int64, balance int64, proofID string) []byte {
	return join(string(ActionPunish), user, strconv.FormatInt(nonce, 10), strconv.FormatInt(balance, 10), proofID)
}

// ModeratorMessage builds the canonical message for an add/remove-moderator action.
func ModeratorMessage(user string, nonce int64) []byte {
	return join(string(ActionModerator), user, strconv.FormatInt(nonce, 10))
}

// AdminMessage builds the canonical message for an add/remove-admin action.
func AdminMessage(user string, nonce int64) []byte {
	return join(string(ActionAdmin), user, strconv.FormatInt(nonce, 10))
}

func join(parts ...string) []byte {
	return []byte(strings.Join(parts, "/"))
}

// Verify reports whether sig is a valid Ed25519 signature over message under
// the given raw public key. A malformed public key never verifies.
func Verify(publicKey, message, sig []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), message, sig)
}
