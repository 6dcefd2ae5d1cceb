// Package codec decodes the wire representations of identities and
// signatures used throughout the signed-action protocol: identities travel
// as base58, signatures as base64.
package codec

import (
	"encoding/base64"

	"github.com/btcsuite/btcutil/base58"

	"github.com/blackyblack/identity-server/apperr"
)

// IdentitySize is the length in bytes of a raw Ed25519 public key.
const IdentitySize = 32

// SignatureSize is the length in bytes of a raw Ed25519 signature.
const SignatureSize = 64

// DecodeIdentity decodes a base58-encoded identity into its raw public key
// bytes. It rejects anything that does not decode to exactly IdentitySize
// bytes, since a short or padded key can never verify correctly.
func DecodeIdentity(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, apperr.New(apperr.BadRequest, "identity must not be empty")
	}
	decoded := base58.Decode(encoded)
	if len(decoded) != IdentitySize {
		return nil, apperr.Newf(apperr.BadRequest, "identity must decode to %d bytes, got %d", IdentitySize, len(decoded))
	}
	return decoded, nil
}

// EncodeIdentity renders a raw public key as its base58 wire form.
func EncodeIdentity(raw []byte) string {
	return base58.Encode(raw)
}

// DecodeSignature decodes a base64-encoded signature into raw bytes.
func DecodeSignature(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, apperr.New(apperr.BadRequest, "signature must not be empty")
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, apperr.Wrap(apperr.BadRequest, "invalid base64 signature", err)
	}
	if len(decoded) != SignatureSize {
		return nil, apperr.Newf(apperr.BadRequest, "signature must decode to %d bytes, got %d", SignatureSize, len(decoded))
	}
	return decoded, nil
}
