package nonce_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blackyblack/identity-server/nonce"
)

func TestMemoryRegistryMonotonicity(t *testing.T) {
	reg := nonce.NewMemoryRegistry()
	signer := []byte("signer")

	consumed, err := reg.IsConsumed(nonce.NamespaceVouch, signer, 1)
	require.NoError(t, err)
	require.False(t, consumed)

	require.NoError(t, reg.Consume(nonce.NamespaceVouch, signer, 1))

	consumed, err = reg.IsConsumed(nonce.NamespaceVouch, signer, 1)
	require.NoError(t, err)
	require.True(t, consumed)

	consumed, err = reg.IsConsumed(nonce.NamespaceVouch, signer, 2)
	require.NoError(t, err)
	require.False(t, consumed)
}

func TestMemoryRegistryNamespacesAreIndependent(t *testing.T) {
	reg := nonce.NewMemoryRegistry()
	signer := []byte("signer")
	require.NoError(t, reg.Consume(nonce.NamespaceVouch, signer, 5))

	consumed, err := reg.IsConsumed(nonce.NamespaceProof, signer, 1)
	require.NoError(t, err)
	require.False(t, consumed)
}

func TestKeyLocksSerializesPerSigner(t *testing.T) {
	locks := nonce.NewKeyLocks()
	signer := []byte("signer")

	var events []string
	unlock := locks.Lock(nonce.NamespaceVouch, signer)
	events = append(events, "first-locked")

	acquired := make(chan struct{})
	go func() {
		unlock2 := locks.Lock(nonce.NamespaceVouch, signer)
		events = append(events, "second-locked")
		unlock2()
		close(acquired)
	}()

	events = append(events, "first-unlocking")
	unlock()
	<-acquired

	require.Equal(t, []string{"first-locked", "first-unlocking", "second-locked"}, events)
}
