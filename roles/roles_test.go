package roles_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blackyblack/identity-server/apperr"
	"github.com/blackyblack/identity-server/roles"
)

func TestAddAdminRequiresCallerIsAdmin(t *testing.T) {
	store := roles.NewMemoryStore()
	admin := []byte("admin-one")
	outsider := []byte("outsider")
	newAdmin := []byte("new-admin")

	err := store.AddAdmin(outsider, newAdmin)
	require.Equal(t, apperr.NotAllowed, apperr.KindOf(err))

	require.NoError(t, store.BootstrapAdmin(admin))
	require.NoError(t, store.AddAdmin(admin, newAdmin))

	ok, err := store.IsAdmin(newAdmin)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRemoveAdminAllowsSelfRemoval(t *testing.T) {
	store := roles.NewMemoryStore()
	admin := []byte("solo-admin")
	require.NoError(t, store.BootstrapAdmin(admin))

	require.NoError(t, store.RemoveAdmin(admin, admin))

	ok, err := store.IsAdmin(admin)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestModeratorMutationAuthorizedByAdmin(t *testing.T) {
	store := roles.NewMemoryStore()
	admin := []byte("admin")
	mod := []byte("mod")
	require.NoError(t, store.BootstrapAdmin(admin))

	err := store.AddModerator(mod, mod)
	require.Equal(t, apperr.NotAllowed, apperr.KindOf(err))

	require.NoError(t, store.AddModerator(admin, mod))
	ok, err := store.IsModerator(mod)
	require.NoError(t, err)
	require.True(t, ok)
}
