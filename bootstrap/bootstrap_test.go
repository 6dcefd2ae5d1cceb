package bootstrap_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blackyblack/identity-server/bootstrap"
	"github.com/blackyblack/identity-server/codec"
	"github.com/blackyblack/identity-server/roles"
	"github.com/blackyblack/identity-server/trust"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoadAppliesAdminsModeratorsAndGenesis(t *testing.T) {
	dir := t.TempDir()
	admin := codec.EncodeIdentity(make([]byte, codec.IdentitySize))
	mod := make([]byte, codec.IdentitySize)
	mod[0] = 1
	modB58 := codec.EncodeIdentity(mod)
	genesisUser := make([]byte, codec.IdentitySize)
	genesisUser[0] = 2
	genesisB58 := codec.EncodeIdentity(genesisUser)

	writeFile(t, dir, "admins.json", `["`+admin+`"]`)
	writeFile(t, dir, "moderators.json", `["`+modB58+`"]`)
	writeFile(t, dir, "genesis.json", `[{"user":"`+genesisB58+`","idt":999999}]`)

	roleStore := roles.NewMemoryStore()
	trustStore := trust.NewMemoryStore()
	require.NoError(t, bootstrap.Load(dir, roleStore, trustStore, func() int64 { return 42 }))

	isAdmin, err := roleStore.IsAdmin(make([]byte, codec.IdentitySize))
	require.NoError(t, err)
	require.True(t, isAdmin)

	isMod, err := roleStore.IsModerator(mod)
	require.NoError(t, err)
	require.True(t, isMod)

	proof, ok, err := trustStore.GetProof(genesisUser)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 999999, proof.Balance)
	require.Equal(t, trust.GenesisProofID, proof.ProofID)
}

func TestLoadToleratesMissingFiles(t *testing.T) {
	dir := t.TempDir()
	roleStore := roles.NewMemoryStore()
	trustStore := trust.NewMemoryStore()
	require.NoError(t, bootstrap.Load(dir, roleStore, trustStore, nil))

	admins, err := roleStore.ListAdmins()
	require.NoError(t, err)
	require.Empty(t, admins)
}
