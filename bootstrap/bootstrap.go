// Package bootstrap loads the startup state files described in spec.md
// §6.3: admins.json, moderators.json, and genesis.json. Loading bypasses
// authorization and (for genesis) the proof balance bound entirely, the
// same way the teacher's genesis loader bypasses normal mutation paths at
// startup.
package bootstrap

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/blackyblack/identity-server/codec"
	"github.com/blackyblack/identity-server/roles"
	"github.com/blackyblack/identity-server/trust"
)

// Load reads admins.json, moderators.json, and genesis.json from dir, if
// present, inserting their contents unconditionally. Missing files are not
// an error. Identities are applied in sorted order for determinism. now
// defaults to time.Now().Unix() when nil.
func Load(dir string, roleStore roles.Store, trustStore trust.Store, now func() int64) error {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	admins, err := loadIdentities(filepath.Join(dir, "admins.json"))
	if err != nil {
		return fmt.Errorf("load admins.json: %w", err)
	}
	for _, u := range admins {
		if err := roleStore.BootstrapAdmin(u); err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
	}

	moderators, err := loadIdentities(filepath.Join(dir, "moderators.json"))
	if err != nil {
		return fmt.Errorf("load moderators.json: %w", err)
	}
	for _, u := range moderators {
		if err := roleStore.BootstrapModerator(u); err != nil {
			return fmt.Errorf("bootstrap moderator: %w", err)
		}
	}

	genesis, err := loadGenesis(filepath.Join(dir, "genesis.json"))
	if err != nil {
		return fmt.Errorf("load genesis.json: %w", err)
	}
	for _, g := range genesis {
		if err := trustStore.SetProof(g.user, g.idt, now(), trust.GenesisProofID); err != nil {
			return fmt.Errorf("apply genesis proof: %w", err)
		}
	}

	return nil
}

func loadIdentities(path string) ([][]byte, error) {
	raw, ok, err := readFile(path)
	if err != nil || !ok {
		return nil, err
	}
	var encoded []string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	sort.Strings(encoded)
	out := make([][]byte, 0, len(encoded))
	for _, e := range encoded {
		u, err := codec.DecodeIdentity(e)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, u)
	}
	return out, nil
}

type genesisEntry struct {
	user []byte
	idt  int64
}

func loadGenesis(path string) ([]genesisEntry, error) {
	raw, ok, err := readFile(path)
	if err != nil || !ok {
		return nil, err
	}
	var entries []struct {
		User string `json:"user"`
		IDT  int64  `json:"idt"`
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].User < entries[j].User })
	out := make([]genesisEntry, 0, len(entries))
	for _, e := range entries {
		u, err := codec.DecodeIdentity(e.User)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, genesisEntry{user: u, idt: e.IDT})
	}
	return out, nil
}

func readFile(path string) ([]byte, bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return raw, true, nil
}
