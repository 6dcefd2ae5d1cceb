package main

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/blackyblack/identity-server/action"
	"github.com/blackyblack/identity-server/bootstrap"
	"github.com/blackyblack/identity-server/config"
	"github.com/blackyblack/identity-server/httpapi"
	"github.com/blackyblack/identity-server/nonce"
	"github.com/blackyblack/identity-server/observability/logging"
	"github.com/blackyblack/identity-server/query"
	"github.com/blackyblack/identity-server/roles"
	"github.com/blackyblack/identity-server/storage/boltstore"
	"github.com/blackyblack/identity-server/storage/sqlstore"
	"github.com/blackyblack/identity-server/trust"
)

func main() {
	env := os.Getenv("ENV")
	logging.Setup("identity-server", env)

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	trustStore, roleStore, nonceRegistry, closeFn, err := openBackend(cfg)
	if err != nil {
		log.Fatalf("storage init error: %v", err)
	}
	if closeFn != nil {
		defer closeFn()
	}

	if err := bootstrap.Load(cfg.BootstrapDir, roleStore, trustStore, nil); err != nil {
		log.Fatalf("bootstrap load error: %v", err)
	}

	engine := trust.NewEngine(trustStore)
	actions := &action.Service{
		Trust:  trustStore,
		Roles:  roleStore,
		Nonces: nonceRegistry,
		Locks:  nonce.NewKeyLocks(),
		Engine: engine,
	}
	queries := &query.Service{Engine: engine, Roles: roleStore}

	srv := httpapi.New(actions, queries)
	addr := fmt.Sprintf(":%s", cfg.Port)
	log.Printf("identity-server listening on %s (backend=%s)", addr, cfg.StoreBackend)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}

func openBackend(cfg *config.Config) (trust.Store, roles.Store, nonce.Registry, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		return trust.NewMemoryStore(), roles.NewMemoryStore(), nonce.NewMemoryRegistry(), nil, nil
	case config.BackendBolt:
		store, err := boltstore.Open(cfg.BoltPath)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return store, store, store, func() { _ = store.Close() }, nil
	case config.BackendMySQL:
		store, err := sqlstore.Open(cfg.DSN())
		if err != nil {
			return nil, nil, nil, nil, err
		}
		return store, store, store, nil, nil
	default:
		return nil, nil, nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
