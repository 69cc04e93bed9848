// Package userstore persiste o registro do usuário autenticado.
package userstore

import (
	"fmt"
	"log"

	"butler/internal/auth"
	"butler/internal/config"
)

// Backend é um auth.Store que pode liberar recursos.
type Backend interface {
	auth.Store
	Close() error
}

// Open escolhe o backend configurado
func Open(cfg config.Config) (Backend, error) {
	switch cfg.Store {
	case config.StoreKeyring, "":
		log.Println("[STORE] Using OS keychain")
		return NewKeyringStore(config.AppBundleID), nil
	case config.StoreSQLite:
		store, err := OpenDatabaseStore(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StoreMemory:
		log.Println("[STORE] Using in-memory store (session will not survive restart)")
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Store)
}
