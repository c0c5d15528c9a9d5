package db

import (
	"fmt"

	"github.com/jmehdipour/outreach-scheduler/internal/config"
	"github.com/jmehdipour/outreach-scheduler/internal/repository"
)

// OpenStore returns the store selected by store.driver and its closer.
func OpenStore(cfg config.Config) (repository.Store, func() error, error) {
	switch cfg.Store.Driver {
	case "memory":
		return repository.NewMemoryStore(), func() error { return nil }, nil
	case "mysql":
		dbx, err := NewMySQLConnection(cfg.MySQL.DSN, MySQLOptsFrom(cfg.MySQL))
		if err != nil {
			return nil, nil, fmt.Errorf("mysql connect: %w", err)
		}
		return repository.NewMySQLStore(dbx), dbx.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
