package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// MySQLStore implements Store on top of sqlx. The DSN must carry
// parseTime=true so DATETIME columns scan into time.Time.
type MySQLStore struct {
	db *sqlx.DB
}

func NewMySQLStore(db *sqlx.DB) *MySQLStore {
	return &MySQLStore{db: db}
}

var _ Store = (*MySQLStore)(nil)

func (s *MySQLStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	t, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = t.Rollback() }()
	if err := fn(&mysqlTx{tx: t}); err != nil {
		return err
	}
	return t.Commit()
}

type mysqlTx struct {
	tx *sqlx.Tx
}

var _ Tx = (*mysqlTx)(nil)
