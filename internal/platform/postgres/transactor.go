package postgres

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/zcanic/zcanic-server/internal/store"
)

// Transactor implements store.Transactor on a *sql.DB, binding the task,
// chat and fortune stores to one transaction per unit of work.
type Transactor struct {
	db     *sql.DB
	stores store.Stores
}

// NewTransactor creates a Transactor whose stores log through logger.
func NewTransactor(db *sql.DB, logger *slog.Logger) *Transactor {
	if db == nil {
		panic("db cannot be nil")
	}
	return &Transactor{
		db: db,
		stores: store.Stores{
			Tasks:    NewPostgresTaskStore(db, logger),
			Chats:    NewPostgresChatStore(db, logger),
			Fortunes: NewPostgresFortuneStore(db, logger),
		},
	}
}

// Ensure Transactor implements store.Transactor interface
var _ store.Transactor = (*Transactor)(nil)

// Stores implements store.Transactor.Stores
func (t *Transactor) Stores() store.Stores {
	return t.stores
}

// RunInTx implements store.Transactor.RunInTx
func (t *Transactor) RunInTx(ctx context.Context, fn func(ctx context.Context, s store.Stores) error) error {
	return store.RunInTransaction(ctx, t.db, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, store.Stores{
			Tasks:    t.stores.Tasks.WithTx(tx),
			Chats:    t.stores.Chats.WithTx(tx),
			Fortunes: t.stores.Fortunes.WithTx(tx),
		})
	})
}
