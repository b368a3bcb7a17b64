package store

import "context"

// Stores bundles the stores that participate in task orchestration so they
// can be bound to one transaction together.
type Stores struct {
	Tasks    TaskStore
	Chats    ChatStore
	Fortunes FortuneStore
}

// Transactor runs work against Stores, either directly or inside a single
// atomic transaction spanning every store.
type Transactor interface {
	// Stores returns stores that operate outside any transaction.
	Stores() Stores

	// RunInTx executes fn with stores bound to one transaction, committing if
	// fn returns nil and rolling back otherwise.
	RunInTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
}
