package service

import "context"

// transactor runs a function inside a database transaction. Repository
// calls made with the yielded context join that transaction.
type transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
