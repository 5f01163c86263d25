package commonrepo

import (
	"context"

	"gorm.io/gorm"
)

// Transaction 跨仓储的事务边界, 事务句柄通过 ctx 传递
type Transaction interface {
	Execute(ctx context.Context, fn func(ctx context.Context) error) error
}

type txContextKey struct{}

type DefaultRepo struct {
	db DB
}

func NewDefaultRepo(db DB) DefaultRepo {
	return DefaultRepo{db: db}
}

// Execute runs fn in a transaction. When ctx already carries one, fn joins it
// so an installation update and its run write commit together.
func (r *DefaultRepo) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if InTransaction(ctx) {
		return fn(ctx)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txContextKey{}, tx))
	})
}

// InTransaction reports whether ctx carries an open transaction.
func InTransaction(ctx context.Context) bool {
	_, ok := ctx.Value(txContextKey{}).(*gorm.DB)
	return ok
}

// Db 返回 ctx 中的事务句柄, 没有时使用连接池
func (r *DefaultRepo) Db(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txContextKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return r.db.WithContext(ctx)
}
