package commonrepo

import (
	"context"
	"database/sql"

	"github.com/jobs/integration-engine/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DB 仓储使用的 gorm 方法子集, *gorm.DB 和事务句柄都满足
type DB interface {
	Model(value any) (tx *gorm.DB)
	Create(value any) (tx *gorm.DB)
	Where(query any, args ...any) (tx *gorm.DB)
	Delete(value any, conds ...any) (tx *gorm.DB)
	Order(value any) *gorm.DB
	Clauses(conds ...clause.Expression) (tx *gorm.DB)
	Transaction(fn func(tx *gorm.DB) error, opts ...*sql.TxOptions) error
	WithContext(ctx context.Context) *gorm.DB
	DB() (*sql.DB, error)
}

var _ DB = (*gorm.DB)(nil)

// Matched reports whether a conditional update or delete hit a row. The
// MySQL DSN sets clientFoundRows, so an update writing identical values
// still counts as matched.
func Matched(res *gorm.DB) (bool, error) {
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// First loads one row into a new PO. A missing row is (nil, nil).
func First[PO any](query *gorm.DB) (*PO, error) {
	po := new(PO)
	if err := query.First(po).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return po, nil
}
