// Package repository 包含了所有与数据库交互的逻辑。
package repository

import (
	"context"

	"gorm.io/gorm"

	"variantenbaum-go/internal/model"
)

// DefaultBatchSize 限制单条 IN (...) 查询中的 ID 数量。
const DefaultBatchSize = 500

// AutoMigrate 创建或更新所有表。节点表必须先于引用它的表创建。
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Node{},
		&model.NodePath{},
		&model.NodeLabel{},
		&model.Constraint{},
		&model.ConstraintCondition{},
		&model.ConstraintCode{},
		&model.ProductSuccessor{},
		&model.SuccessorHint{},
		&model.SuccessorHintNode{},
		&model.KmatReference{},
	)
}

// Transactor 在一个数据库事务中执行 fn，fn 返回错误时回滚。
type Transactor interface {
	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type gormTransactor struct {
	db *gorm.DB
}

// NewTransactor 创建一个基于 GORM 的 Transactor。
func NewTransactor(db *gorm.DB) Transactor {
	return &gormTransactor{db: db}
}

func (t *gormTransactor) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return t.db.WithContext(ctx).Transaction(fn)
}

// chunk 把 ids 切分成不超过 size 的批次。
func chunk(ids []uint, size int) [][]uint {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var out [][]uint
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

func uniq(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
