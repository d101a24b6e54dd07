package repository

import (
	"context"

	"gorm.io/gorm"

	"variantenbaum-go/internal/model"
)

// ConstraintRepository 接口定义了约束规则的持久化操作。
type ConstraintRepository interface {
	ListByLevel(ctx context.Context, level int) ([]model.Constraint, error)
	FindByID(ctx context.Context, id uint) (*model.Constraint, error)
	Create(ctx context.Context, c *model.Constraint) error
	Update(ctx context.Context, c *model.Constraint) error
	Delete(ctx context.Context, id uint) error
}

type constraintRepository struct {
	db *gorm.DB
}

// NewConstraintRepository 创建一个新的 ConstraintRepository 实例。
func NewConstraintRepository(db *gorm.DB) ConstraintRepository {
	return &constraintRepository{db: db}
}

// ListByLevel 返回某层级上的所有约束，条件与代码一并加载。
func (r *constraintRepository) ListByLevel(ctx context.Context, level int) ([]model.Constraint, error) {
	var out []model.Constraint
	err := r.db.WithContext(ctx).
		Preload("Conditions", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Preload("Codes", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Where("level = ?", level).Order("id").Find(&out).Error
	return out, err
}

func (r *constraintRepository) FindByID(ctx context.Context, id uint) (*model.Constraint, error) {
	var c model.Constraint
	err := r.db.WithContext(ctx).Preload("Conditions").Preload("Codes").First(&c, id).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create 同时写入约束及其条件和代码。
func (r *constraintRepository) Create(ctx context.Context, c *model.Constraint) error {
	return r.db.WithContext(ctx).Create(c).Error
}

// Update 替换约束的基本字段以及全部条件和代码。
func (r *constraintRepository) Update(ctx context.Context, c *model.Constraint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Constraint{}).Where("id = ?", c.ID).
			Updates(map[string]interface{}{"level": c.Level, "mode": c.Mode, "description": c.Description})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var n int64
			if err := tx.Model(&model.Constraint{}).Where("id = ?", c.ID).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return gorm.ErrRecordNotFound
			}
		}
		if err := tx.Where("constraint_id = ?", c.ID).Delete(&model.ConstraintCondition{}).Error; err != nil {
			return err
		}
		if err := tx.Where("constraint_id = ?", c.ID).Delete(&model.ConstraintCode{}).Error; err != nil {
			return err
		}
		for i := range c.Conditions {
			c.Conditions[i].ID = 0
			c.Conditions[i].ConstraintID = c.ID
		}
		for i := range c.Codes {
			c.Codes[i].ID = 0
			c.Codes[i].ConstraintID = c.ID
		}
		if len(c.Conditions) > 0 {
			if err := tx.Create(&c.Conditions).Error; err != nil {
				return err
			}
		}
		if len(c.Codes) > 0 {
			if err := tx.Create(&c.Codes).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete 删除约束及其条件和代码。
func (r *constraintRepository) Delete(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("constraint_id = ?", id).Delete(&model.ConstraintCondition{}).Error; err != nil {
			return err
		}
		if err := tx.Where("constraint_id = ?", id).Delete(&model.ConstraintCode{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&model.Constraint{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}
