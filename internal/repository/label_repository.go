package repository

import (
	"context"

	"gorm.io/gorm"

	"variantenbaum-go/internal/model"
)

// LabelRepository 管理从节点标签解析出的 node_labels 行。
type LabelRepository interface {
	WithTx(tx *gorm.DB) LabelRepository
	Replace(ctx context.Context, nodeID uint, labels []model.NodeLabel) error
	CodedByNode(ctx context.Context, nodeID uint) ([]model.NodeLabel, error)
}

type labelRepository struct {
	db *gorm.DB
}

// NewLabelRepository 创建一个新的 LabelRepository 实例。
func NewLabelRepository(db *gorm.DB) LabelRepository {
	return &labelRepository{db: db}
}

func (r *labelRepository) WithTx(tx *gorm.DB) LabelRepository {
	return &labelRepository{db: tx}
}

// Replace 删除节点现有的标签段并写入新的标签段。
func (r *labelRepository) Replace(ctx context.Context, nodeID uint, labels []model.NodeLabel) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("node_id = ?", nodeID).Delete(&model.NodeLabel{}).Error; err != nil {
			return err
		}
		if len(labels) == 0 {
			return nil
		}
		for i := range labels {
			labels[i].NodeID = nodeID
		}
		return tx.Omit("Node").Create(&labels).Error
	})
}

// CodedByNode 返回带代码段的标签，按起始位置排序。
func (r *labelRepository) CodedByNode(ctx context.Context, nodeID uint) ([]model.NodeLabel, error) {
	var labels []model.NodeLabel
	err := r.db.WithContext(ctx).
		Where("node_id = ? AND code_segment IS NOT NULL", nodeID).
		Order("position_start, display_order").Find(&labels).Error
	return labels, err
}
