package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"variantenbaum-go/internal/model"
)

// severityOrder 把警告级别映射为排序键：critical 最先。
const severityOrder = "CASE warning_severity WHEN 'critical' THEN 1 WHEN 'warning' THEN 2 ELSE 3 END"

// SuccessorRepository 接口定义了替代关系和聚合提示的持久化操作。
type SuccessorRepository interface {
	WithTx(tx *gorm.DB) SuccessorRepository

	Create(ctx context.Context, s *model.ProductSuccessor) error
	CreateBatch(ctx context.Context, rows []model.ProductSuccessor) error
	Update(ctx context.Context, s *model.ProductSuccessor) error
	Delete(ctx context.Context, id uint) error
	FindByID(ctx context.Context, id uint) (*model.ProductSuccessor, error)
	List(ctx context.Context, sourceNodeID *uint) ([]model.ProductSuccessor, error)
	ExistingPairs(ctx context.Context, sourceIDs []uint) (map[[2]uint]bool, error)
	ActiveForSources(ctx context.Context, sourceIDs []uint, now time.Time) ([]model.ProductSuccessor, error)

	FindHintByFingerprint(ctx context.Context, fingerprint string) (*model.SuccessorHint, error)
	SaveHint(ctx context.Context, hint *model.SuccessorHint, sources, targets []uint) error
	HintForSource(ctx context.Context, nodeID uint) (*model.SuccessorHint, error)
}

type successorRepository struct {
	db *gorm.DB
}

// NewSuccessorRepository 创建一个新的 SuccessorRepository 实例。
func NewSuccessorRepository(db *gorm.DB) SuccessorRepository {
	return &successorRepository{db: db}
}

func (r *successorRepository) WithTx(tx *gorm.DB) SuccessorRepository {
	return &successorRepository{db: tx}
}

func (r *successorRepository) Create(ctx context.Context, s *model.ProductSuccessor) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(s).Error
}

func (r *successorRepository) CreateBatch(ctx context.Context, rows []model.ProductSuccessor) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Omit(clause.Associations).CreateInBatches(rows, DefaultBatchSize).Error
}

// Update 保存所有字段，包括零值的布尔字段。
func (r *successorRepository) Update(ctx context.Context, s *model.ProductSuccessor) error {
	return r.db.WithContext(ctx).Omit(clause.Associations, "created_at").Save(s).Error
}

func (r *successorRepository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&model.ProductSuccessor{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *successorRepository) FindByID(ctx context.Context, id uint) (*model.ProductSuccessor, error) {
	var s model.ProductSuccessor
	if err := r.db.WithContext(ctx).First(&s, id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// List 返回所有替代关系，sourceNodeID 非空时只返回该来源节点的记录。
func (r *successorRepository) List(ctx context.Context, sourceNodeID *uint) ([]model.ProductSuccessor, error) {
	q := r.db.WithContext(ctx).Order("id")
	if sourceNodeID != nil {
		q = q.Where("source_node_id = ?", *sourceNodeID)
	}
	var out []model.ProductSuccessor
	err := q.Find(&out).Error
	return out, err
}

// ExistingPairs 返回已存在的 (来源, 目标节点) 组合。
func (r *successorRepository) ExistingPairs(ctx context.Context, sourceIDs []uint) (map[[2]uint]bool, error) {
	out := make(map[[2]uint]bool)
	type pair struct {
		SourceNodeID uint
		TargetNodeID uint
	}
	for _, c := range chunk(uniq(sourceIDs), DefaultBatchSize) {
		var rows []pair
		err := r.db.WithContext(ctx).Model(&model.ProductSuccessor{}).
			Select("source_node_id, target_node_id").
			Where("source_node_id IN ? AND target_node_id IS NOT NULL", c).
			Scan(&rows).Error
		if err != nil {
			return nil, err
		}
		for _, p := range rows {
			out[[2]uint{p.SourceNodeID, p.TargetNodeID}] = true
		}
	}
	return out, nil
}

// ActiveForSources 返回生效中的替代关系：show_warning 为真且生效日期已到，
// 按严重程度和创建时间倒序排列。
func (r *successorRepository) ActiveForSources(ctx context.Context, sourceIDs []uint, now time.Time) ([]model.ProductSuccessor, error) {
	var out []model.ProductSuccessor
	for _, c := range chunk(uniq(sourceIDs), DefaultBatchSize) {
		var part []model.ProductSuccessor
		err := r.db.WithContext(ctx).
			Where("source_node_id IN ? AND show_warning = ?", c, true).
			Where("effective_date IS NULL OR effective_date <= ?", now).
			Order(severityOrder).Order("created_at DESC").Order("id DESC").
			Find(&part).Error
		if err != nil {
			return nil, err
		}
		out = append(out, part...)
	}
	return out, nil
}

func (r *successorRepository) FindHintByFingerprint(ctx context.Context, fingerprint string) (*model.SuccessorHint, error) {
	var h model.SuccessorHint
	err := r.db.WithContext(ctx).Preload("Members").Where("fingerprint = ?", fingerprint).Take(&h).Error
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// SaveHint 创建或更新提示，并替换它的成员行。
func (r *successorRepository) SaveHint(ctx context.Context, hint *model.SuccessorHint, sources, targets []uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if hint.ID == 0 {
			if err := tx.Omit("Members").Create(hint).Error; err != nil {
				return err
			}
		} else {
			if err := tx.Omit("Members", "created_at").Save(hint).Error; err != nil {
				return err
			}
			if err := tx.Where("hint_id = ?", hint.ID).Delete(&model.SuccessorHintNode{}).Error; err != nil {
				return err
			}
		}
		members := make([]model.SuccessorHintNode, 0, len(sources)+len(targets))
		for _, id := range uniq(sources) {
			members = append(members, model.SuccessorHintNode{HintID: hint.ID, NodeID: id, Role: model.RoleSource})
		}
		for _, id := range uniq(targets) {
			members = append(members, model.SuccessorHintNode{HintID: hint.ID, NodeID: id, Role: model.RoleTarget})
		}
		if err := tx.Omit("Node").CreateInBatches(members, DefaultBatchSize).Error; err != nil {
			return err
		}
		hint.Members = members
		return nil
	})
}

// HintForSource 返回最新的、节点作为来源的提示，包含全部成员。没有时返回 nil。
func (r *successorRepository) HintForSource(ctx context.Context, nodeID uint) (*model.SuccessorHint, error) {
	var h model.SuccessorHint
	err := r.db.WithContext(ctx).Preload("Members", func(db *gorm.DB) *gorm.DB {
		return db.Order("role, node_id")
	}).
		Where("id IN (?)", r.db.Model(&model.SuccessorHintNode{}).
			Select("hint_id").Where("node_id = ? AND role = ?", nodeID, model.RoleSource)).
		Where("show_warning = ?", true).
		Order(severityOrder).Order("created_at DESC").Order("id DESC").
		Take(&h).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}
