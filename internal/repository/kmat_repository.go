package repository

import (
	"context"
	"strconv"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"variantenbaum-go/internal/model"
)

// PathKey 把路径节点 ID 写成规范形式 "1,5,12"，顺序保持不变。
func PathKey(ids []uint) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}
	return strings.Join(parts, ",")
}

// KmatRepository 接口定义了物料号引用的持久化操作。
type KmatRepository interface {
	Upsert(ctx context.Context, ref *model.KmatReference) (created bool, err error)
	Find(ctx context.Context, familyID uint, pathKey string) (*model.KmatReference, error)
	ListByFamily(ctx context.Context, familyID uint) ([]model.KmatReference, error)
	Delete(ctx context.Context, id uint) error
}

type kmatRepository struct {
	db *gorm.DB
}

// NewKmatRepository 创建一个新的 KmatRepository 实例。
func NewKmatRepository(db *gorm.DB) KmatRepository {
	return &kmatRepository{db: db}
}

// Upsert 按 (family_id, path_key) 创建或更新引用。
func (r *kmatRepository) Upsert(ctx context.Context, ref *model.KmatReference) (bool, error) {
	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []model.KmatReference
		if err := tx.Where("family_id = ? AND path_key = ?", ref.FamilyID, ref.PathKey).
			Limit(1).Find(&existing).Error; err != nil {
			return err
		}
		if len(existing) == 0 {
			created = true
			return tx.Omit(clause.Associations).Create(ref).Error
		}
		cur := existing[0]
		ref.ID = cur.ID
		ref.CreatedAt = cur.CreatedAt
		return tx.Model(&model.KmatReference{}).Where("id = ?", cur.ID).Updates(map[string]interface{}{
			"path_node_ids":  ref.PathNodeIDs,
			"full_typecode":  ref.FullTypecode,
			"kmat_reference": ref.Reference,
			"created_by":     ref.CreatedBy,
		}).Error
	})
	return created, err
}

func (r *kmatRepository) Find(ctx context.Context, familyID uint, pathKey string) (*model.KmatReference, error) {
	var ref model.KmatReference
	err := r.db.WithContext(ctx).Where("family_id = ? AND path_key = ?", familyID, pathKey).Take(&ref).Error
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

func (r *kmatRepository) ListByFamily(ctx context.Context, familyID uint) ([]model.KmatReference, error) {
	var out []model.KmatReference
	err := r.db.WithContext(ctx).Where("family_id = ?", familyID).Order("id").Find(&out).Error
	return out, err
}

func (r *kmatRepository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&model.KmatReference{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
