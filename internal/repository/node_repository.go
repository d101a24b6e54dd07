package repository

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"variantenbaum-go/internal/apperr"
	"variantenbaum-go/internal/model"
)

// CandidateRow 是带父节点模式信息的候选节点。
type CandidateRow struct {
	model.Node
	ParentPattern *string
}

// OccurrenceRow 是某个代码的一次出现及其所属产品族。
type OccurrenceRow struct {
	ID      uint
	Level   int
	Name    string
	Label   string
	LabelEN string `gorm:"column:label_en"`
	Family  string
}

// NodeRepository 接口定义了变体树及其闭包索引的数据操作方法。
// 所有祖先/后代判断都通过 node_paths 完成，不做树遍历。
type NodeRepository interface {
	WithTx(tx *gorm.DB) NodeRepository

	FindByID(ctx context.Context, id uint) (*model.Node, error)
	FindByIDs(ctx context.Context, ids []uint) ([]model.Node, error)
	FindFamily(ctx context.Context, code string) (*model.Node, error)
	ListFamilies(ctx context.Context) ([]model.Node, error)
	FindByCode(ctx context.Context, code string) ([]model.Node, error)
	FindByFullTypecode(ctx context.Context, fullCode string) ([]model.Node, error)
	FindByCodeInFamily(ctx context.Context, familyID uint, level int, code string) ([]model.Node, error)
	ExistsChildCode(ctx context.Context, parentID uint, code string) (bool, error)

	Create(ctx context.Context, node *model.Node) error
	UpdateFields(ctx context.Context, id uint, fields map[string]interface{}) error
	DeleteSubtree(ctx context.Context, id uint) (int64, error)

	Children(ctx context.Context, parentID uint, childLevel int) ([]model.Node, error)
	IsAncestor(ctx context.Context, ancestorID, descendantID uint) (bool, error)
	DepthBetween(ctx context.Context, ancestorID, descendantID uint) (*int, error)
	FamilyOf(ctx context.Context, id uint) (*model.Node, error)
	SubtreeIDs(ctx context.Context, id uint) ([]uint, error)
	SubtreeSize(ctx context.Context, id uint) (int64, error)

	Candidates(ctx context.Context, familyID uint, level int) ([]CandidateRow, error)
	FilterDescendants(ctx context.Context, ancestors, candidates []uint) ([]uint, error)
	FilterAncestors(ctx context.Context, descendants, candidates []uint) ([]uint, error)
	HasGroupInSubtree(ctx context.Context, roots []uint, group string) (bool, error)
	DescendantsAtLevel(ctx context.Context, ancestors []uint, level int, code string) ([]model.Node, error)
	AncestorCodes(ctx context.Context, ids []uint, levels []int) (map[uint]map[int]string, error)
	CodeOccurrences(ctx context.Context, code string) ([]OccurrenceRow, error)
	LeavesWithGroup(ctx context.Context, familyID uint) ([]model.Node, error)
	DistinctGroups(ctx context.Context, familyID uint) ([]string, error)
	MaxLevelOfGroup(ctx context.Context, familyID uint, group string) (int, error)
	SuggestCodes(ctx context.Context, ancestorID uint, level int, prefix string, limit int) ([]string, error)
	ExistsCodeUnder(ctx context.Context, ancestorID uint, level int, code string) (bool, error)

	Stats(ctx context.Context) (model.Stats, error)
	VerifyClosure(ctx context.Context) (model.ClosureReport, error)
	RebuildClosure(ctx context.Context) (int, error)
}

type nodeRepository struct {
	db        *gorm.DB
	batchSize int
}

// NewNodeRepository 创建一个新的 NodeRepository 实例。batchSize 限制 IN 列表长度。
func NewNodeRepository(db *gorm.DB, batchSize int) NodeRepository {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &nodeRepository{db: db, batchSize: batchSize}
}

func (r *nodeRepository) WithTx(tx *gorm.DB) NodeRepository {
	return &nodeRepository{db: tx, batchSize: r.batchSize}
}

// FindByID 根据 ID 查找节点，不存在时返回 gorm.ErrRecordNotFound。
func (r *nodeRepository) FindByID(ctx context.Context, id uint) (*model.Node, error) {
	var node model.Node
	if err := r.db.WithContext(ctx).First(&node, id).Error; err != nil {
		return nil, err
	}
	return &node, nil
}

// FindByIDs 按 ID 升序返回存在的节点。
func (r *nodeRepository) FindByIDs(ctx context.Context, ids []uint) ([]model.Node, error) {
	var out []model.Node
	for _, c := range chunk(uniq(ids), r.batchSize) {
		var part []model.Node
		if err := r.db.WithContext(ctx).Where("id IN ?", c).Find(&part).Error; err != nil {
			return nil, err
		}
		out = append(out, part...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FindFamily 查找代码为 code 的产品族节点 (level 0)。
func (r *nodeRepository) FindFamily(ctx context.Context, code string) (*model.Node, error) {
	var node model.Node
	err := r.db.WithContext(ctx).
		Where("code = ? AND level = 0", code).
		Order("id").Take(&node).Error
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (r *nodeRepository) ListFamilies(ctx context.Context) ([]model.Node, error) {
	var nodes []model.Node
	err := r.db.WithContext(ctx).
		Where("parent_id IS NULL AND level = 0 AND code IS NOT NULL").
		Order("position, code").Find(&nodes).Error
	return nodes, err
}

func (r *nodeRepository) FindByCode(ctx context.Context, code string) ([]model.Node, error) {
	var nodes []model.Node
	err := r.db.WithContext(ctx).Where("code = ?", code).Order("level, id").Find(&nodes).Error
	return nodes, err
}

func (r *nodeRepository) FindByFullTypecode(ctx context.Context, fullCode string) ([]model.Node, error) {
	var nodes []model.Node
	err := r.db.WithContext(ctx).Where("full_typecode = ?", fullCode).Order("id").Find(&nodes).Error
	return nodes, err
}

// FindByCodeInFamily 返回产品族下某层级上代码为 code 的所有节点。
func (r *nodeRepository) FindByCodeInFamily(ctx context.Context, familyID uint, level int, code string) ([]model.Node, error) {
	var nodes []model.Node
	err := r.db.WithContext(ctx).Table("nodes AS n").Select("n.*").
		Joins("JOIN node_paths p ON p.descendant_id = n.id").
		Where("p.ancestor_id = ? AND n.level = ? AND n.code = ?", familyID, level, code).
		Order("n.id").Scan(&nodes).Error
	return nodes, err
}

func (r *nodeRepository) ExistsChildCode(ctx context.Context, parentID uint, code string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Node{}).
		Where("parent_id = ? AND code = ?", parentID, code).Count(&n).Error
	return n > 0, err
}

// Create 插入节点并在同一事务中维护闭包索引：
// 自身边 depth=0，以及父节点每个祖先到新节点的边 depth+1。
func (r *nodeRepository) Create(ctx context.Context, node *model.Node) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(node).Error; err != nil {
			return err
		}
		if err := tx.Exec(
			"INSERT INTO node_paths (ancestor_id, descendant_id, depth) VALUES (?, ?, 0)",
			node.ID, node.ID,
		).Error; err != nil {
			return err
		}
		if node.ParentID == nil {
			return nil
		}
		return tx.Exec(
			`INSERT INTO node_paths (ancestor_id, descendant_id, depth)
			 SELECT ancestor_id, ?, depth + 1 FROM node_paths WHERE descendant_id = ?`,
			node.ID, *node.ParentID,
		).Error
	})
}

func (r *nodeRepository) UpdateFields(ctx context.Context, id uint, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&model.Node{}).Where("id = ?", id).Updates(fields).Error
}

// purgeKmatByPath 删除路径中包含被删节点的物料号引用。只检查被删子树所在产品族的引用。
func purgeKmatByPath(tx *gorm.DB, id uint, deleted []uint) error {
	var ancestors []uint
	if err := tx.Model(&model.NodePath{}).Where("descendant_id = ?", id).
		Pluck("ancestor_id", &ancestors).Error; err != nil {
		return err
	}
	var refs []model.KmatReference
	if err := tx.Select("id", "path_key").Where("family_id IN ?", ancestors).Find(&refs).Error; err != nil {
		return err
	}
	gone := make(map[string]struct{}, len(deleted))
	for _, d := range deleted {
		gone[strconv.FormatUint(uint64(d), 10)] = struct{}{}
	}
	var stale []uint
	for _, ref := range refs {
		for _, part := range strings.Split(ref.PathKey, ",") {
			if _, ok := gone[part]; ok {
				stale = append(stale, ref.ID)
				break
			}
		}
	}
	if len(stale) == 0 {
		return nil
	}
	return tx.Where("id IN ?", stale).Delete(&model.KmatReference{}).Error
}

// DeleteSubtree 删除节点及其所有后代。先清除闭包行、替代关系、提示、标签和物料号引用，
// 再按深度从深到浅删除节点行。返回删除的节点数。
func (r *nodeRepository) DeleteSubtree(ctx context.Context, id uint) (int64, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uint
		if err := tx.Model(&model.NodePath{}).
			Where("ancestor_id = ?", id).
			Order("depth DESC, descendant_id").
			Pluck("descendant_id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return gorm.ErrRecordNotFound
		}

		if err := purgeKmatByPath(tx, id, ids); err != nil {
			return err
		}

		batches := chunk(ids, r.batchSize)
		for _, c := range batches {
			var hintIDs []uint
			if err := tx.Model(&model.SuccessorHintNode{}).Distinct().
				Where("node_id IN ?", c).Pluck("hint_id", &hintIDs).Error; err != nil {
				return err
			}
			if len(hintIDs) > 0 {
				if err := tx.Where("hint_id IN ?", hintIDs).Delete(&model.SuccessorHintNode{}).Error; err != nil {
					return err
				}
				if err := tx.Where("id IN ?", hintIDs).Delete(&model.SuccessorHint{}).Error; err != nil {
					return err
				}
			}
			if err := tx.Where("source_node_id IN ? OR target_node_id IN ?", c, c).
				Delete(&model.ProductSuccessor{}).Error; err != nil {
				return err
			}
			if err := tx.Where("node_id IN ?", c).Delete(&model.NodeLabel{}).Error; err != nil {
				return err
			}
			if err := tx.Where("family_id IN ?", c).Delete(&model.KmatReference{}).Error; err != nil {
				return err
			}
			if err := tx.Where("descendant_id IN ? OR ancestor_id IN ?", c, c).
				Delete(&model.NodePath{}).Error; err != nil {
				return err
			}
		}
		// 同一批次中父子节点可能由外键级联删除，因此用剩余行数而不是 RowsAffected 校验
		var remaining int64
		for _, c := range batches {
			if err := tx.Where("id IN ?", c).Delete(&model.Node{}).Error; err != nil {
				return err
			}
		}
		for _, c := range batches {
			var n int64
			if err := tx.Model(&model.Node{}).Where("id IN ?", c).Count(&n).Error; err != nil {
				return err
			}
			remaining += n
		}
		if remaining > 0 {
			return apperr.Cascade(errors.New("rows survived delete"), "subtree of node %d: %d of %d nodes remain", id, remaining, len(ids))
		}
		deleted = int64(len(ids))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// Children 返回直接子代码节点，模式容器被透明穿过。
func (r *nodeRepository) Children(ctx context.Context, parentID uint, childLevel int) ([]model.Node, error) {
	var nodes []model.Node
	err := r.db.WithContext(ctx).Table("nodes AS n").Select("n.*").
		Joins("JOIN node_paths p ON p.descendant_id = n.id").
		Where("p.ancestor_id = ? AND p.depth > 0 AND n.level = ? AND n.code IS NOT NULL", parentID, childLevel).
		Order("n.position, n.code, n.id").Scan(&nodes).Error
	return nodes, err
}

// IsAncestor 是对 node_paths 主键的单次查找。
func (r *nodeRepository) IsAncestor(ctx context.Context, ancestorID, descendantID uint) (bool, error) {
	d, err := r.DepthBetween(ctx, ancestorID, descendantID)
	return d != nil, err
}

func (r *nodeRepository) DepthBetween(ctx context.Context, ancestorID, descendantID uint) (*int, error) {
	var paths []model.NodePath
	err := r.db.WithContext(ctx).
		Where("ancestor_id = ? AND descendant_id = ?", ancestorID, descendantID).
		Limit(1).Find(&paths).Error
	if err != nil || len(paths) == 0 {
		return nil, err
	}
	return &paths[0].Depth, nil
}

// FamilyOf 返回节点所属的产品族，节点本身是产品族时返回自身。
func (r *nodeRepository) FamilyOf(ctx context.Context, id uint) (*model.Node, error) {
	var nodes []model.Node
	err := r.db.WithContext(ctx).Table("nodes AS f").Select("f.*").
		Joins("JOIN node_paths p ON p.ancestor_id = f.id").
		Where("p.descendant_id = ? AND f.level = 0 AND f.code IS NOT NULL", id).
		Order("p.depth").Limit(1).Scan(&nodes).Error
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &nodes[0], nil
}

func (r *nodeRepository) SubtreeIDs(ctx context.Context, id uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&model.NodePath{}).
		Where("ancestor_id = ?", id).Order("descendant_id").Pluck("descendant_id", &ids).Error
	return ids, err
}

// SubtreeSize 包括节点本身。
func (r *nodeRepository) SubtreeSize(ctx context.Context, id uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.NodePath{}).Where("ancestor_id = ?", id).Count(&n).Error
	return n, err
}

// Candidates 返回产品族下目标层级上的所有代码节点及其父节点模式。
func (r *nodeRepository) Candidates(ctx context.Context, familyID uint, level int) ([]CandidateRow, error) {
	var rows []CandidateRow
	err := r.db.WithContext(ctx).Table("nodes AS n").
		Select("n.*, parent.pattern AS parent_pattern").
		Joins("JOIN node_paths p ON p.descendant_id = n.id").
		Joins("LEFT JOIN nodes parent ON parent.id = n.parent_id").
		Where("p.ancestor_id = ? AND n.level = ? AND n.code IS NOT NULL", familyID, level).
		Order("n.position, n.code, n.id").
		Scan(&rows).Error
	return rows, err
}

// FilterDescendants 保留 candidates 中至少是一个 ancestors 后代的 ID，顺序不变。
func (r *nodeRepository) FilterDescendants(ctx context.Context, ancestors, candidates []uint) ([]uint, error) {
	return r.filterPaths(ctx, "ancestor_id", "descendant_id", ancestors, candidates)
}

// FilterAncestors 保留 candidates 中至少是一个 descendants 祖先的 ID，顺序不变。
func (r *nodeRepository) FilterAncestors(ctx context.Context, descendants, candidates []uint) ([]uint, error) {
	return r.filterPaths(ctx, "descendant_id", "ancestor_id", descendants, candidates)
}

func (r *nodeRepository) filterPaths(ctx context.Context, fixedCol, keepCol string, fixed, candidates []uint) ([]uint, error) {
	if len(fixed) == 0 || len(candidates) == 0 {
		return nil, nil
	}
	keep := make(map[uint]struct{})
	for _, fc := range chunk(uniq(fixed), r.batchSize) {
		for _, cc := range chunk(uniq(candidates), r.batchSize) {
			var got []uint
			err := r.db.WithContext(ctx).Model(&model.NodePath{}).Distinct().
				Where(fixedCol+" IN ? AND "+keepCol+" IN ?", fc, cc).
				Pluck(keepCol, &got).Error
			if err != nil {
				return nil, err
			}
			for _, id := range got {
				keep[id] = struct{}{}
			}
		}
	}
	out := make([]uint, 0, len(keep))
	for _, id := range candidates {
		if _, ok := keep[id]; ok {
			out = append(out, id)
			delete(keep, id)
		}
	}
	return out, nil
}

// HasGroupInSubtree 判断 roots 的子树中是否有节点的 group_name 等于 group。
func (r *nodeRepository) HasGroupInSubtree(ctx context.Context, roots []uint, group string) (bool, error) {
	for _, c := range chunk(uniq(roots), r.batchSize) {
		var hits []uint
		err := r.db.WithContext(ctx).Table("nodes AS n").
			Joins("JOIN node_paths p ON p.descendant_id = n.id").
			Where("p.ancestor_id IN ? AND n.group_name = ?", c, group).
			Limit(1).Pluck("n.id", &hits).Error
		if err != nil {
			return false, err
		}
		if len(hits) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// DescendantsAtLevel 返回 ancestors 子树中 level 层的代码节点；code 为空时匹配任意代码。
func (r *nodeRepository) DescendantsAtLevel(ctx context.Context, ancestors []uint, level int, code string) ([]model.Node, error) {
	seen := make(map[uint]struct{})
	var out []model.Node
	for _, c := range chunk(uniq(ancestors), r.batchSize) {
		q := r.db.WithContext(ctx).Table("nodes AS n").Select("DISTINCT n.*").
			Joins("JOIN node_paths p ON p.descendant_id = n.id").
			Where("p.ancestor_id IN ? AND n.level = ? AND n.code IS NOT NULL", c, level)
		if code != "" {
			q = q.Where("n.code = ?", code)
		}
		var part []model.Node
		if err := q.Scan(&part).Error; err != nil {
			return nil, err
		}
		for _, n := range part {
			if _, ok := seen[n.ID]; ok {
				continue
			}
			seen[n.ID] = struct{}{}
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AncestorCodes 返回每个节点在指定层级上的祖先代码：map[节点ID][层级]代码。
func (r *nodeRepository) AncestorCodes(ctx context.Context, ids []uint, levels []int) (map[uint]map[int]string, error) {
	out := make(map[uint]map[int]string)
	if len(levels) == 0 {
		return out, nil
	}
	type row struct {
		DescendantID uint
		Level        int
		Code         string
	}
	for _, c := range chunk(uniq(ids), r.batchSize) {
		var rows []row
		err := r.db.WithContext(ctx).Table("node_paths AS p").
			Select("p.descendant_id, a.level, a.code").
			Joins("JOIN nodes a ON a.id = p.ancestor_id").
			Where("p.descendant_id IN ? AND p.depth > 0 AND a.level IN ? AND a.code IS NOT NULL", c, levels).
			Scan(&rows).Error
		if err != nil {
			return nil, err
		}
		for _, rw := range rows {
			m, ok := out[rw.DescendantID]
			if !ok {
				m = make(map[int]string)
				out[rw.DescendantID] = m
			}
			m[rw.Level] = rw.Code
		}
	}
	return out, nil
}

// CodeOccurrences 返回代码在所有产品族和层级上的出现。
func (r *nodeRepository) CodeOccurrences(ctx context.Context, code string) ([]OccurrenceRow, error) {
	var rows []OccurrenceRow
	err := r.db.WithContext(ctx).Table("nodes AS n").
		Select("n.id, n.level, n.name, n.label, n.label_en, f.code AS family").
		Joins("JOIN node_paths p ON p.descendant_id = n.id").
		Joins("JOIN nodes f ON f.id = p.ancestor_id").
		Where("n.code = ? AND f.level = 0 AND f.code IS NOT NULL", code).
		Order("f.code, n.level, n.id").
		Scan(&rows).Error
	return rows, err
}

// LeavesWithGroup 返回产品族下没有子节点且带 group_name 的节点。
func (r *nodeRepository) LeavesWithGroup(ctx context.Context, familyID uint) ([]model.Node, error) {
	var nodes []model.Node
	err := r.db.WithContext(ctx).Table("nodes AS n").Select("n.*").
		Joins("JOIN node_paths p ON p.descendant_id = n.id").
		Where("p.ancestor_id = ? AND n.group_name IS NOT NULL AND n.group_name <> ''", familyID).
		Where("NOT EXISTS (SELECT 1 FROM nodes c WHERE c.parent_id = n.id)").
		Order("n.id").Scan(&nodes).Error
	return nodes, err
}

func (r *nodeRepository) DistinctGroups(ctx context.Context, familyID uint) ([]string, error) {
	var groups []string
	err := r.db.WithContext(ctx).Table("nodes AS n").
		Joins("JOIN node_paths p ON p.descendant_id = n.id").
		Where("p.ancestor_id = ? AND n.group_name IS NOT NULL AND n.group_name <> ''", familyID).
		Distinct().Order("n.group_name").Pluck("n.group_name", &groups).Error
	return groups, err
}

// MaxLevelOfGroup 返回产品族中属于 group 的节点的最大层级，没有时返回 0。
func (r *nodeRepository) MaxLevelOfGroup(ctx context.Context, familyID uint, group string) (int, error) {
	var level int
	err := r.db.WithContext(ctx).Table("nodes AS n").
		Joins("JOIN node_paths p ON p.descendant_id = n.id").
		Where("p.ancestor_id = ? AND n.group_name = ?", familyID, group).
		Select("COALESCE(MAX(n.level), 0)").Scan(&level).Error
	return level, err
}

// likeEscaper 转义 LIKE 通配符，配合 ESCAPE '!' 使用。
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// SuggestCodes 按前缀列出 ancestorID 子树中 level 层的不同代码，按代码排序。
func (r *nodeRepository) SuggestCodes(ctx context.Context, ancestorID uint, level int, prefix string, limit int) ([]string, error) {
	var codes []string
	err := r.db.WithContext(ctx).Table("nodes AS n").
		Joins("JOIN node_paths p ON p.descendant_id = n.id").
		Where("p.ancestor_id = ? AND n.level = ? AND n.code IS NOT NULL", ancestorID, level).
		Where("n.code LIKE ? ESCAPE '!'", likeEscaper.Replace(prefix)+"%").
		Distinct().Order("n.code").Limit(limit).Pluck("n.code", &codes).Error
	return codes, err
}

// ExistsCodeUnder 判断 ancestorID 子树（含自身）中 level 层是否已有 code。
func (r *nodeRepository) ExistsCodeUnder(ctx context.Context, ancestorID uint, level int, code string) (bool, error) {
	var hits []uint
	err := r.db.WithContext(ctx).Table("nodes AS n").
		Joins("JOIN node_paths p ON p.descendant_id = n.id").
		Where("p.ancestor_id = ? AND n.level = ? AND n.code = ?", ancestorID, level, code).
		Limit(1).Pluck("n.id", &hits).Error
	return len(hits) > 0, err
}

func (r *nodeRepository) Stats(ctx context.Context) (model.Stats, error) {
	var s model.Stats
	if err := r.db.WithContext(ctx).Model(&model.Node{}).Count(&s.TotalNodes).Error; err != nil {
		return s, err
	}
	err := r.db.WithContext(ctx).Model(&model.NodePath{}).Count(&s.TotalPaths).Error
	return s, err
}
