package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"variantenbaum-go/internal/apperr"
	"variantenbaum-go/internal/model"
	"variantenbaum-go/internal/repository"
	"variantenbaum-go/pkg/codepattern"
	"variantenbaum-go/pkg/kafka"
	"variantenbaum-go/pkg/labelparse"
	"variantenbaum-go/pkg/lock"
	"variantenbaum-go/pkg/log"
	"variantenbaum-go/pkg/typecode"
)

// TreeService 接口定义了变体树的结构操作。闭包索引与节点行在同一事务中维护。
type TreeService interface {
	Insert(ctx context.Context, in model.NodeInput) (*model.Node, error)
	ResolveParent(ctx context.Context, familyCode string, parentLevel int, parentCode string) (*model.Node, error)
	Delete(ctx context.Context, id uint) (int64, error)
	GetNode(ctx context.Context, id uint) (*model.Node, error)
	Children(ctx context.Context, id uint) ([]model.Node, error)
	IsAncestor(ctx context.Context, ancestorID, descendantID uint) (bool, error)
	DepthBetween(ctx context.Context, ancestorID, descendantID uint) (*int, error)
	FamilyOf(ctx context.Context, id uint) (*model.Node, error)
	SubtreeSize(ctx context.Context, id uint) (int64, error)
	Stats(ctx context.Context) (model.Stats, error)
	VerifyClosure(ctx context.Context) (model.ClosureReport, error)
	RebuildClosure(ctx context.Context) (int, error)
	ImportTree(ctx context.Context, parentID *uint, nodes []model.ImportNode) (int, error)
	Families(ctx context.Context) ([]model.Node, error)
	FamilyGroups(ctx context.Context, familyCode string) ([]string, error)
	CodeHints(ctx context.Context, nodeID uint, partialCode string) ([]model.CodeHint, error)
	SuggestCodes(ctx context.Context, familyCode string, level int, partial string, limit int) ([]string, error)
	CodeExists(ctx context.Context, familyCode string, level int, code string, parentID *uint) (bool, error)
	FindByPath(ctx context.Context, q model.PathLookup) (model.PathLookupResult, error)
	GroupMaxLevel(ctx context.Context, familyCode, group string) (int, error)
}

type treeService struct {
	tx     repository.Transactor
	nodes  repository.NodeRepository
	labels repository.LabelRepository
	guard  writeGuard
}

// NewTreeService 创建一个新的 TreeService 实例。
func NewTreeService(tx repository.Transactor, nodes repository.NodeRepository, labels repository.LabelRepository,
	locker lock.Locker, publisher kafka.Publisher) TreeService {
	return &treeService{
		tx:     tx,
		nodes:  nodes,
		labels: labels,
		guard:  newWriteGuard(locker, publisher),
	}
}

// Insert 校验输入、推导层级，并在产品族锁内写入节点、闭包边和标签段。
func (s *treeService) Insert(ctx context.Context, in model.NodeInput) (*model.Node, error) {
	node, err := buildNode(in)
	if err != nil {
		return nil, err
	}

	parent, err := s.parentOf(ctx, in)
	if err != nil {
		return nil, err
	}

	family := ""
	switch {
	case parent == nil:
		if node.Code == nil {
			family = "root"
		} else {
			family = *node.Code
		}
	default:
		family, err = s.familyKey(ctx, parent)
		if err != nil {
			return nil, err
		}
	}

	node.Level = deriveLevel(parent, node)
	if parent != nil {
		node.ParentID = &parent.ID
	}

	err = s.guard.withFamily(ctx, family, func() error {
		if parent == nil && node.Code != nil {
			if _, err := s.nodes.FindFamily(ctx, *node.Code); err == nil {
				return apperr.Conflict("product family %s already exists", *node.Code)
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}
		if parent != nil && node.Code != nil {
			exists, err := s.nodes.ExistsChildCode(ctx, parent.ID, *node.Code)
			if err != nil {
				return err
			}
			if exists {
				return apperr.Conflict("code %s already exists under node %d", *node.Code, parent.ID)
			}
		}
		return s.tx.Transaction(ctx, func(tx *gorm.DB) error {
			if err := s.nodes.WithTx(tx).Create(ctx, node); err != nil {
				return fmt.Errorf("create node: %w", err)
			}
			if parent != nil && parent.FullTypecode != nil && !parent.IsIntermediateCode {
				if err := s.nodes.WithTx(tx).UpdateFields(ctx, parent.ID, map[string]interface{}{"is_intermediate_code": true}); err != nil {
					return err
				}
			}
			rows := labelRows(node.Label, node.LabelEN, fullCodeOf(node))
			if len(rows) == 0 {
				return nil
			}
			return s.labels.WithTx(tx).Replace(ctx, node.ID, rows)
		})
	})
	if err != nil {
		return nil, err
	}

	log.Infow("[TreeService] 节点已创建", "id", node.ID, "code", node.CodeValue(), "level", node.Level, "family", family)
	s.guard.emit(ctx, kafka.ChangeEvent{Type: kafka.EventNodeCreated, Family: family, EntityID: node.ID, Payload: node})
	return node, nil
}

// buildNode 校验 code/pattern 互斥规则并规范化代码。
func buildNode(in model.NodeInput) (*model.Node, error) {
	node := &model.Node{
		Name:         in.Name,
		Label:        in.Label,
		LabelEN:      in.LabelEN,
		Position:     in.Position,
		GroupName:    strings.TrimSpace(in.GroupName),
		FullTypecode: in.FullTypecode,
		Pictures:     model.EncodeMedia(in.Pictures),
		Links:        model.EncodeMedia(in.Links),
	}
	if in.Code != nil {
		code := typecode.Normalize(*in.Code)
		if code == "" {
			return nil, apperr.Validation("code must not be empty")
		}
		if code == typecode.Wildcard || len(typecode.Split(code)) != 1 {
			return nil, apperr.Validation("code %q contains delimiter or wildcard characters", *in.Code)
		}
		node.Code = &code
	}
	if in.Pattern != nil {
		p := strings.TrimSpace(*in.Pattern)
		lp, err := codepattern.ParseLength(p)
		if err != nil {
			return nil, err
		}
		if lp.Kind == codepattern.LengthAny {
			return nil, apperr.Validation("pattern must not be empty")
		}
		node.Pattern = &p
	}
	if node.Code != nil && node.Pattern != nil {
		return nil, apperr.Validation("a node carries either a code or a pattern, not both")
	}
	hasParent := in.ParentID != nil || in.ParentCode != "" || in.ParentLevel != nil
	if node.Code == nil && node.Pattern == nil && hasParent {
		return nil, apperr.Validation("a non-root node needs a code or a pattern")
	}
	if node.IsPatternContainer() && !hasParent {
		return nil, apperr.Validation("a pattern container needs a parent")
	}
	if node.FullTypecode != nil {
		ft := strings.TrimSpace(*node.FullTypecode)
		if ft == "" {
			node.FullTypecode = nil
		} else {
			node.FullTypecode = &ft
		}
	}
	return node, nil
}

// deriveLevel 计算新节点的层级：代码子节点 = 父层级 + 1，模式容器与父节点同级；
// 没有代码和模式的根节点下的代码节点是产品族 (level 0)。
func deriveLevel(parent, node *model.Node) int {
	if parent == nil {
		return 0
	}
	if node.Code == nil {
		return parent.Level
	}
	if parent.Code == nil && parent.Pattern == nil {
		return parent.Level
	}
	return parent.Level + 1
}

func (s *treeService) parentOf(ctx context.Context, in model.NodeInput) (*model.Node, error) {
	if in.ParentID != nil {
		p, err := s.nodes.FindByID(ctx, *in.ParentID)
		if err != nil {
			return nil, notFound(err, "parent node %d", *in.ParentID)
		}
		return p, nil
	}
	if in.ParentCode == "" && in.ParentLevel == nil {
		return nil, nil
	}
	if in.FamilyCode == "" {
		return nil, apperr.Validation("family_code is required to resolve a parent by code")
	}
	level := 0
	if in.ParentLevel != nil {
		level = *in.ParentLevel
	}
	return s.ResolveParent(ctx, in.FamilyCode, level, in.ParentCode)
}

// familyKey 返回节点所属产品族的代码，用作锁键。没有产品族的根结构使用 "root"。
func (s *treeService) familyKey(ctx context.Context, n *model.Node) (string, error) {
	fam, err := s.nodes.FamilyOf(ctx, n.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "root", nil
	}
	if err != nil {
		return "", err
	}
	return fam.CodeValue(), nil
}

// familyKeys 返回所有产品族的锁键，包括无产品族根结构使用的 "root"。
func (s *treeService) familyKeys(ctx context.Context) ([]string, error) {
	fams, err := s.nodes.ListFamilies(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(fams)+1)
	keys = append(keys, "root")
	for _, f := range fams {
		keys = append(keys, f.CodeValue())
	}
	return keys, nil
}

// ResolveParent 按代码在产品族中查找父节点；找到多个时返回 AmbiguousError。
func (s *treeService) ResolveParent(ctx context.Context, familyCode string, parentLevel int, parentCode string) (*model.Node, error) {
	familyCode = typecode.Normalize(familyCode)
	fam, err := s.nodes.FindFamily(ctx, familyCode)
	if err != nil {
		return nil, notFound(err, "product family %s", familyCode)
	}
	if parentLevel == 0 {
		if parentCode != "" && typecode.Normalize(parentCode) != familyCode {
			return nil, apperr.Validation("level 0 parent %s does not match family %s", parentCode, familyCode)
		}
		return fam, nil
	}
	code := typecode.Normalize(parentCode)
	if code == "" {
		return nil, apperr.Validation("parent_code is required for parent_level %d", parentLevel)
	}
	matches, err := s.nodes.FindByCodeInFamily(ctx, fam.ID, parentLevel, code)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, apperr.NotFound("code %s at level %d in family %s", code, parentLevel, familyCode)
	case 1:
		return &matches[0], nil
	}
	ids := make([]uint, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	return nil, &apperr.AmbiguousError{What: fmt.Sprintf("parent %s at level %d", code, parentLevel), Candidates: ids}
}

// Delete 删除节点及其子树。产品族不能通过此接口删除。
func (s *treeService) Delete(ctx context.Context, id uint) (int64, error) {
	node, err := s.nodes.FindByID(ctx, id)
	if err != nil {
		return 0, notFound(err, "node %d", id)
	}
	if node.ParentID == nil && node.Level == 0 && node.Code != nil {
		return 0, apperr.Validation("product family %s cannot be deleted through the node interface", node.CodeValue())
	}
	family, err := s.familyKey(ctx, node)
	if err != nil {
		return 0, err
	}

	var deleted int64
	err = s.guard.withFamily(ctx, family, func() error {
		return s.tx.Transaction(ctx, func(tx *gorm.DB) error {
			nodes := s.nodes.WithTx(tx)
			n, err := nodes.DeleteSubtree(ctx, id)
			if err != nil {
				return notFound(err, "node %d", id)
			}
			deleted = n
			if node.ParentID == nil {
				return nil
			}
			parent, err := nodes.FindByID(ctx, *node.ParentID)
			if err != nil {
				return err
			}
			if !parent.IsIntermediateCode {
				return nil
			}
			size, err := nodes.SubtreeSize(ctx, parent.ID)
			if err != nil {
				return err
			}
			if size == 1 {
				return nodes.UpdateFields(ctx, parent.ID, map[string]interface{}{"is_intermediate_code": false})
			}
			return nil
		})
	})
	if err != nil {
		log.Errorf("[TreeService] 删除节点失败, id: %d, error: %v", id, err)
		return 0, err
	}

	log.Infow("[TreeService] 子树已删除", "id", id, "deleted", deleted, "family", family)
	s.guard.emit(ctx, kafka.ChangeEvent{Type: kafka.EventNodeDeleted, Family: family, EntityID: id, Count: int(deleted)})
	return deleted, nil
}

func (s *treeService) GetNode(ctx context.Context, id uint) (*model.Node, error) {
	n, err := s.nodes.FindByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "node %d", id)
	}
	return n, nil
}

// Children 返回下一层的代码节点，模式容器被透明穿过。
func (s *treeService) Children(ctx context.Context, id uint) ([]model.Node, error) {
	n, err := s.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	childLevel := n.Level + 1
	if n.Code == nil && n.Pattern == nil {
		childLevel = n.Level
	}
	kids, err := s.nodes.Children(ctx, id, childLevel)
	if err != nil {
		return nil, err
	}
	if kids == nil {
		kids = []model.Node{}
	}
	return kids, nil
}

func (s *treeService) IsAncestor(ctx context.Context, ancestorID, descendantID uint) (bool, error) {
	return s.nodes.IsAncestor(ctx, ancestorID, descendantID)
}

func (s *treeService) DepthBetween(ctx context.Context, ancestorID, descendantID uint) (*int, error) {
	return s.nodes.DepthBetween(ctx, ancestorID, descendantID)
}

func (s *treeService) FamilyOf(ctx context.Context, id uint) (*model.Node, error) {
	fam, err := s.nodes.FamilyOf(ctx, id)
	if err != nil {
		return nil, notFound(err, "family of node %d", id)
	}
	return fam, nil
}

func (s *treeService) SubtreeSize(ctx context.Context, id uint) (int64, error) {
	n, err := s.nodes.SubtreeSize(ctx, id)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, apperr.NotFound("node %d", id)
	}
	return n, nil
}

func (s *treeService) Stats(ctx context.Context) (model.Stats, error) {
	return s.nodes.Stats(ctx)
}

func (s *treeService) VerifyClosure(ctx context.Context) (model.ClosureReport, error) {
	report, err := s.nodes.VerifyClosure(ctx)
	if err != nil {
		return report, err
	}
	if !report.OK() {
		log.Warnw("[TreeService] 闭包索引不一致",
			"missing", len(report.Missing), "extra", len(report.Extra), "wrong_depth", len(report.WrongDepth))
	}
	return report, nil
}

// RebuildClosure 排斥所有产品族的结构写入，重建整个闭包索引。
func (s *treeService) RebuildClosure(ctx context.Context) (int, error) {
	var n int
	families := func() ([]string, error) { return s.familyKeys(ctx) }
	err := s.guard.withTree(ctx, families, func() error {
		var err error
		n, err = s.nodes.RebuildClosure(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	log.Infof("[TreeService] 闭包索引已重建, rows: %d", n)
	s.guard.emit(ctx, kafka.ChangeEvent{Type: kafka.EventClosureRebuilt, Count: n})
	return n, nil
}

// ImportTree 按深度优先顺序插入嵌套节点，返回插入的节点数。
func (s *treeService) ImportTree(ctx context.Context, parentID *uint, nodes []model.ImportNode) (int, error) {
	count := 0
	for _, in := range nodes {
		created, err := s.Insert(ctx, model.NodeInput{
			ParentID:     parentID,
			Code:         in.Code,
			Pattern:      in.Pattern,
			Name:         in.Name,
			Label:        in.Label,
			LabelEN:      in.LabelEN,
			Position:     in.Position,
			GroupName:    in.GroupName,
			FullTypecode: in.FullTypecode,
			Pictures:     in.Pictures,
			Links:        in.Links,
		})
		if err != nil {
			return count, fmt.Errorf("import %s: %w", describeImport(in), err)
		}
		count++
		id := created.ID
		n, err := s.ImportTree(ctx, &id, in.Children)
		count += n
		if err != nil {
			return count, err
		}
	}
	return count, nil
}

func describeImport(in model.ImportNode) string {
	switch {
	case in.Code != nil:
		return "code " + *in.Code
	case in.Pattern != nil:
		return "pattern " + *in.Pattern
	}
	return "root node"
}

func (s *treeService) Families(ctx context.Context) ([]model.Node, error) {
	fams, err := s.nodes.ListFamilies(ctx)
	if err != nil {
		return nil, err
	}
	if fams == nil {
		fams = []model.Node{}
	}
	return fams, nil
}

func (s *treeService) FamilyGroups(ctx context.Context, familyCode string) ([]string, error) {
	code := typecode.Normalize(familyCode)
	fam, err := s.nodes.FindFamily(ctx, code)
	if err != nil {
		return nil, notFound(err, "product family %s", code)
	}
	groups, err := s.nodes.DistinctGroups(ctx, fam.ID)
	if err != nil {
		return nil, err
	}
	if groups == nil {
		groups = []string{}
	}
	return groups, nil
}

// CodeHints 为部分输入的类型码逐段给出标签提示。
func (s *treeService) CodeHints(ctx context.Context, nodeID uint, partialCode string) ([]model.CodeHint, error) {
	if _, err := s.GetNode(ctx, nodeID); err != nil {
		return nil, err
	}
	labels, err := s.labels.CodedByNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	partial := []rune(strings.ToUpper(partialCode))
	hints := make([]model.CodeHint, 0, len(labels))
	for _, l := range labels {
		seg := ""
		if l.CodeSegment != nil {
			seg = *l.CodeSegment
		}
		h := model.CodeHint{
			Position:  l.PositionStart,
			Character: seg,
			Title:     l.Title,
			LabelDE:   l.LabelDE,
			LabelEN:   l.LabelEN,
		}
		if l.PositionStart != nil && l.PositionEnd != nil {
			start, end := *l.PositionStart, *l.PositionEnd
			if start >= 1 && end >= start && end <= len(partial) {
				h.Matched = string(partial[start-1:end]) == strings.ToUpper(seg)
			}
		}
		hints = append(hints, h)
	}
	return hints, nil
}

// labelRows 解析德文和英文标签并合并为 node_labels 行。
func labelRows(label, labelEN, fullCode string) []model.NodeLabel {
	merged := labelparse.Merge(label, labelEN, fullCode)
	rows := make([]model.NodeLabel, 0, len(merged))
	for _, r := range merged {
		row := model.NodeLabel{
			Title:         r.Title,
			PositionStart: r.PositionStart,
			PositionEnd:   r.PositionEnd,
			LabelDE:       r.LabelDE,
			LabelEN:       r.LabelEN,
			DisplayOrder:  r.DisplayOrder,
		}
		if r.CodeSegment != "" {
			seg := strings.ToUpper(r.CodeSegment)
			row.CodeSegment = &seg
		}
		rows = append(rows, row)
	}
	return rows
}

func fullCodeOf(n *model.Node) string {
	if n.FullTypecode == nil {
		return ""
	}
	return *n.FullTypecode
}
