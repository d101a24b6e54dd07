package service

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"variantenbaum-go/internal/apperr"
	"variantenbaum-go/internal/model"
	"variantenbaum-go/internal/repository"
	"variantenbaum-go/pkg/codepattern"
	"variantenbaum-go/pkg/kafka"
	"variantenbaum-go/pkg/log"
	"variantenbaum-go/pkg/typecode"
)

// BulkService 接口定义了结构化批量筛选和批量属性更新。
type BulkService interface {
	Filter(ctx context.Context, f model.BulkFilter) (*model.BulkFilterResult, error)
	Update(ctx context.Context, nodeIDs []uint, fields model.BulkUpdateFields) (int, error)
}

type bulkService struct {
	tx     repository.Transactor
	nodes  repository.NodeRepository
	labels repository.LabelRepository
	guard  writeGuard
}

// NewBulkService 创建一个新的 BulkService 实例。
func NewBulkService(tx repository.Transactor, nodes repository.NodeRepository, labels repository.LabelRepository, publisher kafka.Publisher) BulkService {
	return &bulkService{tx: tx, nodes: nodes, labels: labels, guard: newWriteGuard(nil, publisher)}
}

// compiledFilter 是校验后的筛选条件。
type compiledFilter struct {
	model.BulkFilter
	length        codepattern.LengthPattern
	allowed       codepattern.Charset
	levelPatterns map[int]codepattern.LevelPattern
	levels        []int
}

// compileFilter 在查询之前校验所有模式，格式错误时返回 ValidationError。
func compileFilter(f model.BulkFilter) (*compiledFilter, error) {
	if f.Level < 0 {
		return nil, apperr.Validation("level must be >= 0")
	}
	f.FamilyCode = typecode.Normalize(f.FamilyCode)
	if f.FamilyCode == "" {
		return nil, apperr.Validation("family_code is required")
	}
	f.Code = strings.ToUpper(strings.TrimSpace(f.Code))
	f.CodePrefix = strings.ToUpper(strings.TrimSpace(f.CodePrefix))

	cf := &compiledFilter{BulkFilter: f, levelPatterns: make(map[int]codepattern.LevelPattern)}
	var err error
	if cf.length, err = codepattern.ParseLength(f.Pattern); err != nil {
		return nil, err
	}
	if f.CodeContent != nil {
		if f.CodeContent.Position != nil && *f.CodeContent.Position < 1 {
			return nil, apperr.Validation("code_content.position is 1-based")
		}
		f.CodeContent.Value = strings.ToUpper(f.CodeContent.Value)
	}
	if f.AllowedPattern != nil {
		if cf.allowed, err = codepattern.ParseCharset(f.AllowedPattern.Allowed); err != nil {
			return nil, err
		}
		if f.AllowedPattern.From < 0 || (f.AllowedPattern.To != nil && *f.AllowedPattern.To < f.AllowedPattern.From) {
			return nil, apperr.Validation("invalid allowed_pattern span")
		}
	}
	seen := make(map[int]bool)
	for lvl, spec := range f.ParentLevelPatterns {
		if lvl < 0 || lvl >= f.Level {
			return nil, apperr.Validation("parent_level_patterns: level %d is not above level %d", lvl, f.Level)
		}
		lp, err := codepattern.ParseLevelPattern(spec.Length, spec.Type)
		if err != nil {
			return nil, fmt.Errorf("parent_level_patterns[%d]: %w", lvl, err)
		}
		cf.levelPatterns[lvl] = lp
		if !seen[lvl] {
			seen[lvl] = true
			cf.levels = append(cf.levels, lvl)
		}
	}
	for lvl, opts := range f.ParentLevelOptions {
		if lvl < 0 || lvl >= f.Level {
			return nil, apperr.Validation("parent_level_options: level %d is not above level %d", lvl, f.Level)
		}
		if len(opts) == 0 {
			return nil, apperr.Validation("parent_level_options[%d] is empty", lvl)
		}
		for i := range opts {
			opts[i] = strings.ToUpper(strings.TrimSpace(opts[i]))
		}
		if !seen[lvl] {
			seen[lvl] = true
			cf.levels = append(cf.levels, lvl)
		}
	}
	return cf, nil
}

// codeMatches 应用只影响兼容标记的代码条件。
func (cf *compiledFilter) codeMatches(code string) bool {
	if cf.Code != "" && code != cf.Code {
		return false
	}
	if cf.CodePrefix != "" && !strings.HasPrefix(code, cf.CodePrefix) {
		return false
	}
	if !cf.length.Matches(len([]rune(code))) {
		return false
	}
	if cc := cf.CodeContent; cc != nil && cc.Value != "" {
		if cc.Position != nil {
			r := []rune(code)
			idx := *cc.Position - 1
			if idx >= len(r) || !strings.HasPrefix(string(r[idx:]), cc.Value) {
				return false
			}
		} else if !strings.Contains(code, cc.Value) {
			return false
		}
	}
	if ap := cf.AllowedPattern; ap != nil && !cf.allowed.Span(code, ap.From, ap.To) {
		return false
	}
	return true
}

// ancestorsMatch 检查某个节点在各祖先层级上的代码是否满足模式和代码列表。
func (cf *compiledFilter) ancestorsMatch(codes map[int]string) bool {
	for lvl, lp := range cf.levelPatterns {
		if !lp.Matches(codes[lvl]) {
			return false
		}
	}
	for lvl, opts := range cf.ParentLevelOptions {
		parent, ok := codes[lvl]
		if !ok {
			return false
		}
		if !matchesOption(parent, opts) {
			return false
		}
	}
	return true
}

// matchesOption 支持精确代码和 "PREFIX*" 前缀写法。
func matchesOption(code string, opts []string) bool {
	for _, o := range opts {
		if strings.Contains(o, "*") {
			if strings.HasPrefix(code, strings.ReplaceAll(o, "*", "")) {
				return true
			}
		} else if code == o {
			return true
		}
	}
	return false
}

func (s *bulkService) Filter(ctx context.Context, f model.BulkFilter) (*model.BulkFilterResult, error) {
	cf, err := compileFilter(f)
	if err != nil {
		return nil, err
	}
	fam, err := s.nodes.FindFamily(ctx, cf.FamilyCode)
	if err != nil {
		return nil, notFound(err, "product family %s", cf.FamilyCode)
	}
	rows, err := s.nodes.Candidates(ctx, fam.ID, cf.Level)
	if err != nil {
		return nil, err
	}

	// name 和 group_name 是硬过滤：只保留至少有一个节点满足条件的代码
	name := strings.ToLower(strings.TrimSpace(cf.Name))
	group := strings.TrimSpace(cf.GroupName)
	groups := groupByCode(rows)
	var surviving []*codeGroup
	for _, g := range groups {
		for _, r := range g.rows {
			if group != "" && r.GroupName != group {
				continue
			}
			if name != "" && !strings.Contains(strings.ToLower(r.Name), name) {
				continue
			}
			surviving = append(surviving, g)
			break
		}
	}

	var ancestorCodes map[uint]map[int]string
	if len(cf.levels) > 0 {
		var ids []uint
		for _, g := range surviving {
			for _, r := range g.rows {
				ids = append(ids, r.ID)
			}
		}
		if ancestorCodes, err = s.nodes.AncestorCodes(ctx, ids, cf.levels); err != nil {
			return nil, err
		}
	}

	var onPath map[uint]struct{}
	if cf.ApplyPathFilter && len(cf.Selections) > 0 {
		var ids []uint
		for _, g := range surviving {
			for _, r := range g.rows {
				ids = append(ids, r.ID)
			}
		}
		kept, err := keepOnPath(ctx, s.nodes, cf.Selections, cf.Level, ids)
		if err != nil {
			return nil, err
		}
		onPath = make(map[uint]struct{}, len(kept))
		for _, id := range kept {
			onPath[id] = struct{}{}
		}
	}

	res := &model.BulkFilterResult{Nodes: []model.AvailableOption{}}
	for _, g := range surviving {
		use := g.rows
		if onPath != nil {
			var kept []repository.CandidateRow
			for _, r := range g.rows {
				if _, ok := onPath[r.ID]; ok {
					kept = append(kept, r)
				}
			}
			use = kept
		}

		compatible := len(use) > 0 && cf.codeMatches(g.code)
		if compatible && len(cf.levels) > 0 {
			matched := false
			for _, r := range use {
				if cf.ancestorsMatch(ancestorCodes[r.ID]) {
					matched = true
					break
				}
			}
			compatible = matched
		}
		if len(use) == 0 {
			use = g.rows
		}
		opt := aggregateOption(g.code, cf.Level, use)
		opt.IsCompatible = compatible
		opt.ConstraintValid = true
		res.Nodes = append(res.Nodes, opt)
	}
	res.Count = len(res.Nodes)
	return res, nil
}

// Update 在一个事务中更新所有节点；标签变化时重新解析 node_labels。
func (s *bulkService) Update(ctx context.Context, nodeIDs []uint, fields model.BulkUpdateFields) (int, error) {
	if len(nodeIDs) == 0 {
		return 0, apperr.Validation("node_ids must not be empty")
	}
	if fields.Empty() {
		return 0, apperr.Validation("no field to update")
	}
	ids := dedupe(nodeIDs)

	err := s.tx.Transaction(ctx, func(tx *gorm.DB) error {
		nodes := s.nodes.WithTx(tx)
		labels := s.labels.WithTx(tx)
		found, err := nodes.FindByIDs(ctx, ids)
		if err != nil {
			return err
		}
		if len(found) != len(ids) {
			return apperr.NotFound("%d of %d nodes do not exist", len(ids)-len(found), len(ids))
		}
		for i := range found {
			n := &found[i]
			changes := applyFields(n, fields)
			if len(changes) == 0 {
				continue
			}
			if err := nodes.UpdateFields(ctx, n.ID, changes); err != nil {
				return fmt.Errorf("update node %d: %w", n.ID, err)
			}
			_, labelChanged := changes["label"]
			_, labelENChanged := changes["label_en"]
			if labelChanged || labelENChanged {
				if err := labels.Replace(ctx, n.ID, labelRows(n.Label, n.LabelEN, fullCodeOf(n))); err != nil {
					return fmt.Errorf("reparse labels of node %d: %w", n.ID, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		log.Errorf("[BulkService] 批量更新失败, nodes: %d, error: %v", len(ids), err)
		return 0, err
	}
	log.Infow("[BulkService] 批量更新完成", "nodes", len(ids))
	s.guard.emit(ctx, kafka.ChangeEvent{Type: kafka.EventNodesUpdated, Count: len(ids), Payload: ids})
	return len(ids), nil
}

// applyFields 修改 n 并返回需要写入的列。直接字段优先于追加字段。
func applyFields(n *model.Node, f model.BulkUpdateFields) map[string]interface{} {
	changes := make(map[string]interface{})
	set := func(col string, dst *string, direct, appendVal *string, sep string) {
		switch {
		case direct != nil:
			*dst = *direct
		case appendVal != nil && strings.TrimSpace(*appendVal) != "":
			if *dst == "" {
				*dst = *appendVal
			} else {
				*dst = *dst + sep + *appendVal
			}
		default:
			return
		}
		changes[col] = *dst
	}
	set("name", &n.Name, f.Name, f.AppendName, " ")
	set("label", &n.Label, f.Label, f.AppendLabel, "\n\n")
	set("label_en", &n.LabelEN, f.LabelEN, f.AppendLabelEN, "\n\n")
	set("group_name", &n.GroupName, f.GroupName, f.AppendGroupName, " ")
	return changes
}
