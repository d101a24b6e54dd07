package service

import (
	"context"
	"sort"
	"strings"

	"variantenbaum-go/internal/apperr"
	"variantenbaum-go/internal/model"
	"variantenbaum-go/internal/repository"
	"variantenbaum-go/pkg/log"
	"variantenbaum-go/pkg/typecode"
)

// ResolverService 接口定义了兼容性解析操作：给定任意顺序的层级选择，
// 计算目标层级上每个代码是否与当前路径兼容。
type ResolverService interface {
	Resolve(ctx context.Context, q model.OptionsQuery) ([]model.AvailableOption, error)
	Search(ctx context.Context, q model.OptionsSearch) ([]model.AvailableOption, error)
	DerivedGroupName(ctx context.Context, selections []model.Selection) (model.DerivedGroupName, error)
}

type resolverService struct {
	nodes       repository.NodeRepository
	constraints ConstraintService
}

// NewResolverService 创建一个新的 ResolverService 实例。
func NewResolverService(nodes repository.NodeRepository, constraints ConstraintService) ResolverService {
	return &resolverService{nodes: nodes, constraints: constraints}
}

// familySelection 返回 level 0 的选择，没有时返回 nil。
func familySelection(selections []model.Selection) *model.Selection {
	for i := range selections {
		if selections[i].Level == 0 {
			return &selections[i]
		}
	}
	return nil
}

// resolveFamily 根据 level 0 选择的代码（或其节点 ID）找到产品族节点。
func resolveFamily(ctx context.Context, nodes repository.NodeRepository, sel *model.Selection) (*model.Node, error) {
	code := typecode.Normalize(sel.Code)
	if code != "" {
		fam, err := nodes.FindFamily(ctx, code)
		if err != nil {
			return nil, notFound(err, "product family %s", code)
		}
		return fam, nil
	}
	ids := sel.NodeIDs()
	if len(ids) == 0 {
		return nil, apperr.Validation("level 0 selection has neither code nor ids")
	}
	fam, err := nodes.FindByID(ctx, ids[0])
	if err != nil {
		return nil, notFound(err, "product family node %d", ids[0])
	}
	if fam.Level != 0 || fam.Code == nil {
		return nil, apperr.Validation("node %d is not a product family", fam.ID)
	}
	return fam, nil
}

// keepOnPath 保留 candidates 中与每个选择都在同一路径上的 ID：
// 选择比目标层级浅时要求是其后代，更深时要求是其祖先。结果与选择顺序无关。
func keepOnPath(ctx context.Context, nodes repository.NodeRepository, selections []model.Selection, targetLevel int, candidates []uint) ([]uint, error) {
	kept := candidates
	for _, sel := range selections {
		ids := sel.NodeIDs()
		if sel.Level == targetLevel || len(ids) == 0 {
			continue
		}
		if len(kept) == 0 {
			break
		}
		var err error
		if sel.Level < targetLevel {
			kept, err = nodes.FilterDescendants(ctx, ids, kept)
		} else {
			kept, err = nodes.FilterAncestors(ctx, ids, kept)
		}
		if err != nil {
			return nil, err
		}
	}
	return kept, nil
}

// previousCodes 把选择转换为约束条件使用的 {层级: 代码}。
func previousCodes(selections []model.Selection) map[int]string {
	out := make(map[int]string, len(selections))
	for _, s := range selections {
		if c := typecode.Normalize(s.Code); c != "" {
			out[s.Level] = c
		}
	}
	return out
}

type codeGroup struct {
	code  string
	rows  []repository.CandidateRow
	order int
}

// groupByCode 按代码分组，保持首次出现的顺序。
func groupByCode(rows []repository.CandidateRow) []*codeGroup {
	index := make(map[string]*codeGroup)
	var groups []*codeGroup
	for _, r := range rows {
		code := r.CodeValue()
		g, ok := index[code]
		if !ok {
			g = &codeGroup{code: code, order: len(groups)}
			index[code] = g
			groups = append(groups, g)
		}
		g.rows = append(g.rows, r)
	}
	return groups
}

func (s *resolverService) Resolve(ctx context.Context, q model.OptionsQuery) ([]model.AvailableOption, error) {
	if q.TargetLevel < 0 {
		return nil, apperr.Validation("target_level must be >= 0")
	}
	famSel := familySelection(q.PreviousSelections)
	if famSel == nil {
		return nil, apperr.Validation("a level 0 selection naming the product family is required")
	}
	fam, err := resolveFamily(ctx, s.nodes, famSel)
	if err != nil {
		return nil, err
	}

	rows, err := s.nodes.Candidates(ctx, fam.ID, q.TargetLevel)
	if err != nil {
		return nil, err
	}
	all := make([]uint, len(rows))
	for i, r := range rows {
		all[i] = r.ID
	}
	kept, err := keepOnPath(ctx, s.nodes, q.PreviousSelections, q.TargetLevel, all)
	if err != nil {
		return nil, err
	}
	log.Debugf("[ResolverService] 候选解析, family: %s, level: %d, candidates: %d, on path: %d",
		fam.CodeValue(), q.TargetLevel, len(rows), len(kept))
	keptSet := make(map[uint]struct{}, len(kept))
	for _, id := range kept {
		keptSet[id] = struct{}{}
	}

	eval, err := s.constraints.Evaluator(ctx, q.TargetLevel, previousCodes(q.PreviousSelections))
	if err != nil {
		return nil, err
	}
	groupFilter := strings.TrimSpace(q.GroupFilter)

	options := make([]model.AvailableOption, 0)
	for _, g := range groupByCode(rows) {
		var keptRows []repository.CandidateRow
		for _, r := range g.rows {
			if _, ok := keptSet[r.ID]; ok {
				keptRows = append(keptRows, r)
			}
		}
		compatible := len(keptRows) > 0
		use := keptRows
		if !compatible {
			use = g.rows
		}
		opt := aggregateOption(g.code, q.TargetLevel, use)
		opt.IsCompatible = compatible

		if opt.IsCompatible && groupFilter != "" {
			ok, err := s.nodes.HasGroupInSubtree(ctx, opt.IDs, groupFilter)
			if err != nil {
				return nil, err
			}
			opt.IsCompatible = ok
		}

		opt.ConstraintValid = true
		if opt.IsCompatible {
			if violated := eval(g.code); len(violated) > 0 {
				opt.ConstraintValid = false
				opt.ViolatedConstraints = violated
			}
		}
		options = append(options, opt)
	}
	sortOptions(options)
	return options, nil
}

// aggregateOption 合并同一代码下多个节点的元数据：单个节点直接使用其字段，
// 多个节点时去重拼接，图片和链接按 URL 去重。
func aggregateOption(code string, level int, rows []repository.CandidateRow) model.AvailableOption {
	opt := model.AvailableOption{
		Code:     code,
		Level:    level,
		IDs:      make([]uint, len(rows)),
		Pictures: []model.Media{},
		Links:    []model.Media{},
	}
	for i, r := range rows {
		opt.IDs[i] = r.ID
	}
	first := rows[0]
	opt.ID = first.ID
	opt.Position = first.Position
	opt.ParentPattern = first.ParentPattern

	if len(rows) == 1 {
		opt.Label, opt.LabelEN, opt.Name, opt.GroupName = first.Label, first.LabelEN, first.Name, first.GroupName
		opt.Pictures = model.DecodeMedia(first.Pictures)
		opt.Links = model.DecodeMedia(first.Links)
		return opt
	}

	var labels, labelsEN, names, groups []string
	pics, links := make(map[string]struct{}), make(map[string]struct{})
	for _, r := range rows {
		labels = append(labels, r.Label)
		labelsEN = append(labelsEN, r.LabelEN)
		names = append(names, r.Name)
		groups = append(groups, r.GroupName)
		opt.Pictures = appendMedia(opt.Pictures, pics, model.DecodeMedia(r.Pictures))
		opt.Links = appendMedia(opt.Links, links, model.DecodeMedia(r.Links))
	}
	opt.Label = strings.Join(sortedDistinct(labels), "\n---\n")
	opt.LabelEN = strings.Join(sortedDistinct(labelsEN), "\n---\n")
	opt.Name = strings.Join(sortedDistinct(names), ", ")
	opt.GroupName = strings.Join(sortedDistinct(groups), ", ")
	return opt
}

func appendMedia(dst []model.Media, seen map[string]struct{}, items []model.Media) []model.Media {
	for _, m := range items {
		if m.URL == "" {
			continue
		}
		if _, ok := seen[m.URL]; ok {
			continue
		}
		seen[m.URL] = struct{}{}
		dst = append(dst, m)
	}
	return dst
}

// sortOptions 排序：父节点模式（空值在前）、兼容在前、位置、代码。
func sortOptions(opts []model.AvailableOption) {
	pattern := func(o model.AvailableOption) string {
		if o.ParentPattern == nil {
			return ""
		}
		return *o.ParentPattern
	}
	sort.SliceStable(opts, func(i, j int) bool {
		a, b := opts[i], opts[j]
		if pa, pb := pattern(a), pattern(b); pa != pb {
			return pa < pb
		}
		if a.IsCompatible != b.IsCompatible {
			return a.IsCompatible
		}
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		return a.Code < b.Code
	})
}

// Search 先解析再按代码长度、前缀和标签文本过滤。
func (s *resolverService) Search(ctx context.Context, q model.OptionsSearch) ([]model.AvailableOption, error) {
	if q.Pattern != nil && *q.Pattern < 0 {
		return nil, apperr.Validation("pattern must be a non-negative length")
	}
	opts, err := s.Resolve(ctx, q.OptionsQuery)
	if err != nil {
		return nil, err
	}
	prefix := strings.ToUpper(strings.TrimSpace(q.CodePrefix))
	needle := strings.ToLower(strings.TrimSpace(q.LabelSearch))

	out := opts[:0]
	for _, o := range opts {
		if q.Pattern != nil && len([]rune(o.Code)) != *q.Pattern {
			continue
		}
		if prefix != "" && !strings.HasPrefix(o.Code, prefix) {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(o.Label), needle) &&
			!strings.Contains(strings.ToLower(o.LabelEN), needle) &&
			!strings.Contains(strings.ToLower(o.Name), needle) {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

// DerivedGroupName 收集当前选择下所有可能叶子的 group_name。
func (s *resolverService) DerivedGroupName(ctx context.Context, selections []model.Selection) (model.DerivedGroupName, error) {
	empty := model.DerivedGroupName{PossibleGroupNames: []string{}}
	famSel := familySelection(selections)
	if famSel == nil {
		return empty, nil
	}
	fam, err := resolveFamily(ctx, s.nodes, famSel)
	if err != nil {
		if apperrIsNotFound(err) {
			return empty, nil
		}
		return empty, err
	}
	leaves, err := s.nodes.LeavesWithGroup(ctx, fam.ID)
	if err != nil {
		return empty, err
	}
	ids := make([]uint, len(leaves))
	groupOf := make(map[uint]string, len(leaves))
	for i, l := range leaves {
		ids[i] = l.ID
		groupOf[l.ID] = l.GroupName
	}
	for _, sel := range selections {
		selIDs := sel.NodeIDs()
		if sel.Level == 0 || len(selIDs) == 0 {
			continue
		}
		if ids, err = s.nodes.FilterDescendants(ctx, selIDs, ids); err != nil {
			return empty, err
		}
	}
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, groupOf[id])
	}
	res := model.DerivedGroupName{PossibleGroupNames: sortedDistinct(names)}
	if len(res.PossibleGroupNames) == 1 {
		res.IsUnique = true
		res.GroupName = &res.PossibleGroupNames[0]
	}
	return res, nil
}
