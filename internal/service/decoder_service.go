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
	"variantenbaum-go/pkg/log"
	"variantenbaum-go/pkg/typecode"
)

// 通配段的标签中最多列出的代码数。
const maxWildcardCodes = 10

// DecoderService 接口定义了类型码解码和代码片段搜索。
type DecoderService interface {
	Decode(ctx context.Context, input string) (*model.DecodeResult, error)
	SearchCode(ctx context.Context, code string) (*model.CodeSearchResult, error)
}

type decoderService struct {
	nodes      repository.NodeRepository
	successors SuccessorService
}

// NewDecoderService 创建一个新的 DecoderService 实例。successors 可以为 nil。
func NewDecoderService(nodes repository.NodeRepository, successors SuccessorService) DecoderService {
	return &decoderService{nodes: nodes, successors: successors}
}

// Decode 把完整或部分类型码映射为节点路径。第 i 个片段对应层级 i，
// "*" 匹配该层级上的任意代码。
func (s *decoderService) Decode(ctx context.Context, input string) (*model.DecodeResult, error) {
	tokens := typecode.Split(input)
	if len(tokens) == 0 {
		return nil, apperr.Validation("empty typecode")
	}
	res := &model.DecodeResult{
		OriginalInput:  input,
		NormalizedCode: typecode.Reconstruct(tokens),
		ProductType:    model.ProductUnknown,
		PathSegments:   []model.CodePathSegment{},
		Families:       []string{},
	}
	if len(tokens) == 1 {
		return s.decodeSingle(ctx, tokens[0], res)
	}

	fam, err := s.nodes.FindFamily(ctx, tokens[0])
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return res, nil
	}
	if err != nil {
		return nil, err
	}

	levels := [][]model.Node{{*fam}}
	current := []uint{fam.ID}
	exists := true
	for i := 1; i < len(tokens); i++ {
		code := tokens[i]
		if code == typecode.Wildcard {
			code = ""
		}
		matches, err := s.nodes.DescendantsAtLevel(ctx, current, i, code)
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			exists = false
			break
		}
		levels = append(levels, matches)
		current = idsOf(matches)
	}

	path, err := s.representativePath(ctx, levels)
	if err != nil {
		return nil, err
	}

	pos := 1
	for i, rep := range path {
		tok := tokens[i]
		seg := segmentFor(rep, levels[i])
		start, end := pos, pos+len([]rune(tok))
		seg.PositionStart, seg.PositionEnd = &start, &end
		if tok == typecode.Wildcard {
			seg.Code = typecode.Wildcard
			seg.Label = wildcardLabel(levels[i])
		}
		res.PathSegments = append(res.PathSegments, seg)
		pos = end + 1
		if res.GroupName == "" && rep.GroupName != "" {
			res.GroupName = rep.GroupName
		}
	}
	res.Families = []string{fam.CodeValue()}
	if !exists {
		return res, nil
	}

	res.Exists = true
	final := path[len(path)-1]
	switch {
	case typecode.HasWildcard(tokens):
		res.ProductType = model.ProductWildcard
	case final.FullTypecode != nil:
		res.ProductType = model.ProductComplete
		res.IsCompleteProduct = true
	default:
		res.ProductType = model.ProductPartial
	}
	res.FullTypecode = final.FullTypecode
	s.attachSuccessor(ctx, res, final.ID)
	return res, nil
}

func (s *decoderService) decodeSingle(ctx context.Context, tok string, res *model.DecodeResult) (*model.DecodeResult, error) {
	if tok == typecode.Wildcard {
		return nil, apperr.Validation("a lone wildcard cannot be decoded")
	}
	nodes, err := s.nodes.FindByCode(ctx, tok)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return res, nil
	}
	first := nodes[0]
	for _, n := range nodes[1:] {
		if n.ID < first.ID {
			first = n
		}
	}

	var families []string
	for _, n := range nodes {
		fam, err := s.nodes.FamilyOf(ctx, n.ID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return nil, err
		}
		families = append(families, fam.CodeValue())
	}

	rows := make([]repository.CandidateRow, len(nodes))
	for i, n := range nodes {
		rows[i] = repository.CandidateRow{Node: n}
	}
	agg := aggregateOption(tok, first.Level, rows)
	seg := model.CodePathSegment{
		Level:     first.Level,
		Code:      tok,
		NodeID:    first.ID,
		IDs:       sortIDs(agg.IDs),
		Name:      agg.Name,
		Label:     agg.Label,
		LabelEN:   agg.LabelEN,
		GroupName: first.GroupName,
		Pictures:  agg.Pictures,
		Links:     agg.Links,
	}
	if first.Position > 0 {
		start, end := first.Position, first.Position+len([]rune(tok))
		seg.PositionStart, seg.PositionEnd = &start, &end
	}

	res.Exists = true
	res.NormalizedCode = tok
	res.ProductType = model.ProductLevel
	if first.Level == 0 {
		res.ProductType = model.ProductFamily
	}
	res.PathSegments = []model.CodePathSegment{seg}
	res.FullTypecode = first.FullTypecode
	res.Families = sortedDistinct(families)
	res.GroupName = first.GroupName
	s.attachSuccessor(ctx, res, first.ID)
	return res, nil
}

// representativePath 从最深层 ID 最小的节点开始，向上在每层选择 ID 最小的祖先。
func (s *decoderService) representativePath(ctx context.Context, levels [][]model.Node) ([]model.Node, error) {
	path := make([]model.Node, len(levels))
	last := len(levels) - 1
	path[last] = levels[last][0]
	for j := last - 1; j >= 0; j-- {
		ancestors, err := s.nodes.FilterAncestors(ctx, []uint{path[j+1].ID}, idsOf(levels[j]))
		if err != nil {
			return nil, err
		}
		path[j] = levels[j][0]
		if len(ancestors) > 0 {
			for _, n := range levels[j] {
				if n.ID == ancestors[0] {
					path[j] = n
					break
				}
			}
		}
	}
	return path, nil
}

func segmentFor(rep model.Node, alternatives []model.Node) model.CodePathSegment {
	return model.CodePathSegment{
		Level:     rep.Level,
		Code:      rep.CodeValue(),
		NodeID:    rep.ID,
		IDs:       idsOf(alternatives),
		Name:      rep.Name,
		Label:     rep.Label,
		LabelEN:   rep.LabelEN,
		GroupName: rep.GroupName,
		Pictures:  model.DecodeMedia(rep.Pictures),
		Links:     model.DecodeMedia(rep.Links),
	}
}

func wildcardLabel(nodes []model.Node) string {
	codes := make([]string, 0, len(nodes))
	for _, n := range nodes {
		codes = append(codes, n.CodeValue())
	}
	codes = sortedDistinct(codes)
	more := ""
	if len(codes) > maxWildcardCodes {
		more = fmt.Sprintf(" (+%d)", len(codes)-maxWildcardCodes)
		codes = codes[:maxWildcardCodes]
	}
	return "Wildcard Match: " + strings.Join(codes, ", ") + more
}

func idsOf(nodes []model.Node) []uint {
	ids := make([]uint, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}

// attachSuccessor 尽力附加替代信息，查询失败只记录日志。
func (s *decoderService) attachSuccessor(ctx context.Context, res *model.DecodeResult, nodeID uint) {
	if s.successors == nil {
		return
	}
	info, err := s.successors.SuccessorFor(ctx, nodeID)
	if err != nil {
		log.Warnf("[DecoderService] 查询替代信息失败, node: %d, error: %v", nodeID, err)
		return
	}
	if info != nil && info.HasSuccessor {
		res.Successor = info
	}
}

// SearchCode 查找代码在所有产品族和层级上的出现，按 (产品族, 层级) 分组。
func (s *decoderService) SearchCode(ctx context.Context, code string) (*model.CodeSearchResult, error) {
	code = typecode.Normalize(code)
	if code == "" {
		return nil, apperr.Validation("empty code")
	}
	rows, err := s.nodes.CodeOccurrences(ctx, code)
	if err != nil {
		return nil, err
	}
	res := &model.CodeSearchResult{Code: code, Occurrences: []model.CodeOccurrence{}}

	type key struct {
		family string
		level  int
	}
	type acc struct {
		names, de, en []string
		ids           map[uint]struct{}
		sample        uint
	}
	var order []key
	groups := make(map[key]*acc)
	for _, r := range rows {
		k := key{r.Family, r.Level}
		a, ok := groups[k]
		if !ok {
			a = &acc{ids: make(map[uint]struct{}), sample: r.ID}
			groups[k] = a
			order = append(order, k)
		}
		a.ids[r.ID] = struct{}{}
		if r.ID < a.sample {
			a.sample = r.ID
		}
		a.names = append(a.names, r.Name)
		a.de = append(a.de, r.Label)
		a.en = append(a.en, r.LabelEN)
	}
	for _, k := range order {
		a := groups[k]
		res.Occurrences = append(res.Occurrences, model.CodeOccurrence{
			Family:       k.family,
			Level:        k.level,
			Names:        sortedDistinct(a.names),
			LabelsDE:     sortedDistinct(a.de),
			LabelsEN:     sortedDistinct(a.en),
			NodeCount:    len(a.ids),
			SampleNodeID: a.sample,
		})
	}
	res.Exists = len(res.Occurrences) > 0
	return res, nil
}
