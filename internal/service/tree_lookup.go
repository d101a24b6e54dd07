package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"variantenbaum-go/internal/apperr"
	"variantenbaum-go/internal/model"
	"variantenbaum-go/pkg/typecode"
)

const (
	defaultSuggestLimit = 50
	maxSuggestLimit     = 500
)

// SuggestCodes 为代码输入框做前缀补全：列出产品族 level 层以 partial 开头的代码。
// 产品族不存在时返回空列表。
func (s *treeService) SuggestCodes(ctx context.Context, familyCode string, level int, partial string, limit int) ([]string, error) {
	if level < 0 {
		return nil, apperr.Validation("level must be >= 0")
	}
	switch {
	case limit <= 0:
		limit = defaultSuggestLimit
	case limit > maxSuggestLimit:
		limit = maxSuggestLimit
	}
	fam, err := s.nodes.FindFamily(ctx, typecode.Normalize(familyCode))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	codes, err := s.nodes.SuggestCodes(ctx, fam.ID, level, typecode.Normalize(partial), limit)
	if err != nil {
		return nil, err
	}
	if codes == nil {
		codes = []string{}
	}
	return codes, nil
}

// CodeExists 判断 code 是否已在 level 层出现。给定 parentID 时只看该节点的子树，
// 否则看整个产品族。
func (s *treeService) CodeExists(ctx context.Context, familyCode string, level int, code string, parentID *uint) (bool, error) {
	code = typecode.Normalize(code)
	if code == "" {
		return false, apperr.Validation("code must not be empty")
	}
	if parentID != nil {
		if _, err := s.GetNode(ctx, *parentID); err != nil {
			return false, err
		}
		return s.nodes.ExistsCodeUnder(ctx, *parentID, level, code)
	}
	if strings.TrimSpace(familyCode) == "" {
		return false, apperr.Validation("family_code or parent_id is required")
	}
	fam, err := s.nodes.FindFamily(ctx, typecode.Normalize(familyCode))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return s.nodes.ExistsCodeUnder(ctx, fam.ID, level, code)
}

// FindByPath 从产品族开始沿父代码链逐层向下查找，返回目标层上的节点。
// 某一层找不到时 Found 为 false；同一层出现多个匹配时返回 AmbiguousError。
func (s *treeService) FindByPath(ctx context.Context, q model.PathLookup) (model.PathLookupResult, error) {
	code := typecode.Normalize(q.Code)
	familyCode := typecode.Normalize(q.FamilyCode)
	if code == "" || familyCode == "" {
		return model.PathLookupResult{}, apperr.Validation("code and family_code are required")
	}
	if q.Level != len(q.ParentCodes)+1 {
		return model.PathLookupResult{}, apperr.Validation("level %d needs %d parent code(s), got %d",
			q.Level, q.Level-1, len(q.ParentCodes))
	}

	fam, err := s.nodes.FindFamily(ctx, familyCode)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.PathLookupResult{Message: fmt.Sprintf("product family %s not found", familyCode)}, nil
	}
	if err != nil {
		return model.PathLookupResult{}, err
	}

	current := fam
	steps := append(append([]string{}, q.ParentCodes...), code)
	for i, raw := range steps {
		level := i + 1
		step := typecode.Normalize(raw)
		matches, err := s.nodes.FindByCodeInFamily(ctx, current.ID, level, step)
		if err != nil {
			return model.PathLookupResult{}, err
		}
		switch len(matches) {
		case 0:
			return model.PathLookupResult{
				Message: fmt.Sprintf("code %s at level %d not found below node %d", step, level, current.ID),
			}, nil
		case 1:
			current = &matches[0]
		default:
			ids := make([]uint, len(matches))
			for j, m := range matches {
				ids[j] = m.ID
			}
			return model.PathLookupResult{}, &apperr.AmbiguousError{
				What:       fmt.Sprintf("code %s at level %d", step, level),
				Candidates: ids,
			}
		}
	}
	id := current.ID
	return model.PathLookupResult{Found: true, NodeID: &id, Node: current}, nil
}

// GroupMaxLevel 返回产品族中属于 group 的节点所能到达的最大层级。
func (s *treeService) GroupMaxLevel(ctx context.Context, familyCode, group string) (int, error) {
	code := typecode.Normalize(familyCode)
	fam, err := s.nodes.FindFamily(ctx, code)
	if err != nil {
		return 0, notFound(err, "product family %s", code)
	}
	return s.nodes.MaxLevelOfGroup(ctx, fam.ID, strings.TrimSpace(group))
}
