package service

import (
	"context"
	"fmt"
	"strings"

	"variantenbaum-go/internal/apperr"
	"variantenbaum-go/internal/model"
	"variantenbaum-go/internal/repository"
	"variantenbaum-go/pkg/codepattern"
	"variantenbaum-go/pkg/kafka"
	"variantenbaum-go/pkg/log"
)

// Evaluator 返回某个候选代码违反的约束。
type Evaluator func(code string) []model.Constraint

// ConstraintService 接口定义了约束校验和约束管理操作。
type ConstraintService interface {
	Validate(ctx context.Context, level int, code string, previous map[int]string) (model.ValidationResult, error)
	Enforce(ctx context.Context, level int, code string, previous map[int]string) error
	Evaluator(ctx context.Context, level int, previous map[int]string) (Evaluator, error)

	ListByLevel(ctx context.Context, level int) ([]model.Constraint, error)
	Get(ctx context.Context, id uint) (*model.Constraint, error)
	Create(ctx context.Context, c *model.Constraint) error
	Update(ctx context.Context, id uint, c *model.Constraint) error
	Delete(ctx context.Context, id uint) error
}

type constraintService struct {
	repo    repository.ConstraintRepository
	matcher codepattern.RangeMatcher
	guard   writeGuard
}

// NewConstraintService 创建一个新的 ConstraintService 实例。rangeMode 选择范围代码的比较方式。
func NewConstraintService(repo repository.ConstraintRepository, rangeMode string, publisher kafka.Publisher) (ConstraintService, error) {
	matcher, err := codepattern.NewRangeMatcher(rangeMode)
	if err != nil {
		return nil, err
	}
	return &constraintService{repo: repo, matcher: matcher, guard: newWriteGuard(nil, publisher)}, nil
}

func (s *constraintService) Validate(ctx context.Context, level int, code string, previous map[int]string) (model.ValidationResult, error) {
	eval, err := s.Evaluator(ctx, level, previous)
	if err != nil {
		return model.ValidationResult{}, err
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	violated := eval(code)
	res := model.ValidationResult{IsValid: len(violated) == 0, ViolatedConstraints: violated}
	if res.ViolatedConstraints == nil {
		res.ViolatedConstraints = []model.Constraint{}
	}
	if !res.IsValid {
		res.Message = violationMessage(code, violated)
	}
	return res, nil
}

// Enforce 与 Validate 相同，但违反约束时返回 ConstraintViolationError。
func (s *constraintService) Enforce(ctx context.Context, level int, code string, previous map[int]string) error {
	code = strings.ToUpper(strings.TrimSpace(code))
	res, err := s.Validate(ctx, level, code, previous)
	if err != nil {
		return err
	}
	if res.IsValid {
		return nil
	}
	ids := make([]uint, len(res.ViolatedConstraints))
	for i, c := range res.ViolatedConstraints {
		ids[i] = c.ID
	}
	return &apperr.ConstraintViolationError{Code: code, Level: level, ConstraintIDs: ids, Message: res.Message}
}

func violationMessage(code string, violated []model.Constraint) string {
	parts := make([]string, 0, len(violated))
	for _, c := range violated {
		if c.Description != "" {
			parts = append(parts, c.Description)
		} else {
			parts = append(parts, fmt.Sprintf("%s rule #%d", c.Mode, c.ID))
		}
	}
	return fmt.Sprintf("code %s violates %d constraint(s): %s", code, len(violated), strings.Join(parts, "; "))
}

// Evaluator 一次性加载层级上的约束，返回可对多个候选代码重复调用的判定函数。
func (s *constraintService) Evaluator(ctx context.Context, level int, previous map[int]string) (Evaluator, error) {
	rules, err := s.repo.ListByLevel(ctx, level)
	if err != nil {
		return nil, err
	}
	var active []model.Constraint
	for _, r := range rules {
		if conditionsHold(r.Conditions, previous) {
			active = append(active, r)
		}
	}
	return func(code string) []model.Constraint {
		var violated []model.Constraint
		for _, r := range active {
			matched := s.codeListed(r.Codes, code)
			switch r.Mode {
			case model.ModeDeny:
				if matched {
					violated = append(violated, r)
				}
			case model.ModeAllow:
				// 空列表的 allow 规则不限制任何代码
				if len(r.Codes) > 0 && !matched {
					violated = append(violated, r)
				}
			}
		}
		return violated
	}, nil
}

// conditionsHold 要求所有条件同时满足；条件引用的层级没有选择时视为不满足。
func conditionsHold(conds []model.ConstraintCondition, previous map[int]string) bool {
	for _, c := range conds {
		sel := strings.ToUpper(strings.TrimSpace(previous[c.TargetLevel]))
		if sel == "" {
			return false
		}
		value := strings.ToUpper(strings.TrimSpace(c.Value))
		switch c.ConditionType {
		case model.ConditionExactCode:
			if sel != value {
				return false
			}
		case model.ConditionPrefix:
			if !strings.HasPrefix(sel, value) {
				return false
			}
		case model.ConditionPattern:
			lp, err := codepattern.ParseLength(value)
			if err != nil || !lp.Matches(len([]rune(sel))) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func (s *constraintService) codeListed(codes []model.ConstraintCode, code string) bool {
	for _, c := range codes {
		value := strings.ToUpper(strings.TrimSpace(c.CodeValue))
		switch c.CodeType {
		case model.CodeTypeSingle:
			if value == code {
				return true
			}
		case model.CodeTypeRange:
			r, err := codepattern.ParseRange(value)
			if err != nil {
				log.Warnf("[ConstraintService] 忽略无效范围 %q: %v", c.CodeValue, err)
				continue
			}
			if !s.matcher.Contains(r, code) {
				continue
			}
			if codepattern.Charset(c.Charset).Matches(code) {
				return true
			}
		}
	}
	return false
}

func (s *constraintService) ListByLevel(ctx context.Context, level int) ([]model.Constraint, error) {
	out, err := s.repo.ListByLevel(ctx, level)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []model.Constraint{}
	}
	return out, nil
}

func (s *constraintService) Get(ctx context.Context, id uint) (*model.Constraint, error) {
	c, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, notFound(err, "constraint %d", id)
	}
	return c, nil
}

func (s *constraintService) Create(ctx context.Context, c *model.Constraint) error {
	if err := normalizeConstraint(c); err != nil {
		return err
	}
	c.ID = 0
	if err := s.repo.Create(ctx, c); err != nil {
		return fmt.Errorf("create constraint: %w", err)
	}
	log.Infow("[ConstraintService] 约束已创建", "id", c.ID, "level", c.Level, "mode", c.Mode)
	s.guard.emit(ctx, kafka.ChangeEvent{Type: kafka.EventConstraintCreated, EntityID: c.ID, Payload: c})
	return nil
}

func (s *constraintService) Update(ctx context.Context, id uint, c *model.Constraint) error {
	if err := normalizeConstraint(c); err != nil {
		return err
	}
	c.ID = id
	if err := s.repo.Update(ctx, c); err != nil {
		return notFound(err, "constraint %d", id)
	}
	s.guard.emit(ctx, kafka.ChangeEvent{Type: kafka.EventConstraintUpdated, EntityID: id, Payload: c})
	return nil
}

func (s *constraintService) Delete(ctx context.Context, id uint) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return notFound(err, "constraint %d", id)
	}
	s.guard.emit(ctx, kafka.ChangeEvent{Type: kafka.EventConstraintDeleted, EntityID: id})
	return nil
}

// normalizeConstraint 在任何写入之前校验并规范化规则。
func normalizeConstraint(c *model.Constraint) error {
	if c.Level < 0 {
		return apperr.Validation("level must be >= 0")
	}
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if c.Mode != model.ModeAllow && c.Mode != model.ModeDeny {
		return apperr.Validation("mode must be allow or deny, got %q", c.Mode)
	}
	for i := range c.Conditions {
		cond := &c.Conditions[i]
		cond.ConditionType = strings.ToLower(strings.TrimSpace(cond.ConditionType))
		cond.Value = strings.ToUpper(strings.TrimSpace(cond.Value))
		if cond.TargetLevel < 0 {
			return apperr.Validation("condition %d: target_level must be >= 0", i)
		}
		if cond.Value == "" {
			return apperr.Validation("condition %d: value must not be empty", i)
		}
		switch cond.ConditionType {
		case model.ConditionExactCode, model.ConditionPrefix:
		case model.ConditionPattern:
			lp, err := codepattern.ParseLength(cond.Value)
			if err != nil {
				return fmt.Errorf("condition %d: %w", i, err)
			}
			if lp.Kind == codepattern.LengthAny {
				return apperr.Validation("condition %d: empty pattern", i)
			}
		default:
			return apperr.Validation("condition %d: unknown condition_type %q", i, cond.ConditionType)
		}
	}
	for i := range c.Codes {
		code := &c.Codes[i]
		code.CodeType = strings.ToLower(strings.TrimSpace(code.CodeType))
		code.CodeValue = strings.ToUpper(strings.TrimSpace(code.CodeValue))
		if code.CodeValue == "" {
			return apperr.Validation("code %d: code_value must not be empty", i)
		}
		switch code.CodeType {
		case model.CodeTypeSingle:
		case model.CodeTypeRange:
			if _, err := codepattern.ParseRange(code.CodeValue); err != nil {
				return fmt.Errorf("code %d: %w", i, err)
			}
		default:
			return apperr.Validation("code %d: unknown code_type %q", i, code.CodeType)
		}
		cs, err := codepattern.ParseCharset(code.Charset)
		if err != nil {
			return fmt.Errorf("code %d: %w", i, err)
		}
		code.Charset = string(cs)
	}
	return nil
}
