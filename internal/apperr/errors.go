// Package apperr 定义了 service 与 handler 共用的错误分类。
// 用 errors.Is 匹配下面的哨兵错误，歧义和约束违反等带数据的错误用 errors.As 取出。
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound 表示代码、层级、产品族或记录不存在。
	ErrNotFound = errors.New("not found")

	// ErrAmbiguous 表示需要唯一节点的操作找到了多个。
	ErrAmbiguous = errors.New("ambiguous")

	// ErrConstraintViolation 表示候选代码被 allow/deny 规则拒绝。
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrValidation 表示输入格式错误，例如无法解析的范围或模式。
	ErrValidation = errors.New("validation error")

	// ErrConflict 表示重复，例如同一父节点下出现相同代码。
	ErrConflict = errors.New("conflict")

	// ErrCascadeFailure 表示删除时引用关系不符合预期。
	ErrCascadeFailure = errors.New("cascade failure")
)

// NotFound 用格式化消息包装 ErrNotFound。
func NotFound(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Validation 用格式化消息包装 ErrValidation。
func Validation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Conflict 用格式化消息包装 ErrConflict。
func Conflict(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Cascade 用 ErrCascadeFailure 包装底层原因。
func Cascade(cause error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s: %v", ErrCascadeFailure, fmt.Sprintf(format, args...), cause)
}

// AmbiguousError 携带候选节点 ID，调用方无需再次查询即可消除歧义。
type AmbiguousError struct {
	What       string
	Candidates []uint
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous %s: %d candidates %v", e.What, len(e.Candidates), e.Candidates)
}

func (e *AmbiguousError) Unwrap() error { return ErrAmbiguous }

// ConstraintViolationError 携带被拒绝的代码及其违反的约束 ID。
type ConstraintViolationError struct {
	Code          string
	Level         int
	ConstraintIDs []uint
	Message       string
}

func (e *ConstraintViolationError) Error() string {
	return e.Message
}

func (e *ConstraintViolationError) Unwrap() error { return ErrConstraintViolation }
