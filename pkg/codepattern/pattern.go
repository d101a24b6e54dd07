// Package codepattern 实现代码形状的小型语言：长度模式、字符集和代码范围。
// 所有值在边界处解析并校验，解析失败返回 apperr.ErrValidation。
package codepattern

import (
	"strconv"
	"strings"
	"unicode"

	"variantenbaum-go/internal/apperr"
)

// LengthKind 区分长度模式的三种形式。
type LengthKind int

const (
	LengthAny LengthKind = iota
	LengthExact
	LengthRange
)

// LengthPattern 描述代码长度约束，例如 "3" 或 "2-4"。
type LengthPattern struct {
	Kind LengthKind
	Min  int
	Max  int
}

// ParseLength 解析 "N" 或 "N-M"，空字符串表示不限制。
func ParseLength(s string) (LengthPattern, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return LengthPattern{Kind: LengthAny}, nil
	}
	if lo, hi, ok := strings.Cut(s, "-"); ok {
		min, err1 := strconv.Atoi(strings.TrimSpace(lo))
		max, err2 := strconv.Atoi(strings.TrimSpace(hi))
		if err1 != nil || err2 != nil || min < 0 || max < min {
			return LengthPattern{}, apperr.Validation("invalid length pattern %q", s)
		}
		return LengthPattern{Kind: LengthRange, Min: min, Max: max}, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return LengthPattern{}, apperr.Validation("invalid length pattern %q", s)
	}
	return LengthPattern{Kind: LengthExact, Min: n, Max: n}, nil
}

// Matches 判断长度为 n 的代码是否满足模式。
func (p LengthPattern) Matches(n int) bool {
	switch p.Kind {
	case LengthExact:
		return n == p.Min
	case LengthRange:
		return n >= p.Min && n <= p.Max
	default:
		return true
	}
}

func (p LengthPattern) String() string {
	switch p.Kind {
	case LengthExact:
		return strconv.Itoa(p.Min)
	case LengthRange:
		return strconv.Itoa(p.Min) + "-" + strconv.Itoa(p.Max)
	default:
		return ""
	}
}

// Charset 限定代码中允许出现的字符类别。特殊字符始终允许。
type Charset string

const (
	CharsetAny          Charset = ""
	CharsetAlphabetic   Charset = "alphabetic"
	CharsetNumeric      Charset = "numeric"
	CharsetAlphanumeric Charset = "alphanumeric"
)

// ParseCharset 校验字符集名称。
func ParseCharset(s string) (Charset, error) {
	switch c := Charset(strings.ToLower(strings.TrimSpace(s))); c {
	case CharsetAny, CharsetAlphabetic, CharsetNumeric, CharsetAlphanumeric:
		return c, nil
	default:
		return "", apperr.Validation("invalid charset %q", s)
	}
}

// Matches 检查 s 是否满足字符集：
// alphabetic 至少一个字母且没有数字，numeric 至少一个数字且没有字母，
// alphanumeric 至少一个字母或数字。
func (c Charset) Matches(s string) bool {
	if c == CharsetAny {
		return true
	}
	var hasAlpha, hasDigit bool
	for _, r := range s {
		if unicode.IsLetter(r) {
			hasAlpha = true
		} else if unicode.IsDigit(r) {
			hasDigit = true
		}
	}
	switch c {
	case CharsetAlphabetic:
		return hasAlpha && !hasDigit
	case CharsetNumeric:
		return hasDigit && !hasAlpha
	case CharsetAlphanumeric:
		return hasAlpha || hasDigit
	}
	return true
}

// Span 检查代码从 from 到 to（不含，nil 表示到结尾）的子串是否满足字符集。
// 空子串视为不满足。
func (c Charset) Span(code string, from int, to *int) bool {
	r := []rune(code)
	if from < 0 {
		from = 0
	}
	end := len(r)
	if to != nil && *to < end {
		end = *to
	}
	if from >= end {
		return false
	}
	return c.Matches(string(r[from:end]))
}

// LevelPattern 组合了长度模式和字符集，用于按祖先层级过滤。
type LevelPattern struct {
	Length  LengthPattern
	Charset Charset
}

// ParseLevelPattern 同时校验长度与字符集。
func ParseLevelPattern(length, charset string) (LevelPattern, error) {
	lp, err := ParseLength(length)
	if err != nil {
		return LevelPattern{}, err
	}
	cs, err := ParseCharset(charset)
	if err != nil {
		return LevelPattern{}, err
	}
	return LevelPattern{Length: lp, Charset: cs}, nil
}

// Matches 要求代码非空且同时满足长度和字符集。
func (p LevelPattern) Matches(code string) bool {
	if code == "" {
		return false
	}
	return p.Length.Matches(len([]rune(code))) && p.Charset.Matches(code)
}
