package codepattern

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"variantenbaum-go/internal/apperr"
)

const alnum = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// CodeRange 是形如 "C010-C020" 的代码区间。Raw 保存原始写法。
// 不含 '-' 的值表示单个代码，Start 与 End 相同。
type CodeRange struct {
	Raw   string
	Start string
	End   string
}

// ParseRange 在第一个 '-' 处拆分区间。两端都不能为空。
func ParseRange(s string) (CodeRange, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return CodeRange{}, apperr.Validation("empty code range")
	}
	start, end, ok := strings.Cut(s, "-")
	if !ok {
		return CodeRange{Raw: s, Start: s, End: s}, nil
	}
	if start == "" || end == "" {
		return CodeRange{}, apperr.Validation("invalid code range %q", s)
	}
	return CodeRange{Raw: s, Start: start, End: end}, nil
}

func (r CodeRange) single() bool { return r.Start == r.End && !strings.Contains(r.Raw, "-") }

// RangeMatcher 判断代码是否落在范围内。
type RangeMatcher interface {
	Contains(r CodeRange, code string) bool
}

// NewRangeMatcher 根据配置名返回实现，未知名称返回校验错误。
func NewRangeMatcher(mode string) (RangeMatcher, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "expand":
		return ExpandMatcher{}, nil
	case "lexical":
		return LexicalMatcher{}, nil
	default:
		return nil, apperr.Validation("unknown range mode %q", mode)
	}
}

// LexicalMatcher 只接受与两端等长且按字典序位于两端之间的代码。
type LexicalMatcher struct{}

func (LexicalMatcher) Contains(r CodeRange, code string) bool {
	if r.single() {
		return code == r.Start
	}
	if len(code) != len(r.Start) || len(code) != len(r.End) {
		return false
	}
	return r.Start <= code && code <= r.End
}

// ExpandMatcher 判断代码是否属于区间展开后的集合，但不实际展开：
//   - 公共非数字前缀 + 数字后缀：按起点宽度补零 (PS001-PS999)
//   - 单字符字母区间 (A-X)
//   - 单字符字母数字区间，字母表 0-9A-Z (0-Z)
//   - 最多两位的字母数字区间，包括 1 位到 2 位 (Z0-ZZ, 5-1Z)
//   - 其余情况只匹配两个端点
type ExpandMatcher struct{}

func (ExpandMatcher) Contains(r CodeRange, code string) bool {
	if r.single() {
		return code == r.Start
	}
	in, ok := expandContains(r, code)
	if !ok {
		// 无法展开时退回到两个端点
		return code == r.Start || code == r.End
	}
	return in
}

// expandContains 返回 (是否属于, 区间是否可展开且非空)。
func expandContains(r CodeRange, code string) (bool, bool) {
	prefix := commonAlphaPrefix(r.Start, r.End)
	startSuf := r.Start[len(prefix):]
	endSuf := r.End[len(prefix):]

	if !strings.HasPrefix(code, prefix) {
		return false, true
	}
	suf := code[len(prefix):]

	switch {
	case isDigits(startSuf) && isDigits(endSuf):
		lo, err1 := strconv.ParseUint(startSuf, 10, 64)
		hi, err2 := strconv.ParseUint(endSuf, 10, 64)
		if err1 != nil || err2 != nil || lo > hi {
			return false, false
		}
		if !isDigits(suf) {
			return false, true
		}
		n, err := strconv.ParseUint(suf, 10, 64)
		if err != nil || n < lo || n > hi {
			return false, true
		}
		return suf == fmt.Sprintf("%0*d", len(startSuf), n), true

	case runeLen(startSuf) == 1 && runeLen(endSuf) == 1 && isLetters(startSuf) && isLetters(endSuf):
		lo := []rune(strings.ToUpper(startSuf))[0]
		hi := []rune(strings.ToUpper(endSuf))[0]
		if lo > hi {
			return false, false
		}
		rs := []rune(suf)
		return len(rs) == 1 && rs[0] >= lo && rs[0] <= hi, true

	case len(startSuf) == 1 && len(endSuf) == 1:
		lo := strings.IndexByte(alnum, upperByte(startSuf[0]))
		hi := strings.IndexByte(alnum, upperByte(endSuf[0]))
		if lo < 0 || hi < 0 || lo > hi {
			return false, false
		}
		if len(suf) != 1 {
			return false, true
		}
		i := strings.IndexByte(alnum, suf[0])
		return i >= lo && i <= hi, true

	case len(startSuf) == 1 && len(endSuf) == 2:
		lo := strings.IndexByte(alnum, upperByte(startSuf[0]))
		if lo < 0 {
			return false, false
		}
		end := strings.ToUpper(endSuf)
		switch len(suf) {
		case 1:
			return strings.IndexByte(alnum, suf[0]) >= lo, true
		case 2:
			return inAlphabet(suf) && suf <= end, true
		}
		return false, true

	case len(startSuf) == 2 && len(endSuf) == 2:
		start, end := strings.ToUpper(startSuf), strings.ToUpper(endSuf)
		if start > end {
			return false, false
		}
		return len(suf) == 2 && inAlphabet(suf) && start <= suf && suf <= end, true
	}
	return false, false
}

func commonAlphaPrefix(a, b string) string {
	i := 0
	for i < len(a) && i < len(b) && a[i] == b[i] && !isDigitByte(a[i]) {
		i++
	}
	return a[:i]
}

func isDigitByte(c byte) bool { return c >= '0' && c <= '9' }

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isDigitByte(s[i]) {
			return false
		}
	}
	return true
}

func isLetters(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

func inAlphabet(s string) bool {
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(alnum, s[i]) < 0 {
			return false
		}
	}
	return true
}

func upperByte(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}

func runeLen(s string) int { return len([]rune(s)) }
