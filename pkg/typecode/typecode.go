// Package typecode 拆分和重组产品类型码字符串。
//
// 类型码如 "KDC 50-K-25-PNSOK-TSL" 由产品族代码和每层一个代码组成。
// 分隔符为连续的 '-' 或空白、两个及以上的 '_'，以及两个单词字符之间的单个 '_'。
package typecode

import (
	"strings"
	"unicode"
)

// Wildcard 在解码时匹配该层的任意代码。
const Wildcard = "*"

// Split 把类型码拆分为大写的代码段，丢弃空段。
func Split(code string) []string {
	s := []rune(strings.TrimSpace(code))
	var parts []string
	var cur []rune

	flush := func() {
		if tok := Normalize(string(cur)); tok != "" {
			parts = append(parts, tok)
		}
		cur = cur[:0]
	}

	for i := 0; i < len(s); i++ {
		r := s[i]
		switch {
		case r == '-' || unicode.IsSpace(r):
			flush()
		case r == '_':
			j := i
			for j < len(s) && s[j] == '_' {
				j++
			}
			run := j - i
			if run >= 2 {
				flush()
				i = j - 1
				continue
			}
			if i > 0 && isWord(s[i-1]) && j < len(s) && isWord(s[j]) {
				flush()
				continue
			}
			cur = append(cur, r)
		default:
			cur = append(cur, r)
		}
	}
	flush()
	return parts
}

// Normalize 把单个代码转为大写并去掉首尾空白。
func Normalize(tok string) string {
	return strings.ToUpper(strings.TrimSpace(tok))
}

// Reconstruct 以规范的 "FAMILY A-B-C" 形式输出代码段，单个代码原样返回。
func Reconstruct(parts []string) string {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}
	return parts[0] + " " + strings.Join(parts[1:], "-")
}

// HasWildcard 表示是否有代码段是通配符。
func HasWildcard(parts []string) bool {
	for _, p := range parts {
		if p == Wildcard {
			return true
		}
	}
	return false
}

func isWord(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
