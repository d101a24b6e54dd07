// Package labelparse 把结构化的节点标签解析为标签段。
//
// 支持的格式，块之间以空行分隔：
//
//	Spannung: P = 10-30V DC
//	S = Schließer
//
//	Hinweis: Nur für Industrieanwendungen
//
// 每个块只有第一行 "CODE = text" 产生代码段，同一块中后续行按普通文本保留。
package labelparse

import (
	"regexp"
	"strings"
)

var (
	titleRe = regexp.MustCompile(`^([^:]+):\s*(.*)$`)
	codeRe  = regexp.MustCompile(`(?i)^([A-Z0-9]+)\s*=\s*(.+)$`)
)

// Segment 是解析后的一行标签。
type Segment struct {
	Title         string
	CodeSegment   string
	Label         string
	PositionStart *int
	PositionEnd   *int
	DisplayOrder  int
}

// Row 是合并了德文和英文的标签段，可直接持久化。
type Row struct {
	Title         string
	CodeSegment   string
	PositionStart *int
	PositionEnd   *int
	LabelDE       string
	LabelEN       string
	DisplayOrder  int
}

// Parse 把文本拆分为标签段。fullCode 非空时用于定位每个代码段（从 1 开始，取首次出现的位置）。
func Parse(text, fullCode string) []Segment {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var out []Segment
	order := 0
	title := ""

	for _, block := range strings.Split(text, "\n\n") {
		var lines []string
		for _, l := range strings.Split(block, "\n") {
			if l = strings.TrimSpace(l); l != "" {
				lines = append(lines, l)
			}
		}
		if len(lines) == 0 {
			continue
		}

		foundCode := false
		rest := lines
		if m := titleRe.FindStringSubmatch(lines[0]); m != nil {
			title = strings.TrimSpace(m[1])
			if first := strings.TrimSpace(m[2]); first != "" {
				seg := parseLine(first, fullCode, true)
				seg.Title, seg.DisplayOrder = title, order
				out = append(out, seg)
				order++
				foundCode = seg.CodeSegment != ""
			}
			rest = lines[1:]
		}

		for _, l := range rest {
			seg := parseLine(l, fullCode, !foundCode)
			seg.Title, seg.DisplayOrder = title, order
			out = append(out, seg)
			order++
			if seg.CodeSegment != "" {
				foundCode = true
			}
		}
	}
	return out
}

func parseLine(line, fullCode string, allowCode bool) Segment {
	m := codeRe.FindStringSubmatch(line)
	if m == nil || !allowCode {
		return Segment{Label: line}
	}
	seg := Segment{CodeSegment: m[1], Label: strings.TrimSpace(m[2])}
	if fullCode != "" {
		if i := strings.Index(fullCode, m[1]); i >= 0 {
			start := len([]rune(fullCode[:i])) + 1
			end := start + len([]rune(m[1])) - 1
			seg.PositionStart, seg.PositionEnd = &start, &end
		}
	}
	return seg
}

// Merge 解析两种语言，把英文段合并到代码段和位置相同的德文段上。
// 没有匹配的英文段单独成行。
func Merge(labelDE, labelEN, fullCode string) []Row {
	var rows []Row
	for _, s := range Parse(labelDE, fullCode) {
		rows = append(rows, Row{
			Title:         s.Title,
			CodeSegment:   s.CodeSegment,
			PositionStart: s.PositionStart,
			PositionEnd:   s.PositionEnd,
			LabelDE:       s.Label,
			DisplayOrder:  s.DisplayOrder,
		})
	}
	for _, s := range Parse(labelEN, fullCode) {
		matched := false
		for i := range rows {
			r := &rows[i]
			if r.CodeSegment == s.CodeSegment && eqInt(r.PositionStart, s.PositionStart) && eqInt(r.PositionEnd, s.PositionEnd) {
				r.LabelEN = s.Label
				matched = true
				break
			}
		}
		if !matched {
			rows = append(rows, Row{
				Title:         s.Title,
				CodeSegment:   s.CodeSegment,
				PositionStart: s.PositionStart,
				PositionEnd:   s.PositionEnd,
				LabelEN:       s.Label,
				DisplayOrder:  s.DisplayOrder,
			})
		}
	}
	return rows
}

// Reconstruct 把标签段还原为标签文本，相邻且标题相同的段归为一组。
func Reconstruct(segs []Segment) string {
	var blocks []string
	for i := 0; i < len(segs); {
		j := i
		var lines []string
		for j < len(segs) && segs[j].Title == segs[i].Title {
			line := segs[j].Label
			if segs[j].CodeSegment != "" {
				line = segs[j].CodeSegment + " = " + line
			}
			if j == i && segs[i].Title != "" {
				line = segs[i].Title + ": " + line
			}
			lines = append(lines, line)
			j++
		}
		blocks = append(blocks, strings.Join(lines, "\n"))
		i = j
	}
	return strings.Join(blocks, "\n\n")
}

func eqInt(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
