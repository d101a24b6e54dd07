package model

// CodeContent 匹配代码中某个位置（从 1 开始）的内容；Position 为空时匹配任意位置。
type CodeContent struct {
	Position *int   `json:"position"`
	Value    string `json:"value"`
}

// AllowedPattern 限定代码子串 [From, To) 的字符集。
type AllowedPattern struct {
	From    int    `json:"from"`
	To      *int   `json:"to"`
	Allowed string `json:"allowed"`
}

// LevelPatternSpec 是某个祖先层级上的长度与字符集要求。
type LevelPatternSpec struct {
	Length string `json:"length"`
	Type   string `json:"type"`
}

// BulkFilter 描述批量筛选的条件。Name 和 GroupName 是硬过滤，
// 其他代码条件只把选项标记为不兼容。
type BulkFilter struct {
	Level               int                      `json:"level"`
	FamilyCode          string                   `json:"family_code"`
	Code                string                   `json:"code"`
	CodePrefix          string                   `json:"code_prefix"`
	CodeContent         *CodeContent             `json:"code_content"`
	GroupName           string                   `json:"group_name"`
	Name                string                   `json:"name"`
	Pattern             string                   `json:"pattern"`
	ParentLevelPatterns map[int]LevelPatternSpec `json:"parent_level_patterns"`
	ParentLevelOptions  map[int][]string         `json:"parent_level_options"`
	AllowedPattern      *AllowedPattern          `json:"allowed_pattern"`
	Selections          []Selection              `json:"selections"`
	ApplyPathFilter     bool                     `json:"apply_path_filter"`
}

// BulkFilterResult 是批量筛选的结果。
type BulkFilterResult struct {
	Nodes []AvailableOption `json:"nodes"`
	Count int               `json:"count"`
}

// BulkUpdateFields 中的直接字段替换原值（空字符串表示清空），Append* 字段追加到原值之后。
type BulkUpdateFields struct {
	Name            *string `json:"name"`
	Label           *string `json:"label"`
	LabelEN         *string `json:"label_en"`
	GroupName       *string `json:"group_name"`
	AppendName      *string `json:"append_name"`
	AppendLabel     *string `json:"append_label"`
	AppendLabelEN   *string `json:"append_label_en"`
	AppendGroupName *string `json:"append_group_name"`
}

// Empty 表示没有设置任何字段。
func (f BulkUpdateFields) Empty() bool {
	return f.Name == nil && f.Label == nil && f.LabelEN == nil && f.GroupName == nil &&
		f.AppendName == nil && f.AppendLabel == nil && f.AppendLabelEN == nil && f.AppendGroupName == nil
}

// BulkSuccessorResult 是批量创建替代关系的结果。
type BulkSuccessorResult struct {
	Type         string             `json:"type"`
	Message      string             `json:"message"`
	CreatedCount int                `json:"created_count"`
	SkippedCount int                `json:"skipped_count"`
	UpdatedCount int                `json:"updated_count"`
	SourceCount  int                `json:"source_count,omitempty"`
	TargetCount  int                `json:"target_count,omitempty"`
	HintID       *uint              `json:"hint_id,omitempty"`
	Successors   []ProductSuccessor `json:"successors,omitempty"`
}
