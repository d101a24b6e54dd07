package model

// 产品类型
const (
	ProductComplete = "complete_product"
	ProductPartial  = "partial_code"
	ProductWildcard = "wildcard_search"
	ProductFamily   = "product_family"
	ProductLevel    = "level_code"
	ProductUnknown  = "unknown"
)

// CodePathSegment 是解码路径中的一段。IDs 是该层级上所有与前缀匹配的节点，
// NodeID 是代表路径上的节点。
type CodePathSegment struct {
	Level         int     `json:"level"`
	Code          string  `json:"code"`
	NodeID        uint    `json:"node_id"`
	IDs           []uint  `json:"ids"`
	Name          string  `json:"name"`
	Label         string  `json:"label"`
	LabelEN       string  `json:"label_en"`
	PositionStart *int    `json:"position_start"`
	PositionEnd   *int    `json:"position_end"`
	GroupName     string  `json:"group_name,omitempty"`
	Pictures      []Media `json:"pictures"`
	Links         []Media `json:"links"`
}

// DecodeResult 是类型码解码的结果。
type DecodeResult struct {
	Exists            bool              `json:"exists"`
	OriginalInput     string            `json:"original_input"`
	NormalizedCode    string            `json:"normalized_code,omitempty"`
	IsCompleteProduct bool              `json:"is_complete_product"`
	ProductType       string            `json:"product_type"`
	PathSegments      []CodePathSegment `json:"path_segments"`
	FullTypecode      *string           `json:"full_typecode"`
	Families          []string          `json:"families"`
	GroupName         string            `json:"group_name,omitempty"`
	Successor         *SuccessorInfo    `json:"successor,omitempty"`
}

// CodeOccurrence 是一个代码在某产品族某层级上的所有出现。
type CodeOccurrence struct {
	Family       string   `json:"family"`
	Level        int      `json:"level"`
	Names        []string `json:"names"`
	LabelsDE     []string `json:"labels_de"`
	LabelsEN     []string `json:"labels_en"`
	NodeCount    int      `json:"node_count"`
	SampleNodeID uint     `json:"sample_node_id"`
}

// CodeSearchResult 是按代码片段搜索的结果。
type CodeSearchResult struct {
	Exists      bool             `json:"exists"`
	Code        string           `json:"code"`
	Occurrences []CodeOccurrence `json:"occurrences"`
}

// SuccessorInfo 是查询节点或产品替代信息的结果。
// 来自聚合提示时 HintID 非空。
type SuccessorInfo struct {
	HasSuccessor      bool    `json:"has_successor"`
	ID                uint    `json:"id,omitempty"`
	HintID            *uint   `json:"hint_id,omitempty"`
	SourceNodeID      uint    `json:"source_node_id,omitempty"`
	SourceCode        string  `json:"source_code,omitempty"`
	SourceType        string  `json:"source_type,omitempty"`
	TargetNodeID      *uint   `json:"target_node_id,omitempty"`
	TargetNodeIDs     []uint  `json:"target_node_ids,omitempty"`
	TargetFullCode    *string `json:"target_full_code,omitempty"`
	TargetFamilyCode  *string `json:"target_family_code,omitempty"`
	TargetCode        string  `json:"target_code,omitempty"`
	TargetName        string  `json:"target_name,omitempty"`
	TargetLabel       string  `json:"target_label,omitempty"`
	ReplacementType   string  `json:"replacement_type,omitempty"`
	MigrationNote     string  `json:"migration_note,omitempty"`
	MigrationNoteEN   string  `json:"migration_note_en,omitempty"`
	WarningSeverity   string  `json:"warning_severity,omitempty"`
	AllowOldSelection bool    `json:"allow_old_selection"`
}
