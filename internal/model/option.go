package model

// Selection 是用户在某一层级上的选择。同一代码可能出现在不同父节点下，
// 因此 IDs 保存当前路径下所有可达的节点。IDs 为空（且 ID 为空）的选择会被忽略。
type Selection struct {
	Code  string `json:"code"`
	Level int    `json:"level"`
	// ID 是旧版客户端发送的单个节点 ID，只在 IDs 为空时使用。
	ID  *uint  `json:"id,omitempty"`
	IDs []uint `json:"ids"`
}

// NodeIDs 返回选择中的节点集合。
func (s Selection) NodeIDs() []uint {
	if len(s.IDs) > 0 {
		return s.IDs
	}
	if s.ID != nil {
		return []uint{*s.ID}
	}
	return nil
}

// AvailableOption 是目标层级上按代码分组后的一个选项。
type AvailableOption struct {
	ID                  uint         `json:"id"`
	IDs                 []uint       `json:"ids"`
	Code                string       `json:"code"`
	Label               string       `json:"label"`
	LabelEN             string       `json:"label_en"`
	Name                string       `json:"name"`
	GroupName           string       `json:"group_name"`
	Level               int          `json:"level"`
	Position            int          `json:"position"`
	IsCompatible        bool         `json:"is_compatible"`
	ParentPattern       *string      `json:"parent_pattern"`
	Pictures            []Media      `json:"pictures"`
	Links               []Media      `json:"links"`
	ConstraintValid     bool         `json:"constraint_valid"`
	ViolatedConstraints []Constraint `json:"violated_constraints,omitempty"`
}

// OptionsQuery 是兼容性解析的输入。
type OptionsQuery struct {
	TargetLevel        int         `json:"target_level"`
	PreviousSelections []Selection `json:"previous_selections"`
	GroupFilter        string      `json:"group_filter"`
}

// OptionsSearch 在解析结果上追加过滤条件。
type OptionsSearch struct {
	OptionsQuery
	Pattern     *int   `json:"pattern"`
	CodePrefix  string `json:"code_prefix"`
	LabelSearch string `json:"label_search"`
}

// DerivedGroupName 描述当前选择下所有可能叶子的 group_name。
type DerivedGroupName struct {
	GroupName          *string  `json:"group_name"`
	IsUnique           bool     `json:"is_unique"`
	PossibleGroupNames []string `json:"possible_group_names"`
}

// ValidationResult 是约束校验的结果。
type ValidationResult struct {
	IsValid             bool         `json:"is_valid"`
	ViolatedConstraints []Constraint `json:"violated_constraints"`
	Message             string       `json:"message,omitempty"`
}

// Stats 是树存储的计数，用于健康检查。
type Stats struct {
	TotalNodes int64 `json:"total_nodes"`
	TotalPaths int64 `json:"total_paths"`
}

// ClosureReport 比较维护的闭包索引与从 parent_id 重新推导的结果。
type ClosureReport struct {
	Expected   int        `json:"expected"`
	Actual     int        `json:"actual"`
	Missing    []NodePath `json:"missing,omitempty"`
	Extra      []NodePath `json:"extra,omitempty"`
	WrongDepth []NodePath `json:"wrong_depth,omitempty"`
}

// OK 表示闭包索引与暴力推导结果一致。
func (r ClosureReport) OK() bool {
	return len(r.Missing) == 0 && len(r.Extra) == 0 && len(r.WrongDepth) == 0
}

// CodeHint 是代码逐段提示中的一项。
type CodeHint struct {
	Position  *int   `json:"position"`
	Character string `json:"character"`
	Title     string `json:"title"`
	LabelDE   string `json:"label_de"`
	LabelEN   string `json:"label_en"`
	Matched   bool   `json:"matched"`
}
