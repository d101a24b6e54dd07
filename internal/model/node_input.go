package model

// NodeInput 是创建节点的请求。父节点可以用 ParentID 直接指定，
// 也可以用 FamilyCode + ParentLevel + ParentCode 按代码解析。
type NodeInput struct {
	ParentID     *uint   `json:"parent_id"`
	FamilyCode   string  `json:"family_code"`
	ParentLevel  *int    `json:"parent_level"`
	ParentCode   string  `json:"parent_code"`
	Code         *string `json:"code"`
	Pattern      *string `json:"pattern"`
	Name         string  `json:"name"`
	Label        string  `json:"label"`
	LabelEN      string  `json:"label_en"`
	Position     int     `json:"position"`
	GroupName    string  `json:"group_name"`
	FullTypecode *string `json:"full_typecode"`
	Pictures     []Media `json:"pictures"`
	Links        []Media `json:"links"`
}

// ImportNode 是导入文件中的一个嵌套节点。
type ImportNode struct {
	Code         *string      `json:"code"`
	Pattern      *string      `json:"pattern"`
	Name         string       `json:"name"`
	Label        string       `json:"label"`
	LabelEN      string       `json:"label_en"`
	Position     int          `json:"position"`
	GroupName    string       `json:"group_name"`
	FullTypecode *string      `json:"full_typecode"`
	Pictures     []Media      `json:"pictures"`
	Links        []Media      `json:"links"`
	Children     []ImportNode `json:"children"`
}

// PathLookup 按产品族和父代码链定位节点。ParentCodes 依次对应第 1 层到 Level-1 层。
type PathLookup struct {
	Code        string   `json:"code"`
	Level       int      `json:"level"`
	FamilyCode  string   `json:"family_code"`
	ParentCodes []string `json:"parent_codes"`
}

// PathLookupResult 是 PathLookup 的结果。未找到时 Message 说明在哪一层中断。
type PathLookupResult struct {
	Found   bool   `json:"found"`
	NodeID  *uint  `json:"node_id"`
	Node    *Node  `json:"node,omitempty"`
	Message string `json:"message,omitempty"`
}
