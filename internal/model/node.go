// Package model 定义了与数据库表对应的 Go 结构体。
package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Node 对应于数据库中的 'nodes' 表，是变体树中的一个节点。
// 代码节点 (Code != nil) 占用一个层级；模式容器 (Pattern != nil) 只用于组织，
// 与父节点处于同一层级。
type Node struct {
	ID uint `gorm:"primaryKey;autoIncrement" json:"id"`
	// ParentID 为空表示根节点（通常是产品族）。
	ParentID *uint `gorm:"index" json:"parent_id"`
	Parent   *Node `gorm:"foreignKey:ParentID;constraint:OnDelete:CASCADE" json:"-"`
	// Level 0 表示产品族。
	Level int `gorm:"not null;index:idx_nodes_code_level,priority:2" json:"level"`
	// Code 和 Pattern 只能设置其中一个（根节点可以都为空）。
	Code    *string `gorm:"type:varchar(64);index:idx_nodes_code_level,priority:1" json:"code"`
	Pattern *string `gorm:"type:varchar(32)" json:"pattern"`
	Name    string  `gorm:"type:varchar(255)" json:"name"`
	Label   string  `gorm:"type:text" json:"label"`
	LabelEN string  `gorm:"column:label_en;type:text" json:"label_en"`
	// Position 是代码在完整类型码中的字符偏移。
	Position  int    `gorm:"not null;default:0" json:"position"`
	GroupName string `gorm:"type:varchar(255);index" json:"group_name"`
	// FullTypecode 只在叶子和中间码节点上设置。
	FullTypecode       *string        `gorm:"type:varchar(255);index" json:"full_typecode"`
	IsIntermediateCode bool           `gorm:"not null;default:false" json:"is_intermediate_code"`
	Pictures           datatypes.JSON `json:"pictures"`
	Links              datatypes.JSON `json:"links"`
	CreatedAt          time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Node) TableName() string {
	return "nodes"
}

// CodeValue 返回节点代码，模式容器返回空字符串。
func (n *Node) CodeValue() string {
	if n.Code == nil {
		return ""
	}
	return *n.Code
}

// IsPatternContainer 表示节点是只有模式、没有代码的组织节点。
func (n *Node) IsPatternContainer() bool {
	return n.Code == nil && n.Pattern != nil
}

// Media 是图片或链接条目，只有 URL 参与去重。
type Media struct {
	URL         string `json:"url"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// DecodeMedia 解析 JSON 列；空值或格式错误时返回空切片。
func DecodeMedia(raw datatypes.JSON) []Media {
	out := []Media{}
	if len(raw) == 0 {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return []Media{}
	}
	return out
}

// EncodeMedia 将条目序列化为 JSON 列，nil 写为 []。
func EncodeMedia(items []Media) datatypes.JSON {
	if items == nil {
		items = []Media{}
	}
	b, _ := json.Marshal(items)
	return datatypes.JSON(b)
}

// NodePath 对应 'node_paths' 闭包表：每对祖先/后代一行，包括 depth=0 的自身边。
type NodePath struct {
	AncestorID   uint  `gorm:"primaryKey;autoIncrement:false" json:"ancestor_id"`
	DescendantID uint  `gorm:"primaryKey;autoIncrement:false;index" json:"descendant_id"`
	Depth        int   `gorm:"not null" json:"depth"`
	Ancestor     *Node `gorm:"foreignKey:AncestorID;constraint:OnDelete:CASCADE" json:"-"`
	Descendant   *Node `gorm:"foreignKey:DescendantID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (NodePath) TableName() string {
	return "node_paths"
}

// NodeLabel 是从结构化标签中解析出的一段，对应 'node_labels' 表。
type NodeLabel struct {
	ID            uint    `gorm:"primaryKey;autoIncrement" json:"id"`
	NodeID        uint    `gorm:"not null;index" json:"node_id"`
	Node          *Node   `gorm:"foreignKey:NodeID;constraint:OnDelete:CASCADE" json:"-"`
	Title         string  `gorm:"type:varchar(255)" json:"title"`
	CodeSegment   *string `gorm:"type:varchar(64)" json:"code_segment"`
	PositionStart *int    `json:"position_start"`
	PositionEnd   *int    `json:"position_end"`
	LabelDE       string  `gorm:"column:label_de;type:text" json:"label_de"`
	LabelEN       string  `gorm:"column:label_en;type:text" json:"label_en"`
	DisplayOrder  int     `gorm:"not null;default:0" json:"display_order"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (NodeLabel) TableName() string {
	return "node_labels"
}
