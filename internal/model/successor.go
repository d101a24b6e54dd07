package model

import "time"

// 来源类型
const (
	SourceNode         = "node"
	SourceLeaf         = "leaf"
	SourceIntermediate = "intermediate"
)

// 替代类型
const (
	ReplacementSuccessor   = "successor"
	ReplacementAlternative = "alternative"
	ReplacementDeprecated  = "deprecated"
)

// 警告级别
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// 提示成员角色
const (
	RoleSource = "source"
	RoleTarget = "target"
)

// ProductSuccessor 记录一个节点或完整产品的替代关系，对应 'product_successors' 表。
// TargetNodeID 与 TargetFullCode 只能设置其中一个。
type ProductSuccessor struct {
	ID                uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	SourceNodeID      uint       `gorm:"not null;index" json:"source_node_id"`
	SourceNode        *Node      `gorm:"foreignKey:SourceNodeID;constraint:OnDelete:CASCADE" json:"-"`
	SourceType        string     `gorm:"type:varchar(20);not null" json:"source_type"`
	TargetNodeID      *uint      `gorm:"index" json:"target_node_id"`
	TargetNode        *Node      `gorm:"foreignKey:TargetNodeID;constraint:OnDelete:CASCADE" json:"-"`
	TargetFullCode    *string    `gorm:"type:varchar(255)" json:"target_full_code"`
	TargetFamilyCode  *string    `gorm:"type:varchar(64)" json:"target_family_code"`
	ReplacementType   string     `gorm:"type:varchar(20);not null;default:successor" json:"replacement_type"`
	MigrationNote     string     `gorm:"type:text" json:"migration_note"`
	MigrationNoteEN   string     `gorm:"column:migration_note_en;type:text" json:"migration_note_en"`
	EffectiveDate     *time.Time `json:"effective_date"`
	ShowWarning       bool       `gorm:"not null" json:"show_warning"`
	AllowOldSelection bool       `gorm:"not null" json:"allow_old_selection"`
	WarningSeverity   string     `gorm:"type:varchar(10);not null;default:warning" json:"warning_severity"`
	CreatedBy         string     `gorm:"type:varchar(100)" json:"created_by"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (ProductSuccessor) TableName() string {
	return "product_successors"
}

// SuccessorHint 是数量不一致的批量迁移所产生的聚合提示，对应 'successor_hints' 表。
// Fingerprint 由排序后的来源和目标 ID 计算，同一组合只会有一条提示。
type SuccessorHint struct {
	ID              uint                `gorm:"primaryKey;autoIncrement" json:"id"`
	SourceCount     int                 `gorm:"not null" json:"source_count"`
	TargetCount     int                 `gorm:"not null" json:"target_count"`
	Fingerprint     string              `gorm:"type:char(64);uniqueIndex;not null" json:"fingerprint"`
	MigrationNote   string              `gorm:"type:text" json:"migration_note"`
	ShowWarning     bool                `gorm:"not null" json:"show_warning"`
	WarningSeverity string              `gorm:"type:varchar(10);not null;default:info" json:"warning_severity"`
	Members         []SuccessorHintNode `gorm:"foreignKey:HintID;constraint:OnDelete:CASCADE" json:"members,omitempty"`
	CreatedBy       string              `gorm:"type:varchar(100)" json:"created_by"`
	CreatedAt       time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (SuccessorHint) TableName() string {
	return "successor_hints"
}

// SuccessorHintNode 是提示的成员节点。
type SuccessorHintNode struct {
	HintID uint   `gorm:"primaryKey;autoIncrement:false" json:"hint_id"`
	NodeID uint   `gorm:"primaryKey;autoIncrement:false;index" json:"node_id"`
	Role   string `gorm:"primaryKey;type:varchar(10)" json:"role"`
	Node   *Node  `gorm:"foreignKey:NodeID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (SuccessorHintNode) TableName() string {
	return "successor_hint_nodes"
}
