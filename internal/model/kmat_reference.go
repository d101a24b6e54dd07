package model

import (
	"time"

	"gorm.io/datatypes"
)

// KmatReference 把一条完整配置路径映射到外部物料号，对应 'kmat_references' 表。
// PathKey 是路径节点 ID 的规范写法 ("1,5,12")，与 FamilyID 一起唯一。
type KmatReference struct {
	ID            uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	FamilyID      uint           `gorm:"not null;uniqueIndex:idx_kmat_path,priority:1" json:"family_id"`
	Family        *Node          `gorm:"foreignKey:FamilyID;constraint:OnDelete:CASCADE" json:"-"`
	PathKey       string         `gorm:"type:varchar(512);not null;uniqueIndex:idx_kmat_path,priority:2" json:"-"`
	PathNodeIDs   datatypes.JSON `gorm:"column:path_node_ids" json:"path_node_ids"`
	FullTypecode  string         `gorm:"type:varchar(255)" json:"full_typecode"`
	Reference     string         `gorm:"column:kmat_reference;type:varchar(100);not null" json:"kmat_reference"`
	CreatedBy     string         `gorm:"type:varchar(100)" json:"created_by"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (KmatReference) TableName() string {
	return "kmat_references"
}

// KmatInput 是创建或更新物料号引用的请求。
type KmatInput struct {
	FamilyID     uint   `json:"family_id"`
	PathNodeIDs  []uint `json:"path_node_ids"`
	FullTypecode string `json:"full_typecode"`
	Reference    string `json:"kmat_reference"`
}
