package model

import "time"

// 约束模式
const (
	ModeAllow = "allow"
	ModeDeny  = "deny"
)

// 条件类型
const (
	ConditionExactCode = "exact_code"
	ConditionPrefix    = "prefix"
	ConditionPattern   = "pattern"
)

// 代码条目类型
const (
	CodeTypeSingle = "single"
	CodeTypeRange  = "range"
)

// Constraint 是管理员定义的 allow/deny 规则，对应 'constraints' 表。
// 所有条件同时满足时规则生效；没有条件的规则对整个层级生效。
type Constraint struct {
	ID          uint                  `gorm:"primaryKey;autoIncrement" json:"id"`
	Level       int                   `gorm:"not null;index" json:"level"`
	Mode        string                `gorm:"type:varchar(10);not null" json:"mode"`
	Description string                `gorm:"type:text" json:"description"`
	Conditions  []ConstraintCondition `gorm:"constraint:OnDelete:CASCADE" json:"conditions"`
	Codes       []ConstraintCode      `gorm:"constraint:OnDelete:CASCADE" json:"codes"`
	CreatedAt   time.Time             `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time             `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Constraint) TableName() string {
	return "constraints"
}

// ConstraintCondition 对应 'constraint_conditions' 表。
type ConstraintCondition struct {
	ID            uint   `gorm:"primaryKey;autoIncrement" json:"-"`
	ConstraintID  uint   `gorm:"not null;index" json:"-"`
	ConditionType string `gorm:"type:varchar(20);not null" json:"condition_type"`
	TargetLevel   int    `gorm:"not null" json:"target_level"`
	Value         string `gorm:"type:varchar(255);not null" json:"value"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (ConstraintCondition) TableName() string {
	return "constraint_conditions"
}

// ConstraintCode 对应 'constraint_codes' 表。Charset 只对范围条目生效。
type ConstraintCode struct {
	ID           uint   `gorm:"primaryKey;autoIncrement" json:"-"`
	ConstraintID uint   `gorm:"not null;index" json:"-"`
	CodeType     string `gorm:"type:varchar(10);not null" json:"code_type"`
	CodeValue    string `gorm:"type:varchar(255);not null" json:"code_value"`
	Charset      string `gorm:"type:varchar(20)" json:"charset,omitempty"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (ConstraintCode) TableName() string {
	return "constraint_codes"
}
