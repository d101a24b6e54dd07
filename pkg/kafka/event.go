package kafka

import "time"

// 事件类型
const (
	EventNodeCreated       = "node.created"
	EventNodeDeleted       = "node.deleted"
	EventNodesUpdated      = "nodes.bulk_updated"
	EventConstraintCreated = "constraint.created"
	EventConstraintUpdated = "constraint.updated"
	EventConstraintDeleted = "constraint.deleted"
	EventSuccessorWritten  = "successor.written"
	EventSuccessorDeleted  = "successor.deleted"
	EventHintWritten       = "successor_hint.written"
	EventKmatWritten       = "kmat_reference.written"
	EventKmatDeleted       = "kmat_reference.deleted"
	EventClosureRebuilt    = "closure.rebuilt"
)

// ChangeEvent 描述一次已提交的写入。
type ChangeEvent struct {
	Type     string      `json:"type"`
	Family   string      `json:"family,omitempty"`
	EntityID uint        `json:"entity_id,omitempty"`
	Count    int         `json:"count,omitempty"`
	Payload  interface{} `json:"payload,omitempty"`
	At       time.Time   `json:"at"`
}
