package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"variantenbaum-go/internal/model"
	"variantenbaum-go/internal/service"
	"variantenbaum-go/pkg/log"
)

// ConstraintHandler 负责约束校验和约束管理的 API 请求。
type ConstraintHandler struct {
	constraints service.ConstraintService
}

// NewConstraintHandler 创建一个新的 ConstraintHandler 实例。
func NewConstraintHandler(constraints service.ConstraintService) *ConstraintHandler {
	return &ConstraintHandler{constraints: constraints}
}

// ValidateRequest 是 POST /api/constraints/validate 的请求体。
// previous_selections 的键是层级，值是该层级上选中的代码。
type ValidateRequest struct {
	Code               string         `json:"code" binding:"required"`
	Level              int            `json:"level"`
	PreviousSelections map[int]string `json:"previous_selections"`
}

// Validate 校验候选代码。?strict=true 时违反约束返回 422，否则以 is_valid=false 返回 200。
func (h *ConstraintHandler) Validate(c *gin.Context) {
	var req ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "无效的请求负载: "+err.Error())
		return
	}
	ctx := c.Request.Context()
	if strict, _ := strconv.ParseBool(c.Query("strict")); strict {
		if err := h.constraints.Enforce(ctx, req.Level, req.Code, req.PreviousSelections); err != nil {
			respondError(c, "ConstraintHandler.Validate", err)
			return
		}
		respondOK(c, model.ValidationResult{IsValid: true, ViolatedConstraints: []model.Constraint{}})
		return
	}
	res, err := h.constraints.Validate(ctx, req.Level, req.Code, req.PreviousSelections)
	if err != nil {
		respondError(c, "ConstraintHandler.Validate", err)
		return
	}
	respondOK(c, res)
}

// ListByLevel 处理 GET /api/constraints/level/:level。
func (h *ConstraintHandler) ListByLevel(c *gin.Context) {
	level, err := strconv.Atoi(c.Param("level"))
	if err != nil {
		respondBadRequest(c, "invalid level")
		return
	}
	rules, err := h.constraints.ListByLevel(c.Request.Context(), level)
	if err != nil {
		respondError(c, "ConstraintHandler.ListByLevel", err)
		return
	}
	respondOK(c, rules)
}

// Create 处理 POST /api/constraints。
func (h *ConstraintHandler) Create(c *gin.Context) {
	var rule model.Constraint
	if err := c.ShouldBindJSON(&rule); err != nil {
		respondBadRequest(c, "无效的请求负载: "+err.Error())
		return
	}
	if err := h.constraints.Create(c.Request.Context(), &rule); err != nil {
		respondError(c, "ConstraintHandler.Create", err)
		return
	}
	log.Infof("[ConstraintHandler] 约束已创建, id: %d", rule.ID)
	respondCreated(c, rule)
}

// Update 处理 PUT /api/constraints/:id，条件和代码列表整体替换。
func (h *ConstraintHandler) Update(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var rule model.Constraint
	if err := c.ShouldBindJSON(&rule); err != nil {
		respondBadRequest(c, "无效的请求负载: "+err.Error())
		return
	}
	if err := h.constraints.Update(c.Request.Context(), id, &rule); err != nil {
		respondError(c, "ConstraintHandler.Update", err)
		return
	}
	updated, err := h.constraints.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, "ConstraintHandler.Update", err)
		return
	}
	respondOK(c, updated)
}

// Delete 处理 DELETE /api/constraints/:id。
func (h *ConstraintHandler) Delete(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	if err := h.constraints.Delete(c.Request.Context(), id); err != nil {
		respondError(c, "ConstraintHandler.Delete", err)
		return
	}
	respondOK(c, gin.H{"id": id})
}
