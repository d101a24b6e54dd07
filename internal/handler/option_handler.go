package handler

import (
	"github.com/gin-gonic/gin"

	"variantenbaum-go/internal/model"
	"variantenbaum-go/internal/service"
	"variantenbaum-go/pkg/log"
)

// OptionHandler 负责兼容性解析相关的 API 请求。
type OptionHandler struct {
	resolver service.ResolverService
}

// NewOptionHandler 创建一个新的 OptionHandler 实例。
func NewOptionHandler(resolver service.ResolverService) *OptionHandler {
	return &OptionHandler{resolver: resolver}
}

// Resolve 处理 POST /api/options。
func (h *OptionHandler) Resolve(c *gin.Context) {
	var req model.OptionsQuery
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "无效的请求负载: "+err.Error())
		return
	}
	log.Infof("[OptionHandler] 解析选项, target_level: %d, selections: %d", req.TargetLevel, len(req.PreviousSelections))

	opts, err := h.resolver.Resolve(c.Request.Context(), req)
	if err != nil {
		respondError(c, "OptionHandler.Resolve", err)
		return
	}
	respondOK(c, opts)
}

// Search 处理 POST /api/options/search。
func (h *OptionHandler) Search(c *gin.Context) {
	var req model.OptionsSearch
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "无效的请求负载: "+err.Error())
		return
	}
	opts, err := h.resolver.Search(c.Request.Context(), req)
	if err != nil {
		respondError(c, "OptionHandler.Search", err)
		return
	}
	respondOK(c, opts)
}

// DerivedGroupNameRequest 是 POST /api/derived-group-name 的请求体。
type DerivedGroupNameRequest struct {
	PreviousSelections []model.Selection `json:"previous_selections"`
}

// DerivedGroupName 返回当前选择下可能的 group_name。
func (h *OptionHandler) DerivedGroupName(c *gin.Context) {
	var req DerivedGroupNameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "无效的请求负载: "+err.Error())
		return
	}
	res, err := h.resolver.DerivedGroupName(c.Request.Context(), req.PreviousSelections)
	if err != nil {
		respondError(c, "OptionHandler.DerivedGroupName", err)
		return
	}
	respondOK(c, res)
}
