package handler

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"variantenbaum-go/internal/model"
	"variantenbaum-go/internal/service"
	"variantenbaum-go/pkg/log"
)

// BulkHandler 负责批量筛选和批量更新。
type BulkHandler struct {
	bulk service.BulkService
}

// NewBulkHandler 创建一个新的 BulkHandler 实例。
func NewBulkHandler(bulk service.BulkService) *BulkHandler {
	return &BulkHandler{bulk: bulk}
}

// Filter 处理 POST /api/nodes/bulk-filter。
func (h *BulkHandler) Filter(c *gin.Context) {
	var req model.BulkFilter
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "无效的请求负载: "+err.Error())
		return
	}
	res, err := h.bulk.Filter(c.Request.Context(), req)
	if err != nil {
		respondError(c, "BulkHandler.Filter", err)
		return
	}
	log.Infof("[BulkHandler] 批量筛选完成, family: %s, level: %d, 结果: %d", req.FamilyCode, req.Level, res.Count)
	respondOK(c, res)
}

// BulkUpdateRequest 是 PUT /api/nodes/bulk-update 的请求体。
type BulkUpdateRequest struct {
	NodeIDs []uint                 `json:"node_ids"`
	Updates model.BulkUpdateFields `json:"updates"`
}

// Update 处理 PUT /api/nodes/bulk-update。
func (h *BulkHandler) Update(c *gin.Context) {
	var req BulkUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "无效的请求负载: "+err.Error())
		return
	}
	n, err := h.bulk.Update(c.Request.Context(), req.NodeIDs, req.Updates)
	if err != nil {
		respondError(c, "BulkHandler.Update", err)
		return
	}
	respondOK(c, gin.H{"updated_count": n, "message": fmt.Sprintf("%d node(s) updated", n)})
}
