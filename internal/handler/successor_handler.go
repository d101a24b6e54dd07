package handler

import (
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	"variantenbaum-go/internal/model"
	"variantenbaum-go/internal/service"
	"variantenbaum-go/pkg/log"
)

// SuccessorHandler 负责替代关系的管理和查询。
type SuccessorHandler struct {
	successors service.SuccessorService
}

// NewSuccessorHandler 创建一个新的 SuccessorHandler 实例。
func NewSuccessorHandler(successors service.SuccessorService) *SuccessorHandler {
	return &SuccessorHandler{successors: successors}
}

// BulkSuccessorRequest 是 POST /api/admin/successors/bulk 的请求体。
type BulkSuccessorRequest struct {
	SourceIDs     []uint `json:"source_ids"`
	TargetIDs     []uint `json:"target_ids"`
	MigrationNote string `json:"migration_note"`
	CreatedBy     string `json:"created_by"`
}

// CreateBulk 数量相同时逐一建立替代关系，否则生成一条聚合提示。
func (h *SuccessorHandler) CreateBulk(c *gin.Context) {
	var req BulkSuccessorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "无效的请求负载: "+err.Error())
		return
	}
	res, err := h.successors.CreateBulk(c.Request.Context(), req.SourceIDs, req.TargetIDs, req.MigrationNote, req.CreatedBy)
	if err != nil {
		respondError(c, "SuccessorHandler.CreateBulk", err)
		return
	}
	log.Infof("[SuccessorHandler] 批量替代关系已处理, sources: %d, targets: %d", len(req.SourceIDs), len(req.TargetIDs))
	respondCreated(c, res)
}

func (h *SuccessorHandler) Create(c *gin.Context) {
	var req model.ProductSuccessor
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "无效的请求负载: "+err.Error())
		return
	}
	if err := h.successors.Create(c.Request.Context(), &req); err != nil {
		respondError(c, "SuccessorHandler.Create", err)
		return
	}
	respondCreated(c, req)
}

// List 处理 GET /api/admin/successors，可选 ?source_node_id= 过滤。
func (h *SuccessorHandler) List(c *gin.Context) {
	var source *uint
	if raw := c.Query("source_node_id"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			respondBadRequest(c, "invalid source_node_id")
			return
		}
		id := uint(v)
		source = &id
	}
	rows, err := h.successors.List(c.Request.Context(), source)
	if err != nil {
		respondError(c, "SuccessorHandler.List", err)
		return
	}
	respondOK(c, rows)
}

func (h *SuccessorHandler) Update(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	var req model.ProductSuccessor
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "无效的请求负载: "+err.Error())
		return
	}
	if err := h.successors.Update(c.Request.Context(), id, &req); err != nil {
		respondError(c, "SuccessorHandler.Update", err)
		return
	}
	respondOK(c, req)
}

func (h *SuccessorHandler) Delete(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	if err := h.successors.Delete(c.Request.Context(), id); err != nil {
		respondError(c, "SuccessorHandler.Delete", err)
		return
	}
	respondOK(c, gin.H{"id": id})
}

// ForNode 处理 GET /api/node/:id/successor。
func (h *SuccessorHandler) ForNode(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	info, err := h.successors.SuccessorFor(c.Request.Context(), id)
	if err != nil {
		respondError(c, "SuccessorHandler.ForNode", err)
		return
	}
	respondOK(c, info)
}

// ProductSuccessorRequest 是 POST /api/product/successor 的请求体。
type ProductSuccessorRequest struct {
	Code       string            `json:"code"`
	Selections []model.Selection `json:"selections"`
}

// ForProduct 先按完整类型码查找，再沿选择路径从深到浅查找。
func (h *SuccessorHandler) ForProduct(c *gin.Context) {
	var req ProductSuccessorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "无效的请求负载: "+err.Error())
		return
	}
	info, err := h.successors.SuccessorForProduct(c.Request.Context(), req.Code, pathNodeIDs(req.Selections))
	if err != nil {
		respondError(c, "SuccessorHandler.ForProduct", err)
		return
	}
	respondOK(c, info)
}

// pathNodeIDs 按层级从浅到深展开选择中的节点 ID。
func pathNodeIDs(selections []model.Selection) []uint {
	sorted := append([]model.Selection(nil), selections...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Level < sorted[j].Level })
	var ids []uint
	for _, s := range sorted {
		ids = append(ids, s.NodeIDs()...)
	}
	return ids
}
