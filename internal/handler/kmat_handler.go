package handler

import (
	"encoding/json"
	"strconv"

	"github.com/gin-gonic/gin"

	"variantenbaum-go/internal/model"
	"variantenbaum-go/internal/service"
	"variantenbaum-go/pkg/log"
)

// KmatHandler 负责配置路径与外部物料号的映射。
type KmatHandler struct {
	kmat service.KmatService
}

// NewKmatHandler 创建一个新的 KmatHandler 实例。
func NewKmatHandler(kmat service.KmatService) *KmatHandler {
	return &KmatHandler{kmat: kmat}
}

// KmatRequest 是 POST /api/admin/kmat-references 的请求体。
type KmatRequest struct {
	model.KmatInput
	CreatedBy string `json:"created_by"`
}

// Upsert 新建时返回 201，更新已有路径时返回 200。
func (h *KmatHandler) Upsert(c *gin.Context) {
	var req KmatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "无效的请求负载: "+err.Error())
		return
	}
	ref, created, err := h.kmat.Upsert(c.Request.Context(), req.KmatInput, req.CreatedBy)
	if err != nil {
		respondError(c, "KmatHandler.Upsert", err)
		return
	}
	log.Infof("[KmatHandler] KMAT 引用已保存, family: %d, reference: %s, created: %t", ref.FamilyID, ref.Reference, created)
	if created {
		respondCreated(c, ref)
		return
	}
	respondOK(c, ref)
}

// Get 处理 GET /api/kmat-references?family_id=1&path_node_ids=[1,5,12]。
// 不带 path_node_ids 时列出该产品族的全部引用。
func (h *KmatHandler) Get(c *gin.Context) {
	familyID, err := strconv.ParseUint(c.Query("family_id"), 10, 64)
	if err != nil {
		respondBadRequest(c, "invalid family_id")
		return
	}
	raw := c.Query("path_node_ids")
	if raw == "" {
		refs, err := h.kmat.ListByFamily(c.Request.Context(), uint(familyID))
		if err != nil {
			respondError(c, "KmatHandler.Get", err)
			return
		}
		respondOK(c, refs)
		return
	}
	var path []uint
	if err := json.Unmarshal([]byte(raw), &path); err != nil {
		respondBadRequest(c, "path_node_ids must be a JSON array of ids")
		return
	}
	ref, err := h.kmat.Get(c.Request.Context(), uint(familyID), path)
	if err != nil {
		respondError(c, "KmatHandler.Get", err)
		return
	}
	respondOK(c, ref)
}

func (h *KmatHandler) Delete(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	if err := h.kmat.Delete(c.Request.Context(), id); err != nil {
		respondError(c, "KmatHandler.Delete", err)
		return
	}
	respondOK(c, gin.H{"id": id})
}
