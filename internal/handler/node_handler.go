package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"variantenbaum-go/internal/model"
	"variantenbaum-go/internal/service"
	"variantenbaum-go/pkg/log"
)

// NodeHandler 负责变体树结构相关的 API 请求。
type NodeHandler struct {
	tree service.TreeService
}

// NewNodeHandler 创建一个新的 NodeHandler 实例。
func NewNodeHandler(tree service.TreeService) *NodeHandler {
	return &NodeHandler{tree: tree}
}

// Create 处理 POST /api/nodes。父节点可以用 parent_id 指定，
// 也可以用 family_code + parent_level + parent_code 按代码查找。
func (h *NodeHandler) Create(c *gin.Context) {
	var req model.NodeInput
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "无效的请求负载: "+err.Error())
		return
	}
	node, err := h.tree.Insert(c.Request.Context(), req)
	if err != nil {
		respondError(c, "NodeHandler.Create", err)
		return
	}
	respondCreated(c, node)
}

// Delete 处理 DELETE /api/admin/nodes/:id，删除节点及其整个子树。
func (h *NodeHandler) Delete(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	deleted, err := h.tree.Delete(c.Request.Context(), id)
	if err != nil {
		respondError(c, "NodeHandler.Delete", err)
		return
	}
	log.Infof("[NodeHandler] 已删除节点 %d 及其子树, 共 %d 个节点", id, deleted)
	respondOK(c, gin.H{"id": id, "deleted_count": deleted})
}

func (h *NodeHandler) Get(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	node, err := h.tree.GetNode(c.Request.Context(), id)
	if err != nil {
		respondError(c, "NodeHandler.Get", err)
		return
	}
	respondOK(c, node)
}

// Children 处理 GET /api/nodes/by-id/:id/children。
func (h *NodeHandler) Children(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		return
	}
	kids, err := h.tree.Children(c.Request.Context(), id)
	if err != nil {
		respondError(c, "NodeHandler.Children", err)
		return
	}
	respondOK(c, kids)
}

func (h *NodeHandler) Families(c *gin.Context) {
	fams, err := h.tree.Families(c.Request.Context())
	if err != nil {
		respondError(c, "NodeHandler.Families", err)
		return
	}
	respondOK(c, fams)
}

func (h *NodeHandler) FamilyGroups(c *gin.Context) {
	groups, err := h.tree.FamilyGroups(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondError(c, "NodeHandler.FamilyGroups", err)
		return
	}
	respondOK(c, groups)
}

// CodeHints 处理 GET /api/code-hints/:node_id/:partial_code。
func (h *NodeHandler) CodeHints(c *gin.Context) {
	id, ok := uintParam(c, "node_id")
	if !ok {
		return
	}
	hints, err := h.tree.CodeHints(c.Request.Context(), id, c.Param("partial_code"))
	if err != nil {
		respondError(c, "NodeHandler.CodeHints", err)
		return
	}
	respondOK(c, hints)
}

type suggestCodesQuery struct {
	Partial    string `form:"partial"`
	FamilyCode string `form:"family_code" binding:"required"`
	Level      *int   `form:"level" binding:"required"`
	Limit      int    `form:"limit"`
}

// SuggestCodes 处理 GET /api/nodes/suggest-codes，用于代码输入框的自动补全。
func (h *NodeHandler) SuggestCodes(c *gin.Context) {
	var q suggestCodesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondBadRequest(c, "无效的查询参数: "+err.Error())
		return
	}
	codes, err := h.tree.SuggestCodes(c.Request.Context(), q.FamilyCode, *q.Level, q.Partial, q.Limit)
	if err != nil {
		respondError(c, "NodeHandler.SuggestCodes", err)
		return
	}
	respondOK(c, gin.H{"suggestions": codes})
}

type codeExistsQuery struct {
	Code       string `form:"code" binding:"required"`
	FamilyCode string `form:"family_code"`
	Level      *int   `form:"level" binding:"required"`
	ParentID   *uint  `form:"parent_id"`
}

// CheckCodeExists 处理 GET /api/nodes/check-code-exists。
func (h *NodeHandler) CheckCodeExists(c *gin.Context) {
	var q codeExistsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondBadRequest(c, "无效的查询参数: "+err.Error())
		return
	}
	exists, err := h.tree.CodeExists(c.Request.Context(), q.FamilyCode, *q.Level, q.Code, q.ParentID)
	if err != nil {
		respondError(c, "NodeHandler.CheckCodeExists", err)
		return
	}
	respondOK(c, gin.H{"exists": exists})
}

// FindByPath 处理 POST /api/nodes/by-path/find-id。
func (h *NodeHandler) FindByPath(c *gin.Context) {
	var req model.PathLookup
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "无效的请求负载: "+err.Error())
		return
	}
	res, err := h.tree.FindByPath(c.Request.Context(), req)
	if err != nil {
		respondError(c, "NodeHandler.FindByPath", err)
		return
	}
	respondOK(c, res)
}

func (h *NodeHandler) GroupMaxLevel(c *gin.Context) {
	level, err := h.tree.GroupMaxLevel(c.Request.Context(), c.Param("code"), c.Param("group"))
	if err != nil {
		respondError(c, "NodeHandler.GroupMaxLevel", err)
		return
	}
	respondOK(c, gin.H{"max_level": level})
}

// Health 返回数据库连通性和节点、闭包行数。数据库不可用时返回 503。
func (h *NodeHandler) Health(c *gin.Context) {
	stats, err := h.tree.Stats(c.Request.Context())
	if err != nil {
		log.Errorf("[NodeHandler] 健康检查失败: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":    http.StatusServiceUnavailable,
			"message": "database unavailable",
			"data":    gin.H{"status": "unhealthy", "database": "disconnected"},
		})
		return
	}
	respondOK(c, gin.H{
		"status":      "healthy",
		"database":    "connected",
		"total_nodes": stats.TotalNodes,
		"total_paths": stats.TotalPaths,
	})
}

// wildcardParam 去掉 gin 通配参数开头的 '/'。
func wildcardParam(c *gin.Context, name string) string {
	return strings.TrimPrefix(c.Param(name), "/")
}
