package handler

import (
	"github.com/gin-gonic/gin"

	"variantenbaum-go/internal/service"
	"variantenbaum-go/pkg/log"
)

// DecodeHandler 负责类型码解码和代码搜索。
type DecodeHandler struct {
	decoder service.DecoderService
}

// NewDecodeHandler 创建一个新的 DecodeHandler 实例。
func NewDecodeHandler(decoder service.DecoderService) *DecodeHandler {
	return &DecodeHandler{decoder: decoder}
}

// Decode 处理 GET /api/nodes/decode/*code。未知的类型码返回 exists=false 而不是 404。
func (h *DecodeHandler) Decode(c *gin.Context) {
	code := wildcardParam(c, "code")
	log.Infof("[DecodeHandler] 解码类型码: %s", code)
	res, err := h.decoder.Decode(c.Request.Context(), code)
	if err != nil {
		respondError(c, "DecodeHandler.Decode", err)
		return
	}
	respondOK(c, res)
}

// SearchCode 处理 GET /api/nodes/search-code/*code。
func (h *DecodeHandler) SearchCode(c *gin.Context) {
	res, err := h.decoder.SearchCode(c.Request.Context(), wildcardParam(c, "code"))
	if err != nil {
		respondError(c, "DecodeHandler.SearchCode", err)
		return
	}
	respondOK(c, res)
}
