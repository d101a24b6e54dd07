// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"variantenbaum-go/internal/apperr"
	"variantenbaum-go/pkg/log"
)

// respondOK 以统一的响应结构返回成功结果。
func respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": data})
}

func respondCreated(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, gin.H{"code": http.StatusCreated, "message": "success", "data": data})
}

// respondBadRequest 用于请求体或参数无法解析的情况。
func respondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": message, "data": nil})
}

// statusOf 把错误分类映射为 HTTP 状态码。
func statusOf(err error) int {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrAmbiguous), errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrConstraintViolation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError 记录日志并写出错误响应。歧义和约束冲突会在 data 中附带详情。
func respondError(c *gin.Context, op string, err error) {
	status := statusOf(err)
	var data interface{}

	var amb *apperr.AmbiguousError
	var cv *apperr.ConstraintViolationError
	switch {
	case errors.As(err, &amb):
		data = gin.H{"candidates": amb.Candidates}
	case errors.As(err, &cv):
		data = gin.H{"code": cv.Code, "level": cv.Level, "constraint_ids": cv.ConstraintIDs}
	}

	message := err.Error()
	if status == http.StatusInternalServerError {
		log.Errorf("[%s] 内部错误: %v", op, err)
		message = "internal server error"
	} else {
		log.Warnf("[%s] 请求失败, status: %d, error: %v", op, status, err)
	}
	c.JSON(status, gin.H{"code": status, "message": message, "data": data})
}

// uintParam 解析路径参数中的 ID，失败时已写出 400 响应。
func uintParam(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		respondBadRequest(c, "invalid "+name)
		return 0, false
	}
	return uint(v), true
}
