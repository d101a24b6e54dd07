package handler

import (
	"github.com/gin-gonic/gin"

	"variantenbaum-go/internal/service"
)

// Services 汇总路由所需的全部业务服务。
type Services struct {
	Tree        service.TreeService
	Constraints service.ConstraintService
	Resolver    service.ResolverService
	Successors  service.SuccessorService
	Decoder     service.DecoderService
	Bulk        service.BulkService
	Kmat        service.KmatService
}

// RegisterRoutes 在 /api 下注册全部路由。/api/admin 只是一个路由分组，认证由前置网关负责。
func RegisterRoutes(r *gin.Engine, s Services) {
	nodeHandler := NewNodeHandler(s.Tree)
	optionHandler := NewOptionHandler(s.Resolver)
	constraintHandler := NewConstraintHandler(s.Constraints)
	decodeHandler := NewDecodeHandler(s.Decoder)
	bulkHandler := NewBulkHandler(s.Bulk)
	successorHandler := NewSuccessorHandler(s.Successors)
	kmatHandler := NewKmatHandler(s.Kmat)

	api := r.Group("/api")
	{
		api.GET("/health", nodeHandler.Health)

		api.POST("/options", optionHandler.Resolve)
		api.POST("/options/search", optionHandler.Search)
		api.POST("/derived-group-name", optionHandler.DerivedGroupName)

		constraints := api.Group("/constraints")
		{
			constraints.POST("/validate", constraintHandler.Validate)
			constraints.GET("/level/:level", constraintHandler.ListByLevel)
			constraints.POST("", constraintHandler.Create)
			constraints.PUT("/:id", constraintHandler.Update)
			constraints.DELETE("/:id", constraintHandler.Delete)
		}

		nodes := api.Group("/nodes")
		{
			nodes.POST("", nodeHandler.Create)
			nodes.GET("/by-id/:id", nodeHandler.Get)
			nodes.GET("/by-id/:id/children", nodeHandler.Children)
			nodes.POST("/by-path/find-id", nodeHandler.FindByPath)
			nodes.GET("/suggest-codes", nodeHandler.SuggestCodes)
			nodes.GET("/check-code-exists", nodeHandler.CheckCodeExists)
			nodes.GET("/decode/*code", decodeHandler.Decode)
			nodes.GET("/search-code/*code", decodeHandler.SearchCode)
			nodes.POST("/bulk-filter", bulkHandler.Filter)
			nodes.PUT("/bulk-update", bulkHandler.Update)
		}

		api.GET("/node/:id/successor", successorHandler.ForNode)
		api.POST("/product/successor", successorHandler.ForProduct)

		api.GET("/product-families", nodeHandler.Families)
		api.GET("/product-families/:code/groups", nodeHandler.FamilyGroups)
		api.GET("/product-families/:code/groups/:group/max-level", nodeHandler.GroupMaxLevel)
		api.GET("/code-hints/:node_id/:partial_code", nodeHandler.CodeHints)

		api.GET("/kmat-references", kmatHandler.Get)

		admin := api.Group("/admin")
		{
			admin.DELETE("/nodes/:id", nodeHandler.Delete)

			admin.POST("/successors/bulk", successorHandler.CreateBulk)
			admin.POST("/successors", successorHandler.Create)
			admin.GET("/successors", successorHandler.List)
			admin.PUT("/successors/:id", successorHandler.Update)
			admin.DELETE("/successors/:id", successorHandler.Delete)

			admin.POST("/kmat-references", kmatHandler.Upsert)
			admin.DELETE("/kmat-references/:id", kmatHandler.Delete)
		}
	}
}
