package handlers

import (
	"errors"

	"spportal/internal/middleware"
	"spportal/internal/services"
	apperrors "spportal/pkg/errors"
	"spportal/pkg/pagination"
	"spportal/pkg/response"

	"github.com/gin-gonic/gin"
)

// MappingHandler 供应商映射处理器
type MappingHandler struct {
	mappingService *services.MappingService
}

func NewMappingHandler(mappingService *services.MappingService) *MappingHandler {
	return &MappingHandler{
		mappingService: mappingService,
	}
}

// GetMy 分页查询当前用户的激活映射
func (h *MappingHandler) GetMy(c *gin.Context) {
	portalUserID := middleware.SessionUserID(c)
	pageParams := pagination.ParsePageParams(c)

	mappings, total, err := h.mappingService.ListActivePage(c.Request.Context(), portalUserID, pageParams.Page, pageParams.PageSize)
	if err != nil {
		response.ServerError(c, "查询失败")
		return
	}

	pageInfo := pagination.NewPageInfo(pageParams.Page, pageParams.PageSize, total)
	response.SuccessWithPage(c, mappings, pageInfo)
}

// Deactivate 停用当前用户在指定租户下的映射
// 软禁用，历史行保留；后续同步命中会原地重新激活
func (h *MappingHandler) Deactivate(c *gin.Context) {
	portalUserID := middleware.SessionUserID(c)
	tenantCode := c.Param("tenant")

	err := h.mappingService.Deactivate(c.Request.Context(), portalUserID, tenantCode)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotMapped) {
			response.NotFound(c, "该租户下没有激活的映射")
			return
		}
		response.ServerError(c, "停用失败")
		return
	}

	response.SuccessWithMessage(c, "映射已停用", nil)
}
