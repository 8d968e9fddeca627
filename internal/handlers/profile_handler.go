package handlers

import (
	"errors"

	"spportal/internal/middleware"
	"spportal/internal/services"
	apperrors "spportal/pkg/errors"
	"spportal/pkg/response"

	"github.com/gin-gonic/gin"
)

// ProfileHandler 供应商档案处理器
// 会话上下文解析 + 租户库档案透传的组合示例路径
type ProfileHandler struct {
	resolverService *services.ResolverService
}

func NewProfileHandler(resolverService *services.ResolverService) *ProfileHandler {
	return &ProfileHandler{
		resolverService: resolverService,
	}
}

// GetProfile 查询当前用户在指定租户ERP中的供应商档案
func (h *ProfileHandler) GetProfile(c *gin.Context) {
	portalUserID := middleware.SessionUserID(c)
	tenantCode := c.Query("tenant")
	if tenantCode == "" {
		response.BadRequest(c, "租户编码不能为空")
		return
	}

	sess, err := h.resolverService.Resolve(c.Request.Context(), portalUserID, tenantCode)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrNotMapped):
			response.NotFound(c, "您的账号尚未关联该公司，请先执行同步")
		case errors.Is(err, apperrors.ErrUnknownTenant):
			response.BadRequest(c, "租户不存在")
		case errors.Is(err, apperrors.ErrTenantUnreachable):
			response.Unavailable(c, "租户系统暂时不可用，请稍后重试")
		default:
			response.ServerError(c, "解析会话失败")
		}
		return
	}

	profile, err := h.resolverService.FetchProfile(c.Request.Context(), sess)
	if err != nil {
		if errors.Is(err, apperrors.ErrTenantUnreachable) {
			response.Unavailable(c, "租户系统暂时不可用，请稍后重试")
			return
		}
		response.ServerError(c, "查询档案失败")
		return
	}

	response.Success(c, gin.H{
		"tenant_code":   sess.TenantCode,
		"supplier_code": sess.SupplierCode,
		"profile":       profile,
	})
}
