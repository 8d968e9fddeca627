package handlers

import (
	"errors"

	"spportal/internal/registry"
	"spportal/internal/tenantdb"
	apperrors "spportal/pkg/errors"
	"spportal/pkg/response"

	"github.com/gin-gonic/gin"
)

// TenantHandler 租户目录与诊断处理器
type TenantHandler struct {
	registry *registry.Registry
	pool     *tenantdb.Manager
}

func NewTenantHandler(reg *registry.Registry, pool *tenantdb.Manager) *TenantHandler {
	return &TenantHandler{
		registry: reg,
		pool:     pool,
	}
}

// tenantView 对外暴露的租户视图（不含连接参数）
type tenantView struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Environment string `json:"environment"`
}

// GetAll 返回租户目录，支持按环境过滤
func (h *TenantHandler) GetAll(c *gin.Context) {
	environment := c.Query("environment")
	if environment != "" && environment != registry.EnvProduction && environment != registry.EnvTest {
		response.BadRequest(c, "环境参数只能是 production 或 test")
		return
	}

	descriptors := h.registry.List(environment)
	views := make([]tenantView, 0, len(descriptors))
	for _, desc := range descriptors {
		views = append(views, tenantView{
			Code:        desc.Code,
			Name:        desc.Name,
			Environment: desc.Environment,
		})
	}

	response.Success(c, views)
}

// GetByCode 按编码查询租户
func (h *TenantHandler) GetByCode(c *gin.Context) {
	code := c.Param("code")

	desc, err := h.registry.Describe(code)
	if err != nil {
		if errors.Is(err, apperrors.ErrUnknownTenant) {
			response.NotFound(c, "租户不存在")
			return
		}
		response.ServerError(c, "查询失败")
		return
	}

	response.Success(c, tenantView{
		Code:        desc.Code,
		Name:        desc.Name,
		Environment: desc.Environment,
	})
}

// Health 租户连接可达性诊断
// ping失败时内部会驱逐旧连接并重建一次
func (h *TenantHandler) Health(c *gin.Context) {
	code := c.Param("code")

	if err := h.pool.Ping(c.Request.Context(), code); err != nil {
		if errors.Is(err, apperrors.ErrUnknownTenant) {
			response.NotFound(c, "租户不存在")
			return
		}
		response.Success(c, gin.H{
			"tenant_code": code,
			"reachable":   false,
			"error":       err.Error(),
		})
		return
	}

	response.Success(c, gin.H{
		"tenant_code": code,
		"reachable":   true,
	})
}
