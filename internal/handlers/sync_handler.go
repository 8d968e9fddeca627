package handlers

import (
	"spportal/internal/middleware"
	"spportal/internal/services"
	"spportal/pkg/pagination"
	"spportal/pkg/queue"
	"spportal/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SyncRequest 手动触发同步的请求体
// 不带税号时使用会话令牌中的税号
type SyncRequest struct {
	TaxID string `json:"tax_id" binding:"omitempty,taxid"`
}

// SyncHandler 自动同步处理器
type SyncHandler struct {
	syncService *services.SyncService
	queue       *queue.RedisQueue
}

func NewSyncHandler(syncService *services.SyncService, q *queue.RedisQueue) *SyncHandler {
	return &SyncHandler{
		syncService: syncService,
		queue:       q,
	}
}

// resolveTaxID 从请求体或会话令牌确定本次同步的税号
func (h *SyncHandler) resolveTaxID(c *gin.Context) (string, bool) {
	var req SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		response.BadRequest(c, "参数错误")
		return "", false
	}

	taxID := req.TaxID
	if taxID == "" {
		taxID = middleware.SessionTaxID(c)
	}
	if taxID == "" {
		response.BadRequest(c, "税号不能为空")
		return "", false
	}
	return taxID, true
}

// SyncNow 同步执行一次发现同步
func (h *SyncHandler) SyncNow(c *gin.Context) {
	portalUserID := middleware.SessionUserID(c)
	taxID, ok := h.resolveTaxID(c)
	if !ok {
		return
	}

	result, err := h.syncService.Sync(c.Request.Context(), portalUserID, taxID, "api")
	if err != nil {
		response.ServerError(c, "同步失败")
		return
	}

	// 全部租户探测失败时不能当作"确定无供应商记录"
	if result.AllTenantsFailed() {
		response.Unavailable(c, "服务暂时不可用，请稍后重试")
		return
	}

	response.Success(c, result)
}

// SyncAsync 将同步任务投入队列，立即返回任务ID
func (h *SyncHandler) SyncAsync(c *gin.Context) {
	portalUserID := middleware.SessionUserID(c)
	taxID, ok := h.resolveTaxID(c)
	if !ok {
		return
	}

	jobID := uuid.New().String()
	if err := h.queue.Enqueue(jobID, portalUserID, taxID, "api"); err != nil {
		response.ServerError(c, "任务入队失败")
		return
	}

	response.Success(c, gin.H{
		"job_id": jobID,
		"status": "queued",
	})
}

// jobOwnedBy 任务是否属于该会话用户（管理员可看全部）
// 越权访问与任务不存在对外不作区分
func jobOwnedBy(status map[string]string, portalUserID string, isAdmin bool) bool {
	if isAdmin {
		return true
	}
	return status["portal_user_id"] == portalUserID
}

// JobStatus 查询异步同步任务状态
func (h *SyncHandler) JobStatus(c *gin.Context) {
	jobID := c.Param("id")

	status, err := h.queue.GetJobStatus(jobID)
	if err != nil {
		response.NotFound(c, "任务不存在或已过期")
		return
	}

	if !jobOwnedBy(status, middleware.SessionUserID(c), middleware.SessionIsAdmin(c)) {
		response.NotFound(c, "任务不存在或已过期")
		return
	}

	response.Success(c, status)
}

// GetLogs 分页查询同步审计日志（管理接口）
func (h *SyncHandler) GetLogs(c *gin.Context) {
	pageParams := pagination.ParsePageParams(c)

	portalUserID := c.Query("portal_user_id")
	status := c.Query("status")

	logs, total, err := h.syncService.GetLogsPage(c.Request.Context(), portalUserID, status, pageParams.Page, pageParams.PageSize)
	if err != nil {
		response.ServerError(c, "查询失败")
		return
	}

	pageInfo := pagination.NewPageInfo(pageParams.Page, pageParams.PageSize, total)
	response.SuccessWithPage(c, logs, pageInfo)
}
