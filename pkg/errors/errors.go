package errors

import (
	"errors"
	"fmt"
)

// ========== 错误码常量定义 ==========

// CodeSuccess 成功码
const (
	CodeSuccess = 200
)

// HTTP层错误码 (400-599)
const (
	CodeInvalidParam = 400
	CodeUnauthorized = 401
	CodeForbidden    = 403
	CodeNotFound     = 404
	CodeServerError  = 500
	CodeUnavailable  = 503
)

// ========== 路由子系统错误分类 ==========

var (
	// ErrUnknownTenant 租户编码不在目录区间内（调用方编码错误，不重试）
	ErrUnknownTenant = errors.New("unknown tenant code")

	// ErrTenantUnreachable 租户数据库打开/握手重试后仍失败（瞬态故障，可重试）
	ErrTenantUnreachable = errors.New("tenant database unreachable")

	// ErrNotMapped 门户用户在该租户下没有激活映射（预期的控制流信号，不是系统故障）
	ErrNotMapped = errors.New("portal user not mapped to tenant")
)

// TenantError 单租户探测失败记录
// 扇出搜索中逐租户捕获，附加在结果上而不是直接抛出
type TenantError struct {
	TenantCode string `json:"tenant_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *TenantError) Error() string {
	return fmt.Sprintf("tenant %s: %s", e.TenantCode, e.Message)
}

func (e *TenantError) Unwrap() error {
	return e.Err
}

// NewTenantError 创建单租户错误记录
func NewTenantError(tenantCode string, err error) *TenantError {
	return &TenantError{
		TenantCode: tenantCode,
		Message:    err.Error(),
		Err:        err,
	}
}

// PartialDiscoveryError 部分租户探测失败
// 同步流程中向上层暴露而不吞掉，便于运维区分"确实不是供应商"和"部分租户当时不可达"
type PartialDiscoveryError struct {
	Errors []*TenantError
	Total  int // 本次探测的租户总数
}

func (e *PartialDiscoveryError) Error() string {
	return fmt.Sprintf("discovery failed on %d of %d tenants", len(e.Errors), e.Total)
}

// AllFailed 是否所有租户都探测失败
func (e *PartialDiscoveryError) AllFailed() bool {
	return e.Total > 0 && len(e.Errors) == e.Total
}
