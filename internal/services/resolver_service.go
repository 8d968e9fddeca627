package services

import (
	"context"
	"fmt"

	"spportal/internal/tenantdb"
	apperrors "spportal/pkg/errors"

	"gorm.io/gorm"
)

// SessionContext 解析结果：已就绪的租户连接 + 该租户内部供应商编码
// 下游业务模块（订单、发票、单据）凭它发起租户内查询
type SessionContext struct {
	TenantCode   string   `json:"tenant_code"`
	SupplierCode string   `json:"supplier_code"`
	Conn         *gorm.DB `json:"-"`
}

// supplierProfileSQL 供应商自身档案查询（固定参数化模板）
const supplierProfileSQL = `SELECT supplier_code, name, tax_id, status FROM suppliers WHERE supplier_code = ?`

// SupplierProfile 租户ERP中的供应商档案
type SupplierProfile struct {
	SupplierCode string `gorm:"column:supplier_code" json:"supplier_code"`
	Name         string `gorm:"column:name" json:"name"`
	TaxID        string `gorm:"column:tax_id" json:"tax_id"`
	Status       string `gorm:"column:status" json:"status"`
}

// ResolverService 会话上下文解析器（热路径）
// 只做两步O(1)查找：映射行 + 池中连接；绝不触发发现流程——
// 发现与解析刻意分离，常规请求路径不随租户数变化
type ResolverService struct {
	pool    *tenantdb.Manager
	mapping *MappingService
}

// NewResolverService 创建会话上下文解析器
func NewResolverService(pool *tenantdb.Manager, mapping *MappingService) *ResolverService {
	return &ResolverService{
		pool:    pool,
		mapping: mapping,
	}
}

// Resolve 解析门户用户在指定租户下的会话上下文
// 无激活映射返回 ErrNotMapped（调用方应引导用户先触发同步，而不是在热路径里内联发现）
func (r *ResolverService) Resolve(ctx context.Context, portalUserID, tenantCode string) (*SessionContext, error) {
	supplierCode, err := r.mapping.ActiveSupplierCode(ctx, portalUserID, tenantCode)
	if err != nil {
		return nil, err
	}

	conn, err := r.pool.Acquire(ctx, tenantCode)
	if err != nil {
		return nil, err
	}

	return &SessionContext{
		TenantCode:   tenantCode,
		SupplierCode: supplierCode,
		Conn:         conn,
	}, nil
}

// FetchProfile 查询供应商在该租户ERP中的自身档案
// 传输层错误时驱逐连接并重试一次（池的evict+重建路径）
func (r *ResolverService) FetchProfile(ctx context.Context, sess *SessionContext) (*SupplierProfile, error) {
	profile, err := r.fetchProfileOnce(ctx, sess.Conn, sess.SupplierCode)
	if err == nil {
		return profile, nil
	}

	// 连接可能已损坏：驱逐重建后再试一次
	r.pool.Evict(sess.TenantCode)
	conn, acquireErr := r.pool.Acquire(ctx, sess.TenantCode)
	if acquireErr != nil {
		return nil, acquireErr
	}
	sess.Conn = conn

	return r.fetchProfileOnce(ctx, conn, sess.SupplierCode)
}

func (r *ResolverService) fetchProfileOnce(ctx context.Context, conn *gorm.DB, supplierCode string) (*SupplierProfile, error) {
	var rows []SupplierProfile
	if err := conn.WithContext(ctx).Raw(supplierProfileSQL, supplierCode).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrTenantUnreachable, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("租户中不存在供应商 %s", supplierCode)
	}
	return &rows[0], nil
}
