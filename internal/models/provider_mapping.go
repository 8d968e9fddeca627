package models

import (
	"time"
)

// ProviderMapping 门户用户与租户供应商的映射
// 同一 (portal_user_id, tenant_code) 至多一行，禁用只置 active=false，
// 历史不做物理删除；supplier_code 只在所属租户内有意义
type ProviderMapping struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	PortalUserID string    `gorm:"not null;size:64;uniqueIndex:idx_user_tenant" json:"portal_user_id"`
	TenantCode   string    `gorm:"not null;size:8;uniqueIndex:idx_user_tenant" json:"tenant_code"`
	SupplierCode string    `gorm:"not null;size:32" json:"supplier_code"` // 租户ERP内部供应商编码
	Active       bool      `gorm:"not null;default:true;index" json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName 指定表名
func (ProviderMapping) TableName() string {
	return "provider_mappings"
}
