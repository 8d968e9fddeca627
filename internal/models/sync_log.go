package models

import (
	"time"

	"gorm.io/datatypes"
)

// 同步日志状态常量
const (
	SyncStatusSuccess = "success"
	SyncStatusPartial = "partial" // 部分租户探测失败
	SyncStatusFailed  = "failed"  // 所有租户探测失败
)

// SyncLog 自动同步审计日志
// 每次编排器运行写一行；per_tenant_errors 保留逐租户失败明细，
// 运维靠它区分"确实不是供应商"和"当时有租户不可达"
type SyncLog struct {
	ID              uint           `gorm:"primarykey" json:"id"`
	PortalUserID    string         `gorm:"not null;size:64;index" json:"portal_user_id"`
	TaxID           string         `gorm:"not null;size:32;index" json:"tax_id"`
	MatchesFound    int            `json:"matches_found"`
	MappingsWritten int            `json:"mappings_written"`
	TenantsProbed   int            `json:"tenants_probed"`
	TenantsFailed   int            `json:"tenants_failed"`
	PerTenantErrors datatypes.JSON `json:"per_tenant_errors,omitempty"`
	Status          string         `gorm:"size:16;index" json:"status"`
	Source          string         `gorm:"size:16" json:"source"` // api / queue / scheduler
	StartTime       time.Time      `json:"start_time"`
	EndTime         time.Time      `json:"end_time"`
	Duration        int            `json:"duration"` // 秒
}

// TableName 指定表名
func (SyncLog) TableName() string {
	return "sync_logs"
}
