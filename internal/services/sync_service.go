package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"spportal/internal/models"
	apperrors "spportal/pkg/errors"
	"spportal/pkg/logger"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SupplierSearcher 身份搜索引擎接口（便于编排器单测注入假引擎）
type SupplierSearcher interface {
	SearchByTaxID(ctx context.Context, taxID string) ([]SupplierMatch, []*apperrors.TenantError)
	TenantCount() int
}

// SyncResult 一次自动同步的结果
// PerTenantErrors 同时收集探测失败和映射写入失败（审计用），
// ProbeFailures 只计探测失败，是"全部租户不可达"判定的唯一依据
type SyncResult struct {
	MatchesFound    int                      `json:"matches_found"`
	MappingsWritten int                      `json:"mappings_written"`
	TenantsProbed   int                      `json:"tenants_probed"`
	ProbeFailures   int                      `json:"probe_failures"`
	PerTenantErrors []*apperrors.TenantError `json:"per_tenant_errors,omitempty"`
}

// AllTenantsFailed 是否所有租户探测都失败了
// 此时 MatchesFound=0 只代表"暂时无法判定"，不是"确定不是供应商"。
// 门户库写入失败不参与判定，探测成功过的租户数据并没有不可达
func (r *SyncResult) AllTenantsFailed() bool {
	return r.TenantsProbed > 0 && r.ProbeFailures >= r.TenantsProbed
}

// SyncService 自动同步编排器
// 对一个门户用户执行：全租户税号搜索 -> 逐命中Upsert映射 -> 写审计日志。
// 整个操作幂等，任何时刻重跑都安全；单租户故障只降级不中断
type SyncService struct {
	db      *gorm.DB
	search  SupplierSearcher
	mapping *MappingService
}

// NewSyncService 创建自动同步编排器
func NewSyncService(db *gorm.DB, search SupplierSearcher, mapping *MappingService) *SyncService {
	return &SyncService{
		db:      db,
		search:  search,
		mapping: mapping,
	}
}

// Sync 为门户用户执行一次发现同步
// 永远不因单个租户故障而整体失败；所有租户都失败时返回
// MatchesFound=0 且 PerTenantErrors 填满，调用方应视为"暂时不可用"
func (s *SyncService) Sync(ctx context.Context, portalUserID, taxID, source string) (*SyncResult, error) {
	log := logger.GetLogger()
	startTime := time.Now()

	matches, terrs := s.search.SearchByTaxID(ctx, taxID)

	result := &SyncResult{
		MatchesFound:    len(matches),
		TenantsProbed:   s.search.TenantCount(),
		ProbeFailures:   len(terrs),
		PerTenantErrors: terrs,
	}

	// 逐命中写映射；同租户多命中时先到先得（搜索层已按编码取最小，保证确定性）
	seen := make(map[string]bool, len(matches))
	for _, match := range matches {
		if seen[match.TenantCode] {
			continue
		}
		seen[match.TenantCode] = true

		if _, err := s.mapping.Upsert(ctx, portalUserID, match.TenantCode, match.SupplierCode); err != nil {
			log.WithError(err).Errorf("写入用户 %s 在租户 %s 的映射失败", portalUserID, match.TenantCode)
			// 审计里与探测失败区分开：这是门户库侧的故障
			result.PerTenantErrors = append(result.PerTenantErrors,
				apperrors.NewTenantError(match.TenantCode, fmt.Errorf("写入映射失败: %w", err)))
			continue
		}
		result.MappingsWritten++
	}

	s.writeSyncLog(portalUserID, taxID, source, startTime, result)

	if result.AllTenantsFailed() {
		log.Warnf("用户 %s 同步时所有 %d 个租户探测失败", portalUserID, result.TenantsProbed)
	} else if len(result.PerTenantErrors) > 0 {
		pderr := &apperrors.PartialDiscoveryError{
			Errors: result.PerTenantErrors,
			Total:  result.TenantsProbed,
		}
		log.Warnf("用户 %s 同步部分降级: %v (写入 %d)", portalUserID, pderr, result.MappingsWritten)
	} else {
		log.Infof("用户 %s 同步完成: 命中 %d, 写入 %d, 失败租户 %d",
			portalUserID, result.MatchesFound, result.MappingsWritten, len(result.PerTenantErrors))
	}

	return result, nil
}

// writeSyncLog 写同步审计日志（失败只告警，不影响同步结果）
func (s *SyncService) writeSyncLog(portalUserID, taxID, source string, startTime time.Time, result *SyncResult) {
	endTime := time.Now()

	status := models.SyncStatusSuccess
	if result.AllTenantsFailed() {
		status = models.SyncStatusFailed
	} else if len(result.PerTenantErrors) > 0 {
		status = models.SyncStatusPartial
	}

	var errJSON datatypes.JSON
	if len(result.PerTenantErrors) > 0 {
		if data, err := json.Marshal(result.PerTenantErrors); err == nil {
			errJSON = datatypes.JSON(data)
		}
	}

	syncLog := &models.SyncLog{
		PortalUserID:    portalUserID,
		TaxID:           NormalizeTaxID(taxID),
		MatchesFound:    result.MatchesFound,
		MappingsWritten: result.MappingsWritten,
		TenantsProbed:   result.TenantsProbed,
		TenantsFailed:   result.ProbeFailures,
		PerTenantErrors: errJSON,
		Status:          status,
		Source:          source,
		StartTime:       startTime,
		EndTime:         endTime,
		Duration:        int(endTime.Sub(startTime).Seconds()),
	}

	if err := s.db.Create(syncLog).Error; err != nil {
		logger.GetLogger().WithError(err).Error("保存同步日志失败")
	}
}

// GetLogsPage 分页查询同步审计日志（管理诊断接口用）
func (s *SyncService) GetLogsPage(ctx context.Context, portalUserID, status string, page, pageSize int) ([]*models.SyncLog, int64, error) {
	var logs []*models.SyncLog
	var total int64

	query := s.db.WithContext(ctx).Model(&models.SyncLog{})
	if portalUserID != "" {
		query = query.Where("portal_user_id = ?", portalUserID)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Order("start_time DESC").Offset(offset).Limit(pageSize).Find(&logs).Error
	if err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}

// RecentSyncTargets 复核窗口内出现过的 (用户, 税号) 去重列表（定时复核用）
func (s *SyncService) RecentSyncTargets(ctx context.Context, window time.Duration) ([]SyncTarget, error) {
	var targets []SyncTarget
	err := s.db.WithContext(ctx).Model(&models.SyncLog{}).
		Select("DISTINCT portal_user_id, tax_id").
		Where("start_time > ?", time.Now().Add(-window)).
		Scan(&targets).Error
	return targets, err
}

// SyncTarget 复核目标
type SyncTarget struct {
	PortalUserID string `gorm:"column:portal_user_id"`
	TaxID        string `gorm:"column:tax_id"`
}
