package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"spportal/internal/models"
	apperrors "spportal/pkg/errors"
	"spportal/pkg/logger"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// MappingService 映射存储服务
// provider_mappings 表的唯一写入口；所有写路径都走 Upsert/Deactivate，
// 配合 (portal_user_id, tenant_code) 唯一索引保证同一键至多一行激活映射
type MappingService struct {
	db       *gorm.DB
	cache    *redis.Client // 可为nil（测试或未配置Redis时）
	cacheTTL time.Duration
	prefix   string
}

// NewMappingService 创建映射存储服务
func NewMappingService(db *gorm.DB) *MappingService {
	return &MappingService{db: db}
}

// WithCache 启用解析热路径的Redis缓存
func (s *MappingService) WithCache(client *redis.Client, prefix string, ttl time.Duration) *MappingService {
	s.cache = client
	s.prefix = prefix
	if ttl <= 0 {
		ttl = time.Minute
	}
	s.cacheTTL = ttl
	return s
}

// FindActive 查询激活映射，不存在时返回 (nil, nil)
func (s *MappingService) FindActive(ctx context.Context, portalUserID, tenantCode string) (*models.ProviderMapping, error) {
	var mapping models.ProviderMapping
	err := s.db.WithContext(ctx).
		Where("portal_user_id = ? AND tenant_code = ? AND active = ?", portalUserID, tenantCode, true).
		First(&mapping).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &mapping, nil
}

// ListActive 查询用户的全部激活映射
func (s *MappingService) ListActive(ctx context.Context, portalUserID string) ([]*models.ProviderMapping, error) {
	var mappings []*models.ProviderMapping
	err := s.db.WithContext(ctx).
		Where("portal_user_id = ? AND active = ?", portalUserID, true).
		Order("tenant_code ASC").
		Find(&mappings).Error
	return mappings, err
}

// ListActivePage 分页查询用户的激活映射
func (s *MappingService) ListActivePage(ctx context.Context, portalUserID string, page, pageSize int) ([]*models.ProviderMapping, int64, error) {
	var mappings []*models.ProviderMapping
	var total int64

	query := s.db.WithContext(ctx).Model(&models.ProviderMapping{}).
		Where("portal_user_id = ? AND active = ?", portalUserID, true)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Order("tenant_code ASC").Offset(offset).Limit(pageSize).Find(&mappings).Error
	if err != nil {
		return nil, 0, err
	}

	return mappings, total, nil
}

// Upsert 写入映射（幂等）
// 同键激活行且编码一致时原样返回；存在停用行时原地重新激活（不产生新行）；
// 否则插入新的激活行。并发竞争撞唯一索引时重试一次
func (s *MappingService) Upsert(ctx context.Context, portalUserID, tenantCode, supplierCode string) (*models.ProviderMapping, error) {
	var result *models.ProviderMapping
	var lastErr error

	for attempt := 0; attempt < 2; attempt++ {
		mapping, err := s.upsertOnce(ctx, portalUserID, tenantCode, supplierCode)
		if err == nil {
			result = mapping
			lastErr = nil
			break
		}
		lastErr = err
		if attempt == 0 && isDuplicateKeyError(err) {
			// 并发同步撞上唯一索引，重读后复用已存在的行
			continue
		}
		break
	}

	if lastErr != nil {
		return nil, lastErr
	}

	s.cacheDel(ctx, portalUserID, tenantCode)
	return result, nil
}

func (s *MappingService) upsertOnce(ctx context.Context, portalUserID, tenantCode, supplierCode string) (*models.ProviderMapping, error) {
	var mapping models.ProviderMapping

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("portal_user_id = ? AND tenant_code = ?", portalUserID, tenantCode).
			First(&mapping).Error
		if err == nil {
			changed := false
			if !mapping.Active {
				mapping.Active = true
				changed = true
			}
			if mapping.SupplierCode != supplierCode {
				// 租户ERP侧的供应商编码变了，跟随更新
				mapping.SupplierCode = supplierCode
				changed = true
			}
			if changed {
				return tx.Save(&mapping).Error
			}
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		mapping = models.ProviderMapping{
			PortalUserID: portalUserID,
			TenantCode:   tenantCode,
			SupplierCode: supplierCode,
			Active:       true,
		}
		return tx.Create(&mapping).Error
	})

	if err != nil {
		return nil, err
	}
	return &mapping, nil
}

// Deactivate 停用映射（软禁用，保留审计历史）
// 没有激活映射时返回 ErrNotMapped
func (s *MappingService) Deactivate(ctx context.Context, portalUserID, tenantCode string) error {
	result := s.db.WithContext(ctx).Model(&models.ProviderMapping{}).
		Where("portal_user_id = ? AND tenant_code = ? AND active = ?", portalUserID, tenantCode, true).
		Update("active", false)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: user=%s tenant=%s", apperrors.ErrNotMapped, portalUserID, tenantCode)
	}

	s.cacheDel(ctx, portalUserID, tenantCode)
	return nil
}

// ActiveSupplierCode 解析热路径：查询激活映射的供应商编码
// 优先读缓存，未命中回源门户库并回填；不存在时返回 ErrNotMapped
func (s *MappingService) ActiveSupplierCode(ctx context.Context, portalUserID, tenantCode string) (string, error) {
	if code, ok := s.cacheGet(ctx, portalUserID, tenantCode); ok {
		return code, nil
	}

	mapping, err := s.FindActive(ctx, portalUserID, tenantCode)
	if err != nil {
		return "", err
	}
	if mapping == nil {
		return "", fmt.Errorf("%w: user=%s tenant=%s", apperrors.ErrNotMapped, portalUserID, tenantCode)
	}

	s.cacheSet(ctx, portalUserID, tenantCode, mapping.SupplierCode)
	return mapping.SupplierCode, nil
}

// ========== 缓存辅助方法 ==========

func (s *MappingService) cacheKey(portalUserID, tenantCode string) string {
	return fmt.Sprintf("%s:resolve:%s:%s", s.prefix, portalUserID, tenantCode)
}

func (s *MappingService) cacheGet(ctx context.Context, portalUserID, tenantCode string) (string, bool) {
	if s.cache == nil {
		return "", false
	}
	code, err := s.cache.Get(ctx, s.cacheKey(portalUserID, tenantCode)).Result()
	if err != nil {
		return "", false
	}
	return code, true
}

func (s *MappingService) cacheSet(ctx context.Context, portalUserID, tenantCode, supplierCode string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, s.cacheKey(portalUserID, tenantCode), supplierCode, s.cacheTTL).Err(); err != nil {
		logger.GetLogger().WithError(err).Warn("写入解析缓存失败")
	}
}

func (s *MappingService) cacheDel(ctx context.Context, portalUserID, tenantCode string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, s.cacheKey(portalUserID, tenantCode)).Err(); err != nil {
		logger.GetLogger().WithError(err).Warn("清除解析缓存失败")
	}
}

// isDuplicateKeyError 唯一索引冲突判定（PostgreSQL与SQLite两种方言）
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint")
}
