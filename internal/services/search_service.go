package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"spportal/internal/registry"
	"spportal/internal/tenantdb"
	apperrors "spportal/pkg/errors"
	"spportal/pkg/logger"
)

// SupplierMatch 单租户搜索命中
// 不落库，由编排器立即消费；supplier_code 只在 tenant_code 所属租户内有意义
type SupplierMatch struct {
	TenantCode   string `json:"tenant_code"`
	SupplierCode string `json:"supplier_code"`
	SupplierName string `json:"supplier_name"`
	TaxID        string `json:"tax_id"`
	StatusFlag   string `json:"status_flag"`
}

// supplierLookupSQL 固定的参数化查询模板，逐租户连接执行一次
// 不做任何运行期SQL标识符拼接
const supplierLookupSQL = `SELECT supplier_code, name, tax_id, status FROM suppliers WHERE UPPER(TRIM(tax_id)) = ? ORDER BY supplier_code`

// supplierRow 供应商表查询结果行
type supplierRow struct {
	SupplierCode string `gorm:"column:supplier_code"`
	Name         string `gorm:"column:name"`
	TaxID        string `gorm:"column:tax_id"`
	Status       string `gorm:"column:status"`
}

// SearchService 身份搜索引擎
// 按税号对当前环境的所有租户ERP做一次扇出探测，
// 逐租户失败只记录不中断，返回所有成功探测的命中并集
type SearchService struct {
	pool        *tenantdb.Manager
	environment string
	timeout     time.Duration
	concurrency int
}

// NewSearchService 创建身份搜索引擎
func NewSearchService(pool *tenantdb.Manager, environment string, probeTimeout time.Duration, concurrency int) *SearchService {
	if probeTimeout <= 0 {
		probeTimeout = 10 * time.Second
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &SearchService{
		pool:        pool,
		environment: environment,
		timeout:     probeTimeout,
		concurrency: concurrency,
	}
}

// NormalizeTaxID 税号归一化（去空白、统一大写）
func NormalizeTaxID(taxID string) string {
	return strings.ToUpper(strings.TrimSpace(taxID))
}

// TenantCount 当前环境参与探测的租户数
func (s *SearchService) TenantCount() int {
	return len(s.pool.Registry().List(s.environment))
}

// SearchByTaxID 在所有租户中搜索税号
// 返回命中并集与逐租户错误列表；零命中是合法结果而不是错误；
// 结果顺序不保证，调用方不得依赖
func (s *SearchService) SearchByTaxID(ctx context.Context, taxID string) ([]SupplierMatch, []*apperrors.TenantError) {
	normalized := NormalizeTaxID(taxID)
	if normalized == "" {
		return nil, []*apperrors.TenantError{
			{TenantCode: "", Message: "税号不能为空"},
		}
	}

	descriptors := s.pool.Registry().List(s.environment)
	if len(descriptors) == 0 {
		return nil, nil
	}

	var (
		mu      sync.Mutex
		matches []SupplierMatch
		terrs   []*apperrors.TenantError
		wg      sync.WaitGroup
	)

	// 有界并发扇出：一个慢租户不能拖住整体搜索
	sem := make(chan struct{}, s.concurrency)

	for _, desc := range descriptors {
		wg.Add(1)
		sem <- struct{}{}
		go func(desc *registry.TenantDescriptor) {
			defer wg.Done()
			defer func() { <-sem }()

			match, err := s.probeTenant(ctx, desc, normalized)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				terrs = append(terrs, apperrors.NewTenantError(desc.Code, err))
				return
			}
			if match != nil {
				matches = append(matches, *match)
			}
		}(desc)
	}

	wg.Wait()
	return matches, terrs
}

// probeTenant 对单个租户执行一次参数化查询探测
// 每次探测携带独立超时；超时与查询错误同等对待
func (s *SearchService) probeTenant(ctx context.Context, desc *registry.TenantDescriptor, taxID string) (*SupplierMatch, error) {
	probeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	db, err := s.pool.Acquire(probeCtx, desc.Code)
	if err != nil {
		return nil, err
	}

	var rows []supplierRow
	if err := db.WithContext(probeCtx).Raw(supplierLookupSQL, taxID).Scan(&rows).Error; err != nil {
		// 查询失败视为连接不可信，驱逐后下次探测重建
		s.pool.Evict(desc.Code)
		return nil, fmt.Errorf("%w: %v", apperrors.ErrTenantUnreachable, err)
	}

	if len(rows) == 0 {
		return nil, nil
	}

	// 同租户内同税号出现多条记录属于ERP脏数据，取编码最小的一条并告警
	if len(rows) > 1 {
		logger.GetLogger().Warnf("租户 %s 中税号 %s 命中 %d 条供应商记录，取 %s",
			desc.Code, taxID, len(rows), rows[0].SupplierCode)
	}

	return &SupplierMatch{
		TenantCode:   desc.Code,
		SupplierCode: rows[0].SupplierCode,
		SupplierName: rows[0].Name,
		TaxID:        rows[0].TaxID,
		StatusFlag:   rows[0].Status,
	}, nil
}
