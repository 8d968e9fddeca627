package services

import (
	"errors"
	"sort"
	"testing"
	"time"

	"spportal/internal/models"
	"spportal/internal/registry"
	"spportal/internal/tenantdb"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// supplierSeed 租户ERP供应商表的测试数据
type supplierSeed struct {
	Code   string
	Name   string
	TaxID  string
	Status string
}

func openMemoryDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	// 内存库随连接销毁，串行化到单连接上保证表可见
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	return db
}

// newPortalDB 门户库（映射 + 同步日志）
func newPortalDB(t *testing.T) *gorm.DB {
	t.Helper()

	db := openMemoryDB(t)
	require.NoError(t, db.AutoMigrate(&models.ProviderMapping{}, &models.SyncLog{}))
	return db
}

// newTenantPool 按租户编码构造带种子数据的连接池
// seed的键是租户编码；failing中的编码在建连时直接报错
func newTenantPool(t *testing.T, seed map[string][]supplierSeed, failing map[string]bool) *tenantdb.Manager {
	t.Helper()

	codes := make([]string, 0, len(seed)+len(failing))
	for code := range seed {
		codes = append(codes, code)
	}
	for code := range failing {
		if _, ok := seed[code]; !ok {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)

	entries := make([]registry.Entry, 0, len(codes))
	for _, code := range codes {
		entries = append(entries, registry.Entry{Code: code, Name: "租户" + code})
	}

	reg, err := registry.New(entries, "01-08", "09-10")
	require.NoError(t, err)

	opener := func(desc *registry.TenantDescriptor) (*gorm.DB, error) {
		if failing[desc.Code] {
			return nil, errors.New("dial timeout")
		}

		db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)

		if err := db.Exec(`CREATE TABLE suppliers (supplier_code TEXT, name TEXT, tax_id TEXT, status TEXT)`).Error; err != nil {
			return nil, err
		}
		for _, s := range seed[desc.Code] {
			if err := db.Exec(`INSERT INTO suppliers (supplier_code, name, tax_id, status) VALUES (?, ?, ?, ?)`,
				s.Code, s.Name, s.TaxID, s.Status).Error; err != nil {
				return nil, err
			}
		}
		return db, nil
	}

	pool := tenantdb.NewManager(reg, tenantdb.Options{Opener: opener})
	t.Cleanup(pool.Close)
	return pool
}

func newTestSearchService(t *testing.T, seed map[string][]supplierSeed, failing map[string]bool) *SearchService {
	t.Helper()
	pool := newTenantPool(t, seed, failing)
	return NewSearchService(pool, "", 5*time.Second, 4)
}
