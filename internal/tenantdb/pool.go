package tenantdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"spportal/internal/registry"
	apperrors "spportal/pkg/errors"
	"spportal/pkg/logger"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Opener 按描述符打开一个租户数据库连接
// 生产环境使用 DefaultOpener，测试可注入内存数据库
type Opener func(desc *registry.TenantDescriptor) (*gorm.DB, error)

// Options 连接池管理器选项
type Options struct {
	MaxOpenConns int // 单租户最大连接数
	MaxIdleConns int // 单租户最大空闲连接数
	Opener       Opener
}

// ErrClosed 连接池已关闭（进程停机路径，调用方不应重试）
var ErrClosed = errors.New("tenant pool closed")

// Manager 租户连接池管理器
// 按租户编码惰性创建并缓存连接；同一编码的并发获取只会创建一个连接；
// 显式构造、显式关闭，不做包级可变状态
type Manager struct {
	registry *registry.Registry
	opener   Opener
	maxOpen  int
	maxIdle  int

	mu     sync.Mutex
	conns  map[string]*poolEntry
	closed bool
}

// poolEntry 单个租户的连接槽位
// once保证并发获取下只打开一次
type poolEntry struct {
	once sync.Once
	db   *gorm.DB
	err  error
}

// NewManager 创建连接池管理器
func NewManager(reg *registry.Registry, opts Options) *Manager {
	m := &Manager{
		registry: reg,
		opener:   opts.Opener,
		maxOpen:  opts.MaxOpenConns,
		maxIdle:  opts.MaxIdleConns,
		conns:    make(map[string]*poolEntry),
	}
	if m.opener == nil {
		m.opener = m.defaultOpener
	}
	if m.maxOpen <= 0 {
		m.maxOpen = 10
	}
	if m.maxIdle <= 0 {
		m.maxIdle = 5
	}
	return m
}

// defaultOpener 打开租户的PostgreSQL数据库
func (m *Manager) defaultOpener(desc *registry.TenantDescriptor) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		desc.DB.Host, desc.DB.Port, desc.DB.User, desc.DB.Password, desc.DB.DBName, desc.DB.SSLMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent), // 静默模式，避免干扰服务日志
	})
	if err != nil {
		return nil, err
	}

	// 配置连接池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(m.maxOpen)
	sqlDB.SetMaxIdleConns(m.maxIdle)

	return db, nil
}

// Acquire 获取租户连接
// 不存在时打开并缓存；已存在时直接复用，不产生新的网络往返。
// 打开/握手重试一次仍失败返回 ErrTenantUnreachable（包装原因）
func (m *Manager) Acquire(ctx context.Context, tenantCode string) (*gorm.DB, error) {
	desc, err := m.registry.Describe(tenantCode)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	entry, ok := m.conns[tenantCode]
	if !ok {
		entry = &poolEntry{}
		m.conns[tenantCode] = entry
	}
	m.mu.Unlock()

	entry.once.Do(func() {
		entry.db, entry.err = m.openWithRetry(ctx, desc)
	})

	if entry.err != nil {
		// 打开失败的槽位立即让位，后续获取可以重新尝试
		m.mu.Lock()
		if m.conns[tenantCode] == entry {
			delete(m.conns, tenantCode)
		}
		m.mu.Unlock()
		return nil, entry.err
	}

	// 建连期间池被关闭时该槽位已不在map里，Close收不到它，由获取方收尾
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		if sqlDB, err := entry.db.DB(); err == nil {
			sqlDB.Close()
		}
		return nil, ErrClosed
	}

	return entry.db, nil
}

// openWithRetry 打开连接并验证握手，失败后退避重试一次
func (m *Manager) openWithRetry(ctx context.Context, desc *registry.TenantDescriptor) (*gorm.DB, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(500 * time.Millisecond):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", apperrors.ErrTenantUnreachable, ctx.Err())
			}
		}

		db, err := m.opener(desc)
		if err != nil {
			lastErr = err
			continue
		}

		sqlDB, err := db.DB()
		if err != nil {
			lastErr = err
			continue
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			sqlDB.Close()
			lastErr = err
			continue
		}

		return db, nil
	}

	logger.GetLogger().WithError(lastErr).Warnf("打开租户 %s 数据库失败", desc.Code)
	return nil, fmt.Errorf("%w: %v", apperrors.ErrTenantUnreachable, lastErr)
}

// Evict 驱逐租户连接
// 调用方在查询遇到传输层错误后调用，随后重新Acquire即可拿到新连接；
// 单个损坏的连接不会拖垮该租户的后续请求
func (m *Manager) Evict(tenantCode string) {
	m.mu.Lock()
	entry, ok := m.conns[tenantCode]
	if ok {
		delete(m.conns, tenantCode)
	}
	m.mu.Unlock()

	if ok && entry.db != nil {
		if sqlDB, err := entry.db.DB(); err == nil {
			sqlDB.Close()
		}
	}
}

// Ping 验证租户连接可用性（诊断用）
// 首次ping失败时驱逐旧连接并重建一次
func (m *Manager) Ping(ctx context.Context, tenantCode string) error {
	db, err := m.Acquire(ctx, tenantCode)
	if err != nil {
		return err
	}

	sqlDB, err := db.DB()
	if err == nil {
		if err = sqlDB.PingContext(ctx); err == nil {
			return nil
		}
	}

	// 连接已损坏，驱逐后重建
	m.Evict(tenantCode)
	db, err = m.Acquire(ctx, tenantCode)
	if err != nil {
		return err
	}
	sqlDB, err = db.DB()
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrTenantUnreachable, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrTenantUnreachable, err)
	}
	return nil
}

// Close 关闭所有租户连接（进程退出时调用）
// 关闭后的Acquire返回 ErrClosed
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	entries := m.conns
	m.conns = make(map[string]*poolEntry)
	m.mu.Unlock()

	for code, entry := range entries {
		if entry.db == nil {
			continue
		}
		if sqlDB, err := entry.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				logger.GetLogger().WithError(err).Warnf("关闭租户 %s 连接失败", code)
			}
		}
	}
}

// Registry 返回底层租户目录
func (m *Manager) Registry() *registry.Registry {
	return m.registry
}
