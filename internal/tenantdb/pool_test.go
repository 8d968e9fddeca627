package tenantdb

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"spportal/internal/registry"
	apperrors "spportal/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New([]registry.Entry{
		{Code: "01", Name: "总部公司"},
		{Code: "02", Name: "华东公司"},
	}, "01-08", "09-10")
	require.NoError(t, err)
	return reg
}

func memoryOpener(counter *int64) Opener {
	return func(desc *registry.TenantDescriptor) (*gorm.DB, error) {
		atomic.AddInt64(counter, 1)
		return gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
	}
}

func TestAcquireCachesConnection(t *testing.T) {
	var opens int64
	m := NewManager(testRegistry(t), Options{Opener: memoryOpener(&opens)})
	defer m.Close()

	ctx := context.Background()

	db1, err := m.Acquire(ctx, "01")
	require.NoError(t, err)
	db2, err := m.Acquire(ctx, "01")
	require.NoError(t, err)

	assert.Same(t, db1, db2)
	assert.Equal(t, int64(1), atomic.LoadInt64(&opens))

	// 不同租户各自独立建连
	_, err = m.Acquire(ctx, "02")
	require.NoError(t, err)
	assert.Equal(t, int64(2), atomic.LoadInt64(&opens))
}

func TestAcquireConcurrentSingleFlight(t *testing.T) {
	var opens int64
	m := NewManager(testRegistry(t), Options{Opener: memoryOpener(&opens)})
	defer m.Close()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Acquire(context.Background(), "01")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// 并发获取同一租户只建一条连接
	assert.Equal(t, int64(1), atomic.LoadInt64(&opens))
}

func TestAcquireUnknownTenant(t *testing.T) {
	var opens int64
	m := NewManager(testRegistry(t), Options{Opener: memoryOpener(&opens)})
	defer m.Close()

	_, err := m.Acquire(context.Background(), "99")
	assert.ErrorIs(t, err, apperrors.ErrUnknownTenant)
	assert.Equal(t, int64(0), atomic.LoadInt64(&opens))
}

func TestAcquireUnreachableRetriesThenFails(t *testing.T) {
	var opens int64
	m := NewManager(testRegistry(t), Options{
		Opener: func(desc *registry.TenantDescriptor) (*gorm.DB, error) {
			atomic.AddInt64(&opens, 1)
			return nil, errors.New("connection refused")
		},
	})
	defer m.Close()

	_, err := m.Acquire(context.Background(), "01")
	assert.ErrorIs(t, err, apperrors.ErrTenantUnreachable)
	// 退避后重试一次
	assert.Equal(t, int64(2), atomic.LoadInt64(&opens))

	// 失败的槽位不留在池里，下一次获取重新尝试
	_, err = m.Acquire(context.Background(), "01")
	assert.ErrorIs(t, err, apperrors.ErrTenantUnreachable)
	assert.Equal(t, int64(4), atomic.LoadInt64(&opens))
}

func TestEvictForcesReopen(t *testing.T) {
	var opens int64
	m := NewManager(testRegistry(t), Options{Opener: memoryOpener(&opens)})
	defer m.Close()

	ctx := context.Background()

	db1, err := m.Acquire(ctx, "01")
	require.NoError(t, err)

	m.Evict("01")

	db2, err := m.Acquire(ctx, "01")
	require.NoError(t, err)

	assert.NotSame(t, db1, db2)
	assert.Equal(t, int64(2), atomic.LoadInt64(&opens))
}

func TestAcquireAfterClose(t *testing.T) {
	var opens int64
	m := NewManager(testRegistry(t), Options{Opener: memoryOpener(&opens)})

	m.Close()

	_, err := m.Acquire(context.Background(), "01")
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, int64(0), atomic.LoadInt64(&opens))
}

func TestCloseWhileOpenInFlight(t *testing.T) {
	release := make(chan struct{})
	var opened *gorm.DB

	m := NewManager(testRegistry(t), Options{
		Opener: func(desc *registry.TenantDescriptor) (*gorm.DB, error) {
			<-release
			db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
				Logger: gormlogger.Default.LogMode(gormlogger.Silent),
			})
			opened = db
			return db, err
		},
	})

	done := make(chan error, 1)
	go func() {
		_, err := m.Acquire(context.Background(), "01")
		done <- err
	}()

	// 等建连进入opener后关闭池，再放行建连
	time.Sleep(50 * time.Millisecond)
	m.Close()
	close(release)

	err := <-done
	assert.ErrorIs(t, err, ErrClosed)

	// 停机竞态下打开的连接不能泄漏，由获取方收尾关闭
	require.NotNil(t, opened)
	sqlDB, dbErr := opened.DB()
	require.NoError(t, dbErr)
	assert.Error(t, sqlDB.Ping())
}

func TestPing(t *testing.T) {
	var opens int64
	m := NewManager(testRegistry(t), Options{Opener: memoryOpener(&opens)})
	defer m.Close()

	assert.NoError(t, m.Ping(context.Background(), "01"))
	assert.ErrorIs(t, m.Ping(context.Background(), "99"), apperrors.ErrUnknownTenant)
}
