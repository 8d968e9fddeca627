package services

import (
	"context"
	"testing"

	"spportal/internal/models"
	apperrors "spportal/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertCreatesActiveMapping(t *testing.T) {
	svc := NewMappingService(newPortalDB(t))
	ctx := context.Background()

	mapping, err := svc.Upsert(ctx, "42", "01", "P00443")
	require.NoError(t, err)
	assert.True(t, mapping.Active)
	assert.Equal(t, "P00443", mapping.SupplierCode)
	assert.NotZero(t, mapping.ID)
}

func TestUpsertIsIdempotent(t *testing.T) {
	svc := NewMappingService(newPortalDB(t))
	ctx := context.Background()

	first, err := svc.Upsert(ctx, "42", "01", "P00443")
	require.NoError(t, err)

	second, err := svc.Upsert(ctx, "42", "01", "P00443")
	require.NoError(t, err)

	// 重复写不产生新行
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, svc.db.Model(&models.ProviderMapping{}).
		Where("portal_user_id = ? AND tenant_code = ?", "42", "01").
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestUpsertUpdatesSupplierCodeInPlace(t *testing.T) {
	svc := NewMappingService(newPortalDB(t))
	ctx := context.Background()

	first, err := svc.Upsert(ctx, "42", "01", "P00443")
	require.NoError(t, err)

	updated, err := svc.Upsert(ctx, "42", "01", "P00999")
	require.NoError(t, err)

	assert.Equal(t, first.ID, updated.ID)
	assert.Equal(t, "P00999", updated.SupplierCode)
}

func TestUpsertReactivatesDeactivatedRow(t *testing.T) {
	svc := NewMappingService(newPortalDB(t))
	ctx := context.Background()

	first, err := svc.Upsert(ctx, "42", "01", "P00443")
	require.NoError(t, err)

	require.NoError(t, svc.Deactivate(ctx, "42", "01"))

	// 停用后重新同步命中：原行重新激活，不新增行
	reactivated, err := svc.Upsert(ctx, "42", "01", "P00443")
	require.NoError(t, err)
	assert.Equal(t, first.ID, reactivated.ID)
	assert.True(t, reactivated.Active)

	var count int64
	require.NoError(t, svc.db.Model(&models.ProviderMapping{}).
		Where("portal_user_id = ? AND tenant_code = ?", "42", "01").
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestDeactivate(t *testing.T) {
	svc := NewMappingService(newPortalDB(t))
	ctx := context.Background()

	_, err := svc.Upsert(ctx, "42", "01", "P00443")
	require.NoError(t, err)

	require.NoError(t, svc.Deactivate(ctx, "42", "01"))

	// 软禁用：行保留但不再激活
	mapping, err := svc.FindActive(ctx, "42", "01")
	require.NoError(t, err)
	assert.Nil(t, mapping)

	var row models.ProviderMapping
	require.NoError(t, svc.db.Where("portal_user_id = ? AND tenant_code = ?", "42", "01").First(&row).Error)
	assert.False(t, row.Active)
}

func TestDeactivateWithoutActiveMapping(t *testing.T) {
	svc := NewMappingService(newPortalDB(t))

	err := svc.Deactivate(context.Background(), "42", "01")
	assert.ErrorIs(t, err, apperrors.ErrNotMapped)
}

func TestFindActiveReturnsNilWhenAbsent(t *testing.T) {
	svc := NewMappingService(newPortalDB(t))

	mapping, err := svc.FindActive(context.Background(), "42", "01")
	require.NoError(t, err)
	assert.Nil(t, mapping)
}

func TestActiveSupplierCode(t *testing.T) {
	svc := NewMappingService(newPortalDB(t))
	ctx := context.Background()

	_, err := svc.Upsert(ctx, "42", "01", "P00443")
	require.NoError(t, err)

	code, err := svc.ActiveSupplierCode(ctx, "42", "01")
	require.NoError(t, err)
	assert.Equal(t, "P00443", code)

	_, err = svc.ActiveSupplierCode(ctx, "42", "02")
	assert.ErrorIs(t, err, apperrors.ErrNotMapped)
}

func TestListActiveOrderedByTenantCode(t *testing.T) {
	svc := NewMappingService(newPortalDB(t))
	ctx := context.Background()

	_, err := svc.Upsert(ctx, "42", "03", "PROV-09")
	require.NoError(t, err)
	_, err = svc.Upsert(ctx, "42", "01", "P00443")
	require.NoError(t, err)
	_, err = svc.Upsert(ctx, "99", "01", "OTHER")
	require.NoError(t, err)
	require.NoError(t, svc.Deactivate(ctx, "42", "03"))

	mappings, err := svc.ListActive(ctx, "42")
	require.NoError(t, err)
	require.Len(t, mappings, 1)
	assert.Equal(t, "01", mappings[0].TenantCode)

	// 分页查询同样只看激活行
	paged, total, err := svc.ListActivePage(ctx, "42", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, paged, 1)
	assert.Equal(t, "P00443", paged[0].SupplierCode)
}
