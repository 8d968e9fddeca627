package services

import (
	"context"
	"testing"

	apperrors "spportal/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchByTaxIDAcrossTenants(t *testing.T) {
	svc := newTestSearchService(t, map[string][]supplierSeed{
		"01": {
			{Code: "P00443", Name: "宏远贸易", TaxID: "ABC010101XYZ", Status: "active"},
			{Code: "P00999", Name: "其他供应商", TaxID: "OTHERTAX9999", Status: "active"},
		},
		"02": {},
		"03": {
			{Code: "PROV-09", Name: "宏远贸易华东", TaxID: "ABC010101XYZ", Status: "active"},
		},
	}, nil)

	matches, terrs := svc.SearchByTaxID(context.Background(), "ABC010101XYZ")
	assert.Empty(t, terrs)
	require.Len(t, matches, 2)

	byTenant := make(map[string]SupplierMatch)
	for _, m := range matches {
		byTenant[m.TenantCode] = m
	}
	assert.Equal(t, "P00443", byTenant["01"].SupplierCode)
	assert.Equal(t, "宏远贸易", byTenant["01"].SupplierName)
	assert.Equal(t, "PROV-09", byTenant["03"].SupplierCode)

	assert.Equal(t, 3, svc.TenantCount())
}

func TestSearchByTaxIDZeroMatches(t *testing.T) {
	svc := newTestSearchService(t, map[string][]supplierSeed{
		"01": {{Code: "P001", Name: "甲公司", TaxID: "AAAA1111BBBB", Status: "active"}},
		"02": {},
	}, nil)

	// 零命中是合法结果，不是错误
	matches, terrs := svc.SearchByTaxID(context.Background(), "NOSUCHTAX001")
	assert.Empty(t, matches)
	assert.Empty(t, terrs)
}

func TestSearchByTaxIDNormalizesInput(t *testing.T) {
	svc := newTestSearchService(t, map[string][]supplierSeed{
		"01": {{Code: "P001", Name: "甲公司", TaxID: "ABC010101XYZ", Status: "active"}},
	}, nil)

	// 小写和首尾空白在比较前归一化
	matches, terrs := svc.SearchByTaxID(context.Background(), "  abc010101xyz  ")
	assert.Empty(t, terrs)
	require.Len(t, matches, 1)
	assert.Equal(t, "P001", matches[0].SupplierCode)
}

func TestSearchByTaxIDMatchesDirtyStoredValue(t *testing.T) {
	// ERP侧税号带空白时也要命中（查询侧做UPPER(TRIM(...))）
	svc := newTestSearchService(t, map[string][]supplierSeed{
		"01": {{Code: "P001", Name: "甲公司", TaxID: " abc010101xyz ", Status: "active"}},
	}, nil)

	matches, terrs := svc.SearchByTaxID(context.Background(), "ABC010101XYZ")
	assert.Empty(t, terrs)
	require.Len(t, matches, 1)
}

func TestSearchByTaxIDEmptyInput(t *testing.T) {
	svc := newTestSearchService(t, map[string][]supplierSeed{"01": {}}, nil)

	matches, terrs := svc.SearchByTaxID(context.Background(), "   ")
	assert.Empty(t, matches)
	require.Len(t, terrs, 1)
}

func TestSearchByTaxIDPartialFailure(t *testing.T) {
	svc := newTestSearchService(t, map[string][]supplierSeed{
		"01": {{Code: "P001", Name: "甲公司", TaxID: "ABC010101XYZ", Status: "active"}},
	}, map[string]bool{"02": true})

	matches, terrs := svc.SearchByTaxID(context.Background(), "ABC010101XYZ")

	// 可达租户的命中照常返回
	require.Len(t, matches, 1)
	assert.Equal(t, "01", matches[0].TenantCode)

	// 失败租户逐条记录，不中断整体搜索
	require.Len(t, terrs, 1)
	assert.Equal(t, "02", terrs[0].TenantCode)
	assert.ErrorIs(t, terrs[0], apperrors.ErrTenantUnreachable)
}

func TestSearchByTaxIDMultiRowTakesLowestCode(t *testing.T) {
	svc := newTestSearchService(t, map[string][]supplierSeed{
		"01": {
			{Code: "P200", Name: "重复乙", TaxID: "ABC010101XYZ", Status: "active"},
			{Code: "P100", Name: "重复甲", TaxID: "ABC010101XYZ", Status: "active"},
		},
	}, nil)

	matches, terrs := svc.SearchByTaxID(context.Background(), "ABC010101XYZ")
	assert.Empty(t, terrs)
	require.Len(t, matches, 1)
	assert.Equal(t, "P100", matches[0].SupplierCode)
}

func TestNormalizeTaxID(t *testing.T) {
	assert.Equal(t, "ABC010101XYZ", NormalizeTaxID("  abc010101xyz "))
	assert.Equal(t, "", NormalizeTaxID("   "))
}
