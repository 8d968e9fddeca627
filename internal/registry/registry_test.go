package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"spportal/pkg/config"
	"spportal/pkg/crypto"
	apperrors "spportal/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEntries() []Entry {
	return []Entry{
		{Code: "03", Name: "华东公司", DB: DBParams{Host: "db03", Port: 5432, DBName: "erp03"}},
		{Code: "01", Name: "总部公司", DB: DBParams{Host: "db01", Port: 5432, DBName: "erp01"}},
		{Code: "09", Name: "测试公司", DB: DBParams{Host: "db09", Port: 5432, DBName: "erp09"}},
	}
}

func TestNewAssignsEnvironmentByCodeRange(t *testing.T) {
	reg, err := New(testEntries(), "01-08", "09-10")
	require.NoError(t, err)

	desc, err := reg.Describe("01")
	require.NoError(t, err)
	assert.Equal(t, EnvProduction, desc.Environment)
	assert.Equal(t, "总部公司", desc.Name)

	desc, err = reg.Describe("09")
	require.NoError(t, err)
	assert.Equal(t, EnvTest, desc.Environment)
}

func TestDescribeUnknownTenant(t *testing.T) {
	reg, err := New(testEntries(), "01-08", "09-10")
	require.NoError(t, err)

	_, err = reg.Describe("77")
	assert.ErrorIs(t, err, apperrors.ErrUnknownTenant)

	_, err = reg.Describe("")
	assert.ErrorIs(t, err, apperrors.ErrUnknownTenant)
}

func TestListOrderedAndFiltered(t *testing.T) {
	reg, err := New(testEntries(), "01-08", "09-10")
	require.NoError(t, err)

	all := reg.List("")
	require.Len(t, all, 3)
	// 按编码排序，与目录文件顺序无关
	assert.Equal(t, "01", all[0].Code)
	assert.Equal(t, "03", all[1].Code)
	assert.Equal(t, "09", all[2].Code)

	prod := reg.List(EnvProduction)
	require.Len(t, prod, 2)
	for _, desc := range prod {
		assert.Equal(t, EnvProduction, desc.Environment)
	}

	test := reg.List(EnvTest)
	require.Len(t, test, 1)
	assert.Equal(t, "09", test[0].Code)

	assert.Equal(t, 3, reg.Count())
}

func TestNewRejectsInvalidCatalog(t *testing.T) {
	// 区间重叠
	_, err := New(testEntries(), "01-09", "09-10")
	assert.Error(t, err)

	// 编码越界
	_, err = New([]Entry{{Code: "11", Name: "x"}}, "01-08", "09-10")
	assert.Error(t, err)

	// 编码重复
	_, err = New([]Entry{
		{Code: "01", Name: "a"},
		{Code: "01", Name: "b"},
	}, "01-08", "09-10")
	assert.Error(t, err)

	// 非数字编码
	_, err = New([]Entry{{Code: "xx", Name: "x"}}, "01-08", "09-10")
	assert.Error(t, err)

	// 区间格式错误
	_, err = New(testEntries(), "01", "09-10")
	assert.Error(t, err)
	_, err = New(testEntries(), "08-01", "09-10")
	assert.Error(t, err)
}

func TestLoadFromFileDecryptsPassword(t *testing.T) {
	key := "0123456789abcdef0123456789abcdef"
	encrypted, err := crypto.Encrypt("s3cret", key)
	require.NoError(t, err)

	entries := []Entry{
		{
			Code: "01",
			Name: "总部公司",
			DB: DBParams{
				Host:        "db01",
				Port:        5432,
				User:        "erp",
				PasswordEnc: encrypted,
				DBName:      "erp01",
				SSLMode:     "disable",
			},
		},
	}

	data, err := json.Marshal(entries)
	require.NoError(t, err)

	file := filepath.Join(t.TempDir(), "tenants.json")
	require.NoError(t, os.WriteFile(file, data, 0644))

	reg, err := LoadFromFile(&config.CatalogConfig{
		File:          file,
		EncryptionKey: key,
		ProdRange:     "01-08",
		TestRange:     "09-10",
	})
	require.NoError(t, err)

	desc, err := reg.Describe("01")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", desc.DB.Password)
	assert.Empty(t, desc.DB.PasswordEnc)
}

func TestLoadFromFileMissingFile(t *testing.T) {
	_, err := LoadFromFile(&config.CatalogConfig{
		File:      filepath.Join(t.TempDir(), "missing.json"),
		ProdRange: "01-08",
		TestRange: "09-10",
	})
	assert.Error(t, err)
}
