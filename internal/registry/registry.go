package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"spportal/pkg/config"
	"spportal/pkg/crypto"
	apperrors "spportal/pkg/errors"
)

// 租户环境常量
const (
	EnvProduction = "production"
	EnvTest       = "test"
)

// DBParams 租户数据库连接参数
type DBParams struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	User        string `json:"user"`
	Password    string `json:"password,omitempty"`
	PasswordEnc string `json:"password_enc,omitempty"` // AES-256-GCM加密后的密码（base64）
	DBName      string `json:"dbname"`
	SSLMode     string `json:"sslmode"`
}

// TenantDescriptor 租户描述符
// 进程启动时从目录文件加载一次，之后不可变；
// 编码唯一，且按区间归属且仅归属一个环境
type TenantDescriptor struct {
	Code        string   `json:"code"`
	Name        string   `json:"name"`
	Environment string   `json:"environment"`
	DB          DBParams `json:"-"`
}

// Entry 目录文件中的一条租户记录
type Entry struct {
	Code string   `json:"code"`
	Name string   `json:"name"`
	DB   DBParams `json:"db"`
}

// codeRange 租户编码区间（闭区间，数值比较）
type codeRange struct {
	lo, hi int
	raw    string
}

func (r codeRange) contains(n int) bool {
	return n >= r.lo && n <= r.hi
}

// parseCodeRange 解析 "01-08" 形式的编码区间
func parseCodeRange(s string) (codeRange, error) {
	parts := strings.SplitN(strings.TrimSpace(s), "-", 2)
	if len(parts) != 2 {
		return codeRange{}, fmt.Errorf("编码区间格式错误: %s", s)
	}
	lo, err := strconv.Atoi(parts[0])
	if err != nil {
		return codeRange{}, fmt.Errorf("编码区间下界无效: %s", parts[0])
	}
	hi, err := strconv.Atoi(parts[1])
	if err != nil {
		return codeRange{}, fmt.Errorf("编码区间上界无效: %s", parts[1])
	}
	if lo > hi {
		return codeRange{}, fmt.Errorf("编码区间上下界颠倒: %s", s)
	}
	return codeRange{lo: lo, hi: hi, raw: s}, nil
}

// Registry 租户目录
// 纯查询、无副作用，可被任意数量的并发调用方安全使用
type Registry struct {
	byCode    map[string]*TenantDescriptor
	ordered   []*TenantDescriptor
	prodRange codeRange
	testRange codeRange
}

// New 从目录条目构建租户目录
// 环境由编码所在区间决定；区间重叠、编码越界或编码重复都视为配置错误
func New(entries []Entry, prodRange, testRange string) (*Registry, error) {
	prod, err := parseCodeRange(prodRange)
	if err != nil {
		return nil, err
	}
	test, err := parseCodeRange(testRange)
	if err != nil {
		return nil, err
	}

	// 区间必须互不相交
	if prod.lo <= test.hi && test.lo <= prod.hi {
		return nil, fmt.Errorf("生产与测试编码区间重叠: %s / %s", prod.raw, test.raw)
	}

	r := &Registry{
		byCode:    make(map[string]*TenantDescriptor, len(entries)),
		prodRange: prod,
		testRange: test,
	}

	for _, entry := range entries {
		code := strings.TrimSpace(entry.Code)
		if code == "" {
			return nil, fmt.Errorf("目录中存在空租户编码")
		}
		n, err := strconv.Atoi(code)
		if err != nil {
			return nil, fmt.Errorf("租户编码必须是数字编码: %s", code)
		}

		var env string
		switch {
		case prod.contains(n):
			env = EnvProduction
		case test.contains(n):
			env = EnvTest
		default:
			return nil, fmt.Errorf("租户编码 %s 不在任何已配置区间内", code)
		}

		if _, exists := r.byCode[code]; exists {
			return nil, fmt.Errorf("租户编码重复: %s", code)
		}

		desc := &TenantDescriptor{
			Code:        code,
			Name:        entry.Name,
			Environment: env,
			DB:          entry.DB,
		}
		r.byCode[code] = desc
		r.ordered = append(r.ordered, desc)
	}

	sort.Slice(r.ordered, func(i, j int) bool {
		return r.ordered[i].Code < r.ordered[j].Code
	})

	return r, nil
}

// LoadFromFile 从目录文件加载租户目录
// 目录中的 password_enc 字段在加载时解密一次
func LoadFromFile(cfg *config.CatalogConfig) (*Registry, error) {
	data, err := os.ReadFile(cfg.File)
	if err != nil {
		return nil, fmt.Errorf("读取租户目录文件失败: %v", err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("解析租户目录文件失败: %v", err)
	}

	for i := range entries {
		if entries[i].DB.PasswordEnc != "" {
			plain, err := crypto.Decrypt(entries[i].DB.PasswordEnc, cfg.EncryptionKey)
			if err != nil {
				return nil, fmt.Errorf("解密租户 %s 数据库密码失败: %v", entries[i].Code, err)
			}
			entries[i].DB.Password = plain
			entries[i].DB.PasswordEnc = ""
		}
	}

	return New(entries, cfg.ProdRange, cfg.TestRange)
}

// Describe 按编码查询租户描述符
// 编码不在目录中返回 ErrUnknownTenant
func (r *Registry) Describe(tenantCode string) (*TenantDescriptor, error) {
	desc, ok := r.byCode[tenantCode]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnknownTenant, tenantCode)
	}
	return desc, nil
}

// List 返回租户目录，environment为空时返回全部
func (r *Registry) List(environment string) []*TenantDescriptor {
	if environment == "" {
		result := make([]*TenantDescriptor, len(r.ordered))
		copy(result, r.ordered)
		return result
	}

	var result []*TenantDescriptor
	for _, desc := range r.ordered {
		if desc.Environment == environment {
			result = append(result, desc)
		}
	}
	return result
}

// Count 目录中的租户数量
func (r *Registry) Count() int {
	return len(r.ordered)
}
