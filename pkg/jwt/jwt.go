package jwt

import (
	"errors"
	"spportal/pkg/config"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims 门户会话声明
// 会话令牌由门户外部的身份层签发，本服务只做校验；
// portal_user_id 与 tax_id 对路由核心来说是不透明输入
type SessionClaims struct {
	PortalUserID string `json:"portal_user_id"` // 门户用户ID
	TaxID        string `json:"tax_id"`         // 供应商税号（发现流程的搜索键）
	IsAdmin      bool   `json:"is_admin"`       // 是否平台管理员
	jwt.RegisteredClaims
}

// JWTManager JWT管理器
type JWTManager struct {
	secretKey     string
	tokenDuration time.Duration
}

// NewJWTManager 创建JWT管理器
func NewJWTManager(secretKey string, tokenDuration time.Duration) *JWTManager {
	return &JWTManager{
		secretKey:     secretKey,
		tokenDuration: tokenDuration,
	}
}

// GenerateToken 生成JWT令牌（测试与联调用，生产令牌由身份层签发）
func (manager *JWTManager) GenerateToken(portalUserID, taxID string, isAdmin bool) (string, error) {
	claims := SessionClaims{
		PortalUserID: portalUserID,
		TaxID:        taxID,
		IsAdmin:      isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(manager.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "SPPORTAL",
			Subject:   portalUserID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(manager.secretKey))
}

// VerifyToken 验证JWT令牌
func (manager *JWTManager) VerifyToken(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&SessionClaims{},
		func(token *jwt.Token) (interface{}, error) {
			// 验证签名方法
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("意外的签名方法")
			}
			return []byte(manager.secretKey), nil
		},
	)

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, errors.New("无效的令牌")
	}

	if claims.PortalUserID == "" {
		return nil, errors.New("令牌缺少门户用户标识")
	}

	return claims, nil
}

// 全局JWT管理器
var (
	globalManager *JWTManager
	managerOnce   sync.Once
)

// GetJWTManager 获取全局JWT管理器
func GetJWTManager() *JWTManager {
	managerOnce.Do(func() {
		cfg := config.GetConfig()
		duration, err := time.ParseDuration(cfg.JWT.TokenDuration)
		if err != nil {
			duration = 24 * time.Hour
		}
		globalManager = NewJWTManager(cfg.JWT.SecretKey, duration)
	})
	return globalManager
}
