package middleware

import (
	"strings"

	"spportal/pkg/config"
	"spportal/pkg/jwt"
	"spportal/pkg/response"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// AuthMiddleware 会话与管理权限中间件
// 会话令牌由门户外部的身份层签发，这里只做校验并把
// portal_user_id / tax_id 作为不透明输入放进请求上下文
type AuthMiddleware struct {
	jwtManager *jwt.JWTManager
}

func NewAuthMiddleware() *AuthMiddleware {
	return &AuthMiddleware{
		jwtManager: jwt.GetJWTManager(), // 使用全局JWT管理器
	}
}

// RequireSession 要求有效的门户会话令牌
func (m *AuthMiddleware) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 从Authorization头获取JWT token
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.Unauthorized(c, "请先登录")
			c.Abort()
			return
		}

		// 检查Bearer格式
		if !strings.HasPrefix(authHeader, "Bearer ") {
			response.Unauthorized(c, "认证头格式错误")
			c.Abort()
			return
		}

		tokenString := authHeader[7:] // 去掉 "Bearer "

		claims, err := m.jwtManager.VerifyToken(tokenString)
		if err != nil {
			response.Unauthorized(c, "Token无效或已过期")
			c.Abort()
			return
		}

		// 将会话信息保存到上下文
		c.Set("portal_user_id", claims.PortalUserID)
		c.Set("tax_id", claims.TaxID)
		c.Set("is_admin", claims.IsAdmin)
		c.Set("claims", claims)

		c.Next()
	}
}

// RequireAdmin 要求管理权限
// 管理员会话令牌或 X-Admin-Key 管理密钥二者其一即可
func (m *AuthMiddleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 已登录的平台管理员直接放行
		if isAdmin, exists := c.Get("is_admin"); exists && isAdmin == true {
			c.Next()
			return
		}

		adminKey := c.GetHeader("X-Admin-Key")
		if adminKey == "" {
			response.Forbidden(c, "需要管理权限")
			c.Abort()
			return
		}

		keyHash := config.GetConfig().Admin.KeyHash
		if keyHash == "" {
			response.Forbidden(c, "管理密钥未配置")
			c.Abort()
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(adminKey)); err != nil {
			response.Forbidden(c, "管理密钥错误")
			c.Abort()
			return
		}

		c.Next()
	}
}

// SessionUserID 从上下文取门户用户ID
func SessionUserID(c *gin.Context) string {
	if v, exists := c.Get("portal_user_id"); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// SessionIsAdmin 从上下文取管理员标记
func SessionIsAdmin(c *gin.Context) bool {
	if v, exists := c.Get("is_admin"); exists {
		if isAdmin, ok := v.(bool); ok {
			return isAdmin
		}
	}
	return false
}

// SessionTaxID 从上下文取会话税号
func SessionTaxID(c *gin.Context) string {
	if v, exists := c.Get("tax_id"); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
