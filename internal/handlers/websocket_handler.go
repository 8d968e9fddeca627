package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"spportal/internal/database"
	"spportal/internal/services"
	"spportal/pkg/config"
	"spportal/pkg/jwt"
	"spportal/pkg/logger"
	"spportal/pkg/queue"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WebSocketHandler WebSocket处理器
// 向门户前端实时推送异步同步任务的进度事件
type WebSocketHandler struct {
	upgrader   websocket.Upgrader
	queue      *queue.RedisQueue
	log        *logrus.Logger
	jwtManager *jwt.JWTManager
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler() *WebSocketHandler {
	// 获取CORS配置
	cfg := config.GetConfig()
	allowedOrigins := cfg.CORS.AllowOrigins

	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")

				// 如果允许所有源
				for _, allowed := range allowedOrigins {
					if allowed == "*" {
						return true
					}
				}

				// Origin为空（同源请求）时允许
				if origin == "" {
					return true
				}

				for _, allowed := range allowedOrigins {
					if matchOrigin(origin, allowed) {
						return true
					}
				}

				logger.GetLogger().Warnf("WebSocket连接被拒绝，非法Origin: %s", origin)
				return false
			},
			ReadBufferSize:  1024 * 4,
			WriteBufferSize: 1024 * 4,
		},
		queue:      database.GetRedisQueue(),
		log:        logger.GetLogger(),
		jwtManager: jwt.GetJWTManager(), // 使用全局JWT管理器
	}
}

// SyncProgress 处理同步任务进度的WebSocket连接
func (h *WebSocketHandler) SyncProgress(c *gin.Context) {
	jobID := c.Param("id")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "任务ID不能为空"})
		return
	}

	// 从查询参数获取token（WebSocket不支持自定义header）
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "缺少认证令牌"})
		return
	}

	claims, err := h.jwtManager.VerifyToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "无效的令牌"})
		return
	}

	// 任务按会话用户隔离，越权与不存在对外不作区分
	status, err := h.queue.GetJobStatus(jobID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "任务不存在或已过期"})
		return
	}
	if !claims.IsAdmin && status["portal_user_id"] != claims.PortalUserID {
		c.JSON(http.StatusNotFound, gin.H{"error": "任务不存在或已过期"})
		return
	}

	// 升级为WebSocket连接
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}
	defer conn.Close()

	h.log.WithFields(logrus.Fields{
		"job_id":  jobID,
		"user_id": claims.PortalUserID,
	}).Info("WebSocket connection established")

	h.handleProgressConnection(conn, jobID)
}

// handleProgressConnection 订阅Redis进度频道并转发给客户端
// 收到终态事件（finished/failed）后关闭连接
func (h *WebSocketHandler) handleProgressConnection(conn *websocket.Conn, jobID string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pubsub := h.queue.SubscribeProgress(jobID)
	defer pubsub.Close()

	// 等待订阅成功
	if _, err := pubsub.Receive(ctx); err != nil {
		h.log.WithError(err).Error("Failed to subscribe to progress channel")
		return
	}

	// 处理客户端消息（主要是ping/pong与断连检测）
	go h.readPump(conn, cancel)

	ch := pubsub.Channel()

	const writeTimeout = 10 * time.Second

	pingTicker := time.NewTicker(60 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case msg, ok := <-ch:
			if !ok {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				h.log.WithError(err).Warn("转发同步进度失败")
				return
			}

			var event services.ProgressEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err == nil {
				if event.Stage == "finished" || event.Stage == "failed" {
					h.log.WithField("job_id", jobID).Info("同步任务已结束，关闭WebSocket")
					return
				}
			}
		}
	}
}

// readPump 读取客户端消息，检测断连
func (h *WebSocketHandler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	pongWait := 300 * time.Second
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.WithError(err).Error("WebSocket unexpected close")
			}
			break
		}
	}
}

// matchOrigin 检查Origin是否匹配允许规则（支持 *.example.com 通配）
func matchOrigin(origin, allowed string) bool {
	if origin == allowed {
		return true
	}

	if strings.HasPrefix(allowed, "*.") {
		domain := allowed[2:]

		originHost := origin
		if idx := strings.Index(origin, "://"); idx != -1 {
			originHost = origin[idx+3:]
		}
		if idx := strings.Index(originHost, ":"); idx != -1 {
			originHost = originHost[:idx]
		}

		if originHost == domain {
			return true
		}
		if strings.HasSuffix(originHost, "."+domain) {
			return true
		}
	}

	return false
}
