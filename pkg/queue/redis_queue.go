package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisQueue Redis同步任务队列实现
type RedisQueue struct {
	client *redis.Client
	prefix string
}

// SyncJobMessage 队列中的同步任务消息
type SyncJobMessage struct {
	JobID        string `json:"job_id"`
	PortalUserID string `json:"portal_user_id"` // 门户用户ID
	TaxID        string `json:"tax_id"`         // 搜索用税号
	Source       string `json:"source"`         // 任务来源：api / scheduler
	Created      int64  `json:"created"`
}

// Config Redis配置
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
	Prefix   string
}

// NewRedisQueue 创建Redis队列实例
func NewRedisQueue(config *Config) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password: config.Password,
		DB:       config.DB,
	})

	prefix := config.Prefix
	if prefix == "" {
		prefix = "spportal"
	}

	return &RedisQueue{
		client: client,
		prefix: prefix,
	}
}

// Close 关闭Redis连接
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// Ping 测试Redis连接
func (q *RedisQueue) Ping() error {
	ctx := context.Background()
	return q.client.Ping(ctx).Err()
}

// Enqueue 将同步任务加入队列
func (q *RedisQueue) Enqueue(jobID, portalUserID, taxID, source string) error {
	ctx := context.Background()

	message := SyncJobMessage{
		JobID:        jobID,
		PortalUserID: portalUserID,
		TaxID:        taxID,
		Source:       source,
		Created:      time.Now().Unix(),
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("序列化任务消息失败: %v", err)
	}

	// 加入队列（左侧入队）
	if err := q.client.LPush(ctx, q.queueKey(), data).Err(); err != nil {
		return fmt.Errorf("任务入队失败: %v", err)
	}

	// 记录任务状态（用于状态查询）
	jobKey := q.jobKey(jobID)
	jobInfo := map[string]interface{}{
		"job_id":         jobID,
		"portal_user_id": portalUserID,
		"status":         "queued",
		"queued_at":      time.Now().Unix(),
	}
	if err := q.client.HSet(ctx, jobKey, jobInfo).Err(); err != nil {
		return fmt.Errorf("记录任务状态失败: %v", err)
	}

	// 设置任务过期时间（24小时）
	q.client.Expire(ctx, jobKey, 24*time.Hour)

	return nil
}

// Dequeue 阻塞式取出一个同步任务，超时返回nil
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*SyncJobMessage, error) {
	result, err := q.client.BRPop(ctx, timeout, q.queueKey()).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	// BRPop返回 [key, value]
	if len(result) < 2 {
		return nil, nil
	}

	var message SyncJobMessage
	if err := json.Unmarshal([]byte(result[1]), &message); err != nil {
		return nil, fmt.Errorf("反序列化任务消息失败: %v", err)
	}

	return &message, nil
}

// UpdateJobStatus 更新任务状态
func (q *RedisQueue) UpdateJobStatus(jobID, status string) error {
	ctx := context.Background()

	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now().Unix(),
	}

	if status == "running" {
		updates["started_at"] = time.Now().Unix()
	} else if status == "success" || status == "failed" {
		updates["finished_at"] = time.Now().Unix()
	}

	return q.client.HSet(ctx, q.jobKey(jobID), updates).Err()
}

// GetJobStatus 获取任务状态
func (q *RedisQueue) GetJobStatus(jobID string) (map[string]string, error) {
	ctx := context.Background()

	result, err := q.client.HGetAll(ctx, q.jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("获取任务状态失败: %v", err)
	}

	if len(result) == 0 {
		return nil, fmt.Errorf("任务不存在")
	}

	return result, nil
}

// SetJobResult 设置任务结果
func (q *RedisQueue) SetJobResult(jobID string, result interface{}, errorMsg string) error {
	ctx := context.Background()

	updates := map[string]interface{}{
		"finished_at": time.Now().Unix(),
	}

	if errorMsg != "" {
		updates["error"] = errorMsg
		updates["status"] = "failed"
	} else {
		updates["status"] = "success"
		if result != nil {
			resultData, err := json.Marshal(result)
			if err != nil {
				return fmt.Errorf("序列化任务结果失败: %v", err)
			}
			updates["result"] = string(resultData)
		}
	}

	if err := q.client.HSet(ctx, q.jobKey(jobID), updates).Err(); err != nil {
		return fmt.Errorf("设置任务结果失败: %v", err)
	}

	return nil
}

// QueueLength 获取当前排队任务数
func (q *RedisQueue) QueueLength() (int64, error) {
	ctx := context.Background()
	return q.client.LLen(ctx, q.queueKey()).Result()
}

// PublishProgress 发布同步进度到任务频道
func (q *RedisQueue) PublishProgress(jobID string, event interface{}) error {
	ctx := context.Background()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化进度消息失败: %v", err)
	}

	if err := q.client.Publish(ctx, q.progressChannel(jobID), data).Err(); err != nil {
		return fmt.Errorf("发布进度消息失败: %v", err)
	}

	return nil
}

// SubscribeProgress 订阅任务进度频道
func (q *RedisQueue) SubscribeProgress(jobID string) *redis.PubSub {
	ctx := context.Background()
	return q.client.Subscribe(ctx, q.progressChannel(jobID))
}

// GetClient 获取Redis客户端（用于高级操作，如解析缓存）
func (q *RedisQueue) GetClient() *redis.Client {
	return q.client
}

// 辅助方法

func (q *RedisQueue) queueKey() string {
	return fmt.Sprintf("%s:sync:queue", q.prefix)
}

func (q *RedisQueue) jobKey(jobID string) string {
	return fmt.Sprintf("%s:sync:job:%s", q.prefix, jobID)
}

func (q *RedisQueue) progressChannel(jobID string) string {
	return fmt.Sprintf("%s:sync:progress:%s", q.prefix, jobID)
}
