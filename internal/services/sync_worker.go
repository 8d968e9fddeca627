package services

import (
	"context"
	"sync"
	"time"

	"spportal/pkg/logger"
	"spportal/pkg/queue"
)

// ProgressEvent 同步进度事件（经Redis频道推送给WebSocket订阅方）
type ProgressEvent struct {
	JobID  string      `json:"job_id"`
	Stage  string      `json:"stage"` // started / finished / failed
	Detail interface{} `json:"detail,omitempty"`
	Time   int64       `json:"time"`
}

// SyncWorker 异步同步任务消费者
// 从Redis队列取任务、执行编排器、回写任务状态并发布进度
type SyncWorker struct {
	queue   *queue.RedisQueue
	sync    *SyncService
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewSyncWorker 创建同步任务消费者
func NewSyncWorker(q *queue.RedisQueue, syncService *SyncService) *SyncWorker {
	return &SyncWorker{
		queue: q,
		sync:  syncService,
	}
}

// Start 启动消费循环
func (w *SyncWorker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.running = true

	w.wg.Add(1)
	go w.loop(ctx)

	logger.GetLogger().Info("同步任务消费者已启动")
}

// Stop 停止消费循环并等待在途任务完成
func (w *SyncWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.cancel()
	w.mu.Unlock()

	w.wg.Wait()
	logger.GetLogger().Info("同步任务消费者已停止")
}

func (w *SyncWorker) loop(ctx context.Context) {
	defer w.wg.Done()
	log := logger.GetLogger()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		message, err := w.queue.Dequeue(ctx, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Error("取同步任务失败")
			time.Sleep(time.Second)
			continue
		}
		if message == nil {
			continue
		}

		w.process(ctx, message)
	}
}

// process 处理单个同步任务
func (w *SyncWorker) process(ctx context.Context, message *queue.SyncJobMessage) {
	log := logger.GetLogger()
	log.Infof("开始处理同步任务 %s (用户 %s)", message.JobID, message.PortalUserID)

	if err := w.queue.UpdateJobStatus(message.JobID, "running"); err != nil {
		log.WithError(err).Warn("更新任务状态失败")
	}
	w.publish(message.JobID, "started", nil)

	result, err := w.sync.Sync(ctx, message.PortalUserID, message.TaxID, "queue")
	if err != nil {
		// 编排器自身失败（非单租户故障）才会走到这里
		log.WithError(err).Errorf("同步任务 %s 执行失败", message.JobID)
		if setErr := w.queue.SetJobResult(message.JobID, nil, err.Error()); setErr != nil {
			log.WithError(setErr).Warn("写入任务结果失败")
		}
		w.publish(message.JobID, "failed", err.Error())
		return
	}

	if err := w.queue.SetJobResult(message.JobID, result, ""); err != nil {
		log.WithError(err).Warn("写入任务结果失败")
	}
	w.publish(message.JobID, "finished", result)
}

func (w *SyncWorker) publish(jobID, stage string, detail interface{}) {
	event := ProgressEvent{
		JobID:  jobID,
		Stage:  stage,
		Detail: detail,
		Time:   time.Now().Unix(),
	}
	if err := w.queue.PublishProgress(jobID, event); err != nil {
		logger.GetLogger().WithError(err).Warn("发布同步进度失败")
	}
}
