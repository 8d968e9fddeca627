package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"spportal/pkg/logger"

	"github.com/robfig/cron/v3"
)

// SyncScheduler 映射复核调度器
// 周期性地为复核窗口内出现过的用户重跑发现同步，
// 让映射跟上租户ERP侧的数据变化（同步本身幂等，重跑无副作用）
type SyncScheduler struct {
	syncService *SyncService
	cron        *cron.Cron
	interval    int           // 分钟
	window      time.Duration // 复核回溯窗口
	mu          sync.Mutex
	running     bool
}

// NewSyncScheduler 创建映射复核调度器
func NewSyncScheduler(syncService *SyncService, intervalMinutes int, window time.Duration) *SyncScheduler {
	return &SyncScheduler{
		syncService: syncService,
		cron:        cron.New(),
		interval:    intervalMinutes,
		window:      window,
	}
}

// Start 启动调度器（interval<=0 时不启动）
func (s *SyncScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running || s.interval <= 0 {
		return nil
	}

	log := logger.GetLogger()

	cronExpr := fmt.Sprintf("@every %dm", s.interval)
	if _, err := s.cron.AddFunc(cronExpr, s.revalidate); err != nil {
		return fmt.Errorf("创建复核任务失败: %v", err)
	}

	s.cron.Start()
	s.running = true

	log.Infof("映射复核调度器启动成功，间隔 %d 分钟，回溯窗口 %s", s.interval, s.window)
	return nil
}

// Stop 停止调度器
func (s *SyncScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	ctx := s.cron.Stop()
	<-ctx.Done()

	s.running = false
	logger.GetLogger().Info("映射复核调度器已停止")
}

// IsRunning 检查调度器是否运行中
func (s *SyncScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// revalidate 执行一轮复核
func (s *SyncScheduler) revalidate() {
	log := logger.GetLogger()
	ctx := context.Background()

	targets, err := s.syncService.RecentSyncTargets(ctx, s.window)
	if err != nil {
		log.WithError(err).Error("查询复核目标失败")
		return
	}
	if len(targets) == 0 {
		return
	}

	log.Infof("开始映射复核，共 %d 个用户", len(targets))

	for _, target := range targets {
		if _, err := s.syncService.Sync(ctx, target.PortalUserID, target.TaxID, "scheduler"); err != nil {
			log.WithError(err).Errorf("复核用户 %s 失败", target.PortalUserID)
		}
	}
}
