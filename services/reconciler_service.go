package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"rentlock-http-service/config"
	"rentlock-http-service/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ReconcileResult 单次对账运行的汇总结果。预订从不硬删除，
// Deleted恒为0，仅保留在结果契约中。
type ReconcileResult struct {
	RunID    string                      `json:"run_id"`
	Fetched  int                         `json:"fetched"`
	Created  int                         `json:"created"`
	Updated  int                         `json:"updated"`
	Deleted  int                         `json:"deleted"`
	Orphaned int                         `json:"orphaned"`
	Errors   int                         `json:"errors"`
	Status   models.ReconciliationStatus `json:"status"`
}

// ReconcileStatus 对外暴露的对账状态（含下次运行估计）
type ReconcileStatus struct {
	LastRun   *ReconcileResult `json:"last_run,omitempty"`
	StartedAt time.Time        `json:"started_at"`
	EndedAt   time.Time        `json:"ended_at"`
	NextRunAt time.Time        `json:"next_run_at"`
}

// InterfaceReconcilerService 定义对账服务接口
type InterfaceReconcilerService interface {
	Run(ctx context.Context, accommodationID *uint) (*ReconcileResult, error)
	Start()
	Stop()
	LastStatus() (*ReconcileStatus, error)
}

// ReconcilerService 周期性地用上游权威数据修复本地状态。
// 产出的修正命令与Webhook走同一个引擎入口，没有旁路。
type ReconcilerService struct {
	DB        *gorm.DB
	Config    *config.Config
	Clock     Clock
	Feed      InterfaceBookingFeedService
	Lifecycle InterfaceLifecycleService
	Scheduler InterfaceSchedulerService
	Redis     InterfaceRedisService

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewReconcilerService 创建一个新的对账服务
func NewReconcilerService(db *gorm.DB, cfg *config.Config, clock Clock, feed InterfaceBookingFeedService, lifecycle InterfaceLifecycleService, scheduler InterfaceSchedulerService, redis InterfaceRedisService) *ReconcilerService {
	return &ReconcilerService{
		DB:        db,
		Config:    cfg,
		Clock:     clock,
		Feed:      feed,
		Lifecycle: lifecycle,
		Scheduler: scheduler,
		Redis:     redis,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start 启动周期性对账。运行失败不立即重跑，等待下一个周期，
// 避免在上游故障时形成紧密失败循环。
func (s *ReconcilerService) Start() {
	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.Config.ReconcileInterval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				if _, err := s.Run(context.Background(), nil); err != nil {
					log.Printf("[Reconciler] 对账运行失败: %v", err)
				}
			}
		}
	}()
	log.Printf("[Reconciler] 已启动，间隔 %s", s.Config.ReconcileInterval)
}

// Stop 停止周期性对账
func (s *ReconcilerService) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// Run 执行一次对账。accommodationID为nil时处理全部活跃房源。
// 单个房源拉取失败只累计错误数，不中断整个运行。
func (s *ReconcilerService) Run(ctx context.Context, accommodationID *uint) (*ReconcileResult, error) {
	startedAt := s.Clock.Now()
	result := &ReconcileResult{RunID: uuid.New().String(), Status: models.ReconciliationStatusFailed}

	logRow := models.ReconciliationLog{
		RunID:     result.RunID,
		StartedAt: startedAt,
		Status:    models.ReconciliationStatusFailed,
	}
	if err := s.DB.Create(&logRow).Error; err != nil {
		return nil, err
	}

	var accommodations []models.Accommodation
	query := s.DB.Where("status = ?", models.AccommodationStatusActive)
	if accommodationID != nil {
		query = query.Where("id = ?", *accommodationID)
	}
	if err := query.Find(&accommodations).Error; err != nil {
		s.finishRun(&logRow, result, startedAt)
		return nil, err
	}

	failures := 0
	for i := range accommodations {
		if err := s.reconcileAccommodation(ctx, &accommodations[i], result); err != nil {
			log.Printf("[Reconciler] 房源 %s 对账失败: %v", accommodations[i].ExternalID, err)
			result.Errors++
			failures++
		}
	}

	switch {
	case len(accommodations) > 0 && failures == len(accommodations):
		result.Status = models.ReconciliationStatusFailed
	case failures > 0:
		result.Status = models.ReconciliationStatusPartial
	default:
		result.Status = models.ReconciliationStatusSuccess
	}

	s.finishRun(&logRow, result, startedAt)
	return result, nil
}

// reconcileAccommodation 对单个房源做一次差异收敛
func (s *ReconcilerService) reconcileAccommodation(ctx context.Context, accommodation *models.Accommodation, result *ReconcileResult) error {
	now := s.Clock.Now()
	from := now.Add(-s.Config.ReconcileWindowPast)
	to := now.Add(s.Config.ReconcileWindowNext)

	upstream, err := s.Feed.FetchReservations(ctx, accommodation.ExternalID, from, to)
	if err != nil {
		return err
	}
	result.Fetched += len(upstream)

	upstreamByID := make(map[string]FeedReservation, len(upstream))
	for _, r := range upstream {
		upstreamByID[r.ExternalID] = r
	}

	// 本地同窗口内的预订
	var local []models.Reservation
	if err := s.DB.Where("accommodation_id = ? AND check_out_at >= ? AND check_in_at <= ?",
		accommodation.ID, from, to).Find(&local).Error; err != nil {
		return err
	}
	localByID := make(map[string]*models.Reservation, len(local))
	for i := range local {
		localByID[local[i].ExternalID] = &local[i]
	}

	// 上游有、本地缺失或不一致 → Upsert
	for _, up := range upstream {
		existing := localByID[up.ExternalID]
		changed := existing == nil ||
			!existing.CheckInAt.Equal(up.CheckInAt) ||
			!existing.CheckOutAt.Equal(up.CheckOutAt) ||
			string(existing.Status) != up.Status

		if !changed {
			continue
		}

		applied, err := s.Lifecycle.ApplyCommand(LifecycleCommand{
			Type:                    CommandUpsertReservation,
			ReservationExternalID:   up.ExternalID,
			AccommodationExternalID: accommodation.ExternalID,
			GuestName:               up.GuestName,
			CheckInAt:               up.CheckInAt,
			CheckOutAt:              up.CheckOutAt,
			Status:                  models.ReservationStatus(up.Status),
			Source:                  "reconciler",
		})
		if err != nil {
			log.Printf("[Reconciler] 预订 %s 收敛失败: %v", up.ExternalID, err)
			result.Errors++
			continue
		}
		s.Scheduler.Dispatch(applied.Actions)

		if existing == nil {
			result.Created++
		} else if !applied.Ignored {
			result.Updated++
		}
	}

	// 本地有、上游消失且未终态 → 孤儿清理，视为取消。
	// 漏掉的取消Webhook由这里兜底恢复。
	for _, res := range local {
		if _, ok := upstreamByID[res.ExternalID]; ok {
			continue
		}
		if res.Status.IsTerminal() {
			continue
		}

		applied, err := s.Lifecycle.ApplyCommand(LifecycleCommand{
			Type:                  CommandCancelReservation,
			ReservationExternalID: res.ExternalID,
			Source:                "reconciler",
		})
		if err != nil {
			log.Printf("[Reconciler] 孤儿预订 %s 取消失败: %v", res.ExternalID, err)
			result.Errors++
			continue
		}
		s.Scheduler.Dispatch(applied.Actions)
		result.Orphaned++
	}

	// 任务队列在进程内存中，重启即丢；差异收敛只覆盖与上游不一致的预订，
	// 这里无条件重建该房源的全部调度意图（入队按键替换，重复重建无副作用）
	recovered, err := s.Lifecycle.ReevaluateAccommodation(accommodation.ID)
	if err != nil {
		return err
	}
	s.Scheduler.Dispatch(recovered)

	return nil
}

// finishRun 写入运行记录并刷新状态缓存
func (s *ReconcilerService) finishRun(logRow *models.ReconciliationLog, result *ReconcileResult, startedAt time.Time) {
	endedAt := s.Clock.Now()

	logRow.FinishedAt = &endedAt
	logRow.Fetched = result.Fetched
	logRow.Created = result.Created
	logRow.Updated = result.Updated
	logRow.Deleted = result.Deleted
	logRow.Orphaned = result.Orphaned
	logRow.Errors = result.Errors
	logRow.Status = result.Status
	if err := s.DB.Save(logRow).Error; err != nil {
		log.Printf("[Reconciler] 写入对账记录失败: %v", err)
	}

	if s.Redis != nil {
		status := ReconcileStatus{
			LastRun:   result,
			StartedAt: startedAt,
			EndedAt:   endedAt,
			NextRunAt: endedAt.Add(s.Config.ReconcileInterval),
		}
		if err := s.Redis.CacheReconcileStatus(status); err != nil {
			log.Printf("[Reconciler] 缓存对账状态失败: %v", err)
		}
	}

	log.Printf("[Reconciler] 运行 %s 结束: fetched=%d created=%d updated=%d orphaned=%d errors=%d status=%s",
		result.RunID, result.Fetched, result.Created, result.Updated, result.Orphaned, result.Errors, result.Status)
}

// LastStatus 返回最近一次对账状态，优先读缓存，缓存不可用时回落数据库
func (s *ReconcilerService) LastStatus() (*ReconcileStatus, error) {
	if s.Redis != nil {
		var cached ReconcileStatus
		if err := s.Redis.GetReconcileStatus(&cached); err == nil {
			return &cached, nil
		}
	}

	var logRow models.ReconciliationLog
	if err := s.DB.Order("started_at DESC").First(&logRow).Error; err != nil {
		return nil, fmt.Errorf("尚无对账记录: %w", err)
	}

	status := &ReconcileStatus{
		LastRun: &ReconcileResult{
			RunID:    logRow.RunID,
			Fetched:  logRow.Fetched,
			Created:  logRow.Created,
			Updated:  logRow.Updated,
			Deleted:  logRow.Deleted,
			Orphaned: logRow.Orphaned,
			Errors:   logRow.Errors,
			Status:   logRow.Status,
		},
		StartedAt: logRow.StartedAt,
	}
	if logRow.FinishedAt != nil {
		status.EndedAt = *logRow.FinishedAt
		status.NextRunAt = logRow.FinishedAt.Add(s.Config.ReconcileInterval)
	}
	return status, nil
}
