package services

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"rentlock-http-service/config"
	"rentlock-http-service/models"
	"rentlock-http-service/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JobType 任务类型
type JobType string

const (
	JobTypeGeneratePin JobType = "generate_pin"
	JobTypeRevokePin   JobType = "revoke_pin"
)

// ExecResult 任务执行结果分类。用显式结果代替异常控制流，
// 由调度器决定退避重试还是告警。
type ExecResult string

const (
	ExecSuccess   ExecResult = "success"
	ExecRetryable ExecResult = "retryable"
	ExecFatal     ExecResult = "fatal"
)

// Job 一个定时任务。以(预订ID, 任务类型)为键，重复入队只替换执行时间，
// 这是消费方必须遵守的幂等约定。
type Job struct {
	ID            string    `json:"id"`
	ReservationID uint      `json:"reservation_id"`
	Type          JobType   `json:"type"`
	RunAt         time.Time `json:"run_at"`
	Attempts      int       `json:"attempts"`
	Reason        string    `json:"reason,omitempty"` // 撤销原因: checkout / cancellation / unmap / operator / date_change

	// 重试状态，不对外暴露
	credentialID uint   // 撤销重试只补设备调用时定位凭证
	pendingPin   string // 生成重试只补设备调用时使用的明文PIN，仅存活于进程内
}

// jobKey 任务幂等键
type jobKey struct {
	ReservationID uint
	Type          JobType
}

// FailedJob 重试耗尽后进入错误队列，等待运维介入
type FailedJob struct {
	Job      Job       `json:"job"`
	FailedAt time.Time `json:"failed_at"`
	Reason   string    `json:"reason"`
}

// InterfaceSchedulerService 定义调度器接口
type InterfaceSchedulerService interface {
	Dispatch(actions []Action)
	Schedule(jobType JobType, reservationID uint, runAt time.Time, reason string) string
	CancelJobs(reservationID uint)
	RunDueJobs() int
	Start()
	Stop()
	PendingJobs() []Job
	DeadLetters() []FailedJob
}

// SchedulerService 将生命周期决策转成对准真实时钟边界的任务并执行。
// 任务队列在进程内存中维护；漏掉的任务由对账流程兜底恢复。
type SchedulerService struct {
	DB        *gorm.DB
	Config    *config.Config
	Clock     Clock
	Gateway   InterfaceLockGatewayService
	Lifecycle InterfaceLifecycleService

	mu         sync.Mutex
	jobs       map[jobKey]*Job
	deadLetter []FailedJob

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSchedulerService 创建一个新的调度器
func NewSchedulerService(db *gorm.DB, cfg *config.Config, clock Clock, gateway InterfaceLockGatewayService, lifecycle InterfaceLifecycleService) *SchedulerService {
	return &SchedulerService{
		DB:        db,
		Config:    cfg,
		Clock:     clock,
		Gateway:   gateway,
		Lifecycle: lifecycle,
		jobs:      make(map[jobKey]*Job),
		stopCh:    make(chan struct{}),
	}
}

// Dispatch 将生命周期引擎产出的意图转换为任务
func (s *SchedulerService) Dispatch(actions []Action) {
	for _, action := range actions {
		switch action.Type {
		case ActionScheduleGenerate:
			s.Schedule(JobTypeGeneratePin, action.ReservationID, action.RunAt, "")
		case ActionScheduleRevoke:
			s.Schedule(JobTypeRevokePin, action.ReservationID, action.RunAt, "checkout")
		case ActionRevokeNow:
			reason := action.Reason
			if reason == "" {
				reason = "cancellation"
			}
			s.Schedule(JobTypeRevokePin, action.ReservationID, s.Clock.Now(), reason)
		case ActionCancelJobs:
			s.CancelJobs(action.ReservationID)
		}
	}
}

// Schedule 入队一个任务。同键任务已存在时替换执行时间（支持日期变更）。
func (s *SchedulerService) Schedule(jobType JobType, reservationID uint, runAt time.Time, reason string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := jobKey{ReservationID: reservationID, Type: jobType}
	if existing, ok := s.jobs[key]; ok {
		existing.RunAt = runAt
		existing.Attempts = 0
		if reason != "" {
			existing.Reason = reason
		}
		return existing.ID
	}

	job := &Job{
		ID:            uuid.New().String(),
		ReservationID: reservationID,
		Type:          jobType,
		RunAt:         runAt,
		Reason:        reason,
	}
	s.jobs[key] = job
	return job.ID
}

// CancelJobs 取消一个预订的全部待执行任务
func (s *SchedulerService) CancelJobs(reservationID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.jobs, jobKey{ReservationID: reservationID, Type: JobTypeGeneratePin})
	delete(s.jobs, jobKey{ReservationID: reservationID, Type: JobTypeRevokePin})
}

// Start 启动工作协程
func (s *SchedulerService) Start() {
	for i := 0; i < s.Config.SchedulerWorkers; i++ {
		s.wg.Add(1)
		go s.workerLoop()
	}
	log.Printf("[Scheduler] 已启动 %d 个工作协程", s.Config.SchedulerWorkers)
}

// Stop 停止工作协程
func (s *SchedulerService) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// workerLoop 轮询到期任务并执行
func (s *SchedulerService) workerLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.Config.SchedulerTick)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			for {
				job := s.popDueJob()
				if job == nil {
					break
				}
				s.runJob(job)
			}
		}
	}
}

// RunDueJobs 同步执行所有到期任务，返回执行数量。
// 定时触发和测试走同一条路径。
func (s *SchedulerService) RunDueJobs() int {
	count := 0
	for {
		job := s.popDueJob()
		if job == nil {
			return count
		}
		s.runJob(job)
		count++
	}
}

// popDueJob 取出一个到期任务
func (s *SchedulerService) popDueJob() *Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Clock.Now()
	for key, job := range s.jobs {
		if !job.RunAt.After(now) {
			delete(s.jobs, key)
			return job
		}
	}
	return nil
}

// runJob 执行任务并根据结果分类处理：可重试退避重排，永久失败进错误队列
func (s *SchedulerService) runJob(job *Job) {
	job.Attempts++
	result, reason := s.execute(job)

	switch result {
	case ExecSuccess:
		// 完成
	case ExecRetryable:
		if job.Attempts >= s.Config.JobMaxAttempts {
			log.Printf("[Scheduler] 任务重试耗尽: type=%s reservation=%d reason=%s", job.Type, job.ReservationID, reason)
			s.addDeadLetter(job, reason)
			return
		}
		backoff := s.Config.JobBackoffBase * time.Duration(1<<(job.Attempts-1))
		job.RunAt = s.Clock.Now().Add(backoff)
		s.requeue(job)
	case ExecFatal:
		log.Printf("[Scheduler] 任务永久失败: type=%s reservation=%d reason=%s", job.Type, job.ReservationID, reason)
		s.addDeadLetter(job, reason)
	}
}

// requeue 把重试任务放回队列。同键已有新任务时放弃旧重试，
// 新任务携带的是更新后的执行时间。
func (s *SchedulerService) requeue(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := jobKey{ReservationID: job.ReservationID, Type: job.Type}
	if _, ok := s.jobs[key]; ok {
		return
	}
	s.jobs[key] = job
}

func (s *SchedulerService) addDeadLetter(job *Job, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadLetter = append(s.deadLetter, FailedJob{Job: *job, FailedAt: s.Clock.Now(), Reason: reason})
}

// execute 执行单个任务
func (s *SchedulerService) execute(job *Job) (ExecResult, string) {
	switch job.Type {
	case JobTypeGeneratePin:
		return s.executeGenerate(job)
	case JobTypeRevokePin:
		return s.executeRevoke(job)
	default:
		return ExecFatal, fmt.Sprintf("未知任务类型: %s", job.Type)
	}
}

// executeGenerate 生成PIN任务：分配PIN → 事务内创建凭证（受"每个预订至多
// 一个生效凭证"约束保护）→ 调用网关下发 → 标记设备确认。
// 网关失败重试时只补设备调用，不重复写库。
func (s *SchedulerService) executeGenerate(job *Job) (ExecResult, string) {
	// 执行前重读预订状态，过滤调度后被取消的陈旧任务
	var reservation models.Reservation
	if err := s.DB.First(&reservation, job.ReservationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ExecFatal, "预订不存在"
		}
		return ExecRetryable, err.Error()
	}
	if reservation.Status != models.ReservationStatusConfirmed {
		log.Printf("[Scheduler] 预订 %d 已不在确认态(%s)，放弃生成任务", reservation.ID, reservation.Status)
		return ExecSuccess, ""
	}

	// 查找绑定的门锁
	var mapping models.AccommodationLockMapping
	if err := s.DB.Preload("Lock").Where("accommodation_id = ?", reservation.AccommodationID).First(&mapping).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// 锁绑定在调度后被解除；绑定恢复时补偿扫描会重新入队
			return ExecFatal, "房源未绑定门锁"
		}
		return ExecRetryable, err.Error()
	}
	lock := mapping.Lock

	var credential models.Credential
	pin := job.pendingPin
	adoptUnconfirmed := false

	issueTx := func(tx *gorm.DB) error {
		var existing models.Credential
		err := tx.Where("reservation_id = ? AND status = ?", reservation.ID, models.CredentialStatusActive).First(&existing).Error
		if err == nil {
			if existing.DeviceConfirmed() {
				// 并发的重复任务已经完成了全部工作
				credential = existing
				return nil
			}
			if pin != "" || adoptUnconfirmed {
				// pin非空是本进程内的重试：库中已有未确认凭证，只补设备调用；
				// adoptUnconfirmed是唯一索引冲突后的重跑：设备调用归创建方
				credential = existing
				return nil
			}
			// 进程重启后明文PIN已丢失，撤销未确认凭证并重新发放
			nowT := s.Clock.Now()
			existing.Status = models.CredentialStatusRevoked
			existing.ActiveKey = nil
			existing.RevokedAt = &nowT
			existing.RevokedBy = "reissue"
			if err := tx.Save(&existing).Error; err != nil {
				return err
			}
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if credential.ID != 0 {
			return nil
		}

		pinLength := lock.PinLength
		if pinLength <= 0 {
			pinLength = s.Config.PinLength
		}
		newPin, err := utils.RandomPin(pinLength)
		if err != nil {
			return err
		}
		hash, err := utils.HashPin(newPin)
		if err != nil {
			return err
		}

		credential = models.Credential{
			ReservationID: reservation.ID,
			ActiveKey:     &reservation.ID,
			LockID:        lock.ID,
			PinHash:       hash,
			Status:        models.CredentialStatusActive,
			ValidFrom:     reservation.CheckInAt,
			ValidTo:       reservation.CheckOutAt,
		}
		if err := tx.Create(&credential).Error; err != nil {
			return err
		}
		pin = newPin
		return nil
	}

	err := s.DB.Transaction(issueTx)
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// 另一个副本抢先创建了生效凭证，唯一索引拦下了本次写入；
		// 重跑一次改走已有凭证分支，不再触碰设备
		pin = ""
		adoptUnconfirmed = true
		err = s.DB.Transaction(issueTx)
	}
	if err != nil {
		return ExecRetryable, err.Error()
	}

	if credential.DeviceConfirmed() {
		return ExecSuccess, ""
	}
	if pin == "" {
		// 并发任务抢先创建了凭证，本任务不再触碰设备
		return ExecSuccess, ""
	}

	// 事务外调用网关，不跨网络调用持有数据库锁
	if err := s.Gateway.SetPin(lock.DeviceID, pin, credential.ValidFrom, credential.ValidTo); err != nil {
		if errors.Is(err, ErrDeviceRejected) {
			// 设备明确拒绝：撤销库中凭证，交由运维处理
			s.revokeCredentialRow(credential.ID, "device_rejected")
			return ExecFatal, err.Error()
		}
		// 保留明文PIN供下次重试补设备调用
		job.pendingPin = pin
		job.credentialID = credential.ID
		return ExecRetryable, err.Error()
	}

	nowT := s.Clock.Now()
	if err := s.DB.Model(&models.Credential{}).Where("id = ?", credential.ID).Update("device_confirmed_at", &nowT).Error; err != nil {
		return ExecRetryable, err.Error()
	}

	log.Printf("[Scheduler] 预订 %d 的凭证 %d 已下发到设备 %s", reservation.ID, credential.ID, lock.DeviceID)
	return ExecSuccess, ""
}

// executeRevoke 撤销PIN任务：先在库中标记REVOKED（即使设备清除始终未确认，
// 有效期兜底仍然生效），再调用网关清除。
func (s *SchedulerService) executeRevoke(job *Job) (ExecResult, string) {
	var credential models.Credential

	if job.credentialID != 0 {
		// 重试：库侧已标记，只补设备调用
		if err := s.DB.First(&credential, job.credentialID).Error; err != nil {
			return ExecRetryable, err.Error()
		}
	} else {
		err := s.DB.Transaction(func(tx *gorm.DB) error {
			err := tx.Where("reservation_id = ? AND status = ?", job.ReservationID, models.CredentialStatusActive).First(&credential).Error
			if err != nil {
				return err
			}

			nowT := s.Clock.Now()
			credential.Status = models.CredentialStatusRevoked
			credential.ActiveKey = nil
			credential.RevokedAt = &nowT
			credential.RevokedBy = job.Reason
			return tx.Save(&credential).Error
		})
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// 没有生效凭证可撤销；退房原因的任务仍需推进预订终态
			s.maybeComplete(job)
			return ExecSuccess, ""
		}
		if err != nil {
			return ExecRetryable, err.Error()
		}
	}

	// 查找设备
	var lock models.Lock
	if err := s.DB.First(&lock, credential.LockID).Error; err != nil {
		return ExecRetryable, err.Error()
	}

	if err := s.Gateway.ClearPin(lock.DeviceID, fmt.Sprintf("credential-%d", credential.ID)); err != nil {
		if errors.Is(err, ErrDeviceRejected) {
			return ExecFatal, err.Error()
		}
		job.credentialID = credential.ID
		return ExecRetryable, err.Error()
	}

	log.Printf("[Scheduler] 凭证 %d 已从设备 %s 清除 (原因: %s)", credential.ID, lock.DeviceID, job.Reason)

	s.maybeComplete(job)
	return ExecSuccess, ""
}

// maybeComplete 退房撤销完成后推进预订到COMPLETED
func (s *SchedulerService) maybeComplete(job *Job) {
	if job.Reason != "checkout" {
		return
	}
	if err := s.Lifecycle.CompleteReservation(job.ReservationID); err != nil {
		log.Printf("[Scheduler] 推进预订 %d 到COMPLETED失败: %v", job.ReservationID, err)
	}
}

// revokeCredentialRow 直接撤销库中凭证行
func (s *SchedulerService) revokeCredentialRow(credentialID uint, reason string) {
	nowT := s.Clock.Now()
	if err := s.DB.Model(&models.Credential{}).Where("id = ?", credentialID).Updates(map[string]interface{}{
		"status":     models.CredentialStatusRevoked,
		"active_key": nil,
		"revoked_at": &nowT,
		"revoked_by": reason,
	}).Error; err != nil {
		log.Printf("[Scheduler] 撤销凭证 %d 失败: %v", credentialID, err)
	}
}

// PendingJobs 返回当前待执行任务快照
func (s *SchedulerService) PendingJobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, *job)
	}
	return jobs
}

// DeadLetters 返回错误队列快照
func (s *SchedulerService) DeadLetters() []FailedJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]FailedJob, len(s.deadLetter))
	copy(out, s.deadLetter)
	return out
}
