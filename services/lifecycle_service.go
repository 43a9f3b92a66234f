package services

import (
	"errors"
	"fmt"
	"time"

	"rentlock-http-service/config"
	"rentlock-http-service/models"

	"gorm.io/gorm"
)

// CommandType 生命周期命令类型（封闭集合）
type CommandType string

const (
	CommandUpsertReservation CommandType = "upsert_reservation"
	CommandCancelReservation CommandType = "cancel_reservation"
	CommandMarkNoShow        CommandType = "mark_no_show"
)

// LifecycleCommand 生命周期命令。Webhook和对账是同一命令流的两个生产者，
// 二者都只能通过ApplyCommand进入，避免出现特殊的"修复"路径。
type LifecycleCommand struct {
	Type                    CommandType
	ReservationExternalID   string
	AccommodationExternalID string
	GuestName               string
	CheckInAt               time.Time
	CheckOutAt              time.Time
	Status                  models.ReservationStatus // 上游状态，仅Upsert使用
	Source                  string                   // webhook / reconciler / operator
}

// ActionType 引擎产出的副作用意图类型
type ActionType string

const (
	ActionScheduleGenerate ActionType = "schedule_generate" // 在入住时间生成PIN
	ActionScheduleRevoke   ActionType = "schedule_revoke"   // 在退房时间撤销PIN
	ActionRevokeNow        ActionType = "revoke_now"        // 立即撤销
	ActionCancelJobs       ActionType = "cancel_jobs"       // 取消该预订的待执行任务
)

// Action 副作用意图。引擎自己不调用门锁网关，只计算需要发生什么。
type Action struct {
	Type          ActionType
	ReservationID uint
	CredentialID  uint
	RunAt         time.Time
	Reason        string
}

// ApplyResult 命令应用结果
type ApplyResult struct {
	Reservation *models.Reservation
	Actions     []Action
	Ignored     bool // 终态预订收到晚到事件时为true
}

// 生命周期引擎的预期错误
var (
	ErrUnknownAccommodation = errors.New("房源不存在")
	ErrUnknownReservation   = errors.New("预订不存在")
	ErrInvalidDates         = errors.New("入住时间必须早于退房时间")
	ErrConcurrentUpdate     = errors.New("预订被并发修改")
)

// InterfaceLifecycleService 定义预订生命周期引擎接口
type InterfaceLifecycleService interface {
	ApplyCommand(cmd LifecycleCommand) (*ApplyResult, error)
	ReevaluateAccommodation(accommodationID uint) ([]Action, error)
	CompleteReservation(reservationID uint) error
}

// LifecycleService 持有预订状态机和凭证子状态机。
// 引擎本身无持久状态，每个命令在一个事务内读取当前状态并写回转移结果。
type LifecycleService struct {
	DB     *gorm.DB
	Config *config.Config
	Clock  Clock
}

// NewLifecycleService 创建一个新的生命周期引擎
func NewLifecycleService(db *gorm.DB, cfg *config.Config, clock Clock) InterfaceLifecycleService {
	return &LifecycleService{
		DB:     db,
		Config: cfg,
		Clock:  clock,
	}
}

// ApplyCommand 应用一条生命周期命令，返回新状态和需要执行的副作用意图。
// 乐观并发检查失败说明有命令交错，重读最新状态重放一次。
func (s *LifecycleService) ApplyCommand(cmd LifecycleCommand) (*ApplyResult, error) {
	result, err := s.applyOnce(cmd)
	if errors.Is(err, ErrConcurrentUpdate) {
		result, err = s.applyOnce(cmd)
	}
	return result, err
}

func (s *LifecycleService) applyOnce(cmd LifecycleCommand) (*ApplyResult, error) {
	var result *ApplyResult

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		switch cmd.Type {
		case CommandUpsertReservation:
			result, err = s.applyUpsert(tx, cmd)
		case CommandCancelReservation:
			result, err = s.applyTerminal(tx, cmd, models.ReservationStatusCancelled)
		case CommandMarkNoShow:
			result, err = s.applyTerminal(tx, cmd, models.ReservationStatusNoShow)
		default:
			err = fmt.Errorf("未知的命令类型: %s", cmd.Type)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// applyUpsert 创建或更新预订
func (s *LifecycleService) applyUpsert(tx *gorm.DB, cmd LifecycleCommand) (*ApplyResult, error) {
	if !cmd.CheckInAt.Before(cmd.CheckOutAt) {
		return nil, ErrInvalidDates
	}

	// 查找房源
	var accommodation models.Accommodation
	if err := tx.Where("external_id = ?", cmd.AccommodationExternalID).First(&accommodation).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownAccommodation
		}
		return nil, err
	}

	now := s.Clock.Now()

	var reservation models.Reservation
	err := tx.Where("external_id = ?", cmd.ReservationExternalID).First(&reservation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// 首次观测到该预订
		status := cmd.Status
		if status == "" {
			status = models.ReservationStatusPending
		}
		reservation = models.Reservation{
			ExternalID:      cmd.ReservationExternalID,
			AccommodationID: accommodation.ID,
			GuestName:       cmd.GuestName,
			CheckInAt:       cmd.CheckInAt,
			CheckOutAt:      cmd.CheckOutAt,
			Status:          status,
		}
		if err := tx.Create(&reservation).Error; err != nil {
			return nil, err
		}

		actions, err := s.deriveActions(tx, &reservation, now)
		if err != nil {
			return nil, err
		}
		return &ApplyResult{Reservation: &reservation, Actions: actions}, nil
	}
	if err != nil {
		return nil, err
	}

	// 终态预订不再接受任何变更，晚到的事件记录后忽略
	if reservation.Status.IsTerminal() {
		return &ApplyResult{Reservation: &reservation, Ignored: true}, nil
	}

	// 上游将预订推进到终态
	if cmd.Status.IsTerminal() {
		return s.finishReservation(tx, &reservation, cmd.Status, cmd.Source)
	}

	datesChanged := !reservation.CheckInAt.Equal(cmd.CheckInAt) || !reservation.CheckOutAt.Equal(cmd.CheckOutAt)
	statusChanged := cmd.Status != "" && cmd.Status != reservation.Status

	if !datesChanged && !statusChanged {
		return &ApplyResult{Reservation: &reservation}, nil
	}

	loadedAt := reservation.UpdatedAt
	oldCheckIn := reservation.CheckInAt
	reservation.CheckInAt = cmd.CheckInAt
	reservation.CheckOutAt = cmd.CheckOutAt
	if cmd.GuestName != "" {
		reservation.GuestName = cmd.GuestName
	}
	if statusChanged {
		reservation.Status = cmd.Status
	}
	if err := saveReservationGuarded(tx, &reservation, loadedAt); err != nil {
		return nil, err
	}

	actions, err := s.reviseCredential(tx, &reservation, oldCheckIn, datesChanged, now)
	if err != nil {
		return nil, err
	}
	return &ApplyResult{Reservation: &reservation, Actions: actions}, nil
}

// applyTerminal 将预订推进到取消/未入住终态
func (s *LifecycleService) applyTerminal(tx *gorm.DB, cmd LifecycleCommand, target models.ReservationStatus) (*ApplyResult, error) {
	var reservation models.Reservation
	if err := tx.Where("external_id = ?", cmd.ReservationExternalID).First(&reservation).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownReservation
		}
		return nil, err
	}

	if reservation.Status.IsTerminal() {
		return &ApplyResult{Reservation: &reservation, Ignored: true}, nil
	}

	return s.finishReservation(tx, &reservation, target, cmd.Source)
}

// finishReservation 写入终态并撤销生效凭证
func (s *LifecycleService) finishReservation(tx *gorm.DB, reservation *models.Reservation, target models.ReservationStatus, reason string) (*ApplyResult, error) {
	loadedAt := reservation.UpdatedAt
	reservation.Status = target
	if err := saveReservationGuarded(tx, reservation, loadedAt); err != nil {
		return nil, err
	}

	actions := []Action{{Type: ActionCancelJobs, ReservationID: reservation.ID}}

	// 无论是否到退房时间，取消都立即撤销凭证
	active, err := s.activeCredential(tx, reservation.ID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		actions = append(actions, Action{
			Type:          ActionRevokeNow,
			ReservationID: reservation.ID,
			CredentialID:  active.ID,
			Reason:        reason,
		})
	}

	return &ApplyResult{Reservation: reservation, Actions: actions}, nil
}

// deriveActions 根据预订状态、锁绑定和当前时间推导调度意图。
// 房源未绑定锁时只登记预订，等绑定事件触发补偿扫描。
func (s *LifecycleService) deriveActions(tx *gorm.DB, reservation *models.Reservation, now time.Time) ([]Action, error) {
	if reservation.Status != models.ReservationStatusConfirmed {
		return nil, nil
	}
	if !reservation.CheckOutAt.After(now) {
		// 退房时间已过，不再发放凭证
		return nil, nil
	}

	mapped, err := s.hasLockMapping(tx, reservation.AccommodationID)
	if err != nil {
		return nil, err
	}
	if !mapped {
		return nil, nil
	}

	return []Action{
		{Type: ActionScheduleGenerate, ReservationID: reservation.ID, RunAt: generateRunAt(reservation.CheckInAt, now)},
		{Type: ActionScheduleRevoke, ReservationID: reservation.ID, RunAt: reservation.CheckOutAt},
	}, nil
}

// reviseCredential 日期或状态变更后重新校验凭证窗口
func (s *LifecycleService) reviseCredential(tx *gorm.DB, reservation *models.Reservation, oldCheckIn time.Time, datesChanged bool, now time.Time) ([]Action, error) {
	active, err := s.activeCredential(tx, reservation.ID)
	if err != nil {
		return nil, err
	}

	if active == nil {
		// 尚无凭证，按当前状态重新推导（入队会替换同键任务的执行时间）
		return s.deriveActions(tx, reservation, now)
	}

	if !datesChanged {
		return nil, nil
	}

	// 新入住时间移到了未来：现有凭证失去依据，撤销并重新调度
	if reservation.CheckInAt.After(now) && !oldCheckIn.After(now) {
		return []Action{
			{Type: ActionRevokeNow, ReservationID: reservation.ID, CredentialID: active.ID, Reason: "date_change"},
			{Type: ActionScheduleGenerate, ReservationID: reservation.ID, RunAt: generateRunAt(reservation.CheckInAt, now)},
			{Type: ActionScheduleRevoke, ReservationID: reservation.ID, RunAt: reservation.CheckOutAt},
		}, nil
	}

	// 仍在窗口内：原地更新有效期，重排撤销任务
	active.ValidFrom = reservation.CheckInAt
	active.ValidTo = reservation.CheckOutAt
	if err := tx.Save(active).Error; err != nil {
		return nil, err
	}

	return []Action{
		{Type: ActionScheduleRevoke, ReservationID: reservation.ID, RunAt: reservation.CheckOutAt},
	}, nil
}

// ReevaluateAccommodation 补偿扫描：从数据库重建该房源下所有已确认预订的
// 调度意图。锁绑定创建后的追赶和对账兜底（进程重启丢失内存队列）都走这里。
// 尚无生效凭证的预订重新推导生成任务；已有生效凭证的预订重挂退房撤销任务，
// 入队按键替换，重复扫描无副作用。
func (s *LifecycleService) ReevaluateAccommodation(accommodationID uint) ([]Action, error) {
	var actions []Action

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		now := s.Clock.Now()

		var reservations []models.Reservation
		if err := tx.Where("accommodation_id = ? AND status = ?",
			accommodationID, models.ReservationStatusConfirmed).Find(&reservations).Error; err != nil {
			return err
		}

		for i := range reservations {
			res := &reservations[i]
			active, err := s.activeCredential(tx, res.ID)
			if err != nil {
				return err
			}
			if active != nil || !res.CheckOutAt.After(now) {
				// 有凭证的预订始终要挂退房撤销；退房已过的预订
				// 借撤销任务推进到COMPLETED（执行时间已过即刻到期）
				actions = append(actions, Action{
					Type:          ActionScheduleRevoke,
					ReservationID: res.ID,
					RunAt:         res.CheckOutAt,
				})
				continue
			}
			derived, err := s.deriveActions(tx, res, now)
			if err != nil {
				return err
			}
			actions = append(actions, derived...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return actions, nil
}

// CompleteReservation 退房撤销完成后将预订推进到COMPLETED。
// 与取消命令交错时重读一次：对方已写入终态则此处变为空操作。
func (s *LifecycleService) CompleteReservation(reservationID uint) error {
	err := s.completeOnce(reservationID)
	if errors.Is(err, ErrConcurrentUpdate) {
		err = s.completeOnce(reservationID)
	}
	return err
}

func (s *LifecycleService) completeOnce(reservationID uint) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		var reservation models.Reservation
		if err := tx.First(&reservation, reservationID).Error; err != nil {
			return err
		}
		if reservation.Status.IsTerminal() {
			return nil
		}
		loadedAt := reservation.UpdatedAt
		reservation.Status = models.ReservationStatusCompleted
		return saveReservationGuarded(tx, &reservation, loadedAt)
	})
}

// saveReservationGuarded 以读取时的updated_at做乐观并发检查写回预订。
// 行在读写之间被并发修改时返回ErrConcurrentUpdate。
func saveReservationGuarded(tx *gorm.DB, reservation *models.Reservation, loadedAt time.Time) error {
	result := tx.Model(&models.Reservation{}).
		Where("id = ? AND updated_at = ?", reservation.ID, loadedAt).
		Select("guest_name", "check_in_at", "check_out_at", "status").
		Updates(reservation)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConcurrentUpdate
	}
	return nil
}

// activeCredential 查询预订的生效凭证（不变式：任意时刻至多一个）
func (s *LifecycleService) activeCredential(tx *gorm.DB, reservationID uint) (*models.Credential, error) {
	var credential models.Credential
	err := tx.Where("reservation_id = ? AND status = ?", reservationID, models.CredentialStatusActive).First(&credential).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &credential, nil
}

// hasLockMapping 查询房源是否绑定了门锁
func (s *LifecycleService) hasLockMapping(tx *gorm.DB, accommodationID uint) (bool, error) {
	var count int64
	if err := tx.Model(&models.AccommodationLockMapping{}).Where("accommodation_id = ?", accommodationID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// generateRunAt 计算生成任务的执行时间。
// 入住时间等于或早于当前时间按已到期处理，立即执行。
func generateRunAt(checkInAt, now time.Time) time.Time {
	if !checkInAt.After(now) {
		return now
	}
	return checkInAt
}
