package services

import (
	"errors"

	"rentlock-http-service/config"
	"rentlock-http-service/models"

	"gorm.io/gorm"
)

// InterfaceReservationService defines the reservation read/operator service interface
type InterfaceReservationService interface {
	GetReservations(accommodationID uint, page, pageSize int) ([]models.Reservation, int64, error)
	GetReservationByID(id uint) (*models.Reservation, error)
	GetReservationCredentials(id uint) ([]models.Credential, error)
	MarkNoShow(id uint) (*ApplyResult, error)
	ForceRevoke(id uint, operator string) error
}

// ReservationService 提供预订查询和运维操作。
// 所有状态变更仍然通过生命周期引擎的命令入口。
type ReservationService struct {
	DB        *gorm.DB
	Config    *config.Config
	Lifecycle InterfaceLifecycleService
	Scheduler InterfaceSchedulerService
}

// NewReservationService 创建一个新的预订服务
func NewReservationService(db *gorm.DB, cfg *config.Config, lifecycle InterfaceLifecycleService, scheduler InterfaceSchedulerService) InterfaceReservationService {
	return &ReservationService{
		DB:        db,
		Config:    cfg,
		Lifecycle: lifecycle,
		Scheduler: scheduler,
	}
}

// GetReservations 按房源获取预订列表，支持分页
func (s *ReservationService) GetReservations(accommodationID uint, page, pageSize int) ([]models.Reservation, int64, error) {
	var reservations []models.Reservation
	var total int64

	query := s.DB.Model(&models.Reservation{})
	if accommodationID != 0 {
		query = query.Where("accommodation_id = ?", accommodationID)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	listQuery := s.DB.Order("check_in_at DESC").Limit(pageSize).Offset(offset)
	if accommodationID != 0 {
		listQuery = listQuery.Where("accommodation_id = ?", accommodationID)
	}
	if err := listQuery.Find(&reservations).Error; err != nil {
		return nil, 0, err
	}

	return reservations, total, nil
}

// GetReservationByID 根据ID获取预订（含凭证历史）
func (s *ReservationService) GetReservationByID(id uint) (*models.Reservation, error) {
	var reservation models.Reservation
	if err := s.DB.Preload("Accommodation").Preload("Credentials").First(&reservation, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("预订不存在")
		}
		return nil, err
	}

	return &reservation, nil
}

// GetReservationCredentials 获取预订的凭证历史
func (s *ReservationService) GetReservationCredentials(id uint) ([]models.Credential, error) {
	if _, err := s.GetReservationByID(id); err != nil {
		return nil, err
	}

	var credentials []models.Credential
	if err := s.DB.Where("reservation_id = ?", id).Order("created_at DESC").Find(&credentials).Error; err != nil {
		return nil, err
	}

	return credentials, nil
}

// MarkNoShow 运维标记预订未入住，走引擎命令入口
func (s *ReservationService) MarkNoShow(id uint) (*ApplyResult, error) {
	reservation, err := s.GetReservationByID(id)
	if err != nil {
		return nil, err
	}

	applied, err := s.Lifecycle.ApplyCommand(LifecycleCommand{
		Type:                  CommandMarkNoShow,
		ReservationExternalID: reservation.ExternalID,
		Source:                "operator",
	})
	if err != nil {
		return nil, err
	}

	s.Scheduler.Dispatch(applied.Actions)
	return applied, nil
}

// ForceRevoke 运维强制撤销预订的生效凭证
func (s *ReservationService) ForceRevoke(id uint, operator string) error {
	var credential models.Credential
	err := s.DB.Where("reservation_id = ? AND status = ?", id, models.CredentialStatusActive).First(&credential).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.New("凭证不存在")
	}
	if err != nil {
		return err
	}

	reason := "operator"
	if operator != "" {
		reason = "operator:" + operator
	}

	s.Scheduler.Dispatch([]Action{{
		Type:          ActionRevokeNow,
		ReservationID: id,
		CredentialID:  credential.ID,
		Reason:        reason,
	}})
	return nil
}
