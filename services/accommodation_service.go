package services

import (
	"errors"
	"log"

	"rentlock-http-service/config"
	"rentlock-http-service/models"

	"gorm.io/gorm"
)

// InterfaceAccommodationService defines the accommodation service interface
type InterfaceAccommodationService interface {
	GetAllAccommodations(page, pageSize int) ([]models.Accommodation, int64, error)
	GetAccommodationByID(id uint) (*models.Accommodation, error)
	CreateAccommodation(accommodation *models.Accommodation) error
	UpdateAccommodation(id uint, updates map[string]interface{}) (*models.Accommodation, error)
	MapLock(accommodationID, lockID uint) (*models.AccommodationLockMapping, error)
	UnmapLock(accommodationID uint) error
}

// AccommodationService 提供房源相关的服务
type AccommodationService struct {
	DB        *gorm.DB
	Config    *config.Config
	Lifecycle InterfaceLifecycleService
	Scheduler InterfaceSchedulerService
	Clock     Clock
}

// NewAccommodationService 创建一个新的房源服务
func NewAccommodationService(db *gorm.DB, cfg *config.Config, lifecycle InterfaceLifecycleService, scheduler InterfaceSchedulerService, clock Clock) InterfaceAccommodationService {
	return &AccommodationService{
		DB:        db,
		Config:    cfg,
		Lifecycle: lifecycle,
		Scheduler: scheduler,
		Clock:     clock,
	}
}

// GetAllAccommodations 获取所有房源列表，支持分页
func (s *AccommodationService) GetAllAccommodations(page, pageSize int) ([]models.Accommodation, int64, error) {
	var accommodations []models.Accommodation
	var total int64

	if err := s.DB.Model(&models.Accommodation{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	if err := s.DB.Preload("LockMapping.Lock").Limit(pageSize).Offset(offset).Find(&accommodations).Error; err != nil {
		return nil, 0, err
	}

	return accommodations, total, nil
}

// GetAccommodationByID 根据ID获取房源
func (s *AccommodationService) GetAccommodationByID(id uint) (*models.Accommodation, error) {
	var accommodation models.Accommodation
	if err := s.DB.Preload("LockMapping.Lock").First(&accommodation, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("房源不存在")
		}
		return nil, err
	}

	return &accommodation, nil
}

// CreateAccommodation 创建新房源
func (s *AccommodationService) CreateAccommodation(accommodation *models.Accommodation) error {
	// 验证外部ID唯一性
	var count int64
	if err := s.DB.Model(&models.Accommodation{}).Where("external_id = ?", accommodation.ExternalID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return errors.New("房源已存在")
	}

	if accommodation.Status == "" {
		accommodation.Status = models.AccommodationStatusActive
	}

	return s.DB.Create(accommodation).Error
}

// UpdateAccommodation 更新房源信息
func (s *AccommodationService) UpdateAccommodation(id uint, updates map[string]interface{}) (*models.Accommodation, error) {
	accommodation, err := s.GetAccommodationByID(id)
	if err != nil {
		return nil, err
	}

	if err := s.DB.Model(accommodation).Updates(updates).Error; err != nil {
		return nil, err
	}

	return s.GetAccommodationByID(id)
}

// MapLock 为房源绑定门锁。一个房源至多一把锁，一把锁至多一个房源。
// 绑定成功后触发补偿扫描，重新评估该房源下已确认但未调度的预订。
func (s *AccommodationService) MapLock(accommodationID, lockID uint) (*models.AccommodationLockMapping, error) {
	var mapping models.AccommodationLockMapping

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var accommodation models.Accommodation
		if err := tx.First(&accommodation, accommodationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errors.New("房源不存在")
			}
			return err
		}

		var lock models.Lock
		if err := tx.First(&lock, lockID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errors.New("门锁不存在")
			}
			return err
		}

		// 物理设备不允许同时绑定两个房源
		var count int64
		if err := tx.Model(&models.AccommodationLockMapping{}).
			Where("lock_id = ? AND accommodation_id != ?", lockID, accommodationID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return errors.New("门锁已绑定其他房源")
		}

		// 已有绑定则更新，保持房源至多一条映射
		err := tx.Where("accommodation_id = ?", accommodationID).First(&mapping).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			mapping = models.AccommodationLockMapping{
				AccommodationID: accommodationID,
				LockID:          lockID,
			}
			return tx.Create(&mapping).Error
		}
		if err != nil {
			return err
		}

		mapping.LockID = lockID
		return tx.Save(&mapping).Error
	})
	if err != nil {
		return nil, err
	}

	// 补偿扫描：之前因未绑定锁而未调度的预订现在可以发放凭证了
	actions, err := s.Lifecycle.ReevaluateAccommodation(accommodationID)
	if err != nil {
		log.Printf("[Accommodation] 房源 %d 补偿扫描失败: %v", accommodationID, err)
	} else if len(actions) > 0 {
		s.Scheduler.Dispatch(actions)
		log.Printf("[Accommodation] 房源 %d 绑定门锁后补偿调度 %d 个动作", accommodationID, len(actions))
	}

	return &mapping, nil
}

// UnmapLock 解除房源的门锁绑定。该锁上的生效凭证立即撤销（安全默认值）。
func (s *AccommodationService) UnmapLock(accommodationID uint) error {
	var mapping models.AccommodationLockMapping
	if err := s.DB.Where("accommodation_id = ?", accommodationID).First(&mapping).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.New("房源未绑定门锁")
		}
		return err
	}

	// 解绑前先撤销该锁上仍生效的凭证
	var credentials []models.Credential
	if err := s.DB.Where("lock_id = ? AND status = ?", mapping.LockID, models.CredentialStatusActive).Find(&credentials).Error; err != nil {
		return err
	}
	for _, credential := range credentials {
		s.Scheduler.Dispatch([]Action{{
			Type:          ActionRevokeNow,
			ReservationID: credential.ReservationID,
			CredentialID:  credential.ID,
			Reason:        "unmap",
		}})
	}

	return s.DB.Delete(&mapping).Error
}
