package services

import (
	"errors"

	"rentlock-http-service/config"
	"rentlock-http-service/models"

	"gorm.io/gorm"
)

// InterfaceLockService defines the lock service interface
type InterfaceLockService interface {
	GetAllLocks(page, pageSize int) ([]models.Lock, int64, error)
	GetLockByID(id uint) (*models.Lock, error)
	CreateLock(lock *models.Lock) error
	UpdateLock(id uint, updates map[string]interface{}) (*models.Lock, error)
	DeleteLock(id uint) error
	GetLockCredentials(lockID uint) ([]models.Credential, error)
}

// LockService 提供门锁相关的服务
type LockService struct {
	DB     *gorm.DB
	Config *config.Config
}

// NewLockService 创建一个新的门锁服务
func NewLockService(db *gorm.DB, cfg *config.Config) InterfaceLockService {
	return &LockService{
		DB:     db,
		Config: cfg,
	}
}

// GetAllLocks 获取所有门锁列表，支持分页
func (s *LockService) GetAllLocks(page, pageSize int) ([]models.Lock, int64, error) {
	var locks []models.Lock
	var total int64

	if err := s.DB.Model(&models.Lock{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	if err := s.DB.Preload("Mapping.Accommodation").Limit(pageSize).Offset(offset).Find(&locks).Error; err != nil {
		return nil, 0, err
	}

	return locks, total, nil
}

// GetLockByID 根据ID获取门锁
func (s *LockService) GetLockByID(id uint) (*models.Lock, error) {
	var lock models.Lock
	if err := s.DB.Preload("Mapping.Accommodation").First(&lock, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("门锁不存在")
		}
		return nil, err
	}

	return &lock, nil
}

// CreateLock 创建新门锁
func (s *LockService) CreateLock(lock *models.Lock) error {
	// 验证设备ID唯一性
	var count int64
	if err := s.DB.Model(&models.Lock{}).Where("device_id = ?", lock.DeviceID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return errors.New("门锁已存在")
	}

	if lock.Vendor == "" {
		lock.Vendor = models.LockVendorGeneric
	}

	return s.DB.Create(lock).Error
}

// UpdateLock 更新门锁信息
func (s *LockService) UpdateLock(id uint, updates map[string]interface{}) (*models.Lock, error) {
	lock, err := s.GetLockByID(id)
	if err != nil {
		return nil, err
	}

	// 如果更新设备ID，需要检查唯一性
	if deviceID, ok := updates["device_id"].(string); ok && deviceID != lock.DeviceID {
		var count int64
		if err := s.DB.Model(&models.Lock{}).Where("device_id = ? AND id != ?", deviceID, id).Count(&count).Error; err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, errors.New("门锁已存在")
		}
	}

	if err := s.DB.Model(lock).Updates(updates).Error; err != nil {
		return nil, err
	}

	return s.GetLockByID(id)
}

// DeleteLock 删除门锁。仍绑定房源的锁不允许删除。
func (s *LockService) DeleteLock(id uint) error {
	lock, err := s.GetLockByID(id)
	if err != nil {
		return err
	}

	var count int64
	if err := s.DB.Model(&models.AccommodationLockMapping{}).Where("lock_id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return errors.New("门锁已绑定房源，无法删除")
	}

	return s.DB.Delete(lock).Error
}

// GetLockCredentials 获取门锁上的凭证历史
func (s *LockService) GetLockCredentials(lockID uint) ([]models.Credential, error) {
	if _, err := s.GetLockByID(lockID); err != nil {
		return nil, err
	}

	var credentials []models.Credential
	if err := s.DB.Where("lock_id = ?", lockID).Order("created_at DESC").Find(&credentials).Error; err != nil {
		return nil, err
	}

	return credentials, nil
}
