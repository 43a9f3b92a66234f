package services

import (
	"errors"

	"rentlock-http-service/config"
	"rentlock-http-service/models"
	"rentlock-http-service/utils"

	"gorm.io/gorm"
)

// InterfaceAdminService defines the admin service interface
type InterfaceAdminService interface {
	GetAdminByUsername(username string) (*models.Admin, error)
	Authenticate(username, password string) (*models.Admin, error)
	CreateAdmin(admin *models.Admin) error
}

// AdminService 提供管理员相关的服务
type AdminService struct {
	DB     *gorm.DB
	Config *config.Config
}

// NewAdminService 创建一个新的管理员服务
func NewAdminService(db *gorm.DB, cfg *config.Config) InterfaceAdminService {
	return &AdminService{
		DB:     db,
		Config: cfg,
	}
}

// GetAdminByUsername 根据用户名获取管理员
func (s *AdminService) GetAdminByUsername(username string) (*models.Admin, error) {
	var admin models.Admin
	if err := s.DB.Where("username = ?", username).First(&admin).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("管理员不存在")
		}
		return nil, err
	}
	return &admin, nil
}

// Authenticate 校验用户名和密码
func (s *AdminService) Authenticate(username, password string) (*models.Admin, error) {
	admin, err := s.GetAdminByUsername(username)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	if !utils.CheckPasswordHash(password, admin.Password) {
		return nil, ErrInvalidCredentials
	}

	return admin, nil
}

// CreateAdmin 创建新管理员
func (s *AdminService) CreateAdmin(admin *models.Admin) error {
	// 验证用户名唯一性
	var count int64
	if err := s.DB.Model(&models.Admin{}).Where("username = ?", admin.Username).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return errors.New("用户名已存在")
	}

	// 设置密码哈希
	hashedPassword, err := utils.HashPassword(admin.Password)
	if err != nil {
		return errors.New("密码加密失败")
	}
	admin.Password = hashedPassword

	return s.DB.Create(admin).Error
}
