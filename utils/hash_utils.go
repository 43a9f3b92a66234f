package utils

import (
	"golang.org/x/crypto/bcrypt"
)

// HashPassword 使用 bcrypt 对密码进行哈希处理
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// CheckPasswordHash 比较密码和哈希值
func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// HashPin 使用 bcrypt 对PIN进行哈希处理，明文只在下发设备时短暂存在
func HashPin(pin string) (string, error) {
	return HashPassword(pin)
}

// CheckPinHash 比较PIN和哈希值
func CheckPinHash(pin, hash string) bool {
	return CheckPasswordHash(pin, hash)
}
