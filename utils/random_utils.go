package utils

import (
	"crypto/rand"
	"math/big"
	"strings"
)

// RandomPin 生成指定位数的随机数字PIN
func RandomPin(length int) (string, error) {
	var sb strings.Builder
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		sb.WriteByte(byte('0' + n.Int64()))
	}
	return sb.String(), nil
}
