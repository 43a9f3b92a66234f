package services

import "time"

// Clock 抽象时间来源，便于在测试中模拟入住/退房时间边界
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// NewRealClock 返回系统时钟
func NewRealClock() Clock {
	return realClock{}
}
