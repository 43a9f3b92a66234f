package code

// 错误码消息映射
var codeMessageMap = map[int]string{
	// 通用错误码
	ErrSuccess:         "成功",
	ErrUnknown:         "未知错误",
	ErrBind:            "请求参数绑定错误",
	ErrValidation:      "请求参数验证错误",
	ErrTokenInvalid:    "无效的认证令牌",
	ErrTooManyRequests: "请求频率过高",

	// 房源相关错误码
	ErrAccommodationNotFound:     "房源不存在",
	ErrAccommodationAlreadyExist: "房源已存在",
	ErrAccommodationNotMapped:    "房源未绑定门锁",
	ErrMappingConflict:           "门锁绑定冲突",

	// 门锁相关错误码
	ErrLockNotFound:     "门锁不存在",
	ErrLockAlreadyExist: "门锁已存在",
	ErrLockMapped:       "门锁已绑定房源，无法操作",
	ErrDeviceRejected:   "设备拒绝指令",

	// 预订相关错误码
	ErrReservationNotFound:     "预订不存在",
	ErrReservationTerminal:     "预订已处于终态，不可修改",
	ErrReservationDatesInvalid: "入住时间必须早于退房时间",

	// 凭证相关错误码
	ErrCredentialNotFound: "凭证不存在",
	ErrCredentialConflict: "该预订已存在生效凭证",

	// Webhook相关错误码
	ErrWebhookDuplicate: "重复事件，已忽略",
	ErrWebhookInvalid:   "事件负载无效",

	// 对账相关错误码
	ErrReconcileRunning: "对账正在进行中",
	ErrReconcileNoRun:   "尚无对账记录",

	// 数据库相关错误码
	ErrDatabase:       "数据库错误",
	ErrRecordNotFound: "记录不存在",
}

// 错误码HTTP状态码映射
var codeStatusMap = map[int]int{
	// 通用错误码
	ErrSuccess:         StatusOK,
	ErrUnknown:         StatusInternalServerError,
	ErrBind:            StatusBadRequest,
	ErrValidation:      StatusBadRequest,
	ErrTokenInvalid:    StatusUnauthorized,
	ErrTooManyRequests: StatusTooManyRequests,

	// 房源相关错误码
	ErrAccommodationNotFound:     StatusNotFound,
	ErrAccommodationAlreadyExist: StatusBadRequest,
	ErrAccommodationNotMapped:    StatusBadRequest,
	ErrMappingConflict:           StatusConflict,

	// 门锁相关错误码
	ErrLockNotFound:     StatusNotFound,
	ErrLockAlreadyExist: StatusBadRequest,
	ErrLockMapped:       StatusConflict,
	ErrDeviceRejected:   StatusBadRequest,

	// 预订相关错误码
	ErrReservationNotFound:     StatusNotFound,
	ErrReservationTerminal:     StatusConflict,
	ErrReservationDatesInvalid: StatusBadRequest,

	// 凭证相关错误码
	ErrCredentialNotFound: StatusNotFound,
	ErrCredentialConflict: StatusConflict,

	// Webhook相关错误码
	ErrWebhookDuplicate: StatusOK,
	ErrWebhookInvalid:   StatusBadRequest,

	// 对账相关错误码
	ErrReconcileRunning: StatusConflict,
	ErrReconcileNoRun:   StatusNotFound,

	// 数据库相关错误码
	ErrDatabase:       StatusInternalServerError,
	ErrRecordNotFound: StatusNotFound,
}

// GetMessage 获取错误码对应的消息
func GetMessage(code int) string {
	if msg, ok := codeMessageMap[code]; ok {
		return msg
	}
	return codeMessageMap[ErrUnknown]
}

// GetStatus 获取错误码对应的HTTP状态码
func GetStatus(code int) int {
	if status, ok := codeStatusMap[code]; ok {
		return status
	}
	return StatusInternalServerError
}
