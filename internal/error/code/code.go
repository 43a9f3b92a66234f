package code

// HTTP状态码.
const (
	// StatusOK - 200: 成功.
	StatusOK = 200
	// StatusAccepted - 202: 已接受，异步处理中.
	StatusAccepted = 202
	// StatusBadRequest - 400: 请求参数错误.
	StatusBadRequest = 400
	// StatusUnauthorized - 401: 未授权.
	StatusUnauthorized = 401
	// StatusForbidden - 403: 禁止访问.
	StatusForbidden = 403
	// StatusNotFound - 404: 资源不存在.
	StatusNotFound = 404
	// StatusConflict - 409: 资源冲突.
	StatusConflict = 409
	// StatusInternalServerError - 500: 服务器内部错误.
	StatusInternalServerError = 500
	// StatusTooManyRequests - 429: 请求过多.
	StatusTooManyRequests = 429
)

// 通用错误码 (100xxx).
const (
	// ErrSuccess - 200: 成功.
	ErrSuccess int = iota + 100000
	// ErrUnknown - 500: 未知错误.
	ErrUnknown
	// ErrBind - 400: 请求参数绑定错误.
	ErrBind
	// ErrValidation - 400: 请求参数验证错误.
	ErrValidation
	// ErrTokenInvalid - 401: 令牌无效.
	ErrTokenInvalid
	// ErrTooManyRequests - 429: 请求频率过高.
	ErrTooManyRequests
)

// 房源相关错误码 (101xxx).
const (
	// ErrAccommodationNotFound - 404: 房源不存在.
	ErrAccommodationNotFound int = iota + 101000
	// ErrAccommodationAlreadyExist - 400: 房源已存在.
	ErrAccommodationAlreadyExist
	// ErrAccommodationNotMapped - 400: 房源未绑定门锁.
	ErrAccommodationNotMapped
	// ErrMappingConflict - 409: 门锁绑定冲突.
	ErrMappingConflict
)

// 门锁相关错误码 (102xxx).
const (
	// ErrLockNotFound - 404: 门锁不存在.
	ErrLockNotFound int = iota + 102000
	// ErrLockAlreadyExist - 400: 门锁已存在.
	ErrLockAlreadyExist
	// ErrLockMapped - 409: 门锁已绑定房源.
	ErrLockMapped
	// ErrDeviceRejected - 400: 设备拒绝指令.
	ErrDeviceRejected
)

// 预订相关错误码 (103xxx).
const (
	// ErrReservationNotFound - 404: 预订不存在.
	ErrReservationNotFound int = iota + 103000
	// ErrReservationTerminal - 409: 预订已处于终态.
	ErrReservationTerminal
	// ErrReservationDatesInvalid - 400: 入住时间晚于退房时间.
	ErrReservationDatesInvalid
)

// 凭证相关错误码 (104xxx).
const (
	// ErrCredentialNotFound - 404: 凭证不存在.
	ErrCredentialNotFound int = iota + 104000
	// ErrCredentialConflict - 409: 预订已存在生效凭证.
	ErrCredentialConflict
)

// Webhook相关错误码 (105xxx).
const (
	// ErrWebhookDuplicate - 200: 重复事件，已忽略.
	ErrWebhookDuplicate int = iota + 105000
	// ErrWebhookInvalid - 400: 事件负载无效.
	ErrWebhookInvalid
)

// 对账相关错误码 (106xxx).
const (
	// ErrReconcileRunning - 409: 对账正在进行中.
	ErrReconcileRunning int = iota + 106000
	// ErrReconcileNoRun - 404: 尚无对账记录.
	ErrReconcileNoRun
)

// 数据库相关错误码 (107xxx).
const (
	// ErrDatabase - 500: 数据库错误.
	ErrDatabase int = iota + 107000
	// ErrRecordNotFound - 404: 记录不存在.
	ErrRecordNotFound
)
