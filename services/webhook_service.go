package services

import (
	"encoding/json"
	"errors"
	"log"
	"time"

	"rentlock-http-service/config"
	"rentlock-http-service/models"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// IngestOutcome Webhook接收结果。所有失败都收敛成有界结果对象，
// 不向HTTP层抛异常。
type IngestOutcome string

const (
	IngestAccepted  IngestOutcome = "accepted"
	IngestDuplicate IngestOutcome = "duplicate"
	IngestInvalid   IngestOutcome = "invalid"
)

// IngestResult Webhook处理结果
type IngestResult struct {
	Outcome IngestOutcome `json:"outcome"`
	Detail  string        `json:"detail,omitempty"`
}

// WebhookPayload 预订变更通知的负载。鸭子类型的上游消息体在这里
// 一次性校验并转换成封闭的命令集合，引擎只见封闭集合。
type WebhookPayload struct {
	ReservationID   string `json:"reservation_id" validate:"required"`
	AccommodationID string `json:"accommodation_id" validate:"required"`
	GuestName       string `json:"guest_name"`
	CheckInAt       string `json:"check_in_at"`
	CheckOutAt      string `json:"check_out_at"`
	Status          string `json:"status" validate:"omitempty,oneof=PENDING CONFIRMED CANCELLED NO_SHOW"`
}

// InterfaceWebhookService 定义Webhook接收服务接口
type InterfaceWebhookService interface {
	Ingest(eventID string, eventType models.WebhookEventType, rawPayload []byte) IngestResult
}

// WebhookService 校验、去重入站通知并翻译成生命周期命令
type WebhookService struct {
	DB        *gorm.DB
	Config    *config.Config
	Lifecycle InterfaceLifecycleService
	Scheduler InterfaceSchedulerService
	Redis     InterfaceRedisService
	validate  *validator.Validate
}

// NewWebhookService 创建一个新的Webhook接收服务
func NewWebhookService(db *gorm.DB, cfg *config.Config, lifecycle InterfaceLifecycleService, scheduler InterfaceSchedulerService, redis InterfaceRedisService) InterfaceWebhookService {
	return &WebhookService{
		DB:        db,
		Config:    cfg,
		Lifecycle: lifecycle,
		Scheduler: scheduler,
		Redis:     redis,
		validate:  validator.New(),
	}
}

// Ingest 接收一条预订变更通知。
// 至少一次投递要求幂等：重复的事件ID返回Duplicate且无副作用。
func (s *WebhookService) Ingest(eventID string, eventType models.WebhookEventType, rawPayload []byte) IngestResult {
	if eventID == "" {
		return IngestResult{Outcome: IngestInvalid, Detail: "缺少事件ID"}
	}

	// Redis快速路径去重，只读提示；键在事件落库成功后才写入，
	// 落库失败的重投不会被误判为重复
	if s.Redis != nil {
		if seen, err := s.Redis.IsWebhookSeen(eventID); err == nil && seen {
			return IngestResult{Outcome: IngestDuplicate}
		}
	}

	var payload WebhookPayload
	if err := json.Unmarshal(rawPayload, &payload); err != nil {
		return IngestResult{Outcome: IngestInvalid, Detail: "负载解析失败: " + err.Error()}
	}
	if err := s.validate.Struct(&payload); err != nil {
		return IngestResult{Outcome: IngestInvalid, Detail: "负载校验失败: " + err.Error()}
	}

	cmd, result := s.translate(eventType, &payload)
	if result != nil {
		return *result
	}

	// 先落事件记录再派发命令：接收后处理前崩溃的事件由对账恢复
	event := models.WebhookEvent{
		EventID:       eventID,
		EventType:     eventType,
		ReservationID: payload.ReservationID,
		RawPayload:    string(rawPayload),
	}
	if err := s.DB.Create(&event).Error; err != nil {
		if isDuplicateKeyError(err) {
			return IngestResult{Outcome: IngestDuplicate}
		}
		log.Printf("[Webhook] 事件 %s 持久化失败: %v", eventID, err)
		return IngestResult{Outcome: IngestInvalid, Detail: "事件持久化失败"}
	}
	if s.Redis != nil {
		if _, err := s.Redis.MarkWebhookSeen(eventID, 24*time.Hour); err != nil {
			log.Printf("[Webhook] 登记事件 %s 快速路径键失败: %v", eventID, err)
		}
	}

	applied, err := s.Lifecycle.ApplyCommand(*cmd)
	if err != nil {
		if errors.Is(err, ErrUnknownAccommodation) {
			// 房源尚未登记，不自动重试；需要先建立绑定，之后由对账恢复
			log.Printf("[Webhook] 事件 %s 引用了未知房源 %s", eventID, payload.AccommodationID)
			return IngestResult{Outcome: IngestInvalid, Detail: "房源不存在"}
		}
		if errors.Is(err, ErrUnknownReservation) {
			// 取消了一个从未观测到的预订；对账会收敛，按已处理记录
			log.Printf("[Webhook] 事件 %s 取消了未知预订 %s", eventID, payload.ReservationID)
		} else if errors.Is(err, ErrInvalidDates) {
			return IngestResult{Outcome: IngestInvalid, Detail: err.Error()}
		} else {
			log.Printf("[Webhook] 事件 %s 命令执行失败: %v", eventID, err)
			return IngestResult{Outcome: IngestInvalid, Detail: "命令执行失败"}
		}
	}

	if applied != nil {
		s.Scheduler.Dispatch(applied.Actions)
		if applied.Ignored {
			log.Printf("[Webhook] 事件 %s 作用于终态预订，已忽略", eventID)
		}
	}

	if err := s.DB.Model(&event).Update("processed", true).Error; err != nil {
		log.Printf("[Webhook] 标记事件 %s 已处理失败: %v", eventID, err)
	}

	return IngestResult{Outcome: IngestAccepted}
}

// translate 把事件翻译成封闭命令集中的一条
func (s *WebhookService) translate(eventType models.WebhookEventType, payload *WebhookPayload) (*LifecycleCommand, *IngestResult) {
	switch eventType {
	case models.WebhookEventReservationUpserted:
		checkIn, err := time.Parse(time.RFC3339, payload.CheckInAt)
		if err != nil {
			return nil, &IngestResult{Outcome: IngestInvalid, Detail: "check_in_at格式无效"}
		}
		checkOut, err := time.Parse(time.RFC3339, payload.CheckOutAt)
		if err != nil {
			return nil, &IngestResult{Outcome: IngestInvalid, Detail: "check_out_at格式无效"}
		}
		return &LifecycleCommand{
			Type:                    CommandUpsertReservation,
			ReservationExternalID:   payload.ReservationID,
			AccommodationExternalID: payload.AccommodationID,
			GuestName:               payload.GuestName,
			CheckInAt:               checkIn,
			CheckOutAt:              checkOut,
			Status:                  models.ReservationStatus(payload.Status),
			Source:                  "webhook",
		}, nil
	case models.WebhookEventReservationCancelled:
		return &LifecycleCommand{
			Type:                  CommandCancelReservation,
			ReservationExternalID: payload.ReservationID,
			Source:                "webhook",
		}, nil
	default:
		return nil, &IngestResult{Outcome: IngestInvalid, Detail: "未知的事件类型"}
	}
}

// isDuplicateKeyError 判断是否为唯一约束冲突
func isDuplicateKeyError(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
