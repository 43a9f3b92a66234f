package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"rentlock-http-service/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// InterfaceLockGatewayService 定义门锁网关接口。
// 只有调度器的工作协程允许调用它，设备侧副作用全部集中在这里。
type InterfaceLockGatewayService interface {
	Connect() error
	Disconnect()
	SetPin(deviceID, pin string, validFrom, validTo time.Time) error
	ClearPin(deviceID string, credentialRef string) error
}

// 网关错误分类：超时/断连可重试，设备明确拒绝为永久失败
var (
	ErrGatewayUnavailable = errors.New("门锁网关不可达")
	ErrGatewayTimeout     = errors.New("等待设备确认超时")
	ErrDeviceRejected     = errors.New("设备拒绝指令")
)

// 主题常量
const (
	// 下发指令主题，按设备ID区分
	TopicLockCommand = "rentlock/command/%s"

	// 设备确认主题
	TopicLockAck = "rentlock/ack"
)

// 消息结构体定义
type (
	// LockCommandMessage 下发给设备的指令
	LockCommandMessage struct {
		RequestID string `json:"request_id"`
		Action    string `json:"action"` // set_pin / clear_pin
		Pin       string `json:"pin,omitempty"`
		Ref       string `json:"ref,omitempty"` // 凭证引用，clear_pin使用
		ValidFrom int64  `json:"valid_from,omitempty"`
		ValidTo   int64  `json:"valid_to,omitempty"`
		Timestamp int64  `json:"timestamp"`
	}

	// LockAckMessage 设备确认消息
	LockAckMessage struct {
		RequestID string `json:"request_id"`
		Status    string `json:"status"` // ok / rejected
		Reason    string `json:"reason,omitempty"`
	}
)

// LockGatewayService 通过MQTT与门锁设备通信
type LockGatewayService struct {
	Config         *config.Config
	Client         mqtt.Client
	IsConnected    bool
	connectedMutex sync.RWMutex // 保护IsConnected字段的读写
	PendingAcks    *sync.Map    // request_id -> chan LockAckMessage
	PublishMutex   sync.Mutex   // 用于保护MQTT消息发布
}

// NewLockGatewayService 创建一个新的门锁网关服务
func NewLockGatewayService(cfg *config.Config) InterfaceLockGatewayService {
	service := &LockGatewayService{
		Config:      cfg,
		IsConnected: false,
		PendingAcks: &sync.Map{},
	}

	// 设置MQTT客户端
	service.setupMQTTClient()

	return service
}

// setupMQTTClient 设置MQTT客户端
func (s *LockGatewayService) setupMQTTClient() {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.Config.MQTTBrokerURL)
	// 使用唯一的客户端ID，避免同一服务多实例冲突
	opts.SetClientID(fmt.Sprintf("%s-%s", s.Config.MQTTClientID, uuid.New().String()[:8]))
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(time.Second * 30)
	opts.SetKeepAlive(time.Second * 60)
	opts.SetPingTimeout(time.Second * 10)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(true)

	// 添加用户名和密码
	if s.Config.MQTTUsername != "" {
		opts.SetUsername(s.Config.MQTTUsername)
		opts.SetPassword(s.Config.MQTTPassword)
	}

	// 设置连接丢失回调
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Printf("[MQTT] 连接丢失: %v", err)
		s.connectedMutex.Lock()
		s.IsConnected = false
		s.connectedMutex.Unlock()
	})

	// 设置连接建立回调
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Println("[MQTT] 成功连接到", s.Config.MQTTBrokerURL)
		s.connectedMutex.Lock()
		s.IsConnected = true
		s.connectedMutex.Unlock()

		// 订阅确认主题
		if token := client.Subscribe(TopicLockAck, 1, s.handleAckMessage); token.Wait() && token.Error() != nil {
			log.Printf("[MQTT] 订阅确认主题失败: %v", token.Error())
		}
	})

	// 创建客户端
	s.Client = mqtt.NewClient(opts)
}

// Connect 连接MQTT服务器
func (s *LockGatewayService) Connect() error {
	token := s.Client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return ErrGatewayUnavailable
	}
	if token.Error() != nil {
		return fmt.Errorf("连接MQTT服务器失败: %w", token.Error())
	}
	return nil
}

// Disconnect 断开MQTT连接
func (s *LockGatewayService) Disconnect() {
	if s.Client != nil && s.Client.IsConnected() {
		s.Client.Disconnect(250)
	}
}

// handleAckMessage 处理设备确认消息，按request_id路由到等待中的调用
func (s *LockGatewayService) handleAckMessage(client mqtt.Client, msg mqtt.Message) {
	var ack LockAckMessage
	if err := json.Unmarshal(msg.Payload(), &ack); err != nil {
		log.Printf("[MQTT] 解析确认消息失败: %v", err)
		return
	}

	if ch, ok := s.PendingAcks.Load(ack.RequestID); ok {
		select {
		case ch.(chan LockAckMessage) <- ack:
		default:
			// 等待方已超时离开
		}
	}
}

// SetPin 在设备上设置PIN，等待设备确认
func (s *LockGatewayService) SetPin(deviceID, pin string, validFrom, validTo time.Time) error {
	cmd := LockCommandMessage{
		RequestID: uuid.New().String(),
		Action:    "set_pin",
		Pin:       pin,
		ValidFrom: validFrom.Unix(),
		ValidTo:   validTo.Unix(),
		Timestamp: time.Now().UnixMilli(),
	}
	return s.sendCommand(deviceID, cmd)
}

// ClearPin 清除设备上的PIN，等待设备确认
func (s *LockGatewayService) ClearPin(deviceID string, credentialRef string) error {
	cmd := LockCommandMessage{
		RequestID: uuid.New().String(),
		Action:    "clear_pin",
		Ref:       credentialRef,
		Timestamp: time.Now().UnixMilli(),
	}
	return s.sendCommand(deviceID, cmd)
}

// sendCommand 发布指令并等待确认，超时按可重试处理
func (s *LockGatewayService) sendCommand(deviceID string, cmd LockCommandMessage) error {
	s.connectedMutex.RLock()
	connected := s.IsConnected
	s.connectedMutex.RUnlock()
	if !connected {
		return ErrGatewayUnavailable
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return err
	}

	ackCh := make(chan LockAckMessage, 1)
	s.PendingAcks.Store(cmd.RequestID, ackCh)
	defer s.PendingAcks.Delete(cmd.RequestID)

	topic := fmt.Sprintf(TopicLockCommand, deviceID)

	s.PublishMutex.Lock()
	token := s.Client.Publish(topic, 1, false, payload)
	s.PublishMutex.Unlock()

	if !token.WaitTimeout(5 * time.Second) {
		return ErrGatewayTimeout
	}
	if token.Error() != nil {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, token.Error())
	}

	select {
	case ack := <-ackCh:
		if ack.Status != "ok" {
			return fmt.Errorf("%w: %s", ErrDeviceRejected, ack.Reason)
		}
		return nil
	case <-time.After(s.Config.MQTTAckTimeout):
		return ErrGatewayTimeout
	}
}
