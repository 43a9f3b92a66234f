package controllers

import (
	"encoding/json"
	"io"
	"net/http"

	"rentlock-http-service/models"
	"rentlock-http-service/services"
	"rentlock-http-service/services/container"

	"github.com/gin-gonic/gin"
)

// InterfaceWebhookController 定义Webhook控制器接口
type InterfaceWebhookController interface {
	Ingest()
}

// WebhookController 接收预订平台的事件通知
type WebhookController struct {
	Ctx       *gin.Context
	Container *container.ServiceContainer
}

// NewWebhookController 创建一个新的Webhook控制器
func NewWebhookController(ctx *gin.Context, container *container.ServiceContainer) *WebhookController {
	return &WebhookController{
		Ctx:       ctx,
		Container: container,
	}
}

// HandleWebhookFunc 返回一个处理Webhook请求的Gin处理函数
func HandleWebhookFunc(container *container.ServiceContainer, method string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		controller := NewWebhookController(ctx, container)

		switch method {
		case "ingest":
			controller.Ingest()
		default:
			ctx.JSON(http.StatusBadRequest, gin.H{
				"code":    400,
				"message": "无效的方法",
				"data":    nil,
			})
		}
	}
}

// webhookEnvelope 上游通知的外层结构
type webhookEnvelope struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

// Ingest 接收预订事件通知
// @Summary 接收预订事件
// @Description 接收预订平台推送的预订变更事件，幂等处理
// @Tags webhook
// @Accept json
// @Produce json
// @Param event body webhookEnvelope true "事件通知"
// @Success 202 {object} services.IngestResult
// @Failure 400 {object} ErrorResponse
// @Router /webhooks/reservations [post]
func (c *WebhookController) Ingest() {
	body, err := io.ReadAll(c.Ctx.Request.Body)
	if err != nil {
		c.Ctx.JSON(http.StatusBadRequest, gin.H{
			"code":    400,
			"message": "读取请求体失败",
			"data":    nil,
		})
		return
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		c.Ctx.JSON(http.StatusBadRequest, gin.H{
			"code":    400,
			"message": "请求体解析失败: " + err.Error(),
			"data":    nil,
		})
		return
	}

	webhookService := c.Container.GetService("webhook").(services.InterfaceWebhookService)
	result := webhookService.Ingest(envelope.EventID, models.WebhookEventType(envelope.EventType), envelope.Payload)

	switch result.Outcome {
	case services.IngestAccepted:
		// 接收即返回202，设备侧动作异步执行
		c.Ctx.JSON(http.StatusAccepted, gin.H{
			"code":    0,
			"message": "成功",
			"data":    result,
		})
	case services.IngestDuplicate:
		// 重复投递是正常现象，返回200避免上游重试风暴
		c.Ctx.JSON(http.StatusOK, gin.H{
			"code":    0,
			"message": "成功",
			"data":    result,
		})
	default:
		c.Ctx.JSON(http.StatusBadRequest, gin.H{
			"code":    400,
			"message": result.Detail,
			"data":    result,
		})
	}
}
