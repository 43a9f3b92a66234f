package controllers

import (
	"net/http"
	"strconv"

	"rentlock-http-service/services"
	"rentlock-http-service/services/container"

	"github.com/gin-gonic/gin"
)

// InterfaceReconciliationController 定义对账控制器接口
type InterfaceReconciliationController interface {
	GetStatus()
	RunNow()
	GetPendingJobs()
	GetDeadLetters()
}

// ReconciliationController 处理对账和调度器观测请求
type ReconciliationController struct {
	Ctx       *gin.Context
	Container *container.ServiceContainer
}

// NewReconciliationController 创建一个新的对账控制器
func NewReconciliationController(ctx *gin.Context, container *container.ServiceContainer) *ReconciliationController {
	return &ReconciliationController{
		Ctx:       ctx,
		Container: container,
	}
}

// HandleReconciliationFunc 返回一个处理对账请求的Gin处理函数
func HandleReconciliationFunc(container *container.ServiceContainer, method string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		controller := NewReconciliationController(ctx, container)

		switch method {
		case "getStatus":
			controller.GetStatus()
		case "runNow":
			controller.RunNow()
		case "getPendingJobs":
			controller.GetPendingJobs()
		case "getDeadLetters":
			controller.GetDeadLetters()
		default:
			ctx.JSON(http.StatusBadRequest, gin.H{
				"code":    400,
				"message": "无效的方法",
				"data":    nil,
			})
		}
	}
}

// GetStatus 获取最近一次对账状态
// @Summary 获取对账状态
// @Description 返回最近一次对账运行的结果和下次运行时间
// @Tags reconciliation
// @Produce json
// @Success 200 {object} services.ReconcileStatus
// @Router /admin/reconciliation/status [get]
func (c *ReconciliationController) GetStatus() {
	reconcilerService := c.Container.GetService("reconciler").(services.InterfaceReconcilerService)
	status, err := reconcilerService.LastStatus()
	if err != nil {
		c.Ctx.JSON(http.StatusInternalServerError, gin.H{
			"code":    500,
			"message": "获取对账状态失败: " + err.Error(),
			"data":    nil,
		})
		return
	}

	c.Ctx.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "成功",
		"data":    status,
	})
}

// RunNow 立即执行一次对账
// @Summary 触发对账
// @Description 立即对全部房源或指定房源执行一次对账
// @Tags reconciliation
// @Produce json
// @Param accommodation_id query int false "仅对账指定房源"
// @Success 200 {object} services.ReconcileResult
// @Failure 400 {object} ErrorResponse
// @Router /admin/reconciliation/run [post]
func (c *ReconciliationController) RunNow() {
	var accommodationID *uint
	if raw := c.Ctx.Query("accommodation_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.Ctx.JSON(http.StatusBadRequest, gin.H{
				"code":    400,
				"message": "无效的房源ID",
				"data":    nil,
			})
			return
		}
		v := uint(id)
		accommodationID = &v
	}

	reconcilerService := c.Container.GetService("reconciler").(services.InterfaceReconcilerService)
	result, err := reconcilerService.Run(c.Ctx.Request.Context(), accommodationID)
	if err != nil {
		c.Ctx.JSON(http.StatusInternalServerError, gin.H{
			"code":    500,
			"message": "对账执行失败: " + err.Error(),
			"data":    result,
		})
		return
	}

	c.Ctx.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "成功",
		"data":    result,
	})
}

// GetPendingJobs 获取待执行任务
// @Summary 获取待执行任务
// @Description 返回调度器中尚未执行的任务快照
// @Tags reconciliation
// @Produce json
// @Success 200 {array} services.Job
// @Router /admin/scheduler/jobs [get]
func (c *ReconciliationController) GetPendingJobs() {
	schedulerService := c.Container.GetService("scheduler").(services.InterfaceSchedulerService)

	c.Ctx.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "成功",
		"data":    schedulerService.PendingJobs(),
	})
}

// GetDeadLetters 获取死信任务
// @Summary 获取死信任务
// @Description 返回重试耗尽后进入死信的任务列表
// @Tags reconciliation
// @Produce json
// @Success 200 {array} services.FailedJob
// @Router /admin/scheduler/dead-letters [get]
func (c *ReconciliationController) GetDeadLetters() {
	schedulerService := c.Container.GetService("scheduler").(services.InterfaceSchedulerService)

	c.Ctx.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "成功",
		"data":    schedulerService.DeadLetters(),
	})
}
