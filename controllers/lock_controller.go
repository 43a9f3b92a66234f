package controllers

import (
	"net/http"
	"strconv"

	"rentlock-http-service/models"
	"rentlock-http-service/services"
	"rentlock-http-service/services/container"

	"github.com/gin-gonic/gin"
)

// InterfaceLockController 定义门锁控制器接口
type InterfaceLockController interface {
	GetLocks()
	GetLockByID()
	CreateLock()
	UpdateLock()
	DeleteLock()
	GetLockCredentials()
}

// LockController 处理门锁相关的请求
type LockController struct {
	Ctx       *gin.Context
	Container *container.ServiceContainer
}

// NewLockController 创建一个新的门锁控制器
func NewLockController(ctx *gin.Context, container *container.ServiceContainer) *LockController {
	return &LockController{
		Ctx:       ctx,
		Container: container,
	}
}

// HandleLockFunc 返回一个处理门锁请求的Gin处理函数
func HandleLockFunc(container *container.ServiceContainer, method string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		controller := NewLockController(ctx, container)

		switch method {
		case "getLocks":
			controller.GetLocks()
		case "getLockByID":
			controller.GetLockByID()
		case "createLock":
			controller.CreateLock()
		case "updateLock":
			controller.UpdateLock()
		case "deleteLock":
			controller.DeleteLock()
		case "getLockCredentials":
			controller.GetLockCredentials()
		default:
			ctx.JSON(http.StatusBadRequest, gin.H{
				"code":    400,
				"message": "无效的方法",
				"data":    nil,
			})
		}
	}
}

// GetLocks 获取门锁列表
// @Summary 获取门锁列表
// @Description 分页获取所有门锁
// @Tags lock
// @Produce json
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(10)
// @Success 200 {array} models.Lock
// @Router /admin/locks [get]
func (c *LockController) GetLocks() {
	page, _ := strconv.Atoi(c.Ctx.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.Ctx.DefaultQuery("page_size", "10"))

	lockService := c.Container.GetService("lock").(services.InterfaceLockService)
	locks, total, err := lockService.GetAllLocks(page, pageSize)
	if err != nil {
		c.Ctx.JSON(http.StatusInternalServerError, gin.H{
			"code":    500,
			"message": "获取门锁列表失败: " + err.Error(),
			"data":    nil,
		})
		return
	}

	c.Ctx.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "成功",
		"data": gin.H{
			"list":      locks,
			"total":     total,
			"page":      page,
			"page_size": pageSize,
		},
	})
}

// GetLockByID 获取门锁详情
// @Summary 获取门锁详情
// @Description 根据ID获取门锁信息
// @Tags lock
// @Produce json
// @Param id path int true "门锁ID"
// @Success 200 {object} models.Lock
// @Failure 404 {object} ErrorResponse
// @Router /admin/locks/{id} [get]
func (c *LockController) GetLockByID() {
	id, err := strconv.ParseUint(c.Ctx.Param("id"), 10, 32)
	if err != nil {
		c.Ctx.JSON(http.StatusBadRequest, gin.H{
			"code":    400,
			"message": "无效的门锁ID",
			"data":    nil,
		})
		return
	}

	lockService := c.Container.GetService("lock").(services.InterfaceLockService)
	lock, err := lockService.GetLockByID(uint(id))
	if err != nil {
		c.Ctx.JSON(http.StatusNotFound, gin.H{
			"code":    404,
			"message": "门锁不存在",
			"data":    nil,
		})
		return
	}

	c.Ctx.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "成功",
		"data":    lock,
	})
}

// CreateLock 创建门锁
// @Summary 创建门锁
// @Description 登记一把新的智能门锁
// @Tags lock
// @Accept json
// @Produce json
// @Param lock body models.Lock true "门锁信息"
// @Success 200 {object} models.Lock
// @Failure 400 {object} ErrorResponse
// @Router /admin/locks [post]
func (c *LockController) CreateLock() {
	var lock models.Lock
	if err := c.Ctx.ShouldBindJSON(&lock); err != nil {
		c.Ctx.JSON(http.StatusBadRequest, gin.H{
			"code":    400,
			"message": "请求参数错误: " + err.Error(),
			"data":    nil,
		})
		return
	}

	lockService := c.Container.GetService("lock").(services.InterfaceLockService)
	if err := lockService.CreateLock(&lock); err != nil {
		c.Ctx.JSON(http.StatusInternalServerError, gin.H{
			"code":    500,
			"message": "创建门锁失败: " + err.Error(),
			"data":    nil,
		})
		return
	}

	c.Ctx.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "成功",
		"data":    lock,
	})
}

// UpdateLock 更新门锁
// @Summary 更新门锁
// @Description 更新门锁的厂商、序列号或在线状态
// @Tags lock
// @Accept json
// @Produce json
// @Param id path int true "门锁ID"
// @Param updates body map[string]interface{} true "更新字段"
// @Success 200 {object} models.Lock
// @Failure 400 {object} ErrorResponse
// @Router /admin/locks/{id} [put]
func (c *LockController) UpdateLock() {
	id, err := strconv.ParseUint(c.Ctx.Param("id"), 10, 32)
	if err != nil {
		c.Ctx.JSON(http.StatusBadRequest, gin.H{
			"code":    400,
			"message": "无效的门锁ID",
			"data":    nil,
		})
		return
	}

	var updates map[string]interface{}
	if err := c.Ctx.ShouldBindJSON(&updates); err != nil {
		c.Ctx.JSON(http.StatusBadRequest, gin.H{
			"code":    400,
			"message": "请求参数错误: " + err.Error(),
			"data":    nil,
		})
		return
	}

	lockService := c.Container.GetService("lock").(services.InterfaceLockService)
	lock, err := lockService.UpdateLock(uint(id), updates)
	if err != nil {
		c.Ctx.JSON(http.StatusInternalServerError, gin.H{
			"code":    500,
			"message": "更新门锁失败: " + err.Error(),
			"data":    nil,
		})
		return
	}

	c.Ctx.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "成功",
		"data":    lock,
	})
}

// DeleteLock 删除门锁
// @Summary 删除门锁
// @Description 删除一把未绑定任何房源的门锁
// @Tags lock
// @Produce json
// @Param id path int true "门锁ID"
// @Success 200 {object} nil
// @Failure 400 {object} ErrorResponse
// @Router /admin/locks/{id} [delete]
func (c *LockController) DeleteLock() {
	id, err := strconv.ParseUint(c.Ctx.Param("id"), 10, 32)
	if err != nil {
		c.Ctx.JSON(http.StatusBadRequest, gin.H{
			"code":    400,
			"message": "无效的门锁ID",
			"data":    nil,
		})
		return
	}

	lockService := c.Container.GetService("lock").(services.InterfaceLockService)
	if err := lockService.DeleteLock(uint(id)); err != nil {
		c.Ctx.JSON(http.StatusBadRequest, gin.H{
			"code":    400,
			"message": "删除门锁失败: " + err.Error(),
			"data":    nil,
		})
		return
	}

	c.Ctx.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "成功",
		"data":    nil,
	})
}

// GetLockCredentials 获取门锁上的凭证
// @Summary 获取门锁凭证
// @Description 获取指定门锁上的全部凭证记录
// @Tags lock
// @Produce json
// @Param id path int true "门锁ID"
// @Success 200 {array} models.Credential
// @Failure 400 {object} ErrorResponse
// @Router /admin/locks/{id}/credentials [get]
func (c *LockController) GetLockCredentials() {
	id, err := strconv.ParseUint(c.Ctx.Param("id"), 10, 32)
	if err != nil {
		c.Ctx.JSON(http.StatusBadRequest, gin.H{
			"code":    400,
			"message": "无效的门锁ID",
			"data":    nil,
		})
		return
	}

	lockService := c.Container.GetService("lock").(services.InterfaceLockService)
	credentials, err := lockService.GetLockCredentials(uint(id))
	if err != nil {
		c.Ctx.JSON(http.StatusInternalServerError, gin.H{
			"code":    500,
			"message": "获取凭证失败: " + err.Error(),
			"data":    nil,
		})
		return
	}

	c.Ctx.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "成功",
		"data":    credentials,
	})
}
