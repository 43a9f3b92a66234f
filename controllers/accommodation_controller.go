package controllers

import (
	"net/http"
	"strconv"

	"rentlock-http-service/models"
	"rentlock-http-service/services"
	"rentlock-http-service/services/container"

	"github.com/gin-gonic/gin"
)

// InterfaceAccommodationController 定义房源控制器接口
type InterfaceAccommodationController interface {
	GetAccommodations()
	GetAccommodationByID()
	CreateAccommodation()
	UpdateAccommodation()
	MapLock()
	UnmapLock()
}

// AccommodationController 处理房源相关的请求
type AccommodationController struct {
	Ctx       *gin.Context
	Container *container.ServiceContainer
}

// NewAccommodationController 创建一个新的房源控制器
func NewAccommodationController(ctx *gin.Context, container *container.ServiceContainer) *AccommodationController {
	return &AccommodationController{
		Ctx:       ctx,
		Container: container,
	}
}

// HandleAccommodationFunc 返回一个处理房源请求的Gin处理函数
func HandleAccommodationFunc(container *container.ServiceContainer, method string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		controller := NewAccommodationController(ctx, container)

		switch method {
		case "getAccommodations":
			controller.GetAccommodations()
		case "getAccommodationByID":
			controller.GetAccommodationByID()
		case "createAccommodation":
			controller.CreateAccommodation()
		case "updateAccommodation":
			controller.UpdateAccommodation()
		case "mapLock":
			controller.MapLock()
		case "unmapLock":
			controller.UnmapLock()
		default:
			ctx.JSON(http.StatusBadRequest, gin.H{
				"code":    400,
				"message": "无效的方法",
				"data":    nil,
			})
		}
	}
}

// GetAccommodations 获取房源列表
// @Summary 获取房源列表
// @Description 分页获取所有房源
// @Tags accommodation
// @Produce json
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(10)
// @Success 200 {array} models.Accommodation
// @Router /admin/accommodations [get]
func (c *AccommodationController) GetAccommodations() {
	page, _ := strconv.Atoi(c.Ctx.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.Ctx.DefaultQuery("page_size", "10"))

	accommodationService := c.Container.GetService("accommodation").(services.InterfaceAccommodationService)
	accommodations, total, err := accommodationService.GetAllAccommodations(page, pageSize)
	if err != nil {
		c.Ctx.JSON(http.StatusInternalServerError, gin.H{
			"code":    500,
			"message": "获取房源列表失败: " + err.Error(),
			"data":    nil,
		})
		return
	}

	c.Ctx.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "成功",
		"data": gin.H{
			"list":      accommodations,
			"total":     total,
			"page":      page,
			"page_size": pageSize,
		},
	})
}

// GetAccommodationByID 获取房源详情
// @Summary 获取房源详情
// @Description 根据ID获取房源信息及其门锁绑定
// @Tags accommodation
// @Produce json
// @Param id path int true "房源ID"
// @Success 200 {object} models.Accommodation
// @Failure 404 {object} ErrorResponse
// @Router /admin/accommodations/{id} [get]
func (c *AccommodationController) GetAccommodationByID() {
	id, err := strconv.ParseUint(c.Ctx.Param("id"), 10, 32)
	if err != nil {
		c.Ctx.JSON(http.StatusBadRequest, gin.H{
			"code":    400,
			"message": "无效的房源ID",
			"data":    nil,
		})
		return
	}

	accommodationService := c.Container.GetService("accommodation").(services.InterfaceAccommodationService)
	accommodation, err := accommodationService.GetAccommodationByID(uint(id))
	if err != nil {
		c.Ctx.JSON(http.StatusNotFound, gin.H{
			"code":    404,
			"message": "房源不存在",
			"data":    nil,
		})
		return
	}

	c.Ctx.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "成功",
		"data":    accommodation,
	})
}

// CreateAccommodation 创建房源
// @Summary 创建房源
// @Description 登记一个新房源
// @Tags accommodation
// @Accept json
// @Produce json
// @Param accommodation body models.Accommodation true "房源信息"
// @Success 200 {object} models.Accommodation
// @Failure 400 {object} ErrorResponse
// @Router /admin/accommodations [post]
func (c *AccommodationController) CreateAccommodation() {
	var accommodation models.Accommodation
	if err := c.Ctx.ShouldBindJSON(&accommodation); err != nil {
		c.Ctx.JSON(http.StatusBadRequest, gin.H{
			"code":    400,
			"message": "请求参数错误: " + err.Error(),
			"data":    nil,
		})
		return
	}

	accommodationService := c.Container.GetService("accommodation").(services.InterfaceAccommodationService)
	if err := accommodationService.CreateAccommodation(&accommodation); err != nil {
		c.Ctx.JSON(http.StatusInternalServerError, gin.H{
			"code":    500,
			"message": "创建房源失败: " + err.Error(),
			"data":    nil,
		})
		return
	}

	c.Ctx.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "成功",
		"data":    accommodation,
	})
}

// UpdateAccommodation 更新房源
// @Summary 更新房源
// @Description 更新房源的名称、地址或启用状态
// @Tags accommodation
// @Accept json
// @Produce json
// @Param id path int true "房源ID"
// @Param updates body map[string]interface{} true "更新字段"
// @Success 200 {object} models.Accommodation
// @Failure 400 {object} ErrorResponse
// @Router /admin/accommodations/{id} [put]
func (c *AccommodationController) UpdateAccommodation() {
	id, err := strconv.ParseUint(c.Ctx.Param("id"), 10, 32)
	if err != nil {
		c.Ctx.JSON(http.StatusBadRequest, gin.H{
			"code":    400,
			"message": "无效的房源ID",
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

	accommodationService := c.Container.GetService("accommodation").(services.InterfaceAccommodationService)
	accommodation, err := accommodationService.UpdateAccommodation(uint(id), updates)
	if err != nil {
		c.Ctx.JSON(http.StatusInternalServerError, gin.H{
			"code":    500,
			"message": "更新房源失败: " + err.Error(),
			"data":    nil,
		})
		return
	}

	c.Ctx.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "成功",
		"data":    accommodation,
	})
}

// MapLockRequest 绑定门锁请求
type MapLockRequest struct {
	LockID uint `json:"lock_id" binding:"required" example:"1"`
}

// MapLock 绑定门锁到房源
// @Summary 绑定门锁
// @Description 将门锁绑定到房源，已有已确认预订会立即补发PIN任务
// @Tags accommodation
// @Accept json
// @Produce json
// @Param id path int true "房源ID"
// @Param mapping body MapLockRequest true "门锁"
// @Success 200 {object} models.AccommodationLockMapping
// @Failure 400 {object} ErrorResponse
// @Router /admin/accommodations/{id}/lock [post]
func (c *AccommodationController) MapLock() {
	id, err := strconv.ParseUint(c.Ctx.Param("id"), 10, 32)
	if err != nil {
		c.Ctx.JSON(http.StatusBadRequest, gin.H{
			"code":    400,
			"message": "无效的房源ID",
			"data":    nil,
		})
		return
	}

	var req MapLockRequest
	if err := c.Ctx.ShouldBindJSON(&req); err != nil {
		c.Ctx.JSON(http.StatusBadRequest, gin.H{
			"code":    400,
			"message": "请求参数错误: " + err.Error(),
			"data":    nil,
		})
		return
	}

	accommodationService := c.Container.GetService("accommodation").(services.InterfaceAccommodationService)
	mapping, err := accommodationService.MapLock(uint(id), req.LockID)
	if err != nil {
		c.Ctx.JSON(http.StatusBadRequest, gin.H{
			"code":    400,
			"message": "绑定门锁失败: " + err.Error(),
			"data":    nil,
		})
		return
	}

	c.Ctx.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "成功",
		"data":    mapping,
	})
}

// UnmapLock 解绑房源门锁
// @Summary 解绑门锁
// @Description 解除房源的门锁绑定，该锁上的有效凭证会被立即撤销
// @Tags accommodation
// @Produce json
// @Param id path int true "房源ID"
// @Success 200 {object} nil
// @Failure 400 {object} ErrorResponse
// @Router /admin/accommodations/{id}/lock [delete]
func (c *AccommodationController) UnmapLock() {
	id, err := strconv.ParseUint(c.Ctx.Param("id"), 10, 32)
	if err != nil {
		c.Ctx.JSON(http.StatusBadRequest, gin.H{
			"code":    400,
			"message": "无效的房源ID",
			"data":    nil,
		})
		return
	}

	accommodationService := c.Container.GetService("accommodation").(services.InterfaceAccommodationService)
	if err := accommodationService.UnmapLock(uint(id)); err != nil {
		c.Ctx.JSON(http.StatusBadRequest, gin.H{
			"code":    400,
			"message": "解绑门锁失败: " + err.Error(),
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
