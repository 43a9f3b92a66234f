package controllers

import (
	"net/http"
	"strconv"

	"rentlock-http-service/services"
	"rentlock-http-service/services/container"

	"github.com/gin-gonic/gin"
)

// InterfaceReservationController 定义预订控制器接口
type InterfaceReservationController interface {
	GetReservations()
	GetReservationByID()
	GetReservationCredentials()
	MarkNoShow()
	ForceRevoke()
}

// ReservationController 处理预订相关的请求
type ReservationController struct {
	Ctx       *gin.Context
	Container *container.ServiceContainer
}

// NewReservationController 创建一个新的预订控制器
func NewReservationController(ctx *gin.Context, container *container.ServiceContainer) *ReservationController {
	return &ReservationController{
		Ctx:       ctx,
		Container: container,
	}
}

// HandleReservationFunc 返回一个处理预订请求的Gin处理函数
func HandleReservationFunc(container *container.ServiceContainer, method string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		controller := NewReservationController(ctx, container)

		switch method {
		case "getReservations":
			controller.GetReservations()
		case "getReservationByID":
			controller.GetReservationByID()
		case "getReservationCredentials":
			controller.GetReservationCredentials()
		case "markNoShow":
			controller.MarkNoShow()
		case "forceRevoke":
			controller.ForceRevoke()
		default:
			ctx.JSON(http.StatusBadRequest, gin.H{
				"code":    400,
				"message": "无效的方法",
				"data":    nil,
			})
		}
	}
}

// GetReservations 获取预订列表
// @Summary 获取预订列表
// @Description 分页获取指定房源的预订
// @Tags reservation
// @Produce json
// @Param accommodation_id query int true "房源ID"
// @Param page query int false "页码" default(1)
// @Param page_size query int false "每页数量" default(10)
// @Success 200 {array} models.Reservation
// @Failure 400 {object} ErrorResponse
// @Router /admin/reservations [get]
func (c *ReservationController) GetReservations() {
	accommodationID, err := strconv.ParseUint(c.Ctx.Query("accommodation_id"), 10, 32)
	if err != nil {
		c.Ctx.JSON(http.StatusBadRequest, gin.H{
			"code":    400,
			"message": "无效的房源ID",
			"data":    nil,
		})
		return
	}
	page, _ := strconv.Atoi(c.Ctx.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.Ctx.DefaultQuery("page_size", "10"))

	reservationService := c.Container.GetService("reservation").(services.InterfaceReservationService)
	reservations, total, err := reservationService.GetReservations(uint(accommodationID), page, pageSize)
	if err != nil {
		c.Ctx.JSON(http.StatusInternalServerError, gin.H{
			"code":    500,
			"message": "获取预订列表失败: " + err.Error(),
			"data":    nil,
		})
		return
	}

	c.Ctx.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "成功",
		"data": gin.H{
			"list":      reservations,
			"total":     total,
			"page":      page,
			"page_size": pageSize,
		},
	})
}

// GetReservationByID 获取预订详情
// @Summary 获取预订详情
// @Description 根据ID获取预订及其凭证
// @Tags reservation
// @Produce json
// @Param id path int true "预订ID"
// @Success 200 {object} models.Reservation
// @Failure 404 {object} ErrorResponse
// @Router /admin/reservations/{id} [get]
func (c *ReservationController) GetReservationByID() {
	id, err := strconv.ParseUint(c.Ctx.Param("id"), 10, 32)
	if err != nil {
		c.Ctx.JSON(http.StatusBadRequest, gin.H{
			"code":    400,
			"message": "无效的预订ID",
			"data":    nil,
		})
		return
	}

	reservationService := c.Container.GetService("reservation").(services.InterfaceReservationService)
	reservation, err := reservationService.GetReservationByID(uint(id))
	if err != nil {
		c.Ctx.JSON(http.StatusNotFound, gin.H{
			"code":    404,
			"message": "预订不存在",
			"data":    nil,
		})
		return
	}

	c.Ctx.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "成功",
		"data":    reservation,
	})
}

// GetReservationCredentials 获取预订的凭证历史
// @Summary 获取预订凭证
// @Description 获取预订的全部凭证记录，含已撤销的历史
// @Tags reservation
// @Produce json
// @Param id path int true "预订ID"
// @Success 200 {array} models.Credential
// @Failure 400 {object} ErrorResponse
// @Router /admin/reservations/{id}/credentials [get]
func (c *ReservationController) GetReservationCredentials() {
	id, err := strconv.ParseUint(c.Ctx.Param("id"), 10, 32)
	if err != nil {
		c.Ctx.JSON(http.StatusBadRequest, gin.H{
			"code":    400,
			"message": "无效的预订ID",
			"data":    nil,
		})
		return
	}

	reservationService := c.Container.GetService("reservation").(services.InterfaceReservationService)
	credentials, err := reservationService.GetReservationCredentials(uint(id))
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

// MarkNoShow 标记未入住
// @Summary 标记未入住
// @Description 将预订标记为未入住并立即撤销其凭证
// @Tags reservation
// @Produce json
// @Param id path int true "预订ID"
// @Success 200 {object} services.ApplyResult
// @Failure 400 {object} ErrorResponse
// @Router /admin/reservations/{id}/no-show [post]
func (c *ReservationController) MarkNoShow() {
	id, err := strconv.ParseUint(c.Ctx.Param("id"), 10, 32)
	if err != nil {
		c.Ctx.JSON(http.StatusBadRequest, gin.H{
			"code":    400,
			"message": "无效的预订ID",
			"data":    nil,
		})
		return
	}

	reservationService := c.Container.GetService("reservation").(services.InterfaceReservationService)
	result, err := reservationService.MarkNoShow(uint(id))
	if err != nil {
		c.Ctx.JSON(http.StatusBadRequest, gin.H{
			"code":    400,
			"message": "标记未入住失败: " + err.Error(),
			"data":    nil,
		})
		return
	}

	c.Ctx.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "成功",
		"data":    result,
	})
}

// ForceRevokeRequest 强制撤销请求
type ForceRevokeRequest struct {
	Operator string `json:"operator" binding:"required" example:"ops-zhang"`
}

// ForceRevoke 强制撤销预订的凭证
// @Summary 强制撤销凭证
// @Description 立即撤销预订的有效凭证并记录操作人
// @Tags reservation
// @Accept json
// @Produce json
// @Param id path int true "预订ID"
// @Param body body ForceRevokeRequest true "操作人"
// @Success 200 {object} nil
// @Failure 400 {object} ErrorResponse
// @Router /admin/reservations/{id}/revoke [post]
func (c *ReservationController) ForceRevoke() {
	id, err := strconv.ParseUint(c.Ctx.Param("id"), 10, 32)
	if err != nil {
		c.Ctx.JSON(http.StatusBadRequest, gin.H{
			"code":    400,
			"message": "无效的预订ID",
			"data":    nil,
		})
		return
	}

	var req ForceRevokeRequest
	if err := c.Ctx.ShouldBindJSON(&req); err != nil {
		c.Ctx.JSON(http.StatusBadRequest, gin.H{
			"code":    400,
			"message": "请求参数错误: " + err.Error(),
			"data":    nil,
		})
		return
	}

	reservationService := c.Container.GetService("reservation").(services.InterfaceReservationService)
	if err := reservationService.ForceRevoke(uint(id), req.Operator); err != nil {
		c.Ctx.JSON(http.StatusBadRequest, gin.H{
			"code":    400,
			"message": "撤销凭证失败: " + err.Error(),
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
