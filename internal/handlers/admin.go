// internal/handlers/admin.go
package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/chanvault/chanvault-backend/internal/i18n"
	"github.com/chanvault/chanvault-backend/internal/models"
	"github.com/chanvault/chanvault-backend/internal/services"
	"github.com/chanvault/chanvault-backend/internal/utils"
)

type AdminHandler struct {
	adminService *services.AdminService
	dealService  *services.DealService
}

func NewAdminHandler(adminService *services.AdminService, dealService *services.DealService) *AdminHandler {
	return &AdminHandler{
		adminService: adminService,
		dealService:  dealService,
	}
}

// GET /admin/dashboard
func (h *AdminHandler) GetDashboard(c *gin.Context) {
	stats, err := h.adminService.GetDashboardStats()
	if err != nil {
		utils.InternalErrorResponse(c, "")
		return
	}
	utils.SuccessResponse(c, stats)
}

// GET /admin/deals
func (h *AdminHandler) ListDeals(c *gin.Context) {
	filter := &services.AdminDealFilter{
		PaginationParams: utils.GetPaginationParams(c),
	}

	if status := c.Query("status"); status != "" {
		s := models.DealStatus(status)
		filter.Status = &s
	}
	if platform := c.Query("platform_type"); platform != "" {
		p := models.PlatformType(platform)
		filter.PlatformType = &p
	}
	if buyerStr := c.Query("buyer_id"); buyerStr != "" {
		if buyerID, err := uuid.Parse(buyerStr); err == nil {
			filter.BuyerID = &buyerID
		}
	}
	if sellerStr := c.Query("seller_id"); sellerStr != "" {
		if sellerID, err := uuid.Parse(sellerStr); err == nil {
			filter.SellerID = &sellerID
		}
	}
	if afterStr := c.Query("created_after"); afterStr != "" {
		if after, err := time.Parse(time.RFC3339, afterStr); err == nil {
			filter.CreatedAfter = &after
		}
	}
	if beforeStr := c.Query("created_before"); beforeStr != "" {
		if before, err := time.Parse(time.RFC3339, beforeStr); err == nil {
			filter.CreatedBefore = &before
		}
	}

	result, err := h.adminService.ListDeals(filter)
	if err != nil {
		utils.InternalErrorResponse(c, "")
		return
	}
	utils.PaginatedResponse(c, *result)
}

// GET /admin/deals/:id
func (h *AdminHandler) GetDeal(c *gin.Context) {
	userID, userType, dealID, ok := dealRequestContext(c)
	if !ok {
		return
	}

	deal, err := h.dealService.GetDeal(dealID, userID, userType)
	if err != nil {
		respondDealError(c, err)
		return
	}
	utils.SuccessResponse(c, h.dealService.ProjectDeal(deal, userID))
}

// GET /admin/settings
func (h *AdminHandler) GetSettings(c *gin.Context) {
	settings, err := h.adminService.GetSettings(c.Query("category"))
	if err != nil {
		utils.InternalErrorResponse(c, "")
		return
	}
	utils.SuccessResponse(c, settings)
}

type updateSettingRequest struct {
	Value models.JSONB `json:"value" binding:"required"`
}

// PUT /admin/settings/:category/:key
func (h *AdminHandler) UpdateSetting(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	adminID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req updateSettingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	setting, err := h.adminService.UpdateSetting(adminID, c.Param("category"), c.Param("key"), req.Value)
	if err != nil {
		utils.InternalErrorResponse(c, "")
		return
	}

	utils.SuccessResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyAdminActionSuccess),
		"setting": setting,
	})
}

// GET /admin/audit-logs
func (h *AdminHandler) ListAuditLogs(c *gin.Context) {
	params := utils.GetPaginationParams(c)
	result, err := h.adminService.ListAuditLogs(params, c.Query("action"))
	if err != nil {
		utils.InternalErrorResponse(c, "")
		return
	}
	utils.PaginatedResponse(c, *result)
}
