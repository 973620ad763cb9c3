// internal/handlers/deal.go
package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/chanvault/chanvault-backend/internal/dealflow"
	"github.com/chanvault/chanvault-backend/internal/i18n"
	"github.com/chanvault/chanvault-backend/internal/models"
	"github.com/chanvault/chanvault-backend/internal/services"
	"github.com/chanvault/chanvault-backend/internal/utils"
)

type DealHandler struct {
	dealService    *services.DealService
	storageService *services.StorageService
}

func NewDealHandler(dealService *services.DealService, storageService *services.StorageService) *DealHandler {
	return &DealHandler{
		dealService:    dealService,
		storageService: storageService,
	}
}

// POST /deals
func (h *DealHandler) CreateDeal(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	buyerID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req services.CreateDealRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	deal, err := h.dealService.CreateDeal(buyerID, &req)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrListingNotFound):
			utils.NotFoundResponse(c, "listing")
		case errors.Is(err, services.ErrListingUnavailable):
			utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyListingUnavailable), nil)
		case errors.Is(err, services.ErrForbidden):
			utils.ForbiddenResponse(c, "")
		default:
			utils.InternalErrorResponse(c, "")
		}
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message": i18n.T(lang, i18n.KeyDealCreated),
		"deal":    deal,
	})
}

// GET /deals
func (h *DealHandler) ListDeals(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	params := utils.GetPaginationParams(c)
	result, err := h.dealService.ListUserDeals(userID, c.Query("status"), params)
	if err != nil {
		utils.InternalErrorResponse(c, "")
		return
	}

	utils.PaginatedResponse(c, *result)
}

// GET /deals/:id
func (h *DealHandler) GetDeal(c *gin.Context) {
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

// POST /deals/:id/agree
func (h *DealHandler) SellerAgree(c *gin.Context) {
	h.submitEvent(c, dealflow.SellerAgrees())
}

type grantAccessRequest struct {
	EvidenceKey string `json:"evidence_key" binding:"omitempty,max=512"`
}

// POST /deals/:id/access
func (h *DealHandler) GrantAccess(c *gin.Context) {
	// The body is optional; a bare POST grants access without evidence.
	var req grantAccessRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "", err.Error())
			return
		}
	}
	h.submitEvent(c, dealflow.AgentAccessGranted(req.EvidenceKey))
}

// POST /deals/:id/promote
func (h *DealHandler) PromoteAgent(c *gin.Context) {
	h.submitEvent(c, dealflow.PromoteAgent())
}

// POST /deals/:id/buyer-paid
func (h *DealHandler) MarkBuyerPaid(c *gin.Context) {
	h.submitEvent(c, dealflow.BuyerPaidSeller())
}

// POST /deals/:id/confirm-payment
func (h *DealHandler) ConfirmSellerPaid(c *gin.Context) {
	h.submitEvent(c, dealflow.SellerConfirmedPayment())
}

func (h *DealHandler) submitEvent(c *gin.Context, evt dealflow.Event) {
	userID, userType, dealID, ok := dealRequestContext(c)
	if !ok {
		return
	}

	deal, changed, err := h.dealService.SubmitEvent(dealID, userID, userType, evt)
	if err != nil {
		respondDealError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"deal":    h.dealService.ProjectDeal(deal, userID),
		"changed": changed,
	})
}

type postMessageRequest struct {
	Body string `json:"body" binding:"required,max=4000"`
}

// POST /deals/:id/messages
func (h *DealHandler) PostMessage(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	userID, userType, dealID, ok := dealRequestContext(c)
	if !ok {
		return
	}

	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return
	}

	message, err := h.dealService.PostMessage(dealID, userID, userType, req.Body)
	if err != nil {
		respondDealError(c, err)
		return
	}

	utils.CreatedResponse(c, message)
}

// GET /deals/:id/messages
func (h *DealHandler) ListMessages(c *gin.Context) {
	userID, userType, dealID, ok := dealRequestContext(c)
	if !ok {
		return
	}

	params := utils.GetPaginationParams(c)
	result, err := h.dealService.ListMessages(dealID, userID, userType, params)
	if err != nil {
		respondDealError(c, err)
		return
	}

	utils.PaginatedResponse(c, *result)
}

// POST /deals/:id/evidence
func (h *DealHandler) UploadEvidence(c *gin.Context) {
	lang := utils.GetLangFromContext(c)
	userID, userType, dealID, ok := dealRequestContext(c)
	if !ok {
		return
	}

	// Only the seller uploads access evidence.
	if deal, err := h.dealService.GetDeal(dealID, userID, userType); err != nil {
		respondDealError(c, err)
		return
	} else if deal.SellerID != userID {
		utils.ForbiddenResponse(c, "")
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationRequired, "file"), nil)
		return
	}
	defer file.Close()

	upload, err := h.storageService.UploadEvidence(dealID, file, header)
	if err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyFileUploadFailed), err.Error())
		return
	}

	if err := h.dealService.AttachEvidence(dealID, userID, upload.Key); err != nil {
		respondDealError(c, err)
		return
	}

	utils.CreatedResponse(c, gin.H{
		"message":  i18n.T(lang, i18n.KeyFileUploadSuccess),
		"evidence": upload,
	})
}

// GET /deals/:id/evidence
func (h *DealHandler) GetEvidenceURL(c *gin.Context) {
	userID, userType, dealID, ok := dealRequestContext(c)
	if !ok {
		return
	}

	deal, err := h.dealService.GetDeal(dealID, userID, userType)
	if err != nil {
		respondDealError(c, err)
		return
	}
	if deal.AccessEvidenceKey == "" {
		utils.NotFoundResponse(c, "file")
		return
	}

	url, err := h.storageService.EvidenceURL(deal.AccessEvidenceKey)
	if err != nil {
		utils.InternalErrorResponse(c, "")
		return
	}

	utils.SuccessResponse(c, gin.H{"url": url})
}

// currentUserID pulls the authenticated user id set by the auth middleware.
func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	userIDStr, exists := utils.GetUserIDFromContext(c)
	if !exists {
		utils.UnauthorizedResponse(c, "")
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		utils.BadRequestResponse(c, "Invalid user ID", nil)
		return uuid.Nil, false
	}
	return userID, true
}

func currentUserType(c *gin.Context) models.UserType {
	if t, ok := utils.GetUserTypeFromContext(c); ok {
		return models.UserType(t)
	}
	return ""
}

func dealRequestContext(c *gin.Context) (uuid.UUID, models.UserType, uuid.UUID, bool) {
	userID, ok := currentUserID(c)
	if !ok {
		return uuid.Nil, "", uuid.Nil, false
	}
	dealID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid deal ID", nil)
		return uuid.Nil, "", uuid.Nil, false
	}
	return userID, currentUserType(c), dealID, true
}

// respondDealError maps service and transition errors onto the response
// envelope.
func respondDealError(c *gin.Context, err error) {
	var invalid *dealflow.InvalidTransitionError
	var unauthorized *dealflow.UnauthorizedError

	switch {
	case errors.Is(err, services.ErrDealNotFound):
		utils.NotFoundResponse(c, "deal")
	case errors.Is(err, services.ErrForbidden):
		utils.ForbiddenResponse(c, "")
	case errors.Is(err, services.ErrConcurrencyConflict):
		utils.ConflictRetryResponse(c)
	case errors.As(err, &invalid):
		utils.InvalidTransitionResponse(c, string(invalid.Status), string(invalid.Event))
	case errors.As(err, &unauthorized):
		utils.ForbiddenResponse(c, "")
	default:
		utils.InternalErrorResponse(c, "")
	}
}
