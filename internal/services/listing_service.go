// internal/services/listing_service.go
package services

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/chanvault/chanvault-backend/internal/models"
	"github.com/chanvault/chanvault-backend/internal/utils"
)

// ListingService is the thin catalog surface the deal flow builds on. Full
// catalog search and moderation live elsewhere; this covers creating a
// listing and reading it back when a deal is opened.
type ListingService struct {
	db *gorm.DB
}

type CreateListingRequest struct {
	Title        string  `json:"title" binding:"required,max=255"`
	PlatformType string  `json:"platform_type" binding:"required,platform_type"`
	ChannelURL   string  `json:"channel_url" binding:"omitempty,url,max=500"`
	Subscribers  int64   `json:"subscribers" binding:"omitempty,min=0"`
	Price        float64 `json:"price" binding:"required,gt=0"`
	Description  string  `json:"description" binding:"omitempty,max=5000"`
}

func NewListingService(db *gorm.DB) *ListingService {
	return &ListingService{db: db}
}

func (s *ListingService) CreateListing(sellerID uuid.UUID, req *CreateListingRequest) (*models.Listing, error) {
	listing := &models.Listing{
		SellerID:     sellerID,
		Title:        req.Title,
		PlatformType: models.PlatformType(req.PlatformType),
		ChannelURL:   req.ChannelURL,
		Subscribers:  req.Subscribers,
		Price:        req.Price,
		Currency:     "USD",
		Status:       models.ListingStatusActive,
		Description:  req.Description,
	}
	if err := s.db.Create(listing).Error; err != nil {
		return nil, fmt.Errorf("failed to create listing: %w", err)
	}
	return listing, nil
}

func (s *ListingService) GetListing(id uuid.UUID) (*models.Listing, error) {
	var listing models.Listing
	if err := s.db.First(&listing, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrListingNotFound
		}
		return nil, fmt.Errorf("failed to load listing: %w", err)
	}
	return &listing, nil
}

// ListActive returns browsable listings, optionally filtered by platform.
func (s *ListingService) ListActive(platform string, params utils.PaginationParams) (*utils.PaginationResult, error) {
	query := s.db.Model(&models.Listing{}).Where("status = ?", models.ListingStatusActive)
	if platform != "" {
		query = query.Where("platform_type = ?", platform)
	}
	if params.Search != "" {
		query = query.Where("title ILIKE ?", "%"+params.Search+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count listings: %w", err)
	}

	var listings []models.Listing
	query = utils.ApplySort(query, params, []string{"created_at", "price", "subscribers"})
	query = utils.ApplyPagination(query, params)
	if err := query.Find(&listings).Error; err != nil {
		return nil, fmt.Errorf("failed to list listings: %w", err)
	}

	result := utils.CreatePaginationResult(listings, total, params)
	return &result, nil
}
