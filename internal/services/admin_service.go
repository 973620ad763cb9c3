// internal/services/admin_service.go
package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/chanvault/chanvault-backend/internal/models"
	"github.com/chanvault/chanvault-backend/internal/utils"
)

type AdminService struct {
	db *gorm.DB
}

type AdminDashboardStats struct {
	TotalUsers        int64            `json:"total_users"`
	ActiveUsers       int64            `json:"active_users"`
	TotalDeals        int64            `json:"total_deals"`
	OpenDeals         int64            `json:"open_deals"`
	CompletedDeals    int64            `json:"completed_deals"`
	DealsThisMonth    int64            `json:"deals_this_month"`
	DealsByStatus     map[string]int64 `json:"deals_by_status"`
	TimersRunning     int64            `json:"timers_running"`
	FeeVolume         float64          `json:"fee_volume"`
	FeeVolumeMonthly  float64          `json:"fee_volume_monthly"`
	PendingPromotions int64            `json:"pending_promotions"`
}

type AdminDealFilter struct {
	utils.PaginationParams
	Status        *models.DealStatus   `json:"status,omitempty"`
	PlatformType  *models.PlatformType `json:"platform_type,omitempty"`
	BuyerID       *uuid.UUID           `json:"buyer_id,omitempty"`
	SellerID      *uuid.UUID           `json:"seller_id,omitempty"`
	CreatedAfter  *time.Time           `json:"created_after,omitempty"`
	CreatedBefore *time.Time           `json:"created_before,omitempty"`
}

func NewAdminService(db *gorm.DB) *AdminService {
	return &AdminService{db: db}
}

// Dashboard Statistics
func (s *AdminService) GetDashboardStats() (*AdminDashboardStats, error) {
	stats := &AdminDashboardStats{DealsByStatus: make(map[string]int64)}
	now := time.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	s.db.Model(&models.User{}).Count(&stats.TotalUsers)
	s.db.Model(&models.User{}).Where("status = ?", models.UserStatusActive).Count(&stats.ActiveUsers)

	s.db.Model(&models.Deal{}).Count(&stats.TotalDeals)
	s.db.Model(&models.Deal{}).Where("status = ?", models.DealStatusCompleted).Count(&stats.CompletedDeals)
	stats.OpenDeals = stats.TotalDeals - stats.CompletedDeals
	s.db.Model(&models.Deal{}).Where("created_at >= ?", monthStart).Count(&stats.DealsThisMonth)

	var rows []struct {
		Status string
		Count  int64
	}
	s.db.Model(&models.Deal{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&rows)
	for _, r := range rows {
		stats.DealsByStatus[r.Status] = r.Count
	}

	s.db.Model(&models.Deal{}).
		Where("agent_access_granted AND NOT timer_completed AND rights_timer_expires_at IS NOT NULL").
		Count(&stats.TimersRunning)

	// Deals waiting for an admin to promote the escrow agent.
	s.db.Model(&models.Deal{}).
		Where("agent_access_granted AND NOT agent_promoted").
		Where("NOT platform_type = ? OR timer_completed", models.PlatformYouTube).
		Count(&stats.PendingPromotions)

	s.db.Model(&models.Deal{}).
		Where("fee_paid").
		Select("COALESCE(SUM(escrow_fee), 0)").Scan(&stats.FeeVolume)
	s.db.Model(&models.Deal{}).
		Where("fee_paid AND fee_paid_at >= ?", monthStart).
		Select("COALESCE(SUM(escrow_fee), 0)").Scan(&stats.FeeVolumeMonthly)

	return stats, nil
}

// ListDeals returns deals matching the filter for the admin console.
func (s *AdminService) ListDeals(filter *AdminDealFilter) (*utils.PaginationResult, error) {
	query := s.db.Model(&models.Deal{})

	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.PlatformType != nil {
		query = query.Where("platform_type = ?", *filter.PlatformType)
	}
	if filter.BuyerID != nil {
		query = query.Where("buyer_id = ?", *filter.BuyerID)
	}
	if filter.SellerID != nil {
		query = query.Where("seller_id = ?", *filter.SellerID)
	}
	if filter.CreatedAfter != nil {
		query = query.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		query = query.Where("created_at <= ?", *filter.CreatedBefore)
	}
	if filter.Search != "" {
		search := "%" + filter.Search + "%"
		query = query.Where("reference ILIKE ? OR channel_title ILIKE ?", search, search)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count deals: %w", err)
	}

	var deals []models.Deal
	query = utils.ApplySort(query, filter.PaginationParams, []string{"created_at", "updated_at", "status", "channel_price", "escrow_fee"})
	query = utils.ApplyPagination(query, filter.PaginationParams)
	if err := query.Preload("Buyer").Preload("Seller").Find(&deals).Error; err != nil {
		return nil, fmt.Errorf("failed to list deals: %w", err)
	}

	result := utils.CreatePaginationResult(deals, total, filter.PaginationParams)
	return &result, nil
}

// GetSettings returns all settings in a category.
func (s *AdminService) GetSettings(category string) ([]models.AdminSettings, error) {
	var settings []models.AdminSettings
	query := s.db.Model(&models.AdminSettings{})
	if category != "" {
		query = query.Where("category = ?", category)
	}
	if err := query.Order("category, key").Find(&settings).Error; err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	return settings, nil
}

// UpdateSetting upserts one setting value.
func (s *AdminService) UpdateSetting(adminID uuid.UUID, category, key string, value models.JSONB) (*models.AdminSettings, error) {
	var setting models.AdminSettings
	err := s.db.Where("category = ? AND key = ?", category, key).First(&setting).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("failed to load setting: %w", err)
		}
		setting = models.AdminSettings{
			Category: category,
			Key:      key,
			Value:    value,
			DataType: "json",
		}
	}

	setting.Value = value
	setting.UpdatedBy = adminID
	if err := s.db.Save(&setting).Error; err != nil {
		return nil, fmt.Errorf("failed to save setting: %w", err)
	}
	return &setting, nil
}

// ListAuditLogs returns the audit trail, newest first.
func (s *AdminService) ListAuditLogs(params utils.PaginationParams, action string) (*utils.PaginationResult, error) {
	query := s.db.Model(&models.AuditLog{})
	if action != "" {
		query = query.Where("action = ?", action)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count audit logs: %w", err)
	}

	var logs []models.AuditLog
	query = query.Order("created_at desc")
	query = utils.ApplyPagination(query, params)
	if err := query.Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}

	result := utils.CreatePaginationResult(logs, total, params)
	return &result, nil
}
