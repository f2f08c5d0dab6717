package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// Setting represents a system setting
type Setting struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"column:setting_key;size:255;not null;uniqueIndex" json:"key" validate:"required,min=1,max=255"`
	Value     string    `gorm:"type:text" json:"value"`
	Type      string    `gorm:"size:50;not null" json:"type" validate:"required"` // string, boolean, integer, float
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AppSettings represents the runtime-tunable application settings
type AppSettings struct {
	SiteTitle                 string  `json:"site_title" validate:"required,min=1,max=255"`
	ConversionFeePercent      float64 `json:"conversion_fee_percent" validate:"gte=0,lte=100"`
	PayoutFlatFee             float64 `json:"payout_flat_fee" validate:"gte=0"`
	PayoutsEnabled            bool    `json:"payouts_enabled"`
	TransferIntervalSeconds   int     `json:"transfer_interval_seconds" validate:"gte=1"`
	PayoutIntervalSeconds     int     `json:"payout_interval_seconds" validate:"gte=1"`
	MaxOperationAgeHours      int     `json:"max_operation_age_hours" validate:"gte=1"`
	ReconcileBatchSize        int     `json:"reconcile_batch_size" validate:"gte=1,lte=1000"`
	WebhookTimeoutSeconds     int     `json:"webhook_timeout_seconds" validate:"gte=1,lte=120"`
	AuditRetentionMaxEntries  int     `json:"audit_retention_max_entries" validate:"gte=0"`
	mu                        sync.RWMutex
}

// Global settings instance
var (
	appSettings *AppSettings
	settingsMu  sync.RWMutex
)

// GetAppSettings returns the current application settings
func GetAppSettings() *AppSettings {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return appSettings
}

// LoadSettings loads settings from database into memory
func LoadSettings(db *gorm.DB) error {
	settingsMu.Lock()
	defer settingsMu.Unlock()

	// Initialize with defaults
	appSettings = &AppSettings{
		SiteTitle:                "Stablo",
		ConversionFeePercent:     1.5,
		PayoutFlatFee:            1.00,
		PayoutsEnabled:           true,
		TransferIntervalSeconds:  30,
		PayoutIntervalSeconds:    60,
		MaxOperationAgeHours:     24,
		ReconcileBatchSize:       100,
		WebhookTimeoutSeconds:    10,
		AuditRetentionMaxEntries: 100000,
	}

	// Load settings from database
	var settings []Setting
	if err := db.Find(&settings).Error; err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	// Apply loaded settings
	for _, setting := range settings {
		switch setting.Key {
		case "site_title":
			appSettings.SiteTitle = setting.Value
		case "conversion_fee_percent":
			if v, err := strconv.ParseFloat(setting.Value, 64); err == nil {
				appSettings.ConversionFeePercent = v
			}
		case "payout_flat_fee":
			if v, err := strconv.ParseFloat(setting.Value, 64); err == nil {
				appSettings.PayoutFlatFee = v
			}
		case "payouts_enabled":
			appSettings.PayoutsEnabled = setting.Value == "true"
		case "transfer_interval_seconds":
			if v, err := strconv.Atoi(setting.Value); err == nil && v > 0 {
				appSettings.TransferIntervalSeconds = v
			}
		case "payout_interval_seconds":
			if v, err := strconv.Atoi(setting.Value); err == nil && v > 0 {
				appSettings.PayoutIntervalSeconds = v
			}
		case "max_operation_age_hours":
			if v, err := strconv.Atoi(setting.Value); err == nil && v > 0 {
				appSettings.MaxOperationAgeHours = v
			}
		case "reconcile_batch_size":
			if v, err := strconv.Atoi(setting.Value); err == nil && v > 0 {
				appSettings.ReconcileBatchSize = v
			}
		case "webhook_timeout_seconds":
			if v, err := strconv.Atoi(setting.Value); err == nil && v > 0 {
				appSettings.WebhookTimeoutSeconds = v
			}
		case "audit_retention_max_entries":
			if v, err := strconv.Atoi(setting.Value); err == nil && v >= 0 {
				appSettings.AuditRetentionMaxEntries = v
			}
		}
	}

	return nil
}

// SaveSettings saves current settings to database
func SaveSettings(db *gorm.DB, settings *AppSettings) error {
	settingsMu.Lock()
	defer settingsMu.Unlock()

	// Validate settings
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	// Convert settings to database format
	settingsMap := map[string]interface{}{
		"site_title":                  settings.SiteTitle,
		"conversion_fee_percent":      fmt.Sprintf("%g", settings.ConversionFeePercent),
		"payout_flat_fee":             fmt.Sprintf("%g", settings.PayoutFlatFee),
		"payouts_enabled":             fmt.Sprintf("%t", settings.PayoutsEnabled),
		"transfer_interval_seconds":   strconv.Itoa(settings.TransferIntervalSeconds),
		"payout_interval_seconds":     strconv.Itoa(settings.PayoutIntervalSeconds),
		"max_operation_age_hours":     strconv.Itoa(settings.MaxOperationAgeHours),
		"reconcile_batch_size":        strconv.Itoa(settings.ReconcileBatchSize),
		"webhook_timeout_seconds":     strconv.Itoa(settings.WebhookTimeoutSeconds),
		"audit_retention_max_entries": strconv.Itoa(settings.AuditRetentionMaxEntries),
	}

	// Save each setting
	for key, value := range settingsMap {
		var setting Setting
		result := db.Where("setting_key = ?", key).First(&setting)

		if result.Error != nil {
			if result.Error == gorm.ErrRecordNotFound {
				// Create new setting
				setting = Setting{
					Key:   key,
					Value: fmt.Sprintf("%v", value),
					Type:  getSettingType(key),
				}
				if err := db.Create(&setting).Error; err != nil {
					return fmt.Errorf("failed to create setting %s: %w", key, err)
				}
			} else {
				return fmt.Errorf("failed to query setting %s: %w", key, result.Error)
			}
		} else {
			// Update existing setting
			setting.Value = fmt.Sprintf("%v", value)
			if err := db.Save(&setting).Error; err != nil {
				return fmt.Errorf("failed to update setting %s: %w", key, err)
			}
		}
	}

	// Update global settings
	appSettings = settings
	return nil
}

// getSettingType returns the type of a setting based on its key
func getSettingType(key string) string {
	switch key {
	case "site_title":
		return "string"
	case "payouts_enabled":
		return "boolean"
	case "conversion_fee_percent", "payout_flat_fee":
		return "float"
	default:
		return "integer"
	}
}

// Validate validates the settings
func (s *AppSettings) Validate() error {
	validate := validator.New()
	return validate.Struct(s)
}

// ToJSON converts settings to JSON
func (s *AppSettings) ToJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.Marshal(s)
}

// FromJSON loads settings from JSON
func (s *AppSettings) FromJSON(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.Unmarshal(data, s)
}

// GetSiteTitle returns the site title
func (s *AppSettings) GetSiteTitle() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.SiteTitle
}

// GetConversionFeePercent returns the percentage charged on conversion
func (s *AppSettings) GetConversionFeePercent() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ConversionFeePercent
}

// GetPayoutFlatFee returns the flat fee charged per payout
func (s *AppSettings) GetPayoutFlatFee() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.PayoutFlatFee
}

// IsPayoutsEnabled returns whether payout initiation is enabled
func (s *AppSettings) IsPayoutsEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.PayoutsEnabled
}

// GetTransferIntervalSeconds returns the transfer reconcile interval
func (s *AppSettings) GetTransferIntervalSeconds() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.TransferIntervalSeconds
}

// GetPayoutIntervalSeconds returns the payout reconcile interval
func (s *AppSettings) GetPayoutIntervalSeconds() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.PayoutIntervalSeconds
}

// GetMaxOperationAgeHours returns the in-flight age ceiling
func (s *AppSettings) GetMaxOperationAgeHours() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.MaxOperationAgeHours
}

// GetReconcileBatchSize returns the per-cycle page size
func (s *AppSettings) GetReconcileBatchSize() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ReconcileBatchSize
}

// GetWebhookTimeoutSeconds returns the delivery timeout per attempt
func (s *AppSettings) GetWebhookTimeoutSeconds() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.WebhookTimeoutSeconds
}

// GetAuditRetentionMaxEntries returns the audit trim threshold (0 = unbounded)
func (s *AppSettings) GetAuditRetentionMaxEntries() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.AuditRetentionMaxEntries
}
