package db

import (
	"fmt"

	"github.com/smswire/concierge/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Migrate applies the schema and seeds reference data.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}

	if errAutoMigrate := conn.AutoMigrate(
		&models.User{},
		&models.Profile{},
		&models.Client{},
		&models.ProfileClient{},
		&models.Message{},
		&models.FlaggedMessage{},
		&models.AutoReply{},
		&models.OutOfOfficeReply{},
		&models.TextExample{},
		&models.AISettings{},
		&models.Plan{},
		&models.Subscription{},
		&models.Invoice{},
		&models.PaymentMethod{},
		&models.UsageRecord{},
		&models.SMSUsage{},
		&models.APIKey{},
		&models.FlagWord{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}

	if errSeed := seedDefaultPlans(conn); errSeed != nil {
		return errSeed
	}
	return seedFlagWords(conn)
}

// seedDefaultPlans inserts the default subscription plans when none exist.
func seedDefaultPlans(conn *gorm.DB) error {
	var count int64
	if errCount := conn.Model(&models.Plan{}).Count(&count).Error; errCount != nil {
		return fmt.Errorf("db: count plans: %w", errCount)
	}
	if count > 0 {
		return nil
	}

	plans := []models.Plan{
		{
			Name:               "Starter",
			MonthPrice:         29,
			ProfileLimit:       1,
			AIResponseLimit:    500,
			MessageHistoryDays: 30,
			Features:           []byte(`["1 profile","500 AI responses / month","30 day history"]`),
			IsEnabled:          true,
		},
		{
			Name:               "Pro",
			MonthPrice:         79,
			ProfileLimit:       5,
			AIResponseLimit:    2500,
			MessageHistoryDays: 90,
			Features:           []byte(`["5 profiles","2500 AI responses / month","90 day history"]`),
			IsEnabled:          true,
		},
		{
			Name:               "Agency",
			MonthPrice:         199,
			ProfileLimit:       25,
			AIResponseLimit:    10000,
			MessageHistoryDays: 365,
			Features:           []byte(`["25 profiles","10000 AI responses / month","1 year history"]`),
			IsEnabled:          true,
		},
	}
	if errCreate := conn.Create(&plans).Error; errCreate != nil {
		return fmt.Errorf("db: seed plans: %w", errCreate)
	}
	return nil
}

// defaultFlagWords is the static moderation seed list. Operators extend the
// table through the review API.
var defaultFlagWords = []models.FlagWord{
	{Word: "scam", Category: "fraud", Severity: 3},
	{Word: "wire transfer", Category: "fraud", Severity: 3},
	{Word: "gift card", Category: "fraud", Severity: 2},
	{Word: "ssn", Category: "personal-data", Severity: 4},
	{Word: "social security", Category: "personal-data", Severity: 4},
	{Word: "password", Category: "personal-data", Severity: 2},
	{Word: "threat", Category: "abuse", Severity: 4},
	{Word: "lawsuit", Category: "legal", Severity: 2},
	{Word: "illegal", Category: "legal", Severity: 3},
	{Word: "underage", Category: "safety", Severity: 5},
	{Word: "minor", Category: "safety", Severity: 5},
}

// seedFlagWords upserts the static moderation keywords.
func seedFlagWords(conn *gorm.DB) error {
	for i := range defaultFlagWords {
		word := defaultFlagWords[i]
		word.Action = "flag"
		if errUpsert := conn.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "word"}},
			DoNothing: true,
		}).Create(&word).Error; errUpsert != nil {
			return fmt.Errorf("db: seed flag words: %w", errUpsert)
		}
	}
	return nil
}
