package moderation

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/smswire/concierge/internal/models"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.FlagWord{}))
	return conn
}

func TestScanFlagWords(t *testing.T) {
	conn := newTestDB(t)
	require.NoError(t, conn.Create(&models.FlagWord{Word: "gift card", Category: "fraud"}).Error)
	require.NoError(t, conn.Create(&models.FlagWord{Word: "ignored", Action: "ignore"}).Error)

	scanner := NewScanner(conn)

	reasons := scanner.Scan(context.Background(), "Can you pay me with a GIFT CARD?")
	require.Len(t, reasons, 1)
	require.Contains(t, reasons[0], "gift card")

	require.Empty(t, scanner.Scan(context.Background(), "this should be ignored"))
	require.Empty(t, scanner.Scan(context.Background(), "hi, how are you?"))
}

func TestScanPricingPatterns(t *testing.T) {
	scanner := NewScanner(newTestDB(t))

	for _, text := range []string{
		"it's $50 tonight",
		"100 dollars",
		"80 hr works",
		"200 Session",
	} {
		reasons := scanner.Scan(context.Background(), text)
		require.Contains(t, reasons, PricingReason, "text %q", text)
	}

	require.Empty(t, scanner.Scan(context.Background(), "see you at 8"))
}

func TestScanAccumulatesReasons(t *testing.T) {
	conn := newTestDB(t)
	require.NoError(t, conn.Create(&models.FlagWord{Word: "scam"}).Error)

	scanner := NewScanner(conn)
	reasons := scanner.Scan(context.Background(), "this scam costs $20")
	require.Len(t, reasons, 2)
}
