package portfolio

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:cryptofolio_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Portfolio{}, &PortfolioVersion{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	service, err := NewService(ServiceConfig{
		Database: db,
		Clock:    clock,
	})
	if err != nil {
		t.Fatalf("failed to construct portfolio service: %v", err)
	}
	return service, db
}

func sampleDocument() Document {
	return Document{
		Assets: map[string]AssetEntry{
			"btc": {
				Amount:       "1.5",
				CostBasis:    "40000",
				LastModified: "2025-05-01T10:00:00Z",
			},
			"eth": {
				Amount:       "10",
				CostBasis:    "2500",
				LastModified: "2025-05-01T10:00:00Z",
			},
		},
		Settings: map[string]interface{}{
			"currency": "usd",
		},
		Metadata: map[string]interface{}{
			"device_id": "phone-1",
		},
		SchemaVersion: DefaultSchemaVersion,
	}
}

func documentWithAsset(assetID, amount, costBasis, lastModified string) Document {
	document := sampleDocument()
	document.Assets[assetID] = AssetEntry{
		Amount:       amount,
		CostBasis:    costBasis,
		LastModified: lastModified,
	}
	return document
}

func mustChangeAt(t *testing.T, changes []Change, path string) Change {
	t.Helper()
	for _, change := range changes {
		if change.DottedPath() == path {
			return change
		}
	}
	t.Fatalf("no change found at path %s in %#v", path, changes)
	return Change{}
}
