package portfolio

import (
	"time"

	"github.com/shopspring/decimal"
)

// Portfolio is the live server record for one user's portfolio. The
// document payload is stored as JSON text; version counts accepted
// mutations and only ever increases.
type Portfolio struct {
	ID             uint            `gorm:"column:id;primaryKey;autoIncrement"`
	UserID         uint            `gorm:"column:user_id;not null;index:idx_portfolios_user_updated,priority:1"`
	Name           string          `gorm:"column:name;size:190;not null"`
	Description    string          `gorm:"column:description;size:512;not null;default:''"`
	DataJSON       string          `gorm:"column:data_json;type:text;not null"`
	Version        int64           `gorm:"column:version;not null;default:1"`
	TotalValueUSD  decimal.Decimal `gorm:"column:total_value_usd;type:decimal(20,8);not null;default:0;index:idx_portfolios_total_value"`
	AssetCount     int             `gorm:"column:asset_count;not null;default:0"`
	IsCloudSynced  bool            `gorm:"column:is_cloud_synced;not null;default:false"`
	LastSyncAt     *time.Time      `gorm:"column:last_sync_at"`
	LastSyncDevice string          `gorm:"column:last_sync_device;size:190;not null;default:''"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;autoUpdateTime;index:idx_portfolios_user_updated,priority:2"`

	Versions []PortfolioVersion `gorm:"foreignKey:PortfolioID;constraint:OnDelete:CASCADE"`
}

// TableName provides the explicit table binding for GORM.
func (Portfolio) TableName() string {
	return "portfolios"
}

// PortfolioVersion is one immutable ledger row: the full document and
// derived metrics at the moment a mutation was accepted. The unique
// (portfolio_id, version) index is what turns a race between two
// concurrent syncs into one winner and one constraint failure.
type PortfolioVersion struct {
	ID                uint            `gorm:"column:id;primaryKey;autoIncrement"`
	PortfolioID       uint            `gorm:"column:portfolio_id;not null;uniqueIndex:idx_portfolio_versions_portfolio_version,priority:1"`
	Version           int64           `gorm:"column:version;not null;uniqueIndex:idx_portfolio_versions_portfolio_version,priority:2"`
	DataJSON          string          `gorm:"column:data_json;type:text;not null"`
	TotalValueUSD     decimal.Decimal `gorm:"column:total_value_usd;type:decimal(20,8);not null;default:0"`
	AssetCount        int             `gorm:"column:asset_count;not null;default:0"`
	ChangeSummaryJSON string          `gorm:"column:change_summary_json;type:text;not null;default:''"`
	CreatedAt         time.Time       `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (PortfolioVersion) TableName() string {
	return "portfolio_versions"
}
