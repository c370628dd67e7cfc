package portfolio

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

const (
	opServiceNew      = "portfolio.service.new"
	opCreate          = "portfolio.create"
	opList            = "portfolio.list"
	opGet             = "portfolio.get"
	opUpdate          = "portfolio.update"
	opDelete          = "portfolio.delete"
	opHistory         = "portfolio.history"
	opSync            = "portfolio.sync"
	opSyncStatus      = "portfolio.sync_status"
	reasonQueryFailed = "query_failed"
	reasonNotFound    = "not_found"
)

// SyncConfig carries the engine's tunables. It is injected at
// construction instead of read from any global state.
type SyncConfig struct {
	SchemaVersion string
	TieBreak      TieBreakPolicy
}

// ServiceConfig describes the dependencies of the portfolio service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
	Sync     SyncConfig
}

// Service owns portfolio CRUD, version history, and cloud sync.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
	sync   SyncConfig
}

// NewService validates the configuration and constructs the service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	syncConfig := cfg.Sync
	if syncConfig.SchemaVersion == "" {
		syncConfig.SchemaVersion = DefaultSchemaVersion
	}
	if syncConfig.TieBreak == "" {
		syncConfig.TieBreak = TieBreakRemote
	}
	return &Service{
		db:     cfg.Database,
		clock:  clock,
		logger: logger,
		sync:   syncConfig,
	}, nil
}

// CreateRequest describes a new portfolio.
type CreateRequest struct {
	UserID      uint
	Name        string
	Description string
	Document    Document
}

// Create validates the document, derives metrics, and persists the
// portfolio together with its initial ledger entry in one transaction.
func (s *Service) Create(ctx context.Context, request CreateRequest) (*Portfolio, error) {
	if err := ValidateDocument(request.Document, s.sync.SchemaVersion); err != nil {
		return nil, err
	}

	encoded, err := EncodeDocument(request.Document)
	if err != nil {
		s.logError(opCreate, "encode_failed", err, zap.Uint("user_id", request.UserID))
		return nil, newServiceError(opCreate, "encode_failed", err)
	}
	metrics := CalculateMetrics(request.Document)

	stored := Portfolio{
		UserID:        request.UserID,
		Name:          request.Name,
		Description:   request.Description,
		DataJSON:      encoded,
		Version:       1,
		TotalValueUSD: metrics.TotalValueUSD,
		AssetCount:    metrics.AssetCount,
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&stored).Error; err != nil {
			return newServiceError(opCreate, "insert_failed", err)
		}
		if err := s.appendVersion(tx, &stored, encoded, metrics, ""); err != nil {
			return err
		}
		return nil
	})
	if txErr != nil {
		s.logError(opCreate, "transaction_failed", txErr, zap.Uint("user_id", request.UserID))
		return nil, txErr
	}
	return &stored, nil
}

// ListByUser returns the user's portfolios ordered by last update,
// newest first.
func (s *Service) ListByUser(ctx context.Context, userID uint) ([]Portfolio, error) {
	var portfolios []Portfolio
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&portfolios).Error; err != nil {
		s.logError(opList, reasonQueryFailed, err, zap.Uint("user_id", userID))
		return nil, newServiceError(opList, reasonQueryFailed, err)
	}
	return portfolios, nil
}

// CountByUser counts the user's portfolios. Used by the tier limit
// check before creation.
func (s *Service) CountByUser(ctx context.Context, userID uint) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&Portfolio{}).
		Where("user_id = ?", userID).
		Count(&count).Error; err != nil {
		s.logError(opList, reasonQueryFailed, err, zap.Uint("user_id", userID))
		return 0, newServiceError(opList, reasonQueryFailed, err)
	}
	return count, nil
}

// Get fetches a single portfolio scoped to its owner.
func (s *Service) Get(ctx context.Context, userID, portfolioID uint) (*Portfolio, error) {
	var stored Portfolio
	err := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", portfolioID, userID).
		Take(&stored).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPortfolioNotFound
	}
	if err != nil {
		s.logError(opGet, reasonQueryFailed, err, zap.Uint("portfolio_id", portfolioID))
		return nil, newServiceError(opGet, reasonQueryFailed, err)
	}
	return &stored, nil
}

// UpdateRequest carries the mutable portfolio fields. Nil fields are
// left untouched; a non-nil document bumps the version and appends a
// ledger entry carrying the structural diff.
type UpdateRequest struct {
	Name        *string
	Description *string
	Document    *Document
}

// Update applies field changes and, when the document changed, records a
// new version atomically with the live-state write.
func (s *Service) Update(ctx context.Context, userID, portfolioID uint, request UpdateRequest) (*Portfolio, error) {
	if request.Document != nil {
		if err := ValidateDocument(*request.Document, s.sync.SchemaVersion); err != nil {
			return nil, err
		}
	}

	var updated Portfolio
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stored Portfolio
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND user_id = ?", portfolioID, userID).
			Take(&stored).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPortfolioNotFound
		}
		if err != nil {
			return newServiceError(opUpdate, reasonQueryFailed, err)
		}

		if request.Name != nil {
			stored.Name = *request.Name
		}
		if request.Description != nil {
			stored.Description = *request.Description
		}

		if request.Document != nil {
			previous, err := DecodeDocument(stored.DataJSON)
			if err != nil {
				return newServiceError(opUpdate, "decode_failed", err)
			}
			changes := DetectChanges(previous, *request.Document)

			encoded, err := EncodeDocument(*request.Document)
			if err != nil {
				return newServiceError(opUpdate, "encode_failed", err)
			}
			metrics := CalculateMetrics(*request.Document)

			stored.DataJSON = encoded
			stored.Version++
			stored.TotalValueUSD = metrics.TotalValueUSD
			stored.AssetCount = metrics.AssetCount

			summary, err := encodeChangeSummary(changes)
			if err != nil {
				return newServiceError(opUpdate, "summary_encode_failed", err)
			}
			if err := s.appendVersion(tx, &stored, encoded, metrics, summary); err != nil {
				return err
			}
		}

		if err := tx.Save(&stored).Error; err != nil {
			return newServiceError(opUpdate, "save_failed", err)
		}
		updated = stored
		return nil
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrPortfolioNotFound) {
			s.logError(opUpdate, "transaction_failed", txErr, zap.Uint("portfolio_id", portfolioID))
		}
		return nil, txErr
	}
	return &updated, nil
}

// Delete removes a portfolio; ledger rows go with it via the cascade on
// portfolio_versions.
func (s *Service) Delete(ctx context.Context, userID, portfolioID uint) error {
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stored Portfolio
		err := tx.Where("id = ? AND user_id = ?", portfolioID, userID).Take(&stored).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPortfolioNotFound
		}
		if err != nil {
			return newServiceError(opDelete, reasonQueryFailed, err)
		}
		if err := tx.Where("portfolio_id = ?", stored.ID).Delete(&PortfolioVersion{}).Error; err != nil {
			return newServiceError(opDelete, "version_delete_failed", err)
		}
		if err := tx.Delete(&stored).Error; err != nil {
			return newServiceError(opDelete, "delete_failed", err)
		}
		return nil
	})
	if txErr != nil && !errors.Is(txErr, ErrPortfolioNotFound) {
		s.logError(opDelete, "transaction_failed", txErr, zap.Uint("portfolio_id", portfolioID))
	}
	return txErr
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("portfolio service error", attrs...)
}
