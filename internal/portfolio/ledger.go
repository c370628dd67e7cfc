package portfolio

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// changePayload is the wire form of a Change: the structured path is
// flattened to a dotted string only here, at the persistence boundary.
type changePayload struct {
	Type  ChangeType  `json:"type"`
	Path  string      `json:"path"`
	Value interface{} `json:"value,omitempty"`
}

type changeSummaryPayload struct {
	Changes []changePayload `json:"changes"`
}

// syncSummaryPayload is the change summary recorded for versions that
// resulted from a cloud sync rather than a direct update.
type syncSummaryPayload struct {
	SyncVersion  string          `json:"sync_version"`
	DeviceID     string          `json:"device_id"`
	BaseVersion  int64           `json:"base_version"`
	HadConflicts bool            `json:"had_conflicts"`
	Changes      []changePayload `json:"changes"`
}

func encodeChangePayloads(changes []Change) []changePayload {
	payloads := make([]changePayload, 0, len(changes))
	for _, change := range changes {
		payloads = append(payloads, changePayload{
			Type:  change.Type,
			Path:  change.DottedPath(),
			Value: change.Value,
		})
	}
	return payloads
}

func encodeChangeSummary(changes []Change) (string, error) {
	encoded, err := json.Marshal(changeSummaryPayload{Changes: encodeChangePayloads(changes)})
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func encodeSyncSummary(summary syncSummaryPayload) (string, error) {
	encoded, err := json.Marshal(summary)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// appendVersion inserts the immutable ledger row for the portfolio's
// current version. It must run inside the same transaction that writes
// the live document so the two commit or roll back together. A
// duplicate (portfolio_id, version) pair means another sync won the
// race; that surfaces as ErrConcurrentWrite.
func (s *Service) appendVersion(tx *gorm.DB, stored *Portfolio, encodedDocument string, metrics Metrics, changeSummary string) error {
	row := PortfolioVersion{
		PortfolioID:       stored.ID,
		Version:           stored.Version,
		DataJSON:          encodedDocument,
		TotalValueUSD:     metrics.TotalValueUSD,
		AssetCount:        metrics.AssetCount,
		ChangeSummaryJSON: changeSummary,
	}
	if err := tx.Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrConcurrentWrite
		}
		return newServiceError(opSync, "ledger_insert_failed", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// The sqlite driver does not always translate constraint errors.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// History returns ledger entries for a portfolio, newest first. Entries
// are never mutated after insertion.
func (s *Service) History(ctx context.Context, userID, portfolioID uint, limit, offset int) ([]PortfolioVersion, error) {
	if _, err := s.Get(ctx, userID, portfolioID); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}

	var versions []PortfolioVersion
	if err := s.db.WithContext(ctx).
		Where("portfolio_id = ?", portfolioID).
		Order("version DESC").
		Limit(limit).
		Offset(offset).
		Find(&versions).Error; err != nil {
		s.logError(opHistory, reasonQueryFailed, err, zap.Uint("portfolio_id", portfolioID))
		return nil, newServiceError(opHistory, reasonQueryFailed, err)
	}
	return versions, nil
}
