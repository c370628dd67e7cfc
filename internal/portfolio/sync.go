package portfolio

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// syncVersion identifies the sync protocol stamped into document
// metadata on every accepted sync.
const syncVersion = "1.0.0"

// SyncOutcome tags the result of a sync attempt.
type SyncOutcome string

const (
	// SyncApplied means the merged document was persisted (or the
	// client was already up to date and nothing needed writing).
	SyncApplied SyncOutcome = "applied"
	// SyncConflict means state diverged and nothing was persisted; the
	// response carries the server document so the client can re-derive
	// a merge and resubmit.
	SyncConflict SyncOutcome = "conflict"
)

// SyncRequest is a client's snapshot offered for reconciliation.
type SyncRequest struct {
	ClientDocument Document
	BaseVersion    int64
	DeviceID       string
	Force          bool
}

// SyncResult reports the reconciliation decision. On SyncApplied the
// Document, NewVersion, and Changes fields describe the accepted state;
// on SyncConflict the ServerVersion, ServerDocument, and
// ConflictingAssets fields give the client what it needs to resolve and
// resubmit.
type SyncResult struct {
	Outcome           SyncOutcome
	NewVersion        int64
	Document          Document
	Changes           []Change
	HadConflicts      bool
	ConflictingAssets []string
	ServerVersion     int64
	ServerDocument    Document
	LastSyncAt        *time.Time
}

// SyncStatus summarizes whether a client is behind or diverged.
type SyncStatus struct {
	NeedsSync      bool
	HasConflicts   bool
	ServerVersion  int64
	ServerLastSync *time.Time
}

// ComputeStatus compares the client's last-known version against the
// live record. A portfolio that has never synced always needs a first
// push; a version mismatch means the server advanced independently of
// the client's base and a merge will be required.
func (s *Service) ComputeStatus(ctx context.Context, userID, portfolioID uint, clientVersion int64, deviceID string) (SyncStatus, error) {
	stored, err := s.Get(ctx, userID, portfolioID)
	if err != nil {
		return SyncStatus{}, err
	}

	status := SyncStatus{
		ServerVersion:  stored.Version,
		ServerLastSync: stored.LastSyncAt,
	}
	switch {
	case !stored.IsCloudSynced:
		status.NeedsSync = true
	case clientVersion != stored.Version:
		status.NeedsSync = true
		status.HasConflicts = true
	}

	s.loggerOrDefault().Debug("sync status computed",
		zap.Uint("portfolio_id", portfolioID),
		zap.String("device_id", deviceID),
		zap.Int64("client_version", clientVersion),
		zap.Int64("server_version", stored.Version),
		zap.Bool("needs_sync", status.NeedsSync))
	return status, nil
}

// Sync reconciles a client snapshot with the live server record using a
// per-asset three-way merge against the ledger entry for the client's
// base version.
//
// The read of the live row, the merge decision, the ledger insert, and
// the live-state write all happen inside one transaction, so an aborted
// sync leaves no partial state. Conflicted merges persist only when the
// client set Force; otherwise the server state is returned untouched.
func (s *Service) Sync(ctx context.Context, userID, portfolioID uint, request SyncRequest) (SyncResult, error) {
	if err := ValidateDocument(request.ClientDocument, s.sync.SchemaVersion); err != nil {
		return SyncResult{}, err
	}

	var result SyncResult
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stored Portfolio
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND user_id = ?", portfolioID, userID).
			Take(&stored).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPortfolioNotFound
		}
		if err != nil {
			return newServiceError(opSync, reasonQueryFailed, err)
		}

		serverDocument, err := DecodeDocument(stored.DataJSON)
		if err != nil {
			return newServiceError(opSync, "server_document_decode_failed", err)
		}

		var baseRow PortfolioVersion
		err = tx.Where("portfolio_id = ? AND version = ?", stored.ID, request.BaseVersion).
			Take(&baseRow).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Never merge against a synthesized or assumed base.
			return ErrStaleBase
		}
		if err != nil {
			return newServiceError(opSync, "base_lookup_failed", err)
		}
		baseDocument, err := DecodeDocument(baseRow.DataJSON)
		if err != nil {
			return newServiceError(opSync, "base_document_decode_failed", err)
		}

		merge := MergeDocuments(baseDocument, request.ClientDocument, serverDocument, s.sync.TieBreak)
		if merge.HadConflicts && !request.Force {
			result = SyncResult{
				Outcome:           SyncConflict,
				HadConflicts:      true,
				ConflictingAssets: merge.ConflictingAssets,
				ServerVersion:     stored.Version,
				ServerDocument:    serverDocument,
				LastSyncAt:        stored.LastSyncAt,
			}
			return nil
		}

		changes := DetectChanges(serverDocument, merge.Document)
		if len(changes) == 0 {
			if request.BaseVersion == stored.Version {
				// Client offered nothing new; no version bump, no ledger
				// row. A first-time no-op still records the sync flags so
				// status checks stop reporting the portfolio as unsynced.
				if !stored.IsCloudSynced {
					syncedAt := s.clock().UTC()
					stored.IsCloudSynced = true
					stored.LastSyncAt = &syncedAt
					stored.LastSyncDevice = request.DeviceID
					if err := tx.Save(&stored).Error; err != nil {
						return newServiceError(opSync, "save_failed", err)
					}
				}
				result = SyncResult{
					Outcome:       SyncApplied,
					NewVersion:    stored.Version,
					Document:      serverDocument,
					Changes:       []Change{},
					ServerVersion: stored.Version,
					LastSyncAt:    stored.LastSyncAt,
				}
				return nil
			}
			// The merge reduced to the server state but the client's
			// base is behind, e.g. an accepted sync was resubmitted.
			// Surface it as a conflict so the client fast-forwards
			// instead of the server silently minting another version.
			result = SyncResult{
				Outcome:        SyncConflict,
				ServerVersion:  stored.Version,
				ServerDocument: serverDocument,
				LastSyncAt:     stored.LastSyncAt,
			}
			return nil
		}

		syncedAt := s.clock().UTC()
		mergedDocument := merge.Document
		stampSyncMetadata(&mergedDocument, request.DeviceID, syncedAt)

		encoded, err := EncodeDocument(mergedDocument)
		if err != nil {
			return newServiceError(opSync, "encode_failed", err)
		}
		metrics := CalculateMetrics(mergedDocument)

		stored.DataJSON = encoded
		stored.Version++
		stored.TotalValueUSD = metrics.TotalValueUSD
		stored.AssetCount = metrics.AssetCount
		stored.IsCloudSynced = true
		stored.LastSyncAt = &syncedAt
		stored.LastSyncDevice = request.DeviceID

		summary, err := encodeSyncSummary(syncSummaryPayload{
			SyncVersion:  syncVersion,
			DeviceID:     request.DeviceID,
			BaseVersion:  request.BaseVersion,
			HadConflicts: merge.HadConflicts,
			Changes:      encodeChangePayloads(changes),
		})
		if err != nil {
			return newServiceError(opSync, "summary_encode_failed", err)
		}

		if err := s.appendVersion(tx, &stored, encoded, metrics, summary); err != nil {
			return err
		}
		if err := tx.Save(&stored).Error; err != nil {
			return newServiceError(opSync, "save_failed", err)
		}

		result = SyncResult{
			Outcome:           SyncApplied,
			NewVersion:        stored.Version,
			Document:          mergedDocument,
			Changes:           changes,
			HadConflicts:      merge.HadConflicts,
			ConflictingAssets: merge.ConflictingAssets,
			ServerVersion:     stored.Version,
			LastSyncAt:        &syncedAt,
		}
		return nil
	})
	if txErr != nil {
		if !errors.Is(txErr, ErrPortfolioNotFound) && !errors.Is(txErr, ErrStaleBase) && !errors.Is(txErr, ErrConcurrentWrite) {
			s.logError(opSync, "transaction_failed", txErr,
				zap.Uint("portfolio_id", portfolioID),
				zap.String("device_id", request.DeviceID))
		}
		return SyncResult{}, txErr
	}
	return result, nil
}

// stampSyncMetadata records the sync provenance hint on the document.
// It is written by the server on every accepted mutation and never
// trusted from the client as an identity.
func stampSyncMetadata(document *Document, deviceID string, syncedAt time.Time) {
	if document.Metadata == nil {
		document.Metadata = make(map[string]interface{})
	}
	document.Metadata["sync_version"] = syncVersion
	document.Metadata["device_id"] = deviceID
	document.Metadata["timestamp"] = syncedAt.Format(time.RFC3339)
}
