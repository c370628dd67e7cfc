package portfolio

import (
	"reflect"
	"sort"
	"time"
)

// TieBreakPolicy decides which side wins when both sides changed an
// asset and their last-modified timestamps are identical.
type TieBreakPolicy string

const (
	// TieBreakRemote lets the server copy win timestamp ties. The server
	// is the durable source of truth.
	TieBreakRemote TieBreakPolicy = "remote"
	// TieBreakLocal lets the client copy win timestamp ties.
	TieBreakLocal TieBreakPolicy = "local"
)

// MergeResult is the outcome of a three-way merge.
type MergeResult struct {
	Document          Document
	HadConflicts      bool
	ConflictingAssets []string
}

// MergeDocuments performs a per-asset three-way merge of the client
// (local) and server (remote) documents against the ledger entry the
// client last synced (base).
//
// An asset unchanged on one side takes the other side's value outright,
// including deletions. An asset changed on both sides is a conflict: the
// entry with the later last_modified timestamp wins, with ties resolved
// by the configured policy, except that a deletion never overrides a
// concurrent edit. Settings are not merged field by field; the local
// settings win wholesale because settings are owned by a single device.
// Metadata is carried from the remote document; the sync engine stamps
// it after an accepted merge.
func MergeDocuments(base, local, remote Document, tieBreak TieBreakPolicy) MergeResult {
	merged := Document{
		Assets:        make(map[string]AssetEntry),
		Settings:      cloneAnyMap(local.Settings),
		Metadata:      cloneAnyMap(remote.Metadata),
		SchemaVersion: local.SchemaVersion,
	}

	conflicting := make([]string, 0)
	for _, assetID := range unionKeys(assetKeys(base.Assets), unionKeys(assetKeys(local.Assets), assetKeys(remote.Assets))) {
		baseEntry, inBase := base.Assets[assetID]
		localEntry, inLocal := local.Assets[assetID]
		remoteEntry, inRemote := remote.Assets[assetID]

		localChanged := entryStateDiffers(baseEntry, inBase, localEntry, inLocal)
		remoteChanged := entryStateDiffers(baseEntry, inBase, remoteEntry, inRemote)

		switch {
		case !localChanged && !remoteChanged:
			if inRemote {
				merged.Assets[assetID] = remoteEntry.clone()
			}
		case localChanged && !remoteChanged:
			if inLocal {
				merged.Assets[assetID] = localEntry.clone()
			}
		case remoteChanged && !localChanged:
			if inRemote {
				merged.Assets[assetID] = remoteEntry.clone()
			}
		default:
			if entryStateEqual(localEntry, inLocal, remoteEntry, inRemote) {
				// Both sides converged on the same state.
				if inLocal {
					merged.Assets[assetID] = localEntry.clone()
				}
				continue
			}
			conflicting = append(conflicting, assetID)
			winner, present := resolveAssetConflict(localEntry, inLocal, remoteEntry, inRemote, tieBreak)
			if present {
				merged.Assets[assetID] = winner.clone()
			}
		}
	}

	sort.Strings(conflicting)
	return MergeResult{
		Document:          merged,
		HadConflicts:      len(conflicting) > 0,
		ConflictingAssets: conflicting,
	}
}

// resolveAssetConflict picks the surviving entry for an asset changed on
// both sides. A deletion loses to a concurrent edit; otherwise the later
// last_modified timestamp wins.
func resolveAssetConflict(localEntry AssetEntry, inLocal bool, remoteEntry AssetEntry, inRemote bool, tieBreak TieBreakPolicy) (AssetEntry, bool) {
	switch {
	case !inLocal && !inRemote:
		return AssetEntry{}, false
	case !inLocal:
		return remoteEntry, true
	case !inRemote:
		return localEntry, true
	}

	localModified := entryModifiedAt(localEntry)
	remoteModified := entryModifiedAt(remoteEntry)
	if localModified.After(remoteModified) {
		return localEntry, true
	}
	if remoteModified.After(localModified) {
		return remoteEntry, true
	}
	if tieBreak == TieBreakLocal {
		return localEntry, true
	}
	return remoteEntry, true
}

func entryModifiedAt(entry AssetEntry) time.Time {
	if entry.LastModified == "" {
		return time.Time{}
	}
	modifiedAt, err := NormalizeTimestamp(entry.LastModified)
	if err != nil {
		return time.Time{}
	}
	return modifiedAt
}

func entryStateDiffers(baseEntry AssetEntry, inBase bool, sideEntry AssetEntry, inSide bool) bool {
	if inBase != inSide {
		return true
	}
	if !inBase {
		return false
	}
	return !reflect.DeepEqual(baseEntry, sideEntry)
}

func entryStateEqual(leftEntry AssetEntry, inLeft bool, rightEntry AssetEntry, inRight bool) bool {
	if inLeft != inRight {
		return false
	}
	if !inLeft {
		return true
	}
	return reflect.DeepEqual(leftEntry, rightEntry)
}
