package portfolio

import (
	"reflect"
	"sort"
	"strings"
)

// ChangeType enumerates the kinds of structural change the detector
// reports.
type ChangeType string

const (
	// ChangeAdded marks a key present in the new document only.
	ChangeAdded ChangeType = "added"
	// ChangeModified marks a key whose value differs between documents.
	ChangeModified ChangeType = "modified"
	// ChangeDeleted marks a key present in the old document only.
	ChangeDeleted ChangeType = "deleted"
)

// Change locates one structural difference between two documents. Path is
// kept as a key sequence internally; it is flattened to a dotted string
// only at the wire boundary so keys containing dots stay unambiguous.
// Deleted changes carry a nil value; callers needing the removed value
// must consult the old document.
type Change struct {
	Type  ChangeType
	Path  []string
	Value interface{}
}

// DottedPath renders the change location as a dot-joined string for
// persistence and API responses.
func (change Change) DottedPath() string {
	return strings.Join(change.Path, ".")
}

// DetectChanges structurally diffs two documents and returns leaf-level
// changes ordered by path. A nested difference is reported once at its
// deepest changed node, never duplicated at ancestor levels. The output
// is deterministic for a given input pair.
func DetectChanges(oldDocument, newDocument Document) []Change {
	changes := make([]Change, 0)
	changes = append(changes, diffAssets(oldDocument.Assets, newDocument.Assets)...)
	changes = append(changes, diffValueMaps([]string{"settings"}, oldDocument.Settings, newDocument.Settings)...)
	changes = append(changes, diffValueMaps([]string{"metadata"}, oldDocument.Metadata, newDocument.Metadata)...)
	if oldDocument.SchemaVersion != newDocument.SchemaVersion {
		changes = append(changes, Change{
			Type:  ChangeModified,
			Path:  []string{"schema_version"},
			Value: wrapScalar(newDocument.SchemaVersion),
		})
	}

	sort.SliceStable(changes, func(left, right int) bool {
		return changes[left].DottedPath() < changes[right].DottedPath()
	})
	return changes
}

func diffAssets(oldAssets, newAssets map[string]AssetEntry) []Change {
	changes := make([]Change, 0)
	for _, assetID := range unionKeys(assetKeys(oldAssets), assetKeys(newAssets)) {
		oldEntry, inOld := oldAssets[assetID]
		newEntry, inNew := newAssets[assetID]
		basePath := []string{"assets", assetID}
		switch {
		case !inOld && inNew:
			changes = append(changes, Change{Type: ChangeAdded, Path: basePath, Value: newEntry.clone()})
		case inOld && !inNew:
			changes = append(changes, Change{Type: ChangeDeleted, Path: basePath})
		default:
			changes = append(changes, diffAssetEntry(basePath, oldEntry, newEntry)...)
		}
	}
	return changes
}

func diffAssetEntry(basePath []string, oldEntry, newEntry AssetEntry) []Change {
	changes := make([]Change, 0)
	scalarFields := []struct {
		name     string
		oldValue string
		newValue string
	}{
		{"amount", oldEntry.Amount, newEntry.Amount},
		{"cost_basis", oldEntry.CostBasis, newEntry.CostBasis},
		{"notes", oldEntry.Notes, newEntry.Notes},
		{"last_modified", oldEntry.LastModified, newEntry.LastModified},
	}
	for _, field := range scalarFields {
		fieldPath := childPath(basePath, field.name)
		switch {
		case field.oldValue == field.newValue:
		case field.oldValue == "":
			changes = append(changes, Change{Type: ChangeAdded, Path: fieldPath, Value: wrapScalar(field.newValue)})
		case field.newValue == "":
			changes = append(changes, Change{Type: ChangeDeleted, Path: fieldPath})
		default:
			changes = append(changes, Change{Type: ChangeModified, Path: fieldPath, Value: wrapScalar(field.newValue)})
		}
	}

	// Transaction logs are ordered, so order differences count.
	transactionsPath := childPath(basePath, "transactions")
	switch {
	case len(oldEntry.Transactions) == 0 && len(newEntry.Transactions) > 0:
		changes = append(changes, Change{Type: ChangeAdded, Path: transactionsPath, Value: newEntry.clone().Transactions})
	case len(oldEntry.Transactions) > 0 && len(newEntry.Transactions) == 0:
		changes = append(changes, Change{Type: ChangeDeleted, Path: transactionsPath})
	case !reflect.DeepEqual(oldEntry.Transactions, newEntry.Transactions):
		changes = append(changes, Change{Type: ChangeModified, Path: transactionsPath, Value: newEntry.clone().Transactions})
	}
	return changes
}

func diffValueMaps(basePath []string, oldValues, newValues map[string]interface{}) []Change {
	changes := make([]Change, 0)
	for _, key := range unionKeys(anyKeys(oldValues), anyKeys(newValues)) {
		oldValue, inOld := oldValues[key]
		newValue, inNew := newValues[key]
		keyPath := childPath(basePath, key)
		switch {
		case !inOld && inNew:
			changes = append(changes, Change{Type: ChangeAdded, Path: keyPath, Value: wrapValue(newValue)})
		case inOld && !inNew:
			changes = append(changes, Change{Type: ChangeDeleted, Path: keyPath})
		default:
			oldChild, oldIsMap := oldValue.(map[string]interface{})
			newChild, newIsMap := newValue.(map[string]interface{})
			if oldIsMap && newIsMap {
				changes = append(changes, diffValueMaps(keyPath, oldChild, newChild)...)
				continue
			}
			// A type flip (scalar to mapping or back) is a modification
			// of the node, not a delete plus add.
			if !reflect.DeepEqual(oldValue, newValue) {
				changes = append(changes, Change{Type: ChangeModified, Path: keyPath, Value: wrapValue(newValue)})
			}
		}
	}
	return changes
}

func wrapValue(value interface{}) interface{} {
	if mapped, isMap := value.(map[string]interface{}); isMap {
		return cloneAnyMap(mapped)
	}
	return wrapScalar(value)
}

func wrapScalar(value interface{}) interface{} {
	return map[string]interface{}{"value": value}
}

func childPath(basePath []string, key string) []string {
	extended := make([]string, 0, len(basePath)+1)
	extended = append(extended, basePath...)
	return append(extended, key)
}

func assetKeys(assets map[string]AssetEntry) []string {
	keys := make([]string, 0, len(assets))
	for key := range assets {
		keys = append(keys, key)
	}
	return keys
}

func anyKeys(values map[string]interface{}) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	return keys
}

func unionKeys(left, right []string) []string {
	seen := make(map[string]struct{}, len(left)+len(right))
	union := make([]string, 0, len(left)+len(right))
	for _, key := range left {
		if _, duplicate := seen[key]; !duplicate {
			seen[key] = struct{}{}
			union = append(union, key)
		}
	}
	for _, key := range right {
		if _, duplicate := seen[key]; !duplicate {
			seen[key] = struct{}{}
			union = append(union, key)
		}
	}
	sort.Strings(union)
	return union
}
