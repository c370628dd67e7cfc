package portfolio

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultSchemaVersion is the document schema this server accepts.
const DefaultSchemaVersion = "1.0.0"

var (
	// ErrInvalidDocument indicates a portfolio document failed validation.
	ErrInvalidDocument = errors.New("portfolio: invalid document")
	// ErrInvalidTimestamp indicates a timestamp could not be parsed.
	ErrInvalidTimestamp = errors.New("portfolio: invalid timestamp")
)

// Document is the portfolio payload exchanged with clients and persisted
// as the live portfolio state. Assets are keyed by coin symbol; settings
// and metadata are opaque to the sync engine.
type Document struct {
	Assets        map[string]AssetEntry  `json:"assets"`
	Settings      map[string]interface{} `json:"settings"`
	Metadata      map[string]interface{} `json:"metadata"`
	SchemaVersion string                 `json:"schema_version"`
}

// AssetEntry describes a single holding. Amount and cost basis are
// decimal strings so no binary floating point enters the pipeline.
type AssetEntry struct {
	Amount       string              `json:"amount"`
	CostBasis    string              `json:"cost_basis"`
	Notes        string              `json:"notes,omitempty"`
	LastModified string              `json:"last_modified,omitempty"`
	Transactions []TransactionRecord `json:"transactions,omitempty"`
}

// TransactionRecord is one entry in an asset's ordered transaction log.
type TransactionRecord struct {
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Amount    string `json:"amount"`
	Price     string `json:"price"`
}

// ValidateDocument checks the structural requirements before any state is
// touched: the assets section must exist, the schema version must match,
// and every asset must carry decimal-parseable amount and cost basis.
func ValidateDocument(document Document, schemaVersion string) error {
	if document.Assets == nil {
		return fmt.Errorf("%w: missing assets", ErrInvalidDocument)
	}
	if document.SchemaVersion != schemaVersion {
		return fmt.Errorf("%w: unsupported schema version %q", ErrInvalidDocument, document.SchemaVersion)
	}
	for _, assetID := range sortedAssetIDs(document.Assets) {
		entry := document.Assets[assetID]
		if entry.Amount == "" {
			return fmt.Errorf("%w: asset %s missing amount", ErrInvalidDocument, assetID)
		}
		if entry.CostBasis == "" {
			return fmt.Errorf("%w: asset %s missing cost_basis", ErrInvalidDocument, assetID)
		}
		if _, err := decimal.NewFromString(entry.Amount); err != nil {
			return fmt.Errorf("%w: asset %s amount %q is not a decimal", ErrInvalidDocument, assetID, entry.Amount)
		}
		if _, err := decimal.NewFromString(entry.CostBasis); err != nil {
			return fmt.Errorf("%w: asset %s cost_basis %q is not a decimal", ErrInvalidDocument, assetID, entry.CostBasis)
		}
		if entry.LastModified != "" {
			if _, err := NormalizeTimestamp(entry.LastModified); err != nil {
				return fmt.Errorf("%w: asset %s last_modified: %v", ErrInvalidDocument, assetID, err)
			}
		}
	}
	return nil
}

// NormalizeTimestamp parses an ISO-8601 timestamp and converts it to UTC.
// Naive timestamps (no zone designator) are treated as UTC rather than
// local time so a client omitting the offset syncs deterministically.
func NormalizeTimestamp(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrInvalidTimestamp)
	}
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
	}
	for _, layout := range layouts {
		parsed, err := time.Parse(layout, raw)
		if err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, raw)
}

// Clone deep-copies the document so merge decisions never alias caller
// state.
func (document Document) Clone() Document {
	cloned := Document{
		Assets:        make(map[string]AssetEntry, len(document.Assets)),
		Settings:      cloneAnyMap(document.Settings),
		Metadata:      cloneAnyMap(document.Metadata),
		SchemaVersion: document.SchemaVersion,
	}
	for assetID, entry := range document.Assets {
		cloned.Assets[assetID] = entry.clone()
	}
	return cloned
}

func (entry AssetEntry) clone() AssetEntry {
	cloned := entry
	if entry.Transactions != nil {
		cloned.Transactions = make([]TransactionRecord, len(entry.Transactions))
		copy(cloned.Transactions, entry.Transactions)
	}
	return cloned
}

func cloneAnyMap(source map[string]interface{}) map[string]interface{} {
	if source == nil {
		return nil
	}
	cloned := make(map[string]interface{}, len(source))
	for key, value := range source {
		cloned[key] = cloneAnyValue(value)
	}
	return cloned
}

func cloneAnyValue(value interface{}) interface{} {
	switch typed := value.(type) {
	case map[string]interface{}:
		return cloneAnyMap(typed)
	case []interface{}:
		cloned := make([]interface{}, len(typed))
		for index, element := range typed {
			cloned[index] = cloneAnyValue(element)
		}
		return cloned
	default:
		return typed
	}
}

// EncodeDocument serializes a document for storage in the portfolios and
// portfolio_versions tables.
func EncodeDocument(document Document) (string, error) {
	encoded, err := json.Marshal(document)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// DecodeDocument restores a stored document payload.
func DecodeDocument(payload string) (Document, error) {
	var document Document
	if err := json.Unmarshal([]byte(payload), &document); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return document, nil
}

func sortedAssetIDs(assets map[string]AssetEntry) []string {
	assetIDs := make([]string, 0, len(assets))
	for assetID := range assets {
		assetIDs = append(assetIDs, assetID)
	}
	sort.Strings(assetIDs)
	return assetIDs
}
