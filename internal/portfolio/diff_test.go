package portfolio

import (
	"reflect"
	"testing"
)

func TestDetectChangesIdenticalDocumentsIsEmpty(t *testing.T) {
	document := sampleDocument()
	changes := DetectChanges(document, document.Clone())
	if len(changes) != 0 {
		t.Fatalf("expected empty diff for identical documents, got %#v", changes)
	}
}

func TestDetectChangesSingleAmountChange(t *testing.T) {
	oldDocument := sampleDocument()
	newDocument := sampleDocument()
	entry := newDocument.Assets["btc"]
	entry.Amount = "2.5"
	newDocument.Assets["btc"] = entry

	changes := DetectChanges(oldDocument, newDocument)
	if len(changes) != 1 {
		t.Fatalf("expected exactly one change, got %#v", changes)
	}
	change := changes[0]
	if change.Type != ChangeModified {
		t.Fatalf("expected modified change, got %s", change.Type)
	}
	if change.DottedPath() != "assets.btc.amount" {
		t.Fatalf("unexpected path %s", change.DottedPath())
	}
	wrapped, isMap := change.Value.(map[string]interface{})
	if !isMap || wrapped["value"] != "2.5" {
		t.Fatalf("expected wrapped scalar value, got %#v", change.Value)
	}
}

func TestDetectChangesAddedAssetReportsSubtree(t *testing.T) {
	oldDocument := sampleDocument()
	newDocument := documentWithAsset("sol", "100", "150", "2025-05-02T00:00:00Z")

	changes := DetectChanges(oldDocument, newDocument)
	change := mustChangeAt(t, changes, "assets.sol")
	if change.Type != ChangeAdded {
		t.Fatalf("expected added change, got %s", change.Type)
	}
	entry, isEntry := change.Value.(AssetEntry)
	if !isEntry || entry.Amount != "100" {
		t.Fatalf("expected new subtree as value, got %#v", change.Value)
	}
}

func TestDetectChangesDeletedAssetCarriesNoValue(t *testing.T) {
	oldDocument := sampleDocument()
	newDocument := sampleDocument()
	delete(newDocument.Assets, "eth")

	changes := DetectChanges(oldDocument, newDocument)
	change := mustChangeAt(t, changes, "assets.eth")
	if change.Type != ChangeDeleted {
		t.Fatalf("expected deleted change, got %s", change.Type)
	}
	if change.Value != nil {
		t.Fatalf("deleted change must not echo the old value, got %#v", change.Value)
	}
}

func TestDetectChangesNestedSettingsLeaf(t *testing.T) {
	oldDocument := sampleDocument()
	oldDocument.Settings["display"] = map[string]interface{}{
		"theme":    "dark",
		"decimals": "8",
	}
	newDocument := oldDocument.Clone()
	newDocument.Settings["display"].(map[string]interface{})["theme"] = "light"

	changes := DetectChanges(oldDocument, newDocument)
	if len(changes) != 1 {
		t.Fatalf("expected one leaf-level change, got %#v", changes)
	}
	if changes[0].DottedPath() != "settings.display.theme" {
		t.Fatalf("expected deep leaf path, got %s", changes[0].DottedPath())
	}
}

func TestDetectChangesTypeFlipIsModified(t *testing.T) {
	oldDocument := sampleDocument()
	oldDocument.Settings["alerts"] = "off"
	newDocument := oldDocument.Clone()
	newDocument.Settings["alerts"] = map[string]interface{}{"price": true}

	changes := DetectChanges(oldDocument, newDocument)
	change := mustChangeAt(t, changes, "settings.alerts")
	if change.Type != ChangeModified {
		t.Fatalf("type flip should report modified, got %s", change.Type)
	}
}

func TestDetectChangesIsDeterministic(t *testing.T) {
	oldDocument := sampleDocument()
	newDocument := documentWithAsset("ada", "500", "0.40", "2025-05-02T00:00:00Z")
	newDocument.Settings["currency"] = "eur"
	delete(newDocument.Assets, "btc")

	first := DetectChanges(oldDocument, newDocument)
	for run := 0; run < 10; run++ {
		again := DetectChanges(oldDocument, newDocument)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("diff output not deterministic: %#v vs %#v", first, again)
		}
	}

	for index := 1; index < len(first); index++ {
		if first[index-1].DottedPath() > first[index].DottedPath() {
			t.Fatalf("changes not ordered by path: %#v", first)
		}
	}
}
