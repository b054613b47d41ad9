package dolt

import (
	"testing"

	"github.com/rohankatakam/memorybank/internal/errors"
	"github.com/rohankatakam/memorybank/internal/models"
)

func TestCursorRoundTrip(t *testing.T) {
	f := &models.BlockFilter{Type: "task", State: "draft"}
	fp := filterFingerprint(f)

	token := encodeCursor(100, fp)
	offset, err := decodeCursor(token, fp)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if offset != 100 {
		t.Errorf("offset = %d, want 100", offset)
	}
}

func TestCursorRejectsGarbage(t *testing.T) {
	fp := filterFingerprint(&models.BlockFilter{})
	for _, token := range []string{"not base64!!!", "YWJjZGVm", ""} {
		_, err := decodeCursor(token, fp)
		if err == nil {
			t.Errorf("decodeCursor(%q) should fail", token)
			continue
		}
		if errors.KindOf(err) != errors.KindInvalidCursor {
			t.Errorf("kind = %v, want invalid_cursor", errors.KindOf(err))
		}
	}
}

func TestCursorBoundToFilter(t *testing.T) {
	taskFilter := &models.BlockFilter{Type: "task"}
	bugFilter := &models.BlockFilter{Type: "bug"}

	token := encodeCursor(50, filterFingerprint(taskFilter))
	_, err := decodeCursor(token, filterFingerprint(bugFilter))
	if err == nil {
		t.Fatal("cursor must not be valid for a different filter")
	}
	if errors.KindOf(err) != errors.KindInvalidCursor {
		t.Errorf("kind = %v, want invalid_cursor", errors.KindOf(err))
	}
}

func TestFingerprintIgnoresPaging(t *testing.T) {
	base := &models.BlockFilter{Type: "task", Limit: 10}
	paged := &models.BlockFilter{Type: "task", Limit: 20, Cursor: "whatever"}
	if filterFingerprint(base) != filterFingerprint(paged) {
		t.Error("limit and cursor must not affect the fingerprint")
	}

	other := &models.BlockFilter{Type: "doc"}
	if filterFingerprint(base) == filterFingerprint(other) {
		t.Error("different filters should fingerprint differently")
	}
}

func TestCursorRejectsNegativeOffset(t *testing.T) {
	fp := filterFingerprint(&models.BlockFilter{})
	token := encodeCursor(-5, fp)
	if _, err := decodeCursor(token, fp); err == nil {
		t.Error("negative offset must be rejected")
	}
}

func TestLinkFingerprintIgnoresPaging(t *testing.T) {
	base := &models.LinkQuery{Relation: "depends_on", Limit: 10}
	paged := &models.LinkQuery{Relation: "depends_on", Limit: 20, Cursor: "whatever"}
	if linkFingerprint(base) != linkFingerprint(paged) {
		t.Error("limit and cursor must not affect the fingerprint")
	}

	other := &models.LinkQuery{Relation: "child_of"}
	if linkFingerprint(base) == linkFingerprint(other) {
		t.Error("different queries should fingerprint differently")
	}
}

func TestCursorBoundToQueryKind(t *testing.T) {
	// Both filters marshal to {}, so only the kind seed separates them.
	blockToken := encodeCursor(50, filterFingerprint(&models.BlockFilter{}))
	_, err := decodeCursor(blockToken, linkFingerprint(&models.LinkQuery{}))
	if err == nil {
		t.Fatal("a block cursor must not be valid for a link query")
	}
	if errors.KindOf(err) != errors.KindInvalidCursor {
		t.Errorf("kind = %v, want invalid_cursor", errors.KindOf(err))
	}
}
