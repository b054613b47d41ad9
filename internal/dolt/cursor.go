package dolt

import (
	"encoding/base64"
	"encoding/json"
	"hash/fnv"

	"github.com/rohankatakam/memorybank/internal/errors"
	"github.com/rohankatakam/memorybank/internal/models"
)

// cursor is the decoded form of an opaque paging token. The filter
// fingerprint ties a cursor to the query that produced it, so a token cannot
// be replayed against a different filter.
type cursor struct {
	Offset      int    `json:"o"`
	Fingerprint uint64 `json:"f"`
}

func encodeCursor(offset int, fingerprint uint64) string {
	data, _ := json.Marshal(cursor{Offset: offset, Fingerprint: fingerprint})
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeCursor(token string, fingerprint uint64) (int, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, errors.Wrap(err, errors.KindInvalidCursor, "cursor is not valid")
	}
	var c cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return 0, errors.Wrap(err, errors.KindInvalidCursor, "cursor is not valid")
	}
	if c.Offset < 0 {
		return 0, errors.New(errors.KindInvalidCursor, "cursor is not valid")
	}
	if c.Fingerprint != fingerprint {
		return 0, errors.New(errors.KindInvalidCursor,
			"cursor does not match this query's filter")
	}
	return c.Offset, nil
}

// filterFingerprint hashes the filter with paging fields zeroed, so the same
// logical query always fingerprints identically.
func filterFingerprint(f *models.BlockFilter) uint64 {
	canonical := *f
	canonical.Cursor = ""
	canonical.Limit = 0
	return fingerprint("blocks", canonical)
}

// linkFingerprint is the link-query counterpart of filterFingerprint.
func linkFingerprint(q *models.LinkQuery) uint64 {
	canonical := *q
	canonical.Cursor = ""
	canonical.Limit = 0
	return fingerprint("links", canonical)
}

// fingerprint seeds the hash with the query kind so a token minted for one
// table never decodes for another, even when both filters marshal to {}.
func fingerprint(kind string, canonical any) uint64 {
	data, _ := json.Marshal(canonical)
	h := fnv.New64a()
	h.Write([]byte(kind))
	h.Write(data)
	return h.Sum64()
}
