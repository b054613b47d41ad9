package dolt

import (
	"encoding/json"
	"time"

	"github.com/rohankatakam/memorybank/internal/models"
)

// decomposeMetadata flattens a metadata document into typed property rows so
// SQL can filter on individual fields without JSON path expressions. Each row
// fills exactly one value column: strings and datetimes land in value_text,
// numbers in value_number, everything else in value_json. The property type
// says how to read the column back.
func decomposeMetadata(blockID string, metadata models.JSONMap, now time.Time) []models.BlockProperty {
	if len(metadata) == 0 {
		return nil
	}
	props := make([]models.BlockProperty, 0, len(metadata))
	for name, value := range metadata {
		p := models.BlockProperty{
			BlockID:   blockID,
			Name:      name,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if !assignPropertyValue(&p, value) {
			continue
		}
		props = append(props, p)
	}
	return props
}

// assignPropertyValue types one metadata value. Returns false for JSON nulls,
// which carry no property row.
func assignPropertyValue(p *models.BlockProperty, value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		p.ValueType = models.PropertyBoolean
		if v {
			p.JSONValue = json.RawMessage("true")
		} else {
			p.JSONValue = json.RawMessage("false")
		}
	case string:
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			utc := ts.UTC().Format(time.RFC3339Nano)
			p.ValueType = models.PropertyDatetime
			p.TextValue = &utc
			return true
		}
		p.ValueType = models.PropertyText
		p.TextValue = &v
	case float64:
		p.ValueType = models.PropertyNumber
		p.NumberValue = &v
	case float32:
		f := float64(v)
		p.ValueType = models.PropertyNumber
		p.NumberValue = &f
	case int:
		f := float64(v)
		p.ValueType = models.PropertyNumber
		p.NumberValue = &f
	case int64:
		f := float64(v)
		p.ValueType = models.PropertyNumber
		p.NumberValue = &f
	case json.Number:
		if f, err := v.Float64(); err == nil {
			p.ValueType = models.PropertyNumber
			p.NumberValue = &f
			return true
		}
		s := v.String()
		p.ValueType = models.PropertyText
		p.TextValue = &s
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return false
		}
		p.ValueType = models.PropertyJSON
		p.JSONValue = raw
	}
	return true
}
