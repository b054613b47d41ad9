package models

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestNormalizeTags(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"nil", nil, nil},
		{"lowercased and trimmed", []string{" Urgent", "BACKEND "}, []string{"urgent", "backend"}},
		{"dedup preserves order", []string{"a", "b", "a", "B"}, []string{"a", "b"}},
		{"all blank", []string{"", "   "}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeTags(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("NormalizeTags(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestPatchIsEmpty(t *testing.T) {
	var nilPatch *BlockPatch
	if !nilPatch.IsEmpty() {
		t.Error("nil patch is empty")
	}
	if !(&BlockPatch{}).IsEmpty() {
		t.Error("zero patch is empty")
	}
	text := "updated"
	if (&BlockPatch{Text: &text}).IsEmpty() {
		t.Error("patch with text is not empty")
	}
	if (&BlockPatch{MergeMetadata: JSONMap{"k": "v"}}).IsEmpty() {
		t.Error("patch with metadata merge is not empty")
	}
	// A version guard alone changes nothing.
	v := 3
	if !(&BlockPatch{IfVersion: &v}).IsEmpty() {
		t.Error("patch with only a version guard is empty")
	}
}

func TestJSONMapRoundTrip(t *testing.T) {
	m := JSONMap{"priority": "high", "estimate": float64(3)}
	val, err := m.Value()
	if err != nil {
		t.Fatalf("Value() error: %v", err)
	}
	var got JSONMap
	if err := got.Scan(val); err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if !reflect.DeepEqual(got, m) {
		t.Errorf("round trip = %v, want %v", got, m)
	}
}

func TestJSONMapScanNil(t *testing.T) {
	m := JSONMap{"k": "v"}
	if err := m.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) error: %v", err)
	}
	if m != nil {
		t.Errorf("Scan(nil) should clear the map, got %v", m)
	}
}

func TestJSONListScanString(t *testing.T) {
	var l JSONList
	if err := l.Scan(`["a","b"]`); err != nil {
		t.Fatalf("Scan(string) error: %v", err)
	}
	if !l.Contains("a") || !l.Contains("b") || l.Contains("c") {
		t.Errorf("unexpected list contents: %v", l)
	}
}

func TestVectorRoundTrip(t *testing.T) {
	v := Vector{0.25, -1, 0}
	val, err := v.Value()
	if err != nil {
		t.Fatalf("Value() error: %v", err)
	}
	var got Vector
	if err := got.Scan(val); err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if !reflect.DeepEqual(got, v) {
		t.Errorf("round trip = %v, want %v", got, v)
	}

	var nilVec Vector
	val, err = nilVec.Value()
	if err != nil || val != nil {
		t.Errorf("nil vector should store NULL, got %v, %v", val, err)
	}
}

func TestValidators(t *testing.T) {
	for _, s := range ValidStates {
		if !IsValidState(s) {
			t.Errorf("state %q should be valid", s)
		}
	}
	if IsValidState("deleted") {
		t.Error("unknown state accepted")
	}
	for _, v := range ValidVisibilities {
		if !IsValidVisibility(v) {
			t.Errorf("visibility %q should be valid", v)
		}
	}
	if IsValidVisibility("secret") {
		t.Error("unknown visibility accepted")
	}
}

func TestBlockJSONShape(t *testing.T) {
	b := MemoryBlock{
		ID:        "blk-1",
		Namespace: DefaultNamespace,
		Type:      "task",
		Text:      "write the report",
		State:     StateDraft,
	}
	data, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["namespace"] != DefaultNamespace {
		t.Errorf("namespace field = %v", m["namespace"])
	}
	if _, ok := m["tags"]; ok {
		t.Error("empty tags should be omitted")
	}
	if _, ok := m["parent_id"]; ok {
		t.Error("nil parent should be omitted")
	}
}

func TestBlockEmbeddingNeverSerializes(t *testing.T) {
	b := MemoryBlock{ID: "blk-1", Embedding: Vector{1, 2, 3}}
	data, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := m["embedding"]; ok {
		t.Error("embedding must stay out of API payloads")
	}
}
