package relation

import (
	"testing"

	"github.com/rohankatakam/memorybank/internal/errors"
)

func TestCanonicalResolvesAliases(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"related_to", "related_to"},
		{"relates_to", "related_to"},
		{"subtask_of", "child_of"},
		{"requires", "depends_on"},
		{"references", "mentions"},
	}
	for _, tt := range tests {
		got, err := Canonical(tt.in)
		if err != nil {
			t.Errorf("Canonical(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Canonical(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCanonicalRejectsUnknown(t *testing.T) {
	_, err := Canonical("friends_with")
	if err == nil {
		t.Fatal("expected error for unknown relation")
	}
	if errors.KindOf(err) != errors.KindValidation {
		t.Errorf("kind = %v, want validation", errors.KindOf(err))
	}
}

func TestInversePairs(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"depends_on", "blocks"},
		{"blocks", "depends_on"},
		{"child_of", "parent_of"},
		{"parent_of", "child_of"},
		{"belongs_to_epic", "epic_contains"},
		{"is_bug_of", "has_bug"},
		{"related_to", "related_to"},
		{"duplicate_of", "duplicate_of"},
	}
	for _, tt := range tests {
		got, err := Inverse(tt.in)
		if err != nil {
			t.Errorf("Inverse(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Inverse(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMentionsHasNoInverse(t *testing.T) {
	_, err := Inverse("mentions")
	if err == nil {
		t.Fatal("expected error for relation without inverse")
	}
	if errors.KindOf(err) != errors.KindNoInverseRelation {
		t.Errorf("kind = %v, want no_inverse_relation", errors.KindOf(err))
	}
}

func TestSymmetry(t *testing.T) {
	if !IsSymmetric("related_to") {
		t.Error("related_to is symmetric")
	}
	if !IsSymmetric("see_also") {
		t.Error("aliases resolve before the symmetry check")
	}
	if IsSymmetric("depends_on") {
		t.Error("depends_on is not symmetric")
	}
	if IsSymmetric("no_such_relation") {
		t.Error("unknown relations are not symmetric")
	}
}

func TestAllSortedAndComplete(t *testing.T) {
	all := All()
	if len(all) == 0 {
		t.Fatal("registry is empty")
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Name >= all[i].Name {
			t.Errorf("registry not sorted at %q", all[i].Name)
		}
	}
	names := Names()
	if len(names) != len(all) {
		t.Errorf("Names() length %d != All() length %d", len(names), len(all))
	}
}
