// Package relation defines the canonical link relation vocabulary: each
// relation's inverse, aliases, and symmetry. The vocabulary ships embedded in
// the binary so link validation never depends on backend state.
package relation

import (
	_ "embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/rohankatakam/memorybank/internal/errors"
)

//go:embed relations.yaml
var relationsYAML []byte

// Relations the service itself depends on. The dependency pair induces the
// acyclic subgraph; init verifies all of these are registered.
const (
	DependsOn = "depends_on"
	Blocks    = "blocks"
	ChildOf   = "child_of"
	ParentOf  = "parent_of"
	Mentions  = "mentions"
)

// Relation describes one canonical relation.
type Relation struct {
	Name        string   `yaml:"name" json:"name"`
	Inverse     string   `yaml:"inverse,omitempty" json:"inverse,omitempty"`
	Symmetric   bool     `yaml:"symmetric,omitempty" json:"symmetric,omitempty"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Aliases     []string `yaml:"aliases,omitempty" json:"-"`
}

type registryFile struct {
	Relations []Relation `yaml:"relations"`
}

var (
	byName  map[string]Relation
	byAlias map[string]string
	ordered []Relation
)

func init() {
	var f registryFile
	if err := yaml.Unmarshal(relationsYAML, &f); err != nil {
		panic(fmt.Sprintf("relation: embedded registry invalid: %v", err))
	}

	byName = make(map[string]Relation, len(f.Relations))
	byAlias = make(map[string]string)
	for _, r := range f.Relations {
		if r.Name == "" {
			panic("relation: embedded registry has an unnamed relation")
		}
		if _, dup := byName[r.Name]; dup {
			panic(fmt.Sprintf("relation: duplicate relation %q", r.Name))
		}
		byName[r.Name] = r
		for _, a := range r.Aliases {
			if prev, dup := byAlias[a]; dup {
				panic(fmt.Sprintf("relation: alias %q maps to both %q and %q", a, prev, r.Name))
			}
			byAlias[a] = r.Name
		}
	}

	// Every declared inverse must itself be registered and point back.
	for name, r := range byName {
		if r.Inverse == "" {
			continue
		}
		inv, ok := byName[r.Inverse]
		if !ok {
			panic(fmt.Sprintf("relation: %q declares unknown inverse %q", name, r.Inverse))
		}
		if inv.Inverse != name {
			panic(fmt.Sprintf("relation: %q and %q disagree on inversion", name, r.Inverse))
		}
	}

	for _, structural := range []string{DependsOn, Blocks, ChildOf, ParentOf, Mentions} {
		if _, ok := byName[structural]; !ok {
			panic(fmt.Sprintf("relation: structural relation %q missing from registry", structural))
		}
	}

	ordered = make([]Relation, 0, len(byName))
	for _, r := range byName {
		ordered = append(ordered, r)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Name < ordered[j].Name })
}

// Canonical resolves a relation name or alias to its canonical name. A
// Validation error is returned for names outside the vocabulary.
func Canonical(name string) (string, error) {
	if _, ok := byName[name]; ok {
		return name, nil
	}
	if canonical, ok := byAlias[name]; ok {
		return canonical, nil
	}
	return "", errors.New(errors.KindValidation,
		fmt.Sprintf("unknown relation %q", name)).
		WithDetail("relation", name).
		WithDetail("known", Names())
}

// IsKnown reports whether name is a canonical relation or alias.
func IsKnown(name string) bool {
	_, err := Canonical(name)
	return err == nil
}

// Inverse returns the inverse of a canonical relation. Relations without an
// inverse yield a NoInverseRelation error.
func Inverse(name string) (string, error) {
	canonical, err := Canonical(name)
	if err != nil {
		return "", err
	}
	r := byName[canonical]
	if r.Inverse == "" {
		return "", errors.New(errors.KindNoInverseRelation,
			fmt.Sprintf("relation %q has no inverse", canonical)).
			WithDetail("relation", canonical)
	}
	return r.Inverse, nil
}

// IsSymmetric reports whether the relation is its own inverse.
func IsSymmetric(name string) bool {
	canonical, err := Canonical(name)
	if err != nil {
		return false
	}
	return byName[canonical].Symmetric
}

// Get returns the full descriptor for a canonical relation or alias.
func Get(name string) (Relation, error) {
	canonical, err := Canonical(name)
	if err != nil {
		return Relation{}, err
	}
	return byName[canonical], nil
}

// All returns every canonical relation, sorted by name.
func All() []Relation {
	out := make([]Relation, len(ordered))
	copy(out, ordered)
	return out
}

// Names returns every canonical relation name, sorted.
func Names() []string {
	names := make([]string, len(ordered))
	for i, r := range ordered {
		names[i] = r.Name
	}
	return names
}
