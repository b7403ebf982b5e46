package models

import (
	"fmt"
	"strings"
)

// TaxonomyKind names one of the registered lists used to build upload targets.
type TaxonomyKind string

const (
	TaxonomyProjects    TaxonomyKind = "projects"
	TaxonomyDisciplines TaxonomyKind = "disciplines"
	TaxonomyPhases      TaxonomyKind = "phases"
)

// Valid reports whether k is a known taxonomy list.
func (k TaxonomyKind) Valid() bool {
	switch k {
	case TaxonomyProjects, TaxonomyDisciplines, TaxonomyPhases:
		return true
	}
	return false
}

// Taxonomy holds the registered projects, disciplines and phases.
type Taxonomy struct {
	Projects    []string `json:"projects" yaml:"projects"`
	Disciplines []string `json:"disciplines" yaml:"disciplines"`
	Phases      []string `json:"phases" yaml:"phases"`
}

// DefaultTaxonomy returns the built-in disciplines and phases. No projects are registered.
func DefaultTaxonomy() *Taxonomy {
	return &Taxonomy{
		Projects:    []string{},
		Disciplines: []string{"GES", "PRO", "MEC", "MET", "CIV", "ELE", "AEI"},
		Phases:      []string{"FEL1", "FEL2", "FEL3", "Executivo"},
	}
}

// List returns the list for kind.
func (t *Taxonomy) List(kind TaxonomyKind) []string {
	switch kind {
	case TaxonomyProjects:
		return t.Projects
	case TaxonomyDisciplines:
		return t.Disciplines
	case TaxonomyPhases:
		return t.Phases
	}
	return nil
}

// ValidTermName reports whether name can be used as a project, discipline or
// phase. Terms are path segments and members of comma-joined account columns,
// so separators and commas are rejected.
func ValidTermName(name string) bool {
	if name == "" || name == "." || name == ".." || strings.TrimSpace(name) != name {
		return false
	}
	return !strings.ContainsAny(name, "/\\,\x00")
}

// Validate checks every term of every list.
func (t *Taxonomy) Validate() error {
	for _, kind := range []TaxonomyKind{TaxonomyProjects, TaxonomyDisciplines, TaxonomyPhases} {
		for _, name := range t.List(kind) {
			if !ValidTermName(name) {
				return fmt.Errorf("invalid %s name %q", kind, name)
			}
		}
	}
	return nil
}

// ProjectNode is the top level of the document tree.
type ProjectNode struct {
	Name        string           `json:"name"`
	Disciplines []DisciplineNode `json:"disciplines"`
}

// DisciplineNode groups phases of one discipline.
type DisciplineNode struct {
	Name   string      `json:"name"`
	Phases []PhaseNode `json:"phases"`
}

// PhaseNode holds the live and archived files of one upload target.
type PhaseNode struct {
	Name     string      `json:"name"`
	Files    []*FileInfo `json:"files"`
	Archived []*FileInfo `json:"archived"`
}
