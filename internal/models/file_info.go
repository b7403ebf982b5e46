// Package models contains domain types for the engineering document manager.
package models

import (
	"path/filepath"
	"strings"
	"time"
)

// Target identifies the upload directory for a (project, discipline, phase) tuple.
type Target struct {
	Project    string `json:"project"`
	Discipline string `json:"discipline"`
	Phase      string `json:"phase"`
}

// String returns the target as a slash-separated path relative to the uploads root.
func (t Target) String() string {
	return t.Project + "/" + t.Discipline + "/" + t.Phase
}

// FileKind classifies a file for listing icons and inline previews.
type FileKind string

const (
	FileKindPDF   FileKind = "pdf"
	FileKindImage FileKind = "image"
	FileKindOther FileKind = "other"
)

// KindOf classifies a file by its extension.
func KindOf(name string) FileKind {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return FileKindPDF
	case ".jpg", ".jpeg", ".png":
		return FileKindImage
	default:
		return FileKindOther
	}
}

// FileInfo represents metadata about a stored document.
type FileInfo struct {
	Path       string    `json:"path"` // relative to the uploads root, slash-separated
	Name       string    `json:"name"`
	Project    string    `json:"project"`
	Discipline string    `json:"discipline"`
	Phase      string    `json:"phase"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modifiedAt"`
	Archived   bool      `json:"archived"`
	Kind       FileKind  `json:"kind"`
	Base       string    `json:"base,omitempty"`
	Revision   string    `json:"revision,omitempty"`
	Version    string    `json:"version,omitempty"`
}

// Target returns the upload target the file belongs to.
func (f *FileInfo) Target() Target {
	return Target{Project: f.Project, Discipline: f.Discipline, Phase: f.Phase}
}
