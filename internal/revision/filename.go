// Package revision decides what happens to an uploaded document based on the
// revision and version encoded in its filename.
//
// Filenames follow NAME_rXvY.ext: a base name, a revision marker r<digits>, a
// version marker v<digits> and an extension. The markers are case-insensitive.
// Within an upload target the live files sharing a base name form a revision
// group; uploading a new revision moves the whole group into an archive
// subfolder, while a new version of the current revision needs confirmation.
package revision

import (
	"regexp"
	"strings"
)

var filenamePattern = regexp.MustCompile(`^(?P<base>.+)[rR](?P<revision>\d+)[vV](?P<version>\d+)(?P<ext>\.\w+)$`)

// separators trimmed from the base to obtain the document name.
const separators = "_- ."

// Filename is a parsed NAME_rXvY.ext filename.
type Filename struct {
	Base     string // verbatim prefix before the revision marker, separator included
	Revision string // decimal digits without leading zeros
	Version  string // decimal digits without leading zeros
	Ext      string // extension including the dot
}

// ParseFilename extracts base, revision, version and extension from name.
// Names that do not match the whole-name grammar are rejected.
func ParseFilename(name string) (Filename, error) {
	m := filenamePattern.FindStringSubmatch(name)
	if m == nil {
		return Filename{}, &ValidationError{FileName: name, Err: ErrMalformedFilename}
	}
	f := Filename{
		Base:     m[filenamePattern.SubexpIndex("base")],
		Revision: normalizeDigits(m[filenamePattern.SubexpIndex("revision")]),
		Version:  normalizeDigits(m[filenamePattern.SubexpIndex("version")]),
		Ext:      m[filenamePattern.SubexpIndex("ext")],
	}
	if f.Document() == "" {
		return Filename{}, &ValidationError{FileName: name, Err: ErrMissingDocumentName}
	}
	return f, nil
}

// String rebuilds the canonical filename. Parsing it yields the same Filename.
func (f Filename) String() string {
	return f.Base + f.RevisionTag() + f.VersionTag() + f.Ext
}

// Document is the base name without trailing separators, e.g. "A" for "A_r1v2.pdf".
func (f Filename) Document() string {
	return strings.TrimRight(f.Base, separators)
}

// RevisionTag returns the revision marker, e.g. "r1".
func (f Filename) RevisionTag() string { return "r" + f.Revision }

// VersionTag returns the version marker, e.g. "v2".
func (f Filename) VersionTag() string { return "v" + f.Version }

func normalizeDigits(d string) string {
	d = strings.TrimLeft(d, "0")
	if d == "" {
		return "0"
	}
	return d
}
