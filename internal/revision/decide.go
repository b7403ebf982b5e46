package revision

import "strings"

// Disposition is the outcome of resolving an upload.
type Disposition string

const (
	DispositionAccept               Disposition = "accept"
	DispositionArchiveAndAccept     Disposition = "archive_and_accept"
	DispositionConfirmationRequired Disposition = "confirmation_required"
	DispositionDuplicate            Disposition = "duplicate"

	// Reported to observers only.
	DispositionInvalid Disposition = "invalid"
	DispositionFailed  Disposition = "failed"
)

// Member is a live file belonging to the candidate's revision group.
type Member struct {
	Name string
	File Filename
}

// Decision is the pure outcome of comparing a candidate with a directory listing.
type Decision struct {
	Disposition Disposition
	Candidate   Filename
	Group       []Member
	Supersede   []string // names to archive before accepting
	Conflicts   []string // same revision, different version or a respelling of the candidate
}

// Decide compares the candidate with the names currently in the target
// directory. Names that do not parse are not part of any revision group.
// A live file with the same revision, version and extension under another
// spelling (A_r01v1.pdf for A_r1v1.pdf) needs confirmation like a new version.
func Decide(name string, candidate Filename, existing []string) Decision {
	d := Decision{Candidate: candidate}

	for _, e := range existing {
		if e == name {
			d.Disposition = DispositionDuplicate
			return d
		}
	}

	var sameRevision, otherRevision bool
	for _, e := range existing {
		f, err := ParseFilename(e)
		if err != nil || f.Base != candidate.Base {
			continue
		}
		d.Group = append(d.Group, Member{Name: e, File: f})
		if f.Revision == candidate.Revision {
			sameRevision = true
			if f.Version != candidate.Version || strings.EqualFold(f.Ext, candidate.Ext) {
				d.Conflicts = append(d.Conflicts, e)
			}
		} else {
			otherRevision = true
		}
	}

	switch {
	case otherRevision && !sameRevision:
		d.Disposition = DispositionArchiveAndAccept
		for _, m := range d.Group {
			d.Supersede = append(d.Supersede, m.Name)
		}
	case len(d.Conflicts) > 0:
		d.Disposition = DispositionConfirmationRequired
	default:
		d.Disposition = DispositionAccept
	}
	return d
}
