// Package snapshot implements the backup snapshot naming scheme and the
// newest-first snapshot list searches the planner depends on.
package snapshot

import (
	"regexp"
	"strings"
	"time"

	"github.com/diekhans/zfs-zipper/internal/clock"
	"github.com/diekhans/zfs-zipper/internal/zerrors"
)

// Prefix is the reserved prefix every snapshot this tool creates carries.
const Prefix = "zipper_"

// timestampLayout is the wire format of BackupSnapshot.Timestamp: a GMT
// "YYYY-MM-DDTHH:MM:SS" string. Go's reference layout for this shape.
const timestampLayout = "2006-01-02T15:04:05"

// nameRe matches the portion of a snapshot name after "@" (or the whole
// string, for a bare snapshot name with no filesystem prefix).
//
// The backup-set group is non-greedy. A greedy `([^.]+)` followed by an
// optional `(_full|_incr)?` anchored at `$` never actually backtracks into
// matching the suffix: the greedy group consumes it first, and the
// optional group is satisfied by matching zero characters. Making the
// group non-greedy instead is what makes legacySuffix come back as a
// distinct field rather than silently folded into backupsetName (see
// DESIGN.md).
var nameRe = regexp.MustCompile(`^` + Prefix + `([0-9]{4}-[0-9]{2}-[0-9]{2}T[0-9]{2}:[0-9]{2}:[0-9]{2})_([^.]+?)(?:_(full|incr))?$`)

// BackupSnapshot is a parsed backup snapshot name.
type BackupSnapshot struct {
	// FileSystemName is the dataset the snapshot lives on, or "" if the
	// snapshot was parsed/constructed without one.
	FileSystemName string
	// Timestamp is the GMT "YYYY-MM-DDTHH:MM:SS" creation stamp.
	Timestamp string
	// BackupsetName names the owning backup set.
	BackupsetName string
	// LegacySuffix is "full", "incr", or "" if this snapshot was parsed
	// from (or constructed as) a new-style name. Never emitted on
	// newly-created snapshots.
	LegacySuffix string
}

// Parse parses a raw snapshot name, with or without a "<fs>@" prefix.
func Parse(rawName string) (*BackupSnapshot, error) {
	var fs, name string
	if before, after, found := strings.Cut(rawName, "@"); found {
		fs, name = before, after
	} else {
		fs, name = "", rawName
	}
	m := nameRe.FindStringSubmatch(name)
	if m == nil {
		return nil, zerrors.New(zerrors.ParseError, "snapshot name %q does not match the zipper_ naming scheme", rawName)
	}
	if fs != "" {
		fs = normalizeFS(fs)
	}
	return &BackupSnapshot{
		FileSystemName: fs,
		Timestamp:      m[1],
		BackupsetName:  m[2],
		LegacySuffix:   m[3],
	}, nil
}

// normalizeFS collapses duplicate slashes in a ZFS dataset name. ZFS
// dataset names are always "/"-separated regardless of host OS, so this
// uses manual collapsing rather than path/filepath (which is
// backslash-aware on Windows and irrelevant here anyway).
func normalizeFS(fs string) string {
	parts := strings.Split(fs, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return strings.Join(out, "/")
}

// FormatWithoutFS serializes the snapshot name without its filesystem
// prefix: the file-system-independent identity used for common-ancestor
// comparisons.
func (s *BackupSnapshot) FormatWithoutFS() string {
	name := Prefix + s.Timestamp + "_" + s.BackupsetName
	if s.LegacySuffix != "" {
		name += "_" + s.LegacySuffix
	}
	return name
}

// FormatWithFS serializes the full "<fs>@<name>" snapshot name. If
// FileSystemName is empty it returns the same string as FormatWithoutFS.
func (s *BackupSnapshot) FormatWithFS() string {
	if s.FileSystemName == "" {
		return s.FormatWithoutFS()
	}
	return s.FileSystemName + "@" + s.FormatWithoutFS()
}

func (s *BackupSnapshot) String() string { return s.FormatWithFS() }

// CreateFromExisting clones a snapshot's identity (timestamp, backup set,
// legacy suffix) onto a new filesystem.
func CreateFromExisting(s *BackupSnapshot, newFS string) *BackupSnapshot {
	return &BackupSnapshot{
		FileSystemName: newFS,
		Timestamp:      s.Timestamp,
		BackupsetName:  s.BackupsetName,
		LegacySuffix:   s.LegacySuffix,
	}
}

// CreateCurrent stamps a new snapshot with the current GMT second. It
// blocks the calling goroutine for at least 2 seconds before returning:
// the wire format's one-second resolution means two calls in the same
// process could otherwise produce colliding names. c.Sleep is always
// invoked so a fake clock in tests can observe (and skip) the wait.
func CreateCurrent(backupsetName, fs string, c clock.Clock) *BackupSnapshot {
	c.Sleep(2 * time.Second)
	return &BackupSnapshot{
		FileSystemName: fs,
		Timestamp:      c.Now().Format(timestampLayout),
		BackupsetName:  backupsetName,
	}
}

// IsOurs reports whether the portion of rawName after any "@" starts with
// the reserved prefix, without fully parsing it. The planner uses it to skip
// other tools' snapshots before parsing; names that carry the prefix but
// fail Parse are skipped as well.
func IsOurs(rawName string) bool {
	if i := strings.IndexByte(rawName, '@'); i >= 0 {
		rawName = rawName[i+1:]
	}
	return strings.HasPrefix(rawName, Prefix)
}
