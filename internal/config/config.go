// Package config implements the backup configuration domain model: source
// file systems, backup pool rotations, backup sets, and the top-level
// BackupConf, plus their construction invariants.
package config

import (
	"regexp"
	"strings"

	"github.com/diekhans/zfs-zipper/internal/zerrors"
)

// setNameRe constrains backup-set names to alphanumerics: the name is used
// as a delimiter-adjacent component inside snapshot names, so anything
// else (particularly '_') would be ambiguous with the snapshot name
// grammar.
var setNameRe = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// SourceFileSystemConf identifies a source dataset to back up.
type SourceFileSystemConf struct {
	Name string // canonical path, duplicate slashes collapsed
}

// NewSourceFileSystemConf builds a SourceFileSystemConf, normalizing name.
func NewSourceFileSystemConf(name string) SourceFileSystemConf {
	return SourceFileSystemConf{Name: normalizeDatasetName(name)}
}

// normalizeDatasetName collapses duplicate slashes in a ZFS dataset name.
// ZFS dataset names are "/"-separated regardless of host OS, so this is
// manual rather than path/filepath-based.
func normalizeDatasetName(name string) string {
	parts := strings.Split(name, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return strings.Join(out, "/")
}

// BackupPoolConf names one removable backup pool in a rotation.
type BackupPoolConf struct {
	Name string
}

// NewBackupPoolConf builds a BackupPoolConf.
func NewBackupPoolConf(name string) BackupPoolConf {
	return BackupPoolConf{Name: name}
}

// DetermineBackupFileSystemName derives the mirror filesystem name on this
// pool for a given source filesystem: "<poolName>/<sourceFsName>",
// normalized.
func (p BackupPoolConf) DetermineBackupFileSystemName(sourceFsName string) string {
	return normalizeDatasetName(p.Name + "/" + sourceFsName)
}

// BackupSetConf binds one or more source file systems to an ordered
// rotation of backup pools.
type BackupSetConf struct {
	Name              string
	SourceFileSystems []SourceFileSystemConf
	BackupPools       []BackupPoolConf
}

// NewBackupSetConf validates and builds a BackupSetConf. Declaration order
// of both sourceFileSystems and backupPools is preserved.
func NewBackupSetConf(name string, sourceFileSystems []SourceFileSystemConf, backupPools []BackupPoolConf) (*BackupSetConf, error) {
	if !setNameRe.MatchString(name) {
		return nil, zerrors.New(zerrors.ConfigError, "backup set name %q must contain only alphanumerics", name)
	}

	seenFS := make(map[string]bool, len(sourceFileSystems))
	for _, fs := range sourceFileSystems {
		if seenFS[fs.Name] {
			return nil, zerrors.New(zerrors.ConfigError, "backup set %q: duplicate source file system %q", name, fs.Name)
		}
		seenFS[fs.Name] = true
	}

	seenPool := make(map[string]bool, len(backupPools))
	for _, p := range backupPools {
		if seenPool[p.Name] {
			return nil, zerrors.New(zerrors.ConfigError, "backup set %q: duplicate backup pool %q", name, p.Name)
		}
		seenPool[p.Name] = true
	}

	return &BackupSetConf{
		Name:              name,
		SourceFileSystems: sourceFileSystems,
		BackupPools:       backupPools,
	}, nil
}

// BackupPoolNames returns the rotation's pool names in declaration order.
func (s *BackupSetConf) BackupPoolNames() []string {
	names := make([]string, len(s.BackupPools))
	for i, p := range s.BackupPools {
		names[i] = p.Name
	}
	return names
}

// GetBackupPool looks up a pool configuration by name within this set.
func (s *BackupSetConf) GetBackupPool(name string) (*BackupPoolConf, bool) {
	for i := range s.BackupPools {
		if s.BackupPools[i].Name == name {
			return &s.BackupPools[i], true
		}
	}
	return nil, false
}

// LogSinkConf carries the ambient logging transport options:
// configuration-file-driven knobs consumed by cmd/zfszipper when it wires
// the actual logrus output, never by the core planner itself.
type LogSinkConf struct {
	// Level is one of "debug", "info", "warning", "error".
	Level string
	// SyslogFacility, if non-empty, additionally sends log records to
	// syslog at this facility (e.g. "daemon", "local0").
	SyslogFacility string
}

// BackupConf is the top-level configuration.
type BackupConf struct {
	BackupSets []*BackupSetConf
	// LockFilePath is the advisory single-instance lock file path.
	LockFilePath string
	// RecordFilePath is the record file's actual path, already
	// strftime-expanded (GMT) at load time from the configured pattern.
	RecordFilePath string
	// AllowDegraded permits selecting a DEGRADED backup pool.
	AllowDegraded bool
	LogSink       LogSinkConf
}

// GetBackupSet looks up a configured backup set by name.
func (c *BackupConf) GetBackupSet(name string) (*BackupSetConf, bool) {
	for _, s := range c.BackupSets {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}
