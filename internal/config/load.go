package config

import (
	"os"
	"time"

	"github.com/ncruces/go-strftime"
	"github.com/diekhans/zfs-zipper/internal/zerrors"
	yaml "gopkg.in/yaml.v2"
)

// rawBackupSet is the YAML shape of one backup set entry.
type rawBackupSet struct {
	Name              string   `yaml:"name"`
	SourceFileSystems []string `yaml:"sourceFileSystems"`
	BackupPools       []string `yaml:"backupPools"`
}

// rawLogSink is the YAML shape of the logging section.
type rawLogSink struct {
	Level          string `yaml:"level"`
	SyslogFacility string `yaml:"syslogFacility"`
}

// rawConfig is the YAML document shape, unmarshaled as-is before being
// converted into the validated domain types.
type rawConfig struct {
	BackupSets        []rawBackupSet `yaml:"backupSets"`
	LockFile          string         `yaml:"lockFile"`
	RecordFilePattern string         `yaml:"recordFilePattern"`
	AllowDegraded     bool           `yaml:"allowDegraded"`
	LogSink           rawLogSink     `yaml:"logSink"`
}

// Load reads, parses and validates a YAML configuration file, expanding
// RecordFilePattern (a strftime pattern, evaluated in GMT) against the
// current time.
func Load(path string) (*BackupConf, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, zerrors.New(zerrors.ConfigError, "reading config file %s: %v", path, err)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, zerrors.New(zerrors.ConfigError, "parsing config file %s: %v", path, err)
	}

	return buildConfig(&raw, time.Now().UTC())
}

// buildConfig converts a parsed rawConfig into a validated BackupConf.
// now is passed in (rather than read from time.Now within) so tests can
// pin the strftime expansion of RecordFilePattern.
func buildConfig(raw *rawConfig, now time.Time) (*BackupConf, error) {
	if len(raw.BackupSets) == 0 {
		return nil, zerrors.New(zerrors.ConfigError, "config file defines no backup sets")
	}
	if raw.LockFile == "" {
		return nil, zerrors.New(zerrors.ConfigError, "config file: lockFile is required")
	}
	if raw.RecordFilePattern == "" {
		return nil, zerrors.New(zerrors.ConfigError, "config file: recordFilePattern is required")
	}

	sets := make([]*BackupSetConf, 0, len(raw.BackupSets))
	seenNames := make(map[string]bool, len(raw.BackupSets))
	for _, rs := range raw.BackupSets {
		if seenNames[rs.Name] {
			return nil, zerrors.New(zerrors.ConfigError, "duplicate backup set name %q", rs.Name)
		}
		seenNames[rs.Name] = true

		if len(rs.SourceFileSystems) == 0 {
			return nil, zerrors.New(zerrors.ConfigError, "backup set %q: no source file systems", rs.Name)
		}
		if len(rs.BackupPools) == 0 {
			return nil, zerrors.New(zerrors.ConfigError, "backup set %q: no backup pools", rs.Name)
		}

		sourceFSs := make([]SourceFileSystemConf, len(rs.SourceFileSystems))
		for i, n := range rs.SourceFileSystems {
			sourceFSs[i] = NewSourceFileSystemConf(n)
		}
		pools := make([]BackupPoolConf, len(rs.BackupPools))
		for i, n := range rs.BackupPools {
			pools[i] = NewBackupPoolConf(n)
		}

		set, err := NewBackupSetConf(rs.Name, sourceFSs, pools)
		if err != nil {
			return nil, err
		}
		sets = append(sets, set)
	}

	level := raw.LogSink.Level
	if level == "" {
		level = "info"
	}
	switch level {
	case "debug", "info", "warning", "error":
	default:
		return nil, zerrors.New(zerrors.ConfigError, "logSink.level %q must be one of debug, info, warning, error", level)
	}

	recordFilePath := strftime.Format(raw.RecordFilePattern, now)

	return &BackupConf{
		BackupSets:        sets,
		LockFilePath:      raw.LockFile,
		RecordFilePath:    recordFilePath,
		AllowDegraded:     raw.AllowDegraded,
		LogSink: LogSinkConf{
			Level:          level,
			SyslogFacility: raw.LogSink.SyslogFacility,
		},
	}, nil
}
