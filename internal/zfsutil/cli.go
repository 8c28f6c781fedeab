package zfsutil

import (
	"bytes"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/diekhans/zfs-zipper/internal/zerrors"
)

// CLIDriver is the production Driver, implemented over the zpool/zfs
// command line tools.
type CLIDriver struct {
	log logrus.FieldLogger

	// zpoolBin/zfsBin name the binaries to run. NewCLIDriver sets them to
	// "zpool"/"zfs"; an empty value falls back to those same names.
	zpoolBin string
	zfsBin   string
}

// NewCLIDriver returns a Driver backed by the real zpool/zfs binaries.
func NewCLIDriver(log logrus.FieldLogger) *CLIDriver {
	return &CLIDriver{log: log, zpoolBin: "zpool", zfsBin: "zfs"}
}

func (d *CLIDriver) zpool() string {
	if d.zpoolBin == "" {
		return "zpool"
	}
	return d.zpoolBin
}

func (d *CLIDriver) zfs() string {
	if d.zfsBin == "" {
		return "zfs"
	}
	return d.zfsBin
}

// run executes bin with args, returning stdout split into tab-separated
// rows. A non-zero exit becomes a ZfsCommandError carrying argv, exit code
// and stderr.
func (d *CLIDriver) run(bin string, args ...string) ([][]string, error) {
	argv := append([]string{bin}, args...)
	d.log.WithField("argv", argv).Debug("running command")

	cmd := exec.Command(bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		exitCode := -1
		if ee, ok := err.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		}
		return nil, zerrors.Command(argv, exitCode, strings.TrimSpace(stderr.String()))
	}

	return splitTabLines(stdout.String()), nil
}

// splitTabLines splits command output into non-empty lines, each split on
// tabs into columns. The trailing blank line from a terminal "\n" is
// dropped.
func splitTabLines(out string) [][]string {
	lines := strings.Split(out, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	rows := make([][]string, 0, len(lines))
	for _, l := range lines {
		if l == "" {
			continue
		}
		rows = append(rows, strings.Split(l, "\t"))
	}
	return rows
}

func parseHealth(s string) (Health, error) {
	switch Health(s) {
	case Online, Degraded, Faulted, Offline, Removed, Unavail:
		return Health(s), nil
	default:
		return "", zerrors.New(zerrors.ParseError, "unrecognized zpool health %q", s)
	}
}

// ListPools implements Driver.
func (d *CLIDriver) ListPools() ([]Pool, error) {
	rows, err := d.run(d.zpool(), "list", "-H", "-o", "name,health")
	if err != nil {
		return nil, err
	}
	pools := make([]Pool, 0, len(rows))
	for _, row := range rows {
		if len(row) != 2 {
			return nil, zerrors.New(zerrors.ParseError, "expected 2 columns from zpool list, got %q", row)
		}
		health, err := parseHealth(row[1])
		if err != nil {
			return nil, err
		}
		pools = append(pools, Pool{Name: row[0], Health: health, Imported: true})
	}
	return pools, nil
}

// ListExportedPools implements Driver. `zpool import` with no arguments
// prints one stanza per importable pool; stanzas are delimited by lines of
// the form "   pool: <name>" with a "   state: <state>" line somewhere
// inside.
func (d *CLIDriver) ListExportedPools() ([]Pool, error) {
	argv := []string{d.zpool(), "import"}
	d.log.WithField("argv", argv).Debug("running command")

	cmd := exec.Command(d.zpool(), "import")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		// `zpool import` with nothing to import exits non-zero on some
		// platforms; treat "no pools available to import" as an empty
		// result rather than an error.
		if strings.Contains(stderr.String(), "no pools available") {
			return nil, nil
		}
		exitCode := -1
		if ee, ok := err.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		}
		return nil, zerrors.Command(argv, exitCode, strings.TrimSpace(stderr.String()))
	}

	var pools []Pool
	var curName string
	var haveName bool
	for _, line := range strings.Split(stdout.String(), "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "pool:"):
			curName = strings.TrimSpace(strings.TrimPrefix(trimmed, "pool:"))
			haveName = true
		case strings.HasPrefix(trimmed, "state:"):
			if !haveName {
				return nil, zerrors.New(zerrors.ParseError, "zpool import: state line before pool line")
			}
			stateStr := strings.TrimSpace(strings.TrimPrefix(trimmed, "state:"))
			health, err := parseHealth(stateStr)
			if err != nil {
				return nil, err
			}
			pools = append(pools, Pool{Name: curName, Health: health, Imported: false})
			haveName = false
		}
	}
	return pools, nil
}

// FindPool implements Driver.
func (d *CLIDriver) FindPool(name string) (*Pool, error) {
	imported, err := d.ListPools()
	if err != nil {
		return nil, err
	}
	for i := range imported {
		if imported[i].Name == name {
			return &imported[i], nil
		}
	}
	exported, err := d.ListExportedPools()
	if err != nil {
		return nil, err
	}
	for i := range exported {
		if exported[i].Name == name {
			return &exported[i], nil
		}
	}
	return nil, nil
}

// ImportPool implements Driver.
func (d *CLIDriver) ImportPool(name string) error {
	_, err := d.run(d.zpool(), "import", name)
	return err
}

// ExportPool implements Driver.
func (d *CLIDriver) ExportPool(name string, force bool) error {
	args := []string{"export"}
	if force {
		args = append(args, "-f")
	}
	args = append(args, name)
	_, err := d.run(d.zpool(), args...)
	return err
}

func parseMounted(s string) (bool, error) {
	switch s {
	case "yes":
		return true, nil
	case "no":
		return false, nil
	default:
		return false, zerrors.New(zerrors.ParseError, "unexpected value for mounted column: %q", s)
	}
}

// ListFileSystems implements Driver.
func (d *CLIDriver) ListFileSystems(pool string) ([]FileSystem, error) {
	rows, err := d.run(d.zfs(), "list", "-Hr", "-t", "filesystem", "-o", "name,mountpoint,mounted", pool)
	if err != nil {
		return nil, err
	}
	fss := make([]FileSystem, 0, len(rows))
	for _, row := range rows {
		if len(row) != 3 {
			return nil, zerrors.New(zerrors.ParseError, "expected 3 columns from zfs list filesystem, got %q", row)
		}
		mounted, err := parseMounted(row[2])
		if err != nil {
			return nil, err
		}
		mountpoint := row[1]
		if mountpoint == "-" {
			mountpoint = ""
		}
		fss = append(fss, FileSystem{Name: row[0], Mountpoint: mountpoint, Mounted: mounted})
	}
	return fss, nil
}

// FindFileSystem implements Driver.
func (d *CLIDriver) FindFileSystem(name string) (*FileSystem, error) {
	rows, err := d.run(d.zfs(), "list", "-H", "-t", "filesystem", "-o", "name,mountpoint,mounted", name)
	if err != nil {
		if ze, ok := err.(*zerrors.Error); ok && ze.Kind == zerrors.ZfsCommandError &&
			strings.Contains(ze.Stderr, "dataset does not exist") {
			return nil, nil
		}
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	row := rows[0]
	if len(row) != 3 {
		return nil, zerrors.New(zerrors.ParseError, "expected 3 columns from zfs list filesystem, got %q", row)
	}
	mounted, err := parseMounted(row[2])
	if err != nil {
		return nil, err
	}
	mountpoint := row[1]
	if mountpoint == "-" {
		mountpoint = ""
	}
	return &FileSystem{Name: row[0], Mountpoint: mountpoint, Mounted: mounted}, nil
}

// CreateFileSystem implements Driver.
func (d *CLIDriver) CreateFileSystem(name string) error {
	_, err := d.run(d.zfs(), "create", "-p", name)
	return err
}

// ListSnapshots implements Driver.
func (d *CLIDriver) ListSnapshots(fsName string) ([]Snapshot, error) {
	rows, err := d.run(d.zfs(), "list", "-Hd", "1", "-t", "snapshot", "-o", "name", "-s", "creation", fsName)
	if err != nil {
		return nil, err
	}
	snaps := make([]Snapshot, 0, len(rows))
	for _, row := range rows {
		if len(row) != 1 {
			return nil, zerrors.New(zerrors.ParseError, "expected 1 column from zfs list snapshot, got %q", row)
		}
		full := row[0]
		fs, snapName, ok := strings.Cut(full, "@")
		if !ok {
			return nil, zerrors.New(zerrors.ParseError, "snapshot name missing '@': %q", full)
		}
		snaps = append(snaps, Snapshot{FullName: full, FileSystem: fs, SnapName: snapName})
	}
	return snaps, nil
}

// CreateSnapshot implements Driver.
func (d *CLIDriver) CreateSnapshot(fullName string) error {
	_, err := d.run(d.zfs(), "snapshot", fullName)
	return err
}

// DestroySnapshot implements Driver.
func (d *CLIDriver) DestroySnapshot(fullName string) error {
	_, err := d.run(d.zfs(), "destroy", "-fp", fullName)
	return err
}

// RenameSnapshot implements Driver.
func (d *CLIDriver) RenameSnapshot(oldName, newName string) error {
	_, err := d.run(d.zfs(), "rename", oldName, newName)
	return err
}

// SendRecvFull implements Driver.
func (d *CLIDriver) SendRecvFull(srcSnap, dstSnap string) ([][]string, error) {
	sendArgs := []string{"send", "-P", srcSnap}
	recvArgs := []string{"receive", "-F", dstSnap}
	return d.pipeline(sendArgs, recvArgs)
}

// SendRecvIncr implements Driver.
func (d *CLIDriver) SendRecvIncr(baseSnap, srcSnap, dstSnap string) ([][]string, error) {
	sendArgs := []string{"send", "-P", "-i", baseSnap, srcSnap}
	recvArgs := []string{"receive", dstSnap}
	return d.pipeline(sendArgs, recvArgs)
}

var _ Driver = (*CLIDriver)(nil)
