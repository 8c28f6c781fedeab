// Package backup implements the file-system backup planner and the
// backup-set orchestrator: the decision of which full/incremental sends
// bring a backup pool up to date, and the pool selection/rotation logic
// that wraps it.
package backup

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/diekhans/zfs-zipper/internal/clock"
	"github.com/diekhans/zfs-zipper/internal/config"
	"github.com/diekhans/zfs-zipper/internal/recorder"
	"github.com/diekhans/zfs-zipper/internal/snapshot"
	"github.com/diekhans/zfs-zipper/internal/zerrors"
	"github.com/diekhans/zfs-zipper/internal/zfsutil"
)

// tmpSuffix marks a backup-side snapshot as not yet renamed into place.
const tmpSuffix = ".tmp"

// FsBackup plans and executes the backup of one source file system onto
// one already-selected (and, if necessary, already-imported) backup pool.
type FsBackup struct {
	driver   zfsutil.Driver
	rec      *recorder.Recorder
	clock    clock.Clock
	log      logrus.FieldLogger
	set      *config.BackupSetConf
	pool     *config.BackupPoolConf
	sourceFS string
	backupFS string // "" when snapOnly: no backup pool selected

	source snapshot.List
	backup snapshot.List
	// orphans holds the raw ".tmp" snapshot names observed on the backup
	// file system at construction time, not yet destroyed.
	orphans []string
}

// NewFsBackup constructs a planner for one source file system. When pool
// is nil this is a snap-only run: no backup-side state is read and only
// CreateSnapshotOnly (via the orchestrator's snapOnly path) may be used.
func NewFsBackup(driver zfsutil.Driver, rec *recorder.Recorder, c clock.Clock, log logrus.FieldLogger,
	set *config.BackupSetConf, pool *config.BackupPoolConf, sourceFS string) (*FsBackup, error) {

	fb := &FsBackup{
		driver:   driver,
		rec:      rec,
		clock:    c,
		log:      log.WithField("sourceFileSystem", sourceFS),
		set:      set,
		pool:     pool,
		sourceFS: sourceFS,
	}

	source, err := fb.listOurs(sourceFS)
	if err != nil {
		return nil, err
	}
	fb.source = source

	if pool != nil {
		backupFS := pool.DetermineBackupFileSystemName(sourceFS)
		fb.backupFS = backupFS

		fs, err := driver.FindFileSystem(backupFS)
		if err != nil {
			return nil, err
		}
		if fs == nil {
			if err := driver.CreateFileSystem(backupFS); err != nil {
				return nil, err
			}
		}

		backup, orphans, err := fb.listBackupSide(backupFS)
		if err != nil {
			return nil, err
		}
		fb.backup = backup
		fb.orphans = orphans
	}

	return fb, nil
}

// listOurs lists a file system's snapshots newest-first, keeping only
// those that parse as ours; stray names are silently dropped.
func (fb *FsBackup) listOurs(fsName string) (snapshot.List, error) {
	snaps, err := fb.driver.ListSnapshots(fsName)
	if err != nil {
		return nil, err
	}
	out := make(snapshot.List, 0, len(snaps))
	for i := len(snaps) - 1; i >= 0; i-- { // driver returns oldest->newest; we want newest-first
		raw := snaps[i].FullName
		if !snapshot.IsOurs(raw) {
			continue
		}
		bs, err := snapshot.Parse(raw)
		if err != nil {
			continue
		}
		out = append(out, bs)
	}
	return out, nil
}

// listBackupSide lists a backup file system's snapshots newest-first,
// separating ordinary (parseable) ones from ".tmp" orphans: a name ending
// in ".tmp" never matches the naming regex, so it must be pulled out
// before parsing rather than filtered afterward.
func (fb *FsBackup) listBackupSide(fsName string) (snapshot.List, []string, error) {
	snaps, err := fb.driver.ListSnapshots(fsName)
	if err != nil {
		return nil, nil, err
	}
	out := make(snapshot.List, 0, len(snaps))
	var orphans []string
	for i := len(snaps) - 1; i >= 0; i-- { // driver returns oldest->newest; we want newest-first
		raw := snaps[i].FullName
		if !snapshot.IsOurs(raw) {
			continue
		}
		if strings.HasSuffix(raw, tmpSuffix) {
			orphans = append(orphans, raw)
			continue
		}
		bs, err := snapshot.Parse(raw)
		if err != nil {
			continue
		}
		out = append(out, bs)
	}
	return out, orphans, nil
}

// cleanOrphans destroys any backup-side ".tmp" snapshot left by a crashed
// receive, recording one destroytmp row per orphan, before any plan runs.
func (fb *FsBackup) cleanOrphans() error {
	for _, full := range fb.orphans {
		if err := fb.driver.DestroySnapshot(full); err != nil {
			return zerrors.Wrap(zerrors.StateError, err, "destroying orphan tmp snapshot %s", full)
		}
		if err := fb.rec.Record(recorder.Row{
			Time:       recorder.FormatTime(fb.clock.Now()),
			BackupSet:  fb.set.Name,
			BackupPool: fb.poolName(),
			Action:     recorder.DestroyTmp,
			BackupSnap: full,
		}); err != nil {
			return err
		}
	}
	fb.orphans = nil
	return nil
}

func (fb *FsBackup) poolName() string {
	if fb.pool == nil {
		return ""
	}
	return fb.pool.Name
}

// Run executes the chosen plan (P1-P4) for this file system, against an
// already-selected backup pool. Any error is recorded as an "error" row
// naming the backup set, pool and file system, then returned.
func (fb *FsBackup) Run() error {
	if err := fb.run(); err != nil {
		_ = fb.rec.Record(recorder.Row{
			Time:       recorder.FormatTime(fb.clock.Now()),
			BackupSet:  fb.set.Name,
			BackupPool: fb.poolName(),
			Action:     recorder.ErrorRow,
			Info:       fb.sourceFS,
			Exception:  err.Error(),
		})
		return err
	}
	return nil
}

func (fb *FsBackup) run() error {
	if err := fb.cleanOrphans(); err != nil {
		return err
	}

	if len(fb.source) == 0 {
		// P1: pristine source.
		sNew := snapshot.CreateCurrent(fb.set.Name, fb.sourceFS, fb.clock)
		if err := fb.driver.CreateSnapshot(sNew.FormatWithFS()); err != nil {
			return err
		}
		return fb.sendFull(sNew)
	}

	common := fb.source.FindNewestCommon(fb.backup)
	if common == nil {
		// P2: no common ancestor. Full-send the oldest source snapshot,
		// then catch up against it.
		oldest := fb.source[len(fb.source)-1]
		if err := fb.sendFull(oldest); err != nil {
			return err
		}
		return fb.catchUpAndAdvance(oldest)
	}

	// P3: common ancestor exists.
	return fb.catchUpAndAdvance(common)
}

// catchUpAndAdvance implements P4 followed by the final new-snapshot send
// of P3/P2: every source snapshot strictly newer than ref is sent as an
// incremental chain (oldest-first), then a brand-new source snapshot is
// created and sent incrementally against the chain's newest element.
func (fb *FsBackup) catchUpAndAdvance(ref *snapshot.BackupSnapshot) error {
	idx := fb.source.IndexOf(ref.FormatWithoutFS())
	if idx < 0 {
		return zerrors.New(zerrors.StateError, "common ancestor %s vanished from source snapshot list for %s", ref.FormatWithoutFS(), fb.sourceFS)
	}

	prev := ref
	for i := idx - 1; i >= 0; i-- { // fb.source is newest-first; walk oldest->newest
		cur := fb.source[i]
		if err := fb.sendIncr(prev, cur); err != nil {
			return err
		}
		prev = cur
	}

	sNew := snapshot.CreateCurrent(fb.set.Name, fb.sourceFS, fb.clock)
	if err := fb.driver.CreateSnapshot(sNew.FormatWithFS()); err != nil {
		return err
	}
	fb.source = append(snapshot.List{sNew}, fb.source...)
	return fb.sendIncr(prev, sNew)
}

// sendFull runs a full send/receive of src onto this planner's backup
// file system, via the temp-name/rename protocol, and records one "full"
// row.
func (fb *FsBackup) sendFull(src *snapshot.BackupSnapshot) error {
	dst := snapshot.CreateFromExisting(src, fb.backupFS)
	tmpName := dst.FormatWithFS() + tmpSuffix
	finalName := dst.FormatWithFS()

	rows, err := fb.driver.SendRecvFull(src.FormatWithFS(), tmpName)
	if err != nil {
		return err
	}
	if err := fb.driver.RenameSnapshot(tmpName, finalName); err != nil {
		return err
	}

	size, err := parseFullSize(rows)
	if err != nil {
		return err
	}

	fb.backup = append(snapshot.List{dst}, fb.backup...)

	return fb.rec.Record(recorder.Row{
		Time:       recorder.FormatTime(fb.clock.Now()),
		BackupSet:  fb.set.Name,
		BackupPool: fb.poolName(),
		Action:     recorder.Full,
		Src1Snap:   src.FormatWithFS(),
		BackupSnap: finalName,
		Size:       size,
	})
}

// sendIncr runs an incremental send/receive from base to src, via the
// temp-name/rename protocol, and records one "incr" row.
func (fb *FsBackup) sendIncr(base, src *snapshot.BackupSnapshot) error {
	dst := snapshot.CreateFromExisting(src, fb.backupFS)
	tmpName := dst.FormatWithFS() + tmpSuffix
	finalName := dst.FormatWithFS()

	baseBackup, ok := fb.backup.Get(base.FormatWithoutFS())
	if !ok {
		return zerrors.New(zerrors.StateError, "incremental base %s missing from backup file system %s", base.FormatWithoutFS(), fb.backupFS)
	}

	rows, err := fb.driver.SendRecvIncr(baseBackup.FormatWithFS(), src.FormatWithFS(), tmpName)
	if err != nil {
		return err
	}
	if err := fb.driver.RenameSnapshot(tmpName, finalName); err != nil {
		return err
	}

	size, err := parseIncrSize(rows)
	if err != nil {
		return err
	}

	fb.backup = append(snapshot.List{dst}, fb.backup...)

	return fb.rec.Record(recorder.Row{
		Time:       recorder.FormatTime(fb.clock.Now()),
		BackupSet:  fb.set.Name,
		BackupPool: fb.poolName(),
		Action:     recorder.Incr,
		Src1Snap:   base.FormatWithFS(),
		Src2Snap:   src.FormatWithFS(),
		BackupSnap: finalName,
		Size:       size,
	})
}

// parseFullSize extracts the size column from a full send's descriptor
// rows: row 0 = ["full", "<src>", "<size>"]; row 1 =
// ["size", "<size>"].
func parseFullSize(rows [][]string) (string, error) {
	if len(rows) < 1 || len(rows[0]) < 3 || rows[0][0] != "full" {
		return "", zerrors.New(zerrors.ParseError, "unexpected full send descriptor: %v", rows)
	}
	return rows[0][2], nil
}

// parseIncrSize extracts the size column from an incremental send's
// descriptor rows: row 0 = ["incremental", "<base>", "<src>", "<size>"],
// 3 or 4 columns tolerated.
func parseIncrSize(rows [][]string) (string, error) {
	if len(rows) < 1 || len(rows[0]) < 3 || rows[0][0] != "incremental" {
		return "", zerrors.New(zerrors.ParseError, "unexpected incremental send descriptor: %v", rows)
	}
	row := rows[0]
	return row[len(row)-1], nil
}

// CreateSnapshotOnly creates a fresh source snapshot without touching any
// backup pool (the --snapOnly entry point).
func (fb *FsBackup) CreateSnapshotOnly() error {
	sNew := snapshot.CreateCurrent(fb.set.Name, fb.sourceFS, fb.clock)
	if err := fb.driver.CreateSnapshot(sNew.FormatWithFS()); err != nil {
		return zerrors.Wrap(zerrors.StateError, err, "creating snapshot on %s", fb.sourceFS)
	}
	fb.log.WithField("snapshot", sNew.FormatWithFS()).Info("created snapshot")
	return nil
}
