package backup

import (
	"github.com/sirupsen/logrus"

	"github.com/diekhans/zfs-zipper/internal/clock"
	"github.com/diekhans/zfs-zipper/internal/config"
	"github.com/diekhans/zfs-zipper/internal/recorder"
	"github.com/diekhans/zfs-zipper/internal/zerrors"
	"github.com/diekhans/zfs-zipper/internal/zfsutil"
)

// BackupSetBackup selects a pool from a backup set's rotation, imports it
// if needed, runs each configured source file system through an
// FsBackup, and guarantees the pool is exported again if we imported it.
type BackupSetBackup struct {
	driver        zfsutil.Driver
	rec           *recorder.Recorder
	clock         clock.Clock
	log           logrus.FieldLogger
	set           *config.BackupSetConf
	allowDegraded bool
}

// NewBackupSetBackup constructs an orchestrator for one configured backup
// set.
func NewBackupSetBackup(driver zfsutil.Driver, rec *recorder.Recorder, c clock.Clock, log logrus.FieldLogger,
	set *config.BackupSetConf, allowDegraded bool) *BackupSetBackup {
	return &BackupSetBackup{
		driver:        driver,
		rec:           rec,
		clock:         c,
		log:           log.WithField("backupSet", set.Name),
		set:           set,
		allowDegraded: allowDegraded,
	}
}

// healthEligible reports whether health permits selection at all (ONLINE
// or DEGRADED; FAULTED/OFFLINE/REMOVED/UNAVAIL pools are never selected).
func healthEligible(h zfsutil.Health) bool {
	return h == zfsutil.Online || h == zfsutil.Degraded
}

// selectedPool is the outcome of pool selection: which pool, and whether
// this run needs to import it before use.
type selectedPool struct {
	pool       *zfsutil.Pool
	needImport bool
}

// selectPool implements the rotation algorithm: imported candidates take
// priority over exported ones; the result must contain exactly one pool.
func (o *BackupSetBackup) selectPool() (*selectedPool, error) {
	rotation := make(map[string]bool, len(o.set.BackupPools))
	for _, p := range o.set.BackupPools {
		rotation[p.Name] = true
	}

	imported, err := o.driver.ListPools()
	if err != nil {
		return nil, err
	}
	var candidates []*zfsutil.Pool
	for i := range imported {
		p := imported[i]
		if rotation[p.Name] && healthEligible(p.Health) {
			candidates = append(candidates, &p)
		}
	}
	needImport := false

	if len(candidates) == 0 {
		exported, err := o.driver.ListExportedPools()
		if err != nil {
			return nil, err
		}
		for i := range exported {
			p := exported[i]
			if rotation[p.Name] && healthEligible(p.Health) {
				candidates = append(candidates, &p)
			}
		}
		needImport = true
	}

	switch len(candidates) {
	case 0:
		return nil, zerrors.New(zerrors.NoPoolAvailable, "no available pool in backup set %s's rotation %v", o.set.Name, o.set.BackupPoolNames())
	case 1:
		// fall through
	default:
		names := make([]string, len(candidates))
		for i, p := range candidates {
			names[i] = p.Name
		}
		return nil, zerrors.New(zerrors.AmbiguousPool, "multiple pools simultaneously available for backup set %s: %v", o.set.Name, names)
	}

	chosen := candidates[0]
	if chosen.Health == zfsutil.Degraded && !o.allowDegraded {
		return nil, zerrors.New(zerrors.PoolDegraded, "pool %s for backup set %s is DEGRADED and allowDegraded is not set", chosen.Name, o.set.Name)
	}

	return &selectedPool{pool: chosen, needImport: needImport}, nil
}

// sourceFileSystemNames returns the set's configured source file systems,
// filtered to subset if non-empty, in declaration order.
func (o *BackupSetBackup) sourceFileSystemNames(subset []string) []string {
	if len(subset) == 0 {
		names := make([]string, len(o.set.SourceFileSystems))
		for i, fs := range o.set.SourceFileSystems {
			names[i] = fs.Name
		}
		return names
	}
	want := make(map[string]bool, len(subset))
	for _, n := range subset {
		want[n] = true
	}
	var names []string
	for _, fs := range o.set.SourceFileSystems {
		if want[fs.Name] {
			names = append(names, fs.Name)
		}
	}
	return names
}

// Backup runs the full rotation-selection-and-send cycle for this backup
// set: one pool is selected and, if needed, imported; each source file
// system in subset (or all, if empty) is backed up in declaration order;
// the pool is exported again on every exit path if this run imported it.
func (o *BackupSetBackup) Backup(subset []string) error {
	sel, err := o.selectPool()
	if err != nil {
		return err
	}

	poolConf, ok := o.set.GetBackupPool(sel.pool.Name)
	if !ok {
		return zerrors.New(zerrors.StateError, "selected pool %s not found in backup set %s configuration", sel.pool.Name, o.set.Name)
	}

	// Re-confirm the selection right before acting on it: selectPool's scan
	// and this point are not atomic, and the pool's visibility or health may
	// have changed in between (e.g. another process importing/exporting it).
	confirmed, err := o.driver.FindPool(sel.pool.Name)
	if err != nil {
		return err
	}
	if confirmed == nil {
		return zerrors.New(zerrors.NoPoolAvailable, "selected pool %s vanished before import", sel.pool.Name)
	}
	if !healthEligible(confirmed.Health) {
		return zerrors.New(zerrors.NoPoolAvailable, "selected pool %s is %s, no longer eligible", sel.pool.Name, confirmed.Health)
	}
	if confirmed.Health == zfsutil.Degraded && !o.allowDegraded {
		return zerrors.New(zerrors.PoolDegraded, "selected pool %s became DEGRADED before import and allowDegraded is not set", sel.pool.Name)
	}

	if sel.needImport {
		if err := o.driver.ImportPool(sel.pool.Name); err != nil {
			return err
		}
		o.log.WithField("backupPool", sel.pool.Name).Info("imported backup pool")
	}
	defer func() {
		if sel.needImport {
			if err := o.driver.ExportPool(sel.pool.Name, false); err != nil {
				o.log.WithField("backupPool", sel.pool.Name).WithError(err).Error("failed to export backup pool")
			} else {
				o.log.WithField("backupPool", sel.pool.Name).Info("exported backup pool")
			}
		}
	}()

	for _, sourceFS := range o.sourceFileSystemNames(subset) {
		fb, err := NewFsBackup(o.driver, o.rec, o.clock, o.log, o.set, poolConf, sourceFS)
		if err != nil {
			return err
		}
		if err := fb.Run(); err != nil {
			return err
		}
	}
	return nil
}

// SnapOnly creates a fresh source snapshot for each source file system in
// subset (or all, if empty), touching no backup pool at all.
func (o *BackupSetBackup) SnapOnly(subset []string) error {
	for _, sourceFS := range o.sourceFileSystemNames(subset) {
		fb, err := NewFsBackup(o.driver, o.rec, o.clock, o.log, o.set, nil, sourceFS)
		if err != nil {
			return err
		}
		if err := fb.CreateSnapshotOnly(); err != nil {
			return err
		}
	}
	return nil
}
