package backup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diekhans/zfs-zipper/internal/clock"
	"github.com/diekhans/zfs-zipper/internal/config"
	"github.com/diekhans/zfs-zipper/internal/zerrors"
	"github.com/diekhans/zfs-zipper/internal/zfsutil"
)

func testRotationSet(t *testing.T, poolNames ...string) *config.BackupSetConf {
	t.Helper()
	pools := make([]config.BackupPoolConf, len(poolNames))
	for i, n := range poolNames {
		pools[i] = config.NewBackupPoolConf(n)
	}
	set, err := config.NewBackupSetConf("nightly",
		[]config.SourceFileSystemConf{config.NewSourceFileSystemConf("tank/data")},
		pools)
	require.NoError(t, err)
	return set
}

func TestSelectPoolPrefersImported(t *testing.T) {
	driver := newFakeDriver()
	driver.exported["backup0"] = "ONLINE"
	driver.imported["backup1"] = "ONLINE"

	set := testRotationSet(t, "backup0", "backup1")
	o := NewBackupSetBackup(driver, nil, clock.System{}, testLogger(), set, false)

	sel, err := o.selectPool()
	require.NoError(t, err)
	assert.Equal(t, "backup1", sel.pool.Name)
	assert.False(t, sel.needImport)
}

func TestSelectPoolFallsBackToExported(t *testing.T) {
	driver := newFakeDriver()
	driver.exported["backup0"] = "ONLINE"

	set := testRotationSet(t, "backup0", "backup1")
	o := NewBackupSetBackup(driver, nil, clock.System{}, testLogger(), set, false)

	sel, err := o.selectPool()
	require.NoError(t, err)
	assert.Equal(t, "backup0", sel.pool.Name)
	assert.True(t, sel.needImport)
}

func TestSelectPoolNoneAvailable(t *testing.T) {
	driver := newFakeDriver()
	set := testRotationSet(t, "backup0", "backup1")
	o := NewBackupSetBackup(driver, nil, clock.System{}, testLogger(), set, false)

	_, err := o.selectPool()
	require.Error(t, err)
	assert.True(t, zerrors.Is(err, zerrors.NoPoolAvailable))
}

func TestSelectPoolAmbiguous(t *testing.T) {
	driver := newFakeDriver()
	driver.imported["backup0"] = "ONLINE"
	driver.imported["backup1"] = "ONLINE"

	set := testRotationSet(t, "backup0", "backup1")
	o := NewBackupSetBackup(driver, nil, clock.System{}, testLogger(), set, false)

	_, err := o.selectPool()
	require.Error(t, err)
	assert.True(t, zerrors.Is(err, zerrors.AmbiguousPool))
}

func TestSelectPoolDegradedRejectedByDefault(t *testing.T) {
	driver := newFakeDriver()
	driver.imported["backup0"] = "DEGRADED"

	set := testRotationSet(t, "backup0")
	o := NewBackupSetBackup(driver, nil, clock.System{}, testLogger(), set, false)

	_, err := o.selectPool()
	require.Error(t, err)
	assert.True(t, zerrors.Is(err, zerrors.PoolDegraded))
}

func TestSelectPoolDegradedAllowed(t *testing.T) {
	driver := newFakeDriver()
	driver.imported["backup0"] = "DEGRADED"

	set := testRotationSet(t, "backup0")
	o := NewBackupSetBackup(driver, nil, clock.System{}, testLogger(), set, true)

	sel, err := o.selectPool()
	require.NoError(t, err)
	assert.Equal(t, "backup0", sel.pool.Name)
}

func TestSelectPoolIgnoresFaultedAndUnrelatedPools(t *testing.T) {
	driver := newFakeDriver()
	driver.imported["backup0"] = "FAULTED"
	driver.imported["unrelated"] = "ONLINE"
	driver.imported["backup1"] = "ONLINE"

	set := testRotationSet(t, "backup0", "backup1")
	o := NewBackupSetBackup(driver, nil, clock.System{}, testLogger(), set, false)

	sel, err := o.selectPool()
	require.NoError(t, err)
	assert.Equal(t, "backup1", sel.pool.Name)
}

func TestBackupImportsAndExportsExportedPool(t *testing.T) {
	driver := newFakeDriver()
	driver.exported["backup0"] = "ONLINE"
	driver.fileSys["backup0/tank/data"] = true

	set := testRotationSet(t, "backup0")
	rec := testRecorder(t)
	c := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	o := NewBackupSetBackup(driver, rec, c, testLogger(), set, false)

	require.NoError(t, o.Backup(nil))

	assert.Equal(t, []string{"backup0"}, driver.importCalls)
	assert.Equal(t, []string{"backup0"}, driver.exportCalls)
	assert.Len(t, driver.snaps["tank/data"], 1)
}

func TestFindPoolLooksUpImportedAndExportedPools(t *testing.T) {
	driver := newFakeDriver()
	driver.imported["backup0"] = "ONLINE"
	driver.exported["backup1"] = "DEGRADED"

	p, err := driver.FindPool("backup0")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.True(t, p.Imported)
	assert.Equal(t, zfsutil.Online, p.Health)

	p, err = driver.FindPool("backup1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.False(t, p.Imported)
	assert.Equal(t, zfsutil.Degraded, p.Health)

	p, err = driver.FindPool("nope")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestBackupDoesNotExportAlreadyImportedPool(t *testing.T) {
	driver := newFakeDriver()
	driver.imported["backup0"] = "ONLINE"
	driver.fileSys["backup0/tank/data"] = true

	set := testRotationSet(t, "backup0")
	rec := testRecorder(t)
	c := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	o := NewBackupSetBackup(driver, rec, c, testLogger(), set, false)

	require.NoError(t, o.Backup(nil))

	assert.Empty(t, driver.importCalls)
	assert.Empty(t, driver.exportCalls)
}

func TestSnapOnlyNeverTouchesAPool(t *testing.T) {
	driver := newFakeDriver()
	set := testRotationSet(t, "backup0")
	rec := testRecorder(t)
	c := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	o := NewBackupSetBackup(driver, rec, c, testLogger(), set, false)

	require.NoError(t, o.SnapOnly(nil))

	assert.Empty(t, driver.importCalls)
	assert.Len(t, driver.snaps["tank/data"], 1)
}

func TestSourceFileSystemNamesFiltersSubset(t *testing.T) {
	set, err := config.NewBackupSetConf("nightly",
		[]config.SourceFileSystemConf{
			config.NewSourceFileSystemConf("tank/a"),
			config.NewSourceFileSystemConf("tank/b"),
		},
		[]config.BackupPoolConf{config.NewBackupPoolConf("backup0")})
	require.NoError(t, err)

	o := NewBackupSetBackup(newFakeDriver(), nil, clock.System{}, testLogger(), set, false)
	assert.Equal(t, []string{"tank/a", "tank/b"}, o.sourceFileSystemNames(nil))
	assert.Equal(t, []string{"tank/b"}, o.sourceFileSystemNames([]string{"tank/b"}))
}
