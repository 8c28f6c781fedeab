package backup

import (
	"sort"
	"strings"

	"github.com/diekhans/zfs-zipper/internal/zerrors"
	"github.com/diekhans/zfs-zipper/internal/zfsutil"
)

// fakeDriver is an in-memory zfsutil.Driver for exercising the planner and
// orchestrator without a real zpool/zfs binary.
type fakeDriver struct {
	imported map[string]zfsutil.Health
	exported map[string]zfsutil.Health
	fileSys  map[string]bool
	snaps    map[string][]string // fsName -> full snapshot names, oldest first

	importCalls []string
	exportCalls []string
	destroyed   []string
	renamed     [][2]string
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		imported: map[string]zfsutil.Health{},
		exported: map[string]zfsutil.Health{},
		fileSys:  map[string]bool{},
		snaps:    map[string][]string{},
	}
}

func (d *fakeDriver) ListPools() ([]zfsutil.Pool, error) {
	var pools []zfsutil.Pool
	for name, h := range d.imported {
		pools = append(pools, zfsutil.Pool{Name: name, Health: h, Imported: true})
	}
	sort.Slice(pools, func(i, j int) bool { return pools[i].Name < pools[j].Name })
	return pools, nil
}

func (d *fakeDriver) ListExportedPools() ([]zfsutil.Pool, error) {
	var pools []zfsutil.Pool
	for name, h := range d.exported {
		pools = append(pools, zfsutil.Pool{Name: name, Health: h, Imported: false})
	}
	sort.Slice(pools, func(i, j int) bool { return pools[i].Name < pools[j].Name })
	return pools, nil
}

func (d *fakeDriver) FindPool(name string) (*zfsutil.Pool, error) {
	if h, ok := d.imported[name]; ok {
		return &zfsutil.Pool{Name: name, Health: h, Imported: true}, nil
	}
	if h, ok := d.exported[name]; ok {
		return &zfsutil.Pool{Name: name, Health: h, Imported: false}, nil
	}
	return nil, nil
}

func (d *fakeDriver) ImportPool(name string) error {
	d.importCalls = append(d.importCalls, name)
	h, ok := d.exported[name]
	if !ok {
		return zerrors.New(zerrors.StateError, "no such exported pool %s", name)
	}
	delete(d.exported, name)
	d.imported[name] = h
	return nil
}

func (d *fakeDriver) ExportPool(name string, force bool) error {
	d.exportCalls = append(d.exportCalls, name)
	h, ok := d.imported[name]
	if !ok {
		return zerrors.New(zerrors.StateError, "no such imported pool %s", name)
	}
	delete(d.imported, name)
	d.exported[name] = h
	return nil
}

func (d *fakeDriver) FindFileSystem(name string) (*zfsutil.FileSystem, error) {
	if !d.fileSys[name] {
		return nil, nil
	}
	return &zfsutil.FileSystem{Name: name}, nil
}

func (d *fakeDriver) ListFileSystems(pool string) ([]zfsutil.FileSystem, error) {
	var out []zfsutil.FileSystem
	for name := range d.fileSys {
		if strings.HasPrefix(name, pool+"/") || name == pool {
			out = append(out, zfsutil.FileSystem{Name: name})
		}
	}
	return out, nil
}

func (d *fakeDriver) CreateFileSystem(name string) error {
	d.fileSys[name] = true
	return nil
}

func (d *fakeDriver) ListSnapshots(fsName string) ([]zfsutil.Snapshot, error) {
	var out []zfsutil.Snapshot
	for _, full := range d.snaps[fsName] {
		fs, name, _ := strings.Cut(full, "@")
		out = append(out, zfsutil.Snapshot{FullName: full, FileSystem: fs, SnapName: name})
	}
	return out, nil
}

func (d *fakeDriver) CreateSnapshot(fullName string) error {
	fs, _, ok := strings.Cut(fullName, "@")
	if !ok {
		return zerrors.New(zerrors.ParseError, "missing @ in %s", fullName)
	}
	d.snaps[fs] = append(d.snaps[fs], fullName)
	return nil
}

func (d *fakeDriver) DestroySnapshot(fullName string) error {
	fs, _, ok := strings.Cut(fullName, "@")
	if !ok {
		return zerrors.New(zerrors.ParseError, "missing @ in %s", fullName)
	}
	d.destroyed = append(d.destroyed, fullName)
	names := d.snaps[fs]
	for i, n := range names {
		if n == fullName {
			d.snaps[fs] = append(names[:i], names[i+1:]...)
			return nil
		}
	}
	return zerrors.New(zerrors.StateError, "no such snapshot %s", fullName)
}

func (d *fakeDriver) RenameSnapshot(oldName, newName string) error {
	d.renamed = append(d.renamed, [2]string{oldName, newName})
	fs, _, ok := strings.Cut(oldName, "@")
	if !ok {
		return zerrors.New(zerrors.ParseError, "missing @ in %s", oldName)
	}
	names := d.snaps[fs]
	for i, n := range names {
		if n == oldName {
			names[i] = newName
			return nil
		}
	}
	return zerrors.New(zerrors.StateError, "no such snapshot %s", oldName)
}

func (d *fakeDriver) SendRecvFull(srcSnap, dstSnap string) ([][]string, error) {
	if err := d.CreateSnapshot(dstSnap); err != nil {
		return nil, err
	}
	return [][]string{{"full", srcSnap, "1024"}}, nil
}

func (d *fakeDriver) SendRecvIncr(baseSnap, srcSnap, dstSnap string) ([][]string, error) {
	if err := d.CreateSnapshot(dstSnap); err != nil {
		return nil, err
	}
	return [][]string{{"incremental", baseSnap, srcSnap, "2048"}}, nil
}

var _ zfsutil.Driver = (*fakeDriver)(nil)
