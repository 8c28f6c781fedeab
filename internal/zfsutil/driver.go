package zfsutil

// Driver is the minimal capability interface over the zpool/zfs CLIs that
// the rest of zfszipper is built on. It exists so the planner
// and orchestrator can be tested against a fake without ever invoking a
// real zpool/zfs binary.
type Driver interface {
	// ListPools returns imported pools with their health.
	ListPools() ([]Pool, error)
	// ListExportedPools returns pools visible but not imported, parsed
	// from interactive `zpool import` output.
	ListExportedPools() ([]Pool, error)
	// FindPool looks up a pool by name, imported or exported. Returns
	// (nil, nil) if no such pool exists anywhere.
	FindPool(name string) (*Pool, error)

	// ImportPool imports a currently-exported pool.
	ImportPool(name string) error
	// ExportPool exports a currently-imported pool, optionally forced.
	ExportPool(name string, force bool) error

	// FindFileSystem looks up a filesystem dataset by name. Returns
	// (nil, nil) if it does not exist.
	FindFileSystem(name string) (*FileSystem, error)
	// ListFileSystems lists filesystem datasets under a pool.
	ListFileSystems(pool string) ([]FileSystem, error)
	// CreateFileSystem creates a filesystem dataset, creating any missing
	// intermediate parents (`zfs create -p`).
	CreateFileSystem(name string) error

	// ListSnapshots lists a filesystem's snapshots ordered oldest to
	// newest by creation time.
	ListSnapshots(fsName string) ([]Snapshot, error)
	// CreateSnapshot creates a snapshot by its full "<fs>@<name>" name.
	CreateSnapshot(fullName string) error
	// DestroySnapshot destroys a snapshot by its full name.
	DestroySnapshot(fullName string) error
	// RenameSnapshot renames a snapshot within the same filesystem.
	RenameSnapshot(oldName, newName string) error

	// SendRecvFull runs `zfs send -P <src> | zfs receive -F <dst>` and
	// returns the parsed rows of the send side's stderr.
	SendRecvFull(srcSnap, dstSnap string) ([][]string, error)
	// SendRecvIncr runs `zfs send -P -i <base> <src> | zfs receive <dst>`
	// and returns the parsed rows of the send side's stderr.
	SendRecvIncr(baseSnap, srcSnap, dstSnap string) ([][]string, error)
}
