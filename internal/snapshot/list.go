package snapshot

// List is a value-typed, newest-first sequence of BackupSnapshots with the
// specialized searches the planner needs. It deliberately does not embed
// or subclass a generic collection type: it is a slice with a handful of
// domain-specific methods, nothing more.
type List []*BackupSnapshot

// FindNewestCommon returns the newest element of the list whose
// file-system-less name also occurs in other, or nil if none does.
// Equivalence is by FormatWithoutFS only, so a snapshot on source "a/b"
// and its counterpart received onto "poolX/a/b" are recognized as the same
// logical checkpoint.
func (l List) FindNewestCommon(other List) *BackupSnapshot {
	for _, s := range l {
		if other.Find(s.FormatWithoutFS()) != nil {
			return s
		}
	}
	return nil
}

// IndexOf returns the index of the element whose FormatWithoutFS equals
// name's, or -1 if not present.
func (l List) IndexOf(name string) int {
	for i, s := range l {
		if s.FormatWithoutFS() == name {
			return i
		}
	}
	return -1
}

// Find returns the element whose FormatWithoutFS equals name, or nil.
func (l List) Find(name string) *BackupSnapshot {
	if i := l.IndexOf(name); i >= 0 {
		return l[i]
	}
	return nil
}

// Get returns the element whose FormatWithoutFS equals name. The second
// return value is false if no such element exists.
func (l List) Get(name string) (*BackupSnapshot, bool) {
	s := l.Find(name)
	return s, s != nil
}
