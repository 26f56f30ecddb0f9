package blockdev

// FakeBackend is an in-memory Backend for Manager/BootIntegration tests.
type FakeBackend struct {
	MountEntries []MountEntry
	FstabEntries []FstabEntry
	BlockDevices map[string]bool
	Usage        map[string]struct{ Free, Used, Total uint64 }
}

func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		BlockDevices: map[string]bool{},
		Usage:        map[string]struct{ Free, Used, Total uint64 }{},
	}
}

func (f *FakeBackend) Mounts() ([]MountEntry, error) { return f.MountEntries, nil }
func (f *FakeBackend) Fstab() ([]FstabEntry, error)  { return f.FstabEntries, nil }

func (f *FakeBackend) IsBlockDevice(path string) (bool, error) {
	return f.BlockDevices[path], nil
}

func (f *FakeBackend) SpaceUsage(mountPoint string) (free, used, total uint64, err error) {
	u := f.Usage[mountPoint]
	return u.Free, u.Used, u.Total, nil
}

var _ Backend = (*FakeBackend)(nil)
