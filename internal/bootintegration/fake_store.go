package bootintegration

import (
	"fmt"
	"sort"
	"sync"

	"github.com/deploymenttheory/snapm/internal/apferr"
)

// FakeStore is an in-memory BootEntryStore for BootIntegration
// unit tests, in place of shelling out to boom.
type FakeStore struct {
	mu      sync.Mutex
	next    int
	entries map[string]string // boot_id -> options
}

// NewFakeStore constructs an empty FakeStore.
func NewFakeStore() *FakeStore {
	return &FakeStore{entries: map[string]string{}}
}

func (s *FakeStore) CreateEntry(opts BootEntryOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	id := fmt.Sprintf("fake-boot-%d", s.next)
	s.entries[id] = opts.TagArg
	return id, nil
}

func (s *FakeStore) DeleteEntry(entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[entryID]; !ok {
		return apferr.Errorf(apferr.NotFound, "no such boot entry %s", entryID)
	}
	delete(s.entries, entryID)
	return nil
}

func (s *FakeStore) FindEntries() ([]BootEntryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]BootEntryRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, BootEntryRecord{ID: id, Options: s.entries[id]})
	}
	return out, nil
}

var _ BootEntryStore = (*FakeStore)(nil)

// FakeDeviceResolver is an in-memory DeviceResolver for tests.
type FakeDeviceResolver struct {
	ByUUID  map[string]string
	ByLabel map[string]string
}

func NewFakeDeviceResolver() *FakeDeviceResolver {
	return &FakeDeviceResolver{ByUUID: map[string]string{}, ByLabel: map[string]string{}}
}

func (r *FakeDeviceResolver) ResolveDevicePath(identifier, byType string) (string, error) {
	var table map[string]string
	switch byType {
	case "uuid":
		table = r.ByUUID
	case "label":
		table = r.ByLabel
	default:
		return "", apferr.Errorf(apferr.Argument, "invalid byType %q", byType)
	}
	dev, ok := table[identifier]
	if !ok {
		return "", apferr.Errorf(apferr.NotFound, "no device for %s=%s", byType, identifier)
	}
	return dev, nil
}

var _ DeviceResolver = (*FakeDeviceResolver)(nil)
