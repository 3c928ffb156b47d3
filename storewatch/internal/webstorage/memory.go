package webstorage

import (
	"context"
	"sort"
	"sync"

	"github.com/hazyhaar/storewatch/storewatch/change"
)

// Memory is an in-process storage area. Items are returned sorted by key.
// Faults can be injected per operation.
type Memory struct {
	mu     sync.Mutex
	st     change.StorageType
	data   map[string]string
	faults map[string]error
	reads  int

	readHook func(ctx context.Context) error
}

// NewMemory returns an empty area of type st.
func NewMemory(st change.StorageType) *Memory {
	return &Memory{st: st, data: make(map[string]string), faults: make(map[string]error)}
}

func (m *Memory) StorageType() change.StorageType { return m.st }

// FailOn makes every call of op ("read", "get", "set", "remove", "clear")
// fail with err. A nil err removes the fault.
func (m *Memory) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.faults, op)
		return
	}
	m.faults[op] = err
}

// FailOnKey is FailOn restricted to one key.
func (m *Memory) FailOnKey(op, key string, err error) {
	m.FailOn(op+"\x00"+key, err)
}

// SetReadHook installs fn to run at the start of every read, outside the
// lock. A non-nil return fails the read. Used to hold reads in flight.
func (m *Memory) SetReadHook(fn func(ctx context.Context) error) {
	m.mu.Lock()
	m.readHook = fn
	m.mu.Unlock()
}

// Reads returns how many reads completed.
func (m *Memory) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// Replace swaps the whole content, as an external writer would.
func (m *Memory) Replace(s change.Snapshot) {
	m.mu.Lock()
	m.data = s.Clone()
	m.mu.Unlock()
}

func (m *Memory) Read(ctx context.Context) (change.Snapshot, error) {
	items, err := m.Items(ctx)
	if err != nil {
		return nil, err
	}
	return change.SnapshotFromItems(items), nil
}

func (m *Memory) Items(ctx context.Context) ([]change.Item, error) {
	m.mu.Lock()
	hook := m.readHook
	m.mu.Unlock()
	if hook != nil {
		if err := hook(ctx); err != nil {
			return nil, &Error{Op: "read", StorageType: m.st, Thrown: true, Err: err}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("read", ""); err != nil {
		return nil, err
	}
	m.reads++
	items := make([]change.Item, 0, len(m.data))
	for k, v := range m.data {
		items = append(items, change.Item{Key: k, Value: v})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	return items, nil
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("get", key); err != nil {
		return "", false, err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("set", key); err != nil {
		return err
	}
	m.data[key] = value
	return nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("remove", key); err != nil {
		return err
	}
	delete(m.data, key)
	return nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault("clear", ""); err != nil {
		return err
	}
	clear(m.data)
	return nil
}

func (m *Memory) fault(op, key string) error {
	err, ok := m.faults[op]
	if !ok {
		err, ok = m.faults[op+"\x00"+key]
	}
	if ok {
		return &Error{Op: op, StorageType: m.st, Key: key, Thrown: true, Err: err}
	}
	return nil
}
