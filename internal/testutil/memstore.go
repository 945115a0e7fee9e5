package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/roach88/campbellsync/internal/domain"
	"github.com/roach88/campbellsync/internal/store"
)

// MemStore is an in-memory store.Client with fault injection.
//
// Unlike the SQLite store, MemStore does not deduplicate: every Create on
// a sensors collection adds a sensor and every append adds a sample. Tests
// use this to observe exactly which operations the sync core issued.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type MemStore struct {
	mu      sync.Mutex
	devices map[string]*memDevice
	nextID  int
	ops     Ops
	calls   []string
	faults  faults
	delay   time.Duration
}

// Ops counts store operations by kind.
type Ops struct {
	Resolve  int
	Relation int
	Search   int
	Create   int
	Append   int
}

// Total returns every operation except Resolve.
func (o Ops) Total() int {
	return o.Relation + o.Search + o.Create + o.Append
}

// MemSample is one stored history sample.
type MemSample struct {
	Timestamp time.Time
	Value     float64
}

type faults struct {
	resolve  error
	sensors  map[string]error
	search   map[string]error
	create   map[string]error
	history  map[string]error
	appendTo map[string]error
}

type memDevice struct {
	ref     string
	title   string
	sensors []*memSensor
}

type memSensor struct {
	id      string
	device  string
	attrs   store.Attributes
	samples []MemSample
}

var _ store.Client = (*MemStore)(nil)

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		devices: make(map[string]*memDevice),
		faults: faults{
			sensors:  make(map[string]error),
			search:   make(map[string]error),
			create:   make(map[string]error),
			history:  make(map[string]error),
			appendTo: make(map[string]error),
		},
	}
}

// AddDevice registers a device under ref.
func (m *MemStore) AddDevice(ref string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[ref]; !ok {
		m.devices[ref] = &memDevice{ref: ref}
	}
}

// AddSensor registers a pre-existing sensor on a device, adding the
// device if needed.
func (m *MemStore) AddSensor(deviceRef, title, unit string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[deviceRef]
	if !ok {
		d = &memDevice{ref: deviceRef}
		m.devices[deviceRef] = d
	}
	d.sensors = append(d.sensors, m.newSensorLocked(deviceRef, store.SensorAttributes(title, unit)))
}

// FailResolve makes every Resolve return err.
func (m *MemStore) FailResolve(err error) { m.setFault(func(f *faults) { f.resolve = err }) }

// FailSensors makes Relation("ch:sensors") on the device fail.
func (m *MemStore) FailSensors(deviceRef string, err error) {
	m.setFault(func(f *faults) { f.sensors[deviceRef] = err })
}

// FailSearch makes sensor searches for title fail.
func (m *MemStore) FailSearch(title string, err error) {
	m.setFault(func(f *faults) { f.search[title] = err })
}

// FailCreate makes sensor creation for title fail.
func (m *MemStore) FailCreate(title string, err error) {
	m.setFault(func(f *faults) { f.create[title] = err })
}

// FailHistory makes Relation("ch:dataHistory") on sensors titled title fail.
func (m *MemStore) FailHistory(title string, err error) {
	m.setFault(func(f *faults) { f.history[title] = err })
}

// FailAppend makes appends to sensors titled title fail.
func (m *MemStore) FailAppend(title string, err error) {
	m.setFault(func(f *faults) { f.appendTo[title] = err })
}

// ClearFaults removes every injected fault.
func (m *MemStore) ClearFaults() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = NewMemStore().faults
}

// SetSearchDelay makes every sensor search sleep for d before reading.
// Used to widen race windows in concurrency tests.
func (m *MemStore) SetSearchDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Ops returns a snapshot of the operation counters.
func (m *MemStore) Ops() Ops {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ops
}

// Calls returns the operation log in call order, e.g. "search Temp".
func (m *MemStore) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Titles returns the sensor titles of a device in creation order.
func (m *MemStore) Titles(deviceRef string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[deviceRef]
	if !ok {
		return nil
	}
	titles := make([]string, 0, len(d.sensors))
	for _, sn := range d.sensors {
		t, _ := sn.attrs.String(store.AttrTitle)
		titles = append(titles, t)
	}
	return titles
}

// SensorCount returns how many sensors of a device carry title.
func (m *MemStore) SensorCount(deviceRef, title string) int {
	n := 0
	for _, t := range m.Titles(deviceRef) {
		if domain.SameTitle(t, title) {
			n++
		}
	}
	return n
}

// SensorAttributes returns the attributes of the first sensor titled title.
func (m *MemStore) SensorAttributes(deviceRef, title string) (store.Attributes, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sn := m.findLocked(deviceRef, title); sn != nil {
		return sn.attrs.Clone(), true
	}
	return nil, false
}

// Samples returns the samples appended to the first sensor titled title.
func (m *MemStore) Samples(deviceRef, title string) []MemSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sn := m.findLocked(deviceRef, title); sn != nil {
		return append([]MemSample(nil), sn.samples...)
	}
	return nil
}

// Resolve implements store.Client.
func (m *MemStore) Resolve(_ context.Context, ref string) (store.Resource, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(&m.ops.Resolve, "resolve "+ref)
	if m.faults.resolve != nil {
		return nil, false, m.faults.resolve
	}
	if _, ok := m.devices[ref]; !ok {
		return nil, false, nil
	}
	return &memDeviceRes{m: m, ref: ref}, true, nil
}

func (m *MemStore) setFault(fn func(*faults)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.faults)
}

func (m *MemStore) record(counter *int, call string) {
	*counter++
	m.calls = append(m.calls, call)
}

func (m *MemStore) newSensorLocked(deviceRef string, attrs store.Attributes) *memSensor {
	m.nextID++
	attrs = attrs.Clone()
	if t, err := attrs.String(store.AttrTitle); err == nil {
		attrs[store.AttrTitle] = domain.NormalizeTitle(t)
	}
	return &memSensor{id: fmt.Sprintf("mem:sensors/%d", m.nextID), device: deviceRef, attrs: attrs}
}

func (m *MemStore) findLocked(deviceRef, title string) *memSensor {
	d, ok := m.devices[deviceRef]
	if !ok {
		return nil
	}
	for _, sn := range d.sensors {
		t, _ := sn.attrs.String(store.AttrTitle)
		if domain.SameTitle(t, title) {
			return sn
		}
	}
	return nil
}

type memDeviceRes struct {
	m   *MemStore
	ref string
}

func (d *memDeviceRes) Ref() string { return d.ref }

func (d *memDeviceRes) Attributes() store.Attributes {
	d.m.mu.Lock()
	defer d.m.mu.Unlock()
	return store.Attributes{store.AttrTitle: d.m.devices[d.ref].title}
}

func (d *memDeviceRes) Relation(_ context.Context, name string) (store.Collection, error) {
	d.m.mu.Lock()
	defer d.m.mu.Unlock()
	d.m.record(&d.m.ops.Relation, "relation "+d.ref+" "+name)
	if name != store.RelSensors {
		return nil, store.UnknownRelation("device", name)
	}
	if err := d.m.faults.sensors[d.ref]; err != nil {
		return nil, err
	}
	return &memSensors{m: d.m, device: d.ref}, nil
}

type memSensors struct {
	m      *MemStore
	device string
}

func (c *memSensors) Search(_ context.Context, filter store.Attributes) (store.Resource, bool, error) {
	title, err := filter.String(store.AttrTitle)
	if err != nil {
		return nil, false, err
	}

	c.m.mu.Lock()
	delay := c.m.delay
	c.m.record(&c.m.ops.Search, "search "+title)
	fault := c.m.faults.search[title]
	c.m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if fault != nil {
		return nil, false, fault
	}

	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	sn := c.m.findLocked(c.device, title)
	if sn == nil {
		return nil, false, nil
	}
	return &memSensorRes{m: c.m, sn: sn}, true, nil
}

func (c *memSensors) Create(_ context.Context, attrs store.Attributes) (store.Resource, error) {
	title, err := attrs.String(store.AttrTitle)
	if err != nil {
		return nil, err
	}

	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	c.m.record(&c.m.ops.Create, "create "+title)
	if err := c.m.faults.create[title]; err != nil {
		return nil, err
	}
	d := c.m.devices[c.device]
	sn := c.m.newSensorLocked(c.device, attrs)
	d.sensors = append(d.sensors, sn)
	return &memSensorRes{m: c.m, sn: sn}, nil
}

type memSensorRes struct {
	m  *MemStore
	sn *memSensor
}

func (r *memSensorRes) Ref() string { return r.sn.id }

func (r *memSensorRes) Attributes() store.Attributes {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return r.sn.attrs.Clone()
}

func (r *memSensorRes) title() string {
	t, _ := r.sn.attrs.String(store.AttrTitle)
	return t
}

func (r *memSensorRes) Relation(_ context.Context, name string) (store.Collection, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.record(&r.m.ops.Relation, "relation "+r.title()+" "+name)
	if name != store.RelDataHistory {
		return nil, store.UnknownRelation("sensor", name)
	}
	if err := r.m.faults.history[r.title()]; err != nil {
		return nil, err
	}
	return &memHistory{r: r}, nil
}

type memHistory struct {
	r *memSensorRes
}

func (h *memHistory) Search(_ context.Context, filter store.Attributes) (store.Resource, bool, error) {
	ts, err := filter.Time(store.AttrTimestamp)
	if err != nil {
		return nil, false, err
	}

	m := h.r.m
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(&m.ops.Search, "search-history "+h.r.title())
	for _, smp := range h.r.sn.samples {
		if smp.Timestamp.Equal(ts) {
			return memSampleRes(smp), true, nil
		}
	}
	return nil, false, nil
}

func (h *memHistory) Create(_ context.Context, attrs store.Attributes) (store.Resource, error) {
	ts, err := attrs.Time(store.AttrTimestamp)
	if err != nil {
		return nil, err
	}
	value, err := attrs.Float(store.AttrValue)
	if err != nil {
		return nil, err
	}

	m := h.r.m
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(&m.ops.Append, "append "+h.r.title())
	if err := m.faults.appendTo[h.r.title()]; err != nil {
		return nil, err
	}
	smp := MemSample{Timestamp: ts, Value: value}
	h.r.sn.samples = append(h.r.sn.samples, smp)
	return memSampleRes(smp), nil
}

type memSampleRes MemSample

func (s memSampleRes) Ref() string {
	return "mem:samples/" + s.Timestamp.UTC().Format(time.RFC3339Nano)
}

func (s memSampleRes) Attributes() store.Attributes {
	return store.SampleAttributes(s.Timestamp, s.Value)
}

func (s memSampleRes) Relation(_ context.Context, name string) (store.Collection, error) {
	return nil, store.UnknownRelation("sample", name)
}
