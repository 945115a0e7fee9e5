package harness

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/roach88/campbellsync/internal/campbell"
	"github.com/roach88/campbellsync/internal/domain"
	"github.com/roach88/campbellsync/internal/store"
)

// errInjected is the cause of every scenario-injected store failure.
var errInjected = errors.New("injected fault")

// parseFault splits "<op> <title>" and checks the op can be failed.
func parseFault(s string) (op, title string, err error) {
	op, title, ok := strings.Cut(strings.TrimSpace(s), " ")
	if !ok || title == "" {
		return "", "", fmt.Errorf("fault %q: want \"<op> <title>\"", s)
	}
	switch op {
	case OpSearch, OpCreate, OpRelation, OpAppend:
		return op, title, nil
	default:
		return "", "", fmt.Errorf("fault %q: op must be search, create, relation or append", s)
	}
}

// tracer records calls and injects faults.
//
// Thread-safety: tracer is safe for concurrent use via internal mutex.
type tracer struct {
	mu     sync.Mutex
	seq    int64
	cycle  int
	events []TraceEvent
	faults map[string]bool
}

func newTracer() *tracer {
	return &tracer{faults: make(map[string]bool)}
}

// beginCycle starts cycle n with the given faults armed.
func (t *tracer) beginCycle(n int, faults []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cycle = n
	t.faults = make(map[string]bool, len(faults))
	for _, f := range faults {
		op, title, _ := parseFault(f)
		t.faults[op+" "+domain.NormalizeTitle(title)] = true
	}
}

func (t *tracer) record(op, target string, args map[string]string, result string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	t.events = append(t.events, TraceEvent{
		Seq:    t.seq,
		Cycle:  t.cycle,
		Op:     op,
		Target: target,
		Args:   args,
		Result: result,
	})
}

// fault reports whether op on title must fail.
func (t *tracer) fault(op, title string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.faults[op+" "+domain.NormalizeTitle(title)]
}

func (t *tracer) trace() []TraceEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TraceEvent(nil), t.events...)
}

func outcomeOf(err error, found bool) string {
	switch {
	case err != nil:
		return "error: " + err.Error()
	case found:
		return "found"
	default:
		return "not_found"
	}
}

func resultOf(err error) string {
	if err != nil {
		return "error: " + err.Error()
	}
	return "ok"
}

// tracingFetcher records fetches. The URL is left out of the trace since
// the fake datalogger listens on a random port.
type tracingFetcher struct {
	inner campbell.Fetcher
	table string
	t     *tracer
}

func (f *tracingFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	body, err := f.inner.Fetch(ctx, url)
	result := "ok"
	if err != nil {
		result = "error: " + string(domain.CodeOf(err))
	}
	f.t.record(OpFetch, f.table, nil, result)
	return body, err
}

// tracingClient wraps a store.Client and every resource reached through it.
type tracingClient struct {
	inner store.Client
	t     *tracer
}

func (c *tracingClient) Resolve(ctx context.Context, ref string) (store.Resource, bool, error) {
	res, found, err := c.inner.Resolve(ctx, ref)
	c.t.record(OpResolve, ref, nil, outcomeOf(err, found))
	if err != nil || !found {
		return nil, found, err
	}
	return &tracingDevice{inner: res, t: c.t}, true, nil
}

type tracingDevice struct {
	inner store.Resource
	t     *tracer
}

func (d *tracingDevice) Ref() string                  { return d.inner.Ref() }
func (d *tracingDevice) Attributes() store.Attributes { return d.inner.Attributes() }

func (d *tracingDevice) Relation(ctx context.Context, name string) (store.Collection, error) {
	coll, err := d.inner.Relation(ctx, name)
	d.t.record(OpRelation, d.inner.Ref(), map[string]string{"name": name}, resultOf(err))
	if err != nil {
		return nil, err
	}
	return &tracingSensors{inner: coll, t: d.t}, nil
}

type tracingSensors struct {
	inner store.Collection
	t     *tracer
}

func (c *tracingSensors) Search(ctx context.Context, filter store.Attributes) (store.Resource, bool, error) {
	title, _ := filter.String(store.AttrTitle)
	var (
		res   store.Resource
		found bool
		err   error
	)
	if c.t.fault(OpSearch, title) {
		err = errInjected
	} else {
		res, found, err = c.inner.Search(ctx, filter)
	}
	c.t.record(OpSearch, title, stringArgs(filter), outcomeOf(err, found))
	if err != nil || !found {
		return nil, found, err
	}
	return &tracingSensor{inner: res, title: title, t: c.t}, true, nil
}

func (c *tracingSensors) Create(ctx context.Context, attrs store.Attributes) (store.Resource, error) {
	title, _ := attrs.String(store.AttrTitle)
	var (
		res store.Resource
		err error
	)
	if c.t.fault(OpCreate, title) {
		err = errInjected
	} else {
		res, err = c.inner.Create(ctx, attrs)
	}
	c.t.record(OpCreate, title, stringArgs(attrs), resultOf(err))
	if err != nil {
		return nil, err
	}
	return &tracingSensor{inner: res, title: title, t: c.t}, nil
}

type tracingSensor struct {
	inner store.Resource
	title string
	t     *tracer
}

func (s *tracingSensor) Ref() string                  { return s.inner.Ref() }
func (s *tracingSensor) Attributes() store.Attributes { return s.inner.Attributes() }

func (s *tracingSensor) Relation(ctx context.Context, name string) (store.Collection, error) {
	var (
		coll store.Collection
		err  error
	)
	if s.t.fault(OpRelation, s.title) {
		err = errInjected
	} else {
		coll, err = s.inner.Relation(ctx, name)
	}
	s.t.record(OpRelation, s.title, map[string]string{"name": name}, resultOf(err))
	if err != nil {
		return nil, err
	}
	return &tracingHistory{inner: coll, title: s.title, t: s.t}, nil
}

type tracingHistory struct {
	inner store.Collection
	title string
	t     *tracer
}

func (h *tracingHistory) Search(ctx context.Context, filter store.Attributes) (store.Resource, bool, error) {
	res, found, err := h.inner.Search(ctx, filter)
	h.t.record(OpSearch, h.title+"/history", stringArgs(filter), outcomeOf(err, found))
	return res, found, err
}

func (h *tracingHistory) Create(ctx context.Context, attrs store.Attributes) (store.Resource, error) {
	var (
		res store.Resource
		err error
	)
	if h.t.fault(OpAppend, h.title) {
		err = errInjected
	} else {
		res, err = h.inner.Create(ctx, attrs)
	}
	h.t.record(OpAppend, h.title, stringArgs(attrs), resultOf(err))
	return res, err
}

// stringArgs renders attributes as strings: times in RFC 3339 UTC,
// floats in their shortest form.
func stringArgs(attrs store.Attributes) map[string]string {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			out[k] = val
		case time.Time:
			out[k] = val.UTC().Format(time.RFC3339Nano)
		case float64:
			out[k] = strconv.FormatFloat(val, 'g', -1, 64)
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}
