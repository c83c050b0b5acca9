package pool

import (
	"context"
	"sync"
	"testing"

	"github.com/nerrad567/gray-logic-conduit/internal/driver"
)

// recorder collects observer deliveries for assertions.
type recorder struct {
	mu     sync.Mutex
	states []driver.Snapshot
	paths  []string
}

func (r *recorder) fn(_ string, state driver.Snapshot, changedPath string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	r.paths = append(r.paths, changedPath)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

func (r *recorder) last() (driver.Snapshot, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return nil, ""
	}
	return r.states[len(r.states)-1], r.paths[len(r.paths)-1]
}

func TestAddObserverValidation(t *testing.T) {
	m, _ := newTestManager(t, testConfig(), &fakeDriver{})

	tests := []struct {
		name    string
		address string
		id      string
		fn      ObserverFunc
	}{
		{"empty address", "", "ui", func(string, driver.Snapshot, string) {}},
		{"empty id", "amp-1:23", "", func(string, driver.Snapshot, string) {}},
		{"nil func", "amp-1:23", "ui", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := m.AddObserver(tt.address, tt.id, tt.fn); err == nil {
				t.Error("AddObserver() expected error, got nil")
			}
		})
	}
}

func TestTwoObserversBothReceive(t *testing.T) {
	d := &fakeDriver{}
	m, _ := newTestManager(t, testConfig(), d)

	var a, b recorder
	if err := m.AddObserver("amp-1:23", "panel", a.fn); err != nil {
		t.Fatalf("AddObserver(panel) unexpected error: %v", err)
	}
	if err := m.AddObserver("amp-1:23", "ui", b.fn); err != nil {
		t.Fatalf("AddObserver(ui) unexpected error: %v", err)
	}

	if _, err := m.Acquire(context.Background(), "amp-1:23"); err != nil {
		t.Fatalf("Acquire() unexpected error: %v", err)
	}
	d.emit(driver.Event{
		Type:        driver.EventStateChanged,
		State:       driver.Snapshot{"power": "on"},
		ChangedPath: "power",
	})

	if a.count() != 1 || b.count() != 1 {
		t.Fatalf("deliveries = %d/%d, want 1/1", a.count(), b.count())
	}
	state, path := a.last()
	if state["power"] != "on" {
		t.Errorf("observed state = %v, want power=on", state)
	}
	if path != "power" {
		t.Errorf("changedPath = %q, want %q", path, "power")
	}
}

func TestObserverSnapshotsAreIsolatedCopies(t *testing.T) {
	d := &fakeDriver{}
	m, _ := newTestManager(t, testConfig(), d)

	// One observer mutates its snapshot; the other must still see the
	// original value regardless of delivery order.
	var b recorder
	if err := m.AddObserver("amp-1:23", "mutator", func(_ string, state driver.Snapshot, _ string) {
		state["power"] = "corrupted"
	}); err != nil {
		t.Fatalf("AddObserver(mutator) unexpected error: %v", err)
	}
	if err := m.AddObserver("amp-1:23", "reader", b.fn); err != nil {
		t.Fatalf("AddObserver(reader) unexpected error: %v", err)
	}

	if _, err := m.Acquire(context.Background(), "amp-1:23"); err != nil {
		t.Fatalf("Acquire() unexpected error: %v", err)
	}
	d.emit(driver.Event{
		Type:  driver.EventStateChanged,
		State: driver.Snapshot{"power": "on"},
	})

	state, _ := b.last()
	if state["power"] != "on" {
		t.Errorf("reader saw %v, want power=on", state)
	}
}

func TestRemoveObserverLeavesOthersLive(t *testing.T) {
	d := &fakeDriver{}
	m, _ := newTestManager(t, testConfig(), d)

	var a, b recorder
	if err := m.AddObserver("amp-1:23", "panel", a.fn); err != nil {
		t.Fatalf("AddObserver(panel) unexpected error: %v", err)
	}
	if err := m.AddObserver("amp-1:23", "ui", b.fn); err != nil {
		t.Fatalf("AddObserver(ui) unexpected error: %v", err)
	}
	if _, err := m.Acquire(context.Background(), "amp-1:23"); err != nil {
		t.Fatalf("Acquire() unexpected error: %v", err)
	}

	m.RemoveObserver("amp-1:23", "panel")
	d.emit(driver.Event{Type: driver.EventStateChanged, State: driver.Snapshot{"power": "on"}})

	if a.count() != 0 {
		t.Errorf("removed observer deliveries = %d, want 0", a.count())
	}
	if b.count() != 1 {
		t.Errorf("remaining observer deliveries = %d, want 1", b.count())
	}

	// Removing the unknown again is a no-op.
	m.RemoveObserver("amp-1:23", "panel")
	m.RemoveObserver("never-seen:1", "panel")
}

func TestObserverPanicDoesNotSuppressOthers(t *testing.T) {
	d := &fakeDriver{}
	m, _ := newTestManager(t, testConfig(), d)

	var b recorder
	if err := m.AddObserver("amp-1:23", "buggy", func(string, driver.Snapshot, string) {
		panic("observer bug")
	}); err != nil {
		t.Fatalf("AddObserver(buggy) unexpected error: %v", err)
	}
	if err := m.AddObserver("amp-1:23", "ui", b.fn); err != nil {
		t.Fatalf("AddObserver(ui) unexpected error: %v", err)
	}
	if _, err := m.Acquire(context.Background(), "amp-1:23"); err != nil {
		t.Fatalf("Acquire() unexpected error: %v", err)
	}

	d.emit(driver.Event{Type: driver.EventStateChanged, State: driver.Snapshot{"power": "on"}})

	if b.count() != 1 {
		t.Errorf("deliveries after neighbour panic = %d, want 1", b.count())
	}
}

func TestAddObserverReplacesById(t *testing.T) {
	d := &fakeDriver{}
	m, _ := newTestManager(t, testConfig(), d)

	var a, b recorder
	if err := m.AddObserver("amp-1:23", "ui", a.fn); err != nil {
		t.Fatalf("AddObserver() unexpected error: %v", err)
	}
	if err := m.AddObserver("amp-1:23", "ui", b.fn); err != nil {
		t.Fatalf("re-AddObserver() unexpected error: %v", err)
	}
	if _, err := m.Acquire(context.Background(), "amp-1:23"); err != nil {
		t.Fatalf("Acquire() unexpected error: %v", err)
	}

	d.emit(driver.Event{Type: driver.EventStateChanged, State: driver.Snapshot{"power": "on"}})

	if a.count() != 0 {
		t.Errorf("replaced observer deliveries = %d, want 0", a.count())
	}
	if b.count() != 1 {
		t.Errorf("replacement observer deliveries = %d, want 1", b.count())
	}
}

func TestObserversSurviveRelease(t *testing.T) {
	d := &fakeDriver{}
	m, _ := newTestManager(t, testConfig(), d)

	var a recorder
	if err := m.AddObserver("amp-1:23", "ui", a.fn); err != nil {
		t.Fatalf("AddObserver() unexpected error: %v", err)
	}

	if _, err := m.Acquire(context.Background(), "amp-1:23"); err != nil {
		t.Fatalf("Acquire() unexpected error: %v", err)
	}
	if err := m.Release("amp-1:23"); err != nil {
		t.Fatalf("Release() unexpected error: %v", err)
	}
	if _, err := m.Acquire(context.Background(), "amp-1:23"); err != nil {
		t.Fatalf("re-Acquire() unexpected error: %v", err)
	}

	d.emit(driver.Event{Type: driver.EventStateChanged, State: driver.Snapshot{"power": "on"}})

	if a.count() != 1 {
		t.Errorf("deliveries after release/re-acquire = %d, want 1", a.count())
	}
}
