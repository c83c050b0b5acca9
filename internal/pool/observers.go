package pool

import (
	"fmt"

	"github.com/nerrad567/gray-logic-conduit/internal/driver"
)

// ObserverFunc receives device state updates for a single address.
// Called synchronously on the driver's event goroutine; slow observers
// delay delivery to later observers of the same address.
type ObserverFunc func(address string, state driver.Snapshot, changedPath string)

// AddObserver registers an observer for state changes at address.
// Registering with an existing id replaces the previous observer.
// Observers survive Release; remove them explicitly.
func (m *Manager) AddObserver(address, id string, fn ObserverFunc) error {
	if address == "" {
		return ErrInvalidAddress
	}
	if id == "" {
		return fmt.Errorf("pool: observer id cannot be empty")
	}
	if fn == nil {
		return fmt.Errorf("pool: observer func cannot be nil")
	}

	m.obsMu.Lock()
	defer m.obsMu.Unlock()

	byID, ok := m.observers[address]
	if !ok {
		byID = make(map[string]ObserverFunc)
		m.observers[address] = byID
	}
	byID[id] = fn
	return nil
}

// RemoveObserver unregisters the observer with id for address.
// Removing an unknown observer is a no-op.
func (m *Manager) RemoveObserver(address, id string) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()

	byID, ok := m.observers[address]
	if !ok {
		return
	}
	delete(byID, id)
	if len(byID) == 0 {
		delete(m.observers, address)
	}
}

// notifyObservers delivers a state update to every observer registered
// for address. Each observer gets its own snapshot copy and its own
// panic isolation so one misbehaving observer cannot corrupt shared
// state or starve its neighbours.
func (m *Manager) notifyObservers(address string, state driver.Snapshot, changedPath string) {
	m.obsMu.RLock()
	byID := m.observers[address]
	fns := make([]ObserverFunc, 0, len(byID))
	ids := make([]string, 0, len(byID))
	for id, fn := range byID {
		fns = append(fns, fn)
		ids = append(ids, id)
	}
	m.obsMu.RUnlock()

	for i, fn := range fns {
		m.notifyOne(address, ids[i], fn, state.Copy(), changedPath)
	}
}

func (m *Manager) notifyOne(address, id string, fn ObserverFunc, state driver.Snapshot, changedPath string) {
	defer func() {
		if r := recover(); r != nil {
			m.logError("observer panic", fmt.Errorf("%v", r), "address", address, "observer", id)
		}
	}()
	fn(address, state, changedPath)
}
