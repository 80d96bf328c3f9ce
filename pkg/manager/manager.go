package manager

import (
	"github.com/core-tools/hsu-unitd/pkg/bus"
	"github.com/core-tools/hsu-unitd/pkg/errors"
	"github.com/core-tools/hsu-unitd/pkg/logging"
	"github.com/core-tools/hsu-unitd/pkg/unit"
)

// Manager owns the unit registry and the queues around it: the change
// dispatch queue feeding the signal emitter and the GC reconsideration
// queue fed by peer-reference release. All methods run on the control
// plane's single processing goroutine.
type Manager struct {
	settingsRoot string
	emitter      *bus.Emitter
	logger       logging.Logger

	units   map[string]*unit.Unit // primary names and aliases
	byPath  map[string]*unit.Unit
	nextJob uint32

	dispatchQueue []*unit.Unit
	gcQueue       []*unit.Unit
}

func NewManager(settingsRoot string, emitter *bus.Emitter, logger logging.Logger) *Manager {
	return &Manager{
		settingsRoot: settingsRoot,
		emitter:      emitter,
		logger:       logger,
		units:        make(map[string]*unit.Unit),
		byPath:       make(map[string]*unit.Unit),
	}
}

// GetUnit resolves a unit by any of its names.
func (m *Manager) GetUnit(name string) (*unit.Unit, bool) {
	u, ok := m.units[name]
	return u, ok
}

// UnitByPath resolves a unit by its management object path.
func (m *Manager) UnitByPath(path string) (*unit.Unit, error) {
	u, ok := m.byPath[path]
	if !ok {
		return nil, errors.NewNoSuchUnitError("no unit at object path "+path, nil).
			WithContext("path", path)
	}
	return u, nil
}

// LoadUnitPrepare resolves the named unit, creating it as a transient stub
// if it does not exist yet. The load queue is not dispatched, so a unit in
// the middle of its own transient setup stays a stub.
func (m *Manager) LoadUnitPrepare(name string) (*unit.Unit, error) {
	if u, ok := m.units[name]; ok {
		return u, nil
	}

	u, err := unit.New(name)
	if err != nil {
		return nil, err
	}
	u.Transient = true

	m.units[name] = u
	m.byPath[u.ObjectPath()] = u
	m.EnqueueChange(u)

	m.logger.Debugf("Created unit stub, name: %s, kind: %s", name, u.Kind)
	return u, nil
}

func (m *Manager) registerAlias(u *unit.Unit, alias string) {
	m.units[alias] = u
}

// SettingsRoot implements control.Host.
func (m *Manager) SettingsRoot() string {
	return m.settingsRoot
}

// EnqueueChange puts the unit on the change dispatch queue. The queued
// notification goes out on the next DispatchSignals pass; queueing twice
// before a pass coalesces.
func (m *Manager) EnqueueChange(u *unit.Unit) {
	if u.InDispatchQueue() || u.ID() == "" {
		return
	}
	u.SetInDispatchQueue(true)
	m.dispatchQueue = append(m.dispatchQueue, u)
}

// DispatchSignals flushes the change dispatch queue to the connected buses.
func (m *Manager) DispatchSignals() {
	queue := m.dispatchQueue
	m.dispatchQueue = nil
	for _, u := range queue {
		m.emitter.SendChange(u)
	}
}

// RemoveUnit drops a unit from the registry, emitting the removal notice
// (preceded by a final change notice when one is due) before the identity
// is unset.
func (m *Manager) RemoveUnit(u *unit.Unit) {
	m.emitter.SendRemoved(u)

	for _, name := range u.Names() {
		delete(m.units, name)
	}
	delete(m.byPath, u.ObjectPath())
	u.ReleaseIdentity()
}

// CollectGarbage reconsiders every unit queued for GC. A unit goes away if
// nothing holds it anymore: no peer references, no outstanding job, not
// perpetual, and inactive per its collect mode.
func (m *Manager) CollectGarbage() {
	queue := m.gcQueue
	m.gcQueue = nil

	for _, u := range queue {
		if !m.collectible(u) {
			continue
		}
		m.logger.Infof("Collecting unit, name: %s", u.ID())
		m.RemoveUnit(u)
	}
}

func (m *Manager) collectible(u *unit.Unit) bool {
	if u.ID() == "" || u.Perpetual || u.Job() != nil || u.Track != nil {
		return false
	}
	switch u.CollectMode {
	case unit.CollectModeInactiveOrFailed:
		return u.ActiveState.IsInactiveOrFailed()
	default:
		return u.ActiveState == unit.ActiveStateInactive
	}
}

func (m *Manager) enqueueGC(u *unit.Unit) {
	m.gcQueue = append(m.gcQueue, u)
}
