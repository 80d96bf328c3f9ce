package bus

import (
	"github.com/core-tools/hsu-unitd/pkg/logging"
)

// GenericInterface is the interface name of the generic unit property
// surface. Subtype-specific surfaces use the kind interface names.
const GenericInterface = "unitd.Unit"

// Signal names broadcast by the emitter.
const (
	SignalUnitNew           = "UnitNew"
	SignalUnitRemoved       = "UnitRemoved"
	SignalPropertiesChanged = "PropertiesChanged"
)

// Signal is one lifecycle notification broadcast to connected peers.
type Signal struct {
	Name      string
	Unit      string
	Path      string
	Interface string // set for PropertiesChanged only
}

// Conn is one connected management bus able to receive signals.
type Conn interface {
	PeerName() string
	SendSignal(s Signal) error
}

// Set is the registry of currently connected management buses.
type Set struct {
	conns map[string]Conn
}

func NewSet() *Set {
	return &Set{conns: make(map[string]Conn)}
}

func (s *Set) Add(c Conn) {
	s.conns[c.PeerName()] = c
}

func (s *Set) Remove(peer string) {
	delete(s.conns, peer)
}

func (s *Set) Get(peer string) (Conn, bool) {
	c, ok := s.conns[peer]
	return c, ok
}

// ForEach invokes fn for every connection, returning the last error.
func (s *Set) ForEach(fn func(Conn) error) error {
	var last error
	for _, c := range s.conns {
		if err := fn(c); err != nil {
			last = err
		}
	}
	return last
}

// UnitView is what the emitter needs to know about a unit: identity, signal
// bookkeeping flags and the subtype interface name.
type UnitView interface {
	ID() string
	ObjectPath() string
	KindInterface() string
	NewSignalSent() bool
	MarkNewSignalSent()
	InDispatchQueue() bool
	SetInDispatchQueue(bool)
}

// Emitter publishes ordered unit lifecycle notifications to every connected
// management bus.
type Emitter struct {
	buses  *Set
	logger logging.Logger
}

func NewEmitter(buses *Set, logger logging.Logger) *Emitter {
	return &Emitter{
		buses:  buses,
		logger: logger,
	}
}

// SendChange emits the pending notification for a unit: a creation notice if
// none was sent yet, otherwise a property-change pair. The subtype-specific
// signal goes out before the generic one; observers may rely on that order.
func (e *Emitter) SendChange(u UnitView) {
	u.SetInDispatchQueue(false)

	if u.ID() == "" {
		return
	}

	var err error
	if !u.NewSignalSent() {
		err = e.buses.ForEach(func(c Conn) error {
			return c.SendSignal(Signal{Name: SignalUnitNew, Unit: u.ID(), Path: u.ObjectPath()})
		})
	} else {
		err = e.buses.ForEach(func(c Conn) error {
			if err := c.SendSignal(Signal{Name: SignalPropertiesChanged, Unit: u.ID(), Path: u.ObjectPath(), Interface: u.KindInterface()}); err != nil {
				return err
			}
			return c.SendSignal(Signal{Name: SignalPropertiesChanged, Unit: u.ID(), Path: u.ObjectPath(), Interface: GenericInterface})
		})
	}
	if err != nil {
		e.logger.Debugf("Failed to send unit change signal, unit: %s, error: %v", u.ID(), err)
	}

	u.MarkNewSignalSent()
}

// SendRemoved emits the removal notice. If no change notification was ever
// sent, or one is still queued, a final change notification goes out first
// so observers never see a removal without a preceding change.
func (e *Emitter) SendRemoved(u UnitView) {
	if !u.NewSignalSent() || u.InDispatchQueue() {
		e.SendChange(u)
	}

	if u.ID() == "" {
		return
	}

	err := e.buses.ForEach(func(c Conn) error {
		return c.SendSignal(Signal{Name: SignalUnitRemoved, Unit: u.ID(), Path: u.ObjectPath()})
	})
	if err != nil {
		e.logger.Debugf("Failed to send unit removed signal, unit: %s, error: %v", u.ID(), err)
	}
}
