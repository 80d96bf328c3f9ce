package manager

import (
	"errors"
	"fmt"

	"github.com/core-tools/hsu-unitd/pkg/bus"
	unitderrors "github.com/core-tools/hsu-unitd/pkg/errors"
	"github.com/core-tools/hsu-unitd/pkg/unit"
)

// Ref registers a peer reference on the unit, allocating the watch object on
// first use. A referenced unit is never garbage collected.
func (m *Manager) Ref(u *unit.Unit, peer string) error {
	if u.Track == nil {
		u.Track = bus.NewTrack(func() {
			u.Track = nil
			m.enqueueGC(u)
		})
	}
	u.Track.Add(peer)
	m.logger.Debugf("Peer reference added, unit: %s, peer: %s", u.ID(), peer)
	return nil
}

// Unref releases one peer reference. A unit that was never referenced
// reports the distinguished not-referenced error; a peer missing from an
// existing watch is the watch mechanism's own error.
func (m *Manager) Unref(u *unit.Unit, peer string) error {
	if u.Track == nil {
		return unitderrors.NewNotReferencedError(
			fmt.Sprintf("unit %s has never been referenced", u.ID()), nil).
			WithContext("unit", u.ID())
	}
	if err := u.Track.Remove(peer); err != nil {
		if errors.Is(err, bus.ErrPeerNotTracked) {
			return unitderrors.NewInvalidArgumentError(
				fmt.Sprintf("peer holds no reference on unit %s", u.ID()), err).
				WithContext("unit", u.ID()).WithContext("peer", peer)
		}
		return err
	}
	m.logger.Debugf("Peer reference removed, unit: %s, peer: %s", u.ID(), peer)
	return nil
}

// PeerGone drops every reference the disconnected peer held, across all
// units. Last-reference drops enqueue the affected units for GC via the
// track handlers.
func (m *Manager) PeerGone(peer string) {
	seen := make(map[*unit.Unit]struct{})
	for _, u := range m.units {
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		if u.Track != nil {
			u.Track.PeerGone(peer)
		}
	}
	m.CollectGarbage()
}
