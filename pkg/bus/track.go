package bus

import "errors"

// ErrPeerNotTracked is returned by Track.Remove when the peer never added a
// reference to this track. Callers map the separate "no track allocated at
// all" case to the distinguished not-referenced error themselves.
var ErrPeerNotTracked = errors.New("peer not tracked")

// Track is a recursive reference watch over a set of remote peers. Each peer
// may hold multiple references; the per-peer count is kept so that adds and
// removes pair up. When the last reference of the last peer goes away the
// onEmpty handler fires exactly once.
//
// Lifetime is explicit: the owner allocates a Track lazily on first
// reference and drops it from the handler, instead of nulling pointers from
// ad-hoc callbacks.
type Track struct {
	refs    map[string]int
	onEmpty func()
	fired   bool
}

// NewTrack creates an empty track. onEmpty runs when the track transitions
// to empty (peer disconnect or explicit release of the last reference).
func NewTrack(onEmpty func()) *Track {
	return &Track{
		refs:    make(map[string]int),
		onEmpty: onEmpty,
	}
}

// Add registers one reference held by the named peer.
func (t *Track) Add(peer string) {
	t.refs[peer]++
}

// Remove releases one reference held by the named peer.
func (t *Track) Remove(peer string) error {
	n, ok := t.refs[peer]
	if !ok {
		return ErrPeerNotTracked
	}
	if n <= 1 {
		delete(t.refs, peer)
	} else {
		t.refs[peer] = n - 1
	}
	t.checkEmpty()
	return nil
}

// PeerGone drops every reference held by a disconnected peer.
func (t *Track) PeerGone(peer string) {
	if _, ok := t.refs[peer]; !ok {
		return
	}
	delete(t.refs, peer)
	t.checkEmpty()
}

// Contains reports whether the peer currently holds at least one reference.
func (t *Track) Contains(peer string) bool {
	_, ok := t.refs[peer]
	return ok
}

// Count returns the number of peers holding references.
func (t *Track) Count() int {
	return len(t.refs)
}

func (t *Track) checkEmpty() {
	if len(t.refs) != 0 || t.fired {
		return
	}
	t.fired = true
	if t.onEmpty != nil {
		t.onEmpty()
	}
}
