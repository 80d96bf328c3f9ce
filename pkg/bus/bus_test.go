package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type TestLogger struct{}

func (l *TestLogger) LogLevelf(level int, format string, args ...interface{}) {}
func (l *TestLogger) Debugf(format string, args ...interface{})               {}
func (l *TestLogger) Infof(format string, args ...interface{})                {}
func (l *TestLogger) Warnf(format string, args ...interface{})                {}
func (l *TestLogger) Errorf(format string, args ...interface{})               {}

type recordingConn struct {
	peer    string
	signals []Signal
}

func (c *recordingConn) PeerName() string { return c.peer }

func (c *recordingConn) SendSignal(s Signal) error {
	c.signals = append(c.signals, s)
	return nil
}

type fakeUnit struct {
	id       string
	sent     bool
	queued   bool
	subIface string
}

func (u *fakeUnit) ID() string              { return u.id }
func (u *fakeUnit) ObjectPath() string      { return "/unitd/unit/" + u.id }
func (u *fakeUnit) KindInterface() string   { return u.subIface }
func (u *fakeUnit) NewSignalSent() bool     { return u.sent }
func (u *fakeUnit) MarkNewSignalSent()      { u.sent = true }
func (u *fakeUnit) InDispatchQueue() bool   { return u.queued }
func (u *fakeUnit) SetInDispatchQueue(b bool) { u.queued = b }

func newTestEmitter() (*Emitter, *recordingConn) {
	conn := &recordingConn{peer: ":1.1"}
	set := NewSet()
	set.Add(conn)
	return NewEmitter(set, &TestLogger{}), conn
}

func TestTrackLastPeerFiresOnce(t *testing.T) {
	fired := 0
	track := NewTrack(func() { fired++ })

	track.Add(":1.1")
	track.Add(":1.1")
	track.Add(":1.2")
	assert.Equal(t, 2, track.Count())

	require.NoError(t, track.Remove(":1.1"))
	require.NoError(t, track.Remove(":1.1"))
	assert.Equal(t, 0, fired)

	track.PeerGone(":1.2")
	assert.Equal(t, 1, fired)

	// Going empty twice must not refire.
	track.PeerGone(":1.2")
	assert.Equal(t, 1, fired)
}

func TestTrackRemoveUnknownPeer(t *testing.T) {
	track := NewTrack(nil)
	track.Add(":1.1")

	err := track.Remove(":1.9")
	assert.ErrorIs(t, err, ErrPeerNotTracked)
	assert.True(t, track.Contains(":1.1"))
}

func TestSendChangeFirstEmitsUnitNew(t *testing.T) {
	emitter, conn := newTestEmitter()
	u := &fakeUnit{id: "web.service", subIface: "unitd.Service", queued: true}

	emitter.SendChange(u)

	require.Len(t, conn.signals, 1)
	assert.Equal(t, SignalUnitNew, conn.signals[0].Name)
	assert.False(t, u.queued, "dispatch flag must be cleared")
	assert.True(t, u.sent)
}

func TestSendChangeSubtypeBeforeGeneric(t *testing.T) {
	emitter, conn := newTestEmitter()
	u := &fakeUnit{id: "web.service", subIface: "unitd.Service", sent: true}

	emitter.SendChange(u)

	require.Len(t, conn.signals, 2)
	assert.Equal(t, SignalPropertiesChanged, conn.signals[0].Name)
	assert.Equal(t, "unitd.Service", conn.signals[0].Interface)
	assert.Equal(t, SignalPropertiesChanged, conn.signals[1].Name)
	assert.Equal(t, GenericInterface, conn.signals[1].Interface)
}

func TestSendRemovedAlwaysPrecededByChange(t *testing.T) {
	tests := []struct {
		name   string
		sent   bool
		queued bool
	}{
		{"never announced", false, false},
		{"announced but change pending", true, true},
		{"announced, nothing pending", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emitter, conn := newTestEmitter()
			u := &fakeUnit{id: "web.service", subIface: "unitd.Service", sent: tt.sent, queued: tt.queued}

			emitter.SendRemoved(u)

			require.NotEmpty(t, conn.signals)
			last := conn.signals[len(conn.signals)-1]
			assert.Equal(t, SignalUnitRemoved, last.Name)

			if !tt.sent || tt.queued {
				// The removal must not be the first thing observers see.
				assert.Greater(t, len(conn.signals), 1)
				assert.NotEqual(t, SignalUnitRemoved, conn.signals[0].Name)
			}
			for _, s := range conn.signals[:len(conn.signals)-1] {
				assert.NotEqual(t, SignalUnitRemoved, s.Name)
			}
		})
	}
}

func TestNoSignalsAfterIdentityUnset(t *testing.T) {
	emitter, conn := newTestEmitter()
	u := &fakeUnit{id: "", subIface: "unitd.Service"}

	emitter.SendChange(u)
	emitter.SendRemoved(u)

	assert.Empty(t, conn.signals)
}
