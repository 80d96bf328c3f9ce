package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/core-tools/hsu-unitd/pkg/errors"
	"github.com/core-tools/hsu-unitd/pkg/policy"
	"github.com/core-tools/hsu-unitd/pkg/unit"
)

type TestLogger struct{}

func (l *TestLogger) LogLevelf(level int, format string, args ...interface{}) {}
func (l *TestLogger) Debugf(format string, args ...interface{})               {}
func (l *TestLogger) Infof(format string, args ...interface{})                {}
func (l *TestLogger) Warnf(format string, args ...interface{})                {}
func (l *TestLogger) Errorf(format string, args ...interface{})               {}

// MockScheduler is a mock implementation of Scheduler
type MockScheduler struct {
	mock.Mock
}

func (m *MockScheduler) AddJob(jobType unit.JobType, u *unit.Unit, mode unit.JobMode) (*unit.Job, error) {
	args := m.Called(jobType, u, mode)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*unit.Job), args.Error(1)
}

func (m *MockScheduler) WatchJob(j *unit.Job, peer string) {
	m.Called(j, peer)
}

// MockKiller is a mock implementation of ProcessKiller
type MockKiller struct {
	mock.Mock
}

func (m *MockKiller) Kill(u *unit.Unit, who KillWho, signal unix.Signal) error {
	args := m.Called(u, who, signal)
	return args.Error(0)
}

// grantAll authorizes everything synchronously.
type grantAll struct{}

func (grantAll) Authorize(req policy.Request) (policy.Decision, string, error) {
	return policy.DecisionGranted, "", nil
}

func newTestDispatcher(t *testing.T, authorizer policy.Authorizer) (*Dispatcher, *MockScheduler, *MockKiller) {
	scheduler := &MockScheduler{}
	killer := &MockKiller{}
	if authorizer == nil {
		authorizer = grantAll{}
	}
	return NewDispatcher(scheduler, authorizer, killer, &TestLogger{}), scheduler, killer
}

func newLoadedUnit(t *testing.T, name string) *unit.Unit {
	u, err := unit.New(name)
	require.NoError(t, err)
	u.LoadState = unit.LoadStateLoaded
	return u
}

func TestParseKillWho(t *testing.T) {
	who, ok := ParseKillWho("")
	require.True(t, ok)
	assert.Equal(t, KillAll, who, "empty selector must default to all")

	for _, s := range []string{"all", "main", "control"} {
		_, ok := ParseKillWho(s)
		assert.True(t, ok, s)
	}

	_, ok = ParseKillWho("everyone")
	assert.False(t, ok)
}

func TestQueueInvalidMode(t *testing.T) {
	d, scheduler, _ := newTestDispatcher(t, nil)
	u := newLoadedUnit(t, "web.service")

	_, err := d.Queue(Caller{UID: 0}, u, unit.JobStart, "sideways", false)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidArgumentError(err))
	scheduler.AssertNotCalled(t, "AddJob", mock.Anything, mock.Anything, mock.Anything)
}

func TestQueueStart(t *testing.T) {
	d, scheduler, _ := newTestDispatcher(t, nil)
	u := newLoadedUnit(t, "web.service")

	j := &unit.Job{ID: 1, Type: unit.JobStart, Mode: unit.JobModeReplace, Unit: u}
	scheduler.On("AddJob", unit.JobStart, u, unit.JobModeReplace).Return(j, nil)
	scheduler.On("WatchJob", j, ":1.1").Return()

	got, err := d.Queue(Caller{PeerName: ":1.1", UID: 0}, u, unit.JobStart, "replace", false)
	require.NoError(t, err)
	assert.Equal(t, j, got)
	assert.Equal(t, j, u.Job())
	scheduler.AssertExpectations(t)
}

func TestQueueDenied(t *testing.T) {
	denier := policy.AuthorizerFunc(func(req policy.Request) (policy.Decision, string, error) {
		return policy.DecisionDenied, "", nil
	})
	d, scheduler, _ := newTestDispatcher(t, denier)
	u := newLoadedUnit(t, "web.service")

	_, err := d.Queue(Caller{UID: 1000}, u, unit.JobStart, "replace", false)
	require.Error(t, err)
	assert.True(t, errors.IsAccessDeniedError(err))
	scheduler.AssertNotCalled(t, "AddJob", mock.Anything, mock.Anything, mock.Anything)
}

// Pending authorization must park the request without creating a job; the
// redelivered call (same request, token set) creates exactly one.
func TestQueuePendingIdempotent(t *testing.T) {
	pendingThenGrant := policy.AuthorizerFunc(func(req policy.Request) (policy.Decision, string, error) {
		if req.Token == "tok-1" {
			return policy.DecisionGranted, "", nil
		}
		return policy.DecisionPending, "tok-1", nil
	})
	d, scheduler, _ := newTestDispatcher(t, pendingThenGrant)
	u := newLoadedUnit(t, "web.service")

	caller := Caller{PeerName: ":1.1", UID: 1000, Interactive: true}

	_, err := d.Queue(caller, u, unit.JobStart, "replace", false)
	require.Error(t, err)
	assert.True(t, errors.IsPendingError(err))

	// Duplicate delivery while pending: still no job.
	_, err = d.Queue(caller, u, unit.JobStart, "replace", false)
	require.Error(t, err)
	assert.True(t, errors.IsPendingError(err))
	scheduler.AssertNotCalled(t, "AddJob", mock.Anything, mock.Anything, mock.Anything)

	j := &unit.Job{ID: 1, Type: unit.JobStart, Mode: unit.JobModeReplace, Unit: u}
	scheduler.On("AddJob", unit.JobStart, u, unit.JobModeReplace).Return(j, nil).Once()
	scheduler.On("WatchJob", j, ":1.1").Return()

	caller.AuthToken = "tok-1"
	got, err := d.Queue(caller, u, unit.JobStart, "replace", false)
	require.NoError(t, err)
	assert.Equal(t, j, got)
	scheduler.AssertExpectations(t)
}

func TestQueueStopOnMissingUnit(t *testing.T) {
	d, scheduler, _ := newTestDispatcher(t, nil)
	u := newLoadedUnit(t, "web.service")
	u.LoadState = unit.LoadStateNotFound
	u.ActiveState = unit.ActiveStateInactive

	_, err := d.Queue(Caller{UID: 0}, u, unit.JobStop, "replace", false)
	require.Error(t, err)
	assert.True(t, errors.IsNoSuchUnitError(err))
	scheduler.AssertNotCalled(t, "AddJob", mock.Anything, mock.Anything, mock.Anything)
}

func TestQueueRefuseManual(t *testing.T) {
	tests := []struct {
		name    string
		jobType unit.JobType
		start   bool
		stop    bool
	}{
		{"manual start refused", unit.JobStart, true, false},
		{"manual stop refused", unit.JobStop, false, true},
		{"restart refused on refuse-start", unit.JobRestart, true, false},
		{"restart refused on refuse-stop", unit.JobRestart, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, scheduler, _ := newTestDispatcher(t, nil)
			u := newLoadedUnit(t, "web.service")
			u.RefuseManualStart = tt.start
			u.RefuseManualStop = tt.stop

			_, err := d.Queue(Caller{UID: 0}, u, tt.jobType, "replace", false)
			require.Error(t, err)
			assert.True(t, errors.IsOnlyByDependencyError(err))
			scheduler.AssertNotCalled(t, "AddJob", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

// The ReloadOr* verbs collapse to reload types when the unit can reload.
func TestQueueReloadCollapse(t *testing.T) {
	tests := []struct {
		name      string
		jobType   unit.JobType
		active    unit.ActiveState
		canReload bool
		expect    unit.JobType
	}{
		{"restart collapses", unit.JobRestart, unit.ActiveStateActive, true, unit.JobReloadOrStart},
		{"try-restart collapses", unit.JobTryRestart, unit.ActiveStateActive, true, unit.JobTryReload},
		{"no reload support keeps restart", unit.JobRestart, unit.ActiveStateActive, false, unit.JobRestart},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, scheduler, _ := newTestDispatcher(t, nil)
			var u *unit.Unit
			if tt.canReload {
				u = newLoadedUnit(t, "web.service")
			} else {
				u = newLoadedUnit(t, "web.socket")
			}
			u.ActiveState = tt.active

			j := &unit.Job{ID: 7, Type: tt.expect, Mode: unit.JobModeReplace, Unit: u}
			scheduler.On("AddJob", tt.expect, u, unit.JobModeReplace).Return(j, nil)
			scheduler.On("WatchJob", j, mock.Anything).Return()

			_, err := d.Queue(Caller{UID: 0}, u, tt.jobType, "replace", true)
			require.NoError(t, err)
			scheduler.AssertExpectations(t)
		})
	}
}

func TestKillValidation(t *testing.T) {
	d, _, killer := newTestDispatcher(t, nil)
	u := newLoadedUnit(t, "web.service")

	err := d.Kill(Caller{UID: 0}, u, "everyone", 15)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidArgumentError(err))

	err = d.Kill(Caller{UID: 0}, u, "all", 0)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidArgumentError(err))

	err = d.Kill(Caller{UID: 0}, u, "all", 65)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidArgumentError(err))

	killer.AssertNotCalled(t, "Kill", mock.Anything, mock.Anything, mock.Anything)
}

func TestKillDefaultsToAll(t *testing.T) {
	d, _, killer := newTestDispatcher(t, nil)
	u := newLoadedUnit(t, "web.service")

	killer.On("Kill", u, KillAll, unix.Signal(15)).Return(nil)

	require.NoError(t, d.Kill(Caller{UID: 0}, u, "", 15))
	killer.AssertExpectations(t)
}

func TestResetFailed(t *testing.T) {
	d, _, _ := newTestDispatcher(t, nil)
	u := newLoadedUnit(t, "web.service")
	u.SetStartLimit(time.Hour, 1)
	u.StartLimitTest()
	u.StartLimitTest()
	require.True(t, u.StartLimitHit())

	require.NoError(t, d.ResetFailed(Caller{UID: 0}, u))
	assert.False(t, u.StartLimitHit())
}
