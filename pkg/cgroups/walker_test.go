package cgroups

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-unitd/pkg/errors"
	"github.com/core-tools/hsu-unitd/pkg/unit"
)

type TestLogger struct{}

func (l *TestLogger) LogLevelf(level int, format string, args ...interface{}) {}
func (l *TestLogger) Debugf(format string, args ...interface{})               {}
func (l *TestLogger) Infof(format string, args ...interface{})                {}
func (l *TestLogger) Warnf(format string, args ...interface{})                {}
func (l *TestLogger) Errorf(format string, args ...interface{})               {}

type fakeController struct {
	procs    map[string][]int32
	children map[string][]string
	missing  map[string]struct{}
	kernel   map[int32]struct{}
	owners   map[int32]int
	commands map[int32]string

	attachedGroup string
	attachedPIDs  []int32
	attachErr     error
}

func newFakeController() *fakeController {
	return &fakeController{
		procs:    make(map[string][]int32),
		children: make(map[string][]string),
		missing:  make(map[string]struct{}),
		kernel:   make(map[int32]struct{}),
		owners:   make(map[int32]int),
		commands: make(map[int32]string),
	}
}

func (c *fakeController) Processes(group string) ([]int32, error) {
	if _, gone := c.missing[group]; gone {
		return nil, os.ErrNotExist
	}
	return c.procs[group], nil
}

func (c *fakeController) Subgroups(group string) ([]string, error) {
	if _, gone := c.missing[group]; gone {
		return nil, os.ErrNotExist
	}
	return c.children[group], nil
}

func (c *fakeController) Command(pid int32) (string, error) {
	if cmd, ok := c.commands[pid]; ok {
		return cmd, nil
	}
	return "", os.ErrNotExist
}

func (c *fakeController) OwnerUID(pid int32) (int, error) {
	if uid, ok := c.owners[pid]; ok {
		return uid, nil
	}
	return 0, errors.NewIOError("no such process", os.ErrNotExist)
}

func (c *fakeController) IsKernelThread(pid int32) (bool, error) {
	_, ok := c.kernel[pid]
	return ok, nil
}

func (c *fakeController) Attach(group string, pids []int32) error {
	if c.attachErr != nil {
		return c.attachErr
	}
	c.attachedGroup = group
	c.attachedPIDs = append([]int32(nil), pids...)
	return nil
}

func (c *fakeController) MemoryCurrent(group string) (uint64, error) {
	return 4096, nil
}

func (c *fakeController) TaskCount(group string) (uint64, error) {
	return 3, nil
}

func (c *fakeController) CPUUsageNSec(group string) (uint64, error) {
	return 0, errors.NewIOError("cpu.stat unreadable", nil)
}

func (c *fakeController) IPAccounting(group string) (IPAccounting, error) {
	return IPAccounting{}, errors.NewResourceUnavailableError("no accounting", nil)
}

func newGroupedUnit(t *testing.T, name, group string) *unit.Unit {
	u, err := unit.New(name)
	require.NoError(t, err)
	u.CgroupPath = &group
	return u
}

func pids(procs []Process) []int32 {
	out := make([]int32, 0, len(procs))
	for _, p := range procs {
		out = append(out, p.PID)
	}
	return out
}

func TestListProcessesDepthFirst(t *testing.T) {
	ctrl := newFakeController()
	ctrl.procs["/payload"] = []int32{10, 11}
	ctrl.children["/payload"] = []string{"/payload/a", "/payload/b"}
	ctrl.procs["/payload/a"] = []int32{20}
	ctrl.children["/payload/a"] = []string{"/payload/a/x"}
	ctrl.procs["/payload/a/x"] = []int32{30}
	ctrl.procs["/payload/b"] = []int32{40}
	ctrl.commands[10] = "web --serve"

	w := NewWalker(ctrl, &TestLogger{})
	u := newGroupedUnit(t, "web.service", "/payload")

	procs, err := w.ListProcesses(u)
	require.NoError(t, err)

	// A group's own processes come before any subgroup's, and a subgroup's
	// subtree is exhausted before its sibling starts.
	assert.Equal(t, []int32{10, 11, 20, 30, 40}, pids(procs))
	assert.Equal(t, "/payload", procs[0].Group)
	assert.Equal(t, "web --serve", procs[0].Command)
	assert.Equal(t, "/payload/a/x", procs[3].Group)
}

func TestListProcessesSkipsKernelThreads(t *testing.T) {
	ctrl := newFakeController()
	ctrl.procs["/payload"] = []int32{10, 2, 11}
	ctrl.kernel[2] = struct{}{}

	w := NewWalker(ctrl, &TestLogger{})
	u := newGroupedUnit(t, "web.service", "/payload")

	procs, err := w.ListProcesses(u)
	require.NoError(t, err)
	assert.Equal(t, []int32{10, 11}, pids(procs))
}

func TestListProcessesDeduplicatesRecordedPIDs(t *testing.T) {
	ctrl := newFakeController()
	ctrl.procs["/payload"] = []int32{10, 11}

	w := NewWalker(ctrl, &TestLogger{})
	u := newGroupedUnit(t, "web.service", "/payload")
	u.MainPID = 10 // already reported from the tree
	u.ControlPID = 99

	procs, err := w.ListProcesses(u)
	require.NoError(t, err)
	require.Equal(t, []int32{10, 11, 99}, pids(procs))

	// The control PID was not observed in any group.
	assert.Equal(t, UnknownGroup, procs[2].Group)
	assert.Equal(t, "/payload", procs[0].Group)
}

func TestListProcessesWithoutGroup(t *testing.T) {
	ctrl := newFakeController()
	w := NewWalker(ctrl, &TestLogger{})

	u, err := unit.New("web.service")
	require.NoError(t, err)
	u.MainPID = 7

	procs, walkErr := w.ListProcesses(u)
	require.NoError(t, walkErr)
	require.Len(t, procs, 1)
	assert.Equal(t, int32(7), procs[0].PID)
	assert.Equal(t, UnknownGroup, procs[0].Group)
}

func TestListProcessesVanishedSubtree(t *testing.T) {
	ctrl := newFakeController()
	ctrl.procs["/payload"] = []int32{10}
	ctrl.children["/payload"] = []string{"/payload/gone"}
	ctrl.missing["/payload/gone"] = struct{}{}

	w := NewWalker(ctrl, &TestLogger{})
	u := newGroupedUnit(t, "web.service", "/payload")

	procs, err := w.ListProcesses(u)
	require.NoError(t, err)
	assert.Equal(t, []int32{10}, pids(procs))
}

func delegatedScope(t *testing.T, group string) *unit.Unit {
	u, err := unit.New("payload.scope")
	require.NoError(t, err)
	u.CgroupPath = &group
	u.CgroupDelegate = true
	u.ActiveState = unit.ActiveStateActive
	return u
}

func TestAttachProcesses(t *testing.T) {
	ctrl := newFakeController()
	ctrl.owners[100] = 1000
	ctrl.owners[101] = 1000

	w := NewWalker(ctrl, &TestLogger{})
	u := delegatedScope(t, "/payload")
	u.RefUID = 1000

	err := w.AttachProcesses(u, "", []int32{100, 101, 100}, 1000, 555)
	require.NoError(t, err)
	assert.Equal(t, "/payload", ctrl.attachedGroup)
	assert.Equal(t, []int32{100, 101}, ctrl.attachedPIDs, "duplicates collapse to one migration")
}

func TestAttachProcessesSubpath(t *testing.T) {
	ctrl := newFakeController()
	w := NewWalker(ctrl, &TestLogger{})
	u := delegatedScope(t, "/payload")

	err := w.AttachProcesses(u, "/workers", []int32{100}, 0, 555)
	require.NoError(t, err)
	assert.Equal(t, "/payload/workers", ctrl.attachedGroup)

	for _, bad := range []string{"workers", "/workers/../other", "/workers/"} {
		err := w.AttachProcesses(u, bad, []int32{100}, 0, 555)
		require.Error(t, err, "subpath %q", bad)
		assert.True(t, errors.IsInvalidArgumentError(err))
	}
}

func TestAttachProcessesCallerPID(t *testing.T) {
	ctrl := newFakeController()
	w := NewWalker(ctrl, &TestLogger{})
	u := delegatedScope(t, "/payload")

	err := w.AttachProcesses(u, "", []int32{0}, 0, 555)
	require.NoError(t, err)
	assert.Equal(t, []int32{555}, ctrl.attachedPIDs)

	err = w.AttachProcesses(u, "", []int32{-1}, 0, 555)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidArgumentError(err))
}

func TestAttachProcessesOwnership(t *testing.T) {
	ctrl := newFakeController()
	ctrl.owners[100] = 1000
	ctrl.owners[200] = 1001

	w := NewWalker(ctrl, &TestLogger{})

	tests := []struct {
		name      string
		callerUID int
		refUID    int
		pid       int32
		wantErr   bool
	}{
		{"root moves anything", 0, -1, 200, false},
		{"uid matches owner and ref", 1000, 1000, 100, false},
		{"foreign process", 1000, 1000, 200, true},
		{"ref uid mismatch", 1000, 1001, 100, true},
		{"ref uid unknown", 1000, -1, 100, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := delegatedScope(t, "/payload")
			u.RefUID = tt.refUID

			err := w.AttachProcesses(u, "", []int32{tt.pid}, tt.callerUID, 555)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsAccessDeniedError(err))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestAttachProcessesGates(t *testing.T) {
	ctrl := newFakeController()
	w := NewWalker(ctrl, &TestLogger{})

	// Not delegated.
	group := "/payload"
	u, err := unit.New("payload.scope")
	require.NoError(t, err)
	u.CgroupPath = &group
	u.ActiveState = unit.ActiveStateActive
	err = w.AttachProcesses(u, "", []int32{100}, 0, 555)
	require.Error(t, err)
	assert.True(t, errors.IsResourceUnavailableError(err))

	// Inactive.
	u = delegatedScope(t, "/payload")
	u.ActiveState = unit.ActiveStateInactive
	err = w.AttachProcesses(u, "", []int32{100}, 0, 555)
	require.Error(t, err)
	assert.True(t, errors.IsResourceUnavailableError(err))

	// No resource group bound.
	u = delegatedScope(t, "/payload")
	u.CgroupPath = nil
	err = w.AttachProcesses(u, "", []int32{100}, 0, 555)
	require.Error(t, err)
	assert.True(t, errors.IsResourceUnavailableError(err))
}

func TestResourceMetrics(t *testing.T) {
	ctrl := newFakeController()
	w := NewWalker(ctrl, &TestLogger{})

	u := newGroupedUnit(t, "web.service", "/payload")
	m := w.ResourceMetrics(u)
	assert.Equal(t, uint64(4096), m.MemoryCurrent)
	assert.Equal(t, uint64(3), m.TaskCount)
	assert.Equal(t, uint64(MetricUnset), m.CPUUsageNSec)
	assert.Equal(t, uint64(MetricUnset), m.IPIngressBytes)

	u.CgroupPath = nil
	m = w.ResourceMetrics(u)
	assert.Equal(t, uint64(MetricUnset), m.MemoryCurrent)
	assert.Equal(t, uint64(MetricUnset), m.TaskCount)
}
