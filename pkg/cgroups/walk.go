package cgroups

import (
	"os"

	goerrors "errors"

	"github.com/core-tools/hsu-unitd/pkg/logging"
	"github.com/core-tools/hsu-unitd/pkg/unit"
)

// Walker reports and migrates the processes of a unit's resource-group
// subtree.
type Walker struct {
	ctrl   ResourceController
	logger logging.Logger
}

func NewWalker(ctrl ResourceController, logger logging.Logger) *Walker {
	return &Walker{
		ctrl:   ctrl,
		logger: logger,
	}
}

// ListProcesses walks the unit's subtree depth-first and returns its member
// processes. Processes of a group come before its subgroups' processes;
// subgroups are visited in controller order. One de-duplication set spans
// the whole listing, so a PID reachable both through the tree and as the
// unit's recorded main or control PID appears once. Kernel threads are
// skipped. A subtree that vanishes mid-walk counts as empty.
func (w *Walker) ListProcesses(u *unit.Unit) ([]Process, error) {
	var out []Process
	seen := make(map[int32]struct{})

	if u.CgroupPath != nil {
		var err error
		out, err = w.walkTree(*u.CgroupPath, seen, out)
		if err != nil {
			return nil, err
		}
	}

	// Recorded PIDs live outside any walked group as far as the caller
	// knows, so they carry the unknown-group marker.
	for _, pid := range []int{u.MainPID, u.ControlPID} {
		if pid <= 0 {
			continue
		}
		if _, dup := seen[int32(pid)]; dup {
			continue
		}
		seen[int32(pid)] = struct{}{}
		out = append(out, Process{
			Group:   UnknownGroup,
			PID:     int32(pid),
			Command: w.commandOf(int32(pid)),
		})
	}

	return out, nil
}

// walkTree runs the depth-first walk as an explicit worklist, so arbitrarily
// deep group trees cannot exhaust the stack.
func (w *Walker) walkTree(root string, seen map[int32]struct{}, out []Process) ([]Process, error) {
	worklist := []string{root}

	for len(worklist) > 0 {
		group := worklist[0]
		worklist = worklist[1:]

		pids, err := w.ctrl.Processes(group)
		if err != nil {
			if isMissingSubtree(err) {
				continue
			}
			return nil, err
		}

		for _, pid := range pids {
			if _, dup := seen[pid]; dup {
				continue
			}
			seen[pid] = struct{}{}

			if kthread, err := w.ctrl.IsKernelThread(pid); err == nil && kthread {
				continue
			}

			out = append(out, Process{
				Group:   group,
				PID:     pid,
				Command: w.commandOf(pid),
			})
		}

		subgroups, err := w.ctrl.Subgroups(group)
		if err != nil {
			if isMissingSubtree(err) {
				continue
			}
			return nil, err
		}

		// Children go ahead of the remaining worklist to keep the walk
		// depth-first.
		worklist = append(append([]string{}, subgroups...), worklist...)
	}

	return out, nil
}

func (w *Walker) commandOf(pid int32) string {
	cmd, err := w.ctrl.Command(pid)
	if err != nil {
		w.logger.Debugf("Failed to read command line, pid: %d, error: %v", pid, err)
		return ""
	}
	return cmd
}

func isMissingSubtree(err error) bool {
	return goerrors.Is(err, os.ErrNotExist)
}
