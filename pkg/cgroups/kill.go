package cgroups

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/core-tools/hsu-unitd/pkg/errors"
	"github.com/core-tools/hsu-unitd/pkg/jobs"
	"github.com/core-tools/hsu-unitd/pkg/logging"
	"github.com/core-tools/hsu-unitd/pkg/unit"
)

// Killer delivers signals to a unit's processes. It implements the
// dispatcher's process-killer contract.
type Killer struct {
	walker *Walker
	logger logging.Logger
}

func NewKiller(walker *Walker, logger logging.Logger) *Killer {
	return &Killer{
		walker: walker,
		logger: logger,
	}
}

// Kill signals the selected processes of the unit. Selecting main or
// control requires that such a process is recorded; selecting all signals
// every listed member and fails only if nothing could be signalled.
func (k *Killer) Kill(u *unit.Unit, who jobs.KillWho, signal unix.Signal) error {
	switch who {
	case jobs.KillMain:
		if u.MainPID <= 0 {
			return errors.NewResourceUnavailableError(
				fmt.Sprintf("unit %s has no main process to kill", u.ID()), nil).
				WithContext("unit", u.ID())
		}
		return k.signal(u, u.MainPID, signal)

	case jobs.KillControl:
		if u.ControlPID <= 0 {
			return errors.NewResourceUnavailableError(
				fmt.Sprintf("unit %s has no control process to kill", u.ID()), nil).
				WithContext("unit", u.ID())
		}
		return k.signal(u, u.ControlPID, signal)

	default:
		procs, err := k.walker.ListProcesses(u)
		if err != nil {
			return err
		}
		if len(procs) == 0 {
			return errors.NewResourceUnavailableError(
				fmt.Sprintf("unit %s has no processes to kill", u.ID()), nil).
				WithContext("unit", u.ID())
		}

		var lastErr error
		delivered := 0
		for _, p := range procs {
			if err := k.signal(u, int(p.PID), signal); err != nil {
				lastErr = err
				continue
			}
			delivered++
		}
		if delivered == 0 {
			return lastErr
		}
		return nil
	}
}

func (k *Killer) signal(u *unit.Unit, pid int, signal unix.Signal) error {
	if err := unix.Kill(pid, signal); err != nil {
		return errors.NewIOError(
			fmt.Sprintf("failed to send signal %d to process %d", signal, pid), err).
			WithContext("unit", u.ID())
	}
	k.logger.Debugf("Signalled process, unit: %s, pid: %d, signal: %d", u.ID(), pid, signal)
	return nil
}
