package cgroups

import (
	"fmt"
	"path"

	"github.com/core-tools/hsu-unitd/pkg/errors"
	"github.com/core-tools/hsu-unitd/pkg/unit"
)

// AttachProcesses migrates foreign processes into the unit's resource group,
// optionally under a subpath of it. Validation is all-or-nothing: no process
// moves unless every requested PID passes, and the migration itself is one
// controller call. PID 0 stands for the calling peer's own process; a caller
// that is not root may only move processes it owns, and only into units
// whose reference UID matches its own.
func (w *Walker) AttachProcesses(u *unit.Unit, subpath string, pids []int32, callerUID int, callerPID int32) error {
	if !u.SupportsDelegation() {
		return errors.NewResourceUnavailableError(
			"process migration is only available for delegated resource groups", nil).
			WithContext("unit", u.ID())
	}
	if u.ActiveState.IsInactiveOrFailed() {
		return errors.NewResourceUnavailableError(
			"unit is not active, refusing process migration", nil).
			WithContext("unit", u.ID())
	}
	if u.CgroupPath == nil {
		return errors.NewResourceUnavailableError(
			"unit has no resource group", nil).
			WithContext("unit", u.ID())
	}

	if subpath != "" {
		if !path.IsAbs(subpath) || path.Clean(subpath) != subpath {
			return errors.NewInvalidArgumentError(
				"subgroup path is not absolute and normalized: "+subpath, nil).
				WithContext("unit", u.ID())
		}
	}
	group := path.Join(*u.CgroupPath, subpath)

	accepted := make([]int32, 0, len(pids))
	seen := make(map[int32]struct{}, len(pids))
	for _, pid := range pids {
		if pid == 0 {
			pid = callerPID
		}
		if pid <= 0 {
			return errors.NewInvalidArgumentError(
				fmt.Sprintf("invalid process identifier %d", pid), nil).
				WithContext("unit", u.ID())
		}
		if _, dup := seen[pid]; dup {
			continue
		}
		seen[pid] = struct{}{}

		if callerUID != 0 {
			owner, err := w.ctrl.OwnerUID(pid)
			if err != nil {
				return err
			}
			if owner != callerUID || owner != u.RefUID {
				return errors.NewAccessDeniedError(
					fmt.Sprintf("process %d is not owned by client's UID, refusing", pid), nil).
					WithContext("unit", u.ID())
			}
		}

		accepted = append(accepted, pid)
	}

	if len(accepted) == 0 {
		return nil
	}

	w.logger.Infof("Attaching processes, unit: %s, group: %s, count: %d", u.ID(), group, len(accepted))
	return w.ctrl.Attach(group, accepted)
}
