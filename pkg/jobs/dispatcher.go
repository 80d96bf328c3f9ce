package jobs

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/core-tools/hsu-unitd/pkg/errors"
	"github.com/core-tools/hsu-unitd/pkg/logging"
	"github.com/core-tools/hsu-unitd/pkg/policy"
	"github.com/core-tools/hsu-unitd/pkg/unit"
)

// Scheduler is the external job-scheduling engine. It owns job ordering,
// merging and the at-most-one-job-per-unit invariant; the dispatcher only
// requests job creation and reads back identity.
type Scheduler interface {
	AddJob(jobType unit.JobType, u *unit.Unit, mode unit.JobMode) (*unit.Job, error)
	WatchJob(j *unit.Job, peer string)
}

// ProcessKiller delivers signals to a unit's processes. Implemented by the
// resource-controller subsystem.
type ProcessKiller interface {
	Kill(u *unit.Unit, who KillWho, signal unix.Signal) error
}

// KillWho selects which of a unit's processes receive the signal.
type KillWho string

const (
	KillAll     KillWho = "all"
	KillMain    KillWho = "main"
	KillControl KillWho = "control"
)

// ParseKillWho validates a who string; empty defaults to all.
func ParseKillWho(s string) (KillWho, bool) {
	switch KillWho(s) {
	case "":
		return KillAll, true
	case KillAll, KillMain, KillControl:
		return KillWho(s), true
	default:
		return "", false
	}
}

// Linux signal numbers run 1..64 (the realtime range ends at SIGRTMAX).
const maxSignal = 64

// Caller identifies the remote peer on whose behalf an operation runs.
type Caller struct {
	PeerName    string
	UID         int
	PID         int
	Interactive bool

	// AuthToken carries the continuation token when a call is redelivered
	// after a pending authorization.
	AuthToken string
}

// Dispatcher authorizes and submits lifecycle operations against units.
type Dispatcher struct {
	scheduler  Scheduler
	authorizer policy.Authorizer
	killer     ProcessKiller
	logger     logging.Logger
}

func NewDispatcher(scheduler Scheduler, authorizer policy.Authorizer, killer ProcessKiller, logger logging.Logger) *Dispatcher {
	return &Dispatcher{
		scheduler:  scheduler,
		authorizer: authorizer,
		killer:     killer,
		logger:     logger,
	}
}

// authorize runs the policy check for an action. A pending decision comes
// back as a typed Pending error carrying the continuation token; nothing has
// been mutated at that point, so redelivering the same call is safe.
func (d *Dispatcher) authorize(caller Caller, u *unit.Unit, capability, verb string) error {
	decision, token, err := d.authorizer.Authorize(policy.Request{
		Capability:  capability,
		Verb:        verb,
		Unit:        u.ID(),
		PeerName:    caller.PeerName,
		UID:         caller.UID,
		Interactive: caller.Interactive,
		Token:       caller.AuthToken,
	})
	if err != nil {
		return errors.NewInternalError("authorization check failed", err).WithContext("unit", u.ID())
	}

	switch decision {
	case policy.DecisionGranted:
		return nil
	case policy.DecisionPending:
		return errors.NewPendingError("authorization in progress", nil).
			WithContext("unit", u.ID()).WithContext("token", token)
	default:
		return errors.NewAccessDeniedError(
			fmt.Sprintf("access denied for %s on unit %s", verb, u.ID()), nil).
			WithContext("unit", u.ID()).WithContext("verb", verb)
	}
}

// Queue validates, authorizes and submits one lifecycle operation. It
// returns the created job on success.
func (d *Dispatcher) Queue(caller Caller, u *unit.Unit, jobType unit.JobType, modeStr string, reloadIfPossible bool) (*unit.Job, error) {
	mode, ok := unit.ParseJobMode(modeStr)
	if !ok {
		return nil, errors.NewInvalidArgumentError(
			fmt.Sprintf("job mode %s invalid", modeStr), nil).
			WithContext("unit", u.ID()).WithContext("mode", modeStr)
	}

	verb := string(jobType)
	if reloadIfPossible {
		verb = "reload-or-" + verb
	}

	if err := d.authorize(caller, u, policy.CapManageUnits, verb); err != nil {
		return nil, err
	}

	return d.queueJob(caller, u, jobType, mode, reloadIfPossible)
}

func (d *Dispatcher) queueJob(caller Caller, u *unit.Unit, jobType unit.JobType, mode unit.JobMode, reloadIfPossible bool) (*unit.Job, error) {
	if reloadIfPossible && u.CanReload() {
		switch jobType {
		case unit.JobRestart:
			jobType = unit.JobReloadOrStart
		case unit.JobTryRestart:
			jobType = unit.JobTryReload
		}
	}

	// A no-op stop on a unit that does not exist is an error, not a success.
	if jobType == unit.JobStop &&
		(u.LoadState == unit.LoadStateNotFound || u.LoadState == unit.LoadStateError) &&
		u.ActiveState == unit.ActiveStateInactive {
		return nil, errors.NewNoSuchUnitError(
			fmt.Sprintf("unit %s not loaded", u.ID()), nil).WithContext("unit", u.ID())
	}

	if (jobType == unit.JobStart && u.RefuseManualStart) ||
		(jobType == unit.JobStop && u.RefuseManualStop) ||
		((jobType == unit.JobRestart || jobType == unit.JobTryRestart) && (u.RefuseManualStart || u.RefuseManualStop)) ||
		(jobType == unit.JobReloadOrStart && collapseJobType(jobType, u) == unit.JobStart && u.RefuseManualStart) {
		return nil, errors.NewOnlyByDependencyError(
			fmt.Sprintf("operation refused, unit %s may be requested by dependency only (it is configured to refuse manual start/stop)", u.ID()), nil).
			WithContext("unit", u.ID())
	}

	j, err := d.scheduler.AddJob(jobType, u, mode)
	if err != nil {
		return nil, err
	}

	u.SetJob(j)
	d.scheduler.WatchJob(j, caller.PeerName)

	d.logger.Infof("Queued job, unit: %s, type: %s, mode: %s, job_id: %d", u.ID(), jobType, mode, j.ID)
	return j, nil
}

// collapseJobType resolves the ambiguous reload-or-start type against the
// unit's current activity.
func collapseJobType(t unit.JobType, u *unit.Unit) unit.JobType {
	if t != unit.JobReloadOrStart {
		return t
	}
	switch u.ActiveState {
	case unit.ActiveStateActive, unit.ActiveStateReloading:
		return unit.JobReload
	default:
		return unit.JobStart
	}
}

// Kill delivers a signal to the unit's processes after validating the target
// selector and the signal number.
func (d *Dispatcher) Kill(caller Caller, u *unit.Unit, whoStr string, signal int32) error {
	who, ok := ParseKillWho(whoStr)
	if !ok {
		return errors.NewInvalidArgumentError(
			fmt.Sprintf("invalid who argument %s", whoStr), nil).
			WithContext("unit", u.ID()).WithContext("who", whoStr)
	}

	if signal <= 0 || signal > maxSignal {
		return errors.NewInvalidArgumentError("signal number out of range", nil).
			WithContext("unit", u.ID()).WithContext("signal", signal)
	}

	if err := d.authorize(caller, u, policy.CapKill, "kill"); err != nil {
		return err
	}

	return d.killer.Kill(u, who, unix.Signal(signal))
}

// ResetFailed clears the unit's failure bookkeeping. Always succeeds once
// authorized.
func (d *Dispatcher) ResetFailed(caller Caller, u *unit.Unit) error {
	if err := d.authorize(caller, u, policy.CapManageUnits, "reset-failed"); err != nil {
		return err
	}

	u.ResetFailed()
	d.logger.Debugf("Reset failed state, unit: %s", u.ID())
	return nil
}

// AuthorizeSetProperties runs the policy gate for SetProperties calls on
// behalf of the transport layer.
func (d *Dispatcher) AuthorizeSetProperties(caller Caller, u *unit.Unit) error {
	return d.authorize(caller, u, policy.CapManageUnits, "set-property")
}

// AuthorizeRef runs the policy gate for Ref calls.
func (d *Dispatcher) AuthorizeRef(caller Caller, u *unit.Unit) error {
	return d.authorize(caller, u, policy.CapManageUnits, "ref")
}
