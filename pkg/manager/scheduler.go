package manager

import (
	"fmt"

	"github.com/core-tools/hsu-unitd/pkg/errors"
	"github.com/core-tools/hsu-unitd/pkg/unit"
)

// AddJob implements jobs.Scheduler: it validates applicability, enforces the
// at-most-one-job-per-unit slot according to the insertion mode, and hands
// out monotonically increasing job identifiers.
func (m *Manager) AddJob(jobType unit.JobType, u *unit.Unit, mode unit.JobMode) (*unit.Job, error) {
	if err := m.checkApplicable(jobType, u, mode); err != nil {
		return nil, err
	}

	// Stop must stay possible for units that lost their configuration while
	// running; everything else needs a properly loaded unit.
	if jobType != unit.JobStop && jobType != unit.JobNop {
		if err := u.CheckLoadState(); err != nil {
			return nil, err
		}
	}

	if jobType == unit.JobStart && !u.StartLimitTest() {
		return nil, errors.NewResourceUnavailableError(
			fmt.Sprintf("start request repeated too quickly for %s", u.ID()), nil).
			WithContext("unit", u.ID())
	}

	if existing := u.Job(); existing != nil {
		if mode == unit.JobModeFail {
			return nil, errors.NewConflictError(
				fmt.Sprintf("transaction would conflict with pending job on unit %s", u.ID()), nil).
				WithContext("unit", u.ID()).WithContext("job_id", existing.ID)
		}
		// Replace family and isolate supersede the pending job.
		u.ClearJob()
	}

	m.nextJob++
	j := &unit.Job{
		ID:   m.nextJob,
		Type: jobType,
		Mode: mode,
		Unit: u,
	}

	m.EnqueueChange(u)
	return j, nil
}

func (m *Manager) checkApplicable(jobType unit.JobType, u *unit.Unit, mode unit.JobMode) error {
	var ok bool
	switch jobType {
	case unit.JobStart, unit.JobReloadOrStart:
		ok = u.CanStart()
	case unit.JobStop:
		ok = u.CanStop()
	case unit.JobReload, unit.JobTryReload:
		ok = u.CanReload()
	case unit.JobRestart, unit.JobTryRestart:
		ok = u.CanStart() && u.CanStop()
	case unit.JobNop:
		ok = true
	}
	if !ok {
		return errors.NewInvalidArgumentError(
			fmt.Sprintf("job type %s is not applicable for unit %s", jobType, u.ID()), nil).
			WithContext("unit", u.ID()).WithContext("type", jobType)
	}

	if mode == unit.JobModeIsolate && !u.CanIsolate() {
		return errors.NewInvalidArgumentError(
			fmt.Sprintf("operation refused, unit %s may not be isolated", u.ID()), nil).
			WithContext("unit", u.ID())
	}

	return nil
}

// WatchJob implements jobs.Scheduler. The watching peer gets the job result
// delivered through the regular change signals; here only the association
// is logged, execution engines record it for their completion reporting.
func (m *Manager) WatchJob(j *unit.Job, peer string) {
	m.logger.Debugf("Job watched, job_id: %d, unit: %s, peer: %s", j.ID, j.Unit.ID(), peer)
}

// FinishJob clears the unit's job slot once the execution engine reports
// completion, and reconsiders the unit for collection.
func (m *Manager) FinishJob(j *unit.Job) {
	u := j.Unit
	if u.Job() == j {
		u.ClearJob()
	}
	m.EnqueueChange(u)
	m.enqueueGC(u)
}
