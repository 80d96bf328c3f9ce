package unit

import "strconv"

// JobType is the kind of lifecycle operation a job performs.
type JobType string

const (
	JobStart         JobType = "start"
	JobStop          JobType = "stop"
	JobReload        JobType = "reload"
	JobRestart       JobType = "restart"
	JobTryRestart    JobType = "try-restart"
	JobReloadOrStart JobType = "reload-or-start"
	JobTryReload     JobType = "try-reload"
	JobNop           JobType = "nop"
)

// JobMode controls how a job is inserted into the scheduler's transaction.
type JobMode string

const (
	JobModeFail                JobMode = "fail"
	JobModeReplace             JobMode = "replace"
	JobModeReplaceIrreversibly JobMode = "replace-irreversibly"
	JobModeIsolate             JobMode = "isolate"
	JobModeFlush               JobMode = "flush"
	JobModeIgnoreDependencies  JobMode = "ignore-dependencies"
	JobModeIgnoreRequirements  JobMode = "ignore-requirements"
)

var jobModes = map[JobMode]struct{}{
	JobModeFail:                {},
	JobModeReplace:             {},
	JobModeReplaceIrreversibly: {},
	JobModeIsolate:             {},
	JobModeFlush:               {},
	JobModeIgnoreDependencies:  {},
	JobModeIgnoreRequirements:  {},
}

// ParseJobMode validates a job-mode string.
func ParseJobMode(s string) (JobMode, bool) {
	m := JobMode(s)
	_, ok := jobModes[m]
	return m, ok
}

// Job is an in-flight lifecycle operation. Jobs are created and owned by the
// external scheduler; units hold at most one weak reference for reply and
// bookkeeping purposes.
type Job struct {
	ID   uint32
	Type JobType
	Mode JobMode
	Unit *Unit
}

// ObjectPath returns the management object path of the job.
func (j *Job) ObjectPath() string {
	if j == nil {
		return "/"
	}
	return jobPathPrefix + strconv.FormatUint(uint64(j.ID), 10)
}

const jobPathPrefix = "/unitd/job/"
