package unit

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/core-tools/hsu-unitd/pkg/bus"
	"github.com/core-tools/hsu-unitd/pkg/errors"
)

// Unit is the managed entity of the control plane: a named, independently
// controllable thing (service, mount, slice, ...) with a lifecycle state.
//
// All mutation of a Unit happens on the control plane's single serialized
// processing context; the struct itself carries no locking.
type Unit struct {
	id    string
	names map[string]struct{}

	Kind        Kind
	LoadState   LoadState
	LoadError   error
	ActiveState ActiveState
	SubState    string

	Transient bool
	Perpetual bool

	Description   string
	Documentation []string
	FragmentPath  string
	SourcePath    string
	DropInPaths   []string

	// Following names the unit whose state this one mirrors, empty for
	// units with their own state.
	Following string

	NeedDaemonReload bool
	UnitFileState    string
	UnitFilePreset   string

	Deps              map[Dependency]map[string]struct{}
	RequiresMountsFor map[string]struct{}

	Conditions         []*Condition
	Asserts            []*Condition
	ConditionResult    bool
	AssertResult       bool
	ConditionTimestamp DualTimestamp
	AssertTimestamp    DualTimestamp

	StateChangeTimestamp   DualTimestamp
	InactiveExitTimestamp  DualTimestamp
	ActiveEnterTimestamp   DualTimestamp
	ActiveExitTimestamp    DualTimestamp
	InactiveEnterTimestamp DualTimestamp

	StopWhenUnneeded    bool
	RefuseManualStart   bool
	RefuseManualStop    bool
	AllowIsolate        bool
	IgnoreOnIsolate     bool
	DefaultDependencies bool
	OnFailureJobMode    JobMode
	CollectMode         CollectMode

	JobTimeout            time.Duration
	JobRunningTimeout     time.Duration
	JobRunningTimeoutSet  bool
	JobTimeoutAction      EmergencyAction
	JobTimeoutRebootArg   string

	StartLimitInterval time.Duration
	StartLimitBurst    uint32
	StartLimitAction   EmergencyAction
	startLimiter       *rate.Limiter
	startLimitHit      bool

	FailureAction EmergencyAction
	SuccessAction EmergencyAction
	RebootArg     string

	InvocationID uuid.UUID

	// Resource binding. CgroupPath has three observably distinct states:
	// nil (no cgroup), empty string (root cgroup) and a path.
	Slice          string
	CgroupPath     *string
	CgroupDelegate bool
	MainPID        int
	ControlPID     int
	RefUID         int // -1 when unknown

	// Subtype payloads, allocated per kind.
	Service *ServiceFields
	Scope   *ScopeFields

	// AddRef intent recorded during transient setup; the actual peer
	// reference is taken only once setup completes.
	TransientAddRef bool

	// Track is the peer-reference watch, allocated lazily on first Ref.
	Track *bus.Track

	job *Job

	sentNewSignal   bool
	inDispatchQueue bool

	pendingSettings []Setting
}

// ServiceFields is the service-kind subtype payload.
type ServiceFields struct {
	PIDFile         string
	RemainAfterExit bool
	NotifyAccess    string
}

// ScopeFields is the scope-kind subtype payload.
type ScopeFields struct {
	Controller string
}

const (
	defaultStartLimitInterval = 10 * time.Second
	defaultStartLimitBurst    = 5
)

// New creates a unit in stub load state. The primary name is immutable once
// set and determines the unit kind.
func New(name string) (*Unit, error) {
	if err := ValidateName(name, NamePlain|NameInstance); err != nil {
		return nil, err
	}
	kind, _ := KindFromName(name)

	u := &Unit{
		id:                  name,
		names:               map[string]struct{}{name: {}},
		Kind:                kind,
		LoadState:           LoadStateStub,
		ActiveState:         ActiveStateInactive,
		SubState:            "dead",
		DefaultDependencies: true,
		OnFailureJobMode:    JobModeReplace,
		CollectMode:         CollectModeInactive,
		Deps:                make(map[Dependency]map[string]struct{}),
		RequiresMountsFor:   make(map[string]struct{}),
		StartLimitInterval:  defaultStartLimitInterval,
		StartLimitBurst:     defaultStartLimitBurst,
		InvocationID:        uuid.New(),
		RefUID:              -1,
	}

	switch kind {
	case KindService:
		u.Service = &ServiceFields{NotifyAccess: "none"}
	case KindScope:
		u.Scope = &ScopeFields{}
	}

	return u, nil
}

// ID returns the primary name of the unit.
func (u *Unit) ID() string {
	return u.id
}

// Names returns all names of the unit, primary name included.
func (u *Unit) Names() []string {
	out := make([]string, 0, len(u.names))
	for n := range u.names {
		out = append(out, n)
	}
	return out
}

// HasName reports whether the unit is known under the given name.
func (u *Unit) HasName(name string) bool {
	_, ok := u.names[name]
	return ok
}

// AddAlias registers an additional name for the unit. Alias names must be of
// the same kind as the primary name.
func (u *Unit) AddAlias(name string) error {
	if err := ValidateName(name, NamePlain|NameInstance); err != nil {
		return err
	}
	if k, _ := KindFromName(name); k != u.Kind {
		return errors.NewInvalidArgumentError("alias kind differs from unit kind", nil).
			WithContext("unit", u.id).WithContext("alias", name)
	}
	u.names[name] = struct{}{}
	return nil
}

// ReleaseIdentity drops the unit's names. After this no further change
// signals are emitted for the unit.
func (u *Unit) ReleaseIdentity() {
	u.id = ""
	u.names = nil
}

// ObjectPath returns the management object path of the unit.
func (u *Unit) ObjectPath() string {
	return ObjectPathFor(u.id)
}

// ObjectPathFor derives the management object path of a unit name without
// requiring the unit itself; used by clients addressing units by name.
func ObjectPathFor(name string) string {
	return "/unitd/unit/" + escapePath(name)
}

func escapePath(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			out = append(out, c)
		} else {
			out = append(out, '_')
			out = append(out, "0123456789abcdef"[c>>4], "0123456789abcdef"[c&0xf])
		}
	}
	return string(out)
}

// DescriptionOrID returns the configured description, falling back to the
// primary name.
func (u *Unit) DescriptionOrID() string {
	if u.Description != "" {
		return u.Description
	}
	return u.id
}

// CanStart reports whether units of this kind can be started at all. The
// refuse-manual-start flag is applied separately by the dispatcher and the
// property surface.
func (u *Unit) CanStart() bool {
	return u.Kind.behavior().CanStart
}

func (u *Unit) CanStop() bool {
	return u.Kind.behavior().CanStop
}

func (u *Unit) CanReload() bool {
	return u.Kind.behavior().CanReload
}

// CanIsolate reports whether the unit may be the target of an isolate job.
func (u *Unit) CanIsolate() bool {
	return u.CanStart() && u.AllowIsolate
}

// HasCgroupContext reports whether units of this kind own a resource group.
func (u *Unit) HasCgroupContext() bool {
	return u.Kind.behavior().HasCgroup
}

// SupportsDelegation reports whether the unit's resource group may be
// managed by the payload itself, a prerequisite for external process
// migration.
func (u *Unit) SupportsDelegation() bool {
	return u.Kind.behavior().SupportsDelegation && u.CgroupDelegate
}

// SupportsTransient reports whether units of this kind may be created via
// the management surface.
func (u *Unit) SupportsTransient() bool {
	return u.Kind.behavior().SupportsTransient
}

// CgroupPathReport maps the tri-state cgroup binding onto the reported
// string: no cgroup -> "", root cgroup -> "/", otherwise the path verbatim.
func (u *Unit) CgroupPathReport() string {
	if u.CgroupPath == nil {
		return ""
	}
	if *u.CgroupPath == "" {
		return "/"
	}
	return *u.CgroupPath
}

// Job returns the unit's outstanding job, if any.
func (u *Unit) Job() *Job {
	return u.job
}

// SetJob installs the outstanding job reference. At most one job per unit is
// outstanding at any time; enforcing that is the scheduler's responsibility,
// this just records what the scheduler returned.
func (u *Unit) SetJob(j *Job) {
	u.job = j
}

// ClearJob drops the outstanding job reference.
func (u *Unit) ClearJob() {
	u.job = nil
}

// Dependency handling. AddDependency records the forward edge only; the
// complementary inverse edge is the dependency graph's business.
func (u *Unit) AddDependency(d Dependency, other string) {
	set := u.Deps[d]
	if set == nil {
		set = make(map[string]struct{})
		u.Deps[d] = set
	}
	set[other] = struct{}{}
}

// DependencyNames returns the targets recorded for a dependency kind.
func (u *Unit) DependencyNames(d Dependency) []string {
	set := u.Deps[d]
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	return out
}

// CheckLoadState gates operations that require a properly loaded unit,
// mapping the failure load states onto their distinct error classes.
func (u *Unit) CheckLoadState() error {
	switch u.LoadState {
	case LoadStateLoaded:
		return nil
	case LoadStateMasked:
		return errors.NewUnitMaskedError(fmt.Sprintf("unit %s is masked", u.id), nil).WithContext("unit", u.id)
	case LoadStateNotFound:
		return errors.NewNoSuchUnitError(fmt.Sprintf("unit %s not found", u.id), nil).WithContext("unit", u.id)
	default:
		return errors.NewNoSuchUnitError(fmt.Sprintf("unit %s is not loaded properly", u.id), u.LoadError).WithContext("unit", u.id)
	}
}

// SetStartLimit reconfigures the start limit; the limiter is rebuilt lazily
// on the next test.
func (u *Unit) SetStartLimit(interval time.Duration, burst uint32) {
	u.StartLimitInterval = interval
	u.StartLimitBurst = burst
	u.startLimiter = nil
}

// StartLimitTest consumes one start attempt and reports whether the
// configured interval/burst budget still allows it. A zero interval or
// burst disables the limit.
func (u *Unit) StartLimitTest() bool {
	if u.StartLimitInterval <= 0 || u.StartLimitBurst == 0 {
		return true
	}
	if u.startLimiter == nil {
		u.startLimiter = rate.NewLimiter(
			rate.Every(u.StartLimitInterval/time.Duration(u.StartLimitBurst)),
			int(u.StartLimitBurst))
	}
	if !u.startLimiter.Allow() {
		u.startLimitHit = true
		return false
	}
	return true
}

// ResetFailed clears failure bookkeeping: the start-limit counter and hit
// marker. The active-state transition out of "failed" is the external state
// machine's job.
func (u *Unit) ResetFailed() {
	u.startLimiter = nil
	u.startLimitHit = false
}

// StartLimitHit reports whether the start limit was ever exceeded since the
// last reset.
func (u *Unit) StartLimitHit() bool {
	return u.startLimitHit
}

// KindInterface returns the subtype interface name used for the
// subtype-specific property-changed signal.
func (u *Unit) KindInterface() string {
	return u.Kind.InterfaceName()
}

// Change-signal bookkeeping, driven by the bus emitter.

func (u *Unit) NewSignalSent() bool {
	return u.sentNewSignal
}

func (u *Unit) MarkNewSignalSent() {
	u.sentNewSignal = true
}

func (u *Unit) InDispatchQueue() bool {
	return u.inDispatchQueue
}

func (u *Unit) SetInDispatchQueue(v bool) {
	u.inDispatchQueue = v
}
