package unit

// LoadState describes how far unit configuration has been loaded.
type LoadState string

const (
	LoadStateStub       LoadState = "stub"
	LoadStateLoaded     LoadState = "loaded"
	LoadStateNotFound   LoadState = "not-found"
	LoadStateMasked     LoadState = "masked"
	LoadStateError      LoadState = "error"
	LoadStateMerged     LoadState = "merged"
	LoadStateBadSetting LoadState = "bad-setting"
)

// ActiveState is the high-level activity state computed by the external
// unit state machine. This package only stores and reports it.
type ActiveState string

const (
	ActiveStateActive       ActiveState = "active"
	ActiveStateReloading    ActiveState = "reloading"
	ActiveStateInactive     ActiveState = "inactive"
	ActiveStateFailed       ActiveState = "failed"
	ActiveStateActivating   ActiveState = "activating"
	ActiveStateDeactivating ActiveState = "deactivating"
)

// IsInactiveOrFailed reports whether the state counts as "down" for
// operations that require a live unit (e.g. process migration).
func (s ActiveState) IsInactiveOrFailed() bool {
	return s == ActiveStateInactive || s == ActiveStateFailed
}

// CollectMode controls when a unit becomes eligible for garbage collection.
type CollectMode string

const (
	CollectModeInactive         CollectMode = "inactive"
	CollectModeInactiveOrFailed CollectMode = "inactive-or-failed"
)

var collectModes = map[CollectMode]struct{}{
	CollectModeInactive:         {},
	CollectModeInactiveOrFailed: {},
}

// ParseCollectMode validates a collect-mode string.
func ParseCollectMode(s string) (CollectMode, bool) {
	m := CollectMode(s)
	_, ok := collectModes[m]
	return m, ok
}

// EmergencyAction is the action taken on failure, success, start-limit hit
// or job timeout.
type EmergencyAction string

const (
	EmergencyActionNone            EmergencyAction = "none"
	EmergencyActionReboot          EmergencyAction = "reboot"
	EmergencyActionRebootForce     EmergencyAction = "reboot-force"
	EmergencyActionRebootImmediate EmergencyAction = "reboot-immediate"
	EmergencyActionPoweroff        EmergencyAction = "poweroff"
	EmergencyActionPoweroffForce   EmergencyAction = "poweroff-force"
	EmergencyActionExit            EmergencyAction = "exit"
	EmergencyActionExitForce       EmergencyAction = "exit-force"
)

var emergencyActions = map[EmergencyAction]struct{}{
	EmergencyActionNone:            {},
	EmergencyActionReboot:          {},
	EmergencyActionRebootForce:     {},
	EmergencyActionRebootImmediate: {},
	EmergencyActionPoweroff:        {},
	EmergencyActionPoweroffForce:   {},
	EmergencyActionExit:            {},
	EmergencyActionExitForce:       {},
}

// ParseEmergencyAction validates an emergency-action string.
func ParseEmergencyAction(s string) (EmergencyAction, bool) {
	a := EmergencyAction(s)
	_, ok := emergencyActions[a]
	return a, ok
}

var notifyAccessModes = map[string]struct{}{
	"none": {},
	"main": {},
	"exec": {},
	"all":  {},
}

// ParseNotifyAccess validates a service notify-access string.
func ParseNotifyAccess(s string) (string, bool) {
	_, ok := notifyAccessModes[s]
	return s, ok
}
