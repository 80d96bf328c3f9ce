package unit

// ConditionType names a boot/runtime precondition kind.
type ConditionType string

const (
	ConditionPathExists        ConditionType = "ConditionPathExists"
	ConditionPathIsDirectory   ConditionType = "ConditionPathIsDirectory"
	ConditionPathIsMountPoint  ConditionType = "ConditionPathIsMountPoint"
	ConditionPathIsReadWrite   ConditionType = "ConditionPathIsReadWrite"
	ConditionDirectoryNotEmpty ConditionType = "ConditionDirectoryNotEmpty"
	ConditionFileNotEmpty      ConditionType = "ConditionFileNotEmpty"
	ConditionFileIsExecutable  ConditionType = "ConditionFileIsExecutable"
	ConditionVirtualization    ConditionType = "ConditionVirtualization"
	ConditionHost              ConditionType = "ConditionHost"
	ConditionArchitecture      ConditionType = "ConditionArchitecture"
	ConditionKernelCommandLine ConditionType = "ConditionKernelCommandLine"
	ConditionEnvironment       ConditionType = "ConditionEnvironment"
	ConditionUser              ConditionType = "ConditionUser"
	ConditionGroup             ConditionType = "ConditionGroup"
	ConditionNull              ConditionType = "ConditionNull"
)

var conditionTypes = map[ConditionType]struct{}{
	ConditionPathExists:        {},
	ConditionPathIsDirectory:   {},
	ConditionPathIsMountPoint:  {},
	ConditionPathIsReadWrite:   {},
	ConditionDirectoryNotEmpty: {},
	ConditionFileNotEmpty:      {},
	ConditionFileIsExecutable:  {},
	ConditionVirtualization:    {},
	ConditionHost:              {},
	ConditionArchitecture:      {},
	ConditionKernelCommandLine: {},
	ConditionEnvironment:       {},
	ConditionUser:              {},
	ConditionGroup:             {},
	ConditionNull:              {},
}

var conditionPathTypes = map[ConditionType]struct{}{
	ConditionPathExists:        {},
	ConditionPathIsDirectory:   {},
	ConditionPathIsMountPoint:  {},
	ConditionPathIsReadWrite:   {},
	ConditionDirectoryNotEmpty: {},
	ConditionFileNotEmpty:      {},
	ConditionFileIsExecutable:  {},
}

// ParseConditionType validates a condition type name. Assert types use the
// same name set with the "Condition" prefix replaced by "Assert".
func ParseConditionType(name string, isCondition bool) (ConditionType, bool) {
	if !isCondition {
		if len(name) < len("Assert") || name[:len("Assert")] != "Assert" {
			return "", false
		}
		name = "Condition" + name[len("Assert"):]
	}
	t := ConditionType(name)
	_, ok := conditionTypes[t]
	return t, ok
}

// TakesPath reports whether the condition parameter is a filesystem path
// (and therefore must be absolute).
func (t ConditionType) TakesPath() bool {
	_, ok := conditionPathTypes[t]
	return ok
}

// ConditionResult is the tri-state outcome of evaluating one condition.
type ConditionResult int

const (
	ConditionUntested  ConditionResult = 0
	ConditionSucceeded ConditionResult = 1
	ConditionFailed    ConditionResult = -1
)

// Condition is one entry of a unit's condition or assert list. Lists are
// replaced as a whole, never mutated by index.
type Condition struct {
	Type      ConditionType
	Trigger   bool
	Negate    bool
	Parameter string
	Result    ConditionResult
}
