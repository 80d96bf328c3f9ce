package properties

import (
	"fmt"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/core-tools/hsu-unitd/pkg/errors"
	"github.com/core-tools/hsu-unitd/pkg/unit"
)

// setTransientProperty handles the settings fixed at transient-unit creation
// time. They are reachable only while the unit's load state is still stub;
// once the unit finishes loading they become permanently unreachable.
func (e *Engine) setTransientProperty(u *unit.Unit, mode unit.PersistMode, entry *Entry, forReal bool) (bool, error) {
	name := entry.Name
	raw := entry.Value

	switch name {
	case "SourcePath":
		return e.setTransientPath(u, name, raw, forReal, func(p string) { u.SourcePath = p })

	case "StopWhenUnneeded":
		return e.setTransientBool(u, name, raw, forReal, func(b bool) { u.StopWhenUnneeded = b })
	case "RefuseManualStart":
		return e.setTransientBool(u, name, raw, forReal, func(b bool) { u.RefuseManualStart = b })
	case "RefuseManualStop":
		return e.setTransientBool(u, name, raw, forReal, func(b bool) { u.RefuseManualStop = b })
	case "AllowIsolate":
		return e.setTransientBool(u, name, raw, forReal, func(b bool) { u.AllowIsolate = b })
	case "DefaultDependencies":
		return e.setTransientBool(u, name, raw, forReal, func(b bool) { u.DefaultDependencies = b })
	case "IgnoreOnIsolate":
		return e.setTransientBool(u, name, raw, forReal, func(b bool) { u.IgnoreOnIsolate = b })

	case "OnFailureJobMode":
		s, err := decodeString(name, raw)
		if err != nil {
			return false, err
		}
		m, ok := unit.ParseJobMode(s)
		if !ok {
			return false, errors.NewInvalidArgumentError(
				fmt.Sprintf("invalid job mode in %s: %s", name, s), nil).
				WithContext("unit", u.ID()).WithContext("property", name)
		}
		if forReal {
			u.OnFailureJobMode = m
			u.RecordSetting(name, name+"="+s)
		}
		return true, nil

	case "JobTimeoutUSec":
		usec, err := decodeUint64(name, raw)
		if err != nil {
			return false, err
		}
		if forReal {
			u.JobTimeout = usecToDuration(usec)
			if !u.JobRunningTimeoutSet {
				u.JobRunningTimeout = u.JobTimeout
			}
			u.RecordSetting(name, fmt.Sprintf("%s=%d", name, usec))
		}
		return true, nil

	case "JobRunningTimeoutUSec":
		usec, err := decodeUint64(name, raw)
		if err != nil {
			return false, err
		}
		if forReal {
			u.JobRunningTimeout = usecToDuration(usec)
			u.JobRunningTimeoutSet = true
			u.RecordSetting(name, fmt.Sprintf("%s=%d", name, usec))
		}
		return true, nil

	case "JobTimeoutAction":
		return e.setTransientEmergencyAction(u, name, raw, forReal, func(a unit.EmergencyAction) { u.JobTimeoutAction = a })
	case "StartLimitAction":
		return e.setTransientEmergencyAction(u, name, raw, forReal, func(a unit.EmergencyAction) { u.StartLimitAction = a })
	case "FailureAction":
		return e.setTransientEmergencyAction(u, name, raw, forReal, func(a unit.EmergencyAction) { u.FailureAction = a })
	case "SuccessAction":
		return e.setTransientEmergencyAction(u, name, raw, forReal, func(a unit.EmergencyAction) { u.SuccessAction = a })

	case "JobTimeoutRebootArgument":
		return e.setTransientString(u, name, raw, forReal, func(s string) { u.JobTimeoutRebootArg = s })
	case "RebootArgument":
		return e.setTransientString(u, name, raw, forReal, func(s string) { u.RebootArg = s })

	case "StartLimitIntervalUSec":
		usec, err := decodeUint64(name, raw)
		if err != nil {
			return false, err
		}
		if forReal {
			u.SetStartLimit(usecToDuration(usec), u.StartLimitBurst)
			u.RecordSetting(name, fmt.Sprintf("%s=%d", name, usec))
		}
		return true, nil

	case "StartLimitBurst":
		burst, err := decodeUint32(name, raw)
		if err != nil {
			return false, err
		}
		if forReal {
			u.SetStartLimit(u.StartLimitInterval, burst)
			u.RecordSetting(name, fmt.Sprintf("%s=%d", name, burst))
		}
		return true, nil

	case "CollectMode":
		s, err := decodeString(name, raw)
		if err != nil {
			return false, err
		}
		m, ok := unit.ParseCollectMode(s)
		if !ok {
			return false, errors.NewInvalidArgumentError(
				fmt.Sprintf("invalid collect mode in %s: %s", name, s), nil).
				WithContext("unit", u.ID()).WithContext("property", name)
		}
		if forReal {
			u.CollectMode = m
			u.RecordSetting(name, name+"="+s)
		}
		return true, nil

	case "Conditions":
		return e.setTransientConditions(u, name, raw, true, forReal)
	case "Asserts":
		return e.setTransientConditions(u, name, raw, false, forReal)

	case "Documentation":
		return e.setTransientDocumentation(u, name, raw, forReal)

	case "Slice":
		return e.setTransientSlice(u, name, raw, forReal)

	case "RequiresMountsFor":
		return e.setTransientRequiresMountsFor(u, name, raw, forReal)

	case "AddRef":
		// The reference itself is taken only after transient setup
		// completes, so writing this several times in one creation call
		// still counts as a single reference.
		b, err := decodeBool(name, raw)
		if err != nil {
			return false, err
		}
		if forReal {
			u.TransientAddRef = b
		}
		return true, nil
	}

	if d, ok := unit.ParseDependency(name); ok {
		return e.setTransientDependency(u, name, d, raw, forReal)
	}

	return false, nil
}

func usecToDuration(usec uint64) time.Duration {
	return time.Duration(usec) * time.Microsecond
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func (e *Engine) setTransientBool(u *unit.Unit, name string, raw cbor.RawMessage, forReal bool, apply func(bool)) (bool, error) {
	b, err := decodeBool(name, raw)
	if err != nil {
		return false, err
	}
	if forReal {
		apply(b)
		u.RecordSetting(name, name+"="+yesNo(b))
	}
	return true, nil
}

func (e *Engine) setTransientString(u *unit.Unit, name string, raw cbor.RawMessage, forReal bool, apply func(string)) (bool, error) {
	s, err := decodeString(name, raw)
	if err != nil {
		return false, err
	}
	if forReal {
		apply(s)
		u.RecordSetting(name, name+"="+s)
	}
	return true, nil
}

func (e *Engine) setTransientPath(u *unit.Unit, name string, raw cbor.RawMessage, forReal bool, apply func(string)) (bool, error) {
	p, err := decodeString(name, raw)
	if err != nil {
		return false, err
	}
	if !isAbsolutePath(p) {
		return false, errors.NewInvalidArgumentError(
			fmt.Sprintf("path specified in %s is not absolute: %s", name, p), nil).
			WithContext("unit", u.ID()).WithContext("property", name)
	}
	if forReal {
		apply(p)
		u.RecordSetting(name, name+"="+p)
	}
	return true, nil
}

func (e *Engine) setTransientEmergencyAction(u *unit.Unit, name string, raw cbor.RawMessage, forReal bool, apply func(unit.EmergencyAction)) (bool, error) {
	s, err := decodeString(name, raw)
	if err != nil {
		return false, err
	}
	a, ok := unit.ParseEmergencyAction(s)
	if !ok {
		return false, errors.NewInvalidArgumentError(
			fmt.Sprintf("invalid emergency action in %s: %s", name, s), nil).
			WithContext("unit", u.ID()).WithContext("property", name)
	}
	if forReal {
		apply(a)
		u.RecordSetting(name, name+"="+s)
	}
	return true, nil
}

// setTransientConditions bulk-replaces the condition or assert list. The new
// list is exposed in the order supplied; an explicitly empty array clears a
// previously non-empty list.
func (e *Engine) setTransientConditions(u *unit.Unit, name string, raw cbor.RawMessage, isCondition bool, forReal bool) (bool, error) {
	tuples, err := decodeConditionTuples(name, raw)
	if err != nil {
		return false, err
	}

	newList := make([]*unit.Condition, 0, len(tuples))
	for _, tup := range tuples {
		t, ok := unit.ParseConditionType(tup.Type, isCondition)
		if !ok {
			return false, errors.NewInvalidArgumentError(
				"invalid condition type: "+tup.Type, nil).
				WithContext("unit", u.ID()).WithContext("property", name)
		}

		param := tup.Parameter
		if t != unit.ConditionNull {
			if param == "" {
				return false, errors.NewInvalidArgumentError(
					fmt.Sprintf("condition parameter in %s is empty", tup.Type), nil).
					WithContext("unit", u.ID()).WithContext("property", name)
			}
			if t.TakesPath() && !isAbsolutePath(param) {
				return false, errors.NewInvalidArgumentError(
					fmt.Sprintf("path in condition %s is not absolute: %s", tup.Type, param), nil).
					WithContext("unit", u.ID()).WithContext("property", name)
			}
		} else {
			param = ""
		}

		if forReal {
			newList = append(newList, &unit.Condition{
				Type:      t,
				Trigger:   tup.Trigger,
				Negate:    tup.Negate,
				Parameter: param,
			})
			if t != unit.ConditionNull {
				u.RecordSetting(name, fmt.Sprintf("%s=%s%s%s", tup.Type, pipeIf(tup.Trigger), bangIf(tup.Negate), param))
			} else {
				u.RecordSetting(name, fmt.Sprintf("%s=%s%s", tup.Type, pipeIf(tup.Trigger), yesNo(!tup.Negate)))
			}
		}
	}

	if forReal {
		if isCondition {
			u.Conditions = newList
		} else {
			u.Asserts = newList
		}
		if len(tuples) == 0 {
			prefix := "Condition"
			if !isCondition {
				prefix = "Assert"
			}
			u.RecordSetting(name, prefix+"Null=")
		}
	}

	return true, nil
}

func pipeIf(b bool) string {
	if b {
		return "|"
	}
	return ""
}

func bangIf(b bool) string {
	if b {
		return "!"
	}
	return ""
}

func (e *Engine) setTransientDocumentation(u *unit.Unit, name string, raw cbor.RawMessage, forReal bool) (bool, error) {
	l, err := decodeStringList(name, raw)
	if err != nil {
		return false, err
	}

	for _, url := range l {
		if !isDocumentationURL(url) {
			return false, errors.NewInvalidArgumentError(
				fmt.Sprintf("invalid URL in %s: %s", name, url), nil).
				WithContext("unit", u.ID()).WithContext("property", name)
		}
	}

	if forReal {
		if len(l) == 0 {
			u.Documentation = nil
			u.RecordSetting(name, name+"=")
		} else {
			u.Documentation = append(u.Documentation, l...)
			for _, url := range l {
				u.RecordSetting(name+"-"+url, name+"="+url)
			}
		}
	}

	return true, nil
}

func (e *Engine) setTransientSlice(u *unit.Unit, name string, raw cbor.RawMessage, forReal bool) (bool, error) {
	if !u.HasCgroupContext() {
		return false, errors.NewInvalidArgumentError(
			"the slice property is only available for units with control groups", nil).
			WithContext("unit", u.ID())
	}
	if u.Kind == unit.KindSlice {
		return false, errors.NewInvalidArgumentError(
			"slice may not be set for slice units", nil).
			WithContext("unit", u.ID())
	}

	s, err := decodeString(name, raw)
	if err != nil {
		return false, err
	}
	if err := unit.ValidateName(s, unit.NamePlain); err != nil {
		return false, err
	}

	// Lookup without dispatching the load queue, so the transient unit
	// being set up is not loaded halfway through its own creation.
	slice, err := e.resolver.LoadUnitPrepare(s)
	if err != nil {
		return false, err
	}
	if slice.Kind != unit.KindSlice {
		return false, errors.NewInvalidArgumentError(
			fmt.Sprintf("unit name %s is not a slice", s), nil).
			WithContext("unit", u.ID()).WithContext("slice", s)
	}

	if forReal {
		u.Slice = s
		u.RecordSetting(name, name+"="+s)
	}

	return true, nil
}

func (e *Engine) setTransientRequiresMountsFor(u *unit.Unit, name string, raw cbor.RawMessage, forReal bool) (bool, error) {
	l, err := decodeStringList(name, raw)
	if err != nil {
		return false, err
	}

	for _, p := range l {
		if !isAbsolutePath(p) {
			return false, errors.NewInvalidArgumentError(
				fmt.Sprintf("path specified in %s is not absolute: %s", name, p), nil).
				WithContext("unit", u.ID()).WithContext("property", name)
		}
		if forReal {
			u.RequiresMountsFor[p] = struct{}{}
			u.RecordSetting(name+"-"+p, name+"="+p)
		}
	}

	return true, nil
}

// setTransientDependency records dependency edges of the requested kind,
// creating the named units as stubs where necessary. One human-readable
// setting line per edge is recorded for persistence.
func (e *Engine) setTransientDependency(u *unit.Unit, name string, d unit.Dependency, raw cbor.RawMessage, forReal bool) (bool, error) {
	l, err := decodeStringList(name, raw)
	if err != nil {
		return false, err
	}

	for _, other := range l {
		if err := unit.ValidateName(other, unit.NamePlain|unit.NameInstance); err != nil {
			return false, errors.NewInvalidArgumentError("invalid unit name "+other, err).
				WithContext("unit", u.ID()).WithContext("property", name)
		}

		if forReal {
			if _, err := e.resolver.LoadUnitPrepare(other); err != nil {
				return false, err
			}
			u.AddDependency(d, other)
			u.RecordSetting(name+"-"+other, fmt.Sprintf("%s=%s", d, other))
		}
	}

	return true, nil
}

func isAbsolutePath(p string) bool {
	return strings.HasPrefix(p, "/")
}

// isDocumentationURL accepts the URL schemes the documentation list may
// reference.
func isDocumentationURL(url string) bool {
	for _, prefix := range []string{"http://", "https://", "file:", "info:", "man:"} {
		if strings.HasPrefix(url, prefix) && len(url) > len(prefix) {
			return true
		}
	}
	return false
}
