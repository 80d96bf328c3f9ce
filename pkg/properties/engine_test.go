package properties

import (
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-unitd/pkg/errors"
	"github.com/core-tools/hsu-unitd/pkg/unit"
)

type TestLogger struct{}

func (l *TestLogger) LogLevelf(level int, format string, args ...interface{}) {}
func (l *TestLogger) Debugf(format string, args ...interface{})               {}
func (l *TestLogger) Infof(format string, args ...interface{})                {}
func (l *TestLogger) Warnf(format string, args ...interface{})                {}
func (l *TestLogger) Errorf(format string, args ...interface{})               {}

// stubResolver creates units on demand, the way the manager's
// LoadUnitPrepare does.
type stubResolver struct {
	units map[string]*unit.Unit
}

func newStubResolver() *stubResolver {
	return &stubResolver{units: make(map[string]*unit.Unit)}
}

func (r *stubResolver) LoadUnitPrepare(name string) (*unit.Unit, error) {
	if u, ok := r.units[name]; ok {
		return u, nil
	}
	u, err := unit.New(name)
	if err != nil {
		return nil, err
	}
	u.Transient = true
	r.units[name] = u
	return u, nil
}

func newTestEngine() (*Engine, *stubResolver) {
	resolver := newStubResolver()
	return NewEngine(resolver, &TestLogger{}), resolver
}

func newTransientUnit(t *testing.T, name string) *unit.Unit {
	u, err := unit.New(name)
	require.NoError(t, err)
	u.Transient = true
	return u
}

func entry(t *testing.T, name string, value interface{}) Entry {
	e, err := NewEntry(name, value)
	require.NoError(t, err)
	return e
}

func conditionValue(tuples ...[]interface{}) []interface{} {
	out := make([]interface{}, 0, len(tuples))
	for _, tup := range tuples {
		out = append(out, tup)
	}
	return out
}

func TestSetPropertiesLive(t *testing.T) {
	e, _ := newTestEngine()
	u := newTransientUnit(t, "web.service")
	u.LoadState = unit.LoadStateLoaded

	n, err := e.SetProperties(u, unit.PersistRuntime, []Entry{
		entry(t, "Description", "demo unit"),
	}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "demo unit", u.Description)
}

func TestSetPropertiesUnknownName(t *testing.T) {
	e, _ := newTestEngine()
	u := newTransientUnit(t, "web.service")

	_, err := e.SetProperties(u, unit.PersistRuntime, []Entry{
		entry(t, "Frobnication", true),
	}, true)
	require.Error(t, err)
	assert.True(t, errors.IsPropertyReadOnlyError(err))
}

// A batch with one invalid entry anywhere must leave the unit untouched.
func TestSetPropertiesValidateBeforeCommit(t *testing.T) {
	e, _ := newTestEngine()
	u := newTransientUnit(t, "web.service")

	before := *u

	_, err := e.SetProperties(u, unit.PersistRuntime, []Entry{
		entry(t, "Description", "changed"),
		entry(t, "StopWhenUnneeded", true),
		entry(t, "OnFailureJobMode", "sideways"), // invalid
	}, true)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidArgumentError(err))

	assert.Equal(t, before.Description, u.Description)
	assert.Equal(t, before.StopWhenUnneeded, u.StopWhenUnneeded)
	assert.Equal(t, before.OnFailureJobMode, u.OnFailureJobMode)
	assert.Empty(t, u.PendingSettings())
}

func TestSetPropertiesValidateOnly(t *testing.T) {
	e, _ := newTestEngine()
	u := newTransientUnit(t, "web.service")

	n, err := e.SetProperties(u, unit.PersistRuntime, []Entry{
		entry(t, "Description", "checked, not applied"),
	}, false)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, u.Description)
}

// Transient-creation properties are reachable only while the unit is still a
// transient stub.
func TestTransientPropertiesUnreachableOnceLoaded(t *testing.T) {
	e, _ := newTestEngine()
	u := newTransientUnit(t, "web.service")

	n, err := e.SetProperties(u, unit.PersistRuntime, []Entry{
		entry(t, "StopWhenUnneeded", true),
	}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, u.StopWhenUnneeded)

	u.LoadState = unit.LoadStateLoaded
	_, err = e.SetProperties(u, unit.PersistRuntime, []Entry{
		entry(t, "StopWhenUnneeded", false),
	}, true)
	require.Error(t, err)
	assert.True(t, errors.IsPropertyReadOnlyError(err))
	assert.True(t, u.StopWhenUnneeded)
}

func TestTransientBoolsAndStrings(t *testing.T) {
	e, _ := newTestEngine()
	u := newTransientUnit(t, "web.service")

	n, err := e.SetProperties(u, unit.PersistRuntime, []Entry{
		entry(t, "RefuseManualStart", true),
		entry(t, "AllowIsolate", true),
		entry(t, "DefaultDependencies", false),
		entry(t, "OnFailureJobMode", "fail"),
		entry(t, "CollectMode", "inactive-or-failed"),
		entry(t, "RebootArgument", "maintenance"),
	}, true)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.True(t, u.RefuseManualStart)
	assert.True(t, u.AllowIsolate)
	assert.False(t, u.DefaultDependencies)
	assert.Equal(t, unit.JobModeFail, u.OnFailureJobMode)
	assert.Equal(t, unit.CollectModeInactiveOrFailed, u.CollectMode)
	assert.Equal(t, "maintenance", u.RebootArg)
	assert.NotEmpty(t, u.PendingSettings())
}

// JobTimeoutUSec drags the running timeout along until that is set
// explicitly.
func TestJobTimeoutCoupling(t *testing.T) {
	e, _ := newTestEngine()
	u := newTransientUnit(t, "web.service")

	_, err := e.SetProperties(u, unit.PersistRuntime, []Entry{
		entry(t, "JobTimeoutUSec", uint64(5_000_000)),
	}, true)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, u.JobTimeout)
	assert.Equal(t, 5*time.Second, u.JobRunningTimeout)

	_, err = e.SetProperties(u, unit.PersistRuntime, []Entry{
		entry(t, "JobRunningTimeoutUSec", uint64(1_000_000)),
	}, true)
	require.NoError(t, err)
	assert.Equal(t, time.Second, u.JobRunningTimeout)

	_, err = e.SetProperties(u, unit.PersistRuntime, []Entry{
		entry(t, "JobTimeoutUSec", uint64(9_000_000)),
	}, true)
	require.NoError(t, err)
	assert.Equal(t, 9*time.Second, u.JobTimeout)
	assert.Equal(t, time.Second, u.JobRunningTimeout, "explicit running timeout must stick")
}

func TestConditionsReplaceAndClear(t *testing.T) {
	e, _ := newTestEngine()
	u := newTransientUnit(t, "web.service")

	_, err := e.SetProperties(u, unit.PersistRuntime, []Entry{
		entry(t, "Conditions", conditionValue(
			[]interface{}{"ConditionPathExists", false, false, "/etc/web.conf"},
			[]interface{}{"ConditionVirtualization", true, true, "container"},
		)),
	}, true)
	require.NoError(t, err)
	require.Len(t, u.Conditions, 2)
	assert.Equal(t, unit.ConditionPathExists, u.Conditions[0].Type)
	assert.Equal(t, "/etc/web.conf", u.Conditions[0].Parameter)
	assert.True(t, u.Conditions[1].Trigger)
	assert.True(t, u.Conditions[1].Negate)

	// A batch without a Conditions entry leaves the list untouched.
	_, err = e.SetProperties(u, unit.PersistRuntime, []Entry{
		entry(t, "Description", "unrelated"),
	}, true)
	require.NoError(t, err)
	assert.Len(t, u.Conditions, 2)

	// An explicitly empty array clears it.
	_, err = e.SetProperties(u, unit.PersistRuntime, []Entry{
		entry(t, "Conditions", conditionValue()),
	}, true)
	require.NoError(t, err)
	assert.Empty(t, u.Conditions)
}

func TestConditionsValidation(t *testing.T) {
	e, _ := newTestEngine()
	u := newTransientUnit(t, "web.service")

	tests := []struct {
		name  string
		tuple []interface{}
	}{
		{"unknown type", []interface{}{"ConditionBogus", false, false, "x"}},
		{"assert name in condition list", []interface{}{"AssertPathExists", false, false, "/x"}},
		{"relative path", []interface{}{"ConditionPathExists", false, false, "etc/web.conf"}},
		{"empty parameter", []interface{}{"ConditionVirtualization", false, false, ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.SetProperties(u, unit.PersistRuntime, []Entry{
				entry(t, "Conditions", conditionValue(tt.tuple)),
			}, true)
			require.Error(t, err)
			assert.True(t, errors.IsInvalidArgumentError(err))
			assert.Empty(t, u.Conditions)
		})
	}
}

func TestAssertsParseAssertNames(t *testing.T) {
	e, _ := newTestEngine()
	u := newTransientUnit(t, "web.service")

	_, err := e.SetProperties(u, unit.PersistRuntime, []Entry{
		entry(t, "Asserts", conditionValue(
			[]interface{}{"AssertPathExists", false, false, "/etc/web.conf"},
		)),
	}, true)
	require.NoError(t, err)
	require.Len(t, u.Asserts, 1)
	assert.Equal(t, unit.ConditionPathExists, u.Asserts[0].Type)
}

func TestDocumentationValidation(t *testing.T) {
	e, _ := newTestEngine()
	u := newTransientUnit(t, "web.service")

	_, err := e.SetProperties(u, unit.PersistRuntime, []Entry{
		entry(t, "Documentation", []string{"https://example.org/web", "man:web(8)"}),
	}, true)
	require.NoError(t, err)
	assert.Len(t, u.Documentation, 2)

	_, err = e.SetProperties(u, unit.PersistRuntime, []Entry{
		entry(t, "Documentation", []string{"ftp://example.org/web"}),
	}, true)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidArgumentError(err))

	// Appending extends; an empty list clears.
	_, err = e.SetProperties(u, unit.PersistRuntime, []Entry{
		entry(t, "Documentation", []string{"info:web"}),
	}, true)
	require.NoError(t, err)
	assert.Len(t, u.Documentation, 3)

	_, err = e.SetProperties(u, unit.PersistRuntime, []Entry{
		entry(t, "Documentation", []string{}),
	}, true)
	require.NoError(t, err)
	assert.Empty(t, u.Documentation)
}

func TestDependenciesCreateStubs(t *testing.T) {
	e, resolver := newTestEngine()
	u := newTransientUnit(t, "web.service")

	n, err := e.SetProperties(u, unit.PersistRuntime, []Entry{
		entry(t, "Wants", []string{"db.service", "cache.service"}),
		entry(t, "After", []string{"db.service"}),
	}, true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.ElementsMatch(t, []string{"db.service", "cache.service"}, u.DependencyNames(unit.DepWants))
	assert.Equal(t, []string{"db.service"}, u.DependencyNames(unit.DepAfter))
	assert.Contains(t, resolver.units, "db.service", "dependency target must be created as a stub")
	assert.Contains(t, resolver.units, "cache.service")
}

func TestObsoleteDependencyAliasRedirects(t *testing.T) {
	e, _ := newTestEngine()
	u := newTransientUnit(t, "web.service")

	_, err := e.SetProperties(u, unit.PersistRuntime, []Entry{
		entry(t, "RequiresOverridable", []string{"db.service"}),
	}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"db.service"}, u.DependencyNames(unit.DepRequires))
}

func TestDependencyRejectsInvalidName(t *testing.T) {
	e, _ := newTestEngine()
	u := newTransientUnit(t, "web.service")

	_, err := e.SetProperties(u, unit.PersistRuntime, []Entry{
		entry(t, "Wants", []string{"not a unit"}),
	}, true)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidArgumentError(err))
	assert.Empty(t, u.DependencyNames(unit.DepWants))
}

func TestSliceProperty(t *testing.T) {
	e, resolver := newTestEngine()

	u := newTransientUnit(t, "web.service")
	slice, err := resolver.LoadUnitPrepare("payload.slice")
	require.NoError(t, err)
	require.Equal(t, unit.KindSlice, slice.Kind)

	_, err = e.SetProperties(u, unit.PersistRuntime, []Entry{
		entry(t, "Slice", "payload.slice"),
	}, true)
	require.NoError(t, err)
	assert.Equal(t, "payload.slice", u.Slice)

	// Non-slice target is rejected.
	_, err = e.SetProperties(u, unit.PersistRuntime, []Entry{
		entry(t, "Slice", "other.service"),
	}, true)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidArgumentError(err))

	// Slice units may not themselves be placed in a slice.
	s := newTransientUnit(t, "sub.slice")
	_, err = e.SetProperties(s, unit.PersistRuntime, []Entry{
		entry(t, "Slice", "payload.slice"),
	}, true)
	require.Error(t, err)
}

func TestRequiresMountsFor(t *testing.T) {
	e, _ := newTestEngine()
	u := newTransientUnit(t, "web.service")

	_, err := e.SetProperties(u, unit.PersistRuntime, []Entry{
		entry(t, "RequiresMountsFor", []string{"/var/lib/web"}),
	}, true)
	require.NoError(t, err)
	assert.Contains(t, u.RequiresMountsFor, "/var/lib/web")

	_, err = e.SetProperties(u, unit.PersistRuntime, []Entry{
		entry(t, "RequiresMountsFor", []string{"var/lib/web"}),
	}, true)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidArgumentError(err))
}

func TestAddRefRecordedOnce(t *testing.T) {
	e, _ := newTestEngine()
	u := newTransientUnit(t, "web.service")

	_, err := e.SetProperties(u, unit.PersistRuntime, []Entry{
		entry(t, "AddRef", true),
		entry(t, "AddRef", true),
	}, true)
	require.NoError(t, err)
	assert.True(t, u.TransientAddRef)
}

func TestServiceSubtypeProperties(t *testing.T) {
	e, _ := newTestEngine()
	u := newTransientUnit(t, "web.service")

	n, err := e.SetProperties(u, unit.PersistRuntime, []Entry{
		entry(t, "PIDFile", "/run/web.pid"),
		entry(t, "RemainAfterExit", true),
		entry(t, "NotifyAccess", "main"),
	}, true)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "/run/web.pid", u.Service.PIDFile)
	assert.True(t, u.Service.RemainAfterExit)
	assert.Equal(t, "main", u.Service.NotifyAccess)

	_, err = e.SetProperties(u, unit.PersistRuntime, []Entry{
		entry(t, "NotifyAccess", "everyone"),
	}, true)
	require.Error(t, err)

	_, err = e.SetProperties(u, unit.PersistRuntime, []Entry{
		entry(t, "PIDFile", "run/web.pid"),
	}, true)
	require.Error(t, err)
}

func TestScopeControllerSettableLive(t *testing.T) {
	e, _ := newTestEngine()
	u := newTransientUnit(t, "payload.scope")
	u.LoadState = unit.LoadStateLoaded

	_, err := e.SetProperties(u, unit.PersistRuntime, []Entry{
		entry(t, "Controller", ":1.42"),
	}, true)
	require.NoError(t, err)
	assert.Equal(t, ":1.42", u.Scope.Controller)
}

func TestStartLimitProperties(t *testing.T) {
	e, _ := newTestEngine()
	u := newTransientUnit(t, "web.service")

	_, err := e.SetProperties(u, unit.PersistRuntime, []Entry{
		entry(t, "StartLimitIntervalUSec", uint64(60_000_000)),
		entry(t, "StartLimitBurst", uint32(3)),
		entry(t, "StartLimitAction", "reboot"),
	}, true)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, u.StartLimitInterval)
	assert.Equal(t, uint32(3), u.StartLimitBurst)
	assert.Equal(t, unit.EmergencyActionReboot, u.StartLimitAction)
}

func TestDecodeRejectsWrongType(t *testing.T) {
	e, _ := newTestEngine()
	u := newTransientUnit(t, "web.service")

	raw, err := cbor.Marshal(42)
	require.NoError(t, err)

	_, err = e.SetProperties(u, unit.PersistRuntime, []Entry{
		{Name: "Description", Value: raw},
	}, true)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidArgumentError(err))
}
