package control

import (
	"sort"
	"time"

	"github.com/core-tools/hsu-unitd/pkg/unit"
)

// conditionRecord is the wire form of one condition list entry plus its
// tri-state evaluation result.
type conditionRecord struct {
	_         struct{} `cbor:",toarray"`
	Type      string
	Trigger   bool
	Negate    bool
	Parameter string
	Result    int
}

// readProperties builds the full readable property surface of a unit:
// identity, dependency arrays, states, paths, timestamps, capability flags,
// the outstanding-job reference, resource metrics, condition arrays and the
// resource-group binding. Deprecated aliases are included so old clients
// keep working; they are not part of the documented surface.
func (h *Handler) readProperties(u *unit.Unit) map[string]interface{} {
	p := make(map[string]interface{}, 96)

	p["Id"] = u.ID()
	p["Names"] = sortedNames(u.Names())
	p["Description"] = u.DescriptionOrID()
	p["Documentation"] = emptyNotNil(u.Documentation)
	p["LoadState"] = string(u.LoadState)
	p["ActiveState"] = string(u.ActiveState)
	p["SubState"] = u.SubState
	p["FragmentPath"] = u.FragmentPath
	p["SourcePath"] = u.SourcePath
	p["DropInPaths"] = emptyNotNil(u.DropInPaths)
	p["Transient"] = u.Transient
	p["Perpetual"] = u.Perpetual
	p["InvocationID"] = u.InvocationID.String()
	p["Following"] = u.Following
	p["NeedDaemonReload"] = u.NeedDaemonReload
	p["UnitFileState"] = u.UnitFileState
	p["UnitFilePreset"] = u.UnitFilePreset
	if u.LoadError != nil {
		p["LoadError"] = u.LoadError.Error()
	} else {
		p["LoadError"] = ""
	}

	for _, d := range unit.Dependencies {
		p[string(d)] = sortedNames(u.DependencyNames(d))
	}
	p["RequiresMountsFor"] = sortedKeys(u.RequiresMountsFor)

	p["Conditions"] = conditionRecords(u.Conditions)
	p["Asserts"] = conditionRecords(u.Asserts)
	p["ConditionResult"] = u.ConditionResult
	p["AssertResult"] = u.AssertResult
	putTimestamp(p, "ConditionTimestamp", u.ConditionTimestamp)
	putTimestamp(p, "AssertTimestamp", u.AssertTimestamp)

	putTimestamp(p, "StateChangeTimestamp", u.StateChangeTimestamp)
	putTimestamp(p, "InactiveExitTimestamp", u.InactiveExitTimestamp)
	putTimestamp(p, "ActiveEnterTimestamp", u.ActiveEnterTimestamp)
	putTimestamp(p, "ActiveExitTimestamp", u.ActiveExitTimestamp)
	putTimestamp(p, "InactiveEnterTimestamp", u.InactiveEnterTimestamp)

	p["CanStart"] = u.CanStart() && !u.RefuseManualStart
	p["CanStop"] = u.CanStop() && !u.RefuseManualStop
	p["CanReload"] = u.CanReload()
	p["CanIsolate"] = u.CanIsolate() && !u.RefuseManualStart

	if j := u.Job(); j != nil {
		p["Job"] = JobReply{ID: j.ID, Path: j.ObjectPath()}
	}

	p["StopWhenUnneeded"] = u.StopWhenUnneeded
	p["RefuseManualStart"] = u.RefuseManualStart
	p["RefuseManualStop"] = u.RefuseManualStop
	p["AllowIsolate"] = u.AllowIsolate
	p["DefaultDependencies"] = u.DefaultDependencies
	p["OnFailureJobMode"] = string(u.OnFailureJobMode)
	p["IgnoreOnIsolate"] = u.IgnoreOnIsolate
	p["CollectMode"] = string(u.CollectMode)

	p["JobTimeoutUSec"] = usecOf(u.JobTimeout)
	p["JobRunningTimeoutUSec"] = usecOf(u.JobRunningTimeout)
	p["JobTimeoutAction"] = string(u.JobTimeoutAction)
	p["JobTimeoutRebootArgument"] = u.JobTimeoutRebootArg

	p["StartLimitIntervalUSec"] = usecOf(u.StartLimitInterval)
	p["StartLimitBurst"] = u.StartLimitBurst
	p["StartLimitAction"] = string(u.StartLimitAction)
	p["StartLimitHit"] = u.StartLimitHit()
	p["FailureAction"] = string(u.FailureAction)
	p["SuccessAction"] = string(u.SuccessAction)
	p["RebootArgument"] = u.RebootArg

	p["Slice"] = u.Slice
	p["ControlGroup"] = u.CgroupPathReport()
	p["MainPID"] = uint32(max0(u.MainPID))
	p["ControlPID"] = uint32(max0(u.ControlPID))

	m := h.walker.ResourceMetrics(u)
	p["MemoryCurrent"] = m.MemoryCurrent
	p["TasksCurrent"] = m.TaskCount
	p["CPUUsageNSec"] = m.CPUUsageNSec
	p["IPIngressBytes"] = m.IPIngressBytes
	p["IPIngressPackets"] = m.IPIngressPkts
	p["IPEgressBytes"] = m.IPEgressBytes
	p["IPEgressPackets"] = m.IPEgressPkts

	if u.Service != nil {
		p["PIDFile"] = u.Service.PIDFile
		p["RemainAfterExit"] = u.Service.RemainAfterExit
		p["NotifyAccess"] = u.Service.NotifyAccess
	}
	if u.Scope != nil {
		p["Controller"] = u.Scope.Controller
	}

	// Deprecated aliases, readable but hidden from the documented surface.
	p["StartLimitInterval"] = usecOf(u.StartLimitInterval)
	p["StartLimitIntervalSec"] = uint64(u.StartLimitInterval / time.Second)
	p["RequiresOverridable"] = []string{}
	p["RequisiteOverridable"] = []string{}

	return p
}

func conditionRecords(list []*unit.Condition) []conditionRecord {
	out := make([]conditionRecord, 0, len(list))
	for _, c := range list {
		out = append(out, conditionRecord{
			Type:      string(c.Type),
			Trigger:   c.Trigger,
			Negate:    c.Negate,
			Parameter: c.Parameter,
			Result:    int(c.Result),
		})
	}
	return out
}

func putTimestamp(p map[string]interface{}, name string, t unit.DualTimestamp) {
	var realtime uint64
	if t.IsSet() {
		realtime = uint64(t.Realtime.UnixMicro())
	}
	p[name] = realtime
	p[name+"Monotonic"] = usecOf(t.Monotonic)
}

func usecOf(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64(d / time.Microsecond)
}

func sortedNames(names []string) []string {
	sort.Strings(names)
	if names == nil {
		names = []string{}
	}
	return names
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func emptyNotNil(l []string) []string {
	if l == nil {
		return []string{}
	}
	return l
}

func max0(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
