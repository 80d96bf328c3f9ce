package cgroups

import (
	"math"

	"github.com/core-tools/hsu-unitd/pkg/unit"
)

// MetricUnset is reported for a counter the controller cannot provide;
// clients display it as "not set".
const MetricUnset = math.MaxUint64

// Metrics is the per-unit resource counter snapshot of the readable
// property surface.
type Metrics struct {
	MemoryCurrent  uint64
	TaskCount      uint64
	CPUUsageNSec   uint64
	IPIngressBytes uint64
	IPIngressPkts  uint64
	IPEgressBytes  uint64
	IPEgressPkts   uint64
}

// ResourceMetrics snapshots the unit's counters. A unit without a resource
// group, or a counter the controller cannot read, reports MetricUnset.
func (w *Walker) ResourceMetrics(u *unit.Unit) Metrics {
	m := Metrics{
		MemoryCurrent:  MetricUnset,
		TaskCount:      MetricUnset,
		CPUUsageNSec:   MetricUnset,
		IPIngressBytes: MetricUnset,
		IPIngressPkts:  MetricUnset,
		IPEgressBytes:  MetricUnset,
		IPEgressPkts:   MetricUnset,
	}
	if u.CgroupPath == nil {
		return m
	}
	group := *u.CgroupPath

	if v, err := w.ctrl.MemoryCurrent(group); err == nil {
		m.MemoryCurrent = v
	}
	if v, err := w.ctrl.TaskCount(group); err == nil {
		m.TaskCount = v
	}
	if v, err := w.ctrl.CPUUsageNSec(group); err == nil {
		m.CPUUsageNSec = v
	}
	if ip, err := w.ctrl.IPAccounting(group); err == nil {
		m.IPIngressBytes = ip.IngressBytes
		m.IPIngressPkts = ip.IngressPackets
		m.IPEgressBytes = ip.EgressBytes
		m.IPEgressPkts = ip.EgressPackets
	}
	return m
}
