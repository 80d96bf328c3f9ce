package cgroups

// UnknownGroup marks a process reported outside the walked subtree, e.g. a
// recorded main or control PID whose group membership was not observed.
const UnknownGroup = ""

// Process is one reported member of a unit's resource-group subtree.
type Process struct {
	Group   string `cbor:"group"`
	PID     int32  `cbor:"pid"`
	Command string `cbor:"command"`
}

// IPAccounting carries the four traffic counters kept per group.
type IPAccounting struct {
	IngressBytes   uint64 `cbor:"ingress_bytes"`
	IngressPackets uint64 `cbor:"ingress_packets"`
	EgressBytes    uint64 `cbor:"egress_bytes"`
	EgressPackets  uint64 `cbor:"egress_packets"`
}

// ResourceController abstracts the resource-group hierarchy and the process
// metadata needed to report and migrate its members. Group paths are
// hierarchy-absolute ("/" is the root group).
type ResourceController interface {
	// Processes lists the PIDs directly in the group, not including
	// subgroup members.
	Processes(group string) ([]int32, error)

	// Subgroups lists the child groups of the group, as absolute paths.
	Subgroups(group string) ([]string, error)

	// Command returns a human-readable command line for the process.
	Command(pid int32) (string, error)

	// OwnerUID returns the effective owner of the process.
	OwnerUID(pid int32) (int, error)

	// IsKernelThread reports whether the PID belongs to a kernel thread.
	IsKernelThread(pid int32) (bool, error)

	// Attach migrates the processes into the group in one call.
	Attach(group string, pids []int32) error

	// Resource metrics for the readable property surface.
	MemoryCurrent(group string) (uint64, error)
	TaskCount(group string) (uint64, error)
	CPUUsageNSec(group string) (uint64, error)
	IPAccounting(group string) (IPAccounting, error)
}
