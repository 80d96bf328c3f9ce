package unit

import "strings"

// Kind identifies the runtime type of a unit. The set of kinds is closed:
// behavior that differs per kind (capability flags, cgroup support, subtype
// property handling) is resolved through tables keyed by Kind rather than
// virtual dispatch.
type Kind string

const (
	KindService Kind = "service"
	KindSocket  Kind = "socket"
	KindTarget  Kind = "target"
	KindMount   Kind = "mount"
	KindTimer   Kind = "timer"
	KindPath    Kind = "path"
	KindSlice   Kind = "slice"
	KindScope   Kind = "scope"
)

// kindBehavior captures the per-kind capabilities consulted by the dispatcher
// and the property surface.
type kindBehavior struct {
	CanStart           bool
	CanStop            bool
	CanReload          bool
	HasCgroup          bool
	SupportsDelegation bool
	SupportsTransient  bool
}

var kindBehaviors = map[Kind]kindBehavior{
	KindService: {CanStart: true, CanStop: true, CanReload: true, HasCgroup: true, SupportsDelegation: true, SupportsTransient: true},
	KindSocket:  {CanStart: true, CanStop: true, HasCgroup: true, SupportsTransient: true},
	KindTarget:  {CanStart: true, CanStop: true, SupportsTransient: true},
	KindMount:   {CanStart: true, CanStop: true, CanReload: true, HasCgroup: true},
	KindTimer:   {CanStart: true, CanStop: true, SupportsTransient: true},
	KindPath:    {CanStart: true, CanStop: true, SupportsTransient: true},
	KindSlice:   {CanStart: true, CanStop: true, HasCgroup: true, SupportsTransient: true},
	KindScope:   {CanStart: false, CanStop: true, HasCgroup: true, SupportsDelegation: true, SupportsTransient: true},
}

// KindFromName derives the unit kind from the name suffix, e.g.
// "cron.service" -> KindService. Returns false if the suffix names no
// known kind.
func KindFromName(name string) (Kind, bool) {
	i := strings.LastIndexByte(name, '.')
	if i < 0 || i == len(name)-1 {
		return "", false
	}
	k := Kind(name[i+1:])
	if _, ok := kindBehaviors[k]; !ok {
		return "", false
	}
	return k, true
}

// InterfaceName returns the management interface name a unit of this kind
// exposes on the bus, e.g. "unitd.Service". Subtype property-changed
// signals are emitted against this interface.
func (k Kind) InterfaceName() string {
	if k == "" {
		return "unitd.Unit"
	}
	return "unitd." + strings.ToUpper(string(k[:1])) + string(k[1:])
}

// Section returns the configuration section kind-private settings are
// written under, e.g. "Service" for service units.
func (k Kind) Section() string {
	if k == "" {
		return "Unit"
	}
	return strings.ToUpper(string(k[:1])) + string(k[1:])
}

func (k Kind) behavior() kindBehavior {
	return kindBehaviors[k]
}
