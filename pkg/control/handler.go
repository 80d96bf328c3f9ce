package control

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/core-tools/hsu-unitd/pkg/cgroups"
	"github.com/core-tools/hsu-unitd/pkg/errors"
	"github.com/core-tools/hsu-unitd/pkg/jobs"
	"github.com/core-tools/hsu-unitd/pkg/logging"
	"github.com/core-tools/hsu-unitd/pkg/properties"
	"github.com/core-tools/hsu-unitd/pkg/unit"
)

// Host is the manager-side contract the transport needs: resolving unit
// objects, the peer-reference registry, the change dispatch queue and the
// settings store location.
type Host interface {
	UnitByPath(path string) (*unit.Unit, error)
	Ref(u *unit.Unit, peer string) error
	Unref(u *unit.Unit, peer string) error
	EnqueueChange(u *unit.Unit)
	DispatchSignals()
	PeerGone(peer string)
	SettingsRoot() string
}

// Handler dispatches decoded calls to the unit operations.
type Handler struct {
	host       Host
	dispatcher *jobs.Dispatcher
	props      *properties.Engine
	walker     *cgroups.Walker
	logger     logging.Logger
}

func NewHandler(host Host, dispatcher *jobs.Dispatcher, props *properties.Engine, walker *cgroups.Walker, logger logging.Logger) *Handler {
	return &Handler{
		host:       host,
		dispatcher: dispatcher,
		props:      props,
		walker:     walker,
		logger:     logger,
	}
}

type modeArgs struct {
	Mode string `cbor:"mode"`
}

type killArgs struct {
	Who    string `cbor:"who"`
	Signal int32  `cbor:"signal"`
}

type setPropertiesArgs struct {
	Runtime bool               `cbor:"runtime"`
	Entries []properties.Entry `cbor:"entries"`
}

type attachArgs struct {
	Subpath string   `cbor:"subpath"`
	PIDs    []uint32 `cbor:"pids"`
}

// JobReply identifies a queued job to the caller.
type JobReply struct {
	ID   uint32 `cbor:"id"`
	Path string `cbor:"path"`
}

// jobMethods maps method names onto job types plus the reload-if-possible
// marker for the ReloadOr* variants.
var jobMethods = map[string]struct {
	jobType          unit.JobType
	reloadIfPossible bool
}{
	"Start":              {unit.JobStart, false},
	"Stop":               {unit.JobStop, false},
	"Reload":             {unit.JobReload, false},
	"Restart":            {unit.JobRestart, false},
	"TryRestart":         {unit.JobTryRestart, false},
	"ReloadOrRestart":    {unit.JobRestart, true},
	"ReloadOrTryRestart": {unit.JobTryRestart, true},
}

// Handle resolves the target unit and runs one method call. The result is
// the reply payload value, nil for methods without one. Validation happens
// before any mutation, so a call that comes back as pending can be
// redelivered verbatim once authorization resolves.
func (h *Handler) Handle(caller jobs.Caller, call Call) (interface{}, error) {
	u, err := h.host.UnitByPath(call.Object)
	if err != nil {
		return nil, err
	}

	if m, ok := jobMethods[call.Method]; ok {
		var args modeArgs
		if err := unmarshalPayload(call.Args, &args); err != nil {
			return nil, err
		}
		j, err := h.dispatcher.Queue(caller, u, m.jobType, args.Mode, m.reloadIfPossible)
		if err != nil {
			return nil, err
		}
		return JobReply{ID: j.ID, Path: j.ObjectPath()}, nil
	}

	switch call.Method {
	case "Kill":
		var args killArgs
		if err := unmarshalPayload(call.Args, &args); err != nil {
			return nil, err
		}
		return nil, h.dispatcher.Kill(caller, u, args.Who, args.Signal)

	case "ResetFailed":
		return nil, h.dispatcher.ResetFailed(caller, u)

	case "SetProperties":
		return nil, h.setProperties(caller, u, call.Args)

	case "Ref":
		if err := h.dispatcher.AuthorizeRef(caller, u); err != nil {
			return nil, err
		}
		return nil, h.host.Ref(u, caller.PeerName)

	case "Unref":
		return nil, h.host.Unref(u, caller.PeerName)

	case "GetProcesses":
		procs, err := h.walker.ListProcesses(u)
		if err != nil {
			return nil, err
		}
		return procs, nil

	case "AttachProcesses":
		var args attachArgs
		if err := unmarshalPayload(call.Args, &args); err != nil {
			return nil, err
		}
		pids := make([]int32, len(args.PIDs))
		for i, pid := range args.PIDs {
			pids[i] = int32(pid)
		}
		return nil, h.walker.AttachProcesses(u, args.Subpath, pids, caller.UID, int32(caller.PID))

	case "GetProperties":
		return h.readProperties(u), nil
	}

	return nil, errors.NewInvalidArgumentError("unknown method "+call.Method, nil).
		WithContext("unit", u.ID()).WithContext("method", call.Method)
}

func (h *Handler) setProperties(caller jobs.Caller, u *unit.Unit, rawArgs cbor.RawMessage) error {
	var args setPropertiesArgs
	if err := unmarshalPayload(rawArgs, &args); err != nil {
		return err
	}

	if err := h.dispatcher.AuthorizeSetProperties(caller, u); err != nil {
		return err
	}

	mode := unit.PersistPersistent
	if args.Runtime {
		mode = unit.PersistRuntime
	}

	n, err := h.props.SetProperties(u, mode, args.Entries, true)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}

	// A recorded AddRef intent takes effect once, for the peer that
	// finished the transient setup.
	if u.TransientAddRef {
		u.TransientAddRef = false
		if err := h.host.Ref(u, caller.PeerName); err != nil {
			return err
		}
	}

	if err := u.FlushSettings(h.host.SettingsRoot(), mode); err != nil {
		return err
	}

	h.host.EnqueueChange(u)
	return nil
}
