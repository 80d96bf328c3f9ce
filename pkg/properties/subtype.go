package properties

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/core-tools/hsu-unitd/pkg/errors"
	"github.com/core-tools/hsu-unitd/pkg/unit"
)

// SubtypeResolver handles the properties specific to one unit kind. Set
// reports whether it claimed the name; Commit runs once after a successful
// apply pass so a resolver can finalize cross-property state.
type SubtypeResolver interface {
	Set(u *unit.Unit, name string, raw cbor.RawMessage, forReal bool) (bool, error)
	Commit(u *unit.Unit)
}

type serviceResolver struct{}

func (r *serviceResolver) Set(u *unit.Unit, name string, raw cbor.RawMessage, forReal bool) (bool, error) {
	if u.Service == nil {
		return false, nil
	}

	if !(u.Transient && u.LoadState == unit.LoadStateStub) {
		return false, nil
	}

	switch name {
	case "PIDFile":
		p, err := decodeString(name, raw)
		if err != nil {
			return false, err
		}
		if p != "" && !isAbsolutePath(p) {
			return false, errors.NewInvalidArgumentError(
				fmt.Sprintf("path specified in %s is not absolute: %s", name, p), nil).
				WithContext("unit", u.ID()).WithContext("property", name)
		}
		if forReal {
			u.Service.PIDFile = p
			u.RecordKindSetting(name, name+"="+p)
		}
		return true, nil

	case "RemainAfterExit":
		b, err := decodeBool(name, raw)
		if err != nil {
			return false, err
		}
		if forReal {
			u.Service.RemainAfterExit = b
			u.RecordKindSetting(name, name+"="+yesNo(b))
		}
		return true, nil

	case "NotifyAccess":
		s, err := decodeString(name, raw)
		if err != nil {
			return false, err
		}
		a, ok := unit.ParseNotifyAccess(s)
		if !ok {
			return false, errors.NewInvalidArgumentError(
				fmt.Sprintf("invalid notify access setting in %s: %s", name, s), nil).
				WithContext("unit", u.ID()).WithContext("property", name)
		}
		if forReal {
			u.Service.NotifyAccess = a
			u.RecordKindSetting(name, name+"="+s)
		}
		return true, nil
	}

	return false, nil
}

func (r *serviceResolver) Commit(u *unit.Unit) {}

type scopeResolver struct{}

func (r *scopeResolver) Set(u *unit.Unit, name string, raw cbor.RawMessage, forReal bool) (bool, error) {
	if u.Scope == nil {
		return false, nil
	}

	switch name {
	case "Controller":
		// Settable at any time: the controlling peer may hand the scope
		// over to another connection.
		s, err := decodeString(name, raw)
		if err != nil {
			return false, err
		}
		if forReal {
			u.Scope.Controller = s
		}
		return true, nil
	}

	return false, nil
}

func (r *scopeResolver) Commit(u *unit.Unit) {}
