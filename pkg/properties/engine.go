package properties

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/core-tools/hsu-unitd/pkg/errors"
	"github.com/core-tools/hsu-unitd/pkg/logging"
	"github.com/core-tools/hsu-unitd/pkg/unit"
)

// Entry is one named property write in a batch. The value is a
// self-describing CBOR variant decoded by the handler that claims the name.
type Entry struct {
	Name  string          `cbor:"name"`
	Value cbor.RawMessage `cbor:"value"`
}

// UnitResolver is the external manager contract the engine needs: looking up
// or creating (as a stub, without dispatching the load queue) the units that
// property writes refer to.
type UnitResolver interface {
	LoadUnitPrepare(name string) (*unit.Unit, error)
}

// Engine validates and commits batches of property writes against a unit.
//
// A batch runs in two passes. Pass one resolves every entry against exactly
// one handler class — subtype-specific, transient-creation-only, or generic
// live — with full validation but no mutation; any failure aborts the whole
// batch untouched. Pass two re-reads the same entries with mutation enabled.
// Committing is best-effort: validation is atomic, the apply pass is not
// rolled back if a later entry still manages to fail (matching the legacy
// behavior this design descends from).
type Engine struct {
	resolver UnitResolver
	subtype  map[unit.Kind]SubtypeResolver
	logger   logging.Logger
}

func NewEngine(resolver UnitResolver, logger logging.Logger) *Engine {
	e := &Engine{
		resolver: resolver,
		subtype:  make(map[unit.Kind]SubtypeResolver),
		logger:   logger,
	}
	e.RegisterSubtype(unit.KindService, &serviceResolver{})
	e.RegisterSubtype(unit.KindScope, &scopeResolver{})
	return e
}

// RegisterSubtype installs the subtype property resolver for a unit kind.
func (e *Engine) RegisterSubtype(kind unit.Kind, r SubtypeResolver) {
	e.subtype[kind] = r
}

// SetProperties applies a batch of property writes. With commit false only
// the validation pass runs and the returned count is 0; with commit true the
// count of applied entries is returned.
func (e *Engine) SetProperties(u *unit.Unit, mode unit.PersistMode, entries []Entry, commit bool) (int, error) {
	n := 0

	for _, forReal := range []bool{false, true} {
		for i := range entries {
			handled, err := e.setProperty(u, mode, &entries[i], forReal)
			if err != nil {
				return 0, err
			}
			if !handled {
				return 0, errors.NewPropertyReadOnlyError(
					fmt.Sprintf("cannot set property %s, or unknown property", entries[i].Name), nil).
					WithContext("unit", u.ID()).WithContext("property", entries[i].Name)
			}
			if forReal {
				n++
			}
		}
		if !commit {
			break
		}
	}

	if commit && n > 0 {
		if r := e.subtype[u.Kind]; r != nil {
			r.Commit(u)
		}
		e.logger.Debugf("Committed properties, unit: %s, count: %d", u.ID(), n)
	}

	return n, nil
}

// setProperty dispatches one entry through the resolver chain. The order is
// fixed: subtype first, then transient-only (reachable only while the unit
// is a transient stub), then generic live properties.
func (e *Engine) setProperty(u *unit.Unit, mode unit.PersistMode, entry *Entry, forReal bool) (bool, error) {
	if r := e.subtype[u.Kind]; r != nil {
		handled, err := r.Set(u, entry.Name, entry.Value, forReal)
		if handled || err != nil {
			return handled, err
		}
	}

	if u.Transient && u.LoadState == unit.LoadStateStub {
		handled, err := e.setTransientProperty(u, mode, entry, forReal)
		if handled || err != nil {
			return handled, err
		}
	}

	return e.setLiveProperty(u, mode, entry, forReal)
}

// setLiveProperty handles the properties settable at any time during
// runtime.
func (e *Engine) setLiveProperty(u *unit.Unit, mode unit.PersistMode, entry *Entry, forReal bool) (bool, error) {
	switch entry.Name {
	case "Description":
		d, err := decodeString(entry.Name, entry.Value)
		if err != nil {
			return false, err
		}
		if forReal {
			u.Description = d
			u.RecordSetting(entry.Name, "Description="+d)
		}
		return true, nil
	}

	return false, nil
}
