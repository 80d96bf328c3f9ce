package policy

// Capability names known to the policy backend.
const (
	CapManageUnits = "manage-units"
	CapKill        = "kill"
)

// Decision is the outcome of an authorization check.
type Decision int

const (
	// DecisionDenied means the caller is not allowed to perform the action.
	DecisionDenied Decision = iota
	// DecisionGranted means the caller may proceed.
	DecisionGranted
	// DecisionPending means the backend cannot answer synchronously. The
	// caller must not mutate any state; the transport parks the request and
	// redelivers it, with the continuation token set, once the backend
	// resolves.
	DecisionPending
)

// Request describes one action to authorize. Details (unit, verb) are
// carried so the backend can make per-action decisions and so denials can
// name what was refused.
type Request struct {
	Capability  string
	Verb        string
	Unit        string
	PeerName    string
	UID         int
	Interactive bool

	// Token is empty on first delivery. On redelivery after a pending
	// decision it carries the continuation token the backend handed out.
	Token string
}

// Resolution reports the backend's answer for a previously pending request.
type Resolution struct {
	Token   string
	Granted bool
}

// Authorizer is the policy backend contract. A pending decision returns the
// continuation token as the second value.
type Authorizer interface {
	Authorize(req Request) (Decision, string, error)
}

// AuthorizerFunc adapts a plain function to the Authorizer interface.
type AuthorizerFunc func(req Request) (Decision, string, error)

func (f AuthorizerFunc) Authorize(req Request) (Decision, string, error) {
	return f(req)
}
