package policy

import (
	"sync"

	"github.com/google/uuid"

	"github.com/core-tools/hsu-unitd/pkg/logging"
)

// AgentFunc answers interactive authorization requests out of band, e.g. by
// prompting an operator. It runs on its own goroutine.
type AgentFunc func(req Request) bool

// EngineConfig is the rule table of the built-in policy engine.
type EngineConfig struct {
	// AllowUIDs are granted every action outright. UID 0 is always allowed.
	AllowUIDs []int `yaml:"allow_uids,omitempty"`
	// PromptUIDs get a pending decision routed to the agent when the call
	// is interactive; non-interactive calls from these UIDs are denied.
	PromptUIDs []int `yaml:"prompt_uids,omitempty"`
}

// Engine is a rule-table policy backend with an optional interactive agent.
// It answers synchronously where the table decides, and hands out
// continuation tokens where the agent has to be consulted.
type Engine struct {
	allowUIDs  map[int]struct{}
	promptUIDs map[int]struct{}
	agent      AgentFunc
	logger     logging.Logger

	mutex       sync.Mutex
	outstanding map[string]Request
	resolved    map[string]bool
	resolutions chan Resolution
}

// NewEngine creates a policy engine. A nil agent denies every interactive
// escalation.
func NewEngine(config EngineConfig, agent AgentFunc, logger logging.Logger) *Engine {
	e := &Engine{
		allowUIDs:   make(map[int]struct{}),
		promptUIDs:  make(map[int]struct{}),
		agent:       agent,
		logger:      logger,
		outstanding: make(map[string]Request),
		resolved:    make(map[string]bool),
		resolutions: make(chan Resolution, 16),
	}
	for _, uid := range config.AllowUIDs {
		e.allowUIDs[uid] = struct{}{}
	}
	for _, uid := range config.PromptUIDs {
		e.promptUIDs[uid] = struct{}{}
	}
	return e
}

// Resolutions delivers answers for pending requests. The transport listens
// on this channel and redelivers the parked call with the token set.
func (e *Engine) Resolutions() <-chan Resolution {
	return e.resolutions
}

// Authorize implements Authorizer.
func (e *Engine) Authorize(req Request) (Decision, string, error) {
	if req.Token != "" {
		return e.continueAuthorization(req.Token)
	}

	if req.UID == 0 {
		return DecisionGranted, "", nil
	}
	if _, ok := e.allowUIDs[req.UID]; ok {
		return DecisionGranted, "", nil
	}

	if _, ok := e.promptUIDs[req.UID]; ok && req.Interactive && e.agent != nil {
		token := uuid.NewString()

		e.mutex.Lock()
		e.outstanding[token] = req
		e.mutex.Unlock()

		e.logger.Debugf("Authorization pending, unit: %s, verb: %s, uid: %d, token: %s",
			req.Unit, req.Verb, req.UID, token)

		go e.consultAgent(token, req)
		return DecisionPending, token, nil
	}

	e.logger.Debugf("Authorization denied, unit: %s, verb: %s, uid: %d", req.Unit, req.Verb, req.UID)
	return DecisionDenied, "", nil
}

func (e *Engine) consultAgent(token string, req Request) {
	granted := e.agent(req)

	e.mutex.Lock()
	delete(e.outstanding, token)
	e.resolved[token] = granted
	e.mutex.Unlock()

	e.resolutions <- Resolution{Token: token, Granted: granted}
}

func (e *Engine) continueAuthorization(token string) (Decision, string, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if granted, ok := e.resolved[token]; ok {
		delete(e.resolved, token)
		if granted {
			return DecisionGranted, "", nil
		}
		return DecisionDenied, "", nil
	}
	if _, ok := e.outstanding[token]; ok {
		return DecisionPending, token, nil
	}

	// Unknown token: treat as denied rather than re-running the rules, so a
	// forged continuation cannot skip the agent.
	return DecisionDenied, "", nil
}
