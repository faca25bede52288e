package proxy

import (
	"context"
	"net/http"

	"github.com/getmockd/gqlproxy/pkg/graphql"
)

// Validator inspects a call's variables before anything else runs. A non-nil
// error fails the call with a *ValidationError.
type Validator func(ctx context.Context, variables map[string]any, def *Definition) error

// Override replaces upstream execution for one operation. Its result is
// answered as {"data": result}.
type Override func(ctx context.Context, variables map[string]any, header http.Header) (any, error)

// HookState tells which hooks are installed on a definition.
type HookState int

// Hook states.
const (
	HooksNone HookState = iota
	HooksValidated
	HooksOverridden
	HooksValidatedAndOverridden
)

func (s HookState) String() string {
	switch s {
	case HooksValidated:
		return "validated"
	case HooksOverridden:
		return "overridden"
	case HooksValidatedAndOverridden:
		return "validated+overridden"
	default:
		return "none"
	}
}

// MarshalText renders the state name in JSON diagnostics.
func (s HookState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// hooks is an immutable snapshot; changes swap in a new value.
type hooks struct {
	validator Validator
	override  Override
}

var noHooks = &hooks{}

func (h *hooks) state() HookState {
	switch {
	case h.validator != nil && h.override != nil:
		return HooksValidatedAndOverridden
	case h.override != nil:
		return HooksOverridden
	case h.validator != nil:
		return HooksValidated
	default:
		return HooksNone
	}
}

// hookChange is one transition of the hook state machine.
type hookChange struct {
	action string
	apply  func(h hooks) hooks
}

func setValidator(fn Validator) hookChange {
	return hookChange{action: "add validation", apply: func(h hooks) hooks {
		h.validator = fn
		return h
	}}
}

func setOverride(fn Override) hookChange {
	return hookChange{action: "add override", apply: func(h hooks) hooks {
		h.override = fn
		return h
	}}
}

var (
	clearValidator = hookChange{action: "remove validation", apply: func(h hooks) hooks {
		h.validator = nil
		return h
	}}
	clearOverride = hookChange{action: "remove override", apply: func(h hooks) hooks {
		h.override = nil
		return h
	}}
)

// overrideResponse wraps an override result in the standard envelope.
func overrideResponse(data any) (*Response, error) {
	body, err := graphql.DataEnvelope(data)
	if err != nil {
		return nil, err
	}
	return &Response{
		Body:   body,
		Header: http.Header{},
		Data:   data,
	}, nil
}
