package dispatch

import (
	"fmt"

	errspkg "github.com/drblury/sparked/internal/runtime/errors"
	"github.com/drblury/sparked/internal/runtime/subject"
)

// Action is the parsed last token of a routed subject.
type Action int

const (
	// ActionUnknown is any token that is neither a command nor an event.
	ActionUnknown Action = iota
	ActionCreate
	ActionDelete
	ActionFind
	ActionUpdate
	ActionCall
	// ActionEvent marks subjects that carry a domain event (orders.created)
	// rather than a command. The router never answers them.
	ActionEvent
)

var actionNames = map[Action]string{
	ActionCreate: "create",
	ActionDelete: "delete",
	ActionFind:   "find",
	ActionUpdate: "update",
	ActionCall:   "call",
}

var actionEvents = map[Action]string{
	ActionCreate: "created",
	ActionDelete: "deleted",
	ActionFind:   "found",
	ActionUpdate: "updated",
	ActionCall:   "called",
}

// CRUDActions are the store-backed actions, in subscription order.
var CRUDActions = []Action{ActionCreate, ActionDelete, ActionFind, ActionUpdate}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	if a == ActionEvent {
		return "event"
	}
	return "unknown"
}

// Event is the past-tense event name published after a successful action.
func (a Action) Event() string {
	return actionEvents[a]
}

// IsCRUD reports whether the action is served by the document store.
func (a Action) IsCRUD() bool {
	switch a {
	case ActionCreate, ActionDelete, ActionFind, ActionUpdate:
		return true
	default:
		return false
	}
}

// ParseAction maps a subject token to an Action.
func ParseAction(token string) Action {
	for action, name := range actionNames {
		if name == token {
			return action
		}
	}
	for _, event := range actionEvents {
		if event == token {
			return ActionEvent
		}
	}
	return ActionUnknown
}

// Route is a subject decoded once at the router boundary.
type Route struct {
	Model      string
	Controller string
	Action     Action
	// Token is the raw action token, kept for error messages.
	Token string
}

// ParseRoute decodes <model>.<action> and <service>.<controller>.call.
// Subjects of any other shape return an error wrapping ErrUnknownAction.
func ParseRoute(subj string) (Route, error) {
	tokens := subject.Tokens(subj)
	switch len(tokens) {
	case 2:
		route := Route{Model: tokens[0], Token: tokens[1], Action: ParseAction(tokens[1])}
		if route.Action == ActionCall {
			// call needs a controller token.
			route.Action = ActionUnknown
		}
		return route, nil
	case 3:
		route := Route{Model: tokens[0], Controller: tokens[1], Token: tokens[2], Action: ParseAction(tokens[2])}
		if route.Action.IsCRUD() {
			route.Action = ActionUnknown
		}
		return route, nil
	default:
		return Route{}, fmt.Errorf("%w: cannot route subject %q", errspkg.ErrUnknownAction, subj)
	}
}

// Subject rebuilds the command subject of the route.
func (r Route) Subject() string {
	if r.Controller != "" {
		return subject.Join(r.Model, r.Controller, r.Token)
	}
	return subject.Join(r.Model, r.Token)
}

// EventSubject is where the domain event for a successful action goes.
func (r Route) EventSubject() string {
	if r.Controller != "" {
		return subject.Join(r.Model, r.Controller, r.Action.Event())
	}
	return subject.Join(r.Model, r.Action.Event())
}
