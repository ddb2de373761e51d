// Package governance implements the three sub-contracts that gate every
// write a worker agent makes into the shared workspace: policy
// evaluation, a redaction gate over outgoing governed text, and the
// propose/approve flows for memory deltas, milestones, and heartbeat
// action proposals.
package governance

import (
	"github.com/antigravity-dev/agentco/internal/eventlog"
	"github.com/antigravity-dev/agentco/internal/workspace"
)

type Action string

const (
	ActionRead    Action = "read"
	ActionApprove Action = "approve"
	ActionWrite   Action = "write"
)

// Resource is the thing a policy check is evaluated against.
type Resource struct {
	ResourceID  string
	Visibility  workspace.Visibility
	Kind        string // "memory_delta" | "milestone" | "heartbeat_action_proposal" | ...
	TeamID      string
	Sensitivity workspace.Sensitivity
	ProducedBy  string
}

// Request is the full input to EnforcePolicy.
type Request struct {
	ProjectID   string
	RunID       string // optional; when set, decisions are recorded as events on this run
	ActorID     string
	ActorRole   workspace.Role
	ActorTeamID string
	Action      Action
	Resource    Resource
}

// Decision is the outcome of a policy check, carrying a structured trace
// so a denial can be explained rather than just rejected.
type Decision struct {
	Allowed bool
	Reason  string
	Trace   map[string]any
}

// EnforcePolicy evaluates req against the visibility/role rules and, when
// req.RunID is set, records the decision as events on that run: a denial
// emits policy.denied followed by policy.decision{allowed:false}; an
// allowed approval emits policy.decision{allowed:true}.
func EnforcePolicy(ws *workspace.Workspace, bus *eventlog.Bus, req Request) (Decision, error) {
	decision := evaluate(req)

	if req.RunID == "" {
		return decision, nil
	}

	trace := map[string]any{
		"allowed":     decision.Allowed,
		"action":      string(req.Action),
		"resource_id": req.Resource.ResourceID,
	}
	for k, v := range decision.Trace {
		trace[k] = v
	}

	if !decision.Allowed {
		if _, err := appendEvent(ws, bus, req.ProjectID, req.RunID, req.ActorID, "policy.denied", map[string]any{
			"action":      string(req.Action),
			"resource_id": req.Resource.ResourceID,
			"reason":      decision.Reason,
		}); err != nil {
			return decision, err
		}
		trace["reason"] = decision.Reason
	}
	if _, err := appendEvent(ws, bus, req.ProjectID, req.RunID, req.ActorID, "policy.decision", trace); err != nil {
		return decision, err
	}
	return decision, nil
}

func evaluate(req Request) Decision {
	if !visibilityAllows(req) {
		return Decision{Allowed: false, Reason: "visibility: actor cannot access resource", Trace: map[string]any{
			"visibility": string(req.Resource.Visibility),
		}}
	}

	if req.Resource.Sensitivity == workspace.SensitivityRestricted {
		if req.Action == ActionRead || req.Action == "compose_context" {
			if !req.ActorRole.AtLeast(workspace.RoleDirector) {
				return Decision{Allowed: false, Reason: "sensitivity=restricted requires role>=director", Trace: map[string]any{
					"sensitivity": string(req.Resource.Sensitivity),
				}}
			}
		}
	}

	if req.Action == ActionApprove {
		var minRole workspace.Role
		switch req.Resource.Kind {
		case "memory_delta":
			minRole = workspace.RoleDirector
		case "milestone":
			minRole = workspace.RoleManager
		case "heartbeat_action_proposal":
			minRole = workspace.RoleManager
		default:
			minRole = workspace.RoleManager
		}
		if !req.ActorRole.AtLeast(minRole) {
			return Decision{Allowed: false, Reason: "approve " + req.Resource.Kind + " requires role>=" + string(minRole), Trace: map[string]any{
				"required_role": string(minRole),
			}}
		}
	}

	return Decision{Allowed: true, Trace: map[string]any{}}
}

func visibilityAllows(req Request) bool {
	if req.ActorRole == workspace.RoleHuman {
		return true
	}
	switch req.Resource.Visibility {
	case workspace.VisibilityOrg:
		return true
	case workspace.VisibilityManagers:
		return req.ActorRole.AtLeast(workspace.RoleManager)
	case workspace.VisibilityTeam:
		if req.ActorTeamID != "" && req.ActorTeamID == req.Resource.TeamID {
			return true
		}
		return req.ActorRole.AtLeast(workspace.RoleManager)
	case workspace.VisibilityPrivateAgent:
		return req.ActorID == req.Resource.ProducedBy
	default:
		return false
	}
}

func appendEvent(ws *workspace.Workspace, bus *eventlog.Bus, projectID, runID, actor, eventType string, payload map[string]any) (eventlog.Envelope, error) {
	return eventlog.Append(ws.EventsJSONL(projectID, runID), eventlog.Envelope{
		RunID:      runID,
		Actor:      actor,
		Visibility: eventlog.VisibilityTeam,
		Type:       eventType,
		Payload:    payload,
	}, bus)
}
