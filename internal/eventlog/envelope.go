// Package eventlog implements an append-only, hash-chained per-run event
// log: envelope append/read, a process-local runtime event bus,
// hash-chain verification, and a one-shot pre-envelope migration.
package eventlog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

// Visibility mirrors workspace.Visibility without importing the workspace
// package, keeping the event log independently testable and dependency-light.
type Visibility string

const (
	VisibilityPrivateAgent Visibility = "private_agent"
	VisibilityTeam         Visibility = "team"
	VisibilityManagers     Visibility = "managers"
	VisibilityOrg          Visibility = "org"
)

// Envelope is one line of a run's events.jsonl.
type Envelope struct {
	SchemaVersion  int            `json:"schema_version"`
	EventID        string         `json:"event_id"`
	TsWallclock    time.Time      `json:"ts_wallclock"`
	TsMonotonicMs  int64          `json:"ts_monotonic_ms"`
	RunID          string         `json:"run_id"`
	SessionRef     string         `json:"session_ref,omitempty"`
	CorrelationID  string         `json:"correlation_id,omitempty"`
	CausationID    string         `json:"causation_id,omitempty"`
	Actor          string         `json:"actor"`
	Visibility     Visibility     `json:"visibility"`
	Type           string         `json:"type"`
	Payload        map[string]any `json:"payload,omitempty"`
	PrevEventHash  *string        `json:"prev_event_hash"`
	EventHash      string         `json:"event_hash,omitempty"`
}

// canonicalJSON re-marshals v with object keys sorted, so the hash is
// stable regardless of map iteration order or struct field order drift.
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return marshalCanonical(generic)
}

func marshalCanonical(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, _ := json.Marshal(k)
			buf = append(buf, kb...)
			buf = append(buf, ':')
			vb, err := marshalCanonical(val[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, vb...)
		}
		buf = append(buf, '}')
		return buf, nil
	case []any:
		buf := []byte{'['}
		for i, item := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			ib, err := marshalCanonical(item)
			if err != nil {
				return nil, err
			}
			buf = append(buf, ib...)
		}
		buf = append(buf, ']')
		return buf, nil
	default:
		return json.Marshal(val)
	}
}

// ComputeHash returns the SHA-256 hex digest of the envelope's canonical
// JSON with event_hash absent.
func ComputeHash(e Envelope) (string, error) {
	e.EventHash = ""
	data, err := canonicalJSON(e)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
