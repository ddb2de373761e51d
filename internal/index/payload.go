package index

import (
	"database/sql"
	"encoding/json"

	"github.com/antigravity-dev/agentco/internal/eventlog"
)

func marshalPayload(payload map[string]any) (string, error) {
	if payload == nil {
		return "{}", nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "{}", err
	}
	return string(b), nil
}

func stringField(payload map[string]any, key string) string {
	v, _ := payload[key].(string)
	return v
}

// projectConversationEvent derives conversations/messages rows from the
// conversation-shaped events a run may emit: conversation.started marks a
// conversation, message.posted appends to it.
func projectConversationEvent(db *sql.DB, projectID, runID string, seq int, e eventlog.Envelope) error {
	switch e.Type {
	case "conversation.started":
		convID := stringField(e.Payload, "conversation_id")
		if convID == "" {
			return nil
		}
		_, err := db.Exec(`
			INSERT INTO conversations (project_id, run_id, conversation_id, started_at)
			VALUES (?,?,?,?)
			ON CONFLICT(project_id, run_id, conversation_id) DO NOTHING
		`, projectID, runID, convID, e.TsWallclock)
		return err
	case "message.posted":
		convID := stringField(e.Payload, "conversation_id")
		if convID == "" {
			return nil
		}
		_, err := db.Exec(`
			INSERT INTO messages (project_id, run_id, conversation_id, seq, role, text, ts_wallclock)
			VALUES (?,?,?,?,?,?,?)
			ON CONFLICT(project_id, run_id, conversation_id, seq) DO NOTHING
		`, projectID, runID, convID, seq, stringField(e.Payload, "role"), stringField(e.Payload, "text"), e.TsWallclock)
		return err
	}
	return nil
}
