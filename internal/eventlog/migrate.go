package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/antigravity-dev/agentco/internal/workspace"
)

const migrationBackfillName = "eventlog.backfill_hash_chain_v1"

// BackfillResult reports how many lines were rewritten by BackfillHashChain.
type BackfillResult struct {
	Rewritten int
	Skipped   bool
}

// BackfillHashChain assigns event_id and recomputes the hash chain for a
// pre-envelope events.jsonl file (lines missing event_id/event_hash),
// recording completion in company/migrations/applied.yaml so a re-run is
// a no-op unless force is set.
func BackfillHashChain(ws *workspace.Workspace, path string, force bool) (BackfillResult, error) {
	ledger, err := ws.ReadMigrationLedger()
	if err != nil {
		return BackfillResult{}, fmt.Errorf("eventlog: read migration ledger: %w", err)
	}
	migrationKey := migrationBackfillName + ":" + path
	if !force && ledger.HasApplied(migrationKey) {
		return BackfillResult{Skipped: true}, nil
	}

	lines, err := ReadRawLines(path)
	if err != nil {
		return BackfillResult{}, err
	}

	var prevHash *string
	rewritten := make([]Envelope, 0, len(lines))
	for _, raw := range lines {
		var e Envelope
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			// Leave genuinely unparseable lines untouched; they surface
			// as parse errors on subsequent reads, which is expected.
			continue
		}
		if e.EventID == "" {
			e.EventID = uuid.NewString()
		}
		if e.SchemaVersion == 0 {
			e.SchemaVersion = 1
		}
		e.PrevEventHash = prevHash
		hash, err := ComputeHash(e)
		if err != nil {
			return BackfillResult{}, err
		}
		e.EventHash = hash
		h := hash
		prevHash = &h
		rewritten = append(rewritten, e)
	}

	if err := writeEnvelopes(path, rewritten); err != nil {
		return BackfillResult{}, err
	}

	ledger.Applied = append(ledger.Applied, workspace.MigrationRecord{
		Name:      migrationKey,
		AppliedAt: time.Now().UTC(),
	})
	if err := ws.WriteMigrationLedger(ledger); err != nil {
		return BackfillResult{}, fmt.Errorf("eventlog: record migration: %w", err)
	}

	return BackfillResult{Rewritten: len(rewritten)}, nil
}

func ReadRawLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var lines []string
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, string(data[start:i]))
			}
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, string(data[start:]))
	}
	return lines, nil
}

func writeEnvelopes(path string, envs []Envelope) error {
	var buf []byte
	for _, e := range envs {
		line, err := json.Marshal(e)
		if err != nil {
			return err
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	return workspace.AtomicWriteFile(path, buf, 0o644)
}
