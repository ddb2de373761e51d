package heartbeat

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/antigravity-dev/agentco/internal/index"
	"github.com/antigravity-dev/agentco/internal/workspace"
)

// triageCounts is the per-worker input to the wake-scoring formula.
type triageCounts struct {
	newSignals   int
	dueTasks     int
	overdueTasks int
	stuckJobs    int
}

// candidate is one worker agent considered for this tick, with its
// score and the project it would be assigned if woken.
type candidate struct {
	agentID       string
	score         int
	counts        triageCounts
	contextHash   string
	bestProjectID string
}

// gatherCandidates computes triage counts and scores for every agent in
// workerIDs across every project in the workspace. Only the IDs passed
// in are scored; tickWorkspace passes worker-kind agents only, so
// director agents are never scored.
func gatherCandidates(ws *workspace.Workspace, ix *index.Index, cfg Config, st *State, now time.Time, workerIDs []string) ([]candidate, error) {
	projectIDs, err := ws.ListProjectIDs()
	if err != nil {
		return nil, err
	}

	out := make([]candidate, 0, len(workerIDs))
	for _, agentID := range workerIDs {
		counts := triageCounts{}
		bestProject := ""
		bestProjectScore := -1

		for _, projectID := range projectIDs {
			projScore := 0

			runs, err := ix.ListRuns(projectID)
			if err != nil {
				return nil, err
			}
			for _, r := range runs {
				if r.AgentID != agentID {
					continue
				}
				cursorKey := projectID + "::" + r.RunID
				lastSeq := st.RunEventCursors[cursorKey]
				events, err := index.ListEvents(ix, projectID, r.RunID, lastSeq, 0, true)
				if err != nil {
					return nil, err
				}
				if len(events) > 0 {
					counts.newSignals += len(events)
					projScore += len(events)
					st.RunEventCursors[cursorKey] = events[len(events)-1].Seq
				}

				if r.Status == "running" {
					elapsed := now.Sub(r.CreatedAt)
					if elapsed > time.Duration(cfg.StuckJobRunningMinutes)*time.Minute {
						counts.stuckJobs++
						projScore++
					}
				}
			}

			failedAttempts := 0
			for _, r := range runs {
				if r.AgentID == agentID && r.Status == "failed" {
					failedAttempts++
				}
			}
			if failedAttempts >= 2 {
				counts.stuckJobs++
				projScore++
			}

			tasks, err := ix.ListTasks(projectID)
			if err != nil {
				return nil, err
			}
			for _, t := range tasks {
				if t.AssigneeAgentID != agentID || t.PlannedEnd == nil {
					continue
				}
				if t.PlannedEnd.Before(now) {
					counts.overdueTasks++
					projScore++
				} else if t.PlannedEnd.Before(now.Add(time.Duration(cfg.DueHorizonMinutes) * time.Minute)) {
					counts.dueTasks++
					projScore++
				}
			}

			if projScore > bestProjectScore {
				bestProjectScore = projScore
				bestProject = projectID
			}
		}

		hash := contextFingerprint(agentID, "worker", counts, st.RunEventCursors)
		score := scoreFor(counts, cfg, st.WorkerState[agentID], hash, now)

		out = append(out, candidate{
			agentID:       agentID,
			score:         score,
			counts:        counts,
			contextHash:   hash,
			bestProjectID: bestProject,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].agentID < out[j].agentID
	})
	return out, nil
}

// scoreFor implements the wake-scoring formula: weighted signal presence
// minus suppression for an unchanged context with a recent ok report,
// minus a flat penalty during quiet hours.
func scoreFor(c triageCounts, cfg Config, ws WorkerState, contextHash string, now time.Time) int {
	score := 0
	if c.newSignals > 0 {
		score += 5
	}
	if c.dueTasks > 0 {
		score += 3
	}
	if c.overdueTasks > 0 {
		score += 2
	}
	if c.stuckJobs > 0 {
		score += 4
	}

	contextUnchanged := ws.LastContextHash != "" && ws.LastContextHash == contextHash
	lastOKRecent := ws.LastOKAt != nil && now.Sub(*ws.LastOKAt) <= time.Duration(cfg.OKSuppressionMinutes)*time.Minute
	if contextUnchanged && lastOKRecent {
		score -= 3
	}
	if cfg.QuietHours.Contains(now) {
		score -= 2
	}
	return score
}

// contextFingerprint hashes everything that should invalidate a prior
// suppression if it changes: who's being scored, what kind of worker
// they are, their triage counts, and the event cursors that produced
// them.
func contextFingerprint(agentID, kind string, c triageCounts, cursors map[string]int) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%d|%d|%d", agentID, kind, c.newSignals, c.dueTasks, c.overdueTasks, c.stuckJobs)
	keys := make([]string, 0, len(cursors))
	for k := range cursors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "|%s=%d", k, cursors[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (s WorkerState) suppressed(now time.Time) bool {
	return s.SuppressedUntil != nil && now.Before(*s.SuppressedUntil)
}
