package heartbeat

import (
	"math/rand"
	"time"
)

// wakeTarget is one worker selected to be woken this tick, with the
// project it should act on and its randomized dispatch jitter.
type wakeTarget struct {
	agentID       string
	projectID     string
	score         int
	contextHash   string
	jitterSeconds int
}

// selectWakeTargets filters candidates to those scoring at least
// MinWakeScore and not currently suppressed, then takes the top
// TopKWorkers (candidates already arrive sorted score desc, agent_id
// asc) and assigns each a uniform random jitter in [0,JitterMaxSeconds].
func selectWakeTargets(candidates []candidate, cfg Config, st *State, now time.Time) []wakeTarget {
	var eligible []candidate
	for _, c := range candidates {
		if c.score < cfg.MinWakeScore {
			continue
		}
		if st.WorkerState[c.agentID].suppressed(now) {
			continue
		}
		eligible = append(eligible, c)
	}

	topK := cfg.TopKWorkers
	if topK <= 0 || topK > len(eligible) {
		topK = len(eligible)
	}

	targets := make([]wakeTarget, 0, topK)
	for _, c := range eligible[:topK] {
		jitter := 0
		if cfg.JitterMaxSeconds > 0 {
			jitter = rand.Intn(cfg.JitterMaxSeconds + 1)
		}
		targets = append(targets, wakeTarget{
			agentID:       c.agentID,
			projectID:     c.bestProjectID,
			score:         c.score,
			contextHash:   c.contextHash,
			jitterSeconds: jitter,
		})
	}
	return targets
}
