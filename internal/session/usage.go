package session

import (
	"encoding/json"
	"strings"

	"github.com/antigravity-dev/agentco/internal/workspace"
)

// tokenUsageShape matches the {input_tokens,output_tokens,...} shape
// emitted by claude_stream_json result payloads.
type tokenUsageShape struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CachedInputTokens   int `json:"cached_input_tokens"`
	ReasoningOutputTok  int `json:"reasoning_output_tokens"`
	TotalTokens         int `json:"total_tokens"`
}

// openAIUsageShape matches the {prompt_tokens,completion_tokens,...}
// shape some providers emit instead.
type openAIUsageShape struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ExtractUsage is a pure function over raw provider output lines: it
// tries each known usage shape on every line and keeps whichever
// candidate reports the highest total, since providers sometimes emit
// multiple usage lines (partial + final) in one stream.
func ExtractUsage(lines []string) *workspace.Usage {
	var best *workspace.Usage
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || line[0] != '{' {
			continue
		}
		if u := tryTokenUsageShape(line); u != nil {
			best = keepHigherTotal(best, u)
		}
		if u := tryOpenAIUsageShape(line); u != nil {
			best = keepHigherTotal(best, u)
		}
	}
	return best
}

func tryTokenUsageShape(line string) *workspace.Usage {
	var probe struct {
		TokenUsage *tokenUsageShape `json:"tokenUsage"`
		Usage      *tokenUsageShape `json:"usage"`
	}
	if err := json.Unmarshal([]byte(line), &probe); err != nil {
		return nil
	}
	shape := probe.TokenUsage
	if shape == nil {
		shape = probe.Usage
	}
	if shape == nil || (shape.InputTokens == 0 && shape.OutputTokens == 0 && shape.TotalTokens == 0) {
		return nil
	}
	total := shape.TotalTokens
	if total == 0 {
		total = shape.InputTokens + shape.OutputTokens + shape.ReasoningOutputTok
	}
	return &workspace.Usage{
		Source:       workspace.UsageProviderReported,
		Confidence:   1.0,
		InputTokens:  shape.InputTokens,
		OutputTokens: shape.OutputTokens,
		TotalTokens:  total,
	}
}

func tryOpenAIUsageShape(line string) *workspace.Usage {
	var probe struct {
		Usage *openAIUsageShape `json:"usage"`
	}
	if err := json.Unmarshal([]byte(line), &probe); err != nil || probe.Usage == nil {
		return nil
	}
	shape := probe.Usage
	if shape.PromptTokens == 0 && shape.CompletionTokens == 0 && shape.TotalTokens == 0 {
		return nil
	}
	total := shape.TotalTokens
	if total == 0 {
		total = shape.PromptTokens + shape.CompletionTokens
	}
	return &workspace.Usage{
		Source:       workspace.UsageProviderReported,
		Confidence:   1.0,
		InputTokens:  shape.PromptTokens,
		OutputTokens: shape.CompletionTokens,
		TotalTokens:  total,
	}
}

func keepHigherTotal(best, candidate *workspace.Usage) *workspace.Usage {
	if best == nil || candidate.TotalTokens > best.TotalTokens {
		return candidate
	}
	return best
}

// EstimateUsageFromChars derives a character-based usage estimate
// (tokens ≈ chars/4, minimum 1) when no provider usage line was
// observed in the stream.
func EstimateUsageFromChars(chars int) *workspace.Usage {
	tokens := chars / 4
	if tokens < 1 {
		tokens = 1
	}
	return &workspace.Usage{
		Source:      workspace.UsageEstimatedChars,
		Confidence:  0.3,
		TotalTokens: tokens,
	}
}

// DeriveCost fills usage.CostUSD from a provider's rate card. A missing
// rate leaves CostUSD nil rather than guessing; this never reaches the
// network.
func DeriveCost(u *workspace.Usage, rate *workspace.ProviderPricing) {
	if u == nil || rate == nil {
		return
	}
	if rate.Input == 0 && rate.Output == 0 {
		return
	}
	cost := float64(u.InputTokens)/1000*rate.Input + float64(u.OutputTokens)/1000*rate.Output
	u.CostUSD = &cost
}
