package scoring

import (
	"context"
	"sort"
	"strings"

	"toolplane/internal/catalog"
	"toolplane/internal/events"
	"toolplane/pkg/logging"
)

const subsystem = "Scoring"

// ToolScore is one ranked candidate.
type ToolScore struct {
	Tool      catalog.Tool `json:"tool"`
	Score     float64      `json:"score"`
	Rationale string       `json:"rationale"`
}

// Scorer ranks a tool catalog against a free-text task description. Results
// come back ordered best-first; ties are broken by fewer words in the tool
// name (a specificity proxy) and then lexically by tool ID so repeated calls
// over the same catalog are deterministic.
type Scorer interface {
	Score(ctx context.Context, description string, tools []catalog.Tool) ([]ToolScore, error)
}

const (
	exactWeight     = 1.0
	substringWeight = 0.4
)

// Keyword is the baseline scorer: weighted token overlap between the task
// description and each tool's name plus description, normalized by the tool's
// token count so verbose descriptions gain no advantage.
type Keyword struct{}

// Score never returns an error; it exists to satisfy Scorer.
func (Keyword) Score(ctx context.Context, description string, tools []catalog.Tool) ([]ToolScore, error) {
	taskTokens := tokenize(description)

	scores := make([]ToolScore, 0, len(tools))
	for _, tool := range tools {
		toolTokens := tokenize(tool.Name + " " + tool.Description)
		score, matched := overlap(taskTokens, toolTokens)
		ts := ToolScore{Tool: tool, Score: score}
		if len(matched) > 0 {
			ts.Rationale = "matched: " + strings.Join(matched, ", ")
		}
		scores = append(scores, ts)
	}
	sortScores(scores)
	return scores, nil
}

// overlap sums exact and substring matches of task tokens against the tool's
// tokens, normalized by 1+len(toolTokens). Each task token counts once.
func overlap(taskTokens, toolTokens []string) (float64, []string) {
	toolSet := make(map[string]bool, len(toolTokens))
	for _, t := range toolTokens {
		toolSet[t] = true
	}

	var sum float64
	var matched []string
	seen := make(map[string]bool, len(taskTokens))
	for _, t := range taskTokens {
		if seen[t] {
			continue
		}
		seen[t] = true
		switch {
		case toolSet[t]:
			sum += exactWeight
			matched = append(matched, t)
		case len(t) >= 3 && containsSubstring(toolTokens, t):
			sum += substringWeight
			matched = append(matched, t+"~")
		}
	}
	return sum / float64(1+len(toolTokens)), matched
}

func containsSubstring(tokens []string, t string) bool {
	for _, tok := range tokens {
		if strings.Contains(tok, t) || strings.Contains(t, tok) {
			return true
		}
	}
	return false
}

// tokenize lowercases and splits on every non-alphanumeric rune.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}

// sortScores orders best-first with the deterministic tie-break chain.
func sortScores(scores []ToolScore) {
	sort.Slice(scores, func(i, j int) bool {
		a, b := scores[i], scores[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		aw, bw := len(tokenize(a.Tool.Name)), len(tokenize(b.Tool.Name))
		if aw != bw {
			return aw < bw
		}
		return a.Tool.ID < b.Tool.ID
	})
}

// Hybrid blends the keyword baseline with an optional pluggable scorer:
// final = keywordWeight*keyword + aiWeight*ai. A nil or failing AI scorer
// degrades to keyword-only; scoring as a whole never fails because of it.
type Hybrid struct {
	Keyword       Scorer
	AI            Scorer
	KeywordWeight float64
	AIWeight      float64
	Recorder      *events.Recorder
}

// NewHybrid wires the keyword baseline with the given weights. ai may be nil.
func NewHybrid(ai Scorer, keywordWeight, aiWeight float64, recorder *events.Recorder) *Hybrid {
	return &Hybrid{
		Keyword:       Keyword{},
		AI:            ai,
		KeywordWeight: keywordWeight,
		AIWeight:      aiWeight,
		Recorder:      recorder,
	}
}

func (h *Hybrid) Score(ctx context.Context, description string, tools []catalog.Tool) ([]ToolScore, error) {
	kw, err := h.Keyword.Score(ctx, description, tools)
	if err != nil {
		return nil, err
	}

	scores := make([]ToolScore, len(kw))
	for i, ts := range kw {
		ts.Score *= h.KeywordWeight
		scores[i] = ts
	}

	if h.AI != nil && h.AIWeight != 0 {
		ai, err := h.AI.Score(ctx, description, tools)
		if err != nil {
			logging.Warn(subsystem, "AI scorer failed, degrading to keyword-only: %v", err)
			if h.Recorder != nil {
				h.Recorder.Record(events.ReasonScoringDegraded, "", "", err.Error())
			}
		} else {
			byID := make(map[string]float64, len(ai))
			for _, ts := range ai {
				byID[ts.Tool.ID] = ts.Score
			}
			for i := range scores {
				scores[i].Score += h.AIWeight * byID[scores[i].Tool.ID]
			}
		}
	}

	sortScores(scores)
	return scores, nil
}
