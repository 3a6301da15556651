package responder

import "strings"

// Confidence heuristic weights. The provider reports no confidence, so the
// score is derived from observable reply features and kept tunable here,
// away from any I/O.
const (
	baseConfidence     = 0.9
	truncationPenalty  = 0.3
	shortReplyPenalty  = 0.2
	hedgePenalty       = 0.15
	maxHedgePenalty    = 0.3
	shortReplyMaxChars = 20
)

var hedgePhrases = []string{
	"not sure",
	"i'm unsure",
	"might be",
	"may be",
	"could you clarify",
	"i don't know",
	"i do not know",
	"hard to say",
	"it depends",
	"can't be certain",
}

// Score computes the heuristic confidence for a reply: start from a base,
// penalize truncation, very short replies, and hedging phrases, then clamp
// to [0, 1]. Pure function of its inputs.
func Score(finishReason, content string) float64 {
	score := baseConfidence

	if finishReason != "" && finishReason != "stop" {
		score -= truncationPenalty
	}

	trimmed := strings.TrimSpace(content)
	if len(trimmed) < shortReplyMaxChars {
		score -= shortReplyPenalty
	}

	hedges := 0.0
	lower := strings.ToLower(trimmed)
	for _, phrase := range hedgePhrases {
		if strings.Contains(lower, phrase) {
			hedges += hedgePenalty
		}
	}
	if hedges > maxHedgePenalty {
		hedges = maxHedgePenalty
	}
	score -= hedges

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
