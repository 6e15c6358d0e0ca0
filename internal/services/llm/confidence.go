package llm

import (
	"math"

	openai "github.com/sashabaranov/go-openai"
)

// segmentConfidence converts per-segment average log probabilities into a
// duration-weighted probability in [0, 1]. Responses without segments report 0.
func segmentConfidence(resp openai.AudioResponse) float64 {
	var weighted, total float64
	for _, seg := range resp.Segments {
		span := seg.End - seg.Start
		if span <= 0 {
			span = 1
		}
		weighted += math.Exp(seg.AvgLogprob) * span
		total += span
	}
	if total == 0 {
		return 0
	}
	return clamp01(weighted / total)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
