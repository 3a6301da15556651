package intake

import "strings"

// Lead labels.
const (
	ScoreHot  = "hot"
	ScoreWarm = "warm"
	ScoreCold = "cold"
)

// Scoring weights: budget tier dominates, timeline urgency and a captured
// email each add. Buckets: hot >= 5, warm >= 3, cold otherwise.
func ScoreLead(st State) string {
	total := budgetPoints(st.Budget) + timelinePoints(st.Timeline) + emailPoints(st.Email)
	switch {
	case total >= 5:
		return ScoreHot
	case total >= 3:
		return ScoreWarm
	default:
		return ScoreCold
	}
}

func budgetPoints(band string) int {
	switch band {
	case "150k+":
		return 3
	case "50k-150k":
		return 2
	case "15k-50k":
		return 1
	default:
		return 0
	}
}

func timelinePoints(timeline string) int {
	t := strings.ToLower(timeline)
	switch {
	case t == "asap" || strings.Contains(t, "urgent"):
		return 2
	case t == "1-3 months":
		return 1
	default:
		return 0
	}
}

func emailPoints(email string) int {
	if email != "" {
		return 2
	}
	return 0
}
