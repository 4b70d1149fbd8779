package report

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/jetbot/interview-gateway/internal/store"
)

// Analysis is the validated scorer output.
type Analysis struct {
	KeyStrengths        []store.Strength
	AreasForImprovement []store.Improvement
	Ratings             store.Ratings
}

type rawAnalysis struct {
	KeyStrengths        []store.Strength    `json:"key_strengths"`
	AreasForImprovement []store.Improvement `json:"areas_for_improvement"`
	Ratings             map[string]float64  `json:"ratings"`
}

var ratingKeys = []string{"technical", "communication", "problem_solving", "time_mgmt"}

func fallbackStrengths() []store.Strength {
	return []store.Strength{
		{Area: "Communication", Example: "Candidate participated in the interview process", Rating: 3},
		{Area: "Engagement", Example: "Candidate responded to interview questions", Rating: 3},
	}
}

func fallbackImprovements() []store.Improvement {
	return []store.Improvement{
		{Area: "Response Depth", Suggestions: "Provide more detailed and elaborate answers to questions"},
		{Area: "Technical Clarity", Suggestions: "Use specific examples when discussing technical concepts"},
	}
}

func fallbackRatings() store.Ratings {
	return store.Ratings{Technical: 3, Communication: 3, ProblemSolving: 3, TimeManagement: 3, Total: 12}
}

// normalize fills empty sections with fallback entries and computes a
// missing total.
func normalize(raw rawAnalysis, logger zerolog.Logger) *Analysis {
	a := &Analysis{
		KeyStrengths:        raw.KeyStrengths,
		AreasForImprovement: raw.AreasForImprovement,
	}

	if len(a.KeyStrengths) == 0 {
		logger.Warn().Msg("Scorer returned no strengths, using fallback")
		a.KeyStrengths = fallbackStrengths()
	}
	if len(a.AreasForImprovement) == 0 {
		logger.Warn().Msg("Scorer returned no improvements, using fallback")
		a.AreasForImprovement = fallbackImprovements()
	}

	complete := raw.Ratings != nil
	for _, k := range ratingKeys {
		if _, ok := raw.Ratings[k]; !ok {
			complete = false
		}
	}
	if !complete {
		logger.Warn().Msg("Scorer returned incomplete ratings, using fallback")
		a.Ratings = fallbackRatings()
		return a
	}

	a.Ratings = store.Ratings{
		Technical:      rating(raw.Ratings["technical"]),
		Communication:  rating(raw.Ratings["communication"]),
		ProblemSolving: rating(raw.Ratings["problem_solving"]),
		TimeManagement: rating(raw.Ratings["time_mgmt"]),
		Total:          rating(raw.Ratings["total"]),
	}
	if a.Ratings.Total == 0 {
		a.Ratings.Total = a.Ratings.Technical + a.Ratings.Communication +
			a.Ratings.ProblemSolving + a.Ratings.TimeManagement
	}
	return a
}

func rating(v float64) int {
	return int(math.Round(v))
}
