package quality

import (
	"github.com/R3E-Network/audio-verifier/internal/config"
	"github.com/R3E-Network/audio-verifier/internal/session"
)

// Score computes an intuitive 0-100 quality score from the technical
// metrics. A failed check scores zero; each threshold violation deducts a
// fixed penalty from 100.
func Score(q *session.QualityResult, tuning config.Tuning) int {
	if q == nil || !q.Passed {
		return 0
	}

	score := 100

	if q.Duration < tuning.Quality.MinDuration || q.Duration > tuning.Quality.MaxDuration {
		score -= 25
	}
	if q.SampleRate < tuning.Quality.MinSampleRate {
		score -= 25
	}
	if q.ClippingDetected {
		score -= 20
	}
	if q.SilencePercent >= tuning.Quality.MaxSilencePercent {
		score -= 15
	}
	if !q.VolumeOK {
		score -= 15
	}

	if score < 0 {
		score = 0
	}
	return score
}
