package llm

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/audio-verifier/internal/session"
)

// Analysis price bounds.
const (
	minSuggestedPrice = 3.0
	maxSuggestedPrice = 10.0
)

// defaultAnalysis is returned when the response cannot be parsed. The stage
// is never failed over a parse problem.
func defaultAnalysis() *session.AnalysisResult {
	return &session.AnalysisResult{
		QualityScore:   0.5,
		SuggestedPrice: minSuggestedPrice,
		SafetyPassed:   true,
		Insights: []string{
			"Analysis completed but response parsing failed",
			"Manual review recommended",
		},
		Concerns:        []string{"Unable to parse detailed analysis"},
		Recommendations: map[string][]string{},
		RarityScore:     50,
	}
}

// extractJSON strips an optional markdown code fence around the JSON body.
func extractJSON(text string) string {
	if idx := strings.Index(text, "```json"); idx != -1 {
		start := idx + len("```json")
		if end := strings.Index(text[start:], "```"); end != -1 {
			return strings.TrimSpace(text[start : start+end])
		}
	}
	return strings.TrimSpace(text)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ParseAnalysis parses the analysis response into a structured result. It
// never fails: malformed responses yield the safe defaults, a clamped
// qualityScore in [0,1] and suggestedPrice in [3,10].
func ParseAnalysis(text string) *session.AnalysisResult {
	raw := extractJSON(text)
	if !gjson.Valid(raw) {
		return defaultAnalysis()
	}

	parsed := gjson.Parse(raw)

	// The response must carry at least a numeric quality score, a boolean
	// safety flag, and an insights array to be trusted at all.
	qualityScore := parsed.Get("qualityScore")
	safetyPassed := parsed.Get("safetyPassed")
	insights := parsed.Get("insights")
	if qualityScore.Type != gjson.Number ||
		(safetyPassed.Type != gjson.True && safetyPassed.Type != gjson.False) ||
		!insights.IsArray() {
		return defaultAnalysis()
	}

	result := &session.AnalysisResult{
		QualityScore: clamp(qualityScore.Float(), 0, 1),
		SafetyPassed: safetyPassed.Bool(),
		Insights:     stringSlice(insights),
		Concerns:     stringSlice(parsed.Get("concerns")),
	}

	price := parsed.Get("suggestedPrice")
	if price.Type == gjson.Number {
		result.SuggestedPrice = clamp(price.Float(), minSuggestedPrice, maxSuggestedPrice)
	} else {
		result.SuggestedPrice = minSuggestedPrice
	}

	rarity := parsed.Get("rarityScore")
	if rarity.Type == gjson.Number {
		result.RarityScore = int(clamp(rarity.Float(), 0, 100))
	} else {
		// Older analysis responses carry no rarity estimate; derive one from
		// the quality score so downstream rewards stay meaningful.
		result.RarityScore = int(math.Round(result.QualityScore * 100))
	}

	result.OverallSummary = parsed.Get("overallSummary").String()
	result.Recommendations = parseRecommendations(parsed.Get("recommendations"))

	if qa := parsed.Get("qualityAnalysis"); qa.IsObject() {
		var analysis session.QualityAnalysis
		if err := json.Unmarshal([]byte(qa.Raw), &analysis); err == nil {
			result.QualityAnalysis = &analysis
		}
	}
	if pa := parsed.Get("priceAnalysis"); pa.IsObject() {
		var analysis session.PriceAnalysis
		if err := json.Unmarshal([]byte(pa.Raw), &analysis); err == nil {
			result.PriceAnalysis = &analysis
		}
	}

	return result
}

// parseRecommendations accepts both the categorized object form and the
// legacy flat list form.
func parseRecommendations(value gjson.Result) map[string][]string {
	switch {
	case value.IsObject():
		out := make(map[string][]string)
		value.ForEach(func(key, val gjson.Result) bool {
			if val.IsArray() {
				out[key.String()] = stringSlice(val)
			}
			return true
		})
		return out
	case value.IsArray():
		flat := stringSlice(value)
		if len(flat) == 0 {
			return map[string][]string{}
		}
		return map[string][]string{"suggested": flat}
	default:
		return map[string][]string{}
	}
}

// ParsePerFile parses the per-file analysis response. A nil result means the
// response was unusable; per-file analysis is best effort.
func ParsePerFile(text string) []session.FileAnalysis {
	raw := extractJSON(text)
	if !gjson.Valid(raw) {
		return nil
	}

	analyses := gjson.Parse(raw).Get("fileAnalyses")
	if !analyses.IsArray() {
		return nil
	}

	var out []session.FileAnalysis
	if err := json.Unmarshal([]byte(analyses.Raw), &out); err != nil {
		return nil
	}
	return out
}

func stringSlice(value gjson.Result) []string {
	if !value.IsArray() {
		return []string{}
	}
	items := value.Array()
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.String())
	}
	return out
}
