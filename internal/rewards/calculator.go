// Package rewards derives contribution points from a verification verdict
// and applies them to the contributor's cumulative totals.
package rewards

// Subject rarity tiers, in descending scarcity.
const (
	TierCritical      = "Critical"
	TierHigh          = "High"
	TierMedium        = "Medium"
	TierStandard      = "Standard"
	TierOversaturated = "Oversaturated"
)

// Contributor tiers over cumulative points.
var tierThresholds = []struct {
	Name      string
	Threshold int64
}{
	{"Legend", 100000},
	{"Diamond", 50000},
	{"Platinum", 25000},
	{"Gold", 10000},
	{"Silver", 5000},
	{"Bronze", 1000},
	{"Contributor", 0},
}

// TierForPoints returns the contributor tier for a cumulative point total.
func TierForPoints(totalPoints int64) string {
	for _, tier := range tierThresholds {
		if totalPoints >= tier.Threshold {
			return tier.Name
		}
	}
	return "Contributor"
}

// Input carries everything the applier needs to award one submission.
type Input struct {
	SessionID          string
	WalletAddress      string
	RarityScore        int
	QualityScore       float64
	SampleCount        int
	IsFirstBulk        bool
	SubjectRarityTier  string
	SpecificityGrade   string
	VerificationStatus string
}

// Breakdown records the awarded points and every multiplier that produced
// them. It is persisted on the submission record.
type Breakdown struct {
	Points                 int64   `json:"points"`
	RarityScore            int     `json:"rarity_score"`
	QualityMultiplier      float64 `json:"quality_multiplier"`
	BulkMultiplier         float64 `json:"bulk_multiplier"`
	SubjectMultiplier      float64 `json:"subject_rarity_multiplier"`
	SpecificityMultiplier  float64 `json:"specificity_multiplier"`
	VerificationMultiplier float64 `json:"verification_multiplier"`
	EarlyMultiplier        float64 `json:"early_contributor_multiplier"`
	TotalMultiplier        float64 `json:"total_multiplier"`
}

// QualityMultiplier maps a technical quality score to its bonus.
func QualityMultiplier(qualityScore float64) float64 {
	switch {
	case qualityScore >= 0.9:
		return 1.5
	case qualityScore >= 0.75:
		return 1.3
	case qualityScore >= 0.6:
		return 1.15
	case qualityScore >= 0.4:
		return 1.05
	default:
		return 1.0
	}
}

// BulkMultiplier rewards large submissions; the first bulk contribution for
// a subject earns a doubled bonus.
func BulkMultiplier(sampleCount int, isFirstBulk bool) float64 {
	switch {
	case isFirstBulk && sampleCount >= 100:
		return 2.0
	case sampleCount >= 50:
		return 1.2
	default:
		return 1.0
	}
}

// SubjectMultiplier maps a subject rarity tier to its bonus, defaulting to
// Standard for unknown tiers.
func SubjectMultiplier(rarityTier string) float64 {
	switch rarityTier {
	case TierCritical:
		return 5.0
	case TierHigh:
		return 3.0
	case TierMedium:
		return 2.0
	case TierOversaturated:
		return 0.5
	default:
		return 1.0
	}
}

// SpecificityMultiplier maps a specificity grade to its bonus, defaulting to
// grade D for unknown grades.
func SpecificityMultiplier(grade string) float64 {
	switch grade {
	case "A":
		return 1.3
	case "B":
		return 1.2
	case "C":
		return 1.1
	case "D":
		return 1.05
	case "E", "F":
		return 1.0
	default:
		return 1.05
	}
}

// VerificationMultiplier maps a verification status to its bonus.
func VerificationMultiplier(status string) float64 {
	switch status {
	case "verified":
		return 1.2
	case "partially_verified":
		return 1.1
	default:
		return 1.0
	}
}

// EarlyMultiplier rewards contributions while the marketplace is young,
// keyed on the global submission count at award time.
func EarlyMultiplier(totalSubmissions int64) float64 {
	switch {
	case totalSubmissions < 100:
		return 1.5
	case totalSubmissions < 500:
		return 1.3
	case totalSubmissions < 1000:
		return 1.2
	default:
		return 1.0
	}
}

// Calculate derives the point award and multiplier breakdown for one
// submission. totalSubmissions is the global submission count at award time.
func Calculate(in Input, totalSubmissions int64) Breakdown {
	qualityMult := QualityMultiplier(in.QualityScore)
	bulkMult := BulkMultiplier(in.SampleCount, in.IsFirstBulk)
	subjectMult := SubjectMultiplier(in.SubjectRarityTier)
	specificityMult := SpecificityMultiplier(in.SpecificityGrade)
	verificationMult := VerificationMultiplier(in.VerificationStatus)
	earlyMult := EarlyMultiplier(totalSubmissions)

	totalMult := qualityMult * bulkMult * subjectMult * specificityMult * verificationMult * earlyMult
	points := int64(float64(in.RarityScore) * totalMult)

	return Breakdown{
		Points:                 points,
		RarityScore:            in.RarityScore,
		QualityMultiplier:      qualityMult,
		BulkMultiplier:         bulkMult,
		SubjectMultiplier:      subjectMult,
		SpecificityMultiplier:  specificityMult,
		VerificationMultiplier: verificationMult,
		EarlyMultiplier:        earlyMult,
		TotalMultiplier:        totalMult,
	}
}

// IsRareSubject reports whether the tier counts toward the contributor's
// rare-subject statistics.
func IsRareSubject(rarityTier string) bool {
	return rarityTier == TierCritical || rarityTier == TierHigh
}
