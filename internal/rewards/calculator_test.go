package rewards

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQualityMultiplierBoundaries(t *testing.T) {
	cases := []struct {
		score float64
		want  float64
	}{
		{1.0, 1.5},
		{0.9000, 1.5},
		{0.8999, 1.3},
		{0.75, 1.3},
		{0.7499, 1.15},
		{0.6, 1.15},
		{0.5999, 1.05},
		{0.4, 1.05},
		{0.3999, 1.0},
		{0.0, 1.0},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.want, QualityMultiplier(tc.score), "score %v", tc.score)
	}
}

func TestBulkMultiplier(t *testing.T) {
	assert.Equal(t, 2.0, BulkMultiplier(100, true))
	assert.Equal(t, 2.0, BulkMultiplier(250, true))
	// First-bulk flag alone is not enough below 100 samples.
	assert.Equal(t, 1.2, BulkMultiplier(99, true))
	assert.Equal(t, 1.2, BulkMultiplier(50, false))
	assert.Equal(t, 1.0, BulkMultiplier(49, false))
	assert.Equal(t, 1.0, BulkMultiplier(1, false))
}

func TestSubjectMultiplier(t *testing.T) {
	assert.Equal(t, 5.0, SubjectMultiplier(TierCritical))
	assert.Equal(t, 3.0, SubjectMultiplier(TierHigh))
	assert.Equal(t, 2.0, SubjectMultiplier(TierMedium))
	assert.Equal(t, 1.0, SubjectMultiplier(TierStandard))
	assert.Equal(t, 0.5, SubjectMultiplier(TierOversaturated))
	// Unknown tiers default to Standard.
	assert.Equal(t, 1.0, SubjectMultiplier(""))
	assert.Equal(t, 1.0, SubjectMultiplier("Mythic"))
}

func TestSpecificityMultiplier(t *testing.T) {
	assert.Equal(t, 1.3, SpecificityMultiplier("A"))
	assert.Equal(t, 1.2, SpecificityMultiplier("B"))
	assert.Equal(t, 1.1, SpecificityMultiplier("C"))
	assert.Equal(t, 1.05, SpecificityMultiplier("D"))
	assert.Equal(t, 1.0, SpecificityMultiplier("E"))
	assert.Equal(t, 1.0, SpecificityMultiplier("F"))
	// Unknown grades default to D.
	assert.Equal(t, 1.05, SpecificityMultiplier(""))
	assert.Equal(t, 1.05, SpecificityMultiplier("Z"))
}

func TestVerificationMultiplier(t *testing.T) {
	assert.Equal(t, 1.2, VerificationMultiplier("verified"))
	assert.Equal(t, 1.1, VerificationMultiplier("partially_verified"))
	assert.Equal(t, 1.0, VerificationMultiplier("unverified"))
	assert.Equal(t, 1.0, VerificationMultiplier(""))
}

func TestEarlyMultiplier(t *testing.T) {
	assert.Equal(t, 1.5, EarlyMultiplier(0))
	assert.Equal(t, 1.5, EarlyMultiplier(99))
	assert.Equal(t, 1.3, EarlyMultiplier(100))
	assert.Equal(t, 1.3, EarlyMultiplier(499))
	assert.Equal(t, 1.2, EarlyMultiplier(500))
	assert.Equal(t, 1.2, EarlyMultiplier(999))
	assert.Equal(t, 1.0, EarlyMultiplier(1000))
}

func TestCalculate(t *testing.T) {
	in := Input{
		RarityScore:        60,
		QualityScore:       0.8,
		SampleCount:        1,
		SubjectRarityTier:  TierStandard,
		SpecificityGrade:   "E",
		VerificationStatus: "unverified",
	}
	// 60 * 1.3 * 1.0 * 1.0 * 1.0 * 1.0 * 1.0 = 78 at >=1000 submissions.
	b := Calculate(in, 5000)
	assert.Equal(t, int64(78), b.Points)
	assert.Equal(t, 1.3, b.QualityMultiplier)
	assert.Equal(t, 1.0, b.EarlyMultiplier)

	// Early-contributor window boosts the same submission.
	b = Calculate(in, 0)
	assert.Equal(t, 1.5, b.EarlyMultiplier)
	assert.Equal(t, int64(117), b.Points)
}

func TestCalculateFloorsPoints(t *testing.T) {
	b := Calculate(Input{RarityScore: 1, QualityScore: 0.1, SubjectRarityTier: TierOversaturated, SpecificityGrade: "E"}, 5000)
	// 1 * 1.0 * 1.0 * 0.5 * 1.0 * 1.0 * 1.0 = 0.5, truncated to 0.
	assert.Equal(t, int64(0), b.Points)
}

func TestTierForPoints(t *testing.T) {
	cases := []struct {
		points int64
		want   string
	}{
		{0, "Contributor"},
		{999, "Contributor"},
		{1000, "Bronze"},
		{4999, "Bronze"},
		{5000, "Silver"},
		{10000, "Gold"},
		{25000, "Platinum"},
		{50000, "Diamond"},
		{99999, "Diamond"},
		{100000, "Legend"},
		{250000, "Legend"},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.want, TierForPoints(tc.points), "points %d", tc.points)
	}
}

func TestIsRareSubject(t *testing.T) {
	assert.True(t, IsRareSubject(TierCritical))
	assert.True(t, IsRareSubject(TierHigh))
	assert.False(t, IsRareSubject(TierMedium))
	assert.False(t, IsRareSubject(""))
}
