// Package session defines the verification session model and its durable
// store. One row exists per verification; the pipeline is the sole writer
// while a session is processing.
package session

import (
	"time"
)

// Status is the lifecycle state of a verification session.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status admits no further pipeline writes.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Stage identifies the pipeline stage a session is in.
type Stage string

const (
	StageQueued        Stage = "queued"
	StageIngesting     Stage = "ingesting"
	StageQuality       Stage = "quality"
	StageCopyright     Stage = "copyright"
	StageTranscription Stage = "transcription"
	StageAnalysis      Stage = "analysis"
	StageFinalizing    Stage = "finalizing"
	StageCompleted     Stage = "completed"
	StageFailed        Stage = "failed"
)

// InitialData captures the submission metadata recorded at session creation.
type InitialData struct {
	EncryptedCID       string         `json:"encrypted_cid,omitempty"`
	PlaintextCID       string         `json:"plaintext_cid,omitempty"`
	PlaintextSizeBytes int64          `json:"plaintext_size_bytes"`
	DurationSeconds    int            `json:"duration_seconds"`
	FileFormat         string         `json:"file_format"`
	WalletAddress      string         `json:"wallet_address,omitempty"`
	Title              string         `json:"title,omitempty"`
	Description        string         `json:"description,omitempty"`
	Tags               []string       `json:"tags,omitempty"`
	Languages          []string       `json:"languages,omitempty"`
	SampleCount        int            `json:"sample_count,omitempty"`
	Categorization     Categorization `json:"categorization,omitempty"`

	// PerFileMetadata carries optional per-file titles and descriptions for
	// multi-file datasets.
	PerFileMetadata []FileMetadata `json:"per_file_metadata,omitempty"`
}

// Categorization is the user-provided content categorization.
type Categorization struct {
	UseCase     string `json:"use_case,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Domain      string `json:"domain,omitempty"`
}

// FileMetadata describes a single file within a multi-file dataset.
type FileMetadata struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// QualityResult is the technical quality report produced by stage 1.
type QualityResult struct {
	Passed           bool    `json:"passed"`
	Duration         float64 `json:"duration"`
	SampleRate       int     `json:"sample_rate"`
	Channels         int     `json:"channels"`
	BitDepth         int     `json:"bit_depth"`
	RMSDB            float64 `json:"rms_db"`
	ClippingDetected bool    `json:"clipping_detected"`
	SilencePercent   float64 `json:"silence_percent"`
	VolumeOK         bool    `json:"volume_ok"`
	QualityScore     float64 `json:"quality_score"`
	Score            int     `json:"score"`
}

// CopyrightMatch is a single fingerprint match against a known recording.
type CopyrightMatch struct {
	Title       string  `json:"title"`
	Artist      string  `json:"artist"`
	Confidence  float64 `json:"confidence"`
	RecordingID string  `json:"recording_id"`
}

// CopyrightResult is the copyright-detection report produced by stage 2.
type CopyrightResult struct {
	Checked    bool             `json:"checked"`
	Detected   bool             `json:"detected"`
	Confidence float64          `json:"confidence"`
	Matches    []CopyrightMatch `json:"matches,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// ComponentScore is one scored dimension of the LLM quality analysis.
type ComponentScore struct {
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning,omitempty"`
}

// QualityAnalysis is the structured quality breakdown from the analysis stage.
type QualityAnalysis struct {
	Clarity          ComponentScore `json:"clarity"`
	ContentValue     ComponentScore `json:"contentValue"`
	MetadataAccuracy ComponentScore `json:"metadataAccuracy"`
	Completeness     ComponentScore `json:"completeness"`
}

// PriceAnalysis is the structured pricing breakdown from the analysis stage.
type PriceAnalysis struct {
	BasePrice         float64 `json:"basePrice"`
	QualityMultiplier float64 `json:"qualityMultiplier"`
	RarityMultiplier  float64 `json:"rarityMultiplier"`
	FinalPrice        float64 `json:"finalPrice"`
	Breakdown         string  `json:"breakdown,omitempty"`
}

// FileAnalysis is a per-file assessment for multi-file datasets.
type FileAnalysis struct {
	FileIndex       int      `json:"fileIndex"`
	Title           string   `json:"title"`
	Score           float64  `json:"score"`
	Summary         string   `json:"summary,omitempty"`
	Strengths       []string `json:"strengths,omitempty"`
	Concerns        []string `json:"concerns,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// AnalysisResult is the LLM analysis report produced by stage 4.
type AnalysisResult struct {
	QualityScore    float64             `json:"qualityScore"`
	SuggestedPrice  float64             `json:"suggestedPrice"`
	SafetyPassed    bool                `json:"safetyPassed"`
	Insights        []string            `json:"insights"`
	Concerns        []string            `json:"concerns"`
	Recommendations map[string][]string `json:"recommendations,omitempty"`
	OverallSummary  string              `json:"overallSummary,omitempty"`
	QualityAnalysis *QualityAnalysis    `json:"qualityAnalysis,omitempty"`
	PriceAnalysis   *PriceAnalysis      `json:"priceAnalysis,omitempty"`
	FileAnalyses    []FileAnalysis      `json:"fileAnalyses,omitempty"`
	RarityScore     int                 `json:"rarityScore,omitempty"`
}

// Results is the assembled verdict written on completion. The pipeline
// mutates fields on this shell between stages; it is serialized to the store
// only on finalize.
type Results struct {
	Approved          bool             `json:"approved"`
	Quality           *QualityResult   `json:"quality,omitempty"`
	Copyright         *CopyrightResult `json:"copyright,omitempty"`
	Transcript        string           `json:"transcript,omitempty"`
	TranscriptPreview string           `json:"transcriptPreview,omitempty"`
	Analysis          *AnalysisResult  `json:"analysis,omitempty"`
	SafetyPassed      bool             `json:"safetyPassed"`
}

// Session is the central verification entity.
type Session struct {
	ID             string       `json:"id"`
	VerificationID string       `json:"verification_id"`
	Status         Status       `json:"status"`
	Stage          Stage        `json:"stage"`
	Progress       float64      `json:"progress"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	InitialData    *InitialData `json:"initial_data,omitempty"`
	Results        *Results     `json:"results,omitempty"`
	Error          string       `json:"error,omitempty"`
	Warnings       []string     `json:"warnings,omitempty"`
}
