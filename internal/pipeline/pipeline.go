// Package pipeline implements the six-stage verification state machine. One
// submission is one run: quality, copyright, transcription, analysis,
// aggregation, finalization. Stage state is persisted through the session
// store after each transition and the scratch file is removed on every exit
// path.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/R3E-Network/audio-verifier/infrastructure/metrics"
	"github.com/R3E-Network/audio-verifier/internal/audio"
	"github.com/R3E-Network/audio-verifier/internal/config"
	"github.com/R3E-Network/audio-verifier/internal/fingerprint"
	"github.com/R3E-Network/audio-verifier/internal/llm"
	"github.com/R3E-Network/audio-verifier/internal/quality"
	"github.com/R3E-Network/audio-verifier/internal/rewards"
	"github.com/R3E-Network/audio-verifier/internal/session"
	"github.com/R3E-Network/audio-verifier/pkg/logger"
)

// maxTranscriptionBytes caps what is shipped to the transcription service.
const maxTranscriptionBytes = 100 << 20 // 100 MB

// copyrightBlockThreshold is the confidence above which a detected match
// blocks approval. Strictly greater-than: a match at exactly the threshold
// passes, and the coincidence is surfaced as a warning.
const copyrightBlockThreshold = 0.8

// LLM is the slice of the language-model client the pipeline needs.
type LLM interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
	Analyze(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// RewardApplier awards points after a completed verification.
type RewardApplier interface {
	Apply(ctx context.Context, in rewards.Input) (*rewards.Breakdown, error)
}

// Embedder generates a semantic embedding for completed verifications.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Pipeline orchestrates verification runs. One instance serves all workers.
type Pipeline struct {
	store       session.Store
	quality     quality.Checker
	fingerprint fingerprint.Detector
	llm         LLM
	rewards     RewardApplier
	embedder    Embedder
	metrics     *metrics.Metrics
	tuning      config.Tuning
	log         *logger.Logger
}

// Options configures a Pipeline. Rewards, embedder and metrics are optional.
type Options struct {
	Store       session.Store
	Quality     quality.Checker
	Fingerprint fingerprint.Detector
	LLM         LLM
	Rewards     RewardApplier
	Embedder    Embedder
	Metrics     *metrics.Metrics
	Tuning      config.Tuning
	Logger      *logger.Logger
}

// New creates a verification pipeline.
func New(opts Options) *Pipeline {
	log := opts.Logger
	if log == nil {
		log = logger.NewDefault("pipeline")
	}
	fp := opts.Fingerprint
	if fp == nil {
		fp = fingerprint.NewDisabledDetector()
	}
	return &Pipeline{
		store:       opts.Store,
		quality:     opts.Quality,
		fingerprint: fp,
		llm:         opts.LLM,
		rewards:     opts.Rewards,
		embedder:    opts.Embedder,
		metrics:     opts.Metrics,
		tuning:      opts.Tuning,
		log:         log,
	}
}

// errHalt signals an orderly early exit (terminal state already written).
type errHalt struct{ verdict string }

func (errHalt) Error() string { return "pipeline halted" }

// Run executes the full state machine for one session. The scratch file is
// removed unconditionally on return, including panics.
func (p *Pipeline) Run(ctx context.Context, sessionID string, scratch *Scratch, meta *session.InitialData, blobID string) {
	if p.metrics != nil {
		p.metrics.PipelinesInFlight.Inc()
		defer p.metrics.PipelinesInFlight.Dec()
	}

	defer func() {
		if err := scratch.Remove(); err != nil {
			p.log.WithSession(sessionID).WithError(err).Warn("failed to delete scratch file")
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			p.log.WithSession(sessionID).Errorf("pipeline panic: %v", r)
			p.failSafely(ctx, sessionID, session.FailureData{
				Errors:      []string{fmt.Sprintf("Pipeline error: %v", r)},
				StageFailed: "system",
			})
		}
	}()

	p.log.WithSession(sessionID).Info("starting verification pipeline")

	if err := p.run(ctx, sessionID, scratch, meta, blobID); err != nil {
		if halt, ok := err.(errHalt); ok {
			p.recordVerdict(halt.verdict)
			return
		}
		p.log.WithSession(sessionID).WithError(err).Error("pipeline failed")
		p.failSafely(ctx, sessionID, session.FailureData{
			Errors:      []string{"Pipeline error: " + err.Error()},
			StageFailed: "system",
		})
		p.recordVerdict(string(session.StatusFailed))
	}
}

func (p *Pipeline) run(ctx context.Context, sessionID string, scratch *Scratch, meta *session.InitialData, blobID string) error {
	results := &session.Results{}

	if err := p.updateStage(ctx, sessionID, session.StageIngesting, 0.05); err != nil {
		return err
	}

	// Stage 1: Quality
	if err := p.stageQuality(ctx, sessionID, scratch, results, blobID); err != nil {
		return err
	}
	if err := p.checkCancelled(ctx, sessionID, scratch); err != nil {
		return err
	}

	// Stage 2: Copyright
	if err := p.stageCopyright(ctx, sessionID, scratch, results); err != nil {
		return err
	}
	if err := p.checkCancelled(ctx, sessionID, scratch); err != nil {
		return err
	}

	// Stage 3: Transcription
	if err := p.stageTranscription(ctx, sessionID, scratch, results); err != nil {
		return err
	}
	if err := p.checkCancelled(ctx, sessionID, scratch); err != nil {
		return err
	}

	// Stage 4: Analysis
	if err := p.stageAnalysis(ctx, sessionID, meta, results); err != nil {
		return err
	}
	if err := p.checkCancelled(ctx, sessionID, scratch); err != nil {
		return err
	}

	// Stage 5: Aggregation
	if err := p.updateStage(ctx, sessionID, session.StageFinalizing, 0.95); err != nil {
		return err
	}
	results.Approved = computeApproval(results)
	results.SafetyPassed = results.Analysis != nil && results.Analysis.SafetyPassed

	// Stage 6: Finalization
	ok, err := p.store.MarkCompleted(ctx, sessionID, results)
	if err != nil {
		return fmt.Errorf("finalize verification: %w", err)
	}
	if !ok {
		// The only writer that can beat us to a terminal state is cancel.
		p.log.WithSession(sessionID).Info("session reached terminal state elsewhere, skipping finalize")
		return errHalt{verdict: string(session.StatusCancelled)}
	}

	p.log.WithSession(sessionID).Infof("pipeline completed approved=%v", results.Approved)
	p.recordVerdict(string(session.StatusCompleted))

	p.afterCompletion(sessionID, meta, results)
	return nil
}

// computeApproval is the single place the approval verdict is decided.
func computeApproval(results *session.Results) bool {
	qualityPassed := results.Quality != nil && results.Quality.Passed

	highConfidenceCopyright := false
	if c := results.Copyright; c != nil {
		highConfidenceCopyright = c.Detected && c.Confidence > copyrightBlockThreshold
	}

	safetyPassed := results.Analysis != nil && results.Analysis.SafetyPassed

	return qualityPassed && !highConfidenceCopyright && safetyPassed
}

func (p *Pipeline) stageQuality(ctx context.Context, sessionID string, scratch *Scratch, results *session.Results, blobID string) error {
	stageStart := time.Now()
	if err := p.updateStage(ctx, sessionID, session.StageQuality, 0.15); err != nil {
		return err
	}

	report, err := p.quality.Check(ctx, scratch.Path())
	if err != nil {
		p.recordStage(session.StageQuality, "failed", stageStart)
		return p.failStage(ctx, sessionID, session.FailureData{
			Errors:      []string{"Failed to analyze audio file: " + err.Error()},
			StageFailed: string(session.StageQuality),
		})
	}

	// Warnings are never fatal and are stored regardless of pass/fail.
	if len(report.Warnings) > 0 {
		if err := p.store.AddWarnings(ctx, sessionID, report.Warnings); err != nil {
			p.log.WithSession(sessionID).WithError(err).Warn("failed to store quality warnings")
		}
	}

	if report.Quality == nil {
		p.recordStage(session.StageQuality, "failed", stageStart)
		errs := report.Errors
		if len(errs) == 0 {
			errs = []string{"Invalid or corrupted audio file"}
		}
		return p.failStage(ctx, sessionID, session.FailureData{
			Errors:        errs,
			StageFailed:   string(session.StageQuality),
			FailureReason: report.FailureReason,
		})
	}

	report.Quality.Score = quality.Score(report.Quality, p.tuning)

	if !report.Quality.Passed {
		p.recordStage(session.StageQuality, "failed", stageStart)
		p.log.WithSession(sessionID).WithField("blob", blobID).
			Warnf("quality check failed: %s", report.FailureReason)
		return p.failStage(ctx, sessionID, session.FailureData{
			Errors:        report.Errors,
			StageFailed:   string(session.StageQuality),
			FailureReason: report.FailureReason,
		})
	}

	results.Quality = report.Quality
	p.recordStage(session.StageQuality, "ok", stageStart)
	p.log.WithSession(sessionID).Infof("quality check passed score=%d", report.Quality.Score)

	return p.updateStage(ctx, sessionID, session.StageQuality, 0.30)
}

func (p *Pipeline) stageCopyright(ctx context.Context, sessionID string, scratch *Scratch, results *session.Results) error {
	stageStart := time.Now()
	if err := p.updateStage(ctx, sessionID, session.StageCopyright, 0.35); err != nil {
		return err
	}

	report, err := p.fingerprint.Check(ctx, scratch.Path())
	if err != nil {
		// Copyright problems never block the pipeline; downgrade to
		// unchecked and record what happened.
		p.log.WithSession(sessionID).WithError(err).Warn("copyright check failed")
		report = &session.CopyrightResult{Checked: false, Error: err.Error()}
		if warnErr := p.store.AddWarnings(ctx, sessionID, []string{"Copyright check unavailable: " + err.Error()}); warnErr != nil {
			p.log.WithSession(sessionID).WithError(warnErr).Warn("failed to store copyright warning")
		}
		p.recordStage(session.StageCopyright, "degraded", stageStart)
	} else {
		p.recordStage(session.StageCopyright, "ok", stageStart)
	}

	// The detector reports matches from 0.8 up but approval only blocks
	// strictly above it; flag the coincidence for reviewers.
	if report.Detected && report.Confidence == copyrightBlockThreshold {
		if warnErr := p.store.AddWarnings(ctx, sessionID, []string{
			"Copyright match at exactly 0.80 confidence does not block approval",
		}); warnErr != nil {
			p.log.WithSession(sessionID).WithError(warnErr).Warn("failed to store threshold warning")
		}
	}

	results.Copyright = report
	p.log.WithSession(sessionID).Infof("copyright check completed detected=%v confidence=%.2f", report.Detected, report.Confidence)

	return p.updateStage(ctx, sessionID, session.StageCopyright, 0.45)
}

func (p *Pipeline) stageTranscription(ctx context.Context, sessionID string, scratch *Scratch, results *session.Results) error {
	stageStart := time.Now()
	if err := p.updateStage(ctx, sessionID, session.StageTranscription, 0.55); err != nil {
		return err
	}

	size, err := scratch.Size()
	if err != nil {
		return fmt.Errorf("stat scratch file: %w", err)
	}
	if size > maxTranscriptionBytes {
		p.recordStage(session.StageTranscription, "failed", stageStart)
		return p.failStage(ctx, sessionID, session.FailureData{
			Errors: []string{fmt.Sprintf(
				"Audio file %d bytes exceeds %dMB limit for transcription", size, maxTranscriptionBytes>>20)},
			StageFailed: string(session.StageTranscription),
		})
	}

	audioBytes, err := os.ReadFile(scratch.Path())
	if err != nil {
		return fmt.Errorf("read scratch file: %w", err)
	}

	mimeType := audio.MIMEType(audio.DetectFormat(audioBytes))
	transcript, err := p.llm.Transcribe(ctx, audioBytes, mimeType)
	if err != nil {
		p.recordStage(session.StageTranscription, "failed", stageStart)
		return p.failStage(ctx, sessionID, session.FailureData{
			Errors:      []string{"Failed to transcribe audio: " + err.Error()},
			StageFailed: string(session.StageTranscription),
		})
	}
	if transcript == "" {
		p.recordStage(session.StageTranscription, "failed", stageStart)
		return p.failStage(ctx, sessionID, session.FailureData{
			Errors:      []string{"Failed to transcribe audio"},
			StageFailed: string(session.StageTranscription),
		})
	}

	results.Transcript = transcript
	results.TranscriptPreview = transcriptPreview(transcript)
	p.recordStage(session.StageTranscription, "ok", stageStart)
	p.log.WithSession(sessionID).Infof("transcription completed (%d chars)", len(transcript))

	return p.updateStage(ctx, sessionID, session.StageTranscription, 0.65)
}

func (p *Pipeline) stageAnalysis(ctx context.Context, sessionID string, meta *session.InitialData, results *session.Results) error {
	stageStart := time.Now()
	if err := p.updateStage(ctx, sessionID, session.StageAnalysis, 0.75); err != nil {
		return err
	}

	prompt := llm.BuildAnalysisPrompt(results.Transcript, meta, results.Quality)

	var analysis *session.AnalysisResult
	response, err := p.llm.Analyze(ctx, prompt, 2048)
	if err != nil {
		// Analysis problems resolve to safe defaults, never a failed stage.
		p.log.WithSession(sessionID).WithError(err).Error("analysis request failed, using defaults")
		analysis = llm.ParseAnalysis("")
		p.recordStage(session.StageAnalysis, "degraded", stageStart)
	} else {
		analysis = llm.ParseAnalysis(response)
		p.recordStage(session.StageAnalysis, "ok", stageStart)
	}

	if meta != nil && len(meta.PerFileMetadata) > 1 {
		p.analyzePerFile(ctx, sessionID, meta, results.Transcript, analysis)
	}

	results.Analysis = analysis
	p.log.WithSession(sessionID).Infof(
		"analysis completed qualityScore=%.2f safetyPassed=%v concerns=%d",
		analysis.QualityScore, analysis.SafetyPassed, len(analysis.Concerns))

	return p.updateStage(ctx, sessionID, session.StageAnalysis, 0.85)
}

func (p *Pipeline) analyzePerFile(ctx context.Context, sessionID string, meta *session.InitialData, transcript string, analysis *session.AnalysisResult) {
	prompt := llm.BuildPerFilePrompt(transcript, meta.PerFileMetadata)
	response, err := p.llm.Analyze(ctx, prompt, 1024)
	if err != nil {
		p.log.WithSession(sessionID).WithError(err).Warn("per-file analysis failed")
		return
	}
	if analyses := llm.ParsePerFile(response); len(analyses) > 0 {
		analysis.FileAnalyses = analyses
	}
}

// afterCompletion hands the verdict to the reward applier and the embedding
// indexer. Both are fire-and-forget: the session is already finalized.
func (p *Pipeline) afterCompletion(sessionID string, meta *session.InitialData, results *session.Results) {
	if p.rewards != nil && meta != nil && results.Analysis != nil {
		in := rewards.Input{
			SessionID:     sessionID,
			WalletAddress: meta.WalletAddress,
			RarityScore:   results.Analysis.RarityScore,
			QualityScore:  results.Analysis.QualityScore,
			SampleCount:   max(meta.SampleCount, 1),
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if breakdown, err := p.rewards.Apply(ctx, in); err != nil {
				p.log.WithSession(sessionID).WithError(err).Error("reward application failed")
			} else if breakdown != nil && p.metrics != nil {
				p.metrics.PointsAwardedTotal.Add(float64(breakdown.Points))
			}
		}()
	}

	if p.embedder != nil && meta != nil {
		text := meta.Title + "\n" + meta.Description + "\n" + results.TranscriptPreview
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			vector, err := p.embedder.Embed(ctx, text)
			if err != nil {
				p.log.WithSession(sessionID).WithError(err).Warn("embedding generation failed")
				return
			}
			if err := p.store.SetEmbedding(ctx, sessionID, vector); err != nil {
				p.log.WithSession(sessionID).WithError(err).Warn("embedding store failed")
			}
		}()
	}
}

// checkCancelled halts the run when a cancel request landed since the last
// stage. The scratch file is removed before exit and no further external
// calls are made.
func (p *Pipeline) checkCancelled(ctx context.Context, sessionID string, scratch *Scratch) error {
	sess, err := p.store.Get(ctx, sessionID)
	if err != nil {
		p.log.WithSession(sessionID).WithError(err).Warn("cancellation check failed")
		return nil
	}
	if sess != nil && sess.Status == session.StatusCancelled {
		p.log.WithSession(sessionID).Info("cancellation observed, halting pipeline")
		_ = scratch.Remove()
		return errHalt{verdict: string(session.StatusCancelled)}
	}
	return nil
}

// failStage writes the terminal failure and halts the run.
func (p *Pipeline) failStage(ctx context.Context, sessionID string, failure session.FailureData) error {
	p.failSafely(ctx, sessionID, failure)
	verdict := string(session.StatusFailed)
	if failure.Cancelled {
		verdict = string(session.StatusCancelled)
	}
	return errHalt{verdict: verdict}
}

// failSafely marks the session failed; a store failure here is logged but
// never escalates.
func (p *Pipeline) failSafely(ctx context.Context, sessionID string, failure session.FailureData) {
	if failure.FailureReason != "" {
		failure.Errors = append(failure.Errors, "failure_reason: "+failure.FailureReason)
	}
	ok, err := p.store.MarkFailed(ctx, sessionID, failure)
	if err != nil {
		p.log.WithSession(sessionID).WithError(err).Error("failed to mark session as failed")
		return
	}
	if !ok {
		p.log.WithSession(sessionID).Warn("session already terminal, failure not recorded")
	}
}

func (p *Pipeline) updateStage(ctx context.Context, sessionID string, stage session.Stage, progress float64) error {
	ok, err := p.store.UpdateStage(ctx, sessionID, stage, progress)
	if err != nil {
		return fmt.Errorf("update stage %q: %w", stage, err)
	}
	if !ok {
		// A frozen session means cancel won the race.
		sess, getErr := p.store.Get(ctx, sessionID)
		if getErr == nil && sess != nil && sess.Status == session.StatusCancelled {
			p.log.WithSession(sessionID).Info("cancellation observed during stage update")
			return errHalt{verdict: string(session.StatusCancelled)}
		}
		return fmt.Errorf("failed to update stage %q", stage)
	}
	p.log.WithSession(sessionID).Debugf("stage_update stage=%s progress=%.2f", stage, progress)
	return nil
}

func (p *Pipeline) recordStage(stage session.Stage, status string, start time.Time) {
	if p.metrics != nil {
		p.metrics.RecordStage(string(stage), status, time.Since(start))
	}
}

func (p *Pipeline) recordVerdict(verdict string) {
	if p.metrics != nil && verdict != "" {
		p.metrics.RecordVerdict(verdict)
	}
}

func transcriptPreview(transcript string) string {
	if len(transcript) > 200 {
		return transcript[:200]
	}
	return transcript
}
