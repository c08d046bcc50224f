package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/R3E-Network/audio-verifier/infrastructure/httputil"
	"github.com/R3E-Network/audio-verifier/internal/audio"
	"github.com/R3E-Network/audio-verifier/internal/decrypt"
	"github.com/R3E-Network/audio-verifier/internal/pipeline"
	"github.com/R3E-Network/audio-verifier/internal/session"
)

// minPlaintextBytes is the early-rejection floor for decrypted blobs.
const minPlaintextBytes = 1024

// encryptedVerifyRequest is the JSON submission body. Snake_case is the
// canonical form; the camelCase aliases keep older frontend clients working.
type encryptedVerifyRequest struct {
	BlobReference      string           `json:"blob_reference"`
	Identity           string           `json:"identity"`
	EncryptedObjectHex string           `json:"encrypted_object_hex"`
	SessionKeyData     string           `json:"session_key_data"`
	Metadata           *requestMetadata `json:"metadata"`

	BlobReferenceAlias      string `json:"walrusBlobId"`
	IdentityAlias           string `json:"sealIdentity"`
	EncryptedObjectHexAlias string `json:"encryptedObjectBcsHex"`
	SessionKeyDataAlias     string `json:"sessionKeyData"`
}

// normalize folds the camelCase aliases into the canonical fields.
func (r *encryptedVerifyRequest) normalize() {
	if r.BlobReference == "" {
		r.BlobReference = r.BlobReferenceAlias
	}
	if r.Identity == "" {
		r.Identity = r.IdentityAlias
	}
	if r.EncryptedObjectHex == "" {
		r.EncryptedObjectHex = r.EncryptedObjectHexAlias
	}
	if r.SessionKeyData == "" {
		r.SessionKeyData = r.SessionKeyDataAlias
	}
}

type requestMetadata struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Tags           []string `json:"tags"`
	Languages      []string `json:"languages"`
	SampleCount    int      `json:"sampleCount"`
	WalletAddress  string   `json:"walletAddress"`
	Categorization struct {
		UseCase     string `json:"useCase"`
		ContentType string `json:"contentType"`
		Domain      string `json:"domain"`
	} `json:"categorization"`
	PerFileMetadata []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"perFileMetadata"`
}

func (m *requestMetadata) toInitialData() *session.InitialData {
	if m == nil {
		return &session.InitialData{}
	}
	data := &session.InitialData{
		Title:         m.Title,
		Description:   m.Description,
		Tags:          m.Tags,
		Languages:     m.Languages,
		SampleCount:   m.SampleCount,
		WalletAddress: m.WalletAddress,
		Categorization: session.Categorization{
			UseCase:     m.Categorization.UseCase,
			ContentType: m.Categorization.ContentType,
			Domain:      m.Categorization.Domain,
		},
	}
	for _, pf := range m.PerFileMetadata {
		data.PerFileMetadata = append(data.PerFileMetadata, session.FileMetadata{
			Title:       pf.Title,
			Description: pf.Description,
		})
	}
	return data
}

type verifyResponse struct {
	SessionID        string `json:"session_id"`
	Status           string `json:"status"`
	EstimatedSeconds int    `json:"estimated_seconds"`
}

func (s *Service) handleInfo(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"service": "audio-verifier",
		"version": ServiceVersion,
		"status":  "healthy",
		"features": []string{
			"Audio quality analysis",
			"Copyright detection",
			"AI transcription",
			"Content safety analysis",
		},
	})
}

// handleHealth is the liveness probe: returns immediately while the process
// is up, without touching external dependencies.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleReady is the readiness probe: pings the database and reports the
// configuration state of every external dependency.
func (s *Service) handleReady(w http.ResponseWriter, r *http.Request) {
	dbConnected := false
	if s.db != nil {
		pingCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		dbConnected = s.db.PingContext(pingCtx) == nil
	}

	status := "ready"
	if s.db != nil && !dbConnected {
		status = "not_ready"
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status": status,
		"config": map[string]bool{
			"database_configured":      s.cfg.DatabaseURL != "",
			"database_connected":       dbConnected,
			"aggregator_configured":    s.cfg.AggregatorURL != "",
			"key_service_configured":   s.cfg.KeyServiceURL != "",
			"quality_configured":       s.cfg.QualityServiceURL != "",
			"fingerprint_configured":   s.cfg.FingerprintServiceURL != "",
			"transcription_configured": s.cfg.TranscriptionAPIKey != "",
			"analysis_configured":      s.cfg.AnalysisAPIKey != "",
			"auth_enabled":             s.cfg.AuthEnabled(),
		},
	})
}

func (s *Service) handleVerify(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		s.handleVerifyEncrypted(w, r)
		return
	}
	s.handleVerifyLegacy(w, r)
}

func (s *Service) handleVerifyEncrypted(w http.ResponseWriter, r *http.Request) {
	var req encryptedVerifyRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	req.normalize()

	switch {
	case req.BlobReference == "":
		httputil.BadRequest(w, "blob_reference is required")
		return
	case req.Identity == "":
		httputil.BadRequest(w, "identity is required")
		return
	case req.EncryptedObjectHex == "":
		httputil.BadRequest(w, "encrypted_object_hex is required")
		return
	case req.SessionKeyData == "":
		httputil.BadRequest(w, "session_key_data is required")
		return
	case req.Metadata == nil:
		httputil.BadRequest(w, "metadata is required")
		return
	}

	if !s.cfg.EncryptedFlowConfigured() || s.decryptor == nil {
		httputil.ServiceUnavailable(w, "encrypted blob verification is not configured")
		return
	}

	verificationID := uuid.NewString()
	s.log.WithField("verification", verificationID).
		Infof("creating encrypted verification for blob %s", truncateID(req.BlobReference))

	plaintext, err := s.decryptor.Decrypt(r.Context(), req.BlobReference, req.EncryptedObjectHex, req.Identity, req.SessionKeyData)
	if err != nil {
		s.writeDecryptError(w, err)
		return
	}

	if !s.admitPlaintext(w, plaintext) {
		return
	}

	scratch, size, err := pipeline.NewScratch(s.cfg.TempDir, "decrypted_"+verificationID+"_*.wav", bytes.NewReader(plaintext))
	if err != nil {
		s.log.WithError(err).Error("failed to write scratch file")
		httputil.InternalError(w, "failed to stage decrypted audio")
		return
	}

	format := audio.DetectFormat(plaintext)
	initial := req.Metadata.toInitialData()
	initial.EncryptedCID = req.BlobReference
	initial.PlaintextSizeBytes = size
	initial.FileFormat = audio.MIMEType(format)
	initial.DurationSeconds = audio.ProbeDurationSeconds(scratch.Path())

	s.createAndDispatch(w, r, verificationID, scratch, initial, req.BlobReference)
}

// admitPlaintext applies the early rejection gates: minimum size and a
// recognizable audio container signature.
func (s *Service) admitPlaintext(w http.ResponseWriter, plaintext []byte) bool {
	if len(plaintext) < minPlaintextBytes {
		s.log.Warnf("rejecting decrypted audio: %d bytes below %d minimum", len(plaintext), minPlaintextBytes)
		httputil.WriteErrorResponse(w, http.StatusBadRequest, "format_probe_failed",
			fmt.Sprintf("invalid audio blob: decrypted size %d bytes is below minimum %d", len(plaintext), minPlaintextBytes), nil)
		return false
	}

	if audio.DetectFormat(plaintext) == audio.FormatUnknown {
		s.log.Warn("rejecting decrypted audio: unsupported format")
		httputil.WriteErrorResponse(w, http.StatusBadRequest, "format_probe_failed",
			"invalid audio blob: unsupported format. Allowed: MP3, WAV, FLAC, OGG/Opus, M4A/AAC/MP4, WebM, 3GPP/3GP, AMR", nil)
		return false
	}

	return true
}

func (s *Service) handleVerifyLegacy(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.EnableLegacyUpload {
		httputil.BadRequest(w, "legacy file upload disabled; use the encrypted blob flow")
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		httputil.BadRequest(w, "missing file in form request")
		return
	}
	defer file.Close()

	metadataField := r.FormValue("metadata")
	if metadataField == "" {
		httputil.BadRequest(w, "missing metadata in form request")
		return
	}
	var meta requestMetadata
	if err := decodeJSONString(metadataField, &meta); err != nil {
		httputil.BadRequest(w, "invalid metadata JSON")
		return
	}

	verificationID := uuid.NewString()

	scratch, size, err := pipeline.NewScratch(s.cfg.TempDir, "verify_"+verificationID+"_*", file)
	if err != nil {
		s.log.WithError(err).Error("failed to stream upload to scratch file")
		httputil.InternalError(w, "failed to stage uploaded audio")
		return
	}
	if size == 0 {
		_ = scratch.Remove()
		httputil.BadRequest(w, "empty file uploaded")
		return
	}

	header, err := readHeader(scratch.Path())
	if err != nil {
		_ = scratch.Remove()
		httputil.InternalError(w, "failed to probe uploaded audio")
		return
	}
	if !s.admitPlaintext(w, header) {
		_ = scratch.Remove()
		return
	}

	initial := meta.toInitialData()
	initial.PlaintextSizeBytes = size
	initial.FileFormat = audio.MIMEType(audio.DetectFormat(header))
	initial.DurationSeconds = audio.ProbeDurationSeconds(scratch.Path())

	s.createAndDispatch(w, r, verificationID, scratch, initial, "")
}

func (s *Service) createAndDispatch(w http.ResponseWriter, r *http.Request, verificationID string, scratch *pipeline.Scratch, initial *session.InitialData, blobID string) {
	sessionID, err := s.store.Create(r.Context(), verificationID, initial)
	if err != nil {
		_ = scratch.Remove()
		s.log.WithError(err).Error("failed to create session")
		httputil.InternalError(w, "failed to create verification session")
		return
	}

	job := pipeline.Job{
		SessionID: sessionID,
		Scratch:   scratch,
		Metadata:  initial,
		BlobID:    blobID,
	}
	if !s.dispatcher.TrySubmit(job) {
		_ = scratch.Remove()
		s.failOverloaded(r.Context(), sessionID)
		httputil.ServiceUnavailable(w, "verification capacity exhausted, retry shortly")
		return
	}

	s.log.WithSession(sessionID).Info("session created and dispatched")

	httputil.WriteJSON(w, http.StatusOK, verifyResponse{
		SessionID:        sessionID,
		Status:           string(session.StatusProcessing),
		EstimatedSeconds: estimateSeconds(initial.PlaintextSizeBytes),
	})
}

func (s *Service) failOverloaded(ctx context.Context, sessionID string) {
	_, err := s.store.MarkFailed(ctx, sessionID, session.FailureData{
		Errors:      []string{"verification capacity exhausted"},
		StageFailed: "dispatch",
	})
	if err != nil {
		s.log.WithSession(sessionID).WithError(err).Error("failed to mark overloaded session")
	}
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session_id"]

	sess, err := s.store.Get(r.Context(), sessionID)
	if err != nil {
		s.log.WithSession(sessionID).WithError(err).Error("failed to load session")
		httputil.InternalError(w, "failed to get verification status")
		return
	}
	if sess == nil {
		httputil.NotFound(w, "session not found")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, sess)
}

func (s *Service) handleCancel(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["session_id"]

	sess, err := s.store.Get(r.Context(), sessionID)
	if err != nil {
		s.log.WithSession(sessionID).WithError(err).Error("failed to load session")
		httputil.InternalError(w, "failed to cancel verification")
		return
	}
	if sess == nil {
		httputil.NotFound(w, "session not found")
		return
	}
	if sess.Status.Terminal() {
		httputil.Conflict(w, fmt.Sprintf("session already %s", sess.Status))
		return
	}

	// Advisory: the running pipeline observes this at its next inter-stage
	// check and halts.
	_, err = s.store.MarkFailed(r.Context(), sessionID, session.FailureData{
		Errors:    []string{"Verification cancelled by user"},
		Cancelled: true,
	})
	if err != nil {
		s.log.WithSession(sessionID).WithError(err).Error("failed to mark session cancelled")
		httputil.InternalError(w, "failed to cancel verification")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"session_id": sessionID,
		"status":     string(session.StatusCancelled),
	})
}

// writeDecryptError maps decryption failure kinds to transport status.
func (s *Service) writeDecryptError(w http.ResponseWriter, err error) {
	s.log.WithError(err).Warn("decryption failed")
	switch decrypt.KindOf(err) {
	case decrypt.KindAuthentication:
		httputil.Forbidden(w, "decryption failed: "+err.Error())
	case decrypt.KindValidation:
		httputil.BadRequest(w, "invalid encrypted blob: "+err.Error())
	case decrypt.KindNetwork:
		httputil.BadGateway(w, "decryption service temporarily unavailable: "+err.Error())
	case decrypt.KindTimeout:
		httputil.GatewayTimeout(w, "decryption operation timed out: "+err.Error())
	default:
		httputil.InternalError(w, "decryption failed: "+err.Error())
	}
}

// estimateSeconds is a rough wall-clock estimate: one second per megabyte,
// clamped to [10, 60].
func estimateSeconds(sizeBytes int64) int {
	sizeMB := float64(sizeBytes) / (1 << 20)
	if sizeMB < 10 {
		return 10
	}
	if sizeMB > 60 {
		return 60
	}
	return int(sizeMB)
}

func readHeader(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header := make([]byte, 4096)
	n, err := f.Read(header)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return header[:n], nil
}

func decodeJSONString(s string, v any) error {
	return json.NewDecoder(strings.NewReader(s)).Decode(v)
}

func truncateID(id string) string {
	if len(id) > 16 {
		return id[:16]
	}
	return id
}
