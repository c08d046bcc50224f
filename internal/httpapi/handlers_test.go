package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/audio-verifier/internal/config"
	"github.com/R3E-Network/audio-verifier/internal/decrypt"
	"github.com/R3E-Network/audio-verifier/internal/pipeline"
	"github.com/R3E-Network/audio-verifier/internal/session"
	"github.com/R3E-Network/audio-verifier/pkg/logger"
)

type stubDecryptor struct {
	plaintext []byte
	err       error
}

func (s *stubDecryptor) Decrypt(_ context.Context, _, _, _, _ string) ([]byte, error) {
	return s.plaintext, s.err
}

type stubSubmitter struct {
	jobs   []pipeline.Job
	reject bool
}

func (s *stubSubmitter) TrySubmit(job pipeline.Job) bool {
	if s.reject {
		return false
	}
	s.jobs = append(s.jobs, job)
	return true
}

// countingStore tracks session creations so tests can assert early
// rejections never produce rows.
type countingStore struct {
	*session.MemoryStore
	creates atomic.Int32
}

func (c *countingStore) Create(ctx context.Context, verificationID string, initial *session.InitialData) (string, error) {
	c.creates.Add(1)
	return c.MemoryStore.Create(ctx, verificationID, initial)
}

func validWAV(size int) []byte {
	blob := make([]byte, size)
	copy(blob, "RIFF")
	copy(blob[8:], "WAVE")
	return blob
}

type fixture struct {
	cfg       *config.Config
	store     *countingStore
	decryptor *stubDecryptor
	submitter *stubSubmitter
	service   *Service
}

func newTestService(t *testing.T, mutate func(*fixture)) *fixture {
	t.Helper()
	f := &fixture{
		cfg: &config.Config{
			Env:           config.Development,
			DatabaseURL:   "postgres://test",
			AggregatorURL: "http://agg",
			KeyServiceURL: "http://keys",
			KeyPackageID:  "0xpkg",
			MaxFileSizeGB: 13,
			TempDir:       t.TempDir(),
		},
		store:     &countingStore{MemoryStore: session.NewMemoryStore()},
		decryptor: &stubDecryptor{plaintext: validWAV(4096)},
		submitter: &stubSubmitter{},
	}
	if mutate != nil {
		mutate(f)
	}
	f.service = New(Options{
		Config:     f.cfg,
		Store:      f.store,
		Decryptor:  f.decryptor,
		Dispatcher: f.submitter,
		Logger:     logger.NewDefault("test"),
	})
	return f
}

func verifyBody(t *testing.T) *bytes.Reader {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"walrusBlobId":          "blob-1",
		"sealIdentity":          "0xidentity",
		"encryptedObjectBcsHex": "abcd",
		"sessionKeyData":        "session-key",
		"metadata": map[string]any{
			"title":         "t",
			"description":   "d",
			"walletAddress": "0x0000000000000000000000000000000000000001",
		},
	})
	require.NoError(t, err)
	return bytes.NewReader(body)
}

func postVerify(f *fixture, body *bytes.Reader) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/verify", body)
	req.Header.Set("Content-Type", "application/json")
	f.service.Router().ServeHTTP(rec, req)
	return rec
}

func TestVerifyHappyPath(t *testing.T) {
	f := newTestService(t, nil)
	rec := postVerify(f, verifyBody(t))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp verifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, "processing", resp.Status)
	assert.Equal(t, 10, resp.EstimatedSeconds)

	require.Len(t, f.submitter.jobs, 1)
	job := f.submitter.jobs[0]
	assert.Equal(t, resp.SessionID, job.SessionID)
	assert.Equal(t, "blob-1", job.BlobID)
	assert.Equal(t, "0x0000000000000000000000000000000000000001", job.Metadata.WalletAddress)

	sess, err := f.store.Get(context.Background(), resp.SessionID)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, session.StatusProcessing, sess.Status)
	assert.Equal(t, "blob-1", sess.InitialData.EncryptedCID)
	assert.Equal(t, int64(4096), sess.InitialData.PlaintextSizeBytes)
	assert.Equal(t, "audio/wav", sess.InitialData.FileFormat)
}

func TestVerifyAcceptsSnakeCaseFields(t *testing.T) {
	f := newTestService(t, nil)

	body, err := json.Marshal(map[string]any{
		"blob_reference":       "blob-1",
		"identity":             "0xidentity",
		"encrypted_object_hex": "abcd",
		"session_key_data":     "session-key",
		"metadata":             map[string]any{"title": "t"},
	})
	require.NoError(t, err)

	rec := postVerify(f, bytes.NewReader(body))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestVerifyMissingFields(t *testing.T) {
	f := newTestService(t, nil)

	for _, omit := range []string{"walrusBlobId", "sealIdentity", "encryptedObjectBcsHex", "sessionKeyData", "metadata"} {
		t.Run(omit, func(t *testing.T) {
			payload := map[string]any{
				"walrusBlobId":          "blob-1",
				"sealIdentity":          "0xidentity",
				"encryptedObjectBcsHex": "abcd",
				"sessionKeyData":        "session-key",
				"metadata":              map[string]any{"title": "t"},
			}
			delete(payload, omit)
			body, _ := json.Marshal(payload)

			rec := postVerify(f, bytes.NewReader(body))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	assert.Equal(t, int32(0), f.store.creates.Load())
}

func TestVerifyUnconfiguredEncryptedFlow(t *testing.T) {
	f := newTestService(t, func(f *fixture) {
		f.cfg.KeyPackageID = ""
	})
	rec := postVerify(f, verifyBody(t))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestVerifyTinyBlobRejectedBeforeSessionCreation(t *testing.T) {
	f := newTestService(t, func(f *fixture) {
		f.decryptor.plaintext = validWAV(32)
	})
	rec := postVerify(f, verifyBody(t))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "format_probe_failed")
	assert.Equal(t, int32(0), f.store.creates.Load())
	assert.Empty(t, f.submitter.jobs)
}

func TestVerifyBoundaryBlobSizes(t *testing.T) {
	// 1023 bytes rejected, 1024 with a valid header admitted.
	f := newTestService(t, func(f *fixture) {
		f.decryptor.plaintext = validWAV(1023)
	})
	rec := postVerify(f, verifyBody(t))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f = newTestService(t, func(f *fixture) {
		f.decryptor.plaintext = validWAV(1024)
	})
	rec = postVerify(f, verifyBody(t))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestVerifyUnknownFormatRejected(t *testing.T) {
	f := newTestService(t, func(f *fixture) {
		f.decryptor.plaintext = bytes.Repeat([]byte("x"), 4096)
	})
	rec := postVerify(f, verifyBody(t))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unsupported format")
	assert.Equal(t, int32(0), f.store.creates.Load())
}

func TestVerifyDecryptErrorMapping(t *testing.T) {
	cases := []struct {
		kind decrypt.Kind
		want int
	}{
		{decrypt.KindAuthentication, http.StatusForbidden},
		{decrypt.KindValidation, http.StatusBadRequest},
		{decrypt.KindNetwork, http.StatusBadGateway},
		{decrypt.KindTimeout, http.StatusGatewayTimeout},
		{decrypt.KindDecryption, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.kind), func(t *testing.T) {
			f := newTestService(t, func(f *fixture) {
				f.decryptor.plaintext = nil
				f.decryptor.err = &decrypt.Error{Kind: tc.kind, Msg: "nope"}
			})
			rec := postVerify(f, verifyBody(t))
			assert.Equal(t, tc.want, rec.Code)
			assert.Equal(t, int32(0), f.store.creates.Load())
		})
	}
}

func TestVerifyOverflowReturns503(t *testing.T) {
	f := newTestService(t, func(f *fixture) {
		f.submitter.reject = true
	})
	rec := postVerify(f, verifyBody(t))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestVerifyAuthRequired(t *testing.T) {
	f := newTestService(t, func(f *fixture) {
		f.cfg.VerifierAuthToken = "secret"
	})

	rec := postVerify(f, verifyBody(t))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec2 := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/verify", verifyBody(t))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer secret")
	f.service.Router().ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusOK, rec2.Code)

	// Probes stay open without credentials.
	rec3 := httptest.NewRecorder()
	f.service.Router().ServeHTTP(rec3, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec3.Code)
}

func TestStatusEndpoint(t *testing.T) {
	f := newTestService(t, nil)

	id, err := f.store.Create(context.Background(), "verif-1", &session.InitialData{Title: "t"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	f.service.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/verify/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var sess session.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	assert.Equal(t, id, sess.ID)
	assert.Equal(t, session.StatusProcessing, sess.Status)
}

func TestStatusUnknownSession(t *testing.T) {
	f := newTestService(t, nil)

	rec := httptest.NewRecorder()
	f.service.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/verify/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelFlow(t *testing.T) {
	f := newTestService(t, nil)

	id, err := f.store.Create(context.Background(), "verif-1", nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	f.service.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/verify/"+id+"/cancel", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	sess, _ := f.store.Get(context.Background(), id)
	assert.Equal(t, session.StatusCancelled, sess.Status)
	assert.Equal(t, session.StageFailed, sess.Stage)
}

func TestCancelUnknownSession(t *testing.T) {
	f := newTestService(t, nil)

	rec := httptest.NewRecorder()
	f.service.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/verify/missing/cancel", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelCompletedSessionRejected(t *testing.T) {
	f := newTestService(t, nil)

	id, err := f.store.Create(context.Background(), "verif-1", nil)
	require.NoError(t, err)
	_, err = f.store.MarkCompleted(context.Background(), id, &session.Results{Approved: true})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	f.service.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/verify/"+id+"/cancel", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	sess, _ := f.store.Get(context.Background(), id)
	assert.Equal(t, session.StatusCompleted, sess.Status)
}

func TestLegacyUploadDisabled(t *testing.T) {
	f := newTestService(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.Close()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/verify", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	f.service.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "legacy file upload disabled")
}

func TestLegacyUploadFlow(t *testing.T) {
	f := newTestService(t, func(f *fixture) {
		f.cfg.EnableLegacyUpload = true
	})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "audio.wav")
	require.NoError(t, err)
	_, err = part.Write(validWAV(2048))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("metadata", `{"title": "legacy", "walletAddress": "0xabc"}`))
	require.NoError(t, mw.Close())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/verify", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	f.service.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, f.submitter.jobs, 1)
	assert.Equal(t, "legacy", f.submitter.jobs[0].Metadata.Title)
}

func TestLegacyUploadInvalidMetadata(t *testing.T) {
	f := newTestService(t, func(f *fixture) {
		f.cfg.EnableLegacyUpload = true
	})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, _ := mw.CreateFormFile("file", "audio.wav")
	part.Write(validWAV(2048))
	mw.WriteField("metadata", "{not json")
	mw.Close()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/verify", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	f.service.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndInfo(t *testing.T) {
	f := newTestService(t, nil)

	rec := httptest.NewRecorder()
	f.service.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	f.service.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "audio-verifier")
}

func TestReadyReportsConfig(t *testing.T) {
	f := newTestService(t, nil)

	rec := httptest.NewRecorder()
	f.service.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status string          `json:"status"`
		Config map[string]bool `json:"config"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Config["aggregator_configured"])
	assert.True(t, resp.Config["key_service_configured"])
	assert.False(t, resp.Config["auth_enabled"])
}

func TestRequestRateLimitWired(t *testing.T) {
	f := newTestService(t, func(f *fixture) {
		f.cfg.RateLimitRPS = 1
		f.cfg.RateLimitBurst = 1
	})

	var last int
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = "10.0.0.9:1234"
		f.service.Router().ServeHTTP(rec, req)
		last = rec.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestEstimateSeconds(t *testing.T) {
	assert.Equal(t, 10, estimateSeconds(0))
	assert.Equal(t, 10, estimateSeconds(5<<20))
	assert.Equal(t, 30, estimateSeconds(30<<20))
	assert.Equal(t, 60, estimateSeconds(61<<20))
	assert.Equal(t, 60, estimateSeconds(10<<30))
}

func TestVerifyMalformedJSONBody(t *testing.T) {
	f := newTestService(t, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/verify", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	f.service.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
