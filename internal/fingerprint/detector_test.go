package fingerprint

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audio.wav")
	require.NoError(t, os.WriteFile(path, []byte("audio"), 0644))
	return path
}

func TestHTTPDetectorMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer fp-key", r.Header.Get("Authorization"))
		w.Write([]byte(`{
			"checked": true, "detected": true, "confidence": 0.92,
			"matches": [
				{"title": "Song A", "artist": "Artist A", "confidence": 0.92, "recording_id": "rec-1"}
			]
		}`))
	}))
	defer srv.Close()

	d, err := NewHTTPDetector(Config{BaseURL: srv.URL, APIKey: "fp-key"})
	require.NoError(t, err)

	result, err := d.Check(context.Background(), writeTempAudio(t))
	require.NoError(t, err)
	assert.True(t, result.Checked)
	assert.True(t, result.Detected)
	assert.Equal(t, 0.92, result.Confidence)
	require.Len(t, result.Matches, 1)
	assert.Equal(t, "Song A", result.Matches[0].Title)
}

func TestHTTPDetectorCapsMatches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"checked": true, "detected": true, "confidence": 0.9,
			"matches": [
				{"title":"1"},{"title":"2"},{"title":"3"},{"title":"4"},{"title":"5"},{"title":"6"},{"title":"7"}
			]
		}`))
	}))
	defer srv.Close()

	d, err := NewHTTPDetector(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	result, err := d.Check(context.Background(), writeTempAudio(t))
	require.NoError(t, err)
	assert.Len(t, result.Matches, 5)
}

func TestHTTPDetectorServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d, err := NewHTTPDetector(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = d.Check(context.Background(), writeTempAudio(t))
	assert.Error(t, err)
}

func TestDisabledDetector(t *testing.T) {
	d := NewDisabledDetector()
	result, err := d.Check(context.Background(), "/any/path")
	require.NoError(t, err)
	assert.False(t, result.Checked)
	assert.False(t, result.Detected)
	assert.NotEmpty(t, result.Error)
}
