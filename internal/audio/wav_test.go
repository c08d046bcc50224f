package audio

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildWAV constructs a minimal PCM WAV file with the given parameters.
func buildWAV(sampleRate, channels, bitsPerSample int, dataBytes int) []byte {
	var buf bytes.Buffer

	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataBytes))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataBytes))
	buf.Write(make([]byte, dataBytes))

	return buf.Bytes()
}

func TestProbeWAV(t *testing.T) {
	// 2 seconds of 16kHz mono PCM_16: 16000 * 2 bytes * 2s.
	data := buildWAV(16000, 1, 16, 64000)

	info, err := ProbeWAV(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 16000, info.SampleRate)
	assert.Equal(t, 1, info.Channels)
	assert.Equal(t, 16, info.BitsPerSample)
	assert.Equal(t, int64(64000), info.DataBytes)
	assert.InDelta(t, 2.0, info.Duration(), 0.001)
}

func TestProbeWAVSkipsExtraChunks(t *testing.T) {
	base := buildWAV(44100, 2, 16, 44100*4)

	// Splice a LIST chunk between fmt and data.
	var buf bytes.Buffer
	buf.Write(base[:36])
	buf.WriteString("LIST")
	binary.Write(&buf, binary.LittleEndian, uint32(4))
	buf.WriteString("INFO")
	buf.Write(base[36:])

	info, err := ProbeWAV(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 44100, info.SampleRate)
	assert.InDelta(t, 1.0, info.Duration(), 0.001)
}

func TestProbeWAVRejectsNonWave(t *testing.T) {
	_, err := ProbeWAV(bytes.NewReader([]byte("OggS\x00\x02 definitely not a wav")))
	assert.Error(t, err)
}

func TestProbeWAVRejectsTruncated(t *testing.T) {
	data := buildWAV(16000, 1, 16, 64000)
	_, err := ProbeWAV(bytes.NewReader(data[:10]))
	assert.Error(t, err)
}

func TestProbeDurationSeconds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "probe.wav")
	require.NoError(t, os.WriteFile(path, buildWAV(16000, 1, 16, 64000), 0644))

	assert.Equal(t, 2, ProbeDurationSeconds(path))
}

func TestProbeDurationSecondsNonWAVIsZero(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "probe.mp3")
	require.NoError(t, os.WriteFile(path, []byte("ID3\x04\x00 not parseable"), 0644))

	assert.Equal(t, 0, ProbeDurationSeconds(path))
}
