// Package audio provides container-format detection and lightweight header
// probing for submitted audio blobs. Full signal analysis belongs to the
// external quality service; this package only inspects magic bytes.
package audio

import "bytes"

// Format names returned by DetectFormat.
const (
	FormatWAV     = "WAV"
	FormatMP3     = "MP3"
	FormatFLAC    = "FLAC"
	FormatOGG     = "OGG/Opus"
	FormatM4A     = "M4A/MP4"
	FormatWebM    = "WebM"
	Format3GP     = "3GP"
	FormatAMR     = "AMR"
	FormatUnknown = "unknown"
)

// DetectFormat detects the audio container format from magic bytes.
// Returns FormatUnknown when no known signature matches.
func DetectFormat(data []byte) string {
	switch {
	case isRIFFWave(data):
		return FormatWAV
	case looksLikeMP3(data):
		return FormatMP3
	case isFLAC(data):
		return FormatFLAC
	case isOGG(data):
		return FormatOGG
	case isM4A(data):
		return FormatM4A
	case isWebM(data):
		return FormatWebM
	case is3GP(data):
		return Format3GP
	case isAMR(data):
		return FormatAMR
	default:
		return FormatUnknown
	}
}

// MIMEType maps a detected format to its MIME type, defaulting to audio/wav.
func MIMEType(format string) string {
	switch format {
	case FormatMP3:
		return "audio/mpeg"
	case FormatFLAC:
		return "audio/flac"
	case FormatOGG:
		return "audio/ogg"
	case FormatM4A:
		return "audio/mp4"
	case FormatWebM:
		return "audio/webm"
	case Format3GP:
		return "audio/3gpp"
	case FormatAMR:
		return "audio/amr"
	default:
		return "audio/wav"
	}
}

func isRIFFWave(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	return bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE"))
}

func looksLikeMP3(data []byte) bool {
	if len(data) < 3 {
		return false
	}
	// ID3v2 tag
	if bytes.Equal(data[:3], []byte("ID3")) {
		return true
	}
	// MPEG audio frame sync: 0xFFE? in first two bytes
	return data[0] == 0xFF && (data[1]&0xE0) == 0xE0
}

func isFLAC(data []byte) bool {
	return len(data) >= 4 && bytes.Equal(data[:4], []byte("fLaC"))
}

func isOGG(data []byte) bool {
	return len(data) >= 4 && bytes.Equal(data[:4], []byte("OggS"))
}

// ftyp brands accepted for M4A/MP4 containers.
var m4aBrands = [][]byte{
	[]byte("ftypM4A"),
	[]byte("ftypmp42"),
	[]byte("ftypisom"),
	[]byte("ftypmp41"),
}

func isM4A(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	head := data
	if len(head) > 20 {
		head = head[:20]
	}
	for _, brand := range m4aBrands {
		if bytes.Contains(head, brand) {
			return true
		}
	}
	return false
}

func isWebM(data []byte) bool {
	// EBML header signature
	return len(data) >= 4 && bytes.Equal(data[:4], []byte{0x1A, 0x45, 0xDF, 0xA3})
}

var threegpBrands = [][]byte{
	[]byte("ftyp3gp"),
	[]byte("ftyp3g2"),
}

func is3GP(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	head := data
	if len(head) > 20 {
		head = head[:20]
	}
	for _, brand := range threegpBrands {
		if bytes.Contains(head, brand) {
			return true
		}
	}
	return false
}

func isAMR(data []byte) bool {
	// "#!AMR" covers both narrowband and "#!AMR-WB" wideband headers.
	return len(data) >= 5 && bytes.Equal(data[:5], []byte("#!AMR"))
}
