package merge

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Format describes a PCM stream. Segments in one merge job must agree on all
// three fields; joining is then a plain sample concatenation with no
// transcoding.
type Format struct {
	Channels      int
	SampleRate    int
	BitsPerSample int
}

func (f Format) blockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

func (f Format) byteRate() int {
	return f.SampleRate * f.blockAlign()
}

// Duration returns the playback length in seconds of a PCM byte slice.
func (f Format) Duration(pcm []byte) float64 {
	if f.byteRate() == 0 {
		return 0
	}
	return float64(len(pcm)) / float64(f.byteRate())
}

var errNotWAV = errors.New("not a RIFF/WAVE stream")

// decodeWAV parses a PCM WAV file and returns its format and raw samples.
// Chunks other than fmt and data (LIST, fact, cue) are skipped.
func decodeWAV(data []byte) (Format, []byte, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Format{}, nil, errNotWAV
	}

	var f Format
	var pcm []byte
	haveFmt := false

	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkLen := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if body+chunkLen > len(data) {
			return Format{}, nil, fmt.Errorf("truncated %q chunk", chunkID)
		}

		switch chunkID {
		case "fmt ":
			if chunkLen < 16 {
				return Format{}, nil, fmt.Errorf("fmt chunk too short: %d bytes", chunkLen)
			}
			audioFormat := binary.LittleEndian.Uint16(data[body : body+2])
			if audioFormat != 1 {
				return Format{}, nil, fmt.Errorf("unsupported audio format %d (only PCM)", audioFormat)
			}
			f.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			f.BitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			haveFmt = true
		case "data":
			pcm = data[body : body+chunkLen]
		}

		// Chunks are word-aligned.
		offset = body + chunkLen + chunkLen%2
	}

	if !haveFmt {
		return Format{}, nil, errors.New("missing fmt chunk")
	}
	if pcm == nil {
		return Format{}, nil, errors.New("missing data chunk")
	}
	if f.Channels == 0 || f.SampleRate == 0 || f.BitsPerSample == 0 {
		return Format{}, nil, fmt.Errorf("invalid format: %+v", f)
	}
	return f, pcm, nil
}

// encodeWAV writes a PCM WAV file for the given format and samples.
func encodeWAV(f Format, pcm []byte) []byte {
	out := make([]byte, 44+len(pcm))

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(f.byteRate()))
	binary.LittleEndian.PutUint16(out[32:34], uint16(f.blockAlign()))
	binary.LittleEndian.PutUint16(out[34:36], uint16(f.BitsPerSample))

	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[44:], pcm)

	return out
}

// silenceWAV synthesizes a silent clip of the given duration, rounded to a
// whole frame so the stream stays block-aligned.
func silenceWAV(f Format, seconds float64) ([]byte, error) {
	if seconds < 0 {
		return nil, fmt.Errorf("negative silence duration: %f", seconds)
	}
	frames := int(math.Round(seconds * float64(f.SampleRate)))
	pcm := make([]byte, frames*f.blockAlign())
	return encodeWAV(f, pcm), nil
}
