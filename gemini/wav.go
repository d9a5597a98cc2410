package gemini

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/orcaman/writerseeker"
)

// EncodeWAV wraps little-endian PCM samples in a WAV container
func EncodeWAV(pcm []byte, sampleRate, bitDepth, channels int) ([]byte, error) {
	if bitDepth != 16 {
		return nil, fmt.Errorf("unsupported bit depth %d", bitDepth)
	}

	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
	}

	out := &writerseeker.WriterSeeker{}
	enc := wav.NewEncoder(out, sampleRate, bitDepth, channels, 1)
	buf := &audio.IntBuffer{
		Data:           samples,
		Format:         &audio.Format{SampleRate: sampleRate, NumChannels: channels},
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("error encoding WAV: %w", err)
	}
	// Close patches the chunk sizes in the header.
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("error closing WAV encoder: %w", err)
	}

	data, err := io.ReadAll(out.Reader())
	if err != nil {
		return nil, fmt.Errorf("error reading WAV buffer: %w", err)
	}
	return data, nil
}
