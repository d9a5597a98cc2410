package gemini

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"

	"github.com/room4-2/tarotobot/config"
)

// Gemini speech models return mono signed 16-bit PCM at 24kHz.
const (
	SampleRate = 24000
	BitDepth   = 16
	Channels   = 1

	synthesisTimeout = 60 * time.Second
)

// ErrNotConfigured is returned when no API key is set
var ErrNotConfigured = errors.New("speech synthesis api key not configured")

// contentGenerator is the part of genai.Models the synthesizer uses
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Synthesizer turns reply text into WAV audio with a Gemini speech model
type Synthesizer struct {
	models contentGenerator
	model  string
	voice  string
	log    *logrus.Entry
}

// NewSynthesizer creates the GenAI client. Without an API key the returned
// synthesizer reports itself unconfigured and never calls out.
func NewSynthesizer(ctx context.Context, cfg config.TTSConfig, log *logrus.Entry) (*Synthesizer, error) {
	s := &Synthesizer{
		model: cfg.Model,
		voice: cfg.Voice,
		log:   log,
	}
	if cfg.GeminiAPIKey == "" {
		return s, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	s.models = client.Models

	return s, nil
}

// Configured reports whether the synthesizer can call the API
func (s *Synthesizer) Configured() bool {
	return s.models != nil
}

// Synthesize speaks text with the configured prebuilt voice and returns a
// complete WAV file.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if !s.Configured() {
		return nil, ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, synthesisTimeout)
	defer cancel()

	start := time.Now()
	resp, err := s.models.GenerateContent(ctx, s.model, genai.Text(text), &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{
					VoiceName: s.voice,
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("generate speech: %w", err)
	}

	pcm, err := audioPart(resp)
	if err != nil {
		return nil, err
	}

	wav, err := EncodeWAV(pcm, SampleRate, BitDepth, Channels)
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"voice":    s.voice,
		"chars":    len([]rune(text)),
		"bytes":    len(wav),
		"duration": time.Since(start).String(),
	}).Debug("speech synthesized")

	return wav, nil
}

func audioPart(resp *genai.GenerateContentResponse) ([]byte, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("speech response has no candidates")
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return part.InlineData.Data, nil
		}
	}
	return nil, errors.New("speech response has no audio")
}
