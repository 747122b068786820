package audio

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/reelsmith/reelsmith-backend/internal/observability"
	"github.com/reelsmith/reelsmith-backend/internal/platform/envutil"
	"github.com/reelsmith/reelsmith-backend/internal/platform/localmedia"
	"github.com/reelsmith/reelsmith-backend/internal/platform/logger"
)

const (
	// Narration speed assumed when no synthesized audio exists.
	wordsPerSecond = 2.5
	// A silence stand-in is never shorter than this.
	minSilenceSeconds = 3.0
)

// Provider turns a script into an audio file on disk.
type Provider interface {
	Name() string
	Synthesize(ctx context.Context, text, outPath string) error
}

// SynthesisResult records which provider actually produced the voiceover.
// Silence=true means every provider failed and the file is a timed stand-in
// so downstream duration math still works.
type SynthesisResult struct {
	Path     string
	Provider string
	Silence  bool
}

// Synthesizer walks the configured provider chain and falls back to silence.
// A job never fails because TTS is down.
type Synthesizer struct {
	log       *logger.Logger
	providers []Provider
	media     localmedia.Tools
}

func NewSynthesizer(log *logger.Logger, media localmedia.Tools, providers ...Provider) *Synthesizer {
	return &Synthesizer{
		log:       log.With("service", "Synthesizer"),
		providers: providers,
		media:     media,
	}
}

func (s *Synthesizer) Synthesize(ctx context.Context, script, outPath string) (SynthesisResult, error) {
	metrics := observability.GetMetrics()
	script = strings.TrimSpace(script)
	if script == "" {
		return SynthesisResult{}, fmt.Errorf("empty script")
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return SynthesisResult{}, fmt.Errorf("create voiceover dir: %w", err)
	}

	for _, p := range s.providers {
		err := p.Synthesize(ctx, script, outPath)
		if err == nil {
			metrics.TTSRequests.Inc(p.Name(), "success")
			s.log.Info("voiceover synthesized", "provider", p.Name())
			return SynthesisResult{Path: outPath, Provider: p.Name()}, nil
		}
		metrics.TTSRequests.Inc(p.Name(), "error")
		s.log.Warn("tts provider failed, trying next", "provider", p.Name(), "error", err)
	}

	seconds := SilenceSeconds(script)
	if err := s.media.FFmpeg(ctx,
		"-f", "lavfi",
		"-i", "anullsrc=r=44100:cl=stereo",
		"-t", fmt.Sprintf("%.2f", seconds),
		"-c:a", "aac",
		outPath,
	); err != nil {
		return SynthesisResult{}, fmt.Errorf("silence fallback: %w", err)
	}
	metrics.TTSRequests.Inc("silence", "fallback")
	s.log.Warn("all tts providers failed, using timed silence", "seconds", seconds)
	return SynthesisResult{Path: outPath, Provider: "silence", Silence: true}, nil
}

// SilenceSeconds estimates narration length for a script at the assumed
// speaking rate.
func SilenceSeconds(script string) float64 {
	words := len(strings.Fields(script))
	seconds := float64(words) / wordsPerSecond
	if seconds < minSilenceSeconds {
		seconds = minSilenceSeconds
	}
	return seconds
}

type elevenLabsProvider struct {
	log     *logger.Logger
	client  *http.Client
	apiKey  string
	voiceID string
	baseURL string
}

func NewElevenLabs(log *logger.Logger, apiKey, voiceName string) Provider {
	voiceID := voiceName
	if voiceID == "" || voiceID == "default" {
		voiceID = "21m00Tcm4TlvDq8ikWAM"
	}
	return &elevenLabsProvider{
		log:     log.With("provider", "elevenlabs"),
		client:  &http.Client{Timeout: 60 * time.Second},
		apiKey:  apiKey,
		voiceID: voiceID,
		baseURL: envutil.Str("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io/v1"),
	}
}

func (p *elevenLabsProvider) Name() string { return "elevenlabs" }

func (p *elevenLabsProvider) Synthesize(ctx context.Context, text, outPath string) error {
	if strings.TrimSpace(p.apiKey) == "" {
		return fmt.Errorf("no api key configured")
	}
	payload := map[string]any{
		"text":     text,
		"model_id": "eleven_monolingual_v1",
		"voice_settings": map[string]any{
			"stability":        0.5,
			"similarity_boost": 0.75,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	u := fmt.Sprintf("%s/text-to-speech/%s", p.baseURL, url.PathEscape(p.voiceID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "audio/mpeg")
	return fetchAudio(p.client, req, outPath)
}

type openAIProvider struct {
	log     *logger.Logger
	client  *http.Client
	apiKey  string
	voice   string
	speed   float64
	baseURL string
}

func NewOpenAISpeech(log *logger.Logger, apiKey string, speed float64) Provider {
	if speed <= 0 {
		speed = 1.0
	}
	return &openAIProvider{
		log:     log.With("provider", "openai"),
		client:  &http.Client{Timeout: 60 * time.Second},
		apiKey:  apiKey,
		voice:   "alloy",
		speed:   speed,
		baseURL: envutil.Str("OPENAI_BASE_URL", "https://api.openai.com/v1"),
	}
}

func (p *openAIProvider) Name() string { return "openai" }

func (p *openAIProvider) Synthesize(ctx context.Context, text, outPath string) error {
	if strings.TrimSpace(p.apiKey) == "" {
		return fmt.Errorf("no api key configured")
	}
	payload := map[string]any{
		"model": "tts-1",
		"voice": p.voice,
		"input": text,
		"speed": p.speed,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	return fetchAudio(p.client, req, outPath)
}

type googleTTSProvider struct {
	log     *logger.Logger
	client  *http.Client
	apiKey  string
	baseURL string
}

func NewGoogleTTS(log *logger.Logger, apiKey string) Provider {
	return &googleTTSProvider{
		log:     log.With("provider", "google"),
		client:  &http.Client{Timeout: 60 * time.Second},
		apiKey:  apiKey,
		baseURL: envutil.Str("GOOGLE_TTS_BASE_URL", "https://texttospeech.googleapis.com/v1"),
	}
}

func (p *googleTTSProvider) Name() string { return "google" }

func (p *googleTTSProvider) Synthesize(ctx context.Context, text, outPath string) error {
	if strings.TrimSpace(p.apiKey) == "" {
		return fmt.Errorf("no api key configured")
	}
	payload := map[string]any{
		"input":       map[string]string{"text": text},
		"voice":       map[string]string{"languageCode": "en-US", "name": "en-US-Neural2-C"},
		"audioConfig": map[string]string{"audioEncoding": "MP3"},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	u := fmt.Sprintf("%s/text:synthesize?key=%s", p.baseURL, url.QueryEscape(p.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("google tts status %d: %s", resp.StatusCode, string(b))
	}
	var out struct {
		AudioContent string `json:"audioContent"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode synthesize response: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(out.AudioContent)
	if err != nil {
		return fmt.Errorf("decode audio content: %w", err)
	}
	if len(raw) == 0 {
		return fmt.Errorf("empty audio content")
	}
	return os.WriteFile(outPath, raw, 0o644)
}

// fetchAudio executes a request whose response body is the audio payload.
func fetchAudio(client *http.Client, req *http.Request, outPath string) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("tts status %d: %s", resp.StatusCode, string(b))
	}
	f, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer f.Close()
	n, err := io.Copy(f, resp.Body)
	if err != nil {
		return fmt.Errorf("write audio: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("provider returned empty body")
	}
	return nil
}
