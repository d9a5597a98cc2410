package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all server configuration
type Config struct {
	Port            int
	AllowedOrigins  []string
	StaticDir       string
	RedisURL        string
	RedisPassword   string
	LogLevel        string
	WriteQueueSize  int // Outbound frames buffered per socket
	KeepAlivePeriod time.Duration

	Iflytek  IflytekConfig
	Moonshot MoonshotConfig
	Baidu    BaiduConfig
	TTS      TTSConfig
	TarotURL string
	AudioTTL time.Duration
}

// IflytekConfig is the streaming recognizer credential triple and endpoint
type IflytekConfig struct {
	AppID     string
	APIKey    string
	APISecret string
	URL       string
	VADEOS    int // End-of-speech silence threshold in milliseconds
}

// Configured reports whether the full credential triple is present
func (c IflytekConfig) Configured() bool {
	return c.AppID != "" && c.APIKey != "" && c.APISecret != ""
}

// MoonshotConfig configures the OpenAI-compatible chat endpoint
type MoonshotConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// BaiduConfig configures the translation API
type BaiduConfig struct {
	AppID  string
	AppKey string
}

// TTSConfig configures speech synthesis
type TTSConfig struct {
	GeminiAPIKey string
	Model        string
	Voice        string
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := &Config{
		Port:            8000,
		AllowedOrigins:  []string{"*"},
		StaticDir:       ".",
		LogLevel:        "info",
		WriteQueueSize:  64,
		KeepAlivePeriod: 30 * time.Second,
		Iflytek: IflytekConfig{
			URL:    "wss://iat-api.xfyun.cn/v2/iat",
			VADEOS: 10000,
		},
		Moonshot: MoonshotConfig{
			BaseURL: "https://api.moonshot.cn/v1",
			Model:   "moonshot-v1-8k",
		},
		TTS: TTSConfig{
			Model: "gemini-2.5-flash-preview-tts",
			Voice: "Kore",
		},
		TarotURL: "https://tarotapi.dev/api/v1/cards/random",
		AudioTTL: 10 * time.Minute,
	}

	// Optional: PORT
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		config.Port = p
	}

	// Optional: ALLOWED_ORIGINS (comma-separated)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = splitList(origins)
	}

	if dir := os.Getenv("STATIC_DIR"); dir != "" {
		config.StaticDir = dir
	}

	// Optional: REDIS_URL (empty disables presence and audio storage in Redis)
	config.RedisURL = os.Getenv("REDIS_URL")
	config.RedisPassword = os.Getenv("REDIS_PASSWORD")

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.LogLevel = level
	}

	if size := os.Getenv("WRITE_QUEUE_SIZE"); size != "" {
		s, err := strconv.Atoi(size)
		if err != nil || s <= 0 {
			return nil, fmt.Errorf("invalid WRITE_QUEUE_SIZE: %q", size)
		}
		config.WriteQueueSize = s
	}

	// Optional: KEEPALIVE_PERIOD (in seconds, 0 disables pings)
	if keepalive := os.Getenv("KEEPALIVE_PERIOD"); keepalive != "" {
		k, err := strconv.Atoi(keepalive)
		if err != nil || k < 0 {
			return nil, fmt.Errorf("invalid KEEPALIVE_PERIOD: %q", keepalive)
		}
		config.KeepAlivePeriod = time.Duration(k) * time.Second
	}

	// Recognition triple. Missing values only disable /ws/asr.
	config.Iflytek.AppID = os.Getenv("IFLYTEK_APP_ID")
	config.Iflytek.APIKey = os.Getenv("IFLYTEK_API_KEY")
	config.Iflytek.APISecret = os.Getenv("IFLYTEK_API_SECRET")
	if u := os.Getenv("IFLYTEK_URL"); u != "" {
		if _, err := url.Parse(u); err != nil {
			return nil, fmt.Errorf("invalid IFLYTEK_URL: %w", err)
		}
		config.Iflytek.URL = u
	}
	if eos := os.Getenv("IFLYTEK_VAD_EOS"); eos != "" {
		v, err := strconv.Atoi(eos)
		if err != nil {
			return nil, fmt.Errorf("invalid IFLYTEK_VAD_EOS: %w", err)
		}
		config.Iflytek.VADEOS = v
	}

	config.Moonshot.APIKey = os.Getenv("MOONSHOT_API_KEY")
	if base := os.Getenv("MOONSHOT_BASE_URL"); base != "" {
		config.Moonshot.BaseURL = base
	}
	if model := os.Getenv("MOONSHOT_MODEL"); model != "" {
		config.Moonshot.Model = model
	}

	config.Baidu.AppID = os.Getenv("BAIDU_APP_ID")
	config.Baidu.AppKey = os.Getenv("BAIDU_APP_KEY")

	config.TTS.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	if model := os.Getenv("TTS_MODEL"); model != "" {
		config.TTS.Model = model
	}
	if voice := os.Getenv("TTS_VOICE"); voice != "" {
		config.TTS.Voice = voice
	}

	if tarot := os.Getenv("TAROT_API_URL"); tarot != "" {
		config.TarotURL = tarot
	}

	// Optional: AUDIO_TTL (in seconds)
	if ttl := os.Getenv("AUDIO_TTL"); ttl != "" {
		t, err := strconv.Atoi(ttl)
		if err != nil {
			return nil, fmt.Errorf("invalid AUDIO_TTL: %w", err)
		}
		config.AudioTTL = time.Duration(t) * time.Second
	}

	return config, nil
}

// OriginAllowed reports whether a browser Origin header passes ALLOWED_ORIGINS
func (c *Config) OriginAllowed(origin string) bool {
	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
