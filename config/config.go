package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

const (
	DefaultLiveModel    = "models/gemini-2.5-flash-preview-native-audio-dialog"
	DefaultSummaryModel = "models/gemini-2.5-flash"
	DefaultYandexModel  = "yandexgpt"

	DefaultSystemInstruction = "Je bent Arthur een online fysio assistante die de intake online doet en kan alleen daarover een gesprek voeren. Beeindig het gesprek wanneer passend."
	DefaultClosingUtterance  = "Dank je wel. De intake is beëindigd en de samenvatting is opgeslagen."
	DefaultGreetingText      = "Welkom bij de online intake. Ik ben Arthur, uw fysio assistent."

	EndIntakeTool = "end_intake_and_summarize"
)

// Config is the complete application configuration. It is built once at
// startup and handed to each component.
type Config struct {
	Live    LiveConfig    `yaml:"live"`
	Audio   AudioConfig   `yaml:"audio"`
	Files   FilesConfig   `yaml:"files"`
	Summary SummaryConfig `yaml:"summary"`
	Yandex  YandexConfig  `yaml:"yandex"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// LiveConfig configures the conversational session.
type LiveConfig struct {
	APIKey            string `yaml:"api_key"`
	Model             string `yaml:"model"`
	SystemInstruction string `yaml:"system_instruction"`
	Voice             string `yaml:"voice"`
	Language          string `yaml:"language"`
	TriggerTokens     int64  `yaml:"trigger_tokens"`
	TargetTokens      int64  `yaml:"target_tokens"`
	ToolName          string `yaml:"tool_name"`
	ToolDescription   string `yaml:"tool_description"`
	ClosingUtterance  string `yaml:"closing_utterance"`
}

// AudioConfig contains device and queue parameters.
type AudioConfig struct {
	SendSampleRate    float64 `yaml:"send_sample_rate"`
	ReceiveSampleRate float64 `yaml:"receive_sample_rate"`
	FramesPerBuffer   int     `yaml:"frames_per_buffer"`
	Channels          int     `yaml:"channels"`
	OutboundQueueSize int     `yaml:"outbound_queue_size"`
}

type FilesConfig struct {
	Transcript string `yaml:"transcript"`
	Summary    string `yaml:"summary"`
	Usage      string `yaml:"usage"`
	Greeting   string `yaml:"greeting"`
}

// SummaryConfig selects the text generation backend for the intake summary.
type SummaryConfig struct {
	Backend  string `yaml:"backend"`
	Model    string `yaml:"model"`
	Language string `yaml:"language"`
}

// YandexConfig holds credentials for the Yandex Cloud services: YandexGPT as
// an alternative summary backend and SpeechKit for greeting synthesis. An
// empty GreetingLanguage follows the live session language; an empty
// GreetingVoice picks the default voice of that language.
type YandexConfig struct {
	IamToken         string `yaml:"iam_token"`
	GPTFolderID      string `yaml:"gpt_folder_id"`
	APIKey           string `yaml:"api_key"`
	FolderID         string `yaml:"folder_id"`
	GreetingLanguage string `yaml:"greeting_language"`
	GreetingVoice    string `yaml:"greeting_voice"`
	GreetingText     string `yaml:"greeting_text"`
}

type MetricsConfig struct {
	Address string `yaml:"address"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Live: LiveConfig{
			Model:             DefaultLiveModel,
			SystemInstruction: DefaultSystemInstruction,
			Voice:             "Fenrir",
			Language:          "nl-NL",
			TriggerTokens:     32000,
			TargetTokens:      16000,
			ToolName:          EndIntakeTool,
			ToolDescription:   "Beëindig het intakegesprek",
			ClosingUtterance:  DefaultClosingUtterance,
		},
		Audio: AudioConfig{
			SendSampleRate:    16000,
			ReceiveSampleRate: 24000,
			FramesPerBuffer:   1024,
			Channels:          1,
			OutboundQueueSize: 5,
		},
		Files: FilesConfig{
			Transcript: "transcriptions.txt",
			Summary:    "intake_summary.txt",
			Usage:      "usage.txt",
			Greeting:   "welcome_audio.wav",
		},
		Summary: SummaryConfig{
			Backend:  "gemini",
			Language: "nl",
		},
		Yandex: YandexConfig{
			GreetingText: DefaultGreetingText,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration from .env, an optional YAML file and the
// process environment, in that order of precedence (environment wins).
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(dst *string, keys ...string) {
		for _, key := range keys {
			if v, ok := lookup(key); ok && v != "" {
				*dst = v
				return
			}
		}
	}

	set(&c.Live.APIKey, "GEMINI_API_KEY", "GOOGLE_API_KEY")
	set(&c.Live.Model, "LIVE_MODEL")
	set(&c.Live.Voice, "VOICE")
	set(&c.Live.Language, "LIVE_LANGUAGE")
	set(&c.Summary.Backend, "SUMMARY_BACKEND")
	set(&c.Summary.Model, "SUMMARY_MODEL")
	set(&c.Summary.Language, "SUMMARY_LANGUAGE")
	set(&c.Files.Transcript, "TRANSCRIPT_PATH")
	set(&c.Files.Summary, "SUMMARY_PATH")
	set(&c.Files.Usage, "USAGE_PATH")
	set(&c.Files.Greeting, "GREETING_PATH")
	set(&c.Yandex.IamToken, "IAM_TOKEN")
	set(&c.Yandex.GPTFolderID, "GPT_FOLDER_ID")
	set(&c.Yandex.APIKey, "YANDEX_API_KEY")
	set(&c.Yandex.FolderID, "YANDEX_FOLDER_ID")
	set(&c.Yandex.GreetingLanguage, "GREETING_LANGUAGE")
	set(&c.Metrics.Address, "METRICS_ADDR")
	set(&c.Logging.Level, "LOG_LEVEL")
	set(&c.Logging.Format, "LOG_FORMAT")
}

// Validate checks every section. Credentials are checked separately by
// RequireLive and RequireSummary since not every mode needs them.
func (c *Config) Validate() error {
	if err := c.Live.Validate(); err != nil {
		return fmt.Errorf("live config: %w", err)
	}
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.Files.Validate(); err != nil {
		return fmt.Errorf("files config: %w", err)
	}
	if err := c.Yandex.Validate(); err != nil {
		return fmt.Errorf("yandex config: %w", err)
	}
	if err := c.Summary.Validate(); err != nil {
		return fmt.Errorf("summary config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

// RequireLive reports whether the configuration can open a live session.
func (c *Config) RequireLive() error {
	if c.Live.APIKey == "" {
		return errors.New("GEMINI_API_KEY must be set")
	}
	return c.RequireSummary()
}

// RequireSummary reports whether the selected summary backend has credentials.
func (c *Config) RequireSummary() error {
	switch c.Summary.Backend {
	case "gemini":
		if c.Live.APIKey == "" {
			return errors.New("GEMINI_API_KEY must be set for the gemini summary backend")
		}
	case "yandex":
		if c.Yandex.IamToken == "" || c.Yandex.GPTFolderID == "" {
			return errors.New("IAM_TOKEN and GPT_FOLDER_ID must be set for the yandex summary backend")
		}
	}
	return nil
}

// ModelName returns the configured model or the default of the backend.
func (s *SummaryConfig) ModelName() string {
	if s.Model != "" {
		return s.Model
	}
	if s.Backend == "yandex" {
		return DefaultYandexModel
	}
	return DefaultSummaryModel
}

// GreetingLanguageOr returns the greeting language, or fallback when unset.
func (y *YandexConfig) GreetingLanguageOr(fallback string) string {
	if y.GreetingLanguage != "" {
		return y.GreetingLanguage
	}
	return fallback
}

// CanSynthesizeGreeting reports whether SpeechKit credentials are present.
func (y *YandexConfig) CanSynthesizeGreeting() bool {
	return y.APIKey != "" && y.FolderID != "" && y.GreetingText != ""
}

func (l *LiveConfig) Validate() error {
	if l.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}
	if err := validateLanguageTag(l.Language); err != nil {
		return err
	}
	if l.ToolName == "" {
		return fmt.Errorf("tool_name cannot be empty")
	}
	if l.TriggerTokens < 0 || l.TargetTokens < 0 {
		return fmt.Errorf("compression token counts must not be negative")
	}
	if l.TriggerTokens > 0 && l.TargetTokens >= l.TriggerTokens {
		return fmt.Errorf("target_tokens (%d) must be lower than trigger_tokens (%d)", l.TargetTokens, l.TriggerTokens)
	}
	return nil
}

func (y *YandexConfig) Validate() error {
	if y.GreetingLanguage == "" {
		return nil
	}
	return validateLanguageTag(y.GreetingLanguage)
}

// validateLanguageTag accepts only canonical BCP-47 tags such as "nl-NL", so
// POSIX locale values like "en_US:en" or "nl_NL.UTF-8" are refused.
func validateLanguageTag(tag string) error {
	if tag == "" {
		return fmt.Errorf("language cannot be empty")
	}
	parsed, err := language.Parse(tag)
	if err != nil || parsed.String() != tag {
		return fmt.Errorf("language %q must be a BCP-47 tag such as nl-NL", tag)
	}
	return nil
}

func (a *AudioConfig) Validate() error {
	if a.SendSampleRate <= 0 || a.ReceiveSampleRate <= 0 {
		return fmt.Errorf("sample rates must be positive, got send=%v receive=%v", a.SendSampleRate, a.ReceiveSampleRate)
	}
	if a.FramesPerBuffer < 64 {
		return fmt.Errorf("frames_per_buffer must be at least 64, got %d", a.FramesPerBuffer)
	}
	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}
	if a.OutboundQueueSize < 1 {
		return fmt.Errorf("outbound_queue_size must be at least 1, got %d", a.OutboundQueueSize)
	}
	return nil
}

func (f *FilesConfig) Validate() error {
	if f.Transcript == "" || f.Summary == "" {
		return fmt.Errorf("transcript and summary paths cannot be empty")
	}
	return nil
}

func (s *SummaryConfig) Validate() error {
	switch s.Backend {
	case "gemini", "yandex":
	default:
		return fmt.Errorf("backend must be gemini or yandex, got %q", s.Backend)
	}
	if s.Language == "" {
		return fmt.Errorf("language cannot be empty")
	}
	return nil
}

func (l *LoggingConfig) Validate() error {
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", l.Level)
	}
	switch strings.ToLower(l.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q", l.Format)
	}
	return nil
}
