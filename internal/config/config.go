package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all Pitchloop environment variables.
const EnvPrefix = "PITCHLOOP_"

// Config holds all application configuration. Secrets (API keys, the seed
// bearer token) are loaded exclusively from environment variables and never
// appear in the config file.
type Config struct {
	BackendURL string `yaml:"backend_url"`
	ListenAddr string `yaml:"listen_addr"`
	DBPath     string `yaml:"db_path"`

	ScenarioID           string `yaml:"scenario_id"`
	Mode                 string `yaml:"mode"`
	InterruptionsEnabled bool   `yaml:"interruptions_enabled"`
	Mobile               bool   `yaml:"mobile"`

	EouSilence         string `yaml:"eou_silence"`
	EouSilenceMobile   string `yaml:"eou_silence_mobile"`
	Impatience         string `yaml:"impatience"`
	Hangup             string `yaml:"hangup"`
	RestartMinInterval string `yaml:"restart_min_interval"`
	RestartCooldown    string `yaml:"restart_cooldown"`
	MaxRestartFailures int    `yaml:"max_restart_failures"`

	PlayerCommand  string `yaml:"player_command"`
	MicSampleRate  int    `yaml:"mic_sample_rate"`
	MicSampleRates []int  `yaml:"mic_sample_rates"`
	OpenAIModel    string `yaml:"openai_model"`

	// Secrets come from env vars only and are never serialized to YAML.
	DeepgramAPIKey string `yaml:"-"`
	OpenAIAPIKey   string `yaml:"-"`
	AccessToken    string `yaml:"-"`
}

func defaults() Config {
	return Config{
		ListenAddr:         "127.0.0.1:8080",
		DBPath:             "data/pitchloop.db",
		ScenarioID:         "1.1",
		Mode:               "practice",
		EouSilence:         "2s",
		EouSilenceMobile:   "2500ms",
		Impatience:         "10s",
		Hangup:             "15s",
		RestartMinInterval: "1s",
		RestartCooldown:    "4s",
		MaxRestartFailures: 2,
		PlayerCommand:      "ffplay -autoexit -nodisp -loglevel quiet",
		MicSampleRate:      16000,
		MicSampleRates:     []int{48000, 44100, 32000, 24000},
		OpenAIModel:        "gpt-4o-mini",
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// ParsedEouSilence returns the end-of-utterance silence threshold, honoring
// the mobile override when the mobile policy is active.
func (c *Config) ParsedEouSilence() time.Duration {
	if c.Mobile {
		return durationOr(c.EouSilenceMobile, 2500*time.Millisecond)
	}
	return durationOr(c.EouSilence, 2*time.Second)
}

func (c *Config) ParsedImpatience() time.Duration {
	return durationOr(c.Impatience, 10*time.Second)
}

func (c *Config) ParsedHangup() time.Duration {
	return durationOr(c.Hangup, 15*time.Second)
}

func (c *Config) ParsedRestartMinInterval() time.Duration {
	return durationOr(c.RestartMinInterval, time.Second)
}

func (c *Config) ParsedRestartCooldown() time.Duration {
	return durationOr(c.RestartCooldown, 4*time.Second)
}

// SampleRateCandidates returns a deduplicated ordered list of sample rates
// to try: preferred rate first, then configured alternatives, then defaults.
func (c *Config) SampleRateCandidates() []int {
	hardcoded := []int{16000, 48000, 44100, 32000, 24000}

	combined := make([]int, 0, 1+len(c.MicSampleRates)+len(hardcoded))
	combined = append(combined, c.MicSampleRate)
	combined = append(combined, c.MicSampleRates...)
	combined = append(combined, hardcoded...)

	seen := make(map[int]struct{}, len(combined))
	result := make([]int, 0, len(combined))
	for _, rate := range combined {
		if rate <= 0 {
			continue
		}
		if _, ok := seen[rate]; ok {
			continue
		}
		seen[rate] = struct{}{}
		result = append(result, rate)
	}
	return result
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "BACKEND_URL"); v != "" {
		cfg.BackendURL = v
	}
	if v := os.Getenv(EnvPrefix + "LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(EnvPrefix + "DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvPrefix + "SCENARIO_ID"); v != "" {
		cfg.ScenarioID = v
	}
	if v := os.Getenv(EnvPrefix + "MODE"); v != "" {
		cfg.Mode = v
	}
	if v := os.Getenv(EnvPrefix + "INTERRUPTIONS"); v != "" {
		cfg.InterruptionsEnabled = boolValue(v)
	}
	if v := os.Getenv(EnvPrefix + "MOBILE"); v != "" {
		cfg.Mobile = boolValue(v)
	}
	if v := os.Getenv(EnvPrefix + "EOU_SILENCE"); v != "" {
		cfg.EouSilence = v
	}
	if v := os.Getenv(EnvPrefix + "IMPATIENCE"); v != "" {
		cfg.Impatience = v
	}
	if v := os.Getenv(EnvPrefix + "HANGUP"); v != "" {
		cfg.Hangup = v
	}
	if v := os.Getenv(EnvPrefix + "PLAYER_COMMAND"); v != "" {
		cfg.PlayerCommand = v
	}
	if v := os.Getenv(EnvPrefix + "MIC_SAMPLE_RATE"); v != "" {
		if rate, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && rate > 0 {
			cfg.MicSampleRate = rate
		}
	}
	if v := os.Getenv(EnvPrefix + "MIC_SAMPLE_RATES"); v != "" {
		cfg.MicSampleRates = parseSampleRates(v)
	}
	if v := os.Getenv(EnvPrefix + "OPENAI_MODEL"); v != "" {
		cfg.OpenAIModel = v
	}
}

func loadSecrets(cfg *Config) {
	cfg.DeepgramAPIKey = os.Getenv(EnvPrefix + "DEEPGRAM_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
	cfg.AccessToken = os.Getenv(EnvPrefix + "ACCESS_TOKEN")
}

func validate(cfg *Config) []string {
	var warnings []string

	if cfg.DeepgramAPIKey == "" {
		warnings = append(warnings, "Deepgram API key not configured — speech recognition is disabled. Set "+EnvPrefix+"DEEPGRAM_API_KEY.")
	}
	if cfg.BackendURL == "" && cfg.OpenAIAPIKey == "" {
		warnings = append(warnings, "No backend URL and no OpenAI API key — the offline prospect uses canned replies only.")
	}
	if cfg.Mode != "practice" && cfg.Mode != "rapid_fire" {
		warnings = append(warnings, fmt.Sprintf("Unknown mode %q — using practice pacing.", cfg.Mode))
	}
	durations := map[string]string{
		"eou_silence":          cfg.EouSilence,
		"impatience":           cfg.Impatience,
		"hangup":               cfg.Hangup,
		"restart_min_interval": cfg.RestartMinInterval,
		"restart_cooldown":     cfg.RestartCooldown,
	}
	for _, name := range []string{"eou_silence", "impatience", "hangup", "restart_min_interval", "restart_cooldown"} {
		if _, err := time.ParseDuration(durations[name]); err != nil {
			warnings = append(warnings, fmt.Sprintf("Invalid %s %q — using the default.", name, durations[name]))
		}
	}

	return warnings
}

func boolValue(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func durationOr(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func parseSampleRates(raw string) []int {
	parts := strings.Split(raw, ",")
	seen := make(map[int]struct{}, len(parts))
	result := make([]int, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		rate, err := strconv.Atoi(trimmed)
		if err != nil || rate <= 0 {
			continue
		}
		if _, ok := seen[rate]; ok {
			continue
		}
		seen[rate] = struct{}{}
		result = append(result, rate)
	}

	return result
}
