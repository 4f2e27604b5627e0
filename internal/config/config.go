package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/parleylabs/parley-core/internal/protocol"
	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Node        NodeConfig      `yaml:"node"`
	Timeline    TimelineConfig  `yaml:"timeline"`
	VoiceChat   VoiceChatConfig `yaml:"voicechat"`
	Speech      SpeechConfig    `yaml:"speech"`
	GenAI       GenAIConfig     `yaml:"genai"`
	Router      RouterConfig    `yaml:"router"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type NodeConfig struct {
	ID                string           `yaml:"id"`
	Role              string           `yaml:"role"`
	HeartbeatInterval int              `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int              `yaml:"heartbeat_timeout_ms"`
	Capabilities      []NodeCapability `yaml:"capabilities"`
}

type NodeCapability struct {
	Name       string            `yaml:"name"`
	Kind       string            `yaml:"kind"`
	Attributes map[string]string `yaml:"attributes"`
}

type TimelineConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type VoiceChatConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ClipDir     string `yaml:"clip_dir"`
	SampleRate  int    `yaml:"sample_rate"`
	Channels    int    `yaml:"channels"`
	EchoDelayMS int    `yaml:"echo_delay_ms"`
	EchoSender  string `yaml:"echo_sender"`
}

type SpeechConfig struct {
	Enabled          bool    `yaml:"enabled"`
	Mode             string  `yaml:"mode"` // mock, exec
	Command          string  `yaml:"command"`
	DefaultVoice     string  `yaml:"default_voice"`
	DefaultLanguage  string  `yaml:"default_language"`
	DefaultPitch     float64 `yaml:"default_pitch"`
	DefaultRate      float64 `yaml:"default_rate"`
	SampleRate       int     `yaml:"sample_rate"`
	Channels         int     `yaml:"channels"`
	ChunkDurationMS  int     `yaml:"chunk_duration_ms"`
	StatusIntervalMS int     `yaml:"status_interval_ms"`
}

type GenAIConfig struct {
	Enabled         bool    `yaml:"enabled"`
	Mode            string  `yaml:"mode"` // mock, remote
	Endpoint        string  `yaml:"endpoint"`
	Model           string  `yaml:"model"`
	APIKey          string  `yaml:"api_key"`
	TimeoutMS       int     `yaml:"timeout_ms"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`
	Temperature     float64 `yaml:"temperature"`
}

type RouterConfig struct {
	Enabled         bool   `yaml:"enabled"`
	DefaultVoice    string `yaml:"default_voice"`
	DefaultLanguage string `yaml:"default_language"`
	Target          string `yaml:"target"`
}

func Default() Config {
	return Config{
		RuntimeName: "parley-runtime",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Node: NodeConfig{
			ID:                "parley-node-1",
			Role:              "runtime",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
			Capabilities: []NodeCapability{
				{Name: "runtime.core", Kind: "runtime"},
			},
		},
		Timeline: TimelineConfig{
			Path:          "./data/parley-timeline.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		VoiceChat: VoiceChatConfig{
			Enabled:     true,
			ClipDir:     "./data/clips",
			SampleRate:  16000,
			Channels:    1,
			EchoDelayMS: 1500,
			EchoSender:  "assistant",
		},
		Speech: SpeechConfig{
			Enabled:          true,
			Mode:             "mock",
			DefaultVoice:     "default",
			DefaultLanguage:  "en-US",
			DefaultPitch:     1.0,
			DefaultRate:      1.0,
			SampleRate:       22050,
			Channels:         1,
			ChunkDurationMS:  400,
			StatusIntervalMS: 500,
		},
		GenAI: GenAIConfig{
			Enabled:         true,
			Mode:            "mock",
			Endpoint:        "https://generativelanguage.googleapis.com",
			Model:           "gemini-2.0-flash",
			TimeoutMS:       30000,
			MaxOutputTokens: 256,
			Temperature:     0.7,
		},
		Router: RouterConfig{
			Enabled:         true,
			DefaultVoice:    "default",
			DefaultLanguage: "en-US",
			Target:          "default",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "PARLEY_RUNTIME_NAME")
	overrideString(&cfg.Environment, "PARLEY_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "PARLEY_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "PARLEY_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "PARLEY_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "PARLEY_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "PARLEY_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "PARLEY_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "PARLEY_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "PARLEY_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "PARLEY_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "PARLEY_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "PARLEY_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "PARLEY_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "PARLEY_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "PARLEY_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Node.ID, "PARLEY_NODE_ID")
	overrideString(&cfg.Node.Role, "PARLEY_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatInterval, "PARLEY_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "PARLEY_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.Timeline.Path, "PARLEY_TIMELINE_PATH")
	overrideString(&cfg.Timeline.RetentionMode, "PARLEY_TIMELINE_RETENTION_MODE")
	overrideInt(&cfg.Timeline.RetentionDays, "PARLEY_TIMELINE_RETENTION_DAYS")
	overrideInt(&cfg.Timeline.MaxSessions, "PARLEY_TIMELINE_MAX_SESSIONS")
	overrideBool(&cfg.Timeline.VacuumOnStart, "PARLEY_TIMELINE_VACUUM_ON_START")
	overrideBool(&cfg.VoiceChat.Enabled, "PARLEY_VOICECHAT_ENABLED")
	overrideString(&cfg.VoiceChat.ClipDir, "PARLEY_VOICECHAT_CLIP_DIR")
	overrideInt(&cfg.VoiceChat.SampleRate, "PARLEY_VOICECHAT_SAMPLE_RATE")
	overrideInt(&cfg.VoiceChat.Channels, "PARLEY_VOICECHAT_CHANNELS")
	overrideInt(&cfg.VoiceChat.EchoDelayMS, "PARLEY_VOICECHAT_ECHO_DELAY_MS")
	overrideString(&cfg.VoiceChat.EchoSender, "PARLEY_VOICECHAT_ECHO_SENDER")
	overrideBool(&cfg.Speech.Enabled, "PARLEY_SPEECH_ENABLED")
	overrideString(&cfg.Speech.Mode, "PARLEY_SPEECH_MODE")
	overrideString(&cfg.Speech.Command, "PARLEY_SPEECH_COMMAND")
	overrideString(&cfg.Speech.DefaultVoice, "PARLEY_SPEECH_DEFAULT_VOICE")
	overrideString(&cfg.Speech.DefaultLanguage, "PARLEY_SPEECH_DEFAULT_LANGUAGE")
	overrideFloat(&cfg.Speech.DefaultPitch, "PARLEY_SPEECH_DEFAULT_PITCH")
	overrideFloat(&cfg.Speech.DefaultRate, "PARLEY_SPEECH_DEFAULT_RATE")
	overrideInt(&cfg.Speech.SampleRate, "PARLEY_SPEECH_SAMPLE_RATE")
	overrideInt(&cfg.Speech.Channels, "PARLEY_SPEECH_CHANNELS")
	overrideInt(&cfg.Speech.ChunkDurationMS, "PARLEY_SPEECH_CHUNK_DURATION_MS")
	overrideInt(&cfg.Speech.StatusIntervalMS, "PARLEY_SPEECH_STATUS_INTERVAL_MS")
	overrideBool(&cfg.GenAI.Enabled, "PARLEY_GENAI_ENABLED")
	overrideString(&cfg.GenAI.Mode, "PARLEY_GENAI_MODE")
	overrideString(&cfg.GenAI.Endpoint, "PARLEY_GENAI_ENDPOINT")
	overrideString(&cfg.GenAI.Model, "PARLEY_GENAI_MODEL")
	overrideString(&cfg.GenAI.APIKey, "PARLEY_GENAI_API_KEY")
	overrideInt(&cfg.GenAI.TimeoutMS, "PARLEY_GENAI_TIMEOUT_MS")
	overrideInt(&cfg.GenAI.MaxOutputTokens, "PARLEY_GENAI_MAX_OUTPUT_TOKENS")
	overrideFloat(&cfg.GenAI.Temperature, "PARLEY_GENAI_TEMPERATURE")
	overrideBool(&cfg.Router.Enabled, "PARLEY_ROUTER_ENABLED")
	overrideString(&cfg.Router.DefaultVoice, "PARLEY_ROUTER_DEFAULT_VOICE")
	overrideString(&cfg.Router.DefaultLanguage, "PARLEY_ROUTER_DEFAULT_LANGUAGE")
	overrideString(&cfg.Router.Target, "PARLEY_ROUTER_TARGET")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Node.ID == "" {
		return errors.New("node.id must not be empty")
	}
	if cfg.Node.HeartbeatInterval <= 0 {
		return errors.New("node.heartbeat_interval_ms must be positive")
	}
	if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
		return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
	}
	if len(cfg.Node.Capabilities) == 0 {
		return errors.New("node.capabilities must not be empty")
	}
	if cfg.Timeline.Path == "" {
		return errors.New("timeline.path must not be empty")
	}
	switch cfg.Timeline.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("timeline.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Timeline.RetentionDays < 0 {
		return errors.New("timeline.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.VoiceChat.Enabled {
		if cfg.VoiceChat.ClipDir == "" {
			return errors.New("voicechat.clip_dir must not be empty when voicechat is enabled")
		}
		if cfg.VoiceChat.SampleRate <= 0 {
			return errors.New("voicechat.sample_rate must be positive")
		}
		if cfg.VoiceChat.Channels <= 0 {
			return errors.New("voicechat.channels must be positive")
		}
		if cfg.VoiceChat.EchoDelayMS < 0 {
			return errors.New("voicechat.echo_delay_ms must be >= 0")
		}
	}
	if cfg.Speech.Enabled {
		switch cfg.Speech.Mode {
		case "mock", "exec":
		default:
			return errors.New("speech.mode must be one of mock|exec")
		}
		if cfg.Speech.Mode == "exec" && cfg.Speech.Command == "" {
			return errors.New("speech.command must be set when mode=exec")
		}
		if cfg.Speech.SampleRate <= 0 {
			return errors.New("speech.sample_rate must be positive")
		}
		if cfg.Speech.Channels <= 0 {
			return errors.New("speech.channels must be positive")
		}
		if cfg.Speech.StatusIntervalMS <= 0 {
			return errors.New("speech.status_interval_ms must be positive")
		}
		if !protocol.ValidLanguageTag(cfg.Speech.DefaultLanguage) {
			return errors.New("speech.default_language must be a BCP-47 language tag")
		}
	}
	if cfg.GenAI.Enabled {
		switch cfg.GenAI.Mode {
		case "mock", "remote":
		default:
			return errors.New("genai.mode must be one of mock|remote")
		}
		if cfg.GenAI.Mode == "remote" && cfg.GenAI.Endpoint == "" {
			return errors.New("genai.endpoint must be set when mode=remote")
		}
		if cfg.GenAI.Mode == "remote" && cfg.GenAI.Model == "" {
			return errors.New("genai.model must be set when mode=remote")
		}
		if cfg.GenAI.TimeoutMS <= 0 {
			return errors.New("genai.timeout_ms must be positive")
		}
		if cfg.GenAI.MaxOutputTokens < 0 {
			return errors.New("genai.max_output_tokens must be >= 0")
		}
	}
	if cfg.Router.Enabled {
		if !protocol.ValidLanguageTag(cfg.Router.DefaultLanguage) {
			return errors.New("router.default_language must be a BCP-47 language tag")
		}
	}
	return nil
}
