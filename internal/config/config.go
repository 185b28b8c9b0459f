package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Gateway GatewayConfig
	Server  ServerConfig
	Storage StorageConfig
	Upload  UploadConfig
	Ollama  OllamaConfig
	Log     LogConfig
}

// GatewayConfig locates the document service the client talks to.
type GatewayConfig struct {
	BaseURL string
	Timeout string
}

// TimeoutDuration parses Timeout, falling back to 60s when it is unset or invalid.
func (g GatewayConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(g.Timeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

type ServerConfig struct {
	Port          int
	AllowedOrigin string
}

type StorageConfig struct {
	DataDir string
}

type UploadConfig struct {
	MaxBytes int
}

// OllamaConfig enables generated answers. An empty URL keeps the server
// on extractive answers.
type OllamaConfig struct {
	URL     string
	Model   string
	Timeout string
}

// TimeoutDuration bounds one generation request; 0 means no limit.
func (o OllamaConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(o.Timeout)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

type LogConfig struct {
	Level string
	File  string
}

func defaults() Config {
	return Config{
		Gateway: GatewayConfig{
			BaseURL: "http://localhost:8000",
			Timeout: "60s",
		},
		Server: ServerConfig{
			Port:          8000,
			AllowedOrigin: "http://localhost:5000",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Upload: UploadConfig{
			MaxBytes: 20 << 20,
		},
		Ollama: OllamaConfig{
			Model:   "llama3",
			Timeout: "2m",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/docchat/config.json, then applies DOCCHAT_* environment
// variables. A .env file in the working directory is loaded first; variables
// already present in the environment take precedence over it.
func Load() (Config, error) {
	_ = godotenv.Load()
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	u, err := url.Parse(c.Gateway.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid gateway.base_url %q: must be an absolute http(s) URL", c.Gateway.BaseURL)
	}
	if _, err := time.ParseDuration(c.Gateway.Timeout); err != nil {
		return fmt.Errorf("invalid gateway.timeout %q: %w", c.Gateway.Timeout, err)
	}
	if c.Ollama.Timeout != "" {
		if _, err := time.ParseDuration(c.Ollama.Timeout); err != nil {
			return fmt.Errorf("invalid ollama.timeout %q: %w", c.Ollama.Timeout, err)
		}
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("invalid upload.max_bytes %d", c.Upload.MaxBytes)
	}
	return nil
}
