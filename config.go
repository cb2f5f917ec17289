package kstock

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration yaml-friendly duration parsed with time.ParseDuration, so
// config files can say "15s" or "1m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return NewError("config.duration", err)
	}
	*d = Duration(parsed)
	return nil
}

// Std converts to a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// FileConfig on-disk client configuration. Values are env-expanded on
// load, so entries like "${KSTOCK_API_URL}" work.
type FileConfig struct {
	APIBaseURL  string `yaml:"api_base_url"`
	MarketWSURL string `yaml:"market_ws_url"`
	AgentWSURL  string `yaml:"agent_ws_url"`
	AccountID   string `yaml:"account_id"`

	Log struct {
		Level       string `yaml:"level"`
		OutputPath  string `yaml:"output_path"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`

	MarketChannel FileChannelConfig `yaml:"market_channel"`
	AgentChannel  FileChannelConfig `yaml:"agent_channel"`
}

// FileChannelConfig per-channel tuning from the config file.
type FileChannelConfig struct {
	PingInterval Duration `yaml:"ping_interval"`
	Backoff      struct {
		Policy  string   `yaml:"policy"` // "fixed" or "exponential"
		Initial Duration `yaml:"initial"`
		Max     Duration `yaml:"max"`
	} `yaml:"backoff"`
}

// LoadConfig reads, env-expands and parses a YAML config file.
func LoadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewError("config.load", err)
	}

	expanded := os.ExpandEnv(string(data))

	var fc FileConfig
	if err := yaml.Unmarshal([]byte(expanded), &fc); err != nil {
		return nil, NewError("config.parse", err)
	}
	return &fc, nil
}

// backoff converts the file form to a BackoffConfig, falling back to
// def for unset fields.
func (fcc FileChannelConfig) backoff(def BackoffConfig) BackoffConfig {
	b := def
	switch fcc.Backoff.Policy {
	case "fixed":
		b.Policy = BackoffFixed
	case "exponential":
		b.Policy = BackoffExponential
	}
	if fcc.Backoff.Initial > 0 {
		b.Initial = fcc.Backoff.Initial.Std()
	}
	if fcc.Backoff.Max > 0 {
		b.Max = fcc.Backoff.Max.Std()
	}
	return b
}

// ClientOptions converts the file config into client options.
func (fc *FileConfig) ClientOptions() []ClientOption {
	opts := make([]ClientOption, 0, 8)
	if fc.APIBaseURL != "" {
		opts = append(opts, WithAPIBaseURL(fc.APIBaseURL))
	}
	if fc.MarketWSURL != "" {
		opts = append(opts, WithMarketWSURL(fc.MarketWSURL))
	}
	if fc.AgentWSURL != "" {
		opts = append(opts, WithAgentWSURL(fc.AgentWSURL))
	}
	if fc.AccountID != "" {
		opts = append(opts, WithAccountID(fc.AccountID))
	}
	if fc.Log.Level != "" || fc.Log.OutputPath != "" || fc.Log.Development {
		opts = append(opts, WithLogConfig(LogConfig{
			Level:       fc.Log.Level,
			OutputPath:  fc.Log.OutputPath,
			Development: fc.Log.Development,
		}))
	}
	opts = append(opts, func(cfg *ClientConfig) {
		cfg.MarketChannel.Backoff = fc.MarketChannel.backoff(cfg.MarketChannel.Backoff)
		cfg.AgentChannel.Backoff = fc.AgentChannel.backoff(cfg.AgentChannel.Backoff)
		if fc.MarketChannel.PingInterval > 0 {
			cfg.MarketChannel.PingInterval = fc.MarketChannel.PingInterval.Std()
		}
		if fc.AgentChannel.PingInterval > 0 {
			cfg.AgentChannel.PingInterval = fc.AgentChannel.PingInterval.Std()
		}
	})
	return opts
}
