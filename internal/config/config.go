package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures runtime parameters for the relay and the headless client.
type Config struct {
	HTTPAddress         string        `mapstructure:"http_address"`
	LogLevel            string        `mapstructure:"log_level"`
	ShutdownGracePeriod time.Duration `mapstructure:"shutdown_grace_period"`
	StaticDir           string        `mapstructure:"static_dir"`
	Admin               AdminConfig   `mapstructure:"admin"`
	Relay               RelayConfig   `mapstructure:"relay"`
	Client              ClientConfig  `mapstructure:"client"`
	WebRTC              WebRTCConfig  `mapstructure:"webrtc"`
	Session             SessionConfig `mapstructure:"session"`
}

// AdminConfig describes the optional admin/metrics listener.
type AdminConfig struct {
	Address           string        `mapstructure:"address"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
}

// RelayConfig tunes the websocket hub.
type RelayConfig struct {
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	PongTimeout     time.Duration `mapstructure:"pong_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes"`
	SendBufferSize  int           `mapstructure:"send_buffer_size"`
}

// ClientConfig tunes the realtime channel client.
type ClientConfig struct {
	ServerURL         string        `mapstructure:"server_url"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
}

// WebRTCConfig lists the ICE servers used for voice calls.
type WebRTCConfig struct {
	ICEServers []string `mapstructure:"ice_servers"`
}

// SessionConfig describes where the client persists its identity.
type SessionConfig struct {
	Path          string `mapstructure:"path"`
	PassphraseEnv string `mapstructure:"passphrase_env"`
}

const (
	defaultHTTPAddress         = "0.0.0.0:4000"
	defaultLogLevel            = "info"
	defaultShutdownGracePeriod = 10 * time.Second
	defaultReadHeaderTimeout   = 5 * time.Second

	// Keepalive cadence: 25s pings, 60s of silence tolerated before the
	// peer is considered gone.
	defaultPingInterval    = 25 * time.Second
	defaultPongTimeout     = 60 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultMaxMessageBytes = 64 * 1024
	defaultSendBufferSize  = 32

	defaultServerURL         = "http://127.0.0.1:4000"
	defaultReconnectAttempts = 5
	defaultReconnectDelay    = time.Second
	defaultConnectTimeout    = 10 * time.Second

	defaultSessionPath   = "data/session.json"
	defaultPassphraseEnv = "CHAT_SESSION_PASSPHRASE"
)

var defaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
}

// Load reads configuration from the provided file path (if any) and the
// environment. Environment variables are prefixed with CHAT_ and override
// file values.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CHAT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("http_address", defaultHTTPAddress)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("shutdown_grace_period", defaultShutdownGracePeriod.String())
	v.SetDefault("static_dir", "")
	v.SetDefault("admin.address", "")
	v.SetDefault("admin.read_header_timeout", defaultReadHeaderTimeout.String())
	v.SetDefault("relay.ping_interval", defaultPingInterval.String())
	v.SetDefault("relay.pong_timeout", defaultPongTimeout.String())
	v.SetDefault("relay.write_timeout", defaultWriteTimeout.String())
	v.SetDefault("relay.max_message_bytes", defaultMaxMessageBytes)
	v.SetDefault("relay.send_buffer_size", defaultSendBufferSize)
	v.SetDefault("client.server_url", defaultServerURL)
	v.SetDefault("client.reconnect_attempts", defaultReconnectAttempts)
	v.SetDefault("client.reconnect_delay", defaultReconnectDelay.String())
	v.SetDefault("client.connect_timeout", defaultConnectTimeout.String())
	v.SetDefault("webrtc.ice_servers", defaultICEServers)
	v.SetDefault("session.path", defaultSessionPath)
	v.SetDefault("session.passphrase_env", defaultPassphraseEnv)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// Viper leaves durations as strings; normalize them here.
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"shutdown_grace_period", &cfg.ShutdownGracePeriod},
		{"admin.read_header_timeout", &cfg.Admin.ReadHeaderTimeout},
		{"relay.ping_interval", &cfg.Relay.PingInterval},
		{"relay.pong_timeout", &cfg.Relay.PongTimeout},
		{"relay.write_timeout", &cfg.Relay.WriteTimeout},
		{"client.reconnect_delay", &cfg.Client.ReconnectDelay},
		{"client.connect_timeout", &cfg.Client.ConnectTimeout},
	}
	for _, d := range durations {
		dur, err := time.ParseDuration(v.GetString(d.key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = dur
	}

	if cfg.HTTPAddress == "" {
		cfg.HTTPAddress = defaultHTTPAddress
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.Relay.MaxMessageBytes <= 0 {
		cfg.Relay.MaxMessageBytes = defaultMaxMessageBytes
	}
	if cfg.Relay.SendBufferSize <= 0 {
		cfg.Relay.SendBufferSize = defaultSendBufferSize
	}
	if cfg.Client.ReconnectAttempts <= 0 {
		cfg.Client.ReconnectAttempts = defaultReconnectAttempts
	}
	if len(cfg.WebRTC.ICEServers) == 0 {
		cfg.WebRTC.ICEServers = append([]string(nil), defaultICEServers...)
	}
	if cfg.Session.Path == "" {
		cfg.Session.Path = defaultSessionPath
	}
	if cfg.Session.PassphraseEnv == "" {
		cfg.Session.PassphraseEnv = defaultPassphraseEnv
	}

	return cfg, nil
}

// SessionPassphrase fetches the session store passphrase from the configured
// environment variable.
func (c Config) SessionPassphrase() (string, error) {
	env := c.Session.PassphraseEnv
	if env == "" {
		env = defaultPassphraseEnv
	}
	val := strings.TrimSpace(getenv(env))
	if val == "" {
		return "", fmt.Errorf("session passphrase env %s is empty", env)
	}
	return val, nil
}

// split out for testing.
var getenv = os.Getenv
