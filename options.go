package centrifuge

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

// Options configures a Client. Start from DefaultOptions; a zero PingInterval disables pings and a
// zero Timeout disables reply deadlines.
type Options struct {
	// Timeout bounds every command, the websocket handshake and every write.
	Timeout      time.Duration
	PingInterval time.Duration

	// PrivateChannelPrefix marks channels subscribed with a token from PrivateSubHandler.
	PrivateChannelPrefix string

	// Headers are sent with every websocket handshake.
	Headers     http.Header
	Interceptor Interceptor
	Dialer      *websocket.Dialer

	// Name and Version identify the client application in the CONNECT command.
	Name    string
	Version string

	Debug  bool
	Logger Logger

	MinReconnectDelay time.Duration
	MaxReconnectDelay time.Duration
	ReconnectFactor   float64
	ReconnectJitter   float64

	// TransportFactory replaces the websocket transport.
	TransportFactory TransportFactory
	Codec            Codec

	MetricsRegisterer prometheus.Registerer
	MetricsNamespace  string
	MetricsLabels     prometheus.Labels

	TracerProvider trace.TracerProvider

	clock clock
}

func DefaultOptions() Options {
	return Options{
		Timeout:              defaultTimeout,
		PingInterval:         defaultPingInterval,
		PrivateChannelPrefix: defaultPrivateChannelPrefix,
		MinReconnectDelay:    defaultMinReconnectDelay,
		MaxReconnectDelay:    defaultMaxReconnectDelay,
		ReconnectFactor:      defaultReconnectFactor,
	}
}

// normalize fills in what a client cannot run without.
func (o *Options) normalize() {
	if o.Logger == nil {
		if o.Debug {
			o.Logger = NewSimpleLogger(LogDebug)
		} else {
			o.Logger = NewNoopLogger()
		}
	}
	if o.MinReconnectDelay <= 0 {
		o.MinReconnectDelay = defaultMinReconnectDelay
	}
	if o.MaxReconnectDelay < o.MinReconnectDelay {
		o.MaxReconnectDelay = o.MinReconnectDelay
	}
	if o.ReconnectFactor < 1 {
		o.ReconnectFactor = defaultReconnectFactor
	}
	if o.Codec == nil {
		o.Codec = NewProtobufCodec()
	}
	if o.clock == nil {
		o.clock = realClock{}
	}
	if o.TransportFactory == nil {
		dialer := o.Dialer
		if dialer == nil {
			dialer = &websocket.Dialer{
				Proxy:            http.ProxyFromEnvironment,
				HandshakeTimeout: o.Timeout,
			}
		}
		o.TransportFactory = WebsocketFactory(dialer, o.Headers, o.Interceptor, o.Timeout, o.Logger)
	}
}

type fileOptions struct {
	Timeout              string            `toml:"timeout"`
	TimeoutMS            int64             `toml:"timeout_ms"`
	PingInterval         string            `toml:"ping_interval"`
	PingIntervalMS       int64             `toml:"ping_interval_ms"`
	PrivateChannelPrefix string            `toml:"private_channel_prefix"`
	Headers              map[string]string `toml:"headers"`
	Name                 string            `toml:"name"`
	Version              string            `toml:"version"`
	Debug                bool              `toml:"debug"`
	MinReconnectDelay    string            `toml:"min_reconnect_delay"`
	MinReconnectDelayMS  int64             `toml:"min_reconnect_delay_ms"`
	MaxReconnectDelay    string            `toml:"max_reconnect_delay"`
	MaxReconnectDelayMS  int64             `toml:"max_reconnect_delay_ms"`
	ReconnectFactor      float64           `toml:"reconnect_factor"`
	ReconnectJitter      float64           `toml:"reconnect_jitter"`
	MetricsNamespace     string            `toml:"metrics_namespace"`
}

// LoadOptions reads a TOML file over DefaultOptions. Only keys present in the file override a
// default. Durations are given as Go duration strings or as integer milliseconds in the _ms keys.
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()

	var raw fileOptions
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Options{}, fmt.Errorf("load options: %w", err)
	}

	durations := []struct {
		key string
		ms  int64
		str string
		dst *time.Duration
	}{
		{"timeout", raw.TimeoutMS, raw.Timeout, &opts.Timeout},
		{"ping_interval", raw.PingIntervalMS, raw.PingInterval, &opts.PingInterval},
		{"min_reconnect_delay", raw.MinReconnectDelayMS, raw.MinReconnectDelay, &opts.MinReconnectDelay},
		{"max_reconnect_delay", raw.MaxReconnectDelayMS, raw.MaxReconnectDelay, &opts.MaxReconnectDelay},
	}
	for _, d := range durations {
		if meta.IsDefined(d.key) {
			v, err := time.ParseDuration(strings.TrimSpace(d.str))
			if err != nil {
				return Options{}, fmt.Errorf("parse %s: %w", d.key, err)
			}
			*d.dst = v
		}
		if meta.IsDefined(d.key + "_ms") {
			*d.dst = time.Duration(d.ms) * time.Millisecond
		}
		if *d.dst < 0 {
			return Options{}, fmt.Errorf("parse %s: negative duration", d.key)
		}
	}

	if meta.IsDefined("private_channel_prefix") {
		opts.PrivateChannelPrefix = raw.PrivateChannelPrefix
	}

	if meta.IsDefined("headers") {
		opts.Headers = make(http.Header, len(raw.Headers))
		for k, v := range raw.Headers {
			opts.Headers.Set(k, v)
		}
	}

	if meta.IsDefined("name") {
		opts.Name = strings.TrimSpace(raw.Name)
	}

	if meta.IsDefined("version") {
		opts.Version = strings.TrimSpace(raw.Version)
	}

	if meta.IsDefined("debug") {
		opts.Debug = raw.Debug
	}

	if meta.IsDefined("reconnect_factor") {
		if raw.ReconnectFactor < 1 {
			return Options{}, fmt.Errorf("parse reconnect_factor: must be at least 1, got %v", raw.ReconnectFactor)
		}
		opts.ReconnectFactor = raw.ReconnectFactor
	}

	if meta.IsDefined("reconnect_jitter") {
		if raw.ReconnectJitter < 0 || raw.ReconnectJitter > 1 {
			return Options{}, fmt.Errorf("parse reconnect_jitter: must be within [0, 1], got %v", raw.ReconnectJitter)
		}
		opts.ReconnectJitter = raw.ReconnectJitter
	}

	if meta.IsDefined("metrics_namespace") {
		opts.MetricsNamespace = strings.TrimSpace(raw.MetricsNamespace)
	}

	return opts, nil
}
