package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/spf13/viper"

	"github.com/isqad/livelook-mesh/internal/core"
)

var DefaultStunServers = []string{
	"stun:stun.l.google.com:19302",
}

const (
	EventBusNone  = "none"
	EventBusRedis = "redis"
	EventBusNATS  = "nats"
)

var (
	ErrEmptyAddress          = errors.New("listen address is required")
	ErrInvalidPortRange      = errors.New("ICE port range is invalid")
	ErrUnknownEventBusDriver = errors.New("unknown eventbus driver")
	ErrEventBusAddress       = errors.New("eventbus address is required")
	ErrNegativeRetryBackoff  = errors.New("retry backoff must not be negative")
	ErrNoCodecs              = errors.New("at least one codec must be enabled")
	ErrInvalidUploadSize     = errors.New("upload size limit must be positive")
)

type Config struct {
	App      AppConfig
	EventBus EventBusConfig
	Peer     PeerConfig
	RTC      RTCConfig
}

type AppConfig struct {
	Env            core.Environment
	Address        string
	UploadRoot     string
	MaxMessageSize int64
	MaxUploadSize  int64
}

type EventBusConfig struct {
	Driver    string
	RedisAddr string
	RedisDB   int
	NatsURL   string
	Buffer    int
}

type RTCConfig struct {
	ICEPortRangeStart uint32
	ICEPortRangeEnd   uint32
}

type CodecSpec struct {
	Mime     string
	FmtpLine string
}

type PeerConfig struct {
	EnabledCodecs []CodecSpec
	ICEServers    []string
	// RetryBackoff is the pause before renegotiating a failed link, MaxRetries caps consecutive attempts
	RetryBackoff time.Duration
	MaxRetries   uint64
}

func NewConfig() *Config {
	conf := &Config{
		App: AppConfig{
			Env:            core.DevelopmentEnv,
			Address:        ":80",
			UploadRoot:     "uploads",
			MaxMessageSize: 200 * 1024, // 200K
			MaxUploadSize:  50 << 20,   // 50M
		},
		EventBus: EventBusConfig{
			Driver:    EventBusNone,
			RedisAddr: "localhost:6379",
			NatsURL:   "nats://localhost:4222",
			Buffer:    256,
		},
		RTC: RTCConfig{
			ICEPortRangeStart: 50000,
			ICEPortRangeEnd:   60000,
		},
		Peer: PeerConfig{
			EnabledCodecs: []CodecSpec{
				{Mime: webrtc.MimeTypeOpus},
				{Mime: webrtc.MimeTypeVP8},
			},
			ICEServers:   DefaultStunServers,
			RetryBackoff: time.Second,
			MaxRetries:   3,
		},
	}

	return conf
}

// NewViper prepares a viper instance with defaults, LIVELOOK_* environment variables and an optional
// config file
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("livelook")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	return v, nil
}

func SetDefaults(v *viper.Viper) {
	conf := NewConfig()

	codecs := make([]string, 0, len(conf.Peer.EnabledCodecs))
	for _, codec := range conf.Peer.EnabledCodecs {
		codecs = append(codecs, codec.Mime)
	}

	v.SetDefault("app.env", string(conf.App.Env))
	v.SetDefault("app.address", conf.App.Address)
	v.SetDefault("app.upload_root", conf.App.UploadRoot)
	v.SetDefault("app.max_message_size", conf.App.MaxMessageSize)
	v.SetDefault("app.max_upload_size", conf.App.MaxUploadSize)
	v.SetDefault("eventbus.driver", conf.EventBus.Driver)
	v.SetDefault("eventbus.redis_addr", conf.EventBus.RedisAddr)
	v.SetDefault("eventbus.redis_db", conf.EventBus.RedisDB)
	v.SetDefault("eventbus.nats_url", conf.EventBus.NatsURL)
	v.SetDefault("eventbus.buffer", conf.EventBus.Buffer)
	v.SetDefault("peer.codecs", codecs)
	v.SetDefault("peer.ice_servers", conf.Peer.ICEServers)
	v.SetDefault("peer.retry_backoff", conf.Peer.RetryBackoff)
	v.SetDefault("peer.max_retries", conf.Peer.MaxRetries)
	v.SetDefault("rtc.ice_port_range_start", conf.RTC.ICEPortRangeStart)
	v.SetDefault("rtc.ice_port_range_end", conf.RTC.ICEPortRangeEnd)
}

func Load(v *viper.Viper) (*Config, error) {
	env, err := core.ParseEnvironment(v.GetString("app.env"))
	if err != nil {
		return nil, err
	}

	codecs := make([]CodecSpec, 0)
	for _, mime := range v.GetStringSlice("peer.codecs") {
		spec := CodecSpec{Mime: mime}
		// "video/VP9;profile-id=0" selects one fmtp line
		if i := strings.Index(mime, ";"); i >= 0 {
			spec = CodecSpec{Mime: mime[:i], FmtpLine: mime[i+1:]}
		}
		codecs = append(codecs, spec)
	}

	conf := &Config{
		App: AppConfig{
			Env:            env,
			Address:        v.GetString("app.address"),
			UploadRoot:     v.GetString("app.upload_root"),
			MaxMessageSize: v.GetInt64("app.max_message_size"),
			MaxUploadSize:  v.GetInt64("app.max_upload_size"),
		},
		EventBus: EventBusConfig{
			Driver:    strings.ToLower(v.GetString("eventbus.driver")),
			RedisAddr: v.GetString("eventbus.redis_addr"),
			RedisDB:   v.GetInt("eventbus.redis_db"),
			NatsURL:   v.GetString("eventbus.nats_url"),
			Buffer:    v.GetInt("eventbus.buffer"),
		},
		Peer: PeerConfig{
			EnabledCodecs: codecs,
			ICEServers:    v.GetStringSlice("peer.ice_servers"),
			RetryBackoff:  v.GetDuration("peer.retry_backoff"),
			MaxRetries:    v.GetUint64("peer.max_retries"),
		},
		RTC: RTCConfig{
			ICEPortRangeStart: v.GetUint32("rtc.ice_port_range_start"),
			ICEPortRangeEnd:   v.GetUint32("rtc.ice_port_range_end"),
		},
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}

	return conf, nil
}

func (c *Config) Validate() error {
	if c.App.Address == "" {
		return ErrEmptyAddress
	}
	if c.App.MaxUploadSize <= 0 {
		return ErrInvalidUploadSize
	}

	if c.RTC.ICEPortRangeStart > c.RTC.ICEPortRangeEnd || c.RTC.ICEPortRangeEnd > 65535 {
		return fmt.Errorf("%w: %d-%d", ErrInvalidPortRange, c.RTC.ICEPortRangeStart, c.RTC.ICEPortRangeEnd)
	}

	switch c.EventBus.Driver {
	case EventBusNone, "":
	case EventBusRedis:
		if c.EventBus.RedisAddr == "" {
			return fmt.Errorf("%w: redis", ErrEventBusAddress)
		}
	case EventBusNATS:
		if c.EventBus.NatsURL == "" {
			return fmt.Errorf("%w: nats", ErrEventBusAddress)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEventBusDriver, c.EventBus.Driver)
	}

	if c.Peer.RetryBackoff < 0 {
		return ErrNegativeRetryBackoff
	}
	if len(c.Peer.EnabledCodecs) == 0 {
		return ErrNoCodecs
	}

	return nil
}
