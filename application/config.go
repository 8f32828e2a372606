package application

import (
	"github.com/lk2023060901/perceptlink-go/internal/message"
	"github.com/lk2023060901/perceptlink-go/internal/network/acceptor"
	"github.com/lk2023060901/perceptlink-go/internal/network/connector"
	"github.com/lk2023060901/perceptlink-go/internal/replay"
	"github.com/lk2023060901/perceptlink-go/pkg/log"
)

// SenderConfig is the "sender" section: the destination plus connection options.
type SenderConfig struct {
	connector.Endpoint `mapstructure:",squash"`
	connector.Config   `mapstructure:",squash"`
}

// RecordConfig is the "replay.record" section. An empty Path disables recording.
type RecordConfig struct {
	Path           string `mapstructure:"path" json:"path"`
	replay.Options `mapstructure:",squash"`
}

// ReplayConfig is the "replay" section.
type ReplayConfig struct {
	// File is the recording to replay.
	File          string `mapstructure:"file" json:"file"`
	replay.Config `mapstructure:",squash"`

	Record RecordConfig `mapstructure:"record" json:"record"`
}

// MetricsConfig is the "metrics" section. An empty Address disables the endpoint.
type MetricsConfig struct {
	Address string `mapstructure:"address" json:"address"`
}

// Config is the full runtime configuration.
type Config struct {
	Sender   SenderConfig    `mapstructure:"sender" json:"sender"`
	Listener acceptor.Config `mapstructure:"listener" json:"listener"`
	Message  message.Config  `mapstructure:"message" json:"message"`
	Replay   ReplayConfig    `mapstructure:"replay" json:"replay"`
	Metrics  MetricsConfig   `mapstructure:"metrics" json:"metrics"`
	Log      log.Config      `mapstructure:"log" json:"log"`

	// Logging holds named module loggers, see Application.Logger.
	Logging map[string]log.Config `mapstructure:"logging" json:"logging"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Sender: SenderConfig{
			Endpoint: connector.Endpoint{
				Address: "127.0.0.1",
				Port:    message.KindDetectionSet.DefaultPort(),
			},
			Config: connector.DefaultConfig(),
		},
		Listener: acceptor.DefaultConfig(),
		Message:  message.DefaultConfig(),
		Replay: ReplayConfig{
			Config: replay.DefaultConfig(),
		},
		Log: log.Config{
			Level:  "info",
			Format: "text",
			Stdout: true,
		},
	}
}

// defaults lists the scalar keys that may be overridden by PERCEPTLINK_* env vars
// even when absent from the config file.
func defaults() map[string]any {
	d := DefaultConfig()
	return map[string]any{
		"sender.address":         d.Sender.Address,
		"sender.port":            d.Sender.Port,
		"sender.connect-timeout": d.Sender.ConnectTimeout,
		"sender.read-timeout":    d.Sender.ReadTimeout,
		"sender.write-timeout":   d.Sender.WriteTimeout,

		"listener.host":            d.Listener.Host,
		"listener.ipv6":            d.Listener.IPv6,
		"listener.max-connections": d.Listener.MaxConnections,
		"listener.queue-size":      d.Listener.QueueSize,

		"message.face-embedding-dim": d.Message.FaceEmbeddingDim,
		"message.body-embedding-dim": d.Message.BodyEmbeddingDim,

		"replay.file":         "",
		"replay.address":      d.Replay.Address,
		"replay.analyze-only": false,
		"replay.record.path":  "",

		"metrics.address": "",

		"log.level":  d.Log.Level,
		"log.format": d.Log.Format,
		"log.stdout": d.Log.Stdout,
	}
}
