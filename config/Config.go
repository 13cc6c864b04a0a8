package config

import (
	"time"

	"charge_point/model"
)

type Config struct {
	ChargePoint ChargePointConfig `mapstructure:"charge_point"`
	Backend     BackendConfig     `mapstructure:"backend"`
	Engine      EngineConfig      `mapstructure:"engine"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	NATS        NATSConfig        `mapstructure:"nats"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

type ChargePointConfig struct {
	Id              string         `mapstructure:"id" validate:"required"`
	Connectors      int            `mapstructure:"connectors" validate:"gte=1,lte=32"`
	Vendor          string         `mapstructure:"vendor" validate:"required,max=20"`
	Model           string         `mapstructure:"model" validate:"required,max=20"`
	SerialNumber    string         `mapstructure:"serial_number" validate:"max=25"`
	FirmwareVersion string         `mapstructure:"firmware_version" validate:"max=50"`
	Password        string         `mapstructure:"password"`
	IdTag           string         `mapstructure:"id_tag" validate:"required,max=20"`
	Features        model.Features `mapstructure:"features"`
}

type BackendConfig struct {
	URL            string        `mapstructure:"url" validate:"omitempty,url"`
	ConnectOnStart bool          `mapstructure:"connect_on_start"`
	MaxFailures    uint32        `mapstructure:"max_failures"`
	RetryAfter     time.Duration `mapstructure:"retry_after"`
}

type EngineConfig struct {
	ResponseTimeout    time.Duration `mapstructure:"response_timeout" validate:"gt=0"`
	Heartbeat          bool          `mapstructure:"heartbeat"`
	SuppressCallErrors bool          `mapstructure:"suppress_call_errors"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

type NATSConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	URL            string        `mapstructure:"url" validate:"required_if=Enabled true"`
	RequestSubject string        `mapstructure:"request_subject" validate:"required_if=Enabled true"`
	TopicPrefix    string        `mapstructure:"topic_prefix"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level" validate:"oneof=trace debug info warn warning error fatal panic"`
}
