package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"charge_point/model"
)

const envPrefix = "EVSE"

func setDefaults(v *viper.Viper) {
	features := model.DefaultFeatures()

	v.SetDefault("charge_point.id", "CP-1")
	v.SetDefault("charge_point.connectors", 1)
	v.SetDefault("charge_point.vendor", "Virtual")
	v.SetDefault("charge_point.model", "EVSE-Sim")
	v.SetDefault("charge_point.serial_number", "")
	v.SetDefault("charge_point.firmware_version", model.DefaultFirmwareVersion)
	v.SetDefault("charge_point.password", "")
	v.SetDefault("charge_point.id_tag", model.DefaultIdTag)
	v.SetDefault("charge_point.features.core", features.Core)
	v.SetDefault("charge_point.features.smart_charging", features.SmartCharging)
	v.SetDefault("charge_point.features.remote_trigger", features.RemoteTrigger)
	v.SetDefault("charge_point.features.firmware_management", features.FirmwareManagement)
	v.SetDefault("charge_point.features.local_auth_management", features.LocalAuthManagement)
	v.SetDefault("charge_point.features.reservation", features.Reservation)

	v.SetDefault("backend.url", "")
	v.SetDefault("backend.connect_on_start", false)
	v.SetDefault("backend.max_failures", 3)
	v.SetDefault("backend.retry_after", "30s")

	v.SetDefault("engine.response_timeout", "30s")
	v.SetDefault("engine.heartbeat", true)
	v.SetDefault("engine.suppress_call_errors", false)

	v.SetDefault("http.addr", ":8080")

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("nats.request_subject", "request")
	v.SetDefault("nats.topic_prefix", "evse")
	v.SetDefault("nats.timeout", "3m")

	v.SetDefault("logging.level", "info")
}

// Load reads config.yaml from ./configs or the working directory when present,
// then the environment. Variables are EVSE_<SECTION>_<KEY>; a few plain names
// are accepted too.
func Load() (*Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("backend.url", "BACKEND_URL", "EVSE_BACKEND_URL")
	_ = v.BindEnv("charge_point.id", "CHARGE_POINT_ID", "EVSE_CHARGE_POINT_ID")
	_ = v.BindEnv("nats.url", "NATS_URL", "EVSE_NATS_URL")
	_ = v.BindEnv("logging.level", "LOG_LEVEL", "EVSE_LOGGING_LEVEL")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
