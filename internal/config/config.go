// Package config loads REC's runtime settings from the environment, with
// REC_ as the common prefix for every variable.
package config

import (
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Settings is the supervisor's typed configuration surface (spec.md §6,
// §9). Every field is read from the matching REC_ environment variable;
// Host, Port, AuthToken, LogLevel and LogPretty can also be set by a flag
// of the serve command, which takes precedence.
type Settings struct {
	Host      string `envconfig:"HOST" default:"0.0.0.0"`
	Port      int    `envconfig:"PORT" default:"8000"`
	AuthToken string `envconfig:"AUTH_TOKEN" default:""`

	DefaultTimeout   time.Duration `envconfig:"DEFAULT_TIMEOUT" default:"30s"`
	StartupTimeout   time.Duration `envconfig:"STARTUP_TIMEOUT" default:"5s"`
	InterruptGraceMS int           `envconfig:"INTERRUPT_GRACE_MS" default:"1000"`
	ResyncTimeoutMS  int           `envconfig:"RESYNC_TIMEOUT_MS" default:"5000"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty       bool          `envconfig:"LOG_PRETTY" default:"false"`
}

// Load reads Settings from the environment under the REC_ prefix.
func Load() (*Settings, error) {
	var s Settings
	if err := envconfig.Process("REC", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// InterruptGrace returns InterruptGraceMS as a time.Duration.
func (s *Settings) InterruptGrace() time.Duration {
	return time.Duration(s.InterruptGraceMS) * time.Millisecond
}

// ResyncTimeout returns ResyncTimeoutMS as a time.Duration.
func (s *Settings) ResyncTimeout() time.Duration {
	return time.Duration(s.ResyncTimeoutMS) * time.Millisecond
}

// Addr formats Host/Port as a net.Listen-ready address.
func (s *Settings) Addr() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}
