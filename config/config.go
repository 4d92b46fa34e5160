// Package config loads the settings of the cutting table from flags,
// environment and an optional kerf.yaml.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/kerfworks/kerf/controller"
	"github.com/kerfworks/kerf/job"
	"github.com/kerfworks/kerf/postproc"
)

const (
	ConfigDebug       = "debug"
	ConfigSerialPort  = "serial-port"
	ConfigBaudRate    = "baud-rate"
	ConfigReadTimeout = "read-timeout"
	ConfigAckTimeout  = "ack-timeout"
	ConfigHistoryFile = "history-file"
	ConfigNatsURL     = "nats-url"
	ConfigNatsSubject = "nats-subject"

	ConfigJobKerfWidth         = "job.kerf-width"
	ConfigJobArcVoltage        = "job.arc-voltage"
	ConfigJobFeedrate          = "job.feedrate"
	ConfigJobPierceDelay       = "job.pierce-delay"
	ConfigJobLoopRadius        = "job.loop-radius"
	ConfigJobExteriorClockwise = "job.exterior-clockwise"

	ConfigPostSafeZ          = "postproc.safe-z"
	ConfigPostPierceZ        = "postproc.pierce-z"
	ConfigPostCutZ           = "postproc.cut-z"
	ConfigPostRetractZ       = "postproc.retract-z"
	ConfigPostTravelFeedrate = "postproc.travel-feedrate"
	ConfigPostTHCRatio       = "postproc.thc-ratio"
	ConfigPostMinArcChord    = "postproc.min-arc-chord"
)

var ErrUnknownKey = errors.New("unknown config key")

type Config struct {
	*viper.Viper
	keys     []string
	defaults map[string]any
	args     []string
}

// DefaultConfig returns a config holding only the defaults.
func DefaultConfig() *Config {
	c := &Config{Viper: viper.New(), defaults: map[string]any{}}
	home, _ := os.UserHomeDir()
	jp := job.DefaultParams()
	pp := postproc.DefaultConfig()

	c.setDefault(ConfigDebug, false)
	c.setDefault(ConfigSerialPort, "/dev/ttyUSB0")
	c.setDefault(ConfigBaudRate, 115200)
	c.setDefault(ConfigReadTimeout, 100*time.Millisecond)
	c.setDefault(ConfigAckTimeout, time.Duration(0))
	c.setDefault(ConfigHistoryFile, filepath.Join(home, ".kerf_history"))
	c.setDefault(ConfigNatsURL, "")
	c.setDefault(ConfigNatsSubject, "kerf.events")

	c.setDefault(ConfigJobKerfWidth, jp.KerfWidth)
	c.setDefault(ConfigJobArcVoltage, jp.ArcVoltage)
	c.setDefault(ConfigJobFeedrate, jp.Feedrate)
	c.setDefault(ConfigJobPierceDelay, jp.PierceDelay)
	c.setDefault(ConfigJobLoopRadius, jp.LoopRadius)
	c.setDefault(ConfigJobExteriorClockwise, jp.ExteriorClockwise)

	c.setDefault(ConfigPostSafeZ, pp.SafeZ)
	c.setDefault(ConfigPostPierceZ, pp.PierceZ)
	c.setDefault(ConfigPostCutZ, pp.CutZ)
	c.setDefault(ConfigPostRetractZ, pp.RetractZ)
	c.setDefault(ConfigPostTravelFeedrate, pp.TravelFeedrate)
	c.setDefault(ConfigPostTHCRatio, pp.THCRatio)
	c.setDefault(ConfigPostMinArcChord, pp.MinArcChord)
	return c
}

func (c *Config) setDefault(key string, value any) {
	c.SetDefault(key, value)
	c.keys = append(c.keys, key)
	c.defaults[key] = value
}

// Keys lists every known setting in registration order.
func (c *Config) Keys() []string {
	return slices.Clone(c.keys)
}

// Load parses the command line, then reads KERF_* environment variables
// and the config file. Flags win over the environment, which wins over
// the file.
func (c *Config) Load(args []string) error {
	fs := pflag.NewFlagSet("kerf", pflag.ContinueOnError)
	fs.Bool(ConfigDebug, c.GetBool(ConfigDebug), "debug logging on")
	fs.String(ConfigSerialPort, c.GetString(ConfigSerialPort), "serial port of the motion controller")
	fs.Int(ConfigBaudRate, c.GetInt(ConfigBaudRate), "serial baud rate")
	fs.Duration(ConfigReadTimeout, c.GetDuration(ConfigReadTimeout), "serial read timeout")
	fs.Duration(ConfigAckTimeout, c.GetDuration(ConfigAckTimeout), "time to wait for a command acknowledgement, 0 to wait forever")
	fs.String(ConfigHistoryFile, c.GetString(ConfigHistoryFile), "console history file")
	fs.String(ConfigNatsURL, c.GetString(ConfigNatsURL), "NATS server events are published to, empty to disable")
	fs.String(ConfigNatsSubject, c.GetString(ConfigNatsSubject), "subject prefix of published events")
	cfgFile := fs.String("config", "", "config file, defaults to kerf.yaml in . or $HOME/.kerf")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c.args = fs.Args()
	if err := c.BindPFlags(fs); err != nil {
		return err
	}

	c.SetEnvPrefix("KERF")
	c.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	c.AutomaticEnv()

	if *cfgFile != "" {
		c.SetConfigFile(*cfgFile)
	} else {
		c.SetConfigName("kerf")
		c.SetConfigType("yaml")
		c.AddConfigPath(".")
		c.AddConfigPath("$HOME/.kerf")
	}
	if err := c.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if *cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}
	return nil
}

// Args returns the command line arguments left after the flags.
func (c *Config) Args() []string {
	return c.args
}

// Set changes a known setting, converting value to the type of its
// default.
func (c *Config) Set(key, value string) error {
	key = strings.ToLower(key)
	def, ok := c.defaults[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	var (
		v   any
		err error
	)
	switch def.(type) {
	case bool:
		v, err = cast.ToBoolE(value)
	case int:
		v, err = cast.ToIntE(value)
	case float64:
		v, err = cast.ToFloat64E(value)
	case time.Duration:
		v, err = cast.ToDurationE(value)
	default:
		v = value
	}
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	c.Viper.Set(key, v)
	return nil
}

// Write stores every setting to path as YAML.
func (c *Config) Write(path string) error {
	return c.WriteConfigAs(path)
}

// SanitizedSettings returns the settings with credentials masked, for
// logging.
func (c *Config) SanitizedSettings() map[string]any {
	s := c.AllSettings()
	if raw := c.GetString(ConfigNatsURL); raw != "" {
		if u, err := url.Parse(raw); err == nil {
			s[ConfigNatsURL] = u.Redacted()
		}
	}
	return s
}

func (c *Config) JobParams() job.Params {
	return job.Params{
		KerfWidth:         c.GetFloat64(ConfigJobKerfWidth),
		ArcVoltage:        c.GetFloat64(ConfigJobArcVoltage),
		Feedrate:          c.GetFloat64(ConfigJobFeedrate),
		PierceDelay:       c.GetFloat64(ConfigJobPierceDelay),
		LoopRadius:        c.GetFloat64(ConfigJobLoopRadius),
		ExteriorClockwise: c.GetBool(ConfigJobExteriorClockwise),
	}
}

func (c *Config) PostConfig() postproc.Config {
	return postproc.Config{
		SafeZ:          c.GetFloat64(ConfigPostSafeZ),
		PierceZ:        c.GetFloat64(ConfigPostPierceZ),
		CutZ:           c.GetFloat64(ConfigPostCutZ),
		RetractZ:       c.GetFloat64(ConfigPostRetractZ),
		TravelFeedrate: c.GetFloat64(ConfigPostTravelFeedrate),
		THCRatio:       c.GetFloat64(ConfigPostTHCRatio),
		MinArcChord:    c.GetFloat64(ConfigPostMinArcChord),
	}
}

func (c *Config) ControllerConfig() controller.Config {
	return controller.Config{AckTimeout: c.GetDuration(ConfigAckTimeout)}
}
