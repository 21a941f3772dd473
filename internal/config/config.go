// Package config loads a secsgo.Config from environment variables (GOSECS_
// prefix), a YAML file and built-in defaults, in that precedence order.
// Grounded on marmos91-dittofs's pkg/config Load/setupViper pattern.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/takumi-sec/gosecs/pkg/secsgo"
)

// Role selects which Communicator a File builds.
type Role string

const (
	RoleHsmsActive  Role = "hsms_active"
	RoleHsmsPassive Role = "hsms_passive"
	RoleSecs1       Role = "secs1"
)

// File is the on-disk/env shape of the communicator configuration. Field
// names mirror secsgo.Config; durations accept Go duration strings ("10s").
type File struct {
	Role Role `mapstructure:"role"`

	DeviceID int    `mapstructure:"device_id"`
	IsEquip  bool   `mapstructure:"is_equip"`
	Name     string `mapstructure:"name"`

	IPAddress string `mapstructure:"ip_address"`
	Port      int    `mapstructure:"port"`

	SerialPort string `mapstructure:"serial_port"`
	BaudRate   int    `mapstructure:"baud_rate"`

	IsMaster bool `mapstructure:"is_master"`
	Retry    int  `mapstructure:"retry"`

	TimeoutT1     time.Duration `mapstructure:"timeout_t1"`
	TimeoutT2     time.Duration `mapstructure:"timeout_t2"`
	TimeoutT3     time.Duration `mapstructure:"timeout_t3"`
	TimeoutT4     time.Duration `mapstructure:"timeout_t4"`
	TimeoutT5     time.Duration `mapstructure:"timeout_t5"`
	TimeoutT6     time.Duration `mapstructure:"timeout_t6"`
	TimeoutT7     time.Duration `mapstructure:"timeout_t7"`
	TimeoutT8     time.Duration `mapstructure:"timeout_t8"`
	TimeoutRebind time.Duration `mapstructure:"timeout_rebind"`

	GemMDLN      string `mapstructure:"gem_mdln"`
	GemSoftRev   string `mapstructure:"gem_soft_rev"`
	GemClockType string `mapstructure:"gem_clock_type"`

	Metrics MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig controls whether internal/metrics.InitRegistry is expected
// to have been called by the caller before building the Communicator.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load reads configPath (or ./gosecs.yaml when configPath is empty), with
// GOSECS_-prefixed environment variables taking precedence over the file
// and compiled-in defaults beneath both, and returns the parsed File
// alongside the secsgo.Config it describes.
//
// When configPath is empty, a missing ./gosecs.yaml is not an error —
// defaults apply. An explicitly named file that is missing is an error, as
// is a malformed one.
func Load(configPath string) (*File, *secsgo.Config, error) {
	v := viper.New()
	setupViper(v, configPath)
	applyFileDefaults(v)

	if configPath != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("config: reading %s: %w", configPath, err)
		}
	} else if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, fmt.Errorf("config: reading config file: %w", err)
		}
	}

	var f File
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&f, viper.DecodeHook(hook)); err != nil {
		return nil, nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := Validate(&f); err != nil {
		return nil, nil, err
	}

	return &f, f.toCommunicatorConfig(), nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("GOSECS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(".")
	v.SetConfigName("gosecs")
	v.SetConfigType("yaml")
}

func applyFileDefaults(v *viper.Viper) {
	def := secsgo.DefaultConfig()
	v.SetDefault("timeout_t1", def.TimeoutT1)
	v.SetDefault("timeout_t2", def.TimeoutT2)
	v.SetDefault("timeout_t3", def.TimeoutT3)
	v.SetDefault("timeout_t4", def.TimeoutT4)
	v.SetDefault("timeout_t5", def.TimeoutT5)
	v.SetDefault("timeout_t6", def.TimeoutT6)
	v.SetDefault("timeout_t7", def.TimeoutT7)
	v.SetDefault("timeout_t8", def.TimeoutT8)
	v.SetDefault("timeout_rebind", def.TimeoutRebind)
	v.SetDefault("retry", def.Retry)
	v.SetDefault("role", string(RoleHsmsActive))
}

// Validate checks the handful of invariants Load can't express through
// viper defaults alone: a role must be named, and each role needs its own
// transport fields.
func Validate(f *File) error {
	switch f.Role {
	case RoleHsmsActive, RoleHsmsPassive:
		if f.IPAddress == "" || f.Port == 0 {
			return fmt.Errorf("config: role %q requires ip_address and port", f.Role)
		}
	case RoleSecs1:
		if f.SerialPort == "" && (f.IPAddress == "" || f.Port == 0) {
			return fmt.Errorf("config: role %q requires serial_port or ip_address+port", f.Role)
		}
	default:
		return fmt.Errorf("config: unknown role %q", f.Role)
	}
	return nil
}

func (f *File) toCommunicatorConfig() *secsgo.Config {
	cfg := secsgo.Config{
		DeviceID:      f.DeviceID,
		IsEquip:       f.IsEquip,
		Name:          f.Name,
		IPAddress:     f.IPAddress,
		Port:          f.Port,
		SerialPort:    f.SerialPort,
		BaudRate:      f.BaudRate,
		IsMaster:      f.IsMaster,
		Retry:         f.Retry,
		TimeoutT1:     f.TimeoutT1,
		TimeoutT2:     f.TimeoutT2,
		TimeoutT3:     f.TimeoutT3,
		TimeoutT4:     f.TimeoutT4,
		TimeoutT5:     f.TimeoutT5,
		TimeoutT6:     f.TimeoutT6,
		TimeoutT7:     f.TimeoutT7,
		TimeoutT8:     f.TimeoutT8,
		TimeoutRebind: f.TimeoutRebind,
		GemMDLN:       f.GemMDLN,
		GemSoftRev:    f.GemSoftRev,
		GemClockType:  secsgo.GemClockType(f.GemClockType),
	}
	return &cfg
}

// BuildCommunicator builds the Communicator named by f.Role from cfg.
func BuildCommunicator(f *File, cfg *secsgo.Config) (secsgo.Communicator, error) {
	switch f.Role {
	case RoleHsmsActive:
		return secsgo.NewHsmsActive(*cfg), nil
	case RoleHsmsPassive:
		return secsgo.NewHsmsPassive(*cfg), nil
	case RoleSecs1:
		return secsgo.NewSecs1(*cfg), nil
	default:
		return nil, fmt.Errorf("config: unknown role %q", f.Role)
	}
}
