// Package config loads installer settings from defaults, an optional YAML
// file and ZI_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"nithronos/zinstaller/internal/payload"
	"nithronos/zinstaller/internal/pools"
	"nithronos/zinstaller/internal/prepare"
)

const EnvPrefix = "ZI"

type Config struct {
	LogLevel zerolog.Level
	LogFile  string

	HTTPBind       string
	MetricsEnabled bool

	PayloadImage   string
	PayloadFSType  string
	PayloadCommand []string

	BootPool    string
	StoragePool string

	PartitionTries    int
	PartitionInterval time.Duration

	// CommandTimeout bounds each disk and pool utility; zero disables it.
	CommandTimeout time.Duration
	// InstallerTimeout bounds the installer program; zero disables it.
	InstallerTimeout time.Duration

	LockFile string
	// File is the configuration file that was read, if any.
	File string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "/var/log/zinstaller.log")
	v.SetDefault("http.bind", "127.0.0.1:9080")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("payload.image", payload.DefaultImage)
	v.SetDefault("payload.fstype", payload.DefaultFSType)
	v.SetDefault("payload.command", payload.DefaultCommand)
	v.SetDefault("pools.boot", pools.DefaultBootPool)
	v.SetDefault("pools.storage", pools.DefaultStoragePool)
	v.SetDefault("partitions.tries", prepare.DefaultTries)
	v.SetDefault("partitions.interval", prepare.DefaultInterval)
	v.SetDefault("commands.timeout", 10*time.Minute)
	v.SetDefault("installer.timeout", time.Duration(0))
	v.SetDefault("lock.file", "/run/zinstaller.lock")
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	v := viper.New()
	setDefaults(v)
	cfg, _ := decode(v)
	return cfg
}

// Load reads path, or when path is empty looks for zinstaller.yaml in
// /etc/zinstaller and the working directory. A missing default file is not
// an error; a missing explicit one is.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("zinstaller")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/zinstaller")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	cfg, err := decode(v)
	if err != nil {
		return Config{}, err
	}
	cfg.File = v.ConfigFileUsed()
	return cfg, cfg.Validate()
}

func decode(v *viper.Viper) (Config, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(v.GetString("log.level")))
	if err != nil {
		return Config{}, fmt.Errorf("log.level: %w", err)
	}
	return Config{
		LogLevel:          level,
		LogFile:           v.GetString("log.file"),
		HTTPBind:          v.GetString("http.bind"),
		MetricsEnabled:    v.GetBool("metrics.enabled"),
		PayloadImage:      v.GetString("payload.image"),
		PayloadFSType:     v.GetString("payload.fstype"),
		PayloadCommand:    v.GetStringSlice("payload.command"),
		BootPool:          v.GetString("pools.boot"),
		StoragePool:       v.GetString("pools.storage"),
		PartitionTries:    v.GetInt("partitions.tries"),
		PartitionInterval: v.GetDuration("partitions.interval"),
		CommandTimeout:    v.GetDuration("commands.timeout"),
		InstallerTimeout:  v.GetDuration("installer.timeout"),
		LockFile:          v.GetString("lock.file"),
	}, nil
}

func (c Config) Validate() error {
	switch {
	case c.BootPool == "" || c.StoragePool == "":
		return errors.New("pools.boot and pools.storage must be set")
	case c.BootPool == c.StoragePool:
		return fmt.Errorf("pools.boot and pools.storage must differ, both are %q", c.BootPool)
	case len(c.PayloadCommand) == 0:
		return errors.New("payload.command must not be empty")
	case c.PartitionTries < 1:
		return fmt.Errorf("partitions.tries must be at least 1, got %d", c.PartitionTries)
	case c.PartitionInterval < 0 || c.CommandTimeout < 0 || c.InstallerTimeout < 0:
		return errors.New("durations must not be negative")
	}
	return nil
}

// Payload returns the installer driver settings.
func (c Config) Payload() payload.Config {
	return payload.Config{
		Image:   c.PayloadImage,
		FSType:  c.PayloadFSType,
		Command: append([]string(nil), c.PayloadCommand...),
		Timeout: c.InstallerTimeout,
	}
}
