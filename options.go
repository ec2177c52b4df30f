package fscrypt

import (
	"fmt"
	"io"
	"strings"

	"github.com/absfs/absfs"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Options is the file and environment form of Config. It is loaded with
// LoadOptions and turned into a Config with Build.
//
// Every field can be overridden from the environment with the FSCRYPT_
// prefix, e.g. FSCRYPT_POLICY_STORE_TYPE=badger.
type Options struct {
	MaxNameLen    int `mapstructure:"max_name_len" validate:"gte=32,lte=4096"`
	MaxSymlinkLen int `mapstructure:"max_symlink_len" validate:"gte=18,lte=65537"`

	Logging     LoggingOptions     `mapstructure:"logging"`
	PolicyStore PolicyStoreOptions `mapstructure:"policy_store"`
	Keys        KeyOptions         `mapstructure:"keys"`
}

// LoggingOptions configures the logrus logger handed to collaborators
type LoggingOptions struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error DEBUG INFO WARN ERROR"`
	Format string `mapstructure:"format" validate:"required,oneof=text json"`
}

// PolicyStoreOptions selects and configures the PolicyStore
type PolicyStoreOptions struct {
	// Type is one of memory, fs or badger
	Type string `mapstructure:"type" validate:"required,oneof=memory fs badger"`

	// PolicyDir is the record directory of the fs store
	PolicyDir string `mapstructure:"policy_dir" validate:"omitempty,startswith=/"`

	// Path is the badger database directory; empty runs badger in memory
	Path string `mapstructure:"path"`
}

// KeyOptions configures the default key provider
type KeyOptions struct {
	// EnvPrefix is the variable prefix of the EnvKeyProvider used when
	// Build is not given a provider
	EnvPrefix string `mapstructure:"env_prefix" validate:"required"`
}

var validate = validator.New()

// DefaultOptions returns the options used when nothing is configured
func DefaultOptions() Options {
	return Options{
		MaxNameLen:    DefaultMaxNameLen,
		MaxSymlinkLen: DefaultMaxSymlinkLen,
		Logging: LoggingOptions{
			Level:  "info",
			Format: "text",
		},
		PolicyStore: PolicyStoreOptions{
			Type:      "memory",
			PolicyDir: DefaultPolicyDir,
		},
		Keys: KeyOptions{
			EnvPrefix: DefaultEnvKeyPrefix,
		},
	}
}

// LoadOptions reads options from the YAML (or TOML/JSON, by extension) file
// at path, applies FSCRYPT_ environment overrides and validates the result.
// An empty path, or a path that does not exist, yields the defaults plus
// environment overrides.
func LoadOptions(path string) (*Options, error) {
	v := viper.New()
	setupViper(v, path)

	if err := readOptionsFile(v, path); err != nil {
		return nil, err
	}

	var opts Options
	if err := v.Unmarshal(&opts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal options: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &opts, nil
}

func setupViper(v *viper.Viper, path string) {
	// Defaults double as the key set AutomaticEnv binds against
	d := DefaultOptions()
	v.SetDefault("max_name_len", d.MaxNameLen)
	v.SetDefault("max_symlink_len", d.MaxSymlinkLen)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("policy_store.type", d.PolicyStore.Type)
	v.SetDefault("policy_store.policy_dir", d.PolicyStore.PolicyDir)
	v.SetDefault("policy_store.path", d.PolicyStore.Path)
	v.SetDefault("keys.env_prefix", d.Keys.EnvPrefix)

	v.SetEnvPrefix("FSCRYPT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	}
}

func readOptionsFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if isNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read options file: %w", err)
	}
	return nil
}

// Validate checks the options against their struct tags
func (o *Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		return formatValidationError(err)
	}
	if o.PolicyStore.Type == "fs" && o.PolicyStore.PolicyDir == "" {
		return NewValidationError("policy_store.policy_dir", "", "required for the fs policy store")
	}
	return nil
}

func formatValidationError(err error) error {
	if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
		e := errs[0]
		return NewValidationError(e.Namespace(), fmt.Sprint(e.Value()),
			fmt.Sprintf("validation failed on '%s' tag", e.Tag()))
	}
	return fmt.Errorf("options validation failed: %w", err)
}

// Build turns the options into a Config. A nil provider selects an
// EnvKeyProvider with the configured prefix. fs is required only for the
// fs policy store. A badger store is opened here and released by
// Config.Close.
func (o *Options) Build(provider KeyProvider, fs absfs.FileSystem) (*Config, error) {
	if err := o.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(o.Logging.Level, o.Logging.Format, nil)
	if err != nil {
		return nil, err
	}

	if provider == nil {
		provider = NewEnvKeyProvider(o.Keys.EnvPrefix)
	}

	var store PolicyStore
	switch o.PolicyStore.Type {
	case "memory":
		store = NewMemoryPolicyStore()
	case "fs":
		if fs == nil {
			return nil, NewValidationError("policy_store.type", "fs", "a filesystem is required for the fs policy store")
		}
		if store, err = NewFSPolicyStore(fs, o.PolicyStore.PolicyDir, logger); err != nil {
			return nil, err
		}
	case "badger":
		if store, err = OpenBadgerPolicyStore(o.PolicyStore.Path, logger); err != nil {
			return nil, err
		}
	}

	logger.WithField("policy_store", o.PolicyStore.Type).Debug("built fscrypt config")
	return &Config{
		KeyProvider:   provider,
		PolicyStore:   store,
		MaxNameLen:    o.MaxNameLen,
		MaxSymlinkLen: o.MaxSymlinkLen,
		Logger:        logger,
	}, nil
}

// Close releases the policy store if it holds resources
func (c *Config) Close() error {
	if closer, ok := c.PolicyStore.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
