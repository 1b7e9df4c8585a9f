package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides: aws.region is ANNFLOW_AWS_REGION.
const EnvPrefix = "ANNFLOW"

// EnvConfigFile names a config file when no path is passed explicitly.
const EnvConfigFile = EnvPrefix + "_CONFIG"

// Load builds the configuration from defaults, the environment and
// overrides. A config file is read when ANNFLOW_CONFIG names one.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	return LoadFile(ctx, os.Getenv(EnvConfigFile), overrides...)
}

// LoadFile is Load with an explicit config file path; empty skips the file.
func LoadFile(ctx context.Context, path string, overrides ...map[string]any) (*Config, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return Decode(ctx, v, overrides...)
}

// NewViper returns a viper instance with defaults and environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	Bind(v)
	return v
}

// Bind registers defaults and the ANNFLOW_ environment mapping on v.
func Bind(v *viper.Viper) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Decode applies overrides on top of v and decodes the result. Overrides
// win over every other layer.
func Decode(ctx context.Context, v *viper.Viper, overrides ...map[string]any) (*Config, error) {
	_ = ctx
	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}

func (c *Config) normalize() {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Thaw.OnFailure = strings.ToLower(strings.TrimSpace(c.Thaw.OnFailure))
	c.Pipeline.Command = trimAll(c.Pipeline.Command)
	c.Pipeline.Cleanup = trimAll(c.Pipeline.Cleanup)
	c.Archive.Tiers = trimAll(c.Archive.Tiers)
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ErrMissing indicates a required setting is empty.
var ErrMissing = errors.New("required setting missing")

// MissingError lists the empty settings a command needs.
type MissingError struct {
	Keys []string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissing, strings.Join(e.Keys, ", "))
}

func (e *MissingError) Unwrap() error { return ErrMissing }

func required(settings map[string]string) error {
	var keys []string
	for k, v := range settings {
		if strings.TrimSpace(v) == "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)
	return &MissingError{Keys: keys}
}
