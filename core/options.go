package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// GoOptionsResolver merges defaults < loaded config < runtime overrides
// through a go-options layer stack.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}
	credentials := map[string]any{}
	if includeZero || cfg.Credentials.RefreshMargin != 0 {
		credentials["refresh_margin"] = cfg.Credentials.RefreshMargin
	}
	if includeZero || cfg.Credentials.CacheTTL != 0 {
		credentials["cache_ttl"] = cfg.Credentials.CacheTTL
	}
	if includeZero || cfg.Credentials.DurableAttempts != 0 {
		credentials["durable_attempts"] = cfg.Credentials.DurableAttempts
	}
	if len(credentials) > 0 {
		layer["credentials"] = credentials
	}
	upload := map[string]any{}
	if includeZero || cfg.Upload.MaxChunkRetries != 0 {
		upload["max_chunk_retries"] = cfg.Upload.MaxChunkRetries
	}
	if includeZero || cfg.Upload.InitialBackoff != 0 {
		upload["initial_backoff"] = cfg.Upload.InitialBackoff
	}
	if includeZero || cfg.Upload.MaxBackoff != 0 {
		upload["max_backoff"] = cfg.Upload.MaxBackoff
	}
	if len(upload) > 0 {
		layer["upload"] = upload
	}
	polling := map[string]any{}
	if includeZero || cfg.Polling.Interval != 0 {
		polling["interval"] = cfg.Polling.Interval
	}
	if includeZero || cfg.Polling.Timeout != 0 {
		polling["timeout"] = cfg.Polling.Timeout
	}
	if len(polling) > 0 {
		layer["polling"] = polling
	}
	return layer
}
