package goSession

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix prefixes every variable read by [ConfigFromEnv].
const EnvPrefix = "GOSESSION_"

// ConfigFromEnv overlays GOSESSION_* environment variables on
// [DefaultConfig]. Unset variables keep their defaults, e.g.
//
//	GOSESSION_BASE_URL=https://api.example.com
//	GOSESSION_STORE_BACKEND=file GOSESSION_STORE_PATH=~/.config/app/session.json
//	GOSESSION_REFRESH_DEDUPLICATE=false
func ConfigFromEnv() (Config, error) {
	return configFromEnv(env.Options{Prefix: EnvPrefix})
}

func configFromEnv(opts env.Options) (Config, error) {
	cfg := defaultConfig()
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cloneConfig(cfg), nil
}
