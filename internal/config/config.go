package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the process configuration, read from the environment with an
// optional .env file for local development.
type Config struct {
	Addr            string        `env:"VRAC_ADDR" envDefault:":8080"`
	DBPath          string        `env:"VRAC_DB" envDefault:"vrac.db"`
	RootPath        string        `env:"VRAC_ROOT" envDefault:"./drops"`
	CleanupInterval time.Duration `env:"VRAC_CLEANUP_INTERVAL" envDefault:"10m"`
	Dev             bool          `env:"VRAC_DEV" envDefault:"false"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
