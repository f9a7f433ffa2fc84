package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/dmitrijs2005/gophdrive/internal/common"
	"github.com/joho/godotenv"
)

// dotenvPath is the optional .env file merged into the process environment.
// Variables already set in the environment take precedence over it.
var dotenvPath = ".env"

// parseEnv overlays GOPHDRIVE_* environment variables on config, after
// loading dotenvPath when it exists. Malformed values panic, as flags do.
func parseEnv(config *Config) {
	if err := godotenv.Load(dotenvPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		panic(fmt.Errorf("load %s: %w", dotenvPath, err))
	}
	if err := applyEnv(config, os.LookupEnv); err != nil {
		panic(err)
	}
}

func applyEnv(config *Config, lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"DATABASE_DSN":      &config.DatabaseDSN,
		"S3_ROOT_USER":      &config.S3RootUser,
		"S3_ROOT_PASSWORD":  &config.S3RootPassword,
		"S3_BUCKET":         &config.S3Bucket,
		"S3_REGION":         &config.S3Region,
		"S3_BASE_ENDPOINT":  &config.S3BaseEndpoint,
		"OBJECT_STORE":      &config.ObjectStore,
		"KEY_ROOT":          &config.KeyRoot,
		"PAR_REGISTRY_PATH": &config.PARRegistryPath,
		"LOG_BACKEND":       &config.LogBackend,
	}
	for name, dst := range strs {
		if v, ok := lookup(common.EnvPrefix + name); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"PAR_VALIDITY":     &config.PARValidityDuration,
		"PAR_MAX_VALIDITY": &config.PARMaxValidityDuration,
		"PAR_GRACE":        &config.PARGrace,
		"SWEEP_INTERVAL":   &config.SweepInterval,
	}
	for name, dst := range durations {
		v, ok := lookup(common.EnvPrefix + name)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", common.EnvPrefix, name, err)
		}
		*dst = d
	}

	sizes := map[string]*int64{
		"INLINE_THRESHOLD": &config.InlineThreshold,
		"MAX_FILE_SIZE":    &config.MaxFileSize,
	}
	for name, dst := range sizes {
		v, ok := lookup(common.EnvPrefix + name)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s%s: %w", common.EnvPrefix, name, err)
		}
		*dst = n
	}
	return nil
}
