package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/gophdrive/internal/flagx"
	"github.com/dmitrijs2005/gophdrive/internal/timex"
)

// JsonConfig is the on-disk form of Config. Durations use timex.Duration so
// both "15m" and integer nanoseconds are accepted.
type JsonConfig struct {
	DatabaseDSN            string         `json:"database_dsn"`
	S3RootUser             string         `json:"s3_root_user"`
	S3RootPassword         string         `json:"s3_root_password"`
	S3Bucket               string         `json:"s3_bucket"`
	S3Region               string         `json:"s3_region"`
	S3BaseEndpoint         string         `json:"s3_base_endpoint"`
	ObjectStore            string         `json:"object_store"`
	KeyRoot                string         `json:"key_root"`
	PARRegistryPath        string         `json:"par_registry_path"`
	PARValidityDuration    timex.Duration `json:"par_validity_duration"`
	PARMaxValidityDuration timex.Duration `json:"par_max_validity_duration"`
	PARGrace               timex.Duration `json:"par_grace"`
	InlineThreshold        int64          `json:"inline_threshold"`
	MaxFileSize            int64          `json:"max_file_size"`
	SweepInterval          timex.Duration `json:"sweep_interval"`
	LogBackend             string         `json:"log_backend"`
}

// parseJson loads the file named by -c or -config into config. Keys absent
// from the file keep their current value. A file that cannot be read or
// parsed panics.
func parseJson(config *Config) {

	jsonConfigFile := flagx.ConfigPath(os.Args[1:])

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := toJson(config)
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	config.DatabaseDSN = c.DatabaseDSN
	config.S3RootUser = c.S3RootUser
	config.S3RootPassword = c.S3RootPassword
	config.S3Bucket = c.S3Bucket
	config.S3Region = c.S3Region
	config.S3BaseEndpoint = c.S3BaseEndpoint
	config.ObjectStore = c.ObjectStore
	config.KeyRoot = c.KeyRoot
	config.PARRegistryPath = c.PARRegistryPath
	config.PARValidityDuration = c.PARValidityDuration.Duration
	config.PARMaxValidityDuration = c.PARMaxValidityDuration.Duration
	config.PARGrace = c.PARGrace.Duration
	config.InlineThreshold = c.InlineThreshold
	config.MaxFileSize = c.MaxFileSize
	config.SweepInterval = c.SweepInterval.Duration
	config.LogBackend = c.LogBackend
}

func toJson(config *Config) *JsonConfig {
	return &JsonConfig{
		DatabaseDSN:            config.DatabaseDSN,
		S3RootUser:             config.S3RootUser,
		S3RootPassword:         config.S3RootPassword,
		S3Bucket:               config.S3Bucket,
		S3Region:               config.S3Region,
		S3BaseEndpoint:         config.S3BaseEndpoint,
		ObjectStore:            config.ObjectStore,
		KeyRoot:                config.KeyRoot,
		PARRegistryPath:        config.PARRegistryPath,
		PARValidityDuration:    timex.Duration{Duration: config.PARValidityDuration},
		PARMaxValidityDuration: timex.Duration{Duration: config.PARMaxValidityDuration},
		PARGrace:               timex.Duration{Duration: config.PARGrace},
		InlineThreshold:        config.InlineThreshold,
		MaxFileSize:            config.MaxFileSize,
		SweepInterval:          timex.Duration{Duration: config.SweepInterval},
		LogBackend:             config.LogBackend,
	}
}
