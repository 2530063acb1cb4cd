package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/danmarauda/server/internal/flagx"
	"github.com/danmarauda/server/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON
// unmarshalling. It uses timex.Duration for interval fields, which allows
// parsing both string values such as "300s" and integer nanoseconds.
//
// This struct is an intermediate DTO used only for reading JSON
// configuration files. After unmarshalling, its fields are copied into the
// runtime Config struct which uses time.Duration.
type JsonConfig struct {
	EndpointAddr          string         `json:"endpoint_addr"`
	DatabaseDSN           string         `json:"database_dsn"`
	RedisURL              string         `json:"redis_url"`
	SecretKey             string         `json:"secret_key"`
	SyncDefaultLimit      int            `json:"sync_default_limit"`
	SyncMaxLimit          int            `json:"sync_max_limit"`
	ContentTransferBudget int            `json:"content_transfer_budget"`
	RevisionFrequency     timex.Duration `json:"revision_frequency"`
	SyncConflictTolerance timex.Duration `json:"sync_conflict_tolerance"`
	TransitionPageSize    int            `json:"transition_page_size"`
	TransitionSettleDelay timex.Duration `json:"transition_settle_delay"`
	S3RootUser            string         `json:"s3_root_user"`
	S3RootPassword        string         `json:"s3_root_password"`
	S3Bucket              string         `json:"s3_bucket"`
	S3Region              string         `json:"s3_region"`
	S3BaseEndpoint        string         `json:"s3_base_endpoint"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance. The file path comes from the -c or -config command-line
// flags; when neither is set, no JSON file is loaded. Zero-valued fields in
// the file leave the existing config untouched. If the file cannot be read
// or contains invalid JSON, the function panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	if c.EndpointAddr != "" {
		config.EndpointAddr = c.EndpointAddr
	}
	if c.DatabaseDSN != "" {
		config.DatabaseDSN = c.DatabaseDSN
	}
	if c.RedisURL != "" {
		config.RedisURL = c.RedisURL
	}
	if c.SecretKey != "" {
		config.SecretKey = c.SecretKey
	}
	if c.SyncDefaultLimit > 0 {
		config.SyncDefaultLimit = c.SyncDefaultLimit
	}
	if c.SyncMaxLimit > 0 {
		config.SyncMaxLimit = c.SyncMaxLimit
	}
	if c.ContentTransferBudget > 0 {
		config.ContentTransferBudget = c.ContentTransferBudget
	}
	if c.RevisionFrequency.Duration > 0 {
		config.RevisionFrequency = time.Duration(c.RevisionFrequency.Duration)
	}
	if c.SyncConflictTolerance.Duration > 0 {
		config.SyncConflictTolerance = time.Duration(c.SyncConflictTolerance.Duration)
	}
	if c.TransitionPageSize > 0 {
		config.TransitionPageSize = c.TransitionPageSize
	}
	if c.TransitionSettleDelay.Duration > 0 {
		config.TransitionSettleDelay = time.Duration(c.TransitionSettleDelay.Duration)
	}
	if c.S3RootUser != "" {
		config.S3RootUser = c.S3RootUser
	}
	if c.S3RootPassword != "" {
		config.S3RootPassword = c.S3RootPassword
	}
	if c.S3Bucket != "" {
		config.S3Bucket = c.S3Bucket
	}
	if c.S3Region != "" {
		config.S3Region = c.S3Region
	}
	if c.S3BaseEndpoint != "" {
		config.S3BaseEndpoint = c.S3BaseEndpoint
	}
}
