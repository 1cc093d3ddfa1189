package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmitrijs2005/freshkeeper/internal/flagx"
	"github.com/dmitrijs2005/freshkeeper/internal/timex"
	"gopkg.in/yaml.v3"
)

// FileConfig mirrors Config for JSON and YAML files. Absent keys leave the
// current value untouched.
type FileConfig struct {
	HTTPAddr                     string          `json:"http_addr" yaml:"http_addr"`
	DatabaseDSN                  string          `json:"database_dsn" yaml:"database_dsn"`
	SecretKey                    string          `json:"secret_key" yaml:"secret_key"`
	AccessTokenValidityDuration  *timex.Duration `json:"access_token_validity_duration" yaml:"access_token_validity_duration"`
	RefreshTokenValidityDuration *timex.Duration `json:"refresh_token_validity_duration" yaml:"refresh_token_validity_duration"`
	AuthRequired                 *bool           `json:"auth_required" yaml:"auth_required"`
	RecognizerProvider           string          `json:"recognizer_provider" yaml:"recognizer_provider"`
	RecognizerBaseURL            string          `json:"recognizer_base_url" yaml:"recognizer_base_url"`
	RecognizerModel              string          `json:"recognizer_model" yaml:"recognizer_model"`
	RecognizerAPIKey             string          `json:"recognizer_api_key" yaml:"recognizer_api_key"`
	RecognizerTimeout            *timex.Duration `json:"recognizer_timeout" yaml:"recognizer_timeout"`
	RecognizerRetries            *int            `json:"recognizer_retries" yaml:"recognizer_retries"`
	ImageStore                   string          `json:"image_store" yaml:"image_store"`
	UploadDir                    string          `json:"upload_dir" yaml:"upload_dir"`
	ImageMaxWidth                *int            `json:"image_max_width" yaml:"image_max_width"`
	MaxUploadBytes               *int64          `json:"max_upload_bytes" yaml:"max_upload_bytes"`
	S3RootUser                   string          `json:"s3_root_user" yaml:"s3_root_user"`
	S3RootPassword               string          `json:"s3_root_password" yaml:"s3_root_password"`
	S3Bucket                     string          `json:"s3_bucket" yaml:"s3_bucket"`
	S3Region                     string          `json:"s3_region" yaml:"s3_region"`
	S3BaseEndpoint               string          `json:"s3_base_endpoint" yaml:"s3_base_endpoint"`
	Timezone                     string          `json:"timezone" yaml:"timezone"`
	RateLimit                    *float64        `json:"rate_limit" yaml:"rate_limit"`
	RateBurst                    *int            `json:"rate_burst" yaml:"rate_burst"`
	LogLevel                     string          `json:"log_level" yaml:"log_level"`
	LogFile                      string          `json:"log_file" yaml:"log_file"`
	ShutdownTimeout              *timex.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// parseFile loads the file given with -c or -config, if any. Files ending in
// .yaml or .yml are YAML, anything else is JSON.
func parseFile(config *Config) error {
	path := flagx.ConfigFileFlag()
	if path == "" {
		return nil
	}
	return loadFile(config, path)
}

func loadFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	c := &FileConfig{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	c.apply(config)
	return nil
}

func (c *FileConfig) apply(config *Config) {
	setString(&config.HTTPAddr, c.HTTPAddr)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	if c.AccessTokenValidityDuration != nil {
		config.AccessTokenValidityDuration = c.AccessTokenValidityDuration.Duration
	}
	if c.RefreshTokenValidityDuration != nil {
		config.RefreshTokenValidityDuration = c.RefreshTokenValidityDuration.Duration
	}
	if c.AuthRequired != nil {
		config.AuthRequired = *c.AuthRequired
	}
	setString(&config.RecognizerProvider, c.RecognizerProvider)
	setString(&config.RecognizerBaseURL, c.RecognizerBaseURL)
	setString(&config.RecognizerModel, c.RecognizerModel)
	setString(&config.RecognizerAPIKey, c.RecognizerAPIKey)
	if c.RecognizerTimeout != nil {
		config.RecognizerTimeout = c.RecognizerTimeout.Duration
	}
	if c.RecognizerRetries != nil {
		config.RecognizerRetries = *c.RecognizerRetries
	}
	setString(&config.ImageStore, c.ImageStore)
	setString(&config.UploadDir, c.UploadDir)
	if c.ImageMaxWidth != nil {
		config.ImageMaxWidth = *c.ImageMaxWidth
	}
	if c.MaxUploadBytes != nil {
		config.MaxUploadBytes = *c.MaxUploadBytes
	}
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.Timezone, c.Timezone)
	if c.RateLimit != nil {
		config.RateLimit = *c.RateLimit
	}
	if c.RateBurst != nil {
		config.RateBurst = *c.RateBurst
	}
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.LogFile, c.LogFile)
	if c.ShutdownTimeout != nil {
		config.ShutdownTimeout = c.ShutdownTimeout.Duration
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
