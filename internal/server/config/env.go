package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "FRESHKEEPER_"

// envFile is the dotenv file merged into the process environment before
// variables are read. Variables already set win over the file.
var envFile = ".env"

// parseEnv overlays FRESHKEEPER_* variables. KIMI_API_KEY is accepted as an
// alias for the recognizer key.
func parseEnv(config *Config) error {
	file := envFile
	if path := os.Getenv(envPrefix + "ENV_FILE"); path != "" {
		file = path
	}
	if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", file, err)
	}

	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = v
		}
	}

	str("HTTP_ADDR", &config.HTTPAddr)
	str("DATABASE_DSN", &config.DatabaseDSN)
	str("SECRET_KEY", &config.SecretKey)
	str("RECOGNIZER_PROVIDER", &config.RecognizerProvider)
	str("RECOGNIZER_BASE_URL", &config.RecognizerBaseURL)
	str("RECOGNIZER_MODEL", &config.RecognizerModel)
	if v, ok := os.LookupEnv("KIMI_API_KEY"); ok {
		config.RecognizerAPIKey = v
	}
	str("RECOGNIZER_API_KEY", &config.RecognizerAPIKey)
	str("IMAGE_STORE", &config.ImageStore)
	str("UPLOAD_DIR", &config.UploadDir)
	str("S3_ROOT_USER", &config.S3RootUser)
	str("S3_ROOT_PASSWORD", &config.S3RootPassword)
	str("S3_BUCKET", &config.S3Bucket)
	str("S3_REGION", &config.S3Region)
	str("S3_BASE_ENDPOINT", &config.S3BaseEndpoint)
	str("TIMEZONE", &config.Timezone)
	str("LOG_LEVEL", &config.LogLevel)
	str("LOG_FILE", &config.LogFile)

	var errs []error
	parse := func(name string, set func(string) error) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			if err := set(v); err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
			}
		}
	}
	duration := func(dst *time.Duration) func(string) error {
		return func(s string) (err error) {
			*dst, err = time.ParseDuration(s)
			return err
		}
	}
	integer := func(dst *int) func(string) error {
		return func(s string) (err error) {
			*dst, err = strconv.Atoi(s)
			return err
		}
	}

	parse("ACCESS_TOKEN_VALIDITY", duration(&config.AccessTokenValidityDuration))
	parse("REFRESH_TOKEN_VALIDITY", duration(&config.RefreshTokenValidityDuration))
	parse("RECOGNIZER_TIMEOUT", duration(&config.RecognizerTimeout))
	parse("SHUTDOWN_TIMEOUT", duration(&config.ShutdownTimeout))
	parse("RECOGNIZER_RETRIES", integer(&config.RecognizerRetries))
	parse("IMAGE_MAX_WIDTH", integer(&config.ImageMaxWidth))
	parse("RATE_BURST", integer(&config.RateBurst))
	parse("AUTH_REQUIRED", func(s string) (err error) {
		config.AuthRequired, err = strconv.ParseBool(s)
		return err
	})
	parse("RATE_LIMIT", func(s string) (err error) {
		config.RateLimit, err = strconv.ParseFloat(s, 64)
		return err
	})
	parse("MAX_UPLOAD_BYTES", func(s string) (err error) {
		config.MaxUploadBytes, err = strconv.ParseInt(s, 10, 64)
		return err
	})

	return errors.Join(errs...)
}
