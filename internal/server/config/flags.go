package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/freshkeeper/internal/flagx"
)

var serverFlags = []string{
	"-a", "-d", "-s", "-t", "-r", "-auth",
	"-k", "-m", "-rt",
	"-i", "-up",
	"-u", "-p", "-b", "-g", "-e",
	"-tz", "-l", "-lf",
}

// parseFlags overlays short command-line flags. Token validities are whole
// minutes; -rt is the recognizer timeout in seconds. Boolean -auth must be
// spelled -auth or -auth=false.
func parseFlags(config *Config) error {
	args := flagx.FilterArgs(os.Args[1:], serverFlags)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	accessMinutes := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access token validity (minutes)")
	refreshMinutes := fs.Int("r", int(config.RefreshTokenValidityDuration.Minutes()), "refresh token validity (minutes)")
	fs.BoolVar(&config.AuthRequired, "auth", config.AuthRequired, "require bearer tokens on per-user endpoints")

	fs.StringVar(&config.RecognizerAPIKey, "k", config.RecognizerAPIKey, "default recognizer API key")
	fs.StringVar(&config.RecognizerModel, "m", config.RecognizerModel, "recognizer chat model")
	recognizerSeconds := fs.Int("rt", int(config.RecognizerTimeout.Seconds()), "recognizer timeout (seconds)")

	fs.StringVar(&config.ImageStore, "i", config.ImageStore, "image store: local, s3 or none")
	fs.StringVar(&config.UploadDir, "up", config.UploadDir, "local upload directory")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	fs.StringVar(&config.Timezone, "tz", config.Timezone, "timezone for today's date")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.StringVar(&config.LogFile, "lf", config.LogFile, "log file (stdout when empty)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	// Durations are only touched when given, so finer values from the file
	// or environment survive the whole-unit flags.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "t":
			config.AccessTokenValidityDuration = time.Duration(*accessMinutes) * time.Minute
		case "r":
			config.RefreshTokenValidityDuration = time.Duration(*refreshMinutes) * time.Minute
		case "rt":
			config.RecognizerTimeout = time.Duration(*recognizerSeconds) * time.Second
		}
	})
	return nil
}
