package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/gophdrive/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string   PostgreSQL DSN
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-o string   object store backend ("s3" or "memory")
//	-k string   object key root
//	-r string   PAR registry directory
//	-t int      PAR validity, minutes
//	-m int      maximum PAR validity, minutes
//	-i int      inline upload threshold, bytes
//	-x int      maximum file size, bytes
//	-w int      sweep interval, seconds
//	-l string   log backend ("slog" or "zap")
//
// Only the flags listed above are taken from os.Args (see flagx.FilterArgs),
// so -c/-config and foreign flags do not trip the parser.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-d", "-u", "-p", "-b", "-g", "-e", "-o", "-k", "-r", "-t", "-m", "-i", "-x", "-w", "-l",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.ObjectStore, "o", config.ObjectStore, "object store backend (s3|memory)")
	fs.StringVar(&config.KeyRoot, "k", config.KeyRoot, "object key root")
	fs.StringVar(&config.PARRegistryPath, "r", config.PARRegistryPath, "PAR registry directory (empty for in-memory)")

	parValidity := fs.Int("t", int(config.PARValidityDuration.Minutes()), "PAR validity (in minutes)")
	parMaxValidity := fs.Int("m", int(config.PARMaxValidityDuration.Minutes()), "maximum PAR validity (in minutes)")

	fs.Int64Var(&config.InlineThreshold, "i", config.InlineThreshold, "inline upload threshold (in bytes)")
	fs.Int64Var(&config.MaxFileSize, "x", config.MaxFileSize, "maximum file size (in bytes, 0 for no limit)")

	sweepInterval := fs.Int("w", int(config.SweepInterval.Seconds()), "sweep interval (in seconds)")

	fs.StringVar(&config.LogBackend, "l", config.LogBackend, "log backend (slog|zap)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	// only flags given explicitly, so sub-unit values from env or JSON survive
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "t":
			config.PARValidityDuration = time.Duration(*parValidity) * time.Minute
		case "m":
			config.PARMaxValidityDuration = time.Duration(*parMaxValidity) * time.Minute
		case "w":
			config.SweepInterval = time.Duration(*sweepInterval) * time.Second
		}
	})
}
