package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sendrec/danmaku/internal/validate"
)

const (
	sourceAPI     = "api"
	sourceArchive = "archive"
	sourceLocal   = "local"
)

type config struct {
	apiURL      string
	videoID     string
	source      string
	dbPath      string
	duration    time.Duration
	logPath     string
	token       string
	displayName string
	importPath  string
}

func parseFlags(args []string, stderr io.Writer) (config, error) {
	var cfg config
	fs := flag.NewFlagSet("danmaku-play", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.apiURL, "api", getEnv("DANMAKU_API", "http://localhost:8080"), "danmakud base URL")
	fs.StringVar(&cfg.videoID, "video", "", "video id to play (required)")
	fs.StringVar(&cfg.source, "source", sourceAPI, "comment source: api, archive or local")
	fs.StringVar(&cfg.dbPath, "db", getEnv("DANMAKU_DB", "danmaku.db"), "local SQLite database")
	fs.DurationVar(&cfg.duration, "duration", 5*time.Minute, "length of the simulated video")
	fs.StringVar(&cfg.logPath, "log", "danmaku-play.log", "log file")
	fs.StringVar(&cfg.token, "token", os.Getenv("DANMAKU_TOKEN"), "access token; a guest session is created when empty")
	fs.StringVar(&cfg.displayName, "name", "", "display name for a new guest session")
	fs.StringVar(&cfg.importPath, "import", "", "JSON file of comments to load into the local database first")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}
	if msg := validate.VideoID(cfg.videoID); msg != "" {
		return config{}, errors.New(msg)
	}
	switch cfg.source {
	case sourceAPI, sourceArchive, sourceLocal:
	default:
		return config{}, fmt.Errorf("unknown source %q", cfg.source)
	}
	if cfg.duration <= 0 {
		return config{}, errors.New("duration must be positive")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
