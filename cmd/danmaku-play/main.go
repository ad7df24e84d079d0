package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/sendrec/danmaku/internal/archive"
	"github.com/sendrec/danmaku/internal/danmaku"
	"github.com/sendrec/danmaku/internal/eventloop"
	"github.com/sendrec/danmaku/internal/localstore"
	"github.com/sendrec/danmaku/internal/media"
	"github.com/sendrec/danmaku/internal/storage"
	"github.com/sendrec/danmaku/internal/tui"
)

const postTimeout = 10 * time.Second

func main() {
	cfg, err := parseFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "danmaku-play: %v\n", err)
		os.Exit(2)
	}

	logFile, err := os.OpenFile(cfg.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Fatalf("open log file: %v", err)
	}
	defer func() { _ = logFile.Close() }()
	log.SetOutput(logFile)
	slog.SetDefault(slog.New(slog.NewTextHandler(logFile, nil)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "danmaku-play: %v\n", err)
		log.Printf("exiting: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config) error {
	store, err := localstore.Open(cfg.dbPath)
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	defer func() { _ = store.Close() }()

	if cfg.importPath != "" {
		n, err := importComments(ctx, store, cfg.videoID, cfg.importPath)
		if err != nil {
			return err
		}
		log.Printf("imported %d comments into %s", n, cfg.dbPath)
	}

	var objects archive.ObjectStore
	if cfg.source == sourceArchive && os.Getenv("S3_ENDPOINT") != "" {
		objects, err = storage.New(ctx, storage.Config{
			Endpoint:  os.Getenv("S3_ENDPOINT"),
			Bucket:    getEnv("S3_BUCKET", "danmaku"),
			AccessKey: os.Getenv("S3_ACCESS_KEY"),
			SecretKey: os.Getenv("S3_SECRET_KEY"),
			Region:    getEnv("S3_REGION", "eu-central-1"),
		})
		if err != nil {
			return fmt.Errorf("storage initialization failed: %w", err)
		}
	}

	b, err := buildBackends(ctx, cfg, store, objects)
	if err != nil {
		return err
	}

	screen, err := tcell.NewScreen()
	if err != nil {
		return fmt.Errorf("create screen: %w", err)
	}
	if err := screen.Init(); err != nil {
		return fmt.Errorf("init screen: %w", err)
	}
	defer screen.Fini()
	screen.EnableMouse(tcell.MouseMotionEvents)
	screen.HideCursor()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loop := eventloop.New(nil)
	sim := media.NewSim(loop, cfg.duration)
	cols, rows := screen.Size()
	width, height := tui.CanvasSize(cols, rows)

	player, err := danmaku.NewPlayer(ctx, danmaku.PlayerConfig{
		Scheduler: loop,
		Media:     sim,
		Source:    b.source,
		VideoID:   cfg.videoID,
		Settings:  b.settings,
		Width:     width,
		Height:    height,
		Canvas:    danmaku.CanvasOptions{Metrics: tui.Metrics, MaxDelay: 2 * time.Second},
		Persister: b.persister,
		Reactor:   b.reactor,
	})
	if err != nil {
		return fmt.Errorf("create player: %w", err)
	}

	var view *tui.View
	post := func(content string, at time.Duration) {
		go func() {
			postCtx, cancel := context.WithTimeout(ctx, postTimeout)
			defer cancel()
			c, err := b.post(postCtx, content, at.Milliseconds())
			loop.Post(func() {
				if err != nil {
					slog.Warn("play: post failed", "video_id", cfg.videoID, "error", err)
					view.Notice("post failed")
					return
				}
				player.AddDanmaku(c)
				view.Notice("posted at " + danmaku.FormatElapsed(at, sim.Duration()))
			})
		}()
	}
	view = tui.New(screen, player, tui.Options{Post: post, Title: cfg.videoID})
	sim.Attach(player)
	view.Draw()

	go func() {
		for {
			ev := screen.PollEvent()
			if ev == nil {
				return
			}
			loop.Post(func() {
				if !view.HandleEvent(ev) {
					cancel()
				}
			})
		}
	}()

	log.Printf("playing %s from %s", cfg.videoID, cfg.source)
	err = loop.Run(ctx)

	player.Close()
	sim.Close()
	if stats := player.Canvas().Stats(); stats.Spawned > 0 {
		log.Printf("spawned %d danmaku, dropped %d, expired %d", stats.Spawned, stats.Dropped, stats.Expired)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
