package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/sendrec/danmaku/internal/archive"
	"github.com/sendrec/danmaku/internal/client"
	"github.com/sendrec/danmaku/internal/danmaku"
	"github.com/sendrec/danmaku/internal/fanout"
	"github.com/sendrec/danmaku/internal/localstore"
)

const localAuthor = "local"

var errReadOnly = errors.New("posting needs a signed-in session")

// backends is everything the player talks to besides the screen.
type backends struct {
	source    danmaku.CommentSource
	persister danmaku.SettingsPersister
	reactor   danmaku.Reactor
	settings  danmaku.Settings
	post      func(ctx context.Context, content string, dueAtMs int64) (danmaku.Comment, error)
}

// buildBackends wires the comment source, persistence and posting for
// cfg.source. Settings are always mirrored into the local store so the next
// session starts with them even when the service is down. objects is only
// used for the archive source.
func buildBackends(ctx context.Context, cfg config, store *localstore.Store, objects archive.ObjectStore) (backends, error) {
	if cfg.source == sourceLocal {
		settings, err := store.LoadSettings(ctx)
		if err != nil {
			return backends{}, fmt.Errorf("load local settings: %w", err)
		}
		return backends{
			source:    store,
			persister: store,
			reactor:   store,
			settings:  settings,
			post: func(ctx context.Context, content string, dueAtMs int64) (danmaku.Comment, error) {
				return store.Insert(ctx, cfg.videoID, localAuthor, content, dueAtMs)
			},
		}, nil
	}

	api := client.New(cfg.apiURL)
	signedIn := true
	if cfg.token != "" {
		api.SetToken(cfg.token)
	} else if _, err := api.Guest(ctx, cfg.displayName); err != nil {
		if cfg.source == sourceAPI {
			return backends{}, fmt.Errorf("start guest session: %w", err)
		}
		slog.Warn("play: no session, archive playback is read-only", "error", err)
		signedIn = false
	}

	b := backends{source: api}
	if cfg.source == sourceArchive {
		if objects == nil {
			return backends{}, errors.New("archive source needs object storage; set S3_ENDPOINT")
		}
		b.source = archive.NewSource(objects)
	}

	if !signedIn {
		settings, err := store.LoadSettings(ctx)
		if err != nil {
			return backends{}, fmt.Errorf("load local settings: %w", err)
		}
		b.settings = settings
		b.persister = store
		b.post = func(context.Context, string, int64) (danmaku.Comment, error) {
			return danmaku.Comment{}, errReadOnly
		}
		return b, nil
	}

	settings, err := api.LoadSettings(ctx)
	if err != nil {
		slog.Warn("play: using local settings", "error", err)
		if settings, err = store.LoadSettings(ctx); err != nil {
			return backends{}, fmt.Errorf("load local settings: %w", err)
		}
	}
	b.settings = settings
	b.persister = fanout.NewMultiPersister(store, api)
	b.reactor = fanout.NewMultiReactor(api)
	b.post = func(ctx context.Context, content string, dueAtMs int64) (danmaku.Comment, error) {
		return api.Post(ctx, cfg.videoID, content, dueAtMs)
	}
	return b, nil
}

// importComments loads a JSON array of comments into the local store.
func importComments(ctx context.Context, store *localstore.Store, videoID, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read import file: %w", err)
	}
	var comments []danmaku.Comment
	if err := json.Unmarshal(data, &comments); err != nil {
		return 0, fmt.Errorf("decode import file: %w", err)
	}
	return store.Import(ctx, videoID, comments)
}
