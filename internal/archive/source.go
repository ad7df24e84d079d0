package archive

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sendrec/danmaku/internal/danmaku"
	"github.com/sendrec/danmaku/internal/storage"
)

const maxCachedPages = 16

// Source serves an exported archive through danmaku.CommentSource. A video
// without an archive is a permanent failure, so the player's window stops
// asking instead of retrying.
type Source struct {
	objects ObjectStore

	mu        sync.Mutex
	manifests map[string]Manifest
	pages     map[string][]danmaku.Comment
	order     []string
}

func NewSource(objects ObjectStore) *Source {
	return &Source{
		objects:   objects,
		manifests: make(map[string]Manifest),
		pages:     make(map[string][]danmaku.Comment),
	}
}

func (s *Source) FetchPage(ctx context.Context, videoID string, after danmaku.Cursor, limit int) (danmaku.Page, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	m, err := s.manifest(ctx, videoID)
	if err != nil {
		return danmaku.Page{}, err
	}

	first := sort.Search(len(m.Pages), func(i int) bool { return m.Pages[i].LastDueAtMs >= after.AfterMs })
	out := make([]danmaku.Comment, 0, limit)
	for _, info := range m.Pages[first:] {
		comments, err := s.page(ctx, info.Key)
		if err != nil {
			return danmaku.Page{}, err
		}
		for _, c := range comments {
			if !after.Before(c) {
				continue
			}
			out = append(out, c)
			if len(out) > limit {
				break
			}
		}
		if len(out) > limit {
			break
		}
	}

	page := danmaku.Page{Comments: out, Next: after, Done: true}
	if len(out) > limit {
		page.Comments = out[:limit]
		page.Done = false
	}
	if n := len(page.Comments); n > 0 {
		page.Next = danmaku.CursorAt(page.Comments[n-1])
	}
	return page, nil
}

func (s *Source) manifest(ctx context.Context, videoID string) (Manifest, error) {
	s.mu.Lock()
	m, ok := s.manifests[videoID]
	s.mu.Unlock()
	if ok {
		return m, nil
	}

	if err := s.objects.GetJSON(ctx, ManifestKey(videoID), &m); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Manifest{}, fmt.Errorf("%w: %w", danmaku.ErrSourceGone, ErrNoArchive)
		}
		return Manifest{}, fmt.Errorf("load manifest: %w", err)
	}

	s.mu.Lock()
	s.manifests[videoID] = m
	s.mu.Unlock()
	return m, nil
}

func (s *Source) page(ctx context.Context, key string) ([]danmaku.Comment, error) {
	s.mu.Lock()
	comments, ok := s.pages[key]
	s.mu.Unlock()
	if ok {
		return comments, nil
	}

	var obj pageObject
	if err := s.objects.GetJSON(ctx, key, &obj); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// The manifest names this page, so the archive is damaged.
			return nil, fmt.Errorf("%w: missing page %s", danmaku.ErrSourceGone, key)
		}
		return nil, fmt.Errorf("load page %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pages[key]; !ok {
		if len(s.order) == maxCachedPages {
			delete(s.pages, s.order[0])
			s.order = s.order[1:]
		}
		s.pages[key] = obj.Comments
		s.order = append(s.order, key)
	}
	return obj.Comments, nil
}
