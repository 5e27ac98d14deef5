// Package scheduler polls monitored RSS feeds and hands new items to the
// monitor as channel messages.
package scheduler

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"tgwatch/internal/fetcher"
	"tgwatch/internal/model"
)

// Feeds lists the feed URLs that currently have a loaded ruleset.
type Feeds interface {
	FeedURLs() []string
}

// Handler receives feed items as channel messages.
type Handler interface {
	HandleMessage(ctx context.Context, msg model.Message)
}

// Scheduler periodically checks feeds for new items.
type Scheduler struct {
	feeds   Feeds
	fetcher *fetcher.Fetcher
	handler Handler
	log     *slog.Logger
	tick    time.Duration

	mu   sync.Mutex
	seen map[string]map[string]struct{}
}

// New creates a Scheduler that fetches feeds through client.
func New(feeds Feeds, client fetcher.HTTPClient, handler Handler, log *slog.Logger) *Scheduler {
	return NewWithFetcher(feeds, fetcher.New(client), handler, log)
}

// NewWithFetcher creates a Scheduler with a custom fetcher.
func NewWithFetcher(feeds Feeds, f *fetcher.Fetcher, handler Handler, log *slog.Logger) *Scheduler {
	return &Scheduler{
		feeds:   feeds,
		fetcher: f,
		handler: handler,
		log:     log,
		tick:    5 * time.Minute,
		seen:    make(map[string]map[string]struct{}),
	}
}

// SetTickInterval overrides the default 5-minute poll interval.
func (s *Scheduler) SetTickInterval(d time.Duration) {
	s.tick = d
}

// Run starts the poll loop, blocking until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.checkAll(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkAll(ctx)
		}
	}
}

func (s *Scheduler) checkAll(ctx context.Context) {
	urls := s.feeds.FeedURLs()
	s.forget(urls)

	for _, url := range urls {
		if ctx.Err() != nil {
			return
		}
		s.processFeed(ctx, url)
	}
}

// forget drops seen state of feeds that are no longer monitored, so a feed
// that comes back is primed again instead of replaying its backlog.
func (s *Scheduler) forget(urls []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for url := range s.seen {
		if !slices.Contains(urls, url) {
			delete(s.seen, url)
		}
	}
}

func (s *Scheduler) processFeed(ctx context.Context, url string) {
	s.log.Debug("checking feed", "url", url)

	feed, err := s.fetcher.Fetch(ctx, url)
	if err != nil {
		s.log.Error("fetch feed", "url", url, "error", err)
		return
	}

	fresh, primed := s.markSeen(url, feed.Items)
	if !primed {
		s.log.Info("feed primed", "url", url, "items", len(feed.Items))
		return
	}

	// Feeds list newest first.
	for i := len(fresh) - 1; i >= 0; i-- {
		s.handler.HandleMessage(ctx, fetcher.ItemMessage(url, fresh[i]))
	}
	if len(fresh) > 0 {
		s.log.Info("new feed items", "url", url, "count", len(fresh))
	}
}

// markSeen records items of url and returns the ones not seen before.
// primed is false on the first fetch of a feed, whose items are only recorded.
func (s *Scheduler) markSeen(url string, items []*gofeed.Item) (fresh []*gofeed.Item, primed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen, primed := s.seen[url]
	if !primed {
		seen = make(map[string]struct{}, len(items))
		s.seen[url] = seen
	}
	for _, item := range items {
		guid := fetcher.ItemGUID(item)
		if _, ok := seen[guid]; ok {
			continue
		}
		seen[guid] = struct{}{}
		fresh = append(fresh, item)
	}
	return fresh, primed
}
