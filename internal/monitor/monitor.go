// Package monitor evaluates inbound channel messages against per-channel
// keyword rulesets and emits alerts for matches.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tgwatch/internal/bot"
	"tgwatch/internal/filter"
	"tgwatch/internal/message"
	"tgwatch/internal/model"
)

const previewTimeout = 15 * time.Second

// Source lists the configured channels.
type Source interface {
	ListDescriptors(ctx context.Context) ([]model.ChannelDescriptor, error)
}

// Resolver maps a configured channel reference to the id messages carry.
type Resolver interface {
	ResolveChannel(ctx context.Context, ref string) (string, error)
}

// Sender delivers a formatted alert.
type Sender interface {
	SendAlert(ctx context.Context, text string) error
}

// Previewer fetches a short text preview of a web page.
type Previewer interface {
	Preview(ctx context.Context, url string) (string, error)
}

// Snapshot is an immutable channel id to ruleset table.
type Snapshot struct {
	rulesets map[string]filter.Ruleset
	feeds    []string
	loadedAt time.Time
}

// Ruleset returns the ruleset of a channel.
func (s *Snapshot) Ruleset(channelID string) (filter.Ruleset, bool) {
	rs, ok := s.rulesets[channelID]
	return rs, ok
}

// Len returns the number of loaded channels.
func (s *Snapshot) Len() int { return len(s.rulesets) }

// LoadedAt returns when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Monitor routes messages to the ruleset of their channel and sends alerts.
// HandleMessage and Check are safe to call concurrently with Reload.
type Monitor struct {
	source     Source
	resolver   Resolver
	sender     Sender
	previewer  Previewer
	classifier filter.Classifier
	parser     *message.Parser
	metrics    *Metrics
	log        *slog.Logger

	reloadMu sync.Mutex
	snapshot atomic.Pointer[Snapshot]
	pending  sync.WaitGroup
}

// New creates a Monitor with an empty ruleset table. Call Reload to load channels.
func New(source Source, resolver Resolver, sender Sender, log *slog.Logger) *Monitor {
	m := &Monitor{
		source:     source,
		resolver:   resolver,
		sender:     sender,
		classifier: filter.Classifier{CJKRanges: filter.DefaultCJKRanges},
		parser:     message.NewParser(nil, ""),
		metrics:    newMetrics(),
		log:        log,
	}
	m.snapshot.Store(&Snapshot{rulesets: map[string]filter.Ruleset{}})
	return m
}

// SetParser replaces the message parser. Must be called before processing starts.
func (m *Monitor) SetParser(p *message.Parser) { m.parser = p }

// SetClassifier replaces the keyword classifier used by future reloads.
func (m *Monitor) SetClassifier(c filter.Classifier) { m.classifier = c }

// SetPreviewer enables page previews for alerts without content.
func (m *Monitor) SetPreviewer(p Previewer) { m.previewer = p }

// Metrics returns the monitor's collectors.
func (m *Monitor) Metrics() *Metrics { return m.metrics }

// Snapshot returns the current ruleset table.
func (m *Monitor) Snapshot() *Snapshot { return m.snapshot.Load() }

// Channels returns the number of loaded channels.
func (m *Monitor) Channels() int { return m.Snapshot().Len() }

// LoadedAt returns when the current rulesets were built.
func (m *Monitor) LoadedAt() time.Time { return m.Snapshot().LoadedAt() }

// FeedURLs returns the loaded channels that are RSS feeds.
func (m *Monitor) FeedURLs() []string {
	return append([]string(nil), m.Snapshot().feeds...)
}

// Reload rebuilds every ruleset from the source and publishes the new table
// atomically. Disabled, invalid and unresolvable channels are skipped.
// On a source error the previous table stays in effect.
func (m *Monitor) Reload(ctx context.Context) error {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	start := time.Now()
	descs, err := m.source.ListDescriptors(ctx)
	if err != nil {
		m.metrics.reloads.WithLabelValues("error").Inc()
		return fmt.Errorf("list channels: %w", err)
	}

	snap := &Snapshot{rulesets: make(map[string]filter.Ruleset, len(descs))}
	var invalid int
	for _, d := range descs {
		if !d.Enabled {
			continue
		}
		if err := d.Validate(); err != nil {
			m.log.Error("skip channel", "channel", d.ID, "error", err)
			continue
		}

		id, err := m.resolver.ResolveChannel(ctx, d.ID)
		if err != nil {
			m.log.Error("resolve channel", "channel", d.ID, "error", err)
			continue
		}
		if _, dup := snap.rulesets[id]; dup {
			m.log.Warn("duplicate channel, keeping first", "channel", d.ID, "channel_id", id)
			continue
		}

		rs := m.classifier.Compile(d.Keywords)
		for _, r := range rs.Invalid() {
			invalid++
			m.log.Warn("invalid keyword pattern", "channel", d.ID, "keyword", r.Raw, "error", r.Err())
		}
		snap.rulesets[id] = rs
		if bot.IsFeedURL(id) {
			snap.feeds = append(snap.feeds, id)
		}
		m.log.Info("monitoring channel", "channel", d.ID, "channel_id", id, "keywords", len(rs.Rules))
	}
	snap.loadedAt = time.Now()

	m.snapshot.Store(snap)
	m.metrics.reloads.WithLabelValues("ok").Inc()
	m.metrics.channels.Set(float64(snap.Len()))
	m.metrics.invalidRules.Set(float64(invalid))
	m.metrics.reloadDuration.Observe(time.Since(start).Seconds())
	m.log.Info("rulesets loaded", "channels", snap.Len(), "feeds", len(snap.feeds))
	return nil
}

// Check evaluates text against the ruleset of channelID without alerting.
// It returns false when the channel has no loaded ruleset.
func (m *Monitor) Check(channelID, text string) (filter.Verdict, bool) {
	rs, ok := m.Snapshot().Ruleset(channelID)
	if !ok {
		return filter.Verdict{}, false
	}
	return rs.Evaluate(firstLine(text)), true
}

// HandleMessage matches the first line of msg against its channel's ruleset
// and sends one alert on a match. Messages from unknown channels are ignored.
// Alerts that need a page preview are sent in the background; see Wait.
func (m *Monitor) HandleMessage(ctx context.Context, msg model.Message) {
	if strings.TrimSpace(msg.Text) == "" {
		m.metrics.messages.WithLabelValues("empty").Inc()
		return
	}

	rs, ok := m.Snapshot().Ruleset(msg.ChannelID)
	if !ok {
		m.metrics.messages.WithLabelValues("unmonitored").Inc()
		m.log.Debug("message from unmonitored channel", "channel_id", msg.ChannelID)
		return
	}

	v := rs.Evaluate(firstLine(msg.Text))
	switch {
	case v.Excluded:
		m.metrics.messages.WithLabelValues("excluded").Inc()
		m.log.Debug("message excluded", "channel_id", msg.ChannelID, "keyword", v.ExcludedBy)
		return
	case !v.Matched:
		m.metrics.messages.WithLabelValues("no_match").Inc()
		return
	}
	m.metrics.messages.WithLabelValues("matched").Inc()
	m.log.Info("keyword matched", "channel_id", msg.ChannelID, "keyword", v.Keyword)

	parsed := m.parser.Parse(msg.Text, msg.Links)
	if !m.wantsPreview(parsed) {
		m.send(ctx, msg, v.Keyword, parsed)
		return
	}

	// The preview fetch must not hold up the caller's message loop.
	ctx = context.WithoutCancel(ctx)
	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		m.enrich(ctx, &parsed)
		m.send(ctx, msg, v.Keyword, parsed)
	}()
}

// Wait blocks until alerts waiting on a page preview have been sent.
func (m *Monitor) Wait() { m.pending.Wait() }

func (m *Monitor) send(ctx context.Context, msg model.Message, keyword string, parsed model.ParsedMessage) {
	text := bot.FormatAlert(keyword, parsed, msg.Text)
	if err := m.sender.SendAlert(ctx, text); err != nil {
		m.metrics.alerts.WithLabelValues("error").Inc()
		m.log.Error("send alert", "channel_id", msg.ChannelID, "keyword", keyword, "error", err)
		return
	}
	m.metrics.alerts.WithLabelValues("sent").Inc()
}

// wantsPreview reports whether parsed would show preview text in its alert.
func (m *Monitor) wantsPreview(parsed model.ParsedMessage) bool {
	return m.previewer != nil && parsed.Content == "" && parsed.HasMainURL() && parsed.HasTitle()
}

// enrich fills empty content with a page preview. Failures are ignored.
func (m *Monitor) enrich(ctx context.Context, parsed *model.ParsedMessage) {
	ctx, cancel := context.WithTimeout(ctx, previewTimeout)
	defer cancel()

	preview, err := m.previewer.Preview(ctx, parsed.MainURL)
	if err != nil {
		m.metrics.previews.WithLabelValues("error").Inc()
		m.log.Debug("fetch preview", "url", parsed.MainURL, "error", err)
		return
	}
	if preview == "" {
		m.metrics.previews.WithLabelValues("empty").Inc()
		return
	}
	m.metrics.previews.WithLabelValues("ok").Inc()
	parsed.Content = preview
}

func firstLine(text string) string {
	line, _, _ := strings.Cut(text, "\n")
	return strings.TrimSuffix(line, "\r")
}
