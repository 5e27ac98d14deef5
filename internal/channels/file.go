// Package channels loads the optional channels file and keeps the channel
// store in sync with it.
package channels

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"tgwatch/internal/model"
)

type fileConfig struct {
	Channels []fileChannel `json:"channels"`
}

type fileChannel struct {
	ID       channelRef `json:"id"`
	Keywords []string   `json:"keywords"`
	Enabled  *bool      `json:"enabled"`
}

// channelRef accepts both "-100123" and -100123.
type channelRef string

func (r *channelRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = channelRef(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("channel id must be a string or number: %w", err)
	}
	*r = channelRef(n.String())
	return nil
}

// LoadFile reads the channels file at path.
func LoadFile(path string) ([]model.ChannelDescriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open channels file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Parse(f)
}

// Parse decodes {"channels":[{"id":…,"keywords":[…],"enabled":…}]}.
// A missing "enabled" means true. Keywords are trimmed and blanks dropped.
func Parse(r io.Reader) ([]model.ChannelDescriptor, error) {
	var cfg fileConfig
	if err := json.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode channels file: %w", err)
	}

	descs := make([]model.ChannelDescriptor, 0, len(cfg.Channels))
	for _, c := range cfg.Channels {
		d := model.ChannelDescriptor{
			ID:      strings.TrimSpace(string(c.ID)),
			Enabled: c.Enabled == nil || *c.Enabled,
		}
		for _, kw := range c.Keywords {
			if kw = strings.TrimSpace(kw); kw != "" {
				d.Keywords = append(d.Keywords, kw)
			}
		}
		descs = append(descs, d)
	}
	return descs, nil
}

// Clean drops descriptors without an id and repeated ids, keeping the first.
func Clean(descs []model.ChannelDescriptor, log *slog.Logger) []model.ChannelDescriptor {
	seen := make(map[string]bool, len(descs))
	out := make([]model.ChannelDescriptor, 0, len(descs))
	for i, d := range descs {
		if err := d.Validate(); err != nil {
			log.Warn("skip channel entry", "index", i, "error", err)
			continue
		}
		if seen[d.ID] {
			log.Warn("skip duplicate channel entry", "index", i, "channel", d.ID)
			continue
		}
		seen[d.ID] = true
		out = append(out, d)
	}
	return out
}
