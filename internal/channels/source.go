package channels

import (
	"context"
	"fmt"
	"log/slog"

	"tgwatch/internal/model"
)

// Store is the part of the channel store the file sync needs.
type Store interface {
	ReplaceChannels(ctx context.Context, descs []model.ChannelDescriptor) error
	ListDescriptors(ctx context.Context) ([]model.ChannelDescriptor, error)
}

// Sync loads the file at path and replaces the store contents with it.
// It returns the number of channels written.
func Sync(ctx context.Context, path string, store Store, log *slog.Logger) (int, error) {
	descs, err := LoadFile(path)
	if err != nil {
		return 0, err
	}
	descs = Clean(descs, log)
	if err := store.ReplaceChannels(ctx, descs); err != nil {
		return 0, fmt.Errorf("replace channels: %w", err)
	}
	return len(descs), nil
}

// Source supplies ruleset descriptors from the store. When a channels file is
// configured it is synced into the store first; a broken file leaves the
// previous store contents in effect.
type Source struct {
	path  string
	store Store
	log   *slog.Logger
}

// NewSource creates a Source. An empty path disables file syncing.
func NewSource(path string, store Store, log *slog.Logger) *Source {
	return &Source{path: path, store: store, log: log}
}

// ListDescriptors returns every configured channel.
func (s *Source) ListDescriptors(ctx context.Context) ([]model.ChannelDescriptor, error) {
	if s.path != "" {
		n, err := Sync(ctx, s.path, s.store, s.log)
		if err != nil {
			s.log.Error("sync channels file", "path", s.path, "error", err)
		} else {
			s.log.Debug("synced channels file", "path", s.path, "channels", n)
		}
	}
	return s.store.ListDescriptors(ctx)
}
