// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"

	"tgwatch/internal/model"
)

// ErrNotFound is returned when a channel or keyword does not exist.
var ErrNotFound = errors.New("not found")

// Storage is the interface for all persistence operations.
type Storage interface {
	CreateChannel(ctx context.Context, ch *model.Channel) error
	GetChannel(ctx context.Context, id int64) (*model.Channel, error)
	GetChannelByRef(ctx context.Context, ref string) (*model.Channel, error)
	ListChannels(ctx context.Context) ([]model.Channel, error)
	UpdateChannel(ctx context.Context, ch *model.Channel) error
	DeleteChannel(ctx context.Context, id int64) error

	AddKeyword(ctx context.Context, kw *model.Keyword) error
	ListKeywords(ctx context.Context, channelID int64) ([]model.Keyword, error)
	GetKeyword(ctx context.Context, id int64) (*model.Keyword, error)
	DeleteKeyword(ctx context.Context, id int64) error

	// ReplaceChannels atomically replaces every channel and keyword with descs.
	ReplaceChannels(ctx context.Context, descs []model.ChannelDescriptor) error
	// ListDescriptors returns all channels with their keywords in id order.
	ListDescriptors(ctx context.Context) ([]model.ChannelDescriptor, error)

	Close() error
}
