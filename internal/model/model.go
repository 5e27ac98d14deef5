// Package model defines the domain types used across the application.
package model

import (
	"errors"
	"strings"
	"time"
)

// Channel represents a monitored channel stored in the database.
type Channel struct {
	ID        int64
	Ref       string
	Name      string
	IsEnabled bool
	CreatedAt time.Time
}

// Keyword represents a single keyword expression attached to a channel.
type Keyword struct {
	ID        int64
	ChannelID int64
	Value     string
	CreatedAt time.Time
}

// ChannelDescriptor is the ruleset load input for one channel.
type ChannelDescriptor struct {
	ID       string   `json:"id"`
	Keywords []string `json:"keywords"`
	Enabled  bool     `json:"enabled"`
}

// ErrEmptyChannelID is returned when a descriptor has no channel id.
var ErrEmptyChannelID = errors.New("channel id is empty")

// Validate reports whether the descriptor can be turned into a ruleset.
func (d ChannelDescriptor) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return ErrEmptyChannelID
	}
	return nil
}

// LinkAnnotation is a rich-text hyperlink attached to a span of message text.
type LinkAnnotation struct {
	URL string
}

// Message is an inbound channel message.
// ChannelID is already normalized to the identifier space used for rulesets.
type Message struct {
	ChannelID string
	Text      string
	Links     []LinkAnnotation
}

// ParsedMessage is the structured form of a matched message.
// MainURL is never repeated in ExternalURLs.
type ParsedMessage struct {
	Title        string
	MainURL      string
	Content      string
	ExternalURLs []string
}

// HasTitle reports whether a title was extracted.
func (p ParsedMessage) HasTitle() bool { return p.Title != "" }

// HasMainURL reports whether a main URL was selected.
func (p ParsedMessage) HasMainURL() bool { return p.MainURL != "" }
