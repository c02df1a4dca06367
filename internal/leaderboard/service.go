// Package leaderboard composes counter reads into the slash-command reply and
// the dashboard read API. It never mutates the counter store.
package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/snackops/hotdog-counter/internal/counter"
)

// topLimit caps the leaderboard at the ten highest counts.
const topLimit = 10

var errMissingStore = errors.New("counter store is required")

// Store is the read-only slice of the counter store the service depends on.
type Store interface {
	UserTotal(ctx context.Context, channelID, userID string) (int64, error)
	TopUsers(ctx context.Context, channelID string, limit int) ([]counter.UserCount, error)
	Total(ctx context.Context, channelID string) (counter.ChannelTotal, error)
	ListChannels(ctx context.Context) ([]counter.ChannelTotal, error)
}

// ServiceConfig carries the Service's dependencies.
type ServiceConfig struct {
	Store Store
	// AllowedChannels restricts which channels answer the slash command.
	// Empty means every channel is enabled.
	AllowedChannels []string
}

// Service answers leaderboard queries for both the command surface and the
// public read API.
type Service struct {
	store   Store
	allowed map[string]struct{}
}

// NewService constructs a Service from its configuration.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}

	var allowed map[string]struct{}
	if len(cfg.AllowedChannels) > 0 {
		allowed = make(map[string]struct{}, len(cfg.AllowedChannels))
		for _, channel := range cfg.AllowedChannels {
			allowed[channel] = struct{}{}
		}
	}

	return &Service{store: cfg.Store, allowed: allowed}, nil
}

// ChannelEntry is one row of the channel listing.
type ChannelEntry struct {
	ChannelID string `json:"channel_id"`
	Count     int64  `json:"count"`
}

// ChannelsResponse is the read API channel listing.
type ChannelsResponse struct {
	Results []ChannelEntry `json:"results"`
}

// LeaderboardEntry is one ranked row of a channel leaderboard.
type LeaderboardEntry struct {
	Rank   int    `json:"rank"`
	UserID string `json:"user_id"`
	Count  int64  `json:"count"`
}

// LeaderboardResponse is the read API leaderboard for one channel.
type LeaderboardResponse struct {
	Top       []LeaderboardEntry `json:"top"`
	Total     int64              `json:"total"`
	UpdatedAt string             `json:"updated_at,omitempty"`
}

// Channels lists every channel with at least one recorded contribution.
func (s *Service) Channels(ctx context.Context) (ChannelsResponse, error) {
	rows, err := s.store.ListChannels(ctx)
	if err != nil {
		return ChannelsResponse{}, err
	}

	response := ChannelsResponse{Results: make([]ChannelEntry, 0, len(rows))}
	for _, row := range rows {
		response.Results = append(response.Results, ChannelEntry{
			ChannelID: row.ChannelID,
			Count:     row.Count,
		})
	}
	return response, nil
}

// Leaderboard returns the channel's top users and total. Channels with no
// history yield an empty board with total 0.
func (s *Service) Leaderboard(ctx context.Context, channelID string) (LeaderboardResponse, error) {
	top, err := s.store.TopUsers(ctx, channelID, topLimit)
	if err != nil {
		return LeaderboardResponse{}, err
	}
	total, err := s.store.Total(ctx, channelID)
	if err != nil {
		return LeaderboardResponse{}, err
	}

	response := LeaderboardResponse{
		Top:   make([]LeaderboardEntry, 0, len(top)),
		Total: total.Count,
	}
	if total.UpdatedAtSeconds > 0 {
		response.UpdatedAt = time.Unix(total.UpdatedAtSeconds, 0).UTC().Format(time.RFC3339)
	}
	for i, row := range top {
		response.Top = append(response.Top, LeaderboardEntry{
			Rank:   i + 1,
			UserID: row.UserID,
			Count:  row.Count,
		})
	}
	return response, nil
}

// CommandReply renders the ephemeral slash-command text. "me" reports the
// caller's own count; anything else renders the top-10 board with the
// channel total.
func (s *Service) CommandReply(ctx context.Context, channelID, userID, text string) (string, error) {
	if !s.channelEnabled(channelID) {
		return "This channel is not enabled for hotdog counting.", nil
	}

	if strings.ToLower(strings.TrimSpace(text)) == "me" {
		mine, err := s.store.UserTotal(ctx, channelID, userID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("\U0001F32D You have posted %d hotdog(s) in this channel", mine), nil
	}

	top, err := s.store.TopUsers(ctx, channelID, topLimit)
	if err != nil {
		return "", err
	}
	total, err := s.store.Total(ctx, channelID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\U0001F32D *Hotdog Leaderboard* (channel total: %d)\n", total.Count)
	if len(top) == 0 {
		b.WriteString("No hotdogs yet \U0001F937")
	} else {
		for i, row := range top {
			if i > 0 {
				b.WriteString("\n")
			}
			fmt.Fprintf(&b, "%d. <@%s> — %d", i+1, row.UserID, row.Count)
		}
	}
	return b.String(), nil
}

func (s *Service) channelEnabled(channelID string) bool {
	if s.allowed == nil {
		return true
	}
	_, ok := s.allowed[channelID]
	return ok
}
