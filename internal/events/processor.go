// Package events classifies verified webhook envelopes and drives the
// dedup, extraction, and accumulation pipeline.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/slack-go/slack/slackevents"
	"go.uber.org/zap"

	"github.com/snackops/hotdog-counter/internal/hotdog"
)

var (
	errMissingAccumulator = errors.New("accumulator is required")
	errMissingGuard       = errors.New("idempotency guard is required")
	noOpLogger            = zap.NewNop()

	// ErrMalformedEnvelope indicates the envelope was not parseable JSON.
	// No side effect has occurred when it is returned, so the platform may
	// safely redeliver.
	ErrMalformedEnvelope = errors.New("events: malformed envelope")
)

// Accumulator is the mutating slice of the counter store.
type Accumulator interface {
	Accumulate(ctx context.Context, channelID, userID string, delta int64) error
}

// Guard is the idempotency surface for durable event identifiers.
type Guard interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

// Outcome kinds, for the transport layer and logs.
const (
	OutcomeChallenge = "challenge"
	OutcomeCounted   = "counted"
	OutcomeDuplicate = "duplicate"
	OutcomeFiltered  = "filtered"
	OutcomeIgnored   = "ignored"
)

// Outcome describes how an envelope was handled. Every non-error outcome maps
// to a 200 response; only a challenge carries a response body.
type Outcome struct {
	Kind      string
	Challenge string
	Delta     int64
}

// ProcessorConfig carries the Processor's dependencies.
type ProcessorConfig struct {
	Accumulator Accumulator
	Guard       Guard
	// AllowedChannels restricts accumulation to the listed channels. Empty
	// means every channel is counted. Filtered events are still marked
	// processed so their redelivery is a dedup hit.
	AllowedChannels []string
	Logger          *zap.Logger
}

// Processor dispatches verified, non-duplicate envelopes to signal
// extraction and counter accumulation.
type Processor struct {
	accumulator Accumulator
	guard       Guard
	allowed     map[string]struct{}
	logger      *zap.Logger
}

// NewProcessor constructs a Processor from its configuration.
func NewProcessor(cfg ProcessorConfig) (*Processor, error) {
	if cfg.Accumulator == nil {
		return nil, errMissingAccumulator
	}
	if cfg.Guard == nil {
		return nil, errMissingGuard
	}

	var allowed map[string]struct{}
	if len(cfg.AllowedChannels) > 0 {
		allowed = make(map[string]struct{}, len(cfg.AllowedChannels))
		for _, channel := range cfg.AllowedChannels {
			allowed[channel] = struct{}{}
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Processor{
		accumulator: cfg.Accumulator,
		guard:       cfg.Guard,
		allowed:     allowed,
		logger:      logger,
	}, nil
}

// envelope is the minimal outer structure decoded before the typed parse, so
// unknown inner event types can still be acknowledged and marked processed.
type envelope struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	EventID   string `json:"event_id"`
}

// HandleEnvelope classifies the raw envelope and applies its side effects.
// The caller has already verified the request signature against these exact
// bytes.
func (p *Processor) HandleEnvelope(ctx context.Context, raw []byte) (Outcome, error) {
	var outer envelope
	if err := json.Unmarshal(raw, &outer); err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	switch outer.Type {
	case slackevents.URLVerification:
		// Handshake bypasses idempotency and counting entirely.
		return Outcome{Kind: OutcomeChallenge, Challenge: outer.Challenge}, nil
	case slackevents.CallbackEvent:
		return p.handleCallback(ctx, raw, outer.EventID)
	default:
		// Unknown envelope types are acknowledged so the platform does not
		// retry them forever.
		p.logger.Debug("ignoring envelope", zap.String("envelope_type", outer.Type))
		return Outcome{Kind: OutcomeIgnored}, nil
	}
}

func (p *Processor) handleCallback(ctx context.Context, raw []byte, eventID string) (Outcome, error) {
	seen, err := p.guard.Seen(ctx, eventID)
	if err != nil {
		return Outcome{}, err
	}
	if seen {
		p.logger.Debug("duplicate delivery short-circuited", zap.String("event_id", eventID))
		return Outcome{Kind: OutcomeDuplicate}, nil
	}

	outcome := Outcome{Kind: OutcomeIgnored}
	parsed, parseErr := slackevents.ParseEvent(json.RawMessage(raw), slackevents.OptionNoVerifyToken())
	if parseErr != nil {
		// Unregistered inner event types fail the typed parse; they are
		// still acknowledged and marked processed below.
		p.logger.Debug("unhandled inner event", zap.String("event_id", eventID), zap.Error(parseErr))
	} else {
		outcome, err = p.dispatch(ctx, parsed)
		if err != nil {
			return Outcome{}, err
		}
	}

	// Marking happens after the counters so a crash mid-processing causes a
	// retried delivery to recount rather than be silently dropped.
	if err := p.guard.Mark(ctx, eventID); err != nil {
		return Outcome{}, err
	}
	return outcome, nil
}

func (p *Processor) dispatch(ctx context.Context, parsed slackevents.EventsAPIEvent) (Outcome, error) {
	switch inner := parsed.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		if inner.SubType != "" || inner.Channel == "" || inner.User == "" {
			return Outcome{Kind: OutcomeIgnored}, nil
		}
		delta := int64(hotdog.Count(inner.Text))
		if delta == 0 {
			return Outcome{Kind: OutcomeIgnored}, nil
		}
		return p.accumulate(ctx, inner.Channel, inner.User, delta)
	case *slackevents.ReactionAddedEvent:
		if inner.Reaction != hotdog.ReactionName || inner.Item.Channel == "" || inner.User == "" {
			return Outcome{Kind: OutcomeIgnored}, nil
		}
		return p.accumulate(ctx, inner.Item.Channel, inner.User, 1)
	default:
		return Outcome{Kind: OutcomeIgnored}, nil
	}
}

func (p *Processor) accumulate(ctx context.Context, channelID, userID string, delta int64) (Outcome, error) {
	if !p.channelEnabled(channelID) {
		return Outcome{Kind: OutcomeFiltered}, nil
	}
	if err := p.accumulator.Accumulate(ctx, channelID, userID, delta); err != nil {
		return Outcome{}, err
	}
	p.logger.Info("hotdogs counted",
		zap.String("channel_id", channelID),
		zap.String("user_id", userID),
		zap.Int64("delta", delta))
	return Outcome{Kind: OutcomeCounted, Delta: delta}, nil
}

func (p *Processor) channelEnabled(channelID string) bool {
	if p.allowed == nil {
		return true
	}
	_, ok := p.allowed[channelID]
	return ok
}
