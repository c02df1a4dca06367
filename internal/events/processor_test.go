package events

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/snackops/hotdog-counter/internal/counter"
	"github.com/snackops/hotdog-counter/internal/dedup"
)

type testPipeline struct {
	processor *Processor
	store     *counter.Store
	guard     *dedup.Guard
}

func newTestPipeline(t *testing.T, allowed []string) testPipeline {
	t.Helper()

	dsn := fmt.Sprintf("file:events_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&counter.UserCount{}, &counter.ChannelTotal{}, &dedup.ProcessedEvent{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := func() time.Time { return time.Unix(1700000000, 0).UTC() }
	store, err := counter.NewStore(counter.StoreConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	guard, err := dedup.NewGuard(dedup.GuardConfig{Database: db, Clock: clock})
	if err != nil {
		t.Fatalf("failed to construct guard: %v", err)
	}

	processor, err := NewProcessor(ProcessorConfig{
		Accumulator:     store,
		Guard:           guard,
		AllowedChannels: allowed,
	})
	if err != nil {
		t.Fatalf("failed to construct processor: %v", err)
	}
	return testPipeline{processor: processor, store: store, guard: guard}
}

func TestHandleEnvelopeChallenge(t *testing.T) {
	pipeline := newTestPipeline(t, nil)

	outcome, err := pipeline.processor.HandleEnvelope(context.Background(),
		[]byte(`{"type":"url_verification","challenge":"abc123"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Kind != OutcomeChallenge {
		t.Fatalf("expected challenge outcome, got %q", outcome.Kind)
	}
	if outcome.Challenge != "abc123" {
		t.Fatalf("expected challenge token to pass through, got %q", outcome.Challenge)
	}
}

func TestHandleEnvelopeMalformedBody(t *testing.T) {
	pipeline := newTestPipeline(t, nil)

	if _, err := pipeline.processor.HandleEnvelope(context.Background(), []byte("{not json")); err == nil {
		t.Fatalf("expected malformed envelope error")
	}
}

func TestHandleEnvelopeCountsMessageMarkers(t *testing.T) {
	pipeline := newTestPipeline(t, nil)
	ctx := context.Background()

	body := []byte(`{"type":"event_callback","event_id":"Ev100","event":` +
		`{"type":"message","channel":"C1","user":"U1","text":"hello :hotdog: world ` +
		"\U0001F32D\U0001F32D" + `","ts":"1700000000.000100"}}`)

	outcome, err := pipeline.processor.HandleEnvelope(ctx, body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Kind != OutcomeCounted || outcome.Delta != 3 {
		t.Fatalf("expected 3 counted, got %+v", outcome)
	}

	mine, err := pipeline.store.UserTotal(ctx, "C1", "U1")
	if err != nil {
		t.Fatalf("unexpected user total error: %v", err)
	}
	if mine != 3 {
		t.Fatalf("expected user count 3, got %d", mine)
	}
	total, err := pipeline.store.Total(ctx, "C1")
	if err != nil {
		t.Fatalf("unexpected channel total error: %v", err)
	}
	if total.Count != 3 {
		t.Fatalf("expected channel total 3, got %d", total.Count)
	}

	seen, err := pipeline.guard.Seen(ctx, "Ev100")
	if err != nil {
		t.Fatalf("unexpected seen error: %v", err)
	}
	if !seen {
		t.Fatalf("expected event to be marked processed")
	}
}

func TestHandleEnvelopeDuplicateDeliveryCountsOnce(t *testing.T) {
	pipeline := newTestPipeline(t, nil)
	ctx := context.Background()

	body := []byte(`{"type":"event_callback","event_id":"Ev200","event":` +
		`{"type":"message","channel":"C1","user":"U1","text":":hotdog:","ts":"1700000000.000100"}}`)

	for i := 0; i < 2; i++ {
		if _, err := pipeline.processor.HandleEnvelope(ctx, body); err != nil {
			t.Fatalf("delivery %d failed: %v", i+1, err)
		}
	}

	outcome, err := pipeline.processor.HandleEnvelope(ctx, body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Kind != OutcomeDuplicate {
		t.Fatalf("expected duplicate outcome, got %q", outcome.Kind)
	}

	mine, err := pipeline.store.UserTotal(ctx, "C1", "U1")
	if err != nil {
		t.Fatalf("unexpected user total error: %v", err)
	}
	if mine != 1 {
		t.Fatalf("expected duplicate deliveries to count once, got %d", mine)
	}
}

func TestHandleEnvelopeReactionAdded(t *testing.T) {
	pipeline := newTestPipeline(t, nil)
	ctx := context.Background()

	body := []byte(`{"type":"event_callback","event_id":"Ev300","event":` +
		`{"type":"reaction_added","user":"U2","reaction":"hotdog",` +
		`"item":{"type":"message","channel":"C2","ts":"1700000000.000100"},"event_ts":"1700000001.000000"}}`)

	outcome, err := pipeline.processor.HandleEnvelope(ctx, body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Kind != OutcomeCounted || outcome.Delta != 1 {
		t.Fatalf("expected reaction to count 1, got %+v", outcome)
	}

	mine, err := pipeline.store.UserTotal(ctx, "C2", "U2")
	if err != nil {
		t.Fatalf("unexpected user total error: %v", err)
	}
	if mine != 1 {
		t.Fatalf("expected user count 1, got %d", mine)
	}
}

func TestHandleEnvelopeIgnoresNonMarkerReaction(t *testing.T) {
	pipeline := newTestPipeline(t, nil)
	ctx := context.Background()

	body := []byte(`{"type":"event_callback","event_id":"Ev301","event":` +
		`{"type":"reaction_added","user":"U2","reaction":"thumbsup",` +
		`"item":{"type":"message","channel":"C2","ts":"1700000000.000100"},"event_ts":"1700000001.000000"}}`)

	outcome, err := pipeline.processor.HandleEnvelope(ctx, body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Kind != OutcomeIgnored {
		t.Fatalf("expected ignored outcome, got %q", outcome.Kind)
	}
}

func TestHandleEnvelopeIgnoresMessageSubtypes(t *testing.T) {
	pipeline := newTestPipeline(t, nil)
	ctx := context.Background()

	body := []byte(`{"type":"event_callback","event_id":"Ev302","event":` +
		`{"type":"message","subtype":"message_changed","channel":"C1","user":"U1","text":":hotdog:","ts":"1700000000.000100"}}`)

	outcome, err := pipeline.processor.HandleEnvelope(ctx, body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Kind != OutcomeIgnored {
		t.Fatalf("expected ignored outcome, got %q", outcome.Kind)
	}

	mine, err := pipeline.store.UserTotal(ctx, "C1", "U1")
	if err != nil {
		t.Fatalf("unexpected user total error: %v", err)
	}
	if mine != 0 {
		t.Fatalf("expected subtype message not to count, got %d", mine)
	}
}

func TestHandleEnvelopeUnknownInnerEventStillMarkedProcessed(t *testing.T) {
	pipeline := newTestPipeline(t, nil)
	ctx := context.Background()

	body := []byte(`{"type":"event_callback","event_id":"Ev400","event":` +
		`{"type":"totally_unknown_event","user":"U1"}}`)

	outcome, err := pipeline.processor.HandleEnvelope(ctx, body)
	if err != nil {
		t.Fatalf("unknown inner events must not error: %v", err)
	}
	if outcome.Kind != OutcomeIgnored {
		t.Fatalf("expected ignored outcome, got %q", outcome.Kind)
	}

	seen, err := pipeline.guard.Seen(ctx, "Ev400")
	if err != nil {
		t.Fatalf("unexpected seen error: %v", err)
	}
	if !seen {
		t.Fatalf("expected unknown event to be marked processed")
	}
}

func TestHandleEnvelopeUnknownOuterTypeIgnored(t *testing.T) {
	pipeline := newTestPipeline(t, nil)

	outcome, err := pipeline.processor.HandleEnvelope(context.Background(),
		[]byte(`{"type":"app_rate_limited","minute_rate_limited":1700000000}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Kind != OutcomeIgnored {
		t.Fatalf("expected ignored outcome, got %q", outcome.Kind)
	}
}

func TestHandleEnvelopeAllowlistFiltersButMarksProcessed(t *testing.T) {
	pipeline := newTestPipeline(t, []string{"C-enabled"})
	ctx := context.Background()

	body := []byte(`{"type":"event_callback","event_id":"Ev500","event":` +
		`{"type":"message","channel":"C-other","user":"U1","text":":hotdog:","ts":"1700000000.000100"}}`)

	outcome, err := pipeline.processor.HandleEnvelope(ctx, body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Kind != OutcomeFiltered {
		t.Fatalf("expected filtered outcome, got %q", outcome.Kind)
	}

	mine, err := pipeline.store.UserTotal(ctx, "C-other", "U1")
	if err != nil {
		t.Fatalf("unexpected user total error: %v", err)
	}
	if mine != 0 {
		t.Fatalf("filtered channel must not count, got %d", mine)
	}

	seen, err := pipeline.guard.Seen(ctx, "Ev500")
	if err != nil {
		t.Fatalf("unexpected seen error: %v", err)
	}
	if !seen {
		t.Fatalf("filtered events must still be marked processed")
	}

	allowedBody := []byte(`{"type":"event_callback","event_id":"Ev501","event":` +
		`{"type":"message","channel":"C-enabled","user":"U1","text":":hotdog:","ts":"1700000000.000100"}}`)
	outcome, err = pipeline.processor.HandleEnvelope(ctx, allowedBody)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Kind != OutcomeCounted {
		t.Fatalf("expected enabled channel to count, got %q", outcome.Kind)
	}
}
