package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/techstore/internal/domain"
	"github.com/vladislavdragonenkov/techstore/internal/storage/memory"
)

type stubPublisher struct {
	failures int
	err      error

	published []domain.OutboxMessage
}

func (p *stubPublisher) Publish(event domain.OutboxMessage) error {
	if p.failures > 0 {
		p.failures--
		return p.err
	}
	if p.failures < 0 {
		return p.err
	}
	p.published = append(p.published, event)
	return nil
}

func enqueue(t *testing.T, store *memory.Store, eventType string) string {
	t.Helper()
	msg, err := store.Enqueue(context.Background(), domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   "order-1",
		EventType:     eventType,
		Payload:       []byte(`{"order_id":"order-1"}`),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return msg.ID
}

func TestProcessOnce_PublishesAndMarksSent(t *testing.T) {
	store := memory.NewStore()
	publisher := &stubPublisher{}
	enqueue(t, store, "OrderCommitted")

	worker := NewWorker(store, publisher, WithRetryBaseDelay(0))
	worker.ProcessOnce(context.Background())

	if len(publisher.published) != 1 {
		t.Fatalf("expected one published event, got %d", len(publisher.published))
	}
	if publisher.published[0].EventType != "OrderCommitted" {
		t.Fatalf("unexpected event: %+v", publisher.published[0])
	}
	if pending := store.AllPendingOutbox(); len(pending) != 0 {
		t.Fatalf("expected empty backlog, got %d", len(pending))
	}
}

func TestProcessOnce_RetriesTransientFailure(t *testing.T) {
	store := memory.NewStore()
	publisher := &stubPublisher{failures: 2, err: errors.New("broker unavailable")}
	enqueue(t, store, "OrderCommitted")

	worker := NewWorker(store, publisher, WithMaxAttempts(3), WithRetryBaseDelay(0))
	worker.ProcessOnce(context.Background())

	// Две неудачи, третья попытка успешна.
	if len(publisher.published) != 1 {
		t.Fatalf("expected publish after retries, got %d", len(publisher.published))
	}
	if pending := store.AllPendingOutbox(); len(pending) != 0 {
		t.Fatalf("expected empty backlog, got %d", len(pending))
	}
}

func TestProcessOnce_ExhaustedRetriesGoToDLQ(t *testing.T) {
	store := memory.NewStore()
	publisher := &stubPublisher{failures: -1, err: errors.New("broker gone")}
	dlq := &stubPublisher{}
	id := enqueue(t, store, "OrderCommitted")

	worker := NewWorker(store, publisher,
		WithMaxAttempts(2),
		WithRetryBaseDelay(0),
		WithDLQPublisher(dlq),
	)
	worker.ProcessOnce(context.Background())

	if len(dlq.published) != 1 {
		t.Fatalf("expected one dlq event, got %d", len(dlq.published))
	}

	var record map[string]any
	if err := json.Unmarshal(dlq.published[0].Payload, &record); err != nil {
		t.Fatalf("dlq payload must be json: %v", err)
	}
	if record["outbox_id"] != id || record["event_type"] != "OrderCommitted" {
		t.Fatalf("unexpected dlq record: %+v", record)
	}
	if record["publish_error"] == "" {
		t.Fatal("dlq record must carry the publish error")
	}

	// Сообщение помечено failed и больше не pending.
	if pending := store.AllPendingOutbox(); len(pending) != 0 {
		t.Fatalf("failed message must leave pending backlog, got %d", len(pending))
	}
	stats, err := store.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.PendingCount != 0 {
		t.Fatalf("expected zero pending, got %d", stats.PendingCount)
	}
}

func TestProcessOnce_DLQFailureStillMarksFailed(t *testing.T) {
	store := memory.NewStore()
	publisher := &stubPublisher{failures: -1, err: errors.New("broker gone")}
	dlq := &stubPublisher{failures: -1, err: errors.New("dlq gone too")}
	enqueue(t, store, "OrderCommitted")

	worker := NewWorker(store, publisher,
		WithMaxAttempts(1),
		WithRetryBaseDelay(0),
		WithDLQPublisher(dlq),
	)
	worker.ProcessOnce(context.Background())

	if pending := store.AllPendingOutbox(); len(pending) != 0 {
		t.Fatalf("message must not stay pending, got %d", len(pending))
	}
}

func TestProcessOnce_EmptyBacklogIsNoop(t *testing.T) {
	store := memory.NewStore()
	publisher := &stubPublisher{}

	worker := NewWorker(store, publisher)
	worker.ProcessOnce(context.Background())

	if len(publisher.published) != 0 {
		t.Fatalf("nothing to publish, got %d", len(publisher.published))
	}
}

func TestProcessOnce_CancelledContext(t *testing.T) {
	store := memory.NewStore()
	publisher := &stubPublisher{}
	enqueue(t, store, "OrderCommitted")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	worker := NewWorker(store, publisher)
	worker.ProcessOnce(ctx)

	if len(publisher.published) != 0 {
		t.Fatalf("cancelled context must stop processing, got %d", len(publisher.published))
	}
}

func TestRetryBackoff_Doubles(t *testing.T) {
	worker := NewWorker(memory.NewStore(), &stubPublisher{}, WithRetryBaseDelay(10))

	if got := worker.retryBackoff(1); got != 10 {
		t.Fatalf("attempt 1: got %d", got)
	}
	if got := worker.retryBackoff(3); got != 40 {
		t.Fatalf("attempt 3: got %d", got)
	}
}
