package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/techstore/internal/domain"
	"github.com/vladislavdragonenkov/techstore/internal/storage/memory"
)

// ttlRecordingSessions фиксирует TTL последнего PutSession.
type ttlRecordingSessions struct {
	*memory.SessionStore
	lastTTL time.Duration
}

func (r *ttlRecordingSessions) PutSession(ctx context.Context, session domain.CheckoutSession, ttl time.Duration) error {
	r.lastTTL = ttl
	return r.SessionStore.PutSession(ctx, session, ttl)
}

func TestAbandon_TerminalSessionUsesSharedRetention(t *testing.T) {
	f := newFixture(t)
	sessions := &ttlRecordingSessions{SessionStore: memory.NewSessionStore()}
	svc := NewService(f.store, sessions, nil, f.notifier, nil, nil, WithoutMetrics())
	ctx := context.Background()

	if _, err := svc.Begin(ctx, "user-1"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := svc.Abandon(ctx, "user-1"); err != nil {
		t.Fatalf("abandon: %v", err)
	}

	if sessions.lastTTL != domain.TerminalSessionRetention {
		t.Fatalf("terminal session ttl = %v, want %v", sessions.lastTTL, domain.TerminalSessionRetention)
	}
}
