package app

import (
	"context"
	"testing"
	"time"

	"github.com/R3E-Network/lotto_layer/internal/config"
)

func TestApplicationWiring(t *testing.T) {
	cfg := config.Default()
	application, err := New(cfg, Stores{}, Options{}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}

	ctx := context.Background()
	if err := application.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer application.Stop(ctx)

	// The randomness handler must be wired back to the round service:
	// close a round and deliver a draw through the oracle service.
	r, err := application.Lotto.CreateRound(ctx, time.Now().Add(50*time.Millisecond))
	if err != nil {
		t.Fatalf("create round: %v", err)
	}
	if _, err := application.Lotto.Deposit(ctx, r.ID, "alice", 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	time.Sleep(60 * time.Millisecond)
	closed, err := application.Lotto.Close(ctx, r.ID)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := application.Randomness.Fulfill(ctx, closed.RequestID, 1, ""); err != nil {
		t.Fatalf("fulfill: %v", err)
	}

	got, err := application.Lotto.GetRound(ctx, r.ID)
	if err != nil {
		t.Fatalf("get round: %v", err)
	}
	if !got.HasDraw() {
		t.Fatalf("draw did not reach the round: %+v", got)
	}
}
