package exchange

import (
	"context"
	"errors"
	"testing"
	"time"
)

var testPath = []string{"POOL", "FEE"}

func TestFixedRateVenueQuoteSwapRoundTrip(t *testing.T) {
	// 1 fee unit per 4 pool units.
	venue := &FixedRateVenue{RateNum: 1, RateDen: 4}

	cost, err := venue.Quote(context.Background(), 25, testPath)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if cost != 100 {
		t.Fatalf("expected cost 100, got %d", cost)
	}

	got, err := venue.Swap(context.Background(), cost, testPath, "collector", time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if got < 25 {
		t.Fatalf("swap output %d does not cover quoted target", got)
	}
}

func TestFixedRateVenueQuoteRoundsUp(t *testing.T) {
	venue := &FixedRateVenue{RateNum: 3, RateDen: 7}
	cost, err := venue.Quote(context.Background(), 10, testPath)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	// The quoted input must always buy at least the target.
	got, err := venue.Swap(context.Background(), cost, testPath, "collector", time.Time{})
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if got < 10 {
		t.Fatalf("quoted input %d only bought %d", cost, got)
	}
}

func TestServiceRejectsShortfall(t *testing.T) {
	svc := New(&FixedRateVenue{RateNum: 1, RateDen: 4}, testPath, "collector", nil)

	// Feeding less input than required must fail with ErrSlippage, not
	// silently underfund the randomness request.
	if _, err := svc.Swap(context.Background(), 10, 25); !errors.Is(err, ErrSlippage) {
		t.Fatalf("expected slippage error, got %v", err)
	}
}

func TestServiceValidation(t *testing.T) {
	svc := New(&FixedRateVenue{RateNum: 1, RateDen: 1}, nil, "collector", nil)
	if _, err := svc.Quote(context.Background(), 10); !errors.Is(err, ErrEmptyPath) {
		t.Fatalf("expected path error, got %v", err)
	}

	svc = New(&FixedRateVenue{RateNum: 1, RateDen: 1}, testPath, "collector", nil)
	if _, err := svc.Quote(context.Background(), 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected amount error, got %v", err)
	}
	if _, err := svc.Swap(context.Background(), -5, 1); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected amount error, got %v", err)
	}
}
