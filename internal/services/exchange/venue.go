package exchange

import (
	"context"
	"fmt"
	"time"
)

// FixedRateVenue converts at a constant fee-asset-per-pool-asset rate of
// RateNum/RateDen. Used for local development and tests; production deploys
// point Venue at a real exchange integration.
type FixedRateVenue struct {
	RateNum int64
	RateDen int64
}

var _ Venue = (*FixedRateVenue)(nil)

func (v *FixedRateVenue) rate() (int64, int64, error) {
	if v.RateNum <= 0 || v.RateDen <= 0 {
		return 0, 0, fmt.Errorf("invalid fixed rate %d/%d", v.RateNum, v.RateDen)
	}
	return v.RateNum, v.RateDen, nil
}

// Quote returns the input needed so that input*num/den >= targetOut,
// i.e. the ceiling of targetOut*den/num.
func (v *FixedRateVenue) Quote(_ context.Context, targetOut int64, path []string) (int64, error) {
	num, den, err := v.rate()
	if err != nil {
		return 0, err
	}
	if len(path) < 2 {
		return 0, fmt.Errorf("path must name input and output assets")
	}
	if targetOut <= 0 {
		return 0, fmt.Errorf("target output must be positive")
	}
	return (targetOut*den + num - 1) / num, nil
}

func (v *FixedRateVenue) Swap(_ context.Context, input int64, path []string, _ string, deadline time.Time) (int64, error) {
	num, den, err := v.rate()
	if err != nil {
		return 0, err
	}
	if len(path) < 2 {
		return 0, fmt.Errorf("path must name input and output assets")
	}
	if input <= 0 {
		return 0, fmt.Errorf("input must be positive")
	}
	if !deadline.IsZero() && time.Now().After(deadline) {
		return 0, fmt.Errorf("swap deadline exceeded")
	}
	return input * num / den, nil
}
