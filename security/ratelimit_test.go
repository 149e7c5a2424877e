package security

import (
	"fmt"
	"testing"
)

func TestRateLimiterAllowsWithinBurst(t *testing.T) {
	rl := NewRateLimiter(1, 3, nil)
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("request %d within burst should be allowed", i+1)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Error("request beyond burst should be denied")
	}
}

func TestRateLimiterTracksIdentifiersSeparately(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	defer rl.Stop()

	if !rl.Allow("10.0.0.1") {
		t.Fatal("first request should be allowed")
	}
	if rl.Allow("10.0.0.1") {
		t.Error("second request from the same identifier should be denied")
	}
	if !rl.Allow("10.0.0.2") {
		t.Error("a different identifier has its own bucket")
	}
}

func TestRateLimiterEvictsOldest(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	defer rl.Stop()
	rl.maxEntries = 2

	rl.Allow("10.0.0.1")
	rl.Allow("10.0.0.2")
	rl.Allow("10.0.0.3") // evicts 10.0.0.1

	if got := rl.lruList.Len(); got != 2 {
		t.Errorf("got %d tracked identifiers, want 2", got)
	}
	// The evicted identifier starts over with a full bucket.
	if !rl.Allow("10.0.0.1") {
		t.Error("evicted identifier should get a fresh bucket")
	}
}

func TestRateLimiterManyIdentifiers(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	defer rl.Stop()
	rl.maxEntries = 100

	for i := 0; i < 200; i++ {
		rl.Allow(fmt.Sprintf("10.0.%d.%d", i/256, i%256))
	}
	if got := rl.lruList.Len(); got != 100 {
		t.Errorf("got %d tracked identifiers, want 100", got)
	}
}

func TestRateLimiterStopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	rl.Stop()
	rl.Stop()
}
