//go:build integration

package nvd

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestFetchLatest_RealFeed(t *testing.T) {
	c, err := New(Options{APIKey: os.Getenv("NVD_API_KEY")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	start := time.Now()
	recs, err := c.FetchLatest(ctx, 24*time.Hour)
	if err != nil {
		t.Skipf("NVD feed not reachable, skipping integration test: %v", err)
	}

	for _, r := range recs {
		if r.ID == "" {
			t.Error("record with empty ID")
		}
		if !c.Seen(r.ID) {
			t.Errorf("%s not marked seen after a successful fetch", r.ID)
		}
	}

	again, err := c.FetchLatest(ctx, 24*time.Hour)
	if err != nil {
		t.Skipf("second fetch failed: %v", err)
	}
	for _, r := range again {
		for _, prev := range recs {
			if r.ID == prev.ID {
				t.Errorf("%s returned twice", r.ID)
			}
		}
	}

	t.Logf("fetched %d records (took %v)", len(recs), time.Since(start))
}
