package research

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prep-agent/backend/internal/cache"
)

func TestCallCachedHitSkipsUpstream(t *testing.T) {
	a := NewCacheAdapter(cache.New(nil))
	ctx := context.Background()
	fp := Fingerprint("company", "acme", "mission")

	calls := 0
	upstream := func(ctx context.Context) (json.RawMessage, float64, error) {
		calls++
		return json.RawMessage(`"result"`), 0.01, nil
	}

	first, err := a.CallCached(ctx, "company", fp, time.Hour, upstream)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := a.CallCached(ctx, "company", fp, time.Hour, upstream)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}

	if calls != 1 {
		t.Fatalf("upstream called %d times, want 1", calls)
	}
	if string(first) != string(second) {
		t.Fatalf("hit returned different bytes: %s vs %s", first, second)
	}

	stats := a.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("stats = %+v, want 1 hit / 1 miss", stats)
	}
	if stats.EstimatedSavings != 0.01 {
		t.Fatalf("savings = %v, want 0.01", stats.EstimatedSavings)
	}
}

func TestCallCachedNeverCachesFailures(t *testing.T) {
	a := NewCacheAdapter(cache.New(nil))
	ctx := context.Background()
	fp := Fingerprint("company", "acme")

	calls := 0
	failing := func(ctx context.Context) (json.RawMessage, float64, error) {
		calls++
		return nil, 0, errors.New("upstream down")
	}

	if _, err := a.CallCached(ctx, "company", fp, time.Hour, failing); err == nil {
		t.Fatal("expected upstream error to surface")
	}
	if _, err := a.CallCached(ctx, "company", fp, time.Hour, failing); err == nil {
		t.Fatal("expected second call to surface the error too")
	}
	if calls != 2 {
		t.Fatalf("upstream called %d times, want 2 (failures must not be cached)", calls)
	}

	// A later success for the same key is cached normally.
	ok := func(ctx context.Context) (json.RawMessage, float64, error) {
		return json.RawMessage(`"fine"`), 0.01, nil
	}
	if _, err := a.CallCached(ctx, "company", fp, time.Hour, ok); err != nil {
		t.Fatalf("success after failures: %v", err)
	}
	if value, err := a.CallCached(ctx, "company", fp, time.Hour, failing); err != nil || string(value) != `"fine"` {
		t.Fatalf("cached success not served: value=%s err=%v", value, err)
	}
}

func TestCallCachedWithoutCacheGoesDirect(t *testing.T) {
	ctx := context.Background()
	upstream := func(ctx context.Context) (json.RawMessage, float64, error) {
		return json.RawMessage(`"direct"`), 0, nil
	}

	var nilAdapter *CacheAdapter
	value, err := nilAdapter.CallCached(ctx, "company", "fp", time.Hour, upstream)
	if err != nil || string(value) != `"direct"` {
		t.Fatalf("nil adapter: value=%s err=%v", value, err)
	}

	a := NewCacheAdapter(nil)
	value, err = a.CallCached(ctx, "company", "fp", time.Hour, upstream)
	if err != nil || string(value) != `"direct"` {
		t.Fatalf("nil cache: value=%s err=%v", value, err)
	}
}

func TestFingerprintStability(t *testing.T) {
	a := Fingerprint("company", "Acme Corp", "mission statement")
	b := Fingerprint("company", "mission  statement", "ACME CORP")
	if a != b {
		t.Fatalf("fingerprints differ: %q vs %q", a, b)
	}

	if Fingerprint("company", "acme") == Fingerprint("role", "acme") {
		t.Fatal("different categories must not collide")
	}
	if Fingerprint("company", "acme") == Fingerprint("company", "globex") {
		t.Fatal("different inputs must not collide")
	}
}

func TestClearByCategory(t *testing.T) {
	a := NewCacheAdapter(cache.New(nil))
	ctx := context.Background()

	put := func(category string, parts ...string) {
		_, err := a.CallCached(ctx, category, Fingerprint(category, parts...), time.Hour,
			func(ctx context.Context) (json.RawMessage, float64, error) {
				return json.RawMessage(`1`), 0, nil
			})
		if err != nil {
			t.Fatalf("CallCached: %v", err)
		}
	}

	put("company", "a")
	put("company", "b")
	put("role", "a")

	if removed := a.Clear("company"); removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if removed := a.Clear(""); removed != 1 {
		t.Fatalf("full clear removed = %d, want 1", removed)
	}
}
