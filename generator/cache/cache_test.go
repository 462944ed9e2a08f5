package cache_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/maps4go/maps4go/generator/cache"
)

func open(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.Config{Dir: t.TempDir()}.Open()
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() {
		if err := c.Close(); err != nil {
			t.Errorf("close cache: %v", err)
		}
	})
	return c
}

func TestPutGet(t *testing.T) {
	t.Parallel()
	c := open(t)

	if _, err := c.Get("srtm", "N45E006"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := c.Put("srtm", "N45E006", []byte("payload")); err != nil {
		t.Fatalf("put: %v", err)
	}
	v, err := c.Get("srtm", "N45E006")
	if err != nil || string(v) != "payload" {
		t.Fatalf("get after put: %q, %v", v, err)
	}
	// Same name under another namespace must stay independent.
	if _, err := c.Get("satellite", "N45E006"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("namespace collision: %v", err)
	}
}

func TestGetOrFillSharesProduce(t *testing.T) {
	t.Parallel()
	c := open(t)

	var calls atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrFill("srtm", "N45E007", func() ([]byte, error) {
				calls.Add(1)
				return []byte("tile"), nil
			})
			if err != nil || string(v) != "tile" {
				t.Errorf("GetOrFill: %q, %v", v, err)
			}
		}()
	}
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("produce called %d times, want 1", got)
	}
}

func TestGetOrFillError(t *testing.T) {
	t.Parallel()
	c := open(t)

	boom := errors.New("remote unavailable")
	if _, err := c.GetOrFill("srtm", "N00E000", func() ([]byte, error) {
		return nil, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected produce error, got %v", err)
	}
	// A failed fill must not poison the key.
	v, err := c.GetOrFill("srtm", "N00E000", func() ([]byte, error) {
		return []byte("ok"), nil
	})
	if err != nil || string(v) != "ok" {
		t.Fatalf("retry after failed fill: %q, %v", v, err)
	}
}
