package redis

import (
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"quiz-arena-service/internal/app"
	"quiz-arena-service/internal/domain"
)

func TestSessionRegistrySetsAndClearsKeys(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	registry := NewSessionRegistry(newClient(mr), time.Minute, "node-a")

	_, created, err := registry.GetOrCreate("s-1", func() (*app.Coordinator, error) {
		return app.NewCoordinator(app.CoordinatorParams{
			ID:          "s-1",
			Mode:        domain.ModeSynchronous,
			InitiatorID: "host",
			Questions:   sampleQuiz().Questions,
		})
	})
	if err != nil || !created {
		t.Fatalf("get or create: created=%v err=%v", created, err)
	}
	if got, _ := mr.Get("quiz:session:s-1"); got != "node-a" {
		t.Fatalf("expected liveness key owned by node-a, got %q", got)
	}
	if _, ok := registry.Get("s-1"); !ok {
		t.Fatalf("expected coordinator to be live")
	}

	registry.Remove("s-1")
	if mr.Exists("quiz:session:s-1") {
		t.Fatalf("expected redis key to be removed")
	}
	if _, ok := registry.Get("s-1"); ok {
		t.Fatalf("expected coordinator to be gone")
	}
}

func newSyncCoordinator(id string) func() (*app.Coordinator, error) {
	return func() (*app.Coordinator, error) {
		return app.NewCoordinator(app.CoordinatorParams{
			ID:          id,
			Mode:        domain.ModeSynchronous,
			InitiatorID: "host",
			Questions:   sampleQuiz().Questions,
		})
	}
}

func TestSessionRegistryRefusesForeignMarker(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	if err := mr.Set("quiz:session:s-1", "node-b"); err != nil {
		t.Fatalf("seed marker: %v", err)
	}
	registry := NewSessionRegistry(newClient(mr), time.Minute, "node-a")

	called := false
	_, _, err = registry.GetOrCreate("s-1", func() (*app.Coordinator, error) {
		called = true
		return newSyncCoordinator("s-1")()
	})
	if !errors.Is(err, domain.ErrHostedElsewhere) {
		t.Fatalf("expected ErrHostedElsewhere, got %v", err)
	}
	if called {
		t.Fatalf("expected no coordinator to be built")
	}
	if _, ok := registry.Get("s-1"); ok {
		t.Fatalf("expected nothing hosted locally")
	}

	registry.Remove("s-1")
	if got, _ := mr.Get("quiz:session:s-1"); got != "node-b" {
		t.Fatalf("expected node-b marker to survive, got %q", got)
	}
}

func TestSessionRegistryRefreshesMarker(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	registry := NewSessionRegistry(newClient(mr), time.Minute, "node-a")
	if _, _, err := registry.GetOrCreate("s-1", newSyncCoordinator("s-1")); err != nil {
		t.Fatalf("get or create: %v", err)
	}

	mr.FastForward(40 * time.Second)
	if _, ok := registry.Get("s-1"); !ok {
		t.Fatalf("expected coordinator to be live")
	}
	if ttl := mr.TTL("quiz:session:s-1"); ttl != time.Minute {
		t.Fatalf("expected marker ttl reset to a minute, got %v", ttl)
	}

	mr.FastForward(2 * time.Minute)
	if mr.Exists("quiz:session:s-1") {
		t.Fatalf("expected idle marker to lapse")
	}
	if _, ok := registry.Get("s-1"); !ok {
		t.Fatalf("expected coordinator to be live")
	}
	if got, _ := mr.Get("quiz:session:s-1"); got != "node-a" {
		t.Fatalf("expected lapsed marker to be reclaimed, got %q", got)
	}
}
