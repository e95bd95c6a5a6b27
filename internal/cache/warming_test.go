package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type mockRefresher struct {
	mu      sync.Mutex
	cities  []string
	failFor map[string]error
}

func (m *mockRefresher) Refresh(ctx context.Context, city string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cities = append(m.cities, city)
	return m.failFor[city]
}

func (m *mockRefresher) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.cities)
}

func TestCacheWarmer_Warm_Success(t *testing.T) {
	refresher := &mockRefresher{}
	warmer := NewCacheWarmer(refresher, nil)

	if err := warmer.Warm(context.Background(), []string{"Москва", "Новосибирск"}); err != nil {
		t.Fatalf("Warm() error = %v, want nil", err)
	}
	if got := refresher.calls(); got != 2 {
		t.Errorf("Refresh calls = %d, want 2", got)
	}
}

func TestCacheWarmer_Warm_EmptyCities(t *testing.T) {
	warmer := NewCacheWarmer(&mockRefresher{}, nil)
	if err := warmer.Warm(context.Background(), nil); err != nil {
		t.Fatalf("Warm() with nil cities error = %v, want nil", err)
	}
}

func TestCacheWarmer_Warm_RefresherError(t *testing.T) {
	apiDown := errors.New("api down")
	refresher := &mockRefresher{failFor: map[string]error{"Москва": apiDown}}
	warmer := NewCacheWarmer(refresher, nil)

	err := warmer.Warm(context.Background(), []string{"Москва", "Новосибирск"})
	if err == nil {
		t.Fatal("Warm() error = nil, want non-nil")
	}
	if !errors.Is(err, apiDown) {
		t.Errorf("Warm() error = %v, want wrapping %v", err, apiDown)
	}
	if !strings.Contains(err.Error(), "warm Москва") {
		t.Errorf("Warm() error = %q, want failed city named", err.Error())
	}
}

func TestCacheWarmer_WarmPeriodic_StopsOnCancel(t *testing.T) {
	refresher := &mockRefresher{}
	warmer := NewCacheWarmer(refresher, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- warmer.WarmPeriodic(ctx, []string{"Москва"}, 10*time.Millisecond) }()

	deadline := time.Now().Add(time.Second)
	for refresher.calls() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("WarmPeriodic() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WarmPeriodic() did not return after cancel")
	}
	if refresher.calls() < 2 {
		t.Errorf("Refresh calls = %d, want at least 2 (initial + tick)", refresher.calls())
	}
}
