package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type fakeSource struct {
	ch       chan tgbotapi.Update
	mu       sync.Mutex
	config   tgbotapi.UpdateConfig
	stopped  bool
	stopOnce sync.Once
}

func newFakeSource(buffer int) *fakeSource {
	return &fakeSource{ch: make(chan tgbotapi.Update, buffer)}
}

func (f *fakeSource) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.config = config
	return f.ch
}

func (f *fakeSource) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeSource) close() {
	f.stopOnce.Do(func() { close(f.ch) })
}

func (f *fakeSource) wasStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

type recordingHandler struct {
	mu        sync.Mutex
	ids       []int
	delay     time.Duration
	slowID    int
	slowDelay time.Duration
	panicOn   int
	active    int
	maxActive int
}

func (h *recordingHandler) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	h.mu.Lock()
	h.active++
	if h.active > h.maxActive {
		h.maxActive = h.active
	}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.active--
		h.mu.Unlock()
	}()

	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	if h.slowID != 0 && update.UpdateID == h.slowID {
		time.Sleep(h.slowDelay)
	}
	if h.panicOn != 0 && update.UpdateID == h.panicOn {
		panic("boom")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ids = append(h.ids, update.UpdateID)
}

func (h *recordingHandler) order() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int(nil), h.ids...)
}

func (h *recordingHandler) peak() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.maxActive
}

func chatUpdate(id int, chatID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: id,
		Message:  &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}, Text: text},
	}
}

func (h *recordingHandler) handled() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.ids)
}

func TestPoller_HandlesAllUpdatesUntilSourceCloses(t *testing.T) {
	source := newFakeSource(10)
	handler := &recordingHandler{delay: 5 * time.Millisecond}
	poller := NewPoller(source, handler, 3, 30*time.Second, nil)

	for i := 1; i <= 10; i++ {
		source.ch <- tgbotapi.Update{UpdateID: i}
	}
	source.close()

	if err := poller.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v, want nil when source closes", err)
	}
	if got := handler.handled(); got != 10 {
		t.Errorf("handled = %d, want 10", got)
	}
	if source.config.Timeout != 30 {
		t.Errorf("poll timeout = %d, want 30 seconds", source.config.Timeout)
	}
	if !source.wasStopped() {
		t.Error("StopReceivingUpdates not called")
	}
	if poller.InFlight() != 0 {
		t.Errorf("InFlight() = %d after Run, want 0", poller.InFlight())
	}
}

func TestPoller_StopsOnCancel(t *testing.T) {
	source := newFakeSource(0)
	handler := &recordingHandler{}
	poller := NewPoller(source, handler, 2, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- poller.Run(ctx) }()

	source.ch <- tgbotapi.Update{UpdateID: 1}
	deadline := time.Now().Add(time.Second)
	for handler.handled() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if !source.wasStopped() {
		t.Error("StopReceivingUpdates not called on cancel")
	}
	if got := handler.handled(); got != 1 {
		t.Errorf("handled = %d, want 1", got)
	}
}

func TestPoller_RecoversFromHandlerPanic(t *testing.T) {
	source := newFakeSource(3)
	handler := &recordingHandler{panicOn: 2}
	poller := NewPoller(source, handler, 1, time.Second, nil)

	for i := 1; i <= 3; i++ {
		source.ch <- tgbotapi.Update{UpdateID: i}
	}
	source.close()

	if err := poller.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := handler.handled(); got != 2 {
		t.Errorf("handled = %d, want 2 (panicking update skipped)", got)
	}
	if poller.InFlight() != 0 {
		t.Errorf("InFlight() = %d, want 0 after panic", poller.InFlight())
	}
}

func TestPoller_DefaultWorkers(t *testing.T) {
	poller := NewPoller(newFakeSource(0), &recordingHandler{}, 0, time.Second, nil)
	if poller.workers != 4 {
		t.Errorf("workers = %d, want 4", poller.workers)
	}
}

func TestPoller_WaitIdle(t *testing.T) {
	source := newFakeSource(1)
	handler := &recordingHandler{delay: 50 * time.Millisecond}
	poller := NewPoller(source, handler, 1, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- poller.Run(ctx) }()
	source.ch <- tgbotapi.Update{UpdateID: 1}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	deadline := time.Now().Add(time.Second)
	for handler.handled() == 0 && time.Now().Before(deadline) {
		if err := poller.WaitIdle(waitCtx, 5*time.Millisecond); err != nil {
			t.Fatalf("WaitIdle() error = %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if handler.handled() != 1 {
		t.Errorf("handled = %d, want 1", handler.handled())
	}

	cancel()
	<-done
}

// TestPoller_SameChatHandledInOrder verifies that a slow update does not let a later
// update of the same chat overtake it.
func TestPoller_SameChatHandledInOrder(t *testing.T) {
	source := newFakeSource(2)
	handler := &recordingHandler{slowID: 1, slowDelay: 50 * time.Millisecond}
	poller := NewPoller(source, handler, 4, time.Second, nil)

	source.ch <- chatUpdate(1, 42, "Москва")
	source.ch <- chatUpdate(2, 42, "Омск")
	source.close()

	if err := poller.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	got := handler.order()
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("completion order = %v, want [1 2]", got)
	}
	if peak := handler.peak(); peak != 1 {
		t.Errorf("max concurrent handlers = %d, want 1 for a single chat", peak)
	}
}

// TestPoller_DifferentChatsRunConcurrently verifies that chats on different workers overlap.
func TestPoller_DifferentChatsRunConcurrently(t *testing.T) {
	source := newFakeSource(2)
	handler := &recordingHandler{delay: 50 * time.Millisecond}
	poller := NewPoller(source, handler, 4, time.Second, nil)

	source.ch <- chatUpdate(1, 1, "Москва")
	source.ch <- chatUpdate(2, 2, "Омск")
	source.close()

	if err := poller.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if peak := handler.peak(); peak != 2 {
		t.Errorf("max concurrent handlers = %d, want 2", peak)
	}
}

func TestQueueIndex(t *testing.T) {
	inline := tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		InlineMessageID: "inline-1",
		From:            &tgbotapi.User{ID: 7},
	}}
	tests := []struct {
		name    string
		update  tgbotapi.Update
		want    int
		wantKey bool
	}{
		{"private chat", chatUpdate(1, 42, "Москва"), 2, true},
		{"group chat", chatUpdate(1, -1001, "Москва"), 3, true},
		{"button on message", tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
			Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 5}},
		}}, 1, true},
		{"inline button", inline, 3, true},
		{"no chat", tgbotapi.Update{UpdateID: 9}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := queueIndex(tt.update, 4)
			if got != tt.want || ok != tt.wantKey {
				t.Errorf("queueIndex() = (%d, %v), want (%d, %v)", got, ok, tt.want, tt.wantKey)
			}
			if got < 0 || got >= 4 {
				t.Errorf("queueIndex() = %d, out of range", got)
			}
		})
	}
}
