package market

import (
	"errors"
	"sync"
	"testing"
	"time"

	"ctpgate/logger"
	"ctpgate/models"
)

type fakeSubscriber struct {
	mu         sync.Mutex
	subscribed [][]string
	unsub      [][]string
	err        error

	// onSubscribe, when set, runs after each Subscribe call.
	onSubscribe func(codes []string)
}

func (f *fakeSubscriber) Subscribe(codes []string) error {
	f.mu.Lock()
	f.subscribed = append(f.subscribed, codes)
	err := f.err
	cb := f.onSubscribe
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if cb != nil {
		cb(codes)
	}
	return nil
}

func (f *fakeSubscriber) Unsubscribe(codes []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsub = append(f.unsub, codes)
	return f.err
}

func (f *fakeSubscriber) subscribeCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribed)
}

func fastOptions() Options {
	return Options{
		QueryDeadline:    150 * time.Millisecond,
		PollInterval:     10 * time.Millisecond,
		ResubscribeAfter: 50 * time.Millisecond,
		ClosedTimes:      []string{"15:00:00"},
	}
}

func tick(code, tradeTime string, price float64) models.Tick {
	return models.Tick{Code: code, TradeTime: tradeTime, Price: &price}
}

func TestSubscribeDeduplicates(t *testing.T) {
	sub := &fakeSubscriber{}
	d := New(sub, fastOptions(), logger.GetLogger())

	if err := d.Subscribe([]string{"rb2510", "IF2509"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := d.Subscribe([]string{"rb2510"}); err != nil {
		t.Fatalf("repeat subscribe: %v", err)
	}
	if got := sub.subscribeCalls(); got != 1 {
		t.Fatalf("gateway saw %d subscribe calls, want 1", got)
	}
	if got := len(d.Subscribed()); got != 2 {
		t.Fatalf("subscribed set = %d codes, want 2", got)
	}
}

func TestUnsubscribeDropsTick(t *testing.T) {
	sub := &fakeSubscriber{}
	d := New(sub, fastOptions(), logger.GetLogger())
	if err := d.Subscribe([]string{"rb2510"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	d.HandleTick(tick("rb2510", "2026-08-28 10:00:00", 3500))
	if d.Tick("rb2510") == nil {
		t.Fatal("tick not stored")
	}
	if err := d.Unsubscribe([]string{"rb2510"}); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if d.Tick("rb2510") != nil {
		t.Fatal("tick survived unsubscribe")
	}
}

func TestQueryPointWaitsForPush(t *testing.T) {
	sub := &fakeSubscriber{}
	d := New(sub, fastOptions(), logger.GetLogger())
	sub.onSubscribe = func(codes []string) {
		go func() {
			time.Sleep(20 * time.Millisecond)
			for _, c := range codes {
				d.HandleTick(tick(c, "2026-08-28 10:00:01", 3501))
			}
		}()
	}

	got, err := d.QueryPoint("rb2510")
	if err != nil {
		t.Fatalf("query point: %v", err)
	}
	if got == nil || *got.Price != 3501 {
		t.Fatalf("tick = %+v", got)
	}
}

func TestQueryPointClearsStaleTick(t *testing.T) {
	sub := &fakeSubscriber{}
	d := New(sub, fastOptions(), logger.GetLogger())
	if err := d.Subscribe([]string{"rb2510"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	d.HandleTick(tick("rb2510", "2026-08-28 10:00:00", 3500))

	// The stale tick is discarded and the deadline passes in silence.
	got, err := d.QueryPoint("rb2510")
	if err != nil {
		t.Fatalf("query point: %v", err)
	}
	if got != nil {
		t.Fatalf("stale tick returned: %+v", got)
	}
}

func TestQueryPointTimeoutIsNotError(t *testing.T) {
	sub := &fakeSubscriber{}
	d := New(sub, fastOptions(), logger.GetLogger())
	start := time.Now()
	got, err := d.QueryPoint("rb2510")
	if err != nil || got != nil {
		t.Fatalf("want (nil, nil) on silence, got (%v, %v)", got, err)
	}
	if time.Since(start) < 150*time.Millisecond {
		t.Fatal("returned before the deadline")
	}
}

func TestQueryPointAcceptsCloseBoundaryTick(t *testing.T) {
	sub := &fakeSubscriber{}
	d := New(sub, fastOptions(), logger.GetLogger())
	if err := d.Subscribe([]string{"rb2510"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	d.HandleTick(tick("rb2510", "2026-08-28 15:00:00", 3499))

	start := time.Now()
	got, err := d.QueryPoint("rb2510")
	if err != nil {
		t.Fatalf("query point: %v", err)
	}
	if got == nil || *got.Price != 3499 {
		t.Fatalf("session-close tick not accepted: %+v", got)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Fatal("close-boundary answer should not wait")
	}
}

func TestQueryPointResubscribesOnce(t *testing.T) {
	sub := &fakeSubscriber{}
	d := New(sub, fastOptions(), logger.GetLogger())
	if _, err := d.QueryPoint("rb2510"); err != nil {
		t.Fatalf("query point: %v", err)
	}
	// Initial subscribe plus exactly one mid-wait retry.
	if got := sub.subscribeCalls(); got != 2 {
		t.Fatalf("subscribe calls = %d, want 2", got)
	}
}

func TestQueryPointSubscribeError(t *testing.T) {
	sub := &fakeSubscriber{err: errors.New("front gone")}
	d := New(sub, fastOptions(), logger.GetLogger())
	if _, err := d.QueryPoint("rb2510"); err == nil {
		t.Fatal("expected the subscribe failure")
	}
}

func TestReceiverDelivery(t *testing.T) {
	sub := &fakeSubscriber{}
	d := New(sub, fastOptions(), logger.GetLogger())
	defer d.Close()

	var mu sync.Mutex
	var seen []string
	done := make(chan struct{}, 2)
	d.SetReceiver(func(tk models.Tick) {
		mu.Lock()
		seen = append(seen, tk.Code)
		mu.Unlock()
		done <- struct{}{}
	})

	d.HandleTick(tick("rb2510", "2026-08-28 10:00:00", 3500))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("receiver never fired")
	}
	d.HandleTick(tick("IF2509", "2026-08-28 10:00:00", 3900))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("receiver missed the second tick")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != "rb2510" || seen[1] != "IF2509" {
		t.Fatalf("receiver saw %v", seen)
	}
}

func TestSlowReceiverSeesNewestTick(t *testing.T) {
	sub := &fakeSubscriber{}
	d := New(sub, fastOptions(), logger.GetLogger())
	defer d.Close()

	release := make(chan struct{})
	var mu sync.Mutex
	var prices []float64
	d.SetReceiver(func(tk models.Tick) {
		<-release
		mu.Lock()
		prices = append(prices, *tk.Price)
		mu.Unlock()
	})

	// The receiver is stuck; pushes must neither block nor pile up.
	for i := 1; i <= 50; i++ {
		d.HandleTick(tick("rb2510", "2026-08-28 10:00:00", float64(i)))
	}
	close(release)

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(prices)
		last := 0.0
		if n > 0 {
			last = prices[n-1]
		}
		mu.Unlock()
		if n > 0 && last == 50 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("newest tick never delivered: %v", prices)
		}
		time.Sleep(time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(prices) >= 50 {
		t.Fatalf("deliveries = %d, want conflation while the receiver was stuck", len(prices))
	}
}

func TestNewestTickWins(t *testing.T) {
	sub := &fakeSubscriber{}
	d := New(sub, fastOptions(), logger.GetLogger())
	d.HandleTick(tick("rb2510", "2026-08-28 10:00:00", 3500))
	d.HandleTick(tick("rb2510", "2026-08-28 10:00:01", 3502))
	got := d.Tick("rb2510")
	if got == nil || *got.Price != 3502 {
		t.Fatalf("tick = %+v, want the newer push", got)
	}
}
