// Package market keeps the latest tick per subscribed instrument and
// answers point queries by waiting on the push stream.
package market

import (
	"strings"
	"sync"
	"time"

	"ctpgate/logger"
	"ctpgate/models"
)

// Subscriber is the quote session surface the dispatcher drives.
type Subscriber interface {
	Subscribe(codes []string) error
	Unsubscribe(codes []string) error
}

// Options tune the point-query wait loop.
type Options struct {
	// QueryDeadline bounds a point query; PollInterval is the floor between
	// slot checks; ResubscribeAfter triggers the single mid-wait
	// re-subscribe.
	QueryDeadline    time.Duration
	PollInterval     time.Duration
	ResubscribeAfter time.Duration

	// ClosedTimes are session-close timestamps ("15:00:00"). A cached tick
	// stamped at a close boundary is the session's final tick and answers a
	// point query without waiting.
	ClosedTimes []string
}

func (o *Options) fill() {
	if o.QueryDeadline <= 0 {
		o.QueryDeadline = 5 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 100 * time.Millisecond
	}
	if o.ResubscribeAfter <= 0 {
		o.ResubscribeAfter = 2 * time.Second
	}
	if len(o.ClosedTimes) == 0 {
		o.ClosedTimes = []string{"11:30:00", "15:00:00", "02:30:00", "06:00:00"}
	}
}

// Dispatch routes market data pushes: newest tick per code, per-code wake
// channels for point queries, and an optional external receiver.
type Dispatch struct {
	log *logger.Entry
	sub Subscriber
	opt Options

	mu       sync.Mutex
	subs     map[string]bool
	ticks    map[string]*models.Tick
	waiters  map[string][]chan struct{}
	receiver func(models.Tick)
	pending  *models.Tick

	recvWake chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

// New builds a dispatcher over the given subscriber.
func New(sub Subscriber, opt Options, log *logger.Log) *Dispatch {
	opt.fill()
	d := &Dispatch{
		log:      log.WithComponent("market"),
		sub:      sub,
		opt:      opt,
		subs:     make(map[string]bool),
		ticks:    make(map[string]*models.Tick),
		waiters:  make(map[string][]chan struct{}),
		recvWake: make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
	go d.deliver()
	return d
}

// Close stops the receiver delivery goroutine.
func (d *Dispatch) Close() {
	d.stopOnce.Do(func() { close(d.stop) })
}

// SetReceiver installs an external tick consumer. Delivery runs on one
// dispatcher goroutine and is conflated: while the consumer is busy, new
// pushes overwrite the undelivered one, so it sees the newest tick and
// never a growing queue.
func (d *Dispatch) SetReceiver(fn func(models.Tick)) {
	d.mu.Lock()
	d.receiver = fn
	d.mu.Unlock()
}

// HandleTick stores the push as the code's newest tick and wakes any
// point-query waiters.
func (d *Dispatch) HandleTick(t models.Tick) {
	d.mu.Lock()
	cp := t
	d.ticks[t.Code] = &cp
	for _, w := range d.waiters[t.Code] {
		select {
		case w <- struct{}{}:
		default:
		}
	}
	pend := t
	d.pending = &pend
	d.mu.Unlock()

	select {
	case d.recvWake <- struct{}{}:
	default:
	}
}

func (d *Dispatch) deliver() {
	for {
		select {
		case <-d.stop:
			return
		case <-d.recvWake:
		}
		for {
			d.mu.Lock()
			t := d.pending
			d.pending = nil
			recv := d.receiver
			d.mu.Unlock()
			if t == nil {
				break
			}
			if recv != nil {
				recv(*t)
			}
		}
	}
}

// Subscribe starts pushes for codes not already subscribed.
func (d *Dispatch) Subscribe(codes []string) error {
	d.mu.Lock()
	fresh := make([]string, 0, len(codes))
	for _, c := range codes {
		if !d.subs[c] {
			fresh = append(fresh, c)
		}
	}
	d.mu.Unlock()
	if len(fresh) == 0 {
		return nil
	}
	if err := d.sub.Subscribe(fresh); err != nil {
		return err
	}
	d.mu.Lock()
	for _, c := range fresh {
		d.subs[c] = true
	}
	d.mu.Unlock()
	d.log.WithFields(logger.Fields{"codes": strings.Join(fresh, ",")}).Info("subscribed market data")
	return nil
}

// Unsubscribe stops pushes and drops the cached ticks for the codes.
func (d *Dispatch) Unsubscribe(codes []string) error {
	if len(codes) == 0 {
		return nil
	}
	if err := d.sub.Unsubscribe(codes); err != nil {
		return err
	}
	d.mu.Lock()
	for _, c := range codes {
		delete(d.subs, c)
		delete(d.ticks, c)
	}
	d.mu.Unlock()
	d.log.WithFields(logger.Fields{"codes": strings.Join(codes, ",")}).Info("unsubscribed market data")
	return nil
}

// Subscribed returns the currently subscribed codes.
func (d *Dispatch) Subscribed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.subs))
	for c := range d.subs {
		out = append(out, c)
	}
	return out
}

// Tick returns the cached newest tick for code, or nil.
func (d *Dispatch) Tick(code string) *models.Tick {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.ticks[code]; ok {
		cp := *t
		return &cp
	}
	return nil
}

// QueryPoint returns a fresh tick for code. A cached session-close tick is
// returned immediately; otherwise the slot is cleared, the code subscribed
// if needed, and the call waits for the next push up to the deadline with
// one re-subscribe along the way. A deadline pass returns (nil, nil): no
// data is an answer, not an error.
func (d *Dispatch) QueryPoint(code string) (*models.Tick, error) {
	d.mu.Lock()
	if t, ok := d.ticks[code]; ok && d.atCloseBoundary(t.TradeTime) {
		cp := *t
		d.mu.Unlock()
		return &cp, nil
	}
	delete(d.ticks, code)
	wake := make(chan struct{}, 1)
	d.waiters[code] = append(d.waiters[code], wake)
	d.mu.Unlock()
	defer d.dropWaiter(code, wake)

	if err := d.Subscribe([]string{code}); err != nil {
		return nil, err
	}

	start := time.Now()
	deadline := start.Add(d.opt.QueryDeadline)
	resubbed := false
	for {
		if t := d.Tick(code); t != nil {
			return t, nil
		}
		now := time.Now()
		if now.After(deadline) {
			d.log.WithFields(logger.Fields{"code": code}).Warn("point query saw no tick before deadline")
			return nil, nil
		}
		if !resubbed && now.Sub(start) >= d.opt.ResubscribeAfter {
			resubbed = true
			d.log.WithFields(logger.Fields{"code": code}).Info("re-subscribing silent instrument")
			if err := d.sub.Subscribe([]string{code}); err != nil {
				d.log.WithError(err).Warn("mid-query re-subscribe failed")
			}
		}
		select {
		case <-wake:
		case <-time.After(d.opt.PollInterval):
		}
	}
}

func (d *Dispatch) dropWaiter(code string, wake chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ws := d.waiters[code]
	for i, w := range ws {
		if w == wake {
			d.waiters[code] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	if len(d.waiters[code]) == 0 {
		delete(d.waiters, code)
	}
}

// atCloseBoundary reports whether the timestamp's time-of-day part is one
// of the session-close boundaries.
func (d *Dispatch) atCloseBoundary(tradeTime string) bool {
	for _, ct := range d.opt.ClosedTimes {
		if strings.HasSuffix(tradeTime, " "+ct) {
			return true
		}
	}
	return false
}
