package session

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"ctpgate/internal/catalog"
	"ctpgate/internal/gateway"
	"ctpgate/logger"
	"ctpgate/models"
)

const (
	testFrontID   = 1
	testSessionID = 42
)

// fakeTransport scripts gateway replies per request. Responses are
// delivered synchronously from Send, which exercises the same reentrancy
// the real transport's reader goroutine produces.
type fakeTransport struct {
	mu      sync.Mutex
	handler gateway.Handler
	sent    []gateway.Request
	respond func(gateway.Request) []gateway.Event
	sendRC  int
}

func (f *fakeTransport) Connect(endpoint string, h gateway.Handler) error {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
	h(gateway.Event{Kind: gateway.KindFrontConnected})
	return nil
}

func (f *fakeTransport) Send(req gateway.Request) int {
	f.mu.Lock()
	f.sent = append(f.sent, req)
	respond := f.respond
	rc := f.sendRC
	h := f.handler
	f.mu.Unlock()
	if rc != gateway.SendOK {
		return rc
	}
	if respond != nil {
		for _, ev := range respond(req) {
			h(ev)
		}
	}
	return gateway.SendOK
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) sentRequests() []gateway.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]gateway.Request, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeTransport) emit(ev gateway.Event) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(ev)
}

func raw(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return b
}

// handshake answers the login chain; extra handles everything else.
func handshake(t *testing.T, extra func(gateway.Request) []gateway.Event) func(gateway.Request) []gateway.Event {
	t.Helper()
	return func(req gateway.Request) []gateway.Event {
		switch req.Method {
		case gateway.MethodAuthenticate:
			return []gateway.Event{{Kind: gateway.KindRspAuthenticate, RequestID: req.RequestID, IsLast: true}}
		case gateway.MethodLogin:
			return []gateway.Event{{
				Kind: gateway.KindRspUserLogin, RequestID: req.RequestID, IsLast: true,
				Data: raw(t, gateway.LoginRsp{FrontID: testFrontID, SessionID: testSessionID}),
			}}
		case gateway.MethodSettlementConfirm:
			return []gateway.Event{{Kind: gateway.KindRspSettlementConfirm, RequestID: req.RequestID, IsLast: true}}
		default:
			if extra != nil {
				return extra(req)
			}
			return nil
		}
	}
}

func testConfig() Config {
	return Config{
		Front:         "ws://test",
		BrokerID:      "9999",
		AppID:         "app",
		AuthCode:      "auth",
		UserID:        "007",
		Password:      "secret",
		CallTimeout:   200 * time.Millisecond,
		QueryInterval: time.Millisecond,
	}
}

func dialTestTrade(t *testing.T, cfg Config, tr *fakeTransport) *Trade {
	t.Helper()
	td, err := DialTrade(cfg, tr, logger.GetLogger())
	if err != nil {
		t.Fatalf("dial trade: %v", err)
	}
	return td
}

func testCatalog(t *testing.T, instruments map[string]models.Instrument) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Load(t.TempDir(), time.Now(), func() (map[string]models.Instrument, error) {
		return instruments, nil
	}, logger.GetLogger())
	if err != nil {
		t.Fatalf("build catalog: %v", err)
	}
	return cat
}

func TestTradeHandshake(t *testing.T) {
	tr := &fakeTransport{}
	tr.respond = handshake(t, nil)
	td := dialTestTrade(t, testConfig(), tr)

	if got := td.State(); got != StateReady {
		t.Fatalf("state = %v, want ready", got)
	}
	frontID, sessionID := td.Identity()
	if frontID != testFrontID || sessionID != testSessionID {
		t.Fatalf("identity = (%d, %d), want (%d, %d)", frontID, sessionID, testFrontID, testSessionID)
	}

	var methods []string
	for _, req := range tr.sentRequests() {
		methods = append(methods, req.Method)
	}
	want := []string{gateway.MethodAuthenticate, gateway.MethodLogin, gateway.MethodSettlementConfirm}
	if len(methods) != len(want) {
		t.Fatalf("handshake sent %v, want %v", methods, want)
	}
	for i := range want {
		if methods[i] != want[i] {
			t.Fatalf("handshake sent %v, want %v", methods, want)
		}
	}
}

func TestTradeHandshakeRejected(t *testing.T) {
	tr := &fakeTransport{}
	tr.respond = func(req gateway.Request) []gateway.Event {
		if req.Method == gateway.MethodAuthenticate {
			return []gateway.Event{{
				Kind: gateway.KindRspAuthenticate, RequestID: req.RequestID, IsLast: true,
				Error: &gateway.RspError{Code: 3, Message: "invalid auth code"},
			}}
		}
		return nil
	}
	_, err := DialTrade(testConfig(), tr, logger.GetLogger())
	var be *models.RemoteBusinessError
	if !errors.As(err, &be) || be.Msg != "invalid auth code" {
		t.Fatalf("expected the gateway's rejection, got %v", err)
	}
}

func TestOperationsBeforeLogin(t *testing.T) {
	td := &Trade{cfg: testConfig(), log: logger.GetLogger().WithComponent("test")}
	if _, _, err := td.GetAccount(); !errors.Is(err, models.ErrNotConnected) {
		t.Fatalf("expected not-connected, got %v", err)
	}
	if _, err := td.OrderMarket("IF2509", models.DirectionLong, 1); !errors.Is(err, models.ErrNotConnected) {
		t.Fatalf("expected not-connected, got %v", err)
	}
}

func TestGetAccount(t *testing.T) {
	tr := &fakeTransport{}
	tr.respond = handshake(t, func(req gateway.Request) []gateway.Event {
		if req.Method != gateway.MethodQryAccount {
			return nil
		}
		return []gateway.Event{{
			Kind: gateway.KindRspQryAccount, RequestID: req.RequestID, IsLast: true,
			Data: raw(t, gateway.AccountField{
				Balance: 100000.456, CurrMargin: 2000.004, Available: 98000.449, PositionProfit: -12.345,
			}),
		}}
	})
	td := dialTestTrade(t, testConfig(), tr)

	account, at, err := td.GetAccount()
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if account == nil || at == "" {
		t.Fatal("missing snapshot or timestamp")
	}
	if account.Balance != 100000.46 || account.Margin != 2000.0 || account.Available != 98000.45 || account.Profit != -12.35 {
		t.Fatalf("unexpected rounding: %+v", account)
	}
}

func TestQueryTimeoutLeavesSessionReady(t *testing.T) {
	tr := &fakeTransport{}
	tr.respond = handshake(t, nil) // queries go unanswered
	cfg := testConfig()
	cfg.CallTimeout = 30 * time.Millisecond
	td := dialTestTrade(t, cfg, tr)

	_, _, err := td.GetAccount()
	if !models.IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if got := td.State(); got != StateReady {
		t.Fatalf("timeout flipped state to %v", got)
	}

	// The session keeps working after the timeout.
	tr.mu.Lock()
	tr.respond = handshake(t, func(req gateway.Request) []gateway.Event {
		if req.Method != gateway.MethodQryAccount {
			return nil
		}
		return []gateway.Event{{
			Kind: gateway.KindRspQryAccount, RequestID: req.RequestID, IsLast: true,
			Data: raw(t, gateway.AccountField{Balance: 5}),
		}}
	})
	tr.mu.Unlock()
	if _, _, err := td.GetAccount(); err != nil {
		t.Fatalf("query after timeout: %v", err)
	}
}

func TestStaleReplyIgnored(t *testing.T) {
	tr := &fakeTransport{}
	tr.respond = handshake(t, nil)
	cfg := testConfig()
	cfg.CallTimeout = 30 * time.Millisecond
	td := dialTestTrade(t, cfg, tr)

	if _, _, err := td.GetAccount(); !models.IsTimeout(err) {
		t.Fatal("expected first query to time out")
	}
	reqs := tr.sentRequests()
	staleID := reqs[len(reqs)-1].RequestID

	// The late reply of the timed-out query must not complete anything.
	tr.emit(gateway.Event{
		Kind: gateway.KindRspQryAccount, RequestID: staleID, IsLast: true,
		Data: raw(t, gateway.AccountField{Balance: 999999}),
	})
	td.mu.Lock()
	got := td.gotAccount
	td.mu.Unlock()
	if got {
		t.Fatal("stale reply was applied")
	}
}

func TestQuerySpacing(t *testing.T) {
	tr := &fakeTransport{}
	tr.respond = handshake(t, func(req gateway.Request) []gateway.Event {
		if req.Method != gateway.MethodQryAccount {
			return nil
		}
		return []gateway.Event{{
			Kind: gateway.KindRspQryAccount, RequestID: req.RequestID, IsLast: true,
			Data: raw(t, gateway.AccountField{}),
		}}
	})
	cfg := testConfig()
	cfg.QueryInterval = 60 * time.Millisecond
	td := dialTestTrade(t, cfg, tr)

	if _, _, err := td.GetAccount(); err != nil {
		t.Fatalf("first query: %v", err)
	}
	start := time.Now()
	if _, _, err := td.GetAccount(); err != nil {
		t.Fatalf("second query: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("second query ran after %v, want spacing near %v", elapsed, cfg.QueryInterval)
	}
}

func TestQueryInstruments(t *testing.T) {
	tr := &fakeTransport{}
	tr.respond = handshake(t, func(req gateway.Request) []gateway.Event {
		if req.Method != gateway.MethodQryInstrument {
			return nil
		}
		return []gateway.Event{
			{
				Kind: gateway.KindRspQryInstrument, RequestID: req.RequestID,
				Data: raw(t, gateway.InstrumentField{
					InstrumentID: "IF2509", ExchangeID: "CFFEX", VolumeMultiple: 300,
					PriceTick: 0.2, ExpireDate: "20250919", IsTrading: 1,
					LongMarginRatio: 0.12, ShortMarginRatio: 0.12,
				}),
			},
			{
				Kind: gateway.KindRspQryInstrument, RequestID: req.RequestID, IsLast: true,
				Data: raw(t, gateway.InstrumentField{
					InstrumentID: "m2509-C-2800", ExchangeID: "DCE", VolumeMultiple: 10,
					PriceTick: 0.5, OptionsType: gateway.OptionsTypeCall, StrikePrice: 2800, IsTrading: 1,
				}),
			},
		}
	})
	td := dialTestTrade(t, testConfig(), tr)

	instruments, err := td.QueryInstruments()
	if err != nil {
		t.Fatalf("query instruments: %v", err)
	}
	if len(instruments) != 2 {
		t.Fatalf("got %d instruments, want 2", len(instruments))
	}
	inst := instruments["IF2509"]
	if inst.ExpireDate != "2025-09-19" {
		t.Fatalf("expire date = %q", inst.ExpireDate)
	}
	if inst.PriceDecimals() != 1 {
		t.Fatalf("price decimals = %d, want 1", inst.PriceDecimals())
	}
	opt := instruments["m2509-C-2800"]
	if opt.OptionType != models.OptionCall || opt.StrikePrice == nil || *opt.StrikePrice != 2800 {
		t.Fatalf("option fields lost: %+v", opt)
	}
}

func TestGetPositionsProfit(t *testing.T) {
	tr := &fakeTransport{}
	tr.respond = handshake(t, func(req gateway.Request) []gateway.Event {
		if req.Method != gateway.MethodQryPosition {
			return nil
		}
		return []gateway.Event{
			{
				Kind: gateway.KindRspQryPosition, RequestID: req.RequestID,
				Data: raw(t, gateway.PositionField{
					InstrumentID: "rb2510", PosiDirection: gateway.PosiDirectionLong,
					Position: 2, UseMargin: 8000, OpenCost: 500, PositionCost: 480, PositionProfit: 100,
				}),
			},
			{
				// Net-direction rows are dropped.
				Kind: gateway.KindRspQryPosition, RequestID: req.RequestID, IsLast: true,
				Data: raw(t, gateway.PositionField{
					InstrumentID: "rb2510", PosiDirection: "1", Position: 2,
				}),
			},
		}
	})
	td := dialTestTrade(t, testConfig(), tr)
	td.AttachCatalog(testCatalog(t, map[string]models.Instrument{
		"rb2510": {Code: "rb2510", Exchange: "SHFE", Multiple: 10, PriceTick: 1},
	}))

	positions, _, err := td.GetPositions()
	if err != nil {
		t.Fatalf("get positions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("got %d positions, want 1", len(positions))
	}
	p := positions[0]
	if p.Profit != 120 {
		t.Fatalf("profit = %v, want 120", p.Profit)
	}
	if p.OpenCostPrice != 25 {
		t.Fatalf("open cost price = %v, want 25", p.OpenCostPrice)
	}
	if p.Direction != models.DirectionLong {
		t.Fatalf("direction = %q", p.Direction)
	}
}

func TestSnapshotKeptOnError(t *testing.T) {
	tr := &fakeTransport{}
	tr.respond = handshake(t, func(req gateway.Request) []gateway.Event {
		if req.Method != gateway.MethodQryAccount {
			return nil
		}
		return []gateway.Event{{
			Kind: gateway.KindRspQryAccount, RequestID: req.RequestID, IsLast: true,
			Data: raw(t, gateway.AccountField{Balance: 777}),
		}}
	})
	cfg := testConfig()
	cfg.CallTimeout = 30 * time.Millisecond
	td := dialTestTrade(t, cfg, tr)

	if _, _, err := td.GetAccount(); err != nil {
		t.Fatalf("first query: %v", err)
	}

	tr.mu.Lock()
	tr.respond = handshake(t, nil) // go silent
	tr.mu.Unlock()

	account, at, err := td.GetAccount()
	if !models.IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if account == nil || account.Balance != 777 || at == "" {
		t.Fatal("previous snapshot not returned alongside the error")
	}
}

func TestConvertOrderClose(t *testing.T) {
	key, order := convertOrder(gateway.OrderField{
		InstrumentID: "rb2510", OrderSysID: "555",
		Direction: gateway.DirectionBuy, CombOffsetFlag: gateway.OffsetClose,
		VolumeTotalOriginal: 5, OrderStatus: gateway.OrderStatusCanceled,
	})
	if key != "555@rb2510" {
		t.Fatalf("key = %q", key)
	}
	if order.Direction != models.DirectionShort {
		t.Fatalf("close buy should read as short, got %q", order.Direction)
	}
	if order.Volume != -5 {
		t.Fatalf("volume = %d, want -5", order.Volume)
	}
	if order.IsActive {
		t.Fatal("canceled order reported active")
	}
}

func TestConvertOrderOpenActive(t *testing.T) {
	_, order := convertOrder(gateway.OrderField{
		InstrumentID: "rb2510", OrderSysID: "556",
		Direction: gateway.DirectionSell, CombOffsetFlag: gateway.OffsetOpen,
		VolumeTotalOriginal: 3, OrderStatus: "3",
	})
	if order.Direction != models.DirectionShort || order.Volume != 3 {
		t.Fatalf("open sell mangled: %+v", order)
	}
	if !order.IsActive {
		t.Fatal("working order reported inactive")
	}
}

func TestQuoteHandshake(t *testing.T) {
	tr := &fakeTransport{}
	tr.respond = func(req gateway.Request) []gateway.Event {
		if req.Method == gateway.MethodLogin {
			return []gateway.Event{{Kind: gateway.KindRspUserLogin, RequestID: req.RequestID, IsLast: true}}
		}
		return nil
	}
	q, err := DialQuote(testConfig(), tr, logger.GetLogger())
	if err != nil {
		t.Fatalf("dial quote: %v", err)
	}
	if q.State() != StateReady {
		t.Fatalf("state = %v, want ready", q.State())
	}
	// No authenticate and no settlement confirm on the quote front.
	for _, req := range tr.sentRequests() {
		if req.Method == gateway.MethodAuthenticate || req.Method == gateway.MethodSettlementConfirm {
			t.Fatalf("quote handshake sent %s", req.Method)
		}
	}
}

func TestQuoteSubscribeAndTicks(t *testing.T) {
	tr := &fakeTransport{}
	tr.respond = func(req gateway.Request) []gateway.Event {
		switch req.Method {
		case gateway.MethodLogin:
			return []gateway.Event{{Kind: gateway.KindRspUserLogin, RequestID: req.RequestID, IsLast: true}}
		case gateway.MethodSubscribe:
			return []gateway.Event{{Kind: gateway.KindRspSubMarketData, RequestID: req.RequestID, IsLast: true}}
		}
		return nil
	}
	q, err := DialQuote(testConfig(), tr, logger.GetLogger())
	if err != nil {
		t.Fatalf("dial quote: %v", err)
	}

	var mu sync.Mutex
	var got []models.Tick
	q.SetTickHandler(func(tick models.Tick) {
		mu.Lock()
		got = append(got, tick)
		mu.Unlock()
	})

	if err := q.Subscribe([]string{"rb2510"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	tr.emit(gateway.Event{
		Kind: gateway.KindRtnDepthMarketData,
		Data: raw(t, gateway.TickField{
			TradingDay: "20260829", UpdateTime: "10:15:00", InstrumentID: "rb2510",
			LastPrice: 3500, AskPrice1: 3501, AskVolume1: 10, BidPrice1: 3499, BidVolume1: 8,
			UpperLimitPrice: 1.7976931348623157e308, // absent sentinel
		}),
	})

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("got %d ticks, want 1", len(got))
	}
	tick := got[0]
	if tick.TradeTime != "2026-08-29 10:15:00" {
		t.Fatalf("trade time = %q", tick.TradeTime)
	}
	if tick.Price == nil || *tick.Price != 3500 {
		t.Fatalf("last price lost: %+v", tick.Price)
	}
	if tick.UpperLimit != nil {
		t.Fatal("absent sentinel survived as a price")
	}
	if tick.Ask1.Price == nil || *tick.Ask1.Price != 3501 || tick.Ask1.Volume != 10 {
		t.Fatalf("ask1 mangled: %+v", tick.Ask1)
	}
}

func TestQuoteSubscribeRejected(t *testing.T) {
	tr := &fakeTransport{}
	tr.respond = func(req gateway.Request) []gateway.Event {
		switch req.Method {
		case gateway.MethodLogin:
			return []gateway.Event{{Kind: gateway.KindRspUserLogin, RequestID: req.RequestID, IsLast: true}}
		case gateway.MethodSubscribe:
			return []gateway.Event{{
				Kind: gateway.KindRspSubMarketData, RequestID: req.RequestID, IsLast: true,
				Error: &gateway.RspError{Code: 16, Message: "unknown instrument"},
			}}
		}
		return nil
	}
	q, err := DialQuote(testConfig(), tr, logger.GetLogger())
	if err != nil {
		t.Fatalf("dial quote: %v", err)
	}
	err = q.Subscribe([]string{"nope"})
	var be *models.RemoteBusinessError
	if !errors.As(err, &be) || be.Msg != "unknown instrument" {
		t.Fatalf("expected subscription rejection, got %v", err)
	}
}

func TestSendRejectionCode(t *testing.T) {
	tr := &fakeTransport{}
	tr.respond = handshake(t, nil)
	td := dialTestTrade(t, testConfig(), tr)

	tr.mu.Lock()
	tr.sendRC = gateway.SendQueueFull
	tr.mu.Unlock()

	_, _, err := td.GetAccount()
	var re *models.RemoteRejectedError
	if !errors.As(err, &re) || re.Code != gateway.SendQueueFull {
		t.Fatalf("expected queue-full rejection, got %v", err)
	}
}

func TestRound2(t *testing.T) {
	// Halves round away from zero; 1.125 and -1.125 are exact in binary,
	// so they pin the tie-breaking without representation noise.
	cases := []struct {
		in, want float64
	}{
		{1.004, 1.0},
		{1.006, 1.01},
		{1.125, 1.13},
		{-1.125, -1.13},
		{-12.345, -12.35},
		{0, 0},
	}
	for _, c := range cases {
		if got := round2(c.in); got != c.want {
			t.Errorf("round2(%v) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestStamp(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	cfg := Config{Location: loc}
	at := time.Date(2026, 8, 29, 1, 30, 0, 0, time.UTC)
	if got := cfg.stamp(at); got != "2026-08-29 09:30:00" {
		t.Fatalf("stamp = %q", got)
	}
}
