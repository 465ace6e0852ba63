package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"ctpgate/internal/bridge"
	"ctpgate/internal/gateway"
	"ctpgate/logger"
	"ctpgate/models"
)

// TickHandler receives every decoded market-data push.
type TickHandler func(models.Tick)

// Quote is the market-data session. Its handshake is shorter than the
// trade session's: the quote front takes an anonymous login and has no
// authentication or settlement step.
type Quote struct {
	log  *logger.Entry
	cfg  Config
	tr   gateway.Transport
	comp *bridge.Completion
	gate *rate.Limiter

	state int32
	reqID int64

	// qmu serializes subscribe/unsubscribe calls over the completion slot.
	qmu sync.Mutex

	mu        sync.Mutex
	pendingID int
	onTick    TickHandler

	handlers map[gateway.Kind]func(gateway.Event)
}

// DialQuote connects the quote front and blocks until the session is Ready
// or the handshake fails.
func DialQuote(cfg Config, tr gateway.Transport, log *logger.Log) (*Quote, error) {
	cfg.fill()
	q := &Quote{
		log:  log.WithComponent("quote_session"),
		cfg:  cfg,
		tr:   tr,
		comp: bridge.New(),
		gate: rate.NewLimiter(rate.Every(cfg.QueryInterval), 1),
	}
	q.handlers = map[gateway.Kind]func(gateway.Event){
		gateway.KindFrontConnected:     q.onFrontConnected,
		gateway.KindFrontDisconnected:  q.onFrontDisconnected,
		gateway.KindRspUserLogin:       q.onRspUserLogin,
		gateway.KindRspSubMarketData:   q.onRspSubscribe,
		gateway.KindRspUnsubMarketData: q.onRspSubscribe,
		gateway.KindRtnDepthMarketData: q.onDepthMarketData,
		gateway.KindRspError:           q.onRspError,
	}

	q.setState(StateConnecting)
	if err := tr.Connect(cfg.Front, q.handle); err != nil {
		q.setState(StateFailed)
		return nil, err
	}
	if err := q.comp.Wait(cfg.CallTimeout, "login quote session"); err != nil {
		q.setState(StateFailed)
		return nil, fmt.Errorf("quote session handshake: %w", err)
	}
	q.log.Info("quote session ready")
	return q, nil
}

// State returns the current connection state.
func (q *Quote) State() State {
	return State(atomic.LoadInt32(&q.state))
}

func (q *Quote) setState(s State) {
	atomic.StoreInt32(&q.state, int32(s))
}

// SetTickHandler installs the receiver of decoded market-data pushes.
func (q *Quote) SetTickHandler(h TickHandler) {
	q.mu.Lock()
	q.onTick = h
	q.mu.Unlock()
}

// Close releases the transport.
func (q *Quote) Close() error {
	q.setState(StateDisconnected)
	err := q.tr.Close()
	q.log.Info("logged out of quote front")
	return err
}

func (q *Quote) nextReqID() int {
	return int(atomic.AddInt64(&q.reqID, 1))
}

func (q *Quote) handle(ev gateway.Event) {
	if h, ok := q.handlers[ev.Kind]; ok {
		h(ev)
	}
}

func (q *Quote) onFrontConnected(gateway.Event) {
	q.log.Info("connected to quote front")
	q.setState(StateLoggingIn)
	if rc := q.tr.Send(gateway.Request{
		Method:    gateway.MethodLogin,
		RequestID: q.nextReqID(),
		Body:      gateway.LoginReq{},
	}); rc != gateway.SendOK {
		q.comp.Complete(&models.RemoteRejectedError{Code: rc})
	}
}

func (q *Quote) onFrontDisconnected(gateway.Event) {
	if q.State() == StateReady {
		q.log.Warn("quote front disconnected")
		q.setState(StateDisconnected)
		return
	}
	q.setState(StateFailed)
	q.comp.Complete(&models.RemoteBusinessError{Msg: "quote front disconnected"})
}

func (q *Quote) onRspUserLogin(ev gateway.Event) {
	if ev.Failed() {
		q.setState(StateFailed)
		q.comp.Complete(&models.RemoteBusinessError{Msg: ev.Error.Message})
		return
	}
	q.log.Info("quote session logged in")
	q.setState(StateReady)
	q.comp.Complete(nil)
}

func (q *Quote) onRspError(ev gateway.Event) {
	if ev.Error != nil {
		q.log.WithFields(logger.Fields{
			"request_id": ev.RequestID,
			"code":       ev.Error.Code,
			"message":    ev.Error.Message,
		}).Warn("gateway error response")
	}
}

// Subscribe requests market data pushes for the given codes and blocks
// until the subscription is acknowledged.
func (q *Quote) Subscribe(codes []string) error {
	return q.call(gateway.MethodSubscribe, codes, "subscribe market data")
}

// Unsubscribe stops market data pushes for the given codes.
func (q *Quote) Unsubscribe(codes []string) error {
	return q.call(gateway.MethodUnsubscribe, codes, "unsubscribe market data")
}

func (q *Quote) call(method string, codes []string, op string) error {
	if err := notReady(q.State()); err != nil {
		return err
	}
	if len(codes) == 0 {
		return nil
	}
	q.qmu.Lock()
	defer q.qmu.Unlock()

	if err := q.gate.Wait(context.Background()); err != nil {
		return err
	}

	id := q.nextReqID()
	q.mu.Lock()
	q.pendingID = id
	q.mu.Unlock()
	q.comp.Reset()

	if rc := q.tr.Send(gateway.Request{
		Method:    method,
		RequestID: id,
		Body:      gateway.SubscribeReq{Instruments: codes},
	}); rc != gateway.SendOK {
		return &models.RemoteRejectedError{Code: rc}
	}
	return q.comp.Wait(q.cfg.CallTimeout, op)
}

func (q *Quote) onRspSubscribe(ev gateway.Event) {
	q.mu.Lock()
	pending := ev.RequestID == q.pendingID
	q.mu.Unlock()
	if !pending {
		return
	}
	if ev.Failed() {
		q.comp.Complete(&models.RemoteBusinessError{Msg: ev.Error.Message})
		return
	}
	if ev.IsLast {
		q.comp.Complete(nil)
	}
}

func (q *Quote) onDepthMarketData(ev gateway.Event) {
	var f gateway.TickField
	if err := ev.Decode(&f); err != nil || f.InstrumentID == "" {
		return
	}
	q.mu.Lock()
	h := q.onTick
	q.mu.Unlock()
	if h == nil {
		return
	}
	h(convertTick(f))
}

// convertTick maps a depth push to the caller's view. Absent-value price
// sentinels become nil pointers.
func convertTick(f gateway.TickField) models.Tick {
	return models.Tick{
		TradeTime:       TradeTimeOf(f.TradingDay, f.UpdateTime),
		UpdateSec:       f.UpdateMillisec,
		Code:            f.InstrumentID,
		Price:           models.FilterPrice(f.LastPrice),
		Open:            models.FilterPrice(f.OpenPrice),
		Close:           models.FilterPrice(f.ClosePrice),
		Highest:         models.FilterPrice(f.HighestPrice),
		Lowest:          models.FilterPrice(f.LowestPrice),
		UpperLimit:      models.FilterPrice(f.UpperLimitPrice),
		LowerLimit:      models.FilterPrice(f.LowerLimitPrice),
		Settlement:      models.FilterPrice(f.SettlementPrice),
		Volume:          f.Volume,
		Turnover:        f.Turnover,
		OpenInterest:    int64(f.OpenInterest),
		PreClose:        models.FilterPrice(f.PreClosePrice),
		PreSettlement:   models.FilterPrice(f.PreSettlementPrice),
		PreOpenInterest: int64(f.PreOpenInterest),
		Ask1:            models.Level{Price: models.FilterPrice(f.AskPrice1), Volume: f.AskVolume1},
		Bid1:            models.Level{Price: models.FilterPrice(f.BidPrice1), Volume: f.BidVolume1},
		Ask2:            models.Level{Price: models.FilterPrice(f.AskPrice2), Volume: f.AskVolume2},
		Bid2:            models.Level{Price: models.FilterPrice(f.BidPrice2), Volume: f.BidVolume2},
		Ask3:            models.Level{Price: models.FilterPrice(f.AskPrice3), Volume: f.AskVolume3},
		Bid3:            models.Level{Price: models.FilterPrice(f.BidPrice3), Volume: f.BidVolume3},
		Ask4:            models.Level{Price: models.FilterPrice(f.AskPrice4), Volume: f.AskVolume4},
		Bid4:            models.Level{Price: models.FilterPrice(f.BidPrice4), Volume: f.BidVolume4},
		Ask5:            models.Level{Price: models.FilterPrice(f.AskPrice5), Volume: f.AskVolume5},
		Bid5:            models.Level{Price: models.FilterPrice(f.BidPrice5), Volume: f.BidVolume5},
	}
}

// TradeTimeOf formats the tick timestamp from its trading day and update
// time parts, "YYYYMMDD" and "HH:MM:SS" on the wire.
func TradeTimeOf(tradingDay, updateTime string) string {
	if len(tradingDay) == 8 {
		return fmt.Sprintf("%s-%s-%s %s", tradingDay[:4], tradingDay[4:6], tradingDay[6:], updateTime)
	}
	return fmt.Sprintf("%s %s", tradingDay, updateTime)
}
