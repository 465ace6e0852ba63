package session

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"ctpgate/internal/bridge"
	"ctpgate/internal/catalog"
	"ctpgate/internal/gateway"
	"ctpgate/logger"
	"ctpgate/models"
)

// Trade is the trading session. Construction blocks until the handshake
// chain (authenticate, login, settlement confirmation) reaches Ready or
// fails. All public calls are synchronous facades over the callback
// stream; query-class calls are serialized and spaced by the rate gate.
type Trade struct {
	log   *logger.Entry
	cfg   Config
	tr    gateway.Transport
	comp  *bridge.Completion
	ocomp *bridge.Completion
	gate  *rate.Limiter

	state int32

	frontID   int
	sessionID int
	reqID     int64

	// qmu serializes query-class calls on comp, omu serializes order
	// actions on ocomp. The slots are independent: a query reply never
	// releases an order wait and vice versa.
	qmu sync.Mutex
	omu sync.Mutex

	mu          sync.Mutex
	pendingID   int
	instruments map[string]models.Instrument
	account     models.Account
	gotAccount  bool
	orders      map[string]models.Order
	trades      map[string]models.Trade
	positions   []models.Position

	orderRef     int64
	awaitRef     int64
	orderHandler func(gateway.OrderField) bool
	tradedVolume int
	orderID      string
	cancelStatus string

	lastTime      string
	lastAccount   *models.Account
	lastOrders    map[string]models.Order
	lastTrades    map[string]models.Trade
	lastPositions []models.Position

	cat *catalog.Catalog

	handlers map[gateway.Kind]func(gateway.Event)
}

// DialTrade connects the trading front and runs the login handshake,
// blocking until the session is Ready or the handshake fails.
func DialTrade(cfg Config, tr gateway.Transport, log *logger.Log) (*Trade, error) {
	cfg.fill()
	t := &Trade{
		log:   log.WithComponent("trade_session"),
		cfg:   cfg,
		tr:    tr,
		comp:  bridge.New(),
		ocomp: bridge.New(),
		gate:  rate.NewLimiter(rate.Every(cfg.QueryInterval), 1),
	}
	t.handlers = map[gateway.Kind]func(gateway.Event){
		gateway.KindFrontConnected:       t.onFrontConnected,
		gateway.KindFrontDisconnected:    t.onFrontDisconnected,
		gateway.KindRspAuthenticate:      t.onRspAuthenticate,
		gateway.KindRspUserLogin:         t.onRspUserLogin,
		gateway.KindRspSettlementConfirm: t.onRspSettlementConfirm,
		gateway.KindRspQryInstrument:     t.onRspQryInstrument,
		gateway.KindRspQryAccount:        t.onRspQryAccount,
		gateway.KindRspQryOrder:          t.onRspQryOrder,
		gateway.KindRspQryTrade:          t.onRspQryTrade,
		gateway.KindRspQryPosition:       t.onRspQryPosition,
		gateway.KindRspOrderInsert:       t.onRspOrderError,
		gateway.KindRspOrderAction:       t.onRspOrderError,
		gateway.KindRtnOrder:             t.onRtnOrder,
		gateway.KindRtnTrade:             t.onRtnTrade,
		gateway.KindRspError:             t.onRspError,
	}

	t.setState(StateConnecting)
	if err := tr.Connect(cfg.Front, t.handle); err != nil {
		t.setState(StateFailed)
		return nil, err
	}
	if err := t.comp.Wait(cfg.CallTimeout, "login trade session"); err != nil {
		t.setState(StateFailed)
		return nil, fmt.Errorf("trade session handshake: %w", err)
	}
	t.log.WithFields(logger.Fields{
		"front_id":   t.frontID,
		"session_id": t.sessionID,
	}).Info("trade session ready")
	return t, nil
}

// State returns the current connection state.
func (t *Trade) State() State {
	return State(atomic.LoadInt32(&t.state))
}

func (t *Trade) setState(s State) {
	atomic.StoreInt32(&t.state, int32(s))
}

// Identity returns the front/session id pair assigned on login. Undefined
// before the session is Ready.
func (t *Trade) Identity() (frontID, sessionID int) {
	return t.frontID, t.sessionID
}

// AttachCatalog hands the daily instrument catalog to the session; order
// validation and snapshot enrichment use it.
func (t *Trade) AttachCatalog(cat *catalog.Catalog) {
	t.mu.Lock()
	t.cat = cat
	t.mu.Unlock()
}

func (t *Trade) catalog() *catalog.Catalog {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cat
}

// Close releases the transport. The session cannot be reused; login again
// builds a fresh one.
func (t *Trade) Close() error {
	t.setState(StateDisconnected)
	err := t.tr.Close()
	t.log.Info("logged out of trade front")
	return err
}

func (t *Trade) nextReqID() int {
	return int(atomic.AddInt64(&t.reqID, 1))
}

func (t *Trade) handle(ev gateway.Event) {
	if h, ok := t.handlers[ev.Kind]; ok {
		h(ev)
	}
}

// checkRspInfo completes the pending wait with the business error carried
// by the event, if any. Returns true when the event is clean.
func (t *Trade) checkRspInfo(ev gateway.Event) bool {
	if !ev.Failed() {
		return true
	}
	t.comp.Complete(&models.RemoteBusinessError{Msg: ev.Error.Message})
	return false
}

// checkSendInCallback surfaces a synchronous send rejection raised from
// inside a callback as completion of the outstanding wait.
func (t *Trade) checkSendInCallback(rc int) {
	if rc != gateway.SendOK {
		t.comp.Complete(&models.RemoteRejectedError{Code: rc})
	}
}

func (t *Trade) onFrontConnected(gateway.Event) {
	t.log.Info("connected to trade front")
	t.setState(StateAuthenticating)
	t.checkSendInCallback(t.tr.Send(gateway.Request{
		Method:    gateway.MethodAuthenticate,
		RequestID: t.nextReqID(),
		Body: gateway.AuthenticateReq{
			BrokerID: t.cfg.BrokerID,
			AppID:    t.cfg.AppID,
			AuthCode: t.cfg.AuthCode,
			UserID:   t.cfg.UserID,
		},
	}))
}

func (t *Trade) onFrontDisconnected(gateway.Event) {
	if t.State() == StateReady {
		t.log.Warn("trade front disconnected")
		t.setState(StateDisconnected)
		return
	}
	t.setState(StateFailed)
	t.comp.Complete(&models.RemoteBusinessError{Msg: "trade front disconnected"})
}

func (t *Trade) onRspAuthenticate(ev gateway.Event) {
	if !t.checkRspInfo(ev) {
		t.setState(StateFailed)
		return
	}
	t.log.Info("trade terminal authenticated")
	t.setState(StateLoggingIn)
	t.checkSendInCallback(t.tr.Send(gateway.Request{
		Method:    gateway.MethodLogin,
		RequestID: t.nextReqID(),
		Body: gateway.LoginReq{
			BrokerID: t.cfg.BrokerID,
			UserID:   t.cfg.UserID,
			Password: t.cfg.Password,
		},
	}))
}

func (t *Trade) onRspUserLogin(ev gateway.Event) {
	if !t.checkRspInfo(ev) {
		t.setState(StateFailed)
		return
	}
	var rsp gateway.LoginRsp
	if err := ev.Decode(&rsp); err != nil {
		t.setState(StateFailed)
		t.comp.Complete(fmt.Errorf("decode login response: %w", err))
		return
	}
	t.frontID = rsp.FrontID
	t.sessionID = rsp.SessionID
	t.log.Info("trade session logged in")
	t.setState(StateConfirmingSettlement)
	t.checkSendInCallback(t.tr.Send(gateway.Request{
		Method:    gateway.MethodSettlementConfirm,
		RequestID: t.nextReqID(),
		Body: gateway.SettlementConfirmReq{
			BrokerID:   t.cfg.BrokerID,
			InvestorID: t.cfg.UserID,
		},
	}))
}

func (t *Trade) onRspSettlementConfirm(ev gateway.Event) {
	if !t.checkRspInfo(ev) {
		t.setState(StateFailed)
		return
	}
	t.log.Info("settlement statement confirmed")
	t.setState(StateReady)
	t.comp.Complete(nil)
}

func (t *Trade) onRspError(ev gateway.Event) {
	if ev.Error != nil {
		t.log.WithFields(logger.Fields{
			"request_id": ev.RequestID,
			"code":       ev.Error.Code,
			"message":    ev.Error.Message,
		}).Warn("gateway error response")
	}
}

func (t *Trade) onRtnTrade(ev gateway.Event) {
	var tf gateway.TradeField
	if err := ev.Decode(&tf); err != nil {
		return
	}
	t.log.WithFields(logger.Fields{
		"trade_id": tf.TradeID,
		"code":     tf.InstrumentID,
		"volume":   tf.Volume,
	}).Info("trade return")
}

// stale reports whether the event belongs to a request other than the one
// currently awaited; late replies of timed-out calls land here.
func (t *Trade) stale(ev gateway.Event) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return ev.RequestID != t.pendingID
}

// runQuery issues one query-class request and blocks until its final
// callback or the deadline. Serialized with every other query and spaced
// by the rate gate; a timeout leaves the session state untouched.
func (t *Trade) runQuery(method string, body interface{}, op string, reset func()) error {
	if err := notReady(t.State()); err != nil {
		return err
	}
	t.qmu.Lock()
	defer t.qmu.Unlock()

	if err := t.gate.Wait(context.Background()); err != nil {
		return err
	}

	id := t.nextReqID()
	t.mu.Lock()
	t.pendingID = id
	reset()
	t.mu.Unlock()
	t.comp.Reset()

	if rc := t.tr.Send(gateway.Request{Method: method, RequestID: id, Body: body}); rc != gateway.SendOK {
		return &models.RemoteRejectedError{Code: rc}
	}
	err := t.comp.Wait(t.cfg.CallTimeout, op)
	if err != nil {
		// The call is over; a reply arriving later must be dropped as stale.
		t.mu.Lock()
		t.pendingID = 0
		t.mu.Unlock()
	}
	return err
}

// QueryInstruments loads the full instrument universe. The reply is an
// unbounded paginated stream; the wait is re-armed as long as the item
// count keeps growing across a timeout window, and fails only once a full
// window passes without progress.
func (t *Trade) QueryInstruments() (map[string]models.Instrument, error) {
	if err := notReady(t.State()); err != nil {
		return nil, err
	}
	t.qmu.Lock()
	defer t.qmu.Unlock()

	if err := t.gate.Wait(context.Background()); err != nil {
		return nil, err
	}

	id := t.nextReqID()
	t.mu.Lock()
	t.pendingID = id
	t.instruments = make(map[string]models.Instrument)
	t.mu.Unlock()
	t.comp.Reset()

	if rc := t.tr.Send(gateway.Request{Method: gateway.MethodQryInstrument, RequestID: id, Body: gateway.QryInstrumentReq{}}); rc != gateway.SendOK {
		return nil, &models.RemoteRejectedError{Code: rc}
	}

	lastCount := 0
	for {
		err := t.comp.Wait(t.cfg.CallTimeout, "query instruments")
		if err == nil {
			break
		}
		if !models.IsTimeout(err) {
			t.mu.Lock()
			t.pendingID = 0
			t.mu.Unlock()
			return nil, err
		}
		t.mu.Lock()
		count := len(t.instruments)
		t.mu.Unlock()
		if count == lastCount {
			t.mu.Lock()
			t.pendingID = 0
			t.mu.Unlock()
			return nil, err
		}
		t.log.WithFields(logger.Fields{"count": count}).Info("instrument stream still progressing")
		lastCount = count
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]models.Instrument, len(t.instruments))
	for k, v := range t.instruments {
		out[k] = v
	}
	t.log.WithFields(logger.Fields{"count": len(out)}).Info("instrument universe loaded")
	return out, nil
}

func (t *Trade) onRspQryInstrument(ev gateway.Event) {
	if t.stale(ev) {
		return
	}
	if !t.checkRspInfo(ev) {
		return
	}
	var f gateway.InstrumentField
	if err := ev.Decode(&f); err == nil && f.InstrumentID != "" {
		inst := models.Instrument{
			Code:             f.InstrumentID,
			Name:             f.InstrumentName,
			Exchange:         f.ExchangeID,
			Multiple:         f.VolumeMultiple,
			PriceTick:        f.PriceTick,
			LongMarginRatio:  models.FilterPrice(f.LongMarginRatio),
			ShortMarginRatio: models.FilterPrice(f.ShortMarginRatio),
			StrikePrice:      models.FilterPrice(f.StrikePrice),
			IsTrading:        f.IsTrading != 0,
		}
		switch f.OptionsType {
		case gateway.OptionsTypeCall:
			inst.OptionType = models.OptionCall
		case gateway.OptionsTypePut:
			inst.OptionType = models.OptionPut
		}
		if f.ExpireDate != "" {
			if d, err := time.Parse("20060102", f.ExpireDate); err == nil {
				inst.ExpireDate = d.Format("2006-01-02")
			}
		}
		t.mu.Lock()
		t.instruments[f.InstrumentID] = inst
		t.mu.Unlock()
	}
	if ev.IsLast {
		t.comp.Complete(nil)
	}
}

// GetAccount queries the trading account snapshot. On failure the last
// good snapshot is returned alongside the error.
func (t *Trade) GetAccount() (*models.Account, string, error) {
	err := t.runQuery(gateway.MethodQryAccount, gateway.QryAccountReq{
		BrokerID:   t.cfg.BrokerID,
		InvestorID: t.cfg.UserID,
		CurrencyID: "CNY",
		BizType:    "1",
	}, "query trading account", func() {
		t.account = models.Account{}
		t.gotAccount = false
	})

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.log.WithError(err).Error("query trading account failed")
		return t.lastAccount, t.lastTime, err
	}
	if t.gotAccount {
		acct := t.account
		t.lastAccount = &acct
		t.lastTime = t.cfg.stamp(time.Now())
	}
	return t.lastAccount, t.lastTime, nil
}

func (t *Trade) onRspQryAccount(ev gateway.Event) {
	if t.stale(ev) {
		return
	}
	if !t.checkRspInfo(ev) {
		return
	}
	var f gateway.AccountField
	if err := ev.Decode(&f); err == nil {
		t.mu.Lock()
		t.account = models.Account{
			Balance:   round2(f.Balance),
			Margin:    round2(f.CurrMargin),
			Available: round2(f.Available),
			Profit:    round2(f.PositionProfit),
		}
		t.gotAccount = true
		t.mu.Unlock()
	}
	if ev.IsLast {
		t.comp.Complete(nil)
	}
}

// GetOrders queries today's orders, keyed "{sysID}@{code}".
func (t *Trade) GetOrders() (map[string]models.Order, string, error) {
	err := t.runQuery(gateway.MethodQryOrder, gateway.QryOrderReq{
		BrokerID:   t.cfg.BrokerID,
		InvestorID: t.cfg.UserID,
	}, "query orders", func() {
		t.orders = make(map[string]models.Order)
	})

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.log.WithError(err).Error("query orders failed")
		return t.lastOrders, t.lastTime, err
	}
	for key, o := range t.orders {
		if t.cat != nil {
			if inst, ok := t.cat.Get(o.Code); ok {
				o.DecimalPlaces = inst.PriceDecimals()
				t.orders[key] = o
			}
		}
	}
	t.lastOrders = t.orders
	t.lastTime = t.cfg.stamp(time.Now())
	return t.lastOrders, t.lastTime, nil
}

func (t *Trade) onRspQryOrder(ev gateway.Event) {
	if t.stale(ev) {
		return
	}
	if !t.checkRspInfo(ev) {
		return
	}
	var f gateway.OrderField
	if err := ev.Decode(&f); err == nil && f.OrderSysID != "" {
		key, order := convertOrder(f)
		t.mu.Lock()
		t.orders[key] = order
		t.mu.Unlock()
	}
	if ev.IsLast {
		t.comp.Complete(nil)
	}
}

// GetTrades queries today's executions, keyed "{tradeID}@{code}".
func (t *Trade) GetTrades() (map[string]models.Trade, string, error) {
	err := t.runQuery(gateway.MethodQryTrade, gateway.QryTradeReq{
		BrokerID:   t.cfg.BrokerID,
		InvestorID: t.cfg.UserID,
	}, "query trades", func() {
		t.trades = make(map[string]models.Trade)
	})

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.log.WithError(err).Error("query trades failed")
		return t.lastTrades, t.lastTime, err
	}
	for key, tr := range t.trades {
		if t.cat != nil {
			if inst, ok := t.cat.Get(tr.Code); ok {
				tr.DecimalPlaces = inst.PriceDecimals()
				t.trades[key] = tr
			}
		}
	}
	t.lastTrades = t.trades
	t.lastTime = t.cfg.stamp(time.Now())
	return t.lastTrades, t.lastTime, nil
}

func (t *Trade) onRspQryTrade(ev gateway.Event) {
	if t.stale(ev) {
		return
	}
	if !t.checkRspInfo(ev) {
		return
	}
	var f gateway.TradeField
	if err := ev.Decode(&f); err == nil && f.TradeID != "" {
		direction := models.DirectionLong
		if f.Direction == gateway.DirectionSell {
			direction = models.DirectionShort
		}
		key := fmt.Sprintf("%s@%s", f.TradeID, f.InstrumentID)
		t.mu.Lock()
		t.trades[key] = models.Trade{
			Code:       f.InstrumentID,
			Direction:  direction,
			OrderSysID: f.OrderSysID,
			Price:      f.Price,
			Volume:     f.Volume,
			TradeDate:  f.TradeDate,
			TradeTime:  f.TradeTime,
		}
		t.mu.Unlock()
	}
	if ev.IsLast {
		t.comp.Complete(nil)
	}
}

// GetPositions queries the full position snapshot; the previous snapshot
// is wholly replaced, never patched.
func (t *Trade) GetPositions() ([]models.Position, string, error) {
	err := t.runQuery(gateway.MethodQryPosition, gateway.QryPositionReq{
		BrokerID:   t.cfg.BrokerID,
		InvestorID: t.cfg.UserID,
	}, "query positions", func() {
		t.positions = nil
	})

	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.log.WithError(err).Error("query positions failed")
		return t.lastPositions, t.lastTime, err
	}
	for i := range t.positions {
		if t.cat == nil {
			break
		}
		inst, ok := t.cat.Get(t.positions[i].Code)
		if !ok {
			continue
		}
		t.positions[i].DecimalPlaces = inst.PriceDecimals()
		if t.positions[i].Volume != 0 && inst.Multiple != 0 {
			t.positions[i].OpenCostPrice = round2(t.positions[i].Cost /
				float64(t.positions[i].Volume) / float64(inst.Multiple))
		}
	}
	t.lastPositions = t.positions
	t.lastTime = t.cfg.stamp(time.Now())
	return t.lastPositions, t.lastTime, nil
}

func (t *Trade) onRspQryPosition(ev gateway.Event) {
	if t.stale(ev) {
		return
	}
	if !t.checkRspInfo(ev) {
		return
	}
	var f gateway.PositionField
	if err := ev.Decode(&f); err == nil {
		if p, ok := convertPosition(f); ok {
			t.mu.Lock()
			t.positions = append(t.positions, p)
			t.mu.Unlock()
		}
	}
	if ev.IsLast {
		t.comp.Complete(nil)
	}
}

// convertOrder maps a wire order to the caller's view: close orders flip
// the direction and carry negative volume.
func convertOrder(f gateway.OrderField) (string, models.Order) {
	key := fmt.Sprintf("%s@%s", f.OrderSysID, f.InstrumentID)
	sell := f.Direction == gateway.DirectionSell
	volume := f.VolumeTotalOriginal
	if f.CombOffsetFlag == gateway.OffsetClose {
		sell = !sell
		volume = -volume
	}
	direction := models.DirectionLong
	if sell {
		direction = models.DirectionShort
	}
	active := f.OrderStatus != gateway.OrderStatusAllTraded &&
		f.OrderStatus != gateway.OrderStatusCanceled
	return key, models.Order{
		Code:         f.InstrumentID,
		Direction:    direction,
		Price:        f.LimitPrice,
		Volume:       volume,
		InsertTime:   f.InsertTime,
		CancelTime:   f.CancelTime,
		ActiveTime:   f.ActiveTime,
		UpdateTime:   f.UpdateTime,
		OffsetFlag:   f.CombOffsetFlag,
		VolumeTraded: f.VolumeTraded,
		IsActive:     active,
	}
}

// convertPosition maps a wire position row; net-direction and zero-volume
// rows are skipped. Profit adds back the spread between open cost and
// position cost on top of the gateway's position profit.
func convertPosition(f gateway.PositionField) (models.Position, bool) {
	var direction string
	switch f.PosiDirection {
	case gateway.PosiDirectionLong:
		direction = models.DirectionLong
	case gateway.PosiDirectionShort:
		direction = models.DirectionShort
	default:
		return models.Position{}, false
	}
	if f.Position == 0 {
		return models.Position{}, false
	}
	openCost := round2(f.OpenCost)
	positionCost := round2(f.PositionCost)
	positionProfit := round2(f.PositionProfit)
	return models.Position{
		Code:            f.InstrumentID,
		Direction:       direction,
		Volume:          f.Position,
		Margin:          round2(f.UseMargin),
		Cost:            openCost,
		PositionDate:    f.PositionDate,
		YdPosition:      f.YdPosition,
		TodayPosition:   f.TodayPosition,
		LongFrozen:      f.LongFrozen,
		ShortFrozen:     f.ShortFrozen,
		OpenVolume:      f.OpenVolume,
		CloseVolume:     f.CloseVolume,
		SettlementPrice: f.SettlementPrice,
		PositionProfit:  positionProfit,
		Profit:          positionProfit + openCost - positionCost,
	}, true
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
