package session

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"ctpgate/internal/gateway"
	"ctpgate/logger"
	"ctpgate/models"
)

// Order submission and cancellation. One order action is in flight at a
// time: acknowledgements arrive on the private order return stream, not on
// the request's own reply, and are correlated against the
// (front, session, order-ref) triple of the awaited call. Events that do
// not match the triple belong to another call or a stale order and are
// dropped.

// OrderMarket submits a market order (any-price, immediate-or-cancel) and
// returns the traded volume once the order reaches a terminal status.
func (t *Trade) OrderMarket(code, direction string, volume int) (int, error) {
	if err := t.submitOrder(code, direction, volume, 0, 0); err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tradedVolume, nil
}

// OrderLimit submits a good-for-day limit order and returns the exchange
// assigned order id "{sysID}@{code}" once the submission is accepted.
// Fills are observed separately through GetOrders/GetTrades.
func (t *Trade) OrderLimit(code, direction string, volume int, price float64) (string, error) {
	if price <= 0 {
		return "", models.Validationf("limit price <%v> must be positive", price)
	}
	if err := t.submitOrder(code, direction, volume, price, 0); err != nil {
		return "", err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.orderID, nil
}

// OrderFAK submits a fill-and-kill order: limit price, immediate-or-cancel
// with a minimum fill. Returns the traded volume.
func (t *Trade) OrderFAK(code, direction string, volume int, price float64, minVolume int) (int, error) {
	if price <= 0 {
		return 0, models.Validationf("limit price <%v> must be positive", price)
	}
	if minVolume == 0 {
		minVolume = 1
	}
	if err := t.submitOrder(code, direction, volume, price, minVolume); err != nil {
		return 0, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tradedVolume, nil
}

// OrderFOK is a FAK whose minimum fill equals the full requested volume.
func (t *Trade) OrderFOK(code, direction string, volume int, price float64) (int, error) {
	return t.OrderFAK(code, direction, volume, price, volume)
}

// submitOrder validates, encodes and sends one order, then blocks until
// the correlated terminal event. Positive volume opens, negative closes
// with the direction flipped and the sign normalized.
func (t *Trade) submitOrder(code, direction string, volume int, price float64, minVolume int) error {
	if err := notReady(t.State()); err != nil {
		return err
	}
	cat := t.catalog()
	if cat == nil || !cat.Has(code) {
		return models.Validationf("instrument <%s> does not exist", code)
	}
	inst, _ := cat.Get(code)

	var sell bool
	switch direction {
	case models.DirectionLong:
		sell = false
	case models.DirectionShort:
		sell = true
	default:
		return models.Validationf("invalid direction <%s>", direction)
	}
	if volume == 0 {
		return models.Validationf("volume <%d> must be a non-zero integer", volume)
	}

	offset := gateway.OffsetOpen
	if volume < 0 {
		offset = gateway.OffsetClose
		volume = -volume
		sell = !sell
	}
	dirFlag := gateway.DirectionBuy
	if sell {
		dirFlag = gateway.DirectionSell
	}

	var priceType, timeCond, volumeCond string
	switch {
	case price == 0:
		// Market order. CFFEX rejects the any-price type and wants the
		// five-level price instead.
		priceType = gateway.PriceTypeAny
		if inst.Exchange == "CFFEX" {
			priceType = gateway.PriceTypeFiveLevel
		}
		timeCond, volumeCond = gateway.TimeConditionIOC, gateway.VolumeConditionAny
	case minVolume == 0:
		priceType = gateway.PriceTypeLimit
		timeCond, volumeCond = gateway.TimeConditionGFD, gateway.VolumeConditionAny
	default:
		if minVolume < 0 {
			minVolume = -minVolume
		}
		if minVolume > volume {
			return models.Validationf("minimum volume <%d> exceeds volume <%d>", minVolume, volume)
		}
		priceType = gateway.PriceTypeLimit
		timeCond, volumeCond = gateway.TimeConditionIOC, gateway.VolumeConditionMin
	}

	t.omu.Lock()
	defer t.omu.Unlock()

	ref := atomic.AddInt64(&t.orderRef, 1)
	t.mu.Lock()
	t.awaitRef = ref
	t.orderHandler = t.handleNewOrder
	t.tradedVolume = 0
	t.orderID = ""
	t.mu.Unlock()
	t.ocomp.Reset()

	req := gateway.Request{
		Method:    gateway.MethodOrderInsert,
		RequestID: t.nextReqID(),
		Body: gateway.InputOrder{
			BrokerID:            t.cfg.BrokerID,
			InvestorID:          t.cfg.UserID,
			ExchangeID:          inst.Exchange,
			InstrumentID:        code,
			Direction:           dirFlag,
			CombOffsetFlag:      offset,
			TimeCondition:       timeCond,
			VolumeCondition:     volumeCond,
			OrderPriceType:      priceType,
			LimitPrice:          price,
			VolumeTotalOriginal: volume,
			MinVolume:           minVolume,
			CombHedgeFlag:       gateway.HedgeSpeculation,
			ContingentCondition: gateway.ContingentImmediately,
			ForceCloseReason:    gateway.ForceCloseNotForced,
			OrderRef:            fmt.Sprintf("%12d", ref),
		},
	}
	if rc := t.tr.Send(req); rc != gateway.SendOK {
		t.clearOrderHandler()
		return &models.RemoteRejectedError{Code: rc}
	}
	t.log.LogMetric("trade_session", "orders_submitted", int64(1), "counter",
		logger.Fields{"code": code})
	if err := t.ocomp.Wait(t.cfg.CallTimeout, "insert order"); err != nil {
		t.clearOrderHandler()
		return err
	}
	return nil
}

func (t *Trade) clearOrderHandler() {
	t.mu.Lock()
	t.orderHandler = nil
	t.mu.Unlock()
}

// onRtnOrder feeds the private order return stream into the currently
// installed order handler; a true return retires the handler.
func (t *Trade) onRtnOrder(ev gateway.Event) {
	var f gateway.OrderField
	if err := ev.Decode(&f); err != nil {
		return
	}
	t.mu.Lock()
	h := t.orderHandler
	t.mu.Unlock()
	if h == nil {
		return
	}
	if h(f) {
		t.clearOrderHandler()
	}
}

// handleNewOrder correlates an order event against the awaited submission
// and decides terminality. Immediate-or-cancel orders finish on
// all-traded/canceled with their traded volume; good-for-day orders finish
// on submit acceptance with the exchange order id.
func (t *Trade) handleNewOrder(f gateway.OrderField) bool {
	ref, err := strconv.Atoi(strings.TrimSpace(f.OrderRef))
	if err != nil {
		return false
	}
	t.mu.Lock()
	awaited := f.FrontID == t.frontID && f.SessionID == t.sessionID && int64(ref) == t.awaitRef
	t.mu.Unlock()
	if !awaited {
		return false
	}
	if f.OrderStatus == gateway.OrderStatusUnknown {
		return false
	}
	if f.OrderSubmitStatus == gateway.SubmitStatusInsertRejected {
		t.ocomp.CompleteMsg(f.StatusMsg)
		return true
	}
	if f.TimeCondition == gateway.TimeConditionIOC {
		if f.OrderStatus == gateway.OrderStatusAllTraded || f.OrderStatus == gateway.OrderStatusCanceled {
			t.mu.Lock()
			t.tradedVolume = f.VolumeTraded
			t.mu.Unlock()
			t.log.WithFields(logger.Fields{"volume_traded": f.VolumeTraded}).Info("immediate order done")
			t.ocomp.Complete(nil)
			return true
		}
		return false
	}
	if f.OrderSubmitStatus == gateway.SubmitStatusInsertSubmitted ||
		f.OrderSubmitStatus == gateway.SubmitStatusAccepted {
		if f.OrderSysID == "" {
			return false
		}
		oid := fmt.Sprintf("%s@%s", f.OrderSysID, f.InstrumentID)
		t.mu.Lock()
		t.orderID = oid
		t.mu.Unlock()
		t.log.WithFields(logger.Fields{"order_id": oid}).Info("limit order accepted")
		t.ocomp.Complete(nil)
		return true
	}
	return false
}

// DeleteOrder cancels the order identified by "{sysID}@{code}" and blocks
// until a terminal status for that id is observed. A terminal status of
// already-canceled or already-filled is benign; only an explicit cancel
// reject fails the call.
func (t *Trade) DeleteOrder(orderID string) (models.CancelResult, error) {
	if err := notReady(t.State()); err != nil {
		return models.CancelResult{}, err
	}
	parts := strings.Split(orderID, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return models.CancelResult{}, models.Validationf("malformed order id <%s>", orderID)
	}
	sysID, code := parts[0], parts[1]
	cat := t.catalog()
	if cat == nil || !cat.Has(code) {
		return models.CancelResult{}, models.Validationf("order id <%s> names unknown instrument <%s>", orderID, code)
	}
	inst, _ := cat.Get(code)

	t.omu.Lock()
	defer t.omu.Unlock()

	t.mu.Lock()
	t.orderID = orderID
	t.cancelStatus = ""
	t.orderHandler = t.handleDeleteOrder
	t.mu.Unlock()
	t.ocomp.Reset()

	req := gateway.Request{
		Method:    gateway.MethodOrderAction,
		RequestID: t.nextReqID(),
		Body: gateway.InputOrderAction{
			BrokerID:     t.cfg.BrokerID,
			InvestorID:   t.cfg.UserID,
			UserID:       t.cfg.UserID,
			ActionFlag:   gateway.ActionFlagDelete,
			ExchangeID:   inst.Exchange,
			InstrumentID: code,
			OrderSysID:   sysID,
		},
	}
	if rc := t.tr.Send(req); rc != gateway.SendOK {
		t.clearOrderHandler()
		return models.CancelResult{}, &models.RemoteRejectedError{Code: rc}
	}
	t.log.LogMetric("trade_session", "orders_canceled", int64(1), "counter",
		logger.Fields{"code": code})
	if err := t.ocomp.Wait(t.cfg.CallTimeout, "cancel order"); err != nil {
		t.clearOrderHandler()
		return models.CancelResult{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return models.CancelResult{OrderID: orderID, Status: t.cancelStatus}, nil
}

// handleDeleteOrder correlates cancel outcomes by order id.
func (t *Trade) handleDeleteOrder(f gateway.OrderField) bool {
	oid := fmt.Sprintf("%s@%s", f.OrderSysID, f.InstrumentID)
	t.mu.Lock()
	awaited := oid == t.orderID
	t.mu.Unlock()
	if !awaited {
		return false
	}
	if f.OrderSubmitStatus == gateway.SubmitStatusCancelRejected {
		t.mu.Lock()
		t.cancelStatus = f.StatusMsg
		t.mu.Unlock()
		t.ocomp.CompleteMsg(f.StatusMsg)
		return true
	}
	if f.OrderStatus == gateway.OrderStatusAllTraded || f.OrderStatus == gateway.OrderStatusCanceled {
		t.mu.Lock()
		t.cancelStatus = f.StatusMsg
		t.mu.Unlock()
		t.log.WithFields(logger.Fields{"order_id": oid}).Info("order canceled")
		t.ocomp.Complete(nil)
		return true
	}
	return false
}

// onRspOrderError handles the direct error replies of order insert/action
// requests. These only arrive on failure; a clean event would violate the
// protocol and is logged.
func (t *Trade) onRspOrderError(ev gateway.Event) {
	if !ev.Failed() {
		t.log.WithFields(logger.Fields{"request_id": ev.RequestID}).Warn("unexpected clean order error reply")
		return
	}
	t.ocomp.Complete(&models.RemoteBusinessError{Msg: ev.Error.Message})
}
