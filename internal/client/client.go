// Package client is the synchronous facade over the whole bridge: one
// trade session, one quote session, the instrument catalog and the market
// dispatcher, behind plain request/response methods.
package client

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"ctpgate/config"
	"ctpgate/internal/catalog"
	"ctpgate/internal/gateway"
	"ctpgate/internal/market"
	"ctpgate/internal/session"
	"ctpgate/logger"
	"ctpgate/models"
)

// TransportFactory builds one fresh transport per session dial.
type TransportFactory func() gateway.Transport

// Client owns the session pair. Login builds everything, Logout tears it
// down; the methods in between proxy to the right session.
type Client struct {
	cfg     *config.Config
	log     *logger.Log
	factory TransportFactory
	loc     *time.Location

	mu       sync.Mutex
	td       *session.Trade
	md       *session.Quote
	cat      *catalog.Catalog
	dispatch *market.Dispatch
}

// New builds a client; no connection is made until Login.
func New(cfg *config.Config, factory TransportFactory, log *logger.Log) *Client {
	loc, err := time.LoadLocation(cfg.Schedule.Location)
	if err != nil {
		log.WithError(err).Warn("unknown schedule location, using local time")
		loc = time.Local
	}
	return &Client{cfg: cfg, log: log, factory: factory, loc: loc}
}

// Login connects both fronts, loads the day's instrument catalog and wires
// the market dispatcher. Idempotent while the trade session stays Ready.
func (c *Client) Login() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.td != nil && c.td.State() == session.StateReady {
		return nil
	}
	c.closeLocked()

	start := time.Now()
	scfg := session.Config{
		Front:         c.cfg.Gateway.TradeFront,
		BrokerID:      c.cfg.Account.BrokerID,
		AppID:         c.cfg.Account.AppID,
		AuthCode:      c.cfg.Account.AuthCode,
		UserID:        c.cfg.Account.UserID,
		Password:      c.cfg.Account.Password,
		CallTimeout:   c.cfg.Bridge.CallTimeout,
		QueryInterval: c.cfg.Bridge.QueryInterval,
		Location:      c.loc,
	}

	td, err := session.DialTrade(scfg, c.factory(), c.log)
	if err != nil {
		return fmt.Errorf("trade login: %w", err)
	}

	qcfg := scfg
	qcfg.Front = c.cfg.Gateway.QuoteFront
	md, err := session.DialQuote(qcfg, c.factory(), c.log)
	if err != nil {
		td.Close()
		return fmt.Errorf("quote login: %w", err)
	}

	cat, err := catalog.Load(c.cfg.Catalog.DataDir, time.Now().In(c.loc), td.QueryInstruments, c.log)
	if err != nil {
		md.Close()
		td.Close()
		return err
	}
	td.AttachCatalog(cat)

	dispatch := market.New(md, market.Options{
		QueryDeadline:    c.cfg.Market.QueryDeadline,
		PollInterval:     c.cfg.Market.PollInterval,
		ResubscribeAfter: c.cfg.Market.ResubscribeAfter,
		ClosedTimes:      c.cfg.Market.ClosedTimes,
	}, c.log)
	md.SetTickHandler(dispatch.HandleTick)

	c.td, c.md, c.cat, c.dispatch = td, md, cat, dispatch
	entry := c.log.WithComponent("client")
	logger.LogDuration(entry, "client", "login", time.Since(start))
	entry.WithFields(logger.Fields{"instruments": cat.Len()}).Info("logged in")
	return nil
}

// Logout tears down both sessions. Safe to call when not logged in.
func (c *Client) Logout() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}

func (c *Client) closeLocked() {
	if c.dispatch != nil {
		c.dispatch.Close()
		c.dispatch = nil
	}
	if c.md != nil {
		c.md.Close()
		c.md = nil
	}
	if c.td != nil {
		c.td.Close()
		c.td = nil
	}
	c.cat = nil
}

// Ready reports whether the trade session is connected and usable.
func (c *Client) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.td != nil && c.td.State() == session.StateReady
}

func (c *Client) sessions() (*session.Trade, *market.Dispatch, *catalog.Catalog, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.td == nil || c.td.State() != session.StateReady {
		return nil, nil, nil, models.ErrNotConnected
	}
	return c.td, c.dispatch, c.cat, nil
}

func (c *Client) validateCodes(cat *catalog.Catalog, codes []string) error {
	if len(codes) == 0 {
		return models.Validationf("no instrument codes given")
	}
	for _, code := range codes {
		if !cat.Has(code) {
			return models.Validationf("instrument <%s> does not exist", code)
		}
	}
	return nil
}

// Subscribe starts market data pushes for the codes.
func (c *Client) Subscribe(codes []string) error {
	_, dispatch, cat, err := c.sessions()
	if err != nil {
		return err
	}
	if err := c.validateCodes(cat, codes); err != nil {
		return err
	}
	return dispatch.Subscribe(codes)
}

// Unsubscribe stops market data pushes for the codes.
func (c *Client) Unsubscribe(codes []string) error {
	_, dispatch, cat, err := c.sessions()
	if err != nil {
		return err
	}
	if err := c.validateCodes(cat, codes); err != nil {
		return err
	}
	return dispatch.Unsubscribe(codes)
}

// GetAccount returns the trading account snapshot with its query time.
func (c *Client) GetAccount() (*models.Account, string, error) {
	td, _, _, err := c.sessions()
	if err != nil {
		return nil, "", err
	}
	return td.GetAccount()
}

// GetPositions returns the position snapshot. Held instruments are
// subscribed as a side effect so later point queries answer warm.
func (c *Client) GetPositions() ([]models.Position, string, error) {
	td, dispatch, _, err := c.sessions()
	if err != nil {
		return nil, "", err
	}
	positions, at, err := td.GetPositions()
	if err == nil && len(positions) > 0 {
		codes := make([]string, 0, len(positions))
		seen := make(map[string]bool, len(positions))
		for _, p := range positions {
			if !seen[p.Code] {
				seen[p.Code] = true
				codes = append(codes, p.Code)
			}
		}
		if serr := dispatch.Subscribe(codes); serr != nil {
			c.log.WithComponent("client").WithError(serr).Warn("position auto-subscribe failed")
		}
	}
	return positions, at, err
}

// GetOrders returns today's orders keyed "{sysID}@{code}".
func (c *Client) GetOrders() (map[string]models.Order, string, error) {
	td, _, _, err := c.sessions()
	if err != nil {
		return nil, "", err
	}
	return td.GetOrders()
}

// GetTrades returns today's executions keyed "{tradeID}@{code}".
func (c *Client) GetTrades() (map[string]models.Trade, string, error) {
	td, _, _, err := c.sessions()
	if err != nil {
		return nil, "", err
	}
	return td.GetTrades()
}

// OrderMarket submits a market order and reports the traded volume.
func (c *Client) OrderMarket(code, direction string, volume int) (models.OrderResult, error) {
	td, _, _, err := c.sessions()
	if err != nil {
		return models.OrderResult{}, err
	}
	traded, err := td.OrderMarket(code, direction, volume)
	return models.OrderResult{TradedVolume: traded}, err
}

// OrderLimit submits a good-for-day limit order and reports its order id.
func (c *Client) OrderLimit(code, direction string, volume int, price float64) (models.OrderResult, error) {
	td, _, _, err := c.sessions()
	if err != nil {
		return models.OrderResult{}, err
	}
	orderID, err := td.OrderLimit(code, direction, volume, price)
	return models.OrderResult{OrderID: orderID}, err
}

// OrderFAK submits a fill-and-kill order and reports the traded volume.
func (c *Client) OrderFAK(code, direction string, volume int, price float64, minVolume int) (models.OrderResult, error) {
	td, _, _, err := c.sessions()
	if err != nil {
		return models.OrderResult{}, err
	}
	traded, err := td.OrderFAK(code, direction, volume, price, minVolume)
	return models.OrderResult{TradedVolume: traded}, err
}

// OrderFOK submits a fill-or-kill order and reports the traded volume.
func (c *Client) OrderFOK(code, direction string, volume int, price float64) (models.OrderResult, error) {
	td, _, _, err := c.sessions()
	if err != nil {
		return models.OrderResult{}, err
	}
	traded, err := td.OrderFOK(code, direction, volume, price)
	return models.OrderResult{TradedVolume: traded}, err
}

// DeleteOrder cancels the order identified by "{sysID}@{code}".
func (c *Client) DeleteOrder(orderID string) (models.CancelResult, error) {
	td, _, _, err := c.sessions()
	if err != nil {
		return models.CancelResult{}, err
	}
	return td.DeleteOrder(orderID)
}

// QueryPoint returns the freshest tick for one code; (nil, nil) when no
// tick arrives before the deadline.
func (c *Client) QueryPoint(code string) (*models.Tick, error) {
	_, dispatch, cat, err := c.sessions()
	if err != nil {
		return nil, err
	}
	if !cat.Has(code) {
		return nil, models.Validationf("instrument <%s> does not exist", code)
	}
	return dispatch.QueryPoint(code)
}

// CustomPrice returns one named book level ("bid1".."ask5") of a fresh
// tick, shifted by ticks price ticks. Positive ticks move bids up and
// asks down, toward the spread. A nil result means no data arrived.
func (c *Client) CustomPrice(code, level string, ticks int) (*float64, error) {
	_, dispatch, cat, err := c.sessions()
	if err != nil {
		return nil, err
	}
	inst, ok := cat.Get(code)
	if !ok {
		return nil, models.Validationf("instrument <%s> does not exist", code)
	}
	if strings.HasPrefix(level, "ask") {
		ticks = -ticks
	}

	tick, err := dispatch.QueryPoint(code)
	if err != nil {
		return nil, err
	}
	if tick == nil {
		// One more chance for an instrument that was slow to start pushing.
		if tick, err = dispatch.QueryPoint(code); err != nil {
			return nil, err
		}
	}
	if tick == nil {
		return nil, nil
	}
	l, ok := tick.LevelByName(level)
	if !ok {
		return nil, models.Validationf("unknown price level <%s>", level)
	}
	if l.Price == nil {
		return nil, nil
	}
	price := *l.Price + float64(ticks)*inst.PriceTick
	return &price, nil
}

// Instrument looks one code up in the catalog.
func (c *Client) Instrument(code string) (models.Instrument, error) {
	_, _, cat, err := c.sessions()
	if err != nil {
		return models.Instrument{}, err
	}
	inst, ok := cat.Get(code)
	if !ok {
		return models.Instrument{}, models.Validationf("instrument <%s> does not exist", code)
	}
	return inst, nil
}

// OptionsByUnderlying lists the option codes on an underlying contract.
func (c *Client) OptionsByUnderlying(underlying string) ([]string, error) {
	_, _, cat, err := c.sessions()
	if err != nil {
		return nil, err
	}
	return cat.OptionsByUnderlying(underlying), nil
}

// FuturesByExchange lists the future codes on an exchange.
func (c *Client) FuturesByExchange(exchange string) ([]string, error) {
	_, _, cat, err := c.sessions()
	if err != nil {
		return nil, err
	}
	return cat.FuturesByExchange(exchange), nil
}
