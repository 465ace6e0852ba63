// Package api exposes the bridge over HTTP. Every operation is one POST
// endpoint with a small JSON body; errors map onto status codes by kind.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"ctpgate/internal/client"
	"ctpgate/logger"
	"ctpgate/models"
)

// Server routes HTTP requests onto a client.
type Server struct {
	cli *client.Client
	log *logger.Entry
	mux *http.ServeMux
}

// NewServer builds the HTTP surface over cli.
func NewServer(cli *client.Client, log *logger.Log) *Server {
	s := &Server{
		cli: cli,
		log: log.WithComponent("api"),
		mux: http.NewServeMux(),
	}
	s.mux.HandleFunc("/login", s.handleLogin)
	s.mux.HandleFunc("/logout", s.handleLogout)
	s.mux.HandleFunc("/get_account", s.handleGetAccount)
	s.mux.HandleFunc("/get_position", s.handleGetPositions)
	s.mux.HandleFunc("/get_order", s.handleGetOrders)
	s.mux.HandleFunc("/get_trade", s.handleGetTrades)
	s.mux.HandleFunc("/subscribe", s.handleSubscribe)
	s.mux.HandleFunc("/unsubscribe", s.handleUnsubscribe)
	s.mux.HandleFunc("/order_market", s.handleOrderMarket)
	s.mux.HandleFunc("/order_limit", s.handleOrderLimit)
	s.mux.HandleFunc("/order_fak", s.handleOrderFAK)
	s.mux.HandleFunc("/order_fok", s.handleOrderFOK)
	s.mux.HandleFunc("/delete_order", s.handleDeleteOrder)
	s.mux.HandleFunc("/query_point", s.handleQueryPoint)
	s.mux.HandleFunc("/custom_price", s.handleCustomPrice)
	s.mux.HandleFunc("/instrument", s.handleInstrument)
	s.mux.HandleFunc("/health", s.handleHealth)
	return s
}

// ServeHTTP implements http.Handler with request ids, CORS and access
// logging around the mux.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.NewString()
	w.Header().Set("X-Request-Id", reqID)
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	start := time.Now()
	s.mux.ServeHTTP(w, r)
	s.log.WithFields(logger.Fields{
		"request_id": reqID,
		"path":       r.URL.Path,
		"elapsed_ms": time.Since(start).Milliseconds(),
	}).Debug("handled request")
}

// StatusOf maps an operation error onto an HTTP status code.
func StatusOf(err error) int {
	var (
		rejected *models.RemoteRejectedError
		business *models.RemoteBusinessError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case models.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotConnected):
		return http.StatusConflict
	case models.IsTimeout(err):
		return http.StatusGatewayTimeout
	case errors.As(err, &rejected), errors.As(err, &business):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Warn("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeJSON(w, StatusOf(err), map[string]string{"error": err.Error()})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, models.Validationf("malformed request body: %v", err))
		return false
	}
	return true
}

type codesRequest struct {
	Codes []string `json:"codes"`
}

type orderRequest struct {
	Code      string  `json:"code"`
	Direction string  `json:"direction"`
	Volume    int     `json:"volume"`
	Price     float64 `json:"price"`
	MinVolume int     `json:"min_volume"`
}

type snapshotResponse struct {
	Data interface{} `json:"data"`
	Time string      `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"logged_in": s.cli.Ready(),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, _ *http.Request) {
	if err := s.cli.Login(); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	if err := s.cli.Logout(); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, _ *http.Request) {
	account, at, err := s.cli.GetAccount()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snapshotResponse{Data: account, Time: at})
}

func (s *Server) handleGetPositions(w http.ResponseWriter, _ *http.Request) {
	positions, at, err := s.cli.GetPositions()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snapshotResponse{Data: positions, Time: at})
}

func (s *Server) handleGetOrders(w http.ResponseWriter, _ *http.Request) {
	orders, at, err := s.cli.GetOrders()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snapshotResponse{Data: orders, Time: at})
}

func (s *Server) handleGetTrades(w http.ResponseWriter, _ *http.Request) {
	trades, at, err := s.cli.GetTrades()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snapshotResponse{Data: trades, Time: at})
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req codesRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.cli.Subscribe(req.Codes); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req codesRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.cli.Unsubscribe(req.Codes); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleOrderMarket(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if !s.decode(w, r, &req) {
		return
	}
	result, err := s.cli.OrderMarket(req.Code, req.Direction, req.Volume)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleOrderLimit(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if !s.decode(w, r, &req) {
		return
	}
	result, err := s.cli.OrderLimit(req.Code, req.Direction, req.Volume, req.Price)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleOrderFAK(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if !s.decode(w, r, &req) {
		return
	}
	result, err := s.cli.OrderFAK(req.Code, req.Direction, req.Volume, req.Price, req.MinVolume)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleOrderFOK(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if !s.decode(w, r, &req) {
		return
	}
	result, err := s.cli.OrderFOK(req.Code, req.Direction, req.Volume, req.Price)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID string `json:"order_id"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	result, err := s.cli.DeleteOrder(req.OrderID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleQueryPoint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	tick, err := s.cli.QueryPoint(req.Code)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"data": tick})
}

func (s *Server) handleCustomPrice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code  string `json:"code"`
		Level string `json:"level"`
		Ticks int    `json:"ticks"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	price, err := s.cli.CustomPrice(req.Code, req.Level, req.Ticks)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"data": price})
}

func (s *Server) handleInstrument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code       string `json:"code"`
		Underlying string `json:"underlying"`
		Exchange   string `json:"exchange"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	switch {
	case req.Code != "":
		inst, err := s.cli.Instrument(req.Code)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"data": inst})
	case req.Underlying != "":
		codes, err := s.cli.OptionsByUnderlying(req.Underlying)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"data": codes})
	case req.Exchange != "":
		codes, err := s.cli.FuturesByExchange(req.Exchange)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"data": codes})
	default:
		s.writeError(w, models.Validationf("one of code, underlying or exchange is required"))
	}
}
