// Package api exposes the engine's read model and commands over REST and
// pushes read-model versions to WebSocket subscribers.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ohartl/rwadex/pkg/approval"
	"github.com/ohartl/rwadex/pkg/engine"
	"github.com/ohartl/rwadex/pkg/history"
	"github.com/ohartl/rwadex/pkg/model"
)

type Server struct {
	engine *engine.Engine
	hist   *history.Reconstructor
	router *mux.Router
	hub    *Hub
	log    *zap.Logger
}

func NewServer(eng *engine.Engine, hist *history.Reconstructor, log *zap.Logger) *Server {
	s := &Server{
		engine: eng,
		hist:   hist,
		router: mux.NewRouter(),
		hub:    NewHub(log),
		log:    log,
	}
	s.setupRoutes()

	// Every published read model goes out on its pair channel; notification
	// transitions ride along on their own channel.
	eng.Subscribe(func(rm engine.ReadModel) {
		s.hub.BroadcastToChannel("model:"+rm.PairID, ModelUpdate{Type: "model", Model: rm})
	})
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/account", s.handleGetAccount).Methods("GET")
	api.HandleFunc("/pairs", s.handleGetPairs).Methods("GET")
	api.HandleFunc("/pairs/{pairId}/model", s.handleGetModel).Methods("GET")
	api.HandleFunc("/pairs/{pairId}/history", s.handleGetHistory).Methods("GET")
	api.HandleFunc("/pairs/{pairId}/refresh", s.handleRefresh).Methods("POST")

	api.HandleFunc("/orders", s.handleCreateOrder).Methods("POST")
	api.HandleFunc("/orders/fill", s.handleFillOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/approval", s.handleGrantApproval).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start blocks serving HTTP on addr.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	s.log.Info("api server starting", zap.String("addr", addr))
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// ==============================
// REST handlers
// ==============================

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, AccountInfo{
		Address: s.engine.Owner().Hex(),
		Pairs:   s.engine.Pairs(),
	})
}

func (s *Server) handleGetPairs(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.engine.Pairs())
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	pairID := mux.Vars(r)["pairId"]
	rm, ok := s.engine.ReadModel(pairID)
	if !ok {
		respondError(w, http.StatusNotFound, "no read model", "pair not started or first refresh pending")
		return
	}
	respondJSON(w, rm)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	pairID := mux.Vars(r)["pairId"]
	hist, err := s.hist.BuildHistory(r.Context(), pairID)
	if err != nil {
		respondError(w, http.StatusBadGateway, "history unavailable", err.Error())
		return
	}
	respondJSON(w, hist)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	pairID := mux.Vars(r)["pairId"]
	if err := s.engine.Refresh(pairID); err != nil {
		respondError(w, http.StatusNotFound, "unknown pair", err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
	respondJSON(w, map[string]string{"status": "refreshing"})
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid price", err.Error())
		return
	}

	var result *engine.ActionResult
	switch req.Side {
	case "sell":
		result, err = s.engine.CreateSellOrder(r.Context(), req.PairID, req.Amount, price)
	case "buy":
		result, err = s.engine.CreateBuyOrder(r.Context(), req.PairID, req.Amount, price)
	default:
		respondError(w, http.StatusBadRequest, "invalid side", "expected buy or sell")
		return
	}
	s.respondAction(w, r, result, err)
}

func (s *Server) handleFillOrder(w http.ResponseWriter, r *http.Request) {
	var req FillOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	result, err := s.engine.FillOrder(r.Context(), req.PairID, req.OrderID, req.Amount)
	s.respondAction(w, r, result, err)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	result, err := s.engine.CancelOrder(r.Context(), req.PairID, req.OrderID)
	s.respondAction(w, r, result, err)
}

func (s *Server) handleGrantApproval(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.GrantApproval(r.Context())
	s.respondAction(w, r, result, err)
}

// respondAction acknowledges a staged action. The optimistic record is
// already visible in the read model; with ?wait=true the response carries the
// terminal outcome instead.
func (s *Server) respondAction(w http.ResponseWriter, r *http.Request, result *engine.ActionResult, err error) {
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, approval.ErrApprovalRequired):
			status = http.StatusConflict
		case errors.Is(err, engine.ErrSubmissionRejected):
			status = http.StatusUnprocessableEntity
		}
		respondError(w, status, "action rejected", err.Error())
		return
	}

	s.hub.BroadcastToChannel("notifications",
		NotificationUpdate{Type: "notification", Notification: result.Notification})

	if r.URL.Query().Get("wait") != "true" {
		w.WriteHeader(http.StatusAccepted)
		respondJSON(w, ActionResponse{
			LocalID:        result.LocalID,
			NotificationID: result.Notification.ID,
			Status:         string(model.StatusPending),
		})
		return
	}

	select {
	case outcome := <-result.Done:
		resp := ActionResponse{
			LocalID:        result.LocalID,
			NotificationID: result.Notification.ID,
			Status:         string(outcome.Status),
			LedgerHandle:   string(outcome.Handle),
		}
		if outcome.Err != nil {
			resp.Error = outcome.Err.Error()
		}
		respondJSON(w, resp)
	case <-r.Context().Done():
		// Client gave up; the action keeps running to its terminal state.
		respondError(w, http.StatusRequestTimeout, "wait aborted", "action still in flight")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helpers
// ==============================

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: error, Message: message})
}
