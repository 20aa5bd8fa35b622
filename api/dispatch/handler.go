// Package dispatch exposes the dispatch chain operations over HTTP.
package dispatch

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/fluxfret/cascade/affretia"
	"github.com/fluxfret/cascade/core/chain"
	"github.com/fluxfret/cascade/core/model"
	"github.com/fluxfret/cascade/core/storage"
	"github.com/fluxfret/cascade/infra/logger"
)

// Handler serves the dispatch API.
type Handler struct {
	engine *chain.Engine
	events storage.EventStore
	broker *affretia.Client
	token  string
	secret string
	log    logger.Logger
}

// Options carries the optional collaborators and auth settings.
type Options struct {
	// Events backs GET /dispatch/events; nil disables the route.
	Events storage.EventStore
	// Broker backs the Affretia passthrough routes; nil disables them.
	Broker *affretia.Client
	// Token, when set, is required as a bearer token on all routes except
	// the broker callback.
	Token string
	// CallbackSecret, when set, is required on the broker callback route.
	CallbackSecret string
}

// NewHandler creates a Handler around the engine.
func NewHandler(engine *chain.Engine, opts Options) *Handler {
	return &Handler{
		engine: engine,
		events: opts.Events,
		broker: opts.Broker,
		token:  opts.Token,
		secret: opts.CallbackSecret,
		log:    logger.New("dispatch_api"),
	}
}

// Mux returns the routed handler.
func (h *Handler) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /dispatch/detect-lane/{orderId}", h.auth(h.detectLane))
	mux.HandleFunc("POST /dispatch/generate-chain/{orderId}", h.auth(h.generateChain))
	mux.HandleFunc("POST /dispatch/start/{chainId}", h.auth(h.start))
	mux.HandleFunc("POST /dispatch/respond/{chainId}", h.auth(h.respond))
	mux.HandleFunc("POST /dispatch/timeout/{chainId}/{attemptIndex}", h.auth(h.timeout))
	mux.HandleFunc("GET /dispatch/status/{orderId}", h.auth(h.status))
	mux.HandleFunc("GET /dispatch/events/{orderId}", h.auth(h.listEvents))
	mux.HandleFunc("GET /dispatch/carrier-stats", h.auth(h.carrierStats))
	mux.HandleFunc("POST /dispatch/auto/{orderId}", h.auth(h.auto))
	mux.HandleFunc("POST /dispatch/cancel/{chainId}", h.auth(h.cancel))
	mux.HandleFunc("POST /dispatch/affretia-callback", h.affretiaCallback)
	mux.HandleFunc("GET /dispatch/affretia-status/{orderId}", h.auth(h.affretiaStatus))
	mux.HandleFunc("POST /dispatch/cancel-affretia/{orderId}", h.auth(h.cancelAffretia))
	return mux
}

func (h *Handler) auth(next http.HandlerFunc) http.HandlerFunc {
	if h.token == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeEngineError maps engine errors onto HTTP statuses: state conflicts
// are 4xx, infrastructure failures 5xx.
func (h *Handler) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chain.ErrInvalidState),
		errors.Is(err, chain.ErrStaleResponse),
		errors.Is(err, chain.ErrAlreadyAssigned),
		errors.Is(err, chain.ErrChainExists),
		errors.Is(err, storage.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, affretia.ErrUnavailable):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		h.log.Errorf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) detectLane(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("orderId")
	lane, ok, err := h.engine.DetectLane(r.Context(), orderID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"escalated": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"escalated": false, "lane": lane})
}

func (h *Handler) generateChain(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("orderId")
	var body struct {
		LaneID string `json:"laneId"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
			return
		}
	}
	c, err := h.engine.Generate(r.Context(), orderID, body.LaneID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	c, err := h.engine.Start(r.Context(), r.PathValue("chainId"))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request) {
	chainID := r.PathValue("chainId")
	var body struct {
		CarrierID     string   `json:"carrierId"`
		Accepted      bool     `json:"accepted"`
		ProposedPrice *float64 `json:"proposedPrice"`
		RefusalReason string   `json:"refusalReason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if body.CarrierID == "" {
		writeError(w, http.StatusBadRequest, "carrierId is required")
		return
	}
	var (
		c   *model.DispatchChain
		err error
	)
	if body.Accepted {
		c, err = h.engine.Accept(r.Context(), chainID, body.CarrierID, body.ProposedPrice)
	} else {
		c, err = h.engine.Refuse(r.Context(), chainID, body.CarrierID, body.RefusalReason)
	}
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) timeout(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(r.PathValue("attemptIndex"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid attempt index")
		return
	}
	c, err := h.engine.Timeout(r.Context(), r.PathValue("chainId"), idx)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	c, err := h.engine.Status(r.Context(), r.PathValue("orderId"))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeError(w, http.StatusNotFound, "event store not configured")
		return
	}
	recs, err := h.events.ListByOrder(r.Context(), r.PathValue("orderId"))
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// carrierStats projects per-carrier acceptance rates over chain history.
func (h *Handler) carrierStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.CarrierStats(r.Context())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// auto chains detect, generate and start in one call.
func (h *Handler) auto(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("orderId")
	c, err := h.engine.Generate(r.Context(), orderID, "")
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	c, err = h.engine.Start(r.Context(), c.ID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
			return
		}
	}
	c, err := h.engine.Cancel(r.Context(), r.PathValue("chainId"), body.Reason)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// affretiaCallback applies the broker webhook. It answers 200 on every
// internal outcome, replays included, so the broker never enters an
// uncontrolled retry loop; failures are logged for alerting.
func (h *Handler) affretiaCallback(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" {
		got := r.Header.Get("X-Affretia-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid callback secret")
			return
		}
	}
	var payload affretia.CallbackPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if err := payload.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !payload.Terminal() {
		h.log.Infof("ignoring non-terminal callback status %q for order %s", payload.Status, payload.ExternalOrderID)
		writeJSON(w, http.StatusOK, map[string]any{"applied": false})
		return
	}
	c, replay, err := h.engine.HandleBrokerCallback(r.Context(), payload.ToResult())
	if err != nil {
		h.log.Errorf("broker callback for order %s failed: %v", payload.ExternalOrderID, err)
		writeJSON(w, http.StatusOK, map[string]any{"applied": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"applied": !replay, "chainStatus": c.Status})
}

func (h *Handler) escalationExternalID(r *http.Request) (string, error) {
	c, err := h.engine.Status(r.Context(), r.PathValue("orderId"))
	if err != nil {
		return "", err
	}
	if c.Escalation == nil {
		return "", chain.ErrInvalidState
	}
	return c.Escalation.ExternalID, nil
}

func (h *Handler) affretiaStatus(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		writeError(w, http.StatusNotFound, "broker not configured")
		return
	}
	externalID, err := h.escalationExternalID(r)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	resp, err := h.broker.Status(r.Context(), externalID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) cancelAffretia(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		writeError(w, http.StatusNotFound, "broker not configured")
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
			return
		}
	}
	externalID, err := h.escalationExternalID(r)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if err := h.broker.Cancel(r.Context(), externalID, body.Reason); err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": true})
}
