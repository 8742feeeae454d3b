package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/paygate-labs/paygate/internal/amount"
	"github.com/paygate-labs/paygate/internal/catalog"
	"github.com/paygate-labs/paygate/internal/domain"
	"github.com/paygate-labs/paygate/internal/paywall"
	"github.com/paygate-labs/paygate/internal/store"
)

// Headers carrying the paywall credentials on content requests.
const (
	HeaderAccount   = "X-Account"
	HeaderSignature = "X-Payment-Signature"
	HeaderReference = "X-Payment-Reference"
	HeaderMethod    = "X-Payment-Method"
)

var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paygate_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
	}, []string{"method", "endpoint"})
)

type Handler struct {
	engine  *paywall.Engine
	store   store.Store
	catalog catalog.Catalog
	network string
	log     zerolog.Logger
}

func NewHandler(engine *paywall.Engine, st store.Store, cat catalog.Catalog, network string, log zerolog.Logger) *Handler {
	return &Handler{
		engine:  engine,
		store:   st,
		catalog: cat,
		network: network,
		log:     log.With().Str("component", "api").Logger(),
	}
}

// Register mounts the API routes on the router.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/content/{slug}", h.GetContent).Methods("GET")
	r.HandleFunc("/topup", h.TopUp).Methods("POST")
	r.HandleFunc("/topup/invoice", h.TopUpInvoice).Methods("POST")
	r.HandleFunc("/balance/{account}", h.GetBalance).Methods("GET")
	r.HandleFunc("/transfers/{account}", h.GetTransfers).Methods("GET")
}

// GetContent gates a resource behind the paywall. Granted requests receive
// the markdown body; insufficient budget yields 402 with an invoice the
// client pays and resubmits via the payment headers.
func (h *Handler) GetContent(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("GET", "/content/{slug}"))
	defer timer.ObserveDuration()
	endpoint := "/content/{slug}"

	slug := mux.Vars(r)["slug"]
	req := paywall.Request{
		Resource:  slug,
		Account:   r.Header.Get(HeaderAccount),
		Signature: r.Header.Get(HeaderSignature),
		Reference: r.Header.Get(HeaderReference),
	}

	out, err := h.engine.Evaluate(r.Context(), req)
	if err != nil {
		h.respondEngineError(w, err, "GET", endpoint)
		return
	}

	switch out.Decision {
	case paywall.DecisionGranted:
		entry, err := h.catalog.Read(slug)
		if err != nil {
			h.respondError(w, http.StatusNotFound, "resource not found", "GET", endpoint)
			return
		}
		httpReqTotal.WithLabelValues("GET", endpoint, "200").Inc()
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Header().Set(HeaderMethod, string(out.Method))
		w.WriteHeader(http.StatusOK)
		w.Write(entry.Body)

	case paywall.DecisionChallenge:
		h.respondJSON(w, http.StatusPaymentRequired, map[string]any{
			"error":   "payment required",
			"invoice": out.Invoice,
		}, "GET", endpoint)

	case paywall.DecisionDenied:
		h.respondDenied(w, out.Reason, "GET", endpoint)
	}
}

type topUpRequest struct {
	Account   string `json:"account"`
	Signature string `json:"signature"`
	Reference string `json:"reference"`
	Mint      string `json:"mint"`
	Amount    string `json:"amount"`
}

// TopUp credits a budget from a settled on-chain payment.
func (h *Handler) TopUp(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/topup"))
	defer timer.ObserveDuration()
	endpoint := "/topup"

	var req topUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "malformed JSON body", "POST", endpoint)
		return
	}

	expected := decimal.Zero
	if req.Amount != "" {
		var err error
		expected, err = decimal.NewFromString(req.Amount)
		if err != nil || expected.IsNegative() {
			h.respondError(w, http.StatusUnprocessableEntity, "invalid amount", "POST", endpoint)
			return
		}
	}

	res, err := h.engine.TopUp(r.Context(), req.Account, req.Signature, req.Reference, req.Mint, expected)
	if err != nil {
		var denied *paywall.DeniedError
		switch {
		case errors.Is(err, domain.ErrValidation):
			h.respondError(w, http.StatusBadRequest, err.Error(), "POST", endpoint)
		case errors.As(err, &denied):
			h.respondDenied(w, denied.Reason, "POST", endpoint)
		default:
			h.log.Error().Err(err).Msg("top-up failed")
			h.respondError(w, http.StatusServiceUnavailable, "service unavailable", "POST", endpoint)
		}
		return
	}
	h.respondJSON(w, http.StatusOK, res, "POST", endpoint)
}

type topUpInvoiceRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
	Mint    string `json:"mint"`
}

// TopUpInvoice issues a payment challenge for a budget top-up.
func (h *Handler) TopUpInvoice(w http.ResponseWriter, r *http.Request) {
	endpoint := "/topup/invoice"

	var req topUpInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "malformed JSON body", "POST", endpoint)
		return
	}
	amt, err := decimal.NewFromString(req.Amount)
	if err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, "invalid amount", "POST", endpoint)
		return
	}

	invoice, err := h.engine.TopUpInvoice(req.Account, amt, req.Mint)
	if err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, "account, mint and a positive amount are required", "POST", endpoint)
		return
	}
	h.respondJSON(w, http.StatusCreated, map[string]any{"invoice": invoice}, "POST", endpoint)
}

// GetBalance reports an account's budget for a mint.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	endpoint := "/balance/{account}"
	account := mux.Vars(r)["account"]
	mint := r.URL.Query().Get("mint")
	if mint == "" {
		h.respondError(w, http.StatusBadRequest, "mint query parameter is required", "GET", endpoint)
		return
	}

	detail, err := h.store.BalanceDetail(r.Context(), account, h.network, mint)
	if err != nil {
		h.log.Error().Err(err).Msg("balance lookup failed")
		h.respondError(w, http.StatusServiceUnavailable, "service unavailable", "GET", endpoint)
		return
	}

	resp := map[string]any{
		"account": account,
		"network": h.network,
		"mint":    mint,
		"amount":  int64(0),
		"display": "0",
	}
	if detail != nil {
		resp["amount"] = detail.Amount
		resp["display"] = amount.ToDisplay(detail.Amount, detail.TokenDecimals).String()
		resp["symbol"] = detail.TokenSymbol
	}
	h.respondJSON(w, http.StatusOK, resp, "GET", endpoint)
}

// GetTransfers lists an account's transfer log.
func (h *Handler) GetTransfers(w http.ResponseWriter, r *http.Request) {
	endpoint := "/transfers/{account}"
	account := mux.Vars(r)["account"]
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	records, err := h.store.Transfers(r.Context(), account, h.network, limit)
	if err != nil {
		h.log.Error().Err(err).Msg("transfer lookup failed")
		h.respondError(w, http.StatusServiceUnavailable, "service unavailable", "GET", endpoint)
		return
	}
	if records == nil {
		records = []domain.TransferRecord{}
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"transfers": records}, "GET", endpoint)
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "GET", "/health")
}

func (h *Handler) respondEngineError(w http.ResponseWriter, err error, method, endpoint string) {
	switch {
	case errors.Is(err, domain.ErrResourceUnknown):
		h.respondError(w, http.StatusNotFound, "resource not found", method, endpoint)
	case errors.Is(err, domain.ErrValidation):
		h.respondError(w, http.StatusBadRequest, "invalid request", method, endpoint)
	default:
		// Storage or ledger trouble: fail closed without leaking internals.
		h.log.Error().Err(err).Msg("evaluation failed")
		h.respondError(w, http.StatusServiceUnavailable, "service unavailable", method, endpoint)
	}
}

func (h *Handler) respondDenied(w http.ResponseWriter, reason domain.DenialReason, method, endpoint string) {
	status := http.StatusPaymentRequired
	switch reason {
	case domain.ReasonReplayAttack:
		status = http.StatusConflict
	case domain.ReasonUnavailable:
		status = http.StatusServiceUnavailable
	case domain.ReasonValidation:
		status = http.StatusBadRequest
	}
	h.respondJSON(w, status, map[string]string{"error": string(reason)}, method, endpoint)
}

func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload any, method, endpoint string) {
	httpReqTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func (h *Handler) respondError(w http.ResponseWriter, code int, msg, method, endpoint string) {
	h.respondJSON(w, code, map[string]string{"error": msg}, method, endpoint)
}
