// Package gateway exposes the tranche ledger over an HTTP JSON surface,
// mirroring how external keepers, originators and investors drive the engine.
package gateway

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"strata/config"
	"strata/native/tranche"
	"strata/observability"
)

const maxBodyBytes = 1 << 16 // 64 KiB

// Crediter funds underlying accounts from the external settlement bridge.
type Crediter interface {
	Credit(addr [20]byte, amount *big.Int) error
}

// Server implements the HTTP handlers for the ledger gateway.
type Server struct {
	engine  *tranche.Engine
	bridge  Crediter
	logger  *slog.Logger
	metrics *observability.LedgerMetrics
	// distributeLimit throttles the permissionless distribution trigger so a
	// hostile keeper cannot spin the interval check.
	distributeLimit *rate.Limiter
	nowFn           func() time.Time
}

// NewServer constructs the gateway with the supplied dependencies.
func NewServer(engine *tranche.Engine, bridge Crediter, logger *slog.Logger) (*Server, error) {
	if engine == nil {
		return nil, errors.New("gateway: engine required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:          engine,
		bridge:          bridge,
		logger:          logger,
		metrics:         observability.Ledger(),
		distributeLimit: rate.NewLimiter(rate.Every(time.Second), 5),
		nowFn:           time.Now,
	}, nil
}

// Router assembles the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(correlationMiddleware)
	r.Use(s.loggingMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/vaults/{vault}", func(r chi.Router) {
			r.Get("/", s.handleVault)
			r.Get("/loss-preview", s.handleLossPreview)
			r.Post("/yield", s.handleNotifyYield)
			r.Post("/distribute", s.handleDistribute)
			r.Post("/status", s.handleSetStatus)
			r.Route("/tranches/{tranche}", func(r chi.Router) {
				r.Post("/invest", s.handleInvest)
				r.Post("/withdraw", s.handleWithdraw)
				r.Post("/claim", s.handleClaim)
				r.Get("/positions/{owner}", s.handlePosition)
			})
		})
		r.Post("/accounts/{address}/credit", s.handleCredit)
	})
	return r
}

type investRequest struct {
	Caller      string `json:"caller"`
	Beneficiary string `json:"beneficiary,omitempty"`
	Amount      string `json:"amount"`
}

type withdrawRequest struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

type claimRequest struct {
	Caller string `json:"caller"`
}

type yieldRequest struct {
	From   string `json:"from"`
	Amount string `json:"amount"`
}

type statusRequest struct {
	Caller string `json:"caller"`
	Status string `json:"status"`
}

type creditRequest struct {
	Amount string `json:"amount"`
}

func (s *Server) handleInvest(w http.ResponseWriter, r *http.Request) {
	vaultID, id, err := pathVaultTranche(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req investRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := config.ParseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	beneficiary := caller
	if strings.TrimSpace(req.Beneficiary) != "" {
		if beneficiary, err = config.ParseAddress(req.Beneficiary); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.run(w, r, "invest", func() error {
		return s.engine.Invest(vaultID, id, caller, beneficiary, amount)
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	vaultID, id, err := pathVaultTranche(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req withdrawRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := config.ParseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.run(w, r, "withdraw", func() error {
		return s.engine.Withdraw(vaultID, id, caller, amount)
	})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	vaultID, id, err := pathVaultTranche(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req claimRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := config.ParseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	started := s.nowFn()
	payout, err := s.engine.ClaimYield(vaultID, id, caller)
	s.metrics.ObserveOperation("claim", err, s.nowFn().Sub(started))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"claimed": payout.String()})
}

func (s *Server) handleNotifyYield(w http.ResponseWriter, r *http.Request) {
	vaultID, err := pathVault(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req yieldRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	from, err := config.ParseAddress(req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.run(w, r, "notify_yield", func() error {
		return s.engine.NotifyYield(vaultID, from, amount)
	})
}

func (s *Server) handleDistribute(w http.ResponseWriter, r *http.Request) {
	if !s.distributeLimit.Allow() {
		writeError(w, http.StatusTooManyRequests, errors.New("distribution trigger throttled"))
		return
	}
	vaultID, err := pathVault(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	started := s.nowFn()
	distributed, err := s.engine.TriggerDistribution(vaultID)
	s.metrics.ObserveOperation("distribute", err, s.nowFn().Sub(started))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"distributed": distributed.String()})
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	vaultID, err := pathVault(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req statusRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := config.ParseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	status, err := parseStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.run(w, r, "set_status", func() error {
		return s.engine.SetStatus(vaultID, caller, status)
	})
}

func (s *Server) handleVault(w http.ResponseWriter, r *http.Request) {
	vaultID, err := pathVault(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	vault, err := s.engine.VaultInfo(vaultID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vaultResponse(vault))
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	vaultID, id, err := pathVaultTranche(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	owner, err := config.ParseAddress(chi.URLParam(r, "owner"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	pos, err := s.engine.PositionInfo(vaultID, id, owner)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	claimable, err := s.engine.ClaimableYield(vaultID, id, owner)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"owner":     hex.EncodeToString(owner[:]),
		"tranche":   id.String(),
		"shares":    pos.Shares.String(),
		"pending":   pos.PendingYield.String(),
		"claimable": claimable.String(),
	})
}

func (s *Server) handleLossPreview(w http.ResponseWriter, r *http.Request) {
	vaultID, err := pathVault(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	loss, err := parseAmount(r.URL.Query().Get("loss"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	losses, err := s.engine.PreviewLossAllocation(vaultID, loss)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	resp := make(map[string]string, tranche.NumTranches)
	for i := range losses {
		resp[tranche.TrancheID(i).String()] = losses[i].String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	if s.bridge == nil {
		writeError(w, http.StatusNotImplemented, errors.New("settlement bridge not configured"))
		return
	}
	addr, err := config.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req creditRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.bridge.Credit(addr, amount); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"credited": amount.String()})
}

// run executes a mutating engine call, records metrics and maps errors.
func (s *Server) run(w http.ResponseWriter, _ *http.Request, operation string, fn func() error) {
	started := s.nowFn()
	err := fn()
	s.metrics.ObserveOperation(operation, err, s.nowFn().Sub(started))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

func vaultResponse(v *tranche.Vault) map[string]any {
	tranches := make([]map[string]string, 0, tranche.NumTranches)
	for i := range v.Tranches {
		tranches = append(tranches, map[string]string{
			"tranche":       tranche.TrancheID(i).String(),
			"targetAprBps":  fmt.Sprintf("%d", v.Tranches[i].TargetAprBps),
			"allocationPct": fmt.Sprintf("%d", v.Tranches[i].AllocationPct),
			"totalShares":   v.Tranches[i].TotalShares.String(),
			"depositValue":  v.Tranches[i].TotalDepositValue.String(),
			"yieldPerShare": v.Tranches[i].YieldPerShare.String(),
		})
	}
	return map[string]any{
		"id":                    hex.EncodeToString(v.ID[:]),
		"originator":            hex.EncodeToString(v.Originator[:]),
		"underlying":            v.Underlying,
		"status":                v.Status.String(),
		"distributionInterval":  v.DistributionInterval,
		"lastDistributionTime":  v.LastDistributionTime,
		"totalPoolDeposited":    v.TotalPoolDeposited.String(),
		"totalYieldReceived":    v.TotalYieldReceived.String(),
		"totalYieldDistributed": v.TotalYieldDistributed.String(),
		"totalYieldClaimed":     v.TotalYieldClaimed.String(),
		"tranches":              tranches,
	}
}

func pathVault(r *http.Request) ([32]byte, error) {
	var id [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(chi.URLParam(r, "vault"), "0x"))
	if err != nil {
		return id, fmt.Errorf("invalid vault id: %w", err)
	}
	if len(raw) != len(id) {
		return id, fmt.Errorf("invalid vault id length %d", len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

func pathVaultTranche(r *http.Request) ([32]byte, tranche.TrancheID, error) {
	vaultID, err := pathVault(r)
	if err != nil {
		return vaultID, 0, err
	}
	id, err := parseTranche(chi.URLParam(r, "tranche"))
	if err != nil {
		return vaultID, 0, err
	}
	return vaultID, id, nil
}

func parseTranche(value string) (tranche.TrancheID, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "senior", "0":
		return tranche.TrancheSenior, nil
	case "mezzanine", "1":
		return tranche.TrancheMezzanine, nil
	case "equity", "2":
		return tranche.TrancheEquity, nil
	default:
		return 0, fmt.Errorf("invalid tranche %q", value)
	}
}

func parseStatus(value string) (tranche.PoolStatus, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "active":
		return tranche.StatusActive, nil
	case "impaired":
		return tranche.StatusImpaired, nil
	case "defaulted":
		return tranche.StatusDefaulted, nil
	case "matured":
		return tranche.StatusMatured, nil
	default:
		return 0, fmt.Errorf("invalid status %q", value)
	}
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, errors.New("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return amount, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, tranche.ErrVaultNotFound):
		status = http.StatusNotFound
	case errors.Is(err, tranche.ErrInvalidTranche),
		errors.Is(err, tranche.ErrInvalidAmount):
		status = http.StatusBadRequest
	case errors.Is(err, tranche.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, tranche.ErrPoolNotActive),
		errors.Is(err, tranche.ErrPoolDefaulted),
		errors.Is(err, tranche.ErrInvalidStatusTransition),
		errors.Is(err, tranche.ErrInsufficientShares),
		errors.Is(err, tranche.ErrInsufficientBalance),
		errors.Is(err, tranche.ErrReentrantCall):
		status = http.StatusConflict
	case errors.Is(err, tranche.ErrDistributionTooSoon):
		status = http.StatusTooEarly
	}
	writeError(w, status, err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
