package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"StarPool/internal/ingestion"
	"StarPool/internal/observability"
	"StarPool/internal/persistence"
	"StarPool/internal/projection"
	"StarPool/internal/query"
	"StarPool/internal/treasury"
)

// HTTPServer is the JSON API surface: member and pool queries, admin
// operations, health probes, and Prometheus metrics.
type HTTPServer struct {
	httpServer *http.Server
	addr       string
}

// ServerDeps holds the dependencies needed by the API handlers.
type ServerDeps struct {
	DB            *sql.DB
	QueryService  *query.QueryService
	AdminIngest   *ingestion.AdminIngestService
	SnapshotMgr   *persistence.SnapshotManager
	HealthChecker *observability.HealthChecker
	Chain         *treasury.ChainReader // nil when no RPC endpoint is configured
}

// NewHTTPServer creates the API server with all routes registered.
func NewHTTPServer(addr string, deps *ServerDeps) *HTTPServer {
	mux := http.NewServeMux()

	h := &apiHandlers{deps: deps}

	mux.HandleFunc("GET /v1/members/{address}", h.getMember)
	mux.HandleFunc("GET /v1/members/{address}/wallet", h.getWallet)
	mux.HandleFunc("GET /v1/members/{address}/settlements", h.getSettlementHistory)
	mux.HandleFunc("GET /v1/members/{address}/journal", h.getJournalHistory)
	mux.HandleFunc("GET /v1/stars", h.getStarOwners)
	mux.HandleFunc("GET /v1/reservations", h.getReservations)
	mux.HandleFunc("GET /v1/pool", h.getPoolSummary)

	mux.HandleFunc("GET /v1/admin/integrity", h.verifyIntegrity)
	mux.HandleFunc("GET /v1/admin/oplog", h.getOpLogInfo)
	mux.HandleFunc("POST /v1/admin/rebuild-projections", h.rebuildProjections)
	mux.HandleFunc("POST /v1/admin/ops/enter", h.injectEnterPool)
	mux.HandleFunc("POST /v1/admin/ops/exit", h.injectExitPool)
	mux.HandleFunc("POST /v1/admin/ops/evict", h.injectKickMember)
	mux.HandleFunc("POST /v1/admin/ops/penalty", h.injectKickMemberPenalty)

	mux.HandleFunc("/healthz", deps.HealthChecker.LivenessHandler)
	mux.HandleFunc("/readyz", deps.HealthChecker.ReadinessHandler)
	mux.Handle("/metrics", promhttp.Handler())

	return &HTTPServer{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		addr: addr,
	}
}

// Start runs the server until ctx is cancelled (blocking).
func (s *HTTPServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		log.Println("INFO: HTTP server shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("INFO: HTTP server listening on %s", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

type apiHandlers struct {
	deps *ServerDeps
}

// --- query handlers ---

func (h *apiHandlers) getMember(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}

	resp, err := h.deps.QueryService.GetMember(r.Context(), addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("get member: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// getWallet reports an address's on-chain WSTR balance and the pool's
// spendable allowance, for pre-flight deposit checks.
func (h *apiHandlers) getWallet(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}
	if h.deps.Chain == nil {
		writeError(w, http.StatusServiceUnavailable, "chain reader not configured")
		return
	}

	balance, err := h.deps.Chain.BalanceOf(r.Context(), addr)
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("read balance: %v", err))
		return
	}
	allowance, err := h.deps.Chain.Allowance(r.Context(), addr)
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Sprintf("read allowance: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"address":   addr.Hex(),
		"balance":   balance.String(),
		"allowance": allowance.String(),
	})
}

func (h *apiHandlers) getSettlementHistory(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}

	limit := queryLimit(r, 50, 500)
	before := queryInt64(r, "before_sequence")

	history, err := h.deps.QueryService.GetSettlementHistory(r.Context(), addr, limit, before)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("get settlements: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"settlements": history})
}

func (h *apiHandlers) getJournalHistory(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}

	limit := queryLimit(r, 100, 500)
	before := queryInt64(r, "before_sequence")

	entries, err := h.deps.QueryService.GetJournalHistory(r.Context(), addr, limit, before)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("get journal: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"journals": entries})
}

func (h *apiHandlers) getStarOwners(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 100, 1000)

	var afterStar *uint16
	if s := r.URL.Query().Get("after_star"); s != "" {
		v, err := strconv.ParseUint(s, 10, 16)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid after_star")
			return
		}
		star := uint16(v)
		afterStar = &star
	}

	owners, err := h.deps.QueryService.GetStarOwners(r.Context(), limit, afterStar)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("get stars: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"stars": owners})
}

func (h *apiHandlers) getReservations(w http.ResponseWriter, r *http.Request) {
	reservations, err := h.deps.QueryService.GetReservations(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("get reservations: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reservations": reservations})
}

func (h *apiHandlers) getPoolSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.deps.QueryService.GetPoolSummary(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("get pool: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// --- admin handlers ---

func (h *apiHandlers) verifyIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := h.deps.QueryService.VerifyIntegrity(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("verify integrity: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *apiHandlers) getOpLogInfo(w http.ResponseWriter, r *http.Request) {
	latestSeq, err := h.deps.SnapshotMgr.GetLatestSequence(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("get latest sequence: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"last_sequence": latestSeq})
}

func (h *apiHandlers) rebuildProjections(w http.ResponseWriter, r *http.Request) {
	if err := projection.RebuildProjections(r.Context(), h.deps.DB); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("rebuild failed: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rebuilt": true})
}

type injectEnterRequest struct {
	Caller     string   `json:"caller"`
	WstrToPool string   `json:"wstr_to_pool"`
	Stars      []uint16 `json:"stars"`
}

func (h *apiHandlers) injectEnterPool(w http.ResponseWriter, r *http.Request) {
	var req injectEnterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	caller, ok := hexAddress(w, req.Caller)
	if !ok {
		return
	}

	opID, err := h.deps.AdminIngest.InjectEnterPool(r.Context(), caller, req.WstrToPool, req.Stars)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("inject enter: %v", err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"accepted": true, "op_id": opID})
}

type injectCallerRequest struct {
	Caller string `json:"caller"`
}

func (h *apiHandlers) injectExitPool(w http.ResponseWriter, r *http.Request) {
	var req injectCallerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	caller, ok := hexAddress(w, req.Caller)
	if !ok {
		return
	}

	opID, err := h.deps.AdminIngest.InjectExitPool(r.Context(), caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("inject exit: %v", err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"accepted": true, "op_id": opID})
}

type injectMemberRequest struct {
	Caller string `json:"caller"`
	Member string `json:"member"`
}

func (h *apiHandlers) injectKickMember(w http.ResponseWriter, r *http.Request) {
	h.injectEviction(w, r, h.deps.AdminIngest.InjectKickMember)
}

func (h *apiHandlers) injectKickMemberPenalty(w http.ResponseWriter, r *http.Request) {
	h.injectEviction(w, r, h.deps.AdminIngest.InjectKickMemberPenalty)
}

func (h *apiHandlers) injectEviction(
	w http.ResponseWriter,
	r *http.Request,
	inject func(context.Context, common.Address, common.Address) (string, error),
) {
	var req injectMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	caller, ok := hexAddress(w, req.Caller)
	if !ok {
		return
	}
	member, ok := hexAddress(w, req.Member)
	if !ok {
		return
	}

	opID, err := inject(r.Context(), caller, member)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("inject eviction: %v", err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"accepted": true, "op_id": opID})
}

// --- helpers ---

func pathAddress(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	return hexAddress(w, r.PathValue("address"))
}

func hexAddress(w http.ResponseWriter, s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid address: %q", s))
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func queryLimit(r *http.Request, def, max int) int {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 || v > max {
		return def
	}
	return v
}

func queryInt64(r *http.Request, name string) *int64 {
	s := r.URL.Query().Get(name)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
