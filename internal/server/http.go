package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"

	"VaultLedger/internal/addressing"
	"VaultLedger/internal/ingestion"
	"VaultLedger/internal/observability"
	"VaultLedger/internal/protocol"
	"VaultLedger/internal/query"
	"VaultLedger/internal/request"
)

const submitTimeout = 10 * time.Second

// ServerDeps holds what the serving layer needs.
type ServerDeps struct {
	Queries       *query.QueryService
	Submitter     *ingestion.Submitter
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
}

// HTTPServer serves the JSON query and submission API plus the health
// endpoints. Routes are registered on a gateway mux so path parameters
// follow the same {name} patterns the proto annotations would use.
type HTTPServer struct {
	server *http.Server
	addr   string
	deps   *ServerDeps
	logger zerolog.Logger
}

func NewHTTPServer(addr string, deps *ServerDeps) *HTTPServer {
	return &HTTPServer{
		addr:   addr,
		deps:   deps,
		logger: observability.NewLogger("http"),
	}
}

// Handler builds the full route tree: the API on the gateway mux, health
// endpoints on the outer mux.
func (s *HTTPServer) Handler() (http.Handler, error) {
	gw := runtime.NewServeMux()
	if err := s.registerRoutes(gw); err != nil {
		return nil, fmt.Errorf("register routes: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.deps.HealthChecker.LivenessHandler)
	mux.HandleFunc("/readyz", s.deps.HealthChecker.ReadinessHandler)
	mux.Handle("/", gw)
	return mux, nil
}

// Start runs the server until ctx is cancelled (blocking).
func (s *HTTPServer) Start(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.addr).Msg("http server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) registerRoutes(mux *runtime.ServeMux) error {
	routes := []struct {
		method  string
		pattern string
		handler runtime.HandlerFunc
	}{
		{http.MethodGet, "/v1/config", s.handleGetConfig},
		{http.MethodGet, "/v1/deposits", s.handleListDeposits},
		{http.MethodGet, "/v1/deposits/{user}", s.handleGetDeposit},
		{http.MethodGet, "/v1/pools", s.handleGetPools},
		{http.MethodGet, "/v1/balances/{user}", s.handleGetBalances},
		{http.MethodGet, "/v1/activity/{user}", s.handleGetActivity},
		{http.MethodGet, "/v1/integrity", s.handleVerifyIntegrity},
		{http.MethodPost, "/v1/requests", s.handleSubmitRequest},
	}

	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, s.instrument(rt.pattern, rt.handler)); err != nil {
			return fmt.Errorf("route %s %s: %w", rt.method, rt.pattern, err)
		}
	}
	return nil
}

// instrument wraps a handler with request counting and latency observation,
// labelled by route pattern so cardinality stays bounded.
func (s *HTTPServer) instrument(endpoint string, h runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h(sw, r, pathParams)
		if s.deps.Metrics != nil {
			s.deps.Metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(sw.status)).Inc()
			s.deps.Metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// --- query handlers ---

func (s *HTTPServer) handleGetConfig(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := s.deps.Queries.GetConfig(r.Context())
	if err != nil {
		s.writeQueryError(w, "/v1/config", err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleGetDeposit(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	const endpoint = "/v1/deposits/{user}"

	user, err := addressing.ParseIdentity(pathParams["user"])
	if err != nil {
		s.writeError(w, endpoint, http.StatusBadRequest, "invalid user identity")
		return
	}

	resp, err := s.deps.Queries.GetDeposit(r.Context(), user)
	if err != nil {
		s.writeQueryError(w, endpoint, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleListDeposits(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	const endpoint = "/v1/deposits"

	q := r.URL.Query()
	limit, ok := parseLimit(q.Get("limit"))
	if !ok {
		s.writeError(w, endpoint, http.StatusBadRequest, "invalid limit")
		return
	}

	resp, err := s.deps.Queries.ListDeposits(r.Context(), q.Get("state"), limit, q.Get("cursor"))
	if err != nil {
		s.writeQueryError(w, endpoint, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleGetPools(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := s.deps.Queries.GetPools(r.Context())
	if err != nil {
		s.writeQueryError(w, "/v1/pools", err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleGetBalances(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	const endpoint = "/v1/balances/{user}"

	user, err := addressing.ParseIdentity(pathParams["user"])
	if err != nil {
		s.writeError(w, endpoint, http.StatusBadRequest, "invalid user identity")
		return
	}

	resp, err := s.deps.Queries.GetBalances(r.Context(), user)
	if err != nil {
		s.writeQueryError(w, endpoint, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleGetActivity(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	const endpoint = "/v1/activity/{user}"

	user, err := addressing.ParseIdentity(pathParams["user"])
	if err != nil {
		s.writeError(w, endpoint, http.StatusBadRequest, "invalid user identity")
		return
	}

	q := r.URL.Query()
	limit, ok := parseLimit(q.Get("limit"))
	if !ok {
		s.writeError(w, endpoint, http.StatusBadRequest, "invalid limit")
		return
	}

	resp, err := s.deps.Queries.GetActivity(r.Context(), user, limit, q.Get("cursor"))
	if err != nil {
		s.writeQueryError(w, endpoint, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	report, err := s.deps.Queries.VerifyIntegrity(r.Context())
	if err != nil {
		s.writeQueryError(w, "/v1/integrity", err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// --- submission handler ---

type submitRequestBody struct {
	RequestType string          `json:"request_type"`
	Payload     json.RawMessage `json:"payload"`
}

type submitResponse struct {
	Accepted  bool   `json:"accepted"`
	Skipped   bool   `json:"skipped,omitempty"`
	Sequence  int64  `json:"sequence"`
	RequestID string `json:"request_id"`
	StateHash string `json:"state_hash,omitempty"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleSubmitRequest feeds a protocol operation through the same core loop
// the stream consumers use and waits for its outcome. The payload shape is
// the persisted envelope payload for the named request type. A payload that
// omits request_id gets a server-assigned one, echoed back in the response.
func (s *HTTPServer) handleSubmitRequest(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	const endpoint = "/v1/requests"

	var body submitRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, endpoint, http.StatusBadRequest, fmt.Sprintf("decode body: %v", err))
		return
	}

	rt, err := request.ParseRequestType(body.RequestType)
	if err != nil {
		s.writeError(w, endpoint, http.StatusBadRequest, err.Error())
		return
	}
	req, err := request.UnmarshalPayload(rt, body.Payload)
	if err != nil {
		s.writeError(w, endpoint, http.StatusBadRequest, err.Error())
		return
	}
	if req.IdempotencyKey() == uuid.Nil.String() {
		request.AssignRequestID(req, uuid.New())
	}

	ctx, cancel := context.WithTimeout(r.Context(), submitTimeout)
	defer cancel()

	outcome, err := s.deps.Submitter.Submit(ctx, req)
	if err != nil {
		s.writeError(w, endpoint, http.StatusServiceUnavailable, "submission timed out")
		return
	}

	resp := submitResponse{Sequence: outcome.Sequence, RequestID: req.IdempotencyKey()}
	switch {
	case outcome.Err != nil:
		resp.Error = outcome.Err.Error()
		if code, ok := protocol.CodeOf(outcome.Err); ok {
			resp.Code = code.String()
		}
		s.writeJSON(w, http.StatusUnprocessableEntity, resp)
	case outcome.Skipped:
		resp.Accepted = true
		resp.Skipped = true
		s.writeJSON(w, http.StatusOK, resp)
	default:
		resp.Accepted = true
		resp.StateHash = hex.EncodeToString(outcome.StateHash[:])
		s.writeJSON(w, http.StatusOK, resp)
	}
}

// --- helpers ---

type errorBody struct {
	Error string `json:"error"`
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("encode response")
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, endpoint string, status int, msg string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.QueryErrors.WithLabelValues(endpoint, errorClass(status)).Inc()
	}
	s.writeJSON(w, status, errorBody{Error: msg})
}

func (s *HTTPServer) writeQueryError(w http.ResponseWriter, endpoint string, err error) {
	switch {
	case errors.Is(err, query.ErrNotFound):
		s.writeError(w, endpoint, http.StatusNotFound, "not found")
	case errors.Is(err, query.ErrInvalidCursor):
		s.writeError(w, endpoint, http.StatusBadRequest, "invalid cursor")
	default:
		s.logger.Error().Err(err).Str("endpoint", endpoint).Msg("query failed")
		s.writeError(w, endpoint, http.StatusInternalServerError, "internal error")
	}
}

func errorClass(status int) string {
	switch {
	case status == http.StatusNotFound:
		return "not_found"
	case status >= 400 && status < 500:
		return "bad_request"
	default:
		return "internal"
	}
}

// parseLimit accepts an empty value as "use the default page size".
func parseLimit(raw string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, false
	}
	return limit, true
}
