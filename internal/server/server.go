package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"scanguard/internal/audit"
	"scanguard/internal/common"
	"scanguard/internal/detection"
	"scanguard/internal/feed"
	"scanguard/internal/metrics"
	"scanguard/internal/normalize"
	"scanguard/internal/pipeline"
	"scanguard/internal/policy"
)

const (
	maxJSONBody  = 1 << 20
	maxBatchBody = 8 << 20
	shutdownWait = 5 * time.Second
)

// AuditLog lists recorded audit events.
type AuditLog interface {
	Recent(ctx context.Context, limit int) ([]audit.Event, error)
}

// IndicatorCounter reports how many threat indicators are loaded.
type IndicatorCounter interface {
	Len() int
}

// Server wraps HTTP and gRPC servers
type Server struct {
	svc        *pipeline.Service
	cfg        *Config
	router     *mux.Router
	grpcSrv    *grpc.Server
	hub        *feed.Hub
	indicators IndicatorCounter
	auditLog   AuditLog
	limiter    *ipLimiter
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

type Option func(*Server)

func WithHub(h *feed.Hub) Option { return func(s *Server) { s.hub = h } }

func WithIndicators(c IndicatorCounter) Option { return func(s *Server) { s.indicators = c } }

func WithAuditLog(a AuditLog) Option { return func(s *Server) { s.auditLog = a } }

func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

func New(svc *pipeline.Service, cfg *Config, opts ...Option) *Server {
	s := &Server{
		svc:    svc,
		cfg:    cfg,
		router: mux.NewRouter(),
		logger: slog.Default(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.limiter = newIPLimiter(cfg.RateLimit, cfg.RateBurst)
	s.grpcSrv = grpc.NewServer()
	RegisterScannerServer(s.grpcSrv, &scannerService{srv: s})
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(s.limiter.middleware)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/analyze/batch", s.handleBatch).Methods(http.MethodPost)
	api.HandleFunc("/analyze/qr", s.handleAnalyzeQR).Methods(http.MethodPost)
	api.HandleFunc("/analyze/{channel:url|email|sms}", s.handleAnalyze).Methods(http.MethodPost)
	api.HandleFunc("/policy/decide", s.handleDecide).Methods(http.MethodPost)
	api.HandleFunc("/policy/override", s.handleOverride).Methods(http.MethodPost)
	api.HandleFunc("/policy/block", s.handleBlock).Methods(http.MethodPost)
	api.HandleFunc("/policies", s.handleListPolicies).Methods(http.MethodGet)
	api.HandleFunc("/policies", s.handleCreatePolicy).Methods(http.MethodPost)
	api.HandleFunc("/policies/{name}", s.handleGetPolicy).Methods(http.MethodGet)
	api.HandleFunc("/policies/{name}", s.handleDeletePolicy).Methods(http.MethodDelete)
	api.HandleFunc("/audit", s.handleAudit).Methods(http.MethodGet)
	api.HandleFunc("/feed", s.handleFeed).Methods(http.MethodGet)
	api.HandleFunc("/feed/stats", s.handleFeedStats).Methods(http.MethodGet)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	s.router.HandleFunc("/ws/feed", s.handleFeedSocket).Methods(http.MethodGet)
}

func (s *Server) Router() http.Handler { return s.router }

// GRPC returns the gRPC server with the scanner service registered.
func (s *Server) GRPC() *grpc.Server { return s.grpcSrv }

// Run serves HTTP, gRPC and metrics and sends feed heartbeats until ctx is
// done or one of them fails. Empty addresses are skipped.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	httpSrv := &http.Server{Addr: s.cfg.HTTPAddr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	g.Go(func() error {
		s.logger.Info("listening", "addr", s.cfg.HTTPAddr)
		return ignoreClosed(httpSrv.ListenAndServe())
	})

	var metricsSrv *http.Server
	if s.cfg.MetricsAddr != "" {
		m := http.NewServeMux()
		m.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{Addr: s.cfg.MetricsAddr, Handler: m, ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			s.logger.Info("metrics listening", "addr", s.cfg.MetricsAddr)
			return ignoreClosed(metricsSrv.ListenAndServe())
		})
	}

	if s.cfg.GRPCAddr != "" {
		ln, err := net.Listen("tcp", s.cfg.GRPCAddr)
		if err != nil {
			return err
		}
		g.Go(func() error {
			s.logger.Info("grpc listening", "addr", s.cfg.GRPCAddr)
			return s.grpcSrv.Serve(ln)
		})
	}

	if s.hub != nil {
		g.Go(func() error {
			s.hub.Run(ctx, s.cfg.HeartbeatInterval)
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownWait)
		defer cancel()
		if s.hub != nil {
			s.hub.Close()
		}
		s.grpcSrv.GracefulStop()
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(sctx)
		}
		return httpSrv.Shutdown(sctx)
	})

	return g.Wait()
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

type analyzeRequest struct {
	Content string `json:"content"`
	Sender  string `json:"sender,omitempty"`
	Policy  string `json:"policy,omitempty"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if !s.decode(w, r, maxJSONBody, &req) {
		return
	}
	rep, err := s.svc.Analyze(r.Context(), pipeline.Request{
		Channel: common.Channel(mux.Vars(r)["channel"]),
		Content: req.Content,
		Sender:  req.Sender,
		Policy:  req.Policy,
	})
	if err != nil {
		s.analysisError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// handleAnalyzeQR accepts a multipart upload in the "file" field or the raw
// image as the request body.
func (s *Server) handleAnalyzeQR(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, normalize.MaxImageBytes+(1<<20))
	var (
		data []byte
		err  error
	)
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "multipart/form-data" {
		file, _, ferr := r.FormFile("file")
		if ferr != nil {
			writeError(w, http.StatusBadRequest, "missing file field")
			return
		}
		defer file.Close()
		data, err = io.ReadAll(file)
	} else {
		data, err = io.ReadAll(r.Body)
	}
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "image too large")
			return
		}
		writeError(w, http.StatusBadRequest, "could not read image")
		return
	}

	rep, err := s.svc.AnalyzeImage(r.Context(), data, r.URL.Query().Get("policy"))
	if err != nil {
		s.analysisError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type batchRequest struct {
	Items   []pipeline.Request `json:"items"`
	Workers int                `json:"workers,omitempty"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if !s.decode(w, r, maxBatchBody, &req) {
		return
	}
	items, err := s.svc.AnalyzeBatch(r.Context(), req.Items, req.Workers)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": items})
}

type decideRequest struct {
	Result    *detection.AnalysisResult `json:"result,omitempty"`
	RiskScore *int                      `json:"risk_score,omitempty"`
	RiskLevel common.RiskLevel          `json:"risk_level,omitempty"`
	Policy    string                    `json:"policy,omitempty"`
}

func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	var req decideRequest
	if !s.decode(w, r, maxJSONBody, &req) {
		return
	}
	if req.Result != nil {
		writeJSON(w, http.StatusOK, s.svc.Decide(req.Result, req.Policy))
		return
	}
	if req.RiskScore == nil || !validLevel(req.RiskLevel) {
		writeError(w, http.StatusBadRequest, "result or risk_score and risk_level are required")
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Policies().Decide(*req.RiskScore, req.RiskLevel, req.Policy))
}

func validLevel(l common.RiskLevel) bool {
	switch l {
	case common.RiskSafe, common.RiskSuspicious, common.RiskDangerous:
		return true
	}
	return false
}

type overrideRequest struct {
	UserID    string           `json:"user_id"`
	Content   string           `json:"content"`
	RiskScore int              `json:"risk_score"`
	RiskLevel common.RiskLevel `json:"risk_level,omitempty"`
	Reason    string           `json:"reason,omitempty"`
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if !s.decode(w, r, maxJSONBody, &req) {
		return
	}
	writeJSON(w, http.StatusAccepted, s.svc.Policies().LogOverride(req.UserID, req.Content, req.RiskScore, req.Reason))
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if !s.decode(w, r, maxJSONBody, &req) {
		return
	}
	writeJSON(w, http.StatusAccepted, s.svc.Policies().LogBlock(req.UserID, req.Content, req.RiskScore, req.RiskLevel))
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.auditLog == nil {
		writeError(w, http.StatusNotFound, "audit log not configured")
		return
	}
	events, err := s.auditLog.Recent(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		s.logger.Error("audit query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "audit query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleListPolicies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"policies": s.svc.Policies().ListPolicies()})
}

type createPolicyRequest struct {
	Name string `json:"name"`
	policy.Config
}

func (s *Server) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req createPolicyRequest
	if !s.decode(w, r, maxJSONBody, &req) {
		return
	}
	p, err := s.svc.Policies().CreatePolicy(req.Name, req.Config)
	if err != nil {
		s.policyError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.Policies().GetPolicy(mux.Vars(r)["name"])
	if err != nil {
		s.policyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Policies().DeletePolicy(mux.Vars(r)["name"]); err != nil {
		s.policyError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"threats": s.svc.RecentFeed(queryInt(r, "limit", s.cfg.FeedSnapshotLimit)),
		"stats":   s.svc.FeedStats(),
	})
}

func (s *Server) handleFeedStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.FeedStats())
}

func (s *Server) handleFeedSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	sub := feed.NewWSSubscriber(conn, 0, s.logger)
	if err := s.svc.Subscribe(sub, queryInt(r, "limit", s.cfg.FeedSnapshotLimit)); err != nil {
		s.logger.Debug("feed subscription rejected", "subscriber", sub.ID(), "error", err)
		return
	}
	sub.ReadPump()
	s.svc.Unsubscribe(sub.ID())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	cacheState := "available"
	if !s.svc.Cache().Available() {
		cacheState = "degraded"
	}
	body := map[string]any{
		"status":   "ok",
		"cache":    cacheState,
		"policies": s.svc.Policies().ListPolicies(),
		"feed":     s.svc.FeedStats(),
	}
	if st, ok := s.svc.Cache().Stats(); ok {
		body["cache_stats"] = st
	}
	if s.hub != nil {
		body["subscribers"] = s.hub.SubscriberCount()
	}
	if s.indicators != nil {
		body["indicators"] = s.indicators.Len()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) analysisError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, normalize.ErrContentTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, normalize.ErrInvalidContent):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("analysis failed", "error", err)
		writeError(w, http.StatusInternalServerError, "analysis failed")
	}
}

func (s *Server) policyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, policy.ErrPolicyNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, policy.ErrInvalidPolicy):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
