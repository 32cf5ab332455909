// Package api provides the HTTP and WebSocket surface for running backtests.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/panya30/MaxTrade-sub000/internal/backtester"
	"github.com/panya30/MaxTrade-sub000/internal/config"
	"github.com/panya30/MaxTrade-sub000/internal/data"
	"github.com/panya30/MaxTrade-sub000/internal/strategy"
	"github.com/panya30/MaxTrade-sub000/internal/telemetry"
	"github.com/panya30/MaxTrade-sub000/internal/workers"
	"github.com/panya30/MaxTrade-sub000/pkg/types"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Run status values
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Server is the backtest API server
type Server struct {
	mu         sync.RWMutex
	logger     *zap.Logger
	config     types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	hub        *Hub
	loader     *config.Loader

	store    *data.Store
	registry *strategy.Registry
	runner   *workers.BatchRunner
	recorder *telemetry.Recorder

	backtests map[string]*BacktestState
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// BacktestState tracks one submitted run
type BacktestState struct {
	ID         string                  `json:"id"`
	Status     string                  `json:"status"`
	Strategy   string                  `json:"strategy"`
	Symbols    []string                `json:"symbols"`
	Started    time.Time               `json:"started"`
	Completed  time.Time               `json:"completed,omitzero"`
	Duration   time.Duration           `json:"duration,omitempty"`
	Error      string                  `json:"error,omitempty"`
	Result     *types.BacktestResult   `json:"result,omitempty"`
	MonteCarlo *types.MonteCarloResult `json:"monteCarlo,omitempty"`
}

// summary drops the result payload
func (b BacktestState) summary() BacktestState {
	b.Result = nil
	b.MonteCarlo = nil
	return b
}

// RunRequest is the body of POST /api/v1/backtest/run. Config starts from
// the defaults so a request only names the fields it overrides. Start and
// End use the YYYY-MM-DD layout and may be empty for an unbounded range.
type RunRequest struct {
	Symbols    []string                     `json:"symbols" validate:"required,min=1,dive,required"`
	Start      string                       `json:"start" validate:"omitempty,datetime=2006-01-02"`
	End        string                       `json:"end" validate:"omitempty,datetime=2006-01-02"`
	Benchmark  string                       `json:"benchmark"`
	Strategy   string                       `json:"strategy" validate:"required"`
	Params     map[string]any               `json:"params"`
	Signals    json.RawMessage              `json:"signals,omitempty"`
	Config     types.BacktestConfig         `json:"config"`
	MonteCarlo *backtester.MonteCarloConfig `json:"monteCarlo,omitempty"`
}

// NewServer creates a new API server. recorder may be nil, in which case
// /metrics is not served.
func NewServer(
	logger *zap.Logger,
	cfg types.ServerConfig,
	store *data.Store,
	registry *strategy.Registry,
	runner *workers.BatchRunner,
	recorder *telemetry.Recorder,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WebSocketPath == "" {
		cfg.WebSocketPath = types.DefaultServerConfig().WebSocketPath
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		logger: logger.Named("api"),
		config: cfg,
		router: mux.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		hub:       NewHub(logger),
		loader:    config.NewLoader(logger),
		store:     store,
		registry:  registry,
		runner:    runner,
		recorder:  recorder,
		backtests: make(map[string]*BacktestState),
		ctx:       ctx,
		cancel:    cancel,
	}

	s.setupRoutes()
	go s.hub.Run(ctx)
	return s
}

// setupRoutes configures HTTP routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	api.HandleFunc("/data/symbols", s.handleGetSymbols).Methods("GET")
	api.HandleFunc("/data/{symbol}/quality", s.handleDataQuality).Methods("GET")

	api.HandleFunc("/strategies", s.handleGetStrategies).Methods("GET")

	api.HandleFunc("/backtests", s.handleListBacktests).Methods("GET")
	api.HandleFunc("/backtest/run", s.handleRunBacktest).Methods("POST")
	api.HandleFunc("/backtest/{id}", s.handleGetBacktest).Methods("GET")
	api.HandleFunc("/backtest/{id}/trades", s.handleGetBacktestTrades).Methods("GET")
	api.HandleFunc("/backtest/{id}/equity", s.handleGetBacktestEquity).Methods("GET")

	if s.recorder != nil {
		s.router.Handle("/metrics", s.recorder.Handler()).Methods("GET")
	}

	s.router.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)
}

// Router returns the bare router
func (s *Server) Router() *mux.Router {
	return s.router
}

// Handler returns the router wrapped with CORS handling
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves HTTP until Stop is called
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.mu.Lock()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("Starting API server", zap.String("addr", addr))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Stop disconnects WebSocket clients, waits for in-flight runs and shuts
// down the HTTP server, all bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Backtests still running at shutdown")
	}

	s.mu.RLock()
	srv := s.httpServer
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

// handleHealth returns server health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	running := 0
	for _, b := range s.backtests {
		if b.Status == StatusRunning {
			running++
		}
	}
	total := len(s.backtests)
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"time":      time.Now().Unix(),
		"backtests": total,
		"running":   running,
		"clients":   s.hub.ClientCount(),
	})
}

// handleGetSymbols returns the symbols with stored data
func (s *Server) handleGetSymbols(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"symbols": s.store.GetAvailableSymbols(),
	})
}

// handleDataQuality runs the quality checks over a stored series
func (s *Server) handleDataQuality(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	report, err := s.store.Validate(r.Context(), symbol)
	if err != nil {
		if errors.Is(err, data.ErrNoData) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleGetStrategies returns the registered strategies and their defaults
func (s *Server) handleGetStrategies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"strategies": s.registry.Describe(),
	})
}

// handleListBacktests returns every run without its result payload
func (s *Server) handleListBacktests(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	list := make([]BacktestState, 0, len(s.backtests))
	for _, b := range s.backtests {
		list = append(list, b.summary())
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if !list[i].Started.Equal(list[j].Started) {
			return list[i].Started.Before(list[j].Started)
		}
		return list[i].ID < list[j].ID
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"backtests": list,
		"count":     len(list),
	})
}

// handleRunBacktest validates a request, loads its data and queues the run
func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	req := RunRequest{Config: types.DefaultBacktestConfig()}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := s.loader.Validate(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	start, end, err := req.dateRange()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	newGenerator, err := s.generatorFor(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	input, err := s.store.LoadBacktestData(r.Context(), req.Symbols, start, end, req.Benchmark)
	if err != nil {
		if errors.Is(err, data.ErrNoData) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	state := &BacktestState{
		ID:       uuid.New().String(),
		Status:   StatusRunning,
		Strategy: req.Strategy,
		Symbols:  input.Symbols,
		Started:  time.Now(),
	}
	job := workers.Job{
		ID:           state.ID,
		Config:       req.Config,
		Data:         input,
		NewGenerator: newGenerator,
	}

	s.mu.Lock()
	s.backtests[state.ID] = state
	summary := state.summary()
	s.mu.Unlock()

	s.logger.Info("Backtest queued",
		zap.String("id", state.ID),
		zap.String("strategy", req.Strategy),
		zap.Strings("symbols", input.Symbols),
	)

	s.hub.PublishBacktest(MsgTypeBacktestStarted, state.ID, summary)

	s.wg.Add(1)
	go s.execute(state, job, req.MonteCarlo)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":      state.ID,
		"status":  StatusRunning,
		"started": state.Started.Unix(),
	})
}

// execute runs a queued job on the batch runner and publishes the outcome
func (s *Server) execute(state *BacktestState, job workers.Job, mc *backtester.MonteCarloConfig) {
	defer s.wg.Done()

	res := s.runner.RunBatch(s.ctx, []workers.Job{job})[0]

	var monteCarlo *types.MonteCarloResult
	if res.Err == nil && mc != nil {
		sim := backtester.NewMonteCarloSimulator(s.logger, *mc)
		monteCarlo = sim.Run(res.Result.Trades, res.Result.Metrics.InitialCapital)
	}

	s.mu.Lock()
	state.Completed = time.Now()
	state.Duration = res.Duration
	msgType := MsgTypeBacktestComplete
	if res.Err != nil {
		state.Status = StatusFailed
		state.Error = res.Err.Error()
		msgType = MsgTypeBacktestFailed
	} else {
		state.Status = StatusCompleted
		state.Result = res.Result
		state.MonteCarlo = monteCarlo
	}
	summary := state.summary()
	s.mu.Unlock()

	if res.Err != nil {
		s.logger.Error("Backtest failed", zap.String("id", state.ID), zap.Error(res.Err))
	} else {
		s.logger.Info("Backtest completed",
			zap.String("id", state.ID),
			zap.Int("trades", len(res.Result.Trades)),
			zap.Duration("duration", res.Duration),
		)
	}
	s.hub.PublishBacktest(msgType, state.ID, summary)
}

// generatorFor builds the generator factory a job calls once per run
func (s *Server) generatorFor(req RunRequest) (func() backtester.SignalGenerator, error) {
	if req.Strategy == strategy.ReplayName {
		if len(req.Signals) == 0 {
			return nil, errors.New("replay strategy requires signals")
		}
		replay, err := strategy.ParseReplay(s.logger, req.Signals)
		if err != nil {
			return nil, err
		}
		return replay.Generator, nil
	}

	strat, err := s.registry.Create(req.Strategy, req.Params)
	if err != nil {
		return nil, err
	}
	return strat.Generator, nil
}

func (req RunRequest) dateRange() (start, end time.Time, err error) {
	if req.Start != "" {
		if start, err = time.Parse(strategy.DateLayout, req.Start); err != nil {
			return start, end, fmt.Errorf("invalid start date: %w", err)
		}
	}
	if req.End != "" {
		if end, err = time.Parse(strategy.DateLayout, req.End); err != nil {
			return start, end, fmt.Errorf("invalid end date: %w", err)
		}
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return start, end, errors.New("end date is before start date")
	}
	return start, end, nil
}

// lookup returns a copy of a run's state
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (BacktestState, bool) {
	id := mux.Vars(r)["id"]

	s.mu.RLock()
	state, ok := s.backtests[id]
	var snapshot BacktestState
	if ok {
		snapshot = *state
	}
	s.mu.RUnlock()

	if !ok {
		writeError(w, http.StatusNotFound, "backtest not found")
	}
	return snapshot, ok
}

// handleGetBacktest returns backtest results
func (s *Server) handleGetBacktest(w http.ResponseWriter, r *http.Request) {
	state, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleGetBacktestTrades returns trades from a backtest
func (s *Server) handleGetBacktestTrades(w http.ResponseWriter, r *http.Request) {
	state, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if state.Result == nil {
		writeError(w, http.StatusBadRequest, "backtest not complete")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":     state.ID,
		"trades": state.Result.Trades,
		"count":  len(state.Result.Trades),
	})
}

// handleGetBacktestEquity returns the equity curve and monthly returns
func (s *Server) handleGetBacktestEquity(w http.ResponseWriter, r *http.Request) {
	state, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if state.Result == nil {
		writeError(w, http.StatusBadRequest, "backtest not complete")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":             state.ID,
		"equityCurve":    state.Result.EquityCurve,
		"monthlyReturns": state.Result.MonthlyReturns,
	})
}

// handleWebSocket upgrades the connection and hands it to the hub
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(uuid.New().String(), s.hub, conn)
	if !s.hub.Register(client) {
		conn.Close()
		return
	}

	s.logger.Info("WebSocket client connected", zap.String("id", client.id))

	go client.ReadPump()
	go client.WritePump()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
