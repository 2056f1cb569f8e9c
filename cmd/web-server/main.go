// Drop-Scope Web Server
// Provides REST API + WebSocket endpoints over the telemetry session and
// release calculator, with solution history from the database.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/unklstewy/drop-scope/internal/auth"
	"github.com/unklstewy/drop-scope/internal/db"
	"github.com/unklstewy/drop-scope/pkg/config"
	"github.com/unklstewy/drop-scope/pkg/geo"
	"github.com/unklstewy/drop-scope/pkg/release"
	"github.com/unklstewy/drop-scope/pkg/telemetry"
)

var (
	configPath = flag.String("config", "configs/config.json", "Path to configuration file")
	port       = flag.Int("port", 0, "HTTP server port (overrides config)")
)

// Server holds the HTTP server and its dependencies
type Server struct {
	router       *chi.Mux
	database     *db.DB
	authSvc      *auth.Service
	userRepo     *db.UserRepository
	solutionRepo *db.SolutionRepository
	session      *telemetry.Session
	calc         *release.Calculator
	limiter      *rate.Limiter
	upgrader     websocket.Upgrader
	cfg          *config.Config
	started      time.Time
}

func main() {
	flag.Parse()

	log.Println("Starting Drop-Scope web server...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	database, err := db.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	ctx := context.Background()
	if err := database.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	authSvc := auth.NewService(auth.Config{
		JWTSecret:     cfg.Server.JWTSecret,
		TokenDuration: 24 * time.Hour,
	})

	userRepo := db.NewUserRepository(database.DB)
	if err := seedAdminUser(ctx, userRepo, authSvc); err != nil {
		log.Printf("Warning: admin seed failed: %v", err)
	}

	// The server keeps its own telemetry session so snapshot and solve
	// endpoints work even when the background service is not running.
	session, endpoint, err := connectTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		log.Printf("Warning: no telemetry endpoint reachable: %v", err)
		log.Println("Snapshot and solve endpoints will report DISCONNECTED")
	} else {
		log.Printf("Telemetry connected via %s", endpoint)
		defer session.Disconnect()
	}

	srv := &Server{
		router:       chi.NewRouter(),
		database:     database,
		authSvc:      authSvc,
		userRepo:     userRepo,
		solutionRepo: db.NewSolutionRepository(database.DB),
		session:      session,
		calc: release.NewCalculator(
			release.WithLimits(cfg.Solver.Limits),
			release.WithPayload(cfg.Solver.Payload),
		),
		limiter: rate.NewLimiter(rate.Limit(cfg.Solver.MaxSolvesPerSecond), 1),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Auth happens through the token query parameter before upgrade
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		cfg:     cfg,
		started: time.Now(),
	}

	srv.setupRoutes()

	listenPort := cfg.Server.Port
	if *port != 0 {
		listenPort = strconv.Itoa(*port)
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, listenPort),
		Handler:      srv.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server listening on http://%s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// connectTelemetry walks the configured endpoint chain until one opens.
func connectTelemetry(ctx context.Context, tcfg config.TelemetryConfig) (*telemetry.Session, string, error) {
	var lastErr error
	for _, endpoint := range tcfg.Endpoints() {
		sessCfg := telemetry.Config{
			Endpoint:         endpoint,
			ConnectTimeout:   tcfg.ConnectTimeout(),
			ReceiveTimeout:   tcfg.MessageTimeout(),
			FreshnessTimeout: tcfg.FreshnessTimeout(),
			Reconnect:        telemetry.Policy{Interval: tcfg.ReconnectInterval()},
		}

		session := telemetry.NewSession(sessCfg)
		if err := session.Connect(ctx); err != nil {
			lastErr = err
			continue
		}
		return session, endpoint, nil
	}
	return nil, "", lastErr
}

// seedAdminUser creates the default admin account on first run.
func seedAdminUser(ctx context.Context, repo *db.UserRepository, authSvc *auth.Service) error {
	if _, err := repo.GetByUsername(ctx, "admin"); err == nil {
		return nil
	}

	password := os.Getenv("DROP_SCOPE_ADMIN_PASSWORD")
	if password == "" {
		password = "admin"
		log.Println("Seeding default admin user (password 'admin', change it)")
	}

	hash, err := authSvc.HashPassword(password)
	if err != nil {
		return err
	}

	user := &db.User{
		Username:      "admin",
		Email:         "admin@drop-scope.local",
		PasswordHash:  hash,
		Role:          auth.RoleAdmin,
		IsActive:      true,
		EmailVerified: true,
	}
	if err := repo.Create(ctx, user); err != nil && err != db.ErrUserExists {
		return err
	}
	return nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	r := s.router

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Compress(5))

	// CORS for development
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Post("/auth/login", s.handleLogin)

		// Protected routes (require authentication)
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/logout", s.handleLogout)
			r.Get("/auth/me", s.handleGetCurrentUser)

			// Telemetry endpoints
			r.Get("/telemetry/snapshot", s.handleGetSnapshot)
			r.Get("/telemetry/status", s.handleGetTelemetryStatus)

			// Release solution endpoints
			r.Post("/solve", s.handleSolve)
			r.Get("/solutions/recent", s.handleGetRecentSolutions)
			r.Get("/solutions/{id}", s.handleGetSolution)

			// Target endpoints
			r.Get("/targets", s.handleGetTargets)

			// System endpoints
			r.Get("/system/status", s.handleGetSystemStatus)

			// User management (admin only)
			r.Get("/users", s.handleListUsers)
			r.Post("/users", s.handleCreateUser)
		})

		// WebSocket endpoint, token carried as a query parameter
		r.Get("/ws", s.handleWebSocket)
	})
}

// Auth middleware
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing authorization header", http.StatusUnauthorized)
			return
		}

		// Extract token (format: "Bearer <token>")
		var token string
		if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
			token = authHeader[7:]
		} else {
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}

		claims, err := s.authSvc.ValidateToken(token)
		if err != nil {
			http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), "user_id", claims.UserID)
		ctx = context.WithValue(ctx, "username", claims.Username)
		ctx = context.WithValue(ctx, "role", claims.Role)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// handleLogin handles user login
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, err := s.userRepo.GetByUsername(r.Context(), req.Username)
	if err != nil {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	if err := s.authSvc.ComparePassword(user.PasswordHash, req.Password); err != nil {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	if !user.IsActive {
		http.Error(w, "Account is disabled", http.StatusForbidden)
		return
	}

	token, err := s.authSvc.GenerateToken(user.ID, user.Username, user.Role)
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	_ = s.userRepo.UpdateLastLogin(r.Context(), user.ID)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"token":   token,
		"user": map[string]interface{}{
			"id":       user.ID,
			"username": user.Username,
			"email":    user.Email,
			"role":     user.Role,
		},
	})
}

// handleLogout handles user logout
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	// Tokens are stateless; clients drop them on logout
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
	})
}

// handleGetCurrentUser returns the currently authenticated user
func (s *Server) handleGetCurrentUser(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value("user_id").(int)
	username := r.Context().Value("username").(string)
	role := r.Context().Value("role").(string)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"id":       userID,
		"username": username,
		"role":     role,
	})
}

// handleGetSnapshot returns the latest telemetry snapshot
func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	role := r.Context().Value("role").(string)
	if !auth.CanViewTelemetry(role) {
		http.Error(w, "Insufficient permissions", http.StatusForbidden)
		return
	}

	if s.session == nil {
		http.Error(w, "Telemetry link not configured", http.StatusServiceUnavailable)
		return
	}

	snap, ok := s.session.LatestSnapshot()
	if !ok {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"available": false,
			"state":     s.session.State().String(),
		})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"available": true,
		"state":     s.session.State().String(),
		"stale":     snap.Stale,
		"timestamp": snap.Timestamp,
		"position":  snap.Position,
		"speed":     snap.Speed,
	})
}

// handleGetTelemetryStatus returns the connection state machine status
func (s *Server) handleGetTelemetryStatus(w http.ResponseWriter, r *http.Request) {
	if s.session == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"state": telemetry.StateDisconnected.String(),
		})
		return
	}

	status := s.session.CurrentStatus()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"endpoint":    status.Endpoint,
		"state":       status.State.String(),
		"retry_count": status.RetryCount,
		"last_update": status.LastUpdate,
	})
}

// solveRequest is the POST /solve body. The aircraft block is optional:
// when omitted, the live telemetry snapshot supplies position and speeds.
type solveRequest struct {
	TargetName string `json:"target_name,omitempty"`

	Target *geo.Position `json:"target,omitempty"`

	Aircraft *struct {
		Position geo.Position      `json:"position"`
		Speed    release.SpeedData `json:"speed"`
	} `json:"aircraft,omitempty"`
}

// handleSolve computes a release solution on demand
func (s *Server) handleSolve(w http.ResponseWriter, r *http.Request) {
	role := r.Context().Value("role").(string)
	if !auth.CanRequestSolve(role) {
		http.Error(w, "Insufficient permissions", http.StatusForbidden)
		return
	}

	if !s.limiter.Allow() {
		http.Error(w, "Solve rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	var req solveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// Resolve the target: explicit position beats named config target
	targetName := req.TargetName
	var targetPos geo.Position
	switch {
	case req.Target != nil:
		targetPos = *req.Target
		if targetName == "" {
			targetName = "ad-hoc"
		}
	default:
		tc := s.findTarget(targetName)
		if tc == nil {
			http.Error(w, "Unknown target", http.StatusBadRequest)
			return
		}
		targetName = tc.Name
		targetPos = geo.Position{Latitude: tc.Latitude, Longitude: tc.Longitude, Altitude: tc.Altitude}
	}

	// Resolve the aircraft state: explicit override or live telemetry
	var aircraftPos geo.Position
	var speed release.SpeedData
	if req.Aircraft != nil {
		aircraftPos = req.Aircraft.Position
		speed = req.Aircraft.Speed
	} else {
		if s.session == nil {
			http.Error(w, "Telemetry link not configured", http.StatusServiceUnavailable)
			return
		}
		snap, ok := s.session.LatestSnapshot()
		if !ok {
			http.Error(w, "No telemetry available", http.StatusServiceUnavailable)
			return
		}
		if snap.Stale {
			http.Error(w, "Telemetry is stale, refusing to solve", http.StatusConflict)
			return
		}
		aircraftPos = snap.Position
		speed = snap.Speed
	}

	result := s.calc.CalculateReleasePoint(aircraftPos, targetPos, speed)

	rec, err := s.solutionRepo.InsertResult(r.Context(), targetName, aircraftPos, targetPos, speed, result)
	if err != nil {
		log.Printf("Error storing solution: %v", err)
		// The computation succeeded; report it even if persistence failed
	}

	resp := map[string]interface{}{
		"target_name": targetName,
		"result":      result,
	}
	if rec != nil {
		resp["solution_id"] = rec.ID
	}
	respondJSON(w, http.StatusOK, resp)
}

// findTarget resolves a named target, or the active one when name is empty.
func (s *Server) findTarget(name string) *config.TargetConfig {
	if name == "" {
		return s.cfg.ActiveTarget()
	}
	for i := range s.cfg.Targets {
		if s.cfg.Targets[i].Name == name {
			return &s.cfg.Targets[i]
		}
	}
	return nil
}

// handleGetRecentSolutions returns recent solution history
func (s *Server) handleGetRecentSolutions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	var (
		records []*db.SolutionRecord
		err     error
	)
	if target := r.URL.Query().Get("target"); target != "" {
		records, err = s.solutionRepo.GetRecentByTarget(r.Context(), target, limit)
	} else {
		records, err = s.solutionRepo.GetRecent(r.Context(), limit)
	}
	if err != nil {
		log.Printf("Error getting solutions: %v", err)
		http.Error(w, "Failed to get solutions", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"solutions": records,
		"count":     len(records),
	})
}

// handleGetSolution returns one solution record by ID
func (s *Server) handleGetSolution(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid solution ID", http.StatusBadRequest)
		return
	}

	rec, err := s.solutionRepo.GetByID(r.Context(), id)
	if err == db.ErrSolutionNotFound {
		http.Error(w, "Solution not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("Error getting solution %d: %v", id, err)
		http.Error(w, "Failed to get solution", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, rec)
}

// handleGetTargets returns the configured targets
func (s *Server) handleGetTargets(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"targets": s.cfg.Targets,
		"count":   len(s.cfg.Targets),
	})
}

// handleGetSystemStatus returns overall service health
func (s *Server) handleGetSystemStatus(w http.ResponseWriter, r *http.Request) {
	linkState := telemetry.StateDisconnected.String()
	if s.session != nil {
		linkState = s.session.State().String()
	}

	stats, err := s.database.GetStats(r.Context())
	if err != nil {
		log.Printf("Error getting database stats: %v", err)
		stats = map[string]interface{}{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"telemetry": linkState,
		"database":  db.HealthCheck(s.database),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"stats":     stats,
	})
}

// handleListUsers lists accounts (admin only)
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	role := r.Context().Value("role").(string)
	if !auth.CanManageUsers(role) {
		http.Error(w, "Insufficient permissions", http.StatusForbidden)
		return
	}

	users, err := s.userRepo.List(r.Context(), 100, 0)
	if err != nil {
		log.Printf("Error listing users: %v", err)
		http.Error(w, "Failed to list users", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"users": users,
		"count": len(users),
	})
}

// handleCreateUser creates a new account (admin only)
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	role := r.Context().Value("role").(string)
	if !auth.CanManageUsers(role) {
		http.Error(w, "Insufficient permissions", http.StatusForbidden)
		return
	}

	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		http.Error(w, "Username and password are required", http.StatusBadRequest)
		return
	}
	if req.Role == "" {
		req.Role = auth.RoleViewer
	}

	hash, err := s.authSvc.HashPassword(req.Password)
	if err != nil {
		http.Error(w, "Failed to hash password", http.StatusInternalServerError)
		return
	}

	user := &db.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         req.Role,
		IsActive:     true,
	}
	if err := s.userRepo.Create(r.Context(), user); err != nil {
		if err == db.ErrUserExists {
			http.Error(w, "User already exists", http.StatusConflict)
			return
		}
		log.Printf("Error creating user: %v", err)
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusCreated, user)
}

// wsUpdate is the streamed WebSocket payload.
type wsUpdate struct {
	Timestamp time.Time           `json:"timestamp"`
	State     string              `json:"state"`
	Snapshot  *telemetry.Snapshot `json:"snapshot,omitempty"`
	Latest    *db.SolutionRecord  `json:"latest_solution,omitempty"`
}

// handleWebSocket streams telemetry snapshots and the latest solution
// once per second until the client goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	claims, err := s.authSvc.ValidateToken(token)
	if err != nil {
		http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
		return
	}
	if !auth.CanViewTelemetry(claims.Role) {
		http.Error(w, "Insufficient permissions", http.StatusForbidden)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("WebSocket client connected: %s (%s)", claims.Username, r.RemoteAddr)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	// Reader goroutine detects the client closing
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			log.Printf("WebSocket client disconnected: %s", claims.Username)
			return
		case <-ticker.C:
			update := wsUpdate{Timestamp: time.Now().UTC()}

			if s.session != nil {
				update.State = s.session.State().String()
				if snap, ok := s.session.LatestSnapshot(); ok {
					update.Snapshot = &snap
				}
			} else {
				update.State = telemetry.StateDisconnected.String()
			}

			if recs, err := s.solutionRepo.GetRecent(r.Context(), 1); err == nil && len(recs) > 0 {
				update.Latest = recs[0]
			}

			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(update); err != nil {
				log.Printf("WebSocket write failed: %v", err)
				return
			}
		}
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
