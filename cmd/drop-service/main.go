package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/unklstewy/drop-scope/internal/db"
	"github.com/unklstewy/drop-scope/pkg/config"
	"github.com/unklstewy/drop-scope/pkg/geo"
	"github.com/unklstewy/drop-scope/pkg/release"
	"github.com/unklstewy/drop-scope/pkg/telemetry"
)

// The drop service continuously consumes flight telemetry, recomputes the
// release solution for the active target, and stores every outcome in the
// database so the web server and TUI can share the same data.
func main() {
	configPath := flag.String("config", "configs/config.json", "Path to configuration file")
	flag.Parse()

	log.Println("===========================================")
	log.Println("  Drop-Scope Release Point Service")
	log.Println("===========================================")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Configuration loaded from: %s", *configPath)
	log.Printf("Telemetry endpoints: %v", cfg.Telemetry.Endpoints())
	log.Printf("Solve interval: %d seconds", cfg.Solver.UpdateIntervalSeconds)
	log.Printf("Payload: %.2fkg, Cd %.2f, %.4fm²",
		cfg.Solver.Payload.MassKg, cfg.Solver.Payload.DragCoefficient, cfg.Solver.Payload.CrossSectionM2)

	target := cfg.ActiveTarget()
	if target == nil {
		log.Fatal("Error: No active target configured")
	}
	log.Printf("Active target: %s at %.4f, %.4f, %.0fm",
		target.Name, target.Latitude, target.Longitude, target.Altitude)

	// Connect to database
	log.Println("Connecting to database...")
	database, err := db.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()
	log.Println("Database connected")

	ctx := context.Background()
	if err := database.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}
	log.Println("Database schema initialized")

	// Open the telemetry link, walking the fallback chain until one
	// endpoint answers. Once connected the session reconnects on its own.
	session, endpoint, err := connectTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		log.Fatalf("Failed to open any telemetry endpoint: %v", err)
	}
	defer session.Disconnect()
	log.Printf("Telemetry connected via %s", endpoint)

	calc := release.NewCalculator(
		release.WithLimits(cfg.Solver.Limits),
		release.WithPayload(cfg.Solver.Payload),
	)

	service := &Service{
		session:  session,
		calc:     calc,
		repo:     db.NewSolutionRepository(database.DB),
		db:       database,
		target:   *target,
		interval: cfg.Solver.UpdateInterval(),
		limiter:  rate.NewLimiter(rate.Limit(cfg.Solver.MaxSolvesPerSecond), 1),
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	doneChan := make(chan struct{})
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("PANIC in service goroutine: %v", r)
			}
			close(doneChan)
		}()
		service.Run(runCtx)
	}()

	log.Println("===========================================")
	log.Println("  Service started")
	log.Println("  Press Ctrl+C to stop")
	log.Println("===========================================")

	select {
	case sig := <-sigChan:
		log.Printf("Received signal: %v", sig)
	case <-doneChan:
		log.Println("Service loop stopped")
	}

	log.Println("Shutting down gracefully...")
	cancel()
	<-doneChan
	log.Println("Service stopped")
}

// connectTelemetry walks the configured endpoint chain until one opens.
// Returns the connected session and the endpoint that answered.
func connectTelemetry(ctx context.Context, tcfg config.TelemetryConfig) (*telemetry.Session, string, error) {
	var lastErr error
	for _, endpoint := range tcfg.Endpoints() {
		log.Printf("Trying telemetry endpoint %s...", endpoint)

		sessCfg := telemetry.Config{
			Endpoint:         endpoint,
			ConnectTimeout:   tcfg.ConnectTimeout(),
			ReceiveTimeout:   tcfg.MessageTimeout(),
			FreshnessTimeout: tcfg.FreshnessTimeout(),
			Reconnect:        telemetry.Policy{Interval: tcfg.ReconnectInterval()},
		}

		session := telemetry.NewSession(sessCfg)
		if err := session.Connect(ctx); err != nil {
			log.Printf("Endpoint %s failed: %v", endpoint, err)
			lastErr = err
			continue
		}
		return session, endpoint, nil
	}
	return nil, "", lastErr
}

// Service drives the periodic solve loop.
type Service struct {
	session  *telemetry.Session
	calc     *release.Calculator
	repo     *db.SolutionRepository
	db       *db.DB
	target   config.TargetConfig
	interval time.Duration
	limiter  *rate.Limiter

	// Statistics
	totalSolves int
	successful  int
	skipped     int
}

// Run starts the solve loop. It returns when the context is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Periodic cleanup keeps 7 days of solution history
	cleanupTicker := time.NewTicker(time.Hour)
	defer cleanupTicker.Stop()

	statsTicker := time.NewTicker(30 * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.solve(ctx)
		case <-cleanupTicker.C:
			s.cleanup(ctx)
		case <-statsTicker.C:
			s.printStats()
		}
	}
}

// solve computes and persists one release solution from the latest
// telemetry snapshot.
func (s *Service) solve(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("PANIC in solve(): %v", r)
			log.Println("Solve will be retried on next cycle")
		}
	}()

	if !s.limiter.Allow() {
		s.skipped++
		return
	}

	snap, ok := s.session.LatestSnapshot()
	if !ok {
		log.Printf("No telemetry yet (link %s), skipping solve", s.session.State())
		s.skipped++
		return
	}
	if snap.Stale {
		// Refuse to compute from old data; the aircraft has moved on
		log.Printf("Telemetry stale since %s, skipping solve", snap.Timestamp.Format("15:04:05"))
		s.skipped++
		return
	}

	targetPos := geo.Position{
		Latitude:  s.target.Latitude,
		Longitude: s.target.Longitude,
		Altitude:  s.target.Altitude,
	}

	result := s.calc.CalculateReleasePoint(snap.Position, targetPos, snap.Speed)
	s.totalSolves++

	if result.OK() {
		s.successful++
		sol := result.Solution
		log.Printf("[%s] Release in %.1fs: %.0fm short of target, bearing %.1f°, fall %.1fs",
			s.target.Name, sol.ReleaseTime, sol.ReleaseDistance, sol.TargetBearing, sol.FlightTime)
	} else {
		log.Printf("[%s] No solution: %s (%s)", s.target.Name, result.Message, result.Code)
	}
	for _, w := range result.Warnings {
		log.Printf("[%s] Warning: %s", s.target.Name, w)
	}

	if _, err := s.repo.InsertResult(ctx, s.target.Name, snap.Position, targetPos, snap.Speed, result); err != nil {
		log.Printf("Error storing solution: %v", err)
	}
}

// cleanup trims old solution history.
func (s *Service) cleanup(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("PANIC in cleanup(): %v", r)
		}
	}()

	if err := s.db.CleanupOldData(ctx, 7*24*time.Hour); err != nil {
		log.Printf("Error during cleanup: %v", err)
		return
	}
	log.Println("Cleanup completed")
}

// printStats displays current statistics.
func (s *Service) printStats() {
	status := s.session.CurrentStatus()
	log.Printf("Stats: %d solves (%d successful, %d skipped) | link %s via %s, %d retries",
		s.totalSolves, s.successful, s.skipped,
		status.State, status.Endpoint, status.RetryCount)
}
