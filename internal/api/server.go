package api

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/amara/loan-screener/internal/ai"
	"github.com/amara/loan-screener/internal/auth"
	"github.com/amara/loan-screener/internal/config"
	"github.com/amara/loan-screener/internal/db"
	"github.com/amara/loan-screener/internal/engine"
	"github.com/amara/loan-screener/internal/kiva"
	"github.com/amara/loan-screener/internal/models"
	"github.com/amara/loan-screener/internal/screening"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type Server struct {
	Store       *db.Store
	AuthService *auth.Service
	Echo        *echo.Echo
	DB          *pgxpool.Pool
	AI          *ai.OllamaClient

	// Background job tracking
	jobMu      sync.Mutex
	runningJob *backgroundJob
}

type backgroundJob struct {
	ID        string             `json:"id"`
	Status    string             `json:"status"` // running, completed, failed
	StartedAt time.Time          `json:"started_at"`
	EndedAt   time.Time          `json:"ended_at,omitempty"`
	Result    any                `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
	Cancel    context.CancelFunc `json:"-"`
}

var (
	adminSecretOnce    sync.Once
	adminSecretRuntime string
	adminSecretErr     error
)

func NewServer(pool *pgxpool.Pool) *Server {
	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	// CORS: allow frontend origins from env or default to localhost
	allowedOrigins := []string{"http://localhost:4200"}
	if extra := os.Getenv("ALLOWED_ORIGINS"); extra != "" {
		for _, o := range strings.Split(extra, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				allowedOrigins = append(allowedOrigins, o)
			}
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "X-Admin-Secret"},
	}))

	store := db.NewStore(pool)
	authService := auth.NewService(pool)

	// Initialize the embedding client once
	aiClient := ai.NewOllamaClient(os.Getenv("OLLAMA_URL"), "")

	s := &Server{
		DB:          pool,
		Store:       store,
		AuthService: authService,
		Echo:        e,
		AI:          aiClient,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)
	api := s.Echo.Group("/api/v1")
	api.GET("/loans", s.handleListLoans)
	api.GET("/loans/:id", s.handleGetLoan)
	api.GET("/runs", s.handleListRuns)
	api.GET("/runs/:id", s.handleGetRun)
	api.GET("/profiles", s.handleGetProfiles)
	// Public Stats
	api.GET("/stats", s.handleGetStats)
	api.GET("/aggregations", s.handleGetAggregations)

	// Admin Routes (Screening Control)
	admin := api.Group("")
	admin.Use(s.adminMiddleware)
	admin.POST("/admin/screen", s.handleScreen)
	admin.POST("/admin/rescore", s.handleRescore)
	admin.POST("/admin/portfolio/sync", s.handleSyncPortfolio)
	admin.POST("/admin/enrich-partners", s.handleEnrichPartners)
	admin.GET("/admin/jobs/:id", s.handleJobStatus)

	// Auth Routes
	api.POST("/auth/signup", s.handleSignup)
	api.POST("/auth/login", s.handleLogin)

	// Protected Routes (Watchlist)
	watch := api.Group("/watchlist")
	watch.Use(auth.Middleware)
	watch.POST("/:id", s.handleWatchLoan)
	watch.DELETE("/:id", s.handleUnwatchLoan)
	watch.GET("", s.handleGetWatchlist)
}

func (s *Server) handleSignup(c echo.Context) error {
	var req auth.SignupRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	resp, err := s.AuthService.Signup(c.Request().Context(), req)
	if err != nil {
		if err == auth.ErrUserExists {
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleLogin(c echo.Context) error {
	var req auth.LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	resp, err := s.AuthService.Login(c.Request().Context(), req)
	if err != nil {
		if err == auth.ErrInvalidCreds {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid credentials"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (s *Server) handleListLoans(c echo.Context) error {
	q := c.QueryParam("q")
	eligibility := c.QueryParam("eligibility")
	// These are multi-value CSV
	country := c.QueryParam("country")
	sector := c.QueryParam("sector")
	partner := c.QueryParam("partner")
	batch := c.QueryParam("batch")
	tierStr := c.QueryParam("tier")
	limitStr := c.QueryParam("limit")
	offsetStr := c.QueryParam("offset")
	minAmountStr := c.QueryParam("min_amount")
	maxAmountStr := c.QueryParam("max_amount")
	sortBy := c.QueryParam("sort")

	limit := 20
	offset := 0
	var tier int
	var minAmount, maxAmount float64

	if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
		limit = l
	}
	if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
		offset = o
	}
	if v, err := strconv.Atoi(tierStr); err == nil && v >= 1 && v <= 4 {
		tier = v
	}
	if v, err := strconv.ParseFloat(minAmountStr, 64); err == nil && v > 0 {
		minAmount = v
	}
	if v, err := strconv.ParseFloat(maxAmountStr, 64); err == nil && v > 0 {
		maxAmount = v
	}

	// Generate embedding for semantic search
	var queryEmbedding []float32
	if q != "" {
		// Create a context with timeout for AI operation
		aiCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		vec, err := s.AI.GenerateEmbedding(aiCtx, q)
		if err != nil {
			c.Logger().Errorf("Failed to generate query embedding: %v", err)
			// Apply fallback: proceed with keyword search (queryEmbedding remains nil)
		} else {
			queryEmbedding = vec
		}
	}

	result, err := s.Store.ListScreenedLoans(c.Request().Context(), db.ListParams{
		Query:          q,
		QueryEmbedding: queryEmbedding,
		Eligibility:    eligibility,
		Country:        splitCSV(country),
		Sector:         splitCSV(sector),
		Partner:        splitCSV(partner),
		Batch:          batch,
		Tier:           tier,
		MinAmount:      minAmount,
		MaxAmount:      maxAmount,
		SortBy:         sortBy,
		Limit:          limit,
		Offset:         offset,
	})
	if err != nil {
		c.Logger().Errorf("Failed to list loans: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}

	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleGetLoan(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid loan ID"})
	}

	loan, err := s.Store.GetScreenedLoan(c.Request().Context(), id)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Not found"})
	}
	return c.JSON(http.StatusOK, loan)
}

func (s *Server) handleListRuns(c echo.Context) error {
	limit := 20
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 && l <= 100 {
		limit = l
	}

	runs, err := s.Store.ListRuns(c.Request().Context(), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *Server) handleGetRun(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid run ID"})
	}

	run, err := s.Store.GetRun(c.Request().Context(), id)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Not found"})
	}
	return c.JSON(http.StatusOK, run)
}

// profileView is the wire shape for a registry profile: the resolved
// engine thresholds rather than the raw YAML overrides.
type profileView struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Config      engine.FilterConfig `json:"config"`
	PageSize    int                 `json:"page_size"`
	MaxPages    int                 `json:"max_pages"`
}

func (s *Server) handleGetProfiles(c echo.Context) error {
	reg, err := config.LoadRegistry("")
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	views := make([]profileView, 0, len(reg.Profiles))
	for _, p := range reg.Profiles {
		views = append(views, profileView{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Config:      p.FilterConfig(),
			PageSize:    p.Fetch.PageSize,
			MaxPages:    p.Fetch.MaxPages,
		})
	}
	return c.JSON(http.StatusOK, views)
}

func (s *Server) handleGetStats(c echo.Context) error {
	stats, err := s.Store.GetStats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleGetAggregations(c echo.Context) error {
	params := db.AggregationParams{
		Eligibility: c.QueryParam("eligibility"),
		Batch:       c.QueryParam("batch"),
	}
	if v := c.QueryParam("country"); v != "" {
		params.Country = splitCSV(v)
	}
	if v := c.QueryParam("sector"); v != "" {
		params.Sector = splitCSV(v)
	}
	if v := c.QueryParam("partner"); v != "" {
		params.Partner = splitCSV(v)
	}
	aggs, err := s.Store.GetAggregations(c.Request().Context(), params)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, aggs)
}

// splitCSV splits a comma-separated query parameter into trimmed non-empty strings.
func splitCSV(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}

// Admin Handlers

func (s *Server) handleScreen(c echo.Context) error {
	reg, err := config.LoadRegistry("")
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	profileID := strings.TrimSpace(c.QueryParam("profile"))
	if profileID == "" {
		profileID = "default"
	}
	profile, ok := reg.Get(profileID)
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown profile %q", profileID)})
	}

	maxPages := 0
	if raw := strings.TrimSpace(c.QueryParam("pages")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 50 {
			maxPages = parsed
		}
	}

	job, started := s.startJob(c.Request().Context(), "screen", func(ctx context.Context) (any, error) {
		pipeline := screening.NewPipeline(s.DB, screening.NewGatewaySource(profile.Fetch), nil, s.AI)
		stats, _, err := pipeline.Screen(ctx, profile, maxPages)
		if err != nil {
			return nil, err
		}
		return stats, nil
	})
	if !started {
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"error":  "A job is already running",
			"job_id": job.ID,
		})
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"message": "Screening started",
		"profile": profile.ID,
		"job_id":  job.ID,
		"poll":    fmt.Sprintf("/api/v1/admin/jobs/%s", job.ID),
	})
}

func (s *Server) handleRescore(c echo.Context) error {
	reg, err := config.LoadRegistry("")
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	profileID := strings.TrimSpace(c.QueryParam("profile"))
	if profileID == "" {
		profileID = "default"
	}
	profile, ok := reg.Get(profileID)
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown profile %q", profileID)})
	}

	batchSize := 200
	if raw := strings.TrimSpace(c.QueryParam("batch_size")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 5000 {
			batchSize = parsed
		}
	}

	job, started := s.startJob(c.Request().Context(), "rescore", func(ctx context.Context) (any, error) {
		pipeline := screening.NewPipeline(s.DB, nil, nil, s.AI)
		return pipeline.Rescore(ctx, profile, batchSize)
	})
	if !started {
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"error":  "A job is already running",
			"job_id": job.ID,
		})
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"message": "Rescore started",
		"profile": profile.ID,
		"job_id":  job.ID,
		"poll":    fmt.Sprintf("/api/v1/admin/jobs/%s", job.ID),
	})
}

func (s *Server) handleSyncPortfolio(c echo.Context) error {
	lender := strings.TrimSpace(c.QueryParam("lender"))
	if lender == "" {
		lender = strings.TrimSpace(os.Getenv("LENDER_PUBLIC_ID"))
	}
	if lender == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "lender param or LENDER_PUBLIC_ID required"})
	}

	maxPages := 10
	if raw := strings.TrimSpace(c.QueryParam("pages")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 50 {
			maxPages = parsed
		}
	}

	// Run synchronously: lender portfolios are small
	pipeline := screening.NewPipeline(s.DB, nil, nil, s.AI)
	synced, err := pipeline.SyncPortfolio(c.Request().Context(), lender, maxPages)
	if err != nil {
		if errors.Is(err, kiva.ErrBlocked) {
			return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	total, err := s.Store.PortfolioCount(c.Request().Context())
	if err != nil {
		c.Logger().Errorf("Failed to count portfolio: %v", err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":        "Portfolio sync complete",
		"lender":         lender,
		"synced":         synced,
		"portfolio_size": total,
	})
}

func (s *Server) handleEnrichPartners(c echo.Context) error {
	limit := 20
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	pipeline := screening.NewPipeline(s.DB, nil, nil, s.AI)
	updated, err := pipeline.EnrichPartners(c.Request().Context(), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"message":       "Partner enrichment complete",
		"loans_updated": updated,
	})
}

// startJob registers a single-flight background job and runs fn on a
// detached context. The bool is false when another job is still running;
// the returned job is then the running one.
func (s *Server) startJob(reqCtx context.Context, label string, fn func(ctx context.Context) (any, error)) (*backgroundJob, bool) {
	s.jobMu.Lock()
	if s.runningJob != nil && s.runningJob.Status == "running" {
		job := s.runningJob
		s.jobMu.Unlock()
		return job, false
	}

	// context.WithoutCancel detaches from HTTP lifecycle but preserves
	// trace values. We add our own timeout for safety.
	jobCtx, jobCancel := context.WithTimeout(
		context.WithoutCancel(reqCtx), 30*time.Minute,
	)

	jobID := uuid.New().String()[:8]
	job := &backgroundJob{
		ID:        jobID,
		Status:    "running",
		StartedAt: time.Now(),
		Cancel:    jobCancel,
	}
	s.runningJob = job
	s.jobMu.Unlock()

	// Run in background goroutine — the handler returns 202 immediately.
	go func() {
		defer jobCancel()

		result, err := fn(jobCtx)

		s.jobMu.Lock()
		defer s.jobMu.Unlock()
		job.EndedAt = time.Now()
		if err != nil {
			job.Status = "failed"
			job.Error = err.Error()
			log.Printf("[%s-job %s] failed: %v", label, jobID, err)
			return
		}
		job.Status = "completed"
		job.Result = result
		log.Printf("[%s-job %s] completed", label, jobID)
	}()

	return job, true
}

func (s *Server) handleJobStatus(c echo.Context) error {
	queried := c.Param("id")
	s.jobMu.Lock()
	job := s.runningJob
	s.jobMu.Unlock()

	if job == nil || job.ID != queried {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	}

	s.jobMu.Lock()
	resp := map[string]interface{}{
		"id":         job.ID,
		"status":     job.Status,
		"started_at": job.StartedAt,
	}
	if !job.EndedAt.IsZero() {
		resp["ended_at"] = job.EndedAt
		resp["duration"] = job.EndedAt.Sub(job.StartedAt).String()
	}
	if job.Result != nil {
		resp["result"] = job.Result
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}
	s.jobMu.Unlock()

	return c.JSON(http.StatusOK, resp)
}

// Protected Handlers

func (s *Server) handleWatchLoan(c echo.Context) error {
	ctx := c.Request().Context()
	userID, err := auth.UserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	loanID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid loan ID"})
	}

	if err := s.AuthService.WatchLoan(ctx, userID, loanID); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to watch loan"})
	}

	return c.NoContent(http.StatusOK)
}

func (s *Server) handleUnwatchLoan(c echo.Context) error {
	ctx := c.Request().Context()
	userID, err := auth.UserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	loanID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid loan ID"})
	}

	if err := s.AuthService.UnwatchLoan(ctx, userID, loanID); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to unwatch loan"})
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "unwatched"})
}

func (s *Server) handleGetWatchlist(c echo.Context) error {
	ctx := c.Request().Context()
	userID, err := auth.UserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	loans, err := s.AuthService.GetWatchlist(ctx, userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to fetch watchlist"})
	}

	if loans == nil {
		loans = []models.ScreenedLoan{}
	}

	return c.JSON(http.StatusOK, loans)
}

func (s *Server) Start(port string) error {
	return s.Echo.Start(":" + port)
}

func (s *Server) adminMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		secret, err := adminSecret()
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Server admin configuration error"})
		}

		// Check X-Admin-Secret header or Bearer token
		if secretsEqual(c.Request().Header.Get("X-Admin-Secret"), secret) {
			return next(c)
		}
		if token, ok := strings.CutPrefix(c.Request().Header.Get("Authorization"), "Bearer "); ok {
			if secretsEqual(token, secret) {
				return next(c)
			}
		}

		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized admin access"})
	}
}

// secretsEqual compares in constant time so the admin check leaks no
// timing signal about the secret.
func secretsEqual(got, want string) bool {
	if got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func adminSecret() (string, error) {
	adminSecretOnce.Do(func() {
		secret := strings.TrimSpace(os.Getenv("ADMIN_SECRET"))
		if secret != "" {
			adminSecretRuntime = secret
			return
		}

		buf := make([]byte, 48)
		if _, err := rand.Read(buf); err != nil {
			adminSecretErr = fmt.Errorf("failed to generate ADMIN_SECRET fallback: %w", err)
			return
		}

		adminSecretRuntime = base64.RawURLEncoding.EncodeToString(buf)
		log.Print("ADMIN_SECRET is not set; using ephemeral in-memory fallback secret")
	})

	if adminSecretErr != nil {
		return "", adminSecretErr
	}
	if adminSecretRuntime == "" {
		return "", fmt.Errorf("admin secret unavailable")
	}

	return adminSecretRuntime, nil
}
