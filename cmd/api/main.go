package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"libpresence/internal/auth"
	"libpresence/internal/config"
	"libpresence/internal/feed"
	"libpresence/internal/httpmiddleware"
	"libpresence/internal/identity"
	idpostgres "libpresence/internal/identity/postgres"
	"libpresence/internal/ledger"
	ledgerpostgres "libpresence/internal/ledger/postgres"
	"libpresence/internal/metrics"
	"libpresence/internal/reconcile"
	"libpresence/internal/stats"
	"libpresence/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func run(cfg config.App) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	// All timestamps are recorded and compared in the facility timezone,
	// never host-local time. A broken timezone config degrades to UTC
	// with auto-close disabled; scans keep working.
	loc, tzErr := time.LoadLocation(cfg.FacilityTimezone)
	if tzErr != nil {
		log.Printf("facility timezone %q unusable, auto-close disabled: %v", cfg.FacilityTimezone, tzErr)
		loc = time.UTC
	}

	dir := idpostgres.NewDirectory(db.Client)
	resolver := identity.NewResolver(dir, identity.LookupStrategy(cfg.FacultyLookup))
	importer := identity.NewImporter(dir)

	logStore := ledgerpostgres.New(db.Client)
	led := ledger.NewService(logStore, resolver, ledger.Config{
		Location:      loc,
		DefaultReason: cfg.DefaultReason,
		Hours: ledger.HoursPolicy{
			Enforced:  cfg.HoursEnforced,
			OpenHour:  cfg.OpenHour,
			CloseHour: cfg.CloseHour,
		},
		StoreTimeout: cfg.StoreTimeout,
	})

	agg := stats.NewAggregator(logStore, stats.Config{
		Cache:    redisClient.Client,
		CacheTTL: cfg.StatsCacheTTL,
		Location: loc,
	})

	var q feed.Queue
	if cfg.FeedBackend == "memory" {
		q = feed.NewInMemory(64)
	} else {
		q = feed.NewRedisQueue(redisClient.Client, "libpresence:scans")
	}

	var closer *reconcile.Closer
	if tzErr == nil {
		closer = reconcile.NewCloser(led, reconcile.Config{
			CutoffHour:   cfg.CutoffHour,
			CutoffMinute: cfg.CutoffMinute,
			Location:     loc,
		}, log.Default())
		closer.Start(ctx)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	type scanRequest struct {
		Code   string `json:"code" binding:"required"`
		Role   string `json:"role" binding:"required"`
		Reason string `json:"reason"`
	}

	publish := func(res ledger.Result) {
		ev := feed.Event{
			LogID:     res.Log.ID,
			RegNo:     res.Log.RegNo,
			Name:      res.Log.Name,
			Role:      string(res.Log.Role),
			Direction: string(res.Direction),
			At:        res.Log.EntryAt,
		}
		if res.Log.ExitAt != nil {
			ev.At = *res.Log.ExitAt
		}
		pubCtx, pubCancel := context.WithTimeout(ctx, 2*time.Second)
		defer pubCancel()
		if err := q.Publish(pubCtx, ev); err != nil {
			log.Printf("feed publish failed: %v", err)
		}
	}

	scanHandler := func(do func(c *gin.Context, req scanRequest, role identity.Role) (ledger.Result, error)) gin.HandlerFunc {
		return func(c *gin.Context) {
			var req scanRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			role, err := identity.ParseRole(req.Role)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			res, err := do(c, req, role)
			if err != nil {
				metrics.Scans.WithLabelValues("rejected").Inc()
				c.JSON(rejectionStatus(err), gin.H{"error": err.Error()})
				return
			}
			metrics.Scans.WithLabelValues(string(res.Direction)).Inc()
			publish(res)
			c.JSON(http.StatusOK, gin.H{
				"direction": res.Direction,
				"message":   scanMessage(res),
				"person":    res.Person,
				"log":       res.Log,
			})
		}
	}

	// Toggle scan: the ledger infers entry vs. exit from current state.
	r.POST("/v1/scan", scanHandler(func(c *gin.Context, req scanRequest, role identity.Role) (ledger.Result, error) {
		return led.Attempt(c.Request.Context(), req.Code, role, req.Reason)
	}))

	// Strict variants for kiosks that declare direction.
	r.POST("/v1/entry", scanHandler(func(c *gin.Context, req scanRequest, role identity.Role) (ledger.Result, error) {
		return led.Enter(c.Request.Context(), req.Code, role, req.Reason)
	}))
	r.POST("/v1/exit", scanHandler(func(c *gin.Context, req scanRequest, role identity.Role) (ledger.Result, error) {
		return led.Exit(c.Request.Context(), req.Code, role)
	}))

	r.POST("/v1/status", func(c *gin.Context) {
		var req scanRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		role, err := identity.ParseRole(req.Role)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		p, open, err := led.Status(c.Request.Context(), req.Code, role)
		if err != nil {
			c.JSON(rejectionStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_name": p.Name, "user_inside": open != nil})
	})

	r.GET("/v1/inside", func(c *gin.Context) {
		open, err := led.ListOpen(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"inside": open, "count": len(open)})
	})

	r.GET("/v1/stats", func(c *gin.Context) {
		snap, err := agg.Snapshot(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, snap)
	})

	r.POST("/v1/admin/login", func(c *gin.Context) {
		var req struct {
			ID   string `json:"id" binding:"required"`
			Pass string `json:"pass" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		ok, err := dir.CheckPassword(c.Request.Context(), req.ID, req.Pass)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "credential check failed"})
			return
		}
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		tokens, err := auth.Issue(req.ID, "admin", cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	admin := r.Group("/v1/admin", auth.AdminAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	admin.POST("/import", func(c *gin.Context) {
		file, _, err := c.Request.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
			return
		}
		defer file.Close()
		report, err := importer.Import(c.Request.Context(), file)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "report": report})
			return
		}
		c.JSON(http.StatusOK, report)
	})

	admin.GET("/logs", func(c *gin.Context) {
		from, to, err := dateRange(c, loc)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logs, err := led.LogsBetween(c.Request.Context(), from, to)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"logs": logs, "count": len(logs)})
	})

	admin.POST("/force-close", func(c *gin.Context) {
		closed, failed, err := led.ForceCloseOpen(c.Request.Context())
		metrics.ForcedCloses.Add(float64(closed))
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "closed": closed, "failed": failed})
			return
		}
		c.JSON(http.StatusOK, gin.H{"closed": closed, "failed": failed})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	if closer != nil {
		closer.Stop()
	}
	cancel()

	log.Println("Server exited")
	return nil
}

// rejectionStatus maps the typed rejection taxonomy onto HTTP codes.
// Anything unrecognized is treated as a persistence problem the caller
// should retry.
func rejectionStatus(err error) int {
	switch {
	case errors.Is(err, identity.ErrInvalidCode), errors.Is(err, identity.ErrInvalidRole):
		return http.StatusBadRequest
	case errors.Is(err, identity.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, identity.ErrAmbiguousCode),
		errors.Is(err, ledger.ErrRoleMismatch),
		errors.Is(err, ledger.ErrAlreadyOpen),
		errors.Is(err, ledger.ErrNotInside),
		errors.Is(err, ledger.ErrOutsideHours):
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

func scanMessage(res ledger.Result) string {
	if res.Direction == ledger.Entered {
		return "Welcome! " + res.Person.Name + " entered."
	}
	return "Goodbye! " + res.Person.Name + " exited."
}

// dateRange reads either ?date=YYYY-MM-DD or ?start_date=&end_date= and
// returns the [from, to) window in the facility timezone.
func dateRange(c *gin.Context, loc *time.Location) (time.Time, time.Time, error) {
	const layout = "2006-01-02"
	if d := c.Query("date"); d != "" {
		day, err := time.ParseInLocation(layout, d, loc)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid date, use YYYY-MM-DD")
		}
		return day, day.AddDate(0, 0, 1), nil
	}
	startStr, endStr := c.Query("start_date"), c.Query("end_date")
	if startStr == "" || endStr == "" {
		return time.Time{}, time.Time{}, errors.New("provide date or start_date and end_date")
	}
	start, err := time.ParseInLocation(layout, startStr, loc)
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("invalid start_date, use YYYY-MM-DD")
	}
	end, err := time.ParseInLocation(layout, endStr, loc)
	if err != nil {
		return time.Time{}, time.Time{}, errors.New("invalid end_date, use YYYY-MM-DD")
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, errors.New("start_date cannot be after end_date")
	}
	return start, end.AddDate(0, 0, 1), nil
}
