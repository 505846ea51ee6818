package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"qrattend/internal/attendance"
	"qrattend/internal/auth"
	"qrattend/internal/config"
	"qrattend/internal/httpmiddleware"
	"qrattend/internal/identity"
	"qrattend/internal/logger"
	"qrattend/internal/qrimg"
	"qrattend/internal/queue"
	"qrattend/internal/roster"
	"qrattend/internal/scan"
	"qrattend/internal/store"
)

func main() {
	cfg := config.Load()

	if err := logger.Initialize(cfg.LogLevel); err != nil {
		panic(err)
	}

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		logger.Log.Fatalw("http server failed", "err", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "qrattend:scans")
	}

	loc := cfg.Location()
	codec := identity.NewCodec(cfg.CryptoSecret)
	if !codec.Encrypting() {
		logger.Log.Warnw("CRYPTO_SECRET not set, QR payloads are plaintext")
	}
	render := qrimg.New(256)

	rosterSvc := roster.NewService(roster.NewRepository(db.Client), codec, render, cfg.QRBatchSize)
	ledger := attendance.NewService(attendance.NewRepository(db.Client), loc)
	logCache := attendance.NewCache(redisClient.Client, time.Minute)
	intake := scan.NewIntake(codec, rosterSvc, ledger, cfg.ScanCooldown)
	authSvc := auth.NewService(db.Client)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/auth/register", func(c *gin.Context) {
		var req struct {
			Email    string `json:"email" binding:"required,email"`
			Password string `json:"password" binding:"required,min=8"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id, err := authSvc.Register(c.Request.Context(), req.Email, req.Password)
		if err != nil {
			if errors.Is(err, auth.ErrAdminExists) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "email already registered"})
				return
			}
			logger.Log.Errorw("register failed", "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": id})
	})

	r.POST("/v1/auth/login", func(c *gin.Context) {
		var req struct {
			Email    string `json:"email" binding:"required"`
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		adminID, err := authSvc.Login(c.Request.Context(), req.Email, req.Password)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidCredentials) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
				return
			}
			logger.Log.Errorw("login failed", "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		token, exp, err := auth.Issue(adminID, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"access_token": token, "expires_at": exp.Unix()})
	})

	authGroup := r.Group("/v1", auth.AdminAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	authGroup.POST("/users", func(c *gin.Context) {
		var in roster.UserInput
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		user, err := rosterSvc.CreateUser(c.Request.Context(), auth.AdminID(c), in)
		if err != nil {
			logger.Log.Errorw("create user failed", "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "create user failed"})
			return
		}
		c.JSON(http.StatusCreated, user)
	})

	authGroup.GET("/users", func(c *gin.Context) {
		users, err := rosterSvc.ListUsers(c.Request.Context(), auth.AdminID(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"users": users})
	})

	authGroup.GET("/users/:id", func(c *gin.Context) {
		user, err := rosterSvc.GetUser(c.Request.Context(), auth.AdminID(c), c.Param("id"))
		if err != nil {
			respondNotFoundOr500(c, err)
			return
		}
		c.JSON(http.StatusOK, user)
	})

	authGroup.PUT("/users/:id", func(c *gin.Context) {
		var in roster.UserInput
		if err := c.ShouldBindJSON(&in); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := rosterSvc.UpdateUser(c.Request.Context(), auth.AdminID(c), c.Param("id"), in); err != nil {
			respondNotFoundOr500(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	authGroup.DELETE("/users/:id", func(c *gin.Context) {
		if err := rosterSvc.DeleteUser(c.Request.Context(), auth.AdminID(c), c.Param("id")); err != nil {
			respondNotFoundOr500(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	authGroup.POST("/users/refresh-qr", func(c *gin.Context) {
		report, err := rosterSvc.RefreshAllQRCodes(c.Request.Context(), auth.AdminID(c))
		if err != nil {
			logger.Log.Errorw("qr refresh failed", "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh failed"})
			return
		}
		c.JSON(http.StatusOK, report)
	})

	authGroup.POST("/rooms", func(c *gin.Context) {
		var req struct {
			Name    string  `json:"name" binding:"required"`
			Teacher *string `json:"teacher"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		room, err := rosterSvc.CreateRoom(c.Request.Context(), auth.AdminID(c), req.Name, req.Teacher)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, room)
	})

	authGroup.GET("/rooms", func(c *gin.Context) {
		rooms, err := rosterSvc.ListRooms(c.Request.Context(), auth.AdminID(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"rooms": rooms})
	})

	authGroup.GET("/rooms/:id", func(c *gin.Context) {
		room, err := rosterSvc.GetRoom(c.Request.Context(), auth.AdminID(c), c.Param("id"))
		if err != nil {
			respondNotFoundOr500(c, err)
			return
		}
		c.JSON(http.StatusOK, room)
	})

	authGroup.PUT("/rooms/:id", func(c *gin.Context) {
		var req struct {
			Name    string  `json:"name" binding:"required"`
			Teacher *string `json:"teacher"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := rosterSvc.UpdateRoom(c.Request.Context(), auth.AdminID(c), c.Param("id"), req.Name, req.Teacher); err != nil {
			respondNotFoundOr500(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	authGroup.DELETE("/rooms/:id", func(c *gin.Context) {
		if err := rosterSvc.DeleteRoom(c.Request.Context(), auth.AdminID(c), c.Param("id")); err != nil {
			respondNotFoundOr500(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	authGroup.POST("/scan", func(c *gin.Context) {
		var req struct {
			Data   string  `json:"data" binding:"required"`
			RoomID *string `json:"room_id"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		adminID := auth.AdminID(c)
		result, err := intake.Scan(c.Request.Context(), adminID, req.Data, req.RoomID)
		if err != nil {
			if errors.Is(err, scan.ErrCoolingDown) {
				c.JSON(http.StatusTooManyRequests, gin.H{"error": "scanner cooling down"})
				return
			}
			logger.Log.Errorw("scan failed", "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "scan failed"})
			return
		}

		if result.Outcome == scan.Success && result.Record != nil {
			logCache.InvalidateDay(c.Request.Context(), adminID, result.Record.Day)
			evt := queue.ScanEvent{AdminID: adminID, RecordID: result.Record.ID, Day: result.Record.Day}
			if err := q.Publish(c.Request.Context(), evt); err != nil {
				logger.Log.Warnw("queue publish failed", "err", err)
			}
		}

		c.JSON(http.StatusOK, result)
	})

	authGroup.GET("/attendance", func(c *gin.Context) {
		adminID := auth.AdminID(c)
		day := c.DefaultQuery("date", ledger.Day(time.Now()))

		if records, ok := logCache.GetDay(c.Request.Context(), adminID, day); ok {
			c.JSON(http.StatusOK, gin.H{"date": day, "records": records})
			return
		}
		records, err := ledger.ListDay(c.Request.Context(), adminID, day)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logCache.SetDay(c.Request.Context(), adminID, day, records)
		c.JSON(http.StatusOK, gin.H{"date": day, "records": records})
	})

	authGroup.GET("/attendance/log", func(c *gin.Context) {
		log, err := ledger.Log(c.Request.Context(), auth.AdminID(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"log": log})
	})

	authGroup.GET("/attendance/export", func(c *gin.Context) {
		adminID := auth.AdminID(c)
		day := c.DefaultQuery("date", ledger.Day(time.Now()))
		records, err := ledger.ListDay(c.Request.Context(), adminID, day)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.Header("Content-Disposition", `attachment; filename="attendance-log-`+day+`.csv"`)
		c.Header("Content-Type", "text/csv; charset=utf-8")
		c.Status(http.StatusOK)
		if err := ledger.WriteCSV(c.Writer, records); err != nil {
			logger.Log.Errorw("csv export failed", "err", err)
		}
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Log.Infow("starting server", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatalw("server error", "err", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Infow("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Warnw("server forced shutdown", "err", err)
	}
	logger.Log.Infow("server exited")
	return nil
}

func respondNotFoundOr500(c *gin.Context, err error) {
	if errors.Is(err, roster.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	logger.Log.Errorw("request failed", "path", c.FullPath(), "err", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
