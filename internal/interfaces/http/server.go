// Package http exposes the operational surface: health and stats.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/magpiebot/magpie/internal/domain/knowledge"
	"github.com/magpiebot/magpie/internal/domain/memory"
	"github.com/magpiebot/magpie/internal/domain/service"
	"go.uber.org/zap"
)

// Config holds the HTTP server settings.
type Config struct {
	Host string
	Port int
	Mode string // debug, release
}

// BudgetReporter exposes the crawler's hourly page budget.
type BudgetReporter interface {
	Budget() (used, max int)
}

// Server is the read-only operational HTTP endpoint.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// NewServer builds the router and the underlying http.Server.
func NewServer(cfg Config, contexts *memory.ContextStore, kb *knowledge.Base, queue *service.ActionQueue, budget BudgetReporter, logger *zap.Logger) *Server {
	if cfg.Mode == "release" || cfg.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/stats", func(c *gin.Context) {
		kbStats, err := kb.Stats(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		used, max := budget.Budget()
		c.JSON(http.StatusOK, gin.H{
			"active_users": len(contexts.ActiveUsers()),
			"queue":        queue.Stats(),
			"knowledge": gin.H{
				"total_documents": kbStats.TotalDocuments,
				"categories":      kbStats.Categories,
				"oldest":          kbStats.OldestDocument,
				"newest":          kbStats.NewestDocument,
			},
			"browser": gin.H{
				"pages_used":     used,
				"pages_per_hour": max,
			},
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: router,
		},
		logger: logger,
	}
}

// Start serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", zap.String("address", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
