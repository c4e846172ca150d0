package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chatkeeper/chatkeeper/api"
	"github.com/chatkeeper/chatkeeper/archive"
	"github.com/chatkeeper/chatkeeper/config"
	"github.com/chatkeeper/chatkeeper/election"
	"github.com/chatkeeper/chatkeeper/log"
	"github.com/chatkeeper/chatkeeper/notifications"
	"github.com/chatkeeper/chatkeeper/session"
	"github.com/chatkeeper/chatkeeper/state"
	"github.com/chatkeeper/chatkeeper/workers/retention"
)

func main() {
	cfg := config.Get()

	// Initialize state database
	db, err := state.Open(cfg.StatePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.StatePath).Msg("failed to open state database")
	}

	// Notification service for SSE clients
	notif := notifications.NewService()

	// Session store: cached snapshot first, watcher plus background scan after
	resolver := session.NewResolver(cfg.OpenFolders)
	resolver.SetNotifier(notif.NotifyResolutionFailure)
	scanner := session.NewScanner(cfg.StorageRoot, resolver)
	store := session.NewStore(scanner, db, notif)
	store.Start()

	// Archive engine over the quarantine root
	skipList := archive.NewSkipList(db, cfg.SkipListTTL)
	engine := archive.NewEngine(store, cfg.QuarantineRoot, skipList, notif)

	// Leader election over the shared lock file. In local mode (election
	// disabled, or maintenance scoped to the current workspace only) this
	// process coordinates with nobody and always leads.
	elector := election.NewElector(election.NewLockStore(cfg.LockPath), election.Config{
		Enabled:           !cfg.LocalMode(),
		TTL:               cfg.LockTTL,
		HeartbeatInterval: cfg.HeartbeatInterval,
		PollInterval:      cfg.PollInterval,
		OnElected:         func() { notif.NotifyLeadershipChanged(true) },
		OnRevoked:         func() { notif.NotifyLeadershipChanged(false) },
	})
	elector.Start()

	// Scheduled retention passes, gated on leadership
	retentionWorker := retention.NewWorker(retention.Config{
		AutoArchiveEnabled:  cfg.AutoArchiveEnabled,
		AutoArchiveInterval: cfg.AutoArchiveInterval,
		OverflowPolicy: archive.OverflowPolicy{
			MaxPerWorkspace:  cfg.MaxSessionsPerWorkspace,
			Action:           cfg.OverflowAction,
			Scope:            cfg.Scope,
			CurrentWorkspace: cfg.CurrentWorkspace,
		},
		AutoPurgeEnabled:  cfg.AutoPurgeEnabled,
		AutoPurgeInterval: cfg.AutoPurgeInterval,
		RetentionDays:     cfg.RetentionDays,
	}, engine, db, elector.IsLeader)
	retentionWorker.Start()

	// Set Gin to release mode to disable its default debug logging
	// We use our own zerolog-based request logger instead
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(log.GinLogger())

	// CORS for development
	if cfg.IsDevelopment() {
		r.Use(corsMiddleware())
	}

	r.SetTrustedProxies(nil)

	api.SetupRoutes(r, api.NewHandlers(store, engine, elector, db, notif))

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := &http.Server{
		Addr:     addr,
		Handler:  r,
		ErrorLog: log.StdErrorLogger(),
	}

	go func() {
		log.Info().
			Str("addr", addr).
			Str("env", cfg.Env).
			Msg("server starting")

		printNetworkAddresses(cfg.Port)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Stop background work first so nothing mutates storage mid-shutdown
	retentionWorker.Stop()
	elector.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := store.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("session store shutdown error")
	}

	// Close SSE connections
	notif.Close()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	if err := db.Close(); err != nil {
		log.Error().Err(err).Msg("state database close error")
	}

	log.Info().Msg("server stopped")
}

// corsMiddleware creates a CORS middleware for Gin
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func printNetworkAddresses(port int) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok {
				if ip4 := ipnet.IP.To4(); ip4 != nil {
					log.Info().Str("url", fmt.Sprintf("http://%s:%d", ip4.String(), port)).Msg("network")
				}
			}
		}
	}
}
