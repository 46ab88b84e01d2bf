package cmd

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ticket-engine/config"
	"ticket-engine/handlers"
	"ticket-engine/internal/gateway"
	"ticket-engine/internal/inventory"
	"ticket-engine/internal/issuance"
	"ticket-engine/internal/keys"
	"ticket-engine/internal/notify"
	"ticket-engine/internal/proof"
	"ticket-engine/internal/store"
	"ticket-engine/internal/validation"
	_ "ticket-engine/migrations"
	"ticket-engine/monitoring"
	"ticket-engine/security"
	"ticket-engine/utils"
)

func Start() error {
	app := pocketbase.New()

	cfg := config.MustLoad()

	redisClient := utils.NewRedisClient(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core engine wiring.
	keyEngine := keys.New([]byte(cfg.TicketHMACSecret))
	encoder := proof.NewEncoder(cfg.QRSize)
	artifacts := proof.NewDiskStore(cfg.QRStorageDir)
	inventoryManager := inventory.NewManager(redisClient)
	ticketStore := store.NewPBStore(app)
	monitor := monitoring.NewMonitor(redisClient)
	mailer := notify.NewMailer(app)

	workflow := issuance.NewWorkflow(
		ticketStore, inventoryManager, keyEngine, encoder, artifacts, mailer, monitor,
	)
	machine := validation.NewMachine(ticketStore, inventoryManager, keyEngine, encoder, monitor)
	sweeper := validation.NewSweeper(ticketStore, inventoryManager, cfg.TicketRetention, cfg.SweepInterval)

	// The gateway pushes confirmations over its notification channel as well
	// as the webhook; both funnel into the same idempotent workflow.
	if cfg.GatewaySubscribeKey != "" {
		listener := gateway.NewListener(&gateway.ListenerConfig{
			SubscribeKey: cfg.GatewaySubscribeKey,
			SecretKey:    cfg.GatewaySecretKey,
			CipherKey:    cfg.GatewayCipherKey,
			UUID:         cfg.GatewayUUID,
			Channel:      cfg.GatewayChannel,
		})
		go listener.Run(ctx)
		go func() {
			for {
				select {
				case conf := <-listener.Confirmations():
					if _, err := workflow.Issue(ctx, conf); err != nil {
						slog.Error("channel-delivered confirmation failed", "transaction_id", conf.TransactionID, "error", err)
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	var checker handlers.TransactionChecker
	if cfg.GatewayBaseURL != "" {
		client, err := gateway.NewClient(ctx, &gateway.ClientConfig{
			BaseURL:   cfg.GatewayBaseURL,
			PartnerID: cfg.GatewayPartnerID,
			ClientID:  cfg.GatewayClientID,
			ClientKey: cfg.GatewayClientKey,
			HMACKey:   cfg.WebhookHMACKey,
		})
		if err != nil {
			// Reconciliation is an admin convenience, not a serving dependency.
			slog.Error("gateway client unavailable", "error", err)
		} else {
			checker = client
		}
	}

	webhookHandler := handlers.NewWebhookHandler(workflow, []byte(cfg.WebhookHMACKey))
	validationHandler := handlers.NewValidationHandler(machine)
	ticketHandler := handlers.NewTicketHandler(machine)
	adminHandler := handlers.NewAdminHandler(checker, inventoryManager)
	limiter := security.NewRateLimiter(redisClient, cfg.GateScanRateLimit, security.GateScanWindow)

	migratecmd.MustRegister(app, app.RootCmd, migratecmd.Config{
		Automigrate: cfg.Environment == "development",
	})

	go sweeper.Run(ctx)

	if cfg.EnableMetrics {
		go monitor.Run(ctx)
		go serveMetrics(cfg.MetricsPort)
	}

	go handleShutdown(cancel)

	app.OnServe().BindFunc(func(e *core.ServeEvent) error {
		if err := inventory.SyncStock(app, redisClient); err != nil {
			log.Printf("stock sync failed: %v", err)
		}

		// Payment endpoints
		e.Router.POST("/api/v1/payments/webhook", webhookHandler.ConfirmPayment)

		// Gate endpoints
		e.Router.POST("/api/v1/tickets/validate", validationHandler.ValidateTicket).
			BindFunc(limiter.GateScanLimit())

		// Ticket endpoints
		e.Router.POST("/api/v1/tickets/{ticketId}/cancel", ticketHandler.CancelTicket)

		// Admin endpoints
		e.Router.GET("/api/v1/admin/transactions/{txnId}", adminHandler.CheckTransaction)
		e.Router.GET("/api/v1/admin/events/{eventId}/stock", adminHandler.EventStock)

		// Rendered QR proofs
		e.Router.GET("/qr/{path...}", apis.Static(os.DirFS(cfg.QRStorageDir), false))

		// Health check
		e.Router.GET("/health", func(e *core.RequestEvent) error {
			if err := utils.RedisHealthCheck(redisClient); err != nil {
				return e.JSON(503, map[string]string{
					"status": "unhealthy",
					"error":  err.Error(),
				})
			}
			return e.JSON(200, map[string]string{"status": "healthy"})
		})

		log.Println("Server routes registered")

		return e.Next()
	})

	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
	return nil
}

func serveMetrics(port string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		slog.Error("metrics server stopped", "error", err)
	}
}

func handleShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	log.Println("Shutting down background workers...")
	cancel()
}
