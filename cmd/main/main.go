package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	cron "github.com/robfig/cron/v3"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"

	"github.com/henry-inxide/WhatsApp-server/pkg/env"
	"github.com/henry-inxide/WhatsApp-server/pkg/events"
	"github.com/henry-inxide/WhatsApp-server/pkg/log"
	"github.com/henry-inxide/WhatsApp-server/pkg/router"
	"github.com/henry-inxide/WhatsApp-server/pkg/store"
	pkgWhatsApp "github.com/henry-inxide/WhatsApp-server/pkg/whatsapp"

	"github.com/henry-inxide/WhatsApp-server/internal"
)

type Server struct {
	Address string
	Port    string
}

func main() {
	var err error

	ctx := context.Background()

	// Intialize Cron
	c := cron.New(cron.WithChain(
		cron.Recover(cron.DiscardLogger),
	), cron.WithSeconds())

	// Initialize Fiber
	app := fiber.New(fiber.Config{
		ErrorHandler: router.HttpErrorHandler,
		BodyLimit:    router.BodyLimitBytes(),
	})

	// Request ID + panic recovery
	app.Use(router.HttpRequestID())
	app.Use(router.RecoveryMiddleware())

	// Router Compression
	app.Use(compress.New(compress.Config{
		Level: compress.Level(router.GZipLevel),
	}))

	// Router CORS
	app.Use(cors.New(cors.Config{
		AllowOrigins: router.CORSOrigin,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET,POST,PUT,PATCH,DELETE",
	}))

	// Router Security
	app.Use(helmet.New(helmet.Config{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
	}))

	// Router RealIP + request context enrichment
	app.Use(router.HttpRealIP())

	// Router Default Handler
	app.Get("/favicon.ico", router.ResponseNoContent)

	// Open Panel Store
	st, err := store.Open(env.GetEnvStringOrDefault("PANEL_DB_PATH", "database/panel.db"))
	if err != nil {
		log.Print(nil).Fatal("Failed to open panel store: " + err.Error())
	}

	// Open WhatsApp Datastore
	container, err := pkgWhatsApp.OpenDatastore(ctx)
	if err != nil {
		log.Print(nil).Fatal("Failed to open WhatsApp datastore: " + err.Error())
	}

	// Initialize Event Broker and Session Registry
	broker := events.NewBroker()
	registry := pkgWhatsApp.NewRegistry(st, broker, pkgWhatsApp.NewDialer(container, st))

	// Load Internal Routes
	internal.Routes(app, registry, st, broker)

	// Running Startup Tasks
	internal.Startup(registry, st)

	// Running Routines Tasks
	internal.Routines(c, registry)

	// Get Server Configuration with defaults
	var serverConfig Server

	// SERVER_ADDRESS: default "0.0.0.0" (all interfaces)
	serverConfig.Address = env.GetEnvStringOrDefault("SERVER_ADDRESS", "0.0.0.0")

	// SERVER_PORT: default "7001"
	serverConfig.Port = env.GetEnvStringOrDefault("SERVER_PORT", "7001")

	// Start Server
	go func() {
		if err := app.Listen(serverConfig.Address + ":" + serverConfig.Port); err != nil {
			log.Print(nil).Fatal(err.Error())
		}
	}()

	// Watch for Shutdown Signal
	sigShutdown := make(chan os.Signal, 1)
	signal.Notify(sigShutdown, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-sigShutdown
	// Wait 5 Seconds Before Graceful Shutdown
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	// Try To Shutdown Server
	err = app.ShutdownWithContext(ctxShutdown)
	if err != nil {
		log.Print(nil).Error(err.Error())
	}

	// Try To Shutdown Cron
	c.Stop()

	// Disconnect Sessions and Close Stores
	registry.Shutdown()
	if err := st.Close(); err != nil {
		log.Print(nil).Error(err.Error())
	}
}
