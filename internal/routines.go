package internal

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/henry-inxide/WhatsApp-server/pkg/env"
	"github.com/henry-inxide/WhatsApp-server/pkg/log"
	pkgWhatsApp "github.com/henry-inxide/WhatsApp-server/pkg/whatsapp"
)

// Routines schedules the background jobs: expiring sessions stuck waiting
// for a QR scan, and reconciling stored statuses against live connections.
func Routines(c *cron.Cron, registry *pkgWhatsApp.Registry) {
	log.Print(nil).Info("Running Routine Tasks")

	qrMaxAge := env.GetEnvDurationOrDefault("SESSION_QR_PENDING_MAX_AGE", 5*time.Minute)
	_, err := c.AddFunc("0 * * * * *", func() {
		if expired := registry.ExpireQRPending(qrMaxAge); expired > 0 {
			log.Print(nil).WithField("expired", expired).Info("Expired stale QR-pending sessions")
		}
	})
	if err != nil {
		log.Print(nil).WithField("error", err.Error()).Error("Failed to add QR expiry cron job")
	}

	if env.GetEnvBoolOrDefault("SESSION_ENABLE_HEALTH_CHECK_CRON", true) {
		_, err := c.AddFunc("0 */5 * * * *", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			registry.SyncHealth(ctx)
		})
		if err != nil {
			log.Print(nil).WithField("error", err.Error()).Error("Failed to add health check cron job")
		}
	} else {
		log.Print(nil).Info("Health check cron disabled; relying on connection event handlers")
	}

	c.Start()
}
