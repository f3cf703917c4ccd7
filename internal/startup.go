package internal

import (
	"context"
	mathrand "math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/henry-inxide/WhatsApp-server/pkg/env"
	"github.com/henry-inxide/WhatsApp-server/pkg/log"
	"github.com/henry-inxide/WhatsApp-server/pkg/store"
	pkgWhatsApp "github.com/henry-inxide/WhatsApp-server/pkg/whatsapp"
)

func jitterSleep(max time.Duration) {
	if max <= 0 {
		return
	}
	ms := mathrand.Int64N(max.Milliseconds() + 1)
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

func reconnectWithRetry(ctx context.Context, registry *pkgWhatsApp.Registry, name string, retries int, baseBackoff time.Duration, maxBackoff time.Duration) error {
	if retries <= 1 {
		return registry.Reconnect(ctx, name)
	}
	if baseBackoff <= 0 {
		baseBackoff = 2 * time.Second
	}
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		lastErr = registry.Reconnect(ctx, name)
		if lastErr == nil {
			return nil
		}

		// Exponential backoff with small jitter.
		backoff := baseBackoff * time.Duration(1<<(attempt-1))
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		jitter := time.Duration(mathrand.Int64N(int64(500*time.Millisecond) + 1))
		time.Sleep(backoff + jitter)
	}
	return lastErr
}

// Startup restores every session with saved device credentials, bounded by a
// concurrency limit so a large panel does not reconnect all at once. Sessions
// without credentials are marked disconnected and wait for a new QR scan.
func Startup(registry *pkgWhatsApp.Registry, st *store.Store) {
	log.Print(nil).Info("Running Startup Tasks")

	ctx := context.Background()

	routings, err := st.ListRoutings(ctx)
	if err != nil {
		log.Print(nil).Error("Failed to load device routings: " + err.Error())
		return
	}

	sessions, err := st.ListSessions(ctx)
	if err != nil {
		log.Print(nil).Error("Failed to load sessions: " + err.Error())
		return
	}

	maxConcurrent := env.GetEnvIntOrDefault("STARTUP_RECONNECT_CONCURRENCY", 10)
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	jitterMax := env.GetEnvDurationOrDefault("STARTUP_RECONNECT_JITTER_MAX", 5*time.Second)
	retries := env.GetEnvIntOrDefault("STARTUP_RECONNECT_RETRIES", 5)
	if retries < 1 {
		retries = 1
	}
	baseBackoff := env.GetEnvDurationOrDefault("STARTUP_RECONNECT_BACKOFF_BASE", 2*time.Second)
	maxBackoff := env.GetEnvDurationOrDefault("STARTUP_RECONNECT_BACKOFF_MAX", 30*time.Second)

	var restored, failed int64
	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup

	for _, sess := range sessions {
		name := sess.Name
		if _, linked := routings[name]; !linked {
			// No saved credentials, nothing to restore. Make sure the
			// status does not claim otherwise after a restart.
			if sess.Status != store.StatusDisconnected {
				if err := st.UpsertSession(ctx, name, store.StatusDisconnected); err != nil {
					log.SessionOp(name, "startup").Warn("Failed to reset status: " + err.Error())
				}
			}
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(name string) {
			defer wg.Done()
			defer func() { <-sem }()

			jitterSleep(jitterMax)
			log.SessionOp(name, "startup").Info("Restoring session")

			if err := reconnectWithRetry(ctx, registry, name, retries, baseBackoff, maxBackoff); err != nil {
				log.SessionOp(name, "startup").Warn("Failed to restore session: " + err.Error())
				atomic.AddInt64(&failed, 1)
				return
			}
			atomic.AddInt64(&restored, 1)
		}(name)
	}

	wg.Wait()
	log.Print(nil).
		WithField("restored", restored).
		WithField("failed", failed).
		WithField("concurrency", maxConcurrent).
		WithField("retries", retries).
		Info("Startup reconnect pass complete")
}
