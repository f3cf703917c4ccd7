package whatsapp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	qrCode "github.com/skip2/go-qrcode"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/henry-inxide/WhatsApp-server/pkg/env"
	"github.com/henry-inxide/WhatsApp-server/pkg/events"
	"github.com/henry-inxide/WhatsApp-server/pkg/log"
	"github.com/henry-inxide/WhatsApp-server/pkg/metrics"
	"github.com/henry-inxide/WhatsApp-server/pkg/store"
)

var (
	ErrNoActiveSession  = errors.New("no active session")
	ErrSessionNameEmpty = errors.New("session name is required")
	ErrSendRateExceeded = errors.New("send rate exceeded for session")
)

// Connector is one live (or attempting) link to the messaging network. The
// protocol machinery behind it is opaque to the registry.
type Connector interface {
	Connect() error
	Disconnect()
	Logout(ctx context.Context) error
	IsConnected() bool
	SendText(ctx context.Context, phone string, body string) (string, error)
	SendImage(ctx context.Context, phone string, image []byte, mimeType string, caption string) (string, error)
}

// Events receives lifecycle callbacks for a named session. The Registry
// implements it; a Dialer wires it into the connector it builds.
type Events interface {
	HandleQR(name string, rawCode string)
	HandleConnected(name string)
	HandleDisconnected(name string, loggedOut bool)
}

// Dialer builds a connector for a session, reusing persisted credential
// state when the session was linked before.
type Dialer func(ctx context.Context, name string, ev Events) (Connector, error)

type session struct {
	mu        sync.Mutex
	connector Connector
	status    store.Status
	qrSince   time.Time
	limiter   *rate.Limiter
}

// Registry owns the mapping from session name to active connector and
// drives lifecycle transitions in response to connector events. Mutations
// to one session are serialized by its own lock; sessions are independent.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*session

	store  *store.Store
	broker *events.Broker
	dial   Dialer

	reconnects singleflight.Group
	closed     atomic.Bool

	sendRate  rate.Limit
	sendBurst int
}

func NewRegistry(st *store.Store, broker *events.Broker, dial Dialer) *Registry {
	return &Registry{
		sessions:  make(map[string]*session),
		store:     st,
		broker:    broker,
		dial:      dial,
		sendRate:  rate.Limit(env.GetEnvFloat64OrDefault("SESSION_SEND_RATE", 5)),
		sendBurst: env.GetEnvIntOrDefault("SESSION_SEND_BURST", 10),
	}
}

func (r *Registry) entryFor(name string) *session {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[name]
	if !ok {
		entry = &session{
			status:  store.StatusDisconnected,
			limiter: rate.NewLimiter(r.sendRate, r.sendBurst),
		}
		r.sessions[name] = entry
	}
	return entry
}

func (r *Registry) lookup(name string) *session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[name]
}

func (r *Registry) remove(name string, entry *session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[name] == entry {
		delete(r.sessions, name)
	}
}

func (r *Registry) snapshot() map[string]*session {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := make(map[string]*session, len(r.sessions))
	for name, entry := range r.sessions {
		entries[name] = entry
	}
	return entries
}

// Active returns the number of sessions holding a live connector.
func (r *Registry) Active() int {
	count := 0
	for _, entry := range r.snapshot() {
		entry.mu.Lock()
		if entry.connector != nil {
			count++
		}
		entry.mu.Unlock()
	}
	return count
}

// Create registers a session and starts connector setup for it. Idempotent
// for a name that already holds a live connector. QR and connection
// progress arrive asynchronously through the event broadcaster; this call
// returns once setup has started or synchronously failed. A synchronous
// failure leaves nothing registered for the name.
func (r *Registry) Create(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrSessionNameEmpty
	}

	entry := r.entryFor(name)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.connector != nil {
		log.SessionOp(name, "create").Info("Session already has a live connector, reusing")
		return nil
	}

	if err := r.store.UpsertSession(ctx, name, store.StatusDisconnected); err != nil {
		r.remove(name, entry)
		return fmt.Errorf("storage: %w", err)
	}

	if err := r.setupLocked(ctx, name, entry); err != nil {
		r.remove(name, entry)
		return err
	}
	return nil
}

// setupLocked dials and connects a connector for the session. The caller
// must hold entry.mu. Shared by Create and Reconnect so both run the same
// setup path.
func (r *Registry) setupLocked(ctx context.Context, name string, entry *session) error {
	conn, err := r.dial(ctx, name, r)
	if err != nil {
		return fmt.Errorf("connector: %w", err)
	}

	entry.connector = conn
	entry.status = store.StatusDisconnected

	if err := conn.Connect(); err != nil {
		entry.connector = nil
		return fmt.Errorf("connector: %w", err)
	}
	return nil
}

// Reconnect re-runs the full session setup for a previously created name,
// reusing saved credential state. Names without a persisted session are
// rejected; reconnect never doubles as create. At most one reconnect per
// name is in flight at a time.
func (r *Registry) Reconnect(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrSessionNameEmpty
	}
	if r.closed.Load() {
		return nil
	}
	if _, err := r.store.GetSession(ctx, name); err != nil {
		return err
	}

	_, err, _ := r.reconnects.Do(name, func() (interface{}, error) {
		metrics.ReconnectsTotal.Inc()

		entry := r.entryFor(name)
		entry.mu.Lock()
		defer entry.mu.Unlock()

		if entry.connector != nil {
			entry.connector.Disconnect()
			entry.connector = nil
		}
		if err := r.setupLocked(ctx, name, entry); err != nil {
			r.remove(name, entry)
			return nil, err
		}
		return nil, nil
	})
	return err
}

// HandleQR encodes a raw linking payload into a PNG data URI and broadcasts
// it. The session moves to qr-pending.
func (r *Registry) HandleQR(name string, rawCode string) {
	entry := r.lookup(name)
	if entry == nil {
		return
	}

	png, err := qrCode.Encode(rawCode, qrCode.Medium, 256)
	if err != nil {
		log.SessionOp(name, "qr").WithError(err).Error("Failed to encode QR payload")
		return
	}
	dataURI := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)

	entry.mu.Lock()
	entry.status = store.StatusQRPending
	entry.qrSince = time.Now()
	if err := r.store.UpsertSession(context.Background(), name, store.StatusQRPending); err != nil {
		log.SessionOp(name, "qr").WithError(err).Error("Failed to persist qr-pending status")
	}
	entry.mu.Unlock()

	metrics.QRCodesIssued.Inc()
	r.broker.PublishQR(name, dataURI)
	log.SessionOp(name, "qr").Info("QR code broadcast to panel clients")
}

// HandleConnected persists the connected status and broadcasts it.
func (r *Registry) HandleConnected(name string) {
	entry := r.lookup(name)
	if entry == nil {
		return
	}

	entry.mu.Lock()
	wasConnected := entry.status == store.StatusConnected
	entry.status = store.StatusConnected
	entry.qrSince = time.Time{}
	if err := r.store.UpsertSession(context.Background(), name, store.StatusConnected); err != nil {
		log.SessionOp(name, "connected").WithError(err).Error("Failed to persist connected status")
	}
	entry.mu.Unlock()

	if !wasConnected {
		metrics.SessionsConnected.Inc()
	}
	r.broker.PublishConnected(name)
	log.SessionOp(name, "connected").Info("Session connected")
}

// HandleDisconnected applies the close policy: a logout reason is terminal
// and removes the registry entry; any other reason triggers a reconnect
// through the normal setup path.
func (r *Registry) HandleDisconnected(name string, loggedOut bool) {
	entry := r.lookup(name)
	if entry == nil {
		return
	}

	entry.mu.Lock()
	wasConnected := entry.status == store.StatusConnected
	if entry.connector != nil {
		entry.connector.Disconnect()
	}
	if loggedOut {
		entry.connector = nil
	}
	entry.status = store.StatusDisconnected
	entry.qrSince = time.Time{}
	if err := r.store.UpsertSession(context.Background(), name, store.StatusDisconnected); err != nil {
		log.SessionOp(name, "disconnected").WithError(err).Error("Failed to persist disconnected status")
	}
	entry.mu.Unlock()

	if wasConnected {
		metrics.SessionsConnected.Dec()
	}

	if loggedOut {
		if err := r.store.DeleteRouting(context.Background(), name); err != nil {
			log.SessionOp(name, "disconnected").WithError(err).Error("Failed to delete session routing")
		}
		r.remove(name, entry)
		log.SessionOp(name, "disconnected").Warn("Session logged out; create a new session to relink")
		return
	}

	if r.closed.Load() {
		return
	}

	log.SessionOp(name, "disconnected").Warn("Session closed unexpectedly; attempting reconnect")
	go func() {
		if err := r.Reconnect(context.Background(), name); err != nil {
			log.SessionOp(name, "reconnect").WithError(err).Error("Reconnect failed")
		}
	}()
}

// Send delivers a text message through the session's connector and appends
// an immutable record of the attempt. Fails with ErrNoActiveSession when no
// connected connector exists for the name; failed sends are recorded but
// never retried.
func (r *Registry) Send(ctx context.Context, name string, phone string, body string) (store.Message, error) {
	entry := r.lookup(name)
	if entry == nil {
		return store.Message{}, ErrNoActiveSession
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.connector == nil || entry.status != store.StatusConnected {
		return store.Message{}, ErrNoActiveSession
	}
	if !entry.limiter.Allow() {
		return store.Message{}, ErrSendRateExceeded
	}

	if _, err := entry.connector.SendText(ctx, phone, body); err != nil {
		if _, recErr := r.store.AppendMessage(ctx, name, phone, body, store.MessageFailed); recErr != nil {
			log.SessionOp(name, "send").WithError(recErr).Error("Failed to record failed send")
		}
		metrics.MessagesTotal.WithLabelValues(string(store.MessageFailed)).Inc()
		return store.Message{}, fmt.Errorf("send text: %w", err)
	}

	record, err := r.store.AppendMessage(ctx, name, phone, body, store.MessageSent)
	if err != nil {
		return store.Message{}, fmt.Errorf("storage: %w", err)
	}
	metrics.MessagesTotal.WithLabelValues(string(store.MessageSent)).Inc()
	r.broker.PublishMessageSent(phone, body)
	return record, nil
}

// SendImage delivers an image with optional caption. The caption is what
// gets recorded in the message log.
func (r *Registry) SendImage(ctx context.Context, name string, phone string, image []byte, mimeType string, caption string) (store.Message, error) {
	entry := r.lookup(name)
	if entry == nil {
		return store.Message{}, ErrNoActiveSession
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.connector == nil || entry.status != store.StatusConnected {
		return store.Message{}, ErrNoActiveSession
	}
	if !entry.limiter.Allow() {
		return store.Message{}, ErrSendRateExceeded
	}

	if _, err := entry.connector.SendImage(ctx, phone, image, mimeType, caption); err != nil {
		if _, recErr := r.store.AppendMessage(ctx, name, phone, caption, store.MessageFailed); recErr != nil {
			log.SessionOp(name, "send-image").WithError(recErr).Error("Failed to record failed send")
		}
		metrics.MessagesTotal.WithLabelValues(string(store.MessageFailed)).Inc()
		return store.Message{}, fmt.Errorf("send image: %w", err)
	}

	record, err := r.store.AppendMessage(ctx, name, phone, caption, store.MessageSent)
	if err != nil {
		return store.Message{}, fmt.Errorf("storage: %w", err)
	}
	metrics.MessagesTotal.WithLabelValues(string(store.MessageSent)).Inc()
	r.broker.PublishMessageSent(phone, caption)
	return record, nil
}

// List returns all persisted sessions, newest first.
func (r *Registry) List(ctx context.Context) ([]store.Session, error) {
	return r.store.ListSessions(ctx)
}

// Logout unlinks the session's device. Terminal: the operator must create a
// new session to relink.
func (r *Registry) Logout(ctx context.Context, name string) error {
	entry := r.lookup(name)
	if entry == nil {
		return ErrNoActiveSession
	}

	entry.mu.Lock()
	conn := entry.connector
	wasConnected := entry.status == store.StatusConnected
	if conn == nil {
		entry.mu.Unlock()
		return ErrNoActiveSession
	}

	if err := conn.Logout(ctx); err != nil {
		log.SessionOp(name, "logout").WithError(err).Warn("Logout request failed; dropping connector anyway")
		conn.Disconnect()
	}
	entry.connector = nil
	entry.status = store.StatusDisconnected
	if err := r.store.UpsertSession(ctx, name, store.StatusDisconnected); err != nil {
		entry.mu.Unlock()
		return fmt.Errorf("storage: %w", err)
	}
	entry.mu.Unlock()

	if wasConnected {
		metrics.SessionsConnected.Dec()
	}
	if err := r.store.DeleteRouting(ctx, name); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	r.remove(name, entry)
	return nil
}

// Delete is the administrative removal of a session: best-effort logout of
// any live connector, then removal of the persisted session row. The
// message log is kept.
func (r *Registry) Delete(ctx context.Context, name string) error {
	if entry := r.lookup(name); entry != nil {
		entry.mu.Lock()
		if entry.connector != nil {
			if err := entry.connector.Logout(ctx); err != nil {
				entry.connector.Disconnect()
			}
			entry.connector = nil
		}
		wasConnected := entry.status == store.StatusConnected
		entry.status = store.StatusDisconnected
		entry.mu.Unlock()
		if wasConnected {
			metrics.SessionsConnected.Dec()
		}
		r.remove(name, entry)
	}

	if err := r.store.DeleteSession(ctx, name); err != nil {
		return err
	}
	return nil
}

// ExpireQRPending disconnects sessions that sat in qr-pending longer than
// maxAge, treating them as abandoned. Returns how many were expired.
func (r *Registry) ExpireQRPending(maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}

	expired := 0
	cutoff := time.Now().Add(-maxAge)
	for name, entry := range r.snapshot() {
		entry.mu.Lock()
		if entry.status == store.StatusQRPending && !entry.qrSince.IsZero() && entry.qrSince.Before(cutoff) {
			if entry.connector != nil {
				entry.connector.Disconnect()
				entry.connector = nil
			}
			entry.status = store.StatusDisconnected
			entry.qrSince = time.Time{}
			if err := r.store.UpsertSession(context.Background(), name, store.StatusDisconnected); err != nil {
				log.SessionOp(name, "expire").WithError(err).Error("Failed to persist expired status")
			}
			entry.mu.Unlock()
			r.remove(name, entry)
			log.SessionOp(name, "expire").Warn("QR pairing window expired; session abandoned")
			expired++
			continue
		}
		entry.mu.Unlock()
	}
	return expired
}

// Shutdown disconnects every live connector and suppresses further
// reconnect attempts. Used on process exit.
func (r *Registry) Shutdown() {
	r.closed.Store(true)
	for _, entry := range r.snapshot() {
		entry.mu.Lock()
		if entry.connector != nil {
			entry.connector.Disconnect()
			entry.connector = nil
		}
		entry.status = store.StatusDisconnected
		entry.mu.Unlock()
	}
}

// SyncHealth reconciles persisted statuses with live connector state, the
// same job the connection events do but resilient to missed events.
func (r *Registry) SyncHealth(ctx context.Context) {
	for name, entry := range r.snapshot() {
		entry.mu.Lock()
		conn := entry.connector
		status := entry.status
		entry.mu.Unlock()

		if conn == nil {
			continue
		}
		healthy := conn.IsConnected()
		switch {
		case healthy && status != store.StatusConnected && status != store.StatusQRPending:
			log.SessionOp(name, "health").Info("Connector healthy; syncing status")
			r.HandleConnected(name)
		case !healthy && status == store.StatusConnected:
			log.SessionOp(name, "health").Warn("Connector unhealthy; syncing status")
			entry.mu.Lock()
			entry.status = store.StatusDisconnected
			if err := r.store.UpsertSession(ctx, name, store.StatusDisconnected); err != nil {
				log.SessionOp(name, "health").WithError(err).Error("Failed to persist disconnected status")
			}
			entry.mu.Unlock()
			metrics.SessionsConnected.Dec()
		}
	}
}
