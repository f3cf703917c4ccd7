package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "panel_messages_total",
		Help: "Message send attempts by outcome.",
	}, []string{"status"})

	QRCodesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "panel_qr_codes_issued_total",
		Help: "QR linking codes broadcast to panel clients.",
	})

	SessionsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "panel_sessions_connected",
		Help: "Sessions currently connected to WhatsApp.",
	})

	ReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "panel_session_reconnects_total",
		Help: "Automatic reconnect attempts after unexpected disconnects.",
	})
)

// Handler exposes the prometheus registry on a fiber route.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
