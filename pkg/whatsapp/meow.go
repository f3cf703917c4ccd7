package whatsapp

import (
	"bytes"
	"context"
	"errors"
	"runtime"
	"strings"
	"time"

	"github.com/sunshineplan/imgconv"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waCompanionReg"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wstore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waEvents "go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/henry-inxide/WhatsApp-server/pkg/env"
	"github.com/henry-inxide/WhatsApp-server/pkg/log"
	"github.com/henry-inxide/WhatsApp-server/pkg/store"
)

const (
	qrChannelWaitTimeout  = 2 * time.Minute
	logoutRequestTimeout  = 30 * time.Second
	routingCleanupTimeout = 5 * time.Second
)

// NewDialer returns a Dialer backed by whatsmeow. Credential state lives in
// the sqlstore container; the routing table maps panel session names to the
// linked device so a relinked session reuses its credentials.
func NewDialer(container *sqlstore.Container, st *store.Store) Dialer {
	wstore.DeviceProps.Os = proto.String(runtime.GOOS)
	wstore.DeviceProps.PlatformType = waCompanionReg.DeviceProps_CHROME.Enum()
	wstore.DeviceProps.RequireFullSync = proto.Bool(false)

	proxyURL, _ := env.GetEnvString("WHATSAPP_CLIENT_PROXY_URL")

	return func(ctx context.Context, name string, ev Events) (Connector, error) {
		device, err := loadDevice(ctx, container, st, name)
		if err != nil {
			return nil, err
		}

		client := whatsmeow.NewClient(device, nil)
		if proxyURL != "" {
			client.SetProxyAddress(proxyURL)
		}

		// The registry owns the reconnect policy; whatsmeow must not
		// race it with its own reconnect loop.
		client.EnableAutoReconnect = false
		client.AutoTrustIdentity = true

		conn := &meowConnector{
			name:   name,
			client: client,
			events: ev,
			store:  st,
		}
		client.AddEventHandler(conn.handleEvent)
		return conn, nil
	}
}

func loadDevice(ctx context.Context, container *sqlstore.Container, st *store.Store, name string) (*wstore.Device, error) {
	deviceJID, ok, err := st.GetRouting(ctx, name)
	if err != nil {
		return nil, err
	}
	if ok {
		jid, err := types.ParseJID(deviceJID)
		if err == nil {
			device, err := container.GetDevice(ctx, jid)
			if err == nil && device != nil {
				return device, nil
			}
		}
		// Stale routing entry; a fresh device forces a new QR pairing.
		log.SessionOp(name, "dial").Warn("Routed device not found in datastore, creating a new device")
	}
	return container.NewDevice(), nil
}

// meowConnector adapts one whatsmeow client to the registry's Connector
// interface and translates its event stream into lifecycle callbacks.
type meowConnector struct {
	name   string
	client *whatsmeow.Client
	events Events
	store  *store.Store
}

func (m *meowConnector) Connect() error {
	if m.client.Store.ID == nil {
		ctx, cancel := context.WithTimeout(context.Background(), qrChannelWaitTimeout)

		qrChan, err := m.client.GetQRChannel(ctx)
		if err != nil {
			cancel()
			return err
		}
		if err := m.client.Connect(); err != nil {
			cancel()
			return err
		}

		go m.pumpQR(cancel, qrChan)
		return nil
	}

	return m.client.Connect()
}

// pumpQR forwards every fresh linking code to the registry until the
// channel reports pairing success or gives up.
func (m *meowConnector) pumpQR(cancel context.CancelFunc, qrChan <-chan whatsmeow.QRChannelItem) {
	defer cancel()
	for evt := range qrChan {
		switch evt.Event {
		case "code":
			m.events.HandleQR(m.name, evt.Code)
		case whatsmeow.QRChannelSuccess.Event:
			return
		case whatsmeow.QRChannelTimeout.Event:
			log.SessionOp(m.name, "qr").Warn("QR channel timed out before a scan")
			return
		default:
			log.SessionOp(m.name, "qr").Warn("QR channel closed: " + evt.Event)
			return
		}
	}
}

func (m *meowConnector) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *waEvents.Connected:
		if m.client.Store.ID != nil {
			ctx, cancel := context.WithTimeout(context.Background(), routingCleanupTimeout)
			if err := m.store.SaveRouting(ctx, m.name, m.client.Store.ID.String()); err != nil {
				log.SessionOp(m.name, "connected").WithError(err).Error("Failed to save session routing")
			}
			cancel()
		}
		m.events.HandleConnected(m.name)
	case *waEvents.LoggedOut:
		m.events.HandleDisconnected(m.name, true)
	case *waEvents.StreamReplaced:
		// Another client took over the websocket; keeping this one
		// alive would just fight it.
		m.events.HandleDisconnected(m.name, true)
	case *waEvents.Disconnected:
		m.events.HandleDisconnected(m.name, false)
	case *waEvents.ConnectFailure:
		log.SessionOp(m.name, "connect").Error("Connection failure: " + string(e.Reason.String()))
	case *waEvents.TemporaryBan:
		log.SessionOp(m.name, "connect").Error("Temporarily banned: " + e.Code.String() + ", expires " + e.Expire.String())
	case *waEvents.KeepAliveTimeout:
		log.SessionOp(m.name, "connect").Warn("Keepalive timeout")
	}
}

func (m *meowConnector) Disconnect() {
	m.client.Disconnect()
}

func (m *meowConnector) IsConnected() bool {
	return m.client.IsConnected() && m.client.IsLoggedIn()
}

func (m *meowConnector) Logout(ctx context.Context) error {
	if m.client.Store.ID == nil {
		return errors.New("whatsapp client is not paired")
	}

	logoutCtx, cancel := context.WithTimeout(ctx, logoutRequestTimeout)
	defer cancel()

	if err := m.client.Logout(logoutCtx); err != nil {
		m.client.Disconnect()
		storeCtx, storeCancel := context.WithTimeout(context.Background(), routingCleanupTimeout)
		defer storeCancel()
		return m.client.Store.Delete(storeCtx)
	}
	return nil
}

func (m *meowConnector) ready() error {
	if !m.client.IsConnected() {
		return errors.New("whatsapp client is not connected")
	}
	if !m.client.IsLoggedIn() {
		return errors.New("whatsapp client is not logged in")
	}
	return nil
}

func composeUserJID(phone string) types.JID {
	phone = strings.TrimSpace(phone)
	if i := strings.IndexRune(phone, '@'); i >= 0 {
		phone = phone[:i]
	}
	phone = strings.TrimPrefix(phone, "+")
	return types.NewJID(phone, types.DefaultUserServer)
}

func (m *meowConnector) SendText(ctx context.Context, phone string, body string) (string, error) {
	if err := m.ready(); err != nil {
		return "", err
	}

	remoteJID := composeUserJID(phone)
	msgExtra := whatsmeow.SendRequestExtra{ID: m.client.GenerateMessageID()}
	msgContent := &waE2E.Message{
		Conversation: proto.String(body),
	}

	if _, err := m.client.SendMessage(ctx, remoteJID, msgContent, msgExtra); err != nil {
		return "", err
	}
	return msgExtra.ID, nil
}

func (m *meowConnector) SendImage(ctx context.Context, phone string, image []byte, mimeType string, caption string) (string, error) {
	if err := m.ready(); err != nil {
		return "", err
	}

	remoteJID := composeUserJID(phone)

	if env.GetEnvBoolOrDefault("PANEL_MEDIA_IMAGE_COMPRESSION", false) {
		resized, err := reencodeImage(image, 1024, imgconv.FormatOption{})
		if err != nil {
			return "", errors.New("error while resizing image stream")
		}
		image = resized
	}

	thumbnail, err := reencodeImage(image, 72, imgconv.FormatOption{Format: imgconv.JPEG})
	if err != nil {
		return "", errors.New("error while encoding thumbnail image stream")
	}

	imageUploaded, err := m.client.Upload(ctx, image, whatsmeow.MediaImage)
	if err != nil {
		return "", errors.New("error while uploading media to whatsapp server")
	}
	thumbUploaded, err := m.client.Upload(ctx, thumbnail, whatsmeow.MediaLinkThumbnail)
	if err != nil {
		return "", errors.New("error while uploading image thumbnail to whatsapp server")
	}

	msgExtra := whatsmeow.SendRequestExtra{ID: m.client.GenerateMessageID()}
	msgContent := &waE2E.Message{
		ImageMessage: &waE2E.ImageMessage{
			URL:                 proto.String(imageUploaded.URL),
			DirectPath:          proto.String(imageUploaded.DirectPath),
			Mimetype:            proto.String(mimeType),
			Caption:             proto.String(caption),
			FileLength:          proto.Uint64(imageUploaded.FileLength),
			FileSHA256:          imageUploaded.FileSHA256,
			FileEncSHA256:       imageUploaded.FileEncSHA256,
			MediaKey:            imageUploaded.MediaKey,
			JPEGThumbnail:       thumbnail,
			ThumbnailDirectPath: &thumbUploaded.DirectPath,
			ThumbnailSHA256:     thumbUploaded.FileSHA256,
			ThumbnailEncSHA256:  thumbUploaded.FileEncSHA256,
		},
	}

	if _, err := m.client.SendMessage(ctx, remoteJID, msgContent, msgExtra); err != nil {
		return "", err
	}
	return msgExtra.ID, nil
}

func reencodeImage(image []byte, width int, format imgconv.FormatOption) ([]byte, error) {
	decoded, err := imgconv.Decode(bytes.NewReader(image))
	if err != nil {
		return nil, err
	}
	encoded := new(bytes.Buffer)
	err = imgconv.Write(encoded,
		imgconv.Resize(decoded, &imgconv.ResizeOption{Width: width}),
		&format)
	if err != nil {
		return nil, err
	}
	return encoded.Bytes(), nil
}
