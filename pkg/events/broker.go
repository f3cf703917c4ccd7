package events

import (
	"sync"
)

// Kind identifies one of the broadcast event kinds pushed to panel clients.
type Kind string

const (
	KindQR          Kind = "qr"
	KindConnected   Kind = "connected"
	KindMessageSent Kind = "message-sent"
)

// Event is one frame delivered to every subscribed panel client.
type Event struct {
	Event Kind        `json:"event"`
	Data  interface{} `json:"data"`
}

type QRData struct {
	SessionName string `json:"sessionName"`
	QR          string `json:"qr"`
}

type ConnectedData struct {
	SessionName string `json:"sessionName"`
}

type MessageSentData struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

const subscriberBuffer = 32

// Broker fans events out to every currently subscribed client. Delivery is
// best-effort: a subscriber that stops draining its channel loses frames
// rather than blocking the publisher. There is no replay for late joiners.
type Broker struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

func NewBroker() *Broker {
	return &Broker{
		subs: make(map[int]chan Event),
	}
}

// Subscribe registers a new client. The returned cancel function must be
// called when the client disconnects.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
	}
	return ch, cancel
}

// Publish delivers an event to all current subscribers without blocking.
func (b *Broker) Publish(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			// Subscriber buffer full; drop the frame for that client.
		}
	}
}

func (b *Broker) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broker) PublishQR(sessionName string, qr string) {
	b.Publish(Event{Event: KindQR, Data: QRData{SessionName: sessionName, QR: qr}})
}

func (b *Broker) PublishConnected(sessionName string) {
	b.Publish(Event{Event: KindConnected, Data: ConnectedData{SessionName: sessionName}})
}

func (b *Broker) PublishMessageSent(phone string, message string) {
	b.Publish(Event{Event: KindMessageSent, Data: MessageSentData{Phone: phone, Message: message}})
}
