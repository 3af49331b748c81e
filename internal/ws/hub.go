package ws

import (
	"encoding/json"
	"sync"
)

// Client is one websocket subscribed to a single payment.
type Client struct {
	PaymentID string
	Subject   string // token subject of the caller
	Send      chan []byte
	Hub       *Hub // set by Register so Close can unregister
	mu        sync.Mutex
	closed    bool
}

func NewClient(paymentID, subject string) *Client {
	return &Client{PaymentID: paymentID, Subject: subject, Send: make(chan []byte, 16)}
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.Hub != nil {
		c.Hub.unregister(c)
	}
	close(c.Send)
}

// Hub fans payment status updates out to the clients watching each payment.
type Hub struct {
	mu        sync.RWMutex
	byPayment map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{byPayment: make(map[string]map[*Client]struct{})}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c.Hub = h
	if h.byPayment[c.PaymentID] == nil {
		h.byPayment[c.PaymentID] = make(map[*Client]struct{})
	}
	h.byPayment[c.PaymentID][c] = struct{}{}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m := h.byPayment[c.PaymentID]; m != nil {
		delete(m, c)
		if len(m) == 0 {
			delete(h.byPayment, c.PaymentID)
		}
	}
}

// Publish sends payload to every client watching paymentID. Slow clients drop
// the message rather than block the publisher.
func (h *Hub) Publish(paymentID string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	// Sending under the read lock keeps Close from closing a channel mid-send.
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.byPayment[paymentID] {
		select {
		case c.Send <- data:
		default:
		}
	}
}

func (h *Hub) ClientCount(paymentID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byPayment[paymentID])
}
