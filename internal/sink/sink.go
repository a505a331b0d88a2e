// Package sink delivers composed offer messages to a destination.
package sink

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// Message is one outgoing post.
type Message struct {
	ProductID string
	Caption   string
	ImageURL  string
	Image     []byte // prefetched image bytes, if cached
}

// Sink sends messages. Send must honour ctx cancellation.
type Sink interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// Error reports a failed delivery.
type Error struct {
	Sink      string
	ProductID string
	Status    int
	Err       error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("sink %s: product %s: status %d: %v", e.Sink, e.ProductID, e.Status, e.Err)
	}
	return fmt.Sprintf("sink %s: product %s: %v", e.Sink, e.ProductID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Webhook posts messages as JSON to an HTTP endpoint.
type Webhook struct {
	URL    string
	Chat   string
	client *http.Client
}

// NewWebhook creates a webhook sink.
func NewWebhook(url, chat string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Webhook{URL: url, Chat: chat, client: &http.Client{Timeout: timeout}}
}

func (w *Webhook) Name() string { return "webhook" }

type webhookPayload struct {
	Chat        string `json:"chat,omitempty"`
	ProductID   string `json:"product_id"`
	Caption     string `json:"caption"`
	ImageURL    string `json:"image_url,omitempty"`
	ImageBase64 string `json:"image_base64,omitempty"`
}

// Send posts the message. Any non-2xx answer is an *Error.
func (w *Webhook) Send(ctx context.Context, msg Message) error {
	body := webhookPayload{
		Chat:      w.Chat,
		ProductID: msg.ProductID,
		Caption:   msg.Caption,
		ImageURL:  msg.ImageURL,
	}
	if len(msg.Image) > 0 {
		body.ImageBase64 = base64.StdEncoding.EncodeToString(msg.Image)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "sink: marshal webhook payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(data))
	if err != nil {
		return eris.Wrap(err, "sink: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return &Error{Sink: w.Name(), ProductID: msg.ProductID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &Error{
			Sink:      w.Name(),
			ProductID: msg.ProductID,
			Status:    resp.StatusCode,
			Err:       eris.New(strings.TrimSpace(string(respBody))),
		}
	}
	return nil
}

// Writer prints messages to an io.Writer. It is the dry-run sink.
type Writer struct {
	mu  sync.Mutex
	out io.Writer
}

// NewWriter creates a sink writing to out.
func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out}
}

func (s *Writer) Name() string { return "stdout" }

func (s *Writer) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	image := msg.ImageURL
	if len(msg.Image) > 0 {
		image = fmt.Sprintf("%s (%d bytes cached)", msg.ImageURL, len(msg.Image))
	}
	_, err := fmt.Fprintf(s.out, "----- %s -----\n%s\n[image] %s\n\n", msg.ProductID, msg.Caption, image)
	if err != nil {
		return &Error{Sink: s.Name(), ProductID: msg.ProductID, Err: err}
	}
	return nil
}
