// Package gateway talks JSON over HTTP to a messaging gateway that owns the
// actual messenger session.
package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chronosend/internal/eventbus"
	"chronosend/internal/model"
	"chronosend/internal/transport"
	logx "chronosend/pkg/logx"
)

const maxBody = 1 << 20

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	Session transport.SessionConfig
}

// Client implements transport.Transport against the gateway REST surface.
type Client struct {
	base    string
	token   string
	hc      *http.Client
	session *transport.Session
	log     logx.Logger
}

var _ transport.Transport = (*Client)(nil)

func New(cfg Config, log logx.Logger, bus eventbus.Bus) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("gateway: base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "gateway"))
	return &Client{
		base:    base,
		token:   cfg.Token,
		hc:      &http.Client{Timeout: cfg.Timeout},
		session: transport.NewSession(cfg.Session, log, bus),
		log:     log,
	}, nil
}

func (c *Client) Session() *transport.Session { return c.session }

func (c *Client) Ready() bool { return c.session.Ready() }

// Run keeps the session state machine going until ctx ends.
func (c *Client) Run(ctx context.Context) error {
	return c.session.Run(ctx, c.probe)
}

type sendTextRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

type sendMediaRequest struct {
	To       string `json:"to"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename"`
	MimeType string `json:"mimetype"`
	Data     string `json:"data"`
}

type sendResponse struct {
	ID  string          `json:"id"`
	Ack *model.AckLevel `json:"ack,omitempty"`
}

func (c *Client) SendText(ctx context.Context, to, text string) (transport.SendResult, error) {
	return c.send(ctx, "/send/text", sendTextRequest{To: to, Text: text})
}

func (c *Client) SendMedia(ctx context.Context, to string, media transport.MediaPayload, caption string) (transport.SendResult, error) {
	return c.send(ctx, "/send/media", sendMediaRequest{
		To:       to,
		Caption:  caption,
		Filename: media.Name,
		MimeType: media.MimeType,
		Data:     base64.StdEncoding.EncodeToString(media.Data),
	})
}

func (c *Client) send(ctx context.Context, path string, body any) (transport.SendResult, error) {
	if !c.Ready() {
		return transport.SendResult{}, fmt.Errorf("%w: %w", transport.ErrSendFailure, transport.ErrNotReady)
	}
	var out sendResponse
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return transport.SendResult{}, fmt.Errorf("%w: %s: %w", transport.ErrSendFailure, path, err)
	}
	if out.ID == "" {
		return transport.SendResult{}, fmt.Errorf("%w: %s: missing message id", transport.ErrSendFailure, path)
	}
	res := transport.SendResult{MessageID: out.ID, Ack: model.AckSent}
	if out.Ack != nil {
		res.Ack = *out.Ack
	}
	return res, nil
}

type statusResponse struct {
	State string `json:"state"`
	QR    string `json:"qr,omitempty"`
}

func (c *Client) probe(ctx context.Context) (transport.ProbeResult, error) {
	var st statusResponse
	if err := c.do(ctx, http.MethodGet, "/status", nil, &st); err != nil {
		return transport.ProbeResult{}, err
	}
	switch strings.ToLower(st.State) {
	case "ready", "connected", "open":
		return transport.ProbeResult{Ready: true}, nil
	case "qr", "pairing", "unpaired":
		return transport.ProbeResult{QR: st.QR}, nil
	default:
		return transport.ProbeResult{}, fmt.Errorf("gateway state %q", st.State)
	}
}

// QR returns the pairing code the gateway currently shows, empty when paired.
func (c *Client) QR(ctx context.Context) (string, error) {
	var out struct {
		QR string `json:"qr"`
	}
	if err := c.do(ctx, http.MethodGet, "/qr", nil, &out); err != nil {
		return "", err
	}
	return out.QR, nil
}

// Logout drops the gateway session and restarts the local state machine.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/logout", nil, nil); err != nil {
		return err
	}
	c.session.Reconnect()
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var rd io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d body=%q", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w body=%q", err, string(body))
	}
	return nil
}
