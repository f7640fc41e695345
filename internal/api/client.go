// Package api is a client for the storefront REST backend. It serves as the
// stock cache's repository and as the order lifecycle's backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"

	"github.com/ariefcatur/go-storefront-sync/internal/apperr"
)

var logger = loggo.GetLogger("storefront.api")

const maxBody = 16 << 20

type Config struct {
	BaseURL string
	Token   string        // bearer token; empty sends no Authorization header
	Timeout time.Duration // per request; 0 leaves it to ctx
	HTTP    *http.Client  // optional
}

func (c Config) Validate() error {
	if c.BaseURL == "" {
		return errors.NotValidf("empty BaseURL")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return errors.NotValidf("BaseURL %q", c.BaseURL)
	}
	return nil
}

type Client struct {
	base  string
	token string
	http  *http.Client
}

func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	hc := cfg.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{base: strings.TrimRight(cfg.BaseURL, "/"), token: cfg.Token, http: hc}, nil
}

// envelope is the backend's {success, message, data} response wrapper.
type envelope struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func (e envelope) text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

// do sends one request and returns the body of a 2xx response. Any other
// outcome is mapped to an apperr kind.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) ([]byte, error) {
	op := method + " " + path
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, errors.Annotatef(err, "build %s", op)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Fetch(op, 0, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, apperr.Fetch(op, resp.StatusCode, errors.Annotate(err, "read body"))
	}
	logger.Tracef("%s -> %d in %v", op, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusErr(op, resp.StatusCode, data)
	}
	var env envelope
	if json.Unmarshal(data, &env) == nil && env.Success != nil && !*env.Success {
		if msg := env.text(); msg != "" {
			return nil, rejected(msg)
		}
		return nil, apperr.Fetch(op, resp.StatusCode, errors.New("request not successful"))
	}
	return data, nil
}

// statusErr maps a rejected request to an error carrying the backend's
// message verbatim.
func statusErr(op string, status int, body []byte) error {
	var env envelope
	_ = json.Unmarshal(body, &env)
	msg := env.text()
	if msg == "" {
		msg = http.StatusText(status)
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperr.Auth(msg)
	case status == http.StatusConflict:
		return apperr.Conflict(msg)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return rejected(msg)
	default:
		return apperr.Fetch(op, status, errors.New(msg))
	}
}

// rejected classifies a refusal the backend explained in msg. It reports
// duplicates with the word "already".
func rejected(msg string) error {
	if strings.Contains(strings.ToLower(msg), "already") {
		return apperr.Conflict(msg)
	}
	return apperr.Validation(msg)
}

func (c *Client) getJSON(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, nil, "")
}

func (c *Client) postJSON(ctx context.Context, path string, in any) ([]byte, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, errors.Annotatef(err, "encode %s", path)
		}
		body = bytes.NewReader(b)
	}
	return c.do(ctx, http.MethodPost, path, body, "application/json")
}

// unwrapList decodes a list sent either bare or as the data of an
// envelope.
func unwrapList(op string, body []byte, out any) error {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		return decode(op, body, out)
	}
	var env envelope
	if err := decode(op, body, &env); err != nil {
		return err
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return apperr.Fetch(op, 0, errors.New("response has no data"))
	}
	return decode(op, env.Data, out)
}

func decode(op string, body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return apperr.Fetch(op, 0, errors.Annotate(err, "decode response"))
	}
	return nil
}
