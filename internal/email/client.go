// Package email forwards enquiry forms to the Web3Forms relay.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

var ErrNotConfigured = errors.New("email key not configured")

type Config struct {
	URL       string
	AccessKey string
	Timeout   time.Duration
}

// Result is the relay reply, parsed leniently. A body that is not JSON
// ends up as {"raw": body} in Data.
type Result struct {
	OK      bool
	Status  int
	Message string
	Data    map[string]any
	Raw     string
}

type Client struct {
	url       string
	accessKey string
	http      *http.Client
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		url:       cfg.URL,
		accessKey: cfg.AccessKey,
		http:      &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) Configured() bool {
	return c.accessKey != ""
}

// Submit posts fields together with the access key.
func (c *Client) Submit(ctx context.Context, fields map[string]any) (*Result, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	payload := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		payload[k] = v
	}
	payload["access_key"] = c.accessKey

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "encode form")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build relay request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "relay request")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read relay response")
	}

	return parse(resp.StatusCode, raw), nil
}

func parse(status int, raw []byte) *Result {
	res := &Result{Status: status, Raw: string(raw), Data: map[string]any{}}

	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &res.Data); err != nil || res.Data == nil {
			res.Data = map[string]any{"raw": string(raw)}
		}
	}

	success := res.Data["success"] == true || res.Data["success"] == "true" || res.Data["status"] == "success"
	res.OK = status >= 200 && status < 300 && success

	if msg, ok := res.Data["message"].(string); ok && msg != "" {
		res.Message = msg
	} else if rawMsg, ok := res.Data["raw"].(string); ok {
		res.Message = rawMsg
	}

	return res
}
