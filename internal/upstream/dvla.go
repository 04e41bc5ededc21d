package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/ossettyres/tyre-api/internal/metrics"
)

var dvlaNotConfigured = json.RawMessage(`{"error":"DVLA API key not configured"}`)

// DVLAClient queries the DVLA vehicle enquiry service.
type DVLAClient struct {
	*client
}

func NewDVLA(cfg Config, m *metrics.Metrics) *DVLAClient {
	return &DVLAClient{client: newClient("dvla", cfg, m)}
}

// Lookup posts the registration to DVLA. Without an API key it returns a
// 500 result without calling out.
func (d *DVLAClient) Lookup(ctx context.Context, vrm string) (Result, error) {
	if !d.configured() {
		return Result{Status: http.StatusInternalServerError, Data: dvlaNotConfigured}, nil
	}

	body, err := json.Marshal(map[string]string{"registrationNumber": vrm})
	if err != nil {
		return Result{}, err
	}

	return d.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
}
