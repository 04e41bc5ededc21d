package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/ossettyres/tyre-api/internal/metrics"
)

var tyresNotConfigured = json.RawMessage(`{"error":"Tyre API key not configured (ONEAUTO_API_KEY)"}`)

// TyreSizes are the OE front and rear sizes. Missing values encode as null.
type TyreSizes struct {
	Front any `json:"tyre_size_front"`
	Rear  any `json:"tyre_size_rear"`
}

// TyreClient queries the OE tyre fitment service.
type TyreClient struct {
	*client
}

func NewTyres(cfg Config, m *metrics.Metrics) *TyreClient {
	return &TyreClient{client: newClient("tyres", cfg, m)}
}

// Fitment fetches raw fitment data. Without an API key it returns a 501
// result without calling out.
func (t *TyreClient) Fitment(ctx context.Context, vrm string) (Result, error) {
	if !t.configured() {
		return Result{Status: http.StatusNotImplemented, Data: tyresNotConfigured}, nil
	}

	return t.do(ctx, func(ctx context.Context) (*http.Request, error) {
		u, err := url.Parse(t.url)
		if err != nil {
			return nil, err
		}
		q := u.Query()
		q.Set("vehicle_registration_mark", vrm)
		u.RawQuery = q.Encode()

		return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	})
}

// PickTyreSizes extracts the sizes of the first model in oe_data.modelIDs.
func PickTyreSizes(raw json.RawMessage) TyreSizes {
	var payload struct {
		OEData struct {
			ModelIDs []struct {
				Front any `json:"tyre_size_front"`
				Rear  any `json:"tyre_size_rear"`
			} `json:"modelIDs"`
		} `json:"oe_data"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || len(payload.OEData.ModelIDs) == 0 {
		return TyreSizes{}
	}
	first := payload.OEData.ModelIDs[0]
	return TyreSizes{Front: first.Front, Rear: first.Rear}
}
