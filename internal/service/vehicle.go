package service

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"strings"

	"github.com/ossettyres/tyre-api/internal/cache"
	"github.com/ossettyres/tyre-api/internal/circuitbreaker"
	"github.com/ossettyres/tyre-api/internal/metrics"
	"github.com/ossettyres/tyre-api/internal/ratelimit"
	"github.com/ossettyres/tyre-api/internal/upstream"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	msgMissingVRM = "Use ?reg=YOURREG or provide registrationNumber"
	msgInvalidVRM = "Invalid VRM format"
)

var vrmPattern = regexp.MustCompile(`^[A-Z0-9]{1,8}$`)

type DVLALookup interface {
	Lookup(ctx context.Context, vrm string) (upstream.Result, error)
}

type TyreFitment interface {
	Fitment(ctx context.Context, vrm string) (upstream.Result, error)
}

// VehicleLookup is the body returned to the browser.
type VehicleLookup struct {
	OK    bool               `json:"ok"`
	DVLA  json.RawMessage    `json:"dvla"`
	Tyres upstream.TyreSizes `json:"tyres"`
}

type LookupResult struct {
	VRM            string
	Status         int
	UpstreamStatus int
	Cached         bool
	Body           VehicleLookup
}

type VehicleService struct {
	cooldown *ratelimit.CooldownTracker
	dvla     DVLALookup
	tyres    TyreFitment
	cache    cache.Store
	metrics  *metrics.Metrics
}

func NewVehicleService(cooldown *ratelimit.CooldownTracker, dvla DVLALookup, tyres TyreFitment, store cache.Store, m *metrics.Metrics) *VehicleService {
	if store == nil {
		store = cache.Noop{}
	}
	return &VehicleService{
		cooldown: cooldown,
		dvla:     dvla,
		tyres:    tyres,
		cache:    store,
		metrics:  m,
	}
}

// NormalizeVRM trims, upper-cases and removes spaces from a registration,
// then checks its format.
func NormalizeVRM(input string) (string, error) {
	vrm := strings.ToUpper(strings.Join(strings.Fields(input), ""))
	if vrm == "" {
		return "", &ValidationError{Message: msgMissingVRM}
	}
	if !vrmPattern.MatchString(vrm) {
		return "", &ValidationError{Message: msgInvalidVRM}
	}
	return vrm, nil
}

func (s *VehicleService) Policy() string {
	return s.cooldown.Policy()
}

// Lookup validates the registration, applies the cooldown for clientIP and
// queries DVLA then tyre fitment. Tyre failures only blank the sizes.
func (s *VehicleService) Lookup(ctx context.Context, clientIP, input string) (*LookupResult, error) {
	vrm, err := NormalizeVRM(input)
	if err != nil {
		return nil, err
	}

	if d := s.cooldown.Check(clientIP, vrm); d.Blocked {
		if s.metrics != nil {
			s.metrics.LimiterRejected.WithLabelValues(string(d.Rule)).Inc()
		}
		return nil, &CooldownError{Decision: d, Policy: s.cooldown.Policy()}
	}

	logger := zerolog.Ctx(ctx).With().Str("vrm", vrm).Logger()

	if cached, ok := s.cache.Get(ctx, vrm); ok {
		var body VehicleLookup
		if err := json.Unmarshal(cached, &body); err == nil {
			return &LookupResult{VRM: vrm, Status: http.StatusOK, UpstreamStatus: http.StatusOK, Cached: true, Body: body}, nil
		}
		logger.Warn().Msg("discarding unreadable cached lookup")
	}

	dvla, err := s.dvla.Lookup(ctx, vrm)
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			return failedLookup(vrm, http.StatusServiceUnavailable, `{"error":"DVLA temporarily unavailable"}`), nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.WithMessage(ctxErr, "dvla lookup")
		}
		logger.Error().Err(err).Msg("dvla lookup failed")
		return failedLookup(vrm, http.StatusBadGateway, `{"error":"DVLA request failed"}`), nil
	}

	if !dvla.OK() {
		res := failedLookup(vrm, dvla.Status, "")
		res.Body.DVLA = dvla.Data
		res.UpstreamStatus = dvla.Status
		return res, nil
	}

	sizes, complete := s.tyreSizes(ctx, logger, vrm)
	res := &LookupResult{
		VRM:            vrm,
		Status:         http.StatusOK,
		UpstreamStatus: dvla.Status,
		Body: VehicleLookup{
			OK:    true,
			DVLA:  dvla.Data,
			Tyres: sizes,
		},
	}

	// Lookups with missing fitment data are retried next time.
	if complete {
		if encoded, err := json.Marshal(res.Body); err == nil {
			s.cache.Set(ctx, vrm, encoded)
		}
	}

	return res, nil
}

func (s *VehicleService) tyreSizes(ctx context.Context, logger zerolog.Logger, vrm string) (upstream.TyreSizes, bool) {
	raw, err := s.tyres.Fitment(ctx, vrm)
	if err != nil {
		logger.Warn().Err(err).Msg("tyre fitment lookup failed")
		return upstream.TyreSizes{}, false
	}
	if !raw.OK() {
		logger.Debug().Int("status", raw.Status).Msg("tyre fitment unavailable")
		return upstream.TyreSizes{}, false
	}
	sizes := upstream.PickTyreSizes(raw.Data)
	return sizes, sizes.Front != nil || sizes.Rear != nil
}

func failedLookup(vrm string, status int, dvla string) *LookupResult {
	data := json.RawMessage("null")
	if dvla != "" {
		data = json.RawMessage(dvla)
	}
	return &LookupResult{
		VRM:    vrm,
		Status: status,
		Body:   VehicleLookup{OK: false, DVLA: data},
	}
}
