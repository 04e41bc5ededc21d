package service

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ossettyres/tyre-api/internal/email"
	"github.com/ossettyres/tyre-api/internal/metrics"
	"github.com/ossettyres/tyre-api/internal/ratelimit"
	"github.com/ossettyres/tyre-api/internal/sheets"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/idna"
)

// Fields forwarded to the relay, in form order.
var enquiryFields = []string{
	"from_name", "subject", "reply_to", "message",
	"reg", "make", "colour", "year",
	"chosenFrontTyre", "chosenRearTyre", "frontQty", "rearQty",
	"tierPref", "brandPref", "customerName", "phone", "submittedAt",
}

var requiredFields = []string{"from_name", "subject", "reply_to", "message"}

// Enquiry is a decoded form submission. Values keep whatever JSON type the
// browser sent.
type Enquiry map[string]any

// ParseEnquiry decodes body, treating anything that is not a JSON object as empty.
func ParseEnquiry(body []byte) Enquiry {
	var e Enquiry
	if err := json.Unmarshal(body, &e); err != nil || e == nil {
		return Enquiry{}
	}
	return e
}

func (e Enquiry) text(field string) string {
	return text(e[field])
}

// IsSpam reports whether the honeypot field was filled in.
func (e Enquiry) IsSpam() bool {
	return truthy(e["honey"])
}

func (e Enquiry) Complete() bool {
	for _, f := range requiredFields {
		if !truthy(e[f]) {
			return false
		}
	}
	return true
}

// Fields returns the known fields that are present.
func (e Enquiry) Fields() map[string]any {
	out := make(map[string]any, len(enquiryFields))
	for _, f := range enquiryFields {
		if v, ok := e[f]; ok && v != nil {
			out[f] = v
		}
	}
	return out
}

// OrderRow renders the enquiry as an Orders sheet row.
func (e Enquiry) OrderRow(now time.Time) []any {
	submitted := e.cell("submittedAt")
	if submitted == "" {
		submitted = now.UTC().Format("2006-01-02T15:04:05.000Z")
	}
	return []any{
		e.cell("customerName"),
		e.cell("reply_to"),
		e.cell("phone"),
		e.cell("reg"),
		e.cell("make"),
		e.cell("colour"),
		e.cell("year"),
		e.cell("chosenFrontTyre"),
		e.text("frontQty"),
		e.cell("chosenRearTyre"),
		e.text("rearQty"),
		e.cell("tierPref"),
		e.cell("brandPref"),
		submitted,
	}
}

// cell is the field as text, or empty when it is falsy.
func (e Enquiry) cell(field string) string {
	if !truthy(e[field]) {
		return ""
	}
	return e.text(field)
}

type Relay interface {
	Configured() bool
	Submit(ctx context.Context, fields map[string]any) (*email.Result, error)
}

type RowAppender interface {
	Append(ctx context.Context, rangeA1 string, rows [][]any) error
}

type EnquiryConfig struct {
	IPLimiter    ratelimit.Limiter
	EmailLimiter ratelimit.Limiter
	Relay        Relay
	Sheets       RowAppender
	OrdersRange  string
	Metrics      *metrics.Metrics
	// Go runs background work. Defaults to a plain goroutine.
	Go  func(func())
	Now func() time.Time
}

type EnquiryResult struct {
	Status int
	Body   any
	// Email is the normalised reply_to address, empty for rejected forms.
	Email string
}

type EnquiryService struct {
	ipLimiter    ratelimit.Limiter
	emailLimiter ratelimit.Limiter
	relay        Relay
	sheets       RowAppender
	ordersRange  string
	metrics      *metrics.Metrics
	goFn         func(func())
	now          func() time.Time
	pending      sync.WaitGroup
}

func NewEnquiryService(cfg EnquiryConfig) *EnquiryService {
	if cfg.Go == nil {
		cfg.Go = func(fn func()) { go fn() }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.OrdersRange == "" {
		cfg.OrdersRange = "Orders!A:Z"
	}
	return &EnquiryService{
		ipLimiter:    cfg.IPLimiter,
		emailLimiter: cfg.EmailLimiter,
		relay:        cfg.Relay,
		sheets:       cfg.Sheets,
		ordersRange:  cfg.OrdersRange,
		metrics:      cfg.Metrics,
		goFn:         cfg.Go,
		now:          cfg.Now,
	}
}

// NormalizeEmail lower-cases the address and converts its domain to
// ASCII so that equivalent spellings share a rate window.
func NormalizeEmail(addr string) string {
	addr = strings.ToLower(strings.TrimSpace(addr))
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return addr
	}
	domain, err := idna.Lookup.ToASCII(addr[at+1:])
	if err != nil {
		return addr
	}
	return addr[:at+1] + domain
}

// Submit runs the enquiry pipeline for one form from clientIP.
func (s *EnquiryService) Submit(ctx context.Context, clientIP string, e Enquiry) (*EnquiryResult, error) {
	if !s.relay.Configured() {
		return nil, email.ErrNotConfigured
	}

	if e.IsSpam() {
		return &EnquiryResult{Status: http.StatusOK, Body: map[string]any{"success": true, "message": "ok"}}, nil
	}

	if !e.Complete() {
		return nil, &ValidationError{Message: "Missing fields"}
	}

	addr := NormalizeEmail(e.text("reply_to"))

	if s.ipLimiter != nil && s.ipLimiter.Hit(clientIP) {
		return nil, s.rejected("ip", s.ipLimiter)
	}
	if s.emailLimiter != nil && s.emailLimiter.Hit(addr) {
		return nil, s.rejected("email", s.emailLimiter)
	}

	res, err := s.relay.Submit(ctx, e.Fields())
	if err != nil {
		return nil, errors.WithMessage(err, "forward enquiry")
	}

	s.appendOrder(e)

	status := res.Status
	if !res.OK && status >= 200 && status < 300 {
		status = http.StatusBadGateway
	}

	return &EnquiryResult{Status: status, Body: res.Data, Email: addr}, nil
}

func (s *EnquiryService) rejected(scope string, l ratelimit.Limiter) error {
	if s.metrics != nil {
		s.metrics.LimiterRejected.WithLabelValues(scope).Inc()
	}
	return &RateLimitError{Scope: scope, Limit: l.Limit(), Window: int(l.Window().Seconds())}
}

// appendOrder writes the Orders row in the background. Failures are logged.
func (s *EnquiryService) appendOrder(e Enquiry) {
	if s.sheets == nil {
		return
	}
	row := e.OrderRow(s.now())
	rng := s.ordersRange

	s.pending.Add(1)
	s.goFn(func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := s.sheets.Append(ctx, rng, [][]any{row})
		switch {
		case err == nil:
		case errors.Is(err, sheets.ErrNotConfigured):
			log.Warn().Msg("sheets not configured, skipping orders row")
		default:
			log.Error().Err(err).Str("range", rng).Msg("orders append failed")
		}
	})
}

// Wait blocks until background Orders writes finish or ctx is done.
func (s *EnquiryService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.WithMessage(ctx.Err(), "waiting for orders rows")
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case float64:
		return t != 0
	default:
		return true
	}
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
