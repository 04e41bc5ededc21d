package audit

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/ossettyres/tyre-api/internal/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/blake2b"
)

// Sink persists a batch of records.
type Sink interface {
	Name() string
	Write(ctx context.Context, records []Record) error
}

type Config struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	// IPHashKey, when set, replaces client IPs with a keyed BLAKE2b digest.
	IPHashKey string
	Metrics   *metrics.Metrics
}

// Recorder buffers records in a channel and writes them to every sink in
// batches from a single background worker. Recording never blocks a request.
type Recorder struct {
	mu      sync.RWMutex
	closed  bool
	ch      chan Record
	done    chan struct{}
	sinks   []Sink
	batch   int
	every   time.Duration
	hashIP  func(string) string
	metrics *metrics.Metrics
}

func NewRecorder(cfg Config, sinks ...Sink) *Recorder {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}

	r := &Recorder{
		ch:      make(chan Record, cfg.BufferSize),
		done:    make(chan struct{}),
		sinks:   sinks,
		batch:   cfg.BatchSize,
		every:   cfg.FlushInterval,
		hashIP:  ipHasher(cfg.IPHashKey),
		metrics: cfg.Metrics,
	}

	go r.run()

	return r
}

// Record queues rec for writing, dropping it when the buffer is full.
func (r *Recorder) Record(rec Record) {
	if r == nil {
		return
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	rec.ClientIP = r.hashIP(rec.ClientIP)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}

	select {
	case r.ch <- rec:
	default:
		log.Warn().Str("kind", string(rec.Kind)).Msg("audit buffer full, dropping record")
		if r.metrics != nil {
			r.metrics.AuditDropped.Inc()
		}
	}
}

// Close stops accepting records and blocks until buffered ones are written.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.ch)
	r.mu.Unlock()

	<-r.done
}

func (r *Recorder) run() {
	defer close(r.done)

	batch := make([]Record, 0, r.batch)
	ticker := time.NewTicker(r.every)
	defer ticker.Stop()

	for {
		select {
		case rec, ok := <-r.ch:
			if !ok {
				r.flush(batch)
				return
			}
			batch = append(batch, rec)

			// Insert when batch is full
			if len(batch) >= r.batch {
				r.flush(batch)
				batch = make([]Record, 0, r.batch)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(batch)
				batch = make([]Record, 0, r.batch)
			}
		}
	}
}

func (r *Recorder) flush(batch []Record) {
	if len(batch) == 0 {
		return
	}

	for _, sink := range r.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := sink.Write(ctx, batch)
		cancel()

		outcome := "ok"
		if err != nil {
			outcome = "error"
			log.Error().Err(err).Str("sink", sink.Name()).Int("records", len(batch)).Msg("audit sink write failed")
		}
		if r.metrics != nil {
			r.metrics.AuditWritten.WithLabelValues(sink.Name(), outcome).Add(float64(len(batch)))
		}
	}
}

func ipHasher(key string) func(string) string {
	if key == "" {
		return func(ip string) string { return ip }
	}

	k := []byte(key)
	if len(k) > blake2b.Size {
		sum := blake2b.Sum256(k)
		k = sum[:]
	}

	return func(ip string) string {
		if ip == "" {
			return ip
		}
		h, err := blake2b.New256(k)
		if err != nil {
			return ""
		}
		h.Write([]byte(ip))
		return hex.EncodeToString(h.Sum(nil)[:12])
	}
}
