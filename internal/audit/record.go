package audit

import (
	"strconv"
	"time"
)

type Kind string

const (
	KindLookup  Kind = "lookup"
	KindEnquiry Kind = "enquiry"
)

// Record is one audited request against a dispatcher endpoint.
type Record struct {
	Kind           Kind
	Timestamp      time.Time
	RequestID      string
	ClientIP       string
	Subject        string // registration or email address
	Method         string
	Status         int
	UpstreamStatus int
	Detail         string
	Duration       time.Duration
}

// Row renders the record as a spreadsheet row.
func (r Record) Row() []any {
	upstream := ""
	if r.UpstreamStatus != 0 {
		upstream = strconv.Itoa(r.UpstreamStatus)
	}
	return []any{
		r.Timestamp.UTC().Format(time.RFC3339),
		string(r.Kind),
		r.ClientIP,
		r.Subject,
		r.Method,
		strconv.Itoa(r.Status),
		upstream,
		strconv.FormatInt(r.Duration.Milliseconds(), 10),
		r.RequestID,
		r.Detail,
	}
}
