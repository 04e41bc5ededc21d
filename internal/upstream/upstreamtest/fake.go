// Package upstreamtest provides an in-process stand-in for the DVLA,
// tyre fitment and form relay services.
package upstreamtest

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
)

const (
	DVLAPath  = "/dvla"
	TyresPath = "/tyres"
	EmailPath = "/email"
)

// Vehicle is a canned vehicle returned by the fake services.
type Vehicle struct {
	Make       string
	Colour     string
	Year       int
	FrontTyre  string
	RearTyre   string
	NoFitments bool
}

type Server struct {
	// APIKey, when set, must be presented by callers.
	APIKey string

	mu       sync.Mutex
	vehicles map[string]Vehicle
	status   map[string]int
	body     map[string]string
	calls    map[string]int
	last     map[string]*http.Request
	forms    []map[string]any
}

func New() *Server {
	return &Server{
		vehicles: map[string]Vehicle{
			"AB12CDE": {Make: "FORD", Colour: "BLUE", Year: 2018, FrontTyre: "205/55 R16", RearTyre: "205/55 R16"},
			"XY99ZZZ": {Make: "BMW", Colour: "BLACK", Year: 2021, FrontTyre: "225/40 R18", RearTyre: "255/35 R18"},
		},
		status: make(map[string]int),
		body:   make(map[string]string),
		calls:  make(map[string]int),
		last:   make(map[string]*http.Request),
	}
}

func (s *Server) AddVehicle(vrm string, v Vehicle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vehicles[vrm] = v
}

// Respond forces the service at path to answer with status and body.
// An empty body keeps the canned payload.
func (s *Server) Respond(path string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[path] = status
	s.body[path] = body
}

func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// LastRequest returns the most recent request received on path.
func (s *Server) LastRequest(path string) *http.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last[path]
}

// Forms returns every payload posted to the relay.
func (s *Server) Forms() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, len(s.forms))
	copy(out, s.forms)
	return out
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(DVLAPath, s.dvla)
	mux.HandleFunc(TyresPath, s.tyres)
	mux.HandleFunc(EmailPath, s.email)
	return mux
}

// track counts the call and reports a forced response, if any.
func (s *Server) track(path string, r *http.Request) (int, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[path]++
	s.last[path] = r
	status, forced := s.status[path]
	return status, s.body[path], forced
}

func (s *Server) authorized(r *http.Request) bool {
	if s.APIKey == "" {
		return true
	}
	if r.Header.Get("x-api-key") == s.APIKey {
		return true
	}
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ") == s.APIKey
}

func (s *Server) vehicle(vrm string) (Vehicle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[vrm]
	return v, ok
}

func (s *Server) dvla(w http.ResponseWriter, r *http.Request) {
	status, body, forced := s.track(DVLAPath, r)
	if forced {
		write(w, status, body)
		return
	}
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"message": "method not allowed"})
		return
	}
	if !s.authorized(r) {
		writeJSON(w, http.StatusForbidden, map[string]any{"message": "Forbidden"})
		return
	}

	var req struct {
		RegistrationNumber string `json:"registrationNumber"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RegistrationNumber == "" {
		writeJSON(w, http.StatusBadRequest, dvlaError("400", "Bad Request"))
		return
	}

	v, ok := s.vehicle(req.RegistrationNumber)
	if !ok {
		writeJSON(w, http.StatusNotFound, dvlaError("404", "Vehicle Not Found"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"registrationNumber": req.RegistrationNumber,
		"make":               v.Make,
		"colour":             v.Colour,
		"yearOfManufacture":  v.Year,
		"taxStatus":          "Taxed",
		"motStatus":          "Valid",
	})
}

func (s *Server) tyres(w http.ResponseWriter, r *http.Request) {
	status, body, forced := s.track(TyresPath, r)
	if forced {
		write(w, status, body)
		return
	}
	if !s.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false})
		return
	}

	v, ok := s.vehicle(r.URL.Query().Get("vehicle_registration_mark"))
	if !ok || v.NoFitments {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "oe_data": map[string]any{"modelIDs": []any{}}})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"oe_data": map[string]any{
			"modelIDs": []any{
				map[string]any{"tyre_size_front": v.FrontTyre, "tyre_size_rear": v.RearTyre},
			},
		},
	})
}

func (s *Server) email(w http.ResponseWriter, r *http.Request) {
	status, body, forced := s.track(EmailPath, r)

	var form map[string]any
	if err := json.NewDecoder(r.Body).Decode(&form); err == nil {
		s.mu.Lock()
		s.forms = append(s.forms, form)
		s.mu.Unlock()
	}

	if forced {
		write(w, status, body)
		return
	}
	if form == nil || form["access_key"] == nil || form["access_key"] == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "Access key missing"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Email sent successfully!"})
}

func dvlaError(code, title string) map[string]any {
	return map[string]any{"errors": []any{map[string]any{"status": code, "code": code, "title": title}}}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func write(w http.ResponseWriter, status int, body string) {
	if body != "" && json.Valid([]byte(body)) {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
