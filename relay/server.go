package relay

import (
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"meshveil/spaghetti"
)

// Server is an in-memory store-and-forward relay for CLUTCH offers,
// CLUTCH responses and CHAIN envelopes. Everything lives in memory
// only: CHAIN envelopes are handed out once and dropped, while CLUTCH
// offers, responses and confirmations stay available to every fetch
// for the life of the process.
type Server struct {
	mu        sync.RWMutex
	offers    map[string][]json.RawMessage
	responses map[string][]json.RawMessage
	confirms  map[string][]json.RawMessage
	inbox     map[string][][]byte

	limiters   map[string]*rate.Limiter
	limitersMu sync.Mutex

	requests  prometheus.Counter
	queueSize prometheus.Gauge
}

// NewServer returns an empty relay Server.
func NewServer() *Server {
	return &Server{
		offers:    make(map[string][]json.RawMessage),
		responses: make(map[string][]json.RawMessage),
		confirms:  make(map[string][]json.RawMessage),
		inbox:     make(map[string][][]byte),
		limiters:  make(map[string]*rate.Limiter),
		requests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "meshveil_relay_requests_total",
			Help: "Total HTTP requests handled by the relay.",
		}),
		queueSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "meshveil_relay_inbox_messages",
			Help: "Total envelopes currently queued across all inboxes.",
		}),
	}
}

// Handler returns the http.Handler serving every relay endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/clutch/offer", s.handlePostOffer)
	mux.HandleFunc("/clutch/offer/", s.handleGetOffer)
	mux.HandleFunc("/clutch/kem", s.handlePostResponse)
	mux.HandleFunc("/clutch/kem/", s.handleGetResponses)
	mux.HandleFunc("/clutch/confirm", s.handlePostConfirm)
	mux.HandleFunc("/clutch/confirm/", s.handleGetConfirms)
	mux.HandleFunc("/msg/", s.handleMsg)
	mux.HandleFunc("/register", s.handleRegister)
	mux.Handle("/metrics", promhttp.Handler())
	return s.instrument(mux)
}

type registerRequest struct {
	HandleHash string `json:"handle_hash"`
	Proof      string `json:"proof"`
}

// handleRegister verifies a submitted handle proof by recomputing it,
// making bulk registration attempts pay the same memory-hard cost a
// legitimate client already paid once. It answers 200 OK on a match;
// the server keeps no record of registered handles.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	handleHashBytes, err := hex.DecodeString(req.HandleHash)
	if err != nil || len(handleHashBytes) != 32 {
		http.Error(w, "bad handle_hash", http.StatusBadRequest)
		return
	}
	proofBytes, err := hex.DecodeString(req.Proof)
	if err != nil || len(proofBytes) != 32 {
		http.Error(w, "bad proof", http.StatusBadRequest)
		return
	}
	var handleHash [32]byte
	copy(handleHash[:], handleHashBytes)
	want := spaghetti.HandleProof(handleHash)
	if hex.EncodeToString(want[:]) != req.Proof {
		http.Error(w, "invalid handle proof", http.StatusForbidden)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Inc()
		if !s.allow(clientKey(r)) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allow(key string) bool {
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()
	l, ok := s.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(time.Second/20), 40)
		s.limiters[key] = l
	}
	return l.Allow()
}

func clientKey(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}

func (s *Server) handlePostOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var partial struct {
		CeremonyID string `json:"ceremony_id"`
		From       string `json:"from"`
	}
	if err := json.Unmarshal(raw, &partial); err != nil || partial.CeremonyID == "" || partial.From == "" {
		http.Error(w, "missing ceremony_id or from", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	existing := s.offers[partial.CeremonyID]
	replaced := false
	for i, o := range existing {
		var seen struct {
			From string `json:"from"`
		}
		if json.Unmarshal(o, &seen) == nil && seen.From == partial.From {
			existing[i] = raw
			replaced = true
			break
		}
	}
	if !replaced {
		existing = append(existing, raw)
	}
	s.offers[partial.CeremonyID] = existing
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// handleGetOffer returns every offer posted so far against a ceremony
// ID, so an N-party mesh ceremony (not just a pairwise one) can fetch
// every participant's offer from a single endpoint.
func (s *Server) handleGetOffer(w http.ResponseWriter, r *http.Request) {
	ceremonyID := strings.TrimPrefix(r.URL.Path, "/clutch/offer/")
	s.mu.RLock()
	offers := s.offers[ceremonyID]
	s.mu.RUnlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(offers)
}

func (s *Server) handlePostResponse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var partial struct {
		CeremonyID string `json:"ceremony_id"`
	}
	if err := json.Unmarshal(raw, &partial); err != nil || partial.CeremonyID == "" {
		http.Error(w, "missing ceremony_id", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.responses[partial.CeremonyID] = append(s.responses[partial.CeremonyID], raw)
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGetResponses(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/clutch/kem/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "missing ceremony id", http.StatusBadRequest)
		return
	}
	s.mu.RLock()
	responses := s.responses[parts[0]]
	s.mu.RUnlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(responses)
}

// handlePostConfirm records one participant's ceremony-completion
// confirmation proof. Every participant posts theirs once their chain
// is initialized, and fetches the others' to verify they all derived
// the identical chain before trusting it.
func (s *Server) handlePostConfirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defer r.Body.Close()
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var partial struct {
		CeremonyID string `json:"ceremony_id"`
		From       string `json:"from"`
	}
	if err := json.Unmarshal(raw, &partial); err != nil || partial.CeremonyID == "" || partial.From == "" {
		http.Error(w, "missing ceremony_id or from", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	existing := s.confirms[partial.CeremonyID]
	replaced := false
	for i, c := range existing {
		var seen struct {
			From string `json:"from"`
		}
		if json.Unmarshal(c, &seen) == nil && seen.From == partial.From {
			existing[i] = raw
			replaced = true
			break
		}
	}
	if !replaced {
		existing = append(existing, raw)
	}
	s.confirms[partial.CeremonyID] = existing
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGetConfirms(w http.ResponseWriter, r *http.Request) {
	ceremonyID := strings.TrimPrefix(r.URL.Path, "/clutch/confirm/")
	s.mu.RLock()
	confirms := s.confirms[ceremonyID]
	s.mu.RUnlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(confirms)
}

func (s *Server) handleMsg(w http.ResponseWriter, r *http.Request) {
	recipient := strings.TrimPrefix(r.URL.Path, "/msg/")
	if recipient == "" {
		http.Error(w, "missing recipient", http.StatusBadRequest)
		return
	}
	switch r.Method {
	case http.MethodPost:
		defer r.Body.Close()
		var raw json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.inbox[recipient] = append(s.inbox[recipient], raw)
		s.queueSize.Set(float64(s.totalQueuedLocked()))
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		s.mu.Lock()
		envs := s.inbox[recipient]
		delete(s.inbox, recipient)
		s.queueSize.Set(float64(s.totalQueuedLocked()))
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(envs)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// totalQueuedLocked counts every queued envelope across all inboxes.
// Callers must hold s.mu.
func (s *Server) totalQueuedLocked() int {
	total := 0
	for _, envs := range s.inbox {
		total += len(envs)
	}
	return total
}

// Log is the relay's access-log helper, matching the teacher's plain
// log.Println usage rather than a structured logging dependency.
func Log(format string, args ...any) {
	log.Printf(format, args...)
}
