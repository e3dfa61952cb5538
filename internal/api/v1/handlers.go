package v1

import (
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/doomsday-project/doomsday/internal/cache"
	"github.com/doomsday-project/doomsday/internal/certutil"
	"github.com/doomsday-project/doomsday/internal/config"
	"github.com/doomsday-project/doomsday/internal/scheduler"
)

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, InfoResponse{
		Version:      s.version,
		AuthRequired: s.authMode == config.AuthUserpass,
	})
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	if s.authMode != config.AuthUserpass {
		writeError(w, http.StatusUnauthorized, "authentication is not enabled")
		return
	}

	var req AuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !constantTimeEquals(req.Username, s.username) || !constantTimeEquals(req.Password, s.password) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	writeJSON(w, http.StatusOK, s.sessions.issue())
}

// constantTimeEquals compares a and b without leaking their lengths or
// contents through timing, padding the shorter operand so subtle.
// ConstantTimeCompare always sees equal-length inputs.
func constantTimeEquals(a, b string) bool {
	if len(a) != len(b) {
		padded := make([]byte, len(b))
		copy(padded, a)
		subtle.ConstantTimeCompare(padded, []byte(b))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handleGetCache(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records := s.cache.List(filter)
	items := make([]CacheItem, 0, len(records))
	for _, rec := range records {
		paths := make([]PathItem, 0, len(rec.Paths))
		for _, p := range rec.Paths {
			paths = append(paths, PathItem{Backend: p.Backend, Path: p.Path})
		}
		items = append(items, CacheItem{
			Fingerprint: hex.EncodeToString(rec.Fingerprint[:]),
			Subject:     rec.Subject,
			NotAfter:    rec.NotAfter,
			Paths:       paths,
		})
	}
	writeJSON(w, http.StatusOK, items)
}

// parseFilter builds a cache.Filter from the request's query parameters.
// within, beyond, and fingerprint are mutually exclusive.
func parseFilter(r *http.Request) (cache.Filter, error) {
	within := r.URL.Query().Get("within")
	beyond := r.URL.Query().Get("beyond")
	fingerprint := r.URL.Query().Get("fingerprint")

	set := 0
	for _, v := range []string{within, beyond, fingerprint} {
		if v != "" {
			set++
		}
	}
	if set > 1 {
		return cache.Filter{}, fmt.Errorf("within, beyond, and fingerprint are mutually exclusive")
	}

	switch {
	case within != "":
		d, err := cache.ParseDuration(within)
		if err != nil {
			return cache.Filter{}, err
		}
		return cache.FilterWithin(d), nil
	case beyond != "":
		d, err := cache.ParseDuration(beyond)
		if err != nil {
			return cache.Filter{}, err
		}
		return cache.FilterBeyond(d), nil
	case fingerprint != "":
		raw, err := hex.DecodeString(fingerprint)
		if err != nil || len(raw) != len(certutil.Fingerprint{}) {
			return cache.Filter{}, fmt.Errorf("invalid fingerprint %q", fingerprint)
		}
		var fp certutil.Fingerprint
		copy(fp[:], raw)
		return cache.FilterFingerprint(fp), nil
	default:
		return cache.FilterAll(), nil
	}
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	names := req.Backends
	if len(names) == 0 {
		names = s.allBackendNames
	}

	jobIDs := make(map[string]string, len(names))
	for _, name := range names {
		job, err := s.scheduler.Submit(scheduler.KindAdHoc, name)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		jobIDs[name] = job.ID
	}

	writeJSON(w, http.StatusAccepted, RefreshResponse{JobIDs: jobIDs})
}

func (s *Server) handleScheduler(w http.ResponseWriter, r *http.Request) {
	statuses := s.scheduler.Status()

	pending, running := 0, 0
	backends := make([]BackendStatus, 0, len(statuses))
	for _, st := range statuses {
		switch st.State {
		case scheduler.StateQueued:
			pending++
		case scheduler.StateRunning:
			running++
		}
		last := ""
		if st.LastError != nil {
			last = st.LastError.Error()
		}
		backends = append(backends, BackendStatus{
			Backend:   st.Backend,
			State:     string(st.State),
			LastJobID: st.LastJobID,
			LastError: last,
		})
	}

	writeJSON(w, http.StatusOK, SchedulerResponse{
		Workers:      s.workers,
		PendingTasks: pending,
		RunningTasks: running,
		Backends:     backends,
	})
}
