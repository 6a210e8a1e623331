package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"localcal/internal/auth"
	"localcal/internal/calendar"
	"localcal/internal/config"
	appLog "localcal/internal/log"
	"localcal/internal/model"
)

const (
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 5 * time.Second
	statusTimeFmt   = "2006-01-02 15:04:05"
)

// Server provides the HTTP API for one local calendar: occurrence queries,
// the five mutation scopes, the current status and the ICS export.
type Server struct {
	cfg   *config.Config
	cal   *calendar.LocalCalendar
	creds auth.Credentials
	mux   *http.ServeMux
	now   func() time.Time

	// Last computed status; refreshed by cron and after every mutation.
	statusMu    sync.RWMutex
	statusCache *statusCache
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, cal *calendar.LocalCalendar) *Server {
	s := &Server{
		cfg: cfg,
		cal: cal,
		mux: http.NewServeMux(),
		now: time.Now,
	}
	if cfg.BasicAuth != nil {
		s.creds = auth.Credentials{
			Username:     cfg.BasicAuth.Username,
			PasswordHash: cfg.BasicAuth.PasswordHash,
		}
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.creds.Enabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !s.creds.Check(u, p) {
			w.Header().Set("WWW-Authenticate", `Basic realm="localcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// StartServer serves the API on cfg.Listen until ctx is cancelled, then
// shuts down gracefully. The status refresher runs for the server's
// lifetime.
func StartServer(ctx context.Context, cfg *config.Config, cal *calendar.LocalCalendar) error {
	s := NewServer(cfg, cal)

	stop, err := s.StartStatusRefresher(cfg.StatusRefresh)
	if err != nil {
		return err
	}
	defer stop()

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	appLog.Info("stopping HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// StartStatusRefresher recomputes the status immediately and then on the
// cron schedule spec. The returned function stops the schedule and waits
// for a running refresh.
func (s *Server) StartStatusRefresher(spec string) (func(), error) {
	c := cron.New()
	if _, err := c.AddFunc(spec, s.refreshStatus); err != nil {
		return nil, fmt.Errorf("status_refresh %q: %w", spec, err)
	}
	s.refreshStatus()
	c.Start()
	appLog.Info("status refresher started", "schedule", spec)
	return func() { <-c.Stop().Done() }, nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("POST /api/events", s.handleCreate)
	s.mux.HandleFunc("PUT /api/events/{uid}", s.handleUpdate)
	s.mux.HandleFunc("DELETE /api/events/{uid}", s.handleDelete)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /calendar.ics", s.handleExport)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// eventsResponse is the JSON response shape for GET /api/events.
type eventsResponse struct {
	Occurrences     []occurrenceDTO `json:"occurrences"`
	RangeStart      time.Time       `json:"range_start"`
	RangeEnd        time.Time       `json:"range_end"`
	DisplayTimeZone string          `json:"display_timezone"`

	// Incomplete is set when series were cut at the occurrence cap or could
	// not be evaluated; their UIDs are listed.
	Incomplete    bool     `json:"incomplete,omitempty"`
	TruncatedUIDs []string `json:"truncated_uids,omitempty"`
	SkippedUIDs   []string `json:"skipped_uids,omitempty"`
}

// timeDTO is either a calendar date or a date-time with offset.
type timeDTO struct {
	Date     string `json:"date,omitempty"`
	DateTime string `json:"dateTime,omitempty"`
}

// occurrenceDTO is a JSON-friendly view of occurrences.
type occurrenceDTO struct {
	UID          string  `json:"uid"`
	RecurrenceID string  `json:"recurrence_id,omitempty"`
	RRule        string  `json:"rrule,omitempty"`
	Summary      string  `json:"summary"`
	Description  string  `json:"description,omitempty"`
	Location     string  `json:"location,omitempty"`
	AllDay       bool    `json:"all_day"`
	Start        timeDTO `json:"start"`
	End          timeDTO `json:"end"`
}

func toTimeDTO(t time.Time, allDay bool) timeDTO {
	if allDay {
		return timeDTO{Date: t.Format(time.DateOnly)}
	}
	return timeDTO{DateTime: t.Format(time.RFC3339)}
}

func toOccurrenceDTO(o model.Occurrence) occurrenceDTO {
	return occurrenceDTO{
		UID:          o.UID,
		RecurrenceID: o.RecurrenceID,
		RRule:        o.RRule,
		Summary:      o.Summary,
		Description:  o.Description,
		Location:     o.Location,
		AllDay:       o.AllDay,
		Start:        toTimeDTO(o.Start, o.AllDay),
		End:          toTimeDTO(o.End, o.AllDay),
	}
}

// handleEvents returns the occurrences overlapping a window.
//
// GET /api/events?start=2022-08-22&end=2022-08-29&timezone=America/Regina
//   - start, end: dates (midnight in the display zone), RFC 3339 instants or
//     naive date-times. Both or neither.
//   - days / backfill: window around now when start and end are absent
//     (default 7 / 1).
//   - timezone: display zone, default the calendar's zone.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	loc := s.cal.Location()
	if name := q.Get("timezone"); name != "" {
		l, err := time.LoadLocation(name)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown timezone %q", name))
			return
		}
		loc = l
	}

	var rangeStart, rangeEnd time.Time
	switch rawStart, rawEnd := q.Get("start"), q.Get("end"); {
	case rawStart == "" && rawEnd == "":
		days := parseIntDefault(q.Get("days"), 7)
		if days <= 0 {
			days = 7
		}
		backfill := parseIntDefault(q.Get("backfill"), 1)
		if backfill < 0 {
			backfill = 0
		}
		now := s.now().In(loc)
		rangeStart = now.AddDate(0, 0, -backfill)
		rangeEnd = now.AddDate(0, 0, days)
	case rawStart == "" || rawEnd == "":
		writeError(w, http.StatusBadRequest, "start and end must be given together")
		return
	default:
		var err error
		if rangeStart, err = model.ParseBound(rawStart, loc); err != nil {
			writeError(w, http.StatusBadRequest, "start: "+err.Error())
			return
		}
		if rangeEnd, err = model.ParseBound(rawEnd, loc); err != nil {
			writeError(w, http.StatusBadRequest, "end: "+err.Error())
			return
		}
	}

	appLog.Debug("api events request",
		"range_start", rangeStart.Format(time.RFC3339),
		"range_end", rangeEnd.Format(time.RFC3339),
		"timezone", loc.String(),
	)

	occ, err := s.cal.Query(rangeStart, rangeEnd, loc)
	var incomplete *calendar.IncompleteError
	if err != nil && !errors.As(err, &incomplete) {
		s.writeCalendarError(w, "query", err)
		return
	}

	dtos := make([]occurrenceDTO, 0, len(occ))
	for _, o := range occ {
		dtos = append(dtos, toOccurrenceDTO(o))
	}
	resp := eventsResponse{
		Occurrences:     dtos,
		RangeStart:      rangeStart,
		RangeEnd:        rangeEnd,
		DisplayTimeZone: loc.String(),
	}
	if incomplete != nil {
		appLog.Warn("api events result incomplete",
			"truncated", incomplete.Truncated,
			"skipped", incomplete.Skipped,
		)
		resp.Incomplete = true
		resp.TruncatedUIDs = incomplete.Truncated
		resp.SkippedUIDs = incomplete.Skipped
	}
	writeJSON(w, http.StatusOK, resp)
}

// eventRequest is the body of POST /api/events and PUT /api/events/{uid}.
// Absent fields are left alone on update.
type eventRequest struct {
	Summary     *string `json:"summary"`
	Description *string `json:"description"`
	Location    *string `json:"location"`
	DTStart     *string `json:"dtstart"`
	DTEnd       *string `json:"dtend"`
	RRule       *string `json:"rrule"`

	// TimeZone binds naive date-times to an IANA zone; they are floating
	// otherwise.
	TimeZone string `json:"timezone"`

	RecurrenceID    string `json:"recurrence_id"`
	RecurrenceRange string `json:"recurrence_range"`
}

type uidResponse struct {
	UID string `json:"uid"`
}

func decodeEventRequest(w http.ResponseWriter, r *http.Request) (eventRequest, *time.Location, bool) {
	var req eventRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return req, nil, false
	}
	var zone *time.Location
	if req.TimeZone != "" {
		l, err := time.LoadLocation(req.TimeZone)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown timezone %q", req.TimeZone))
			return req, nil, false
		}
		zone = l
	}
	return req, zone, true
}

// patch converts the request into a calendar patch.
func (req eventRequest) patch(zone *time.Location) (calendar.EventPatch, error) {
	p := calendar.EventPatch{
		Summary:     req.Summary,
		Description: req.Description,
		Location:    req.Location,
		RRule:       req.RRule,
	}
	if req.DTStart != nil {
		t, err := model.ParseEventTime(*req.DTStart, zone)
		if err != nil {
			return p, fmt.Errorf("dtstart: %w", err)
		}
		p.Start = &t
	}
	if req.DTEnd != nil {
		t, err := model.ParseEventTime(*req.DTEnd, zone)
		if err != nil {
			return p, fmt.Errorf("dtend: %w", err)
		}
		p.End = &t
	}
	return p, nil
}

// handleCreate adds a new event.
//
// POST /api/events {"summary", "dtstart", "dtend", "description", "location", "rrule", "timezone"}
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	req, zone, ok := decodeEventRequest(w, r)
	if !ok {
		return
	}
	if req.DTStart == nil || req.DTEnd == nil {
		writeError(w, http.StatusBadRequest, "dtstart and dtend are required")
		return
	}
	p, err := req.patch(zone)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	in := calendar.EventInput{Start: *p.Start, End: *p.End}
	if p.Summary != nil {
		in.Summary = *p.Summary
	}
	if p.Description != nil {
		in.Description = *p.Description
	}
	if p.Location != nil {
		in.Location = *p.Location
	}
	if p.RRule != nil {
		in.RRule = *p.RRule
	}

	uid, err := s.cal.Create(r.Context(), in)
	if err != nil {
		s.writeCalendarError(w, "create", err)
		return
	}
	s.refreshStatus()
	writeJSON(w, http.StatusCreated, uidResponse{UID: uid})
}

// handleUpdate edits a series, one occurrence, or an occurrence and all
// later ones.
//
// PUT /api/events/{uid} {..., "recurrence_id", "recurrence_range": "" | "THISANDFUTURE"}
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	uid := r.PathValue("uid")
	req, zone, ok := decodeEventRequest(w, r)
	if !ok {
		return
	}
	p, err := req.patch(zone)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	future, err := parseRange(req.RecurrenceRange)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	resultUID := uid
	switch {
	case req.RecurrenceID == "":
		err = s.cal.Update(ctx, uid, p)
	case future:
		resultUID, err = s.cal.UpdateFuture(ctx, uid, req.RecurrenceID, p)
	default:
		err = s.cal.UpdateInstance(ctx, uid, req.RecurrenceID, p)
	}
	if err != nil {
		s.writeCalendarError(w, "update", err)
		return
	}
	s.refreshStatus()
	writeJSON(w, http.StatusOK, uidResponse{UID: resultUID})
}

// handleDelete removes a series, one occurrence, or an occurrence and all
// later ones.
//
// DELETE /api/events/{uid}?recurrence_id=20220822T083000&recurrence_range=THISANDFUTURE
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	uid := r.PathValue("uid")
	q := r.URL.Query()
	recurrenceID := q.Get("recurrence_id")
	future, err := parseRange(q.Get("recurrence_range"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	switch {
	case recurrenceID == "":
		err = s.cal.DeleteSeries(ctx, uid)
	case future:
		err = s.cal.DeleteFuture(ctx, uid, recurrenceID)
	default:
		err = s.cal.DeleteInstance(ctx, uid, recurrenceID)
	}
	if err != nil {
		s.writeCalendarError(w, "delete", err)
		return
	}
	s.refreshStatus()
	w.WriteHeader(http.StatusNoContent)
}

// statusResponse is the JSON response shape for GET /api/status.
type statusResponse struct {
	State       string    `json:"state"`
	Message     string    `json:"message,omitempty"`
	AllDay      bool      `json:"all_day"`
	StartTime   string    `json:"start_time,omitempty"`
	EndTime     string    `json:"end_time,omitempty"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type statusCache struct {
	resp statusResponse
}

func (s *Server) refreshStatus() {
	now := s.now()
	st, err := s.cal.Status(now)
	if err != nil {
		appLog.Error("status refresh failed", err)
		return
	}

	resp := statusResponse{State: st.State, UpdatedAt: now.In(s.cal.Location())}
	if ev := st.Event; ev != nil {
		resp.Message = ev.Summary
		resp.AllDay = ev.AllDay
		resp.StartTime = ev.Start.Format(statusTimeFmt)
		resp.EndTime = ev.End.Format(statusTimeFmt)
		resp.Description = ev.Description
		resp.Location = ev.Location
	}

	s.statusMu.Lock()
	s.statusCache = &statusCache{resp: resp}
	s.statusMu.Unlock()
	appLog.Debug("status refreshed", "state", resp.State, "message", resp.Message)
}

// handleStatus returns the active or next upcoming occurrence as of the
// last refresh.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.statusMu.RLock()
	sc := s.statusCache
	s.statusMu.RUnlock()
	if sc == nil {
		s.refreshStatus()
		s.statusMu.RLock()
		sc = s.statusCache
		s.statusMu.RUnlock()
	}
	if sc == nil {
		writeError(w, http.StatusInternalServerError, "status unavailable")
		return
	}
	writeJSON(w, http.StatusOK, sc.resp)
}

// handleExport serves the calendar as an ICS document.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	text, err := s.cal.Export(r.Context())
	if err != nil {
		s.writeCalendarError(w, "export", err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`inline; filename="%s.ics"`, s.cfg.CalendarName))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(text))
}

// writeCalendarError maps calendar errors onto status codes. Details of
// internal failures are logged, not returned.
func (s *Server) writeCalendarError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, calendar.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, calendar.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		appLog.Error("api request failed", err, "op", op)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func parseRange(v string) (bool, error) {
	switch strings.ToUpper(v) {
	case "":
		return false, nil
	case "THISANDFUTURE":
		return true, nil
	default:
		return false, fmt.Errorf("unsupported recurrence_range %q", v)
	}
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
