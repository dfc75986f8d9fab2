// Package services – PhishGuardService
//
// This file implements the proxied PhishGuard capabilities. Each method
// validates its input, calls the AI service with a per-capability timeout,
// and on success returns the payload augmented with routing metadata. When
// the AI service is unreachable, analysis, chat, tips and intelligence
// answer with a local fallback, and reports are kept in the local store.
// Telemetry is submitted to the detached sink and never affects the result.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/phishguard-gateway/internal/domain"
	"github.com/tbourn/phishguard-gateway/internal/fallback"
	"github.com/tbourn/phishguard-gateway/internal/repo"
	"github.com/tbourn/phishguard-gateway/internal/telemetry"
	"github.com/tbourn/phishguard-gateway/internal/upstream"
	"github.com/tbourn/phishguard-gateway/internal/utils"
)

// Capability names, used for timeouts, metrics and telemetry.
const (
	CapAnalyze      = "analyze"
	CapReport       = "report"
	CapTips         = "tips"
	CapChat         = "chat"
	CapIntelligence = "intelligence"
	CapHealth       = "health"
)

const (
	maxURLLen         = 2048
	minDescRunes      = 10
	maxDescRunes      = 1000
	maxMessageRunes   = 1000
	maxSessionIDRunes = 64
	reportScope       = "report"
	anonymousUser     = "anonymous"
)

// PhishGuardService implements the PhishGuard variant of the proxy.
type PhishGuardService struct {
	DB       *gorm.DB
	Upstream Upstream
	Sink     EventSink

	// IdempotencyTTL bounds how long a report Idempotency-Key replays.
	IdempotencyTTL time.Duration
}

// NewPhishGuardService constructs a PhishGuardService. A nil sink discards telemetry.
func NewPhishGuardService(db *gorm.DB, up Upstream, sink EventSink) *PhishGuardService {
	if sink == nil {
		sink = discardSink{}
	}
	return &PhishGuardService{DB: db, Upstream: up, Sink: sink, IdempotencyTTL: 24 * time.Hour}
}

// AnalyzeInput is the URL analysis request.
type AnalyzeInput struct {
	URL       string
	UserID    string
	Bearer    string
	Character string
}

// Analyze proxies a URL analysis. On unavailability the error is a
// *DegradedError carrying a *fallback.Analysis.
func (s *PhishGuardService) Analyze(ctx context.Context, in AnalyzeInput) (*Result, error) {
	ctx, span := otel.Tracer("services/PhishGuardService").Start(ctx, "Analyze",
		trace.WithAttributes(attribute.String("user.id", in.UserID)))
	defer span.End()

	in.URL = strings.TrimSpace(in.URL)
	if err := validateURL(in.URL, true); err != nil {
		return nil, err
	}

	body := map[string]any{"url": in.URL}
	if in.UserID != "" {
		body["user_id"] = in.UserID
	}
	resp, err := s.Upstream.Do(ctx, upstream.Call{
		Capability: CapAnalyze,
		Method:     http.MethodPost,
		Path:       "/analyze",
		JSON:       body,
		Bearer:     in.Bearer,
		Timeout:    upstream.TimeoutStandard,
	})
	if err != nil {
		recordFailure(s.Sink, CapAnalyze, err)
		if !upstream.IsUnavailable(err) {
			return nil, err
		}
		return nil, s.analyzeFallback(ctx, CapAnalyze, in, err)
	}

	s.Sink.Submit(telemetry.DetectionEvent{Detection: telemetry.ProjectDetection(telemetry.DetectionInput{
		URL:       in.URL,
		Payload:   resp.Body,
		Source:    domain.SourceUpstream,
		Character: in.Character,
		UserID:    in.UserID,
		Latency:   resp.Duration,
	})})
	return s.result(resp, in.Character), nil
}

// analyzeFallback computes the local verdict and records it as a detection.
func (s *PhishGuardService) analyzeFallback(ctx context.Context, capability string, in AnalyzeInput, cause error) error {
	start := time.Now()
	a, lerr := fallback.AnalyzeURL(ctx, s.DB, in.URL)
	if lerr != nil {
		loggerFrom(ctx).Warn().Err(lerr).Msg("scam table lookup failed, using keyword heuristic")
	}
	payload, _ := json.Marshal(a)
	s.Sink.Submit(telemetry.DetectionEvent{Detection: telemetry.ProjectDetection(telemetry.DetectionInput{
		URL:       in.URL,
		Payload:   payload,
		Source:    domain.SourceFallback,
		Character: in.Character,
		UserID:    in.UserID,
		Latency:   time.Since(start),
	})})
	return degrade(capability, cause, a)
}

// ReportInput is a scam report.
type ReportInput struct {
	URL            string
	Description    string
	UserID         string
	Bearer         string
	IdempotencyKey string
}

// ReportResult is the outcome of Report. Replayed is set when the answer
// came from a previous request with the same Idempotency-Key.
type ReportResult struct {
	Result
	ReportID string
	Replayed bool
}

// Report stores the report locally, then forwards it. When the AI service
// is unreachable the error is a *DegradedError with SavedLocally set.
func (s *PhishGuardService) Report(ctx context.Context, in ReportInput) (*ReportResult, error) {
	ctx, span := otel.Tracer("services/PhishGuardService").Start(ctx, "Report",
		trace.WithAttributes(attribute.String("user.id", in.UserID)))
	defer span.End()

	in.URL = strings.TrimSpace(in.URL)
	in.Description = strings.TrimSpace(in.Description)
	var v validator
	if err := validateURL(in.URL, true); err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			v.fields = append(v.fields, ve.Fields...)
		}
	}
	n := utf8.RuneCountInString(in.Description)
	v.check(n >= minDescRunes && n <= maxDescRunes, "description", "description must be 10-1000 characters")
	if err := v.err(); err != nil {
		return nil, err
	}

	owner := in.UserID
	if owner == "" {
		owner = anonymousUser
	}
	if replay, err := s.replayReport(ctx, owner, in.IdempotencyKey); replay != nil || err != nil {
		return replay, err
	}

	rep := &domain.Report{
		URLHash:          utils.HashURL(in.URL),
		OriginalURL:      in.URL,
		Description:      in.Description,
		SubmitterID:      in.UserID,
		SavedLocallyOnly: true,
	}
	savedLocally := true
	if s.DB == nil {
		savedLocally = false
	} else if err := repo.CreateReport(ctx, s.DB, rep); err != nil {
		savedLocally = false
		loggerFrom(ctx).Error().Err(err).Msg("local report save failed")
	}
	s.Sink.Submit(telemetry.ReportedURLEvent{URL: in.URL})

	body := map[string]any{"url": in.URL, "description": in.Description}
	if in.UserID != "" {
		body["user_id"] = in.UserID
	}
	resp, err := s.Upstream.Do(ctx, upstream.Call{
		Capability: CapReport,
		Method:     http.MethodPost,
		Path:       "/report",
		JSON:       body,
		Bearer:     in.Bearer,
		Timeout:    upstream.TimeoutStandard,
	})
	if err != nil {
		recordFailure(s.Sink, CapReport, err)
		if !upstream.IsUnavailable(err) {
			return nil, err
		}
		if !savedLocally {
			return nil, err
		}
		s.remember(ctx, owner, in.IdempotencyKey, rep.ID, http.StatusServiceUnavailable)
		fallbacks.WithLabelValues(CapReport).Inc()
		return nil, &DegradedError{Capability: CapReport, Err: err, SavedLocally: true, ReportID: rep.ID}
	}

	if savedLocally {
		upstreamID := gjson.GetBytes(resp.Body, "report_id").String()
		if upstreamID == "" {
			upstreamID = gjson.GetBytes(resp.Body, "id").String()
		}
		if err := repo.MarkReportForwarded(ctx, s.DB, rep.ID, upstreamID); err != nil {
			loggerFrom(ctx).Warn().Err(err).Str("report_id", rep.ID).Msg("mark report forwarded failed")
		}
		s.remember(ctx, owner, in.IdempotencyKey, rep.ID, http.StatusCreated)
	}

	out := &ReportResult{Result: *s.result(resp, ""), ReportID: rep.ID}
	out.Status = http.StatusCreated
	if savedLocally {
		out.Body = augment(out.Body, map[string]any{"report_id": rep.ID})
	}
	return out, nil
}

// replayReport returns the stored outcome for a repeated Idempotency-Key.
func (s *PhishGuardService) replayReport(ctx context.Context, owner, key string) (*ReportResult, error) {
	if key == "" || s.DB == nil {
		return nil, nil
	}
	rec, err := repo.GetIdempotency(ctx, s.DB, owner, reportScope, key, time.Now().UTC())
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		loggerFrom(ctx).Warn().Err(err).Msg("idempotency lookup failed")
		return nil, nil
	}
	rep, err := repo.GetReport(ctx, s.DB, rec.ResourceID)
	if err != nil {
		loggerFrom(ctx).Warn().Err(err).Str("report_id", rec.ResourceID).Msg("idempotent report missing")
		return nil, nil
	}
	if rec.Status == http.StatusServiceUnavailable {
		return nil, &DegradedError{
			Capability:   CapReport,
			Err:          errors.New("report was saved locally by an earlier request"),
			SavedLocally: true,
			ReportID:     rep.ID,
		}
	}
	body, _ := json.Marshal(map[string]any{
		"success":   true,
		"message":   "Report already received",
		"report_id": rep.ID,
		"status":    rep.Status,
	})
	return &ReportResult{
		Result:   Result{Status: rec.Status, Body: body, ContentType: "application/json"},
		ReportID: rep.ID,
		Replayed: true,
	}, nil
}

func (s *PhishGuardService) remember(ctx context.Context, owner, key, reportID string, status int) {
	if key == "" || s.DB == nil {
		return
	}
	ttl := s.IdempotencyTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if _, err := repo.CreateIdempotency(ctx, s.DB, owner, reportScope, key, reportID, status, ttl); err != nil && !repo.IsDuplicate(err) {
		loggerFrom(ctx).Warn().Err(err).Msg("idempotency record failed")
	}
}

// Tips proxies the safety tips. On unavailability the fallback is a
// *fallback.TipsResult.
func (s *PhishGuardService) Tips(ctx context.Context, category, bearer string) (*Result, error) {
	ctx, span := otel.Tracer("services/PhishGuardService").Start(ctx, "Tips",
		trace.WithAttributes(attribute.String("tips.category", category)))
	defer span.End()

	category = strings.TrimSpace(category)
	var q url.Values
	if category != "" {
		q = url.Values{"category": {category}}
	}
	resp, err := s.Upstream.Do(ctx, upstream.Call{
		Capability: CapTips,
		Method:     http.MethodGet,
		Path:       "/tips",
		Query:      q,
		Bearer:     bearer,
		Timeout:    upstream.TimeoutLookup,
	})
	if err != nil {
		recordFailure(s.Sink, CapTips, err)
		if !upstream.IsUnavailable(err) {
			return nil, err
		}
		fb, ferr := fallback.Tips(ctx, s.DB, category)
		if ferr != nil {
			loggerFrom(ctx).Warn().Err(ferr).Msg("cached tips unavailable, using built-in tips")
		}
		return nil, degrade(CapTips, err, fb)
	}
	if tips := telemetry.ProjectTips(resp.Body); len(tips) > 0 {
		s.Sink.Submit(telemetry.TipsCacheEvent{Category: strings.ToLower(category), Tips: tips})
	}
	return s.result(resp, ""), nil
}

// ChatInput is one chat turn.
type ChatInput struct {
	Message   string
	SessionID string
	UserID    string
	Bearer    string
	Character string
}

// chatFallback is the degraded chat answer.
type chatFallback struct {
	fallback.ChatReply
	SessionID string `json:"sessionId"`
	Character string `json:"character,omitempty"`
}

// Chat proxies one chat turn. Both the user message and the reply are
// recorded against the session, whether the reply is authoritative or not.
func (s *PhishGuardService) Chat(ctx context.Context, in ChatInput) (*Result, error) {
	ctx, span := otel.Tracer("services/PhishGuardService").Start(ctx, "Chat",
		trace.WithAttributes(
			attribute.String("chat.session_id", in.SessionID),
			attribute.String("chat.character", in.Character),
		))
	defer span.End()

	in.Message = strings.TrimSpace(in.Message)
	in.SessionID = strings.TrimSpace(in.SessionID)
	var v validator
	n := utf8.RuneCountInString(in.Message)
	v.check(n >= 1 && n <= maxMessageRunes, "message", "message must be 1-1000 characters")
	v.check(utf8.RuneCountInString(in.SessionID) <= maxSessionIDRunes, "session_id", "session_id is too long")
	if in.Character != "" {
		v.check(fallback.KnownCharacter(in.Character), "character", "character must be ai-chan or haru")
	}
	if err := v.err(); err != nil {
		return nil, err
	}
	if in.SessionID == "" {
		in.SessionID = uuid.NewString()
	}

	body := map[string]any{"message": in.Message, "session_id": in.SessionID}
	if in.UserID != "" {
		body["user_id"] = in.UserID
	}
	if in.Character != "" {
		body["character"] = in.Character
	}
	resp, err := s.Upstream.Do(ctx, upstream.Call{
		Capability: CapChat,
		Method:     http.MethodPost,
		Path:       "/chat",
		JSON:       body,
		Bearer:     in.Bearer,
		Timeout:    upstream.TimeoutStandard,
	})
	session := domain.ChatSession{ID: in.SessionID, UserID: in.UserID, Character: in.Character}
	s.Sink.Submit(telemetry.ChatEvent{Session: session, Message: domain.ChatMessage{
		Role:    domain.RoleUser,
		Content: in.Message,
	}})
	if err != nil {
		recordFailure(s.Sink, CapChat, err)
		if !upstream.IsUnavailable(err) {
			return nil, err
		}
		reply := fallback.Chat(in.Message)
		s.Sink.Submit(telemetry.ChatEvent{Session: session, Message: domain.ChatMessage{
			Role:     domain.RoleAssistant,
			Content:  reply.Response,
			Fallback: true,
		}})
		return nil, degrade(CapChat, err, chatFallback{ChatReply: reply, SessionID: in.SessionID, Character: in.Character})
	}

	s.Sink.Submit(telemetry.ChatEvent{Session: session, Message: domain.ChatMessage{
		Role:           domain.RoleAssistant,
		Content:        telemetry.ProjectChatReply(resp.Body),
		ResponseTimeMs: ms(resp.Duration),
	}})
	out := s.result(resp, in.Character)
	out.Body = augment(out.Body, map[string]any{"sessionId": in.SessionID})
	return out, nil
}

// Intelligence proxies the threat-intelligence summary. The fallback is the
// latest cached summary, or nil when nothing was cached yet.
func (s *PhishGuardService) Intelligence(ctx context.Context, bearer string) (*Result, error) {
	ctx, span := otel.Tracer("services/PhishGuardService").Start(ctx, "Intelligence")
	defer span.End()

	resp, err := s.Upstream.Do(ctx, upstream.Call{
		Capability: CapIntelligence,
		Method:     http.MethodGet,
		Path:       "/intelligence/summary",
		Bearer:     bearer,
		Timeout:    upstream.TimeoutLookup,
	})
	if err != nil {
		recordFailure(s.Sink, CapIntelligence, err)
		if !upstream.IsUnavailable(err) {
			return nil, err
		}
		fb, ferr := fallback.Intelligence(ctx, s.DB)
		if ferr != nil {
			if !errors.Is(ferr, fallback.ErrNoIntel) {
				loggerFrom(ctx).Warn().Err(ferr).Msg("cached intelligence read failed")
			}
			return nil, degrade(CapIntelligence, err, nil)
		}
		return nil, degrade(CapIntelligence, err, fb)
	}
	if gjson.ValidBytes(resp.Body) {
		s.Sink.Submit(telemetry.IntelCacheEvent{Summary: append([]byte(nil), resp.Body...)})
	}
	return s.result(resp, ""), nil
}

// UpstreamHealth is the AI service part of the health report.
type UpstreamHealth struct {
	Status         string `json:"status"`
	URL            string `json:"url,omitempty"`
	ResponseTimeMs int64  `json:"responseTime"`
	StatusCode     int    `json:"statusCode,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Upstream health states.
const (
	UpstreamHealthy     = "healthy"
	UpstreamUnavailable = "unavailable"
	UpstreamUnhealthy   = "unhealthy"
)

// Health probes the AI service. It never fails: an unreachable service is
// reported as unavailable.
func (s *PhishGuardService) Health(ctx context.Context) UpstreamHealth {
	ctx, span := otel.Tracer("services/PhishGuardService").Start(ctx, "Health")
	defer span.End()

	start := time.Now()
	resp, err := s.Upstream.Do(ctx, upstream.Call{
		Capability: CapHealth,
		Method:     http.MethodGet,
		Path:       "/health",
		Timeout:    upstream.TimeoutHealth,
	})
	h := UpstreamHealth{ResponseTimeMs: ms(time.Since(start))}
	if err == nil {
		h.Status = UpstreamHealthy
		h.StatusCode = resp.Status
		h.ResponseTimeMs = ms(resp.Duration)
		return h
	}
	recordFailure(s.Sink, CapHealth, err)
	var ue *upstream.Error
	if errors.As(err, &ue) && ue.Kind == upstream.KindUpstream {
		h.Status = UpstreamUnhealthy
		h.StatusCode = ue.Status
	} else {
		h.Status = UpstreamUnavailable
	}
	h.Error = err.Error()
	return h
}

// Stats returns the telemetry aggregates.
func (s *PhishGuardService) Stats(ctx context.Context) (*repo.Stats, error) {
	ctx, span := otel.Tracer("services/PhishGuardService").Start(ctx, "Stats")
	defer span.End()
	return repo.TelemetryStats(ctx, s.DB, time.Now().UTC())
}

// ReportsPage returns a page of local reports, newest first, and the total.
func (s *PhishGuardService) ReportsPage(ctx context.Context, p utils.Page) ([]domain.Report, int64, error) {
	ctx, span := otel.Tracer("services/PhishGuardService").Start(ctx, "ReportsPage",
		trace.WithAttributes(
			attribute.Int("page", p.Page),
			attribute.Int("page_size", p.PageSize),
		))
	defer span.End()

	total, err := repo.CountReports(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Report{}, 0, nil
	}
	items, err := repo.ListReportsPage(ctx, s.DB, p.Offset(), p.PageSize)
	return items, total, err
}

// result wraps a 2xx upstream answer with responseTime and, when routed to
// a persona, its name.
func (s *PhishGuardService) result(resp *upstream.Response, character string) *Result {
	fields := map[string]any{"responseTime": ms(resp.Duration)}
	if character != "" {
		fields["character"] = character
	}
	return &Result{
		Status:      resp.Status,
		Body:        augment(resp.Body, fields),
		ContentType: "application/json",
		Latency:     resp.Duration,
	}
}

// validateURL checks a URL field. Bare hosts are accepted.
func validateURL(raw string, required bool) error {
	var v validator
	switch {
	case raw == "":
		v.check(!required, "url", "url is required")
	case len(raw) > maxURLLen:
		v.add("url", "url is too long")
	case utils.Hostname(raw) == "":
		v.add("url", "url is not valid")
	}
	return v.err()
}
