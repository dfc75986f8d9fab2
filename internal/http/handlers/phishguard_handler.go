// PhishGuard HTTP handlers.
//
// This file exposes the PhishGuard proxy under {API_BASE_PATH}/phishguard:
//   - POST analyze, POST report, GET tips, POST chat, GET intelligence
//   - GET  health (gateway + upstream + process figures)
//   - GET  stats (admin) and GET reports (moderator or admin)
//
// Successful upstream payloads are relayed byte-for-byte, augmented by the
// service with routing metadata (responseTime, sessionId, report_id).
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/phishguard-gateway/internal/domain"
	"github.com/tbourn/phishguard-gateway/internal/http/middleware"
	"github.com/tbourn/phishguard-gateway/internal/services"
	"github.com/tbourn/phishguard-gateway/internal/utils"
)

//
// DTOs
//

// AnalyzeRequest is the JSON payload for a URL analysis.
type AnalyzeRequest struct {
	URL    string `json:"url"               example:"http://secure-login.example.com"`
	UserID string `json:"user_id,omitempty" example:"anonymous-123"`
}

// ReportRequest is the JSON payload for a scam report.
type ReportRequest struct {
	URL         string `json:"url"         example:"http://fake-bank.example.com"`
	Description string `json:"description" example:"SMS asked me to confirm my bank PIN"`
}

// ChatRequest is the JSON payload for one chat turn.
type ChatRequest struct {
	Message   string `json:"message"              example:"Is this link safe?"`
	SessionID string `json:"session_id,omitempty" example:"b0f1..."`
	Character string `json:"character,omitempty"  example:"ai-chan"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListReportsResponse wraps a page of locally stored reports.
type ListReportsResponse struct {
	Reports    []domain.Report `json:"reports"`
	Pagination Pagination      `json:"pagination"`
}

// userIDFor prefers the authenticated identity over a client-declared one.
func userIDFor(c *gin.Context, declared string) string {
	if uid := middleware.UserID(c); uid != "" {
		return uid
	}
	return strings.TrimSpace(declared)
}

//
// Handlers
//

// Analyze godoc
// @ID          analyzeURL
// @Summary     Analyze a URL
// @Description Forwards the URL to the AI service. When it is unreachable a local verdict is returned under `fallback` with status 503.
// @Tags        PhishGuard
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.AnalyzeRequest  true  "URL to analyze"
// @Success     200   {object}  object                   "Upstream analysis plus responseTime"
// @Failure     400   {object}  handlers.ErrorResponse   "Validation failed"
// @Failure     429   {object}  handlers.ErrorResponse   "Rate limit exceeded"
// @Failure     503   {object}  handlers.ErrorResponse   "AI service unavailable; fallback verdict attached"
// @Failure     500   {object}  handlers.ErrorResponse   "Internal error"
// @Router      /phishguard/analyze [post]
func (h *Handlers) Analyze(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	res, err := h.pg.Analyze(c.Request.Context(), services.AnalyzeInput{
		URL:    req.URL,
		UserID: userIDFor(c, req.UserID),
		Bearer: middleware.Bearer(c),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	relay(c, res)
}

// Report godoc
// @ID          reportScam
// @Summary     Report a scam URL
// @Description Stores the report locally, then forwards it. Repeating a request with the same Idempotency-Key replays the first outcome.
// @Tags        PhishGuard
// @Accept      json
// @Produce     json
// @Param       Idempotency-Key  header    string                  false  "Deduplicates retries"
// @Param       body             body      handlers.ReportRequest  true   "Report"
// @Success     201              {object}  object                  "Upstream acknowledgement plus report_id"
// @Failure     400              {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     503              {object}  handlers.ErrorResponse  "Saved locally only"
// @Failure     500              {object}  handlers.ErrorResponse  "Internal error"
// @Router      /phishguard/report [post]
func (h *Handlers) Report(c *gin.Context) {
	var req ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	key, _ := middleware.GetIdempotencyKey(c)
	res, err := h.pg.Report(c.Request.Context(), services.ReportInput{
		URL:            req.URL,
		Description:    req.Description,
		UserID:         middleware.UserID(c),
		Bearer:         middleware.Bearer(c),
		IdempotencyKey: key,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	if res.Replayed {
		c.Header(middleware.HeaderIdempotentReplayed, "true")
	}
	relay(c, &res.Result)
}

// Tips godoc
// @ID          safetyTips
// @Summary     Safety tips
// @Description Proxies safety tips. When the AI service is unreachable the latest cached tips (or built-in tips) are returned under `fallback`.
// @Tags        PhishGuard
// @Produce     json
// @Param       category  query     string  false  "Tip category"  example(general)
// @Success     200       {object}  object
// @Failure     503       {object}  handlers.ErrorResponse  "Fallback tips attached"
// @Router      /phishguard/tips [get]
func (h *Handlers) Tips(c *gin.Context) {
	res, err := h.pg.Tips(c.Request.Context(), c.Query("category"), middleware.Bearer(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	relay(c, res)
}

// Chat godoc
// @ID          chat
// @Summary     Chat with the assistant
// @Description Proxies one chat turn. The reply carries the sessionId to continue the conversation.
// @Tags        PhishGuard
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.ChatRequest  true  "Chat turn"
// @Success     200   {object}  object
// @Failure     400   {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     503   {object}  handlers.ErrorResponse  "Canned reply attached"
// @Router      /phishguard/chat [post]
func (h *Handlers) Chat(c *gin.Context) {
	h.chat(c, "")
}

// chat serves both chat routes; character is the route's default persona.
func (h *Handlers) chat(c *gin.Context, character string) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if req.Character != "" {
		character = req.Character
	}
	res, err := h.pg.Chat(c.Request.Context(), services.ChatInput{
		Message:   req.Message,
		SessionID: req.SessionID,
		UserID:    middleware.UserID(c),
		Bearer:    middleware.Bearer(c),
		Character: character,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	relay(c, res)
}

// Intelligence godoc
// @ID          threatIntelligence
// @Summary     Threat intelligence summary
// @Description Proxies the threat summary; the latest cached summary is the fallback.
// @Tags        PhishGuard
// @Produce     json
// @Success     200  {object}  object
// @Failure     503  {object}  handlers.ErrorResponse  "Cached summary attached, if any"
// @Router      /phishguard/intelligence [get]
func (h *Handlers) Intelligence(c *gin.Context) {
	res, err := h.pg.Intelligence(c.Request.Context(), middleware.Bearer(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	relay(c, res)
}

// Stats godoc
// @ID          telemetryStats
// @Summary     Telemetry statistics
// @Description Aggregate counts from the local telemetry store.
// @Tags        PhishGuard
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  repo.Stats
// @Failure     401  {object}  handlers.ErrorResponse
// @Failure     403  {object}  handlers.ErrorResponse
// @Failure     500  {object}  handlers.ErrorResponse
// @Router      /phishguard/stats [get]
func (h *Handlers) Stats(c *gin.Context) {
	st, err := h.pg.Stats(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	ok(c, http.StatusOK, st)
}

// ListReports godoc
// @ID          listReports
// @Summary     List local reports (paginated)
// @Tags        PhishGuard
// @Produce     json
// @Security    BearerAuth
// @Param       page       query     int  false  "Page number"     minimum(1) default(1)
// @Param       page_size  query     int  false  "Items per page"  minimum(1) maximum(100) default(20)
// @Success     200        {object}  handlers.ListReportsResponse
// @Failure     401        {object}  handlers.ErrorResponse
// @Failure     403        {object}  handlers.ErrorResponse
// @Failure     500        {object}  handlers.ErrorResponse
// @Router      /phishguard/reports [get]
func (h *Handlers) ListReports(c *gin.Context) {
	p := utils.ParsePage(c.Query("page"), c.Query("page_size"), 20, 100)
	items, total, err := h.pg.ReportsPage(c.Request.Context(), p)
	if err != nil {
		h.respondError(c, err)
		return
	}
	totalPages := utils.TotalPages(total, p.PageSize)
	ok(c, http.StatusOK, ListReportsResponse{
		Reports: items,
		Pagination: Pagination{
			Page:       p.Page,
			PageSize:   p.PageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    p.Page < totalPages,
		},
	})
}
