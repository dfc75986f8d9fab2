// Anime HTTP handlers.
//
// This file exposes the character proxy under {API_BASE_PATH}/anime:
//   - GET  ai-chan/greeting, haru/greeting
//   - POST ai-chan/analyze   (multipart: url, image)
//   - POST haru/help         (multipart: issue_description, question_count, screenshot)
//   - POST combined/analyze  (multipart: url, issue_description, content)
//   - POST voice/generate    (form or JSON)
//   - GET  voice/:filename   (streamed)
//   - POST chat
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/phishguard-gateway/internal/fallback"
	"github.com/tbourn/phishguard-gateway/internal/http/middleware"
	"github.com/tbourn/phishguard-gateway/internal/services"
)

// VoiceRequest is the payload for speech synthesis, as form fields or JSON.
type VoiceRequest struct {
	Character string `form:"character"  json:"character"  example:"ai-chan"`
	Text      string `form:"text"       json:"text"       example:"Stay safe online!"`
	VoiceType string `form:"voice_type" json:"voice_type" example:"cheerful"`
}

// Greeting godoc
// @ID          greeting
// @Summary     Character greeting
// @Description Proxies the character's greeting; a canned greeting is the fallback.
// @Tags        Anime
// @Produce     json
// @Success     200  {object}  object
// @Failure     503  {object}  handlers.ErrorResponse  "Canned greeting attached"
// @Router      /anime/ai-chan/greeting [get]
// @Router      /anime/haru/greeting [get]
func (h *Handlers) Greeting(character string) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := h.anime.Greeting(c.Request.Context(), character, middleware.Bearer(c))
		if err != nil {
			h.respondError(c, err)
			return
		}
		relay(c, res)
	}
}

// AnalyzeVision godoc
// @ID          aiChanAnalyze
// @Summary     AI-chan visual analysis
// @Description Analyzes a URL and/or an image. Only URL-only requests fall back to the local verdict.
// @Tags        Anime
// @Accept      multipart/form-data
// @Produce     json
// @Security    BearerAuth
// @Param       url    formData  string  false  "URL to analyze"
// @Param       image  formData  file    false  "Image (jpg, jpeg, png, gif, webp, svg; max 10MiB)"
// @Success     200    {object}  object
// @Failure     400    {object}  handlers.ErrorResponse
// @Failure     413    {object}  handlers.ErrorResponse
// @Failure     415    {object}  handlers.ErrorResponse
// @Failure     503    {object}  handlers.ErrorResponse
// @Router      /anime/ai-chan/analyze [post]
func (h *Handlers) AnalyzeVision(c *gin.Context) {
	img, cleanup, err := h.stageUpload(c, "image")
	defer cleanup()
	if err != nil {
		h.failUpload(c, err)
		return
	}
	res, err := h.anime.AnalyzeVision(c.Request.Context(), services.VisionInput{
		URL:    c.PostForm("url"),
		Image:  img,
		UserID: middleware.UserID(c),
		Bearer: middleware.Bearer(c),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	relay(c, res)
}

// Help godoc
// @ID          haruHelp
// @Summary     Haru guided help
// @Tags        Anime
// @Accept      multipart/form-data
// @Produce     json
// @Security    BearerAuth
// @Param       issue_description  formData  string  false  "What happened"
// @Param       question_count     formData  int     false  "Follow-up questions (1-10)"  default(1)
// @Param       screenshot         formData  file    false  "Screenshot"
// @Success     200  {object}  object
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     413  {object}  handlers.ErrorResponse
// @Failure     415  {object}  handlers.ErrorResponse
// @Failure     503  {object}  handlers.ErrorResponse
// @Router      /anime/haru/help [post]
func (h *Handlers) Help(c *gin.Context) {
	shot, cleanup, err := h.stageUpload(c, "screenshot")
	defer cleanup()
	if err != nil {
		h.failUpload(c, err)
		return
	}
	res, err := h.anime.Help(c.Request.Context(), services.HelpInput{
		IssueDescription: c.PostForm("issue_description"),
		QuestionCount:    c.PostForm("question_count"),
		Screenshot:       shot,
		UserID:           middleware.UserID(c),
		Bearer:           middleware.Bearer(c),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	relay(c, res)
}

// CombinedAnalyze godoc
// @ID          combinedAnalyze
// @Summary     Combined AI-chan and Haru analysis
// @Tags        Anime
// @Accept      multipart/form-data
// @Produce     json
// @Security    BearerAuth
// @Param       url                formData  string  false  "URL"
// @Param       issue_description  formData  string  false  "What happened"
// @Param       content            formData  file    false  "Image"
// @Success     200  {object}  object
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     503  {object}  handlers.ErrorResponse
// @Router      /anime/combined/analyze [post]
func (h *Handlers) CombinedAnalyze(c *gin.Context) {
	content, cleanup, err := h.stageUpload(c, "content")
	defer cleanup()
	if err != nil {
		h.failUpload(c, err)
		return
	}
	res, err := h.anime.CombinedAnalyze(c.Request.Context(), services.CombinedInput{
		URL:              c.PostForm("url"),
		IssueDescription: c.PostForm("issue_description"),
		Content:          content,
		UserID:           middleware.UserID(c),
		Bearer:           middleware.Bearer(c),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	relay(c, res)
}

// GenerateVoice godoc
// @ID          generateVoice
// @Summary     Synthesize a character voice line
// @Tags        Anime
// @Accept      json
// @Accept      x-www-form-urlencoded
// @Produce     json
// @Security    BearerAuth
// @Param       body  body      handlers.VoiceRequest  true  "Voice request"
// @Success     200   {object}  object
// @Failure     400   {object}  handlers.ErrorResponse
// @Failure     503   {object}  handlers.ErrorResponse
// @Router      /anime/voice/generate [post]
func (h *Handlers) GenerateVoice(c *gin.Context) {
	var req VoiceRequest
	if err := c.ShouldBind(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}
	res, err := h.anime.GenerateVoice(c.Request.Context(), services.VoiceInput{
		Character: req.Character,
		Text:      req.Text,
		VoiceType: req.VoiceType,
		Bearer:    middleware.Bearer(c),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	relay(c, res)
}

// VoiceFile godoc
// @ID          voiceFile
// @Summary     Download a generated voice file
// @Tags        Anime
// @Produce     audio/wav
// @Param       filename  path      string  true  "File name ending in .wav"
// @Success     200       {file}    binary
// @Failure     400       {object}  handlers.ErrorResponse
// @Failure     503       {object}  handlers.ErrorResponse
// @Router      /anime/voice/{filename} [get]
func (h *Handlers) VoiceFile(c *gin.Context) {
	st, err := h.anime.VoiceFile(c.Request.Context(), c.Param("filename"), middleware.Bearer(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer st.Body.Close()

	ct := st.ContentType
	if ct == "" {
		ct = "audio/wav"
	}
	c.DataFromReader(st.Status, st.ContentLength, ct, st.Body, nil)
}

// AnimeChat godoc
// @ID          animeChat
// @Summary     Chat with a character
// @Tags        Anime
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.ChatRequest  true  "Chat turn"
// @Success     200   {object}  object
// @Failure     400   {object}  handlers.ErrorResponse
// @Failure     503   {object}  handlers.ErrorResponse
// @Router      /anime/chat [post]
func (h *Handlers) AnimeChat(c *gin.Context) {
	h.chat(c, fallback.CharacterAIChan)
}
