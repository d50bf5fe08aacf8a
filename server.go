package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/valyala/fasthttp"
)

// Server exposes the client operations over HTTP. Requests authenticate with
// their Cookie header, falling back to the configured default cookie.
type Server struct {
	ctx      context.Context
	registry *Registry
	cookie   string
	validate *validator.Validate
	logger   Logger
	srv      *fasthttp.Server
}

// NewServer binds handlers to ctx; cancelling it aborts in-flight generations.
func NewServer(ctx context.Context, registry *Registry, defaultCookie string, logger Logger) *Server {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})

	s := &Server{
		ctx:      ctx,
		registry: registry,
		cookie:   defaultCookie,
		validate: validate,
		logger:   logger,
	}
	s.srv = &fasthttp.Server{
		Handler:      s.Handler,
		Name:         "sunoapi",
		ReadTimeout:  30 * time.Second,
		IdleTimeout:  time.Minute,
		TCPKeepalive: true,
	}
	return s
}

func (s *Server) ListenAndServe(addr string) error {
	s.logger.Log("Listening on %s", addr)
	return s.srv.ListenAndServe(addr)
}

func (s *Server) Shutdown() error {
	return s.srv.Shutdown()
}

// Handler routes one request.
func (s *Server) Handler(rc *fasthttp.RequestCtx) {
	setCORS(rc)

	method, path := string(rc.Method()), string(rc.Path())
	if method == fasthttp.MethodOptions {
		rc.SetStatusCode(http.StatusOK)
		return
	}

	switch {
	case method == fasthttp.MethodPost && path == "/generate":
		s.handleGenerate(rc)
	case method == fasthttp.MethodPost && path == "/custom_generate":
		s.handleCustomGenerate(rc)
	case method == fasthttp.MethodPost && path == "/extend_audio":
		s.handleExtendAudio(rc)
	case method == fasthttp.MethodPost && path == "/concat":
		s.handleConcat(rc)
	case method == fasthttp.MethodGet && path == "/get":
		s.handleGet(rc)
	case method == fasthttp.MethodGet && path == "/get_limit":
		s.handleGetLimit(rc)
	case method == fasthttp.MethodGet && path == "/clip":
		s.handleClip(rc)
	default:
		writeJSON(rc, http.StatusNotFound, errorBody{Error: "Not found"})
	}
}

type generateRequest struct {
	Prompt           string `json:"prompt" validate:"required"`
	MakeInstrumental bool   `json:"make_instrumental"`
	Model            string `json:"model"`
	WaitAudio        bool   `json:"wait_audio"`
}

type customGenerateRequest struct {
	Prompt           string `json:"prompt"`
	Tags             string `json:"tags"`
	Title            string `json:"title"`
	MakeInstrumental bool   `json:"make_instrumental"`
	Model            string `json:"model"`
	WaitAudio        bool   `json:"wait_audio"`
	NegativeTags     string `json:"negative_tags"`
}

type extendAudioRequest struct {
	AudioID      string   `json:"audio_id" validate:"required"`
	Prompt       string   `json:"prompt"`
	ContinueAt   *float64 `json:"continue_at" validate:"required,gte=0"`
	Tags         string   `json:"tags"`
	NegativeTags string   `json:"negative_tags"`
	Title        string   `json:"title"`
	Model        string   `json:"model"`
	WaitAudio    bool     `json:"wait_audio"`
}

type concatRequest struct {
	ClipID string `json:"clip_id" validate:"required"`
}

func (s *Server) handleGenerate(rc *fasthttp.RequestCtx) {
	var req generateRequest
	if !s.decode(rc, &req) {
		return
	}
	client, ok := s.client(rc)
	if !ok {
		return
	}
	infos, err := client.Generate(s.ctx, req.Prompt, req.MakeInstrumental, req.Model, req.WaitAudio)
	s.respond(rc, infos, err)
}

func (s *Server) handleCustomGenerate(rc *fasthttp.RequestCtx) {
	var req customGenerateRequest
	if !s.decode(rc, &req) {
		return
	}
	client, ok := s.client(rc)
	if !ok {
		return
	}
	infos, err := client.CustomGenerate(s.ctx, req.Prompt, req.Tags, req.Title, req.MakeInstrumental, req.Model, req.WaitAudio, req.NegativeTags)
	s.respond(rc, infos, err)
}

func (s *Server) handleExtendAudio(rc *fasthttp.RequestCtx) {
	var req extendAudioRequest
	if !s.decode(rc, &req) {
		return
	}
	client, ok := s.client(rc)
	if !ok {
		return
	}
	infos, err := client.ExtendAudio(s.ctx, req.AudioID, req.Prompt, *req.ContinueAt, req.Tags, req.NegativeTags, req.Title, req.Model, req.WaitAudio)
	s.respond(rc, infos, err)
}

func (s *Server) handleConcat(rc *fasthttp.RequestCtx) {
	var req concatRequest
	if !s.decode(rc, &req) {
		return
	}
	client, ok := s.client(rc)
	if !ok {
		return
	}
	info, err := client.Concatenate(s.ctx, req.ClipID)
	s.respond(rc, info, err)
}

func (s *Server) handleGet(rc *fasthttp.RequestCtx) {
	client, ok := s.client(rc)
	if !ok {
		return
	}
	var ids []string
	for _, id := range strings.Split(string(rc.QueryArgs().Peek("ids")), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	infos, err := client.FetchByIDs(s.ctx, ids, string(rc.QueryArgs().Peek("page")))
	s.respond(rc, infos, err)
}

func (s *Server) handleGetLimit(rc *fasthttp.RequestCtx) {
	client, ok := s.client(rc)
	if !ok {
		return
	}
	credits, err := client.GetCredits(s.ctx)
	s.respond(rc, credits, err)
}

func (s *Server) handleClip(rc *fasthttp.RequestCtx) {
	id := strings.TrimSpace(string(rc.QueryArgs().Peek("id")))
	if id == "" {
		writeJSON(rc, http.StatusBadRequest, errorBody{Error: "Missing parameter id"})
		return
	}
	client, ok := s.client(rc)
	if !ok {
		return
	}
	raw, err := client.GetClip(s.ctx, id)
	s.respond(rc, raw, err)
}

// decode reads and validates a JSON body, answering 400 itself on failure.
func (s *Server) decode(rc *fasthttp.RequestCtx, dst any) bool {
	if err := json.Unmarshal(rc.PostBody(), dst); err != nil {
		writeJSON(rc, http.StatusBadRequest, errorBody{Error: "Invalid request body: " + err.Error()})
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeJSON(rc, http.StatusBadRequest, errorBody{Error: validationMessage(err)})
		return false
	}
	return true
}

func (s *Server) client(rc *fasthttp.RequestCtx) (*SunoClient, bool) {
	cookie := strings.TrimSpace(string(rc.Request.Header.Peek("Cookie")))
	if cookie == "" {
		cookie = s.cookie
	}
	client, err := s.registry.Get(s.ctx, cookie)
	if err != nil {
		s.writeError(rc, err)
		return nil, false
	}
	return client, true
}

func (s *Server) respond(rc *fasthttp.RequestCtx, v any, err error) {
	if err != nil {
		s.writeError(rc, err)
		return
	}
	writeJSON(rc, http.StatusOK, v)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps the error taxonomy onto status codes. Payment-required is
// the only remote status passed through.
func (s *Server) writeError(rc *fasthttp.RequestCtx, err error) {
	s.logger.Log("%s %s failed: %v", rc.Method(), rc.Path(), err)

	var remote *RemoteError
	var network *NetworkError
	switch {
	case errors.As(err, &remote) && remote.Status == http.StatusPaymentRequired:
		msg := remote.Message
		if msg == "" {
			msg = "Payment Required."
		}
		writeJSON(rc, http.StatusPaymentRequired, errorBody{Error: msg})
	case errors.As(err, &remote) && remote.Message != "":
		writeJSON(rc, http.StatusInternalServerError, errorBody{Error: "Internal server error: " + remote.Message})
	case errors.As(err, &remote):
		writeJSON(rc, http.StatusInternalServerError, errorBody{Error: "Internal server error."})
	case errors.As(err, &network):
		writeJSON(rc, http.StatusInternalServerError, errorBody{Error: "No response received from the server."})
	default:
		writeJSON(rc, http.StatusInternalServerError, errorBody{Error: "Internal server error: " + err.Error()})
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
	}
	return "Invalid request: " + strings.Join(fields, ", ")
}

func writeJSON(rc *fasthttp.RequestCtx, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"Internal server error: encode response"}`)
	}
	rc.SetStatusCode(status)
	rc.SetContentType("application/json")
	rc.SetBody(body)
}

func setCORS(rc *fasthttp.RequestCtx) {
	h := &rc.Response.Header
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}
