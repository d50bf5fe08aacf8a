package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	http "github.com/bogdanfinn/fhttp"
	"github.com/google/uuid"
)

const (
	generationTypeText = "TEXT"
	taskExtend         = "extend"
)

// ClientDeps are the collaborators a SunoClient does not own.
type ClientDeps struct {
	Doer     Doer
	Launcher BrowserLauncher
	Solver   CoordinateSolver
	Proxy    string
	Logger   Logger
}

// SunoClient is one initialized credential set: its session, transport and
// challenge flow. It is safe for concurrent use.
type SunoClient struct {
	id       string
	cfg      *Config
	creds    *Credentials
	api      *APIClient
	session  *SessionManager
	detector *ChallengeDetector
	resolver *ChallengeResolver
	proxy    string
	logger   Logger

	sleep sleepFunc
	now   func() time.Time
}

func NewSunoClient(cfg *Config, creds *Credentials, deps ClientDeps) *SunoClient {
	id := uuid.New().String()[:8]
	var logger Logger = nopLogger{}
	if deps.Logger != nil {
		logger = &clientLogger{id: id, base: deps.Logger}
	}

	api := NewAPIClient(deps.Doer, creds, cfg.Remote.RequestTimeout.Std(), logger)
	return &SunoClient{
		id:       id,
		cfg:      cfg,
		creds:    creds,
		api:      api,
		session:  NewSessionManager(api, creds, cfg.Remote, logger),
		detector: NewChallengeDetector(api, cfg.Remote.StudioBaseURL, logger),
		resolver: NewChallengeResolver(deps.Launcher, deps.Solver, cfg.Browser.Locale, ChallengeTimeouts{
			Wait:  cfg.Browser.ChallengeWaitTimeout.Std(),
			Drain: cfg.Browser.ChallengeDrainWindow.Std(),
		}, logger),
		proxy:  deps.Proxy,
		logger: logger,
		sleep:  sleepCtx,
		now:    time.Now,
	}
}

func (c *SunoClient) ID() string {
	return c.id
}

// Init bootstraps the session and mints the first bearer token.
func (c *SunoClient) Init(ctx context.Context) error {
	if err := c.session.EnsureSession(ctx); err != nil {
		return err
	}
	return c.session.RenewToken(ctx, false)
}

// GenerationRequest describes one submission. Custom requests carry lyrics in
// Prompt; description requests let the remote service write them.
type GenerationRequest struct {
	Prompt           string
	Custom           bool
	Tags             string
	Title            string
	NegativeTags     string
	MakeInstrumental bool
	Model            string
	Wait             bool

	Task           string
	ContinueClipID string
	ContinueAt     *float64
}

type generatePayload struct {
	MakeInstrumental     bool     `json:"make_instrumental"`
	Model                string   `json:"mv"`
	Prompt               string   `json:"prompt"`
	GenerationType       string   `json:"generation_type"`
	ContinueAt           *float64 `json:"continue_at,omitempty"`
	ContinueClipID       string   `json:"continue_clip_id,omitempty"`
	Task                 string   `json:"task,omitempty"`
	Token                *string  `json:"token"`
	Tags                 string   `json:"tags,omitempty"`
	Title                string   `json:"title,omitempty"`
	NegativeTags         string   `json:"negative_tags,omitempty"`
	GPTDescriptionPrompt string   `json:"gpt_description_prompt,omitempty"`
}

func (r GenerationRequest) payload(defaultModel string, token *string) generatePayload {
	p := generatePayload{
		MakeInstrumental: r.MakeInstrumental,
		Model:            r.Model,
		GenerationType:   generationTypeText,
		ContinueAt:       r.ContinueAt,
		ContinueClipID:   r.ContinueClipID,
		Task:             r.Task,
		Token:            token,
	}
	if p.Model == "" {
		p.Model = defaultModel
	}
	if r.Custom {
		p.Prompt = r.Prompt
		p.Tags = r.Tags
		p.Title = r.Title
		p.NegativeTags = r.NegativeTags
	} else {
		p.GPTDescriptionPrompt = r.Prompt
	}
	return p
}

// Generate creates clips from a free-text description.
func (c *SunoClient) Generate(ctx context.Context, prompt string, makeInstrumental bool, model string, wait bool) ([]AudioInfo, error) {
	return c.Submit(ctx, GenerationRequest{
		Prompt:           prompt,
		MakeInstrumental: makeInstrumental,
		Model:            model,
		Wait:             wait,
	})
}

// CustomGenerate creates clips from user lyrics, style tags and a title.
func (c *SunoClient) CustomGenerate(ctx context.Context, prompt, tags, title string, makeInstrumental bool, model string, wait bool, negativeTags string) ([]AudioInfo, error) {
	return c.Submit(ctx, GenerationRequest{
		Prompt:           prompt,
		Custom:           true,
		Tags:             tags,
		Title:            title,
		NegativeTags:     negativeTags,
		MakeInstrumental: makeInstrumental,
		Model:            model,
		Wait:             wait,
	})
}

// ExtendAudio continues an existing clip from continueAt seconds.
func (c *SunoClient) ExtendAudio(ctx context.Context, audioID, prompt string, continueAt float64, tags, negativeTags, title, model string, wait bool) ([]AudioInfo, error) {
	if audioID == "" {
		return nil, errors.New("audio id is required")
	}
	return c.Submit(ctx, GenerationRequest{
		Prompt:         prompt,
		Custom:         true,
		Tags:           tags,
		Title:          title,
		NegativeTags:   negativeTags,
		Model:          model,
		Wait:           wait,
		Task:           taskExtend,
		ContinueClipID: audioID,
		ContinueAt:     &continueAt,
	})
}

// Submit is the single path every generation takes: fresh token, challenge
// check, optional challenge resolution, submission, optional wait.
func (c *SunoClient) Submit(ctx context.Context, req GenerationRequest) ([]AudioInfo, error) {
	if err := c.session.RenewToken(ctx, false); err != nil {
		return nil, err
	}

	token, err := c.challengeToken(ctx)
	if err != nil {
		return nil, err
	}

	payload := req.payload(c.cfg.DefaultModel, token)
	c.logger.Log("Generating (model %s, custom %t, task %q)", payload.Model, req.Custom, req.Task)

	var resp clipsResponse
	if _, err := c.api.doJSON(ctx, http.MethodPost, c.studioURL("/api/generate/v2/"), payload, &resp); err != nil {
		return nil, fmt.Errorf("submit generation: %w", err)
	}
	infos := toAudioInfos(resp.Clips)

	if !req.Wait {
		return infos, nil
	}
	return c.waitForCompletion(ctx, infos)
}

// challengeToken returns nil when no challenge stands in the way. Otherwise it
// drives the browser flow and adopts the bearer token the page used.
func (c *SunoClient) challengeToken(ctx context.Context) (*string, error) {
	required, err := c.detector.IsChallengeRequired(ctx, ChallengeTypeGeneration)
	if err != nil {
		return nil, err
	}
	if !required {
		return nil, nil
	}

	result, err := c.resolver.Resolve(ctx, BrowserSeed{
		BearerToken: c.api.Token(),
		Cookies:     c.creds.Snapshot(),
		UserAgent:   SunoUserAgent,
		Proxy:       c.proxy,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve challenge: %w", err)
	}
	c.session.AdoptToken(result.BearerToken)
	return &result.Token, nil
}

// waitForCompletion polls until every clip is complete or errored. On timeout
// it returns the last state it saw rather than failing.
func (c *SunoClient) waitForCompletion(ctx context.Context, submitted []AudioInfo) ([]AudioInfo, error) {
	// Without ids the feed answers with the account's latest page.
	if len(submitted) == 0 {
		c.logger.Log("Submission returned no clips, nothing to wait for")
		return submitted, nil
	}
	ids := make([]string, len(submitted))
	for i, info := range submitted {
		ids[i] = info.ID
	}

	last := submitted
	if err := c.sleep(ctx, c.cfg.Poll.InitialDelay.Std()); err != nil {
		return nil, err
	}

	start := c.now()
	for c.now().Sub(start) < c.cfg.Poll.Timeout.Std() {
		infos, err := c.FetchByIDs(ctx, ids, "")
		switch {
		case err == nil:
			last = infos
			if allTerminal(infos) {
				return infos, nil
			}
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			c.logger.Log("Polling clip status: %v", err)
		}

		interval := c.cfg.Poll.Interval.Std()
		if err := c.sleep(ctx, randomDelay(interval, 2*interval)); err != nil {
			return nil, err
		}
		if err := c.session.RenewToken(ctx, true); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Log("Renewing token while polling: %v", err)
		}
	}

	c.logger.Log("Clips not finished after %v, returning their last state", c.cfg.Poll.Timeout.Std())
	return last, nil
}

// FetchByIDs reads clips from the feed; no ids means the latest page.
func (c *SunoClient) FetchByIDs(ctx context.Context, ids []string, page string) ([]AudioInfo, error) {
	if err := c.session.RenewToken(ctx, false); err != nil {
		return nil, err
	}
	return c.feed(ctx, ids, page)
}

func (c *SunoClient) feed(ctx context.Context, ids []string, page string) ([]AudioInfo, error) {
	q := url.Values{}
	if len(ids) > 0 {
		q.Set("ids", strings.Join(ids, ","))
	}
	if page != "" {
		q.Set("page", page)
	}

	var resp clipsResponse
	if _, err := c.api.doJSON(ctx, http.MethodGet, c.studioURL("/api/feed/v2"), nil, &resp, withQuery(q)); err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	return toAudioInfos(resp.Clips), nil
}

// Credits is the account quota summary.
type Credits struct {
	CreditsLeft  int    `json:"credits_left"`
	Period       string `json:"period"`
	MonthlyLimit int    `json:"monthly_limit"`
	MonthlyUsage int    `json:"monthly_usage"`
}

func (c *SunoClient) GetCredits(ctx context.Context) (*Credits, error) {
	if err := c.session.RenewToken(ctx, false); err != nil {
		return nil, err
	}

	var info struct {
		TotalCreditsLeft int    `json:"total_credits_left"`
		Period           string `json:"period"`
		MonthlyLimit     int    `json:"monthly_limit"`
		MonthlyUsage     int    `json:"monthly_usage"`
	}
	if _, err := c.api.doJSON(ctx, http.MethodGet, c.studioURL("/api/billing/info/"), nil, &info); err != nil {
		return nil, fmt.Errorf("billing info: %w", err)
	}
	return &Credits{
		CreditsLeft:  info.TotalCreditsLeft,
		Period:       info.Period,
		MonthlyLimit: info.MonthlyLimit,
		MonthlyUsage: info.MonthlyUsage,
	}, nil
}

// GetClip returns the remote clip document untouched.
func (c *SunoClient) GetClip(ctx context.Context, clipID string) (json.RawMessage, error) {
	if clipID == "" {
		return nil, errors.New("clip id is required")
	}
	if err := c.session.RenewToken(ctx, false); err != nil {
		return nil, err
	}
	body, err := c.api.doJSON(ctx, http.MethodGet, c.studioURL("/api/clip/"+url.PathEscape(clipID)), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get clip: %w", err)
	}
	return json.RawMessage(body), nil
}

// Concatenate stitches an extended clip and its ancestors into a full song.
func (c *SunoClient) Concatenate(ctx context.Context, clipID string) (*AudioInfo, error) {
	if clipID == "" {
		return nil, errors.New("clip id is required")
	}
	if err := c.session.RenewToken(ctx, false); err != nil {
		return nil, err
	}

	var out clip
	if _, err := c.api.doJSON(ctx, http.MethodPost, c.studioURL("/api/generate/concat/v2/"), map[string]string{"clip_id": clipID}, &out); err != nil {
		return nil, fmt.Errorf("concatenate: %w", err)
	}
	info := out.toAudioInfo()
	return &info, nil
}

func (c *SunoClient) studioURL(path string) string {
	return strings.TrimRight(c.cfg.Remote.StudioBaseURL, "/") + path
}
