package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	api2captcha "github.com/2captcha/2captcha-go"
)

// CoordinateSolver turns a challenge snapshot into the points to click.
type CoordinateSolver interface {
	Coordinates(ctx context.Context, imageBase64, lang string) ([]Point, error)
}

// balanceChecker is implemented by solvers that can report account funds.
type balanceChecker interface {
	Balance(ctx context.Context) (float64, error)
}

// NewCoordinateSolver picks the backend named in the config.
func NewCoordinateSolver(cfg SolverConfig) (CoordinateSolver, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("no solver key configured, set TWOCAPTCHA_KEY")
	}
	switch cfg.Backend {
	case "2captcha-task":
		return newTwoCaptchaTaskSolver(cfg.APIKey), nil
	default:
		return newTwoCaptchaSolver(cfg.APIKey), nil
	}
}

// =============================================================================
// 2Captcha SDK
// =============================================================================

type twoCaptchaSolver struct {
	client *api2captcha.Client
}

func newTwoCaptchaSolver(apiKey string) *twoCaptchaSolver {
	client := api2captcha.NewClient(apiKey)
	client.DefaultTimeout = 120 // seconds
	client.PollingInterval = 5  // seconds
	return &twoCaptchaSolver{client: client}
}

type solveResult struct {
	code string
	err  error
}

func (s *twoCaptchaSolver) Coordinates(ctx context.Context, imageBase64, lang string) ([]Point, error) {
	captcha := api2captcha.Coordinates{
		Base64: imageBase64,
		Lang:   lang,
	}
	req := captcha.ToRequest()

	// The SDK blocks without a context; abandon the call when ctx ends.
	done := make(chan solveResult, 1)
	go func() {
		code, _, err := s.client.Solve(req)
		done <- solveResult{code: code, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			return nil, classifySolverError(res.err)
		}
		return parseCoordinates(res.code)
	}
}

// Balance reports the remaining account balance.
func (s *twoCaptchaSolver) Balance(ctx context.Context) (float64, error) {
	balance, err := s.client.GetBalance()
	if err != nil {
		return 0, classifySolverError(err)
	}
	return balance, nil
}

func classifySolverError(err error) error {
	for _, code := range fatalCaptchaCodes {
		if strings.Contains(err.Error(), code) {
			return NewFatalError(err)
		}
	}
	return err
}

// parseCoordinates reads "coordinates:x=39,y=59;x=252,y=72" (the "coordinates:"
// prefix is optional).
func parseCoordinates(code string) ([]Point, error) {
	code = strings.TrimSpace(code)
	code = strings.TrimPrefix(code, "OK|")
	code = strings.TrimPrefix(code, "coordinates:")
	if code == "" {
		return nil, errors.New("solver returned no coordinates")
	}

	var points []Point
	for _, pair := range strings.Split(code, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		var p Point
		var haveX, haveY bool
		for _, field := range strings.Split(pair, ",") {
			key, value, ok := strings.Cut(strings.TrimSpace(field), "=")
			if !ok {
				return nil, fmt.Errorf("malformed coordinate %q", pair)
			}
			n, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, fmt.Errorf("malformed coordinate %q: %w", pair, err)
			}
			switch key {
			case "x":
				p.X, haveX = n, true
			case "y":
				p.Y, haveY = n, true
			}
		}
		if !haveX || !haveY {
			return nil, fmt.Errorf("malformed coordinate %q", pair)
		}
		points = append(points, p)
	}
	if len(points) == 0 {
		return nil, errors.New("solver returned no coordinates")
	}
	return points, nil
}

// =============================================================================
// 2Captcha task API
// =============================================================================

type TwoCaptchaResponse struct {
	ErrorId          int             `json:"errorId"`
	ErrorCode        string          `json:"errorCode"`
	ErrorDescription string          `json:"errorDescription"`
	TaskId           int64           `json:"taskId"`
	Status           string          `json:"status"`
	Solution         json.RawMessage `json:"solution"`
	Balance          float64         `json:"balance"`
}

type twoCaptchaTaskSolver struct {
	apiKey       string
	baseURL      string
	pollInterval time.Duration
	timeout      time.Duration
}

func newTwoCaptchaTaskSolver(apiKey string) *twoCaptchaTaskSolver {
	return &twoCaptchaTaskSolver{
		apiKey:       apiKey,
		baseURL:      "https://api.2captcha.com",
		pollInterval: 5 * time.Second, // 2captcha recommends 5s polling
		timeout:      180 * time.Second,
	}
}

func (s *twoCaptchaTaskSolver) Coordinates(ctx context.Context, imageBase64, lang string) ([]Point, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.createTask(ctx, map[string]any{
		"type":    "CoordinatesTask",
		"body":    imageBase64,
		"comment": "click the objects named in the instructions",
	}, languagePool(lang))
	if err != nil {
		return nil, err
	}
	if res.ErrorId != 0 {
		return nil, handleTwoCaptchaError(res.ErrorCode, res.ErrorDescription)
	}

	res, err = s.pollResult(ctx, res.TaskId)
	if err != nil {
		return nil, err
	}

	var solution struct {
		Coordinates []Point `json:"coordinates"`
	}
	if err := json.Unmarshal(res.Solution, &solution); err != nil {
		return nil, fmt.Errorf("2captcha solution: %w", err)
	}
	if len(solution.Coordinates) == 0 {
		return nil, errors.New("2captcha solver error: no coordinates in response")
	}
	return solution.Coordinates, nil
}

func (s *twoCaptchaTaskSolver) createTask(ctx context.Context, taskData map[string]any, pool string) (*TwoCaptchaResponse, error) {
	return TwoCaptchaRequest(ctx, s.baseURL+"/createTask", map[string]any{
		"clientKey":    s.apiKey,
		"task":         taskData,
		"languagePool": pool,
	})
}

func (s *twoCaptchaTaskSolver) pollResult(ctx context.Context, taskId int64) (*TwoCaptchaResponse, error) {
	uri := s.baseURL + "/getTaskResult"
	for {
		select {
		case <-ctx.Done():
			return nil, errors.New("solve timeout")
		case <-time.After(s.pollInterval):
		}

		res, err := TwoCaptchaRequest(ctx, uri, map[string]any{
			"clientKey": s.apiKey,
			"taskId":    taskId,
		})
		if err != nil {
			return nil, err
		}
		if res.ErrorId != 0 {
			return nil, handleTwoCaptchaError(res.ErrorCode, res.ErrorDescription)
		}
		if res.Status == "ready" {
			return res, nil
		}
	}
}

func (s *twoCaptchaTaskSolver) Balance(ctx context.Context) (float64, error) {
	res, err := TwoCaptchaRequest(ctx, s.baseURL+"/getBalance", map[string]any{
		"clientKey": s.apiKey,
	})
	if err != nil {
		return 0, err
	}
	if res.ErrorId != 0 {
		return 0, handleTwoCaptchaError(res.ErrorCode, res.ErrorDescription)
	}
	return res.Balance, nil
}

func handleTwoCaptchaError(code, description string) error {
	err := fmt.Errorf("2captcha error: %s - %s", code, description)
	if isFatalCaptchaError(code) {
		return NewFatalError(err)
	}
	return err
}

func TwoCaptchaRequest(ctx context.Context, uri string, payload any) (*TwoCaptchaResponse, error) {
	return doJSONRequest[TwoCaptchaResponse](ctx, uri, payload, 3)
}

// languagePool maps a browser locale onto 2Captcha's worker pools.
func languagePool(locale string) string {
	if locale == "" || strings.HasPrefix(strings.ToLower(locale), "en") {
		return "en"
	}
	return "rn"
}

// =============================================================================
// Helpers
// =============================================================================

var fatalCaptchaCodes = []string{
	"ERROR_ZERO_BALANCE",
	"ERROR_KEY_DOES_NOT_EXIST",
	"ERROR_WRONG_USER_KEY",
	"ERROR_IP_NOT_ALLOWED",
	"ERROR_IP_BANNED",
}

func isFatalCaptchaError(errorCode string) bool {
	return slices.Contains(fatalCaptchaCodes, errorCode)
}

func doJSONRequest[T any](ctx context.Context, uri string, payload any, maxRetries int) (*T, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: 30 * time.Second}
	var lastErr error

	for attempt := range maxRetries {
		if attempt > 0 {
			backoff := time.Duration(1<<attempt) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewReader(payloadBytes))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		responseData, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		result := new(T)
		if err := json.Unmarshal(responseData, result); err != nil {
			return nil, err
		}
		return result, nil
	}

	return nil, fmt.Errorf("API request failed after %d retries: %w", maxRetries, lastErr)
}
