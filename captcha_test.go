package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCoordinates(t *testing.T) {
	points, err := parseCoordinates("coordinates:x=39,y=59;x=252,y=72")
	require.NoError(t, err)
	assert.Equal(t, []Point{{X: 39, Y: 59}, {X: 252, Y: 72}}, points)

	points, err = parseCoordinates("OK|x=1.5,y=2;")
	require.NoError(t, err)
	assert.Equal(t, []Point{{X: 1.5, Y: 2}}, points)

	for _, bad := range []string{"", "coordinates:", "x=1", "x=a,y=2", "x1,y2"} {
		_, err := parseCoordinates(bad)
		assert.Error(t, err, bad)
	}
}

func TestClassifySolverError(t *testing.T) {
	assert.True(t, IsFatalError(classifySolverError(errors.New("ERROR_ZERO_BALANCE"))))
	assert.True(t, IsFatalError(classifySolverError(errors.New("api error: ERROR_WRONG_USER_KEY"))))
	assert.False(t, IsFatalError(classifySolverError(errors.New("ERROR_CAPTCHA_UNSOLVABLE"))))
}

func TestNewCoordinateSolver(t *testing.T) {
	_, err := NewCoordinateSolver(SolverConfig{Backend: "2captcha"})
	assert.Error(t, err)

	s, err := NewCoordinateSolver(SolverConfig{Backend: "2captcha", APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &twoCaptchaSolver{}, s)

	s, err = NewCoordinateSolver(SolverConfig{Backend: "2captcha-task", APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &twoCaptchaTaskSolver{}, s)
}

func TestLanguagePool(t *testing.T) {
	assert.Equal(t, "en", languagePool(""))
	assert.Equal(t, "en", languagePool("en-US"))
	assert.Equal(t, "rn", languagePool("ru"))
}

// fakeTwoCaptcha mimics createTask/getTaskResult/getBalance.
func fakeTwoCaptcha(t *testing.T, pendingPolls int32, createResponse string) *httptest.Server {
	t.Helper()
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/createTask", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ClientKey    string         `json:"clientKey"`
			LanguagePool string         `json:"languagePool"`
			Task         map[string]any `json:"task"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "key", body.ClientKey)
		assert.Equal(t, "CoordinatesTask", body.Task["type"])
		assert.Equal(t, "aW1n", body.Task["body"])
		assert.Equal(t, "en", body.LanguagePool)
		_, _ = w.Write([]byte(createResponse))
	})
	mux.HandleFunc("/getTaskResult", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) <= pendingPolls {
			_, _ = w.Write([]byte(`{"errorId":0,"status":"processing"}`))
			return
		}
		_, _ = w.Write([]byte(`{"errorId":0,"status":"ready","solution":{"coordinates":[{"x":10,"y":20},{"x":30.5,"y":40}]}}`))
	})
	mux.HandleFunc("/getBalance", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errorId":0,"balance":12.34}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestTaskSolver(baseURL string) *twoCaptchaTaskSolver {
	s := newTwoCaptchaTaskSolver("key")
	s.baseURL = baseURL
	s.pollInterval = time.Millisecond
	s.timeout = 5 * time.Second
	return s
}

func TestTaskSolverCoordinates(t *testing.T) {
	srv := fakeTwoCaptcha(t, 2, `{"errorId":0,"taskId":77}`)
	s := newTestTaskSolver(srv.URL)

	points, err := s.Coordinates(context.Background(), "aW1n", "en")
	require.NoError(t, err)
	assert.Equal(t, []Point{{X: 10, Y: 20}, {X: 30.5, Y: 40}}, points)
}

func TestTaskSolverFatalError(t *testing.T) {
	srv := fakeTwoCaptcha(t, 0, `{"errorId":10,"errorCode":"ERROR_ZERO_BALANCE","errorDescription":"no funds"}`)
	s := newTestTaskSolver(srv.URL)

	_, err := s.Coordinates(context.Background(), "aW1n", "en")
	require.Error(t, err)
	assert.True(t, IsFatalError(err))
	assert.Contains(t, err.Error(), "no funds")
}

func TestTaskSolverBalance(t *testing.T) {
	srv := fakeTwoCaptcha(t, 0, `{}`)
	s := newTestTaskSolver(srv.URL)

	balance, err := s.Balance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12.34, balance)
}

func TestTaskSolverTimeout(t *testing.T) {
	srv := fakeTwoCaptcha(t, 1<<30, `{"errorId":0,"taskId":1}`)
	s := newTestTaskSolver(srv.URL)
	s.timeout = 30 * time.Millisecond

	start := time.Now()
	_, err := s.Coordinates(context.Background(), "aW1n", "en")
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
