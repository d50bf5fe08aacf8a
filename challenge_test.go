package main

import (
	"context"
	"errors"
	"testing"

	http "github.com/bogdanfinn/fhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsChallengeRequired(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{"required", `{"required":true}`, true},
		{"not required", `{"required":false}`, false},
		{"missing field", `{}`, true},
		{"string field", `{"required":"false"}`, true},
		{"not json", `<html>oops</html>`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := newFakeRemote()
			remote.reply(http.MethodPost, "/api/c/check", http.StatusOK, tt.body)
			api, _ := newTestAPIClient(t, remote)
			d := NewChallengeDetector(api, "https://studio.test", nopLogger{})

			got, err := d.IsChallengeRequired(context.Background(), ChallengeTypeGeneration)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			call := remote.calls(http.MethodPost, "/api/c/check")[0]
			assert.JSONEq(t, `{"ctype":"generation"}`, string(call.Body))
		})
	}
}

func TestIsChallengeRequiredRemoteError(t *testing.T) {
	remote := newFakeRemote()
	remote.reply(http.MethodPost, "/api/c/check", http.StatusUnauthorized, `{"detail":"Unauthorized"}`)
	api, _ := newTestAPIClient(t, remote)
	d := NewChallengeDetector(api, "https://studio.test", nopLogger{})

	_, err := d.IsChallengeRequired(context.Background(), ChallengeTypeGeneration)
	var remoteErr *RemoteError
	require.True(t, errors.As(err, &remoteErr))
	assert.Equal(t, http.StatusUnauthorized, remoteErr.Status)
}
