package main

import (
	"context"
	"fmt"

	http "github.com/bogdanfinn/fhttp"
	"github.com/tidwall/gjson"
)

// ChallengeTypeGeneration is the operation category checked before a submission.
const ChallengeTypeGeneration = "generation"

// ChallengeDetector asks the remote service whether a CAPTCHA stands in front
// of an operation category.
type ChallengeDetector struct {
	api     *APIClient
	baseURL string
	logger  Logger
}

func NewChallengeDetector(api *APIClient, baseURL string, logger Logger) *ChallengeDetector {
	return &ChallengeDetector{api: api, baseURL: baseURL, logger: logger}
}

// IsChallengeRequired treats any answer that is not a JSON boolean as
// "required", so a malformed response leads to the challenge path.
func (d *ChallengeDetector) IsChallengeRequired(ctx context.Context, challengeType string) (bool, error) {
	body, err := d.api.doJSON(ctx, http.MethodPost, d.baseURL+"/api/c/check", map[string]string{"ctype": challengeType}, nil)
	if err != nil {
		return false, fmt.Errorf("challenge check: %w", err)
	}

	required := gjson.GetBytes(body, "required")
	switch required.Type {
	case gjson.True:
		return true, nil
	case gjson.False:
		return false, nil
	}
	d.logger.Log("Unexpected challenge check response %q, assuming a challenge is required", remoteDetail(body))
	return true, nil
}
