// internal/common/auth/identity.go
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"membership-core/internal/common/errors"
	httpclient "membership-core/internal/common/http"
)

// Account is the identity service's view of a user: who they are and which
// billable entity their access hangs off.
type Account struct {
	UserID     string `json:"userId"`
	Email      string `json:"email"`
	Phone      string `json:"phone,omitempty"`
	EntityID   string `json:"entityId"`
	EntityKind string `json:"entityKind"`
	Billable   bool   `json:"billable"`
	Enabled    bool   `json:"enabled"`
}

// IdentityClient talks to the identity service that owns user records and
// primary credentials. This service never sees or stores passwords beyond
// forwarding them for verification.
type IdentityClient struct {
	baseURL string
	apiKey  string
	client  *httpclient.Client
}

func NewIdentityClient(baseURL, apiKey string, timeout time.Duration) *IdentityClient {
	return &IdentityClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		client:  httpclient.NewClient(timeout),
	}
}

// VerifyCredentials checks the password with the identity service and
// returns the account on success.
func (c *IdentityClient) VerifyCredentials(ctx context.Context, userID, password string) (*Account, error) {
	payload, err := json.Marshal(map[string]string{
		"userId":   userID,
		"password": password,
	})
	if err != nil {
		return nil, errors.NewCredentialInvalidError(err)
	}

	req, err := http.NewRequest(http.MethodPost,
		c.baseURL+"/v1/credentials/verify", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.DoWithContext(ctx, req)
	if err != nil {
		return nil, &errors.StandardError{
			Code:      "IDENTITY_SERVICE_UNAVAILABLE",
			Message:   "Identity service unreachable",
			Details:   err.Error(),
			Retryable: true,
		}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return nil, errors.NewCredentialInvalidError(fmt.Errorf("verification rejected with %d", resp.StatusCode))
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &errors.StandardError{
			Code:      "IDENTITY_SERVICE_ERROR",
			Message:   "Identity service error",
			Details:   fmt.Sprintf("status %d: %s", resp.StatusCode, string(body)),
			Retryable: resp.StatusCode >= 500,
		}
	}

	var account Account
	if err := json.NewDecoder(resp.Body).Decode(&account); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	if !account.Enabled {
		return nil, errors.NewCredentialInvalidError(fmt.Errorf("account disabled"))
	}
	return &account, nil
}
