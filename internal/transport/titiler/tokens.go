package titiler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kailas-cloud/dashboard-api/internal/domain"
)

// tokenScopes are the scopes requested for publishing.
var tokenScopes = []string{"mosaic:read", "mosaic:create"}

type tokenRequest struct {
	Username string   `json:"username"`
	Scope    []string `json:"scope"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// CreateToken asks the tile server for an access token scoped to read and
// create mosaics for username.
func (c *Client) CreateToken(ctx context.Context, username string) (string, error) {
	uri := c.root + "/tokens/create"

	token, err := c.createToken(ctx, uri, username)
	if err != nil {
		detail := fmt.Sprintf("Error retrieving token from %s: %s", uri, err)
		return "", domain.NewDetailError(domain.ErrTokenAcquisition, detail, err)
	}
	return token, nil
}

func (c *Client) createToken(ctx context.Context, uri, username string) (string, error) {
	data, err := c.postJSON(ctx, "token", uri, tokenRequest{Username: username, Scope: tokenScopes})
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			return "", fmt.Errorf("Non-200 retrieving token : %w", se) //nolint:staticcheck // message shown to clients
		}
		return "", err
	}

	var resp tokenResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if resp.Token == "" {
		return "", errors.New("token response has no token")
	}
	return resp.Token, nil
}
