package titiler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/kailas-cloud/dashboard-api/internal/domain"
	"github.com/kailas-cloud/dashboard-api/internal/domain/mosaic"
)

type uploadRequest struct {
	Username  string            `json:"username"`
	Layername string            `json:"layername"`
	Mosaic    mosaic.Definition `json:"mosaic"`
	Overwrite bool              `json:"overwrite"`
}

type uploadResponse struct {
	Mosaic string `json:"mosaic"`
}

// Upload stores def under username.layername and returns the mosaic id the
// server assigned. Existing layers are overwritten, so a retried upload
// publishes the same mosaic.
func (c *Client) Upload(ctx context.Context, layername, username, token string, def mosaic.Definition) (string, error) {
	uri := c.root + "/mosaicjson/upload"

	id, err := c.upload(ctx, uri, layername, username, token, def)
	if err != nil {
		detail := fmt.Sprintf("Error creating mosaic on %s: %s", uri, err)
		return "", domain.NewDetailError(domain.ErrPublish, detail, err)
	}
	return id, nil
}

func (c *Client) upload(ctx context.Context, uri, layername, username, token string, def mosaic.Definition) (string, error) {
	target := uri + "?" + url.Values{"access_token": {token}}.Encode()

	data, err := c.postJSON(ctx, "upload", target, uploadRequest{
		Username:  username,
		Layername: layername,
		Mosaic:    def,
		Overwrite: true,
	})
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			return "", fmt.Errorf("Non-200 creating mosaic layer: %w", se) //nolint:staticcheck // message shown to clients
		}
		return "", err
	}

	var resp uploadResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if resp.Mosaic == "" {
		return "", errors.New("upload response has no mosaic id")
	}
	return resp.Mosaic, nil
}
