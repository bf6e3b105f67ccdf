package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/stacklok/integration-sync/internal/config"
	"github.com/stacklok/integration-sync/internal/httpclient"
	"github.com/stacklok/integration-sync/internal/models"
)

const xactaFilterSchema = `{
  "type": "object",
  "properties": {
    "kinds": {"type": "array", "items": {"enum": ["system", "control", "poam", "asset"]}, "uniqueItems": true},
    "family": {"type": "string", "minLength": 1},
    "status": {"type": "string", "minLength": 1},
    "system_id": {"type": "string", "minLength": 1}
  },
  "additionalProperties": false
}`

// XactaAdapter reads systems, controls, POA&Ms and system-asset links from a Xacta compatible API
type XactaAdapter struct {
	*restAdapter
}

var (
	_ Adapter          = (*XactaAdapter)(nil)
	_ WebhookRegistrar = (*XactaAdapter)(nil)
)

// NewXactaAdapter creates a Xacta adapter. With a token URL configured it authenticates
// with OAuth2 client credentials, otherwise with the static bearer token file when set.
func NewXactaAdapter(ctx context.Context, src *config.SourceConfig, opts ...httpclient.Option) (*XactaAdapter, error) {
	if creds := src.Credentials; creds != nil {
		switch {
		case creds.TokenURL != "":
			secret, err := config.ReadSecret(creds.ClientSecretFile, "")
			if err != nil {
				return nil, fmt.Errorf("xacta client secret: %w", err)
			}
			cc := &clientcredentials.Config{
				ClientID:     creds.ClientID,
				ClientSecret: secret,
				TokenURL:     creds.TokenURL,
				Scopes:       creds.Scopes,
			}
			opts = append([]httpclient.Option{httpclient.WithHTTPClient(cc.Client(ctx))}, opts...)
		case creds.TokenFile != "":
			token, err := config.ReadSecret(creds.TokenFile, "")
			if err != nil {
				return nil, fmt.Errorf("xacta token: %w", err)
			}
			opts = append(opts, httpclient.WithHeaders(func(h http.Header) {
				h.Set("Authorization", "Bearer "+token)
			}))
		}
	}
	client := httpclient.NewDefaultClient(append(opts, httpclient.WithTimeout(src.GetTimeout()))...)
	return newXactaAdapter(src, client), nil
}

func newXactaAdapter(src *config.SourceConfig, client httpclient.Client) *XactaAdapter {
	return &XactaAdapter{restAdapter: newRESTAdapter(src, client, xactaCatalog,
		[]models.EntityKind{models.KindSystem, models.KindControl, models.KindPOAM, models.KindAsset})}
}

// TestConnection lists a single system
func (a *XactaAdapter) TestConnection(ctx context.Context) error {
	if _, err := a.get(ctx, "/xacta/systems", url.Values{"page": {"1"}, "per_page": {"1"}}); err != nil {
		return models.NewAdapterError(a.name, "test connection", err)
	}
	return nil
}

// FilterSchema returns the JSON schema for Xacta job filters
func (*XactaAdapter) FilterSchema() string {
	return xactaFilterSchema
}

type xactaWebhookRequest struct {
	Name   string   `json:"name"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret,omitempty"`
}

// RegisterWebhook creates a push subscription at the source
func (a *XactaAdapter) RegisterWebhook(
	ctx context.Context, name, callbackURL string, eventTypes []string, secret string,
) (string, error) {
	body, err := a.post(ctx, "/xacta/webhooks", xactaWebhookRequest{
		Name: name, URL: callbackURL, Events: eventTypes, Secret: secret,
	})
	if err != nil {
		return "", models.NewAdapterError(a.name, "register webhook", err)
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.ID == "" {
		return "", models.NewAdapterError(a.name, "register webhook", fmt.Errorf("response carries no subscription id"))
	}
	return resp.ID, nil
}

// UnregisterWebhook deletes a push subscription at the source
func (a *XactaAdapter) UnregisterWebhook(ctx context.Context, externalID string) error {
	if err := a.delete(ctx, "/xacta/webhooks/"+url.PathEscape(externalID)); err != nil {
		return models.NewAdapterError(a.name, "unregister webhook", err)
	}
	return nil
}
