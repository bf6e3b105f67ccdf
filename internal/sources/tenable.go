package sources

import (
	"context"
	"fmt"
	"net/http"

	"github.com/stacklok/integration-sync/internal/config"
	"github.com/stacklok/integration-sync/internal/httpclient"
	"github.com/stacklok/integration-sync/internal/models"
)

const tenableFilterSchema = `{
  "type": "object",
  "properties": {
    "kinds": {"type": "array", "items": {"enum": ["asset", "vulnerability"]}, "uniqueItems": true},
    "severity": {"type": "array", "items": {"enum": ["critical", "high", "medium", "low", "info"]}},
    "state": {"type": "array", "items": {"enum": ["open", "reopened", "fixed"]}}
  },
  "additionalProperties": false
}`

// TenableAdapter reads assets and vulnerabilities from a Tenable.io compatible API
type TenableAdapter struct {
	*restAdapter
}

var _ Adapter = (*TenableAdapter)(nil)

// NewTenableAdapter creates a Tenable adapter. API keys are read from the configured files.
func NewTenableAdapter(src *config.SourceConfig, opts ...httpclient.Option) (*TenableAdapter, error) {
	if creds := src.Credentials; creds != nil && (creds.AccessKeyFile != "" || creds.SecretKeyFile != "") {
		accessKey, err := config.ReadSecret(creds.AccessKeyFile, "")
		if err != nil {
			return nil, fmt.Errorf("tenable access key: %w", err)
		}
		secretKey, err := config.ReadSecret(creds.SecretKeyFile, "")
		if err != nil {
			return nil, fmt.Errorf("tenable secret key: %w", err)
		}
		header := fmt.Sprintf("accessKey=%s;secretKey=%s", accessKey, secretKey)
		opts = append(opts, httpclient.WithHeaders(func(h http.Header) {
			h.Set("X-ApiKeys", header)
		}))
	}
	client := httpclient.NewDefaultClient(append([]httpclient.Option{httpclient.WithTimeout(src.GetTimeout())}, opts...)...)
	return newTenableAdapter(src, client), nil
}

func newTenableAdapter(src *config.SourceConfig, client httpclient.Client) *TenableAdapter {
	return &TenableAdapter{restAdapter: newRESTAdapter(src, client, tenableCatalog,
		[]models.EntityKind{models.KindAsset, models.KindVulnerability})}
}

// TestConnection calls the session endpoint, which requires valid API keys
func (a *TenableAdapter) TestConnection(ctx context.Context) error {
	if _, err := a.get(ctx, "/session", nil); err != nil {
		return models.NewAdapterError(a.name, "test connection", err)
	}
	return nil
}

// FilterSchema returns the JSON schema for Tenable job filters
func (*TenableAdapter) FilterSchema() string {
	return tenableFilterSchema
}
