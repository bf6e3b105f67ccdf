package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/stacklok/integration-sync/internal/config"
	"github.com/stacklok/integration-sync/internal/httpclient"
	"github.com/stacklok/integration-sync/internal/logging"
	"github.com/stacklok/integration-sync/internal/models"
)

// restAdapter holds the paging, lookup and normalization logic shared by the HTTP adapters
type restAdapter struct {
	name     string
	typ      string
	baseURL  string
	pageSize int
	timeout  time.Duration
	client   httpclient.Client
	limiter  *rate.Limiter
	catalog  catalog
	order    []models.EntityKind
}

func newRESTAdapter(src *config.SourceConfig, client httpclient.Client, cat catalog, order []models.EntityKind) *restAdapter {
	return &restAdapter{
		name:     src.Name,
		typ:      src.Type,
		baseURL:  strings.TrimSuffix(src.BaseURL, "/"),
		pageSize: src.GetPageSize(),
		timeout:  src.GetTimeout(),
		client:   client,
		limiter:  newLimiter(src),
		catalog:  cat,
		order:    order,
	}
}

// newLimiter builds the per-source limiter. A zero rate disables limiting.
func newLimiter(src *config.SourceConfig) *rate.Limiter {
	rps, burst := src.GetRateLimit()
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

func (a *restAdapter) Name() string { return a.name }

func (a *restAdapter) Type() string { return a.typ }

func (a *restAdapter) Kinds() []models.EntityKind { return a.catalog.kinds(a.order) }

// get waits on the rate limiter and performs a GET under the source timeout
func (a *restAdapter) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	endpoint := a.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	return a.client.Get(ctx, endpoint)
}

func (a *restAdapter) post(ctx context.Context, path string, body any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	return a.client.PostJSON(ctx, a.baseURL+path, body)
}

func (a *restAdapter) delete(ctx context.Context, path string) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if err := a.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return a.client.Delete(ctx, a.baseURL+path)
}

// Fetch returns one page of records of req.Kind
func (a *restAdapter) Fetch(ctx context.Context, req FetchRequest) (*Page, error) {
	spec, ok := a.catalog[req.Kind]
	if !ok {
		return nil, models.NewAdapterError(a.name, "fetch", fmt.Errorf("unsupported kind %q", req.Kind))
	}
	page, perPage := req.Page, req.PerPage
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = a.pageSize
	}

	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("per_page", strconv.Itoa(perPage))
	for _, key := range spec.serverFilters {
		if v, ok := req.Filters[key]; ok {
			for _, s := range filterValues(v) {
				query.Add(key, s)
			}
		}
	}

	body, err := a.get(ctx, spec.listPath, query)
	if err != nil {
		return nil, models.NewAdapterError(a.name, "fetch "+string(req.Kind), err)
	}

	var resp map[string]json.RawMessage
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, models.NewAdapterError(a.name, "fetch "+string(req.Kind), fmt.Errorf("malformed response: %w", err))
	}
	var items []json.RawMessage
	if raw, ok := resp[spec.listKey]; ok {
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, models.NewAdapterError(a.name, "fetch "+string(req.Kind),
				fmt.Errorf("malformed %s list: %w", spec.listKey, err))
		}
	}
	total := len(items)
	if raw, ok := resp["total"]; ok {
		_ = json.Unmarshal(raw, &total)
	}

	records := make([]RawRecord, 0, len(items))
	for _, item := range items {
		var m map[string]any
		// malformed items are passed through so Normalize reports them per record
		if json.Unmarshal(item, &m) == nil && !matchesFilters(m, req.Filters) {
			continue
		}
		records = append(records, RawRecord{Kind: req.Kind, Data: item})
	}

	logging.FromContext(ctx).V(1).Info("Fetched page",
		"source", a.name, "kind", req.Kind, "page", page, "records", len(records), "total", total)

	return &Page{
		Records: records,
		Page:    page,
		PerPage: perPage,
		Total:   total,
		HasMore: len(items) == perPage && page*perPage < total,
	}, nil
}

// FetchOne uses the single-record endpoint when the source has one and otherwise pages
// through the collection until the record is found
func (a *restAdapter) FetchOne(ctx context.Context, kind models.EntityKind, externalID string) (*RawRecord, error) {
	spec, ok := a.catalog[kind]
	if !ok {
		return nil, models.NewAdapterError(a.name, "fetch one", fmt.Errorf("unsupported kind %q", kind))
	}

	if spec.itemPath != "" {
		body, err := a.get(ctx, fmt.Sprintf(spec.itemPath, url.PathEscape(externalID)), nil)
		if err != nil {
			if httpclient.StatusCode(err) == 404 {
				return nil, models.NewNotFoundError(string(kind), externalID)
			}
			return nil, models.NewAdapterError(a.name, "fetch one "+string(kind), err)
		}
		return &RawRecord{Kind: kind, Data: body}, nil
	}

	for page := 1; ; page++ {
		p, err := a.Fetch(ctx, FetchRequest{Kind: kind, Page: page})
		if err != nil {
			return nil, err
		}
		for _, rec := range p.Records {
			var m map[string]any
			if json.Unmarshal(rec.Data, &m) == nil && spec.externalID(m) == externalID {
				return &rec, nil
			}
		}
		if !p.HasMore {
			return nil, models.NewNotFoundError(string(kind), externalID)
		}
	}
}

// Normalize converts a raw record into a NormalizedRecord
func (a *restAdapter) Normalize(raw RawRecord) (*models.NormalizedRecord, error) {
	return a.catalog.normalizeWith(a.name, raw)
}

func filterValues(v any) []string {
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, x := range t {
			out = append(out, fmt.Sprint(x))
		}
		return out
	case []string:
		return t
	default:
		return []string{fmt.Sprint(t)}
	}
}
