// Package ods is the user-facing client for a versioned, paginated
// educational-data REST API. It turns logical requests — all rows of a
// resource matching filters, or a collection of payload rows to submit —
// into bounded, resumable, failure-tolerant call sequences.
package ods

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mkrantz/ods-api-client/pkg/client"
	"github.com/mkrantz/ods-api-client/pkg/tokencache"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds the client configuration.
type Config struct {
	// BaseURL is the root URL of the API, without components like data/v3.
	BaseURL string

	// ClientKey and ClientSecret authenticate against the ODS.
	ClientKey    string
	ClientSecret string

	// Timeout applies per HTTP call.
	Timeout time.Duration

	// TokenCache shares OAuth tokens across processes. Optional.
	TokenCache tokencache.Store

	// Retry is the default retry configuration; operations may override
	// it per call.
	Retry client.RetryConfig
}

// DefaultConfig returns a safe default client configuration.
func DefaultConfig(baseURL, clientKey, clientSecret string) Config {
	return Config{
		BaseURL:      baseURL,
		ClientKey:    clientKey,
		ClientSecret: clientSecret,
		Timeout:      60 * time.Second,
		Retry:        client.DefaultRetryConfig(),
	}
}

// Client initializes endpoint descriptors and owns the shared session.
type Client struct {
	baseURL  string
	session  *client.Session
	metadata MetadataProvider
	logger   zerolog.Logger
}

// New creates a new ODS client. The client does not authenticate until
// Connect or the first call.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL is required", client.ErrConfiguration)
	}

	sessionCfg := client.Config{
		OAuthURL:     urlJoin(cfg.BaseURL, "oauth/token"),
		ClientKey:    cfg.ClientKey,
		ClientSecret: cfg.ClientSecret,
		Timeout:      cfg.Timeout,
		TokenCache:   cfg.TokenCache,
		Retry:        cfg.Retry,
	}
	session, err := client.New(sessionCfg)
	if err != nil {
		return nil, err
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		session: session,
		logger:  log.With().Str("component", "ods-client").Logger(),
	}, nil
}

// Connect authenticates eagerly so credential problems surface before the
// first data call.
func (c *Client) Connect(ctx context.Context) error {
	return c.session.Connect(ctx)
}

// Session exposes the underlying HTTP-call capability.
func (c *Client) Session() *client.Session {
	return c.session
}

// SetMetadataProvider installs an endpoint metadata source. Metadata is
// consumed only for validation and descriptive fields, never for pagination
// control flow.
func (c *Client) SetMetadataProvider(provider MetadataProvider) {
	c.metadata = provider
}

// ResourceOptions configures a resource descriptor.
type ResourceOptions struct {
	// Namespace defaults to "ed-fi".
	Namespace string

	// Params are the endpoint's default query parameters; keys accept
	// snake_case or camelCase.
	Params map[string]string

	// Deletes targets the resource's deleted-records sub-collection.
	Deletes bool

	// KeyChanges targets the resource's key-change sub-collection.
	KeyChanges bool
}

// Resource returns a descriptor for a primary data collection.
func (c *Client) Resource(name string, opts ResourceOptions) *Endpoint {
	e := &Endpoint{
		client:     c,
		namespace:  defaultNamespace(opts.Namespace),
		name:       snakeToCamel(name),
		variant:    VariantResource,
		deletes:    opts.Deletes,
		keyChanges: opts.KeyChanges,
		params:     NewParams(opts.Params),
	}
	if opts.Deletes && c.metadata != nil {
		if meta, ok := c.metadata.EndpointMeta(e.namespace, e.name); ok && !meta.HasDeletes {
			c.logger.Warn().
				Str("endpoint", e.String()).
				Msg("Deletes requested for an endpoint without a deletes collection")
		}
	}
	return e
}

// DescriptorOptions configures a descriptor-collection descriptor.
type DescriptorOptions struct {
	Namespace string
	Params    map[string]string
}

// Descriptor returns a descriptor for an enumeration collection. Descriptors
// are accessed like resources, but callers may not know that, so a separate
// initializer is provided.
func (c *Client) Descriptor(name string, opts DescriptorOptions) *Endpoint {
	return &Endpoint{
		client:    c,
		namespace: defaultNamespace(opts.Namespace),
		name:      snakeToCamel(name),
		variant:   VariantDescriptor,
		params:    NewParams(opts.Params),
	}
}

// CompositeOptions configures a composite descriptor.
type CompositeOptions struct {
	Namespace string
	Params    map[string]string

	// Composite is the composite category. Defaults to "enrollment".
	Composite string

	// FilterType and FilterID restrict the composite to one parent
	// record. Both must be set, or neither.
	FilterType string
	FilterID   string
}

// Composite returns a descriptor for a server-side join collection.
func (c *Client) Composite(name string, opts CompositeOptions) (*Endpoint, error) {
	if (opts.FilterType == "") != (opts.FilterID == "") {
		return nil, fmt.Errorf("%w: filter type and filter id must both be specified if a filter is being applied", client.ErrConfiguration)
	}

	composite := opts.Composite
	if composite == "" {
		composite = "enrollment"
	}

	return &Endpoint{
		client:     c,
		namespace:  defaultNamespace(opts.Namespace),
		name:       snakeToCamel(name),
		variant:    VariantComposite,
		composite:  composite,
		filterType: opts.FilterType,
		filterID:   opts.FilterID,
		params:     NewParams(opts.Params),
	}, nil
}

// NewestChangeVersion returns the newest change version marked in the ODS.
func (c *Client) NewestChangeVersion(ctx context.Context) (int64, error) {
	url := urlJoin(c.baseURL, "changeQueries/v1", "availableChangeVersions")

	resp, err := c.session.Get(ctx, nil, url, nil)
	if err != nil {
		return 0, fmt.Errorf("change version check: %w", err)
	}

	var payload map[string]json.Number
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return 0, fmt.Errorf("change version check: parse response: %w", err)
	}

	// Newer ODS releases lower-case the first letter of the key.
	for key, value := range payload {
		if strings.EqualFold(key, "newestChangeVersion") {
			return value.Int64()
		}
	}
	return 0, fmt.Errorf("change version check: newestChangeVersion missing from response")
}

func defaultNamespace(namespace string) string {
	if namespace == "" {
		return "ed-fi"
	}
	return namespace
}
