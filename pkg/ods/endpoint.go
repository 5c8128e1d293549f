package ods

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mkrantz/ods-api-client/pkg/client"
	"github.com/mkrantz/ods-api-client/pkg/paginate"
)

// Variant tags the kind of collection an endpoint descriptor targets.
// Capabilities dispatch on the tag rather than on type hierarchy.
type Variant int

const (
	// VariantResource is a primary data collection.
	VariantResource Variant = iota

	// VariantDescriptor is an enumeration collection. Descriptors behave
	// like resources but live in a separate metadata document.
	VariantDescriptor

	// VariantComposite is a server-side join. Composites support neither
	// change versions nor mutation.
	VariantComposite
)

// String implements fmt.Stringer.
func (v Variant) String() string {
	switch v {
	case VariantResource:
		return "resource"
	case VariantDescriptor:
		return "descriptor"
	case VariantComposite:
		return "composite"
	default:
		return "unknown"
	}
}

// Endpoint is the immutable identity of one target collection: namespace,
// name, variant, sub-variant flags, and default query parameters. A request
// needing different parameters creates a new descriptor via WithParams.
type Endpoint struct {
	client     *Client
	namespace  string
	name       string
	variant    Variant
	deletes    bool
	keyChanges bool

	// Composite-only routing.
	composite  string
	filterType string
	filterID   string

	params Params
}

// Namespace returns the endpoint's namespace.
func (e *Endpoint) Namespace() string { return e.namespace }

// Name returns the endpoint's resource name.
func (e *Endpoint) Name() string { return e.name }

// Variant returns the endpoint's variant tag.
func (e *Endpoint) Variant() Variant { return e.variant }

// Params returns a copy of the endpoint's default parameters.
func (e *Endpoint) Params() Params { return e.params.Clone() }

// String renders the descriptor for logs.
func (e *Endpoint) String() string {
	suffix := ""
	if e.deletes {
		suffix = " deletes"
	} else if e.keyChanges {
		suffix = " keyChanges"
	}
	return fmt.Sprintf("<%s%s [%s/%s]>", e.variant, suffix, e.namespace, e.name)
}

// WithParams returns a new descriptor with different default parameters.
func (e *Endpoint) WithParams(raw map[string]string) *Endpoint {
	copied := *e
	copied.params = NewParams(raw)
	return &copied
}

// SupportsChangeVersion reports whether the endpoint can be scanned with
// change-version stepping. Composites cannot.
func (e *Endpoint) SupportsChangeVersion() bool {
	return e.variant != VariantComposite
}

// SupportsMutation reports whether rows can be posted, put, or deleted.
// Composites and the deletes/keyChanges sub-variants are read-only.
func (e *Endpoint) SupportsMutation() bool {
	return e.variant != VariantComposite && !e.deletes && !e.keyChanges
}

// URL builds the endpoint's collection URL.
func (e *Endpoint) URL() string {
	if e.variant == VariantComposite {
		if e.filterType != "" && e.filterID != "" {
			return urlJoin(e.client.baseURL, "composites/v1",
				e.namespace, e.composite, e.filterType, e.filterID, e.name)
		}
		return urlJoin(e.client.baseURL, "composites/v1",
			e.namespace, e.composite, titleCase(e.name))
	}

	suffix := ""
	if e.deletes {
		suffix = "deletes"
	} else if e.keyChanges {
		suffix = "keyChanges"
	}
	return urlJoin(e.client.baseURL, "data/v3", e.namespace, e.name, suffix)
}

// idURL builds the URL of one record.
func (e *Endpoint) idURL(id int64) string {
	return fmt.Sprintf("%s/%d", e.URL(), id)
}

// meta returns the endpoint's metadata when a provider is configured.
func (e *Endpoint) meta() (EndpointMeta, bool) {
	if e.client.metadata == nil {
		return EndpointMeta{}, false
	}
	return e.client.metadata.EndpointMeta(e.namespace, e.name)
}

// Description returns the endpoint's documented description, when known.
func (e *Endpoint) Description() string {
	m, ok := e.meta()
	if !ok {
		return ""
	}
	return m.Description
}

// HasDeletes reports whether the ODS exposes a deletes path for this
// endpoint, when metadata is available.
func (e *Endpoint) HasDeletes() bool {
	m, ok := e.meta()
	return ok && m.HasDeletes
}

// Fields returns the endpoint's field list, when metadata is available.
func (e *Endpoint) Fields() []string {
	m, _ := e.meta()
	return m.Fields
}

// RequiredFields returns the endpoint's required field list, when metadata
// is available.
func (e *Endpoint) RequiredFields() []string {
	m, _ := e.meta()
	return m.RequiredFields
}

// fetcher binds an endpoint and a retry policy into the bounded-GET
// capability a scan runs against.
type fetcher struct {
	endpoint *Endpoint
	policy   *client.RetryPolicy
}

// GetPage implements paginate.Fetcher.
func (f fetcher) GetPage(ctx context.Context, w paginate.Window) ([]json.RawMessage, error) {
	resp, err := f.endpoint.client.session.Get(ctx, f.policy, f.endpoint.URL(), f.endpoint.params.windowValues(w))
	if err != nil {
		return nil, err
	}
	return resp.Rows()
}

// TotalCount implements paginate.Fetcher.
func (f fetcher) TotalCount(ctx context.Context, version *paginate.VersionWindow) (int64, error) {
	return f.endpoint.client.session.GetTotalCount(ctx, f.policy, f.endpoint.URL(), f.endpoint.params.versionValues(version))
}
