package ods

// EndpointMeta describes a single endpoint as advertised by the API's
// OpenAPI documents.
type EndpointMeta struct {
	// Description is the human-readable endpoint description.
	Description string

	// HasDeletes reports whether the endpoint exposes a deleted-records
	// sub-collection.
	HasDeletes bool

	// Fields lists the payload field names.
	Fields []string

	// RequiredFields lists the subset of Fields the API requires on
	// submission.
	RequiredFields []string
}

// MetadataProvider supplies endpoint metadata, usually parsed from the ODS
// OpenAPI documents. Metadata is descriptive only; retrieval and mutation
// never depend on it.
type MetadataProvider interface {
	// EndpointMeta returns metadata for the named endpoint. The second
	// return value is false when the endpoint is unknown.
	EndpointMeta(namespace, name string) (EndpointMeta, bool)
}
