package ods

import (
	"net/url"
	"strconv"

	"github.com/mkrantz/ods-api-client/pkg/paginate"
	"github.com/rs/zerolog/log"
)

// Query parameter keys the pagination engine owns.
const (
	paramLimit            = "limit"
	paramOffset           = "offset"
	paramMinChangeVersion = "minChangeVersion"
	paramMaxChangeVersion = "maxChangeVersion"
)

// Params holds an endpoint's default query parameters. Keys may be supplied
// in snake_case or camelCase; they are normalized to camelCase on creation.
// Params are never mutated after a descriptor is built — windows are merged
// into copies.
type Params map[string]string

// NewParams normalizes a raw parameter map. Empty values are dropped. When
// two raw keys normalize to the same name, the last one read wins.
func NewParams(raw map[string]string) Params {
	params := make(Params, len(raw))
	for key, val := range raw {
		if val == "" {
			continue
		}
		normalized := snakeToCamel(key)
		if _, exists := params[normalized]; exists {
			log.Warn().Str("key", normalized).Msg("Duplicate parameter key; the last will be used")
		}
		params[normalized] = val
	}
	return params
}

// Clone returns an independent copy.
func (p Params) Clone() Params {
	copied := make(Params, len(p))
	for key, val := range p {
		copied[key] = val
	}
	return copied
}

// ChangeVersionBounds extracts the change-version range, reporting whether
// both bounds are present and numeric.
func (p Params) ChangeVersionBounds() (min, max int64, ok bool) {
	minRaw, hasMin := p[paramMinChangeVersion]
	maxRaw, hasMax := p[paramMaxChangeVersion]
	if !hasMin || !hasMax {
		return 0, 0, false
	}

	min, errMin := strconv.ParseInt(minRaw, 10, 64)
	max, errMax := strconv.ParseInt(maxRaw, 10, 64)
	if errMin != nil || errMax != nil {
		return 0, 0, false
	}
	return min, max, true
}

// Values converts the params to query values.
func (p Params) Values() url.Values {
	values := make(url.Values, len(p))
	for key, val := range p {
		values.Set(key, val)
	}
	return values
}

// windowValues merges a pagination window into the params. The window's
// limit and offset override any explicit values in the base.
func (p Params) windowValues(w paginate.Window) url.Values {
	values := p.Values()
	values.Set(paramLimit, strconv.Itoa(w.Limit))
	values.Set(paramOffset, strconv.FormatInt(w.Offset, 10))

	if w.Version != nil {
		values.Set(paramMinChangeVersion, strconv.FormatInt(w.Version.Min, 10))
		values.Set(paramMaxChangeVersion, strconv.FormatInt(w.Version.Max, 10))
	}
	return values
}

// versionValues restricts the params to a change-version window without
// setting pagination keys. Used by total-count probes.
func (p Params) versionValues(version *paginate.VersionWindow) url.Values {
	values := p.Values()
	if version != nil {
		values.Set(paramMinChangeVersion, strconv.FormatInt(version.Min, 10))
		values.Set(paramMaxChangeVersion, strconv.FormatInt(version.Max, 10))
	}
	return values
}
