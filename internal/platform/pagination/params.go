package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize defines the fallback number of items returned when the client omits pageSize.
	DefaultPageSize = 50
	// DefaultMaxPageSize caps the supported pageSize to prevent unbounded queries.
	DefaultMaxPageSize = 100

	maxFilterValueLength = 64
)

// Params bundles pagination and equality filters extracted from a request.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
	Filters   map[string][]string
}

// Filter returns the accepted values for field, or nil when the filter was not supplied.
func (p Params) Filter(field string) []string {
	if p.Filters == nil {
		return nil
	}
	return p.Filters[field]
}

// Options control how Parse behaves for a given handler.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
	// AllowedFilters maps a query parameter to its permitted values. An empty value list accepts
	// any value.
	AllowedFilters map[string][]string
}

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidFilter    = errors.New("pagination: invalid filter")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// FromRequest parses the supported query parameters from the supplied request.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse consumes the provided query values and returns the normalised Params representation.
func Parse(values url.Values, opts Options) (Params, error) {
	if values == nil {
		values = url.Values{}
	}

	pageSize, err := parsePageSize(values.Get("pageSize"), opts)
	if err != nil {
		return Params{}, err
	}
	params := Params{PageSize: pageSize}

	if rawToken := strings.TrimSpace(values.Get("pageToken")); rawToken != "" {
		cursor, err := DecodeToken(rawToken)
		if err != nil {
			return Params{}, err
		}
		params.PageToken = rawToken
		params.Cursor = cursor
	}

	filters, err := parseFilters(values, opts.AllowedFilters)
	if err != nil {
		return Params{}, err
	}
	params.Filters = filters
	return params, nil
}

func parsePageSize(raw string, opts Options) (int, error) {
	maxPageSize := opts.MaxPageSize
	if maxPageSize <= 0 {
		maxPageSize = DefaultMaxPageSize
	}
	defaultPageSize := opts.DefaultPageSize
	if defaultPageSize <= 0 {
		defaultPageSize = DefaultPageSize
	}
	if defaultPageSize > maxPageSize {
		defaultPageSize = maxPageSize
	}

	if strings.TrimSpace(raw) == "" {
		return defaultPageSize, nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
	}
	if value > maxPageSize {
		value = maxPageSize
	}
	return value, nil
}

func parseFilters(values url.Values, allowed map[string][]string) (map[string][]string, error) {
	if len(allowed) == 0 {
		return nil, nil
	}
	var out map[string][]string
	for field, permitted := range allowed {
		raw, ok := values[field]
		if !ok {
			continue
		}
		accepted := make([]string, 0, len(raw))
		seen := make(map[string]struct{}, len(raw))
		for _, entry := range raw {
			for _, part := range strings.Split(entry, ",") {
				value := sanitizeFilterValue(part)
				if value == "" {
					continue
				}
				if len(permitted) > 0 && !contains(permitted, value) {
					return nil, fmt.Errorf("%w: %s=%q is not supported", ErrInvalidFilter, field, value)
				}
				if _, dup := seen[value]; dup {
					continue
				}
				seen[value] = struct{}{}
				accepted = append(accepted, value)
			}
		}
		if len(accepted) == 0 {
			continue
		}
		if out == nil {
			out = make(map[string][]string)
		}
		out[field] = accepted
	}
	return out, nil
}

func sanitizeFilterValue(value string) string {
	value = strings.TrimSpace(value)
	value = strings.Trim(value, "\"'")
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.ToLower(strings.TrimSpace(value))
	if len(value) > maxFilterValueLength {
		value = value[:maxFilterValueLength]
	}
	return value
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if strings.EqualFold(v, target) {
			return true
		}
	}
	return false
}
