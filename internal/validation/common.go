package validation

import (
	"regexp"
	"strings"
)

// Pagination limits.
const (
	MaxPageSize      = 100
	maxCorrelationID = 128
)

func float(f float64) *float64 { return &f }
func length(n int) *int        { return &n }

// Pagination declares the page and limit query parameters.
func Pagination() Schema {
	return Schema{Query: Part{
		"page":  {Type: TypeInteger, Min: float(1)},
		"limit": {Type: TypeInteger, Min: float(1), Max: float(MaxPageSize)},
	}}
}

// IDParam declares a required UUID route parameter.
func IDParam(name string) Schema {
	return Schema{Params: Part{
		name: {Type: TypeString, Required: true, Format: FormatUUID},
	}}
}

// CorrelationIDHeader declares the optional correlation id header.
func CorrelationIDHeader() Schema {
	return Schema{Headers: Part{
		"x-correlation-id": {
			Type:      TypeString,
			MaxLength: length(maxCorrelationID),
			Pattern:   `^[A-Za-z0-9._:-]+$`,
		},
	}}
}

// BearerAuthHeader declares a required bearer Authorization header.
func BearerAuthHeader() Schema {
	return Schema{Headers: Part{
		"authorization": {
			Type:     TypeString,
			Required: true,
			Pattern:  `^Bearer [A-Za-z0-9\-._~+/]+=*$`,
		},
	}}
}

// ContentTypeHeader declares a Content-Type header equal to ct, ignoring
// case and media type parameters.
func ContentTypeHeader(ct string) Schema {
	return Schema{Headers: Part{
		"content-type": {
			Type:     TypeString,
			Required: true,
			Pattern:  `(?i)^` + regexp.QuoteMeta(strings.TrimSpace(ct)) + `\s*(;.*)?$`,
		},
	}}
}
