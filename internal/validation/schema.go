// Package validation checks the shape of a request against a declared
// schema: body, query, route params and headers, plus file uploads.
//
// Each part is validated exhaustively and violations are aggregated into
// a single apierror.ValidationFailed whose details map the part name to a
// joined message. Unknown fields are stripped from body and query,
// allowed in headers, and rejected in params.
package validation

import (
	"fmt"
	"net/http"
	"regexp"
	"slices"
	"strings"
)

// PartName identifies a request part.
type PartName string

// Request parts, in the order they are reported.
const (
	PartBody    PartName = "body"
	PartQuery   PartName = "query"
	PartParams  PartName = "params"
	PartHeaders PartName = "headers"
	PartFiles   PartName = "files"
)

// FieldType is the type a field value is coerced to.
type FieldType string

// Field types.
const (
	TypeString  FieldType = "string"
	TypeInteger FieldType = "integer"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
)

// Format is a named string format.
type Format string

// String formats.
const (
	FormatUUID     Format = "uuid"
	FormatEmail    Format = "email"
	FormatURI      Format = "uri"
	FormatDateTime Format = "datetime"
)

// Rule constrains a single field. The zero Rule accepts any optional string.
type Rule struct {
	Type      FieldType `yaml:"type,omitempty"`
	Required  bool      `yaml:"required,omitempty"`
	Format    Format    `yaml:"format,omitempty"`
	Min       *float64  `yaml:"min,omitempty"`
	Max       *float64  `yaml:"max,omitempty"`
	MinLength *int      `yaml:"minLength,omitempty"`
	MaxLength *int      `yaml:"maxLength,omitempty"`
	Enum      []string  `yaml:"enum,omitempty"`
	Pattern   string    `yaml:"pattern,omitempty"`
}

// Part maps field names to rules.
type Part map[string]Rule

// Schema is the declared shape of a route's requests. A nil part is not
// validated at all; an empty, non-nil part accepts no fields.
type Schema struct {
	Body    Part       `yaml:"body,omitempty"`
	Query   Part       `yaml:"query,omitempty"`
	Params  Part       `yaml:"params,omitempty"`
	Headers Part       `yaml:"headers,omitempty"`
	Files   []FileRule `yaml:"files,omitempty"`
}

// Merge composes schemas. Later schemas win on field conflicts; file
// rules are concatenated.
func Merge(schemas ...Schema) Schema {
	var out Schema
	for _, s := range schemas {
		out.Body = mergePart(out.Body, s.Body)
		out.Query = mergePart(out.Query, s.Query)
		out.Params = mergePart(out.Params, s.Params)
		out.Headers = mergePart(out.Headers, s.Headers)
		out.Files = append(out.Files, s.Files...)
	}
	return out
}

func mergePart(dst, src Part) Part {
	if src == nil {
		return dst
	}
	if dst == nil {
		dst = make(Part, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// compiledField is a rule ready for evaluation.
type compiledField struct {
	name    string
	rule    Rule
	pattern *regexp.Regexp
}

type compiledPart struct {
	name   PartName
	fields []compiledField
}

// Compiled is an immutable, pre-checked schema.
type Compiled struct {
	parts []*compiledPart
	files []FileRule
}

// Files returns the file rules of the schema.
func (c *Compiled) Files() []FileRule {
	return slices.Clone(c.files)
}

// HasFiles reports whether the schema declares file rules.
func (c *Compiled) HasFiles() bool {
	return len(c.files) > 0
}

func (c *Compiled) part(name PartName) *compiledPart {
	for _, p := range c.parts {
		if p.name == name {
			return p
		}
	}
	return nil
}

// Compile checks s and prepares it for validation.
func Compile(s Schema) (*Compiled, error) {
	c := &Compiled{files: slices.Clone(s.Files)}

	parts := []struct {
		name PartName
		part Part
	}{
		{PartBody, s.Body},
		{PartQuery, s.Query},
		{PartParams, s.Params},
		{PartHeaders, s.Headers},
	}

	for _, p := range parts {
		if p.part == nil {
			continue
		}
		cp, err := compilePart(p.name, p.part)
		if err != nil {
			return nil, err
		}
		c.parts = append(c.parts, cp)
	}

	for i, fr := range c.files {
		if err := fr.check(); err != nil {
			return nil, fmt.Errorf("files[%d]: %w", i, err)
		}
	}
	return c, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(s Schema) *Compiled {
	c, err := Compile(s)
	if err != nil {
		panic(err)
	}
	return c
}

func compilePart(name PartName, part Part) (*compiledPart, error) {
	cp := &compiledPart{name: name, fields: make([]compiledField, 0, len(part))}

	names := make([]string, 0, len(part))
	for field := range part {
		names = append(names, field)
	}
	slices.Sort(names)

	for _, field := range names {
		rule := part[field]
		if rule.Type == "" {
			rule.Type = TypeString
		}
		if err := checkRule(rule); err != nil {
			return nil, fmt.Errorf("%s.%s: %w", name, field, err)
		}

		cf := compiledField{name: field, rule: rule}
		if name == PartHeaders {
			cf.name = strings.ToLower(field)
		}
		if rule.Pattern != "" {
			re, err := regexp.Compile(rule.Pattern)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: invalid pattern: %w", name, field, err)
			}
			cf.pattern = re
		}
		cp.fields = append(cp.fields, cf)
	}
	return cp, nil
}

func checkRule(r Rule) error {
	switch r.Type {
	case TypeString, TypeInteger, TypeNumber, TypeBoolean:
	default:
		return fmt.Errorf("unknown type %q", r.Type)
	}
	switch r.Format {
	case "", FormatUUID, FormatEmail, FormatURI, FormatDateTime:
	default:
		return fmt.Errorf("unknown format %q", r.Format)
	}
	if r.Format != "" && r.Type != TypeString {
		return fmt.Errorf("format %q requires type string", r.Format)
	}
	if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
		return fmt.Errorf("min %v greater than max %v", *r.Min, *r.Max)
	}
	if r.MinLength != nil && r.MaxLength != nil && *r.MinLength > *r.MaxLength {
		return fmt.Errorf("minLength %d greater than maxLength %d", *r.MinLength, *r.MaxLength)
	}
	return nil
}

// canonicalHeader returns the lookup key of a header rule.
func canonicalHeader(name string) string {
	return http.CanonicalHeaderKey(name)
}
