package validation

import (
	"context"
	"fmt"
	"mime"
	"mime/multipart"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/vyrodovalexey/admission/internal/apierror"
	"github.com/vyrodovalexey/admission/internal/reqctx"
)

// FileRule constrains the files uploaded under one multipart field.
type FileRule struct {
	Field         string   `yaml:"field"`
	Required      bool     `yaml:"required,omitempty"`
	MaxSize       int64    `yaml:"maxSize,omitempty"`
	AllowedTypes  []string `yaml:"allowedTypes,omitempty"`
	MaxFiles      int      `yaml:"maxFiles,omitempty"`
	DetectContent bool     `yaml:"detectContent,omitempty"`
}

func (fr FileRule) check() error {
	if fr.Field == "" {
		return fmt.Errorf("field is required")
	}
	if fr.MaxSize < 0 {
		return fmt.Errorf("maxSize must not be negative")
	}
	if fr.MaxFiles < 0 {
		return fmt.Errorf("maxFiles must not be negative")
	}
	for _, t := range fr.AllowedTypes {
		if _, _, err := mime.ParseMediaType(t); err != nil {
			return fmt.Errorf("invalid allowed type %q: %w", t, err)
		}
	}
	return nil
}

// FileViolation names the file and the constraint it broke.
type FileViolation struct {
	Field      string
	Filename   string
	Constraint string
	Message    string
}

func (v *FileViolation) Error() string {
	return v.Message
}

// Constraint names reported in FileViolation.
const (
	ConstraintRequired = "required"
	ConstraintMaxFiles = "maxFiles"
	ConstraintMaxSize  = "maxSize"
	ConstraintType     = "allowedTypes"
	ConstraintContent  = "content"
)

// ValidateFiles evaluates rules in order against the attached files. Every
// file of every rule is visited; the first violation is returned.
func ValidateFiles(rules []FileRule, files map[string][]*multipart.FileHeader) *FileViolation {
	for _, rule := range rules {
		if v := validateFileRule(rule, files[rule.Field]); v != nil {
			return v
		}
	}
	return nil
}

// ValidateFilesError is ValidateFiles rendered as a ValidationFailed error
// with the message under the files part.
func ValidateFilesError(ctx context.Context, rules []FileRule, files map[string][]*multipart.FileHeader) error {
	v := ValidateFiles(rules, files)
	if v == nil {
		return nil
	}
	return apierror.ValidationFailed(reqctx.CorrelationIDFromContext(ctx), map[string]string{
		string(PartFiles): v.Message,
	})
}

func validateFileRule(rule FileRule, headers []*multipart.FileHeader) *FileViolation {
	if len(headers) == 0 {
		if rule.Required {
			return &FileViolation{
				Field:      rule.Field,
				Constraint: ConstraintRequired,
				Message:    fmt.Sprintf("file %q is required", rule.Field),
			}
		}
		return nil
	}

	if rule.MaxFiles > 0 && len(headers) > rule.MaxFiles {
		return &FileViolation{
			Field:      rule.Field,
			Constraint: ConstraintMaxFiles,
			Message:    fmt.Sprintf("field %q accepts at most %d files, got %d", rule.Field, rule.MaxFiles, len(headers)),
		}
	}

	for _, fh := range headers {
		if v := validateFile(rule, fh); v != nil {
			return v
		}
	}
	return nil
}

func validateFile(rule FileRule, fh *multipart.FileHeader) *FileViolation {
	violation := func(constraint, format string, args ...any) *FileViolation {
		return &FileViolation{
			Field:      rule.Field,
			Filename:   fh.Filename,
			Constraint: constraint,
			Message:    fmt.Sprintf(format, args...),
		}
	}

	if rule.MaxSize > 0 && fh.Size > rule.MaxSize {
		return violation(ConstraintMaxSize, "file %q exceeds the maximum size of %d bytes", fh.Filename, rule.MaxSize)
	}

	if len(rule.AllowedTypes) == 0 {
		return nil
	}

	declared := mediaType(fh.Header.Get("Content-Type"))
	if !typeAllowed(rule.AllowedTypes, declared) {
		return violation(ConstraintType, "file %q has type %q; allowed types: %s",
			fh.Filename, declared, strings.Join(rule.AllowedTypes, ", "))
	}

	if rule.DetectContent {
		detected, err := detect(fh)
		if err != nil {
			return violation(ConstraintContent, "file %q could not be read", fh.Filename)
		}
		if !detectedAllowed(rule.AllowedTypes, detected) {
			return violation(ConstraintContent, "file %q content is %q; allowed types: %s",
				fh.Filename, detected.String(), strings.Join(rule.AllowedTypes, ", "))
		}
	}
	return nil
}

func mediaType(contentType string) string {
	if contentType == "" {
		return "application/octet-stream"
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mt
}

func typeAllowed(allowed []string, mt string) bool {
	return slices.ContainsFunc(allowed, func(a string) bool {
		return strings.EqualFold(mediaType(a), mt)
	})
}

func detect(fh *multipart.FileHeader) (*mimetype.MIME, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return mimetype.DetectReader(f)
}

func detectedAllowed(allowed []string, detected *mimetype.MIME) bool {
	for _, a := range allowed {
		if detected.Is(mediaType(a)) {
			return true
		}
	}
	return false
}
