package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// DefaultEnvFile is read by LoadConfig when present.
const DefaultEnvFile = ".env"

// Loader handles configuration loading from files and readers.
type Loader struct {
	envFiles  []string
	lookupEnv func(string) (string, bool)
	dotenv    map[string]string
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithEnvFiles sets the .env files consulted for substitution. Missing
// files are skipped. The process environment takes precedence.
func WithEnvFiles(files ...string) LoaderOption {
	return func(l *Loader) {
		l.envFiles = files
	}
}

// WithLookupEnv replaces os.LookupEnv.
func WithLookupEnv(fn func(string) (string, bool)) LoaderOption {
	return func(l *Loader) {
		if fn != nil {
			l.lookupEnv = fn
		}
	}
}

// NewLoader creates a new configuration loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{lookupEnv: os.LookupEnv}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadConfig loads configuration from a file path, reading .env from the
// working directory when present.
func LoadConfig(path string) (*GatewayConfig, error) {
	return NewLoader(WithEnvFiles(DefaultEnvFile)).Load(path)
}

// LoadConfigFromReader loads configuration from an io.Reader.
func LoadConfigFromReader(r io.Reader) (*GatewayConfig, error) {
	return NewLoader().LoadFromReader(r)
}

// Load loads configuration from a file path.
func (l *Loader) Load(path string) (*GatewayConfig, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", path, err)
	}

	data, err := os.ReadFile(absPath) //nolint:gosec // operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return l.parseConfig(data)
}

// LoadFromReader loads configuration from an io.Reader.
func (l *Loader) LoadFromReader(r io.Reader) (*GatewayConfig, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return l.parseConfig(data)
}

// parseConfig overlays the YAML document onto DefaultConfig. Unknown keys
// are an error.
func (l *Loader) parseConfig(data []byte) (*GatewayConfig, error) {
	if err := l.readEnvFiles(); err != nil {
		return nil, err
	}

	content := l.substituteEnvVars(string(data))

	config := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader([]byte(content)))
	dec.KnownFields(true)
	if err := dec.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return config, nil
}

func (l *Loader) readEnvFiles() error {
	if l.dotenv != nil || len(l.envFiles) == 0 {
		return nil
	}

	l.dotenv = make(map[string]string)
	for _, file := range l.envFiles {
		values, err := godotenv.Read(file)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read env file %s: %w", file, err)
		}
		for k, v := range values {
			if _, seen := l.dotenv[k]; !seen {
				l.dotenv[k] = v
			}
		}
	}
	return nil
}

func (l *Loader) lookup(name string) (string, bool) {
	if v, ok := l.lookupEnv(name); ok {
		return v, true
	}
	v, ok := l.dotenv[name]
	return v, ok
}

// substituteEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment variable values.
func (l *Loader) substituteEnvVars(content string) string {
	// $$ escapes a literal dollar sign
	content = strings.ReplaceAll(content, "$$", "\x00ESCAPED_DOLLAR\x00")

	result := envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		defaultValue := ""
		if len(submatches) >= 3 {
			defaultValue = submatches[2]
		}

		if value, exists := l.lookup(varName); exists {
			return value
		}
		return defaultValue
	})

	return strings.ReplaceAll(result, "\x00ESCAPED_DOLLAR\x00", "$")
}

// ResolveConfigPath resolves a configuration file path, checking common locations.
func ResolveConfigPath(path string) (string, error) {
	if filepath.IsAbs(path) {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		return "", fmt.Errorf("config file not found: %s", path)
	}

	if _, err := os.Stat(path); err == nil {
		return filepath.Abs(path)
	}

	commonPaths := []string{
		filepath.Join("configs", path),
		filepath.Join(string(filepath.Separator), "etc", "admission", path),
	}
	if home, err := os.UserHomeDir(); err == nil {
		commonPaths = append(commonPaths, filepath.Join(home, ".admission", path))
	}

	for _, p := range commonPaths {
		if _, err := os.Stat(p); err == nil {
			return filepath.Abs(p)
		}
	}

	return "", fmt.Errorf("config file not found: %s", path)
}
