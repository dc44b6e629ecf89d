// Package settings holds the Configuration Snapshot: the datastore tunables read
// at the start of every batch.
package settings

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"cronagent/internal/shared"
)

// Recognized setting keys.
const (
	KeyEnabled     = "enabled"
	KeyRetry       = "retry"
	KeyLogLife     = "logLife"
	KeyStreamLoop  = "sseLoop"
	KeyStreamRetry = "sseRetry"
	KeyMaxThreads  = "maxThreads"
)

// Defaults used when a setting is missing or out of range.
const (
	DefaultRetry       = 3600 // seconds
	DefaultLogLife     = 30   // days
	DefaultStreamRetry = 10000
	DefaultMaxThreads  = 4
)

// rules are validator tags applied to raw values on write.
var rules = map[string]string{
	KeyEnabled:     "required,boolean",
	KeyRetry:       "required,number",
	KeyLogLife:     "required,number,ne=0",
	KeyStreamLoop:  "required,boolean",
	KeyStreamRetry: "required,number",
	KeyMaxThreads:  "required,number,ne=0",
}

var validate = validator.New()

// Snapshot is an immutable view of the settings for one batch.
type Snapshot struct {
	Enabled bool
	// OneTimeRetry is the step used to reschedule failed one-time jobs.
	OneTimeRetry time.Duration
	LogLife      int
	StreamLoop   bool
	// StreamRetry is the retry interval advertised to streaming callers.
	StreamRetry time.Duration
	MaxThreads  int
}

// Default returns the documented defaults.
func Default() Snapshot {
	return Snapshot{
		Enabled:      true,
		OneTimeRetry: DefaultRetry * time.Second,
		LogLife:      DefaultLogLife,
		StreamLoop:   false,
		StreamRetry:  DefaultStreamRetry * time.Millisecond,
		MaxThreads:   DefaultMaxThreads,
	}
}

// Parse builds a Snapshot from raw key/value rows. Unknown keys are ignored,
// unparsable or out-of-range values fall back to defaults.
func Parse(raw map[string]string) Snapshot {
	s := Default()
	if v, ok := parseBool(raw[KeyEnabled]); ok {
		s.Enabled = v
	}
	if v, ok := parseInt(raw[KeyRetry]); ok && v > 0 {
		s.OneTimeRetry = time.Duration(v) * time.Second
	}
	if v, ok := parseInt(raw[KeyLogLife]); ok && v > 0 {
		s.LogLife = v
	}
	if v, ok := parseBool(raw[KeyStreamLoop]); ok {
		s.StreamLoop = v
	}
	if v, ok := parseInt(raw[KeyStreamRetry]); ok && v > 0 {
		s.StreamRetry = time.Duration(v) * time.Millisecond
	}
	if v, ok := parseInt(raw[KeyMaxThreads]); ok && v > 0 {
		s.MaxThreads = v
	}
	return s
}

// Normalize validates a value about to be written and returns its stored form.
func Normalize(key, value string) (string, error) {
	rule, ok := rules[key]
	if !ok {
		return "", shared.Validationf("unknown setting %q", key)
	}
	value = strings.TrimSpace(value)
	if err := validate.Var(value, rule); err != nil {
		return "", shared.Validationf("setting %s: invalid value %q", key, value)
	}
	if strings.HasSuffix(rule, "boolean") {
		b, _ := strconv.ParseBool(value)
		return strconv.FormatBool(b), nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return "", shared.Validationf("setting %s: invalid value %q", key, value)
	}
	return strconv.Itoa(n), nil
}

// Keys returns the recognized keys in stable order.
func Keys() []string {
	keys := make([]string, 0, len(rules))
	for k := range rules {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func parseBool(s string) (bool, bool) {
	if s == "" {
		return false, false
	}
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	return b, err == nil
}

func parseInt(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	return n, err == nil
}

type ctxKey struct{}

// WithContext attaches a snapshot to ctx for handlers that need tunables.
func WithContext(ctx context.Context, s Snapshot) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the snapshot attached to ctx, or defaults.
func FromContext(ctx context.Context) Snapshot {
	if s, ok := ctx.Value(ctxKey{}).(Snapshot); ok {
		return s
	}
	return Default()
}
