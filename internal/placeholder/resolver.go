// Package placeholder expands step templates. A template may reference
// configuration ($$key$$), scenario context (<key>) and generated data
// ({{name}}). The three passes always run in that order and each pass scans
// the output of the previous one.
package placeholder

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tomatool/ketchup/internal/scenario"
)

var (
	configPattern  = regexp.MustCompile(`\$\$(.*?)\$\$`)
	contextPattern = regexp.MustCompile(`<(.*?)>`)
	dynamicPattern = regexp.MustCompile(`\{\{(.*?)\}\}`)
)

// ErrMissingConfigKey is matched by every MissingConfigKeyError
var ErrMissingConfigKey = errors.New("missing config key")

// MissingConfigKeyError reports a $$key$$ reference with no configured value
type MissingConfigKeyError struct {
	Key string
}

func (e *MissingConfigKeyError) Error() string {
	return fmt.Sprintf("config key %q is not set", e.Key)
}

func (e *MissingConfigKeyError) Unwrap() error { return ErrMissingConfigKey }

// ConfigLookup returns a configured value or def
type ConfigLookup interface {
	Get(key, def string) string
}

// ContextLookup returns a scenario value if present
type ContextLookup interface {
	Lookup(key string) (any, bool)
}

// Resolver expands templates against one configuration and one scenario
type Resolver struct {
	config     ConfigLookup
	context    ContextLookup
	rnd        *rand.Rand
	generators map[string]Generator
}

// Option configures a Resolver
type Option func(*Resolver)

// WithRand replaces the random source used by generators
func WithRand(rnd *rand.Rand) Option {
	return func(r *Resolver) { r.rnd = rnd }
}

// New creates a resolver. context may be nil, in which case every <key>
// reference is left as written.
func New(cfg ConfigLookup, context ContextLookup, opts ...Option) *Resolver {
	r := &Resolver{
		config:     cfg,
		context:    context,
		rnd:        rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64())),
		generators: defaultGenerators(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds or replaces a {{name}} generator. Names are matched
// case-insensitively.
func (r *Resolver) Register(name string, g Generator) {
	r.generators[normalize(name)] = g
}

// Resolve expands template. The only failure is a $$key$$ reference whose
// value is empty, which aborts the whole resolution.
func (r *Resolver) Resolve(template string) (string, error) {
	out, err := replace(configPattern, template, r.configValue)
	if err != nil {
		return "", err
	}
	out, _ = replace(contextPattern, out, r.contextValue)
	out, _ = replace(dynamicPattern, out, r.dynamicValue)
	return out, nil
}

func (r *Resolver) configValue(match, key string) (string, error) {
	key = strings.TrimSpace(key)
	value := ""
	if r.config != nil {
		value = r.config.Get(key, "")
	}
	if value == "" {
		return "", &MissingConfigKeyError{Key: key}
	}
	log.Debug().Str("pass", "config").Str("key", key).Msg("substituted placeholder")
	return value, nil
}

func (r *Resolver) contextValue(match, key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || r.context == nil {
		return match, nil
	}
	v, ok := r.context.Lookup(key)
	if !ok {
		return match, nil
	}
	log.Debug().Str("pass", "context").Str("key", key).Msg("substituted placeholder")
	return scenario.String(v), nil
}

func (r *Resolver) dynamicValue(match, name string) (string, error) {
	g, ok := r.generators[normalize(name)]
	if !ok {
		return match, nil
	}
	return g(r.rnd), nil
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// replace is regexp.ReplaceAllStringFunc with submatch access and early
// exit. Replacements are written literally and never rescanned.
func replace(re *regexp.Regexp, s string, fn func(match, inner string) (string, error)) (string, error) {
	locs := re.FindAllStringSubmatchIndex(s, -1)
	if locs == nil {
		return s, nil
	}

	var b strings.Builder
	last := 0
	for _, loc := range locs {
		b.WriteString(s[last:loc[0]])
		v, err := fn(s[loc[0]:loc[1]], s[loc[2]:loc[3]])
		if err != nil {
			return "", err
		}
		b.WriteString(v)
		last = loc[1]
	}
	b.WriteString(s[last:])
	return b.String(), nil
}
