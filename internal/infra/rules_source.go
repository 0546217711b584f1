package infra

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_freeze/internal/domain"
)

// rulesKey is the top-level array in the rules file:
//
//	{"blacklist": [
//	  {"type": "bundleID", "identifier": "com.valvesoftware.steam", "delay": 30},
//	  {"type": "glob", "pattern": "Dota*", "delay": 5}
//	]}
const rulesKey = "blacklist"

// JSONRuleSource implements domain.RuleSource over the blacklist JSON file.
// Bad entries are skipped one by one; only an unreadable file is an error.
type JSONRuleSource struct {
	path         string
	defaultDelay time.Duration
	logger       *zap.Logger
}

// NewJSONRuleSource creates a rule source reading path.
func NewJSONRuleSource(path string, defaultDelay time.Duration, logger *zap.Logger) *JSONRuleSource {
	if defaultDelay < 0 {
		defaultDelay = domain.DefaultDelay
	}
	return &JSONRuleSource{path: path, defaultDelay: defaultDelay, logger: logger}
}

// Location returns the rules file path.
func (s *JSONRuleSource) Location() string {
	return s.path
}

// LoadRules reads the file and returns its rules in file order.
func (s *JSONRuleSource) LoadRules() ([]domain.Rule, error) {
	v := s.newViper()
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read rules file %s: %w", s.path, err)
	}
	return s.parse(v)
}

func (s *JSONRuleSource) newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigFile(s.path)
	v.SetConfigType("json")
	return v
}

func (s *JSONRuleSource) parse(v *viper.Viper) ([]domain.Rule, error) {
	raw := v.Get(rulesKey)
	if raw == nil {
		return nil, fmt.Errorf("rules file %s: %w", s.path, domain.ErrNoRules)
	}
	entries, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("rules file %s: %q must be an array", s.path, rulesKey)
	}

	rules := make([]domain.Rule, 0, len(entries))
	for i, e := range entries {
		rule, err := s.parseEntry(e)
		if err != nil {
			s.logger.Warn("skipping rule", zap.Int("index", i), zap.Error(err))
			continue
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func (s *JSONRuleSource) parseEntry(e interface{}) (domain.Rule, error) {
	m, ok := e.(map[string]interface{})
	if !ok {
		return domain.Rule{}, fmt.Errorf("entry is %T, want object", e)
	}
	fields := make(map[string]interface{}, len(m))
	for k, val := range m {
		fields[strings.ToLower(k)] = val
	}

	kind, err := parseKind(stringField(fields, "type"))
	if err != nil {
		return domain.Rule{}, err
	}

	var target string
	switch kind {
	case domain.MatchExactID:
		target = stringField(fields, "identifier")
	case domain.MatchGlob:
		target = stringField(fields, "pattern")
		if target == "" {
			target = stringField(fields, "identifier")
		}
	}
	if strings.TrimSpace(target) == "" {
		return domain.Rule{}, fmt.Errorf("%s rule has no target", kind)
	}

	return domain.Rule{
		Kind:   kind,
		Target: target,
		Delay:  parseDelay(fields["delay"], s.defaultDelay),
	}, nil
}

func parseKind(s string) (domain.MatchKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bundleid", "bundle_id", "exact":
		return domain.MatchExactID, nil
	case "glob", "pattern":
		return domain.MatchGlob, nil
	default:
		return "", fmt.Errorf("unknown rule type %q", s)
	}
}

func stringField(fields map[string]interface{}, key string) string {
	s, _ := fields[key].(string)
	return s
}

// parseDelay accepts seconds (number or numeric string) or a Go duration string.
// Anything else, or a negative value, yields def.
func parseDelay(v interface{}, def time.Duration) time.Duration {
	var secs float64
	switch d := v.(type) {
	case float64:
		secs = d
	case int:
		secs = float64(d)
	case int64:
		secs = float64(d)
	case string:
		d = strings.TrimSpace(d)
		if f, err := strconv.ParseFloat(d, 64); err == nil {
			secs = f
			break
		}
		dur, err := time.ParseDuration(d)
		if err != nil || dur < 0 {
			return def
		}
		return dur
	default:
		return def
	}
	if math.IsNaN(secs) || math.IsInf(secs, 0) || secs < 0 || secs > math.MaxInt64/float64(time.Second) {
		return def
	}
	return time.Duration(secs * float64(time.Second))
}

// Watch calls onChange whenever the rules file is written or recreated.
// The underlying watcher lives until the process exits.
func (s *JSONRuleSource) Watch(onChange func()) {
	v := s.newViper()
	if err := v.ReadInConfig(); err != nil {
		s.logger.Debug("rules file not readable yet, watching anyway", zap.Error(err))
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		s.logger.Info("rules file changed", zap.String("path", e.Name), zap.String("op", e.Op.String()))
		onChange()
	})
	v.WatchConfig()
}

// Ensure JSONRuleSource implements domain.RuleSource.
var _ domain.RuleSource = (*JSONRuleSource)(nil)
