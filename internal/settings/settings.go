package settings

import (
	"fmt"
	"strconv"
	"strings"
)

// Key is the persisted key-value slot for user settings
const Key = "sift_settings"

// Settings are the user-tunable knobs of the cleanup pipeline
type Settings struct {
	StaleThresholdDays  int    `json:"staleThresholdDays"`
	AutoCheckDeadLinks  bool   `json:"autoCheckDeadLinks"`
	DeadLinkRefreshDays int    `json:"deadLinkRefreshDays"`
	ClaudeAPIKey        string `json:"claudeApiKey"`
}

// Defaults returns the settings used when nothing has been saved
func Defaults() Settings {
	return Settings{
		StaleThresholdDays:  180,
		AutoCheckDeadLinks:  false,
		DeadLinkRefreshDays: 7,
		ClaudeAPIKey:        "",
	}
}

// Partial is a settings update; nil fields keep their current value
type Partial struct {
	StaleThresholdDays  *int    `json:"staleThresholdDays,omitempty"`
	AutoCheckDeadLinks  *bool   `json:"autoCheckDeadLinks,omitempty"`
	DeadLinkRefreshDays *int    `json:"deadLinkRefreshDays,omitempty"`
	ClaudeAPIKey        *string `json:"claudeApiKey,omitempty"`
}

// KV is the persisted key-value state the settings live in
type KV interface {
	GetJSON(key string, v any) (bool, error)
	UpdateJSON(key string, v any, fn func(exists bool) error) error
}

// Service reads and writes settings
type Service struct {
	kv KV
}

// NewService creates a settings service over kv
func NewService(kv KV) *Service {
	return &Service{kv: kv}
}

// Get returns the stored settings merged over the defaults
func (s *Service) Get() (Settings, error) {
	cur := Defaults()
	// Decoding over the defaults keeps every field the stored value lacks
	if _, err := s.kv.GetJSON(Key, &cur); err != nil {
		return Settings{}, fmt.Errorf("failed to load settings: %w", err)
	}
	return cur, nil
}

// Save applies a partial update and returns the merged result
func (s *Service) Save(p Partial) (Settings, error) {
	cur := Defaults()
	err := s.kv.UpdateJSON(Key, &cur, func(bool) error {
		p.apply(&cur)
		return validate(cur)
	})
	if err != nil {
		return Settings{}, fmt.Errorf("failed to save settings: %w", err)
	}
	return cur, nil
}

// APIKey returns the configured Claude API key, or "" if unset
func (s *Service) APIKey() (string, error) {
	cur, err := s.Get()
	if err != nil {
		return "", err
	}
	return cur.ClaudeAPIKey, nil
}

func (p Partial) apply(s *Settings) {
	if p.StaleThresholdDays != nil {
		s.StaleThresholdDays = *p.StaleThresholdDays
	}
	if p.AutoCheckDeadLinks != nil {
		s.AutoCheckDeadLinks = *p.AutoCheckDeadLinks
	}
	if p.DeadLinkRefreshDays != nil {
		s.DeadLinkRefreshDays = *p.DeadLinkRefreshDays
	}
	if p.ClaudeAPIKey != nil {
		s.ClaudeAPIKey = *p.ClaudeAPIKey
	}
}

func validate(s Settings) error {
	if s.StaleThresholdDays < 1 {
		return fmt.Errorf("staleThresholdDays must be >= 1")
	}
	if s.DeadLinkRefreshDays < 0 {
		return fmt.Errorf("deadLinkRefreshDays must be >= 0")
	}
	return nil
}

// ParseAssignments turns "key=value" pairs from the command line into a Partial
func ParseAssignments(pairs []string) (Partial, error) {
	var p Partial
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return p, fmt.Errorf("expected key=value, got %q", pair)
		}
		switch strings.TrimSpace(key) {
		case "staleThresholdDays":
			n, err := strconv.Atoi(value)
			if err != nil {
				return p, fmt.Errorf("staleThresholdDays: %w", err)
			}
			p.StaleThresholdDays = &n
		case "autoCheckDeadLinks":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return p, fmt.Errorf("autoCheckDeadLinks: %w", err)
			}
			p.AutoCheckDeadLinks = &b
		case "deadLinkRefreshDays":
			n, err := strconv.Atoi(value)
			if err != nil {
				return p, fmt.Errorf("deadLinkRefreshDays: %w", err)
			}
			p.DeadLinkRefreshDays = &n
		case "claudeApiKey":
			v := value
			p.ClaudeAPIKey = &v
		default:
			return p, fmt.Errorf("unknown setting %q", key)
		}
	}
	return p, nil
}
