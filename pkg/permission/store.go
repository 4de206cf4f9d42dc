package permission

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

// stateSchema validates the persisted permission state file
const stateSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["mode", "rules"],
  "properties": {
    "mode": {
      "type": "string",
      "enum": ["bypass", "plan", "prompt_once", "interactive", "accept_edits"]
    },
    "rules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["pattern", "decision"],
        "properties": {
          "pattern": {
            "type": "string",
            "minLength": 1
          },
          "decision": {
            "type": "string",
            "enum": ["allow", "deny"]
          }
        }
      }
    }
  }
}`

// state is the on-disk shape of the permission store
type state struct {
	Mode  Mode   `json:"mode"`
	Rules []Rule `json:"rules"`
}

// Store owns the only state this core persists: the current permission
// mode and the ordered rule set. Saves are atomic; loads are validated
// against a JSON Schema before anything is applied.
type Store struct {
	path  string
	mode  Mode
	rules *RuleSet
	mu    sync.RWMutex
}

// NewStore creates a store persisted at path. A missing file yields the
// defaults: interactive mode with no rules.
func NewStore(path string) (*Store, error) {
	s := &Store{
		path:  path,
		mode:  ModeInteractive,
		rules: NewRuleSet(),
	}

	if err := s.Reload(); err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}

	return s, nil
}

// Mode returns the current permission mode
func (s *Store) Mode() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// SetMode updates the mode and persists immediately
func (s *Store) SetMode(mode Mode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidMode, mode)
	}

	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()

	log.Info().Str("mode", string(mode)).Msg("Permission mode changed")
	return s.Save()
}

// Rules returns the shared rule set
func (s *Store) Rules() *RuleSet {
	return s.rules
}

// AddRule appends a rule and persists immediately
func (s *Store) AddRule(rule Rule) error {
	if err := s.rules.Add(rule); err != nil {
		return err
	}

	log.Info().
		Str("pattern", rule.Pattern).
		Str("decision", string(rule.Decision)).
		Msg("Permission rule added")
	return s.Save()
}

// RemoveRule deletes a pattern and persists immediately
func (s *Store) RemoveRule(pattern string) error {
	if err := s.rules.Remove(pattern); err != nil {
		return err
	}
	return s.Save()
}

// Path returns the file the store persists to
func (s *Store) Path() string {
	return s.path
}

// Reload reads the persisted state from disk, replacing mode and rules.
// The file is schema-validated before anything is applied.
func (s *Store) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	if err := validateState(data); err != nil {
		return fmt.Errorf("invalid permission state file %s: %w", s.path, err)
	}

	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("failed to parse permission state: %w", err)
	}

	if err := s.rules.Replace(st.Rules); err != nil {
		return err
	}

	s.mu.Lock()
	s.mode = st.Mode
	s.mu.Unlock()

	log.Debug().
		Str("path", s.path).
		Int("rules", len(st.Rules)).
		Msg("Permission state loaded")
	return nil
}

// Save writes the current state atomically (temp file plus rename)
func (s *Store) Save() error {
	s.mu.RLock()
	st := state{
		Mode:  s.mode,
		Rules: s.rules.List(),
	}
	s.mu.RUnlock()

	if st.Rules == nil {
		st.Rules = []Rule{}
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal permission state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".permissions-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close state file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	return nil
}

// validateState checks raw JSON against the state schema
func validateState(data []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(stateSchema)
	docLoader := gojsonschema.NewBytesLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		errs := result.Errors()
		if len(errs) > 0 {
			return fmt.Errorf("schema violation: %s", errs[0].String())
		}
		return fmt.Errorf("schema violation")
	}

	return nil
}
