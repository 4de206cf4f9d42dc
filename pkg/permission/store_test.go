package permission

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "permissions.json")
}

// TestNewStore tests defaults and loading
func TestNewStore(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		s, err := NewStore(storePath(t))
		require.NoError(t, err)
		assert.Equal(t, ModeInteractive, s.Mode())
		assert.Equal(t, 0, s.Rules().Len())
	})

	t.Run("existing file is loaded", func(t *testing.T) {
		path := storePath(t)
		data := `{
  "mode": "prompt_once",
  "rules": [
    {"pattern": "bash", "decision": "allow"},
    {"pattern": "mcp_*", "decision": "deny"}
  ]
}`
		require.NoError(t, os.WriteFile(path, []byte(data), 0644))

		s, err := NewStore(path)
		require.NoError(t, err)
		assert.Equal(t, ModePromptOnce, s.Mode())

		rules := s.Rules().List()
		require.Len(t, rules, 2)
		assert.Equal(t, "bash", rules[0].Pattern)
		assert.Equal(t, "mcp_*", rules[1].Pattern)
	})

	t.Run("schema violation rejected", func(t *testing.T) {
		path := storePath(t)
		data := `{"mode": "yolo", "rules": []}`
		require.NoError(t, os.WriteFile(path, []byte(data), 0644))

		_, err := NewStore(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "schema")
	})

	t.Run("malformed rule rejected", func(t *testing.T) {
		path := storePath(t)
		data := `{"mode": "interactive", "rules": [{"pattern": "bash", "decision": "undecided"}]}`
		require.NoError(t, os.WriteFile(path, []byte(data), 0644))

		_, err := NewStore(path)
		require.Error(t, err)
	})
}

// TestStore_Persistence tests the save/load round trip
func TestStore_Persistence(t *testing.T) {
	path := storePath(t)

	s, err := NewStore(path)
	require.NoError(t, err)

	require.NoError(t, s.SetMode(ModeAcceptEdits))
	require.NoError(t, s.AddRule(Rule{Pattern: "bash", Decision: DecisionAllow}))
	require.NoError(t, s.AddRule(Rule{Pattern: "web_*", Decision: DecisionDeny}))

	// A fresh store sees everything, in order.
	reloaded, err := NewStore(path)
	require.NoError(t, err)
	assert.Equal(t, ModeAcceptEdits, reloaded.Mode())

	rules := reloaded.Rules().List()
	require.Len(t, rules, 2)
	assert.Equal(t, Rule{Pattern: "bash", Decision: DecisionAllow}, rules[0])
	assert.Equal(t, Rule{Pattern: "web_*", Decision: DecisionDeny}, rules[1])
}

// TestStore_SetMode tests mode validation
func TestStore_SetMode(t *testing.T) {
	s, err := NewStore(storePath(t))
	require.NoError(t, err)

	assert.ErrorIs(t, s.SetMode("bogus"), ErrInvalidMode)
	assert.Equal(t, ModeInteractive, s.Mode(), "invalid mode leaves state untouched")
}

// TestStore_RemoveRule tests rule withdrawal persistence
func TestStore_RemoveRule(t *testing.T) {
	path := storePath(t)

	s, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, s.AddRule(Rule{Pattern: "bash", Decision: DecisionAllow}))
	require.NoError(t, s.RemoveRule("bash"))

	reloaded, err := NewStore(path)
	require.NoError(t, err)
	assert.Equal(t, 0, reloaded.Rules().Len())
}

// TestStoreWatcher tests live reload on external edits
func TestStoreWatcher(t *testing.T) {
	path := storePath(t)

	s, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Save())

	w, err := NewStoreWatcher(s, 50*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	// Simulate an external edit.
	data := `{"mode": "bypass", "rules": [{"pattern": "bash", "decision": "allow"}]}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	assert.Eventually(t, func() bool {
		return s.Mode() == ModeBypass && s.Rules().Len() == 1
	}, 3*time.Second, 20*time.Millisecond)
}
