package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLogger_WritesJSONEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	l, err := NewFileLogger(path)
	require.NoError(t, err)

	l.Log(ActionWipe, true, map[string]interface{}{"failed_attempts": 5})
	l.Log(ActionUnlock, true, nil)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var event map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &event))
	assert.Equal(t, ActionWipe, event["action"])
	assert.Equal(t, "warning", event["level"], "wipes must log at warning level")
	assert.NotEmpty(t, event["event_id"])
	assert.Equal(t, float64(5), event["failed_attempts"])

	require.NoError(t, json.Unmarshal([]byte(lines[1]), &event))
	assert.Equal(t, ActionUnlock, event["action"])
	assert.Equal(t, "info", event["level"])
}

func TestFileLogger_Permissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	_, err := NewFileLogger(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestNoOp(t *testing.T) {
	// Must not panic with nil fields.
	NoOp{}.Log(ActionLock, true, nil)
}
