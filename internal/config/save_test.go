package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/conductor/internal/orchestration/window"
)

func agent(id string, x int) AgentConfig {
	return AgentConfig{
		ID: id,
		Coordinates: map[string]window.Point{
			window.ElementInput: {X: x, Y: 10},
			window.ElementCopy:  {X: x, Y: 20},
			window.ElementProbe: {X: x, Y: 30},
		},
	}
}

func TestSaveAgents_PreservesOtherSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, WriteDefaultConfig(path))

	require.NoError(t, SaveAgents(path, []AgentConfig{agent("X1", 5)}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "# Conductor Configuration", "Leading comment should survive")
	require.Contains(t, string(data), "# Retry policy", "Section comments should survive")

	cfg := loadFile(t, string(data))
	require.Equal(t, []string{"X1"}, cfg.AgentIDs())
	require.Equal(t, 3, cfg.Retry.MaxAttempts)
}

func TestSaveAgents_NewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	require.NoError(t, SaveAgents(path, []AgentConfig{agent("A9", 1)}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	cfg := loadFile(t, string(data))
	require.Equal(t, []string{"A9"}, cfg.AgentIDs())
}

func TestSaveAgents_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	err := SaveAgents(path, []AgentConfig{{ID: "bad"}})
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr), "Nothing should be written for invalid agents")
}

func TestAddAndRemoveAgent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	existing := []AgentConfig{agent("A1", 1)}
	require.NoError(t, SaveAgents(path, existing))

	require.NoError(t, AddAgent(path, agent("A2", 2), existing))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	cfg := loadFile(t, string(data))
	require.Equal(t, []string{"A1", "A2"}, cfg.AgentIDs())

	require.ErrorIs(t, AddAgent(path, agent("A1", 3), cfg.Agents), ErrInvalidConfig, "Duplicate IDs are rejected")

	require.NoError(t, RemoveAgent(path, "A1", cfg.Agents))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []string{"A2"}, loadFile(t, string(data)).AgentIDs())

	require.Error(t, RemoveAgent(path, "ghost", cfg.Agents))
}
