package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitializeAppliesEnvOverridesOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("DB_HOST", "db.internal")

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	require.Equal(t, "db.internal", cfg.Database.Host)
	require.Equal(t, "aegis", cfg.Database.Database)
	require.Equal(t, 4, cfg.Queue.WorkerCount)
}

func TestInitializeMergesYAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	yaml := "queue:\n  worker_count: 9\nserver:\n  http_port: \"9090\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "aegis.yaml"), []byte(yaml), 0o644))

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	require.Equal(t, 9, cfg.Queue.WorkerCount)
	require.Equal(t, "9090", cfg.Server.HTTPPort)
	require.Equal(t, "localhost", cfg.Database.Host, "unset fields keep built-in defaults")
}

func TestValidateRejectsMissingSecrets(t *testing.T) {
	cfg := defaults()
	err := cfg.Validate()
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "database.password", verr.Field)
}

func TestValidateRejectsInvertedTurnBudget(t *testing.T) {
	cfg := defaults()
	cfg.Database.Password = "secret"
	cfg.LLM.APIKey = "sk-test"
	cfg.Turn.SoftTimeout = cfg.Turn.HardTimeout + 1
	err := cfg.Validate()
	require.Error(t, err)
}
