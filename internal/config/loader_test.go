package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "conf"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "conf", "global.yaml"), []byte(body), 0o644))
	return root
}

// clearLegacyEnv keeps host variables from leaking into a test.
func clearLegacyEnv(t *testing.T) {
	for name := range legacyEnv {
		t.Setenv(name, "")
	}
}

type fakeResolver map[string]string

func (f fakeResolver) Resolve(_ context.Context, ref string) (string, error) {
	v, ok := f[ref]
	if !ok {
		return "", errors.New("no such secret")
	}
	return v, nil
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearLegacyEnv(t)
	root := writeYAML(t, `
bot:
  token: abc
roles:
  superadmin_ids: [42]
`)
	cfg, err := LoadFrom(context.Background(), root, nil)
	require.NoError(t, err)

	assert.Equal(t, "lounge", cfg.Bot.Source)
	assert.Equal(t, filepath.Join(root, "data"), cfg.Paths.DataDir)
	assert.Equal(t, "Asia/Tyumen", cfg.Loyalty.Timezone)
	assert.Equal(t, 6, cfg.Loyalty.BusinessDayHour)
	assert.Equal(t, 7, cfg.Loyalty.CooldownDays)
	assert.Equal(t, []string{"contest"}, cfg.Loyalty.ExemptKinds)
	assert.Len(t, cfg.Loyalty.Tiers, 4)
	assert.Equal(t, 50*time.Millisecond, cfg.Broadcast.Pace)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), cfg.Loyalty.Launch())

	table := cfg.Loyalty.TierTable()
	assert.Equal(t, "BRONZE🥉", table.ForVisits(5).Display())
	assert.Same(t, cfg, Get())
}

func TestLoadEnvOverrides(t *testing.T) {
	clearLegacyEnv(t)
	root := writeYAML(t, `
bot:
  token: abc
roles:
  superadmin_ids: [42]
`)
	t.Setenv("LOUNGE_BOT__SOURCE", "terrace")
	t.Setenv("SUPERADMIN_IDS", "7, 8")

	cfg, err := LoadFrom(context.Background(), root, nil)
	require.NoError(t, err)
	assert.Equal(t, "terrace", cfg.Bot.Source)
	assert.Equal(t, []int64{7, 8}, cfg.Roles.SuperadminIDs)
}

func TestLoadRequiresSuperadmins(t *testing.T) {
	clearLegacyEnv(t)
	root := writeYAML(t, `
bot:
  token: abc
`)
	_, err := LoadFrom(context.Background(), root, nil)
	require.Error(t, err)
}

func TestLoadRejectsUnorderedTiers(t *testing.T) {
	clearLegacyEnv(t)
	root := writeYAML(t, `
bot:
  token: abc
roles:
  superadmin_ids: [1]
loyalty:
  tiers:
    - { threshold: 5, label: BRONZE, discount: 5 }
    - { threshold: 1, label: IRON, discount: 3 }
`)
	_, err := LoadFrom(context.Background(), root, nil)
	require.Error(t, err)
}

func TestLoadResolvesVaultReferences(t *testing.T) {
	clearLegacyEnv(t)
	root := writeYAML(t, `
bot:
  token: "vault:secret/loungebot#bot_token"
roles:
  superadmin_ids: [1]
`)
	_, err := LoadFrom(context.Background(), root, nil)
	require.ErrorIs(t, err, ErrNoSecretResolver)

	cfg, err := LoadFrom(context.Background(), root, fakeResolver{
		"secret/loungebot#bot_token": "123:token",
	})
	require.NoError(t, err)
	assert.Equal(t, "123:token", cfg.Bot.Token)
}
