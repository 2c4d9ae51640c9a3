package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func withEnv(t *testing.T, values map[string]string) {
	t.Helper()
	prev := Env
	Env = values
	t.Cleanup(func() { Env = prev })
}

func TestGetEnvPrefersLoadedFile(t *testing.T) {
	withEnv(t, map[string]string{"SB_TEST_KEY": "from-file"})
	t.Setenv("SB_TEST_KEY", "from-os")

	assert.Equal(t, "from-file", GetEnv("SB_TEST_KEY", "def"))
	assert.Equal(t, "def", GetEnv("SB_TEST_MISSING", "def"))
}

func TestGetEnvFallsBackToOS(t *testing.T) {
	withEnv(t, map[string]string{})
	t.Setenv("SB_TEST_OS_ONLY", "x")

	assert.Equal(t, "x", GetEnv("SB_TEST_OS_ONLY", "def"))
}

func TestTypedGetters(t *testing.T) {
	withEnv(t, map[string]string{
		"INT_OK":   "42",
		"INT_BAD":  "forty",
		"BOOL_YES": "yes",
		"BOOL_BAD": "maybe",
		"DUR_OK":   "90s",
		"DUR_BAD":  "soon",
		"LIST":     " a, ,b ,c",
	})

	assert.Equal(t, 42, GetEnvInt("INT_OK", 1))
	assert.Equal(t, 1, GetEnvInt("INT_BAD", 1))
	assert.True(t, GetEnvBool("BOOL_YES", false))
	assert.True(t, GetEnvBool("BOOL_BAD", true))
	assert.Equal(t, 90*time.Second, GetEnvDuration("DUR_OK", time.Second))
	assert.Equal(t, time.Second, GetEnvDuration("DUR_BAD", time.Second))
	assert.Equal(t, []string{"a", "b", "c"}, GetEnvList("LIST"))
	assert.Nil(t, GetEnvList("LIST_MISSING"))
}
