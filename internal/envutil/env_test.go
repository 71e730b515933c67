package envutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteThenLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	err := WriteDotEnv(path, map[string]string{
		"PD_TEST_PLAIN":  "value",
		"PD_TEST_SPACED": "two words",
	}, false)
	require.NoError(t, err)

	t.Setenv("PD_TEST_PLAIN", "from-env")
	os.Unsetenv("PD_TEST_SPACED")
	t.Cleanup(func() { os.Unsetenv("PD_TEST_SPACED") })

	applied, err := LoadDotEnv(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"PD_TEST_SPACED"}, applied)
	assert.Equal(t, "from-env", os.Getenv("PD_TEST_PLAIN"))
	assert.Equal(t, "two words", os.Getenv("PD_TEST_SPACED"))
}

func TestWriteDotEnvRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("A=1\n"), 0o600))

	err := WriteDotEnv(path, map[string]string{"A": "2"}, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	require.NoError(t, WriteDotEnv(path, map[string]string{"A": "2"}, true))
}

func TestReadDotEnvParsesQuotesAndComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "# comment\nexport A=1\nB='single quoted'\nC=\"line\\nbreak\"\nD=trailing # note\nnot a pair\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	values, err := ReadDotEnv(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"A": "1",
		"B": "single quoted",
		"C": "line\nbreak",
		"D": "trailing",
	}, values)
}

func TestLoadDotEnvMissingFile(t *testing.T) {
	applied, err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Empty(t, applied)
}
