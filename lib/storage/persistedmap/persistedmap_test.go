package persistedmap

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestPersistedMap_LoadFromFile(t *testing.T) {
	filePath := fmt.Sprintf("%s/state.yaml", t.TempDir())

	initialData := map[string]string{"key1": "value1", "key2": "value2"}
	yamlBytes, err := yaml.Marshal(initialData)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filePath, yamlBytes, 0o644))

	pMap := NewPersistedMap[string](filePath)
	value, isOk := pMap.Get("key1")
	assert.True(t, isOk)
	assert.Equal(t, "value1", value)
}

func TestPersistedMap_SetSurvivesReload(t *testing.T) {
	filePath := fmt.Sprintf("%s/state.yaml", t.TempDir())

	pMap := NewPersistedMap[string](filePath)
	require.NoError(t, pMap.Set("offset", "mysql-bin.000001:42"))

	reloaded := NewPersistedMap[string](filePath)
	value, isOk := reloaded.Get("offset")
	assert.True(t, isOk)
	assert.Equal(t, "mysql-bin.000001:42", value)

	_, isOk = reloaded.Get("missing")
	assert.False(t, isOk)
}
