package persistedlist

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersistedList(t *testing.T) {
	filePath := fmt.Sprintf("%s/history.yaml", t.TempDir())

	list := NewPersistedList[string](filePath)
	assert.Empty(t, list.GetData())

	require.NoError(t, list.Push("ALTER TABLE t ADD COLUMN a int"))
	require.NoError(t, list.Push("ALTER TABLE t DROP COLUMN a"))

	// Order survives a reload.
	reloaded := NewPersistedList[string](filePath)
	assert.Equal(t, []string{
		"ALTER TABLE t ADD COLUMN a int",
		"ALTER TABLE t DROP COLUMN a",
	}, reloaded.GetData())
}
