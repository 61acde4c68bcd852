package checkpoint

import (
	"path/filepath"
	"testing"

	"github.com/op/go-logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logging.SetLevel(logging.WARNING, "checkpoint")
}

func TestSaveLoad(tst *testing.T) {
	path := filepath.Join(tst.TempDir(), "cp.db")
	cp, err := Open(path, "run", 10)
	require.NoError(tst, err)

	data, err := cp.Load()
	require.NoError(tst, err)
	assert.Nil(tst, data)

	saved := &Data{
		Parameters:   map[string][]float64{"skyride.precision": {1.5}, "skyride.logPopSize": {0, 1, 2}},
		LogPosterior: -12.5,
		Iter:         100,
	}
	require.NoError(tst, cp.Save(saved))
	assert.False(tst, cp.Old())

	data, err = cp.Load()
	require.NoError(tst, err)
	assert.Equal(tst, saved, data)
	require.NoError(tst, cp.Close())

	// reopen
	cp, err = Open(path, "run", 10)
	require.NoError(tst, err)
	defer cp.Close()
	data, err = cp.Load()
	require.NoError(tst, err)
	assert.Equal(tst, 100, data.Iter)

	other := NewIO(nil, []byte("x"), 0)
	data, err = other.Load()
	assert.NoError(tst, err)
	assert.Nil(tst, data)
	assert.NoError(tst, other.Save(saved))
}

func TestOld(tst *testing.T) {
	cp := NewIO(nil, []byte("x"), -1)
	assert.True(tst, cp.Old())
	cp = NewIO(nil, []byte("x"), 3600)
	assert.False(tst, cp.Old())
}
