package state

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/cardname-harvester/internal/names"
)

func newStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "public", "cardnames.json")
	s, err := New(path, nil, zap.NewNop())
	require.NoError(t, err)
	return s, path
}

func readList(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out []string
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestLoadMissingAndCorrupt(t *testing.T) {
	t.Parallel()

	s, path := newStore(t)
	require.Equal(t, 0, s.Load().Len())

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	require.Equal(t, 0, s.Load().Len())

	require.NoError(t, os.WriteFile(path, []byte(`["B","A"]`), 0o600))
	require.Equal(t, []string{"A", "B"}, s.Load().Sorted())
}

func TestSaveUnionMergesWithDisk(t *testing.T) {
	t.Parallel()

	s, path := newStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(`["X"]`), 0o600))

	merged, err := s.SaveUnion(names.NewSet("Y"))
	require.NoError(t, err)
	require.Equal(t, []string{"X", "Y"}, merged.Sorted())
	require.Equal(t, []string{"X", "Y"}, readList(t, path))

	requireNoTempFiles(t, path)
}

func TestSaveUnionIsMonotonic(t *testing.T) {
	t.Parallel()

	s, path := newStore(t)
	batches := []names.Set{
		names.NewSet("a", "b"),
		names.NewSet(),
		names.NewSet("c"),
		names.NewSet("a"),
	}
	prev := 0
	for _, batch := range batches {
		_, err := s.SaveUnion(batch)
		require.NoError(t, err)
		size := len(readList(t, path))
		require.GreaterOrEqual(t, size, prev)
		prev = size
	}
	require.Equal(t, []string{"a", "b", "c"}, readList(t, path))
}

func TestSaveUnionFiltersArtifactsFromDisk(t *testing.T) {
	t.Parallel()

	s, path := newStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(`["Alpha","503 Service Unavailable"]`), 0o600))

	merged, err := s.SaveUnion(names.NewSet("nginx error", "Beta"))
	require.NoError(t, err)
	require.Equal(t, []string{"Alpha", "Beta"}, merged.Sorted())
}

func TestSaveUnionFormat(t *testing.T) {
	t.Parallel()

	s, path := newStore(t)
	_, err := s.SaveUnion(names.NewSet("ボルシャック・ドラゴン", "A&B"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "[\n  \"A&B\",\n  \"ボルシャック・ドラゴン\"\n]\n", string(data))
}

func TestSaveUnionInterruptedBeforeReplace(t *testing.T) {
	t.Parallel()

	s, path := newStore(t)
	_, err := s.SaveUnion(names.NewSet("Old"))
	require.NoError(t, err)

	s.rename = func(string, string) error { return errors.New("crash") }
	_, err = s.SaveUnion(names.NewSet("New"))
	require.Error(t, err)

	require.Equal(t, []string{"Old"}, readList(t, path))
	require.Equal(t, []string{"Old"}, s.Load().Sorted())
	requireNoTempFiles(t, path)
}

func TestSaveUnionReadFailureKeepsPreviousFile(t *testing.T) {
	t.Parallel()

	s, path := newStore(t)
	_, err := s.SaveUnion(names.NewSet("A", "B"))
	require.NoError(t, err)

	s.readFile = func(string) ([]byte, error) { return nil, errors.New("input/output error") }
	_, err = s.SaveUnion(names.NewSet("C"))
	require.Error(t, err)
	require.NotErrorIs(t, err, errCorrupt)
	require.Equal(t, []string{"A", "B"}, readList(t, path))
}

func TestSaveUnionRewritesCorruptFile(t *testing.T) {
	t.Parallel()

	s, path := newStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte("<html>503</html>"), 0o600))

	merged, err := s.SaveUnion(names.NewSet("A"))
	require.NoError(t, err)
	require.Equal(t, []string{"A"}, merged.Sorted())
	require.Equal(t, []string{"A"}, readList(t, path))
}

func TestSaveUnionWriteFailureKeepsPreviousFile(t *testing.T) {
	t.Parallel()

	s, path := newStore(t)
	_, err := s.SaveUnion(names.NewSet("Old"))
	require.NoError(t, err)

	// a directory in place of the state file makes the replace fail
	blocked, err := New(filepath.Join(filepath.Dir(path), "missing", "x.json"), nil, nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "missing"), []byte("file"), 0o600))
	_, err = blocked.SaveUnion(names.NewSet("New"))
	require.Error(t, err)
	require.Equal(t, []string{"Old"}, readList(t, path))
}

func TestSaveUnionConcurrentWritersLoseNothing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "cardnames.json")
	s1, err := New(path, nil, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s1.SaveUnion(names.NewSet(string(rune('a' + i))))
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Len(t, readList(t, path), 8)
}

func requireNoTempFiles(t *testing.T, path string) {
	t.Helper()
	matches, err := filepath.Glob(path + ".*" + tmpSuffix)
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestSaveObserver(t *testing.T) {
	t.Parallel()

	var calls int
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := New(path, nil, nil, WithSaveObserver(func(d time.Duration) {
		calls++
		require.GreaterOrEqual(t, d, time.Duration(0))
	}))
	require.NoError(t, err)
	_, err = s.SaveUnion(names.NewSet("x"))
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestNewRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := New("", nil, nil)
	require.Error(t, err)
}
