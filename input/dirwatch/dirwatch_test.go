package dirwatch

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/ratstreams/component"
	"github.com/c360/ratstreams/errors"
	"github.com/c360/ratstreams/rat"
)

func setUp(t *testing.T, cfg Config) *rat.Buffered {
	t.Helper()
	require.NoError(t, cfg.Validate())
	in := rat.NewBuffered(NewSource(cfg, nil), 64, rat.WithPollTimeout(10*time.Millisecond))
	require.NoError(t, in.SetUp(&rat.StaticOwner{OwnerName: "watch"}))
	t.Cleanup(in.StopExecution)
	return in
}

// collect receives until want is among the paths seen.
func collect(t *testing.T, in *rat.Buffered, want string) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var seen []string
	for !slices.Contains(seen, want) {
		require.NoError(t, ctx.Err(), "never saw %s, got %v", want, seen)
		require.NoError(t, in.Receive(ctx))
		for in.HasPendingOutput() {
			seen = append(seen, in.Output().(string))
		}
	}
	return seen
}

func TestSource_EmitsMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	in := setUp(t, Config{Dir: dir, Pattern: `\.csv$`})

	// Start the background watcher before writing.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	require.NoError(t, in.Receive(ctx))
	cancel()

	skipped := filepath.Join(dir, "notes.txt")
	wanted := filepath.Join(dir, "data.csv")
	require.NoError(t, os.WriteFile(skipped, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(wanted, []byte("a,b"), 0o644))

	seen := collect(t, in, wanted)
	assert.NotContains(t, seen, skipped)
}

func TestSource_ExistingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), nil, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.json"), 0o755))

	in := setUp(t, Config{Dir: dir, Existing: true})
	seen := collect(t, in, filepath.Join(dir, "b.json"))
	assert.Equal(t, []string{filepath.Join(dir, "a.json"), filepath.Join(dir, "b.json")}, seen)
}

func TestSource_MissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")

	in := rat.NewBuffered(NewSource(Config{Dir: dir}, nil), 0)
	err := in.SetUp(&rat.StaticOwner{OwnerName: "watch"})
	assert.True(t, errors.IsInvalid(err))

	in = rat.NewBuffered(NewSource(Config{Dir: dir, Create: true}, nil), 0)
	require.NoError(t, in.SetUp(&rat.StaticOwner{OwnerName: "watch"}))
	in.StopExecution()
	assert.DirExists(t, dir)
}

func TestNewInput(t *testing.T) {
	in, err := NewInput(json.RawMessage(`{"dir":"/tmp","pattern":"\\.log$"}`), component.Dependencies{})
	require.NoError(t, err)
	assert.Equal(t, rat.TypeOf[string](), in.(*rat.Buffered).Generates())

	_, err = NewInput(json.RawMessage(`{"dir":"/tmp","pattern":"("}`), component.Dependencies{})
	assert.True(t, errors.IsInvalid(err))

	_, err = NewInput(json.RawMessage(`{}`), component.Dependencies{})
	assert.True(t, errors.IsInvalid(err))
}
