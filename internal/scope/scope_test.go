package scope

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromAlias(t *testing.T) {
	cases := map[string]Scope{
		"designer": Designer, "d": Designer, "des": Designer, "user": Designer,
		"experiment": Experiment, "e": Experiment, "exp": Experiment, "project": Experiment,
		"participant": Participant, "p": Participant, "par": Participant, "subject": Participant,
	}
	for alias, want := range cases {
		got, err := FromAlias(alias)
		require.NoError(t, err, "alias %q", alias)
		assert.Equal(t, want, got, "alias %q", alias)
	}

	_, err := FromAlias("galaxy")
	assert.Error(t, err)
}

func TestResolveDesigner(t *testing.T) {
	path, err := Resolve(Designer, Options{UserDir: "/home/kay/.config/shelf"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/home/kay/.config/shelf", "shelf.json"), path)

	_, err = Resolve(Designer, Options{})
	assert.Error(t, err)
}

func TestResolveExperiment(t *testing.T) {
	dir := t.TempDir()

	t.Run("directory path is used as-is", func(t *testing.T) {
		path, err := Resolve(Experiment, Options{ExperimentPath: dir})
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "shelf.json"), path)
	})

	t.Run("file path collapses to its directory", func(t *testing.T) {
		expFile := filepath.Join(dir, "stroop.psyexp")
		require.NoError(t, os.WriteFile(expFile, []byte("x"), 0o644))

		path, err := Resolve(Experiment, Options{ExperimentPath: expFile})
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "shelf.json"), path)
	})

	t.Run("missing path is an error", func(t *testing.T) {
		_, err := Resolve(Experiment, Options{})
		assert.Error(t, err)
	})
}

func TestResolveParticipant(t *testing.T) {
	path, err := Resolve(Participant, Options{UserDir: "/data/profile", Participant: "p042"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data/profile", "shelf", "p042.json"), path)

	_, err = Resolve(Participant, Options{UserDir: "/data/profile"})
	assert.Error(t, err, "participant ID is required")

	_, err = Resolve(Participant, Options{Participant: "p042"})
	assert.Error(t, err, "user dir is required")
}

func TestScopeString(t *testing.T) {
	assert.Equal(t, "designer", Designer.String())
	assert.Equal(t, "experiment", Experiment.String())
	assert.Equal(t, "participant", Participant.String())
}
