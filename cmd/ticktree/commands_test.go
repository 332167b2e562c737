package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelrobotics/ticktree"
)

func TestBehaviorsCommandXML(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"behaviors", "--xml"})

	out := captureStdout(t, func() {
		require.NoError(t, cmd.Execute())
	})
	assert.Contains(t, out, "<TreeNodesModel>")
	assert.Contains(t, out, `ID="Sequence"`)
}

func TestRunCommand(t *testing.T) {
	dir := t.TempDir()
	treeFile := filepath.Join(dir, "tree.xml")
	require.NoError(t, os.WriteFile(treeFile, []byte(`
		<root BTCPP_format="4">
		  <BehaviorTree ID="Main">
		    <ScriptCondition code="threshold == 10"/>
		  </BehaviorTree>
		</root>`), 0o644))

	seedFile := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(seedFile, []byte("threshold: 10\n"), 0o644))

	cmd := newRootCmd()
	cmd.SetArgs([]string{"run", treeFile, "--seed", seedFile})
	out := captureStdout(t, func() {
		require.NoError(t, cmd.Execute())
	})
	assert.Contains(t, out, "Main")
	assert.Contains(t, out, "SUCCESS")
}

func TestSeedBlackboard(t *testing.T) {
	factory := ticktree.NewFactory()
	tree, err := factory.CreateTreeFromXML(`
		<root BTCPP_format="4">
		  <BehaviorTree ID="Main"><AlwaysSuccess/></BehaviorTree>
		</root>`)
	require.NoError(t, err)

	err = seedBlackboard(tree, &runOptions{sets: []string{"speed=5", "label=go"}})
	require.NoError(t, err)

	e, err := tree.Blackboard().Get("speed")
	require.NoError(t, err)
	assert.Equal(t, "5", e.Value)

	err = seedBlackboard(tree, &runOptions{sets: []string{"malformed"}})
	require.Error(t, err)
}

func TestNormalizeSeed(t *testing.T) {
	assert.Equal(t, int64(3), normalizeSeed(3))
	assert.Equal(t, int64(3), normalizeSeed(uint64(3)))
	assert.Equal(t, "x", normalizeSeed("x"))
	assert.Equal(t, 1.5, normalizeSeed(1.5))
}

// captureStdout redirects os.Stdout for code that prints directly
// (color output goes straight to the real stdout).
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w
	defer func() { os.Stdout = old }()

	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r)
		done <- buf.String()
	}()
	fn()
	require.NoError(t, w.Close())
	return <-done
}
