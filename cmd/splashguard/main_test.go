package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splashguard/internal/config"
	"splashguard/internal/dex"
	"splashguard/internal/dex/dextest"
	"splashguard/internal/slogutil"
	"splashguard/internal/storage"
	"splashguard/internal/symtab"
)

const splashModel = "com.bstar.intl.ui.splash.ad.model.Splash"

func writeDex(t *testing.T, dir, name string, build func(b *dextest.Builder)) string {
	t.Helper()
	b := dextest.NewBuilder()
	build(b)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, b.Bytes(), 0644))
	return path
}

func namedBuild(b *dextest.Builder) {
	valid := b.Field(splashModel, "valid", "boolean")
	show := b.String("splash_show_time")
	b.Class(splashModel, "java.lang.Object", dex.AccPublic).
		Method("isValid", "boolean", nil, dex.AccPublic,
			dextest.IGetBoolean(0, 1, valid),
			dextest.Return(0)).
		Method("key", "java.lang.String", nil, dex.AccPublic,
			dextest.ConstString(0, show),
			dextest.Return(0))
	b.Class("com.bstar.intl.ui.splash.SplashActivity", "android.app.Activity", dex.AccPublic).
		Method("onCreate", "void", []string{"android.os.Bundle"}, dex.AccProtected, dextest.ReturnVoid())
}

func obfuscatedBuild(b *dextest.Builder) {
	const owner = "com.bstar.intl.ui.splash.ad.model.a"
	c := b.Field(owner, "c", "boolean")
	b.Class(owner, "java.lang.Object", dex.AccPublic|dex.AccFinal).
		Method("b", "boolean", nil, dex.AccPublic,
			dextest.IGetBoolean(0, 1, c),
			dextest.Return(0))
}

// execute runs the root command with fresh flag state.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	rootDir, verbosity, quiet, noStore = ".", 0, false, false
	resolveFormat, resolveRebuild, planFormat, planHost = "json", false, "json", ""
	inspectType, inspectFormat, diffContext = "", "human", 3

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestResolveCommand(t *testing.T) {
	dir := t.TempDir()
	path := writeDex(t, dir, "classes.dex", namedBuild)

	out, _, err := execute(t, "resolve", path, "--root", dir)
	require.NoError(t, err)

	var rec symtab.Record
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, "com.bstar.intl", rec.IntegrationID)
	require.Len(t, rec.Entries, 3)
	for _, e := range rec.Entries {
		assert.Equal(t, symtab.TierPrimary, e.Tier, "key %s", e.Key)
	}

	db, err := storage.Open(filepath.Join(dir, ".splashguard"), slogutil.NewDiscardLogger())
	require.NoError(t, err)
	defer db.Close()
	store, err := storage.NewTableStore(db)
	require.NoError(t, err)
	defer store.Close()
	stored, err := store.Get("com.bstar.intl")
	require.NoError(t, err)
	require.NotNil(t, stored, "table should be persisted")
	assert.Equal(t, 3, stored.EntryCount)

	_, _, err = execute(t, "resolve", path, "--root", dir, "--rebuild", "-q")
	require.NoError(t, err)
	rebuilt, err := store.Get("com.bstar.intl")
	require.NoError(t, err)
	require.NotNil(t, rebuilt)
	assert.NotEqual(t, stored.BuildID, rebuilt.BuildID, "rebuild writes a fresh build id")
}

func TestResolveCommand_NoStoreHuman(t *testing.T) {
	dir := t.TempDir()
	path := writeDex(t, dir, "classes.dex", obfuscatedBuild)

	out, _, err := execute(t, "resolve", path, "--root", dir, "--no-store", "--format", "human", "-q")
	require.NoError(t, err)
	assert.Contains(t, out, "IS_VALID_METHOD")
	assert.Contains(t, out, "heuristic")
	assert.Contains(t, out, "com.bstar.intl.ui.splash.ad.model.a#b()boolean")

	_, err = os.Stat(filepath.Join(dir, ".splashguard", storage.DatabaseFile))
	assert.True(t, os.IsNotExist(err))
}

func TestResolveCommand_Unresolved(t *testing.T) {
	dir := t.TempDir()
	path := writeDex(t, dir, "classes.dex", func(b *dextest.Builder) {
		b.Class("com.bstar.intl.Main", "java.lang.Object", dex.AccPublic).
			Method("run", "void", nil, dex.AccPublic, dextest.ReturnVoid())
	})

	_, _, err := execute(t, "resolve", path, "--root", dir, "--no-store", "-q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SPLASH_CLASS")
}

func TestPlanCommand(t *testing.T) {
	dir := t.TempDir()
	path := writeDex(t, dir, "classes.dex", namedBuild)

	out, _, err := execute(t, "plan", path, "--root", dir, "--no-store", "--format", "yaml", "-q")
	require.NoError(t, err)
	assert.Contains(t, out, "integration: com.bstar.intl")
	assert.Contains(t, out, "kind: result-override")
	assert.Contains(t, out, "target: "+splashModel+"#isValid()boolean")
	assert.Contains(t, out, "kind: pre-invocation")

	out, _, err = execute(t, "plan", path, "--root", dir, "--no-store", "--host", "other.app", "-q")
	require.NoError(t, err)
	assert.NotContains(t, out, "result-override", "a foreign host installs nothing")

	_, _, err = execute(t, "plan", path, "--format", "xml")
	assert.Error(t, err)
}

func TestInspectCommand(t *testing.T) {
	dir := t.TempDir()
	path := writeDex(t, dir, "classes.dex", namedBuild)

	out, _, err := execute(t, "inspect", path, "--root", dir, "--type", splashModel, "-q")
	require.NoError(t, err)
	assert.Contains(t, out, splashModel+" extends java.lang.Object [public]")
	assert.Contains(t, out, `str   "splash_show_time"`)
	assert.Contains(t, out, "field "+splashModel+".valid")

	_, _, err = execute(t, "inspect", path, "--root", dir, "--type", "no.such.Type", "-q")
	assert.Error(t, err)
}

func TestDiffCommand(t *testing.T) {
	dir := t.TempDir()
	oldPath := writeDex(t, dir, "old.dex", namedBuild)
	newPath := writeDex(t, dir, "new.dex", obfuscatedBuild)

	out, _, err := execute(t, "diff", oldPath, newPath, "--root", dir, "-q")
	require.NoError(t, err)
	assert.Contains(t, out, "--- "+oldPath)
	assert.Contains(t, out, "+++ "+newPath)
	assert.Contains(t, out, "-IS_VALID_METHOD  primary")
	assert.Contains(t, out, "+IS_VALID_METHOD  heuristic")

	out, _, err = execute(t, "diff", oldPath, oldPath, "--root", dir, "-q")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestResultLines_Failure(t *testing.T) {
	lines := resultLines(nil, assert.AnError)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "! ")
}

func TestVersionCommand(t *testing.T) {
	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "splashguard version")
}

func TestLogFileFromConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Logging.File = "splashguard.log"
	require.NoError(t, cfg.Save(dir))
	path := writeDex(t, dir, "classes.dex", namedBuild)

	_, stderr, err := execute(t, "resolve", path, "--root", dir, "--no-store")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, ".splashguard", "splashguard.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "[info] Loaded code")
	assert.Contains(t, stderr, "[info] Loaded code")
}
