package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/kong"
	kongtoml "github.com/alecthomas/kong-toml"
	kongyaml "github.com/alecthomas/kong-yaml"
	toml "github.com/pelletier/go-toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	yaml "gopkg.in/yaml.v3"
)

type templateCLI struct {
	Run  Run  `cmd:""`
	List List `cmd:""`
}

// parseTemplate runs a kong parse with the given loader wired to the
// generated file, the same way the usbperf entry point wires it.
func parseTemplate(t *testing.T, loader kong.ConfigurationLoader, path string, args ...string) *templateCLI {
	t.Helper()
	var cli templateCLI
	parser, err := kong.New(&cli, kong.Configuration(loader, path))
	require.NoError(t, err)
	_, err = parser.Parse(args)
	require.NoError(t, err)
	return &cli
}

func TestConfigInitRunTemplateJSON(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "run.json")
	require.NoError(t, (&ConfigInit{Command: "run", Format: "json", Output: dest}).Run())

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))

	// kong's JSON resolver only matches underscored flag names; a dashed
	// key would never be read back.
	assert.Contains(t, got, "usb_config")
	assert.Contains(t, got, "auto_detach")
	assert.NotContains(t, got, "usb-config")
	assert.Equal(t, "0s", got["duration"])

	got["usb_config"] = 7
	got["size"] = 512
	got["auto_detach"] = false
	data, err = json.Marshal(got)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(dest, data, 0o644))

	cli := parseTemplate(t, kong.JSON, dest, "run", "--endpoint", "0x86")
	assert.Equal(t, 7, cli.Run.USBConfig)
	assert.Equal(t, 512, cli.Run.Size)
	assert.False(t, cli.Run.AutoDetach)
	assert.Equal(t, 4, cli.Run.Queue)
}

func TestConfigInitRunTemplateYAML(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, (&ConfigInit{Command: "run", Format: "yaml", Output: dest}).Run())

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, yaml.Unmarshal(data, &got))

	// kong-yaml resolves flags under the command node; a flat file would
	// be silently ignored.
	runNode, ok := got["run"].(map[string]any)
	require.True(t, ok, "flags must nest under the run node")
	assert.Equal(t, 2048, runNode["size"])
	assert.Equal(t, "0s", runNode["duration"])
	assert.Contains(t, runNode, "endpoint")

	runNode["usb-config"] = 7
	runNode["size"] = 512
	runNode["auto-detach"] = false
	data, err = yaml.Marshal(got)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(dest, data, 0o644))

	cli := parseTemplate(t, kongyaml.Loader, dest, "run", "--endpoint", "0x86")
	assert.Equal(t, 7, cli.Run.USBConfig)
	assert.Equal(t, 512, cli.Run.Size)
	assert.False(t, cli.Run.AutoDetach)
}

func TestConfigInitListTemplateTOML(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "list.toml")
	require.NoError(t, (&ConfigInit{Command: "list", Format: "toml", Output: dest}).Run())

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	tree, err := toml.LoadBytes(data)
	require.NoError(t, err)
	got := tree.ToMap()

	listNode, ok := got["list"].(map[string]any)
	require.True(t, ok, "flags must nest under the list node")
	assert.Contains(t, listNode, "vidpid")
	assert.EqualValues(t, 0, listNode["usb-debug"])

	listNode["usb-debug"] = int64(3)
	listNode["vidpid"] = "16c0:0763"
	tree, err = toml.TreeFromMap(got)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(dest, []byte(tree.String()), 0o644))

	// kong-toml validates the keys, so a stale or misnamed key in the
	// template would fail the parse outright.
	cli := parseTemplate(t, kongtoml.Loader, dest, "list")
	assert.Equal(t, 3, cli.List.USBDebug)
	assert.Equal(t, "16c0:0763", cli.List.VIDPID)
}

func TestConfigInitRefusesOverwrite(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "run.json")
	require.NoError(t, os.WriteFile(dest, []byte("{}"), 0o644))

	err := (&ConfigInit{Command: "run", Format: "json", Output: dest}).Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")

	require.NoError(t, (&ConfigInit{Command: "run", Format: "json", Output: dest, Force: true}).Run())
}
