package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/hwbench/usbperf/internal/configpaths"

	toml "github.com/pelletier/go-toml"
	yaml "gopkg.in/yaml.v3"
)

// ConfigCommand groups config-related subcommands.
type ConfigCommand struct {
	Init ConfigInit `cmd:"" help:"Generate a configuration template"`
}

// ConfigInit scaffolds a configuration file for a specific command.
type ConfigInit struct {
	Command string `arg:"" name:"command" help:"Command to generate config for" enum:"run,list"`
	Format  string `help:"Output format" enum:"json,yaml,toml" default:"json"`
	Output  string `help:"Destination file path (defaults to current directory)"`
	Force   bool   `help:"Overwrite if the file already exists"`
}

// Run generates a configuration template from the command struct tags.
//
// The key shape differs per format because each loader resolves flags
// differently: kong's JSON resolver matches flat flag names with dashes
// turned into underscores, while kong-yaml and kong-toml look flags up
// under the command node by their exact flag name.
func (c *ConfigInit) Run() error {
	format := normalizeFormat(c.Format)
	if format == "" {
		return fmt.Errorf("unsupported format: %s", c.Format)
	}

	var t reflect.Type
	switch c.Command {
	case "run":
		t = reflect.TypeOf(Run{})
	case "list":
		t = reflect.TypeOf(List{})
	default:
		return errors.New("unknown command; expected 'run' or 'list'")
	}
	flags := configTemplate(t, "")

	var root map[string]any
	if format == "json" {
		root = make(map[string]any, len(flags))
		for k, v := range flags {
			root[strings.ReplaceAll(k, "-", "_")] = v
		}
	} else {
		root = map[string]any{c.Command: flags}
	}

	dest := c.Output
	if dest == "" {
		dest = c.Command + "." + format
	}

	if !c.Force {
		if _, err := os.Stat(dest); err == nil {
			return errors.New("destination exists; use --force to overwrite")
		}
	}
	if err := configpaths.EnsureDir(dest); err != nil {
		return err
	}

	var data []byte
	var err error
	switch format {
	case "json":
		data, err = json.MarshalIndent(root, "", "  ")
	case "yaml":
		data, err = yaml.Marshal(root)
	case "toml":
		data, err = toml.Marshal(root)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(dest, data, 0o644)
}

func normalizeFormat(f string) string {
	switch strings.ToLower(f) {
	case "json":
		return "json"
	case "yaml", "yml":
		return "yaml"
	case "toml":
		return "toml"
	default:
		return ""
	}
}

// configTemplate walks a command struct and builds a map of kong flag
// names to their default values.
func configTemplate(t reflect.Type, prefix string) map[string]any {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	out := map[string]any{}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() || f.Tag.Get("kong") == "-" {
			continue
		}

		if _, ok := f.Tag.Lookup("embed"); ok {
			for k, v := range configTemplate(f.Type, prefix+f.Tag.Get("prefix")) {
				out[k] = v
			}
			continue
		}

		if val := fieldDefault(f.Type, f.Tag.Get("default")); val != nil {
			out[prefix+flagName(f)] = val
		}
	}
	return out
}

// flagName reproduces the flag name kong derives for a struct field.
func flagName(f reflect.StructField) string {
	if name := f.Tag.Get("name"); name != "" {
		return name
	}
	return dashedName(f.Name)
}

// dashedName lowercases a field name with dashes on the camel-case word
// boundaries, the way kong names flags: "AutoDetach" -> "auto-detach",
// "USBConfig" -> "usb-config", "VIDPID" -> "vidpid".
func dashedName(s string) string {
	var b strings.Builder
	rs := []rune(s)
	for i, r := range rs {
		if i > 0 && isUpper(r) {
			prevLower := !isUpper(rs[i-1])
			nextLower := i+1 < len(rs) && !isUpper(rs[i+1])
			if prevLower || nextLower {
				b.WriteByte('-')
			}
		}
		if isUpper(r) {
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isUpper(r rune) bool { return r >= 'A' && r <= 'Z' }

func fieldDefault(t reflect.Type, def string) any {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == reflect.TypeOf(time.Duration(0)) {
		if def != "" {
			return def
		}
		return "0s"
	}
	switch t.Kind() {
	case reflect.String:
		return def // may be empty
	case reflect.Bool:
		b, _ := strconv.ParseBool(def)
		return b
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, _ := strconv.ParseInt(def, 10, 64)
		return n
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, _ := strconv.ParseUint(def, 10, 64)
		return n
	case reflect.Float32, reflect.Float64:
		f, _ := strconv.ParseFloat(def, 64)
		return f
	case reflect.Struct:
		return configTemplate(t, "")
	default:
		return nil
	}
}
