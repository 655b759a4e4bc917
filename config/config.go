package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes the environment variables read by Load.
const EnvPrefix = "TEXTGEN_"

// Load fills out from the YAML file at path, then from environment variables
// starting with envPrefix. out must be a pointer to a struct with koanf tags;
// its current values act as defaults. A missing file is not an error.
//
// Environment keys are lower-cased and "__" separates nesting levels:
// TEXTGEN_SERVER__ADDR sets server.addr.
func Load(path, envPrefix string, out any) error {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("accessing config %s: %w", path, err)
		}
	}

	if envPrefix != "" {
		if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
			key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
			return strings.ReplaceAll(key, "__", ".")
		}), nil); err != nil {
			return fmt.Errorf("loading env overrides: %w", err)
		}
	}

	if err := k.Unmarshal("", out); err != nil {
		return fmt.Errorf("unmarshalling config: %w", err)
	}
	return nil
}
