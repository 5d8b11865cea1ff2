package config

import (
	"io"

	"gopkg.in/yaml.v3"
)

// WriteYAML renders cfg as YAML. Durations are written in their string form,
// which viper reads back with GetDuration.
func WriteYAML(w io.Writer, cfg ConfigDefaults) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}
