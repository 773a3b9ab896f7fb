// Package defaults provides the embedded default configuration file for
// the dailyos init subcommand.
package defaults

import _ "embed"

// ConfigYAML is the embedded default configuration file, written by
// dailyos init.
//
//go:embed config.example.yaml
var ConfigYAML []byte
