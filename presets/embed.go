// Package presets embeds the example scan configuration shipped with the
// binary, so `zapgate -init` works regardless of installation method.
package presets

import _ "embed"

// ExampleConfigName is the file name of the bundled example.
const ExampleConfigName = "zap-config.example.yml"

// ExampleConfig is a complete, valid configuration with every key set to
// its default.
//
//go:embed zap-config.example.yml
var ExampleConfig []byte
