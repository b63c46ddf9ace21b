package main

import _ "embed"

// embeddedConfig holds the YAML configuration embedded at build time. It is
// the lowest-priority data layer: an external config file, environment
// variables, and CLI flags all override it. Build scripts may overwrite
// embed_config.yaml with site-specific settings before compiling.
//
//go:embed embed_config.yaml
var embeddedConfig []byte
