// Package configs embeds the configuration templates written by
// 'blackia-rag config init'.
package configs

import _ "embed"

// ProjectConfigTemplate is written to .blackia.yaml in the project root.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string

// UserConfigTemplate is written to ~/.config/blackia/config.yaml.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string
