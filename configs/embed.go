// Package configs embeds the configuration templates written by
// 'indexsync init'.
//
// The configuration hierarchy (see internal/config Load) is:
//  1. Defaults (config.DefaultConfig)
//  2. User config (~/.config/indexsync/config.yaml)
//  3. Project config (.indexsync.yaml)
//  4. Environment variables (INDEXSYNC_*)
package configs

import _ "embed"

// UserConfigTemplate holds machine-wide settings such as logging and the
// metrics address. Written by 'indexsync init --user'.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// ProjectConfigTemplate holds the source database and index definitions.
// Written by 'indexsync init' to .indexsync.yaml in the project directory.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
