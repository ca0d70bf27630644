// SPDX-License-Identifier: MPL-2.0

// Package config loads the updater configuration using Viper with CUE as the
// file format.
//
// The file is read from the platform configuration directory
// (~/.config/coreupdater/config.cue on Linux, ~/Library/Application
// Support/coreupdater/config.cue on macOS, %APPDATA%\coreupdater\config.cue
// on Windows), from $COREUPDATER_CONFIG_DIR when set, or from ./config.cue. It is validated against the embedded
// schema (config_schema.cue) before it is merged over the defaults. Every key
// can be overridden with a COREUPDATER_ environment variable, dots replaced
// by underscores (COREUPDATER_HTTP_TIMEOUT for http.timeout).
package config
