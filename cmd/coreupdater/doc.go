// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the coreupdater CLI commands.
//
// Every command loads the configuration, opens an updater on the configured
// installation root and reports errors through internal/issue so that the
// exit code and the rendered guidance follow the error taxonomy.
package cmd
