// SPDX-License-Identifier: MPL-2.0

// Package issue turns updater errors into guidance a person can act on.
//
// ActionableError carries the failed operation, the package or path involved
// and suggestions. Classify maps any error of the updater taxonomy to a
// catalog entry whose Markdown guidance is rendered with glamour.
package issue
