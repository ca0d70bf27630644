// SPDX-License-Identifier: MPL-2.0

// Package host starts the application the updater keeps current.
//
// Applications register a Factory by name, the way database drivers
// register with database/sql, and the Runner drives one of them through an
// update-then-start lifecycle: it checks the feed, verifies the installation,
// and either starts the application or hands over to a Restarter when
// replaced files are still held by the current process.
package host
