// SPDX-License-Identifier: MPL-2.0

// Package feed is the HTTP client for a package feed.
//
// A feed is partitioned by interface version:
//
//	{feed}/{iv}/packages.list             index of package names
//	{feed}/{iv}/{name}.manifest           latest manifest of a package
//	{feed}/{iv}/{version}/{name}.manifest pinned manifest
//	{feed}/{iv}/{version}/{name}.zip      package archive
//
// Requests go through a retrying transport. Failures are classified with
// [ErrFeedUnavailable] and [ErrManifestNotFound].
package feed
