// SPDX-License-Identifier: MPL-2.0

// Package manifest models the description of one installable package.
//
// A manifest is an XML document with a "package" root element. It carries the
// package identity (name, version, interface version), the SHA-256 digest of
// the package archive, declared dependencies, the files the archive installs
// together with their own digests, and install-time metadata: default
// configuration files and preload assemblies selected by start mode.
//
// Manifests are immutable once loaded. Callers that need to hand a manifest to
// code they do not own should pass a [Manifest.Clone].
//
//   - [Parse] and [ParseFile]: streaming decode with validation
//   - [Manifest.Encode] and [Manifest.Serialize]: deterministic encode
//   - [Digest]: canonical uppercase hex form of a SHA-256 digest
package manifest
