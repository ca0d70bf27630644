// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"io/fs"
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/invowk/coreupdater/internal/feed"
	"github.com/invowk/coreupdater/internal/installer"
	"github.com/invowk/coreupdater/internal/registry"
	"github.com/invowk/coreupdater/internal/updater"
	"github.com/invowk/coreupdater/pkg/manifest"
)

// DefaultStyle picks a dark or light glamour style from the terminal.
const DefaultStyle = "auto"

type Id int

const (
	ConfigLoadFailedId Id = iota + 1
	UpdaterDisabledId
	InstallRootLockedId
	FeedUnavailableId
	PackageNotFoundId
	IntegrityFailureId
	ManifestInvalidId
	DuplicatePackageId
	NotInstalledId
	StillRequiredId
	NotDeliverableId
	UnresolvableDependencyId
	PermissionDeniedId
	RestartRequiredId
)

type MarkdownMsg string

type HttpLink string

type Issue struct {
	id       Id          // ID used to lookup the issue
	mdMsg    MarkdownMsg // Markdown text that will be rendered
	docLinks []HttpLink
}

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

// Render renders the guidance with the glamour style at stylePath, or
// DefaultStyle when empty.
func (i *Issue) Render(stylePath string) (string, error) {
	if stylePath == "" {
		stylePath = DefaultStyle
	}
	var sb strings.Builder
	sb.WriteString(string(i.mdMsg))
	if len(i.docLinks) > 0 {
		sb.WriteString("\n\n## See also\n")
		for _, link := range i.docLinks {
			sb.WriteString("- <" + string(link) + ">\n")
		}
	}
	return render(sb.String(), stylePath)
}

var (
	render = glamour.Render

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Configuration could not be loaded

The configuration file is not valid CUE or does not match the schema.

## Things you can try:
- Print the effective configuration:
~~~
$ coreupdater config show
~~~
- Remove the file to fall back to the defaults
- Override single keys with ` + "`COREUPDATER_*`" + ` environment variables, e.g. ` + "`COREUPDATER_FEED_URL`",
	}

	updaterDisabledIssue = &Issue{
		id: UpdaterDisabledId,
		mdMsg: `
# The updater is disabled

No feed URL is configured, or the bootstrap manifest in
` + "`bin/installed-packages`" + ` is missing, so the interface version is unknown.

## Things you can try:
- Set ` + "`feed_url`" + ` in the configuration file
- Check that the bootstrap package manifest exists under the installation root`,
	}

	installRootLockedIssue = &Issue{
		id: InstallRootLockedId,
		mdMsg: `
# Another updater is running

` + "`data/updater.lock`" + ` is held by another process working on the same
installation root.

## Things you can try:
- Wait for the other update to finish
- Stop the running host before installing packages manually`,
	}

	feedUnavailableIssue = &Issue{
		id: FeedUnavailableId,
		mdMsg: `
# The package feed is unreachable

The feed did not answer or answered with an unexpected status.

## Things you can try:
- Check network connectivity and proxy settings
- Verify ` + "`feed_url`" + ` in the configuration
- Raise ` + "`http.timeout`" + ` or ` + "`http.retry_max`" + ` for slow links`,
	}

	packageNotFoundIssue = &Issue{
		id: PackageNotFoundId,
		mdMsg: `
# Package not found on the feed

The feed has no manifest for the requested package at this interface version.

## Things you can try:
- List the packages the feed offers:
~~~
$ coreupdater list --available
~~~
- Check the spelling and the requested version`,
	}

	integrityFailureIssue = &Issue{
		id: IntegrityFailureId,
		mdMsg: `
# Package integrity check failed

A downloaded archive or one of its files does not match the SHA-256 digest
recorded in its manifest. The cached archive was deleted and nothing was
installed.

## Things you can try:
- Retry; the archive is downloaded again
- If the failure persists the feed content is inconsistent; contact the feed maintainer`,
	}

	manifestInvalidIssue = &Issue{
		id: ManifestInvalidId,
		mdMsg: `
# Invalid package manifest

A package manifest could not be parsed or violates the manifest rules.

## Things you can try:
- If the file is local, reinstall the package or remove the broken manifest
- If the manifest came from the feed, report it to the feed maintainer`,
	}

	duplicatePackageIssue = &Issue{
		id: DuplicatePackageId,
		mdMsg: `
# Duplicate installed package

Two manifest files in ` + "`bin/installed-packages`" + ` declare the same package name.

## Things you can try:
- Remove the stale manifest file named in the error`,
	}

	notInstalledIssue = &Issue{
		id: NotInstalledId,
		mdMsg: `
# Package not installed

## Things you can try:
- List installed packages:
~~~
$ coreupdater list
~~~`,
	}

	stillRequiredIssue = &Issue{
		id: StillRequiredId,
		mdMsg: `
# Package still required

Other installed packages depend on the package you tried to remove.

## Things you can try:
- Uninstall the dependent packages listed in the error first`,
	}

	notDeliverableIssue = &Issue{
		id: NotDeliverableId,
		mdMsg: `
# Package not delivered by the updater

The package is tracked by the feed but must be installed by other means.`,
	}

	unresolvableDependencyIssue = &Issue{
		id: UnresolvableDependencyId,
		mdMsg: `
# Unresolvable dependency

Installed packages require packages that could not be installed from the feed.

## Things you can try:
- Check that the feed offers the required packages and versions
- Uninstall the package that declares the dependency`,
	}

	permissionDeniedIssue = &Issue{
		id: PermissionDeniedId,
		mdMsg: `
# Permission denied

The updater could not write below the installation root.

## Things you can try:
- Run the updater as the user that owns the installation
- Check the permissions of ` + "`bin/`" + ` and ` + "`data/`",
	}

	restartRequiredIssue = &Issue{
		id: RestartRequiredId,
		mdMsg: `
# Restart required

Files in use were staged as ` + "`*.delete`" + ` and replaced. Restart the host
to load the new versions; the staged files are removed on the next start.`,
	}

	issues = map[Id]*Issue{
		configLoadFailedIssue.Id():       configLoadFailedIssue,
		updaterDisabledIssue.Id():        updaterDisabledIssue,
		installRootLockedIssue.Id():      installRootLockedIssue,
		feedUnavailableIssue.Id():        feedUnavailableIssue,
		packageNotFoundIssue.Id():        packageNotFoundIssue,
		integrityFailureIssue.Id():       integrityFailureIssue,
		manifestInvalidIssue.Id():        manifestInvalidIssue,
		duplicatePackageIssue.Id():       duplicatePackageIssue,
		notInstalledIssue.Id():           notInstalledIssue,
		stillRequiredIssue.Id():          stillRequiredIssue,
		notDeliverableIssue.Id():         notDeliverableIssue,
		unresolvableDependencyIssue.Id(): unresolvableDependencyIssue,
		permissionDeniedIssue.Id():       permissionDeniedIssue,
		restartRequiredIssue.Id():        restartRequiredIssue,
	}

	// classes is checked in order; the first matching sentinel wins.
	classes = []struct {
		target error
		id     Id
	}{
		{updater.ErrLocked, InstallRootLockedId},
		{updater.ErrDisabled, UpdaterDisabledId},
		{updater.ErrNotInstalled, NotInstalledId},
		{updater.ErrDependencyStillRequired, StillRequiredId},
		{updater.ErrNotDeliverable, NotDeliverableId},
		{updater.ErrUnresolvableDependency, UnresolvableDependencyId},
		{installer.ErrInvalidPackageHash, IntegrityFailureId},
		{registry.ErrDuplicatePackage, DuplicatePackageId},
		{manifest.ErrManifestInvalid, ManifestInvalidId},
		{feed.ErrManifestNotFound, PackageNotFoundId},
		{feed.ErrFeedUnavailable, FeedUnavailableId},
		{fs.ErrPermission, PermissionDeniedId},
	}
)

func Values() []*Issue {
	return slices.Collect(maps.Values(issues))
}

func Get(id Id) *Issue {
	return issues[id]
}

// Classify maps an updater error to its catalog entry. It reports 0 for
// errors outside the taxonomy.
func Classify(err error) Id {
	if err == nil {
		return 0
	}
	var ae *ActionableError
	if errors.As(err, &ae) && ae.Issue != 0 {
		return ae.Issue
	}
	for _, c := range classes {
		if errors.Is(err, c.target) {
			return c.id
		}
	}
	return 0
}
