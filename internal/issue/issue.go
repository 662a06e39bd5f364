// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"cmp"
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type Id int

const (
	ConfigLoadFailedId Id = iota + 1
	IncompleteConfigId
	RegistryUnreachableId
	PackageNotFoundId
	MalformedMetadataId
	InvalidVersionId
	DownloadFailedId
	IntegrityMismatchId
	UnsafeArchiveId
	ExtractFailedId
	SwapRolledBackId
	FatalUpgradeId
	ConcurrentUpgradeId
	PermissionDeniedId
	PreflightFailedId
)

type MarkdownMsg string

type HttpLink string

type Issue struct {
	id       Id          // ID used to lookup the issue
	mdMsg    MarkdownMsg // Markdown text that will be rendered
	docLinks []HttpLink  // project documentation
	extLinks []HttpLink  // external links that might be useful for the user
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

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

// Render renders the issue as terminal Markdown using the glamour style at
// stylePath ("" for glamour's default).
func (i *Issue) Render(stylePath string) (string, error) {
	return i.RenderWithDetails(stylePath)
}

// RenderWithDetails renders the issue with a "Details" section listing the
// given lines (backup locations, paths, versions) before the links.
func (i *Issue) RenderWithDetails(stylePath string, details ...string) (string, error) {
	var sb strings.Builder
	sb.WriteString(string(i.mdMsg))

	if len(details) > 0 {
		sb.WriteString("\n\n## Details\n")
		for _, d := range details {
			sb.WriteString("- ")
			sb.WriteString(d)
			sb.WriteByte('\n')
		}
	}

	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		sb.WriteString("\n\n## See also\n")
		for _, link := range append(slices.Clone(i.docLinks), i.extLinks...) {
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
# Failed to load configuration!

The configuration file could not be read or does not match the expected schema.

## Things you can try:
- Print the effective configuration:
~~~
$ upgrader config show
~~~
- Recreate a starter file and copy your values over:
~~~
$ upgrader config init
~~~
- Check for typos in key names; unknown keys are rejected.`,
	}

	incompleteConfigIssue = &Issue{
		id: IncompleteConfigId,
		mdMsg: `
# Install configuration is incomplete!

An upgrade needs to know which package to fetch and which files it owns.

## Required settings:
- ` + "`name`" + `, the published package name
- ` + "`version`" + `, the version currently installed
- ` + "`install_dir`" + `, where the package lives
- ` + "`files`" + `, the managed paths inside install_dir

## Things you can try:
- Set them in config.cue, through UPGRADER_* environment variables or flags:
~~~
$ upgrader check --name @acme/tool --current-version 1.2.3 \
    --install-dir /opt/acme --file dist --file package.json
~~~`,
	}

	registryUnreachableIssue = &Issue{
		id: RegistryUnreachableId,
		mdMsg: `
# Registry unreachable!

The package registry did not answer, or answered with a server error.

## Things you can try:
- Check your network connection and proxy settings (HTTPS_PROXY)
- Verify the ` + "`registry`" + ` URL in your configuration
- Wait a moment and retry; the registry may be rate limiting you`,
		extLinks: []HttpLink{"https://status.npmjs.org"},
	}

	packageNotFoundIssue = &Issue{
		id: PackageNotFoundId,
		mdMsg: `
# Package not found!

The registry has no package with the configured name.

## Things you can try:
- Check the spelling of ` + "`name`" + `, including the scope ("@scope/tool")
- Make sure ` + "`registry`" + ` points at the registry the package is published to
- Private packages need credentials in the registry URL`,
	}

	malformedMetadataIssue = &Issue{
		id: MalformedMetadataId,
		mdMsg: `
# Registry returned unusable metadata!

The package document is missing the "latest" dist-tag, the version it
points to, or that version's tarball URL.

## Things you can try:
- Retry later; a publish may be in progress
- Ask the package maintainers to check the "latest" dist-tag`,
	}

	invalidVersionIssue = &Issue{
		id: InvalidVersionId,
		mdMsg: `
# Invalid version!

A version string is not valid semantic versioning (MAJOR.MINOR.PATCH).

## Things you can try:
- Set ` + "`version`" + ` to the installed version, e.g. "1.2.3" or "v1.2.3"
- If the registry publishes a non-semver "latest", report it upstream`,
		extLinks: []HttpLink{"https://semver.org"},
	}

	downloadFailedIssue = &Issue{
		id: DownloadFailedId,
		mdMsg: `
# Download failed!

The release artifact could not be downloaded completely. Nothing was changed.

## Things you can try:
- Retry the upgrade
- Raise ` + "`download_timeout`" + ` on slow connections
- Check free space in the temp directory`,
	}

	integrityMismatchIssue = &Issue{
		id: IntegrityMismatchId,
		mdMsg: `
# Integrity check failed!

The downloaded artifact does not match the digest the registry published.
Nothing was installed.

## Things you can try:
- Retry; a proxy or mirror may have served a corrupted file
- If it keeps failing, do not disable verification; report it to the maintainers`,
		extLinks: []HttpLink{"https://www.w3.org/TR/SRI/"},
	}

	unsafeArchiveIssue = &Issue{
		id: UnsafeArchiveId,
		mdMsg: `
# Unsafe archive rejected!

The release archive contains an entry that would be written outside the
staging directory (absolute path, ".." segment or escaping link).
Nothing was installed.

## Things you can try:
- Report the release to the package maintainers
- Pin the current version until a fixed release is published`,
	}

	extractFailedIssue = &Issue{
		id: ExtractFailedId,
		mdMsg: `
# Extraction failed!

The release archive could not be unpacked, or contained none of the managed
paths. Nothing was installed.

## Things you can try:
- Retry the upgrade; the download may have been corrupted
- Check that ` + "`files`" + ` matches the layout of the published package`,
	}

	swapRolledBackIssue = &Issue{
		id: SwapRolledBackId,
		mdMsg: `
# Upgrade rolled back!

Replacing the installed files failed part way, and every file was restored to
the previous version.

## Things you can try:
- Close running copies of the program that may hold files open
- Check free disk space and write permission on the install directory
- Retry the upgrade`,
	}

	fatalUpgradeIssue = &Issue{
		id: FatalUpgradeId,
		mdMsg: `
# Upgrade failed and could not be rolled back!

The installation may now be a mix of the old and new versions. The original
files were kept in a backup directory.

## Recover manually:
1. Stop any running copy of the program
2. For each managed path, move the copy from the backup directory back into
   the install directory, replacing what is there
3. Delete the backup directory once the program starts again

Do not run another upgrade until the installation is restored.`,
	}

	concurrentUpgradeIssue = &Issue{
		id: ConcurrentUpgradeId,
		mdMsg: `
# Upgrade already in progress!

Another upgrade is running in this process. Wait for it to finish and retry.`,
	}

	permissionDeniedIssue = &Issue{
		id: PermissionDeniedId,
		mdMsg: `
# Permission denied!

The upgrader cannot write to the install directory or its parent.

## Things you can try:
- Run the upgrade as the user that owns the installation
- Set ` + "`temp_dir`" + ` to a writable directory on the same filesystem
- For system-wide installs, use the package manager that installed it`,
	}

	preflightFailedIssue = &Issue{
		id: PreflightFailedId,
		mdMsg: `
# Upgrade cannot start!

The install directory is missing or is not a directory, or the artifact URL
is not usable. Nothing was downloaded.

## Things you can try:
- Check ` + "`install_dir`" + ` points at the existing installation
- Pass a full http(s) URL to --artifact-url`,
	}

	issues = map[Id]*Issue{
		configLoadFailedIssue.Id():    configLoadFailedIssue,
		incompleteConfigIssue.Id():    incompleteConfigIssue,
		registryUnreachableIssue.Id(): registryUnreachableIssue,
		packageNotFoundIssue.Id():     packageNotFoundIssue,
		malformedMetadataIssue.Id():   malformedMetadataIssue,
		invalidVersionIssue.Id():      invalidVersionIssue,
		downloadFailedIssue.Id():      downloadFailedIssue,
		integrityMismatchIssue.Id():   integrityMismatchIssue,
		unsafeArchiveIssue.Id():       unsafeArchiveIssue,
		extractFailedIssue.Id():       extractFailedIssue,
		swapRolledBackIssue.Id():      swapRolledBackIssue,
		fatalUpgradeIssue.Id():        fatalUpgradeIssue,
		concurrentUpgradeIssue.Id():   concurrentUpgradeIssue,
		permissionDeniedIssue.Id():    permissionDeniedIssue,
		preflightFailedIssue.Id():     preflightFailedIssue,
	}
)

// Values returns every registered issue ordered by Id.
func Values() []*Issue {
	out := maps.Values(issues)
	slices.SortFunc(out, func(a, b *Issue) int { return cmp.Compare(a.id, b.id) })
	return out
}

func Get(id Id) *Issue {
	return issues[id]
}
