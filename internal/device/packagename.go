package device

import (
	"path/filepath"
	"strconv"
	"strings"

	"git.home.luguber.info/inful/holocommander/internal/portal"
)

var packageExtensions = []string{".appxbundle", ".msixbundle", ".appx", ".msix"}

// squashName removes spaces and underscores.
func squashName(name string) string {
	return strings.NewReplacer(" ", "", "_", "").Replace(name)
}

// squashPackageName concatenates the underscore separated segments of name up
// to, not including, the first segment that is a version number, and removes
// spaces.
func squashPackageName(name string) string {
	var b strings.Builder
	for _, part := range strings.Split(name, "_") {
		if isVersion(part) {
			break
		}
		b.WriteString(part)
	}
	return strings.ReplaceAll(b.String(), " ", "")
}

// isVersion accepts dotted versions with two to four numeric components.
func isVersion(s string) bool {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) < 2 || len(parts) > 4 {
		return false
	}
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return false
		}
	}
	return true
}

// trimPackageExtension strips the directory and a known package extension.
func trimPackageExtension(fileName string) string {
	base := filepath.Base(fileName)
	lower := strings.ToLower(base)
	for _, ext := range packageExtensions {
		if strings.HasSuffix(lower, ext) {
			return base[:len(base)-len(ext)]
		}
	}
	return base
}

// familyKeys returns the squashed forms of an installed package family name
// that may equal a squashed package file name. A family name is
// "<name>_<publisherId>"; some portals report the full package name instead.
func familyKeys(family string) []string {
	keys := []string{squashName(family), squashPackageName(family)}
	if i := strings.LastIndex(family, "_"); i > 0 {
		keys = append(keys, squashName(strings.TrimRight(family[:i], "_")))
	}
	return keys
}

// ResolveAppName finds the display name of the installed application whose
// family name matches the package file name. The first match in list order
// wins; "" means no match.
func ResolveAppName(packageFileName string, installed []portal.PackageInfo) string {
	target := squashPackageName(trimPackageExtension(packageFileName))
	if target == "" {
		return ""
	}
	for _, pkg := range installed {
		for _, key := range familyKeys(pkg.FamilyName) {
			if key != "" && key == target {
				return pkg.Name
			}
		}
	}
	return ""
}
