package device

import "golang.org/x/text/cases"

// DefaultTerminateSkip lists system processes TerminateAllApplications leaves
// running.
var DefaultTerminateSkip = []string{
	"Cortana",
	"HoloShellApp",
	"Holographic Shell",
	"MixedRealityPortal",
	"Windows Shell Experience Host",
	"SearchUI",
	"SystemSettings",
}

type denyList map[string]struct{}

// fold returns the case-folded form of s. A Caser is stateful, so each call
// gets its own.
func fold(s string) string { return cases.Fold().String(s) }

func newDenyList(extra ...string) denyList {
	d := make(denyList, len(DefaultTerminateSkip)+len(extra))
	for _, name := range DefaultTerminateSkip {
		d[fold(name)] = struct{}{}
	}
	for _, name := range extra {
		if name != "" {
			d[fold(name)] = struct{}{}
		}
	}
	return d
}

// contains reports a case-insensitive match.
func (d denyList) contains(name string) bool {
	_, ok := d[fold(name)]
	return ok
}
