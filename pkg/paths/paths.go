// Package paths computes the per-user directory layout a submitted
// benchmark's jobscripts, logs and outputs live under, on both sides of the
// optional container mount boundary between xbatctld and the managed host.
package paths

import (
	"path/filepath"
	"strings"
)

const (
	homeBasePath   = ".xbat"
	homeJobscripts = "jobscripts"
	homeLogs       = "logs"
	homeOutputs    = "outputs"
)

// MountPrefix is where a user's home directory is mounted inside the
// xbatctld container. Leave empty when xbatctld runs directly on the
// scheduler host, in which case internal and external paths coincide.
var MountPrefix = "/external"

// Internal converts a host-side absolute path into the path visible inside
// the container by prefixing the mount point. The leading slash is dropped
// before joining so the host path nests under the prefix instead of
// replacing it.
func Internal(hostPath string) string {
	if MountPrefix == "" {
		return hostPath
	}
	return filepath.Join(MountPrefix, strings.TrimPrefix(hostPath, "/"))
}

// Set is one side (internal or external) of the directory layout.
type Set struct {
	Base       string
	Jobscripts string
	Logs       string
	Outputs    string
}

// Directories holds both the external (host-visible) and internal
// (container-visible) view of a user's xbat working directories.
type Directories struct {
	External Set
	Internal Set
}

// List returns the four directories of a Set in creation order: base before
// its children.
func (s Set) List() []string {
	return []string{s.Base, s.Jobscripts, s.Logs, s.Outputs}
}

// ForHome computes the xbat directory layout for a user's home directory.
func ForHome(homedir string) Directories {
	externalBase := filepath.Join(homedir, homeBasePath)
	external := Set{
		Base:       externalBase,
		Jobscripts: filepath.Join(externalBase, homeJobscripts),
		Logs:       filepath.Join(externalBase, homeLogs),
		Outputs:    filepath.Join(externalBase, homeOutputs),
	}

	internalBase := externalBase
	if MountPrefix != "" {
		internalBase = filepath.Join(MountPrefix, externalBase)
	}
	internal := Set{
		Base:       internalBase,
		Jobscripts: filepath.Join(internalBase, homeJobscripts),
		Logs:       filepath.Join(internalBase, homeLogs),
		Outputs:    filepath.Join(internalBase, homeOutputs),
	}

	return Directories{External: external, Internal: internal}
}
