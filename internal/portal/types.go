package portal

import (
	"fmt"
	"path/filepath"
	"time"
)

// ConnectionStatus is the handshake progress reported by a Client.
type ConnectionStatus int

const (
	StatusNone ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusFailed
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusFailed:
		return "failed"
	default:
		return "none"
	}
}

// ConnectionStatusEvent is delivered for every handshake phase.
type ConnectionStatusEvent struct {
	Status  ConnectionStatus
	Phase   string
	Message string
}

// InstallPhase is the progress of an application install.
type InstallPhase int

const (
	InstallStarted InstallPhase = iota
	InstallInProgress
	InstallCompleted
	InstallFailed
)

func (p InstallPhase) String() string {
	switch p {
	case InstallStarted:
		return "started"
	case InstallInProgress:
		return "in_progress"
	case InstallCompleted:
		return "completed"
	case InstallFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// InstallStatusEvent reports install progress. It is transient.
type InstallStatusEvent struct {
	Phase   InstallPhase
	Message string
}

// PackageOrigin values as reported by the package manager.
const (
	OriginUnknown           = 0
	OriginUnsigned          = 1
	OriginInbox             = 2
	OriginStore             = 3
	OriginDeveloperUnsigned = 4
	OriginDeveloperSigned   = 5
	OriginLineOfBusiness    = 6
)

// PackageInfo describes one installed application package.
type PackageInfo struct {
	Name          string `json:"Name"`
	FamilyName    string `json:"PackageFamilyName"`
	FullName      string `json:"PackageFullName"`
	AppID         string `json:"PackageRelativeId"`
	Publisher     string `json:"Publisher"`
	PackageOrigin int    `json:"PackageOrigin"`
}

// IsSideloaded reports whether the package was deployed by a developer rather than
// shipped with the OS or the store.
func (p PackageInfo) IsSideloaded() bool {
	return p.PackageOrigin == OriginDeveloperUnsigned || p.PackageOrigin == OriginDeveloperSigned
}

// AppPackages is the installed-application list.
type AppPackages struct {
	Packages []PackageInfo `json:"InstalledPackages"`
}

// ProcessInfo describes one running process.
type ProcessInfo struct {
	Name            string  `json:"AppName"`
	ImageName       string  `json:"ImageName"`
	PackageFullName string  `json:"PackageFullName"`
	ProcessID       uint32  `json:"ProcessId"`
	UserName        string  `json:"UserName"`
	CPUUsage        float64 `json:"CPUUsage"`
	WorkingSetSize  uint64  `json:"WorkingSetSize"`
	IsRunning       bool    `json:"IsRunning"`
}

// DisplayName returns the app name, falling back to the image name.
func (p ProcessInfo) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ImageName
}

// RunningProcesses is the process list.
type RunningProcesses struct {
	Processes []ProcessInfo `json:"Processes"`
}

// MrcFile describes one mixed reality capture on the device.
type MrcFile struct {
	FileName     string `json:"FileName"`
	FileSize     uint64 `json:"FileSize"`
	CreationTime int64  `json:"CreationTime"` // Windows FILETIME
}

// Created converts the FILETIME creation stamp.
func (f MrcFile) Created() time.Time {
	const epochDelta = 116444736000000000 // 100ns intervals between 1601 and 1970
	if f.CreationTime <= epochDelta {
		return time.Time{}
	}
	return time.Unix(0, (f.CreationTime-epochDelta)*100).UTC()
}

// MrcFileList is the list of captures.
type MrcFileList struct {
	Files []MrcFile `json:"MrcRecordings"`
}

// InstallFiles names the local files required to install an application.
type InstallFiles struct {
	AppPackage   string
	Dependencies []string
	Certificate  string
}

// PackageFileName is the base name of the application package file.
func (f InstallFiles) PackageFileName() string {
	return filepath.Base(f.AppPackage)
}
