package portal

import (
	"context"
	"crypto/x509"
	"net/url"
)

// Factory builds a Client bound to a normalized address and credentials.
// It must not perform network I/O.
type Factory func(address, username, password string) (Client, error)

// ConnectRequest carries the handshake parameters.
type ConnectRequest struct {
	SSID             string
	NetworkKey       string
	UpdateConnection bool
	// Certificate pins the device's self-signed root when non-nil.
	Certificate *x509.Certificate
}

// MrcSettings selects the streams included in a recording or live view.
type MrcSettings struct {
	Holograms   bool
	ColorCamera bool
	Microphone  bool
	AppAudio    bool
}

// AllStreams enables holograms, color camera, microphone and application audio.
var AllStreams = MrcSettings{Holograms: true, ColorCamera: true, Microphone: true, AppAudio: true}

// Client is the transport adapter consumed by the device core.
//
// Connect requests the handshake; its outcome is delivered as a
// ConnectionStatusEvent to the handlers registered with OnConnectionStatus,
// possibly before Connect returns. Handlers are invoked from the client's own
// goroutines and must not block for long. Unsubscribe functions are idempotent
// and safe to call from inside a handler.
type Client interface {
	Address() string

	RootCertificate(ctx context.Context, acceptUntrusted bool) (*x509.Certificate, error)
	Connect(ctx context.Context, req ConnectRequest) error
	OnConnectionStatus(fn func(ConnectionStatusEvent)) (unsubscribe func())
	OnInstallStatus(fn func(InstallStatusEvent)) (unsubscribe func())

	DeviceName(ctx context.Context) (string, error)
	SetDeviceName(ctx context.Context, name string) error
	Reboot(ctx context.Context) error
	Shutdown(ctx context.Context) error
	SetInterPupilaryDistance(ctx context.Context, ipd float32) error

	MrcFiles(ctx context.Context) (MrcFileList, error)
	MrcFile(ctx context.Context, fileName string, thumbnail bool) ([]byte, error)
	DeleteMrcFile(ctx context.Context, fileName string) error
	StartMrcRecording(ctx context.Context, settings MrcSettings) error
	StopMrcRecording(ctx context.Context) error
	LiveStreamURL(settings MrcSettings) *url.URL

	InstalledApps(ctx context.Context) (AppPackages, error)
	RunningProcesses(ctx context.Context) (RunningProcesses, error)
	// WatchRunningProcesses streams process snapshots until ctx is done.
	WatchRunningProcesses(ctx context.Context) (<-chan RunningProcesses, error)
	InstallApplication(ctx context.Context, appName string, files InstallFiles) error
	UninstallApplication(ctx context.Context, packageFullName string) error
	LaunchApplication(ctx context.Context, appID, packageFullName string) (uint32, error)
	TerminateApplication(ctx context.Context, packageFullName string) error
}
