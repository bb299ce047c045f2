// Package portaltest provides a scriptable in-memory portal.Client for tests.
package portaltest

import (
	"context"
	"crypto/x509"
	"fmt"
	"net/url"
	"slices"
	"sync"
	"time"

	"git.home.luguber.info/inful/holocommander/internal/portal"
)

// Method names accepted by SetError and Calls.
const (
	MethodRootCertificate  = "RootCertificate"
	MethodConnect          = "Connect"
	MethodDeviceName       = "DeviceName"
	MethodSetDeviceName    = "SetDeviceName"
	MethodReboot           = "Reboot"
	MethodShutdown         = "Shutdown"
	MethodSetIPD           = "SetInterPupilaryDistance"
	MethodMrcFiles         = "MrcFiles"
	MethodMrcFile          = "MrcFile"
	MethodDeleteMrcFile    = "DeleteMrcFile"
	MethodStartMrc         = "StartMrcRecording"
	MethodStopMrc          = "StopMrcRecording"
	MethodInstalledApps    = "InstalledApps"
	MethodRunningProcesses = "RunningProcesses"
	MethodWatchProcesses   = "WatchRunningProcesses"
	MethodInstall          = "InstallApplication"
	MethodUninstall        = "UninstallApplication"
	MethodLaunch           = "LaunchApplication"
	MethodTerminate        = "TerminateApplication"
)

// ConnectMode controls what the fake reports after Connect.
type ConnectMode int

const (
	// ConnectSucceeds emits Connecting then Connected before Connect returns.
	ConnectSucceeds ConnectMode = iota
	// ConnectFails emits Connecting then Failed before Connect returns.
	ConnectFails
	// ConnectSilent emits nothing; tests drive the outcome with EmitStatus.
	ConnectSilent
)

// InstallCall records one InstallApplication invocation.
type InstallCall struct {
	AppName string
	Files   portal.InstallFiles
}

// Fake implements portal.Client in memory. The zero value is not usable; use New.
type Fake struct {
	mu sync.Mutex

	address     string
	username    string
	password    string
	mode        ConnectMode
	failMessage string
	delay       time.Duration
	connectGate chan struct{}

	calls map[string]int
	errs  map[string]error

	statusSubs  map[uint64]func(portal.ConnectionStatusEvent)
	installSubs map[uint64]func(portal.InstallStatusEvent)
	nextSub     uint64

	name        string
	ipd         float32
	cert        *x509.Certificate
	lastConnect portal.ConnectRequest
	apps        []portal.PackageInfo
	processes   []portal.ProcessInfo
	mrcFiles    []portal.MrcFile
	recording   bool
	nextPID     uint32

	installs    []InstallCall
	uninstalled []string
	terminated  []string
	launched    []string
	deletedMrc  []string
	installFeed []portal.InstallStatusEvent
}

// New returns a fake device that connects successfully and reports name.
func New(name string) *Fake {
	return &Fake{
		name:        name,
		failMessage: "handshake rejected",
		calls:       make(map[string]int),
		errs:        make(map[string]error),
		statusSubs:  make(map[uint64]func(portal.ConnectionStatusEvent)),
		installSubs: make(map[uint64]func(portal.InstallStatusEvent)),
		cert:        &x509.Certificate{},
		nextPID:     1000,
	}
}

// Factory returns a portal.Factory handing out f, recording the address and
// credentials it was built with.
func (f *Fake) Factory() portal.Factory {
	return func(address, username, password string) (portal.Client, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.calls["Factory"]++
		if err := f.errs["Factory"]; err != nil {
			return nil, err
		}
		f.address, f.username, f.password = address, username, password
		return f, nil
	}
}

// SetConnectMode configures the outcome reported for subsequent Connect calls.
func (f *Fake) SetConnectMode(mode ConnectMode) {
	f.mu.Lock()
	f.mode = mode
	f.mu.Unlock()
}

// SetFailMessage sets the message carried by the Failed status in ConnectFails mode.
func (f *Fake) SetFailMessage(msg string) {
	f.mu.Lock()
	f.failMessage = msg
	f.mu.Unlock()
}

// SetError makes method return err until cleared with a nil err.
func (f *Fake) SetError(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, method)
		return
	}
	f.errs[method] = err
}

// SetDelay adds latency to every call.
func (f *Fake) SetDelay(d time.Duration) {
	f.mu.Lock()
	f.delay = d
	f.mu.Unlock()
}

// HoldConnect makes Connect block until the returned release function is called.
func (f *Fake) HoldConnect() (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.connectGate = gate
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			if f.connectGate == gate {
				f.connectGate = nil
			}
			f.mu.Unlock()
			close(gate)
		})
	}
}

// SetApps replaces the installed package list.
func (f *Fake) SetApps(apps ...portal.PackageInfo) {
	f.mu.Lock()
	f.apps = slices.Clone(apps)
	f.mu.Unlock()
}

// SetProcesses replaces the running process list.
func (f *Fake) SetProcesses(procs ...portal.ProcessInfo) {
	f.mu.Lock()
	f.processes = slices.Clone(procs)
	f.mu.Unlock()
}

// SetMrcFiles replaces the capture list.
func (f *Fake) SetMrcFiles(files ...portal.MrcFile) {
	f.mu.Lock()
	f.mrcFiles = slices.Clone(files)
	f.mu.Unlock()
}

// SetInstallFeed sets the install status events emitted during InstallApplication.
func (f *Fake) SetInstallFeed(evts ...portal.InstallStatusEvent) {
	f.mu.Lock()
	f.installFeed = slices.Clone(evts)
	f.mu.Unlock()
}

// SetName changes the remote name without counting a SetDeviceName call.
func (f *Fake) SetName(name string) {
	f.mu.Lock()
	f.name = name
	f.mu.Unlock()
}

// Name is the current remote device name.
func (f *Fake) Name() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.name
}

// Calls returns how often method was invoked.
func (f *Fake) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// Credentials returns the address and credentials the Factory was called with.
func (f *Fake) Credentials() (address, username, password string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.address, f.username, f.password
}

// LastConnect returns the request of the most recent Connect.
func (f *Fake) LastConnect() portal.ConnectRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastConnect
}

// StatusSubscribers is the number of live connection-status handlers.
func (f *Fake) StatusSubscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.statusSubs)
}

// InstallSubscribers is the number of live install-status handlers.
func (f *Fake) InstallSubscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.installSubs)
}

func (f *Fake) Terminated() []string  { return f.snapshot(&f.terminated) }
func (f *Fake) Uninstalled() []string { return f.snapshot(&f.uninstalled) }
func (f *Fake) Launched() []string    { return f.snapshot(&f.launched) }
func (f *Fake) DeletedMrc() []string  { return f.snapshot(&f.deletedMrc) }

// Installs returns every InstallApplication call.
func (f *Fake) Installs() []InstallCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.installs)
}

// IPD returns the last interpupillary distance set.
func (f *Fake) IPD() float32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ipd
}

// Recording reports whether an MRC recording is running.
func (f *Fake) Recording() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recording
}

func (f *Fake) snapshot(s *[]string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(*s)
}

// EmitStatus delivers evt to every connection-status handler.
func (f *Fake) EmitStatus(evt portal.ConnectionStatusEvent) {
	f.mu.Lock()
	handlers := make([]func(portal.ConnectionStatusEvent), 0, len(f.statusSubs))
	for _, fn := range f.statusSubs {
		handlers = append(handlers, fn)
	}
	f.mu.Unlock()
	for _, fn := range handlers {
		fn(evt)
	}
}

// EmitInstall delivers evt to every install-status handler.
func (f *Fake) EmitInstall(evt portal.InstallStatusEvent) {
	f.mu.Lock()
	handlers := make([]func(portal.InstallStatusEvent), 0, len(f.installSubs))
	for _, fn := range f.installSubs {
		handlers = append(handlers, fn)
	}
	f.mu.Unlock()
	for _, fn := range handlers {
		fn(evt)
	}
}

// enter counts the call, applies the delay and returns the scripted error.
func (f *Fake) enter(ctx context.Context, method string) error {
	f.mu.Lock()
	f.calls[method]++
	delay := f.delay
	err := f.errs[method]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *Fake) Address() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.address
}

func (f *Fake) RootCertificate(ctx context.Context, _ bool) (*x509.Certificate, error) {
	if err := f.enter(ctx, MethodRootCertificate); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cert, nil
}

func (f *Fake) Connect(ctx context.Context, req portal.ConnectRequest) error {
	if err := f.enter(ctx, MethodConnect); err != nil {
		return err
	}

	f.mu.Lock()
	f.lastConnect = req
	gate := f.connectGate
	mode := f.mode
	failMessage := f.failMessage
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	switch mode {
	case ConnectSucceeds:
		f.EmitStatus(portal.ConnectionStatusEvent{Status: portal.StatusConnecting, Phase: "handshake"})
		f.EmitStatus(portal.ConnectionStatusEvent{Status: portal.StatusConnected, Message: "connected"})
	case ConnectFails:
		f.EmitStatus(portal.ConnectionStatusEvent{Status: portal.StatusConnecting, Phase: "handshake"})
		f.EmitStatus(portal.ConnectionStatusEvent{Status: portal.StatusFailed, Message: failMessage})
	case ConnectSilent:
	}
	return nil
}

func (f *Fake) OnConnectionStatus(fn func(portal.ConnectionStatusEvent)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSub++
	id := f.nextSub
	f.statusSubs[id] = fn
	return func() {
		f.mu.Lock()
		delete(f.statusSubs, id)
		f.mu.Unlock()
	}
}

func (f *Fake) OnInstallStatus(fn func(portal.InstallStatusEvent)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSub++
	id := f.nextSub
	f.installSubs[id] = fn
	return func() {
		f.mu.Lock()
		delete(f.installSubs, id)
		f.mu.Unlock()
	}
}

func (f *Fake) DeviceName(ctx context.Context) (string, error) {
	if err := f.enter(ctx, MethodDeviceName); err != nil {
		return "", err
	}
	return f.Name(), nil
}

func (f *Fake) SetDeviceName(ctx context.Context, name string) error {
	if err := f.enter(ctx, MethodSetDeviceName); err != nil {
		return err
	}
	f.SetName(name)
	return nil
}

func (f *Fake) Reboot(ctx context.Context) error   { return f.enter(ctx, MethodReboot) }
func (f *Fake) Shutdown(ctx context.Context) error { return f.enter(ctx, MethodShutdown) }

func (f *Fake) SetInterPupilaryDistance(ctx context.Context, ipd float32) error {
	if err := f.enter(ctx, MethodSetIPD); err != nil {
		return err
	}
	f.mu.Lock()
	f.ipd = ipd
	f.mu.Unlock()
	return nil
}

func (f *Fake) MrcFiles(ctx context.Context) (portal.MrcFileList, error) {
	if err := f.enter(ctx, MethodMrcFiles); err != nil {
		return portal.MrcFileList{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return portal.MrcFileList{Files: slices.Clone(f.mrcFiles)}, nil
}

func (f *Fake) MrcFile(ctx context.Context, fileName string, thumbnail bool) ([]byte, error) {
	if err := f.enter(ctx, MethodMrcFile); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, file := range f.mrcFiles {
		if file.FileName == fileName {
			if thumbnail {
				return []byte("thumb:" + fileName), nil
			}
			return []byte("data:" + fileName), nil
		}
	}
	return nil, fmt.Errorf("mrc file %q not found", fileName)
}

func (f *Fake) DeleteMrcFile(ctx context.Context, fileName string) error {
	if err := f.enter(ctx, MethodDeleteMrcFile); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedMrc = append(f.deletedMrc, fileName)
	f.mrcFiles = slices.DeleteFunc(f.mrcFiles, func(m portal.MrcFile) bool { return m.FileName == fileName })
	return nil
}

func (f *Fake) StartMrcRecording(ctx context.Context, _ portal.MrcSettings) error {
	if err := f.enter(ctx, MethodStartMrc); err != nil {
		return err
	}
	f.mu.Lock()
	f.recording = true
	f.mu.Unlock()
	return nil
}

func (f *Fake) StopMrcRecording(ctx context.Context) error {
	if err := f.enter(ctx, MethodStopMrc); err != nil {
		return err
	}
	f.mu.Lock()
	f.recording = false
	f.mu.Unlock()
	return nil
}

func (f *Fake) LiveStreamURL(settings portal.MrcSettings) *url.URL {
	u, err := url.Parse(f.Address())
	if err != nil {
		u = &url.URL{}
	}
	u.Path = "/api/holographic/stream/live_low.mp4"
	q := url.Values{}
	q.Set("holo", fmt.Sprint(settings.Holograms))
	q.Set("pv", fmt.Sprint(settings.ColorCamera))
	q.Set("mic", fmt.Sprint(settings.Microphone))
	q.Set("loopback", fmt.Sprint(settings.AppAudio))
	u.RawQuery = q.Encode()
	return u
}

func (f *Fake) InstalledApps(ctx context.Context) (portal.AppPackages, error) {
	if err := f.enter(ctx, MethodInstalledApps); err != nil {
		return portal.AppPackages{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return portal.AppPackages{Packages: slices.Clone(f.apps)}, nil
}

func (f *Fake) RunningProcesses(ctx context.Context) (portal.RunningProcesses, error) {
	if err := f.enter(ctx, MethodRunningProcesses); err != nil {
		return portal.RunningProcesses{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return portal.RunningProcesses{Processes: slices.Clone(f.processes)}, nil
}

// WatchRunningProcesses sends the current process list once and closes the
// channel when ctx is done.
func (f *Fake) WatchRunningProcesses(ctx context.Context) (<-chan portal.RunningProcesses, error) {
	if err := f.enter(ctx, MethodWatchProcesses); err != nil {
		return nil, err
	}
	f.mu.Lock()
	snap := portal.RunningProcesses{Processes: slices.Clone(f.processes)}
	f.mu.Unlock()

	ch := make(chan portal.RunningProcesses, 1)
	ch <- snap
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (f *Fake) InstallApplication(ctx context.Context, appName string, files portal.InstallFiles) error {
	if err := f.enter(ctx, MethodInstall); err != nil {
		f.EmitInstall(portal.InstallStatusEvent{Phase: portal.InstallFailed, Message: err.Error()})
		return err
	}
	f.mu.Lock()
	f.installs = append(f.installs, InstallCall{AppName: appName, Files: files})
	feed := slices.Clone(f.installFeed)
	f.mu.Unlock()

	for _, evt := range feed {
		f.EmitInstall(evt)
	}
	return nil
}

func (f *Fake) UninstallApplication(ctx context.Context, packageFullName string) error {
	if err := f.enter(ctx, MethodUninstall); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uninstalled = append(f.uninstalled, packageFullName)
	f.apps = slices.DeleteFunc(f.apps, func(p portal.PackageInfo) bool { return p.FullName == packageFullName })
	return nil
}

func (f *Fake) LaunchApplication(ctx context.Context, appID, packageFullName string) (uint32, error) {
	if err := f.enter(ctx, MethodLaunch); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launched = append(f.launched, packageFullName)
	f.nextPID++
	return f.nextPID, nil
}

func (f *Fake) TerminateApplication(ctx context.Context, packageFullName string) error {
	if err := f.enter(ctx, MethodTerminate); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, packageFullName)
	return nil
}

var _ portal.Client = (*Fake)(nil)
