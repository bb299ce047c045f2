package device

import (
	"context"
	"errors"
	"testing"
	"time"

	ferrors "git.home.luguber.info/inful/holocommander/internal/foundation/errors"
	"git.home.luguber.info/inful/holocommander/internal/portal"
	"git.home.luguber.info/inful/holocommander/internal/portal/portaltest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommands_RequireLiveSession(t *testing.T) {
	fake := portaltest.New("HOLO-1")
	m := newTestMonitor(t, fake)
	ctx := t.Context()

	calls := map[string]func() error{
		"machine_name": func() error { _, err := m.MachineName(ctx); return err },
		"set_name":     func() error { _, err := m.SetDeviceName(ctx, "x"); return err },
		"set_ipd":      func() error { return m.SetIPD(ctx, 63.5) },
		"reboot":       func() error { return m.Reboot(ctx) },
		"shutdown":     func() error { return m.Shutdown(ctx) },
		"mrc_files":    func() error { _, err := m.MixedRealityFiles(ctx); return err },
		"mrc_file":     func() error { _, err := m.MixedRealityFile(ctx, "a.mp4"); return err },
		"mrc_delete":   func() error { return m.DeleteMixedRealityFile(ctx, "a.mp4") },
		"mrc_start":    func() error { return m.StartMixedRealityRecording(ctx) },
		"mrc_stop":     func() error { return m.StopMixedRealityRecording(ctx) },
		"mrc_view":     func() error { _, err := m.MixedRealityViewURL(); return err },
		"apps":         func() error { _, err := m.InstalledApplications(ctx); return err },
		"processes":    func() error { _, err := m.RunningProcesses(ctx); return err },
		"watch":        func() error { _, err := m.WatchRunningProcesses(ctx); return err },
		"install": func() error {
			return m.InstallApplication(ctx, portal.InstallFiles{AppPackage: "App_1.0.0.0_x64.appx"})
		},
		"launch":        func() error { _, err := m.LaunchApplication(ctx, "App", "App_1.0"); return err },
		"terminate":     func() error { return m.TerminateApplication(ctx, "App_1.0") },
		"terminate_all": func() error { return m.TerminateAllApplications(ctx) },
		"uninstall":     func() error { return m.UninstallApplication(ctx, "App_1.0") },
		"uninstall_all": func() error { return m.UninstallAllApplications(ctx) },
	}
	for name, call := range calls {
		err := call()
		assert.True(t, errors.Is(err, ferrors.ErrNotConnected), name)
	}

	// no implicit reconnect
	assert.Equal(t, 0, fake.Calls(portaltest.MethodConnect))
}

func TestSetDeviceName_Idempotent(t *testing.T) {
	fake := portaltest.New("HOLO-1")
	m := connectedMonitor(t, fake)
	ctx := t.Context()

	changed, err := m.SetDeviceName(ctx, "lab-02")
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = m.SetDeviceName(ctx, "lab-02")
	require.NoError(t, err)
	assert.False(t, changed)

	assert.Equal(t, 1, fake.Calls(portaltest.MethodSetDeviceName))
	assert.Equal(t, "lab-02", m.Identity().MachineName)

	// comparison is exact
	changed, err = m.SetDeviceName(ctx, "LAB-02")
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestSetDeviceName_Validation(t *testing.T) {
	m := connectedMonitor(t, portaltest.New("HOLO-1"))
	_, err := m.SetDeviceName(t.Context(), "  ")
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))
}

func TestSetDeviceName_FailureKeepsCache(t *testing.T) {
	fake := portaltest.New("HOLO-1")
	m := connectedMonitor(t, fake)
	_, err := m.MachineName(t.Context())
	require.NoError(t, err)

	fake.SetError(portaltest.MethodSetDeviceName, errors.New("denied"))
	changed, err := m.SetDeviceName(t.Context(), "lab-03")
	require.Error(t, err)
	assert.False(t, changed)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryOperation))
	assert.Equal(t, "HOLO-1", m.Identity().MachineName)
}

func TestReboot_InvalidatesFirstContact(t *testing.T) {
	fake := portaltest.New("HOLO-1")
	m := connectedMonitor(t, fake)

	require.NoError(t, m.Reboot(t.Context()))
	assert.False(t, m.FirstContact())
	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, 0, fake.InstallSubscribers())

	_, err := m.RunningProcesses(t.Context())
	assert.True(t, errors.Is(err, ferrors.ErrNotConnected))
}

func TestReboot_FailureStillInvalidates(t *testing.T) {
	fake := portaltest.New("HOLO-1")
	fake.SetError(portaltest.MethodReboot, errors.New("connection reset"))
	m := connectedMonitor(t, fake)

	err := m.Reboot(t.Context())
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryOperation))
	assert.False(t, m.FirstContact())
}

func TestShutdown_InvalidatesSession(t *testing.T) {
	fake := portaltest.New("HOLO-1")
	m := connectedMonitor(t, fake)

	require.NoError(t, m.Shutdown(t.Context()))
	assert.Equal(t, 1, fake.Calls(portaltest.MethodShutdown))
	assert.False(t, m.FirstContact())
}

func TestSetIPD(t *testing.T) {
	fake := portaltest.New("HOLO-1")
	m := connectedMonitor(t, fake)

	require.NoError(t, m.SetIPD(t.Context(), 64.2))
	assert.InDelta(t, 64.2, fake.IPD(), 0.001)

	err := m.SetIPD(t.Context(), 0)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))
}

func TestTerminateAll_SkipsDenyListCaseInsensitive(t *testing.T) {
	fake := portaltest.New("HOLO-1")
	fake.SetProcesses(
		portal.ProcessInfo{Name: "cortana", PackageFullName: "Microsoft.Windows.Cortana_1.0_neutral"},
		portal.ProcessInfo{Name: "MyApp", PackageFullName: "MyApp_1.0.0.0_x64__abc"},
		portal.ProcessInfo{Name: "HOLOSHELLAPP", PackageFullName: "HoloShell_1.0"},
		portal.ProcessInfo{Name: "holographic shell", PackageFullName: "HoloShellHost_1.0"},
		portal.ProcessInfo{Name: "svchost", PackageFullName: ""},
		portal.ProcessInfo{Name: "Other", PackageFullName: "Other_2.0.0.0_arm__xyz"},
		portal.ProcessInfo{ImageName: "SearchUI.exe", Name: "searchui", PackageFullName: "Search_1.0"},
	)
	m := connectedMonitor(t, fake)

	require.NoError(t, m.TerminateAllApplications(t.Context()))
	assert.Equal(t, []string{"MyApp_1.0.0.0_x64__abc", "Other_2.0.0.0_arm__xyz"}, fake.Terminated())
	assert.Equal(t, 2, fake.Calls(portaltest.MethodTerminate))
}

func TestTerminateAll_ConfiguredSkipList(t *testing.T) {
	fake := portaltest.New("HOLO-1")
	fake.SetProcesses(
		portal.ProcessInfo{Name: "Kiosk", PackageFullName: "Kiosk_1.0"},
		portal.ProcessInfo{Name: "MyApp", PackageFullName: "MyApp_1.0"},
	)
	m := connectedMonitor(t, fake, WithTerminateSkip("KIOSK"))

	require.NoError(t, m.TerminateAllApplications(t.Context()))
	assert.Equal(t, []string{"MyApp_1.0"}, fake.Terminated())
}

func TestTerminateAll_ContinuesPastFailures(t *testing.T) {
	fake := portaltest.New("HOLO-1")
	fake.SetProcesses(
		portal.ProcessInfo{Name: "A", PackageFullName: "A_1"},
		portal.ProcessInfo{Name: "B", PackageFullName: "B_1"},
	)
	fake.SetError(portaltest.MethodTerminate, errors.New("access denied"))
	m := connectedMonitor(t, fake)

	err := m.TerminateAllApplications(t.Context())
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryOperation))
	assert.Equal(t, 2, fake.Calls(portaltest.MethodTerminate))
}

func TestUninstallAll_OnlySideloaded(t *testing.T) {
	fake := portaltest.New("HOLO-1")
	fake.SetApps(
		portal.PackageInfo{Name: "Store", FullName: "Store_1", PackageOrigin: portal.OriginStore},
		portal.PackageInfo{Name: "Dev", FullName: "Dev_1", PackageOrigin: portal.OriginDeveloperUnsigned},
		portal.PackageInfo{Name: "Signed", FullName: "Signed_1", PackageOrigin: portal.OriginDeveloperSigned},
		portal.PackageInfo{Name: "Inbox", FullName: "Inbox_1", PackageOrigin: portal.OriginInbox},
	)
	m := connectedMonitor(t, fake)

	require.NoError(t, m.UninstallAllApplications(t.Context()))
	assert.Equal(t, []string{"Dev_1", "Signed_1"}, fake.Uninstalled())
}

func TestInstallApplication_ResolvesAppName(t *testing.T) {
	fake := portaltest.New("HOLO-1")
	fake.SetApps(portal.PackageInfo{Name: "App Name", FamilyName: "App.Name_1.0.0.0_x64__abcd1234"})
	m := connectedMonitor(t, fake)

	files := portal.InstallFiles{
		AppPackage:   "/builds/App.Name_2.1.0.0_x64.appx",
		Dependencies: []string{"/builds/Dependencies/x64/Microsoft.VCLibs.x64.14.00.appx"},
		Certificate:  "/builds/App.Name_2.1.0.0_x64.cer",
	}
	require.NoError(t, m.InstallApplication(t.Context(), files))

	installs := fake.Installs()
	require.Len(t, installs, 1)
	assert.Equal(t, "App Name", installs[0].AppName)
	assert.Equal(t, files, installs[0].Files)
}

func TestInstallApplication_NoMatchUsesDefaultName(t *testing.T) {
	fake := portaltest.New("HOLO-1")
	m := connectedMonitor(t, fake)

	require.NoError(t, m.InstallApplication(t.Context(), portal.InstallFiles{AppPackage: "New_1.0.0.0_x64.appx"}))
	assert.Equal(t, "", fake.Installs()[0].AppName)

	err := m.InstallApplication(t.Context(), portal.InstallFiles{})
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))
}

func TestInstallApplication_ErrorCarriesPackage(t *testing.T) {
	fake := portaltest.New("HOLO-1")
	fake.SetError(portaltest.MethodInstall, errors.New("disk full"))
	m := connectedMonitor(t, fake)

	err := m.InstallApplication(t.Context(), portal.InstallFiles{AppPackage: "/x/App_1.0.0.0_x64.appx"})
	classified, ok := ferrors.AsClassified(err)
	require.True(t, ok)
	assert.Equal(t, ferrors.CategoryOperation, classified.Category())
	pkg, _ := classified.Context().GetString("package")
	assert.Equal(t, "App_1.0.0.0_x64.appx", pkg)
}

func TestTerminateApplication_ClassifiedAdapterErrorWrapped(t *testing.T) {
	fake := portaltest.New("HOLO-1")
	fake.SetError(portaltest.MethodTerminate, ferrors.NotFoundError("Not Found").WithContext("status", 404).Build())
	m := connectedMonitor(t, fake)

	err := m.TerminateApplication(t.Context(), "App_1.0.0.0_x64__abc")
	classified, ok := ferrors.AsClassified(err)
	require.True(t, ok)
	assert.Equal(t, ferrors.CategoryOperation, classified.Category())
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryNotFound), "adapter error kept as cause")

	pkg, _ := classified.Context().GetString("package")
	assert.Equal(t, "App_1.0.0.0_x64__abc", pkg)
	dev, _ := classified.Context().GetString("device")
	assert.Equal(t, m.Name(), dev)
	op, _ := classified.Context().GetString("operation")
	assert.Equal(t, "terminate_app", op)
}

func TestCommand_NotConnectedPassesThrough(t *testing.T) {
	fake := portaltest.New("HOLO-1")
	fake.SetError(portaltest.MethodTerminate, ferrors.ErrNotConnected)
	m := connectedMonitor(t, fake)

	err := m.TerminateApplication(t.Context(), "App_1")
	assert.Equal(t, ferrors.CategoryNotConnected, ferrors.GetCategory(err))
}

func TestLaunchAndTerminate(t *testing.T) {
	fake := portaltest.New("HOLO-1")
	m := connectedMonitor(t, fake)

	pid, err := m.LaunchApplication(t.Context(), "App", "App_1.0")
	require.NoError(t, err)
	assert.NotZero(t, pid)
	assert.Equal(t, []string{"App_1.0"}, fake.Launched())

	require.NoError(t, m.TerminateApplication(t.Context(), "App_1.0"))
	require.NoError(t, m.UninstallApplication(t.Context(), "App_1.0"))
	assert.Equal(t, []string{"App_1.0"}, fake.Uninstalled())
}

func TestMixedReality(t *testing.T) {
	fake := portaltest.New("HOLO-1")
	fake.SetMrcFiles(portal.MrcFile{FileName: "a.mp4", FileSize: 10}, portal.MrcFile{FileName: "b.jpg"})
	m := connectedMonitor(t, fake)
	ctx := t.Context()

	files, err := m.MixedRealityFiles(ctx)
	require.NoError(t, err)
	assert.Len(t, files, 2)

	data, err := m.MixedRealityFile(ctx, "a.mp4")
	require.NoError(t, err)
	assert.Equal(t, []byte("data:a.mp4"), data)

	require.NoError(t, m.DeleteMixedRealityFile(ctx, "b.jpg"))
	assert.Equal(t, []string{"b.jpg"}, fake.DeletedMrc())

	require.NoError(t, m.StartMixedRealityRecording(ctx))
	assert.True(t, fake.Recording())
	require.NoError(t, m.StopMixedRealityRecording(ctx))
	assert.False(t, fake.Recording())

	u, err := m.MixedRealityViewURL()
	require.NoError(t, err)
	q := u.Query()
	for _, key := range []string{"holo", "pv", "mic", "loopback"} {
		assert.Equal(t, "true", q.Get(key), key)
	}
}

func TestWatchRunningProcesses(t *testing.T) {
	fake := portaltest.New("HOLO-1")
	fake.SetProcesses(portal.ProcessInfo{Name: "MyApp", ProcessID: 42})
	m := connectedMonitor(t, fake)

	ctx, cancel := context.WithCancel(t.Context())
	ch, err := m.WatchRunningProcesses(ctx)
	require.NoError(t, err)

	snap := <-ch
	require.Len(t, snap.Processes, 1)
	assert.Equal(t, uint32(42), snap.Processes[0].ProcessID)

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(waitFor):
		t.Fatal("stream not closed on cancel")
	}
}
