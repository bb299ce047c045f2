package device

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	ferrors "git.home.luguber.info/inful/holocommander/internal/foundation/errors"
	"git.home.luguber.info/inful/holocommander/internal/logfields"
	"git.home.luguber.info/inful/holocommander/internal/portal"
)

// live returns the session when one is established. Commands never reconnect
// implicitly.
func (m *Monitor) live() (portal.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil || !m.firstContact {
		return nil, ferrors.ErrNotConnected.
			WithContext("device", m.nameLocked()).
			WithContext("state", m.state.String())
	}
	return m.session, nil
}

// call runs op against the live session, timing it. Adapter errors, classified
// or not, become operation errors carrying ectx; the adapter error is the cause.
func (m *Monitor) call(ctx context.Context, op string, ectx ferrors.ErrorContext, fn func(ctx context.Context, s portal.Client) error) error {
	session, err := m.live()
	if err != nil {
		return err
	}
	start := time.Now()
	err = fn(ctx, session)
	m.recorder.ObserveCommandDuration(op, time.Since(start), err == nil)
	if err == nil {
		return nil
	}
	if ferrors.HasCategory(err, ferrors.CategoryNotConnected) || errors.Is(err, context.Canceled) {
		return err
	}
	return ferrors.WrapError(err, ferrors.CategoryOperation, op+" failed").
		WithContext("device", m.Name()).
		WithContext("operation", op).
		WithContextMap(ectx).
		Build()
}

// MachineName queries the device name and refreshes the cached identity.
func (m *Monitor) MachineName(ctx context.Context) (string, error) {
	gen := m.identityGeneration()
	var name string
	err := m.call(ctx, "machine_name", nil, func(ctx context.Context, s portal.Client) error {
		var err error
		name, err = s.DeviceName(ctx)
		return err
	})
	if err != nil {
		return "", err
	}
	m.observedName(name, gen)
	return name, nil
}

// SetDeviceName renames the device. It reports false without contacting the
// device when name equals the cached name. The new name takes effect after a
// reboot.
func (m *Monitor) SetDeviceName(ctx context.Context, name string) (bool, error) {
	if strings.TrimSpace(name) == "" {
		return false, ferrors.ValidationError("device name must not be empty").Build()
	}

	m.renameMu.Lock()
	defer m.renameMu.Unlock()

	if m.Identity().MachineName == name {
		return false, nil
	}
	err := m.call(ctx, "set_device_name", ferrors.ErrorContext{"name": name}, func(ctx context.Context, s portal.Client) error {
		return s.SetDeviceName(ctx, name)
	})
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	m.identity.MachineName = name
	m.identityGen++
	m.mu.Unlock()
	slog.Info("Device name set", logfields.Device(m.Name()), slog.String("new_name", name))
	return true, nil
}

// SetIPD sets the interpupillary distance in millimeters.
func (m *Monitor) SetIPD(ctx context.Context, ipd float32) error {
	if ipd <= 0 {
		return ferrors.ValidationError("ipd must be positive").WithContext("ipd", ipd).Build()
	}
	return m.call(ctx, "set_ipd", ferrors.ErrorContext{"ipd": ipd}, func(ctx context.Context, s portal.Client) error {
		return s.SetInterPupilaryDistance(ctx, ipd)
	})
}

// Reboot restarts the device. The session is invalidated whether or not the
// call succeeded; the heartbeat handshakes again.
func (m *Monitor) Reboot(ctx context.Context) error {
	session, err := m.live()
	if err != nil {
		return err
	}
	return m.reboot(ctx, session)
}

func (m *Monitor) reboot(ctx context.Context, session portal.Client) error {
	start := time.Now()
	err := session.Reboot(ctx)
	m.recorder.ObserveCommandDuration("reboot", time.Since(start), err == nil)
	m.invalidate(session, "rebooting", nil)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryOperation, "reboot failed").
			WithContext("device", m.Name()).
			WithContext("operation", "reboot").
			Build()
	}
	return nil
}

// Shutdown powers the device off and invalidates the session.
func (m *Monitor) Shutdown(ctx context.Context) error {
	session, err := m.live()
	if err != nil {
		return err
	}
	err = m.call(ctx, "shutdown", nil, func(ctx context.Context, s portal.Client) error {
		return s.Shutdown(ctx)
	})
	if err == nil {
		m.invalidate(session, "shut down", nil)
	}
	return err
}

// MixedRealityFiles lists the captures stored on the device.
func (m *Monitor) MixedRealityFiles(ctx context.Context) ([]portal.MrcFile, error) {
	var list portal.MrcFileList
	err := m.call(ctx, "mrc_files", nil, func(ctx context.Context, s portal.Client) error {
		var err error
		list, err = s.MrcFiles(ctx)
		return err
	})
	return list.Files, err
}

// MixedRealityFile downloads a capture.
func (m *Monitor) MixedRealityFile(ctx context.Context, fileName string) ([]byte, error) {
	var data []byte
	err := m.call(ctx, "mrc_file", ferrors.ErrorContext{"file": fileName}, func(ctx context.Context, s portal.Client) error {
		var err error
		data, err = s.MrcFile(ctx, fileName, false)
		return err
	})
	return data, err
}

// DeleteMixedRealityFile removes a capture.
func (m *Monitor) DeleteMixedRealityFile(ctx context.Context, fileName string) error {
	return m.call(ctx, "delete_mrc_file", ferrors.ErrorContext{"file": fileName}, func(ctx context.Context, s portal.Client) error {
		return s.DeleteMrcFile(ctx, fileName)
	})
}

// StartMixedRealityRecording records holograms, color camera, microphone and
// application audio.
func (m *Monitor) StartMixedRealityRecording(ctx context.Context) error {
	return m.call(ctx, "start_mrc", nil, func(ctx context.Context, s portal.Client) error {
		return s.StartMrcRecording(ctx, portal.AllStreams)
	})
}

func (m *Monitor) StopMixedRealityRecording(ctx context.Context) error {
	return m.call(ctx, "stop_mrc", nil, func(ctx context.Context, s portal.Client) error {
		return s.StopMrcRecording(ctx)
	})
}

// MixedRealityViewURL returns the live stream URL with every stream enabled.
func (m *Monitor) MixedRealityViewURL() (*url.URL, error) {
	session, err := m.live()
	if err != nil {
		return nil, err
	}
	return session.LiveStreamURL(portal.AllStreams), nil
}

func (m *Monitor) InstalledApplications(ctx context.Context) ([]portal.PackageInfo, error) {
	var apps portal.AppPackages
	err := m.call(ctx, "installed_apps", nil, func(ctx context.Context, s portal.Client) error {
		var err error
		apps, err = s.InstalledApps(ctx)
		return err
	})
	return apps.Packages, err
}

func (m *Monitor) RunningProcesses(ctx context.Context) ([]portal.ProcessInfo, error) {
	var procs portal.RunningProcesses
	err := m.call(ctx, "running_processes", nil, func(ctx context.Context, s portal.Client) error {
		var err error
		procs, err = s.RunningProcesses(ctx)
		return err
	})
	return procs.Processes, err
}

// WatchRunningProcesses streams process snapshots until ctx is done.
func (m *Monitor) WatchRunningProcesses(ctx context.Context) (<-chan portal.RunningProcesses, error) {
	var ch <-chan portal.RunningProcesses
	err := m.call(ctx, "watch_processes", nil, func(ctx context.Context, s portal.Client) error {
		var err error
		ch, err = s.WatchRunningProcesses(ctx)
		return err
	})
	return ch, err
}

// InstallApplication installs a package, naming it after the installed
// application with the same family when there is one. Progress is reported
// through OnInstallStatus.
func (m *Monitor) InstallApplication(ctx context.Context, files portal.InstallFiles) error {
	if files.AppPackage == "" {
		return ferrors.ValidationError("application package is required").Build()
	}
	pkg := files.PackageFileName()
	ectx := ferrors.ErrorContext{"package": pkg}

	return m.call(ctx, "install_app", ectx, func(ctx context.Context, s portal.Client) error {
		installed, err := s.InstalledApps(ctx)
		if err != nil {
			return err
		}
		appName := ResolveAppName(pkg, installed.Packages)
		slog.Info("Installing application",
			logfields.Device(m.Name()),
			logfields.Package(pkg),
			slog.String("app_name", appName))
		return s.InstallApplication(ctx, appName, files)
	})
}

// LaunchApplication starts an application and returns its process ID.
func (m *Monitor) LaunchApplication(ctx context.Context, appID, packageFullName string) (uint32, error) {
	var pid uint32
	err := m.call(ctx, "launch_app", ferrors.ErrorContext{"package": packageFullName}, func(ctx context.Context, s portal.Client) error {
		var err error
		pid, err = s.LaunchApplication(ctx, appID, packageFullName)
		return err
	})
	return pid, err
}

func (m *Monitor) TerminateApplication(ctx context.Context, packageFullName string) error {
	return m.call(ctx, "terminate_app", ferrors.ErrorContext{"package": packageFullName}, func(ctx context.Context, s portal.Client) error {
		return s.TerminateApplication(ctx, packageFullName)
	})
}

func (m *Monitor) UninstallApplication(ctx context.Context, packageFullName string) error {
	return m.call(ctx, "uninstall_app", ferrors.ErrorContext{"package": packageFullName}, func(ctx context.Context, s portal.Client) error {
		return s.UninstallApplication(ctx, packageFullName)
	})
}

// TerminateAllApplications stops every running application except the
// processes on the deny list, one at a time in enumeration order. A failing
// terminate does not stop the remaining ones; all failures are returned joined.
func (m *Monitor) TerminateAllApplications(ctx context.Context) error {
	procs, err := m.RunningProcesses(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, p := range procs {
		if m.skip.contains(p.DisplayName()) {
			continue
		}
		if strings.TrimSpace(p.PackageFullName) == "" {
			continue
		}
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := m.TerminateApplication(ctx, p.PackageFullName); err != nil {
			slog.Warn("Terminate failed",
				logfields.Device(m.Name()),
				logfields.Package(p.PackageFullName),
				logfields.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// UninstallAllApplications removes every side-loaded package.
func (m *Monitor) UninstallAllApplications(ctx context.Context) error {
	apps, err := m.InstalledApplications(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, pkg := range apps {
		if !pkg.IsSideloaded() {
			continue
		}
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := m.UninstallApplication(ctx, pkg.FullName); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
