package device

import (
	"context"
	"log/slog"

	ferrors "git.home.luguber.info/inful/holocommander/internal/foundation/errors"
	"git.home.luguber.info/inful/holocommander/internal/logfields"
	"git.home.luguber.info/inful/holocommander/internal/metrics"
	"git.home.luguber.info/inful/holocommander/internal/portal"
)

const taskRenameReboot = "rename_reboot"

// EstablishConnection starts one handshake with the device. It returns
// immediately when the monitor was never connected or a handshake is already
// in flight. Setup errors are not returned: they clear first contact, move the
// monitor to StateFailed and are logged. The outcome of a started handshake
// arrives as a connection status event.
func (m *Monitor) EstablishConnection(ctx context.Context) {
	m.mu.Lock()
	beat := m.beat
	m.mu.Unlock()
	m.establish(ctx, beat)
}

// establish starts a handshake on behalf of heartbeat beat. It does nothing
// once that heartbeat has been stopped or ctx is done.
func (m *Monitor) establish(ctx context.Context, beat uint64) {
	m.mu.Lock()
	if beat != m.beat || ctx.Err() != nil || m.client == nil || !m.state.canHandshake() {
		m.mu.Unlock()
		return
	}
	m.handshake++
	seq := m.handshake
	client, opts := m.client, m.opts
	m.setStateLocked(StateAcquiringCredentials, "", nil)
	m.mu.Unlock()
	m.statusNotifier.flush()

	slog.Debug("Starting handshake",
		logfields.Device(m.Name()),
		logfields.Handshake(seq))

	req := portal.ConnectRequest{
		SSID:             opts.NetworkSSID,
		NetworkKey:       opts.NetworkKey,
		UpdateConnection: opts.UpdateConnectionOnWifiChange,
	}

	if !opts.UseInstalledCertificate {
		cert, err := client.RootCertificate(ctx, true)
		switch {
		case err == nil:
			req.Certificate = cert
		case m.requireCertificate:
			m.abortHandshake(seq, ferrors.WrapError(err, ferrors.CategoryHandshake, "failed to fetch device certificate").
				WithContext("device", m.Name()).
				WithRetry(ferrors.RetryHeartbeat).
				Build())
			return
		default:
			slog.Warn("Device certificate unavailable, connecting without pinning",
				logfields.Device(m.Name()),
				logfields.Error(err))
		}
	}

	m.mu.Lock()
	if seq != m.handshake || m.state != StateAcquiringCredentials {
		m.mu.Unlock()
		return
	}
	if beat != m.beat || ctx.Err() != nil {
		m.setStateLocked(StateDisconnected, "heartbeat stopped", nil)
		m.mu.Unlock()
		m.statusNotifier.flush()
		return
	}
	m.unsubStatus = client.OnConnectionStatus(func(evt portal.ConnectionStatusEvent) {
		m.handleStatus(seq, client, evt)
	})
	m.setStateLocked(StateHandshaking, "", nil)
	m.mu.Unlock()
	m.statusNotifier.flush()

	if err := client.Connect(ctx, req); err != nil {
		m.abortHandshake(seq, ferrors.WrapError(err, ferrors.CategoryHandshake, "handshake request failed").
			WithContext("device", m.Name()).
			WithRetry(ferrors.RetryHeartbeat).
			Build())
	}
}

// abortHandshake fails handshake seq if it is still the one in flight.
func (m *Monitor) abortHandshake(seq uint64, err error) {
	m.mu.Lock()
	if seq != m.handshake || !m.state.handshaking() {
		m.mu.Unlock()
		return
	}
	m.dropStatusSubscriptionLocked()
	m.firstContact = false
	m.session = nil
	m.lastErr = err
	m.setStateLocked(StateFailed, err.Error(), err)
	m.mu.Unlock()
	m.statusNotifier.flush()

	m.recorder.IncHandshake(metrics.ResultError)
	slog.Warn("Handshake setup failed",
		logfields.Device(m.Name()),
		logfields.Handshake(seq),
		logfields.Error(err))
}

// handleStatus applies a connection status event of handshake seq. Connected
// and Failed are terminal: the first one to arrive for the handshake in
// flight wins and drops the subscription, later ones are ignored.
func (m *Monitor) handleStatus(seq uint64, client portal.Client, evt portal.ConnectionStatusEvent) {
	switch evt.Status {
	case portal.StatusConnected:
		m.mu.Lock()
		if seq != m.handshake || m.state != StateHandshaking {
			m.mu.Unlock()
			return
		}
		m.dropStatusSubscriptionLocked()
		m.firstContact = true
		m.session = client
		m.lastErr = nil
		if m.unsubInstall != nil {
			m.unsubInstall()
		}
		m.unsubInstall = client.OnInstallStatus(m.installNotifier.Publish)
		m.setStateLocked(StateConnected, evt.Message, nil)
		deploy, desired := m.opts.DeployNameOnConnect, m.opts.DesiredName
		m.mu.Unlock()
		m.statusNotifier.flush()

		m.recorder.IncHandshake(metrics.ResultSuccess)
		slog.Info("Device connected",
			logfields.Device(m.Name()),
			logfields.Handshake(seq))

		if deploy && desired != "" {
			m.tasks.Go(taskRenameReboot, func(ctx context.Context) error {
				return m.renameThenReboot(ctx, client, desired)
			})
		}

	case portal.StatusFailed:
		err := ferrors.HandshakeFailed(evt.Message).
			WithContext("device", m.Name()).
			WithContext("phase", evt.Phase).
			Build()

		m.mu.Lock()
		if seq != m.handshake || m.state != StateHandshaking {
			m.mu.Unlock()
			return
		}
		m.dropStatusSubscriptionLocked()
		m.firstContact = false
		m.session = nil
		m.lastErr = err
		m.setStateLocked(StateFailed, evt.Message, err)
		m.mu.Unlock()
		m.statusNotifier.flush()

		m.recorder.IncHandshake(metrics.ResultFailed)
		slog.Warn("Device handshake failed",
			logfields.Device(m.Name()),
			logfields.Handshake(seq),
			logfields.Status(evt.Message))

	default:
		slog.Debug("Handshake progress",
			logfields.Device(m.Name()),
			logfields.Handshake(seq),
			logfields.Status(evt.Status.String()),
			slog.String("phase", evt.Phase))
	}
}

func (m *Monitor) dropStatusSubscriptionLocked() {
	if m.unsubStatus != nil {
		m.unsubStatus()
		m.unsubStatus = nil
	}
}

// probe is one tick of heartbeat beat: handshake when there is no usable
// session, otherwise query the device name and invalidate the session on
// failure.
func (m *Monitor) probe(ctx context.Context, beat uint64) {
	m.mu.Lock()
	session, first, state, current := m.session, m.firstContact, m.state, m.beat
	m.mu.Unlock()

	if beat != current {
		return
	}

	if session == nil || !first {
		if state.canHandshake() {
			m.recorder.IncHeartbeat(metrics.ResultReconnect)
			m.establish(ctx, beat)
		}
		return
	}
	if state == StateRenamingThenRebooting {
		return
	}

	gen := m.identityGeneration()
	name, err := session.DeviceName(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.recorder.IncHeartbeat(metrics.ResultLost)
		m.invalidate(session, "heartbeat lost", ferrors.WrapError(err, ferrors.CategoryNetwork, "heartbeat probe failed").
			WithContext("device", m.Name()).
			WithRetry(ferrors.RetryHeartbeat).
			Build())
		return
	}

	m.recorder.IncHeartbeat(metrics.ResultSuccess)
	m.observedName(name, gen)
}

// invalidate clears session if it is still current: first contact is reset
// and the next heartbeat tick handshakes again.
func (m *Monitor) invalidate(session portal.Client, reason string, err error) {
	m.mu.Lock()
	if m.session != session || session == nil {
		m.mu.Unlock()
		return
	}
	m.session = nil
	m.firstContact = false
	if err != nil {
		m.lastErr = err
	}
	if m.unsubInstall != nil {
		m.unsubInstall()
		m.unsubInstall = nil
	}
	m.setStateLocked(StateDisconnected, reason, err)
	m.mu.Unlock()
	m.statusNotifier.flush()

	attrs := []any{logfields.Device(m.Name()), logfields.Status(reason)}
	if err != nil {
		attrs = append(attrs, logfields.Error(err))
	}
	slog.Info("Device session invalidated", attrs...)
}

// renameThenReboot applies the desired name and reboots when it changed.
func (m *Monitor) renameThenReboot(ctx context.Context, session portal.Client, desired string) error {
	if m.Identity().MachineName == "" {
		if _, err := m.MachineName(ctx); err != nil {
			return err
		}
	}

	changed, err := m.SetDeviceName(ctx, desired)
	if err != nil || !changed {
		return err
	}

	m.mu.Lock()
	if m.session != session || m.state != StateConnected {
		m.mu.Unlock()
		return ferrors.NotConnectedError("session replaced before reboot").
			WithContext("device", m.Name()).
			Build()
	}
	m.setStateLocked(StateRenamingThenRebooting, "renamed to "+desired, nil)
	m.mu.Unlock()
	m.statusNotifier.flush()

	slog.Info("Device renamed, rebooting",
		logfields.Device(m.Name()),
		slog.String("new_name", desired))
	return m.reboot(ctx, session)
}
