package wdp_test

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	"git.home.luguber.info/inful/holocommander/internal/portal"
)

const (
	testUser     = "admin"
	testPassword = "secret"
	testCSRF     = "csrf-123"
)

// fakeDevice serves the subset of the portal API the client uses.
type fakeDevice struct {
	t *testing.T

	mu           sync.Mutex
	name         string
	calls        []string
	queries      map[string]url.Values
	overrides    map[string]int
	uploads      []string
	pendingPolls int
	installError string
	packages     portal.AppPackages
	processes    portal.RunningProcesses
	wirelessIP   string
	rootCert     []byte
	wsDials      int
	wsHangup     bool
}

func newFakeDevice(t *testing.T) *fakeDevice {
	t.Helper()
	return &fakeDevice{
		t:         t,
		name:      "hl-1",
		queries:   make(map[string]url.Values),
		overrides: make(map[string]int),
		processes: portal.RunningProcesses{Processes: []portal.ProcessInfo{
			{AppName: "Viewer", PackageFullName: "Viewer_1.0.0.0_x64__abc", ProcessID: 42},
		}},
	}
}

func (d *fakeDevice) start() *httptest.Server {
	srv := httptest.NewServer(d)
	d.t.Cleanup(srv.Close)
	return srv
}

func (d *fakeDevice) startTLS() *httptest.Server {
	srv := httptest.NewUnstartedServer(d)
	srv.StartTLS()
	d.mu.Lock()
	d.rootCert = srv.Certificate().Raw
	d.mu.Unlock()
	d.t.Cleanup(srv.Close)
	return srv
}

func (d *fakeDevice) called(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.calls {
		if c == key {
			return true
		}
	}
	return false
}

func (d *fakeDevice) query(key string) url.Values {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queries[key]
}

func (d *fakeDevice) override(key string, status int) {
	d.mu.Lock()
	d.overrides[key] = status
	d.mu.Unlock()
}

func decoded(t *testing.T, v string) string {
	t.Helper()
	data, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		t.Fatalf("parameter %q is not base64: %v", v, err)
	}
	return string(data)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (d *fakeDevice) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.Method + " " + r.URL.Path

	if user, pass, ok := r.BasicAuth(); !ok || user != testUser || pass != testPassword {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if r.Method == http.MethodGet {
		http.SetCookie(w, &http.Cookie{Name: "CSRF-Token", Value: testCSRF, Path: "/"})
	} else if r.Header.Get("X-CSRF-Token") != testCSRF {
		w.WriteHeader(http.StatusForbidden)
		writeJSON(w, map[string]any{"Reason": "CSRF token missing"})
		return
	}

	d.mu.Lock()
	d.calls = append(d.calls, key)
	d.queries[key] = r.URL.Query()
	status, overridden := d.overrides[key]
	d.mu.Unlock()
	if overridden {
		w.WriteHeader(status)
		writeJSON(w, map[string]any{"Reason": "scripted failure", "Success": false})
		return
	}

	switch key {
	case "GET /config/rootcertificate":
		d.mu.Lock()
		cert := d.rootCert
		d.mu.Unlock()
		_, _ = w.Write(cert)
	case "GET /api/os/devicefamily":
		writeJSON(w, map[string]string{"DeviceType": "Windows.Holographic"})
	case "GET /api/os/info":
		writeJSON(w, map[string]string{"ComputerName": d.currentName(), "OsVersion": "10.0.20348.1000"})
	case "GET /api/os/machinename":
		writeJSON(w, map[string]string{"ComputerName": d.currentName()})
	case "POST /api/os/machinename":
		d.mu.Lock()
		d.name = decoded(d.t, r.URL.Query().Get("name"))
		d.mu.Unlock()
	case "GET /api/wifi/interfaces":
		writeJSON(w, map[string]any{"Interfaces": []map[string]string{{"GUID": "{1234-abcd}", "Description": "Wireless"}}})
	case "GET /api/networking/ipconfig":
		d.mu.Lock()
		ip := d.wirelessIP
		d.mu.Unlock()
		writeJSON(w, map[string]any{"Adapters": []map[string]any{
			{"Description": "Ethernet over USB", "Type": "Ethernet", "IpAddresses": []map[string]string{{"IpAddress": "169.254.1.1"}}},
			{"Description": "Marvell AVASTAR Wireless-AC", "Type": "IEEE80211", "IpAddresses": []map[string]string{{"IpAddress": ip}}},
		}})
	case "GET /api/app/packagemanager/packages":
		d.mu.Lock()
		pkgs := d.packages
		d.mu.Unlock()
		writeJSON(w, pkgs)
	case "POST /api/app/packagemanager/package":
		d.receiveUpload(w, r)
	case "GET /api/app/packagemanager/state":
		d.installState(w)
	case "GET /api/resourcemanager/processes":
		if websocket.IsWebSocketUpgrade(r) {
			d.streamProcesses(w, r)
			return
		}
		d.mu.Lock()
		procs := d.processes
		d.mu.Unlock()
		writeJSON(w, procs)
	case "GET /api/holographic/mrc/files":
		writeJSON(w, map[string]any{"MrcRecordings": []map[string]any{
			{"FileName": "clip.mp4", "FileSize": 2048, "CreationTime": 133000000000000000},
		}})
	case "GET /api/holographic/mrc/file":
		_, _ = w.Write([]byte("video:" + decoded(d.t, r.URL.Query().Get("filename"))))
	case "GET /api/holographic/mrc/thumbnail":
		_, _ = w.Write([]byte("thumb:" + decoded(d.t, r.URL.Query().Get("filename"))))
	case "POST /api/wifi/network",
		"POST /api/control/restart",
		"POST /api/control/shutdown",
		"POST /api/holographic/os/settings/ipd",
		"DELETE /api/app/packagemanager/package",
		"POST /api/taskmanager/app",
		"DELETE /api/taskmanager/app",
		"DELETE /api/holographic/mrc/file",
		"POST /api/holographic/mrc/video/control/start",
		"POST /api/holographic/mrc/video/control/stop":
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (d *fakeDevice) currentName() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.name
}

func (d *fakeDevice) receiveUpload(w http.ResponseWriter, r *http.Request) {
	reader, err := r.MultipartReader()
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var names []string
	for {
		part, err := reader.NextPart()
		if err != nil {
			break
		}
		names = append(names, part.FileName())
	}
	d.mu.Lock()
	d.uploads = names
	d.mu.Unlock()
	w.WriteHeader(http.StatusAccepted)
}

func (d *fakeDevice) installState(w http.ResponseWriter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pendingPolls > 0 {
		d.pendingPolls--
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if d.installError != "" {
		w.WriteHeader(http.StatusBadRequest)
		writeJSON(w, map[string]any{"Code": -2147009287, "Reason": d.installError, "Success": false})
		return
	}
	writeJSON(w, map[string]any{"Success": true})
}

func (d *fakeDevice) streamProcesses(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	d.mu.Lock()
	d.wsDials++
	procs := d.processes
	hangup := d.wsHangup
	d.mu.Unlock()

	if err := conn.WriteJSON(procs); err != nil {
		return
	}
	if hangup {
		return
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (d *fakeDevice) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.wsDials
}
