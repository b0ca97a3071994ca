package diagnostics

import (
	"errors"
	"io/fs"
	"net"
	"os"
	"testing"
	"time"
)

type fakeFileInfo struct {
	dir bool
}

func (f fakeFileInfo) Name() string       { return "x" }
func (f fakeFileInfo) Size() int64        { return 0 }
func (f fakeFileInfo) Mode() fs.FileMode  { return 0o755 }
func (f fakeFileInfo) ModTime() time.Time { return time.Time{} }
func (f fakeFileInfo) IsDir() bool        { return f.dir }
func (f fakeFileInfo) Sys() any           { return nil }

func stubHost(t *testing.T, ifaces []hostInterface, ifaceErr error, paths map[string]bool) {
	t.Helper()
	origIfaces, origStat := hostInterfaces, statPath
	t.Cleanup(func() {
		hostInterfaces = origIfaces
		statPath = origStat
	})

	hostInterfaces = func() ([]hostInterface, error) { return ifaces, ifaceErr }
	statPath = func(name string) (os.FileInfo, error) {
		dir, ok := paths[name]
		if !ok {
			return nil, fs.ErrNotExist
		}
		return fakeFileInfo{dir: dir}, nil
	}
}

func ipNet(ip string) net.Addr {
	return &net.IPNet{IP: net.ParseIP(ip), Mask: net.CIDRMask(24, 32)}
}

func TestDetectNetworkSkipsLoopbackDownAndLinkLocal(t *testing.T) {
	stubHost(t, []hostInterface{
		{name: "lo", up: true, loopback: true, addrs: []net.Addr{ipNet("127.0.0.1")}},
		{name: "eth1", up: false, addrs: []net.Addr{ipNet("10.0.0.5")}},
		{name: "wlan0", up: true, addrs: []net.Addr{ipNet("169.254.1.2"), ipNet("fe80::1")}},
		{name: "eth0", up: true, addrs: []net.Addr{ipNet("192.168.1.20")}},
	}, nil, nil)

	report := Detect("")
	if !report.Network.LANReady || !report.Ready {
		t.Fatalf("expected LAN to be ready: %#v", report)
	}
	if len(report.Network.Interfaces) != 1 || report.Network.Interfaces[0].Name != "eth0" {
		t.Fatalf("unexpected interfaces: %#v", report.Network.Interfaces)
	}
	if report.HistoryDir != nil {
		t.Fatal("expected no history check for empty path")
	}
}

func TestDetectNetworkError(t *testing.T) {
	stubHost(t, nil, errors.New("netlink denied"), nil)

	report := Detect("")
	if report.Ready || report.Network.LANReady {
		t.Fatal("expected report not ready")
	}
	if report.Network.Error != "netlink denied" {
		t.Fatalf("unexpected error: %q", report.Network.Error)
	}
}

func TestDetectHistoryDir(t *testing.T) {
	lan := []hostInterface{{name: "eth0", up: true, addrs: []net.Addr{ipNet("192.168.1.20")}}}

	tests := []struct {
		name      string
		paths     map[string]bool
		exists    bool
		creatable bool
		ready     bool
	}{
		{name: "existing", paths: map[string]bool{"/data/rb": true}, exists: true, ready: true},
		{name: "creatable", paths: map[string]bool{"/data": true}, creatable: true, ready: true},
		{name: "parent is file", paths: map[string]bool{"/data": false}},
		{name: "nothing exists", paths: map[string]bool{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			stubHost(t, lan, nil, tc.paths)

			report := Detect("/data/rb/history.db")
			if report.HistoryDir == nil {
				t.Fatal("expected history check")
			}
			if report.HistoryDir.Path != "/data/rb" {
				t.Fatalf("unexpected dir: %s", report.HistoryDir.Path)
			}
			if report.HistoryDir.Exists != tc.exists || report.HistoryDir.Creatable != tc.creatable {
				t.Fatalf("unexpected status: %#v", report.HistoryDir)
			}
			if report.Ready != tc.ready {
				t.Fatalf("expected ready=%t, got %t", tc.ready, report.Ready)
			}
		})
	}
}
