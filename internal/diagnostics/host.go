// Package diagnostics reports whether the host can run a relay: a LAN
// interface for discovery and callbacks, and a usable history location.
package diagnostics

import (
	"errors"
	"io/fs"
	"net"
	"os"
	"path/filepath"
)

type hostInterface struct {
	name     string
	up       bool
	loopback bool
	addrs    []net.Addr
}

var (
	hostInterfaces = listInterfaces
	statPath       = os.Stat
)

type InterfaceStatus struct {
	Name  string   `json:"name"`
	Addrs []string `json:"addrs"`
}

type NetworkReport struct {
	Interfaces []InterfaceStatus `json:"interfaces"`
	LANReady   bool              `json:"lan_ready"`
	Error      string            `json:"error,omitempty"`
}

type PathStatus struct {
	Path   string `json:"path"`
	Exists bool   `json:"exists"`
	// Creatable is set when the directory is missing but its nearest existing
	// ancestor is a directory.
	Creatable bool   `json:"creatable"`
	Error     string `json:"error,omitempty"`
}

type Report struct {
	Network    NetworkReport `json:"network"`
	HistoryDir *PathStatus   `json:"history_dir,omitempty"`
	Ready      bool          `json:"ready"`
}

// Detect inspects the host. An empty historyPath skips the history check.
func Detect(historyPath string) Report {
	report := Report{Network: detectNetwork()}
	report.Ready = report.Network.LANReady
	if historyPath != "" {
		dir := detectDir(filepath.Dir(historyPath))
		report.HistoryDir = &dir
		report.Ready = report.Ready && (dir.Exists || dir.Creatable)
	}
	return report
}

func detectNetwork() NetworkReport {
	ifaces, err := hostInterfaces()
	if err != nil {
		return NetworkReport{Error: err.Error()}
	}

	report := NetworkReport{Interfaces: []InterfaceStatus{}}
	for _, iface := range ifaces {
		if !iface.up || iface.loopback {
			continue
		}
		var addrs []string
		for _, addr := range iface.addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok || ipNet.IP.To4() == nil || ipNet.IP.IsLinkLocalUnicast() {
				continue
			}
			addrs = append(addrs, ipNet.IP.String())
		}
		if len(addrs) == 0 {
			continue
		}
		report.Interfaces = append(report.Interfaces, InterfaceStatus{Name: iface.name, Addrs: addrs})
	}
	report.LANReady = len(report.Interfaces) > 0
	return report
}

func detectDir(dir string) PathStatus {
	status := PathStatus{Path: dir}
	info, err := statPath(dir)
	if err == nil {
		if !info.IsDir() {
			status.Error = "not a directory"
			return status
		}
		status.Exists = true
		return status
	}
	if !errors.Is(err, fs.ErrNotExist) {
		status.Error = err.Error()
		return status
	}

	for parent := filepath.Dir(dir); ; parent = filepath.Dir(parent) {
		info, err := statPath(parent)
		if err == nil {
			status.Creatable = info.IsDir()
			return status
		}
		if !errors.Is(err, fs.ErrNotExist) {
			status.Error = err.Error()
			return status
		}
		if next := filepath.Dir(parent); next == parent {
			return status
		}
	}
}

func listInterfaces() ([]hostInterface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make([]hostInterface, 0, len(ifaces))
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		out = append(out, hostInterface{
			name:     iface.Name,
			up:       iface.Flags&net.FlagUp != 0,
			loopback: iface.Flags&net.FlagLoopback != 0,
			addrs:    addrs,
		})
	}
	return out, nil
}
