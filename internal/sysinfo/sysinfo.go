// Package sysinfo identifies the local machine: the interface the agent
// announces itself on and some host metadata for the startup log.
package sysinfo

import (
	"fmt"
	"net"
	"os"
	"runtime"
	"slices"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
	psnet "github.com/shirou/gopsutil/v3/net"

	"lullaby/internal/hwaddr"
	"lullaby/internal/udp"
)

// SystemInfo holds the collected identity.
type SystemInfo struct {
	Interface  string
	MACAddress hwaddr.Addr
	IPAddress  string
	Broadcast  string
	Hostname   string
	OSName     string
	Kernel     string
	Arch       string
}

// Collect picks the first up, non-loopback, broadcast-capable interface
// with an IPv4 address. A non-empty networkRange (CIDR) restricts the
// choice to an interface holding an address inside it.
func Collect(networkRange string) (*SystemInfo, error) {
	var subnet *net.IPNet
	if networkRange != "" {
		_, n, err := net.ParseCIDR(networkRange)
		if err != nil {
			return nil, fmt.Errorf("parsing network range %s: %w", networkRange, err)
		}
		subnet = n
	}

	info, err := primaryInterface(subnet)
	if err != nil {
		return nil, err
	}

	info.Hostname, _ = os.Hostname()
	info.OSName, info.Kernel = getOSInfo()
	info.Arch = runtime.GOARCH
	return info, nil
}

func primaryInterface(subnet *net.IPNet) (*SystemInfo, error) {
	ifaces, err := psnet.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("listing interfaces: %w", err)
	}

	for _, iface := range ifaces {
		if !slices.Contains(iface.Flags, "up") || slices.Contains(iface.Flags, "loopback") {
			continue
		}
		if iface.HardwareAddr == "" {
			continue
		}
		mac, err := hwaddr.Parse(iface.HardwareAddr)
		if err != nil {
			continue
		}

		for _, addr := range iface.Addrs {
			ip, ipNet, err := net.ParseCIDR(addr.Addr)
			if err != nil || ip.To4() == nil {
				continue
			}
			if subnet != nil && !subnet.Contains(ip) {
				continue
			}
			return &SystemInfo{
				Interface:  iface.Name,
				MACAddress: mac,
				IPAddress:  ip.String(),
				Broadcast:  udp.BroadcastIP(ipNet).String(),
			}, nil
		}
	}

	if subnet != nil {
		return nil, fmt.Errorf("no interface with an address in %s", subnet)
	}
	return nil, fmt.Errorf("no usable IPv4 interface found")
}

// getOSInfo retrieves OS name and kernel version.
func getOSInfo() (string, string) {
	var osName, kernel string

	hostInfo, err := host.Info()
	if err == nil {
		osName = hostInfo.Platform
		if hostInfo.PlatformVersion != "" {
			osName += " " + hostInfo.PlatformVersion
		}
		kernel = hostInfo.KernelVersion
	} else {
		osName = runtime.GOOS
	}

	if runtime.GOOS == "linux" {
		if prettyName := readOSReleasePrettyName(); prettyName != "" {
			osName = prettyName
		}
	}

	return osName, kernel
}

// readOSReleasePrettyName parses /etc/os-release for the PRETTY_NAME field.
func readOSReleasePrettyName() string {
	data, err := os.ReadFile("/etc/os-release")
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "PRETTY_NAME=") {
			val := strings.TrimPrefix(line, "PRETTY_NAME=")
			val = strings.Trim(val, "\"")
			return val
		}
	}
	return ""
}
