// Package winpath handles the Linux-compatibility-layer quirks that show
// up when gdmcp runs inside WSL but drives a Windows build of the Godot
// editor. Paths must cross the boundary in the form each side expects
// (/mnt/c/... inside WSL, C:\... for the Windows binary), and TCP
// connections from the Windows side back into WSL need a routable host
// address instead of localhost.
package winpath

import (
	"fmt"
	"os"
	"strings"
)

// InWSL reports whether the current process runs inside Windows
// Subsystem for Linux. The two env markers are set by the WSL init
// process; /proc/version is the fallback for stripped environments.
func InWSL() bool {
	if os.Getenv("WSL_DISTRO_NAME") != "" || os.Getenv("WSL_INTEROP") != "" {
		return true
	}
	data, err := os.ReadFile("/proc/version")
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(data)), "microsoft")
}

// IsWindowsExe reports whether path names a Windows binary by extension.
func IsWindowsExe(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".exe")
}

// ToWindows translates a POSIX-style WSL mount path (/mnt/c/dir/file)
// to the DRIVE:\... form a Windows binary expects. Paths outside /mnt/<drive>
// are returned unchanged — the Windows side cannot reach them anyway and
// the caller surfaces that as a connection-time error rather than a
// mangled path.
func ToWindows(path string) string {
	rest, ok := strings.CutPrefix(path, "/mnt/")
	if !ok || rest == "" {
		return path
	}
	drive := rest[0]
	if (drive < 'a' || drive > 'z') && (drive < 'A' || drive > 'Z') {
		return path
	}
	tail := rest[1:]
	if tail != "" && !strings.HasPrefix(tail, "/") {
		return path
	}
	win := strings.ToUpper(string(drive)) + ":" + strings.ReplaceAll(tail, "/", "\\")
	if tail == "" {
		win += "\\"
	}
	return win
}

// ToPOSIX translates a DRIVE:\... Windows path to its /mnt/<drive>/...
// WSL mount form. Non-drive paths are returned unchanged.
func ToPOSIX(path string) string {
	if len(path) < 2 || path[1] != ':' {
		return path
	}
	drive := path[0]
	if (drive < 'a' || drive > 'z') && (drive < 'A' || drive > 'Z') {
		return path
	}
	tail := strings.ReplaceAll(path[2:], "\\", "/")
	tail = strings.TrimPrefix(tail, "/")
	if tail == "" {
		return "/mnt/" + strings.ToLower(string(drive))
	}
	return "/mnt/" + strings.ToLower(string(drive)) + "/" + tail
}

// SamePath reports whether two paths name the same project root once
// drive-letter translation, slash direction, trailing separators, and
// case (Windows filesystems are case-insensitive) are normalized away.
func SamePath(a, b string) bool {
	return normalize(a) == normalize(b)
}

func normalize(p string) string {
	p = ToPOSIX(p)
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimRight(p, "/")
	return strings.ToLower(p)
}

// WindowsHost resolves an address on the Windows side of the WSL network
// boundary that can reach back into the WSL loopback via the default
// route. It parses /proc/net/route for the default gateway first and
// falls back to the resolv.conf nameserver that WSL writes to point at
// the Windows host.
func WindowsHost() (string, error) {
	if gw, err := defaultGateway("/proc/net/route"); err == nil {
		return gw, nil
	}
	if ns, err := resolvNameserver("/etc/resolv.conf"); err == nil {
		return ns, nil
	}
	return "", fmt.Errorf("no route to the Windows host: neither /proc/net/route nor /etc/resolv.conf yielded an address")
}

// defaultGateway parses a /proc/net/route table and returns the gateway
// of the 0.0.0.0/0 entry in dotted-quad form. The kernel stores the
// gateway as little-endian hex.
func defaultGateway(routePath string) (string, error) {
	data, err := os.ReadFile(routePath)
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(string(data), "\n")[1:] {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		// Destination 00000000 marks the default route.
		if fields[1] != "00000000" {
			continue
		}
		gw := fields[2]
		if len(gw) != 8 {
			continue
		}
		var octets [4]byte
		for i := 0; i < 4; i++ {
			var b byte
			if _, err := fmt.Sscanf(gw[i*2:i*2+2], "%02X", &b); err != nil {
				return "", fmt.Errorf("malformed gateway %q in route table", gw)
			}
			// Little-endian: last hex pair is the first octet.
			octets[3-i] = b
		}
		return fmt.Sprintf("%d.%d.%d.%d", octets[0], octets[1], octets[2], octets[3]), nil
	}
	return "", fmt.Errorf("no default route in %s", routePath)
}

// resolvNameserver returns the first nameserver entry from a resolv.conf.
func resolvNameserver(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if ns, ok := strings.CutPrefix(line, "nameserver"); ok {
			ns = strings.TrimSpace(ns)
			if ns != "" {
				return ns, nil
			}
		}
	}
	return "", fmt.Errorf("no nameserver in %s", path)
}
