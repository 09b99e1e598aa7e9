package api

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/teweldemat/cis-dire-rc/pkg/config"
)

// hostStatus is the /api/v1/status payload, ported from
// original_source/.../RemoteControlApi.collect_status. Reading
// /proc/meminfo and /proc/uptime has no teacher precedent; it is authored
// fresh, following the same "tolerant parse, never panic" shape the
// teacher uses elsewhere.
type hostStatus struct {
	TimestampUTC string         `json:"timestamp_utc"`
	Host         string         `json:"host"`
	UptimeSec    *int64         `json:"uptime_seconds"`
	LoadAvg      []float64      `json:"load_avg"`
	Memory       memSnapshot    `json:"memory"`
	DiskRoot     diskSnapshot   `json:"disk_root"`
	Targets      targetStatuses `json:"targets"`
}

type memSnapshot struct {
	Available bool    `json:"available"`
	TotalKB   int64   `json:"total_kb,omitempty"`
	FreeKB    int64   `json:"free_kb,omitempty"`
	UsedKB    int64   `json:"used_kb,omitempty"`
	UsedPct   float64 `json:"used_pct,omitempty"`
}

type diskSnapshot struct {
	TotalBytes uint64  `json:"total_bytes"`
	UsedBytes  uint64  `json:"used_bytes"`
	FreeBytes  uint64  `json:"free_bytes"`
	UsedPct    float64 `json:"used_pct"`
}

type serviceStatus struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	SubStatus string `json:"sub_status"`
	Enabled   string `json:"enabled"`
	Error     string `json:"error"`
}

type containerStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Image  string `json:"image"`
	Ports  string `json:"ports"`
	Error  string `json:"error"`
}

type tcpCheckStatus struct {
	Name      string  `json:"name"`
	Host      string  `json:"host"`
	Port      int     `json:"port"`
	OK        bool    `json:"ok"`
	LatencyMs float64 `json:"latency_ms"`
	Error     string  `json:"error"`
}

type targetStatuses struct {
	Services   []serviceStatus   `json:"services"`
	Containers []containerStatus `json:"containers"`
	TCPChecks  []tcpCheckStatus  `json:"tcp_checks"`
}

func collectHostStatus(cfg *config.Snapshot) hostStatus {
	hostname, _ := os.Hostname()

	s := hostStatus{
		TimestampUTC: time.Now().UTC().Format(time.RFC3339Nano),
		Host:         hostname,
		UptimeSec:    uptimeSeconds(),
		LoadAvg:      loadAvg(),
		Memory:       memInfo(),
		DiskRoot:     diskUsage("/"),
	}

	containerMap, containerErr := containerStatusMap()

	for _, name := range cfg.Targets.Services {
		s.Targets.Services = append(s.Targets.Services, serviceStatusFor(name))
	}
	for _, name := range cfg.Targets.Containers {
		if item, ok := containerMap[name]; ok {
			s.Targets.Containers = append(s.Targets.Containers, containerStatus{
				Name: name, Status: item.Status, Image: item.Image, Ports: item.Ports,
			})
		} else {
			errMsg := containerErr
			if errMsg == "" {
				errMsg = "Container not found"
			}
			s.Targets.Containers = append(s.Targets.Containers, containerStatus{Name: name, Status: "not_found", Error: errMsg})
		}
	}
	for _, check := range cfg.Targets.TCPChecks {
		if check.Port <= 0 {
			continue
		}
		timeout := check.TimeoutSeconds
		if timeout <= 0 {
			timeout = 1.5
		}
		ok, latency, errMsg := tcpProbe(check.Host, check.Port, time.Duration(timeout*float64(time.Second)))
		name := check.Name
		if name == "" {
			name = check.Host + ":" + strconv.Itoa(check.Port)
		}
		s.Targets.TCPChecks = append(s.Targets.TCPChecks, tcpCheckStatus{
			Name: name, Host: check.Host, Port: check.Port, OK: ok, LatencyMs: latency, Error: errMsg,
		})
	}

	return s
}

func uptimeSeconds() *int64 {
	data, err := os.ReadFile("/proc/uptime")
	if err != nil {
		return nil
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return nil
	}
	f, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return nil
	}
	v := int64(f)
	return &v
}

func loadAvg() []float64 {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return nil
	}
	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		return nil
	}
	out := make([]float64, 0, 3)
	for _, f := range fields[:3] {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil
		}
		out = append(out, v)
	}
	return out
}

func memInfo() memSnapshot {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return memSnapshot{Available: false}
	}
	defer f.Close()

	values := map[string]int64{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		key := line[:idx]
		rest := strings.TrimSpace(line[idx+1:])
		amount := strings.Fields(rest)
		if len(amount) == 0 {
			continue
		}
		n, err := strconv.ParseInt(amount[0], 10, 64)
		if err != nil {
			continue
		}
		values[key] = n
	}

	total := values["MemTotal"]
	free, ok := values["MemAvailable"]
	if !ok {
		free = values["MemFree"]
	}
	used := total - free
	if used < 0 {
		used = 0
	}
	var usedPct float64
	if total > 0 {
		usedPct = float64(used) / float64(total) * 100.0
	}
	return memSnapshot{Available: true, TotalKB: total, FreeKB: free, UsedKB: used, UsedPct: roundTo(usedPct, 2)}
}

func diskUsage(path string) diskSnapshot {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return diskSnapshot{}
	}
	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	used := total - free
	var usedPct float64
	if total > 0 {
		usedPct = float64(used) / float64(total) * 100.0
	}
	return diskSnapshot{TotalBytes: total, UsedBytes: used, FreeBytes: free, UsedPct: roundTo(usedPct, 2)}
}

func serviceStatusFor(name string) serviceStatus {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "systemctl", "show", name, "--property=ActiveState,SubState,UnitFileState", "--value")
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(errOut.String())
		if msg == "" {
			msg = err.Error()
		}
		return serviceStatus{Name: name, Status: "unknown", Error: msg}
	}

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	get := func(i int) string {
		if i < len(lines) {
			return lines[i]
		}
		return ""
	}
	return serviceStatus{Name: name, Status: get(0), SubStatus: get(1), Enabled: get(2)}
}

type dockerContainer struct {
	Status string
	Image  string
	Ports  string
}

func containerStatusMap() (map[string]dockerContainer, string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sudo", "-n", "docker", "ps", "-a", "--format", "{{.Names}}\t{{.Status}}\t{{.Image}}\t{{.Ports}}")
	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(errOut.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, msg
	}

	result := map[string]dockerContainer{}
	for _, line := range strings.Split(out.String(), "\n") {
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) < 4 {
			continue
		}
		result[parts[0]] = dockerContainer{Status: parts[1], Image: parts[2], Ports: parts[3]}
	}
	return result, ""
}

func tcpProbe(host string, port int, timeout time.Duration) (ok bool, latencyMs float64, errMsg string) {
	start := time.Now()
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), timeout)
	latencyMs = roundTo(float64(time.Since(start).Microseconds())/1000.0, 2)
	if err != nil {
		return false, latencyMs, err.Error()
	}
	conn.Close()
	return true, latencyMs, ""
}

func roundTo(v float64, places int) float64 {
	mult := 1.0
	for i := 0; i < places; i++ {
		mult *= 10
	}
	return float64(int64(v*mult+0.5)) / mult
}
