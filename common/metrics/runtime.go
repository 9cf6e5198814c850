package metrics

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Instance describes the process serving requests. With the redis events
// backend several instances share rooms, so /health reports which one answered.
type Instance struct {
	Hostname         string    `json:"hostname"`
	OS               string    `json:"os"`
	Arch             string    `json:"arch"`
	GoVersion        string    `json:"go_version"`
	CPUs             int       `json:"cpus"`
	TotalMemoryMB    uint64    `json:"total_memory_mb,omitempty"`
	ContainerRuntime string    `json:"container_runtime,omitempty"`
	StartedAt        time.Time `json:"started_at"`
}

// Snapshot is the live part of the health report
type Snapshot struct {
	Instance
	Uptime      string `json:"uptime"`
	Goroutines  int    `json:"goroutines"`
	HeapAllocMB uint64 `json:"heap_alloc_mb"`
}

var (
	instance     Instance
	instanceOnce sync.Once
)

// CurrentInstance captures host details once per process
func CurrentInstance() Instance {
	instanceOnce.Do(func() {
		instance = Instance{
			OS:               runtime.GOOS,
			Arch:             runtime.GOARCH,
			GoVersion:        runtime.Version(),
			CPUs:             runtime.NumCPU(),
			TotalMemoryMB:    linuxMemoryMB(),
			ContainerRuntime: detectContainer(),
			StartedAt:        time.Now().UTC(),
		}
		if hostname, err := os.Hostname(); err == nil {
			instance.Hostname = hostname
		} else {
			instance.Hostname = "unknown"
		}
	})
	return instance
}

// Capture returns the instance details plus current runtime stats
func Capture() Snapshot {
	inst := CurrentInstance()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return Snapshot{
		Instance:    inst,
		Uptime:      time.Since(inst.StartedAt).Round(time.Second).String(),
		Goroutines:  runtime.NumGoroutine(),
		HeapAllocMB: mem.HeapAlloc / 1024 / 1024,
	}
}

// detectContainer returns the container runtime, or "" on bare hosts
func detectContainer() string {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return "docker"
	}
	if _, err := os.Stat("/var/run/secrets/kubernetes.io"); err == nil {
		return "kubernetes"
	}

	if data, err := os.ReadFile("/proc/1/cgroup"); err == nil {
		content := string(data)
		switch {
		case strings.Contains(content, "kubepods"):
			return "kubernetes"
		case strings.Contains(content, "docker"):
			return "docker"
		case strings.Contains(content, "containerd"):
			return "containerd"
		}
	}
	return ""
}

// linuxMemoryMB reads MemTotal; 0 elsewhere
func linuxMemoryMB() uint64 {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		var memKB uint64
		if _, err := fmt.Sscanf(fields[1], "%d", &memKB); err == nil {
			return memKB / 1024
		}
	}
	return 0
}
