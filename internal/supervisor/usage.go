package supervisor

import (
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Usage is a resource sample of the backend's top process.
type Usage struct {
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
	NumThreads int32   `json:"num_threads"`
}

// Usage samples the running backend. ok is false when no handle is held or
// the process can no longer be inspected.
func (s *Supervisor) Usage() (Usage, bool) {
	pid := s.PID()
	if pid <= 0 {
		return Usage{}, false
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return Usage{}, false
	}
	var u Usage
	if mi, err := p.MemoryInfo(); err == nil && mi != nil {
		u.RSSBytes = mi.RSS
	}
	if cpu, err := p.CPUPercent(); err == nil {
		u.CPUPercent = cpu
	}
	if n, err := p.NumThreads(); err == nil {
		u.NumThreads = n
	}
	return u, true
}
