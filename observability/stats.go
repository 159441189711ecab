package observability

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/process"
)

// Snapshot aggregates process and connection figures.
type Snapshot struct {
	At                 time.Time `json:"at"`
	Connections        int       `json:"connections"`
	OnlineParticipants int       `json:"online_participants"`
	Goroutines         int       `json:"goroutines"`
	CPUPercent         float64   `json:"cpu_percent"`
	RSSBytes           uint64    `json:"rss_bytes"`
	AllocBytes         uint64    `json:"alloc_bytes"`
	NumGC              uint32    `json:"num_gc"`
}

// CountsFunc reports live connections and online participants.
type CountsFunc func() (connections int, participants int)

type Collector struct {
	proc   *process.Process
	counts CountsFunc
}

func NewCollector(counts CountsFunc) (*Collector, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &Collector{proc: p, counts: counts}, nil
}

// Collect retrieves technical metrics (memory and CPU) for the current process.
func (c *Collector) Collect() (Snapshot, error) {
	memInfo, err := c.proc.MemoryInfo()
	if err != nil {
		return Snapshot{}, err
	}
	cpuPercent, err := c.proc.CPUPercent()
	if err != nil {
		return Snapshot{}, err
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	s := Snapshot{
		At:         time.Now().UTC(),
		Goroutines: runtime.NumGoroutine(),
		CPUPercent: cpuPercent,
		RSSBytes:   memInfo.RSS,
		AllocBytes: mem.Alloc,
		NumGC:      mem.NumGC,
	}
	if c.counts != nil {
		s.Connections, s.OnlineParticipants = c.counts()
	}
	return s, nil
}
