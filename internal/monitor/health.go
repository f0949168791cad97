// Package monitor reports broker health: session counters plus process
// resource usage.
package monitor

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/hackclub/tshare/internal/api"
	"github.com/hackclub/tshare/internal/session"
)

// StatsSource is the part of the session store the reporter reads.
type StatsSource interface {
	Stats() session.Stats
}

type Reporter struct {
	store   StatsSource
	started time.Time
	now     func() time.Time

	procOnce sync.Once
	proc     *process.Process
}

func NewReporter(store StatsSource) *Reporter {
	return &Reporter{
		store:   store,
		started: time.Now(),
		now:     time.Now,
	}
}

func (r *Reporter) Health() api.Health {
	st := r.store.Stats()
	h := api.Health{
		Status:          "ok",
		UptimeSeconds:   int64(r.now().Sub(r.started) / time.Second),
		Goroutines:      runtime.NumGoroutine(),
		SessionsTotal:   st.Total,
		SessionsLive:    st.Live,
		SessionsEnded:   st.Ended,
		OwnersAttached:  st.Owners,
		ViewersAttached: st.Viewers,
	}
	if rss, ok := r.rss(); ok {
		h.RSSBytes = rss
	}
	return h
}

// rss reads the resident set size of this process. Platforms gopsutil can't
// inspect report ok=false.
func (r *Reporter) rss() (uint64, bool) {
	r.procOnce.Do(func() {
		p, err := process.NewProcess(int32(os.Getpid()))
		if err == nil {
			r.proc = p
		}
	})
	if r.proc == nil {
		return 0, false
	}
	mem, err := r.proc.MemoryInfo()
	if err != nil || mem == nil {
		return 0, false
	}
	return mem.RSS, true
}
