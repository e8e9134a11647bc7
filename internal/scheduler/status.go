package scheduler

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/overwatch-scan/overwatch/internal/domain"
	"github.com/overwatch-scan/overwatch/internal/infra/pipeline"
)

// StatusSnapshot is everything the status renderer needs, sampled by the
// supervisory loop in one pass.
type StatusSnapshot struct {
	Stats      Stats
	Pipeline   pipeline.Stats
	Workers    []domain.WorkerSnapshot
	CaptchaLen int
	ReadyLen   int
	Uptime     time.Duration
}

// RenderStatus formats a status snapshot for the terminal. A pure
// function from snapshot to string: sampling and writing are the
// supervisor's concern.
func RenderStatus(s StatusSnapshot) string {
	var b strings.Builder

	seen := 0
	visits := 0
	for _, w := range s.Workers {
		seen += w.TotalSeen
		visits += w.Visits
	}

	fmt.Fprintf(&b, "up %s | workers %d | visits %d | seen %d\n",
		s.Uptime.Truncate(time.Second), len(s.Workers), visits, seen)
	fmt.Fprintf(&b, "inserted %d | redundant %d | skipped %d | longspawn %d | forts %d\n",
		s.Pipeline.Inserted, s.Stats.Redundant, s.Stats.Skipped, s.Pipeline.LongSpawns, s.Pipeline.Forts)
	fmt.Fprintf(&b, "ready accounts %d | captcha queue %d", s.ReadyLen, s.CaptchaLen)
	if s.Stats.Paused {
		b.WriteString(" | PAUSED")
	}
	b.WriteByte('\n')

	if len(s.Stats.History) > 1 {
		first := s.Stats.History[0]
		last := s.Stats.History[len(s.Stats.History)-1]
		fmt.Fprintf(&b, "last %d samples: +%d seen\n", len(s.Stats.History), last-first)
	}

	b.WriteByte('\n')
	for _, w := range s.Workers {
		code := w.ErrorCode
		if code == "" {
			if w.Busy {
				code = "."
			} else {
				code = " "
			}
		}
		fmt.Fprintf(&b, "[%3d] %-16s %s v=%-5d s=%-6d %5.1fmph e=%d\n",
			w.WorkerNo, w.Username, code, w.Visits, w.TotalSeen, w.Speed, w.EmptyVisitCount)
	}
	return b.String()
}

// EnableStatus directs the supervisory loop to render the status display
// to out on each status tick. Call before Supervise.
func (o *Overseer) EnableStatus(out io.Writer) {
	o.statusOut = out
	o.startedAt = time.Now()
}

func (o *Overseer) renderStatus() {
	if o.statusOut == nil {
		return
	}
	snap := StatusSnapshot{
		Stats:      o.Stats(),
		Workers:    o.Snapshots(),
		CaptchaLen: o.accounts.CaptchaLen(),
		ReadyLen:   o.accounts.ReadyLen(),
		Uptime:     time.Since(o.startedAt),
	}
	if o.pipeline != nil {
		snap.Pipeline = o.pipeline.Stats()
	}
	fmt.Fprint(o.statusOut, "\033[2J\033[H"+RenderStatus(snap))
}
