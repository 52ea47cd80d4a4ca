package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide session/signaling counter.
var Stats = &stats{}

type stats struct {
	SessionsOpened atomic.Int64 // cumulative count of peer sessions created since process start
	SessionsClosed atomic.Int64 // cumulative count of peer sessions torn down since process start
	MessagesIn     atomic.Int64 // cumulative signaling messages received
	MessagesOut    atomic.Int64 // cumulative signaling messages sent
	Reconnects     atomic.Int64 // cumulative successful transport reconnects
}

func (s *stats) AddSession()    { s.SessionsOpened.Add(1) }
func (s *stats) RemoveSession() { s.SessionsClosed.Add(1) }
func (s *stats) AddIn()         { s.MessagesIn.Add(1) }
func (s *stats) AddOut()        { s.MessagesOut.Add(1) }
func (s *stats) AddReconnect()  { s.Reconnects.Add(1) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs signaling statistics
// every 10 seconds. Quiet intervals are skipped. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevIn, prevOut, prevOpened, prevClosed int64
		for {
			select {
			case <-ticker.C:
				opened := Stats.SessionsOpened.Load()
				closed := Stats.SessionsClosed.Load()
				in := Stats.MessagesIn.Load()
				out := Stats.MessagesOut.Load()

				dIn := in - prevIn
				dOut := out - prevOut
				dOpened := opened - prevOpened
				dClosed := closed - prevClosed

				if dIn > 0 || dOut > 0 || dOpened > 0 || dClosed > 0 {
					pterm.DefaultLogger.Info(formatStats(dIn, dOut, opened-closed, dOpened, dClosed))
				}

				prevIn = in
				prevOut = out
				prevOpened = opened
				prevClosed = closed

			case <-ctx.Done():
				return
			}
		}
	}()
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(in, out, active, opened, closed int64) string {
	return fmt.Sprintf("Msg In: %4d | Msg Out: %4d | Sessions: %3d (%d↑ %d↓)",
		in, out, active, opened, closed)
}
