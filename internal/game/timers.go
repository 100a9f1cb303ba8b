package game

import (
	"time"

	"pitgame/pkg/types"
)

// Timer subsystem. One stage timer may be active per game: a one-second tick
// emitting OnTimer plus a one-shot expiry. The no-tighter timer is auxiliary:
// it coexists with the stage timer, is never broadcast as a TIMER event, and
// ends Stage 1 on its own. Generation counters invalidate callbacks that fire
// after a cancel.

// scheduleStageEndLocked cancels any active stage timer, records the absolute
// deadline on the round, emits an initial OnTimer, and arms the tick and
// expiry. onExpiry runs inside the critical section.
func (g *Game) scheduleStageEndLocked(d time.Duration, onExpiry func()) {
	g.cancelStageTimerLocked()
	if g.round == nil {
		return
	}

	endsAt := time.Now().Add(d).UnixMilli()
	g.round.StageEndsAt = &endsAt
	g.emitTimerLocked(endsAt)

	gen := g.timerGen
	stop := make(chan struct{})
	g.tickStop = stop

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_ = g.run(func() error {
					if g.timerGen != gen {
						return nil
					}
					g.emitTimerLocked(endsAt)
					return nil
				})
			}
		}
	}()

	g.stageExpiry = time.AfterFunc(d, func() {
		_ = g.run(func() error {
			if g.timerGen != gen {
				return nil
			}
			g.cancelStageTimerLocked()
			onExpiry()
			return nil
		})
	})
}

// cancelStageTimerLocked stops the tick and expiry. round.StageEndsAt is left
// for the caller: pause preserves it, transitions clear it.
func (g *Game) cancelStageTimerLocked() {
	g.timerGen++
	if g.stageExpiry != nil {
		g.stageExpiry.Stop()
		g.stageExpiry = nil
	}
	if g.tickStop != nil {
		close(g.tickStop)
		g.tickStop = nil
	}
}

// armNoTighterLocked (re)starts the rolling Stage-1 window. Any prior
// no-tighter timer is cancelled.
func (g *Game) armNoTighterLocked(d time.Duration) {
	g.cancelNoTighterLocked()
	if g.round == nil {
		return
	}

	until := time.Now().Add(d).UnixMilli()
	g.round.NoTighterUntil = &until

	gen := g.noTighterGen
	g.noTighter = time.AfterFunc(d, func() {
		_ = g.run(func() error {
			if g.noTighterGen != gen {
				return nil
			}
			if g.status == types.StatusPlaying && g.round != nil && g.round.Stage == types.StageSpreadQuoting {
				g.endSpreadQuotingLocked()
			}
			return nil
		})
	})
}

func (g *Game) cancelNoTighterLocked() {
	g.noTighterGen++
	if g.noTighter != nil {
		g.noTighter.Stop()
		g.noTighter = nil
	}
}

func (g *Game) cancelAllTimersLocked() {
	g.cancelStageTimerLocked()
	g.cancelNoTighterLocked()
}

func (g *Game) emitTimerLocked(endsAt int64) {
	if g.sub == nil || g.round == nil {
		return
	}
	sub := g.sub
	stage := g.round.Stage
	remaining := (endsAt - time.Now().UnixMilli() + 999) / 1000
	if remaining < 0 {
		remaining = 0
	}
	g.pending = append(g.pending, func() { sub.OnTimer(stage, endsAt, remaining) })
}
