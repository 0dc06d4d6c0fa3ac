package debugger

import (
	"context"
	"sort"
	"time"
	"weak"

	"github.com/go-delve/sdb/pkg/coro"
)

type switchSample struct {
	task     weak.Pointer[coro.Task]
	switches uint64
}

// Zombies samples the switch counter of every task, waits for window and
// returns the tasks whose counter did not move. Tasks that exit during the
// window are left out, and so is caller, which spends the window sleeping.
func (d *Debugger) Zombies(ctx context.Context, caller *coro.Task, window time.Duration) ([]*coro.Task, error) {
	samples := make(map[int64]switchSample)
	for _, t := range d.registry.All() {
		if t == caller {
			continue
		}
		samples[t.ID()] = switchSample{task: weak.Make(t), switches: t.Switches()}
	}

	sleep := func() error {
		timer := time.NewTimer(window)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	var err error
	if caller != nil {
		err = caller.Block(sleep)
	} else {
		err = sleep()
	}
	if err != nil {
		return nil, err
	}

	var zombies []*coro.Task
	for _, s := range samples {
		t := s.task.Value()
		if t == nil || t.Exited() {
			continue
		}
		if t.Switches() == s.switches {
			zombies = append(zombies, t)
		}
	}
	sort.Slice(zombies, func(i, j int) bool { return zombies[i].ID() < zombies[j].ID() })
	d.log.Debugf("zombie scan over %v found %d of %d tasks", window, len(zombies), len(samples))
	return zombies, nil
}
