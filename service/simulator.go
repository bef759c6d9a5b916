package service

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/ctxflow"
	gatt "github.com/xaionaro-go/netgatt"
)

// Simulator periodically updates the demo services. Every tick moves
// the heart rate and the count, and the battery drains now and then.
// Nil services are skipped.
type Simulator struct {
	loop ctxflow.StartStopper[ctxflow.StartStopperBackendFuncs]

	HeartRate *HeartRate
	Battery   *Battery
	Count     *Count

	// DrainProbability is the chance per tick that the battery loses
	// one percent.
	DrainProbability float64

	interval time.Duration
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewSimulator returns a stopped simulator ticking every interval.
func NewSimulator(interval time.Duration) *Simulator {
	s := &Simulator{
		interval:         interval,
		DrainProbability: 0.1,
	}
	s.loop = ctxflow.StartStopper[ctxflow.StartStopperBackendFuncs]{
		StartStopper: ctxflow.StartStopperBackendFuncs{
			StartFunc: s.doStart,
			StopFunc:  s.doStop,
		},
	}
	return s
}

func (s *Simulator) Start(ctx context.Context) error {
	return s.loop.Start(ctx)
}

func (s *Simulator) Stop() error {
	return s.loop.Stop()
}

func (s *Simulator) doStart(ctx context.Context, _ ...any) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
	return nil
}

func (s *Simulator) doStop(ctx context.Context) error {
	s.cancel()
	s.wg.Wait()
	return nil
}

func (s *Simulator) run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if err := s.Tick(ctx); err != nil {
			if errors.Is(err, gatt.ErrClosed) {
				logger.Debugf(ctx, "connection closed, the simulator stops")
				return
			}
			logger.Warnf(ctx, "simulator tick: %v", err)
		}
	}
}

// Tick runs one simulation step.
func (s *Simulator) Tick(ctx context.Context) error {
	var errs []error
	if s.HeartRate != nil {
		errs = append(errs, s.HeartRate.Tick(ctx))
	}
	if s.Count != nil {
		errs = append(errs, s.Count.Tick(ctx))
	}
	if s.Battery != nil {
		if rand.Float64() < s.DrainProbability {
			s.Battery.Drain()
		}
		errs = append(errs, s.Battery.Update(ctx))
	}
	return errors.Join(errs...)
}
