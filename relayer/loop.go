package relayer

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Lorenzo-Protocol/lorenzo-omnichain-relayer/chains"
	"github.com/Lorenzo-Protocol/lorenzo-omnichain-relayer/types"
)

// Start starts every adapter's event feed and then the periodic loop.
func (r *Relayer) Start(ctx context.Context) error {
	for _, adapter := range r.Adapters() {
		if err := adapter.Start(ctx, r); err != nil {
			r.logger.Errorf("failed to start %s: %v", adapter.ChainName(), err)
			if types.IsFatal(err) {
				return err
			}
			return types.Fatal("start "+adapter.ChainName(), err)
		}
		r.logger.Infof("chain %s started", adapter.ChainName())
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.mainLoop()
	}()
	return nil
}

func (r *Relayer) mainLoop() {
	for {
		select {
		case <-r.quit:
			r.logger.Debug("relayer mainloop quit")
			return
		default:
		}

		r.Tick(context.Background())

		select {
		case <-r.quit:
			r.logger.Debug("relayer mainloop quit")
			return
		case <-time.After(r.cfg.TickInterval):
		}
	}
}

// Tick runs one round of PushPending, TryTrigger and Checkpoint on every
// adapter concurrently and returns once all of them finished.
func (r *Relayer) Tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		r.metrics.TickDuration.Observe(time.Since(start).Seconds())
	}()

	var g errgroup.Group
	for _, adapter := range r.Adapters() {
		adapter := adapter
		g.Go(func() error {
			return r.runAdapter(ctx, adapter)
		})
	}
	if err := g.Wait(); err != nil {
		r.logger.Errorf("tick failed: %v", err)
	}
}

func (r *Relayer) runAdapter(ctx context.Context, adapter chains.Adapter) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.metrics.TickPanics.WithLabelValues(adapter.ChainName()).Inc()
			err = fmt.Errorf("%s panicked: %v", adapter.ChainName(), p)
		}
	}()

	adapter.PushPending(ctx)
	adapter.TryTrigger(ctx)
	adapter.Checkpoint(ctx)
	return nil
}

// Stop signals the loop and every adapter to quit. A running tick completes.
func (r *Relayer) Stop() {
	close(r.quit)
	for _, adapter := range r.Adapters() {
		r.logger.Infof("Stopping %s adapter...", adapter.ChainName())
		adapter.Stop()
	}
}

func (r *Relayer) WaitForShutdown() {
	r.wg.Wait()
	for _, adapter := range r.Adapters() {
		adapter.WaitForShutdown()
		r.logger.Infof("%s adapter shutdown", adapter.ChainName())
	}
}
