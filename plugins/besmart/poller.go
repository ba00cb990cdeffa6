package besmart

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/joshp123/gohome-besmart/internal/history"
)

// Run connects the optional sinks and polls every room until ctx is done.
// Rooms poll independently; a slow room does not delay the others.
func (p *Plugin) Run(ctx context.Context) error {
	if p.client == nil {
		<-ctx.Done()
		return nil
	}

	p.connectSinks(ctx)
	defer p.closeSinks()

	var wg sync.WaitGroup
	for _, th := range p.thermostats {
		wg.Add(1)
		go func(th *Thermostat) {
			defer wg.Done()
			poll(ctx, th, p.cfg.PollInterval)
		}(th)
	}
	wg.Wait()
	return nil
}

func poll(ctx context.Context, th *Thermostat, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		pollCtx, cancel := context.WithTimeout(ctx, interval)
		// failures are logged and counted by the thermostat
		_ = th.Update(pollCtx)
		cancel()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Plugin) connectSinks(ctx context.Context) {
	if p.historyCfg != nil {
		recorder, err := history.NewMongoRecorder(ctx, p.historyCfg)
		if err != nil {
			log.WithError(err).Warn("history disabled")
		} else {
			p.mu.Lock()
			p.recorder = recorder
			p.mu.Unlock()
		}
		p.setSinkError("history", err)
	}

	if p.mqttCfg != nil {
		bridge, err := ConnectBridge(p.mqttCfg, p.Thermostat)
		if err != nil {
			log.WithError(err).Warn("mqtt bridge disabled")
		} else {
			p.mu.Lock()
			p.bridge = bridge
			p.mu.Unlock()
		}
		p.setSinkError("mqtt", err)
	}
}

func (p *Plugin) closeSinks() {
	p.mu.Lock()
	recorder, bridge := p.recorder, p.bridge
	p.recorder, p.bridge = nil, nil
	p.mu.Unlock()

	if bridge != nil {
		bridge.Close()
	}
	if closer, ok := recorder.(interface{ Close(context.Context) error }); ok {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		defer cancel()
		if err := closer.Close(ctx); err != nil {
			log.WithError(err).Warn("close history store")
		}
	}
}
