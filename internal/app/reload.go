package app

import (
	"context"
	"strings"

	"cronsmith/internal/config"
	logx "cronsmith/pkg/logx"
)

// reloadLoop applies published configs until ctx ends. Storage, http,
// executor and content changes only take effect after a restart.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		var newCfg *config.Config
		select {
		case <-ctx.Done():
			return
		case c, ok := <-sub:
			if !ok {
				return
			}
			newCfg = c
		}
		// Coalesce bursts: keep only the latest config in the channel.
	drain:
		for {
			select {
			case newer := <-sub:
				if newer != nil {
					newCfg = newer
				}
			default:
				break drain
			}
		}
		if newCfg == nil {
			continue
		}
		a.applyConfig(lastApplied, newCfg)
		lastApplied = newCfg
	}
}

func (a *App) applyConfig(old, cfg *config.Config) {
	sections, attrs := config.SummarizeChange(old, cfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	if pending := config.RestartRequired(sections); len(pending) > 0 {
		a.log.Warn("config sections changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(pending, ",")))
	}

	if a.logs != nil {
		a.logs.Apply(mapLoggingConfig(cfg))
	}

	if swc, err := mapSweeperConfig(cfg); err != nil {
		a.log.Warn("invalid sweeper config; keeping previous", logx.Err(err))
	} else if err := a.sweeper.Apply(swc); err != nil {
		a.log.Warn("sweeper reconfigure failed", logx.Err(err))
	}

	if hc, err := mapHealthConfig(cfg); err != nil {
		a.log.Warn("invalid health config; keeping previous", logx.Err(err))
	} else {
		a.monitor.Apply(hc)
	}

	a.log.Info("config reloaded", fields...)
}
