package plugins

import (
	"github.com/joshp123/gohome-besmart/internal/config"
	"github.com/joshp123/gohome-besmart/internal/core"
	"github.com/joshp123/gohome-besmart/plugins/besmart"
)

func init() {
	Register(func(cfg *config.Config) (core.Plugin, bool) {
		p, ok := besmart.NewPlugin(cfg)
		if !ok {
			return nil, false
		}
		return p, true
	})
}
