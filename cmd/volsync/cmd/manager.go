package cmd

import (
	"github.com/oneconcern/volsync/pkg/provision"
	"go.uber.org/zap"
)

// newManager wires the volume manager described by the configuration
func newManager(cfg *Config, l *zap.Logger) *provision.Manager {
	p := provision.NewLocal(cfg.DataRoot, provision.LocalLogger(l))

	open := provision.DiskStore(l, cfg.Compress)
	if cfg.Provision.InMemory {
		open = provision.MemoryStore(l)
	}
	return provision.NewManager(p, open,
		provision.Timeout(cfg.Provision.Timeout),
		provision.ManagerLogger(l),
	)
}
