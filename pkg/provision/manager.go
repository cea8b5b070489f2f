package provision

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oneconcern/volsync/pkg/core"
	"github.com/oneconcern/volsync/pkg/core/status"
	"github.com/oneconcern/volsync/pkg/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// SeedFile is written in every new volume
	SeedFile = "README.md"

	seedContent    = "README"
	defaultTimeout = 30 * time.Second
)

type handleKey struct {
	owner string
	name  string
}

// handle of an open volume, for the generation it was opened at
type handle struct {
	vol        *core.Volume
	generation string
}

// Manager owns the open handles of provisioned volumes.
//
// The registry is checked each time a handle is requested, so a volume destroyed or
// created again by another process sharing the data root is never served from a stale handle.
type Manager struct {
	p       Provisioner
	open    OpenFunc
	timeout time.Duration
	l       *zap.Logger

	mu      sync.Mutex
	volumes map[handleKey]handle
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// Timeout bounds the duration of provisioning operations
func Timeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// ManagerLogger sets a logger for the manager
func ManagerLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.l = l
		}
	}
}

// NewManager builds a manager for the volumes of a provisioner
func NewManager(p Provisioner, open OpenFunc, opts ...ManagerOption) *Manager {
	m := &Manager{
		p:       p,
		open:    open,
		timeout: defaultTimeout,
		l:       zap.NewNop(),
		volumes: make(map[handleKey]handle),
	}
	for _, apply := range opts {
		apply(m)
	}
	return m
}

// run a provisioning call within the configured timeout
func (m *Manager) run(ctx context.Context, fn func(context.Context) error) error {
	return m.runOrUndo(ctx, fn, nil)
}

// runOrUndo runs a provisioning call within the configured timeout.
//
// When the call succeeds after the caller was told it timed out, undo reverts it.
func (m *Manager) runOrUndo(ctx context.Context, fn func(context.Context) error, undo func()) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var settled atomic.Bool
	done := make(chan error, 1)
	go func() {
		err := fn(ctx)
		if err == nil && !settled.CompareAndSwap(false, true) && undo != nil {
			undo()
		}
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if settled.CompareAndSwap(false, true) {
			return fmt.Errorf("provisioning: %w", ctx.Err())
		}
		// the call completed first
		return <-done
	}
}

// Create a volume owned by the creator, seeded with a README file.
//
// Creation is all or nothing: a volume which cannot be opened and seeded is removed.
func (m *Manager) Create(ctx context.Context, creator model.Contributor, name, password string) (*core.Volume, error) {
	var (
		loc Location
		vol *core.Volume
	)
	err := m.runOrUndo(ctx, func(ctx context.Context) error {
		var err error
		loc, err = m.p.Create(ctx, creator.Name, name, password)
		if err != nil {
			return err
		}
		vol, err = m.seed(ctx, creator, name, loc)
		if err != nil {
			m.abort(creator.Name, name, loc)
			return err
		}
		return nil
	}, func() {
		m.abort(creator.Name, name, loc)
	})
	if err != nil {
		return nil, err
	}

	m.l.Info("volume created", zap.String("owner", creator.Name), zap.String("volume", name), zap.String("root", loc.Root))
	return vol, nil
}

// seed opens a new volume and writes its seed file
func (m *Manager) seed(ctx context.Context, creator model.Contributor, name string, loc Location) (*core.Volume, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	vol, err := m.openLocked(ctx, handleKey{owner: creator.Name, name: name}, loc)
	if err != nil {
		return nil, err
	}
	if _, err := vol.Write(ctx, core.WriteRequest{
		Path:   SeedFile,
		Data:   []byte(seedContent),
		Author: creator,
	}); err != nil {
		return nil, fmt.Errorf("seeding volume %q: %w", name, err)
	}
	return vol, nil
}

// abort a volume creation: the handle is dropped and the volume deregistered
func (m *Manager) abort(owner, name string, loc Location) {
	key := handleKey{owner: owner, name: name}

	m.mu.Lock()
	if h, ok := m.volumes[key]; ok && h.generation == loc.Generation {
		m.dropLocked(key)
	}
	m.mu.Unlock()

	if err := m.p.Abort(context.Background(), owner, name, loc.Generation); err != nil {
		m.l.Error("rolling back volume creation", zap.String("owner", owner), zap.String("volume", name), zap.Error(err))
		return
	}
	m.l.Warn("volume creation rolled back", zap.String("owner", owner), zap.String("volume", name))
}

// Volume returns the handle of an existing volume, opening it if needed
func (m *Manager) Volume(ctx context.Context, owner, name string) (*core.Volume, error) {
	key := handleKey{owner: owner, name: name}

	m.mu.Lock()
	defer m.mu.Unlock()

	loc, err := m.p.Root(ctx, owner, name)
	if err != nil {
		if errors.Is(err, status.ErrNotFound) {
			if _, ok := m.volumes[key]; ok {
				m.l.Warn("volume destroyed by another process", zap.String("owner", owner), zap.String("volume", name))
				m.dropLocked(key)
			}
		}
		return nil, err
	}
	return m.openLocked(ctx, key, loc)
}

// openLocked returns the handle of a volume at some location. A handle opened at another generation is dropped.
func (m *Manager) openLocked(ctx context.Context, key handleKey, loc Location) (*core.Volume, error) {
	if h, ok := m.volumes[key]; ok {
		if h.generation == loc.Generation {
			return h.vol, nil
		}
		m.l.Warn("volume created again by another process", zap.String("owner", key.owner), zap.String("volume", key.name))
		m.dropLocked(key)
	}

	vol, err := m.open(ctx, key.name, loc.Root)
	if err != nil {
		return nil, fmt.Errorf("opening volume %q: %w", key.name, err)
	}
	m.volumes[key] = handle{vol: vol, generation: loc.Generation}
	return vol, nil
}

// dropLocked forgets and closes the handle of a volume
func (m *Manager) dropLocked(key handleKey) {
	h, ok := m.volumes[key]
	if !ok {
		return
	}
	delete(m.volumes, key)
	if err := m.closeHandle(h); err != nil {
		m.l.Warn("closing volume", zap.String("owner", key.owner), zap.String("volume", key.name), zap.Error(err))
	}
}

// closeHandle closes a volume within the configured timeout
func (m *Manager) closeHandle(h handle) error {
	return m.run(context.Background(), func(context.Context) error {
		return h.vol.Close()
	})
}

// Destroy a volume after checking its password. The handle is closed before the content is removed.
func (m *Manager) Destroy(ctx context.Context, owner, name, password string) error {
	return m.run(ctx, func(ctx context.Context) error {
		if err := m.p.Authorize(ctx, owner, name, password); err != nil {
			return err
		}

		m.mu.Lock()
		defer m.mu.Unlock()

		m.dropLocked(handleKey{owner: owner, name: name})
		if err := m.p.Destroy(ctx, owner, name, password); err != nil {
			return err
		}
		m.l.Info("volume destroyed", zap.String("owner", owner), zap.String("volume", name))
		return nil
	})
}

// List the volumes of an owner
func (m *Manager) List(ctx context.Context, owner string) ([]string, error) {
	var names []string
	err := m.run(ctx, func(ctx context.Context) error {
		var e error
		names, e = m.p.List(ctx, owner)
		return e
	})
	return names, err
}

// Close all open handles
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var group errgroup.Group
	for key, h := range m.volumes {
		h := h
		group.Go(func() error {
			return m.closeHandle(h)
		})
		delete(m.volumes, key)
	}
	return group.Wait()
}
