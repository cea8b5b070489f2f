package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nightlyone/lockfile"
	"github.com/oneconcern/volsync/pkg/core/status"
	"github.com/segmentio/ksuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v2"
)

const (
	registryFile = "volumes.yaml"
	lockFile     = ".volsync-lock"

	lockRetries    = 40
	lockRetryDelay = 50 * time.Millisecond
)

// Provisioner yields a ready root directory for a volume, or fails
type Provisioner interface {
	Create(ctx context.Context, owner, name, password string) (Location, error)
	Destroy(ctx context.Context, owner, name, password string) error
	Authorize(ctx context.Context, owner, name, password string) error
	Root(ctx context.Context, owner, name string) (Location, error)
	// Abort undoes the creation of a volume which could not be made ready
	Abort(ctx context.Context, owner, name, generation string) error
	List(ctx context.Context, owner string) ([]string, error)
}

// Location of a provisioned volume.
//
// The generation tells apart successive volumes created under the same name.
type Location struct {
	Root       string
	Generation string
}

// volumeRecord is the registry entry of a volume
type volumeRecord struct {
	Owner        string    `yaml:"owner"`
	Name         string    `yaml:"name"`
	Generation   string    `yaml:"generation,omitempty"`
	PasswordHash string    `yaml:"passwordHash"`
	CreatedAt    time.Time `yaml:"createdAt"`
}

type registry struct {
	Volumes []volumeRecord `yaml:"volumes"`
}

func (r *registry) find(owner, name string) int {
	for i, v := range r.Volumes {
		if v.Owner == owner && v.Name == name {
			return i
		}
	}
	return -1
}

// Local provisions volumes as directories under a data root:
// a volume lives in <dataRoot>/<owner>/<name>/<generation>.
type Local struct {
	dataRoot string
	lockPath string // guards the registry against other processes, when volumes live on disk
	fs       afero.Fs
	cost     int
	clock    func() time.Time
	l        *zap.Logger
	mu       sync.Mutex
}

// LocalOption configures a local provisioner
type LocalOption func(*Local)

// WithFs sets the file system holding volume directories.
//
// The file system is rooted at the data root.
func WithFs(fs afero.Fs) LocalOption {
	return func(p *Local) {
		if fs != nil {
			p.fs = fs
		}
	}
}

// BcryptCost sets the cost of password hashes
func BcryptCost(cost int) LocalOption {
	return func(p *Local) {
		p.cost = cost
	}
}

// LocalLogger sets a logger for the provisioner
func LocalLogger(l *zap.Logger) LocalOption {
	return func(p *Local) {
		if l != nil {
			p.l = l
		}
	}
}

// NewLocal creates a provisioner for volumes under dataRoot
func NewLocal(dataRoot string, opts ...LocalOption) *Local {
	p := &Local{
		dataRoot: dataRoot,
		cost:     bcrypt.DefaultCost,
		clock:    time.Now,
		l:        zap.NewNop(),
	}
	for _, apply := range opts {
		apply(p)
	}
	if p.fs == nil {
		p.fs = afero.NewBasePathFs(afero.NewOsFs(), dataRoot)
		if abs, err := filepath.Abs(filepath.Join(dataRoot, lockFile)); err == nil {
			p.lockPath = abs
		}
	}
	return p
}

// lock the registry against other processes, such as the CLI running next to a server
func (p *Local) lock() (func(), error) {
	if p.lockPath == "" {
		return func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(p.lockPath), 0700); err != nil {
		return nil, fmt.Errorf("creating data root: %w", err)
	}
	lock, err := lockfile.New(p.lockPath)
	if err != nil {
		return nil, err
	}

	err = backoff.Retry(func() error {
		e := lock.TryLock()
		if e == nil {
			return nil
		}
		var temporary interface{ Temporary() bool }
		if errors.As(e, &temporary) && temporary.Temporary() {
			return e
		}
		return backoff.Permanent(e)
	}, backoff.WithMaxRetries(backoff.NewConstantBackOff(lockRetryDelay), lockRetries))
	if err != nil {
		return nil, fmt.Errorf("locking volume registry: %w", err)
	}

	return func() {
		if e := lock.Unlock(); e != nil {
			p.l.Warn("unlocking volume registry", zap.Error(e))
		}
	}, nil
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, "/\\\x00")
}

func checkNames(owner, name string) error {
	if !validName(owner) || !validName(name) {
		return ErrInvalidName.Wrap(fmt.Errorf("%q/%q", owner, name))
	}
	return nil
}

func (p *Local) load() (*registry, error) {
	reg := &registry{}
	buf, err := afero.ReadFile(p.fs, registryFile)
	if err != nil {
		if os.IsNotExist(err) {
			return reg, nil
		}
		return nil, fmt.Errorf("reading volume registry: %w", err)
	}
	if err := yaml.Unmarshal(buf, reg); err != nil {
		return nil, fmt.Errorf("decoding volume registry: %w", err)
	}
	return reg, nil
}

func (p *Local) save(reg *registry) error {
	buf, err := yaml.Marshal(reg)
	if err != nil {
		return err
	}
	tmp := registryFile + ".tmp"
	if err := afero.WriteFile(p.fs, tmp, buf, 0600); err != nil {
		return fmt.Errorf("writing volume registry: %w", err)
	}
	return p.fs.Rename(tmp, registryFile)
}

// dir of a volume, relative to the data root
func (r volumeRecord) dir() string {
	return filepath.Join(r.Owner, r.Name, r.Generation)
}

func (p *Local) location(r volumeRecord) Location {
	return Location{Root: filepath.Join(p.dataRoot, r.dir()), Generation: r.Generation}
}

// Create the root directory of a new volume
func (p *Local) Create(_ context.Context, owner, name, password string) (Location, error) {
	if err := checkNames(owner, name); err != nil {
		return Location{}, err
	}
	if password == "" {
		return Location{}, ErrMissingPassword
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	unlock, err := p.lock()
	if err != nil {
		return Location{}, err
	}
	defer unlock()

	reg, err := p.load()
	if err != nil {
		return Location{}, err
	}
	if reg.find(owner, name) >= 0 {
		return Location{}, status.ErrExists.WrapMessage("volume %q", name)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return Location{}, err
	}
	rec := volumeRecord{
		Owner:        owner,
		Name:         name,
		Generation:   ksuid.New().String(),
		PasswordHash: string(hash),
		CreatedAt:    p.clock().UTC(),
	}
	if err := p.fs.MkdirAll(rec.dir(), 0700); err != nil {
		return Location{}, fmt.Errorf("creating volume directory: %w", err)
	}

	reg.Volumes = append(reg.Volumes, rec)
	if err := p.save(reg); err != nil {
		_ = p.fs.RemoveAll(filepath.Join(owner, name))
		return Location{}, err
	}
	p.l.Info("volume provisioned", zap.String("owner", owner), zap.String("volume", name), zap.String("generation", rec.Generation))
	return p.location(rec), nil
}

// Abort the creation of a volume: its registration and directory are removed.
//
// Nothing happens when the volume is unknown, or was created again under another generation.
func (p *Local) Abort(_ context.Context, owner, name, generation string) error {
	if err := checkNames(owner, name); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	unlock, err := p.lock()
	if err != nil {
		return err
	}
	defer unlock()

	reg, err := p.load()
	if err != nil {
		return err
	}
	idx := reg.find(owner, name)
	if idx < 0 || reg.Volumes[idx].Generation != generation {
		return nil
	}
	reg.Volumes = append(reg.Volumes[:idx], reg.Volumes[idx+1:]...)
	if err := p.save(reg); err != nil {
		return err
	}
	if err := p.fs.RemoveAll(filepath.Join(owner, name)); err != nil {
		return fmt.Errorf("removing volume directory: %w", err)
	}
	p.l.Info("volume creation aborted", zap.String("owner", owner), zap.String("volume", name), zap.String("generation", generation))
	return nil
}

// Authorize checks the password of a volume
func (p *Local) Authorize(_ context.Context, owner, name, password string) error {
	if err := checkNames(owner, name); err != nil {
		return err
	}
	if password == "" {
		return ErrMissingPassword
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	unlock, err := p.lock()
	if err != nil {
		return err
	}
	defer unlock()

	_, _, err = p.authorize(owner, name, password)
	return err
}

func (p *Local) authorize(owner, name, password string) (*registry, int, error) {
	reg, err := p.load()
	if err != nil {
		return nil, -1, err
	}
	idx := reg.find(owner, name)
	if idx < 0 {
		return nil, -1, status.ErrNotFound.WrapMessage("volume %q", name)
	}
	if bcrypt.CompareHashAndPassword([]byte(reg.Volumes[idx].PasswordHash), []byte(password)) != nil {
		return nil, -1, ErrWrongPassword
	}
	return reg, idx, nil
}

// Destroy a volume irreversibly: all content and history is removed
func (p *Local) Destroy(_ context.Context, owner, name, password string) error {
	if err := checkNames(owner, name); err != nil {
		return err
	}
	if password == "" {
		return ErrMissingPassword
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	unlock, err := p.lock()
	if err != nil {
		return err
	}
	defer unlock()

	reg, idx, err := p.authorize(owner, name, password)
	if err != nil {
		return err
	}
	reg.Volumes = append(reg.Volumes[:idx], reg.Volumes[idx+1:]...)
	if err := p.save(reg); err != nil {
		return err
	}
	if err := p.fs.RemoveAll(filepath.Join(owner, name)); err != nil {
		return fmt.Errorf("removing volume directory: %w", err)
	}
	p.l.Info("volume destroyed", zap.String("owner", owner), zap.String("volume", name))
	return nil
}

// Root directory of an existing volume
func (p *Local) Root(_ context.Context, owner, name string) (Location, error) {
	if err := checkNames(owner, name); err != nil {
		return Location{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	unlock, err := p.lock()
	if err != nil {
		return Location{}, err
	}
	defer unlock()

	reg, err := p.load()
	if err != nil {
		return Location{}, err
	}
	idx := reg.find(owner, name)
	if idx < 0 {
		return Location{}, status.ErrNotFound.WrapMessage("volume %q", name)
	}
	return p.location(reg.Volumes[idx]), nil
}

// List the volumes of an owner, sorted by name
func (p *Local) List(_ context.Context, owner string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	unlock, err := p.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	reg, err := p.load()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(reg.Volumes))
	for _, v := range reg.Volumes {
		if v.Owner == owner {
			names = append(names, v.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}
