package mention

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"scancal/internal/apperr"
	appLog "scancal/internal/log"
	"scancal/internal/model"
)

// ErrSuperseded is returned by a directory load whose result was discarded
// because a newer load for the same identity started.
var ErrSuperseded = errors.New("directory load superseded")

// Directory is a read-only snapshot of one identity's contacts. It is never
// modified after construction and can be shared freely.
type Directory struct {
	identity string
	contacts []model.Contact
	loadedAt time.Time
}

// NewDirectory snapshots contacts, dropping entries without an email.
func NewDirectory(identity string, contacts []model.Contact) *Directory {
	kept := make([]model.Contact, 0, len(contacts))
	for _, c := range contacts {
		c.Email = strings.TrimSpace(c.Email)
		if c.Email == "" {
			continue
		}
		kept = append(kept, c)
	}
	return &Directory{identity: identity, contacts: kept, loadedAt: time.Now()}
}

func (d *Directory) Identity() string {
	if d == nil {
		return ""
	}
	return d.identity
}

func (d *Directory) Len() int {
	return len(d.list())
}

// Contacts returns a copy of the snapshot in directory order.
func (d *Directory) Contacts() []model.Contact {
	return slices.Clone(d.list())
}

func (d *Directory) LoadedAt() time.Time {
	if d == nil {
		return time.Time{}
	}
	return d.loadedAt
}

func (d *Directory) list() []model.Contact {
	if d == nil {
		return nil
	}
	return d.contacts
}

// Loader fetches the contact directory of an identity.
type Loader interface {
	LoadContacts(ctx context.Context, identity string) ([]model.Contact, error)
}

// inflight is one Refresh call. dir and err are set before done is closed;
// next points at the call that superseded this one.
type inflight struct {
	gen    uint64
	cancel context.CancelFunc
	done   chan struct{}
	next   *inflight
	dir    *Directory
	err    error
}

// DirectoryCache loads each identity's directory at most once and serves
// the snapshot afterwards. Refresh is the only write path: a newer Refresh
// for an identity cancels and supersedes one still in flight.
type DirectoryCache struct {
	loader Loader

	mu        sync.Mutex
	snapshots map[string]*Directory
	pending   map[string]*inflight
	gen       uint64
}

func NewDirectoryCache(loader Loader) *DirectoryCache {
	return &DirectoryCache{
		loader:    loader,
		snapshots: make(map[string]*Directory),
		pending:   make(map[string]*inflight),
	}
}

// Get returns the cached snapshot for identity, if any.
func (c *DirectoryCache) Get(identity string) (*Directory, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.snapshots[identity]
	return d, ok
}

// Load returns the cached snapshot, fetching it on first use. A caller
// whose fetch is superseded waits for the newer one and returns its result.
func (c *DirectoryCache) Load(ctx context.Context, identity string) (*Directory, error) {
	if d, ok := c.Get(identity); ok {
		return d, nil
	}
	d, call, err := c.refresh(ctx, identity)
	if errors.Is(err, ErrSuperseded) {
		return c.follow(ctx, call)
	}
	return d, err
}

// follow waits along the chain of superseding calls for the first one that
// was not itself superseded.
func (c *DirectoryCache) follow(ctx context.Context, call *inflight) (*Directory, error) {
	for {
		c.mu.Lock()
		next := call.next
		c.mu.Unlock()
		if next == nil {
			return nil, ErrSuperseded
		}

		select {
		case <-ctx.Done():
			return nil, apperr.DirectoryLoad(ctx.Err(), "load contacts")
		case <-next.done:
		}
		if !errors.Is(next.err, ErrSuperseded) {
			return next.dir, next.err
		}
		call = next
	}
}

// Refresh fetches identity's directory and replaces the cached snapshot.
// Failures are reported as directory-load errors and leave any previous
// snapshot in place.
func (c *DirectoryCache) Refresh(ctx context.Context, identity string) (*Directory, error) {
	d, _, err := c.refresh(ctx, identity)
	return d, err
}

func (c *DirectoryCache) refresh(ctx context.Context, identity string) (*Directory, *inflight, error) {
	if strings.TrimSpace(identity) == "" {
		return nil, nil, apperr.DirectoryLoad(errors.New("identity is empty"), "load contacts")
	}
	if c.loader == nil {
		return nil, nil, apperr.DirectoryLoad(errors.New("no contact loader configured"), "load contacts")
	}

	loadCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.gen++
	call := &inflight{gen: c.gen, cancel: cancel, done: make(chan struct{})}
	if prev, ok := c.pending[identity]; ok {
		prev.cancel()
		prev.next = call
	}
	c.pending[identity] = call
	c.mu.Unlock()
	defer close(call.done)

	contacts, err := c.loader.LoadContacts(loadCtx, identity)

	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.pending[identity]; !ok || cur.gen != call.gen {
		appLog.Debug("mention: directory load superseded", "identity", identity)
		call.err = ErrSuperseded
		return nil, call, ErrSuperseded
	}
	delete(c.pending, identity)

	if err != nil {
		appLog.Error("mention: directory load failed", err, "identity", identity)
		call.err = apperr.DirectoryLoad(err, "load contacts")
		return nil, call, call.err
	}

	d := NewDirectory(identity, contacts)
	c.snapshots[identity] = d
	call.dir = d
	appLog.Info("mention: directory loaded", "identity", identity, "contacts", d.Len())
	return d, call, nil
}
