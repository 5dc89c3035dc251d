package storage

import (
	"context"
	"errors"
	"log"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// cache management, eviction policies.

type cachedObject struct {
	id   string
	size uint64
	// lastAccess is a tick of cachedStorage.clock.
	lastAccess atomic.Uint64
}

// cachedStorage keeps a copy of the objects of permanent in cache, evicting
// the least recently accessed ones when the cache grows past maxSize.
// Writes go to permanent first; the cache is only ever a copy.
type cachedStorage struct {
	cache     ListStorage
	permanent Storage
	maxSize   uint64 // bytes. actual storage may be slightly higher.

	clock atomic.Uint64

	mu      sync.Mutex
	objects map[string]*cachedObject
	size    uint64
	// fetching deduplicates concurrent misses on the same id.
	fetching map[string]*fetch
	// send in this channel after adding new objects.
	cleaning chan struct{}
}

type fetch struct {
	done chan struct{}
	data []byte
	err  error
}

var _ Storage = (*cachedStorage)(nil)

const cleanSleep = time.Second

// NewCachedStorage returns a Storage reading through cache, and writing to
// both permanent and cache. The objects already in cache are kept; once they
// exceed maxSize bytes, the least recently accessed are evicted in the
// background.
func NewCachedStorage(cache ListStorage, permanent Storage, maxSize uint64) (Storage, error) {
	c, err := newCachedStorage(cache, permanent, maxSize)
	if err != nil {
		return nil, err
	}
	go c.cleaner()
	return c, nil
}

func newCachedStorage(cache ListStorage, permanent Storage, maxSize uint64) (*cachedStorage, error) {
	c := &cachedStorage{
		cache:     cache,
		permanent: permanent,
		maxSize:   maxSize,

		objects:  make(map[string]*cachedObject),
		fetching: make(map[string]*fetch),
		cleaning: make(chan struct{}, 1),
	}
	err := cache.List(context.Background(), func(id string, b []byte) error {
		c.track(id, uint64(len(b)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// track records id as being in cache with the given size. c.mu must be held,
// unless c is not yet shared.
func (c *cachedStorage) track(id string, size uint64) {
	obj, ok := c.objects[id]
	if ok {
		c.size -= obj.size
	} else {
		obj = &cachedObject{id: id}
		c.objects[id] = obj
	}
	obj.size = size
	obj.lastAccess.Store(c.clock.Add(1))
	c.size += size
}

func (c *cachedStorage) access(id string) {
	c.mu.Lock()
	obj, ok := c.objects[id]
	c.mu.Unlock()
	if ok {
		obj.lastAccess.Store(c.clock.Add(1))
	}
}

func (c *cachedStorage) cacheStore(ctx context.Context, id string, b []byte) {
	if err := c.cache.Put(ctx, id, b); err != nil {
		log.Printf("cache does not correctly Put objects: %v", err)
		return
	}
	c.mu.Lock()
	c.track(id, uint64(len(b)))
	c.mu.Unlock()

	// new object added; schedule cleaning.
	select {
	case c.cleaning <- struct{}{}:
	default:
	}
}

// clean evicts the least recently accessed objects if the cache is over
// maxSize, down to 95% of maxSize to give some leeway until the next clean.
func (c *cachedStorage) clean() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.size <= c.maxSize {
		return
	}

	objects := make([]*cachedObject, 0, len(c.objects))
	for _, obj := range c.objects {
		objects = append(objects, obj)
	}
	slices.SortFunc(objects, func(i, j *cachedObject) int {
		a, b := i.lastAccess.Load(), j.lastAccess.Load()
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
		return 0
	})

	collectTarget := (c.size - c.maxSize) + c.maxSize/20
	var collected uint64
	for _, obj := range objects {
		if collected >= collectTarget {
			break
		}
		// holding c.mu prevents the object from being stored again while
		// it is deleted.
		if err := c.cache.Del(context.Background(), obj.id); err != nil {
			log.Printf("error deleting in cache eviction: %v", err)
			continue
		}
		collected += obj.size
		c.size -= obj.size
		delete(c.objects, obj.id)
	}
}

func (c *cachedStorage) cleaner() {
	for range c.cleaning {
		c.clean()
		time.Sleep(cleanSleep)
	}
}

func (c *cachedStorage) Get(ctx context.Context, id string) ([]byte, error) {
	// fast path: object is cached
	b, err := c.cache.Get(ctx, id)
	switch {
	case err == nil:
		c.access(id)
		return b, nil
	case !errors.Is(err, ErrNotFound):
		log.Printf("cache does not correctly Get objects: %v", err)
	}

	// attempt to gain "ownership" for retrieving the given key
	// from permanent storage.
	c.mu.Lock()
	f, ok := c.fetching[id]
	if !ok {
		f = &fetch{done: make(chan struct{})}
		c.fetching[id] = f
	}
	c.mu.Unlock()

	if ok {
		select {
		case <-f.done:
			return f.data, f.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	// we are responsible for retrieving the object and putting it in cache.
	f.data, f.err = c.permanent.Get(ctx, id)
	if f.err == nil {
		c.cacheStore(ctx, id, f.data)
	}
	c.mu.Lock()
	delete(c.fetching, id)
	c.mu.Unlock()
	close(f.done)

	return f.data, f.err
}

func (c *cachedStorage) Put(ctx context.Context, id string, data []byte) error {
	// try putting in permanent
	if err := c.permanent.Put(ctx, id, data); err != nil {
		return err
	}
	// succeeded; store in cache too.
	c.cacheStore(ctx, id, data)
	return nil
}

func (c *cachedStorage) Del(ctx context.Context, id string) error {
	// try deleting in permanent
	if err := c.permanent.Del(ctx, id); err != nil {
		return err
	}

	c.mu.Lock()
	if obj, ok := c.objects[id]; ok {
		c.size -= obj.size
		delete(c.objects, id)
	}
	c.mu.Unlock()

	if err := c.cache.Del(ctx, id); err != nil {
		log.Printf("cache does not correctly Del objects: %v", err)
	}
	return nil
}
