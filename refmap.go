package refmap

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"
)

const (
	// DefaultInitialCapacity is the default total capacity hint.
	DefaultInitialCapacity = 16
	// DefaultLoadFactor is the default bucket load factor.
	DefaultLoadFactor = 0.75
	// DefaultConcurrencyLevel is the default requested segment count.
	DefaultConcurrencyLevel = 16
	// MaximumConcurrencyLevel caps the number of segments.
	MaximumConcurrencyLevel = 1 << 16
)

// Map is a concurrent map whose entries are held through reclaimable
// references. It is split into a power-of-two number of segments, each
// with its own lock, bucket array and reclamation queue.
//
// Get never locks. Put, PutIfAbsent, Remove, RemoveIf, Replace and
// CompareAndReplace lock the one segment the key hashes to, and piggyback
// the purge of severed references (and, for inserts, the bucket array
// growth) on that lock.
//
// A Map must not be copied after first use.
type Map[K comparable, V any] struct {
	segments      []segment[K, V]
	shift         uint
	loadFactor    float64
	referenceType ReferenceType
	purgeOnRead   bool
	seed          uintptr
	keyHash       hashFunc
	valEqual      equalFunc
	logger        *zap.Logger

	entrySet  atomic.Pointer[EntrySet[K, V]]
	reclaimed atomic.Uint64
	gc        *gcTrigger
}

// MapConfig defines configurable Map options.
type MapConfig struct {
	initialCapacity  int
	loadFactor       float64
	concurrencyLevel int
	referenceType    ReferenceType
	logger           *zap.Logger
	purgeOnRead      bool
	gcReclaim        bool
	softHeapLimit    uint64
}

// WithInitialCapacity sets the total capacity hint, shared evenly between
// segments. It must not be negative. Default 16.
func WithInitialCapacity(capacity int) func(*MapConfig) {
	return func(c *MapConfig) {
		c.initialCapacity = capacity
	}
}

// WithLoadFactor sets the fraction of a segment's bucket count that
// triggers doubling. It must be positive. Default 0.75.
func WithLoadFactor(loadFactor float64) func(*MapConfig) {
	return func(c *MapConfig) {
		c.loadFactor = loadFactor
	}
}

// WithConcurrencyLevel sets the requested number of segments; it is
// rounded up to a power of two and capped at MaximumConcurrencyLevel.
// It must be positive. Default 16.
func WithConcurrencyLevel(level int) func(*MapConfig) {
	return func(c *MapConfig) {
		c.concurrencyLevel = level
	}
}

// WithReferenceType selects the reference kind used for every entry.
// Default SoftReference.
func WithReferenceType(t ReferenceType) func(*MapConfig) {
	return func(c *MapConfig) {
		c.referenceType = t
	}
}

// WithLogger sets the logger for resize, purge and reclaim events,
// which are all logged at debug level.
func WithLogger(logger *zap.Logger) func(*MapConfig) {
	return func(c *MapConfig) {
		c.logger = logger
	}
}

// WithPurgeOnRead makes Get, GetOrDefault and ContainsKey drain a pending
// reclamation queue before reading. Such reads take the segment lock when
// the queue is not empty.
func WithPurgeOnRead() func(*MapConfig) {
	return func(c *MapConfig) {
		c.purgeOnRead = true
	}
}

// WithGCReclaim runs Reclaim after every garbage collection cycle until
// Close is called. Weak references are severed on every cycle; soft ones
// only when the live heap exceeds the limit set by WithSoftHeapLimit.
func WithGCReclaim() func(*MapConfig) {
	return func(c *MapConfig) {
		c.gcReclaim = true
	}
}

// WithSoftHeapLimit sets the live heap size, in bytes, above which a
// GC-triggered reclaim also severs soft references. Zero disables it.
func WithSoftHeapLimit(bytes uint64) func(*MapConfig) {
	return func(c *MapConfig) {
		c.softHeapLimit = bytes
	}
}

func defaultMapConfig() *MapConfig {
	return &MapConfig{
		initialCapacity:  DefaultInitialCapacity,
		loadFactor:       DefaultLoadFactor,
		concurrencyLevel: DefaultConcurrencyLevel,
		referenceType:    SoftReference,
	}
}

func (c *MapConfig) validate() error {
	if c.initialCapacity < 0 {
		return fmt.Errorf("%w: initial capacity must not be negative: %d", ErrInvalidArgument, c.initialCapacity)
	}
	if !(c.loadFactor > 0) || math.IsInf(c.loadFactor, 0) {
		return fmt.Errorf("%w: load factor must be positive: %v", ErrInvalidArgument, c.loadFactor)
	}
	if c.concurrencyLevel <= 0 {
		return fmt.Errorf("%w: concurrency level must be positive: %d", ErrInvalidArgument, c.concurrencyLevel)
	}
	if c.referenceType > WeakReference {
		return fmt.Errorf("%w: unknown reference type %d", ErrInvalidArgument, uint8(c.referenceType))
	}
	return nil
}

// NewMap creates a Map using the built-in hash and equality functions.
//
// Parameters:
//   - WithInitialCapacity, WithLoadFactor, WithConcurrencyLevel,
//     WithReferenceType to shape the table
//   - WithLogger, WithPurgeOnRead, WithGCReclaim, WithSoftHeapLimit
//
// Returns an error wrapping ErrInvalidArgument for an invalid configuration.
func NewMap[K comparable, V any](options ...func(*MapConfig)) (*Map[K, V], error) {
	return NewMapWithHasher[K, V](nil, nil, options...)
}

// NewMapWithHasher creates a Map with custom hashing and equality functions.
//
// Parameters:
//   - keyHash: nil uses the built-in hasher
//   - valEqual: nil uses the built-in comparison; if V is not comparable,
//     RemoveIf, CompareAndReplace and EntrySet.Contains/Remove panic
func NewMapWithHasher[K comparable, V any](
	keyHash func(key K, seed uintptr) uintptr,
	valEqual func(val, val2 V) bool,
	options ...func(*MapConfig),
) (*Map[K, V], error) {
	c := defaultMapConfig()
	for _, o := range options {
		o(c)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}

	m := &Map[K, V]{
		shift:         calcShift(c.concurrencyLevel, MaximumConcurrencyLevel),
		loadFactor:    c.loadFactor,
		referenceType: c.referenceType,
		purgeOnRead:   c.purgeOnRead,
		seed:          uintptr(rand.Uint64()),
		logger:        c.logger,
	}
	m.keyHash, m.valEqual = defaultHasher[K, V]()
	if keyHash != nil {
		m.keyHash = func(pointer unsafe.Pointer, seed uintptr) uintptr {
			return keyHash(*(*K)(pointer), seed)
		}
	}
	if valEqual != nil {
		m.valEqual = func(val unsafe.Pointer, val2 unsafe.Pointer) bool {
			return valEqual(*(*V)(val), *(*V)(val2))
		}
	}

	n := 1 << m.shift
	perSegment := int((int64(c.initialCapacity) + int64(n) - 1) / int64(n))
	m.segments = make([]segment[K, V], n)
	for i := range m.segments {
		m.segments[i].init(i, perSegment, c.loadFactor, c.referenceType, c.logger)
	}

	if c.gcReclaim {
		m.gc = startGCReclaim(m, c.softHeapLimit)
	}
	m.logger.Debug("map created",
		zap.Int("segments", n),
		zap.Int("segmentBuckets", m.segments[0].initialLen),
		zap.Stringer("referenceType", c.referenceType))
	return m, nil
}

func (m *Map[K, V]) hash(key *K) uint32 {
	return mix(m.keyHash(noescape(unsafe.Pointer(key)), m.seed))
}

// segmentFor selects the segment from the top shift bits of hash.
func (m *Map[K, V]) segmentFor(hash uint32) *segment[K, V] {
	return &m.segments[(hash>>(32-m.shift))&uint32(len(m.segments)-1)]
}

func (m *Map[K, V]) equal(v1, v2 *V) bool {
	return m.valEqual(noescape(unsafe.Pointer(v1)), noescape(unsafe.Pointer(v2)))
}

func (m *Map[K, V]) requireValEqual(op string) {
	if m.valEqual == nil {
		panic("called " + op + " when value is not of comparable type")
	}
}

func (m *Map[K, V]) getEntry(key *K, purge bool) *Entry[K, V] {
	hash := m.hash(key)
	ref := m.segmentFor(hash).getReference(key, hash, purge)
	if ref == nil {
		return nil
	}
	return ref.get()
}

// Get returns the value stored for key. It does not lock unless the map
// was created WithPurgeOnRead and the key's segment has severed
// references waiting to be purged.
func (m *Map[K, V]) Get(key K) (value V, ok bool) {
	if e := m.getEntry(&key, m.purgeOnRead); e != nil {
		return e.Value(), true
	}
	return
}

// GetOrDefault returns the value stored for key, or defaultValue.
func (m *Map[K, V]) GetOrDefault(key K, defaultValue V) V {
	if e := m.getEntry(&key, m.purgeOnRead); e != nil {
		return e.Value()
	}
	return defaultValue
}

// ContainsKey reports whether key has a live entry.
func (m *Map[K, V]) ContainsKey(key K) bool {
	return m.getEntry(&key, m.purgeOnRead) != nil
}

// Put stores value for key, overwriting any existing value, and returns
// the previous value if any.
func (m *Map[K, V]) Put(key K, value V) (previous V, loaded bool) {
	return m.put(&key, value, true)
}

// PutIfAbsent stores value only if key has no live entry. It returns the
// existing value and true if one was present.
func (m *Map[K, V]) PutIfAbsent(key K, value V) (previous V, loaded bool) {
	return m.put(&key, value, false)
}

func (m *Map[K, V]) put(key *K, value V, overwrite bool) (previous V, loaded bool) {
	hash := m.hash(key)
	m.segmentFor(hash).doTask(hash, key, restructureBefore|resizeAllowed,
		func(_ *reference[K, V], e *Entry[K, V], insert func(V)) {
			if e != nil {
				if overwrite {
					previous = e.SetValue(value)
				} else {
					previous = e.Value()
				}
				loaded = true
				return
			}
			insert(value)
		},
	)
	return
}

// Remove deletes key and returns the removed value if any.
func (m *Map[K, V]) Remove(key K) (previous V, loaded bool) {
	hash := m.hash(&key)
	m.segmentFor(hash).doTask(hash, &key, restructureAfter|skipIfEmpty,
		func(ref *reference[K, V], e *Entry[K, V], _ func(V)) {
			if e != nil && ref.release() {
				previous, loaded = e.Value(), true
			}
		},
	)
	return
}

// RemoveIf deletes key only if its current value equals expected.
func (m *Map[K, V]) RemoveIf(key K, expected V) (removed bool) {
	m.requireValEqual("RemoveIf")
	hash := m.hash(&key)
	m.segmentFor(hash).doTask(hash, &key, restructureAfter|skipIfEmpty,
		func(ref *reference[K, V], e *Entry[K, V], _ func(V)) {
			if e == nil {
				return
			}
			current := e.Value()
			removed = m.equal(&current, &expected) && ref.release()
		},
	)
	return
}

// Replace overwrites the value of an existing key and returns the
// previous value. It does nothing if key is absent.
func (m *Map[K, V]) Replace(key K, value V) (previous V, loaded bool) {
	hash := m.hash(&key)
	m.segmentFor(hash).doTask(hash, &key, restructureBefore|skipIfEmpty,
		func(_ *reference[K, V], e *Entry[K, V], _ func(V)) {
			if e != nil {
				previous, loaded = e.SetValue(value), true
			}
		},
	)
	return
}

// CompareAndReplace stores newValue for key only if the current value
// equals oldValue.
func (m *Map[K, V]) CompareAndReplace(key K, oldValue, newValue V) (replaced bool) {
	m.requireValEqual("CompareAndReplace")
	hash := m.hash(&key)
	m.segmentFor(hash).doTask(hash, &key, restructureBefore|skipIfEmpty,
		func(_ *reference[K, V], e *Entry[K, V], _ func(V)) {
			if e == nil {
				return
			}
			// Entry.SetValue may be called outside the segment lock,
			// so the compare has to be a CAS on the value pointer.
			current := e.value.Load()
			replaced = m.equal(current, &oldValue) && e.value.CompareAndSwap(current, &newValue)
		},
	)
	return
}

// Release severs the reference held for key without unlinking it: the
// key reads as absent at once, while Size keeps counting it until the
// segment is next purged. It reports whether a live reference was
// severed.
func (m *Map[K, V]) Release(key K) bool {
	hash := m.hash(&key)
	ref := m.segmentFor(hash).getReference(&key, hash, false)
	return ref != nil && ref.release()
}

// Size returns the sum of the segments' live counters. Each counter is
// read under its segment's lock, but the sum is not a snapshot of the
// whole map, and it still includes severed entries that have not been
// purged yet.
func (m *Map[K, V]) Size() int {
	size := 0
	for i := range m.segments {
		size += m.segments[i].size()
	}
	return size
}

// IsEmpty reports whether every segment counter is zero.
func (m *Map[K, V]) IsEmpty() bool {
	for i := range m.segments {
		if m.segments[i].size() > 0 {
			return false
		}
	}
	return true
}

// Clear removes all entries, one segment after another. A concurrent
// reader may observe a partially cleared map.
func (m *Map[K, V]) Clear() {
	for i := range m.segments {
		m.segments[i].clear()
	}
}

// PurgeStale makes every segment drain its reclamation queue and unlink
// severed references now, without resizing.
func (m *Map[K, V]) PurgeStale() {
	for i := range m.segments {
		m.segments[i].restructureIfNecessary(false)
	}
}

// ToMap collects the live entries into a map[K]V.
func (m *Map[K, V]) ToMap() map[K]V {
	a := make(map[K]V, m.Size())
	m.Range(func(k K, v V) bool {
		a[k] = v
		return true
	})
	return a
}

// PutAll stores every entry of a, as Put does. It is not atomic: a
// concurrent reader may observe some of the entries before others.
func (m *Map[K, V]) PutAll(a map[K]V) {
	for k, v := range a {
		m.Put(k, v)
	}
}

// Entries returns the entry-set view of the map.
func (m *Map[K, V]) Entries() *EntrySet[K, V] {
	if es := m.entrySet.Load(); es != nil {
		return es
	}
	m.entrySet.CompareAndSwap(nil, &EntrySet[K, V]{m: m})
	return m.entrySet.Load()
}

// Close stops the GC-cycle reclaimer started by WithGCReclaim.
// The map stays usable.
func (m *Map[K, V]) Close() {
	if m.gc != nil {
		m.gc.stop()
	}
}

// SegmentCount returns the number of segments.
func (m *Map[K, V]) SegmentCount() int {
	return len(m.segments)
}

// SegmentBucketLength returns the current bucket array length of
// segment i. It is meant for diagnostics.
func (m *Map[K, V]) SegmentBucketLength(i int) int {
	return len(m.segments[i].buckets.Load().heads)
}

// String implements fmt.Stringer.
func (m *Map[K, V]) String() string {
	return fmt.Sprintf("Map[size=%d segments=%d %s]", m.Size(), len(m.segments), m.referenceType)
}
