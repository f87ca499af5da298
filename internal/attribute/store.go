package attribute

import (
	"fmt"
	"sync"
)

// Mode holds sysfs-style permission bits for an attribute.
type Mode uint16

// Common attribute modes.
const (
	// ModeReadOnly is world-readable, nobody writes (S_IRUGO).
	ModeReadOnly Mode = 0o444

	// ModeReadWrite is world-readable, owner-writable.
	ModeReadWrite Mode = 0o644

	// ModeWriteOnly is owner-writable and unreadable.
	ModeWriteOnly Mode = 0o200

	readBits  Mode = 0o444
	writeBits Mode = 0o222
)

// CanRead reports whether the mode grants read access to anyone.
func (m Mode) CanRead() bool { return m&readBits != 0 }

// CanWrite reports whether the mode grants write access to anyone.
func (m Mode) CanWrite() bool { return m&writeBits != 0 }

// String renders the mode as an octal permission string (e.g. "0444").
func (m Mode) String() string { return fmt.Sprintf("%#04o", uint16(m)) }

// Attribute is a named introspection point scoped to one entity.
type Attribute struct {
	// Name is unique within the owning Store.
	Name string

	// Mode decides whether Show and Store may be invoked.
	Mode Mode

	// Show returns the current value. Required when Mode grants read.
	Show func() (string, error)

	// Store accepts a new value. Nil means the attribute is read-only
	// regardless of Mode.
	Store func(value string) error

	// Owner is an opaque handle to whatever supplied the attribute. An
	// Owner implementing Pinner is pinned while Show or Store runs.
	Owner any
}

// Pinner is implemented by owners that must stay loaded while one of
// their attributes is being accessed.
type Pinner interface {
	Acquire() error
	Release()
}

// pin acquires attr's owner when it is a Pinner. The returned func
// releases it.
func pin(attr Attribute) (func(), error) {
	p, ok := attr.Owner.(Pinner)
	if !ok {
		return func() {}, nil
	}
	if err := p.Acquire(); err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrOwnerUnavailable, attr.Name, err)
	}
	return p.Release, nil
}

// ReadOnly builds a read-only attribute backed by show.
func ReadOnly(name string, show func() (string, error)) Attribute {
	return Attribute{Name: name, Mode: ModeReadOnly, Show: show}
}

// Static builds a read-only attribute that always returns value.
func Static(name, value string) Attribute {
	return ReadOnly(name, func() (string, error) { return value, nil })
}

// Store is the attribute table of a single entity.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Store struct {
	mu    sync.RWMutex
	attrs map[string]Attribute
	order []string
}

// NewStore creates an empty attribute store.
func NewStore() *Store {
	return &Store{attrs: make(map[string]Attribute)}
}

// Publish adds attr to the store.
// Returns ErrDuplicateAttribute if the name is already taken; the existing
// attribute is left untouched.
func (s *Store) Publish(attr Attribute) error {
	if attr.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidAttribute)
	}
	if attr.Mode.CanRead() && attr.Show == nil {
		return fmt.Errorf("%w: %q is readable but has no reader", ErrInvalidAttribute, attr.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.attrs[attr.Name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateAttribute, attr.Name)
	}
	s.attrs[attr.Name] = attr
	s.order = append(s.order, attr.Name)
	return nil
}

// Read invokes the reader of the named attribute with its owner pinned.
// The reader runs without the store lock held, so it may call back into
// the bus or this store.
func (s *Store) Read(name string) (string, error) {
	attr, ok := s.Lookup(name)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if !attr.Mode.CanRead() || attr.Show == nil {
		return "", fmt.Errorf("%w: %q is not readable", ErrPermissionDenied, name)
	}
	unpin, err := pin(attr)
	if err != nil {
		return "", err
	}
	defer unpin()

	value, err := attr.Show()
	if err != nil {
		return "", fmt.Errorf("reading %q: %w", name, err)
	}
	return value, nil
}

// Write delegates value to the writer of the named attribute, outside the
// store lock and with its owner pinned. The writer's own error is returned wrapped.
func (s *Store) Write(name, value string) error {
	attr, ok := s.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if attr.Store == nil || !attr.Mode.CanWrite() {
		return fmt.Errorf("%w: %q is read-only", ErrPermissionDenied, name)
	}
	unpin, err := pin(attr)
	if err != nil {
		return err
	}
	defer unpin()

	if err := attr.Store(value); err != nil {
		return fmt.Errorf("writing %q: %w", name, err)
	}
	return nil
}

// Lookup returns a copy of the named attribute definition.
func (s *Store) Lookup(name string) (Attribute, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attr, ok := s.attrs[name]
	return attr, ok
}

// Unpublish removes a single attribute. It reports whether one was removed.
func (s *Store) Unpublish(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.attrs[name]; !ok {
		return false
	}
	delete(s.attrs, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// UnpublishAll removes every attribute from the store.
func (s *Store) UnpublishAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attrs = make(map[string]Attribute)
	s.order = nil
}

// Names returns attribute names in publication order.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, len(s.order))
	copy(names, s.order)
	return names
}

// Len returns the number of published attributes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.attrs)
}
