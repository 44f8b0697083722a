package rat

import (
	"context"
	"reflect"
	"sync"

	"github.com/c360/ratstreams/errors"
)

// Output delivers one item per Transmit call through a single slot.
type Output interface {
	// Accepts lists the types this output consumes.
	Accepts() []reflect.Type

	SetUp(owner Owner) error

	// CanInput is true only while the slot is empty.
	CanInput() bool

	// Input places an item in the slot. Only valid after CanInput.
	Input(item any)

	// Transmit delivers the held item and clears the slot whether or not
	// delivery succeeded.
	Transmit(ctx context.Context) error

	StopExecution()
}

// OutputBase implements the slot. Embed it and implement Accepts and
// Transmit in terms of Deliver.
type OutputBase struct {
	mu      sync.Mutex
	owner   Owner
	item    any
	held    bool
	stopped bool
}

// SetUp stores the owner and clears the stopped flag.
func (b *OutputBase) SetUp(owner Owner) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.owner = owner
	b.stopped = false
	return nil
}

// Owner returns the owner passed to SetUp.
func (b *OutputBase) Owner() Owner {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.owner
}

// CanInput reports whether the slot is empty.
func (b *OutputBase) CanInput() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.held
}

// Input fills the slot.
func (b *OutputBase) Input(item any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.item = item
	b.held = true
}

// Held returns the item in the slot without removing it.
func (b *OutputBase) Held() (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.item, b.held
}

// Deliver passes the held item to fn and then clears the slot, also when fn
// fails or panics.
func (b *OutputBase) Deliver(fn func(item any) error) error {
	b.mu.Lock()
	item, held := b.item, b.held
	b.mu.Unlock()

	if !held {
		return errors.WrapInvalid(errors.ErrSlotEmpty, "Output", "Transmit", "deliver item")
	}

	defer b.clear()
	return fn(item)
}

func (b *OutputBase) clear() {
	b.mu.Lock()
	b.item = nil
	b.held = false
	b.mu.Unlock()
}

// StopExecution sets the stopped flag.
func (b *OutputBase) StopExecution() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()
}

// IsStopped reports whether StopExecution was called since SetUp.
func (b *OutputBase) IsStopped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopped
}
