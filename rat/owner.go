package rat

import (
	"log/slog"

	"github.com/c360/ratstreams/storage"
)

// Owner is the handle adapters receive at SetUp. It is a lookup reference to
// the owning rat; adapters never control the rat through it.
type Owner interface {
	Name() string
	Storage() *storage.Storage
	Logger() *slog.Logger
	IsPaused() bool
	IsStopped() bool
}

// StaticOwner is an Owner for adapters used outside a rat, mostly in tests.
type StaticOwner struct {
	OwnerName    string
	OwnerStorage *storage.Storage
	OwnerLogger  *slog.Logger
}

var _ Owner = (*StaticOwner)(nil)

func (o *StaticOwner) Name() string { return o.OwnerName }

func (o *StaticOwner) Storage() *storage.Storage { return o.OwnerStorage }

func (o *StaticOwner) Logger() *slog.Logger {
	if o.OwnerLogger == nil {
		return slog.Default()
	}
	return o.OwnerLogger
}

func (o *StaticOwner) IsPaused() bool { return false }

func (o *StaticOwner) IsStopped() bool { return false }
