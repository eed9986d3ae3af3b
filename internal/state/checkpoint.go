package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidCheckpointID = errors.New("checkpoint id is required")
	ErrInvalidPlugin       = errors.New("checkpoint plugin is required")
)

// Checkpoint is an opaque undo token. It is only valid for the backend that
// created it.
type Checkpoint struct {
	ID                string    `json:"id" yaml:"id"`
	Plugin            string    `json:"plugin" yaml:"plugin"`
	Timestamp         time.Time `json:"timestamp" yaml:"timestamp"`
	StateSnapshot     any       `json:"state_snapshot" yaml:"state_snapshot"`
	BackendCheckpoint any       `json:"backend_checkpoint,omitempty" yaml:"backend_checkpoint,omitempty"`
}

// NewCheckpoint captures snapshot for plugin under a fresh identifier. The
// snapshot is deep-copied so later mutation of live state cannot leak in.
func NewCheckpoint(plugin string, snapshot, backend any) *Checkpoint {
	return &Checkpoint{
		ID:                uuid.NewString(),
		Plugin:            plugin,
		Timestamp:         time.Now().UTC(),
		StateSnapshot:     Clone(snapshot),
		BackendCheckpoint: Clone(backend),
	}
}

// Validate ensures checkpoint integrity.
func (c *Checkpoint) Validate() error {
	if c == nil || c.ID == "" {
		return ErrInvalidCheckpointID
	}
	if c.Plugin == "" {
		return ErrInvalidPlugin
	}
	return nil
}

// ValidFor returns an error unless the checkpoint was created by plugin.
func (c *Checkpoint) ValidFor(plugin string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Plugin != plugin {
		return fmt.Errorf("checkpoint %s belongs to plugin %q, not %q", c.ID, c.Plugin, plugin)
	}
	return nil
}
