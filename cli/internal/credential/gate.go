// Package credential owns the single optional API credential used by the
// completion client. The Gate exposes get/has/set over a Store; how the value
// is persisted is the Store's concern.
//
// Set never clears: calling it with an empty value is a no-op, so re-running
// "commitai set-key" with empty input cannot wipe a stored key.
package credential

import (
	"context"
	"errors"
	"strings"

	"commitai/cli/internal/erruser"
)

// KeyName is the fixed store key for the API credential.
const KeyName = "openai_key"

var (
	// ErrNotInitialized is returned when a Gate method is called on a nil *Gate.
	ErrNotInitialized = errors.New("credential gate not initialized")
	// ErrMissing indicates no credential is stored.
	ErrMissing = errors.New("no API key set")
)

// Gate reads and writes the API credential through a Store. Construct one at
// startup with NewGate and pass it to the components that need it.
type Gate struct {
	store Store
}

// NewGate returns a Gate backed by store. A nil store behaves like an empty
// read-only store.
func NewGate(store Store) *Gate {
	if store == nil {
		store = Chain{}
	}
	return &Gate{store: store}
}

// Get returns the stored credential. ok is false when nothing (or only
// whitespace) is stored.
func (g *Gate) Get(ctx context.Context) (value string, ok bool, err error) {
	if g == nil {
		return "", false, ErrNotInitialized
	}
	v, found, err := g.store.Get(ctx, KeyName)
	if err != nil {
		return "", false, err
	}
	v = strings.TrimSpace(v)
	if !found || v == "" {
		return "", false, nil
	}
	return v, true, nil
}

// Has reports whether Get would return a present value.
func (g *Gate) Has(ctx context.Context) (bool, error) {
	_, ok, err := g.Get(ctx)
	return ok, err
}

// Set stores value after trimming. Empty input is a no-op and never clears an
// existing credential.
func (g *Gate) Set(ctx context.Context, value string) error {
	if g == nil {
		return ErrNotInitialized
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return g.store.Set(ctx, KeyName, value)
}

// Require returns the credential or MissingError when none is stored.
func (g *Gate) Require(ctx context.Context) (string, error) {
	v, ok, err := g.Get(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", MissingError()
	}
	return v, nil
}

// MissingError is the user-facing form of ErrMissing.
func MissingError() error {
	return erruser.WithHint(
		"You don't have an OpenAI API key set.",
		"Set one with: commitai set-key",
		ErrMissing,
	)
}
