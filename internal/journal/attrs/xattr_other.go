//go:build !linux && !darwin

package attrs

import (
	"context"
	"errors"
	"time"
)

// ErrUnsupported is returned by XattrStore on platforms without user
// extended attributes.
var ErrUnsupported = errors.New("extended attributes are not supported on this platform")

// XattrStore is unavailable on this platform; use SQLiteStore.
type XattrStore struct{}

func NewXattrStore() *XattrStore { return &XattrStore{} }

func (s *XattrStore) Supported(path string) bool { return false }

func (s *XattrStore) Get(ctx context.Context, path string) (Attributes, error) {
	return Attributes{}, ErrUnsupported
}

func (s *XattrStore) SetLocation(ctx context.Context, path, country, city string) error {
	return ErrUnsupported
}

func (s *XattrStore) SetDescription(ctx context.Context, path, description string) error {
	return ErrUnsupported
}

func (s *XattrStore) SetRefreshInterval(ctx context.Context, path string, interval Interval) error {
	return ErrUnsupported
}

func (s *XattrStore) MarkRefreshed(ctx context.Context, path string, at time.Time) error {
	return ErrUnsupported
}
