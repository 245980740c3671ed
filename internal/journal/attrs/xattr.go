//go:build linux || darwin

package attrs

import (
	"context"
	"errors"
	"strconv"
	"time"

	"golang.org/x/sys/unix"

	"github.com/stream-journal/stream/internal/errs"
)

// Extended attribute names. They are shared with other tools that tag notes,
// so they must not change.
const (
	XattrCountry       = "user.location.country"
	XattrCity          = "user.location.city"
	XattrDescription   = "user.file.description"
	XattrInterval      = "user.refresh.interval"
	XattrLastRefreshed = "user.refresh.last_refreshed"
)

// XattrStore keeps attributes in user extended attributes of the note file
// itself, so they travel with the file.
type XattrStore struct{}

// NewXattrStore returns an XattrStore.
func NewXattrStore() *XattrStore {
	return &XattrStore{}
}

// Supported reports whether path's file system accepts user extended
// attributes.
func (s *XattrStore) Supported(path string) bool {
	_, err := getxattr(path, XattrCountry)
	return err == nil || errors.Is(err, errNoAttr)
}

// Get implements Store. Missing or unreadable attributes are left unset.
func (s *XattrStore) Get(ctx context.Context, path string) (Attributes, error) {
	var a Attributes

	a.Country, _ = getxattr(path, XattrCountry)
	a.City, _ = getxattr(path, XattrCity)
	a.Description, _ = getxattr(path, XattrDescription)

	if v, err := getxattr(path, XattrInterval); err == nil {
		if interval, err := ParseInterval(v); err == nil {
			a.RefreshInterval = interval
		}
	}
	if v, err := getxattr(path, XattrLastRefreshed); err == nil {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			a.LastRefreshed = time.UnixMilli(ms)
		}
	}

	return a, nil
}

// SetLocation implements Store.
func (s *XattrStore) SetLocation(ctx context.Context, path, country, city string) error {
	if err := setxattr(path, XattrCountry, country); err != nil {
		return err
	}
	return setxattr(path, XattrCity, city)
}

// SetDescription implements Store.
func (s *XattrStore) SetDescription(ctx context.Context, path, description string) error {
	if description == "" {
		if err := unix.Removexattr(path, XattrDescription); err != nil && !errors.Is(err, errNoAttr) {
			return &errs.IOError{Op: "removexattr", Path: path, Err: err}
		}
		return nil
	}
	return setxattr(path, XattrDescription, description)
}

// SetRefreshInterval implements Store.
func (s *XattrStore) SetRefreshInterval(ctx context.Context, path string, interval Interval) error {
	return setxattr(path, XattrInterval, string(interval))
}

// MarkRefreshed implements Store.
func (s *XattrStore) MarkRefreshed(ctx context.Context, path string, at time.Time) error {
	return setxattr(path, XattrLastRefreshed, strconv.FormatInt(at.UnixMilli(), 10))
}

func getxattr(path, name string) (string, error) {
	size, err := unix.Getxattr(path, name, nil)
	if err != nil {
		return "", err
	}
	if size == 0 {
		return "", nil
	}

	buf := make([]byte, size)
	n, err := unix.Getxattr(path, name, buf)
	if err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}

func setxattr(path, name, value string) error {
	if err := unix.Setxattr(path, name, []byte(value), 0); err != nil {
		return &errs.IOError{Op: "setxattr", Path: path, Err: err}
	}
	return nil
}
