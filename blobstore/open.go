package blobstore

import (
	"fmt"
	"io"
)

// Open returns a store for the given driver: "memory", "sqlite" or
// "badger". path is ignored by the memory driver. The returned closer is
// never nil.
func Open(driver, path string) (Store, io.Closer, error) {
	switch driver {
	case "", "memory":
		return NewMemory(), nopCloser{}, nil
	case "sqlite":
		s, err := OpenSQLite(path)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "badger":
		b, err := OpenBadger(path)
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil
	default:
		return nil, nil, fmt.Errorf("blobstore: unknown driver %q", driver)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
