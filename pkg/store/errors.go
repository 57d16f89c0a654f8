package store

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateID = errors.New("duplicate chat id")
	ErrNotFound    = errors.New("chat not found")
	ErrStorage     = errors.New("storage error")
	ErrClosed      = errors.New("store is closed")
)

// DuplicateIDError is returned by AddChat when the id is already taken.
type DuplicateIDError struct {
	ID string
}

func (e *DuplicateIDError) Error() string {
	if e == nil {
		return ErrDuplicateID.Error()
	}
	return fmt.Sprintf("%s: %q", ErrDuplicateID, e.ID)
}

func (e *DuplicateIDError) Is(target error) bool { return target == ErrDuplicateID }

type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	if e == nil {
		return ErrNotFound.Error()
	}
	return fmt.Sprintf("%s: %q", ErrNotFound, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// StorageError wraps a failure to read or write one persisted key.
type StorageError struct {
	Key string
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	if e == nil {
		return ErrStorage.Error()
	}
	return fmt.Sprintf("%s: %s %q: %v", ErrStorage, e.Op, e.Key, e.Err)
}

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func (e *StorageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
