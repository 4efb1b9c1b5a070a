// Package store keeps fulfillment records in a key-value backend addressed by
// record kind and identifier. Callers serialize writers to the same record
// through the lock manager; the store adds no concurrency control of its own.
package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

var (
	ErrNotFound   = errors.New("record not found")
	ErrInvalidKey = errors.New("invalid record key")
)

type Kind string

const (
	KindOrder         Kind = "order"
	KindProject       Kind = "project"
	KindLicensor      Kind = "licensor"
	KindProjectsList  Kind = "projects-list"
	KindPurchase      Kind = "purchase"
	KindSignatures    Kind = "signatures"
	KindAcceptances   Kind = "acceptances"
	KindGatewayEvents Kind = "gateway-events"
)

// lineOriented kinds hold newline-delimited records rather than one document.
func (k Kind) lineOriented() bool {
	switch k {
	case KindProjectsList, KindSignatures, KindAcceptances, KindGatewayEvents:
		return true
	}
	return false
}

type Key struct {
	Kind Kind
	ID   string
}

func (k Key) String() string { return string(k.Kind) + "/" + k.ID }

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:@-]*$`)

func (k Key) Validate() error {
	if k.Kind == "" || !idPattern.MatchString(k.ID) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, k.String())
	}
	return nil
}

// Backend is raw byte storage. Get and Delete report ErrNotFound for absent
// keys; every other error is an I/O failure.
type Backend interface {
	Get(ctx context.Context, key Key) ([]byte, error)
	Put(ctx context.Context, key Key, body []byte) error
	Append(ctx context.Context, key Key, body []byte) error
	Delete(ctx context.Context, key Key) error
}

type Store struct {
	backend Backend
}

func New(backend Backend) *Store {
	return &Store{backend: backend}
}

func (s *Store) ReadJSON(ctx context.Context, key Key, dst any) error {
	if err := key.Validate(); err != nil {
		return err
	}
	raw, err := s.backend.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *Store) WriteJSON(ctx context.Context, key Key, v any) error {
	if err := key.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.backend.Put(ctx, key, raw)
}

// MutateJSON reads the record at key, applies fn, and writes the result back.
// Nothing is written when fn fails.
func MutateJSON[T any](ctx context.Context, s *Store, key Key, fn func(*T) error) (T, error) {
	var v T
	if err := s.ReadJSON(ctx, key, &v); err != nil {
		return v, err
	}
	if err := fn(&v); err != nil {
		return v, err
	}
	return v, s.WriteJSON(ctx, key, v)
}

// MutateText rewrites a text record. An absent record is presented to fn as
// the empty string.
func (s *Store) MutateText(ctx context.Context, key Key, fn func(string) (string, error)) error {
	if err := key.Validate(); err != nil {
		return err
	}
	raw, err := s.backend.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	next, err := fn(string(raw))
	if err != nil {
		return err
	}
	return s.backend.Put(ctx, key, []byte(next))
}

// AppendRecord adds v as one JSON line to the log at key.
func (s *Store) AppendRecord(ctx context.Context, key Key, v any) error {
	if err := key.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.backend.Append(ctx, key, append(raw, '\n'))
}

// AppendLine adds one raw text line to the log at key.
func (s *Store) AppendLine(ctx context.Context, key Key, line string) error {
	if err := key.Validate(); err != nil {
		return err
	}
	return s.backend.Append(ctx, key, []byte(line+"\n"))
}

// Lines returns the non-empty lines of a log. An absent log has no lines.
func (s *Store) Lines(ctx context.Context, key Key) ([]string, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	raw, err := s.backend.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for sc.Scan() {
		if line := sc.Text(); line != "" {
			out = append(out, line)
		}
	}
	return out, sc.Err()
}

func (s *Store) Delete(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	return s.backend.Delete(ctx, key)
}
