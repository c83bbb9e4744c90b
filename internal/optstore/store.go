// Package optstore implements the typed, named option table described by
// spec §4.8, backed by an ini file standing in for the Windows registry
// that the original driver persists into.
package optstore

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/ini.v1"
)

// ValueType enumerates the option kinds the store understands.
type ValueType int

const (
	TypeBool ValueType = iota + 1
	TypeInt64
	TypeString
)

func (t ValueType) String() string {
	switch t {
	case TypeBool:
		return "bool"
	case TypeInt64:
		return "int64"
	case TypeString:
		return "string"
	default:
		return "unknown"
	}
}

// Value is a typed option value; exactly one field is meaningful,
// determined by Type.
type Value struct {
	Type  ValueType
	Bool  bool
	Int64 int64
	Str   string
}

func (v Value) String() string {
	switch v.Type {
	case TypeBool:
		return strconv.FormatBool(v.Bool)
	case TypeInt64:
		return strconv.FormatInt(v.Int64, 10)
	case TypeString:
		return v.Str
	default:
		return ""
	}
}

// Definition is a compile-time-known option: its name, type, and default.
type Definition struct {
	Name    string
	Type    ValueType
	Default Value
}

// NamedValue pairs a definition's name with a resolved value, returned by
// List.
type NamedValue struct {
	Name  string
	Value Value
}

const iniSection = "options"

// Store holds the full option table: each option's compile-time default
// plus its ephemeral (in-memory) and persistent (ini-backed) layers (spec
// §4.8).
type Store struct {
	mu      sync.RWMutex
	defs    []Definition
	byName  map[string]*Definition
	runtime map[string]Value
	path    string // empty disables the persistent layer entirely
}

// New builds a store from defs, optionally backed by the ini file at path.
// An empty path disables persistence: Set(..., persistent=true) then
// always fails. On construction, any persistent values already on disk are
// loaded over the compiled defaults (spec: "reload" semantics run once at
// startup in the original driver too).
func New(path string, defs []Definition) (*Store, error) {
	s := &Store{
		path:    path,
		defs:    append([]Definition(nil), defs...),
		byName:  make(map[string]*Definition, len(defs)),
		runtime: make(map[string]Value, len(defs)),
	}
	for i := range s.defs {
		d := &s.defs[i]
		s.byName[strings.ToLower(d.Name)] = d
		s.runtime[d.Name] = d.Default
	}
	if path != "" {
		if err := s.reloadLocked(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) find(name string) (*Definition, error) {
	d, ok := s.byName[strings.ToLower(name)]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	return d, nil
}

// Get returns the current (ephemeral-layer) value of an option.
func (s *Store) Get(name string) (Value, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, err := s.find(name)
	if err != nil {
		return Value{}, err
	}
	return s.runtime[d.Name], nil
}

// Set updates an option's value. If persistent is true, the persistent
// (ini) layer is written first; only on success is the ephemeral layer
// updated, matching the original driver's ordering (spec §4.8: "the
// persistent layer is updated first; only on success is the ephemeral
// layer updated").
//
// A value of a different type than the option's declared type is accepted
// only when it is a string, which is parsed according to the option's
// declared type (spec's wide-string convertibility, mirroring
// WnbdProcessOptionValue).
func (s *Store) Set(name string, v Value, persistent bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.find(name)
	if err != nil {
		return err
	}
	converted, err := convert(d, v)
	if err != nil {
		return err
	}
	if persistent {
		if s.path == "" {
			return &PersistenceDisabledError{Name: name}
		}
		if err := s.writePersistent(d.Name, converted); err != nil {
			return err
		}
	}
	s.runtime[d.Name] = converted
	return nil
}

// Reset restores an option to its compiled default. If persistent is true,
// the on-disk entry is removed too.
func (s *Store) Reset(name string, persistent bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.find(name)
	if err != nil {
		return err
	}
	if persistent {
		if s.path == "" {
			return &PersistenceDisabledError{Name: name}
		}
		if err := s.deletePersistent(d.Name); err != nil {
			return err
		}
	}
	s.runtime[d.Name] = d.Default
	return nil
}

// List returns every option's current value. If persistentOnly is true,
// only options that currently have an on-disk entry are returned, each
// carrying its persisted value rather than its runtime one (spec §4.8,
// mirroring WnbdListDrvOpt's Persistent branch).
func (s *Store) List(persistentOnly bool) ([]NamedValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]NamedValue, 0, len(s.defs))
	if !persistentOnly {
		for _, d := range s.defs {
			out = append(out, NamedValue{Name: d.Name, Value: s.runtime[d.Name]})
		}
		return out, nil
	}

	if s.path == "" {
		return out, nil
	}
	cfg, err := s.loadFile()
	if err != nil {
		return nil, err
	}
	sec := cfg.Section(iniSection)
	for _, d := range s.defs {
		if !sec.HasKey(d.Name) {
			continue
		}
		v, err := readKey(d, sec.Key(d.Name))
		if err != nil {
			continue
		}
		out = append(out, NamedValue{Name: d.Name, Value: v})
	}
	return out, nil
}

// Reload re-reads the persistent layer and applies every value found there
// over the current runtime layer, skipping (and not failing on) options
// with no persisted entry — mirroring WnbdReloadPersistentOptions, which
// logs and continues rather than aborting on a single bad entry.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloadLocked()
}

func (s *Store) reloadLocked() error {
	if s.path == "" {
		return nil
	}
	cfg, err := s.loadFile()
	if err != nil {
		return err
	}
	sec := cfg.Section(iniSection)
	for _, d := range s.defs {
		if !sec.HasKey(d.Name) {
			continue
		}
		v, err := readKey(&d, sec.Key(d.Name))
		if err != nil {
			continue
		}
		s.runtime[d.Name] = v
	}
	return nil
}

func (s *Store) loadFile() (*ini.File, error) {
	cfg, err := ini.LooseLoad(s.path)
	if err != nil {
		return nil, fmt.Errorf("optstore: loading %s: %w", s.path, err)
	}
	return cfg, nil
}

func (s *Store) writePersistent(name string, v Value) error {
	cfg, err := s.loadFile()
	if err != nil {
		return err
	}
	cfg.Section(iniSection).Key(name).SetValue(v.String())
	if err := cfg.SaveTo(s.path); err != nil {
		return fmt.Errorf("optstore: saving %s: %w", s.path, err)
	}
	return nil
}

func (s *Store) deletePersistent(name string) error {
	cfg, err := s.loadFile()
	if err != nil {
		return err
	}
	cfg.Section(iniSection).DeleteKey(name)
	if err := cfg.SaveTo(s.path); err != nil {
		return fmt.Errorf("optstore: saving %s: %w", s.path, err)
	}
	return nil
}

func readKey(d *Definition, key *ini.Key) (Value, error) {
	switch d.Type {
	case TypeBool:
		b, err := key.Bool()
		if err != nil {
			return Value{}, err
		}
		return Value{Type: TypeBool, Bool: b}, nil
	case TypeInt64:
		i, err := key.Int64()
		if err != nil {
			return Value{}, err
		}
		return Value{Type: TypeInt64, Int64: i}, nil
	case TypeString:
		return Value{Type: TypeString, Str: key.String()}, nil
	default:
		return Value{}, &TypeMismatchError{Name: d.Name}
	}
}

// convert mirrors WnbdProcessOptionValue: a value already matching the
// option's type passes through; a string value is parsed according to the
// option's declared type; any other mismatch is rejected.
func convert(d *Definition, v Value) (Value, error) {
	if v.Type == d.Type {
		return v, nil
	}
	if v.Type != TypeString {
		return Value{}, &TypeMismatchError{Name: d.Name}
	}
	switch d.Type {
	case TypeBool:
		b, err := strconv.ParseBool(v.Str)
		if err != nil {
			return Value{}, &TypeMismatchError{Name: d.Name}
		}
		return Value{Type: TypeBool, Bool: b}, nil
	case TypeInt64:
		i, err := strconv.ParseInt(v.Str, 0, 64)
		if err != nil {
			return Value{}, &TypeMismatchError{Name: d.Name}
		}
		return Value{Type: TypeInt64, Int64: i}, nil
	case TypeString:
		return v, nil
	default:
		return Value{}, &TypeMismatchError{Name: d.Name}
	}
}
