package wnbd

import (
	"github.com/wnbd-io/go-wnbd/internal/optstore"
)

// Driver-wide option names (spec §4.8).
const (
	OptLogLevel           = optstore.OptLogLevel
	OptNewMappingsAllowed = optstore.OptNewMappingsAllowed
	OptDbgPrintEnabled    = optstore.OptDbgPrintEnabled
	OptDefaultExportName  = optstore.OptDefaultExportName
)

// Log level values for the LogLevel option.
const (
	LogLevelError = optstore.LogLevelError
	LogLevelWarn  = optstore.LogLevelWarn
	LogLevelInfo  = optstore.LogLevelInfo
	LogLevelDebug = optstore.LogLevelDebug
)

// Option is a named, typed driver option value, returned by Options.List.
type Option struct {
	Name   string
	Type   string
	Bool   bool
	Int64  int64
	String string
}

func fromNamedValue(nv optstore.NamedValue) Option {
	o := Option{Name: nv.Name, Type: nv.Value.Type.String()}
	switch nv.Value.Type {
	case optstore.TypeBool:
		o.Bool = nv.Value.Bool
	case optstore.TypeInt64:
		o.Int64 = nv.Value.Int64
	case optstore.TypeString:
		o.String = nv.Value.Str
	}
	return o
}

// Options is the public view of the adapter's driver option table, backed
// by an ini file on disk standing in for the Windows registry the original
// driver persists into (spec §4.8).
type Options struct {
	store *optstore.Store
}

// NewOptions opens (or creates) the option table backed by path. An empty
// path disables persistence entirely: persistent Set/Reset calls then
// always fail with ErrCodeNotAllowed.
func NewOptions(path string) (*Options, error) {
	s, err := optstore.New(path, optstore.DefaultDefinitions())
	if err != nil {
		return nil, newError("NewOptions", "", ErrCodeIO, err)
	}
	return &Options{store: s}, nil
}

// GetBool returns the current value of a bool-typed option.
func (o *Options) GetBool(name string) (bool, error) {
	v, err := o.store.Get(name)
	if err != nil {
		return false, wrapOptErr("GetBool", name, err)
	}
	return v.Bool, nil
}

// GetInt64 returns the current value of an int64-typed option.
func (o *Options) GetInt64(name string) (int64, error) {
	v, err := o.store.Get(name)
	if err != nil {
		return 0, wrapOptErr("GetInt64", name, err)
	}
	return v.Int64, nil
}

// GetString returns the current value of a string-typed option.
func (o *Options) GetString(name string) (string, error) {
	v, err := o.store.Get(name)
	if err != nil {
		return "", wrapOptErr("GetString", name, err)
	}
	return v.Str, nil
}

// SetBool sets a bool-typed option, persisting it to disk first when
// persistent is true (spec §4.8 ordering).
func (o *Options) SetBool(name string, value bool, persistent bool) error {
	err := o.store.Set(name, optstore.Value{Type: optstore.TypeBool, Bool: value}, persistent)
	return wrapOptErr("SetBool", name, err)
}

// SetInt64 sets an int64-typed option.
func (o *Options) SetInt64(name string, value int64, persistent bool) error {
	err := o.store.Set(name, optstore.Value{Type: optstore.TypeInt64, Int64: value}, persistent)
	return wrapOptErr("SetInt64", name, err)
}

// SetString sets a string-typed option. The store converts the string
// according to the option's declared type (spec §4.8), so this is also
// the entry point used by a CLI surface that only ever has strings.
func (o *Options) SetString(name string, value string, persistent bool) error {
	err := o.store.Set(name, optstore.Value{Type: optstore.TypeString, Str: value}, persistent)
	return wrapOptErr("SetString", name, err)
}

// Reset restores name to its compiled default, deleting the on-disk entry
// too when persistent is true.
func (o *Options) Reset(name string, persistent bool) error {
	return wrapOptErr("Reset", name, o.store.Reset(name, persistent))
}

// List returns every option's current value, or only the persisted ones
// when persistentOnly is true.
func (o *Options) List(persistentOnly bool) ([]Option, error) {
	nvs, err := o.store.List(persistentOnly)
	if err != nil {
		return nil, newError("List", "", ErrCodeIO, err)
	}
	out := make([]Option, 0, len(nvs))
	for _, nv := range nvs {
		out = append(out, fromNamedValue(nv))
	}
	return out, nil
}

// Reload re-reads the persistent layer over the current runtime values.
func (o *Options) Reload() error {
	if err := o.store.Reload(); err != nil {
		return newError("Reload", "", ErrCodeIO, err)
	}
	return nil
}

func wrapOptErr(op, name string, err error) error {
	if err == nil {
		return nil
	}
	switch err.(type) {
	case *optstore.NotFoundError:
		return newError(op, "", ErrCodeNotFound, err)
	case *optstore.TypeMismatchError:
		return newError(op, "", ErrCodeInvalidRequest, err)
	case *optstore.PersistenceDisabledError:
		return newError(op, "", ErrCodeNotAllowed, err)
	default:
		return newError(op, "", ErrCodeIO, err)
	}
}
