package wnbd

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOptionsDefaults(t *testing.T) {
	o, err := NewOptions("")
	if err != nil {
		t.Fatalf("NewOptions: %v", err)
	}
	lvl, err := o.GetInt64(OptLogLevel)
	if err != nil {
		t.Fatalf("GetInt64: %v", err)
	}
	if lvl != LogLevelWarn {
		t.Errorf("LogLevel default = %d, want %d", lvl, LogLevelWarn)
	}
	allowed, err := o.GetBool(OptNewMappingsAllowed)
	if err != nil {
		t.Fatalf("GetBool: %v", err)
	}
	if !allowed {
		t.Error("NewMappingsAllowed default = false, want true")
	}
}

func TestOptionsUnknownNameReturnsNotFound(t *testing.T) {
	o, _ := NewOptions("")
	_, err := o.GetInt64("NoSuchOption")
	if code, _ := CodeOf(err); code != ErrCodeNotFound {
		t.Errorf("code = %v, want ErrCodeNotFound", code)
	}
}

func TestOptionsEphemeralSetDoesNotPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opts.ini")
	o, err := NewOptions(path)
	if err != nil {
		t.Fatalf("NewOptions: %v", err)
	}
	if err := o.SetInt64(OptLogLevel, LogLevelDebug, false); err != nil {
		t.Fatalf("SetInt64: %v", err)
	}
	if _, err := os.Stat(path); err == nil {
		t.Error("ephemeral set created the backing file, want none")
	}
}

func TestOptionsPersistentSetSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opts.ini")
	o, err := NewOptions(path)
	if err != nil {
		t.Fatalf("NewOptions: %v", err)
	}
	if err := o.SetString(OptDefaultExportName, "vol0", true); err != nil {
		t.Fatalf("SetString: %v", err)
	}

	reopened, err := NewOptions(path)
	if err != nil {
		t.Fatalf("reopen NewOptions: %v", err)
	}
	got, err := reopened.GetString(OptDefaultExportName)
	if err != nil {
		t.Fatalf("GetString: %v", err)
	}
	if got != "vol0" {
		t.Errorf("DefaultExportName = %q, want vol0", got)
	}
}

func TestOptionsPersistentSetWithoutPathFails(t *testing.T) {
	o, _ := NewOptions("")
	err := o.SetInt64(OptLogLevel, LogLevelDebug, true)
	if code, _ := CodeOf(err); code != ErrCodeNotAllowed {
		t.Errorf("code = %v, want ErrCodeNotAllowed", code)
	}
}

func TestOptionsResetRestoresDefault(t *testing.T) {
	o, _ := NewOptions("")
	if err := o.SetInt64(OptLogLevel, LogLevelDebug, false); err != nil {
		t.Fatalf("SetInt64: %v", err)
	}
	if err := o.Reset(OptLogLevel, false); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	got, _ := o.GetInt64(OptLogLevel)
	if got != LogLevelWarn {
		t.Errorf("LogLevel after reset = %d, want %d", got, LogLevelWarn)
	}
}

func TestOptionsListAll(t *testing.T) {
	o, _ := NewOptions("")
	list, err := o.List(false)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 4 {
		t.Errorf("List length = %d, want 4", len(list))
	}
}

func TestOptionsReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opts.ini")
	o, err := NewOptions(path)
	if err != nil {
		t.Fatalf("NewOptions: %v", err)
	}
	other, err := NewOptions(path)
	if err != nil {
		t.Fatalf("NewOptions (second handle): %v", err)
	}
	if err := other.SetInt64(OptLogLevel, LogLevelError, true); err != nil {
		t.Fatalf("SetInt64: %v", err)
	}
	if err := o.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	got, _ := o.GetInt64(OptLogLevel)
	if got != LogLevelError {
		t.Errorf("LogLevel after reload = %d, want %d", got, LogLevelError)
	}
}
