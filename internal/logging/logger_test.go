package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestLoggerLevelGating(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: logrus.WarnLevel, Output: &buf})

	l.Debugf("debug %d", 1)
	l.Infof("info %d", 1)
	assert.Empty(t, buf.String())

	l.Warnf("warn %d", 1)
	assert.Contains(t, buf.String(), "warn 1")
}

func TestLoggerNilSafe(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() {
		l.Debugf("x")
		l.Infof("x")
		l.Warnf("x")
		l.Errorf("x")
		l.Printf("x")
	})
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: logrus.DebugLevel, Output: &buf})
	child := l.With("disk", "disk-a", "conn_id", uint64(7))
	child.Infof("created")

	out := buf.String()
	assert.True(t, strings.Contains(out, "disk-a"))
	assert.True(t, strings.Contains(out, "conn_id"))
}

func TestDiscardLogger(t *testing.T) {
	d := Discard()
	assert.NotPanics(t, func() {
		d.Infof("should not reach output")
	})
}

func TestDefaultLogger(t *testing.T) {
	orig := Default()
	defer SetDefault(orig)

	var buf bytes.Buffer
	SetDefault(New(&Config{Level: logrus.InfoLevel, Output: &buf}))
	Infof("hello %s", "world")
	assert.Contains(t, buf.String(), "hello world")
}
