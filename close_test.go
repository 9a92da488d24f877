package tdkit

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCloser struct {
	closeErr   error
	closeCalls int
}

func (m *mockCloser) Close() error {
	m.closeCalls++
	return m.closeErr
}

func TestCloseWithLog(t *testing.T) {
	tests := []struct {
		name    string
		closer  *mockCloser
		wantLog []string
	}{
		{name: "successful close", closer: &mockCloser{}},
		{
			name:    "close error",
			closer:  &mockCloser{closeErr: errors.New("close failed: store busy")},
			wantLog: []string{"failed to close resource", "directory store", "close failed", "level=WARN"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logBuf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&logBuf, nil))

			CloseWithLog(tt.closer, logger, "directory store")

			assert.Equal(t, 1, tt.closer.closeCalls)
			if len(tt.wantLog) == 0 {
				assert.Empty(t, logBuf.String())
			}
			for _, want := range tt.wantLog {
				assert.Contains(t, logBuf.String(), want)
			}
		})
	}
}

func TestCloseWithLog_NilCloser(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))

	CloseWithLog(nil, logger, "model cache")

	assert.Empty(t, logBuf.String())
}

func TestCloseWithLog_NilLogger(t *testing.T) {
	closer := &mockCloser{closeErr: errors.New("test error")}

	require.NotPanics(t, func() {
		CloseWithLog(closer, nil, "model cache")
	})
	assert.Equal(t, 1, closer.closeCalls)
}

func TestCloseWithLog_DeferPattern(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))
	ok := &mockCloser{}
	failing := &mockCloser{closeErr: errors.New("cleanup error")}

	func() {
		defer CloseWithLog(failing, logger, "tracer provider")
		defer CloseWithLog(ok, logger, "directory")
	}()

	assert.Equal(t, 1, ok.closeCalls)
	assert.Equal(t, 1, failing.closeCalls)
	assert.Contains(t, logBuf.String(), "tracer provider")
	assert.NotContains(t, logBuf.String(), "resource=directory")
}
