package log_test

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/CZERTAINLY/cipher-lens/internal/log"
	"github.com/stretchr/testify/require"
)

func TestContextAttrs(t *testing.T) {
	t.Parallel()
	tests := []struct {
		scenario string // description of this test case
		// Named input parameters for target function.
		given []slog.Attr
		then  string
	}{
		{
			scenario: "nil; attrs",
			given:    nil,
			then:     `{"level":"INFO","msg":"testing message","foo":"bar"}`,
		},
		{
			scenario: "empty attrs",
			given:    []slog.Attr{},
			then:     `{"level":"INFO","msg":"testing message","foo":"bar"}`,
		},
		{
			scenario: "ham/spam attrs",
			given: []slog.Attr{
				slog.String("ham", "spam"),
			},
			then: `{"level":"INFO","msg":"testing message","foo":"bar", "ham":"spam"}`,
		},
		{
			scenario: "slog.Group",
			given: []slog.Attr{
				slog.Group("group", slog.String("ham", "spam")),
			},
			then: `{"level":"INFO","msg":"testing message","foo":"bar", "group": {"ham":"spam"}}`,
		},
		{
			scenario: "target",
			given: []slog.Attr{
				slog.String("target", "10.0.0.5:443"),
				slog.Int("workers", 4),
			},
			then: `{"level":"INFO","msg":"testing message","foo":"bar", "target":"10.0.0.5:443", "workers":4}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.scenario, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			base := slog.NewJSONHandler(&buf, &slog.HandlerOptions{
				AddSource: false,
				Level:     slog.LevelDebug,
				ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
					if a.Key == slog.TimeKey {
						return slog.Attr{}
					}
					return a
				},
			})
			ctxHandler := log.NewContextHandler(base)
			logger := slog.New(ctxHandler)

			ctx := log.ContextAttrs(t.Context(), tt.given...)
			logger.InfoContext(ctx, "testing message", slog.String("foo", "bar"))

			t.Logf("log output: %s", buf.String())
			require.JSONEq(t, tt.then, buf.String())
		})
	}
}

func TestNew(t *testing.T) {
	t.Parallel()
	require.NotNil(t, log.New(true))
	require.NotNil(t, log.New(false))
}

func TestContextAttrs_Nested(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := log.NewTo(&buf, false)

	parent := log.ContextAttrs(t.Context(), slog.String("cmd", "scan"))
	child := log.ContextAttrs(parent, slog.String("target", "10.0.0.5:443"))
	sibling := log.ContextAttrs(parent, slog.String("target", "10.0.0.6:443"))

	logger.InfoContext(child, "child")
	require.Contains(t, buf.String(), "cmd=scan")
	require.Contains(t, buf.String(), "target=10.0.0.5:443")
	buf.Reset()

	logger.InfoContext(sibling, "sibling")
	require.Contains(t, buf.String(), "target=10.0.0.6:443")
	require.NotContains(t, buf.String(), "10.0.0.5")
	buf.Reset()

	logger.DebugContext(child, "hidden")
	require.Empty(t, buf.String())
}

func TestOpen(t *testing.T) {
	t.Parallel()
	for _, dest := range []string{"", "stderr", "stdout", "discard"} {
		w, closeFn, err := log.Open(dest)
		require.NoError(t, err, dest)
		require.NotNil(t, w)
		require.NoError(t, closeFn())
	}

	w, _, err := log.Open("discard")
	require.NoError(t, err)
	require.Equal(t, io.Discard, w)

	path := filepath.Join(t.TempDir(), "cipher-lens.log")
	w, closeFn, err := log.Open(path)
	require.NoError(t, err)
	log.NewTo(w, false).Info("hello")
	require.NoError(t, closeFn())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(b), "msg=hello")

	_, _, err = log.Open(filepath.Join(t.TempDir(), "missing", "dir", "x.log"))
	require.Error(t, err)
}
