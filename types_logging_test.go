package allowlist

import (
	"io"
	"os"
	"testing"

	"github.com/goliatone/go-logger/glog"
	"github.com/stretchr/testify/require"
)

type logCall struct {
	level   string
	message string
	args    []any
}

type captureLogger struct {
	calls []logCall
}

func (l *captureLogger) record(level, message string, args ...any) {
	l.calls = append(l.calls, logCall{level: level, message: message, args: args})
}

func (l *captureLogger) Debug(message string, args ...any) { l.record("debug", message, args...) }
func (l *captureLogger) Info(message string, args ...any)  { l.record("info", message, args...) }
func (l *captureLogger) Warn(message string, args ...any)  { l.record("warn", message, args...) }
func (l *captureLogger) Error(message string, args ...any) { l.record("error", message, args...) }

func (l *captureLogger) levels(level string) []logCall {
	var out []logCall
	for _, c := range l.calls {
		if c.level == level {
			out = append(out, c)
		}
	}
	return out
}

func TestGlogSatisfiesLogger(t *testing.T) {
	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Trace),
		glog.WithName("test"),
		glog.WithAddSource(false),
	)

	var logger Logger = lgr.GetLogger("service")
	require.NotNil(t, logger)
	logger.Info("workflow ready", "members", 0)
}

func TestNormalizeLogger(t *testing.T) {
	require.IsType(t, defLogger{}, normalizeLogger(nil))

	capture := &captureLogger{}
	require.Same(t, capture, normalizeLogger(capture))
}

func TestFormatKeyValues(t *testing.T) {
	require.Equal(t, "linked member=m1 stage=linked", format("linked", "member", "m1", "stage", "linked"))
	require.Equal(t, "odd dangling", format("odd", "dangling"))
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)

	stdout := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = stdout }()

	fn()
	require.NoError(t, w.Close())

	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(out)
}

func TestStdoutLoggerFormat(t *testing.T) {
	out := captureStdout(t, func() {
		NewStdoutLogger("PASS").Info("boarding pass generated", "twitter", "pilot_tw", "bytes", 12)
		defLogger{}.Warn("sink error", "error", "boom")
	})

	require.Equal(t,
		"[INF] PASS boarding pass generated twitter=pilot_tw bytes=12\n"+
			"[WRN] ALLOWLIST sink error error=boom\n",
		out,
	)
}
