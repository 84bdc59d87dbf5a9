// Package log holds the process logger and the per-component loggers used
// across the wallet. Output goes to stderr so stdout stays free for command
// output. Key material is never passed to a logger; wallets are identified
// by id and address only.
package log

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Logger is the root logger. Component loggers derive from it.
var Logger zerolog.Logger

// Component loggers.
var (
	Keys        zerolog.Logger
	Oracle      zerolog.Logger
	Registry    zerolog.Logger
	Coordinator zerolog.Logger
	Ledger      zerolog.Logger
	Chain       zerolog.Logger
	Reconcile   zerolog.Logger
	Storage     zerolog.Logger
)

var components = []struct {
	name string
	l    *zerolog.Logger
}{
	{"keys", &Keys},
	{"oracle", &Oracle},
	{"registry", &Registry},
	{"coordinator", &Coordinator},
	{"ledger", &Ledger},
	{"chain", &Chain},
	{"reconcile", &Reconcile},
	{"storage", &Storage},
}

var (
	mu      sync.Mutex
	logFile io.Closer
)

func init() {
	setRoot(zerolog.New(consoleWriter(os.Stderr)).Level(zerolog.InfoLevel).With().Timestamp().Logger())
}

// Init rebuilds every logger. The console gets colored text, or JSON when
// jsonOutput is set. A non-empty file additionally receives JSON lines; a
// file opened by an earlier Init is closed.
func Init(level string, jsonOutput bool, file string) error {
	mu.Lock()
	defer mu.Unlock()

	var console io.Writer = os.Stderr
	if !jsonOutput {
		console = consoleWriter(os.Stderr)
	}
	out := console

	var f *os.File
	if file != "" {
		var err error
		f, err = os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return err
		}
		out = zerolog.MultiLevelWriter(console, f)
	}
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	if f != nil {
		logFile = f
	}

	setRoot(zerolog.New(out).Level(ParseLevel(level)).With().Timestamp().Logger())
	return nil
}

// ParseLevel maps a config level name to a zerolog level. Unknown or empty
// names mean info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Discard silences all loggers. Tests call it from TestMain.
func Discard() {
	mu.Lock()
	defer mu.Unlock()
	setRoot(zerolog.Nop())
}

// WithComponent returns a logger tagged with a component name.
func WithComponent(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// WithWallet scopes base to one wallet.
func WithWallet(base zerolog.Logger, walletID string) zerolog.Logger {
	return base.With().Str("wallet", walletID).Logger()
}

func Info() *zerolog.Event  { return Logger.Info() }
func Warn() *zerolog.Event  { return Logger.Warn() }
func Error() *zerolog.Event { return Logger.Error() }

func consoleWriter(w io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
}

func setRoot(l zerolog.Logger) {
	Logger = l
	for _, c := range components {
		*c.l = l.With().Str("component", c.name).Logger()
	}
}
