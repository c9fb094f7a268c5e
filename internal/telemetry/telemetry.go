// Package telemetry implements the process-wide error handler and
// performance monitor: severity/category/recoverability-tagged
// error reporting with bounded history, subscriber callbacks, rate
// limited recovery scheduling, and periodic performance sampling with
// threshold alerts.
package telemetry

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	charmlog "github.com/charmbracelet/log"
)

// Severity ranks an event from DEBUG up to CRITICAL.
type Severity int

const (
	Debug Severity = iota
	Info
	Warning
	Error
	Critical
)

func (s Severity) String() string {
	switch s {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warning:
		return "WARNING"
	case Error:
		return "ERROR"
	case Critical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Category names the subsystem an event belongs to.
type Category int

const (
	System Category = iota
	Audio
	Network
	Config
	UserInput
	Performance
	Hardware
)

func (c Category) String() string {
	switch c {
	case Audio:
		return "AUDIO"
	case Network:
		return "NETWORK"
	case Config:
		return "CONFIG"
	case UserInput:
		return "USER_INPUT"
	case Performance:
		return "PERFORMANCE"
	case Hardware:
		return "HARDWARE"
	default:
		return "SYSTEM"
	}
}

// DefaultHistoryLimit bounds the error handler's retained event history.
const DefaultHistoryLimit = 1000

// Event is one reported error/diagnostic, retained in the bounded
// history and delivered to subscribers.
type Event struct {
	Severity        Severity
	Category        Category
	Message         string
	Details         string
	SourceLocation  string
	Recoverable     bool
	SuggestedAction string
	Time            time.Time
}

// Subscriber is invoked for every reported Event, after it is appended
// to history. Must not block.
type Subscriber func(Event)

// recoveryPolicy names the rate-limit/cap pair for a recoverable
// category: 5 attempts for audio, 3 for network, unlimited for config.
type recoveryPolicy struct {
	maxAttempts int // 0 = unlimited
	minSpacing  time.Duration
}

var recoveryPolicies = map[Category]recoveryPolicy{
	Audio:   {maxAttempts: 5, minSpacing: 5 * time.Second},
	Network: {maxAttempts: 3, minSpacing: 5 * time.Second},
	Config:  {maxAttempts: 0, minSpacing: 5 * time.Second},
}

// Handler is the process-wide error handler. The zero value is not
// usable; build one with New in main and pass it down to every
// component that needs to report. There is no package-level global.
type Handler struct {
	mu sync.Mutex

	history      []Event
	historyLimit int

	subscribers []Subscriber

	logger *charmlog.Logger

	recoveryAttempts map[Category]int
	lastRecovery     map[Category]time.Time
	onRecover        map[Category]func()

	criticalCount uint64
}

// New builds a Handler that logs to console (and, if logFile is
// non-nil, also to that writer).
func New(logFile io.Writer) *Handler {
	var out io.Writer = os.Stderr
	if logFile != nil {
		out = io.MultiWriter(os.Stderr, logFile)
	}
	logger := charmlog.NewWithOptions(out, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
	})
	return &Handler{
		historyLimit:     DefaultHistoryLimit,
		logger:           logger,
		recoveryAttempts: make(map[Category]int),
		lastRecovery:     make(map[Category]time.Time),
		onRecover:        make(map[Category]func()),
	}
}

// SetLevel adjusts the console logger's minimum level. Recognised names
// are debug, info, warn, and error; anything else leaves the level alone.
func (h *Handler) SetLevel(level string) {
	switch level {
	case "debug":
		h.logger.SetLevel(charmlog.DebugLevel)
	case "info":
		h.logger.SetLevel(charmlog.InfoLevel)
	case "warn":
		h.logger.SetLevel(charmlog.WarnLevel)
	case "error":
		h.logger.SetLevel(charmlog.ErrorLevel)
	}
}

// SetHistoryLimit overrides the default bounded-history size.
func (h *Handler) SetHistoryLimit(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.historyLimit = n
}

// Subscribe registers a callback invoked for every reported Event.
func (h *Handler) Subscribe(s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers = append(h.subscribers, s)
}

// OnRecover registers the out-of-band recovery action invoked for a
// recoverable error in category, subject to the rate limit/cap of
// recoveryPolicies.
func (h *Handler) OnRecover(category Category, fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRecover[category] = fn
}

// Report records one event, logs it, notifies subscribers, and schedules
// a recovery attempt if the event is recoverable in a category with a
// recovery policy.
func (h *Handler) Report(severity Severity, category Category, message, details, sourceLocation string, recoverable bool, suggestedAction string) {
	ev := Event{
		Severity:        severity,
		Category:        category,
		Message:         message,
		Details:         details,
		SourceLocation:  sourceLocation,
		Recoverable:     recoverable,
		SuggestedAction: suggestedAction,
		Time:            time.Now(),
	}

	h.mu.Lock()
	h.history = append(h.history, ev)
	if len(h.history) > h.historyLimit {
		h.history = h.history[len(h.history)-h.historyLimit:]
	}
	if severity == Critical {
		h.criticalCount++
	}
	subs := append([]Subscriber(nil), h.subscribers...)
	h.mu.Unlock()

	h.emit(ev)

	for _, s := range subs {
		s(ev)
	}

	if recoverable {
		h.maybeScheduleRecovery(category)
	}
}

// emit writes ev to the logger, mapping CRITICAL onto Error plus the
// bumped counter (charmbracelet/log has no CRITICAL level of its own).
func (h *Handler) emit(ev Event) {
	fields := []interface{}{"category", ev.Category.String()}
	if ev.SourceLocation != "" {
		fields = append(fields, "source", ev.SourceLocation)
	}
	if ev.Details != "" {
		fields = append(fields, "details", ev.Details)
	}

	switch ev.Severity {
	case Debug:
		h.logger.Debug(ev.Message, fields...)
	case Info:
		h.logger.Info(ev.Message, fields...)
	case Warning:
		h.logger.Warn(ev.Message, fields...)
	case Error:
		h.logger.Error(ev.Message, fields...)
	case Critical:
		fields = append(fields, "critical_count", h.criticalCount)
		h.logger.Error(ev.Message, fields...)
	}
}

func (h *Handler) maybeScheduleRecovery(category Category) {
	policy, ok := recoveryPolicies[category]
	if !ok {
		return
	}

	h.mu.Lock()
	now := time.Now()
	last, seen := h.lastRecovery[category]
	if seen && now.Sub(last) < policy.minSpacing {
		h.mu.Unlock()
		return
	}
	if policy.maxAttempts > 0 && h.recoveryAttempts[category] >= policy.maxAttempts {
		h.mu.Unlock()
		return
	}
	fn := h.onRecover[category]
	h.recoveryAttempts[category]++
	h.lastRecovery[category] = now
	h.mu.Unlock()

	if fn != nil {
		go fn()
	}
}

// History returns a snapshot of the retained events, oldest first.
func (h *Handler) History() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event(nil), h.history...)
}

// CriticalCount reports how many CRITICAL-severity events have been
// reported.
func (h *Handler) CriticalCount() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.criticalCount
}

// Debugf, Infof, Warnf, Errorf, Criticalf are convenience wrappers over
// Report for the common "no details/source/suggestion" case.
func (h *Handler) Debugf(category Category, format string, args ...interface{}) {
	h.Report(Debug, category, fmt.Sprintf(format, args...), "", "", false, "")
}
func (h *Handler) Infof(category Category, format string, args ...interface{}) {
	h.Report(Info, category, fmt.Sprintf(format, args...), "", "", false, "")
}
func (h *Handler) Warnf(category Category, format string, args ...interface{}) {
	h.Report(Warning, category, fmt.Sprintf(format, args...), "", "", true, "")
}
func (h *Handler) Errorf(category Category, recoverable bool, format string, args ...interface{}) {
	h.Report(Error, category, fmt.Sprintf(format, args...), "", "", recoverable, "")
}
func (h *Handler) Criticalf(category Category, format string, args ...interface{}) {
	h.Report(Critical, category, fmt.Sprintf(format, args...), "", "", false, "")
}

// EngineSink adapts a Handler to mixer.Reporter's narrower
// Report(severity, category, message string) shape, so the engine can
// report without depending on telemetry's richer Event type.
type EngineSink struct{ Handler *Handler }

func (s EngineSink) Report(severity, category, message string) {
	s.Handler.Report(parseSeverity(severity), parseCategory(category), message, "", "", false, "")
}

func parseSeverity(s string) Severity {
	switch s {
	case "DEBUG":
		return Debug
	case "INFO":
		return Info
	case "WARNING":
		return Warning
	case "CRITICAL":
		return Critical
	default:
		return Error
	}
}

func parseCategory(c string) Category {
	switch c {
	case "AUDIO":
		return Audio
	case "NETWORK":
		return Network
	case "CONFIG":
		return Config
	case "USER_INPUT":
		return UserInput
	case "PERFORMANCE":
		return Performance
	case "HARDWARE":
		return Hardware
	default:
		return System
	}
}
