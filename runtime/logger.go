package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Logger is the structured logging contract every subsystem depends on.
// ComponentAwareLogger extends it with tagging, so a subsystem can say
// logger.WithComponent("cron").Info(...) and every line carries the tag.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})
	InfoWithContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{})
}

// ComponentAwareLogger is a Logger that can be scoped to a named subsystem.
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) ComponentAwareLogger
}

// NoOpLogger discards everything. Used as a safe zero-value default so
// callers never need a nil check before logging.
type NoOpLogger struct{}

func (NoOpLogger) Info(string, map[string]interface{})                             {}
func (NoOpLogger) Warn(string, map[string]interface{})                             {}
func (NoOpLogger) Error(string, map[string]interface{})                            {}
func (NoOpLogger) Debug(string, map[string]interface{})                            {}
func (NoOpLogger) InfoWithContext(context.Context, string, map[string]interface{}) {}
func (NoOpLogger) ErrorWithContext(context.Context, string, map[string]interface{}) {}
func (n NoOpLogger) WithComponent(string) ComponentAwareLogger                      { return n }

// LoggingConfig controls ProductionLogger's output shape.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug|info|warn|error
	Format string `json:"format" yaml:"format"` // json|text
	Output string `json:"output" yaml:"output"` // stdout|stderr
}

func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{Level: "info", Format: "json", Output: "stdout"}
}

// ProductionLogger is the ambient logger for agentrun: dual JSON/text
// output, optional component tagging, and a weak-coupling hook so the
// telemetry package can attach metrics emission without an import cycle.
type ProductionLogger struct {
	level          string
	debug          bool
	serviceName    string
	component      string
	format         string
	output         io.Writer
	metricsEnabled bool
}

// NewProductionLogger builds the root logger for a service name.
func NewProductionLogger(cfg LoggingConfig, serviceName string) *ProductionLogger {
	var out io.Writer = os.Stdout
	if cfg.Output == "stderr" {
		out = os.Stderr
	}
	format := cfg.Format
	if format == "" {
		format = "json"
	}
	return &ProductionLogger{
		level:       strings.ToLower(cfg.Level),
		debug:       strings.ToLower(cfg.Level) == "debug",
		serviceName: serviceName,
		format:      format,
		output:      out,
	}
}

// EnableMetrics is called by the telemetry package once wired, mirroring
// the weak-coupling registration pattern the ambient stack uses everywhere
// else (see SetMetricsRegistry in this package).
func (p *ProductionLogger) EnableMetrics() { p.metricsEnabled = true }

func (p *ProductionLogger) WithComponent(component string) ComponentAwareLogger {
	cp := *p
	cp.component = component
	return &cp
}

func (p *ProductionLogger) Info(msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields, nil)
}

func (p *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("INFO", msg, fields, ctx)
}

func (p *ProductionLogger) Error(msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields, nil)
}

func (p *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEvent("ERROR", msg, fields, ctx)
}

func (p *ProductionLogger) Warn(msg string, fields map[string]interface{}) {
	p.logEvent("WARN", msg, fields, nil)
}

func (p *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields, nil)
	}
}

func (p *ProductionLogger) logEvent(level, msg string, fields map[string]interface{}, ctx context.Context) {
	ts := time.Now().Format(time.RFC3339)
	component := p.component
	if component == "" {
		component = "agentrun"
	}

	if p.format == "json" {
		entry := map[string]interface{}{
			"timestamp": ts,
			"level":     level,
			"service":   p.serviceName,
			"component": component,
			"message":   msg,
		}
		for k, v := range fields {
			entry[k] = v
		}
		if data, err := json.Marshal(entry); err == nil {
			fmt.Fprintln(p.output, string(data))
		}
		p.emitMetric(ctx, level, component)
		return
	}

	var b strings.Builder
	if len(fields) > 0 {
		b.WriteString(" ")
		for k, v := range fields {
			fmt.Fprintf(&b, "%s=%v ", k, v)
		}
	}
	fmt.Fprintf(p.output, "%s [%s] [%s/%s] %s%s\n", ts, level, p.serviceName, component, msg, b.String())
	p.emitMetric(ctx, level, component)
}

func (p *ProductionLogger) emitMetric(ctx context.Context, level, component string) {
	if !p.metricsEnabled || globalMetricsRegistry == nil {
		return
	}
	labels := []string{"level", level, "service", p.serviceName, "component", component}
	if ctx != nil {
		globalMetricsRegistry.EmitWithContext(ctx, "agentrun.log_events", 1.0, labels...)
		return
	}
	globalMetricsRegistry.Counter("agentrun.log_events", labels...)
}

// MetricsRegistry is the weak-coupling seam the telemetry package satisfies
// so runtime never imports it directly (avoids an import cycle, same trick
// the teacher uses for its own ProductionLogger/telemetry split).
type MetricsRegistry interface {
	Counter(name string, labels ...string)
	EmitWithContext(ctx context.Context, name string, value float64, labels ...string)
}

var globalMetricsRegistry MetricsRegistry

// SetMetricsRegistry is called once at startup by the telemetry package.
func SetMetricsRegistry(r MetricsRegistry) { globalMetricsRegistry = r }

// GetMetricsRegistry returns the currently registered MetricsRegistry, or
// nil if none has been set. Exported for tests that verify wiring.
func GetMetricsRegistry() MetricsRegistry { return globalMetricsRegistry }
