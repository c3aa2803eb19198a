// Package diag collects error statements across modules and partitions
// them into recoverable warnings and render-blocking criticals.
package diag

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/devalang/pkg/ast"
)

// Severity grades a diagnostic.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityCritical
)

// String returns the lowercase severity label.
func (s Severity) String() string {
	if s == SeverityCritical {
		return "critical"
	}
	return "warning"
}

// Diagnostic is one collected problem with its source location.
type Diagnostic struct {
	Severity Severity
	Message  string
	Module   string
	Line     int
	Column   int
}

// Format renders the user-visible two-line form.
func (d Diagnostic) Format() string {
	return fmt.Sprintf("%s %s\n  ↳ %s:%d:%d", d.Severity, d.Message, d.Module, d.Line, d.Column)
}

// Collector accumulates diagnostics during a compilation.
type Collector struct {
	diags []Diagnostic
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Add records a diagnostic.
func (c *Collector) Add(d Diagnostic) {
	c.diags = append(c.diags, d)
}

// CollectStatements scans a module's statements for Error and Unknown
// nodes. Unknown statements are lex-level noise and always warnings;
// Error statements are classified by message.
func (c *Collector) CollectStatements(module string, statements []ast.Statement) {
	for _, stmt := range statements {
		switch stmt.Kind {
		case ast.ErrorStatement:
			c.Add(Diagnostic{
				Severity: classify(stmt.Message),
				Message:  stmt.Message,
				Module:   module,
				Line:     stmt.Line,
				Column:   stmt.Column,
			})
		case ast.UnknownStatement:
			if s, ok := stmt.Value.AsString(); ok && s != "" {
				c.Add(Diagnostic{
					Severity: SeverityWarning,
					Message:  "unrecognized input '" + s + "'",
					Module:   module,
					Line:     stmt.Line,
					Column:   stmt.Column,
				})
			}
		}
		// Errors inside nested bodies still block a useful render.
		for _, inner := range stmt.Body {
			c.CollectStatements(module, []ast.Statement{inner})
		}
		c.collectValue(module, stmt.Value)
	}
}

func (c *Collector) collectValue(module string, v ast.Value) {
	switch v.Kind {
	case ast.BlockValue:
		c.CollectStatements(module, v.Block)
	case ast.MapValue:
		for _, inner := range v.Map {
			c.collectValue(module, inner)
		}
	case ast.ArrayValue:
		for _, inner := range v.Items {
			c.collectValue(module, inner)
		}
	}
}

// classify grades an error message. Structural parse failures that leave
// a statement unusable are critical; reference-level problems degrade to
// warnings because rendering skips the offending statement.
func classify(message string) Severity {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "not found"),
		strings.Contains(lower, "already"),
		strings.Contains(lower, "unknown trigger"),
		strings.Contains(lower, "missing audio"),
		strings.Contains(lower, "unrecognized"):
		return SeverityWarning
	default:
		return SeverityCritical
	}
}

// Warnings returns the recoverable diagnostics.
func (c *Collector) Warnings() []Diagnostic {
	return c.filter(SeverityWarning)
}

// Criticals returns the render-blocking diagnostics.
func (c *Collector) Criticals() []Diagnostic {
	return c.filter(SeverityCritical)
}

func (c *Collector) filter(s Severity) []Diagnostic {
	var out []Diagnostic
	for _, d := range c.diags {
		if d.Severity == s {
			out = append(out, d)
		}
	}
	return out
}

// Summary formats the compile-failure message: count, first message and
// its location.
func (c *Collector) Summary() string {
	criticals := c.Criticals()
	if len(criticals) == 0 {
		return ""
	}
	first := criticals[0]
	return fmt.Sprintf("%d critical error(s); first: %s\n  ↳ %s:%d:%d",
		len(criticals), first.Message, first.Module, first.Line, first.Column)
}

// Report logs every collected diagnostic at its matching level.
func (c *Collector) Report() {
	for _, d := range c.diags {
		entry := logrus.WithFields(logrus.Fields{
			"module": d.Module,
			"line":   d.Line,
			"column": d.Column,
		})
		if d.Severity == SeverityCritical {
			entry.Error(d.Message)
		} else {
			entry.Warn(d.Message)
		}
	}
}
