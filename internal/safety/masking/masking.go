// Package masking enforces secret redaction at the logging sink, not at
// call sites — so a careless log.Info() call can never leak a credential.
// Adapted from a pattern-based text sanitizer: regex scrubbing of free-text
// secrets plus a field-name denylist for structured values, both applied to
// every field of every log entry before it reaches the underlying core.
package masking

import (
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"
)

const redactedPlaceholder = "***REDACTED***"

// defaultFieldDenylist is the set of structured field names whose values are
// always replaced wholesale, regardless of content.
var defaultFieldDenylist = []string{
	"password", "passwd", "token", "api_key", "apikey", "secret",
	"credential", "private_key", "access_key", "auth", "bearer", "session",
}

// defaultPatterns scrub free-text secrets embedded in messages or string
// field values: bearer tokens, JWTs, AWS keys, PEM blocks, generic API keys.
var defaultPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._\-]+`),
	regexp.MustCompile(`(?i)authorization:\s*\S+`),
	regexp.MustCompile(`eyJ[a-zA-Z0-9_\-]{10,}\.[a-zA-Z0-9_\-]{10,}\.[a-zA-Z0-9_\-]+`),
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`(?i)hvs\.[a-zA-Z0-9_\-]+`),
	regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`),
	regexp.MustCompile(`(?i)(password|passwd|secret|token)\s*[:=]\s*\S+`),
	regexp.MustCompile(`[a-zA-Z0-9+/]{40,}={0,2}`),
}

// Masker scrubs secrets from log fields and messages before they reach a
// wrapped zapcore.Core.
type Masker struct {
	fieldDenylist map[string]struct{}
	patterns      []*regexp.Regexp
}

// New builds a Masker. extraFieldPatterns extends the built-in field-name
// denylist (spec's installer-extensible log_mask_patterns).
func New(extraFieldPatterns ...string) *Masker {
	m := &Masker{
		fieldDenylist: make(map[string]struct{}, len(defaultFieldDenylist)+len(extraFieldPatterns)),
		patterns:      defaultPatterns,
	}
	for _, f := range defaultFieldDenylist {
		m.fieldDenylist[f] = struct{}{}
	}
	for _, f := range extraFieldPatterns {
		m.fieldDenylist[strings.ToLower(f)] = struct{}{}
	}
	return m
}

// MaskText scrubs free-text secrets from a string, recursively safe to call
// on messages, error strings, or arbitrary field values.
func (m *Masker) MaskText(s string) string {
	for _, pattern := range m.patterns {
		s = pattern.ReplaceAllString(s, redactedPlaceholder)
	}
	return s
}

// isCredentialField reports whether a field name should be wholesale redacted.
func (m *Masker) isCredentialField(name string) bool {
	lower := strings.ToLower(name)
	for key := range m.fieldDenylist {
		if strings.Contains(lower, key) {
			return true
		}
	}
	return false
}

// Core wraps a zapcore.Core so every entry and every field is masked before
// it reaches the underlying sink. This is the sink-level enforcement point
// spec requires: masking cannot be bypassed by a call site forgetting to
// sanitize before logging.
type Core struct {
	zapcore.Core
	masker *Masker
}

// WrapCore decorates next with sink-level masking.
func WrapCore(next zapcore.Core, masker *Masker) zapcore.Core {
	return &Core{Core: next, masker: masker}
}

// With implements zapcore.Core, masking attached fields eagerly.
func (c *Core) With(fields []zapcore.Field) zapcore.Core {
	return &Core{Core: c.Core.With(c.maskFields(fields)), masker: c.masker}
}

// Check implements zapcore.Core.
func (c *Core) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

// Write implements zapcore.Core, masking the message and every field before
// delegating to the wrapped core.
func (c *Core) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	ent.Message = c.masker.MaskText(ent.Message)
	return c.Core.Write(ent, c.maskFields(fields))
}

func (c *Core) maskFields(fields []zapcore.Field) []zapcore.Field {
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		out[i] = c.maskField(f)
	}
	return out
}

// maskField redacts a field wholesale if its name is credential-shaped,
// otherwise scrubs known secret patterns out of string-typed values and
// out of error values (logged as their scrubbed message string). Object
// and array fields (e.g. zap.Object) are not recursed into: only their own
// top-level key is checked against the denylist.
func (c *Core) maskField(f zapcore.Field) zapcore.Field {
	if c.masker.isCredentialField(f.Key) {
		switch f.Type {
		case zapcore.StringType:
			f.String = redactedPlaceholder
		default:
			f.Type = zapcore.StringType
			f.String = redactedPlaceholder
			f.Interface = nil
		}
		return f
	}
	if f.Type == zapcore.StringType {
		f.String = c.masker.MaskText(f.String)
	}
	if f.Type == zapcore.ErrorType {
		if err, ok := f.Interface.(error); ok {
			f.Type = zapcore.StringType
			f.String = c.masker.MaskText(err.Error())
			f.Interface = nil
		}
	}
	return f
}
