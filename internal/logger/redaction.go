package logger

import (
	"io"
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

// Redactor masks credentials before log lines reach any writer: embedding
// API keys, bearer tokens, credentials embedded in base URLs and any literal
// secrets registered from the resolved config.
type Redactor struct {
	patterns []*regexp.Regexp
	literals []string
}

var defaultPatterns = []*regexp.Regexp{
	// OpenAI keys, including project keys (sk-proj-...)
	regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`),
	regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`),
	// api_key / apiKey fields in structured output
	regexp.MustCompile(`(?i)api[_-]?key["\s:=]+[^\s",}]+`),
}

// user:password@ in an OpenAI-compatible base URL; the scheme is kept.
var urlCredentials = regexp.MustCompile(`(https?://)[^/\s:@"]+:[^/\s@"]+@`)

// NewRedactor creates a redactor with the default patterns. Non-empty
// secrets are masked verbatim wherever they appear.
func NewRedactor(secrets ...string) *Redactor {
	r := &Redactor{patterns: append([]*regexp.Regexp(nil), defaultPatterns...)}
	for _, s := range secrets {
		r.AddSecret(s)
	}
	return r
}

// AddPattern adds a custom redaction pattern.
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// AddSecret masks s verbatim. Values shorter than 8 characters are ignored;
// masking them would shred ordinary words.
func (r *Redactor) AddSecret(s string) {
	s = strings.TrimSpace(s)
	if len(s) < 8 {
		return
	}
	r.literals = append(r.literals, s)
}

// Redact masks sensitive values in s.
func (r *Redactor) Redact(s string) string {
	for _, lit := range r.literals {
		s = strings.ReplaceAll(s, lit, redacted)
	}
	s = urlCredentials.ReplaceAllString(s, "${1}"+redacted+"@")
	for _, re := range r.patterns {
		s = re.ReplaceAllString(s, redacted)
	}
	return s
}

// Wrap returns a writer that redacts each write before passing it to w.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{w: w, r: r}
}

type redactingWriter struct {
	w io.Writer
	r *Redactor
}

// Write reports len(p) on success even when redaction changed the length,
// otherwise zerolog treats the line as a short write.
func (rw *redactingWriter) Write(p []byte) (int, error) {
	if _, err := io.WriteString(rw.w, rw.r.Redact(string(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}
