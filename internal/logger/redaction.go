package logger

import (
	"io"
	"regexp"
)

// Redactor redacts credential material from log output.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor creates a redactor covering the secrets this daemon handles:
// corp secrets, platform access tokens, callback AES keys and delivery
// tokens.
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []*regexp.Regexp{
			// Platform access tokens in query strings or fields
			regexp.MustCompile(`access_token["\s:=]+[a-zA-Z0-9_-]{20,}`),

			// Corp secrets
			regexp.MustCompile(`corpsecret["\s:=]+[^\s&"]+`),
			regexp.MustCompile(`corp_secret["\s:=]+[^\s&"]+`),

			// Callback encoding AES keys (43 base64 chars)
			regexp.MustCompile(`encoding_aes_key["\s:=]+[A-Za-z0-9]{43}`),

			// Bearer tokens
			regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`),

			// Generic secrets
			regexp.MustCompile(`secret["\s:=]+[^\s"]+`),
		},
	}
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

// Redact redacts sensitive information from a string.
func (r *Redactor) Redact(s string) string {
	result := s
	for _, pattern := range r.patterns {
		result = pattern.ReplaceAllString(result, "[REDACTED]")
	}
	return result
}

// Wrap wraps an io.Writer to redact sensitive information.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{
		writer:   w,
		redactor: r,
	}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

func (w *redactingWriter) Write(p []byte) (n int, err error) {
	redacted := w.redactor.Redact(string(p))
	return w.writer.Write([]byte(redacted))
}
