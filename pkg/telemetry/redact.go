package telemetry

import (
	"bytes"
	"io"
	"sync"
)

// SecretMask replaces sensitive values in every log sink.
const SecretMask = "*****"

// RedactingWriter wraps an io.Writer and replaces registered secret values
// with the mask before the bytes reach the underlying sink. Wrapping the
// sink rather than individual call sites means no log path can bypass
// redaction, including messages that interpolate a secret by accident.
//
// zerolog emits each event as a single Write call, so a secret never spans
// two writes.
type RedactingWriter struct {
	mu      sync.RWMutex
	out     io.Writer
	secrets [][]byte
}

// NewRedactingWriter wraps out, masking every non-empty secret.
func NewRedactingWriter(out io.Writer, secrets ...string) *RedactingWriter {
	w := &RedactingWriter{out: out}
	w.AddSecrets(secrets...)
	return w
}

// AddSecrets registers additional values to mask. Empty strings are
// ignored: masking them would corrupt all output.
func (w *RedactingWriter) AddSecrets(secrets ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range secrets {
		if s == "" {
			continue
		}
		w.secrets = append(w.secrets, []byte(s))
	}
}

// Write masks registered secrets in p and forwards the result. The reported
// byte count refers to p so callers like zerolog see a full write.
func (w *RedactingWriter) Write(p []byte) (int, error) {
	w.mu.RLock()
	redacted := p
	for _, secret := range w.secrets {
		if bytes.Contains(redacted, secret) {
			redacted = bytes.ReplaceAll(redacted, secret, []byte(SecretMask))
		}
	}
	w.mu.RUnlock()

	if _, err := w.out.Write(redacted); err != nil {
		return 0, err
	}
	return len(p), nil
}
