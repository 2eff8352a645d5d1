package engine

import "encoding/json"

// SecretMask is the fixed string substituted for sensitive values in every
// log line, report and serialized form.
const SecretMask = "*****"

// Secret holds a sensitive string (the account credential). Its String and
// JSON representations always emit the mask; callers that genuinely need the
// value use Reveal. This keeps accidental interpolation from leaking it.
type Secret string

// String implements fmt.Stringer and returns the mask for non-empty values.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return SecretMask
}

// Reveal returns the underlying sensitive value.
func (s Secret) Reveal() string {
	return string(s)
}

// IsSet reports whether a value is present.
func (s Secret) IsSet() bool {
	return s != ""
}

// MarshalJSON always emits the masked form.
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// RunContext is the immutable data container handed to every step.
// It is built once per run and never mutated by steps: steps read from it,
// and any derived state they need to pass forward travels in their Outcome,
// not back into the context.
type RunContext struct {
	// Username is the account the user-scoped steps operate on.
	Username string `json:"username,omitempty"`

	// Credential is the account password. Marked sensitive: it is masked in
	// every sink and only revealed at the point of use.
	Credential Secret `json:"credential,omitempty"`

	// Shell is the login shell for the account (e.g. "/bin/zsh").
	Shell string `json:"shell,omitempty"`

	// UserHome is the home directory of Username, resolved at construction.
	UserHome string `json:"user_home,omitempty"`

	// Proxy is the HTTP(S) proxy URL injected into step command environments,
	// if configured.
	Proxy string `json:"proxy,omitempty"`

	// Mirrors is the ordered package mirror list.
	Mirrors []string `json:"mirrors,omitempty"`

	// EnableRegionalMirrors controls whether the mirror step rewrites the
	// mirror list at all.
	EnableRegionalMirrors bool `json:"enable_regional_mirrors"`

	// EnableSystemd controls the [boot] section written to the WSL config.
	EnableSystemd bool `json:"enable_systemd"`

	// WorkDir is the scratch directory for step temp files.
	WorkDir string `json:"work_dir,omitempty"`
}

// HasUser reports whether the user-scoped fields are populated. Steps flagged
// NeedsUser are inapplicable until this is true; the scheduler skips them
// with a "prerequisite missing" note rather than failing the run.
func (rc *RunContext) HasUser() bool {
	return rc != nil && rc.Username != ""
}

// SensitiveValues returns the raw values that must never appear in any sink.
// The redacting writer is seeded with this list.
func (rc *RunContext) SensitiveValues() []string {
	if rc == nil || !rc.Credential.IsSet() {
		return nil
	}
	return []string{rc.Credential.Reveal()}
}
