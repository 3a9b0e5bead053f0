package middlewares

import (
	"strings"
	"unicode"

	"github.com/riftlabs/dispatch"
)

// Sized is implemented by commands that can report their own serialized
// size, used by SecurityPolicy's max_command_size check. Commands that
// don't implement it skip the size check.
type Sized interface {
	SerializedSize() int
}

// Stringy is implemented by commands exposing the free-text fields subject
// to length/charset/HTML policy.
type Stringy interface {
	StringFields() map[string]string
}

// SecurityProfile bundles the tunables spec.md §6 lists under "Security
// policy", hand-rolled rather than driven by a struct-tag validator: no
// example repo's validation library expresses exactly this rule set
// (max command size + per-field length + allowed charset + HTML
// rejection) against an interface-erased command type, so this is
// justified as a stdlib-only component in DESIGN.md. The shape of the
// profile (named presets assembled from fields) mirrors x/config's
// validation-via-struct idiom.
type SecurityProfile struct {
	MaxCommandSize     int
	MaxStringLength    int
	AllowHTML          bool
	StrictValidation   bool
	AllowedCharacterSet func(r rune) bool
}

// DefaultProfile is a permissive baseline: no size cap, generous string
// length, HTML rejected, any printable character allowed.
func DefaultProfile() SecurityProfile {
	return SecurityProfile{
		MaxCommandSize:      0,
		MaxStringLength:     4096,
		AllowHTML:           false,
		StrictValidation:    false,
		AllowedCharacterSet: unicode.IsPrint,
	}
}

// StrictProfile tightens DefaultProfile: bounded command size, shorter
// strings, strict_validation set, and an AllowedCharacterSet limited to
// printable ASCII, which rejects any non-ASCII rune. SecurityPolicy does
// not read StrictValidation itself; the ASCII restriction comes from the
// character set.
func StrictProfile() SecurityProfile {
	p := DefaultProfile()
	p.MaxCommandSize = 64 * 1024
	p.MaxStringLength = 512
	p.StrictValidation = true
	p.AllowedCharacterSet = func(r rune) bool { return r < unicode.MaxASCII && unicode.IsPrint(r) }
	return p
}

type securityError struct{ detail string }

func (e securityError) Error() string { return e.detail }

// SecurityPolicy enforces SecurityProfile against commands implementing
// Sized and/or Stringy, per spec.md §4.8.
type SecurityPolicy struct {
	profile SecurityProfile
}

// NewSecurityPolicy constructs the security-policy middleware.
func NewSecurityPolicy(profile SecurityProfile) SecurityPolicy {
	return SecurityPolicy{profile: profile}
}

// Priority implements dispatch.Middleware.
func (SecurityPolicy) Priority() dispatch.Priority { return dispatch.PriorityValidation }

// Execute implements dispatch.Middleware.
func (s SecurityPolicy) Execute(ctx *dispatch.Context, cmd interface{}, next dispatch.Next) (interface{}, error) {
	if sized, ok := cmd.(Sized); ok && s.profile.MaxCommandSize > 0 {
		if n := sized.SerializedSize(); n > s.profile.MaxCommandSize {
			return nil, s.fail("command exceeds max_command_size")
		}
	}

	if stringy, ok := cmd.(Stringy); ok {
		for field, value := range stringy.StringFields() {
			if s.profile.MaxStringLength > 0 && len(value) > s.profile.MaxStringLength {
				return nil, s.fail("field " + field + " exceeds max_string_length")
			}
			if !s.profile.AllowHTML && containsHTML(value) {
				return nil, s.fail("field " + field + " contains disallowed markup")
			}
			if s.profile.AllowedCharacterSet != nil {
				for _, r := range value {
					if !s.profile.AllowedCharacterSet(r) {
						return nil, s.fail("field " + field + " contains a disallowed character")
					}
				}
			}
		}
	}

	return next(cmd)
}

func (s SecurityPolicy) fail(detail string) error {
	return dispatch.Wrap(dispatch.KindSecurityPolicy, detail, securityError{detail: detail})
}

func containsHTML(s string) bool {
	return strings.ContainsAny(s, "<>") || strings.Contains(s, "&#")
}
