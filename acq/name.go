package acq

import "strings"

const (
	// NameSeparator separates the hierarchical parts of a canonical knob name, e.g. SIG:CLK_MB:FREQ.
	NameSeparator = ":"
	// IdentSeparator replaces NameSeparator in the derived identifier, e.g. SIG_CLK_MB_FREQ.
	IdentSeparator = "_"
	// ValueSeparator separates the knob name from its value on the wire.
	ValueSeparator = " "
)

// ToIdent returns the derived identifier of a canonical knob name.
func ToIdent(canonical string) string {
	return strings.ReplaceAll(canonical, NameSeparator, IdentSeparator)
}

// ValidKnobName reports whether name can be sent as a knob request:
// it must be non-empty and must not contain whitespace or line terminators.
func ValidKnobName(name string) bool {
	if name == "" {
		return false
	}

	return !strings.ContainsAny(name, " \t\r\n")
}

// KnobValue splits a knob reply of the form "<name> <value>" and returns the value part.
// A reply without a separator is returned unchanged.
func KnobValue(reply string) string {
	if _, value, ok := strings.Cut(reply, ValueSeparator); ok {
		return value
	}

	return reply
}

// KnobReplyName returns the leading name token of a knob reply.
func KnobReplyName(reply string) string {
	name, _, _ := strings.Cut(reply, ValueSeparator)
	return name
}
