// Package perception renders what a character sees in a room or feature by merging the
// conditionally visible appearances contributed by each asset in scope.
package perception

import (
	"strings"
)

// FragmentTag identifies the kind of a text fragment
type FragmentTag string

const (
	TagString    FragmentTag = "String"
	TagLink      FragmentTag = "Link"
	TagLineBreak FragmentTag = "LineBreak"
)

// Fragment is one piece of rendered text. SpaceBefore and SpaceAfter record whitespace that
// the content author placed against a neighbouring fragment.
type Fragment struct {
	Tag         FragmentTag `json:"tag"`
	Value       string      `json:"value,omitempty"`
	To          string      `json:"to,omitempty"` // Link target
	SpaceBefore bool        `json:"spaceBefore,omitempty"`
	SpaceAfter  bool        `json:"spaceAfter,omitempty"`
}

// String is a convenience constructor for a plain text fragment
func String(value string) Fragment {
	return Fragment{Tag: TagString, Value: value}
}

// Link is a convenience constructor for a link fragment
func Link(value, to string) Fragment {
	return Fragment{Tag: TagLink, Value: value, To: to}
}

// LineBreak is a convenience constructor for a line break fragment
func LineBreak() Fragment {
	return Fragment{Tag: TagLineBreak}
}

func (f Fragment) isVoid() bool {
	return f.Tag == TagLink || f.Tag == TagLineBreak
}

// Merge joins adjacent fragments with deterministic whitespace. Adjacent strings become
// one string, with exactly one space between them when either side asked for spacing.
// Strings are trimmed where they touch a link or line break; a single space fragment
// separates two adjacent void fragments when spacing was asked for. Nothing carries
// spacing across a line break. Output fragments have no spacing flags.
func Merge(fragments []Fragment) []Fragment {
	out := make([]Fragment, 0, len(fragments))
	spacePending := false

	for _, f := range fragments {
		spacing := spacePending || f.SpaceBefore
		spacePending = f.SpaceAfter
		clean := Fragment{Tag: f.Tag, Value: f.Value, To: f.To}

		if len(out) == 0 {
			if f.Tag == TagLineBreak {
				spacePending = false
			}
			out = appendNonEmpty(out, clean)
			continue
		}
		prev := &out[len(out)-1]

		switch {
		case prev.Tag == TagLineBreak:
			if f.Tag == TagString {
				clean.Value = strings.TrimLeft(clean.Value, " \t")
			}
			out = appendNonEmpty(out, clean)

		case f.Tag == TagLineBreak:
			if prev.Tag == TagString {
				prev.Value = strings.TrimRight(prev.Value, " \t")
				out = dropEmptyTail(out)
			} else if spacing {
				out = append(out, String(" "))
			}
			out = append(out, clean)
			spacePending = false

		case prev.Tag == TagString && f.Tag == TagString:
			if spacing {
				prev.Value = strings.TrimRight(prev.Value, " \t") + " " + strings.TrimLeft(f.Value, " \t")
			} else {
				prev.Value += f.Value
			}

		case prev.Tag == TagString && f.isVoid():
			prev.Value = strings.TrimRight(prev.Value, " \t")
			if spacing {
				prev.Value += " "
			}
			out = dropEmptyTail(out)
			out = append(out, clean)

		case prev.isVoid() && f.Tag == TagString:
			clean.Value = strings.TrimLeft(clean.Value, " \t")
			if spacing {
				clean.Value = " " + clean.Value
			}
			out = appendNonEmpty(out, clean)

		default:
			if spacing {
				out = append(out, String(" "))
			}
			out = append(out, clean)
		}
	}
	return out
}

func appendNonEmpty(out []Fragment, f Fragment) []Fragment {
	if f.Tag == TagString && f.Value == "" {
		return out
	}
	return append(out, f)
}

func dropEmptyTail(out []Fragment) []Fragment {
	if n := len(out); n > 0 && out[n-1].Tag == TagString && out[n-1].Value == "" {
		return out[:n-1]
	}
	return out
}

// JoinNames concatenates fragment values without any spacing rules
func JoinNames(fragments []Fragment) string {
	var b strings.Builder
	for _, f := range fragments {
		b.WriteString(f.Value)
	}
	return b.String()
}

// Text flattens fragments to plain text, turning line breaks into newlines
func Text(fragments []Fragment) string {
	var b strings.Builder
	for _, f := range fragments {
		if f.Tag == TagLineBreak {
			b.WriteByte('\n')
			continue
		}
		b.WriteString(f.Value)
	}
	return b.String()
}
