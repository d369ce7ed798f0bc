package transcript

import "strings"

type contentKind int

const (
	contentEmpty contentKind = iota
	contentText
	contentFragments
)

// Fragment is one piece of a multi-part utterance payload. Engines may emit
// heterogeneous fragment lists where only some entries carry text.
type Fragment struct {
	Text string
}

// Content is the utterance payload as delivered by the conversational
// engine: either one plain string or a list of fragments.
type Content struct {
	kind      contentKind
	text      string
	fragments []Fragment
}

func PlainText(text string) Content {
	return Content{kind: contentText, text: text}
}

func FragmentList(fragments ...Fragment) Content {
	return Content{kind: contentFragments, fragments: fragments}
}

// Normalize produces the single joined utterance string. The second return
// is false when the content holds no usable text.
func (c Content) Normalize() (string, bool) {
	switch c.kind {
	case contentText:
		t := strings.TrimSpace(c.text)
		return t, t != ""
	case contentFragments:
		parts := make([]string, 0, len(c.fragments))
		for _, f := range c.fragments {
			if f.Text != "" {
				parts = append(parts, f.Text)
			}
		}
		t := strings.TrimSpace(strings.Join(parts, " "))
		return t, t != ""
	default:
		return "", false
	}
}
