// Package codec encodes and decodes message content. A message body is either
// plain text or a JSON attachment descriptor sharing the same content column;
// decoding is total and degrades to plain text on anything it cannot parse, so
// an old client shown unknown content renders raw text instead of erroring.
package codec

import "encoding/json"

const attachmentKind = "attachment"

// Attachment describes a file stored in the object store.
type Attachment struct {
	Kind    string `json:"kind"`
	Path    string `json:"path"`
	Name    string `json:"name"`
	Mime    string `json:"mime"`
	Caption string `json:"caption,omitempty"`
}

// Content is the decoded form of a message body. Exactly one variant is set:
// Attachment when non-nil, otherwise Text (which may be empty).
type Content struct {
	Text       string
	Attachment *Attachment
}

// Encode serializes content for the wire. With no attachment the text goes
// through untouched.
func Encode(text string, att *Attachment) string {
	if att == nil {
		return text
	}
	a := *att
	a.Kind = attachmentKind
	if a.Caption == "" {
		a.Caption = text
	}
	b, err := json.Marshal(a)
	if err != nil {
		// Marshal of a flat string struct cannot fail; fall back to text.
		return text
	}
	return string(b)
}

// Decode parses content. It never returns an error: malformed JSON, a wrong
// kind tag, or a descriptor missing path/name/mime all decode as plain text.
func Decode(content string) Content {
	var a Attachment
	if err := json.Unmarshal([]byte(content), &a); err != nil {
		return Content{Text: content}
	}
	if a.Kind != attachmentKind || a.Path == "" || a.Name == "" || a.Mime == "" {
		return Content{Text: content}
	}
	return Content{Text: a.Caption, Attachment: &a}
}
