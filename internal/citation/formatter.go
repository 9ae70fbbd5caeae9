package citation

import (
	"encoding/json"
	"fmt"
	"strings"

	"legalchat/internal/models"
)

// ParseAnnotations converts the loosely typed annotation list attached
// to an assistant message into typed annotations. Entries that do not
// decode, or that carry no placeholder text, are skipped.
func ParseAnnotations(raw []any) []models.Annotation {
	var out []models.Annotation
	for _, item := range raw {
		b, err := json.Marshal(item)
		if err != nil {
			continue
		}
		var ann models.Annotation
		if err := json.Unmarshal(b, &ann); err != nil {
			continue
		}
		if ann.Text == "" {
			continue
		}
		out = append(out, ann)
	}
	return out
}

// Format rewrites a raw assistant reply, replacing the first occurrence
// of each annotation placeholder with a numbered marker and appending a
// references block. File ids are resolved against the session's
// uploaded artifacts; unknown ids fall back to the raw id. A reply
// without annotations passes through untouched.
func Format(raw string, annotations []models.Annotation, artifacts []models.Artifact) string {
	if len(annotations) == 0 {
		return raw
	}

	names := make(map[string]string, len(artifacts))
	for _, a := range artifacts {
		names[a.FileID] = a.Filename
	}

	text := raw
	var refs []string
	for i, ann := range annotations {
		marker := fmt.Sprintf("[%d]", i+1)
		text = strings.Replace(text, ann.Text, marker, 1)

		if ann.FileCitation == nil {
			continue
		}
		source := ann.FileCitation.FileID
		if name, ok := names[source]; ok {
			source = name
		}
		refs = append(refs, fmt.Sprintf("%s %q (source: %s)", marker, ann.FileCitation.Quote, source))
	}

	if len(refs) == 0 {
		return text
	}
	return text + "\n\n**References:**\n" + strings.Join(refs, "\n")
}
