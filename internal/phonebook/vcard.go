package phonebook

import (
	"bufio"
	"bytes"
	"fmt"

	"github.com/emersion/go-vcard"
)

// Entry is one quick-dial phonebook record as reported by the device.
type Entry struct {
	Name   string
	Number string
}

// EntriesFromCategory extracts phonebook entries from the raw category
// payload ({"entries":[{"name":...,"number":...}]}).
func EntriesFromCategory(payload map[string]any) []Entry {
	raw, _ := payload["entries"].([]any)
	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := obj["name"].(string)
		number, _ := obj["number"].(string)
		if name == "" && number == "" {
			continue
		}
		entries = append(entries, Entry{Name: name, Number: number})
	}
	return entries
}

// ExportVCard renders the phonebook as a version 4 vCard stream.
func ExportVCard(entries []Entry) ([]byte, error) {
	var b bytes.Buffer
	out := bufio.NewWriter(&b)
	enc := vcard.NewEncoder(out)

	for _, entry := range entries {
		name := entry.Name
		if name == "" {
			name = entry.Number
		}
		if name == "" {
			continue
		}

		card := vcard.Card{}
		card.SetValue(vcard.FieldFormattedName, name)
		if entry.Number != "" {
			card.SetValue(vcard.FieldTelephone, entry.Number)
		}
		vcard.ToV4(card)
		if err := enc.Encode(card); err != nil {
			return nil, fmt.Errorf("encode vcard for %q: %w", name, err)
		}
	}

	if err := out.Flush(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}
