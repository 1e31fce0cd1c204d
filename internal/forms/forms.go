// Package forms defines the request payloads the client submits and the server
// validates, and the prompts the server builds from them.
package forms

import (
	"fmt"
	"strings"

	"github.com/tidwall/sjson"
)

// Kind names a form for routing and usage records.
type Kind string

const (
	KindConsultation Kind = "consultation"
	KindIdea         Kind = "idea"
)

// Visit is the consultation form.
type Visit struct {
	PatientName string `json:"patient_name"`
	DateOfVisit string `json:"date_of_visit"`
	Notes       string `json:"notes"`
}

// VisitFields lists the Visit wire names in display order.
var VisitFields = []string{"patient_name", "date_of_visit", "notes"}

// Validate trims every field and returns the wire names of the empty ones, in
// declaration order. A nil result means the visit is complete.
func (v *Visit) Validate() []string {
	v.PatientName = strings.TrimSpace(v.PatientName)
	v.DateOfVisit = strings.TrimSpace(v.DateOfVisit)
	v.Notes = strings.TrimSpace(v.Notes)

	var missing []string
	if v.PatientName == "" {
		missing = append(missing, "patient_name")
	}
	if v.DateOfVisit == "" {
		missing = append(missing, "date_of_visit")
	}
	if v.Notes == "" {
		missing = append(missing, "notes")
	}
	return missing
}

// Fields returns the visit as ordered wire fields.
func (v Visit) Fields() []Field {
	return []Field{
		{Name: "patient_name", Value: v.PatientName},
		{Name: "date_of_visit", Value: v.DateOfVisit},
		{Name: "notes", Value: v.Notes},
	}
}

// VisitFromFields copies known fields into a Visit; unknown names are ignored.
func VisitFromFields(fields []Field) Visit {
	var v Visit
	for _, f := range fields {
		switch f.Name {
		case "patient_name":
			v.PatientName = f.Value
		case "date_of_visit":
			v.DateOfVisit = f.Value
		case "notes":
			v.Notes = f.Value
		}
	}
	return v
}

// Field is one user-supplied string input.
type Field struct {
	Name  string
	Value string
}

// Body renders fields as a JSON object, keys in the given order. A repeated name
// keeps its position and takes the last value.
func Body(fields []Field) ([]byte, error) {
	body := []byte("{}")
	var err error
	for _, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("forms: empty field name")
		}
		body, err = sjson.SetBytes(body, escapePath(f.Name), f.Value)
		if err != nil {
			return nil, fmt.Errorf("forms: set %q: %w", f.Name, err)
		}
	}
	return body, nil
}

// escapePath makes name a literal sjson key.
func escapePath(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\', ':':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
