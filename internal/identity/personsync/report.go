package personsync

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"rollcall/internal/identity/models"
	"rollcall/internal/identity/ports"
)

// Report kinds group entries by the object that failed.
const (
	KindPerson       = "Person"
	KindLegacySource = "LegacySource"
)

type reportEntry struct {
	name     string
	legacyID int64
	message  string
}

// ErrorReport collects per-record sync problems for one run. It is safe for
// concurrent use.
type ErrorReport struct {
	source    string
	personURL string

	mu      sync.Mutex
	entries map[string][]reportEntry
}

func NewErrorReport(source, personURL string) *ErrorReport {
	return &ErrorReport{
		source:    source,
		personURL: personURL,
		entries:   make(map[string][]reportEntry),
	}
}

// AddPerson records a problem with a local person.
func (r *ErrorReport) AddPerson(p *models.Person, message string) {
	if message == "" {
		return
	}
	entry := reportEntry{message: message}
	if p != nil {
		entry.name = p.Name()
		entry.legacyID = p.LegacyID
	}
	r.add(KindPerson, entry)
}

// AddLegacySource records a failed call to the legacy source.
func (r *ErrorReport) AddLegacySource(legacyID int64, err error) {
	if err == nil {
		return
	}
	r.add(KindLegacySource, reportEntry{legacyID: legacyID, message: err.Error()})
}

func (r *ErrorReport) add(kind string, entry reportEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[kind] = append(r.entries[kind], entry)
}

func (r *ErrorReport) Empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries) == 0
}

// Count returns the number of entries of kind.
func (r *ErrorReport) Count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries[kind])
}

// Render formats the report for staff. Legacy source failures come first,
// then person problems with a link to the legacy profile.
func (r *ErrorReport) Render() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	if legacy := r.entries[KindLegacySource]; len(legacy) > 0 {
		b.WriteString("Legacy source errors:\n")
		for _, e := range legacy {
			fmt.Fprintf(&b, "* legacy id %d: %s\n", e.legacyID, e.message)
		}
		b.WriteString("\n")
	}
	if persons := r.entries[KindPerson]; len(persons) > 0 {
		b.WriteString("Person errors:\n")
		for _, e := range persons {
			name := e.name
			if name == "" {
				name = "(unnamed person)"
			}
			fmt.Fprintf(&b, "* %s: %s\n", name, e.message)
			if e.legacyID > 0 {
				fmt.Fprintf(&b, "   -> %s\n", r.personURL+strconv.FormatInt(e.legacyID, 10))
			} else {
				b.WriteString("   -> no legacy id\n")
			}
		}
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// Notice wraps the rendered report for Notifier.NotifyAdmin.
func (r *ErrorReport) Notice() ports.AdminNotice {
	return ports.AdminNotice{
		Problem: "Person synchronization errors",
		Source:  r.source,
		Details: map[string]string{
			"person_errors":        strconv.Itoa(r.Count(KindPerson)),
			"legacy_source_errors": strconv.Itoa(r.Count(KindLegacySource)),
		},
		Report: r.Render(),
	}
}
