package queue

import (
	"fmt"
	"os"
	"regexp"

	"qms/registrar-queue/internal/models"

	"gopkg.in/yaml.v3"
)

const defaultChecklistKey = "default"

var timeWindowPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]-([01][0-9]|2[0-3]):[0-5][0-9]$`)

// Catalog holds the bookable time windows and the per-service checklists.
type Catalog struct {
	TimeWindows []string                    `yaml:"time_windows"`
	Checklists  map[string]models.Checklist `yaml:"checklists"`
}

func DefaultCatalog() Catalog {
	return Catalog{
		TimeWindows: []string{
			"08:00-08:30", "08:30-09:00", "09:00-09:30", "09:30-10:00",
			"10:00-10:30", "10:30-11:00", "11:00-11:30", "11:30-12:00",
			"13:00-13:30", "13:30-14:00", "14:00-14:30", "14:30-15:00",
			"15:00-15:30", "15:30-16:00",
		},
		Checklists: map[string]models.Checklist{
			"add-drop": {
				Name: "Add/Drop Subjects",
				Items: []string{
					"Your printed class schedule (for reference).",
					"Add/Drop Form, signed by your Department Head.",
					"Your official University ID.",
				},
			},
			"inc-clearance": {
				Name: "INC Clearance / Grade Correction",
				Items: []string{
					"Completed INC Completion Form, signed by your Professor.",
					"Your official University ID.",
				},
			},
			"submit-form": {
				Name: "Submit a Form",
				Items: []string{
					"The fully-completed form you need to submit.",
					"Your official University ID.",
				},
			},
			"pickup-doc": {
				Name: "Pick up a Document",
				Items: []string{
					"Your official University ID.",
					"The claim stub or email confirmation (if you have one).",
				},
			},
			"quick-question": {
				Name: "Ask a Quick Question",
				Items: []string{
					"Your official University ID.",
					"Any relevant documents related to your question.",
				},
			},
			defaultChecklistKey: {
				Name: "General Visit",
				Items: []string{
					"Your official University ID.",
					"Any forms or documents related to your visit.",
				},
			},
		},
	}
}

// LoadCatalog reads a YAML catalog. Sections missing from the file keep
// their defaults.
func LoadCatalog(path string) (Catalog, error) {
	catalog := DefaultCatalog()
	if path == "" {
		return catalog, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	var override Catalog
	if err := yaml.Unmarshal(raw, &override); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog: %w", err)
	}
	if len(override.TimeWindows) > 0 {
		for _, window := range override.TimeWindows {
			if !ValidTimeWindow(window) {
				return Catalog{}, fmt.Errorf("catalog: invalid time window %q", window)
			}
		}
		catalog.TimeWindows = override.TimeWindows
	}
	for key, checklist := range override.Checklists {
		catalog.Checklists[key] = checklist
	}
	return catalog, nil
}

// ValidTimeWindow checks the HH:MM-HH:MM shape and that the window ends
// after it starts.
func ValidTimeWindow(window string) bool {
	if !timeWindowPattern.MatchString(window) {
		return false
	}
	return window[:5] < window[6:]
}

func (c Catalog) HasWindow(window string) bool {
	for _, item := range c.TimeWindows {
		if item == window {
			return true
		}
	}
	return false
}

// ChecklistFor returns the checklist for a service key, falling back to the
// default entry.
func (c Catalog) ChecklistFor(serviceKey string) models.Checklist {
	if checklist, ok := c.Checklists[serviceKey]; ok {
		return checklist
	}
	return c.Checklists[defaultChecklistKey]
}
