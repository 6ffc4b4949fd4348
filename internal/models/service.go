package models

type Service struct {
	ServiceID   string      `json:"service_id"`
	Name        string      `json:"name"`
	ServiceKey  string      `json:"service_key"`
	ServiceType ServiceType `json:"service_type"`
	Checklist   *Checklist  `json:"checklist,omitempty"`
}

// Checklist is the list of things a visitor should bring for a service.
type Checklist struct {
	Name  string   `json:"name" yaml:"name"`
	Items []string `json:"items" yaml:"items"`
}
