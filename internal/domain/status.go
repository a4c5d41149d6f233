package domain

import "strings"

// StatusClass is the semantic classification the engine keys its logic on.
type StatusClass string

const (
	StatusClassQueued    StatusClass = "queued"
	StatusClassOpen      StatusClass = "open"
	StatusClassWaiting   StatusClass = "waiting"
	StatusClassClosed    StatusClass = "closed"
	StatusClassCancelled StatusClass = "cancelled"
)

// Default status labels.
const (
	StatusFila          = "FILA"
	StatusEmAtendimento = "EM_ATENDIMENTO"
	StatusAguardando    = "AGUARDANDO"
	StatusEncerrado     = "ENCERRADO"
	StatusCancelado     = "CANCELADO"
)

// Valid reports whether c is a known class.
func (c StatusClass) Valid() bool {
	switch c {
	case StatusClassQueued, StatusClassOpen, StatusClassWaiting, StatusClassClosed, StatusClassCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed.
func (c StatusClass) Terminal() bool {
	return c == StatusClassClosed || c == StatusClassCancelled
}

// Open reports whether a ticket in this class is being worked by an agent.
func (c StatusClass) Open() bool {
	return c == StatusClassOpen || c == StatusClassWaiting
}

// StatusDefinition is a tenant-defined status label.
type StatusDefinition struct {
	TenantID string
	Name     string
	Class    StatusClass
}

// StatusSet is a tenant's allow-list of status labels.
type StatusSet struct {
	byName   map[string]StatusClass
	defaults map[StatusClass]string
}

// DefaultStatusSet returns the built-in labels.
func DefaultStatusSet() StatusSet {
	set := StatusSet{
		byName: map[string]StatusClass{
			StatusFila:          StatusClassQueued,
			StatusEmAtendimento: StatusClassOpen,
			StatusAguardando:    StatusClassWaiting,
			StatusEncerrado:     StatusClassClosed,
			StatusCancelado:     StatusClassCancelled,
		},
		defaults: map[StatusClass]string{
			StatusClassQueued:    StatusFila,
			StatusClassOpen:      StatusEmAtendimento,
			StatusClassWaiting:   StatusAguardando,
			StatusClassClosed:    StatusEncerrado,
			StatusClassCancelled: StatusCancelado,
		},
	}
	return set
}

// NewStatusSet extends the default labels with tenant definitions.
func NewStatusSet(defs []StatusDefinition) StatusSet {
	set := DefaultStatusSet()
	for _, def := range defs {
		name := normalizeStatus(def.Name)
		if name == "" || !def.Class.Valid() {
			continue
		}
		set.byName[name] = def.Class
	}
	return set
}

// Classify returns the class of a label.
func (s StatusSet) Classify(name string) (StatusClass, bool) {
	class, ok := s.byName[normalizeStatus(name)]
	return class, ok
}

// Default returns the built-in label for a class.
func (s StatusSet) Default(class StatusClass) string {
	return s.defaults[class]
}

// Resolve picks the label for a transition into class. An empty label yields the default.
func (s StatusSet) Resolve(label string, class StatusClass) (string, bool) {
	if strings.TrimSpace(label) == "" {
		return s.defaults[class], true
	}
	name := normalizeStatus(label)
	got, ok := s.byName[name]
	if !ok || got != class {
		return "", false
	}
	return name, true
}

func normalizeStatus(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
