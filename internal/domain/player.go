package domain

import (
	"strings"

	"golang.org/x/text/cases"
)

// Player represents a participant of a tournament
type Player struct {
	ID        int    `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	ClassName string `json:"class_name"`
	Absent    bool   `json:"absent"`
}

// FullName returns the first and last name joined by a space
func (p *Player) FullName() string {
	return p.FirstName + " " + p.LastName
}

// HasClass reports whether the player carries a class label
func (p *Player) HasClass() bool {
	return p.ClassName != ""
}

// NormalizeName trims and case-folds a name for duplicate detection
func NormalizeName(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

// sameName compares players by normalized first and last name
func (p *Player) sameName(firstName, lastName string) bool {
	return NormalizeName(p.FirstName) == NormalizeName(firstName) &&
		NormalizeName(p.LastName) == NormalizeName(lastName)
}

// PlayerRecord is a player as read from an import source
type PlayerRecord struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	ClassName string `json:"class_name,omitempty"`
}
