package models

import (
	"fmt"
	"strings"

	"github.com/portfoliokit/curator/pkg/constants"
)

// CollectionType identifies one independently ordered collection.
type CollectionType string

const (
	CollectionProject   CollectionType = "project"
	CollectionHackathon CollectionType = "hackathon"
	CollectionBlog      CollectionType = "blog"
)

// CollectionTypes lists every known collection type.
func CollectionTypes() []CollectionType {
	return []CollectionType{CollectionProject, CollectionHackathon, CollectionBlog}
}

// Table returns the store table (or document collection) name backing the type.
func (c CollectionType) Table() string {
	switch c {
	case CollectionProject:
		return "projects"
	case CollectionHackathon:
		return "hackathons"
	case CollectionBlog:
		return "blogs"
	}
	return string(c)
}

func (c CollectionType) Valid() bool {
	switch c {
	case CollectionProject, CollectionHackathon, CollectionBlog:
		return true
	}
	return false
}

// ParseCollectionType accepts the type name or its table name, case-insensitively.
func ParseCollectionType(s string) (CollectionType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, c := range CollectionTypes() {
		if s == string(c) || s == c.Table() {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", constants.ErrUnknownCollection, s)
}

// Direction is the direction of a move command.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Step returns the index offset of the neighbour in the ordered listing.
func (d Direction) Step() int {
	if d == Up {
		return -1
	}
	return 1
}

func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case Up:
		return Up, nil
	case Down:
		return Down, nil
	}
	return "", fmt.Errorf("%w: %q", constants.ErrInvalidDirection, s)
}
