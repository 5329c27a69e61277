package model

import (
	"errors"
	"strings"
	"unicode/utf8"
)

var ErrValidation = errors.New("validation failed")

// ValidationError lists every problem found in a draft or patch.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func ValidateDraft(d Draft) error {
	var v validator
	v.title(d.Title)
	v.description(d.Description)
	v.dueDate(d.DueDate)
	v.category(d.Category)
	if d.Tags != nil {
		v.tags(d.Tags)
	}
	return v.err()
}

func ValidatePatch(p Patch) error {
	var v validator
	if p.Title != nil {
		v.title(*p.Title)
	}
	if p.Description != nil {
		v.description(*p.Description)
	}
	if p.DueDate != nil {
		v.dueDate(*p.DueDate)
	}
	if p.Category != nil {
		v.category(*p.Category)
	}
	if p.Tags != nil {
		v.tags(*p.Tags)
	}
	return v.err()
}

// ValidateTask checks a full entity, as read back from an import.
func ValidateTask(t Task) error {
	var v validator
	if strings.TrimSpace(t.ID) == "" {
		v.add("Task id is required")
	}
	v.title(t.Title)
	v.description(t.Description)
	v.category(t.Category)
	v.tags(t.Tags)
	if !t.UpdatedAt.IsZero() && t.UpdatedAt.Before(t.CreatedAt) {
		v.add("Updated time must not precede created time")
	}
	return v.err()
}

type validator struct {
	problems []string
}

func (v *validator) add(msg string) {
	v.problems = append(v.problems, msg)
}

func (v *validator) err() error {
	if len(v.problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: v.problems}
}

func (v *validator) title(s string) {
	switch {
	case strings.TrimSpace(s) == "":
		v.add("Title is required")
	case utf8.RuneCountInString(s) > MaxTitleLen:
		v.add("Title must be less than 200 characters")
	}
}

func (v *validator) description(s string) {
	if utf8.RuneCountInString(s) > MaxDescriptionLen {
		v.add("Description must be less than 1000 characters")
	}
}

func (v *validator) dueDate(s string) {
	if strings.TrimSpace(s) == "" {
		return
	}
	if _, err := ParseDue(s); err != nil {
		v.add("Due date must be a valid date")
	}
}

func (v *validator) category(s string) {
	if utf8.RuneCountInString(s) > MaxCategoryLen {
		v.add("Category must be less than 50 characters")
	}
}

func (v *validator) tags(tags []string) {
	if len(tags) > MaxTags {
		v.add("Task can have at most 10 tags")
	}
	for _, tag := range tags {
		if strings.TrimSpace(tag) == "" || utf8.RuneCountInString(tag) > MaxTagLen {
			v.add("Each tag must be less than 30 characters")
			return
		}
	}
}
