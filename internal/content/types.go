// Package content defines the synchronizable content types, their keys,
// and the payload structures read from corpus source files.
package content

import "fmt"

// Content type names. These appear verbatim in the status API response,
// in fingerprint/record rows, and in replica mirrors.
const (
	TypeChapters     = "chapters"
	TypeTimeline     = "timeline"
	TypeProphecies   = "prophecies"
	TypePersons      = "persons"
	TypeReadingPlans = "readingPlans"
)

// Types returns all content types in their canonical sync order.
func Types() []string {
	return []string{TypeChapters, TypeTimeline, TypeProphecies, TypePersons, TypeReadingPlans}
}

// IsSingleton reports whether the content type has exactly one aggregate
// record. Singleton types are reported as booleans in the status API.
func IsSingleton(contentType string) bool {
	return contentType == TypeTimeline || contentType == TypeProphecies
}

// SingletonKey returns the fixed content key for a singleton type.
func SingletonKey(contentType string) string {
	return contentType
}

// IsKnownType reports whether the given type is one of the sync types.
func IsKnownType(contentType string) bool {
	switch contentType {
	case TypeChapters, TypeTimeline, TypeProphecies, TypePersons, TypeReadingPlans:
		return true
	}
	return false
}

// ChapterKey builds the canonical key for one chapter of one translation:
// {translation}/{book}/{chapter}.
func ChapterKey(translation, book string, chapter int) string {
	return fmt.Sprintf("%s/%s/%d", translation, book, chapter)
}
