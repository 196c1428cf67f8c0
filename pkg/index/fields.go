package index

// System fields present on every document. They terminate every index's
// field list so that keys are unique.
const (
	CreationTimeField = "_creationTime"
	IDField           = "_id"
)

// Built-in index names available on every table
const (
	ByID           = "by_id"
	ByCreationTime = "by_creation_time"
)

// Disambiguators returns the trailing fields appended to user index fields
func Disambiguators() []string {
	return []string{CreationTimeField, IDField}
}

// WithDisambiguators returns the full comparison field list for an index
// declared on fields, appending whichever system fields are not already there.
func WithDisambiguators(fields []string) []string {
	out := make([]string, 0, len(fields)+2)
	out = append(out, fields...)
	if len(out) > 0 && out[len(out)-1] == IDField {
		return out
	}
	if len(out) == 0 || out[len(out)-1] != CreationTimeField {
		out = append(out, CreationTimeField)
	}
	return append(out, IDField)
}

// FieldsEqual reports whether two field lists are identical
func FieldsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
