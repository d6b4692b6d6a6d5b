package auth

// Identity is the authenticated caller produced by successful verification.
// It is immutable and scoped to a single request.
type Identity struct {
	SubjectID string
	Email     string
	Claims    map[string]any
}
