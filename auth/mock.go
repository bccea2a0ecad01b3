package auth

// Static is a fixed Session for tests and local development.
type Static struct {
	UID string
	Tok string
}

func (s *Static) UserID() string { return s.UID }
func (s *Static) Token() string  { return s.Tok }
