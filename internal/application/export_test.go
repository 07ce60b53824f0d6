package application

import "io"

// SetRandom replaces the PIN entropy source.
func (s *AuthService) SetRandom(r io.Reader) {
	s.random = r
}
