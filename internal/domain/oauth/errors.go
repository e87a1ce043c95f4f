package oauth

import "errors"

// ErrUsernameTaken is returned when a user with the same username exists.
var ErrUsernameTaken = errors.New("oauth: username already exists")
