package app

import "errors"

// ErrInvalidInput marks request validation failures. The HTTP layer
// maps it to a 400 response; wrap it with the field-specific message.
var ErrInvalidInput = errors.New("invalid input")
