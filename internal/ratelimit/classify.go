package ratelimit

import (
	"net/http"
	"strings"
)

// Classify derives the operation class from the requested path and
// verb. Creation operations on the entity collections get the stricter
// create budget; everything else is general.
func Classify(method, path string) Class {
	if method != http.MethodPost {
		return ClassGeneral
	}
	switch {
	case strings.HasPrefix(path, "/api/books"),
		strings.HasPrefix(path, "/api/members"),
		strings.HasPrefix(path, "/api/loans"):
		return ClassCreate
	}
	return ClassGeneral
}
