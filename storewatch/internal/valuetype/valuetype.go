// Package valuetype classifies raw storage values.
package valuetype

import (
	"encoding/json"
	"fmt"
)

// Type is the inferred type of a stored string value.
type Type string

const (
	String  Type = "string"
	Number  Type = "number"
	Boolean Type = "boolean"
	JSON    Type = "json"
	Null    Type = "null"
)

// All lists every type in display order.
var All = []Type{String, Number, Boolean, JSON, Null}

// Detect returns the type of value. Rules are applied in order:
// the literal "null", the literals "true"/"false", a non-empty run of
// ASCII digits, any valid JSON document, and finally string.
//
// "-1" and "1.5" are valid JSON and therefore classify as JSON, not number.
func Detect(value string) Type {
	switch value {
	case "null":
		return Null
	case "true", "false":
		return Boolean
	}
	if isDigits(value) {
		return Number
	}
	if json.Valid([]byte(value)) {
		return JSON
	}
	return String
}

// Parse validates a type name.
func Parse(s string) (Type, error) {
	for _, t := range All {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("valuetype: unknown type %q", s)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
