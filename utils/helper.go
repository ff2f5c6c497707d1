package utils

import (
	"strings"

	"github.com/google/uuid"
)

func UniqueSlice[T comparable](slice []T) []T {
	keys := make(map[T]bool)
	var list []T
	for _, entry := range slice {
		if _, value := keys[entry]; !value {
			keys[entry] = true
			list = append(list, entry)
		}
	}
	return list
}

func DereferencePtr[T any](ptr *T, defaults ...T) T {
	if ptr != nil {
		return *ptr
	}
	var zero T
	if len(defaults) > 0 {
		return defaults[0]
	}
	return zero
}

func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func GenerateUniqueFilename() string {
	return uuid.NewString()
}
