package main

import "unicode"

func isValidSlug(s string) bool {
	if s == "" || len(s) > 64 {
		return false
	}

	for _, r := range s {
		if r == '-' || r == '_' {
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		return false
	}

	return true
}

func clampLimit(limit int, fallback int, max int) int {
	if limit < 1 || limit > max {
		return fallback
	}
	return limit
}
