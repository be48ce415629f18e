package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidSlug(t *testing.T) {
	assert.True(t, isValidSlug("alice"))
	assert.True(t, isValidSlug("alice-42"))
	assert.True(t, isValidSlug("alice_b"))

	assert.False(t, isValidSlug(""))
	assert.False(t, isValidSlug("has space"))
	assert.False(t, isValidSlug("semi;colon"))
	assert.False(t, isValidSlug(strings.Repeat("a", 65)))
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 50, clampLimit(0, 50, 200))
	assert.Equal(t, 50, clampLimit(-1, 50, 200))
	assert.Equal(t, 50, clampLimit(201, 50, 200))
	assert.Equal(t, 1, clampLimit(1, 50, 200))
	assert.Equal(t, 200, clampLimit(200, 50, 200))
}
