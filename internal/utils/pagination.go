// Package utils provides small, generic helper functions used across
// different layers of the application. These utilities are independent
// of domain or business logic.
package utils

import "strconv"

// AtoiDefault converts a string to an int using strconv.Atoi.
// If the string is empty or cannot be parsed as an integer,
// it returns the provided default value instead.
//
// Example:
//
//	n := utils.AtoiDefault("42", 0) // returns 42
//	n = utils.AtoiDefault("", 10)   // returns 10
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// Page is the clamped pagination window derived from query parameters.
type Page struct {
	Page     int
	PageSize int
}

// Offset returns the row offset for the page.
func (p Page) Offset() int { return (p.Page - 1) * p.PageSize }

// ParsePage reads page/page_size strings, clamping page to >= 1 and
// page_size to [1, maxSize]. Invalid values fall back to 1 and def.
func ParsePage(page, pageSize string, def, maxSize int) Page {
	p := AtoiDefault(page, 1)
	if p < 1 {
		p = 1
	}
	ps := AtoiDefault(pageSize, def)
	if ps < 1 {
		ps = def
	}
	if ps > maxSize {
		ps = maxSize
	}
	return Page{Page: p, PageSize: ps}
}

// TotalPages returns ceil(total/pageSize), never less than 1.
func TotalPages(total int64, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 1
	}
	return int((total + int64(pageSize) - 1) / int64(pageSize))
}
