// Package validation содержит проверки конфигурации поздравительного сайта.
package validation

import "fmt"

// PageCountError возвращается при недопустимом количестве страниц книги.
type PageCountError struct {
	Total int
}

func (e *PageCountError) Error() string {
	return fmt.Sprintf("invalid page structure: %d pages, add or remove one page", e.Total)
}

// ValidatePages проверяет структуру страниц книги: допустима одна обложка
// либо обложка плюс парные развороты, то есть нечётное общее число страниц.
// Чётное число страниц больше одной недопустимо.
func ValidatePages(enableBook bool, total int) error {
	if !enableBook {
		return nil
	}

	if total > 1 && total%2 == 0 {
		return &PageCountError{Total: total}
	}

	return nil
}
