// Package validation содержит функции валидации входных данных.
package validation

import (
	"strings"

	"github.com/dpratama/cropchain-system/internal/model"
)

// ParseCategory сопоставляет строку с известной категорией товаров.
// Сравнение не зависит от регистра.
func ParseCategory(raw string) (model.ProductCategory, bool) {
	for _, c := range model.Categories() {
		if strings.EqualFold(raw, string(c)) {
			return c, true
		}
	}
	return "", false
}
