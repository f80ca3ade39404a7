package validation

import (
	"testing"

	"github.com/dpratama/cropchain-system/internal/model"
)

func TestParseCategory(t *testing.T) {
	tests := []struct {
		raw    string
		want   model.ProductCategory
		wantOK bool
	}{
		{raw: "Vegetables", want: model.CategoryVegetables, wantOK: true},
		{raw: "vegetables", want: model.CategoryVegetables, wantOK: true},
		{raw: "FRUIT", want: model.CategoryFruit, wantOK: true},
		{raw: "Grains", want: model.CategoryGrains, wantOK: true},
		{raw: "Spices", want: model.CategorySpices, wantOK: true},
		{raw: "", wantOK: false},
		{raw: "Dairy", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := ParseCategory(tt.raw)
			if ok != tt.wantOK {
				t.Fatalf("ParseCategory(%q) ok = %v, want %v", tt.raw, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Fatalf("ParseCategory(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}
