// Package generation defines the SEO content generator used by the
// product upload pipeline and the text cleanup helpers shared with it.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidConfig is returned when generator configuration is
	// missing or malformed.
	ErrInvalidConfig = errors.New("invalid generation configuration")

	// ErrInvalidResponse is returned when the model answer cannot be
	// parsed into SEO content.
	ErrInvalidResponse = errors.New("invalid generation response")

	// ErrContentBlocked is returned when the model refuses the prompt.
	ErrContentBlocked = errors.New("generation content blocked")

	// ErrTransientFailure is returned for temporary errors that might
	// resolve on retry.
	ErrTransientFailure = errors.New("transient generation failure")
)

// ProductInfo is the input for SEO generation, extracted from the
// assembled catalog product.
type ProductInfo struct {
	Brand         string
	Category      string
	Title         string
	ArticleNumber string
	Color         string
	Material      string
}

// SEOContent is the generated store content for one product.
type SEOContent struct {
	Title            string   `json:"title"`
	ShortDescription string   `json:"short_description"`
	Description      string   `json:"description"`
	SEOTitle         string   `json:"seo_title"`
	MetaDescription  string   `json:"meta_description"`
	Tags             []string `json:"tags"`
}

// Generator produces SEO content for a product.
type Generator interface {
	GenerateSEO(ctx context.Context, info ProductInfo) (*SEOContent, error)
}

// Fallback builds basic SEO content from the product data alone, used
// when the generator is unavailable or fails.
func Fallback(info ProductInfo) *SEOContent {
	name := strings.TrimSpace(fmt.Sprintf("%s %s %s", info.Category, info.Brand, info.Title))
	return &SEOContent{
		Title:            name,
		ShortDescription: strings.TrimSpace(fmt.Sprintf("%s. Артикул: %s", name, info.ArticleNumber)),
		Description:      name,
		SEOTitle:         name,
		MetaDescription:  name + ". Закажи онлайн!",
		Tags:             []string{info.Brand},
	}
}

// CleanText strips CJK characters from generated text, keeping Latin,
// Cyrillic, digits and basic punctuation. Fullwidth Latin letters and
// digits are folded to their ASCII forms.
func CleanText(text string) string {
	if text == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 0x0410 && r <= 0x044F: // Cyrillic А-я
			b.WriteRune(r)
		case strings.ContainsRune(" -'.,/:;()!?", r):
			b.WriteRune(r)
		case r >= 0xFF21 && r <= 0xFF3A, r >= 0xFF41 && r <= 0xFF5A, r >= 0xFF10 && r <= 0xFF19:
			// Fullwidth Ａ-Ｚ, ａ-ｚ, ０-９
			b.WriteRune(r - 0xFEE0)
		}
	}
	// Stripped runs leave double spaces behind.
	return strings.Join(strings.Fields(b.String()), " ")
}
