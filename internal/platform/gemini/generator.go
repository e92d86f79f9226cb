// Package gemini implements generation.Generator on the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"google.golang.org/genai"

	"github.com/avdeev/poizon-sync/internal/breaker"
	"github.com/avdeev/poizon-sync/internal/config"
	"github.com/avdeev/poizon-sync/internal/generation"
)

const defaultModel = "gemini-2.0-flash"

// Generator produces SEO content through the Gemini API, behind the
// generation circuit breaker.
type Generator struct {
	logger  *slog.Logger
	client  *genai.Client
	model   string
	breaker *breaker.Breaker
}

// NewGenerator creates a Generator. The API key is required.
func NewGenerator(ctx context.Context, cfg config.GenerationConfig, brk *breaker.Breaker, logger *slog.Logger) (*Generator, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", generation.ErrInvalidConfig, err)
	}

	return &Generator{
		logger:  logger.With("component", "seo_generator"),
		client:  client,
		model:   model,
		breaker: brk,
	}, nil
}

// GenerateSEO asks the model for the six content lines and parses them.
func (g *Generator) GenerateSEO(ctx context.Context, info generation.ProductInfo) (*generation.SEOContent, error) {
	prompt := buildPrompt(info)
	g.logger.Info("generating seo content", "brand", info.Brand, "title", info.Title)

	var text string
	call := func() error {
		resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
		if err != nil {
			return fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
		}
		if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			return fmt.Errorf("%w: no content generated", generation.ErrInvalidResponse)
		}
		if resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
			return fmt.Errorf("%w: safety filters", generation.ErrContentBlocked)
		}
		text = resp.Text()
		return nil
	}

	var err error
	if g.breaker != nil {
		err = g.breaker.Call(call)
	} else {
		err = call()
	}
	if err != nil {
		if errors.Is(err, breaker.ErrOpen) {
			return nil, fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
		}
		return nil, err
	}

	content, err := parseResponse(text, info)
	if err != nil {
		return nil, err
	}
	g.logger.Info("seo content generated", "title", content.Title, "tags", len(content.Tags))
	return content, nil
}

// buildPrompt produces the six-line content request. The response format
// contract is what parseResponse undoes.
func buildPrompt(info generation.ProductInfo) string {
	target := strings.TrimSpace(fmt.Sprintf("%s %s %s", info.Category, info.Brand, info.ArticleNumber))
	return fmt.Sprintf(`Создай SEO-контент для товара.

ДАННЫЕ:
- Бренд: %s
- Товар: %s %s %s
- Артикул: %s
- Цвет: %s
- Материал: %s

ФОРМАТ ОТВЕТА (6 строк):
1. %s (СТРОГО: Категория Бренд Модель Артикул. БЕЗ слов: "купить", "стиль", "комфорт". Только факты)
2. Краткое описание (200-350 символов)
3. Полное описание (минимум 600 символов), начни: "%s %s %s –"
4. SEO Title (до 60 символов, БЕЗ слова "купить")
5. Meta Description (130-150 символов), заканчивается "Закажи онлайн!"
6. Список тегов через точку с запятой. Пример: %s; %s`,
		info.Brand,
		info.Category, info.Brand, info.Title,
		info.ArticleNumber,
		info.Color,
		info.Material,
		target,
		info.Brand, info.Title, info.ArticleNumber,
		info.Brand, info.Category)
}

var lineNumbering = regexp.MustCompile(`^\d{1,2}[.):]\s+`)

// junk tags the model keeps suggesting despite the prompt.
var junkTags = map[string]bool{
	"товар": true, "стиль": true, "комфорт": true, "теги": true,
	"tags": true, "product": true, "style": true, "comfort": true,
}

// parseResponse splits the model answer into the six content lines and
// normalizes each one.
func parseResponse(text string, info generation.ProductInfo) (*generation.SEOContent, error) {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, lineNumbering.ReplaceAllString(line, ""))
	}
	if len(lines) < 6 {
		return nil, fmt.Errorf("%w: expected 6 lines, got %d", generation.ErrInvalidResponse, len(lines))
	}

	title := cleanupTitle(generation.CleanText(lines[0]), info)
	tags := parseTags(generation.CleanText(lines[5]), info.Brand)

	return &generation.SEOContent{
		Title:            title,
		ShortDescription: generation.CleanText(lines[1]),
		Description:      generation.CleanText(lines[2]),
		SEOTitle:         generation.CleanText(lines[3]),
		MetaDescription:  generation.CleanText(lines[4]),
		Tags:             tags,
	}, nil
}

// cleanupTitle enforces the "Категория Бренд Модель Артикул" shape: the
// model tends to append color and marketing text after the article
// number, and to drop or duplicate the category.
func cleanupTitle(title string, info generation.ProductInfo) string {
	if info.ArticleNumber != "" {
		if pos := strings.Index(title, info.ArticleNumber); pos >= 0 {
			title = title[:pos+len(info.ArticleNumber)]
			title = strings.TrimRight(title, " -.,:;")
		}
	} else if words := strings.Fields(title); len(words) > 4 {
		title = strings.Join(words[:4], " ")
	}

	if info.Category != "" && !strings.HasPrefix(strings.ToLower(title), strings.ToLower(info.Category)) {
		title = info.Category + " " + title
	}
	words := strings.Fields(title)
	if info.Category != "" && len(words) >= 2 &&
		strings.EqualFold(words[0], info.Category) && strings.EqualFold(words[1], info.Category) {
		words = words[1:]
	}
	return strings.Join(words, " ")
}

func parseTags(raw, brand string) []string {
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "теги:") || strings.HasPrefix(lower, "tags:") {
		raw = strings.TrimSpace(raw[strings.Index(raw, ":")+1:])
	}
	raw = strings.NewReplacer(",", ";", "/", ";", "|", ";").Replace(raw)

	var tags []string
	seen := map[string]bool{}
	for _, tag := range strings.Split(raw, ";") {
		tag = strings.TrimSpace(tag)
		if tag == "" || junkTags[strings.ToLower(tag)] || seen[strings.ToLower(tag)] {
			continue
		}
		seen[strings.ToLower(tag)] = true
		tags = append(tags, tag)
	}
	if brand != "" && !seen[strings.ToLower(brand)] {
		tags = append([]string{brand}, tags...)
	}
	return tags
}
