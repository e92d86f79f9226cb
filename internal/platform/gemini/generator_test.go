package gemini

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avdeev/poizon-sync/internal/config"
	"github.com/avdeev/poizon-sync/internal/generation"
)

func TestNewGeneratorRequiresAPIKey(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := NewGenerator(context.Background(), config.GenerationConfig{}, nil, logger)
	assert.ErrorIs(t, err, generation.ErrInvalidConfig)
}

func TestParseResponseSixLines(t *testing.T) {
	answer := `1. Кроссовки Nike Air Max 97 DM0028
2) Краткое описание модели для карточки товара.
3: Nike Air Max 97 DM0028 - полное описание товара с деталями.
4. Nike Air Max 97 - купить в Москве
5. Лучшие кроссовки сезона. Закажи онлайн!
6. Nike; Кроссовки; обувь`

	info := generation.ProductInfo{
		Brand: "Nike", Category: "Кроссовки", Title: "Air Max 97", ArticleNumber: "DM0028",
	}
	content, err := parseResponse(answer, info)
	require.NoError(t, err)

	assert.Equal(t, "Кроссовки Nike Air Max 97 DM0028", content.Title)
	assert.Contains(t, content.MetaDescription, "Закажи онлайн!")
	assert.Equal(t, []string{"Nike", "Кроссовки", "обувь"}, content.Tags)
}

func TestParseResponseTooFewLines(t *testing.T) {
	_, err := parseResponse("1. Только\n2. Три\n3. Строки", generation.ProductInfo{})
	assert.ErrorIs(t, err, generation.ErrInvalidResponse)
}

func TestCleanupTitleTruncatesAfterArticle(t *testing.T) {
	info := generation.ProductInfo{Category: "Кроссовки", ArticleNumber: "DM0028"}
	got := cleanupTitle("Кроссовки Nike Air Max DM0028 белого цвета для бега", info)
	assert.Equal(t, "Кроссовки Nike Air Max DM0028", got)
}

func TestCleanupTitlePrependsMissingCategory(t *testing.T) {
	info := generation.ProductInfo{Category: "Кроссовки", ArticleNumber: "DM0028"}
	got := cleanupTitle("Nike Air Max DM0028", info)
	assert.Equal(t, "Кроссовки Nike Air Max DM0028", got)
}

func TestCleanupTitleDropsDuplicatedCategory(t *testing.T) {
	info := generation.ProductInfo{Category: "Кроссовки", ArticleNumber: "DM0028"}
	got := cleanupTitle("Кроссовки Кроссовки Nike DM0028", info)
	assert.Equal(t, "Кроссовки Nike DM0028", got)
}

func TestCleanupTitleLimitsWordsWithoutArticle(t *testing.T) {
	info := generation.ProductInfo{Category: "Кроссовки"}
	got := cleanupTitle("Кроссовки Nike Air Max лучшие городские", info)
	assert.Equal(t, "Кроссовки Nike Air Max", got)
}

func TestParseTagsFiltersJunkAndEnsuresBrand(t *testing.T) {
	tags := parseTags("Кроссовки, стиль; комфорт / обувь | Товар", "Nike")
	assert.Equal(t, []string{"Nike", "Кроссовки", "обувь"}, tags)
}

func TestParseTagsStripsLabelPrefix(t *testing.T) {
	tags := parseTags("Теги: Nike; обувь", "Nike")
	assert.Equal(t, []string{"Nike", "обувь"}, tags)
}

func TestCleanTextStripsCJKAndFoldsFullwidth(t *testing.T) {
	assert.Equal(t, "Nike Air Max 97", generation.CleanText("Nike 耐克 Air Max 97 球鞋"))
	assert.Equal(t, "ABC 123", generation.CleanText("ＡＢＣ １２３"))
	assert.Equal(t, "Кроссовки Nike", generation.CleanText("Кроссовки Nike【定制】"))
}
