package poizon

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Sale property names arrive in Chinese: 尺码 is size, 颜色 is color.
const (
	sizePropertyName  = "尺码"
	colorPropertyName = "颜色"
)

var bracketedPrefix = regexp.MustCompile(`【[^】]+】`)

// colorNames translates the common catalog color values to Russian.
// Unknown values pass through untranslated.
var colorNames = map[string]string{
	"黑": "Черный", "黑色": "Черный",
	"白": "Белый", "白色": "Белый",
	"灰": "Серый", "灰色": "Серый",
	"红": "Красный", "红色": "Красный",
	"蓝": "Синий", "蓝色": "Синий",
	"绿": "Зеленый", "绿色": "Зеленый",
	"黄": "Желтый", "黄色": "Желтый",
	"橙": "Оранжевый", "橙色": "Оранжевый",
	"粉": "Розовый", "粉色": "Розовый",
	"紫": "Фиолетовый", "紫色": "Фиолетовый",
	"棕": "Коричневый", "棕色": "Коричневый",
	"米色": "Бежевый",
	"银色": "Серебристый",
	"金色": "Золотой",
	"卡其": "Хаки", "卡其色": "Хаки",
	"军绿": "Хаки",
	"藏蓝": "Темно-синий", "深蓝": "Темно-синий",
	"浅蓝": "Голубой",
	"酒红": "Бордовый",
	"黑白": "Черно-белый", "黑白色": "Черно-белый",
	"红白": "Красно-белый",
	"蓝白": "Сине-белый",
	"黑红": "Черно-красный",
	"黑灰": "Черно-серый",
	"灰白": "Серо-белый",
	"粉白": "Розово-белый",
	"彩色": "Разноцветный",
	"多色": "Многоцветный",
}

// storeCategories maps catalog category names to store categories by
// keyword. First match wins; everything else lands in the default.
var storeCategories = []struct {
	keywords []string
	category string
}{
	{[]string{"кроссовки", "sneakers", "运动鞋", "板鞋", "跑步鞋"}, "Кроссовки"},
	{[]string{"куртка", "jacket", "夹克", "羽绒服"}, "Куртки"},
	{[]string{"футболка", "t-shirt", "短袖", "t恤"}, "Футболки"},
	{[]string{"толстовка", "hoodie", "卫衣", "连帽"}, "Толстовки"},
	{[]string{"брюки", "pants", "长裤", "裤"}, "Брюки"},
	{[]string{"шорты", "shorts", "短裤"}, "Шорты"},
	{[]string{"сумка", "bag", "包"}, "Сумки"},
}

const defaultStoreCategory = "Товары"

// StoreCategoryFor picks the store category for a catalog category name,
// falling back to keywords in the product title.
func StoreCategoryFor(categoryName, title string) string {
	haystack := strings.ToLower(categoryName + " " + title)
	for _, m := range storeCategories {
		for _, kw := range m.keywords {
			if strings.Contains(haystack, kw) {
				return m.category
			}
		}
	}
	return defaultStoreCategory
}

// CleanTitle strips the catalog's bracketed service prefixes
// (【定制球鞋】 and similar) from a product title.
func CleanTitle(title string) string {
	return strings.TrimSpace(bracketedPrefix.ReplaceAllString(title, ""))
}

// FullProduct joins the detail and price endpoints into one Product ready
// for the store pipeline: sizes and colors resolved from sale properties,
// prices converted to yuan, images grouped per color where the catalog
// provides the grouping.
func (c *Client) FullProduct(ctx context.Context, spuID int64) (*Product, error) {
	detail, err := c.productDetail(ctx, spuID)
	if err != nil {
		return nil, err
	}
	prices, err := c.PriceInfo(ctx, spuID)
	if err != nil {
		return nil, err
	}

	sizeByProp := make(map[int64]string)
	colorByProp := make(map[int64]string)
	for _, prop := range detail.SaleProperties.List {
		if prop.Value == "" || prop.PropertyValueID == 0 {
			continue
		}
		switch {
		case strings.Contains(prop.Name, sizePropertyName):
			sizeByProp[prop.PropertyValueID] = prop.Value
		case strings.Contains(prop.Name, colorPropertyName):
			colorByProp[prop.PropertyValueID] = prop.Value
		}
	}

	var images []string
	for _, img := range detail.Image.SpuImage.Images {
		if img.URL != "" {
			images = append(images, img.URL)
		}
	}
	imagesByColor := collectColorImages(detail, colorByProp, images)

	var variations []Variation
	for _, skuID := range sortedKeys(prices) {
		priceInfo := prices[skuID]

		var size, color string
		var colorProp int64
		for _, sku := range detail.Skus {
			if strconv.FormatInt(sku.SkuID, 10) != skuID {
				continue
			}
			for _, prop := range sku.Properties {
				if v, ok := sizeByProp[prop.PropertyValueID]; ok {
					size = v
				}
				if v, ok := colorByProp[prop.PropertyValueID]; ok {
					color = v
					colorProp = prop.PropertyValueID
				}
			}
			break
		}
		if size == "" {
			// No property match; the SKU id still identifies the variation.
			c.logger.Warn("size not resolved for sku, using sku id", "spu_id", spuID, "sku_id", skuID)
			size = skuID
		}

		v := Variation{
			SKUID: skuID,
			Size:  size,
			Price: priceInfo.Price,
			Stock: priceInfo.Stock,
		}
		if color != "" {
			if ru, ok := colorNames[color]; ok {
				v.Color = ru
			} else {
				v.Color = color
			}
		}
		if imgs, ok := imagesByColor[colorProp]; ok {
			v.Images = imgs
		}
		variations = append(variations, v)
	}

	attributes := make(map[string]string)
	for _, prop := range detail.SaleProperties.List {
		if prop.Name == "" || prop.Value == "" || strings.Contains(prop.Name, sizePropertyName) {
			continue
		}
		attributes[prop.Name] = prop.Value
	}
	for _, prop := range detail.BaseProperties.List {
		if prop.Key == "" || prop.Value == "" {
			continue
		}
		if _, exists := attributes[prop.Key]; !exists {
			attributes[prop.Key] = prop.Value
		}
	}

	brand := resolveBrand(detail)
	category := detail.Detail.CategoryName

	return &Product{
		SpuID:         detail.Detail.SpuID,
		Title:         detail.Detail.Title,
		ArticleNumber: detail.Detail.ArticleNumber,
		Brand:         brand,
		Category:      category,
		StoreCategory: StoreCategoryFor(category, detail.Detail.Title),
		Description:   detail.Detail.Desc,
		Images:        images,
		Variations:    variations,
		Attributes:    attributes,
	}, nil
}

// collectColorImages extracts per-color image lists. When the catalog
// does not group them, the flat image list is split evenly across colors.
func collectColorImages(detail *detailResponse, colorByProp map[int64]string, images []string) map[int64][]string {
	out := make(map[int64][]string)
	for propIDStr, imgs := range detail.Image.SpuImage.ColorBlockImages {
		propID, err := strconv.ParseInt(propIDStr, 10, 64)
		if err != nil {
			continue
		}
		var urls []string
		for _, img := range imgs {
			if img.URL != "" {
				urls = append(urls, img.URL)
			}
		}
		if len(urls) > 0 {
			out[propID] = urls
		}
	}
	if len(out) > 0 || len(colorByProp) == 0 || len(images) == 0 {
		return out
	}

	perColor := len(images) / len(colorByProp)
	if perColor == 0 {
		return out
	}
	colorIDs := make([]int64, 0, len(colorByProp))
	for id := range colorByProp {
		colorIDs = append(colorIDs, id)
	}
	sort.Slice(colorIDs, func(i, j int) bool { return colorIDs[i] < colorIDs[j] })
	for i, id := range colorIDs {
		start := i * perColor
		out[id] = images[start : start+perColor]
	}
	return out
}

func resolveBrand(detail *detailResponse) string {
	for _, item := range detail.BrandRootInfo.BrandItemList {
		if item.BrandName != "" {
			return item.BrandName
		}
		if item.ShowName != "" {
			return item.ShowName
		}
	}
	if detail.Detail.BrandName != "" {
		return detail.Detail.BrandName
	}
	if cleaned := CleanTitle(detail.Detail.Title); cleaned != "" {
		return strings.Fields(cleaned)[0]
	}
	return "Unknown"
}

func sortedKeys(m map[string]SKUPrice) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
