package poizon

// Brand is one catalog brand entry.
type Brand struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Category is one catalog category. Level 1 entries are top-level.
type Category struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Level int    `json:"level"`
}

// SearchResult is one row from a keyword search.
type SearchResult struct {
	SpuID         int64  `json:"spuId"`
	Title         string `json:"title"`
	ArticleNumber string `json:"articleNumber"`
	LogoURL       string `json:"logoUrl"`
}

// SKUPrice is the current price and stock for one SKU. Price is in yuan;
// the API reports fen and the client divides by 100.
type SKUPrice struct {
	Price float64 `json:"price"`
	Stock int     `json:"stock"`
}

// Variation is one purchasable size/color combination of a product.
type Variation struct {
	SKUID  string   `json:"sku_id"`
	Size   string   `json:"size"`
	Color  string   `json:"color,omitempty"`
	Price  float64  `json:"price"`
	Stock  int      `json:"stock"`
	Images []string `json:"images,omitempty"`
}

// Product is the assembled catalog product, joined from the detail and
// price endpoints and ready for the store sync pipeline.
type Product struct {
	SpuID         int64             `json:"spu_id"`
	Title         string            `json:"title"`
	ArticleNumber string            `json:"article_number"`
	Brand         string            `json:"brand"`
	Category      string            `json:"category"`
	StoreCategory string            `json:"store_category"`
	Description   string            `json:"description"`
	Images        []string          `json:"images"`
	Variations    []Variation       `json:"variations"`
	Attributes    map[string]string `json:"attributes"`
}

// Wire shapes for the upstream API.

type brandsResponse struct {
	Data []Brand `json:"data"`
}

type searchResponse struct {
	ProductList []SearchResult `json:"productList"`
	List        []SearchResult `json:"list"`
}

type priceInfoResponse struct {
	Skus map[string]struct {
		Prices []struct {
			Price float64 `json:"price"`
		} `json:"prices"`
		Quantity int `json:"quantity"`
	} `json:"skus"`
}

type saleProperty struct {
	Name            string `json:"name"`
	Value           string `json:"value"`
	PropertyValueID int64  `json:"propertyValueId"`
}

type detailResponse struct {
	Detail struct {
		SpuID         int64  `json:"spuId"`
		Title         string `json:"title"`
		ArticleNumber string `json:"articleNumber"`
		BrandName     string `json:"brandName"`
		CategoryName  string `json:"categoryName"`
		Desc          string `json:"desc"`
	} `json:"detail"`
	Skus []struct {
		SkuID      int64 `json:"skuId"`
		Properties []struct {
			PropertyValueID int64 `json:"propertyValueId"`
		} `json:"properties"`
	} `json:"skus"`
	Image struct {
		SpuImage struct {
			Images []struct {
				URL string `json:"url"`
			} `json:"images"`
			ColorBlockImages map[string][]struct {
				URL string `json:"url"`
			} `json:"colorBlockImages"`
		} `json:"spuImage"`
	} `json:"image"`
	BrandRootInfo struct {
		BrandItemList []struct {
			BrandName string `json:"brandName"`
			ShowName  string `json:"showName"`
		} `json:"brandItemList"`
	} `json:"brandRootInfo"`
	SaleProperties struct {
		List []saleProperty `json:"list"`
	} `json:"saleProperties"`
	BaseProperties struct {
		List []struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		} `json:"list"`
	} `json:"baseProperties"`
}
