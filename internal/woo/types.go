package woo

import "fmt"

// SyncSettings convert catalog prices (yuan) into store prices (rubles).
type SyncSettings struct {
	CurrencyRate float64 `json:"currency_rate"`
	MarkupRubles float64 `json:"markup_rubles"`
}

// PriceRub converts a yuan price using the configured rate and markup.
func (s SyncSettings) PriceRub(yuan float64) float64 {
	return yuan*s.CurrencyRate + s.MarkupRubles
}

// MetaEntry is one product meta_data record.
type MetaEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// StoreProduct is the subset of the store's product record the sync
// pipeline reads.
type StoreProduct struct {
	ID       int64       `json:"id"`
	Name     string      `json:"name"`
	SKU      string      `json:"sku"`
	MetaData []MetaEntry `json:"meta_data"`
}

// SpuIDMetaKey is the product meta key linking a store product back to
// its catalog SPU id.
const SpuIDMetaKey = "_poizon_spu_id"

// SpuID returns the catalog SPU id recorded on the product, or 0.
func (p *StoreProduct) SpuID() int64 {
	for _, m := range p.MetaData {
		if m.Key == SpuIDMetaKey {
			var id int64
			if _, err := fmt.Sscanf(m.Value, "%d", &id); err == nil {
				return id
			}
		}
	}
	return 0
}

// StoreVariation is one variation of a variable store product.
type StoreVariation struct {
	ID           int64  `json:"id"`
	SKU          string `json:"sku"`
	RegularPrice string `json:"regular_price"`
	StockQty     int    `json:"stock_quantity"`
}

// Media is one uploaded media item.
type Media struct {
	ID        int64  `json:"id"`
	SourceURL string `json:"source_url"`
}

type productAttribute struct {
	Name      string   `json:"name"`
	Visible   bool     `json:"visible"`
	Variation bool     `json:"variation"`
	Options   []string `json:"options"`
}

type productImage struct {
	Src string `json:"src"`
}

type variationAttribute struct {
	Name   string `json:"name"`
	Option string `json:"option"`
}

type variationPayload struct {
	ID            int64                `json:"id,omitempty"`
	SKU           string               `json:"sku,omitempty"`
	RegularPrice  string               `json:"regular_price,omitempty"`
	StockQuantity int                  `json:"stock_quantity"`
	ManageStock   bool                 `json:"manage_stock"`
	Attributes    []variationAttribute `json:"attributes,omitempty"`
}
