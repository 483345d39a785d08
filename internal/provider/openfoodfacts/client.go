// Package openfoodfacts looks up products by barcode in the Open Food
// Facts database, used to seed the catalog when a scanned barcode has
// no local binding yet.
package openfoodfacts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/apkuzmin/nutro-bot/internal/model"
)

const defaultBaseURL = "https://world.openfoodfacts.org"

// Lookup is a barcode hit: the product's display name and per-100g facts.
type Lookup struct {
	Name  string
	Brand string
	Facts model.Facts
}

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

type offResponse struct {
	Status  int `json:"status"`
	Product struct {
		ProductName string         `json:"product_name"`
		Brands      string         `json:"brands"`
		Nutriments  map[string]any `json:"nutriments"`
	} `json:"product"`
}

// nutrientValue reads a per-100g nutrient; Open Food Facts mixes
// numeric and string encodings across products.
func nutrientValue(nutriments map[string]any, key string) float64 {
	switch v := nutriments[key+"_100g"].(type) {
	case float64:
		return v
	case string:
		var f float64
		fmt.Sscanf(v, "%f", &f)
		return f
	default:
		return 0
	}
}

// LookupBarcode fetches the product behind a barcode. Nutrient values
// are the per-100g figures Open Food Facts reports.
func (c *Client) LookupBarcode(ctx context.Context, barcode string) (Lookup, error) {
	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 12 * time.Second}
	}
	url := fmt.Sprintf("%s/api/v2/product/%s.json", base, barcode)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Lookup{}, fmt.Errorf("create openfoodfacts request: %w", err)
	}
	req.Header.Set("User-Agent", "nutro-bot/1.0 (+https://github.com/apkuzmin/nutro-bot)")

	resp, err := httpClient.Do(req)
	if err != nil {
		return Lookup{}, fmt.Errorf("execute openfoodfacts request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Lookup{}, fmt.Errorf("read openfoodfacts response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Lookup{}, fmt.Errorf("openfoodfacts request failed with status %d", resp.StatusCode)
	}

	var parsed offResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Lookup{}, fmt.Errorf("decode openfoodfacts response: %w", err)
	}
	if parsed.Status != 1 || parsed.Product.ProductName == "" {
		return Lookup{}, fmt.Errorf("no openfoodfacts product found for barcode %q", barcode)
	}

	nutrients := parsed.Product.Nutriments
	return Lookup{
		Name:  strings.TrimSpace(parsed.Product.ProductName),
		Brand: strings.TrimSpace(parsed.Product.Brands),
		Facts: model.Facts{
			Kcal:    nutrientValue(nutrients, "energy-kcal"),
			Protein: nutrientValue(nutrients, "proteins"),
			Fat:     nutrientValue(nutrients, "fat"),
			Carbs:   nutrientValue(nutrients, "carbohydrates"),
		},
	}, nil
}
