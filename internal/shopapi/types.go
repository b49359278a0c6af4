package shopapi

import "fmt"

type Product struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Price       float64  `json:"price"`
	Category    string   `json:"category"`
	ImageURL    string   `json:"image_url,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Stock       int      `json:"stock,omitempty"`
	Rating      float64  `json:"rating,omitempty"`
}

// ChatResponse is the assistant's answer to one message.
type ChatResponse struct {
	Response    string       `json:"response"`
	History     []ChatTurn   `json:"conversation_history,omitempty"`
	ShopResults []ShopResult `json:"walmart_results,omitempty"`
	WebResults  []WebResult  `json:"web_results,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

type ChatTurn struct {
	Role      string `json:"role"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp,omitempty"`
}

// ShopResult is a retailer listing surfaced alongside a chat answer. It is
// scraped text, so price and rating are kept as the backend renders them
// ("$89.99", "4.5/5").
type ShopResult struct {
	Name   string `json:"name"`
	Price  string `json:"price,omitempty"`
	Rating string `json:"rating,omitempty"`
	Link   string `json:"link,omitempty"`
	Source string `json:"source,omitempty"`
}

type WebResult struct {
	Title   string `json:"title"`
	URL     string `json:"url,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// SearchQuery filters a product search. Zero fields are omitted.
type SearchQuery struct {
	Text     string
	Category string
	MaxPrice float64
}

type SearchResult struct {
	Products   []Product `json:"products"`
	TotalCount int       `json:"total_count"`
	Query      string    `json:"query"`
}

type ImageSearchResult struct {
	Products           []Product `json:"products"`
	Confidence         float64   `json:"confidence"`
	RecognizedCategory string    `json:"recognized_category"`
}

type Recommendations struct {
	Products []Product `json:"products"`
	Type     string    `json:"type"`
}

type CartItem struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	ImageURL string  `json:"image_url,omitempty"`
	Quantity int     `json:"quantity"`
	AddedAt  string  `json:"added_at,omitempty"`
}

type Cart struct {
	Items      []CartItem `json:"items"`
	TotalPrice float64    `json:"total_price"`
	ItemCount  int        `json:"item_count"`
}

// CartAck is returned by cart mutations.
type CartAck struct {
	Message   string `json:"message"`
	CartItems int    `json:"cart_items,omitempty"`
}

// APIError is a non-2xx answer from the shopping API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("shop api returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("shop api returned status %d: %s", e.StatusCode, e.Message)
}
