package shopapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/api/", time.Second)
}

func TestChat(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/chat" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["message"] != "show me running shoes" {
			t.Errorf("unexpected message %q", body["message"])
		}
		_, _ = io.WriteString(w, `{
			"response": "Here are some headphones",
			"conversation_history": [{"role": "user", "message": "show me running shoes", "timestamp": "2024-05-01T10:00:00"}],
			"walmart_results": [{"name": "Sony WH-CH720N Wireless Headphones", "price": "$89.99", "rating": "4.5/5", "link": "https://www.walmart.com/sony-headphones", "source": "Walmart (Mock)"}],
			"web_results": [{"title": "Best headphones", "snippet": "Our picks", "url": "https://example.com"}],
			"timestamp": "2024-05-01T10:00:01"
		}`)
	})

	resp, err := c.Chat(context.Background(), "show me running shoes")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Response != "Here are some headphones" || len(resp.ShopResults) != 1 || len(resp.WebResults) != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	got := resp.ShopResults[0]
	if got.Name != "Sony WH-CH720N Wireless Headphones" || got.Price != "$89.99" || got.Rating != "4.5/5" || got.Source != "Walmart (Mock)" {
		t.Fatalf("unexpected shop result: %+v", got)
	}
}

func TestUpdateCartSendsZeroQuantity(t *testing.T) {
	var body map[string]any
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		_, _ = io.WriteString(w, `{"message":"Cart updated successfully"}`)
	})

	if _, err := c.UpdateCart(context.Background(), "prod_001", 0); err != nil {
		t.Fatalf("update: %v", err)
	}
	q, ok := body["quantity"]
	if !ok || q != float64(0) || body["product_id"] != "prod_001" {
		t.Fatalf("unexpected update payload: %v", body)
	}
}

func TestSearchProductsEncodesFilters(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("q") != "wireless headphones" || q.Get("category") != "Electronics" || q.Get("max_price") != "5000" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		_, _ = io.WriteString(w, `{"products":[{"id":"prod_001","name":"Sony WH-CH720N Wireless Headphones","price":2999,"category":"Electronics","tags":["bluetooth"],"rating":4.5}],"total_count":1,"query":"wireless headphones"}`)
	})

	res, err := c.SearchProducts(context.Background(), SearchQuery{Text: "wireless headphones", Category: "Electronics", MaxPrice: 5000})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.TotalCount != 1 || res.Products[0].ID != "prod_001" || res.Products[0].Price != 2999 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestImageSearchSendsMultipart(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("image")
		if err != nil {
			t.Errorf("form file: %v", err)
			http.Error(w, `{"error":"No image file provided"}`, http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if header.Filename != "shoe.jpg" || string(data) != "jpegbytes" {
			t.Errorf("unexpected upload %s %q", header.Filename, data)
		}
		_, _ = io.WriteString(w, `{"products":[],"confidence":0.87,"recognized_category":"Electronics"}`)
	})

	res, err := c.ImageSearch(context.Background(), "shoe.jpg", strings.NewReader("jpegbytes"))
	if err != nil {
		t.Fatalf("image search: %v", err)
	}
	if res.RecognizedCategory != "Electronics" || res.Confidence != 0.87 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestCartOperations(t *testing.T) {
	var paths []string
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		switch r.URL.Path {
		case "/api/cart":
			_, _ = io.WriteString(w, `{"items":[{"id":"prod_003","name":"Apple iPhone 15","price":79999,"quantity":2}],"total_price":159998,"item_count":1}`)
		case "/api/cart/add":
			var change cartChange
			_ = json.NewDecoder(r.Body).Decode(&change)
			if change.ProductID != "prod_003" || change.Quantity != 2 {
				t.Errorf("unexpected add payload %+v", change)
			}
			_, _ = io.WriteString(w, `{"message":"Added Apple iPhone 15 to cart","cart_items":1}`)
		default:
			_, _ = io.WriteString(w, `{"message":"ok"}`)
		}
	})
	ctx := context.Background()

	ack, err := c.AddToCart(ctx, "prod_003", 2)
	if err != nil || ack.CartItems != 1 {
		t.Fatalf("add: %+v %v", ack, err)
	}
	cart, err := c.Cart(ctx)
	if err != nil || cart.TotalPrice != 159998 || cart.Items[0].Quantity != 2 {
		t.Fatalf("cart: %+v %v", cart, err)
	}
	if _, err := c.UpdateCart(ctx, "prod_003", 1); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := c.RemoveFromCart(ctx, "prod_003"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := c.ClearCart(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}

	want := []string{"POST /api/cart/add", "GET /api/cart", "POST /api/cart/update", "POST /api/cart/remove", "POST /api/cart/clear"}
	if strings.Join(paths, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected calls: %v", paths)
	}
}

func TestAPIErrorCarriesMessage(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":"Product not found"}`)
	})

	_, err := c.AddToCart(context.Background(), "prod_999", 1)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Message != "Product not found" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}
