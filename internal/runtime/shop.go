package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/loqalabs/loqa-voice/internal/shopapi"
)

const maxImageUpload = 10 << 20

// shopAPI is the catalogue and cart surface proxied to the shopping backend.
type shopAPI interface {
	SearchProducts(ctx context.Context, q shopapi.SearchQuery) (shopapi.SearchResult, error)
	ImageSearch(ctx context.Context, filename string, image io.Reader) (shopapi.ImageSearchResult, error)
	Recommendations(ctx context.Context) (shopapi.Recommendations, error)
	Cart(ctx context.Context) (shopapi.Cart, error)
	AddToCart(ctx context.Context, productID string, quantity int) (shopapi.CartAck, error)
	UpdateCart(ctx context.Context, productID string, quantity int) (shopapi.CartAck, error)
	RemoveFromCart(ctx context.Context, productID string) (shopapi.CartAck, error)
	ClearCart(ctx context.Context) (shopapi.CartAck, error)
}

func mountShop(mux *http.ServeMux, shop shopAPI, logger *slog.Logger) {
	h := &shopHandlers{shop: shop, log: logger}
	mux.HandleFunc("GET /v1/shop/products/search", h.search)
	mux.HandleFunc("POST /v1/shop/products/image-search", h.imageSearch)
	mux.HandleFunc("GET /v1/shop/products/recommendations", h.recommendations)
	mux.HandleFunc("GET /v1/shop/cart", h.cart)
	mux.HandleFunc("POST /v1/shop/cart/add", h.cartChange(shop.AddToCart))
	mux.HandleFunc("POST /v1/shop/cart/update", h.cartChange(shop.UpdateCart))
	mux.HandleFunc("POST /v1/shop/cart/remove", h.cartRemove)
	mux.HandleFunc("POST /v1/shop/cart/clear", h.cartClear)
}

type shopHandlers struct {
	shop shopAPI
	log  *slog.Logger
}

type cartRequest struct {
	ProductID string `json:"product_id"`
	Quantity  *int   `json:"quantity"`
}

func (h *shopHandlers) search(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	query := shopapi.SearchQuery{Text: q.Get("q"), Category: q.Get("category")}
	if raw := q.Get("max_price"); raw != "" {
		price, err := strconv.ParseFloat(raw, 64)
		if err != nil || price < 0 {
			h.fail(w, http.StatusBadRequest, "invalid max_price")
			return
		}
		query.MaxPrice = price
	}
	res, err := h.shop.SearchProducts(req.Context(), query)
	h.reply(w, "product search", res, err)
}

func (h *shopHandlers) imageSearch(w http.ResponseWriter, req *http.Request) {
	req.Body = http.MaxBytesReader(w, req.Body, maxImageUpload)
	file, header, err := req.FormFile("image")
	if err != nil {
		h.fail(w, http.StatusBadRequest, "No image file provided")
		return
	}
	defer file.Close()
	res, err := h.shop.ImageSearch(req.Context(), header.Filename, file)
	h.reply(w, "image search", res, err)
}

func (h *shopHandlers) recommendations(w http.ResponseWriter, req *http.Request) {
	res, err := h.shop.Recommendations(req.Context())
	h.reply(w, "recommendations", res, err)
}

func (h *shopHandlers) cart(w http.ResponseWriter, req *http.Request) {
	res, err := h.shop.Cart(req.Context())
	h.reply(w, "cart", res, err)
}

func (h *shopHandlers) cartChange(op func(context.Context, string, int) (shopapi.CartAck, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		body, ok := h.decodeCart(w, req)
		if !ok {
			return
		}
		quantity := 1
		if body.Quantity != nil {
			quantity = *body.Quantity
		}
		if quantity < 0 {
			h.fail(w, http.StatusBadRequest, "quantity must not be negative")
			return
		}
		ack, err := op(req.Context(), body.ProductID, quantity)
		h.reply(w, "cart change", ack, err)
	}
}

func (h *shopHandlers) cartRemove(w http.ResponseWriter, req *http.Request) {
	body, ok := h.decodeCart(w, req)
	if !ok {
		return
	}
	ack, err := h.shop.RemoveFromCart(req.Context(), body.ProductID)
	h.reply(w, "cart remove", ack, err)
}

func (h *shopHandlers) cartClear(w http.ResponseWriter, req *http.Request) {
	ack, err := h.shop.ClearCart(req.Context())
	h.reply(w, "cart clear", ack, err)
}

func (h *shopHandlers) decodeCart(w http.ResponseWriter, req *http.Request) (cartRequest, bool) {
	var body cartRequest
	if err := json.NewDecoder(io.LimitReader(req.Body, 64*1024)).Decode(&body); err != nil {
		h.fail(w, http.StatusBadRequest, "invalid request body")
		return body, false
	}
	body.ProductID = strings.TrimSpace(body.ProductID)
	if body.ProductID == "" {
		h.fail(w, http.StatusBadRequest, "product_id is required")
		return body, false
	}
	return body, true
}

// reply writes v, or maps err onto the backend's status when it answered
// and onto 502 when it could not be reached.
func (h *shopHandlers) reply(w http.ResponseWriter, op string, v any, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, v, h.log)
		return
	}
	var apiErr *shopapi.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(apiErr.StatusCode)
		}
		h.fail(w, apiErr.StatusCode, msg)
		return
	}
	h.log.Warn("shop request failed", slog.String("op", op), slog.String("error", err.Error()))
	h.fail(w, http.StatusBadGateway, "shop backend unavailable")
}

func (h *shopHandlers) fail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg}, h.log)
}
