package shopapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to the remote shopping API.
type Client struct {
	endpoint string
	http     *http.Client
}

func New(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     &http.Client{Timeout: timeout},
	}
}

// Chat sends one user message to the assistant.
func (c *Client) Chat(ctx context.Context, message string) (ChatResponse, error) {
	var resp ChatResponse
	err := c.doJSON(ctx, http.MethodPost, "/chat", map[string]string{"message": message}, &resp)
	return resp, err
}

func (c *Client) SearchProducts(ctx context.Context, q SearchQuery) (SearchResult, error) {
	params := url.Values{}
	params.Set("q", q.Text)
	if q.Category != "" {
		params.Set("category", q.Category)
	}
	if q.MaxPrice > 0 {
		params.Set("max_price", strconv.FormatFloat(q.MaxPrice, 'f', -1, 64))
	}
	var resp SearchResult
	err := c.doJSON(ctx, http.MethodGet, "/products/search?"+params.Encode(), nil, &resp)
	return resp, err
}

// ImageSearch uploads an image and returns visually similar products.
func (c *Client) ImageSearch(ctx context.Context, filename string, image io.Reader) (ImageSearchResult, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("image", filename)
	if err != nil {
		return ImageSearchResult{}, err
	}
	if _, err := io.Copy(part, image); err != nil {
		return ImageSearchResult{}, fmt.Errorf("read image: %w", err)
	}
	if err := form.Close(); err != nil {
		return ImageSearchResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/products/image-search", &body)
	if err != nil {
		return ImageSearchResult{}, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	var resp ImageSearchResult
	err = c.do(req, &resp)
	return resp, err
}

func (c *Client) Recommendations(ctx context.Context) (Recommendations, error) {
	var resp Recommendations
	err := c.doJSON(ctx, http.MethodGet, "/products/recommendations", nil, &resp)
	return resp, err
}

func (c *Client) Cart(ctx context.Context) (Cart, error) {
	var resp Cart
	err := c.doJSON(ctx, http.MethodGet, "/cart", nil, &resp)
	return resp, err
}

type cartChange struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type cartRemoval struct {
	ProductID string `json:"product_id"`
}

// AddToCart adds quantity units of a product. A non-positive quantity adds one.
func (c *Client) AddToCart(ctx context.Context, productID string, quantity int) (CartAck, error) {
	if quantity <= 0 {
		quantity = 1
	}
	return c.cartOp(ctx, "/cart/add", cartChange{ProductID: productID, Quantity: quantity})
}

// UpdateCart sets the quantity of a product already in the cart. Zero is sent as-is.
func (c *Client) UpdateCart(ctx context.Context, productID string, quantity int) (CartAck, error) {
	return c.cartOp(ctx, "/cart/update", cartChange{ProductID: productID, Quantity: quantity})
}

func (c *Client) RemoveFromCart(ctx context.Context, productID string) (CartAck, error) {
	return c.cartOp(ctx, "/cart/remove", cartRemoval{ProductID: productID})
}

func (c *Client) ClearCart(ctx context.Context) (CartAck, error) {
	return c.cartOp(ctx, "/cart/clear", struct{}{})
}

func (c *Client) cartOp(ctx context.Context, path string, payload any) (CartAck, error) {
	var resp CartAck
	err := c.doJSON(ctx, http.MethodPost, path, payload, &resp)
	return resp, err
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var failure struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if json.Unmarshal(data, &failure) == nil {
			apiErr.Message = failure.Error
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
