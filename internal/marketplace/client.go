package marketplace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/arlan/demping-bot/internal/domain"
)

// Client клиент API маркетплейса. API маркетплейса — дефицитный ресурс
// с жесткими лимитами, поэтому все запросы проходят через общий rate limiter
type Client struct {
	merchantID string
	apiToken   string
	baseURL    string
	client     *http.Client
	limiter    *rate.Limiter
}

// APIError ошибка уровня API маркетплейса
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("marketplace API error: status=%d code=%d message=%s", e.StatusCode, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return domain.ErrMarketplaceAPI
}

// IsTransient сообщает, имеет ли смысл повторять запрос.
// Сетевые ошибки и 5xx/429 — временные, бизнес-отказы API — нет
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
	}
	return !errors.Is(err, domain.ErrMarketplaceAPI)
}

type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type offersData struct {
	OurPrice       int64  `json:"our_price"`
	OurPosition    int    `json:"our_position"`
	ListingPending bool   `json:"listing_pending"`
	Offers         []struct {
		MerchantID    string `json:"merchant_id"`
		Price         int64  `json:"price"`
		DeliveryClass string `json:"delivery_class"`
	} `json:"offers"`
}

type pickupPointsData struct {
	Points []struct {
		ID       string `json:"id"`
		CityID   string `json:"city_id"`
		CityName string `json:"city_name"`
		Enabled  bool   `json:"enabled"`
	} `json:"points"`
}

type productData struct {
	Price          int64 `json:"price"`
	MinProfitPrice int64 `json:"min_profit_price"`
}

// NewClient создает клиент API маркетплейса с лимитом запросов в секунду
func NewClient(merchantID, apiToken, baseURL string, rps float64) *Client {
	return &Client{
		merchantID: merchantID,
		apiToken:   apiToken,
		baseURL:    baseURL,
		client:     &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// FetchOffers получает срез предложений конкурентов по товару в сегменте.
// Исключенные продавцы вырезаются здесь, до оценки стратегии, а не после
func (c *Client) FetchOffers(ctx context.Context, productID, cityID string, excludedMerchants []string, deliveryFilter string) (*domain.CompetitorSnapshot, error) {
	params := url.Values{}
	params.Set("product_id", productID)
	if cityID != "" {
		params.Set("city_id", cityID)
	}
	if deliveryFilter != "" {
		params.Set("delivery_filter", deliveryFilter)
	}

	var data offersData
	if err := c.doGet(ctx, "/v1/offers", params, &data); err != nil {
		return nil, fmt.Errorf("fetch offers for %s/%s: %w", productID, cityID, err)
	}

	excluded := make(map[string]bool, len(excludedMerchants)+1)
	excluded[c.merchantID] = true // собственное предложение не конкурент
	for _, id := range excludedMerchants {
		excluded[id] = true
	}

	snapshot := &domain.CompetitorSnapshot{
		OurPrice:       data.OurPrice,
		OurPosition:    data.OurPosition,
		ListingPending: data.ListingPending,
		FetchedAt:      time.Now(),
	}
	for _, o := range data.Offers {
		if excluded[o.MerchantID] {
			continue
		}
		snapshot.Offers = append(snapshot.Offers, domain.CompetitorOffer{
			MerchantID:    o.MerchantID,
			Price:         o.Price,
			DeliveryClass: o.DeliveryClass,
		})
	}

	return snapshot, nil
}

// SetPrice устанавливает цену товара в сегменте
func (c *Client) SetPrice(ctx context.Context, productID, cityID string, price int64) error {
	payload := map[string]interface{}{
		"merchant_id": c.merchantID,
		"product_id":  productID,
		"price":       price,
	}
	if cityID != "" {
		payload["city_id"] = cityID
	}

	if err := c.doPost(ctx, "/v1/price", payload); err != nil {
		return fmt.Errorf("set price %d for %s/%s: %w", price, productID, cityID, err)
	}
	return nil
}

// GetPickupPoints возвращает точки выдачи магазина с привязкой к городам
func (c *Client) GetPickupPoints(ctx context.Context, productID string) ([]domain.PickupPoint, error) {
	params := url.Values{}
	params.Set("merchant_id", c.merchantID)
	params.Set("product_id", productID)

	var data pickupPointsData
	if err := c.doGet(ctx, "/v1/pickup-points", params, &data); err != nil {
		return nil, fmt.Errorf("get pickup points for %s: %w", productID, err)
	}

	points := make([]domain.PickupPoint, 0, len(data.Points))
	for _, p := range data.Points {
		points = append(points, domain.PickupPoint{
			ID:       p.ID,
			CityID:   p.CityID,
			CityName: p.CityName,
			Enabled:  p.Enabled,
		})
	}
	return points, nil
}

// GetCurrentPrice возвращает текущую цену нашего предложения
func (c *Client) GetCurrentPrice(ctx context.Context, productID string) (int64, error) {
	data, err := c.getProduct(ctx, productID)
	if err != nil {
		return 0, err
	}
	return data.Price, nil
}

// GetMinProfitFloor возвращает минимальную цену, сохраняющую маржу
func (c *Client) GetMinProfitFloor(ctx context.Context, productID string) (int64, error) {
	data, err := c.getProduct(ctx, productID)
	if err != nil {
		return 0, err
	}
	return data.MinProfitPrice, nil
}

func (c *Client) getProduct(ctx context.Context, productID string) (*productData, error) {
	params := url.Values{}
	params.Set("merchant_id", c.merchantID)
	params.Set("product_id", productID)

	var data productData
	if err := c.doGet(ctx, "/v1/product", params, &data); err != nil {
		return nil, fmt.Errorf("get product %s: %w", productID, err)
	}
	return &data, nil
}

func (c *Client) doGet(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, endpoint, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setAuthHeaders(req)

	return c.execute(req, out)
}

func (c *Client) doPost(ctx context.Context, endpoint string, payload map[string]interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuthHeaders(req)

	return c.execute(req, nil)
}

func (c *Client) execute(req *http.Request, out interface{}) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || envelope.Code != 0 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Code:       envelope.Code,
			Message:    strings.TrimSpace(envelope.Message),
		}
	}

	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to unmarshal data: %w", err)
		}
	}
	return nil
}

func (c *Client) setAuthHeaders(req *http.Request) {
	req.Header.Set("X-Merchant-ID", c.merchantID)
	req.Header.Set("X-Auth-Token", c.apiToken)
}
