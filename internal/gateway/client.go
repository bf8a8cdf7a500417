// Package gateway предоставляет HTTP-клиент серверного API dearlove.
package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/mmeshcher/dearlove-system/internal/model"
)

// APIError содержит сообщение об ошибке, возвращённое сервером.
// Текст показывается пользователю дословно.
type APIError struct {
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// Client инкапсулирует HTTP-взаимодействие с серверным API.
type Client struct {
	baseURL     string
	shareOrigin string
	sharePath   string
	httpClient  *retryablehttp.Client
}

// envelope — общий конверт ответов API: { success, data?, message? }.
// PayOS может вернуть checkoutUrl на верхнем уровне, а загрузка
// изображений возвращает url рядом с success.
type envelope struct {
	Success     bool            `json:"success"`
	Data        json.RawMessage `json:"data"`
	Message     string          `json:"message"`
	URL         string          `json:"url"`
	CheckoutURL string          `json:"checkoutUrl"`
}

// PaymentRequest описывает запрос на создание платёжной сессии.
type PaymentRequest struct {
	Amount        int64  `json:"amount"`
	Description   string `json:"description"`
	OrderCode     int64  `json:"orderCode"`
	UID           string `json:"uid"`
	CustomerEmail string `json:"customerEmail"`
	PaymentMethod string `json:"paymentMethod"`
}

// PaymentResult описывает результат создания платёжной сессии.
type PaymentResult struct {
	CheckoutURL     string
	IsExistingOrder bool
	OrderCode       string
}

// NewClient создаёт HTTP-клиент для обращения к серверному API по указанному адресу.
func NewClient(baseURL, shareOrigin, sharePath string, logger *zap.Logger) *Client {
	base := strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 30 * time.Second
	rc.Logger = leveledLogger{sugar: logger.Sugar()}

	return &Client{
		baseURL:     base,
		shareOrigin: strings.TrimRight(shareOrigin, "/"),
		sharePath:   sharePath,
		httpClient:  rc,
	}
}

// UploadImage загружает изображение в хранилище и возвращает публичный URL.
func (c *Client) UploadImage(ctx context.Context, base64Data, prefix string) (string, error) {
	body := map[string]string{"base64": base64Data, "prefix": prefix}

	env, err := c.post(ctx, "/api/r2/upload", body)
	if err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	if !env.Success {
		return "", fmt.Errorf("upload image: %w", apiError(env, "image upload failed"))
	}

	return env.URL, nil
}

// UploadPageImages загружает изображения страниц книги, указанные как
// data-URI или путь к локальному файлу, и подставляет вместо них
// публичные URL. Уже загруженные ссылки остаются без изменений.
func (c *Client) UploadPageImages(ctx context.Context, pages []model.Page) ([]model.Page, error) {
	updated := make([]model.Page, 0, len(pages))

	for i, page := range pages {
		img := page.Image

		switch {
		case img == "" || strings.HasPrefix(img, "http://") || strings.HasPrefix(img, "https://"):
			// уже ссылка, загружать нечего
		case strings.HasPrefix(img, "data:"):
			url, err := c.UploadImage(ctx, img, "birthday")
			if err != nil {
				return nil, fmt.Errorf("page %d: %w", i, err)
			}
			page.Image = url
		default:
			raw, err := os.ReadFile(img)
			if err != nil {
				return nil, fmt.Errorf("page %d: read image file: %w", i, err)
			}
			dataURI := "data:" + http.DetectContentType(raw) + ";base64," + base64.StdEncoding.EncodeToString(raw)
			url, err := c.UploadImage(ctx, dataURI, "birthday")
			if err != nil {
				return nil, fmt.Errorf("page %d: %w", i, err)
			}
			page.Image = url
		}

		updated = append(updated, page)
	}

	return updated, nil
}

// CreateWebsite создаёт запись поздравительного сайта и возвращает её идентификатор.
func (c *Client) CreateWebsite(ctx context.Context, settings model.Settings, status model.WebsiteStatus) (string, error) {
	body := map[string]any{"settings": settings, "status": status}

	env, err := c.post(ctx, "/api/birthday/birthday-websites", body)
	if err != nil {
		return "", fmt.Errorf("create website: %w", err)
	}
	if !env.Success {
		return "", fmt.Errorf("create website: %w", apiError(env, "website creation failed"))
	}

	var data struct {
		ID string `json:"_id"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return "", fmt.Errorf("create website: decode data: %w", err)
	}
	if data.ID == "" {
		return "", fmt.Errorf("create website: empty website id")
	}

	return data.ID, nil
}

// GetWebsite возвращает запись сайта по идентификатору из шаринг-ссылки.
func (c *Client) GetWebsite(ctx context.Context, websiteID string) (*model.Website, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/birthday/birthday-websites/website/"+websiteID, nil)
	if err != nil {
		return nil, fmt.Errorf("get website: create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get website: do request: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("get website: decode response: %w", err)
	}
	if !env.Success {
		return nil, fmt.Errorf("get website: %w", apiError(&env, "website not found"))
	}

	var site model.Website
	if err := json.Unmarshal(env.Data, &site); err != nil {
		return nil, fmt.Errorf("get website: decode data: %w", err)
	}

	return &site, nil
}

// CreateProduct создаёт запись о продукте для заказа.
func (c *Client) CreateProduct(ctx context.Context, product model.Product) error {
	env, err := c.post(ctx, "/api/products", product)
	if err != nil {
		return fmt.Errorf("create product: %w", err)
	}
	if !env.Success {
		return fmt.Errorf("create product: %w", apiError(env, "product creation failed"))
	}

	return nil
}

// ApplyVoucher применяет ваучер к заказу и возвращает процент скидки.
func (c *Client) ApplyVoucher(ctx context.Context, uid, code, orderCode string) (int, error) {
	body := map[string]string{"uid": uid, "code": code, "orderCode": orderCode}

	env, err := c.post(ctx, "/api/vouchers/apply", body)
	if err != nil {
		return 0, fmt.Errorf("apply voucher: %w", err)
	}
	if !env.Success {
		return 0, fmt.Errorf("apply voucher: %w", apiError(env, "voucher application failed"))
	}

	var data struct {
		DiscountPercent int `json:"discountPercent"`
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return 0, fmt.Errorf("apply voucher: decode data: %w", err)
		}
	}

	return data.DiscountPercent, nil
}

// CreatePayment создаёт платёжную сессию у провайдера. Сервер может
// вернуть ссылку на оплату как в data, так и на верхнем уровне, а при
// повторном коде заказа — код существующего заказа.
func (c *Client) CreatePayment(ctx context.Context, orderCode string, req PaymentRequest) (*PaymentResult, error) {
	code, err := strconv.ParseInt(orderCode, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("create payment: invalid order code %q: %w", orderCode, err)
	}
	req.OrderCode = code

	env, err := c.post(ctx, "/api/payment/create", req)
	if err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}
	if !env.Success {
		return nil, fmt.Errorf("create payment: %w", apiError(env, "payment creation failed"))
	}

	var data struct {
		CheckoutURL     string      `json:"checkoutUrl"`
		IsExistingOrder bool        `json:"isExistingOrder"`
		OrderCode       json.Number `json:"orderCode"`
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("create payment: decode data: %w", err)
		}
	}

	result := &PaymentResult{
		CheckoutURL:     data.CheckoutURL,
		IsExistingOrder: data.IsExistingOrder,
		OrderCode:       data.OrderCode.String(),
	}
	if result.CheckoutURL == "" {
		result.CheckoutURL = env.CheckoutURL
	}
	if result.OrderCode == "0" {
		result.OrderCode = ""
	}

	return result, nil
}

// ShareableURL возвращает шаринг-ссылку на созданный сайт.
func (c *Client) ShareableURL(websiteID string) string {
	return c.shareOrigin + c.sharePath + "?websiteId=" + websiteID
}

// post выполняет POST-запрос с JSON-телом и разбирает конверт ответа.
func (c *Client) post(ctx context.Context, path string, body any) (*envelope, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, raw)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &env, nil
}

// apiError преобразует неуспешный конверт в APIError, подставляя
// запасной текст при пустом message.
func apiError(env *envelope, fallback string) error {
	if env.Message != "" {
		return &APIError{Message: env.Message}
	}
	return &APIError{Message: fallback}
}

// leveledLogger адаптирует zap к интерфейсу логгера retryablehttp.
type leveledLogger struct {
	sugar *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, keysAndValues...)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(msg, keysAndValues...)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.sugar.Warnw(msg, keysAndValues...)
}
