// Package provider предоставляет клиент для внешней системы выполнения заказов.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/mmeshcher/smm-engine/internal/model"
)

// ErrNotConfigured возвращается при обращении к клиенту без адреса API.
var ErrNotConfigured = errors.New("provider client not configured")

// Client инкапсулирует HTTP-взаимодействие с панелью провайдера.
// Идемпотентные чтения (список услуг, статус заказа) идут через клиент
// с повторами; создание заказа выполняется без автоматических повторов,
// поскольку вызов не идемпотентен.
type Client struct {
	baseURL     string
	apiKey      string
	readClient  *retryablehttp.Client
	writeClient *http.Client
}

// Service описывает одну услугу в ответе провайдера.
type Service struct {
	ID       int64  `json:"service"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Rate     string `json:"rate"`
	Min      int    `json:"min"`
	Max      int    `json:"max"`
}

// OrderStatus описывает ответ провайдера о состоянии заказа.
type OrderStatus struct {
	Status     string `json:"status"`
	Remains    string `json:"remains"`
	StartCount string `json:"start_count"`
	Charge     string `json:"charge"`
	Error      string `json:"error"`
}

// NewClient создаёт клиент провайдера по указанному адресу API.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = timeout
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		readClient: rc,
		writeClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Configured сообщает, задан ли адрес API провайдера.
func (c *Client) Configured() bool {
	return c != nil && c.baseURL != ""
}

func (c *Client) endpoint() string {
	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}
	return base + "/api/v2"
}

// Services запрашивает список услуг провайдера и переводит тарифы
// из десятичной записи за 1000 единиц в сотые доли.
func (c *Client) Services(ctx context.Context) ([]model.CatalogItem, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	form := url.Values{
		"key":    {c.apiKey},
		"action": {"services"},
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.readClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var services []Service
	if err := json.NewDecoder(resp.Body).Decode(&services); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	items := make([]model.CatalogItem, 0, len(services))
	for _, s := range services {
		rate, err := parseRate(s.Rate)
		if err != nil {
			continue
		}
		items = append(items, model.CatalogItem{
			ServiceID: s.ID,
			Name:      s.Name,
			Category:  s.Category,
			Rate:      rate,
			Min:       s.Min,
			Max:       s.Max,
		})
	}

	return items, nil
}

type addOrderResponse struct {
	Order json.Number `json:"order"`
	Error string      `json:"error"`
}

// AddOrder создаёт заказ у провайдера и возвращает его идентификатор.
// Вызов выполняется ровно один раз: таймаут или сетевая ошибка трактуются
// как неуспех без повтора.
func (c *Client) AddOrder(ctx context.Context, serviceID int64, link string, quantity int) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	form := url.Values{
		"key":      {c.apiKey},
		"action":   {"add"},
		"service":  {strconv.FormatInt(serviceID, 10)},
		"link":     {link},
		"quantity": {strconv.Itoa(quantity)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.writeClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result addOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if result.Error != "" {
		return "", fmt.Errorf("provider error: %s", result.Error)
	}

	id := result.Order.String()
	if id == "" {
		return "", errors.New("provider returned no order id")
	}

	return id, nil
}

// Status запрашивает состояние заказа у провайдера.
func (c *Client) Status(ctx context.Context, orderID string) (*OrderStatus, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	form := url.Values{
		"key":    {c.apiKey},
		"action": {"status"},
		"order":  {orderID},
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.readClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result OrderStatus
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if result.Error != "" {
		return nil, fmt.Errorf("provider error: %s", result.Error)
	}

	return &result, nil
}

func parseRate(raw string) (int64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, fmt.Errorf("bad rate %q", raw)
	}
	return int64(math.Round(v * 100)), nil
}
