package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"okx-trader/internal/config"
	"okx-trader/internal/errors"
	"okx-trader/internal/models"
)

const defaultBaseURL = "https://www.okx.com"

// OKXClient implements Client against the OKX v5 REST API.
type OKXClient struct {
	apiKey     string
	secretKey  string
	passphrase string
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

// NewOKXClient creates an OKX REST client.
func NewOKXClient(creds config.ExchangeCredentials) *OKXClient {
	baseURL := creds.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &OKXClient{
		apiKey:     creds.APIKey,
		secretKey:  creds.SecretKey,
		passphrase: creds.Passphrase,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

// apiResponse is the OKX v5 envelope: code "0" means success.
type apiResponse struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// sign produces the OK-ACCESS-SIGN header value.
func (c *OKXClient) sign(timestamp, method, path, body string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(timestamp + method + path + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *OKXClient) do(ctx context.Context, method, path string, query url.Values, payload interface{}, out interface{}) error {
	fullPath := path
	if len(query) > 0 {
		fullPath = path + "?" + query.Encode()
	}

	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+fullPath, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "build request")
	}

	timestamp := c.now().UTC().Format("2006-01-02T15:04:05.000Z")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("OK-ACCESS-KEY", c.apiKey)
	req.Header.Set("OK-ACCESS-SIGN", c.sign(timestamp, method, fullPath, string(body)))
	req.Header.Set("OK-ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("OK-ACCESS-PASSPHRASE", c.passphrase)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.NewExchangeError(errors.Classify(err), "", "request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.NewExchangeError(errors.ClassNetwork, "", "read response", err)
	}

	if resp.StatusCode >= 400 {
		return errors.NewExchangeError(classifyHTTP(resp.StatusCode), strconv.Itoa(resp.StatusCode), string(raw), nil)
	}

	var envelope apiResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return errors.NewExchangeError(errors.ClassServer, "", "decode response", err)
	}
	if envelope.Code != "0" {
		return errors.NewExchangeError(classifyOKXCode(envelope.Code), envelope.Code, envelope.Msg, nil)
	}

	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return errors.NewExchangeError(errors.ClassServer, "", "decode data", err)
		}
	}
	return nil
}

func classifyHTTP(status int) errors.ErrorClass {
	switch {
	case status == http.StatusTooManyRequests:
		return errors.ClassRateLimit
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return errors.ClassAuth
	case status >= 500:
		return errors.ClassServer
	default:
		return errors.ClassValidation
	}
}

// classifyOKXCode maps OKX v5 business codes onto error classes.
func classifyOKXCode(code string) errors.ErrorClass {
	switch code {
	case "50011", "50013", "50026":
		return errors.ClassRateLimit
	case "50111", "50113", "50114":
		return errors.ClassAuth
	case "51008", "51020", "59200":
		return errors.ClassRejected
	case "51000", "51001", "51006":
		return errors.ClassValidation
	default:
		return errors.ClassServer
	}
}

// GetCurrentPrice returns the last traded price for an instrument.
func (c *OKXClient) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	var data []struct {
		Last string `json:"last"`
	}
	query := url.Values{"instId": {symbol}}
	if err := c.do(ctx, http.MethodGet, "/api/v5/market/ticker", query, nil, &data); err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, errors.NewExchangeError(errors.ClassServer, "", "empty ticker data", nil)
	}
	return strconv.ParseFloat(data[0].Last, 64)
}

// GetCandles returns recent candles in chronological order. The OKX API
// serves them newest first, so the rows are reversed before returning.
func (c *OKXClient) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	var data [][]string
	query := url.Values{
		"instId": {symbol},
		"bar":    {timeframe},
		"limit":  {strconv.Itoa(limit)},
	}
	if err := c.do(ctx, http.MethodGet, "/api/v5/market/candles", query, nil, &data); err != nil {
		return nil, err
	}

	candles := make([]models.Candle, 0, len(data))
	for _, row := range data {
		if len(row) < 6 {
			continue
		}
		ms, _ := strconv.ParseInt(row[0], 10, 64)
		open, _ := strconv.ParseFloat(row[1], 64)
		high, _ := strconv.ParseFloat(row[2], 64)
		low, _ := strconv.ParseFloat(row[3], 64)
		closePx, _ := strconv.ParseFloat(row[4], 64)
		volume, _ := strconv.ParseFloat(row[5], 64)
		candles = append(candles, models.Candle{
			Timestamp: time.UnixMilli(ms),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closePx,
			Volume:    volume,
		})
	}

	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

// PlaceOrder submits an order.
func (c *OKXClient) PlaceOrder(ctx context.Context, params models.OrderParams) (*OrderResult, error) {
	payload := map[string]string{
		"instId":  params.Symbol,
		"tdMode":  "cross",
		"side":    string(params.Side),
		"ordType": string(params.Type),
		"sz":      formatFloat(params.Size),
	}
	if params.Type == models.OrderTypeLimit {
		payload["px"] = formatFloat(params.Price)
	}
	if params.ClientOrderID != "" {
		payload["clOrdId"] = params.ClientOrderID
	}
	if params.ReduceOnly {
		payload["reduceOnly"] = "true"
	}

	var data []struct {
		OrdID string `json:"ordId"`
		SCode string `json:"sCode"`
		SMsg  string `json:"sMsg"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v5/trade/order", nil, payload, &data); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.NewExchangeError(errors.ClassServer, "", "empty order response", nil)
	}
	if data[0].SCode != "0" {
		return nil, errors.NewExchangeError(classifyOKXCode(data[0].SCode), data[0].SCode, data[0].SMsg, nil)
	}

	return &OrderResult{
		OrderID:   data[0].OrdID,
		Status:    "submitted",
		Timestamp: c.now(),
	}, nil
}

// CancelOrder cancels a live order.
func (c *OKXClient) CancelOrder(ctx context.Context, symbol, orderID string) error {
	payload := map[string]string{"instId": symbol, "ordId": orderID}
	return c.do(ctx, http.MethodPost, "/api/v5/trade/cancel-order", nil, payload, nil)
}

// GetOrderStatus fetches the live state of an order.
func (c *OKXClient) GetOrderStatus(ctx context.Context, symbol, orderID string) (*OrderStatus, error) {
	var data []struct {
		OrdID    string `json:"ordId"`
		State    string `json:"state"`
		Sz       string `json:"sz"`
		AccFillSz string `json:"accFillSz"`
		AvgPx    string `json:"avgPx"`
		UTime    string `json:"uTime"`
	}
	query := url.Values{"instId": {symbol}, "ordId": {orderID}}
	if err := c.do(ctx, http.MethodGet, "/api/v5/trade/order", query, nil, &data); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.ErrOrderNotFound
	}

	total, _ := strconv.ParseFloat(data[0].Sz, 64)
	filled, _ := strconv.ParseFloat(data[0].AccFillSz, 64)
	avgPx, _ := strconv.ParseFloat(data[0].AvgPx, 64)
	ms, _ := strconv.ParseInt(data[0].UTime, 10, 64)

	return &OrderStatus{
		OrderID:      data[0].OrdID,
		Symbol:       symbol,
		State:        data[0].State,
		FilledSize:   filled,
		TotalSize:    total,
		AvgFillPrice: avgPx,
		UpdatedAt:    time.UnixMilli(ms),
	}, nil
}

// GetPositions returns open positions.
func (c *OKXClient) GetPositions(ctx context.Context) ([]models.PositionInfo, error) {
	var data []struct {
		InstID  string `json:"instId"`
		PosSide string `json:"posSide"`
		Pos     string `json:"pos"`
		AvgPx   string `json:"avgPx"`
		MarkPx  string `json:"markPx"`
		Upl     string `json:"upl"`
		Margin  string `json:"margin"`
		CTime   string `json:"cTime"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v5/account/positions", nil, nil, &data); err != nil {
		return nil, err
	}

	positions := make([]models.PositionInfo, 0, len(data))
	for _, p := range data {
		size, _ := strconv.ParseFloat(p.Pos, 64)
		if size == 0 {
			continue
		}
		avgPx, _ := strconv.ParseFloat(p.AvgPx, 64)
		markPx, _ := strconv.ParseFloat(p.MarkPx, 64)
		upl, _ := strconv.ParseFloat(p.Upl, 64)
		margin, _ := strconv.ParseFloat(p.Margin, 64)
		ms, _ := strconv.ParseInt(p.CTime, 10, 64)

		side := models.Long
		if p.PosSide == "short" || size < 0 {
			side = models.Short
		}

		positions = append(positions, models.PositionInfo{
			Symbol:        p.InstID,
			Side:          side,
			Size:          size,
			AvgPrice:      avgPx,
			MarkPrice:     markPx,
			UnrealizedPnL: upl,
			Margin:        margin,
			OpenedAt:      time.UnixMilli(ms),
		})
	}
	return positions, nil
}

// GetAvailableBalance returns the available USDT balance.
func (c *OKXClient) GetAvailableBalance(ctx context.Context) (float64, error) {
	var data []struct {
		Details []struct {
			Ccy      string `json:"ccy"`
			AvailBal string `json:"availBal"`
		} `json:"details"`
	}
	query := url.Values{"ccy": {"USDT"}}
	if err := c.do(ctx, http.MethodGet, "/api/v5/account/balance", query, nil, &data); err != nil {
		return 0, err
	}
	for _, account := range data {
		for _, detail := range account.Details {
			if detail.Ccy == "USDT" {
				return strconv.ParseFloat(detail.AvailBal, 64)
			}
		}
	}
	return 0, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
