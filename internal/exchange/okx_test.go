package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"okx-trader/internal/config"
)

func newTestClient(handler http.Handler) (*OKXClient, *httptest.Server) {
	server := httptest.NewServer(handler)
	client := NewOKXClient(config.ExchangeCredentials{BaseURL: server.URL})
	return client, server
}

func TestGetCandlesReturnsChronologicalOrder(t *testing.T) {
	// The OKX API serves candles newest first; the client must hand
	// consumers an oldest-first series.
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v5/market/candles", r.URL.Path)
		rows := ""
		for i := 2; i >= 0; i-- {
			ms := base.Add(time.Duration(i) * time.Hour).UnixMilli()
			if rows != "" {
				rows += ","
			}
			rows += fmt.Sprintf(`["%d","%d","%d","%d","%d","10"]`,
				ms, 100+i, 101+i, 99+i, 100+i)
		}
		fmt.Fprintf(w, `{"code":"0","msg":"","data":[%s]}`, rows)
	})
	client, server := newTestClient(handler)
	defer server.Close()

	candles, err := client.GetCandles(context.Background(), "BTC-USDT-SWAP", "1H", 3)
	require.NoError(t, err)
	require.Len(t, candles, 3)

	for i := 1; i < len(candles); i++ {
		assert.True(t, candles[i].Timestamp.After(candles[i-1].Timestamp),
			"candles must be oldest first")
	}
	assert.Equal(t, base, candles[0].Timestamp.UTC())
	assert.Equal(t, 102.0, candles[2].Close, "newest close lands last")
}

func TestGetCurrentPriceParsesTicker(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v5/market/ticker", r.URL.Path)
		require.Equal(t, "BTC-USDT-SWAP", r.URL.Query().Get("instId"))
		fmt.Fprint(w, `{"code":"0","msg":"","data":[{"last":"65000.5"}]}`)
	})
	client, server := newTestClient(handler)
	defer server.Close()

	price, err := client.GetCurrentPrice(context.Background(), "BTC-USDT-SWAP")
	require.NoError(t, err)
	assert.Equal(t, 65000.5, price)
}
