package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ipmarket/core"
	"ipmarket/crypto"
	"ipmarket/native/market"
	"ipmarket/rpc/modules"
	"ipmarket/storage"
)

const testToken = "test-token"

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	node := core.NewNode(storage.NewMemDB())
	node.SetNowFunc(func() int64 { return 1_700_000_000 })
	server := NewServer(node)
	server.authToken = testToken
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return server, ts
}

func rpcCall(t *testing.T, ts *httptest.Server, token, method string, params interface{}) (*RPCResponse, int) {
	t.Helper()
	var rawParams []json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			t.Fatalf("marshal params: %v", err)
		}
		rawParams = []json.RawMessage{encoded}
	}
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": jsonRPCVersion,
		"id":      1,
		"method":  method,
		"params":  rawParams,
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, ts.URL, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	decoded := &RPCResponse{}
	if err := json.NewDecoder(resp.Body).Decode(decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return decoded, resp.StatusCode
}

func decodeResult(t *testing.T, resp *RPCResponse, out interface{}) {
	t.Helper()
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("re-marshal result: %v", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
}

func testBech32(t *testing.T, fill byte) string {
	t.Helper()
	addr := make([]byte, 20)
	for i := range addr {
		addr[i] = fill
	}
	return crypto.NewAddress(crypto.IPMPrefix, addr).String()
}

func testHandleHex(fill byte) string {
	raw := make([]byte, market.HandleSize)
	for i := range raw {
		raw[i] = fill
	}
	return fmt.Sprintf("%x", raw)
}

func TestMutatingMethodsRequireAuth(t *testing.T) {
	_, ts := newTestServer(t)

	resp, status := rpcCall(t, ts, "", "market_createListing", map[string]string{})
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", status)
	}
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized error, got %+v", resp.Error)
	}

	resp, status = rpcCall(t, ts, "wrong-token", "market_mint", map[string]string{})
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", status)
	}
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized error, got %+v", resp.Error)
	}
}

func TestUnknownMethod(t *testing.T) {
	_, ts := newTestServer(t)
	resp, status := rpcCall(t, ts, "", "market_unknown", nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", status)
	}
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method-not-found error, got %+v", resp.Error)
	}
}

func TestCreateAndFetchListing(t *testing.T) {
	_, ts := newTestServer(t)
	seller := testBech32(t, 0x01)

	resp, status := rpcCall(t, ts, testToken, "market_createListing", map[string]string{
		"caller":               seller,
		"ipType":               "patent",
		"title":                "compression codec",
		"encryptedDescription": testHandleHex(0x10),
		"price":                "500",
	})
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d (%+v)", status, resp.Error)
	}
	var created ListingResult
	decodeResult(t, resp, &created)
	if created.ID != 0 || created.Owner != seller || created.Status != "active" {
		t.Fatalf("unexpected listing result: %+v", created)
	}

	resp, status = rpcCall(t, ts, "", "market_getListing", map[string]uint64{"id": 0})
	if status != http.StatusOK {
		t.Fatalf("expected 200 on read, got %d", status)
	}
	var fetched modules.ListingResult
	decodeResult(t, resp, &fetched)
	if fetched.Title != "compression codec" || fetched.EncryptedDescription != testHandleHex(0x10) {
		t.Fatalf("unexpected fetched listing: %+v", fetched)
	}

	resp, status = rpcCall(t, ts, "", "market_getListing", map[string]uint64{"id": 42})
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 for missing listing, got %d", status)
	}
	if resp.Error == nil || resp.Error.Code != codeNotFound {
		t.Fatalf("expected not-found code, got %+v", resp.Error)
	}
}

func TestDealLifecycleOverRPC(t *testing.T) {
	_, ts := newTestServer(t)
	seller := testBech32(t, 0x01)
	buyer := testBech32(t, 0x02)

	if resp, status := rpcCall(t, ts, testToken, "market_mint", map[string]string{
		"address": buyer, "amount": "2000",
	}); status != http.StatusOK {
		t.Fatalf("mint failed: %d %+v", status, resp.Error)
	}
	if resp, status := rpcCall(t, ts, testToken, "market_createListing", map[string]string{
		"caller": seller, "ipType": "trade_secret", "title": "alloy recipe",
		"encryptedDescription": testHandleHex(0x10), "price": "1000",
	}); status != http.StatusOK {
		t.Fatalf("create listing failed: %d %+v", status, resp.Error)
	}
	if resp, status := rpcCall(t, ts, testToken, "market_createInterest", map[string]string{
		"caller": buyer, "category": "materials",
		"encryptedInterests": testHandleHex(0x20), "maxPrice": "5000",
	}); status != http.StatusOK {
		t.Fatalf("create interest failed: %d %+v", status, resp.Error)
	}
	if resp, status := rpcCall(t, ts, testToken, "market_proposeDeal", map[string]interface{}{
		"caller": seller, "listingId": 0, "interestId": 0, "price": "900",
		"encryptedSellerData": testHandleHex(0x30), "encryptedBuyerData": testHandleHex(0x40),
	}); status != http.StatusOK {
		t.Fatalf("propose deal failed: %d %+v", status, resp.Error)
	}
	if resp, status := rpcCall(t, ts, testToken, "market_acceptDeal", map[string]interface{}{
		"caller": buyer, "id": 0,
	}); status != http.StatusOK {
		t.Fatalf("accept deal failed: %d %+v", status, resp.Error)
	}

	// Underpayment maps onto the payment-required status.
	resp, status := rpcCall(t, ts, testToken, "market_completeDeal", map[string]interface{}{
		"caller": buyer, "id": 0, "payment": "800",
	})
	if status != http.StatusPaymentRequired {
		t.Fatalf("expected 402 for underpayment, got %d", status)
	}
	if resp.Error == nil || resp.Error.Code != codeInsufficientPayment {
		t.Fatalf("expected insufficient-payment code, got %+v", resp.Error)
	}

	resp, status = rpcCall(t, ts, testToken, "market_completeDeal", map[string]interface{}{
		"caller": buyer, "id": 0, "payment": "1100",
	})
	if status != http.StatusOK {
		t.Fatalf("complete deal failed: %d %+v", status, resp.Error)
	}
	var completed DealResult
	decodeResult(t, resp, &completed)
	if completed.Status != "completed" {
		t.Fatalf("expected completed deal, got %+v", completed)
	}

	resp, status = rpcCall(t, ts, "", "market_getBalance", map[string]string{"address": seller})
	if status != http.StatusOK {
		t.Fatalf("get balance failed: %d", status)
	}
	var balance modules.BalanceResult
	decodeResult(t, resp, &balance)
	if balance.Balance != "900" {
		t.Fatalf("seller should hold 900, got %s", balance.Balance)
	}

	resp, status = rpcCall(t, ts, "", "market_getDealBuyerData", map[string]uint64{"id": 0})
	if status != http.StatusOK {
		t.Fatalf("get deal buyer data failed: %d", status)
	}
	var handle HandleResult
	decodeResult(t, resp, &handle)
	if handle.Handle != testHandleHex(0x40) {
		t.Fatalf("unexpected buyer data handle: %+v", handle)
	}

	resp, status = rpcCall(t, ts, "", "market_listEvents", map[string]string{"prefix": "market.deal."})
	if status != http.StatusOK {
		t.Fatalf("list events failed: %d", status)
	}
	var evts []*modules.EventResult
	decodeResult(t, resp, &evts)
	if len(evts) != 3 {
		t.Fatalf("expected 3 deal events, got %d", len(evts))
	}
	if evts[2].Type != market.EventTypeDealCompleted {
		t.Fatalf("expected completion event last, got %s", evts[2].Type)
	}
}

func TestAuthorizationErrorMapping(t *testing.T) {
	_, ts := newTestServer(t)
	seller := testBech32(t, 0x01)
	stranger := testBech32(t, 0x09)

	if resp, status := rpcCall(t, ts, testToken, "market_createListing", map[string]string{
		"caller": seller, "ipType": "patent", "title": "x",
		"encryptedDescription": testHandleHex(0x10), "price": "10",
	}); status != http.StatusOK {
		t.Fatalf("create listing failed: %d %+v", status, resp.Error)
	}
	resp, status := rpcCall(t, ts, testToken, "market_cancelListing", map[string]interface{}{
		"caller": stranger, "id": 0,
	})
	if status != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", status)
	}
	if resp.Error == nil || resp.Error.Code != codeNotOwner {
		t.Fatalf("expected not-owner code, got %+v", resp.Error)
	}
}

func TestRateLimiterWindow(t *testing.T) {
	server, _ := newTestServer(t)
	base := time.Now()

	for i := 0; i < maxTxPerWindow; i++ {
		if !server.allowSource("10.0.0.1", base) {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if server.allowSource("10.0.0.1", base) {
		t.Fatalf("request over the limit should be rejected")
	}
	// Other sources keep their own window.
	if !server.allowSource("10.0.0.2", base) {
		t.Fatalf("distinct source should be allowed")
	}
	// The window resets after it elapses.
	if !server.allowSource("10.0.0.1", base.Add(rateLimitWindow)) {
		t.Fatalf("request after window reset should be allowed")
	}
}

func TestInvalidPayloads(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := ts.Client().Post(ts.URL, "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed JSON, got %d", resp.StatusCode)
	}
	decoded := &RPCResponse{}
	if err := json.NewDecoder(resp.Body).Decode(decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Error == nil || decoded.Error.Code != codeParseError {
		t.Fatalf("expected parse error, got %+v", decoded.Error)
	}
}
