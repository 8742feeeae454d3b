package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paygate-labs/paygate/internal/catalog"
	"github.com/paygate-labs/paygate/internal/chain/chaintest"
	"github.com/paygate-labs/paygate/internal/paywall"
	"github.com/paygate-labs/paygate/internal/store/memory"
	"github.com/paygate-labs/paygate/internal/verify"
)

const (
	mintUSDC  = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	recipient = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	payer     = "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"
)

type fixture struct {
	router *mux.Router
	ledger *chaintest.Client
	store  *memory.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	premium := "---\nprice: \"0.10\"\nmint: " + mintUSDC + "\n---\n# Premium\n\nPaid body.\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "premium.md"), []byte(premium), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "free.md"), []byte("# Free\n"), 0o644))

	st := memory.New()
	ledger := chaintest.New()
	ledger.SetDecimals(mintUSDC, 6)
	cat := catalog.NewDirCatalog(dir, mintUSDC)

	engine := paywall.New(st, verify.New(ledger, zerolog.Nop()), ledger, cat, paywall.Config{
		Recipient:   recipient,
		Network:     "devnet",
		TokenSymbol: "USDC",
	}, zerolog.Nop())

	h := NewHandler(engine, st, cat, "devnet", zerolog.Nop())
	router := mux.NewRouter()
	h.Register(router.PathPrefix("/api/v1").Subrouter())
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	return &fixture{router: router, ledger: ledger, store: st}
}

func (f *fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) topUp(t *testing.T, sig, ref string, amt uint64) {
	t.Helper()
	f.ledger.SetTransaction(chaintest.Payment(sig, ref, payer, recipient, mintUSDC, amt))
	body := `{"account":"` + payer + `","signature":"` + sig + `","reference":"` + ref + `","mint":"` + mintUSDC + `"}`
	req := httptest.NewRequest("POST", "/api/v1/topup", strings.NewReader(body))
	w := f.do(t, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestFreeContentServed(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, httptest.NewRequest("GET", "/api/v1/content/free", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(paywall.MethodFree), w.Header().Get(HeaderMethod))
	assert.Contains(t, w.Body.String(), "# Free")
}

func TestUnknownContent(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, httptest.NewRequest("GET", "/api/v1/content/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPricedContentChallenges(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, httptest.NewRequest("GET", "/api/v1/content/premium", nil))
	require.Equal(t, http.StatusPaymentRequired, w.Code)

	// The invoice wire shape is stable: clients build transactions from it.
	var resp struct {
		Error   string `json:"error"`
		Invoice struct {
			Recipient   string `json:"recipient"`
			Amount      string `json:"amount"`
			TokenMint   string `json:"tokenMint"`
			Reference   string `json:"reference"`
			Description string `json:"description"`
		} `json:"invoice"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "payment required", resp.Error)
	assert.Equal(t, recipient, resp.Invoice.Recipient)
	assert.Equal(t, "0.1", resp.Invoice.Amount)
	assert.Equal(t, mintUSDC, resp.Invoice.TokenMint)
	assert.Len(t, resp.Invoice.Reference, 36)
	assert.NotEmpty(t, resp.Invoice.Description)
}

func TestBudgetGrantsContent(t *testing.T) {
	f := newFixture(t)
	f.topUp(t, "topup-sig", "topup-ref", 1000000)

	req := httptest.NewRequest("GET", "/api/v1/content/premium", nil)
	req.Header.Set(HeaderAccount, payer)
	w := f.do(t, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(paywall.MethodBudget), w.Header().Get(HeaderMethod))
	assert.Contains(t, w.Body.String(), "Paid body.")

	// 1.00 funded, 0.10 spent.
	bw := f.do(t, httptest.NewRequest("GET", "/api/v1/balance/"+payer+"?mint="+mintUSDC, nil))
	require.Equal(t, http.StatusOK, bw.Code)
	var bal struct {
		Amount  int64  `json:"amount"`
		Display string `json:"display"`
	}
	require.NoError(t, json.Unmarshal(bw.Body.Bytes(), &bal))
	assert.Equal(t, int64(900000), bal.Amount)
	assert.Equal(t, "0.9", bal.Display)
}

func TestPaymentProofGrantsAndReplayConflicts(t *testing.T) {
	f := newFixture(t)
	f.ledger.SetTransaction(chaintest.Payment("pay-sig", "pay-ref", payer, recipient, mintUSDC, 100000))

	req := httptest.NewRequest("GET", "/api/v1/content/premium", nil)
	req.Header.Set(HeaderSignature, "pay-sig")
	req.Header.Set(HeaderReference, "pay-ref")

	w := f.do(t, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(paywall.MethodPayment), w.Header().Get(HeaderMethod))

	w = f.do(t, req.Clone(req.Context()))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "replay")
}

func TestTopUpReplayConflicts(t *testing.T) {
	f := newFixture(t)
	f.topUp(t, "sig", "ref", 500000)

	body := `{"account":"` + payer + `","signature":"sig","reference":"ref","mint":"` + mintUSDC + `"}`
	w := f.do(t, httptest.NewRequest("POST", "/api/v1/topup", strings.NewReader(body)))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestTopUpValidation(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, httptest.NewRequest("POST", "/api/v1/topup", strings.NewReader("{not json")))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, httptest.NewRequest("POST", "/api/v1/topup", strings.NewReader(`{"account":""}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTopUpInvoiceEndpoint(t *testing.T) {
	f := newFixture(t)

	body := `{"account":"` + payer + `","amount":"5","mint":"` + mintUSDC + `"}`
	w := f.do(t, httptest.NewRequest("POST", "/api/v1/topup/invoice", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Invoice struct {
			Recipient string `json:"recipient"`
			Amount    string `json:"amount"`
			Reference string `json:"reference"`
		} `json:"invoice"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, recipient, resp.Invoice.Recipient)
	assert.Equal(t, "5", resp.Invoice.Amount)
	assert.NotEmpty(t, resp.Invoice.Reference)
}

func TestTransfersEndpoint(t *testing.T) {
	f := newFixture(t)
	f.topUp(t, "sig", "ref", 500000)

	w := f.do(t, httptest.NewRequest("GET", "/api/v1/transfers/"+payer, nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Transfers []struct {
			Signature string `json:"signature"`
			Kind      string `json:"kind"`
			Amount    int64  `json:"amount"`
		} `json:"transfers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Transfers, 1)
	assert.Equal(t, "sig", resp.Transfers[0].Signature)
	assert.Equal(t, "top-up", resp.Transfers[0].Kind)
	assert.Equal(t, int64(500000), resp.Transfers[0].Amount)
}
