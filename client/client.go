// Package client is a thin Go wrapper over the scratchwind HTTP interface.
// It mirrors the server's wire types and maps error responses to APIError
// values carrying the HTTP status.
package client

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/companyzero/bisonrelay/zkidentity"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/slog"
)

// Config configures a Client. BaseURL is required, e.g.
// "http://localhost:8080". HTTPClient and Log are optional.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Log        slog.Logger
}

type Client struct {
	base *url.URL
	hc   *http.Client
	log  slog.Logger
}

func New(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("bad base url: %w", err)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	log := cfg.Log
	if log == nil {
		log = slog.Disabled
	}
	return &Client{base: base, hc: hc, log: log}, nil
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// IssuerInfo mirrors the server's issuer view, counters included.
type IssuerInfo struct {
	ID               uint64 `json:"id"`
	PublicKey        string `json:"public_key"`
	Controller       string `json:"controller"`
	TicketPriceAtoms int64  `json:"ticket_price_atoms"`
	PrizeAmountAtoms int64  `json:"prize_amount_atoms"`
	OddsDenominator  uint64 `json:"odds_denominator"`
	TimeoutSeconds   int64  `json:"timeout_seconds"`
	BalanceAtoms     int64  `json:"operating_balance_atoms"`
	EscrowAtoms      int64  `json:"escrow_outstanding_atoms"`
	Sold             uint64 `json:"sold"`
	Rewarded         uint64 `json:"rewarded"`
	TimedOut         uint64 `json:"timed_out"`
}

// TicketInfo mirrors the server's ticket view.
type TicketInfo struct {
	ID          string    `json:"id"`
	IssuerID    uint64    `json:"issuer_id"`
	Buyer       string    `json:"buyer"`
	Number      uint64    `json:"number"`
	Status      string    `json:"status"`
	EscrowAtoms int64     `json:"escrow_atoms"`
	PurchasedAt time.Time `json:"purchased_at"`
}

// RegisterIssuerArgs are the parameters for registering a new issuer.
type RegisterIssuerArgs struct {
	PublicKey   []byte // 33-byte compressed secp256k1
	Controller  zkidentity.ShortID
	TicketPrice dcrutil.Amount
	PrizeAmount dcrutil.Amount
	Odds        uint64
	Timeout     time.Duration
	Deposit     dcrutil.Amount
}

func (c *Client) RegisterIssuer(ctx context.Context, args RegisterIssuerArgs) (uint64, error) {
	req := struct {
		PublicKey        string `json:"public_key"`
		Controller       string `json:"controller"`
		TicketPriceAtoms int64  `json:"ticket_price_atoms"`
		PrizeAmountAtoms int64  `json:"prize_amount_atoms"`
		OddsDenominator  uint64 `json:"odds_denominator"`
		TimeoutSeconds   int64  `json:"timeout_seconds"`
		DepositAtoms     int64  `json:"deposit_atoms"`
	}{
		PublicKey:        hex.EncodeToString(args.PublicKey),
		Controller:       args.Controller.String(),
		TicketPriceAtoms: int64(args.TicketPrice),
		PrizeAmountAtoms: int64(args.PrizeAmount),
		OddsDenominator:  args.Odds,
		TimeoutSeconds:   int64(args.Timeout / time.Second),
		DepositAtoms:     int64(args.Deposit),
	}
	var resp struct {
		IssuerID uint64 `json:"issuer_id"`
	}
	if err := c.post(ctx, "/issuer/register", req, &resp); err != nil {
		return 0, err
	}
	return resp.IssuerID, nil
}

func (c *Client) Deposit(ctx context.Context, issuerID uint64, amount dcrutil.Amount) (dcrutil.Amount, error) {
	req := struct {
		IssuerID    uint64 `json:"issuer_id"`
		AmountAtoms int64  `json:"amount_atoms"`
	}{IssuerID: issuerID, AmountAtoms: int64(amount)}
	var resp map[string]int64
	if err := c.post(ctx, "/issuer/deposit", req, &resp); err != nil {
		return 0, err
	}
	return dcrutil.Amount(resp["operating_balance_atoms"]), nil
}

func (c *Client) Withdraw(ctx context.Context, issuerID uint64, amount dcrutil.Amount, caller zkidentity.ShortID) error {
	req := struct {
		IssuerID    uint64 `json:"issuer_id"`
		AmountAtoms int64  `json:"amount_atoms"`
		Caller      string `json:"caller"`
	}{IssuerID: issuerID, AmountAtoms: int64(amount), Caller: caller.String()}
	return c.post(ctx, "/issuer/withdraw", req, nil)
}

func (c *Client) Issuer(ctx context.Context, issuerID uint64) (*IssuerInfo, error) {
	var info IssuerInfo
	q := url.Values{"id": []string{strconv.FormatUint(issuerID, 10)}}
	if err := c.get(ctx, "/issuer", q, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) Issuers(ctx context.Context) ([]IssuerInfo, error) {
	var out []IssuerInfo
	if err := c.get(ctx, "/issuers", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Purchase(ctx context.Context, issuerID uint64, buyer zkidentity.ShortID, number uint64, payment dcrutil.Amount) (*TicketInfo, error) {
	req := struct {
		IssuerID     uint64 `json:"issuer_id"`
		Buyer        string `json:"buyer"`
		TicketNumber uint64 `json:"ticket_number"`
		PaymentAtoms int64  `json:"payment_atoms"`
	}{IssuerID: issuerID, Buyer: buyer.String(), TicketNumber: number, PaymentAtoms: int64(payment)}
	var tk TicketInfo
	if err := c.post(ctx, "/ticket/purchase", req, &tk); err != nil {
		return nil, err
	}
	return &tk, nil
}

func (c *Client) Resolve(ctx context.Context, issuerID uint64, ticketID chainhash.Hash, sig []byte) (*TicketInfo, error) {
	req := struct {
		IssuerID  uint64 `json:"issuer_id"`
		TicketID  string `json:"ticket_id"`
		Signature string `json:"signature"`
	}{IssuerID: issuerID, TicketID: ticketID.String(), Signature: hex.EncodeToString(sig)}
	var tk TicketInfo
	if err := c.post(ctx, "/ticket/resolve", req, &tk); err != nil {
		return nil, err
	}
	return &tk, nil
}

func (c *Client) RefundTimeout(ctx context.Context, issuerID uint64, ticketID chainhash.Hash) (*TicketInfo, error) {
	req := struct {
		IssuerID uint64 `json:"issuer_id"`
		TicketID string `json:"ticket_id"`
	}{IssuerID: issuerID, TicketID: ticketID.String()}
	var tk TicketInfo
	if err := c.post(ctx, "/ticket/refund", req, &tk); err != nil {
		return nil, err
	}
	return &tk, nil
}

func (c *Client) Ticket(ctx context.Context, issuerID uint64, ticketID chainhash.Hash) (*TicketInfo, error) {
	q := url.Values{
		"issuer_id": []string{strconv.FormatUint(issuerID, 10)},
		"id":        []string{ticketID.String()},
	}
	var tk TicketInfo
	if err := c.get(ctx, "/ticket", q, &tk); err != nil {
		return nil, err
	}
	return &tk, nil
}

func (c *Client) Tickets(ctx context.Context, issuerID uint64) ([]TicketInfo, error) {
	q := url.Values{"issuer_id": []string{strconv.FormatUint(issuerID, 10)}}
	var out []TicketInfo
	if err := c.get(ctx, "/tickets", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, reqBody, respBody interface{}) error {
	blob, err := json.Marshal(reqBody)
	if err != nil {
		return err
	}
	u := *c.base
	u.Path = path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(blob))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, respBody)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, respBody interface{}) error {
	u := *c.base
	u.Path = path
	u.RawQuery = query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	return c.do(req, respBody)
}

func (c *Client) do(req *http.Request, respBody interface{}) error {
	c.log.Tracef("%s %s", req.Method, req.URL)
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
			apiErr.Error = resp.Status
		}
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}
	if respBody == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(respBody)
}
