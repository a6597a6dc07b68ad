package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/companyzero/bisonrelay/zkidentity"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrutil/v4"

	"github.com/pereferrera/scratchwin/ledger"
)

// --- wire types ---

type registerIssuerRequest struct {
	PublicKey        string `json:"public_key"` // 33-byte compressed, hex
	Controller       string `json:"controller"`
	TicketPriceAtoms int64  `json:"ticket_price_atoms"`
	PrizeAmountAtoms int64  `json:"prize_amount_atoms"`
	OddsDenominator  uint64 `json:"odds_denominator"`
	TimeoutSeconds   int64  `json:"timeout_seconds"`
	DepositAtoms     int64  `json:"deposit_atoms"`
}

type registerIssuerResponse struct {
	IssuerID uint64 `json:"issuer_id"`
}

type purchaseRequest struct {
	IssuerID     uint64 `json:"issuer_id"`
	Buyer        string `json:"buyer"`
	TicketNumber uint64 `json:"ticket_number"`
	PaymentAtoms int64  `json:"payment_atoms"`
}

type resolveRequest struct {
	IssuerID  uint64 `json:"issuer_id"`
	TicketID  string `json:"ticket_id"`
	Signature string `json:"signature"` // 65-byte compact, hex
}

type refundRequest struct {
	IssuerID uint64 `json:"issuer_id"`
	TicketID string `json:"ticket_id"`
}

type depositRequest struct {
	IssuerID    uint64 `json:"issuer_id"`
	AmountAtoms int64  `json:"amount_atoms"`
}

type withdrawRequest struct {
	IssuerID    uint64 `json:"issuer_id"`
	AmountAtoms int64  `json:"amount_atoms"`
	Caller      string `json:"caller"`
}

type ticketInfo struct {
	ID          string    `json:"id"`
	IssuerID    uint64    `json:"issuer_id"`
	Buyer       string    `json:"buyer"`
	Number      uint64    `json:"number"`
	Status      string    `json:"status"`
	EscrowAtoms int64     `json:"escrow_atoms"`
	PurchasedAt time.Time `json:"purchased_at"`
}

type issuerInfo struct {
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

func marshalTicket(t *ledger.Ticket) ticketInfo {
	return ticketInfo{
		ID:          t.ID.String(),
		IssuerID:    t.IssuerID,
		Buyer:       t.Buyer.String(),
		Number:      t.Number,
		Status:      string(t.Status),
		EscrowAtoms: int64(t.EscrowAmount),
		PurchasedAt: t.PurchasedAt,
	}
}

func (s *Server) marshalIssuer(l *ledger.Ledger) issuerInfo {
	iss := l.Issuer()
	c, _ := s.registry.IssuerCounters(iss.ID)
	return issuerInfo{
		ID:               iss.ID,
		PublicKey:        hex.EncodeToString(iss.PublicKey),
		Controller:       iss.Controller.String(),
		TicketPriceAtoms: int64(iss.Params.TicketPrice),
		PrizeAmountAtoms: int64(iss.Params.PrizeAmount),
		OddsDenominator:  iss.Params.OddsDenominator,
		TimeoutSeconds:   int64(iss.Params.TimeoutWindow / time.Second),
		BalanceAtoms:     int64(iss.OperatingBalance),
		EscrowAtoms:      int64(l.EscrowOutstanding()),
		Sold:             c.Sold,
		Rewarded:         c.Rewarded,
		TimedOut:         c.TimedOut,
	}
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrInsufficientPayment),
		errors.Is(err, ledger.ErrInsufficientDeposit),
		errors.Is(err, ledger.ErrInvalidSignatureEncoding),
		errors.Is(err, ledger.ErrTimeoutNotReached):
		status = http.StatusBadRequest
	case errors.Is(err, ledger.ErrDuplicateTicket),
		errors.Is(err, ledger.ErrAlreadyResolved),
		errors.Is(err, ledger.ErrAlreadyRefunded),
		errors.Is(err, ledger.ErrInsufficientIssuerBalance):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrTicketNotFound),
		errors.Is(err, ledger.ErrIssuerNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrUnauthorizedSigner),
		errors.Is(err, ledger.ErrNotController):
		status = http.StatusForbidden
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func decodeReq(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "POST required"})
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func parseShortID(s string) (zkidentity.ShortID, error) {
	var id zkidentity.ShortID
	err := id.FromString(s)
	return id, err
}

// --- handlers ---

func (s *Server) handleRegisterIssuer(w http.ResponseWriter, r *http.Request) {
	var req registerIssuerRequest
	if !decodeReq(w, r, &req) {
		return
	}
	pubkey, err := hex.DecodeString(req.PublicKey)
	if err != nil {
		badRequest(w, "bad public_key hex")
		return
	}
	controller, err := parseShortID(req.Controller)
	if err != nil {
		badRequest(w, "bad controller id")
		return
	}
	l, err := s.registry.RegisterIssuer(pubkey, controller, ledger.IssuerParams{
		TicketPrice:     dcrutil.Amount(req.TicketPriceAtoms),
		PrizeAmount:     dcrutil.Amount(req.PrizeAmountAtoms),
		OddsDenominator: req.OddsDenominator,
		TimeoutWindow:   time.Duration(req.TimeoutSeconds) * time.Second,
	}, dcrutil.Amount(req.DepositAtoms))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, registerIssuerResponse{IssuerID: l.IssuerID()})
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest
	if !decodeReq(w, r, &req) {
		return
	}
	buyer, err := parseShortID(req.Buyer)
	if err != nil {
		badRequest(w, "bad buyer id")
		return
	}
	l, err := s.registry.Ledger(req.IssuerID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	t, err := l.Purchase(r.Context(), buyer, req.TicketNumber, dcrutil.Amount(req.PaymentAtoms))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, marshalTicket(t))
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !decodeReq(w, r, &req) {
		return
	}
	ticketID, err := chainhash.NewHashFromStr(req.TicketID)
	if err != nil {
		badRequest(w, "bad ticket id")
		return
	}
	sig, err := hex.DecodeString(req.Signature)
	if err != nil {
		badRequest(w, "bad signature hex")
		return
	}
	l, err := s.registry.Ledger(req.IssuerID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	t, err := l.Resolve(r.Context(), *ticketID, sig)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, marshalTicket(t))
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if !decodeReq(w, r, &req) {
		return
	}
	ticketID, err := chainhash.NewHashFromStr(req.TicketID)
	if err != nil {
		badRequest(w, "bad ticket id")
		return
	}
	l, err := s.registry.Ledger(req.IssuerID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	t, err := l.RefundTimeout(r.Context(), *ticketID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, marshalTicket(t))
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !decodeReq(w, r, &req) {
		return
	}
	l, err := s.registry.Ledger(req.IssuerID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	balance, err := l.Deposit(r.Context(), dcrutil.Amount(req.AmountAtoms))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"operating_balance_atoms": int64(balance)})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if !decodeReq(w, r, &req) {
		return
	}
	caller, err := parseShortID(req.Caller)
	if err != nil {
		badRequest(w, "bad caller id")
		return
	}
	err = s.registry.WithdrawOperatingBalance(r.Context(), req.IssuerID,
		dcrutil.Amount(req.AmountAtoms), caller)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleGetIssuer(w http.ResponseWriter, r *http.Request) {
	issuerID, ok := parseUintQuery(w, r, "id")
	if !ok {
		return
	}
	l, err := s.registry.Ledger(issuerID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.marshalIssuer(l))
}

func (s *Server) handleListIssuers(w http.ResponseWriter, r *http.Request) {
	ledgers := s.registry.Ledgers()
	out := make([]issuerInfo, 0, len(ledgers))
	for _, l := range ledgers {
		out = append(out, s.marshalIssuer(l))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	issuerID, ok := parseUintQuery(w, r, "issuer_id")
	if !ok {
		return
	}
	ticketID, err := chainhash.NewHashFromStr(r.URL.Query().Get("id"))
	if err != nil {
		badRequest(w, "bad ticket id")
		return
	}
	l, err := s.registry.Ledger(issuerID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	t, err := l.Ticket(*ticketID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, marshalTicket(t))
}

func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	issuerID, ok := parseUintQuery(w, r, "issuer_id")
	if !ok {
		return
	}
	l, err := s.registry.Ledger(issuerID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	tickets := l.Tickets()
	out := make([]ticketInfo, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, marshalTicket(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func parseUintQuery(w http.ResponseWriter, r *http.Request, key string) (uint64, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		badRequest(w, "missing "+key)
		return 0, false
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		badRequest(w, "bad "+key)
		return 0, false
	}
	return v, true
}
