package server

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"synthvault/crypto"
	"synthvault/native/synth"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

var (
	errInvalidAmount   = errors.New("amount must be a base-10 integer")
	errAccountMismatch = errors.New("account does not match token subject")
	errAccountRequired = errors.New("account required")
)

type positionView struct {
	Account    string `json:"account"`
	Collateral string `json:"collateral"`
	Debt       string `json:"debt"`
	RatioBps   string `json:"ratioBps,omitempty"`
	RatioError string `json:"ratioError,omitempty"`
}

type paramsView struct {
	TargetRatioBps          uint64 `json:"targetRatioBps"`
	MinRatioBps             uint64 `json:"minRatioBps"`
	LiquidationBonusBps     uint64 `json:"liquidationBonusBps"`
	Paused                  bool   `json:"paused"`
	CollateralDecimals      uint8  `json:"collateralDecimals"`
	SyntheticDecimals       uint8  `json:"syntheticDecimals"`
	CollateralPriceDecimals uint8  `json:"collateralPriceDecimals"`
	SyntheticPriceDecimals  uint8  `json:"syntheticPriceDecimals"`
}

type eventView struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  time.Time         `json:"createdAt"`
}

func parseAmount(raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || v.Sign() < 0 {
		return nil, errInvalidAmount
	}
	return v, nil
}

func formatRatio(r *uint256.Int) string {
	if r == nil {
		return ""
	}
	if synth.IsMaxRatio(r) {
		return "max"
	}
	return r.Dec()
}

// resolveAccount picks the acting account. With auth enabled it defaults to,
// and must equal, the token subject.
func (s *Server) resolveAccount(r *http.Request, raw string) (crypto.Address, error) {
	raw = strings.TrimSpace(raw)
	who, authed := callerFrom(r.Context())
	if raw == "" {
		if authed {
			return who.account, nil
		}
		return crypto.Address{}, errAccountRequired
	}
	addr, err := crypto.DecodeAddress(raw)
	if err != nil {
		return crypto.Address{}, err
	}
	if authed && !addr.Equal(who.account) {
		return crypto.Address{}, errAccountMismatch
	}
	return addr, nil
}

func (s *Server) writeAccountError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errAccountMismatch) {
		writeError(w, r, http.StatusForbidden, "unauthorized", err.Error())
		return
	}
	writeError(w, r, http.StatusBadRequest, "invalid_account", err.Error())
}

func (s *Server) view(ctx context.Context, addr crypto.Address) (positionView, error) {
	pos, err := s.engine.Position(addr)
	if err != nil {
		return positionView{}, err
	}
	out := positionView{Account: addr.String(), Collateral: pos.Collateral.String(), Debt: pos.Debt.String()}
	ratio, err := s.engine.Ratio(ctx, addr)
	if err != nil {
		out.RatioError = synth.Reason(err)
	} else {
		out.RatioBps = formatRatio(ratio)
	}
	return out, nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getParams(w http.ResponseWriter, _ *http.Request) {
	params := s.engine.Params()
	dec := s.engine.Decimals()
	writeJSON(w, http.StatusOK, paramsView{
		TargetRatioBps:          params.TargetRatioBps,
		MinRatioBps:             params.MinRatioBps,
		LiquidationBonusBps:     params.LiquidationBonusBps,
		Paused:                  s.engine.Paused(),
		CollateralDecimals:      dec.CollateralDecimals,
		SyntheticDecimals:       dec.SyntheticDecimals,
		CollateralPriceDecimals: dec.CollateralPriceDecimals,
		SyntheticPriceDecimals:  dec.SyntheticPriceDecimals,
	})
}

func (s *Server) getPosition(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.DecodeAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_account", err.Error())
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	out, err := s.view(ctx, addr)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, r, http.StatusNotFound, "journal_disabled", "event journal not configured")
		return
	}
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, r, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	records, err := s.journal.List(ctx, r.URL.Query().Get("type"), limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	out := make([]eventView, 0, len(records))
	for _, rec := range records {
		evt, err := rec.Decode()
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		out = append(out, eventView{ID: rec.ID.String(), Type: evt.Type, Attributes: evt.Attributes, CreatedAt: rec.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": out})
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		writeError(w, r, http.StatusNotFound, "stats_disabled", "ledger statistics not configured")
		return
	}
	accounts, err := s.ledger.Accounts()
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	collateral, debt, err := s.ledger.Totals()
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"accounts":        len(accounts),
		"totalCollateral": collateral.String(),
		"totalDebt":       debt.String(),
		"paused":          s.engine.Paused(),
	})
}

func (s *Server) mint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Account    string `json:"account"`
		Collateral string `json:"collateral"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	account, err := s.resolveAccount(r, req.Account)
	if err != nil {
		s.writeAccountError(w, r, err)
		return
	}
	collateralIn, err := parseAmount(req.Collateral)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_amount", err.Error())
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	var ratio *uint256.Int
	err = s.run(ctx, "mint", func(ctx context.Context) error {
		var err error
		ratio, err = s.engine.Mint(ctx, account, collateralIn)
		return err
	})
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	pos, err := s.view(ctx, account)
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	pos.RatioBps, pos.RatioError = formatRatio(ratio), ""
	writeJSON(w, http.StatusOK, pos)
}

func (s *Server) redeem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Account   string `json:"account"`
		Synthetic string `json:"synthetic"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	account, err := s.resolveAccount(r, req.Account)
	if err != nil {
		s.writeAccountError(w, r, err)
		return
	}
	syntheticIn, err := parseAmount(req.Synthetic)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_amount", err.Error())
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	var out *big.Int
	err = s.run(ctx, "redeem", func(ctx context.Context) error {
		var err error
		out, err = s.engine.Redeem(ctx, account, syntheticIn)
		return err
	})
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"account": account.String(), "collateralOut": out.String()})
}

func (s *Server) liquidate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Liquidator string `json:"liquidator"`
		Borrower   string `json:"borrower"`
		Repay      string `json:"repay"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	liquidator, err := s.resolveAccount(r, req.Liquidator)
	if err != nil {
		s.writeAccountError(w, r, err)
		return
	}
	borrower, err := crypto.DecodeAddress(strings.TrimSpace(req.Borrower))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_account", err.Error())
		return
	}
	repay, err := parseAmount(req.Repay)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_amount", err.Error())
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	var seized *big.Int
	err = s.run(ctx, "liquidate", func(ctx context.Context) error {
		var err error
		seized, err = s.engine.Liquidate(ctx, liquidator, borrower, repay)
		return err
	})
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"liquidator": liquidator.String(),
		"borrower":   borrower.String(),
		"seized":     seized.String(),
	})
}

func (s *Server) adminCaller(w http.ResponseWriter, r *http.Request) (crypto.Address, bool) {
	who, ok := callerFrom(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "missing identity")
		return crypto.Address{}, false
	}
	return who.account, true
}

func (s *Server) adminDone(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	s.getParams(w, r)
}

func (s *Server) setRatios(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.adminCaller(w, r)
	if !ok {
		return
	}
	var req struct {
		TargetRatioBps uint64 `json:"targetRatioBps"`
		MinRatioBps    uint64 `json:"minRatioBps"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	s.adminDone(w, r, s.run(ctx, "set_ratios", func(ctx context.Context) error {
		return s.engine.SetRatios(ctx, caller, req.TargetRatioBps, req.MinRatioBps)
	}))
}

func (s *Server) setBonus(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.adminCaller(w, r)
	if !ok {
		return
	}
	var req struct {
		LiquidationBonusBps uint64 `json:"liquidationBonusBps"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	s.adminDone(w, r, s.run(ctx, "set_liquidation_bonus", func(ctx context.Context) error {
		return s.engine.SetLiquidationBonus(ctx, caller, req.LiquidationBonusBps)
	}))
}

func (s *Server) pause(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.adminCaller(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	s.adminDone(w, r, s.run(ctx, "pause", func(ctx context.Context) error {
		return s.engine.Pause(ctx, caller)
	}))
}

func (s *Server) unpause(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.adminCaller(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	s.adminDone(w, r, s.run(ctx, "unpause", func(ctx context.Context) error {
		return s.engine.Unpause(ctx, caller)
	}))
}

// publishPrice pushes a reading into a manual feed. Chainlink backed kinds are
// not publishable and report unknown_feed.
func (s *Server) publishPrice(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.adminCaller(w, r)
	if !ok {
		return
	}
	kind, err := synth.ParseFeedKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeEngineError(w, r, err)
		return
	}
	feed, ok := s.feeds[kind]
	if !ok || feed == nil {
		writeError(w, r, http.StatusNotFound, "unknown_feed", "feed "+string(kind)+" does not accept published prices")
		return
	}
	var req struct {
		Price string `json:"price"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	err = s.run(ctx, "publish_price", func(ctx context.Context) error {
		if s.authorizer == nil || !s.authorizer.Authorize(ctx, caller, synth.ActionSetPriceFeed) {
			return synth.ErrUnauthorized
		}
		return feed.PublishString(req.Price)
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"feed": string(kind), "price": strings.TrimSpace(req.Price)})
	case errors.Is(err, synth.ErrUnauthorized):
		writeEngineError(w, r, err)
	default:
		writeError(w, r, http.StatusBadRequest, "invalid_price", err.Error())
	}
}
