package main

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/holiman/uint256"

	"oracleflow/assertion"
	"oracleflow/auth"
	"oracleflow/deposit"
	"oracleflow/ledger"
	"oracleflow/units"
)

func (s *Server) handleRegister(c *gin.Context) {
	var req auth.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	acct, err := s.app.Auth.Register(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": acct.ID, "account": acct.Name, "role": acct.Role})
}

func (s *Server) handleLogin(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	res, err := s.app.Auth.Login(c.Request.Context(), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": res.Token, "account": res.Account.Name, "role": res.Account.Role})
}

type depositRequest struct {
	Currency string `json:"currency" binding:"required"`
	Sender   string `json:"sender" binding:"required"`
	Receiver string `json:"receiver" binding:"required"`
	Amount   string `json:"amount" binding:"required"`
	Msg      string `json:"msg" binding:"required"`
}

// handleDeposit is called by the ledger after it credited an escrow. A
// non-2xx answer carries the refund the ledger must send back.
func (s *Server) handleDeposit(c *gin.Context) {
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	amount, err := units.Parse(req.Amount)
	if err != nil {
		badRequest(c, "amount must be a base-10 integer")
		return
	}
	res, err := s.app.Deposits.Handle(c.Request.Context(), ledger.Deposit{
		Currency: req.Currency,
		Sender:   req.Sender,
		Receiver: req.Receiver,
		Amount:   amount,
		Msg:      req.Msg,
	})
	if err != nil {
		c.Header("X-Refund", amount.Dec())
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleGetAssertion(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	a, err := s.app.Assertions.Get(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) handleAssertionResult(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	truthful, err := s.app.Assertions.Result(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assertion_id": id, "truthful": truthful})
}

func (s *Server) handleAssertionEvents(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	events, err := s.app.Assertions.Events(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": events})
}

func (s *Server) handleAssertionPayouts(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	legs, err := s.app.Assertions.Payouts(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": legs})
}

func (s *Server) handleSettle(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	a, err := s.app.Assertions.Settle(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	status := http.StatusOK
	if a.PayoutStatus == assertion.PayoutPending {
		status = http.StatusAccepted
	}
	c.JSON(status, a)
}

func (s *Server) handleRetryPayout(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	a, err := s.app.Assertions.RetrySettlementPayout(c.Request.Context(), account(c), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) handleOwnerResolve(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Resolution *bool `json:"resolution" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	a, err := s.app.Assertions.ResolveDisputedAssertion(c.Request.Context(), account(c), id, *req.Resolution)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) handleMinimumBond(c *gin.Context) {
	minBond, err := s.app.Assertions.MinimumBond(c.Request.Context(), c.Param("currency"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"currency": c.Param("currency"), "minimum_bond": minBond.Dec()})
}

func (s *Server) handleCurrencyWhitelisted(c *gin.Context) {
	ok, err := s.app.Assertions.IsCurrencyWhitelisted(c.Request.Context(), c.Param("currency"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"currency": c.Param("currency"), "whitelisted": ok})
}

func (s *Server) handleIdentifierWhitelisted(c *gin.Context) {
	id, err := parseTag(c.Param("id"))
	if err != nil {
		badRequest(c, "identifier must be hex or a tag of at most 32 bytes")
		return
	}
	ok, err := s.app.Assertions.IsIdentifierWhitelisted(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"identifier": id, "whitelisted": ok})
}

type receiverFunc func(d ledger.Deposit) (*uint256.Int, error)

func (f receiverFunc) OnTransfer(_ context.Context, d ledger.Deposit) (*uint256.Int, error) {
	return f(d)
}

type devTransfer struct {
	Currency string `json:"currency" binding:"required"`
	To       string `json:"to"`
	Amount   string `json:"amount" binding:"required"`
	Msg      string `json:"msg"`
}

// handleDevMint credits an account on the in-memory ledger, the caller when
// no recipient is named.
func (s *Server) handleDevMint(c *gin.Context) {
	var req devTransfer
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	amount, err := units.Parse(req.Amount)
	if err != nil {
		badRequest(c, "amount must be a base-10 integer")
		return
	}
	to := req.To
	if to == "" {
		to = account(c)
	}
	s.app.Memory.Mint(req.Currency, to, amount)
	c.JSON(http.StatusOK, gin.H{"account": to, "balance": s.app.Memory.Balance(req.Currency, to).Dec()})
}

// handleDevTransferCall moves funds from the caller to an escrow and hands the
// message to the deposit receiver, refunding whatever it rejects.
func (s *Server) handleDevTransferCall(c *gin.Context) {
	var req devTransfer
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	amount, err := units.Parse(req.Amount)
	if err != nil {
		badRequest(c, "amount must be a base-10 integer")
		return
	}

	var res deposit.Result
	recv := receiverFunc(func(d ledger.Deposit) (*uint256.Int, error) {
		var err error
		res, err = s.app.Deposits.Handle(c.Request.Context(), d)
		if err != nil {
			return d.Amount.Clone(), err
		}
		return units.Zero(), nil
	})
	refund, err := s.app.Memory.TransferCall(c.Request.Context(), req.Currency, account(c), req.To, amount, req.Msg, recv)
	if err != nil {
		if refund != nil {
			c.Header("X-Refund", refund.Dec())
		}
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
