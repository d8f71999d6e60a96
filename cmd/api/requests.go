package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"oracleflow/bytes32"
	"oracleflow/voting"
)

func (s *Server) handleGetRequest(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	r, err := s.app.Votes.Request(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) handleRequestPrice(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	price, resolved, err := s.app.Votes.ResolvedPrice(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	body := gin.H{"request_id": id, "resolved": resolved}
	if resolved {
		body["price"] = strconv.FormatInt(price, 10)
	}
	c.JSON(http.StatusOK, body)
}

type voteView struct {
	Voter    string     `json:"voter"`
	Stake    string     `json:"stake"`
	Revealed bool       `json:"revealed"`
	Price    *string    `json:"price,omitempty"`
	Hash     bytes32.ID `json:"commit_hash"`
}

func (s *Server) handleRequestVotes(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	votes, err := s.app.Votes.Votes(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	items := make([]voteView, 0, len(votes))
	for _, v := range votes {
		view := voteView{Voter: v.Voter, Stake: v.Stake.Dec(), Revealed: v.Revealed, Hash: v.CommitHash}
		if v.Revealed && v.Price != nil {
			p := strconv.FormatInt(*v.Price, 10)
			view.Price = &p
		}
		items = append(items, view)
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

type openRequestBody struct {
	Identifier string    `json:"identifier" binding:"required"`
	Time       time.Time `json:"time" binding:"required"`
	Ancillary  string    `json:"ancillary"`
}

func (s *Server) handleOpenRequest(c *gin.Context) {
	var req openRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	identifier, err := parseTag(req.Identifier)
	if err != nil {
		badRequest(c, "identifier must be hex or a tag of at most 32 bytes")
		return
	}
	r, err := s.app.Votes.OpenRequest(c.Request.Context(), account(c), identifier, req.Time, []byte(req.Ancillary))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (s *Server) handleAdvance(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	r, err := s.app.Votes.AdvanceToReveal(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

type revealBody struct {
	Price string `json:"price" binding:"required"`
	Salt  string `json:"salt" binding:"required"`
}

func (s *Server) handleReveal(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req revealBody
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	price, err := strconv.ParseInt(req.Price, 10, 64)
	if err != nil {
		badRequest(c, "price must be a signed 64-bit integer")
		return
	}
	salt, err := bytes32.Parse(req.Salt)
	if err != nil {
		badRequest(c, "salt must be 64 hex characters")
		return
	}
	v, err := s.app.Votes.RevealVote(c.Request.Context(), account(c), id, price, salt)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request_id": v.RequestID, "voter": v.Voter, "revealed": v.Revealed})
}

func (s *Server) handleResolve(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	out, err := s.app.Votes.ResolvePrice(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	status := http.StatusOK
	if out.Status != voting.OutcomeResolved {
		status = http.StatusAccepted
	}
	c.JSON(status, out)
}

func (s *Server) handleRetryRelease(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	sum, err := s.app.Votes.RetryStakeRelease(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

type emergencyBody struct {
	Price  string `json:"price" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

func (s *Server) handleEmergency(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req emergencyBody
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	price, err := strconv.ParseInt(req.Price, 10, 64)
	if err != nil {
		badRequest(c, "price must be a signed 64-bit integer")
		return
	}
	r, err := s.app.Votes.EmergencyResolvePrice(c.Request.Context(), account(c), id, price, req.Reason)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}
