package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/holiman/uint256"

	"oracleflow/bytes32"
	"oracleflow/params"
	"oracleflow/policy"
	"oracleflow/registry"
	"oracleflow/units"
)

func (s *Server) handleGetOracleParams(c *gin.Context) {
	p, err := s.app.Params.Oracle(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handleGetVotingParams(c *gin.Context) {
	p, err := s.app.Params.Voting(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Absent fields keep their current value. Durations use Go syntax ("2h").
type oracleParamsBody struct {
	ExpectedVersion    int64   `json:"expected_version"`
	Owner              *string `json:"owner"`
	BurnedBondFraction *string `json:"burned_bond_fraction"`
	DefaultLiveness    *string `json:"default_liveness"`
	DefaultCurrency    *string `json:"default_currency"`
	DefaultIdentifier  *string `json:"default_identifier"`
}

func (s *Server) handlePutOracleParams(c *gin.Context) {
	var req oracleParamsBody
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	var (
		burned     *uint256.Int
		liveness   time.Duration
		identifier bytes32.ID
		err        error
	)
	if req.BurnedBondFraction != nil {
		if burned, err = units.Parse(*req.BurnedBondFraction); err != nil {
			badRequest(c, "burned_bond_fraction must be a base-10 integer")
			return
		}
	}
	if req.DefaultLiveness != nil {
		if liveness, err = time.ParseDuration(*req.DefaultLiveness); err != nil {
			badRequest(c, "default_liveness must be a duration")
			return
		}
	}
	if req.DefaultIdentifier != nil {
		if identifier, err = parseTag(*req.DefaultIdentifier); err != nil {
			badRequest(c, "default_identifier must be hex or a tag of at most 32 bytes")
			return
		}
	}

	p, err := s.app.Params.UpdateOracle(c.Request.Context(), account(c), req.ExpectedVersion, func(p *params.OracleParams) {
		if req.Owner != nil {
			p.Owner = *req.Owner
		}
		if burned != nil {
			p.BurnedBondFraction = burned
		}
		if req.DefaultLiveness != nil {
			p.DefaultLiveness = liveness
		}
		if req.DefaultCurrency != nil {
			p.DefaultCurrency = *req.DefaultCurrency
		}
		if req.DefaultIdentifier != nil {
			p.DefaultIdentifier = identifier
		}
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type votingParamsBody struct {
	ExpectedVersion     int64   `json:"expected_version"`
	Owner               *string `json:"owner"`
	VotingToken         *string `json:"voting_token"`
	CommitDuration      *string `json:"commit_duration"`
	RevealDuration      *string `json:"reveal_duration"`
	MinParticipationBps *uint32 `json:"min_participation_bps"`
	SlashRateBps        *uint32 `json:"slash_rate_bps"`
	TreasuryBps         *uint32 `json:"treasury_bps"`
	MaxExtensions       *uint32 `json:"max_extensions"`
}

func (s *Server) handlePutVotingParams(c *gin.Context) {
	var req votingParamsBody
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	var commit, reveal time.Duration
	var err error
	if req.CommitDuration != nil {
		if commit, err = time.ParseDuration(*req.CommitDuration); err != nil {
			badRequest(c, "commit_duration must be a duration")
			return
		}
	}
	if req.RevealDuration != nil {
		if reveal, err = time.ParseDuration(*req.RevealDuration); err != nil {
			badRequest(c, "reveal_duration must be a duration")
			return
		}
	}

	p, err := s.app.Params.UpdateVoting(c.Request.Context(), account(c), req.ExpectedVersion, func(p *params.VotingParams) {
		if req.Owner != nil {
			p.Owner = *req.Owner
		}
		if req.VotingToken != nil {
			p.VotingToken = *req.VotingToken
		}
		if req.CommitDuration != nil {
			p.CommitDuration = commit
		}
		if req.RevealDuration != nil {
			p.RevealDuration = reveal
		}
		if req.MinParticipationBps != nil {
			p.MinParticipationBps = *req.MinParticipationBps
		}
		if req.SlashRateBps != nil {
			p.SlashRateBps = *req.SlashRateBps
		}
		if req.TreasuryBps != nil {
			p.TreasuryBps = *req.TreasuryBps
		}
		if req.MaxExtensions != nil {
			p.MaxExtensions = *req.MaxExtensions
		}
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) handlePutCurrency(c *gin.Context) {
	var req struct {
		Whitelisted bool   `json:"whitelisted"`
		FinalFee    string `json:"final_fee" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	fee, err := units.Parse(req.FinalFee)
	if err != nil {
		badRequest(c, "final_fee must be a base-10 integer")
		return
	}
	cur := registry.Currency{Address: c.Param("currency"), Whitelisted: req.Whitelisted, FinalFee: fee}
	if err := s.app.Registry.SetCurrency(c.Request.Context(), account(c), cur); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cur)
}

type allowedBody struct {
	Allowed *bool `json:"allowed" binding:"required"`
}

func (s *Server) handlePutIdentifier(c *gin.Context) {
	var req allowedBody
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	id, err := parseTag(c.Param("id"))
	if err != nil {
		badRequest(c, "identifier must be hex or a tag of at most 32 bytes")
		return
	}
	if err := s.app.Registry.SetIdentifier(c.Request.Context(), account(c), id, *req.Allowed); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"identifier": id, "allowed": *req.Allowed})
}

func (s *Server) handlePutRequester(c *gin.Context) {
	var req allowedBody
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := s.app.Registry.SetAuthorized(c.Request.Context(), account(c), c.Param("account"), *req.Allowed); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": c.Param("account"), "allowed": *req.Allowed})
}

func (s *Server) handlePutDirectory(c *gin.Context) {
	var req struct {
		Address string `json:"address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := s.app.Registry.SetAddress(c.Request.Context(), account(c), c.Param("name"), req.Address); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": c.Param("name"), "address": req.Address})
}

// handleArbitration records an escalation manager's ruling for a request key.
func (s *Server) handleArbitration(c *gin.Context) {
	var req struct {
		Key        string `json:"key" binding:"required"`
		Resolution *bool  `json:"resolution" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	key, err := bytes32.Parse(req.Key)
	if err != nil {
		badRequest(c, "key must be 64 hex characters")
		return
	}
	err = s.app.Policies.SetArbitrationResolution(c.Request.Context(), c.Param("manager"), account(c), key, *req.Resolution)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"manager": c.Param("manager"), "key": key, "resolution": *req.Resolution})
}

func (s *Server) handlePolicySettings(c *gin.Context) {
	var req policy.Settings
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := s.app.Policies.Configure(c.Param("manager"), account(c), req); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"manager": c.Param("manager"), "settings": req})
}

func (s *Server) handlePolicyList(c *gin.Context) {
	var req allowedBody
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	err := s.app.Policies.SetListed(c.Request.Context(), c.Param("manager"), account(c), c.Param("list"), c.Param("account"), *req.Allowed)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"manager": c.Param("manager"), "list": c.Param("list"), "account": c.Param("account"), "allowed": *req.Allowed})
}
