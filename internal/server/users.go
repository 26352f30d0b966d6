package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/ecopoints/internal/ledger/domain"
	"github.com/smallbiznis/ecopoints/internal/streak"
	userdomain "github.com/smallbiznis/ecopoints/internal/user/domain"
	"github.com/smallbiznis/ecopoints/pkg/db/pagination"
)

type createUserRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	CountryCode string `json:"country_code"`
}

func (s *Server) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	user, err := s.users.Create(c.Request.Context(), userdomain.CreateUserRequest{
		Email:       req.Email,
		DisplayName: req.DisplayName,
		CountryCode: req.CountryCode,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": user})
}

func (s *Server) GetUser(c *gin.Context) {
	userID, err := parsePathID(c, "user_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	user, err := s.users.Get(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": user})
}

type recordLoginRequest struct {
	Date string `json:"date"`
}

// RecordLogin advances the user's streak. An explicit date replays a login
// for that calendar day; the default is today.
func (s *Server) RecordLogin(c *gin.Context) {
	userID, err := parsePathID(c, "user_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req recordLoginRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	date, err := parseOptionalTime(req.Date)
	if err != nil {
		AbortWithError(c, newValidationError("date", "invalid_date", "invalid date"))
		return
	}

	var result streak.AdvanceResult
	if date != nil {
		result, err = s.streaks.Advance(c.Request.Context(), userID, *date)
	} else {
		result, err = s.streaks.Login(c.Request.Context(), userID)
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) GetStreak(c *gin.Context) {
	userID, err := parsePathID(c, "user_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	info, err := s.streaks.GetInfo(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": info})
}

func (s *Server) GetPoints(c *gin.Context) {
	userID, err := parsePathID(c, "user_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	balance, err := s.ledger.Balance(ctx, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	history, err := s.ledger.History(ctx, ledgerdomain.HistoryRequest{UserID: userID, Pagination: query})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"balance": balance,
		"history": history,
	}})
}

func (s *Server) ReconcilePoints(c *gin.Context) {
	userID, err := parsePathID(c, "user_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if _, err := s.users.Get(c.Request.Context(), userID); err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.ledger.Reconcile(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"reconciliation": result,
		"consistent":     result.Consistent(),
	}})
}

type redeemRequest struct {
	RewardID   string `json:"reward_id"`
	RewardName string `json:"reward_name"`
	Cost       int64  `json:"cost"`
}

func (s *Server) RedeemReward(c *gin.Context) {
	userID, err := parsePathID(c, "user_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req redeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	rewardID := strings.TrimSpace(req.RewardID)
	if rewardID == "" {
		AbortWithError(c, newValidationError("reward_id", "required", "reward_id is required"))
		return
	}

	entry, err := s.ledger.RedeemReward(c.Request.Context(), ledgerdomain.RedeemRequest{
		UserID:     userID,
		RewardID:   rewardID,
		RewardName: req.RewardName,
		Cost:       req.Cost,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entry})
}
