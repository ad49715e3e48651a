package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	redemptiondomain "github.com/smallbiznis/edupass/internal/redemption/domain"
	tokendomain "github.com/smallbiznis/edupass/internal/studenttoken/domain"
	"github.com/smallbiznis/edupass/internal/token"
)

type issueStudentTokenRequest struct {
	StudentID flexibleID `json:"student_id"`
	SessionID flexibleID `json:"session_id"`
}

func (s *Server) IssueStudentToken(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req issueStudentTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.tokenSvc.Issue(c.Request.Context(), actor, tokendomain.IssueRequest{
		StudentID: req.StudentID.String(),
		SessionID: req.SessionID.String(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

type redeemRequest struct {
	Token          string     `json:"token"`
	GroupSessionID flexibleID `json:"group_session_id"`
}

type redeemResponse struct {
	OK               bool              `json:"ok"`
	StudentID        snowflake.ID      `json:"student_id"`
	CreditsRemaining int64             `json:"credits_remaining"`
	AttendanceID     snowflake.ID      `json:"attendance_id"`
	TokenKind        token.SubjectKind `json:"token_kind"`
	RecordedAt       time.Time         `json:"recorded_at"`
}

func (s *Server) RedeemAttendance(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req redeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		AbortWithError(c, newValidationError("token", "required", "token is required"))
		return
	}

	res, err := s.redemptionSvc.Redeem(c.Request.Context(), actor, redemptiondomain.RedeemRequest{
		Token:          strings.TrimSpace(req.Token),
		GroupSessionID: req.GroupSessionID.String(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": redeemResponse{
		OK:               true,
		StudentID:        res.StudentID,
		CreditsRemaining: res.CreditsRemaining,
		AttendanceID:     res.Attendance.ID,
		TokenKind:        res.TokenKind,
		RecordedAt:       res.RecordedAt,
	}})
}
