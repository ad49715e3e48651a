package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	groupdomain "github.com/smallbiznis/edupass/internal/group/domain"
)

type createGroupRequest struct {
	Name        string `json:"name"`
	Subject     string `json:"subject"`
	MaxStudents int    `json:"max_students"`
}

func (s *Server) CreateGroup(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req createGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.groupSvc.Create(c.Request.Context(), actor, groupdomain.CreateGroupRequest{
		Name:        strings.TrimSpace(req.Name),
		Subject:     strings.TrimSpace(req.Subject),
		MaxStudents: req.MaxStudents,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) GetGroup(c *gin.Context) {
	if _, ok := requireActor(c); !ok {
		return
	}

	resp, err := s.groupSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type enrollRequest struct {
	StudentIDs []flexibleID `json:"student_ids"`
}

func (s *Server) EnrollGroup(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req enrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.groupSvc.Enroll(c.Request.Context(), actor, groupdomain.EnrollRequest{
		GroupID:    strings.TrimSpace(c.Param("id")),
		StudentIDs: flexibleIDs(req.StudentIDs),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
