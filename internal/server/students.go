package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	creditdomain "github.com/smallbiznis/edupass/internal/credit/domain"
	groupdomain "github.com/smallbiznis/edupass/internal/group/domain"
	studentdomain "github.com/smallbiznis/edupass/internal/student/domain"
	"github.com/smallbiznis/edupass/pkg/db/pagination"
)

type createStudentRequest struct {
	Name     string       `json:"name"`
	Phone    string       `json:"phone"`
	GroupIDs []flexibleID `json:"group_ids"`
}

type createStudentResponse struct {
	Student  studentdomain.Student        `json:"student"`
	Enrolled []groupdomain.EnrollResponse `json:"enrolled,omitempty"`
}

// CreateStudent registers a student and optionally enrolls them in groups.
// Enrollment failures are returned after the student exists, so a retry
// should go through the enroll endpoint.
func (s *Server) CreateStudent(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req createStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	student, err := s.studentSvc.Create(ctx, actor, studentdomain.CreateStudentRequest{
		Name:  strings.TrimSpace(req.Name),
		Phone: strings.TrimSpace(req.Phone),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := createStudentResponse{Student: student}
	for _, groupID := range req.GroupIDs {
		enrolled, err := s.groupSvc.Enroll(ctx, actor, groupdomain.EnrollRequest{
			GroupID:    groupID.String(),
			StudentIDs: []string{student.ID.String()},
		})
		if err != nil {
			AbortWithError(c, err)
			return
		}
		resp.Enrolled = append(resp.Enrolled, enrolled)
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListStudents(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var query struct {
		pagination.Pagination
		Name   string `form:"name"`
		Status string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.studentSvc.List(c.Request.Context(), actor, studentdomain.ListStudentRequest{
		Name:      strings.TrimSpace(query.Name),
		Status:    strings.TrimSpace(query.Status),
		PageToken: query.PageToken,
		PageSize:  query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetStudent(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	resp, err := s.studentSvc.Get(c.Request.Context(), actor, strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeactivateStudent(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	resp, err := s.studentSvc.Deactivate(c.Request.Context(), actor, strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type recordPaymentRequest struct {
	Amount       int64          `json:"amount"`
	CreditsAdded int64          `json:"credits_added"`
	Method       string         `json:"method"`
	Reference    string         `json:"reference"`
	Notes        string         `json:"notes"`
	Metadata     map[string]any `json:"metadata"`
}

func (s *Server) RecordPayment(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var req recordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.creditSvc.ApplyPayment(c.Request.Context(), actor, creditdomain.PaymentRequest{
		StudentID:    strings.TrimSpace(c.Param("id")),
		Amount:       req.Amount,
		CreditsAdded: req.CreditsAdded,
		Method:       strings.TrimSpace(req.Method),
		Reference:    strings.TrimSpace(req.Reference),
		Notes:        strings.TrimSpace(req.Notes),
		Metadata:     req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListStudentAttendance(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	resp, err := s.creditSvc.ListAttendance(c.Request.Context(), actor, strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListStudentLedger(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	resp, err := s.creditSvc.Entries(c.Request.Context(), actor, strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ReconcileStudent(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	resp, err := s.creditSvc.Reconcile(c.Request.Context(), actor, strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListPayments(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}

	var query struct {
		pagination.Pagination
		StudentID string `form:"student_id"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.creditSvc.ListPayments(c.Request.Context(), actor, creditdomain.ListPaymentRequest{
		StudentID: strings.TrimSpace(query.StudentID),
		PageToken: query.PageToken,
		PageSize:  query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
