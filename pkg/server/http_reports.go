package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/bugrelay/bugrelay/pkg/report"
)

// reportsHandler handles bug report submission
func (s *HTTP) reportsHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.config.SubmitTimeout)
	defer cancel()

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxBodyBytes)

	// Handle optional gzip compression
	reader, err := getBodyReader(c.Request, s.config.MaxBodyBytes)
	if err != nil {
		s.countRequest(http.StatusBadRequest)
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	defer reader.Close()

	var input report.Input
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&input); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.countRequest(http.StatusRequestEntityTooLarge)
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "report too large"})
			return
		}
		s.countRequest(http.StatusBadRequest)
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json report"})
		return
	}

	result, err := s.pipeline.Submit(ctx, &input)
	if err != nil {
		switch {
		case errors.Is(err, report.ErrMissingTitle):
			s.countRequest(http.StatusBadRequest)
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "title is required"})
		case errors.Is(err, report.ErrMalformedImage):
			s.countRequest(http.StatusBadRequest)
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "screenshot could not be decoded"})
		default:
			s.countRequest(http.StatusInternalServerError)
			_ = c.Error(err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "submission failed"})
		}
		return
	}

	s.countRequest(http.StatusAccepted)
	c.JSON(http.StatusAccepted, gin.H{
		"id":         result.ID,
		"suppressed": result.Suppressed,
	})
}

// countRequest records a request outcome by status code
func (s *HTTP) countRequest(status int) {
	if s.metric == nil {
		return
	}
	s.metric.RequestsReceived.WithLabelValues(strconv.Itoa(status)).Inc()
}
