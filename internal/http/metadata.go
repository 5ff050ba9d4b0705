package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opwatch/opwatch/internal/metadata"
	"github.com/opwatch/opwatch/pkg/conversation"
)

type MetadataParams struct {
	Inbox  string `form:"inbox" json:"inbox" binding:"required"`
	Caller string `form:"caller" json:"caller"`
}

// Read Metadata

func (s *server) readMetadata(c *gin.Context) {
	var params MetadataParams
	if err := c.ShouldBindQuery(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	m, err := s.metadata.Get(c.Request.Context(), metadata.Args{
		ConversationId: c.Param("id"),
		InboxId:        params.Inbox,
	}, caller(params))
	if err != nil {
		c.JSON(errorStatus(err), gin.H{
			"error": err.Error(),
		})
		return
	}

	if m == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "metadata not found",
		})
		return
	}

	c.JSON(http.StatusOK, m)
}

// Update Metadata

func (s *server) updateMetadata(c *gin.Context) {
	var params MetadataParams
	if err := c.ShouldBindQuery(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	var patch conversation.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	if patch.Empty() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "at least one of deleted, pinned, unread must be provided",
		})
		return
	}

	m, err := s.metadata.Update(c.Request.Context(), metadata.Args{
		ConversationId: c.Param("id"),
		InboxId:        params.Inbox,
	}, &patch, caller(params))
	if err != nil {
		c.JSON(errorStatus(err), gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, m)
}

func caller(params MetadataParams) string {
	if params.Caller != "" {
		return params.Caller
	}
	return "http"
}
