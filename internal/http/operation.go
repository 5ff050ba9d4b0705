package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// List Operations

type ListOperationsParams struct {
	Name string `form:"name" json:"name"`
}

func (s *server) listOperations(c *gin.Context) {
	var params ListOperationsParams
	if err := c.ShouldBindQuery(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	operations := s.ledger.Snapshot()
	if params.Name != "" {
		filtered := operations[:0]
		for _, op := range operations {
			if op.Name == params.Name {
				filtered = append(filtered, op)
			}
		}
		operations = filtered
	}

	c.JSON(http.StatusOK, gin.H{
		"count":      len(operations),
		"operations": operations,
	})
}

// Read Operation

func (s *server) readOperation(c *gin.Context) {
	op, ok := s.ledger.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "operation not found",
		})
		return
	}

	c.JSON(http.StatusOK, op)
}
