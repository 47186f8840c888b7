package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/storepilot/backend/pkg/response"
)

// paramID parses a numeric path parameter. On failure it writes a 400 and
// returns false.
func paramID(c *gin.Context, name, label string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		response.BadRequest(c, "invalid "+label)
		return 0, false
	}
	return uint(id), true
}
