// README: Shared handler helpers: error mapping and param parsing.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"wasla/internal/modules/debt"
	"wasla/internal/modules/ride"
)

func writeRideError(c *gin.Context, err error) {
	var active *ride.ActiveRideError
	switch {
	case errors.As(err, &active):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "active ride exists",
			"ride_id": active.RideID,
			"status":  active.Status,
		})
	case errors.Is(err, ride.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "ride not found"})
	case errors.Is(err, ride.ErrBadRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
	case errors.Is(err, ride.ErrInvalidState),
		errors.Is(err, ride.ErrNotPending),
		errors.Is(err, ride.ErrAlreadyTaken),
		errors.Is(err, ride.ErrDriverBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, ride.ErrDebtBlocked):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, ride.ErrNotAssignedDriver):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func writeDebtError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, debt.ErrDriverNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "driver not found"})
	case errors.Is(err, debt.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return def
	}
	return v
}
