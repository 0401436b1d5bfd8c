// README: Driver listing endpoints.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"wasla/internal/modules/matching"
	"wasla/internal/types"
)

type DriverHandler struct {
	matcher *matching.Service
}

func NewDriverHandler(matcher *matching.Service) *DriverHandler {
	return &DriverHandler{matcher: matcher}
}

// Nearby lists online drivers around a point with their last known locations.
func (h *DriverHandler) Nearby(c *gin.Context) {
	lat, latErr := strconv.ParseFloat(c.Query("lat"), 64)
	lng, lngErr := strconv.ParseFloat(c.Query("lng"), 64)
	if latErr != nil || lngErr != nil || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid coordinates"})
		return
	}
	drivers, err := h.matcher.NearbyWithLocations(c.Request.Context(), types.Point{Lat: lat, Lng: lng})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"drivers": drivers})
}
