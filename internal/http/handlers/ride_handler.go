// README: Rider-facing ride REST endpoints.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"wasla/internal/http/middleware"
	"wasla/internal/modules/matching"
	"wasla/internal/modules/ride"
	"wasla/internal/types"
)

type RideHandler struct {
	rides   *ride.Service
	matcher *matching.Service
}

func NewRideHandler(rides *ride.Service, matcher *matching.Service) *RideHandler {
	return &RideHandler{rides: rides, matcher: matcher}
}

type createRideRequest struct {
	Pickup         types.Point `json:"pickup" binding:"required"`
	Dropoff        types.Point `json:"dropoff" binding:"required"`
	PickupAddress  *string     `json:"pickup_address"`
	DropoffAddress *string     `json:"dropoff_address"`
	DistanceKm     *float64    `json:"distance_km"`
	DurationMin    *float64    `json:"duration_min"`
}

func (h *RideHandler) Create(c *gin.Context) {
	var req createRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	r, err := h.rides.Create(c.Request.Context(), ride.CreateCommand{
		RiderID:        middleware.CallerID(c),
		Pickup:         req.Pickup,
		Dropoff:        req.Dropoff,
		PickupAddress:  req.PickupAddress,
		DropoffAddress: req.DropoffAddress,
		DistanceKm:     req.DistanceKm,
		DurationMin:    req.DurationMin,
	})
	if err != nil {
		writeRideError(c, err)
		return
	}
	offered, err := h.matcher.Dispatch(c.Request.Context(), r)
	if err != nil {
		// the row is committed; dispatch failure is not a create failure
		offered = 0
	}
	c.JSON(http.StatusCreated, gin.H{"ride": r, "drivers_notified": offered})
}

func (h *RideHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	r, err := h.rides.Get(c.Request.Context(), id)
	if err != nil {
		writeRideError(c, err)
		return
	}
	caller := middleware.CallerID(c)
	if r.RiderID != caller && (r.DriverID == nil || *r.DriverID != caller) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ride": r})
}

func (h *RideHandler) Active(c *gin.Context) {
	r, err := h.rides.ActiveForRider(c.Request.Context(), middleware.CallerID(c))
	if err != nil {
		writeRideError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ride": r})
}

func (h *RideHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	r, err := h.rides.Cancel(c.Request.Context(), id, middleware.CallerID(c))
	if err != nil {
		writeRideError(c, err)
		return
	}
	h.matcher.BroadcastCancelled(c.Request.Context(), r.ID, r.DriverID)
	c.JSON(http.StatusOK, gin.H{"ride": r})
}

func statusFilter(c *gin.Context) *ride.Status {
	if raw := c.Query("status"); raw != "" {
		s := ride.Status(raw)
		return &s
	}
	return nil
}

func (h *RideHandler) ListByRider(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	rides, total, err := h.rides.ListForRider(c.Request.Context(), id,
		statusFilter(c), queryInt(c, "limit", 20), queryInt(c, "offset", 0))
	if err != nil {
		writeRideError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rides": rides, "total": total})
}

func (h *RideHandler) ListByDriver(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	rides, total, err := h.rides.ListForDriver(c.Request.Context(), id,
		statusFilter(c), queryInt(c, "limit", 20), queryInt(c, "offset", 0))
	if err != nil {
		writeRideError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rides": rides, "total": total})
}
