package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/cklose2000/eventlake/pkg/apperr"
	"github.com/cklose2000/eventlake/pkg/models"
)

// submitEventHandler handles POST /api/v1/events. Submission always answers
// 200; rejection is data, not a transport failure.
func (s *Server) submitEventHandler(c *echo.Context) error {
	var req models.SubmitEventRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ActorID == "" {
		req.ActorID = extractActor(c)
	}

	e := req.Event()
	if err := s.eventLog.Emit(e); err != nil {
		s.countRejection(err)
		return c.JSON(http.StatusOK, &models.EventAck{
			EventID:  e.EventID,
			Accepted: false,
			Error:    errorBody(err),
		})
	}
	return c.JSON(http.StatusOK, &models.EventAck{EventID: e.EventID, Accepted: true})
}

// submitBatchHandler handles POST /api/v1/events/batch.
func (s *Server) submitBatchHandler(c *echo.Context) error {
	var req models.BatchSubmitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Events) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "events field is required")
	}

	actor := extractActor(c)
	resp := models.BatchSubmitResponse{Results: make([]models.EventAck, len(req.Events))}
	for i := range req.Events {
		if req.Events[i].ActorID == "" {
			req.Events[i].ActorID = actor
		}
		e := req.Events[i].Event()
		if err := s.eventLog.Emit(e); err != nil {
			s.countRejection(err)
			resp.Results[i] = models.EventAck{EventID: e.EventID, Error: errorBody(err)}
			continue
		}
		resp.Results[i] = models.EventAck{EventID: e.EventID, Accepted: true}
		resp.Accepted++
	}
	return c.JSON(http.StatusOK, &resp)
}

func (s *Server) countRejection(err error) {
	if s.metrics != nil {
		s.metrics.EventsRejected.WithLabelValues(string(apperr.KindOf(err))).Inc()
	}
}
