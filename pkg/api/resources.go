package api

import (
	"net/http"

	"github.com/cuemby/nimbus/pkg/projector"
	"github.com/cuemby/nimbus/pkg/types"
	"github.com/labstack/echo/v4"
)

// Resource actions accepted by POST /resources/:id/:action
const (
	ActionStart   = "start"
	ActionStop    = "stop"
	ActionRestart = "restart"
	ActionRetry   = "retry"
)

func (s *Server) listResources(c echo.Context) error {
	var (
		recs []*types.ResourceRecord
		err  error
	)
	if kind := types.Kind(c.QueryParam("kind")); kind != "" {
		if !kind.Valid() {
			return &types.ValidationError{Field: "kind", Message: "unknown kind " + string(kind)}
		}
		recs, err = s.store.ListByKind(kind)
	} else {
		recs, err = s.store.List()
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, projector.ProjectAll(recs))
}

func (s *Server) getResource(c echo.Context) error {
	rec, err := s.store.Get(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, projector.Project(rec))
}

func bindRequest(c echo.Context) (*types.ResourceRequest, error) {
	req := new(types.ResourceRequest)
	if err := c.Bind(req); err != nil {
		return nil, &types.ValidationError{Message: "can not understand the requested json"}
	}
	return req, nil
}

func (s *Server) createResource(c echo.Context) error {
	req, err := bindRequest(c)
	if err != nil {
		return err
	}
	rec, err := s.store.Put(req.Record())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, projector.Project(rec))
}

// updateResource merges a spec change into an existing resource. Options
// set to "" are removed.
func (s *Server) updateResource(c echo.Context) error {
	id := c.Param("id")
	existing, err := s.store.Get(id)
	if err != nil {
		return err
	}
	req, err := bindRequest(c)
	if err != nil {
		return err
	}
	if req.Kind != "" && req.Kind != existing.Kind {
		return &types.ValidationError{Field: "kind", Message: "kind of " + id + " cannot change"}
	}

	rec, err := s.store.Put(&types.ResourceRecord{
		ID:   id,
		Kind: existing.Kind,
		Name: req.Name,
		Spec: req.Spec,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, projector.Project(rec))
}

func (s *Server) deleteResource(c echo.Context) error {
	rec, err := s.store.Delete(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, projector.Project(rec))
}

func (s *Server) resourceAction(c echo.Context) error {
	id := c.Param("id")

	var (
		rec *types.ResourceRecord
		err error
	)
	switch action := c.Param("action"); action {
	case ActionStart:
		rec, err = s.store.SetRunning(id, true)
	case ActionStop:
		rec, err = s.store.SetRunning(id, false)
	case ActionRestart:
		rec, err = s.store.Restart(id)
	case ActionRetry:
		rec, err = s.store.Retry(id)
	default:
		return echo.NewHTTPError(http.StatusNotFound, "unknown action "+action)
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, projector.Project(rec))
}

func (s *Server) dashboardStats(c echo.Context) error {
	recs, err := s.store.List()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, projector.Summarize(projector.ProjectAll(recs)))
}
