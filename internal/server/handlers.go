package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"image-pipeline/internal/catalog"
	"image-pipeline/internal/metrics"
	"image-pipeline/internal/params"
	"image-pipeline/internal/pipeline"
	"image-pipeline/internal/storage"
)

type operationsResponse struct {
	Operations []catalog.Entry             `json:"operations"`
	Categories map[string]catalog.Category `json:"categories"`
}

func (s *Server) listOperations(c echo.Context) error {
	entries, err := catalog.Operations(s.readRegistry(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, operationsResponse{
		Operations: entries,
		Categories: catalog.Categories(),
	})
}

type paramsResponse struct {
	ID     string        `json:"id"`
	Schema params.Schema `json:"schema"`
	Params params.Values `json:"params"`
}

func (s *Server) getParams(c echo.Context) error {
	reg := s.readRegistry(c)
	id := c.Param("id")

	schema, err := reg.Schema(id)
	if err != nil {
		return err
	}
	values, err := reg.Params(id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, paramsResponse{ID: id, Schema: schema, Params: values})
}

func (s *Server) putParams(c echo.Context) error {
	reg, err := s.registryFor(c)
	if err != nil {
		return err
	}
	id := c.Param("id")

	schema, err := reg.Schema(id)
	if err != nil {
		return err
	}

	var overrides params.Values
	if err := json.NewDecoder(c.Request().Body).Decode(&overrides); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid parameter body")
	}
	if s.pipeline.StrictParams {
		if err := params.Validate(schema, overrides); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}

	values, err := reg.SetParams(id, overrides)
	if err != nil {
		return err
	}
	metrics.ParamUpdatesTotal.WithLabelValues(id).Inc()
	return c.JSON(http.StatusOK, paramsResponse{ID: id, Schema: schema, Params: values})
}

// ProcessResponse mirrors what the browser client consumes
type ProcessResponse struct {
	Success             bool                  `json:"success"`
	RunID               string                `json:"run_id"`
	Image               string                `json:"image"`
	IntermediateResults map[string]string     `json:"intermediate_results"`
	ProcessingTime      int64                 `json:"processing_time"`
	Skipped             []string              `json:"skipped"`
	Steps               []pipeline.StepReport `json:"steps,omitempty"`
}

func (s *Server) process(c echo.Context) error {
	data, err := s.readUpload(c)
	if err != nil {
		return err
	}

	var steps []pipeline.Step
	if err := decodeFormJSON(c, "pipeline", &steps); err != nil {
		return err
	}
	var previews []int
	if err := decodeFormJSON(c, "preview_steps", &previews); err != nil {
		return err
	}

	src, err := s.codec.Decode(data)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid image format")
	}
	defer src.Close()

	reg, err := s.registryFor(c)
	if err != nil {
		return err
	}
	executor := pipeline.New(reg, s.pipeline)
	result, err := executor.Run(c.Request().Context(), src, steps, previews)
	if err != nil {
		return err
	}
	defer result.Close()

	image, err := s.codec.DataURL(result.Image)
	if err != nil {
		return err
	}
	intermediate := make(map[string]string, len(result.Snapshots))
	for key, snapshot := range result.Snapshots {
		encoded, err := s.codec.DataURL(snapshot)
		if err != nil {
			return err
		}
		intermediate[key] = encoded
	}

	return c.JSON(http.StatusOK, ProcessResponse{
		Success:             true,
		RunID:               result.RunID,
		Image:               image,
		IntermediateResults: intermediate,
		ProcessingTime:      result.ElapsedMS(),
		Skipped:             result.SkippedIDs(),
		Steps:               result.Steps,
	})
}

func (s *Server) readUpload(c echo.Context) ([]byte, error) {
	header, err := c.FormFile("image")
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "no image provided")
	}
	if header.Size > s.maxUpload {
		return nil, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "image too large")
	}

	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, s.maxUpload+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) > s.maxUpload {
		return nil, echo.NewHTTPError(http.StatusRequestEntityTooLarge, "image too large")
	}
	return data, nil
}

// decodeFormJSON decodes an optional JSON form field into dst
func decodeFormJSON(c echo.Context, field string, dst any) error {
	raw := c.FormValue(field)
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid "+field+" data format")
	}
	return nil
}

type runsResponse struct {
	Runs   []storage.RunRecord `json:"runs"`
	Stats  storage.Stats       `json:"stats"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

func (s *Server) listRuns(c echo.Context) error {
	if s.history == nil {
		return echo.NewHTTPError(http.StatusNotFound, "run history is disabled")
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if limit < 1 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	ctx := c.Request().Context()
	runs, err := s.history.GetRuns(ctx, limit, offset)
	if err != nil {
		return err
	}
	stats, err := s.history.GetStats(ctx)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, runsResponse{Runs: runs, Stats: stats, Limit: limit, Offset: offset})
}

func (s *Server) getRun(c echo.Context) error {
	if s.history == nil {
		return echo.NewHTTPError(http.StatusNotFound, "run history is disabled")
	}
	run, err := s.history.GetRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run)
}

type healthResponse struct {
	Status     string    `json:"status"`
	Version    string    `json:"version,omitempty"`
	Uptime     string    `json:"uptime"`
	Operations int       `json:"operations"`
	Sessions   int       `json:"sessions"`
	ReportedAt time.Time `json:"reported_at"`
}

func (s *Server) health(c echo.Context) error {
	status := healthResponse{
		Status:     "healthy",
		Version:    s.version,
		Uptime:     time.Since(s.startTime).Round(time.Second).String(),
		Operations: len(s.registry.Kinds()),
		ReportedAt: time.Now(),
	}
	if s.sessions != nil {
		status.Sessions = s.sessions.Len()
	}
	return c.JSON(http.StatusOK, status)
}
