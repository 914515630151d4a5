package rest

import (
	"net/http"
	"strconv"

	"github.com/KevinKickass/OpenStageCore/internal/stage"
	"github.com/KevinKickass/OpenStageCore/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MoveRequest carries either a mapping or a sequence in axis order.
type MoveRequest struct {
	Position          map[string]float64 `json:"position"`
	Sequence          []float64          `json:"sequence"`
	BlockCancellation bool               `json:"block_cancellation"`
}

type InvertRequest struct {
	Axis string `json:"axis" binding:"required"`
}

type XYZRequest struct {
	XYZ []float64 `json:"xyz" binding:"required"`
}

type XYZResponse struct {
	XYZ [3]int `json:"xyz"`
}

func (s *Server) lookupStage(c *gin.Context) (*stage.Stage, bool) {
	name := c.Param("name")
	st, ok := s.lm.DeviceManager().GetStage(name)
	if !ok {
		c.JSON(http.StatusNotFound, types.NewErrorResponse(types.CodeStageNotFound, "Stage not found", name))
		return nil, false
	}
	return st, true
}

// GET /api/v1/stages
func (s *Server) listStages(c *gin.Context) {
	stages := s.lm.DeviceManager().ListStages()
	props := make([]stage.Properties, 0, len(stages))
	for _, st := range stages {
		props = append(props, st.Properties())
	}
	c.JSON(http.StatusOK, gin.H{
		"stages": props,
		"count":  len(props),
	})
}

// GET /api/v1/stages/:name
func (s *Server) getStage(c *gin.Context) {
	st, ok := s.lookupStage(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, st.Properties())
}

// POST /api/v1/stages/:name/move_relative
func (s *Server) moveRelative(c *gin.Context) {
	s.handleMove(c, stage.MoveRelative)
}

// POST /api/v1/stages/:name/move_absolute
func (s *Server) moveAbsolute(c *gin.Context) {
	s.handleMove(c, stage.MoveAbsolute)
}

func (s *Server) handleMove(c *gin.Context, kind stage.MoveKind) {
	st, ok := s.lookupStage(c)
	if !ok {
		return
	}

	var req MoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeStageBadRequest, "Invalid request body", err.Error()))
		return
	}
	if (req.Position == nil) == (req.Sequence == nil) {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeStageBadRequest,
			"Exactly one of position or sequence is required", nil))
		return
	}

	ctx := c.Request.Context()
	var err error
	if req.Position != nil {
		var p stage.Position
		if p, err = stage.PositionFromFloats(req.Position); err == nil {
			if kind == stage.MoveRelative {
				err = st.MoveRelative(ctx, p, req.BlockCancellation)
			} else {
				err = st.MoveAbsolute(ctx, p, req.BlockCancellation)
			}
		}
	} else {
		var seq []int
		if seq, err = sequenceFromFloats(req.Sequence); err == nil {
			if kind == stage.MoveRelative {
				err = st.MoveRelativeSequence(ctx, seq, req.BlockCancellation)
			} else {
				err = st.MoveAbsoluteSequence(ctx, seq, req.BlockCancellation)
			}
		}
	}
	if err != nil {
		respondStageError(c, "Move failed", err)
		return
	}

	s.logger.Info("Stage moved",
		zap.String("stage", st.Name()),
		zap.String("kind", string(kind)),
		zap.Any("position", st.Position()))

	c.JSON(http.StatusOK, st.Properties())
}

// POST /api/v1/stages/:name/invert_axis_direction
func (s *Server) invertAxisDirection(c *gin.Context) {
	st, ok := s.lookupStage(c)
	if !ok {
		return
	}

	var req InvertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeStageBadRequest, "Invalid request body", err.Error()))
		return
	}

	if err := st.InvertAxisDirection(c.Request.Context(), req.Axis); err != nil {
		respondStageError(c, "Failed to invert axis", err)
		return
	}
	c.JSON(http.StatusOK, st.Properties())
}

// POST /api/v1/stages/:name/set_zero_position
func (s *Server) setZeroPosition(c *gin.Context) {
	st, ok := s.lookupStage(c)
	if !ok {
		return
	}
	if err := st.SetZeroPosition(c.Request.Context()); err != nil {
		respondStageError(c, "Failed to set zero position", err)
		return
	}
	c.JSON(http.StatusOK, st.Properties())
}

// POST /api/v1/stages/:name/refresh
func (s *Server) refreshStage(c *gin.Context) {
	st, ok := s.lookupStage(c)
	if !ok {
		return
	}
	if err := st.Refresh(c.Request.Context()); err != nil {
		respondStageError(c, "Failed to refresh position", err)
		return
	}
	c.JSON(http.StatusOK, st.Properties())
}

// GET /api/v1/stages/:name/xyz_position
func (s *Server) getXYZPosition(c *gin.Context) {
	st, ok := s.lookupStage(c)
	if !ok {
		return
	}
	xyz, err := st.XYZPosition()
	if err != nil {
		respondStageError(c, "Stage has no xyz axes", err)
		return
	}
	c.JSON(http.StatusOK, XYZResponse{XYZ: xyz})
}

// POST /api/v1/stages/:name/xyz_position
func (s *Server) moveToXYZPosition(c *gin.Context) {
	st, ok := s.lookupStage(c)
	if !ok {
		return
	}

	var req XYZRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeStageBadRequest, "Invalid request body", err.Error()))
		return
	}
	if len(req.XYZ) != 3 {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeStageBadRequest, "xyz needs exactly three values", nil))
		return
	}
	values, err := sequenceFromFloats(req.XYZ)
	if err != nil {
		respondStageError(c, "Invalid xyz position", err)
		return
	}

	if err := st.MoveToXYZPosition(c.Request.Context(), [3]int{values[0], values[1], values[2]}); err != nil {
		respondStageError(c, "Move failed", err)
		return
	}
	xyz, _ := st.XYZPosition()
	c.JSON(http.StatusOK, XYZResponse{XYZ: xyz})
}

// GET /api/v1/stages/:name/moves?limit=50
func (s *Server) listMoves(c *gin.Context) {
	st, ok := s.lookupStage(c)
	if !ok {
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeStageBadRequest, "Invalid limit", raw))
			return
		}
		limit = n
	}

	moves, err := s.lm.Storage().ListMoves(c.Request.Context(), st.Name(), limit)
	if err != nil {
		s.logger.Error("Failed to list moves", zap.String("stage", st.Name()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeDatabase, "Failed to list moves", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"moves": moves,
		"count": len(moves),
	})
}

func sequenceFromFloats(values []float64) ([]int, error) {
	out := make([]int, len(values))
	for i, v := range values {
		n, err := stage.Steps(v)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}
