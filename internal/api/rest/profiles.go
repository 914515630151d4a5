package rest

import (
	"errors"
	"io/fs"
	"net/http"

	"github.com/KevinKickass/OpenStageCore/internal/types"
	"github.com/gin-gonic/gin"
	"gopkg.in/yaml.v3"
)

// GET /api/v1/profiles
func (s *Server) listProfiles(c *gin.Context) {
	summaries, err := s.lm.DeviceManager().Loader().List()
	if err != nil && len(summaries) == 0 {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeProfileInternal, "Failed to list profiles", err.Error()))
		return
	}

	resp := gin.H{
		"profiles": summaries,
		"count":    len(summaries),
	}
	if err != nil {
		resp["warnings"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// GET /api/v1/profiles/:id?format=yaml
func (s *Server) getProfile(c *gin.Context) {
	id := c.Param("id")
	def, err := s.lm.DeviceManager().Loader().Load(id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.JSON(http.StatusNotFound, types.NewErrorResponse(types.CodeProfileNotFound, "Profile not found", id))
			return
		}
		c.JSON(http.StatusUnprocessableEntity, types.NewErrorResponse(types.CodeProfileInvalid, "Invalid profile", err.Error()))
		return
	}

	if c.Query("format") == "yaml" {
		out, err := yaml.Marshal(def)
		if err != nil {
			c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeProfileInternal, "Failed to encode profile", err.Error()))
			return
		}
		c.Data(http.StatusOK, "application/yaml", out)
		return
	}
	c.JSON(http.StatusOK, def)
}
