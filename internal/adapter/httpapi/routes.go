package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"cronagent/internal/domain"
	"cronagent/internal/manage"
	"cronagent/internal/shared"
	"cronagent/internal/store"
)

type settingBody struct {
	Value string `json:"value"`
}

type systemBody struct {
	System bool `json:"system"`
}

type instanceSystemBody struct {
	domain.InstanceKey
	System bool `json:"system"`
}

func forced(c *gin.Context) bool {
	v, _ := strconv.ParseBool(c.Query("force"))
	return v
}

func queryInt(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, shared.Validationf("query %s: invalid value %q", name, raw)
	}
	return n, nil
}

// --- settings ---

func (s *Server) listSettings(c *gin.Context) {
	all, err := s.svc.Settings(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, all)
}

func (s *Server) getSetting(c *gin.Context) {
	all, err := s.svc.Settings(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	key := c.Param("key")
	v, ok := all[key]
	if !ok {
		s.fail(c, fmt.Errorf("%w: setting %q", shared.ErrNotFound, key))
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": v})
}

func (s *Server) putSetting(c *gin.Context) {
	var body settingBody
	if err := bind(c, &body); err != nil {
		s.fail(c, err)
		return
	}
	key := c.Param("key")
	v, err := s.svc.SetSetting(c.Request.Context(), key, body.Value)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": v})
}

// --- tasks ---

func (s *Server) listTasks(c *gin.Context) {
	tasks, err := s.svc.ListTasks(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	c.JSON(http.StatusOK, tasks)
}

func (s *Server) getTask(c *gin.Context) {
	t, err := s.svc.GetTask(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) putTask(c *gin.Context) {
	var in manage.TaskInput
	if err := bind(c, &in); err != nil {
		s.fail(c, err)
		return
	}
	in.Name = c.Param("name")
	t, err := s.svc.UpsertTask(c.Request.Context(), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) deleteTask(c *gin.Context) {
	if err := s.svc.DeleteTask(c.Request.Context(), c.Param("name"), forced(c)); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) putTaskSystem(c *gin.Context) {
	var body systemBody
	if err := bind(c, &body); err != nil {
		s.fail(c, err)
		return
	}
	if err := s.svc.SetTaskSystem(c.Request.Context(), c.Param("name"), body.System); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- instances ---

// listInstances returns one entry when instance is given, otherwise the
// entries of task (or all of them).
func (s *Server) listInstances(c *gin.Context) {
	var key domain.InstanceKey
	if err := c.ShouldBindQuery(&key); err != nil {
		s.fail(c, shared.Validationf("query: %v", err))
		return
	}
	ctx := c.Request.Context()
	if key.Instance > 0 {
		inst, err := s.svc.GetInstance(ctx, key)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, inst)
		return
	}
	list, err := s.svc.ListInstances(ctx, key.Task)
	if err != nil {
		s.fail(c, err)
		return
	}
	if list == nil {
		list = []domain.Instance{}
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) putInstance(c *gin.Context) {
	var in manage.InstanceInput
	if err := bind(c, &in); err != nil {
		s.fail(c, err)
		return
	}
	inst, err := s.svc.UpsertInstance(c.Request.Context(), in)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, inst)
}

func (s *Server) deleteInstance(c *gin.Context) {
	var key domain.InstanceKey
	if err := c.ShouldBindQuery(&key); err != nil {
		s.fail(c, shared.Validationf("query: %v", err))
		return
	}
	if key.Task == "" {
		s.fail(c, shared.Validationf("query task is required"))
		return
	}
	if err := s.svc.DeleteInstance(c.Request.Context(), key, forced(c)); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) putInstanceSystem(c *gin.Context) {
	var body instanceSystemBody
	if err := bind(c, &body); err != nil {
		s.fail(c, err)
		return
	}
	if err := s.svc.SetInstanceSystem(c.Request.Context(), body.InstanceKey, body.System); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- journal ---

func (s *Server) logs(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		s.fail(c, err)
		return
	}
	events, err := s.svc.Logs(c.Request.Context(), store.LogFilter{
		Task:  c.Query("task"),
		RunBy: domain.ClaimToken(c.Query("run_by")),
		Limit: limit,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	if events == nil {
		events = []domain.LogEvent{}
	}
	c.JSON(http.StatusOK, events)
}
