package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/smallnest/maizone/cron"
	"github.com/smallnest/maizone/internal/logger"
	"github.com/smallnest/maizone/types"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const maxBodySize = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("Failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func unavailable(w http.ResponseWriter, what string) {
	writeError(w, http.StatusServiceUnavailable, what+" is not configured")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		unavailable(w, "session manager")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Sessions.Status())
}

func (s *Server) handleSessionReset(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		unavailable(w, "session manager")
		return
	}
	s.deps.Sessions.Reset()
	logger.Info("Session reset via admin gateway")
	writeJSON(w, http.StatusOK, s.deps.Sessions.Status())
}

func (s *Server) handleQRCode(w http.ResponseWriter, r *http.Request) {
	if s.deps.QRCode == nil {
		unavailable(w, "qrcode login")
		return
	}
	png, ok := s.deps.QRCode.Latest()
	if !ok {
		writeError(w, http.StatusNotFound, "no qrcode is waiting to be scanned")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

type publishRequest struct {
	Topic string `json:"topic"`
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	if s.deps.Publisher == nil {
		unavailable(w, "publisher")
		return
	}
	var req publishRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
	}

	res, err := s.deps.Publisher.Publish(r.Context(), req.Topic)
	if err != nil {
		logger.Warn("Admin publish failed", zap.Error(err))
		writeError(w, statusFor(err), types.UserMessage(err))
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleSeen(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		unavailable(w, "seen store")
		return
	}
	records, err := s.deps.Store.List(r.Context(), r.URL.Query().Get("target"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records, "count": len(records)})
}

type jobView struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Enabled  bool      `json:"enabled"`
	LastRun  time.Time `json:"last_run,omitzero"`
	NextRun  time.Time `json:"next_run,omitzero"`
	RunCount int       `json:"run_count"`
	LastErr  string    `json:"last_error,omitempty"`
}

func (s *Server) jobViews() []jobView {
	out := []jobView{}
	for _, j := range s.deps.Jobs.ListJobs() {
		out = append(out, jobView{
			ID: j.ID, Name: j.Name, Schedule: j.Schedule, Enabled: j.Enabled,
			LastRun: j.LastRun, NextRun: j.NextRun, RunCount: j.RunCount, LastErr: j.LastErr,
		})
	}
	return out
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		unavailable(w, "scheduler")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": s.jobViews()})
}

// handleJobToggle 启用或暂停一个任务，例如临时关掉定时发说说
func (s *Server) handleJobToggle(enable bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Jobs == nil {
			unavailable(w, "scheduler")
			return
		}
		id := chi.URLParam(r, "id")
		if err := s.toggleJob(id, enable); err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, cron.ErrJobNotFound) {
				status = http.StatusNotFound
			}
			writeError(w, status, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": s.jobViews()})
	}
}

func (s *Server) toggleJob(id string, enable bool) error {
	var err error
	if enable {
		err = s.deps.Jobs.EnableJob(id)
	} else {
		err = s.deps.Jobs.DisableJob(id)
	}
	if err == nil {
		logger.Info("Job toggled via admin gateway", zap.String("job_id", id), zap.Bool("enabled", enable))
	}
	return err
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeJSON(w, http.StatusOK, errorResponse(nil, &RPCError{Code: codeParseError, Message: "failed to read request"}))
		return
	}
	req, rpcErr := parseRPC(body)
	if rpcErr != nil {
		var id json.RawMessage
		if req != nil {
			id = req.ID
		}
		writeJSON(w, http.StatusOK, errorResponse(id, rpcErr))
		return
	}
	resp, err := dispatch(r.Context(), s.methods, req)
	if err != nil {
		logger.Warn("RPC method failed", zap.String("method", req.Method), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, resp)
}

// rpcMethods RPC 方法，与 REST 接口一一对应
func (s *Server) rpcMethods() map[string]rpcMethod {
	return map[string]rpcMethod{
		"health": func(context.Context, gjson.Result) (any, error) {
			return map[string]any{"status": "ok", "time": time.Now().Unix()}, nil
		},
		"session.status": func(context.Context, gjson.Result) (any, error) {
			if s.deps.Sessions == nil {
				return nil, errors.New("session manager is not configured")
			}
			return s.deps.Sessions.Status(), nil
		},
		"session.reset": func(context.Context, gjson.Result) (any, error) {
			if s.deps.Sessions == nil {
				return nil, errors.New("session manager is not configured")
			}
			s.deps.Sessions.Reset()
			logger.Info("Session reset via admin gateway")
			return s.deps.Sessions.Status(), nil
		},
		"post.publish": func(ctx context.Context, params gjson.Result) (any, error) {
			if s.deps.Publisher == nil {
				return nil, errors.New("publisher is not configured")
			}
			topic, err := optionalString(params, "topic")
			if err != nil {
				return nil, err
			}
			return s.deps.Publisher.Publish(ctx, topic)
		},
		"jobs.list": func(context.Context, gjson.Result) (any, error) {
			if s.deps.Jobs == nil {
				return nil, errors.New("scheduler is not configured")
			}
			return s.jobViews(), nil
		},
		"jobs.enable": func(_ context.Context, params gjson.Result) (any, error) {
			return s.rpcToggleJob(params, true)
		},
		"jobs.disable": func(_ context.Context, params gjson.Result) (any, error) {
			return s.rpcToggleJob(params, false)
		},
		"seen.list": func(ctx context.Context, params gjson.Result) (any, error) {
			if s.deps.Store == nil {
				return nil, errors.New("seen store is not configured")
			}
			target, err := optionalString(params, "target")
			if err != nil {
				return nil, err
			}
			return s.deps.Store.List(ctx, target)
		},
	}
}

func (s *Server) rpcToggleJob(params gjson.Result, enable bool) (any, error) {
	if s.deps.Jobs == nil {
		return nil, errors.New("scheduler is not configured")
	}
	id, err := optionalString(params, "id")
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, invalidParams("id is required")
	}
	if err := s.toggleJob(id, enable); err != nil {
		if errors.Is(err, cron.ErrJobNotFound) {
			return nil, invalidParams("%v", err)
		}
		return nil, err
	}
	return s.jobViews(), nil
}

func statusFor(err error) int {
	switch {
	case types.IsAuth(err):
		return http.StatusServiceUnavailable
	case types.IsTransient(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
