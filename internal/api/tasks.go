package api

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	xerrors "github.com/danielhardy/obru-ai/internal/errors"
	"github.com/danielhardy/obru-ai/internal/task"
)

func (s *Server) taskService(w http.ResponseWriter, r *http.Request) (*task.Service, bool) {
	if s.tasks == nil {
		s.writeFailure(w, r, xerrors.New(xerrors.CodeInitializationFailure, "未启用异步任务"))
		return nil, false
	}
	return s.tasks, true
}

// handleCreateTask 提交后台任务。
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.taskService(w, r)
	if !ok {
		return
	}
	var req task.Request
	if err := decodeBody(w, r, &req); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	t, err := svc.Submit(r.Context(), req)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, t)
}

// handleTaskDetail 返回单个任务的状态。
func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.taskService(w, r)
	if !ok {
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		s.writeFailure(w, r, xerrors.New(xerrors.CodeInvalidArgument, "缺少任务 ID"))
		return
	}
	t, err := svc.Get(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.taskService(w, r)
	if !ok {
		return
	}
	opts, err := parseListOptions(r.URL.Query())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	tasks, err := svc.List(r.Context(), opts...)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.taskService(w, r)
	if !ok {
		return
	}
	opts, err := parseListOptions(r.URL.Query())
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	stats, err := svc.Stats(r.Context(), opts...)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// parseListOptions 解析列表查询参数：limit、offset、status、kind、session_id、
// q、order（asc/desc）、since/until（RFC3339 或 Unix 秒）与 has_result。
func parseListOptions(q url.Values) ([]task.ListOption, error) {
	var opts []task.ListOption
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "limit 参数无效: %q", raw)
		}
		opts = append(opts, task.WithLimit(limit))
	}
	if raw := q.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "offset 参数无效: %q", raw)
		}
		opts = append(opts, task.WithOffset(offset))
	}
	if raw := q.Get("status"); raw != "" {
		var statuses []task.Status
		for _, part := range strings.Split(raw, ",") {
			status := task.Status(strings.ToLower(strings.TrimSpace(part)))
			if !task.IsValidStatus(status) {
				return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "未知的任务状态 %q", part)
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if raw := q.Get("kind"); raw != "" {
		var kinds []task.Kind
		for _, part := range strings.Split(raw, ",") {
			kinds = append(kinds, task.Kind(strings.ToLower(strings.TrimSpace(part))))
		}
		opts = append(opts, task.WithKinds(kinds...))
	}
	if raw := q.Get("session_id"); raw != "" {
		opts = append(opts, task.WithSessionID(raw))
	}
	if raw := q.Get("q"); raw != "" {
		opts = append(opts, task.WithQuery(raw))
	}
	switch strings.ToLower(q.Get("order")) {
	case "", "desc":
	case "asc":
		opts = append(opts, task.WithSortOrder(task.SortByUpdatedAsc))
	default:
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "order 参数无效: %q", q.Get("order"))
	}
	if raw := q.Get("since"); raw != "" {
		ts, err := parseTime(raw)
		if err != nil {
			return nil, err
		}
		opts = append(opts, task.WithUpdatedSince(ts))
	}
	if raw := q.Get("until"); raw != "" {
		ts, err := parseTime(raw)
		if err != nil {
			return nil, err
		}
		opts = append(opts, task.WithUpdatedUntil(ts))
	}
	if raw := q.Get("has_result"); raw != "" {
		has, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "has_result 参数无效: %q", raw)
		}
		opts = append(opts, task.WithResultPresence(has))
	}
	return opts, nil
}

func parseTime(raw string) (time.Time, error) {
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0), nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, xerrors.Wrapf(xerrors.CodeInvalidArgument, err, "时间参数无效: %q", raw)
	}
	return ts, nil
}
