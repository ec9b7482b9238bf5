package api

import (
	"net/http"

	xerrors "github.com/danielhardy/obru-ai/internal/errors"
	"github.com/danielhardy/obru-ai/internal/jsonvalue"
	"github.com/danielhardy/obru-ai/internal/task"
)

type chatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Input     string `json:"input"`
}

type chatResponse struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

type workflowRequest struct {
	Input     string `json:"input"`
	SessionID string `json:"session_id,omitempty"`
	Async     bool   `json:"async,omitempty"`
}

type workflowResponse struct {
	SessionID string `json:"session_id,omitempty"`
	Output    string `json:"output"`
}

// catalogEntry 描述一个工具或工作流。
type catalogEntry struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Parameters  jsonvalue.Object `json:"parameters,omitempty"`
}

// handleChat 在会话上完成一轮对话，会话不存在时自动创建。
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if err := requireField("input", req.Input); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	id, reply, err := s.sessions.Chat(r.Context(), req.SessionID, req.Input)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{SessionID: id, Reply: reply})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sessions.List())
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := s.sessions.Messages(r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Reset(r.PathValue("id")); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdatePrompt(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	if err := s.sessions.UpdatePrompt(r.PathValue("id"), req.Prompt); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.sessions.Delete(id) {
		s.writeFailure(w, r, xerrors.Newf(xerrors.CodeNotFound, "会话 %q 不存在", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListTools(w http.ResponseWriter, _ *http.Request) {
	entries := []catalogEntry{}
	if s.tools != nil {
		for _, t := range s.tools.List() {
			entries = append(entries, catalogEntry{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
		}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, _ *http.Request) {
	entries := []catalogEntry{}
	if s.workflows != nil {
		for _, step := range s.workflows.List() {
			entries = append(entries, catalogEntry{Name: step.Name, Description: step.Description})
		}
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleRunWorkflow 同步执行工作流，async 为 true 时提交为后台任务并返回 202。
func (s *Server) handleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req workflowRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeFailure(w, r, err)
		return
	}

	if req.Async {
		if s.tasks == nil {
			s.writeFailure(w, r, xerrors.New(xerrors.CodeInitializationFailure, "未启用异步任务"))
			return
		}
		t, err := s.tasks.Submit(r.Context(), task.Request{
			Kind:      task.KindWorkflow,
			Workflow:  name,
			Input:     req.Input,
			SessionID: req.SessionID,
		})
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, t)
		return
	}

	id, output, err := s.sessions.RunWorkflow(r.Context(), req.SessionID, name, req.Input)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, workflowResponse{SessionID: id, Output: output})
}
