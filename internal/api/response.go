package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	xerrors "github.com/danielhardy/obru-ai/internal/errors"
	"github.com/danielhardy/obru-ai/internal/llm"
	"github.com/danielhardy/obru-ai/internal/task"
	"github.com/danielhardy/obru-ai/internal/workflow"
)

const maxBodyBytes = 1 << 20

// errorBody 是所有错误响应的格式。
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Code: code, Message: message})
}

// writeFailure 根据错误码选择 HTTP 状态并写出错误。
func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	code := xerrors.CodeOf(err)
	status := statusFor(code)
	message := err.Error()
	if e, ok := xerrors.From(err); ok {
		message = e.Detail()
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("请求处理失败",
			"method", r.Method,
			"path", r.URL.Path,
			"code", string(code),
			"error", err,
		)
	}
	writeError(w, status, string(code), message)
}

// statusFor 将错误码映射为 HTTP 状态码。
func statusFor(code xerrors.Code) int {
	switch {
	case code == xerrors.CodeNotFound, strings.HasSuffix(string(code), "_NOT_FOUND"):
		return http.StatusNotFound
	case code == xerrors.CodeInvalidArgument, code == task.CodeTaskValidation:
		return http.StatusBadRequest
	case code == xerrors.CodeUnauthenticated:
		return http.StatusUnauthorized
	case code == xerrors.CodeConflict, code == task.CodeTaskConflict:
		return http.StatusConflict
	case code == llm.CodeModelRequestFailed:
		return http.StatusBadGateway
	case code == xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case code == workflow.CodeWorkflowFailed:
		return http.StatusUnprocessableEntity
	case code == xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody 解码 JSON 请求体，空请求体视为参数错误。
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return xerrors.New(xerrors.CodeInvalidArgument, "请求体不能为空")
		}
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}

func requireField(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("%s 不能为空", name))
	}
	return nil
}
