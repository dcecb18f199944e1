package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ChainPilot/internal/agent"
	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/task"
	"ChainPilot/pkg/logger"
)

// APIKeyHeader 是携带访问密钥的请求头。
const APIKeyHeader = "X-API-Key"

// Asker 定义同步问答所需的智能体能力。
type Asker interface {
	Ask(ctx context.Context, q agent.Question) (*agent.Answer, error)
}

// Server 负责暴露 REST 接口，供外部驱动智能体执行。
type Server struct {
	addr         string
	apiKey       string
	asker        Asker
	tasks        *task.Service
	defaultChain string
	account      string
	log          *slog.Logger
}

// Option 定义可选的 Server 配置。
type Option func(*Server)

// WithAPIKey 启用共享密钥鉴权。
func WithAPIKey(key string) Option {
	return func(s *Server) {
		s.apiKey = strings.TrimSpace(key)
	}
}

// WithSessionContext 配置注入会话的默认链与账户。
func WithSessionContext(chain, account string) Option {
	return func(s *Server) {
		s.defaultChain = chain
		s.account = account
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, asker Asker, tasks *task.Service, opts ...Option) *Server {
	s := &Server{
		addr:  addr,
		asker: asker,
		tasks: tasks,
		log:   logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回完整的路由与中间件链，便于测试复用。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/v1/ask", s.requireKey(s.handleAsk))
	mux.HandleFunc("/api/v1/tasks", s.requireKey(s.handleTasks))
	mux.HandleFunc("/api/v1/tasks/", s.requireKey(s.handleTaskDetail))
	mux.HandleFunc("/api/v1/stats", s.requireKey(s.handleStats))
	return mux
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) requireKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && r.Header.Get(APIKeyHeader) != s.apiKey {
			writeError(w, http.StatusUnauthorized, "无效的 API 密钥")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// AskRequest 是同步问答的请求体。链可以指定为已配置链之一，
// 账户始终来自服务端配置，请求中的账户字段不被接受。
type AskRequest struct {
	Question string `json:"question"`
	Chain    string `json:"chain,omitempty"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "仅支持 POST")
		return
	}
	if s.asker == nil {
		writeError(w, http.StatusServiceUnavailable, "智能体未初始化")
		return
	}

	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体解析失败")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question 不能为空")
		return
	}

	chain := strings.TrimSpace(req.Chain)
	if chain == "" {
		chain = s.defaultChain
	}
	answer, err := s.asker.Ask(r.Context(), agent.Question{
		Text:    req.Question,
		Chain:   chain,
		Account: s.account,
	})
	if err != nil {
		s.log.Error("同步问答失败", slog.Any("error", err))
		writeCodedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmitTask(w, r)
	case http.MethodGet:
		s.handleListTasks(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "仅支持 GET/POST")
	}
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "任务服务未初始化")
		return
	}
	var req task.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体解析失败")
		return
	}
	// 会话上下文由服务端决定，覆盖请求中的链与账户。
	if strings.TrimSpace(req.Chain) == "" {
		req.Chain = s.defaultChain
	}
	req.Account = s.account

	created, err := s.tasks.Submit(r.Context(), req)
	if err != nil {
		writeCodedError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "任务服务未初始化")
		return
	}
	opts := listOptionsFromQuery(r)
	results, err := s.tasks.List(r.Context(), opts...)
	if err != nil {
		writeCodedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "仅支持 GET")
		return
	}
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "任务服务未初始化")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/tasks/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "任务 ID 缺失")
		return
	}
	found, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		writeCodedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "仅支持 GET")
		return
	}
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "任务服务未初始化")
		return
	}
	stats, err := s.tasks.Stats(r.Context())
	if err != nil {
		writeCodedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func listOptionsFromQuery(r *http.Request) []task.ListOption {
	query := r.URL.Query()
	opts := make([]task.ListOption, 0, 4)
	if raw := query.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, task.WithLimit(parsed))
		}
	}
	if raw := query.Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, task.WithOffset(parsed))
		}
	}
	if raw := query.Get("status"); raw != "" {
		statuses := make([]task.Status, 0, 4)
		for _, piece := range strings.Split(raw, ",") {
			statuses = append(statuses, task.Status(strings.TrimSpace(piece)))
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if raw := query.Get("q"); raw != "" {
		opts = append(opts, task.WithQuery(raw))
	}
	if query.Get("order") == "asc" {
		opts = append(opts, task.WithSortOrder(task.SortByUpdatedAsc))
	}
	return opts
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeCodedError 将统一错误码映射为 HTTP 状态码。
func writeCodedError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch xerrors.CodeOf(err) {
	case xerrors.CodeNotFound, task.CodeTaskNotFound:
		status = http.StatusNotFound
	case xerrors.CodeInvalidArgument, task.CodeTaskValidation:
		status = http.StatusBadRequest
	case xerrors.CodeConflict, task.CodeTaskConflict:
		status = http.StatusConflict
	case xerrors.CodeUpstreamFailure:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  string(xerrors.CodeOf(err)),
	})
}
