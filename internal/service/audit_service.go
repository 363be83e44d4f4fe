package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/feedlog/internal/db"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// Audit actions.
const (
	AuditActionCreatePost         = "CREATE_POST"
	AuditActionPermanentDelete    = "PERMANENT_DELETE"
	AuditActionCreateUser         = "CREATE_USER"
	AuditActionUpdateUser         = "UPDATE_USER"
	AuditActionDeleteUser         = "DELETE_USER"
	AuditActionResetPassword      = "RESET_PASSWORD"
	AuditActionChangePassword     = "CHANGE_PASSWORD"
	AuditActionDeleteAllUserPosts = "DELETE_ALL_USER_POSTS"
	AuditActionCleanup            = "CLEANUP"
)

const (
	DefaultAuditQueueSize = 256
	DefaultAuditLimit     = 20
	MaxAuditLimit         = 50
)

// AuditSink persists or forwards a recorded audit entry.
type AuditSink interface {
	Write(ctx context.Context, entry db.AuditLog) error
}

// GormAuditSink appends entries to the audit_logs table.
type GormAuditSink struct {
	db *gorm.DB
}

// NewGormAuditSink creates a GormAuditSink.
func NewGormAuditSink(gdb *gorm.DB) *GormAuditSink {
	return &GormAuditSink{db: gdb}
}

func (s *GormAuditSink) Write(ctx context.Context, entry db.AuditLog) error {
	return s.db.WithContext(ctx).Create(&entry).Error
}

// AuditRecorder 是审计日志的 outbox：主操作只负责入队，后台 worker 依次写入各个 sink。
// Record 永不阻塞，也不会把 sink 的错误传回调用方。
type AuditRecorder struct {
	queue chan queuedAudit
	sinks []AuditSink
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewAuditRecorder starts the background worker.
func NewAuditRecorder(queueSize int, sinks ...AuditSink) *AuditRecorder {
	if queueSize <= 0 {
		queueSize = DefaultAuditQueueSize
	}
	r := &AuditRecorder{
		queue: make(chan queuedAudit, queueSize),
		sinks: sinks,
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

// queuedAudit keeps the caller's span so sinks can link to the request trace.
type queuedAudit struct {
	entry db.AuditLog
	span  trace.SpanContext
}

func (r *AuditRecorder) run() {
	defer close(r.done)
	for item := range r.queue {
		entry := item.entry
		base := context.Background()
		if item.span.IsValid() {
			base = trace.ContextWithRemoteSpanContext(base, item.span)
		}
		for _, sink := range r.sinks {
			ctx, cancel := context.WithTimeout(base, 5*time.Second)
			if err := sink.Write(ctx, entry); err != nil {
				slog.Error("failed to write audit entry",
					"action", entry.Action,
					"target_table", entry.TargetTable,
					"target_id", entry.TargetID,
					"error", err,
				)
			}
			cancel()
		}
	}
}

// Record enqueues an audit entry. details is stored as JSON. The span of ctx,
// if any, is handed to the sinks; ctx cancellation does not drop the entry.
// A nil recorder is a no-op.
func (r *AuditRecorder) Record(ctx context.Context, actorID, action, targetTable, targetID string, details any) {
	if r == nil {
		return
	}

	entry := db.AuditLog{
		ID:          uuid.NewString(),
		UserID:      actorID,
		Action:      action,
		TargetTable: targetTable,
		TargetID:    targetID,
		Details:     encodeAuditDetails(details),
		Timestamp:   time.Now().UTC(),
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		slog.Warn("audit recorder closed, dropping entry", "action", action, "target_id", targetID)
		return
	}
	select {
	case r.queue <- queuedAudit{entry: entry, span: trace.SpanContextFromContext(ctx)}:
	default:
		slog.Warn("audit queue full, dropping entry", "action", action, "target_id", targetID)
	}
}

// Close stops accepting entries and waits until queued ones are written or
// ctx expires.
func (r *AuditRecorder) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func encodeAuditDetails(details any) string {
	switch v := details.(type) {
	case nil:
		return "{}"
	case string:
		return v
	}
	raw, err := json.Marshal(details)
	if err != nil {
		slog.Warn("failed to encode audit details", "error", err)
		return "{}"
	}
	return string(raw)
}

// AuditLogView is an audit entry joined with the acting user's name.
type AuditLogView struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Username    string    `json:"username"`
	Action      string    `json:"action"`
	TargetTable string    `json:"targetTable"`
	TargetID    string    `json:"targetId"`
	Details     string    `json:"details"`
	Timestamp   time.Time `json:"timestamp"`
}

// AuditFilter describes audit list filters.
type AuditFilter struct {
	Search      string
	Action      string
	TargetTable string
	StartDate   *time.Time
	EndDate     *time.Time
	SortBy      string
	Order       string
	Page        int
	Limit       int
}

// AuditListResult aggregates a page of audit entries.
type AuditListResult struct {
	Logs       []AuditLogView `json:"logs"`
	TotalCount int64          `json:"totalCount"`
	TotalPages int            `json:"totalPages"`
	Page       int            `json:"page"`
	Limit      int            `json:"limit"`
}

var auditSortColumns = map[string]string{
	"timestamp":   "audit_logs.timestamp",
	"username":    "users.username",
	"action":      "audit_logs.action",
	"targetTable": "audit_logs.target_table",
}

// AuditService 提供审计日志的查询。
type AuditService struct {
	db *gorm.DB
}

// NewAuditService creates an AuditService.
func NewAuditService(gdb *gorm.DB) *AuditService {
	return &AuditService{db: gdb}
}

// List returns a filtered, sorted page of audit entries. Admin only.
func (s *AuditService) List(ctx context.Context, actor *Actor, filter AuditFilter) (*AuditListResult, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	page := normalizePage(filter.Page)
	limit := filter.Limit
	if limit == 0 {
		limit = DefaultAuditLimit
	}
	limit = clampLimit(limit, MaxAuditLimit)
	offset, ok := pageOffset(page, limit)

	query := s.db.WithContext(ctx).
		Table("audit_logs").
		Joins("LEFT JOIN users ON users.id = audit_logs.user_id")

	if search := strings.TrimSpace(filter.Search); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		query = query.Where(
			"LOWER(users.username) LIKE ? OR LOWER(audit_logs.action) LIKE ? OR LOWER(audit_logs.target_table) LIKE ? OR LOWER(audit_logs.target_id) LIKE ? OR LOWER(audit_logs.details) LIKE ?",
			like, like, like, like, like,
		)
	}
	if action := strings.TrimSpace(filter.Action); action != "" {
		query = query.Where("audit_logs.action = ?", action)
	}
	if table := strings.TrimSpace(filter.TargetTable); table != "" {
		query = query.Where("audit_logs.target_table = ?", table)
	}
	if filter.StartDate != nil {
		query = query.Where("audit_logs.timestamp >= ?", *filter.StartDate)
	}
	if filter.EndDate != nil {
		// 结束日期包含当天
		end := filter.EndDate.Add(24 * time.Hour)
		query = query.Where("audit_logs.timestamp < ?", end)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, err
	}

	column, ok := auditSortColumns[filter.SortBy]
	if !ok {
		column = auditSortColumns["timestamp"]
	}
	direction := "desc"
	if strings.EqualFold(filter.Order, "asc") {
		direction = "asc"
	}

	logs := make([]AuditLogView, 0)
	if !ok {
		return &AuditListResult{Logs: logs, TotalCount: total, TotalPages: calculateTotalPages(total, limit), Page: page, Limit: limit}, nil
	}
	if err := query.
		Select("audit_logs.id, audit_logs.user_id, COALESCE(users.username, '') AS username, audit_logs.action, audit_logs.target_table, audit_logs.target_id, audit_logs.details, audit_logs.timestamp").
		Order(column + " " + direction).
		Order("audit_logs.id " + direction).
		Limit(limit).
		Offset(offset).
		Scan(&logs).Error; err != nil {
		return nil, err
	}

	return &AuditListResult{
		Logs:       logs,
		TotalCount: total,
		TotalPages: calculateTotalPages(total, limit),
		Page:       page,
		Limit:      limit,
	}, nil
}
