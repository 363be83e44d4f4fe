package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/feedlog/internal/db"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrChatMessageRequired = errors.New("message is required and cannot be empty")
	ErrChatMessageTooLong  = errors.New("message is too long (max 1000 characters)")
)

const (
	MaxChatMessageLength = 1000
	DefaultChatLimit     = 50
	MaxChatLimit         = 200

	// ChatStreamErrorMessage is the message of the terminal error event.
	ChatStreamErrorMessage = "Failed to load messages"
)

// ChatMessageView is a chat message joined with its author.
type ChatMessageView struct {
	ID        string        `json:"id"`
	Message   string        `json:"message"`
	AuthorID  string        `json:"authorId"`
	CreatedAt time.Time     `json:"createdAt"`
	Author    AuthorSummary `json:"author"`
}

type chatRow struct {
	ID         string
	Message    string
	AuthorID   string
	AuthorName string
	CreatedAt  time.Time
}

func (r chatRow) view() ChatMessageView {
	return ChatMessageView{
		ID:        r.ID,
		Message:   r.Message,
		AuthorID:  r.AuthorID,
		CreatedAt: r.CreatedAt,
		Author:    AuthorSummary{ID: r.AuthorID, Username: r.AuthorName},
	}
}

// ChatEmitter receives chat stream events in order.
type ChatEmitter interface {
	Metadata(hasMore bool, total int) error
	Message(msg any) error
	Complete() error
	Error(message string) error
}

// ChatService 负责聊天室消息的写入与按时间顺序读取。
type ChatService struct {
	db           *gorm.DB
	fetchTimeout time.Duration
}

// NewChatService creates a ChatService. fetchTimeout bounds each read; zero
// means no extra bound.
func NewChatService(gdb *gorm.DB, fetchTimeout time.Duration) *ChatService {
	return &ChatService{db: gdb, fetchTimeout: fetchTimeout}
}

func (s *ChatService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.fetchTimeout > 0 {
		return context.WithTimeout(ctx, s.fetchTimeout)
	}
	return context.WithCancel(ctx)
}

// Send stores a message from the actor. The message is trimmed and must
// hold 1..MaxChatMessageLength characters.
func (s *ChatService) Send(ctx context.Context, actor *Actor, message string) (*ChatMessageView, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(message)
	if text == "" {
		return nil, ErrChatMessageRequired
	}
	if utf8.RuneCountInString(text) > MaxChatMessageLength {
		return nil, ErrChatMessageTooLong
	}

	msg := db.ChatMessage{
		ID:        uuid.NewString(),
		AuthorID:  actor.ID,
		Message:   text,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Omit("Author").Create(&msg).Error; err != nil {
		return nil, fmt.Errorf("send chat message: %w", err)
	}

	view := chatRow{ID: msg.ID, Message: msg.Message, AuthorID: msg.AuthorID, AuthorName: actor.Username, CreatedAt: msg.CreatedAt}.view()
	return &view, nil
}

// Recent returns up to limit messages skipping the offset newest ones,
// ordered oldest first. hasMore reports whether older messages remain.
func (s *ChatService) Recent(ctx context.Context, offset, limit int) ([]ChatMessageView, bool, error) {
	if offset < 0 {
		offset = 0
	}
	limit = clampLimit(limit, MaxChatLimit)

	fetchCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	var rows []chatRow
	if err := s.db.WithContext(fetchCtx).
		Table("chat_messages").
		Select("chat_messages.id, chat_messages.message, chat_messages.author_id, chat_messages.created_at, users.username AS author_name").
		Joins("JOIN users ON users.id = chat_messages.author_id").
		Order("chat_messages.created_at desc").
		Order("chat_messages.id desc").
		Limit(limit + 1).
		Offset(offset).
		Scan(&rows).Error; err != nil {
		return nil, false, err
	}

	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}
	// 查询按新到旧，展示按旧到新
	views := make([]ChatMessageView, len(rows))
	for i, row := range rows {
		views[len(rows)-1-i] = row.view()
	}
	return views, hasMore, nil
}

// Stream writes metadata, one message event per message (oldest first), then
// complete. A failed read yields a single error event. When ctx is cancelled
// it stops without a terminal event.
func (s *ChatService) Stream(ctx context.Context, offset, limit int, out ChatEmitter) error {
	messages, hasMore, err := s.Recent(ctx, offset, limit)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Error("failed to stream chat messages", "offset", offset, "limit", limit, "error", err)
		return out.Error(ChatStreamErrorMessage)
	}

	if err := out.Metadata(hasMore, len(messages)); err != nil {
		return err
	}
	for _, msg := range messages {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := out.Message(msg); err != nil {
			return err
		}
	}
	return out.Complete()
}
