package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/feedlog/internal/db"
	"gorm.io/gorm"
)

const (
	DefaultFeedLimit    = 5
	DefaultFeedMaxLimit = 20

	// StreamErrorMessage is the message of the terminal error event.
	StreamErrorMessage = "Failed to load posts"
)

// Cursor identifies a feed page.
type Cursor struct {
	Page  int
	Limit int
}

// FeedFilter narrows the feed, e.g. to a single author.
type FeedFilter struct {
	AuthorID string
}

// AuthorSummary is the author display data attached to each post.
type AuthorSummary struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// PostSummary is a post row joined with its author's username, without media.
type PostSummary struct {
	ID         string
	Text       string
	AuthorID   string
	AuthorName string
	CreatedAt  time.Time
}

// AssembledPost is a post summary joined with author and ordered media.
type AssembledPost struct {
	ID        string        `json:"id"`
	Text      string        `json:"text"`
	HTML      string        `json:"html"`
	AuthorID  string        `json:"authorId"`
	CreatedAt time.Time     `json:"createdAt"`
	Author    AuthorSummary `json:"author"`
	Media     []db.Media    `json:"media"`
}

// FeedPage is the non-streaming page response.
type FeedPage struct {
	Posts   []AssembledPost `json:"posts"`
	HasMore bool            `json:"hasMore"`
}

// FeedEmitter receives stream events in order. Implementations flush each
// event to the client as it is written.
type FeedEmitter interface {
	Metadata(hasMore bool, total int) error
	Post(post any) error
	Complete() error
	Error(message string) error
}

// FeedOptions tunes the feed assembler.
type FeedOptions struct {
	MaxLimit     int
	FetchTimeout time.Duration
	StreamDelay  time.Duration
}

// FeedService assembles feed pages from posts, users and media.
type FeedService struct {
	db   *gorm.DB
	opts FeedOptions
}

// NewFeedService creates a FeedService instance.
func NewFeedService(gdb *gorm.DB, opts FeedOptions) *FeedService {
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = DefaultFeedMaxLimit
	}
	return &FeedService{db: gdb, opts: opts}
}

// NormalizeCursor clamps page to >= 1 and limit to [1, MaxLimit].
func (s *FeedService) NormalizeCursor(cursor Cursor) Cursor {
	return Cursor{
		Page:  normalizePage(cursor.Page),
		Limit: clampLimit(cursor.Limit, s.opts.MaxLimit),
	}
}

func (s *FeedService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.FetchTimeout > 0 {
		return context.WithTimeout(ctx, s.opts.FetchTimeout)
	}
	return context.WithCancel(ctx)
}

// Summaries fetches one page of post summaries, newest first. It reads
// limit+1 rows and reports hasMore when the extra row exists.
func (s *FeedService) Summaries(ctx context.Context, cursor Cursor, filter FeedFilter) ([]PostSummary, bool, error) {
	cursor = s.NormalizeCursor(cursor)
	offset, ok := pageOffset(cursor.Page, cursor.Limit)
	if !ok {
		return []PostSummary{}, false, nil
	}

	fetchCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := s.db.WithContext(fetchCtx).
		Table("posts").
		Select("posts.id, posts.text, posts.author_id, posts.created_at, users.username AS author_name").
		Joins("JOIN users ON users.id = posts.author_id").
		Where("posts.is_deleted = ?", false)
	if filter.AuthorID != "" {
		query = query.Where("posts.author_id = ?", filter.AuthorID)
	}

	var rows []PostSummary
	// id 作为同一时间戳下的稳定次序，保证翻页不重不漏
	if err := query.
		Order("posts.created_at desc").
		Order("posts.id desc").
		Limit(cursor.Limit + 1).
		Offset(offset).
		Scan(&rows).Error; err != nil {
		return nil, false, err
	}

	hasMore := len(rows) > cursor.Limit
	if hasMore {
		rows = rows[:cursor.Limit]
	}
	return rows, hasMore, nil
}

// MediaFor returns a post's media ordered by position.
func (s *FeedService) MediaFor(ctx context.Context, postID string) ([]db.Media, error) {
	fetchCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	media := make([]db.Media, 0)
	if err := s.db.WithContext(fetchCtx).
		Where("post_id = ?", postID).
		Order("position asc").
		Find(&media).Error; err != nil {
		return nil, err
	}
	return media, nil
}

// Assemble joins a summary with its media.
func (s *FeedService) Assemble(ctx context.Context, summary PostSummary) (AssembledPost, error) {
	media, err := s.MediaFor(ctx, summary.ID)
	if err != nil {
		return AssembledPost{}, err
	}
	return AssembledPost{
		ID:        summary.ID,
		Text:      summary.Text,
		HTML:      RenderPostHTML(summary.Text),
		AuthorID:  summary.AuthorID,
		CreatedAt: summary.CreatedAt,
		Author: AuthorSummary{
			ID:       summary.AuthorID,
			Username: summary.AuthorName,
		},
		Media: media,
	}, nil
}

// GetPage returns an assembled feed page. Any fetch failure yields an empty
// page instead of an error so the feed stays available.
func (s *FeedService) GetPage(ctx context.Context, cursor Cursor, filter FeedFilter) FeedPage {
	empty := FeedPage{Posts: []AssembledPost{}, HasMore: false}

	summaries, hasMore, err := s.Summaries(ctx, cursor, filter)
	if err != nil {
		slog.Error("failed to fetch feed page", "page", cursor.Page, "limit", cursor.Limit, "error", err)
		return empty
	}

	posts := make([]AssembledPost, 0, len(summaries))
	for _, summary := range summaries {
		post, err := s.Assemble(ctx, summary)
		if err != nil {
			slog.Error("failed to assemble feed post", "post_id", summary.ID, "error", err)
			return empty
		}
		posts = append(posts, post)
	}

	return FeedPage{Posts: posts, HasMore: hasMore}
}

// Get returns a single assembled post.
func (s *FeedService) Get(ctx context.Context, id string) (*AssembledPost, error) {
	var summary PostSummary
	err := s.db.WithContext(ctx).
		Table("posts").
		Select("posts.id, posts.text, posts.author_id, posts.created_at, users.username AS author_name").
		Joins("JOIN users ON users.id = posts.author_id").
		Where("posts.id = ? AND posts.is_deleted = ?", id, false).
		Take(&summary).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPostNotFound
		}
		return nil, err
	}

	post, err := s.Assemble(ctx, summary)
	if err != nil {
		return nil, err
	}
	return &post, nil
}

// Stream writes a page as a sequence of events: metadata, one post per
// assembled post, then exactly one of complete or error. When ctx is
// cancelled (client gone) it stops without a terminal event.
func (s *FeedService) Stream(ctx context.Context, cursor Cursor, filter FeedFilter, out FeedEmitter) error {
	summaries, hasMore, err := s.Summaries(ctx, cursor, filter)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Error("failed to stream feed page", "page", cursor.Page, "error", err)
		return out.Error(StreamErrorMessage)
	}

	if err := out.Metadata(hasMore, len(summaries)); err != nil {
		return err
	}

	for i, summary := range summaries {
		if err := ctx.Err(); err != nil {
			return err
		}

		post, err := s.Assemble(ctx, summary)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("failed to stream feed post", "post_id", summary.ID, "error", err)
			return out.Error(StreamErrorMessage)
		}

		if err := out.Post(post); err != nil {
			return err
		}

		if s.opts.StreamDelay > 0 && i < len(summaries)-1 {
			timer := time.NewTimer(s.opts.StreamDelay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		}
	}

	return out.Complete()
}
