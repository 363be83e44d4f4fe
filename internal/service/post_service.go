package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/feedlog/internal/db"
	"github.com/feedlog/internal/storage"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrPostNotFound      = errors.New("post not found")
	ErrPostTextRequired  = errors.New("post text is required")
	ErrTooManyMedia      = errors.New("too many media attachments")
	ErrInvalidMediaType  = errors.New("invalid media type")
	ErrMediaURLRequired  = errors.New("media url is required")
	ErrUploadUnavailable = errors.New("uploads are not configured")
	ErrMediaNotOwned     = errors.New("media file was not uploaded by you")
)

// BlobStore persists uploaded media bytes.
type BlobStore interface {
	Put(ctx context.Context, data []byte, mimeType, suggestedName string) (*storage.Blob, error)
	Delete(ctx context.Context, reference string) (bool, error)
	Owns(reference string) bool
}

// EmbedLookup resolves external URLs into embeddable players.
type EmbedLookup interface {
	Resolve(ctx context.Context, raw string) (*EmbedInfo, error)
}

// AttachmentInput is one media item in submission order. Data set means an
// upload; Type embed (or a supported embed URL) means an external embed;
// anything else is a media item referenced by URL.
type AttachmentInput struct {
	Type     string
	URL      string
	Caption  string
	Width    int
	Height   int
	Data     []byte
	MimeType string
	Name     string
}

// PostInput represents fields accepted when creating a post.
type PostInput struct {
	Text        string
	Attachments []AttachmentInput
}

// CleanupResult reports what a cleanup sweep removed.
type CleanupResult struct {
	PostsDeleted       int      `json:"postsDeleted"`
	MediaDeleted       int      `json:"mediaDeleted"`
	OrphanMediaDeleted int      `json:"orphanMediaDeleted"`
	BlobsDeleted       int      `json:"blobsDeleted"`
	FailedPostIDs      []string `json:"failedPostIds,omitempty"`
}

// PostService wraps post write operations.
type PostService struct {
	db     *gorm.DB
	blobs  BlobStore
	embeds EmbedLookup
	audit  *AuditRecorder
}

// NewPostService creates a PostService instance. blobs, embeds and audit may be nil.
func NewPostService(gdb *gorm.DB, blobs BlobStore, embeds EmbedLookup, audit *AuditRecorder) *PostService {
	return &PostService{db: gdb, blobs: blobs, embeds: embeds, audit: audit}
}

func mediaTypeForMIME(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return db.MediaTypeImage
	case strings.HasPrefix(mimeType, "video/"):
		return db.MediaTypeVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return db.MediaTypeAudio
	default:
		return ""
	}
}

// Create validates input, stores uploads, resolves embeds and inserts the
// post with its media in one transaction.
func (s *PostService) Create(ctx context.Context, actor *Actor, input PostInput) (*db.Post, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	text := strings.TrimSpace(input.Text)
	if text == "" {
		return nil, ErrPostTextRequired
	}
	if len(input.Attachments) > db.MaxMediaPerPost {
		return nil, ErrTooManyMedia
	}

	// 先做纯校验，避免写入后再失败
	for _, att := range input.Attachments {
		if err := s.checkAttachment(att); err != nil {
			return nil, err
		}
	}

	postID := uuid.NewString()
	now := time.Now().UTC()
	media := make([]db.Media, 0, len(input.Attachments))
	var stored, claims []string

	for i, att := range input.Attachments {
		item, blobRef, err := s.buildMedia(ctx, postID, i, att, now)
		if err != nil {
			s.discardBlobs(ctx, stored)
			return nil, err
		}
		switch {
		case blobRef != "":
			stored = append(stored, blobRef)
		case item.StorageRef != "":
			claims = append(claims, item.StorageRef)
		}
		media = append(media, item)
	}

	post := db.Post{
		ID:        postID,
		AuthorID:  actor.ID,
		Text:      text,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Media", "Author").Create(&post).Error; err != nil {
			return err
		}
		if err := claimUploads(tx, actor.ID, claims); err != nil {
			return err
		}
		if len(media) > 0 {
			if err := tx.Create(&media).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.discardBlobs(ctx, stored)
		return nil, fmt.Errorf("create post: %w", err)
	}

	post.Media = media
	s.audit.Record(ctx, actor.ID, AuditActionCreatePost, "post", post.ID, map[string]any{
		"mediaCount": len(media),
	})
	return &post, nil
}

func (s *PostService) checkAttachment(att AttachmentInput) error {
	if att.Data != nil {
		if s.blobs == nil {
			return ErrUploadUnavailable
		}
		if mediaTypeForMIME(strings.ToLower(att.MimeType)) == "" {
			return ErrInvalidMediaType
		}
		return nil
	}
	if strings.TrimSpace(att.URL) == "" {
		return ErrMediaURLRequired
	}
	if att.Type == db.MediaTypeEmbed || (att.Type == "" && IsSupportedEmbedURL(att.URL)) {
		if ResolveEmbed(att.URL) == nil {
			return ErrUnsupportedEmbed
		}
		return nil
	}
	if !db.IsValidMediaType(att.Type) {
		return ErrInvalidMediaType
	}
	return nil
}

func (s *PostService) buildMedia(ctx context.Context, postID string, position int, att AttachmentInput, now time.Time) (db.Media, string, error) {
	item := db.Media{
		ID:         uuid.NewString(),
		PostID:     postID,
		Position:   position,
		Caption:    strings.TrimSpace(att.Caption),
		Width:      att.Width,
		Height:     att.Height,
		UploadedAt: now,
	}

	switch {
	case att.Data != nil:
		blob, err := s.blobs.Put(ctx, att.Data, att.MimeType, att.Name)
		if err != nil {
			return db.Media{}, "", err
		}
		item.Type = mediaTypeForMIME(blob.MimeType)
		item.URL = blob.Reference
		item.StorageRef = blob.Reference
		item.Width = blob.Width
		item.Height = blob.Height
		return item, blob.Reference, nil

	case att.Type == db.MediaTypeEmbed || (att.Type == "" && IsSupportedEmbedURL(att.URL)):
		var info *EmbedInfo
		if s.embeds != nil {
			resolved, err := s.embeds.Resolve(ctx, att.URL)
			if err != nil {
				return db.Media{}, "", err
			}
			info = resolved
		} else if info = ResolveEmbed(att.URL); info == nil {
			return db.Media{}, "", ErrUnsupportedEmbed
		}
		item.Type = db.MediaTypeEmbed
		item.URL = info.EmbedURL
		if item.Caption == "" {
			item.Caption = info.Title
		}
		return item, "", nil

	default:
		item.Type = att.Type
		item.URL = strings.TrimSpace(att.URL)
		if s.blobs != nil && s.blobs.Owns(item.URL) {
			item.StorageRef = item.URL
		}
		return item, "", nil
	}
}

// claimUploads attaches previously uploaded files to a post. Each reference
// must be an unclaimed upload of ownerID; the upload row is consumed.
func claimUploads(tx *gorm.DB, ownerID string, refs []string) error {
	for _, ref := range refs {
		res := tx.Where("reference = ? AND owner_id = ?", ref, ownerID).Delete(&db.Upload{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrMediaNotOwned, ref)
		}
	}
	return nil
}

// Upload stores a single file for the actor. The file stays unattached
// until a post claims its reference.
func (s *PostService) Upload(ctx context.Context, actor *Actor, att AttachmentInput) (*storage.Blob, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if s.blobs == nil {
		return nil, ErrUploadUnavailable
	}
	if mediaTypeForMIME(strings.ToLower(att.MimeType)) == "" {
		return nil, ErrInvalidMediaType
	}

	blob, err := s.blobs.Put(ctx, att.Data, att.MimeType, att.Name)
	if err != nil {
		return nil, err
	}
	upload := db.Upload{
		Reference: blob.Reference,
		OwnerID:   actor.ID,
		MimeType:  blob.MimeType,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&upload).Error; err != nil {
		s.discardBlobs(ctx, []string{blob.Reference})
		return nil, fmt.Errorf("record upload: %w", err)
	}
	return blob, nil
}

func (s *PostService) discardBlobs(ctx context.Context, refs []string) {
	deleteBlobs(ctx, s.blobs, refs)
}

func (s *PostService) removeStoredMedia(ctx context.Context, media []db.Media) int {
	return deleteBlobs(ctx, s.blobs, storageRefs(media))
}

// storageRefs returns the stored files backing media, skipping embeds and
// external URLs.
func storageRefs(media []db.Media) []string {
	refs := make([]string, 0, len(media))
	for _, m := range media {
		if m.StorageRef != "" {
			refs = append(refs, m.StorageRef)
		}
	}
	return refs
}

// deleteBlobs removes refs from blobs and returns how many existed. Failures
// are logged; the rows referencing them are already gone.
func deleteBlobs(ctx context.Context, blobs BlobStore, refs []string) int {
	if blobs == nil {
		return 0
	}
	removed := 0
	for _, ref := range refs {
		ok, err := blobs.Delete(ctx, ref)
		if err != nil {
			slog.Warn("failed to delete stored blob", "reference", ref, "error", err)
			continue
		}
		if ok {
			removed++
		}
	}
	return removed
}

// deletePosts removes the media rows and then the post rows for ids inside tx.
func deletePosts(tx *gorm.DB, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if err := tx.Where("post_id IN ?", ids).Delete(&db.Media{}).Error; err != nil {
		return 0, err
	}
	res := tx.Where("id IN ?", ids).Delete(&db.Post{})
	return res.RowsAffected, res.Error
}

// Delete permanently removes a post and its media. Only the author or an
// admin may delete.
func (s *PostService) Delete(ctx context.Context, actor *Actor, id string) error {
	if err := requireActor(actor); err != nil {
		return err
	}

	var post db.Post
	if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&post).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPostNotFound
		}
		return err
	}
	if post.AuthorID != actor.ID && !actor.IsAdmin() {
		return ErrForbidden
	}

	var media []db.Media
	if err := s.db.WithContext(ctx).Where("post_id = ?", id).Find(&media).Error; err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := deletePosts(tx, []string{id})
		return err
	}); err != nil {
		return fmt.Errorf("delete post: %w", err)
	}

	s.removeStoredMedia(ctx, media)
	s.audit.Record(ctx, actor.ID, AuditActionPermanentDelete, "post", id, map[string]any{
		"authorId":   post.AuthorID,
		"mediaCount": len(media),
	})
	return nil
}

// DeleteAllByAuthor removes every post of a user together with its media.
// Admin only. Returns the number of posts removed.
func (s *PostService) DeleteAllByAuthor(ctx context.Context, actor *Actor, authorID string) (int, error) {
	if err := requireAdmin(actor); err != nil {
		return 0, err
	}

	var user db.User
	if err := s.db.WithContext(ctx).Where("id = ?", authorID).Take(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrUserNotFound
		}
		return 0, err
	}

	count, media, err := deleteAuthorPosts(s.db.WithContext(ctx), authorID)
	if err != nil {
		return 0, err
	}

	s.removeStoredMedia(ctx, media)
	s.audit.Record(ctx, actor.ID, AuditActionDeleteAllUserPosts, "user", authorID, map[string]any{
		"username":     user.Username,
		"postsDeleted": count,
	})
	return count, nil
}

// deleteAuthorPosts removes all posts of authorID in one transaction and
// returns the media rows that were attached to them.
func deleteAuthorPosts(gdb *gorm.DB, authorID string) (int, []db.Media, error) {
	var ids []string
	if err := gdb.Model(&db.Post{}).Where("author_id = ?", authorID).Pluck("id", &ids).Error; err != nil {
		return 0, nil, err
	}
	if len(ids) == 0 {
		return 0, nil, nil
	}

	var media []db.Media
	if err := gdb.Where("post_id IN ?", ids).Find(&media).Error; err != nil {
		return 0, nil, err
	}

	var deleted int64
	if err := gdb.Transaction(func(tx *gorm.DB) error {
		n, err := deletePosts(tx, ids)
		deleted = n
		return err
	}); err != nil {
		return 0, nil, fmt.Errorf("delete posts of %s: %w", authorID, err)
	}
	return int(deleted), media, nil
}

// Cleanup purges soft-deleted posts one by one (media first) and sweeps
// media rows whose post no longer exists. Failures on individual posts are
// collected and the sweep continues.
func (s *PostService) Cleanup(ctx context.Context, actor *Actor) (*CleanupResult, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	gdb := s.db.WithContext(ctx)
	result := &CleanupResult{}

	var ids []string
	if err := gdb.Model(&db.Post{}).Where("is_deleted = ?", true).Pluck("id", &ids).Error; err != nil {
		return nil, err
	}

	for _, id := range ids {
		var media []db.Media
		if err := gdb.Where("post_id = ?", id).Find(&media).Error; err != nil {
			slog.Error("cleanup: failed to load media", "post_id", id, "error", err)
			result.FailedPostIDs = append(result.FailedPostIDs, id)
			continue
		}
		if err := gdb.Transaction(func(tx *gorm.DB) error {
			_, err := deletePosts(tx, []string{id})
			return err
		}); err != nil {
			slog.Error("cleanup: failed to delete post", "post_id", id, "error", err)
			result.FailedPostIDs = append(result.FailedPostIDs, id)
			continue
		}
		result.PostsDeleted++
		result.MediaDeleted += len(media)
		result.BlobsDeleted += s.removeStoredMedia(ctx, media)
	}

	var orphans []db.Media
	if err := gdb.Where("post_id NOT IN (?)", gdb.Model(&db.Post{}).Select("id")).Find(&orphans).Error; err != nil {
		return nil, err
	}
	if len(orphans) > 0 {
		orphanIDs := make([]string, 0, len(orphans))
		for _, m := range orphans {
			orphanIDs = append(orphanIDs, m.ID)
		}
		res := gdb.Where("id IN ?", orphanIDs).Delete(&db.Media{})
		if res.Error != nil {
			return nil, res.Error
		}
		result.OrphanMediaDeleted = int(res.RowsAffected)
		result.BlobsDeleted += s.removeStoredMedia(ctx, orphans)
	}

	s.audit.Record(ctx, actor.ID, AuditActionCleanup, "post", "", result)
	return result, nil
}
