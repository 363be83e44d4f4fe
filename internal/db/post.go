package db

import "time"

// Media types accepted on a post.
const (
	MediaTypeImage = "image"
	MediaTypeVideo = "video"
	MediaTypeAudio = "audio"
	MediaTypeEmbed = "embed"
)

// MaxMediaPerPost caps the attachments of a single post.
const MaxMediaPerPost = 4

// Post 定义了动态模型
type Post struct {
	ID        string    `gorm:"primaryKey;size:255" json:"id"`
	AuthorID  string    `gorm:"size:255;not null;index" json:"authorId"`
	Author    User      `gorm:"foreignKey:AuthorID" json:"-"`
	Text      string    `gorm:"type:text" json:"text"`
	CreatedAt time.Time `gorm:"index" json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	IsDeleted bool      `gorm:"not null;default:false;index" json:"isDeleted"`
	Media     []Media   `gorm:"foreignKey:PostID" json:"media,omitempty"`
}

// Media 是挂在动态上的附件，Position 决定展示顺序。
type Media struct {
	ID         string    `gorm:"primaryKey;size:255" json:"id"`
	PostID     string    `gorm:"size:255;not null;uniqueIndex:idx_media_post_position" json:"postId"`
	Type       string    `gorm:"size:16;not null" json:"type"`
	URL        string    `gorm:"size:1024;not null" json:"url"`
	Caption    string    `gorm:"type:text" json:"caption,omitempty"`
	Position   int       `gorm:"not null;uniqueIndex:idx_media_post_position" json:"position"`
	Width      int       `json:"width,omitempty"`
	Height     int       `json:"height,omitempty"`
	UploadedAt time.Time `json:"uploadedAt"`
	// StorageRef 仅在文件由本帖上传或认领时设置，删除帖子时只清理这些文件。
	StorageRef string `gorm:"size:1024;index" json:"-"`
}

// TableName keeps the singular table name used by the media queries.
func (Media) TableName() string {
	return "media"
}

// Upload 是通过上传接口写入、尚未挂到帖子上的文件。
// 发帖时按 Reference + OwnerID 认领，认领后行被删除。
type Upload struct {
	Reference string    `gorm:"primaryKey;size:1024" json:"reference"`
	OwnerID   string    `gorm:"size:255;not null;index" json:"ownerId"`
	MimeType  string    `gorm:"size:128" json:"mimeType"`
	CreatedAt time.Time `json:"createdAt"`
}

// IsValidMediaType reports whether t is one of the known media types.
func IsValidMediaType(t string) bool {
	switch t {
	case MediaTypeImage, MediaTypeVideo, MediaTypeAudio, MediaTypeEmbed:
		return true
	}
	return false
}
