package handler

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/feedlog/internal/service"
	"github.com/feedlog/internal/storage"
	"github.com/gin-gonic/gin"
)

var errUploadTooLarge = errors.New("file too large")

// UploadMedia stores a single file for the signed-in user and returns its
// public reference. A later post may attach it by that reference.
func (a *API) UploadMedia(c *gin.Context) {
	if a.blobs == nil {
		respondServiceError(c, service.ErrUploadUnavailable, "failed to upload file")
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		respondError(c, http.StatusBadRequest, "file is required")
		return
	}
	att, err := a.readUpload(header)
	if err != nil {
		respondUploadError(c, header.Filename, err)
		return
	}

	blob, err := a.posts.Upload(c.Request.Context(), currentActor(c), att)
	if err != nil {
		respondServiceError(c, err, "failed to upload file")
		return
	}
	c.JSON(http.StatusCreated, blob)
}

func (a *API) readUpload(header *multipart.FileHeader) (service.AttachmentInput, error) {
	if header.Size > a.maxUpload {
		return service.AttachmentInput{}, errUploadTooLarge
	}
	file, err := header.Open()
	if err != nil {
		return service.AttachmentInput{}, err
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, a.maxUpload+1))
	if err != nil {
		return service.AttachmentInput{}, err
	}
	if int64(len(data)) > a.maxUpload {
		return service.AttachmentInput{}, errUploadTooLarge
	}

	mimeType := strings.TrimSpace(header.Header.Get("Content-Type"))
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = storage.DetectMimeType(data)
	}

	return service.AttachmentInput{
		Data:     data,
		MimeType: mimeType,
		Name:     header.Filename,
	}, nil
}

func respondUploadError(c *gin.Context, name string, err error) {
	if errors.Is(err, errUploadTooLarge) {
		respondError(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("%s: %v", name, err))
		return
	}
	respondError(c, http.StatusBadRequest, "failed to read uploaded file")
}
