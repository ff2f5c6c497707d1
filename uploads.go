package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/smallbiz/ops_backend/config"
	"github.com/smallbiz/ops_backend/models"
	"github.com/smallbiz/ops_backend/utils"
)

const maxUploadSizeBytes int64 = 5 * 1024 * 1024

var imageMimeTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

var errUploadTooLarge = errors.New("file size exceeds 5MB limit")

// uploadStepPhotoHandler accepts a multipart "file", stores it with a 200px
// thumbnail and attaches both to the step at :index.
func uploadStepPhotoHandler(uploader utils.ObjectUploader) gin.HandlerFunc {
	return func(c *gin.Context) {
		if uploader == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "uploads are not configured"})
			return
		}
		id, ok := intParam(c, "id")
		if !ok {
			return
		}
		index, ok := intParam(c, "index")
		if !ok {
			return
		}

		header, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}
		mimeType := header.Header.Get("Content-Type")
		if !imageMimeTypes[mimeType] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported file type"})
			return
		}
		if header.Size > maxUploadSizeBytes {
			c.JSON(http.StatusBadRequest, gin.H{"error": errUploadTooLarge.Error()})
			return
		}
		file, err := header.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
			return
		}
		defer file.Close()
		data, err := readLimited(file)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx := c.Request.Context()
		businessId, _ := utils.GetBusinessIdFromContext(ctx)
		objectKey := stepPhotoObjectKey(businessId, id, index, mimeType)

		imageUrl, err := uploader.Upload(ctx, objectKey, data, mimeType)
		if err != nil {
			logUploadError(err, objectKey, c)
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to store file"})
			return
		}
		thumbnailUrl, err := uploadThumbnail(ctx, uploader, objectKey, data)
		if err != nil {
			logUploadError(err, objectKey, c)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate thumbnail"})
			return
		}

		order, err := models.AttachManufacturingStepPhoto(ctx, id, index, imageUrl, thumbnailUrl)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"data": newOrderResponse(order), "image_url": imageUrl, "thumbnail_url": thumbnailUrl})
	}
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxUploadSizeBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxUploadSizeBytes {
		return nil, errUploadTooLarge
	}
	return data, nil
}

func uploadThumbnail(ctx context.Context, uploader utils.ObjectUploader, objectKey string, data []byte) (string, error) {
	thumb, err := makeThumbnail(data)
	if err != nil {
		return "", err
	}
	return uploader.Upload(ctx, thumbnailObjectKey(objectKey), thumb, "image/jpeg")
}

func makeThumbnail(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	thumbnail := imaging.Resize(img, 200, 0, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumbnail, imaging.JPEG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func stepPhotoObjectKey(businessId string, orderId int, index int, mimeType string) string {
	return path.Join(
		"businesses", sanitizeSegment(strings.ToLower(businessId)),
		"manufacturing_orders", strconv.Itoa(orderId),
		"steps", strconv.Itoa(index),
		utils.GenerateUniqueFilename()+extensionFromMimeType(mimeType),
	)
}

func thumbnailObjectKey(objectKey string) string {
	dir := path.Dir(objectKey)
	filename := path.Base(objectKey)
	return path.Join(dir, "thumbnails", filename)
}

func sanitizeSegment(input string) string {
	var out strings.Builder
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			out.WriteRune(r)
		}
	}
	return out.String()
}

func extensionFromMimeType(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	default:
		return ""
	}
}

func logUploadError(err error, objectKey string, c *gin.Context) {
	correlationId, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
	config.GetLogger().WithFields(logrus.Fields{
		"error":          err.Error(),
		"object_key":     objectKey,
		"correlation_id": correlationId,
	}).Error(fmt.Sprintf("[upload.error] %s", c.FullPath()))
}
