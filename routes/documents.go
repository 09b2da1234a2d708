package routes

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"arcane-scribe/internal/database"
	"arcane-scribe/internal/queue"
	"arcane-scribe/internal/vectorindex"
	"arcane-scribe/middleware"
	"arcane-scribe/models"
	"arcane-scribe/services"
	"arcane-scribe/utils"

	"github.com/gin-gonic/gin"
)

var extensionTypes = map[string]string{
	".pdf":      models.ContentTypePDF,
	".txt":      models.ContentTypeText,
	".md":       models.ContentTypeMarkdown,
	".markdown": models.ContentTypeMarkdown,
}

// detectContentType resolves the upload type from the part header, then the extension.
func detectContentType(filename, header string) (string, bool) {
	ct := strings.ToLower(strings.TrimSpace(strings.Split(header, ";")[0]))
	switch ct {
	case models.ContentTypePDF, models.ContentTypeText, models.ContentTypeMarkdown:
		return ct, true
	}
	ct, ok := extensionTypes[strings.ToLower(filepath.Ext(filename))]
	return ct, ok
}

// RegisterDocumentRoutes mounts the collection endpoints on an authenticated group.
func RegisterDocumentRoutes(rg *gin.RouterGroup, d *Deps) {
	srd := rg.Group("/srd/:collection")
	srd.POST("/documents", HandleUpload(d))
	srd.GET("/documents", HandleListDocuments(d))
	srd.DELETE("/documents", HandleDeleteCollection(d))
	srd.GET("/documents/:document_id", HandleGetDocument(d))
	srd.DELETE("/documents/:document_id", HandleDeleteDocument(d))
	srd.GET("/export", HandleExport(d))
	srd.POST("/query", HandleQuery(d))
}

// HandleUpload stores a raw file, registers a pending record and enqueues indexing
func HandleUpload(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ownerID := middleware.GetOwnerID(c)
		collectionID := c.Param("collection")

		file, header, err := c.Request.FormFile("file")
		if err != nil {
			utils.RespondWithBadRequest(c, "No file provided", nil)
			return
		}
		defer file.Close()

		if d.MaxFileSize > 0 && header.Size > d.MaxFileSize {
			utils.RespondWithError(c, http.StatusRequestEntityTooLarge, "file_too_large", "File size exceeds maximum limit", nil)
			return
		}

		filename := filepath.Base(header.Filename)
		contentType, ok := detectContentType(filename, header.Header.Get("Content-Type"))
		if !ok {
			utils.RespondWithBadRequest(c, "Only PDF, text and markdown files are supported", gin.H{"filename": filename})
			return
		}

		data, err := io.ReadAll(file)
		if err != nil {
			utils.RespondWithBadRequest(c, "Failed to read upload", nil)
			return
		}

		ctx, cancel := utils.WithLongTimeout(c.Request.Context())
		defer cancel()

		doc := database.NewDocument(ownerID, collectionID, filename, contentType, int64(len(data)))
		if err := d.Objects.Put(ctx, doc.StorageKey, data); err != nil {
			d.logger().Error("failed to store upload", "key", doc.StorageKey, "error", err)
			utils.RespondWithInternalError(c, "Failed to store file", nil)
			return
		}
		if err := d.Docs.Put(ctx, doc); err != nil {
			d.logger().Error("failed to create document record", "document_id", doc.DocumentID, "error", err)
			_ = d.Objects.Delete(ctx, doc.StorageKey)
			utils.RespondWithInternalError(c, "Failed to register document", nil)
			return
		}

		taskID, err := queue.EnqueueIndexDocument(ctx, d.Queue, doc)
		if err != nil {
			d.logger().Error("failed to enqueue indexing", "document_id", doc.DocumentID, "error", err)
			_ = database.UpdateStatus(ctx, d.Docs, doc.TenantKey, doc.DocumentID, models.StatusFailed, map[string]any{
				"error_message": "failed to queue indexing",
			})
			utils.RespondWithInternalError(c, "Failed to queue document for indexing", nil)
			return
		}

		d.logger().Info("document uploaded",
			"owner_id", ownerID, "collection_id", collectionID,
			"document_id", doc.DocumentID, "task_id", taskID, "size", doc.SizeBytes)

		c.JSON(http.StatusAccepted, models.UploadResponse{
			DocumentID: doc.DocumentID,
			Filename:   filename,
			Status:     doc.ProcessingStatus,
			TaskID:     taskID,
			Message:    "Document uploaded and queued for indexing",
		})
	}
}

// HandleListDocuments lists a collection's documents in upload order
func HandleListDocuments(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		tenantKey := models.TenantKey(middleware.GetOwnerID(c), c.Param("collection"))
		docs, err := d.Docs.Query(ctx, tenantKey)
		if err != nil {
			d.logger().Error("failed to list documents", "tenant", tenantKey, "error", err)
			utils.RespondWithInternalError(c, "Failed to list documents", nil)
			return
		}
		if docs == nil {
			docs = []models.Document{}
		}
		c.JSON(http.StatusOK, gin.H{"documents": docs, "count": len(docs)})
	}
}

func HandleGetDocument(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		tenantKey := models.TenantKey(middleware.GetOwnerID(c), c.Param("collection"))
		doc, err := d.Docs.Get(ctx, tenantKey, c.Param("document_id"))
		if errors.Is(err, database.ErrDocumentNotFound) {
			utils.RespondWithNotFound(c, "Document not found")
			return
		}
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to load document", nil)
			return
		}
		c.JSON(http.StatusOK, doc)
	}
}

// HandleDeleteDocument removes the raw upload, its index artifacts and its record
func HandleDeleteDocument(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithLongTimeout(c.Request.Context())
		defer cancel()

		ownerID := middleware.GetOwnerID(c)
		collectionID := c.Param("collection")
		tenantKey := models.TenantKey(ownerID, collectionID)

		doc, err := d.Docs.Get(ctx, tenantKey, c.Param("document_id"))
		if errors.Is(err, database.ErrDocumentNotFound) {
			utils.RespondWithNotFound(c, "Document not found")
			return
		}
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to load document", nil)
			return
		}

		keys := []string{doc.StorageKey}
		for _, ext := range vectorindex.Parts {
			keys = append(keys, models.IndexArtifactKey(ownerID, collectionID, doc.DocumentID, ext))
		}
		for _, key := range keys {
			if err := d.Objects.Delete(ctx, key); err != nil {
				d.logger().Error("failed to delete object", "key", key, "error", err)
				utils.RespondWithInternalError(c, "Failed to delete document files", nil)
				return
			}
		}
		if err := d.Docs.Delete(ctx, tenantKey, doc.DocumentID); err != nil {
			utils.RespondWithInternalError(c, "Failed to delete document record", nil)
			return
		}
		d.Indices.Invalidate(ownerID, collectionID)

		c.JSON(http.StatusOK, gin.H{"message": "Document deleted", "document_id": doc.DocumentID})
	}
}

// HandleDeleteCollection purges every document and object of a collection
func HandleDeleteCollection(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithLongTimeout(c.Request.Context())
		defer cancel()

		ownerID := middleware.GetOwnerID(c)
		collectionID := c.Param("collection")

		deleted, objects, err := services.PurgeCollection(ctx, d.Docs, d.Objects, ownerID, collectionID)
		if err != nil {
			d.logger().Error("failed to purge collection", "owner_id", ownerID, "collection_id", collectionID, "error", err)
			utils.RespondWithInternalError(c, "Failed to delete collection", nil)
			return
		}
		d.Indices.Invalidate(ownerID, collectionID)

		c.JSON(http.StatusOK, gin.H{
			"message":           fmt.Sprintf("Deleted %d documents", deleted),
			"documents_deleted": deleted,
			"objects_deleted":   objects,
		})
	}
}

// HandleExport downloads the collection inventory as an xlsx workbook
func HandleExport(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := utils.WithTimeout(c.Request.Context())
		defer cancel()

		ownerID := middleware.GetOwnerID(c)
		collectionID := c.Param("collection")
		docs, err := d.Docs.Query(ctx, models.TenantKey(ownerID, collectionID))
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to list documents", nil)
			return
		}

		data, err := services.ExportCollection(ownerID, collectionID, docs)
		if err != nil {
			d.logger().Error("failed to build export", "error", err)
			utils.RespondWithInternalError(c, "Failed to build export", nil)
			return
		}

		filename := fmt.Sprintf("%s_%s.xlsx", collectionID, time.Now().UTC().Format("20060102"))
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
	}
}
