package routes

import (
	"errors"
	"net/http"

	"arcane-scribe/internal/rag"
	"arcane-scribe/middleware"
	"arcane-scribe/models"
	"arcane-scribe/utils"

	"github.com/gin-gonic/gin"
)

// HandleQuery runs a retrieval or generative query over the caller's collection
func HandleQuery(d *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.QueryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request format", err.Error())
			return
		}
		if _, err := req.Normalize(d.RetrievalK); err != nil {
			utils.RespondWithBadRequest(c, err.Error(), nil)
			return
		}

		ctx, cancel := utils.WithQueryTimeout(c.Request.Context())
		defer cancel()

		ownerID := middleware.GetOwnerID(c)
		collectionID := c.Param("collection")
		resp, err := d.Querier.Query(ctx, ownerID, collectionID, req)
		if err != nil {
			d.logger().Warn("query failed",
				"owner_id", ownerID, "collection_id", collectionID,
				"kind", rag.KindOf(err).String(), "error", err)
			respondWithQueryError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func respondWithQueryError(c *gin.Context, err error) {
	message := "Query failed"
	var qe *rag.Error
	if errors.As(err, &qe) {
		message = qe.Message
	}

	kind := rag.KindOf(err)
	switch kind {
	case rag.KindNotFound:
		utils.RespondWithNotFound(c, message)
	case rag.KindInvalidRequest:
		utils.RespondWithBadRequest(c, message, nil)
	case rag.KindUpstream:
		utils.RespondWithBadGateway(c, message)
	case rag.KindComponentsNotReady, rag.KindConfig, rag.KindRetrieval:
		utils.RespondWithServiceUnavailable(c, kind.String(), message)
	default:
		utils.RespondWithInternalError(c, message, nil)
	}
}
