package controller

import (
	"net/http"
	"strconv"

	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/gin-gonic/gin"

	"github.com/modelrelay/modelrelay/relay/catalog"
)

// ListModels serves GET /v1/models: the merged catalog across all
// configured providers, filterable by provider, privacy, context window and
// input price. Private bindings are hidden unless asked for explicitly.
func ListModels(c *gin.Context) {
	filter := catalog.Filter{
		Provider: c.Query("provider"),
	}
	if v := c.Query("is_private"); v != "" {
		private := v == "true"
		filter.Private = &private
	} else {
		public := false
		filter.Private = &public
	}
	if v := c.Query("min_context"); v != "" {
		if minContext, err := strconv.Atoi(v); err == nil {
			filter.MinContext = minContext
		}
	}
	if v := c.Query("max_price"); v != "" {
		if maxPrice, err := strconv.ParseFloat(v, 64); err == nil {
			filter.MaxPriceUSDPerMTok = maxPrice
		}
	}

	models := catalog.ListModels(gmw.Ctx(c), filter)
	data := make([]gin.H, 0, len(models))
	for _, m := range models {
		data = append(data, gin.H{
			"id":       m.Id,
			"object":   "model",
			"owned_by": m.ProviderId,
			"metadata": m,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   data,
	})
}

// RetrieveModel serves GET /v1/models/:model. The optional provider query
// disambiguates models served by more than one binding.
func RetrieveModel(c *gin.Context) {
	modelId := c.Param("model")
	descriptor, ok := catalog.GetModel(gmw.Ctx(c), modelId, c.Query("provider"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": gin.H{
				"type":    "not_found_error",
				"message": "model " + strconv.Quote(modelId) + " not found",
			},
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":       descriptor.Id,
		"object":   "model",
		"owned_by": descriptor.ProviderId,
		"metadata": descriptor,
	})
}
