package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MLidstrom/Castellan-sub013/pkg/collector"
	"github.com/MLidstrom/Castellan-sub013/pkg/correlation"
	"github.com/MLidstrom/Castellan-sub013/pkg/embed"
	"github.com/MLidstrom/Castellan-sub013/pkg/llm"
	"github.com/MLidstrom/Castellan-sub013/pkg/notify"
	"github.com/MLidstrom/Castellan-sub013/pkg/pipeline"
	"github.com/MLidstrom/Castellan-sub013/pkg/retriever"
)

// StatsResponse is returned by GET /api/v1/stats. Sections for components
// that were not wired are omitted.
type StatsResponse struct {
	Pipeline      *pipeline.Stats          `json:"pipeline,omitempty"`
	Collector     *collector.StatsSnapshot `json:"collector,omitempty"`
	EmbedCache    *embed.CacheStats        `json:"embedCache,omitempty"`
	Retriever     *retriever.Stats         `json:"retriever,omitempty"`
	Llm           *llm.ChainStats          `json:"llm,omitempty"`
	Correlation   *correlation.Stats       `json:"correlation,omitempty"`
	Notifications *notify.Stats            `json:"notifications,omitempty"`
}

// statsHandler handles GET /api/v1/stats.
func (s *Server) statsHandler(c *gin.Context) {
	var resp StatsResponse

	if p := s.components.Pipeline; p != nil {
		stats := p.Snapshot()
		resp.Pipeline = &stats
	}
	if col := s.components.Collector; col != nil {
		stats := col.Snapshot()
		resp.Collector = &stats
	}
	if cache := s.components.Cache; cache != nil {
		stats := cache.Stats()
		resp.EmbedCache = &stats
	}
	if r := s.components.Retriever; r != nil {
		stats := r.Snapshot()
		resp.Retriever = &stats
	}
	if ch := s.components.Chain; ch != nil {
		stats := ch.Snapshot()
		resp.Llm = &stats
	}
	if d := s.components.Detector; d != nil {
		stats := d.Snapshot()
		resp.Correlation = &stats
	}
	if n := s.components.Notifier; n != nil {
		stats := n.Snapshot()
		resp.Notifications = &stats
	}

	c.JSON(http.StatusOK, resp)
}
