package server

import (
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/gin-gonic/gin"

	gsync "github.com/MattDClarke/gantt-sync/internal/gantt/sync"
)

// InvalidRequestMessage answers a sync body that cannot be decoded.
const InvalidRequestMessage = "Invalid sync request"

func (s *Server) handleLoad(c *gin.Context) {
	c.JSON(http.StatusOK, s.loader.Respond(c.Request.Context()))
}

func (s *Server) handleSync(c *gin.Context) {
	body := http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	req, err := gsync.DecodeRequest(body)
	if err != nil {
		s.logger.Printf("Rejected sync body (rid=%s): %v", c.GetString(requestIDKey), err)
		c.JSON(http.StatusBadRequest, &gsync.Response{
			Success: false,
			Message: InvalidRequestMessage,
		})
		return
	}

	c.JSON(http.StatusOK, s.reconciler.Sync(c.Request.Context(), req))
}

func (s *Server) handleHealth(c *gin.Context) {
	health := gin.H{
		"status":  "ok",
		"clients": s.ClientCount(),
	}

	if s.counter != nil {
		ctx := c.Request.Context()
		tasks, err := s.counter.GetTaskCountContext(ctx)
		if err != nil {
			s.logger.Printf("Health check failed: %v", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		deps, err := s.counter.GetDepCountContext(ctx)
		if err != nil {
			s.logger.Printf("Health check failed: %v", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		health["tasks"] = tasks
		health["dependencies"] = deps
	}

	c.JSON(http.StatusOK, health)
}

// handleStatic serves GET and HEAD requests from the first static directory
// holding the path. Directories resolve to their index.html.
func (s *Server) handleStatic(c *gin.Context) {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Not found"})
		return
	}

	rel := filepath.FromSlash(path.Clean("/" + c.Request.URL.Path))
	for _, dir := range s.staticDirs {
		if file, ok := resolveStatic(dir, rel); ok {
			c.File(file)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "Not found"})
}

func resolveStatic(dir, rel string) (string, bool) {
	candidate := filepath.Join(dir, rel)
	info, err := os.Stat(candidate)
	if err != nil {
		return "", false
	}
	if info.IsDir() {
		candidate = filepath.Join(candidate, "index.html")
		if info, err = os.Stat(candidate); err != nil || info.IsDir() {
			return "", false
		}
	}
	return candidate, true
}
