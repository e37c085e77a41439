package admin_api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// NewRouter registers the control routes under /multipath.
func NewRouter(ctrl Controller) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	h := &handlers{ctrl: ctrl}
	mp := router.Group("/multipath")
	{
		mp.GET("/set_port_weight/:dp_id/:port_no/:weight", h.setPortWeight)
		mp.GET("/set_edge_port/:dp_id/:port_no", h.setEdgePort)
		mp.GET("/set_ip_network/:dp_id/:ip/:netmask", h.setIPNetwork)
		mp.GET("/start_path_computation", h.startComputation)
		mp.GET("/recompute", h.recompute)
		mp.GET("/configuration", h.getConfiguration)
		mp.POST("/configuration", h.updateConfiguration)
		mp.GET("/change_bucket_weight/:dp_id/:group_id/:rules", h.changeBucketWeight)
		mp.GET("/topology", h.topology)
	}
	return router
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Infof("admin %s %s -> %d in %v", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// Run serves the admin API on listen until ctx is done.
func Run(ctx context.Context, listen string, ctrl Controller) error {
	server := &http.Server{
		Addr:         listen,
		Handler:      NewRouter(ctrl),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Infof("Starting admin API server on %s", listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("Context canceled. Shutting down admin API server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Infof("Server forced to shutdown: %v", err)
		}
		return nil
	case err := <-serverErrors:
		log.Errorf("Server error: %v", err)
		return err
	}
}
