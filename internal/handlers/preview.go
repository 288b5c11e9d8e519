package handlers

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/procs"
	"github.com/KennethAtchon/Loctelli-Website-Builder-sub001/internal/store"
)

// PreviewHandler forwards dashboard traffic to a website's dev server.
// Correctness rides entirely on the allocated port being accurate in
// the registry (live) or on the website row (fallback).
type PreviewHandler struct {
	Store    *store.Store
	Registry *procs.Registry
}

func NewPreviewHandler(s *store.Store, reg *procs.Registry) *PreviewHandler {
	return &PreviewHandler{Store: s, Registry: reg}
}

// ANY /preview/:websiteId/*path
func (h *PreviewHandler) Proxy(c *gin.Context) {
	websiteID := c.Param("websiteId")

	port := 0
	if handle, ok := h.Registry.Get(websiteID); ok && !handle.Exited() {
		port = handle.Port
	} else if website, err := h.Store.GetWebsite(websiteID); err == nil && website.PortNumber != nil {
		port = *website.PortNumber
	}
	if port == 0 {
		c.JSON(http.StatusBadGateway, gin.H{"error": "no dev server running for website"})
		return
	}

	target, err := url.Parse(fmt.Sprintf("http://localhost:%d", port))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"dev server unreachable"}`))
	}

	prefix := "/preview/" + websiteID
	c.Request.URL.Path = strings.TrimPrefix(c.Request.URL.Path, prefix)
	if c.Request.URL.Path == "" {
		c.Request.URL.Path = "/"
	}
	proxy.ServeHTTP(c.Writer, c.Request)
}
