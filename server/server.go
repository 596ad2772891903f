// Copyright 2023 The NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package server serves a payload as a browsable site, rendering pages on
// demand instead of writing them to disk.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nlpodyssey/neuronscope"
	"github.com/nlpodyssey/neuronscope/site"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger for request and lifecycle messages. A nil
// logger disables logging.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l == nil {
			l = zap.NewNop()
		}
		s.logger = l
	}
}

// WithSiteOptions sets the options used to render pages, as for
// site.Generate. Logger and worker options are ignored.
func WithSiteOptions(opts ...site.Option) Option {
	return func(s *Server) { s.siteOpts = append(s.siteOpts, opts...) }
}

// Server renders the pages of a single payload. It is safe for concurrent
// use.
type Server struct {
	renderer *site.Renderer
	encoded  []byte
	manifest []byte
	modTime  time.Time
	logger   *zap.Logger
	siteOpts []site.Option
}

// New checks the payload templates and prepares the static responses.
func New(p *neuronscope.Payload, opts ...Option) (*Server, error) {
	s := &Server{
		logger:  zap.NewNop(),
		modTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	var err error
	if s.renderer, err = site.NewRenderer(p, s.siteOpts...); err != nil {
		return nil, err
	}
	if s.encoded, err = neuronscope.Marshal(p); err != nil {
		return nil, err
	}
	m, err := site.NewManifest(s.encoded)
	if err != nil {
		return nil, err
	}
	if s.manifest, err = m.MarshalIndent(); err != nil {
		return nil, err
	}
	return s, nil
}

// Handler returns the HTTP handler serving the site:
//
//	GET /                      index page
//	GET /index.html            index page
//	GET /L{l}/N{n}.html        neuron page
//	GET /static/*              stylesheet and scripts
//	GET /manifest.json         payload manifest
//	GET /payload.nscp          encoded payload, with range requests
//	GET /api/datasets/:key     raw data section of one dataset
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.logRequests)

	r.GET("/", s.indexHandler)
	r.GET("/"+site.IndexFile, s.indexHandler)
	r.GET("/"+site.ManifestFile, s.manifestHandler)
	r.GET("/"+site.PayloadFile, s.payloadHandler)
	r.HEAD("/"+site.PayloadFile, s.payloadHandler)
	r.StaticFS("/"+site.StaticDir, http.FS(site.StaticFS()))
	r.GET("/api/datasets/:key", s.datasetHandler)

	size := s.renderer.Payload().ModelSize()
	for l := range int(size.NumLayers) {
		r.GET("/L"+strconv.Itoa(l)+"/:page", s.neuronHandler(l))
	}
	return r
}

// Serve accepts connections on ln until ctx is canceled, then shuts the
// server down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("listening", zap.Stringer("addr", ln.Addr()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.logger.Debug("request",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", c.Writer.Status()),
		zap.Duration("elapsed", time.Since(start)))
}

func (s *Server) indexHandler(c *gin.Context) {
	var buf bytes.Buffer
	if err := s.renderer.WriteIndex(&buf); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

func (s *Server) neuronHandler(layer int) gin.HandlerFunc {
	return func(c *gin.Context) {
		neuron, ok := parseNeuronPage(c.Param("page"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("page %q not found", c.Param("page"))})
			return
		}
		var buf bytes.Buffer
		switch err := s.renderer.WriteNeuronPage(&buf, layer, neuron); {
		case errors.Is(err, site.ErrIndexOutOfRange):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case err != nil:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		default:
			c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
		}
	}
}

func parseNeuronPage(page string) (int, bool) {
	s, ok := strings.CutPrefix(page, "N")
	if !ok {
		return 0, false
	}
	if s, ok = strings.CutSuffix(s, ".html"); !ok {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || strconv.Itoa(n) != s {
		return 0, false
	}
	return n, true
}

func (s *Server) manifestHandler(c *gin.Context) {
	c.Data(http.StatusOK, "application/json; charset=utf-8", s.manifest)
}

func (s *Server) payloadHandler(c *gin.Context) {
	c.Header("Content-Type", "application/octet-stream")
	http.ServeContent(c.Writer, c.Request, site.PayloadFile, s.modTime, bytes.NewReader(s.encoded))
}

func (s *Server) datasetHandler(c *gin.Context) {
	lp, err := neuronscope.OpenLazy(bytes.NewReader(s.encoded))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	key := c.Param("key")
	ld, ok := lp.LazyDataset(key)
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("dataset %q not found", key)})
		return
	}

	shp := make([]string, len(ld.Shape()))
	for i, d := range ld.Shape() {
		shp[i] = strconv.Itoa(d)
	}
	c.Header("X-Neuronscope-Type", ld.ScalarType().String())
	c.Header("X-Neuronscope-Scope", ld.Scope().String())
	c.Header("X-Neuronscope-Shape", strings.Join(shp, ","))
	c.Header("Content-Length", strconv.FormatUint(ld.Length(), 10))
	c.Header("Content-Type", "application/octet-stream")
	c.Status(http.StatusOK)
	if _, err := ld.WriteTo(c.Writer); err != nil {
		s.logger.Warn("failed to write dataset", zap.String("key", key), zap.Error(err))
	}
}
