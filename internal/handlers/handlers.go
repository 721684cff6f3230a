package handlers

import (
	"embed"
	"errors"
	"html/template"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/h2non/filetype"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/example/cellscan/internal/classifier"
	"github.com/example/cellscan/internal/config"
	"github.com/example/cellscan/internal/logging"
	"github.com/example/cellscan/internal/preview"
	"github.com/example/cellscan/internal/session"
	"github.com/example/cellscan/internal/usecase"
)

// MaxUploadSize is the drop target's default per-file limit in bytes.
const MaxUploadSize = config.DefaultMaxUploadSize

// multipartOverhead is allowed on top of the file for boundaries and headers.
const multipartOverhead = 64 << 10

//go:embed templates/*.html
var templateFS embed.FS

// Dependencies are the collaborators the routes need.
type Dependencies struct {
	Sessions      *session.Manager
	Previews      preview.Store
	Metrics       *usecase.Metrics
	Gatherer      prometheus.Gatherer
	Theme         config.Theme
	MaxUploadSize int64
	Logger        *zap.Logger
}

type handler struct {
	Dependencies
	logger *zap.Logger
}

type pageData struct {
	Title         string
	Heading       string
	ThemeStyle    template.CSS
	View          usecase.View
	MaxUploadSize int64
	MaxUploadMB   string
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, deps Dependencies) {
	if deps.MaxUploadSize <= 0 {
		deps.MaxUploadSize = MaxUploadSize
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	h := &handler{Dependencies: deps, logger: deps.Logger.Named("http")}

	router.SetHTMLTemplate(template.Must(template.ParseFS(templateFS, "templates/*.html")))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	router.GET("/metrics/summary", func(c *gin.Context) {
		c.JSON(http.StatusOK, deps.Metrics.Summary())
	})

	router.GET("/", h.index)
	router.GET("/state", h.state)
	router.POST("/upload", h.upload)
	router.POST("/clear", h.clear)
	router.GET(preview.URLPrefix+":id", h.preview)
	router.GET("/ws", h.live)
}

// session resolves the caller's component, starting a session when needed.
func (h *handler) session(c *gin.Context) (string, *usecase.ImageUpload) {
	cookie, _ := c.Cookie(session.CookieName)
	id, upload, created := h.Sessions.GetOrCreate(cookie)
	if created {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(session.CookieName, id, 0, "/", "", false, true)
	}
	return id, upload
}

func (h *handler) index(c *gin.Context) {
	_, upload := h.session(c)
	c.Header("Cache-Control", "no-store")
	c.HTML(http.StatusOK, "index.html", pageData{
		Title:         "Leukemia Blood Cell Cancer Classification",
		Heading:       "Leukemia Blood Cell Cancer Detection",
		ThemeStyle:    themeStyle(h.Theme),
		View:          upload.View(),
		MaxUploadSize: h.MaxUploadSize,
		MaxUploadMB:   formatMB(h.MaxUploadSize),
	})
}

func (h *handler) state(c *gin.Context) {
	_, upload := h.session(c)
	c.JSON(http.StatusOK, upload.View())
}

func (h *handler) upload(c *gin.Context) {
	sessionID, upload := h.session(c)
	opLogger := logging.WithSession(logging.WithOperation(h.logger, "handlers.upload", ""), sessionID)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadSize+multipartOverhead)
	form, err := c.MultipartForm()
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds the upload limit"})
			return
		}
		if errors.Is(err, http.ErrNotMultipart) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "expected a multipart form"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to read upload"})
		return
	}

	files := form.File[classifier.FileField]
	switch {
	case len(files) == 0:
		// An emptied drop target resets the component.
		if _, err := upload.Select(c.Request.Context(), nil); err != nil {
			h.fail(c, opLogger, err)
			return
		}
		h.respond(c, upload, http.StatusOK)
		return
	case len(files) > 1:
		c.JSON(http.StatusBadRequest, gin.H{"error": "only one image may be uploaded"})
		return
	}

	file, status, msg := h.readImage(files[0])
	if file == nil {
		c.JSON(status, gin.H{"error": msg})
		return
	}

	sub, err := upload.Select(c.Request.Context(), file)
	if err != nil {
		h.fail(c, opLogger, err)
		return
	}
	opLogger.Info("image accepted",
		zap.String("request_id", sub.RequestID()),
		zap.String("content_type", file.ContentType),
		zap.Int("size", len(file.Data)),
	)
	h.respond(c, upload, http.StatusAccepted)
}

// readImage applies the drop target's rules: one image, under the size limit.
func (h *handler) readImage(header *multipart.FileHeader) (*usecase.File, int, string) {
	if header.Size > h.MaxUploadSize {
		return nil, http.StatusRequestEntityTooLarge, "image exceeds the upload limit"
	}
	src, err := header.Open()
	if err != nil {
		return nil, http.StatusBadRequest, "unable to open image"
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, h.MaxUploadSize+1))
	if err != nil {
		return nil, http.StatusInternalServerError, "failed to read image"
	}
	if int64(len(data)) > h.MaxUploadSize {
		return nil, http.StatusRequestEntityTooLarge, "image exceeds the upload limit"
	}

	kind, err := filetype.Match(data)
	if err != nil || !filetype.IsImage(data) {
		return nil, http.StatusUnsupportedMediaType, "only image files are accepted"
	}
	return &usecase.File{
		Name:        header.Filename,
		ContentType: kind.MIME.Value,
		Data:        data,
	}, http.StatusOK, ""
}

func (h *handler) clear(c *gin.Context) {
	sessionID, upload := h.session(c)
	if err := upload.Clear(c.Request.Context()); err != nil {
		h.fail(c, logging.WithSession(h.logger, sessionID), err)
		return
	}
	h.respond(c, upload, http.StatusOK)
}

func (h *handler) preview(c *gin.Context) {
	img, err := h.Previews.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if !errors.Is(err, preview.ErrNotFound) {
			h.logger.Warn("preview lookup failed", zap.Error(err))
		}
		c.Status(http.StatusNotFound)
		return
	}
	c.Header("Cache-Control", "private, no-store")
	c.Data(http.StatusOK, img.ContentType, img.Data)
}

// respond answers fetch callers with the view and plain form posts with a
// redirect back to the page.
func (h *handler) respond(c *gin.Context, upload *usecase.ImageUpload, status int) {
	if wantsJSON(c.Request) {
		c.JSON(status, upload.View())
		return
	}
	c.Redirect(http.StatusSeeOther, "/")
}

func (h *handler) fail(c *gin.Context, logger *zap.Logger, err error) {
	logger.Error("request failed", zap.Error(err))
	status := http.StatusInternalServerError
	if errors.Is(err, usecase.ErrClosed) {
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": "unable to process the image right now"})
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func formatMB(n int64) string {
	return strconv.FormatFloat(float64(n)/1_000_000, 'f', -1, 64)
}
