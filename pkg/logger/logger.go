package logger

import (
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/storepilot/backend/pkg/response"
)

// RequestIDHeader is echoed back on every response and attached to request logs.
const RequestIDHeader = "X-Request-ID"

// Gin context keys read by the request logger.
const (
	ContextRequestID = "request_id"
	contextUserID    = "user_id"
)

var log zerolog.Logger

// Init configures the process logger. format "console" selects the human
// readable writer, "json" forces JSON; when empty, debug level implies console.
func Init(level, format string) {
	setup(os.Stdout, level, format)
}

func setup(out io.Writer, level, format string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	console := lvl == zerolog.DebugLevel
	switch strings.ToLower(format) {
	case "console":
		console = true
	case "json":
		console = false
	}
	if console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	log = zerolog.New(out).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

func init() {
	Init("info", "")
}

func Debug() *zerolog.Event { return log.Debug() }
func Info() *zerolog.Event  { return log.Info() }
func Warn() *zerolog.Event  { return log.Warn() }
func Error() *zerolog.Event { return log.Error() }
func Fatal() *zerolog.Event { return log.Fatal() }

func Infof(format string, v ...interface{})  { log.Info().Msgf(format, v...) }
func Warnf(format string, v ...interface{})  { log.Warn().Msgf(format, v...) }
func Errorf(format string, v ...interface{}) { log.Error().Msgf(format, v...) }

// Fatalf logs and exits the process.
func Fatalf(format string, v ...interface{}) { log.Fatal().Msgf(format, v...) }

// Module is the logger of one backend component. Every event it emits
// carries module=<name>. It resolves the process logger on each call, so a
// package-level Module declared before Init still honours the configured
// level and writer.
type Module string

func (m Module) logger() *zerolog.Logger {
	l := log.With().Str("module", string(m)).Logger()
	return &l
}

func (m Module) Debug() *zerolog.Event { return m.logger().Debug() }
func (m Module) Info() *zerolog.Event  { return m.logger().Info() }
func (m Module) Warn() *zerolog.Event  { return m.logger().Warn() }
func (m Module) Error() *zerolog.Event { return m.logger().Error() }

func (m Module) Infof(format string, v ...interface{})  { m.logger().Info().Msgf(format, v...) }
func (m Module) Warnf(format string, v ...interface{})  { m.logger().Warn().Msgf(format, v...) }
func (m Module) Errorf(format string, v ...interface{}) { m.logger().Error().Msgf(format, v...) }

var httpLog = Module("http")

// GinLogger assigns each request an ID, echoes it in RequestIDHeader, and
// logs the request once it completes. Client errors log at warn, server
// errors at error.
func GinLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(ContextRequestID, requestID)
		c.Header(RequestIDHeader, requestID)

		c.Next()

		status := c.Writer.Status()
		var event *zerolog.Event
		switch {
		case status >= http.StatusInternalServerError:
			event = httpLog.Error()
		case status >= http.StatusBadRequest:
			event = httpLog.Warn()
		default:
			event = httpLog.Info()
		}
		if uid, ok := c.Get(contextUserID); ok {
			event = event.Interface("user_id", uid)
		}
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}
		event.
			Str("request_id", requestID).
			Int("status", status).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("query", c.Request.URL.RawQuery).
			Str("ip", c.ClientIP()).
			Dur("latency", time.Since(start)).
			Int("size", c.Writer.Size()).
			Msg("request")
	}
}

// GinRecovery turns a handler panic into a logged 500 in the unified
// response envelope.
func GinRecovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		httpLog.Error().
			Interface("panic", recovered).
			Str("request_id", c.GetString(ContextRequestID)).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Msg("panic recovered")
		c.AbortWithStatusJSON(http.StatusInternalServerError, response.Response{
			Code:    http.StatusInternalServerError,
			Message: "internal server error",
		})
	})
}
