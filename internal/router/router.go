package router

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/psds-microservice/helpy/paths"
	"github.com/psds-microservice/support-service/api"
	"github.com/psds-microservice/support-service/internal/auth"
	"github.com/psds-microservice/support-service/internal/handler"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

type Deps struct {
	Tickets  *handler.TicketHandler
	Sessions *handler.SessionHandler
	Stream   *handler.StreamHandler
	Verifier *auth.Verifier
	Ready    handler.Pinger
	Active   handler.SessionCounter
	Origins  []string
	Log      *slog.Logger
}

func New(d Deps) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	if d.Log != nil {
		r.Use(handler.RequestLogger(d.Log))
	}
	r.Use(handler.CORS(d.Origins))

	r.GET(paths.PathHealth, handler.Health(d.Active))
	r.GET(paths.PathReady, handler.Ready(d.Ready))
	r.GET(paths.PathSwagger, func(c *gin.Context) { c.Redirect(http.StatusFound, paths.PathSwagger+"/") })
	r.GET(paths.PathSwagger+"/*any", func(c *gin.Context) {
		if strings.TrimPrefix(c.Param("any"), "/") == "openapi.json" {
			c.Data(http.StatusOK, "application/json", api.OpenAPISpec)
			return
		}
		if strings.TrimPrefix(c.Param("any"), "/") == "" {
			c.Request.URL.Path = paths.PathSwagger + "/index.html"
			c.Request.RequestURI = paths.PathSwagger + "/index.html"
		}
		ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/openapi.json"))(c)
	})

	supporter := auth.Middleware(d.Verifier)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/tickets", d.Tickets.Create)
		// очередь и карточки тикетов отдают session_id, поэтому только саппортерам
		v1.GET("/tickets", supporter, d.Tickets.List)
		v1.GET("/tickets/stream", supporter, d.Stream.Stream)
		v1.GET("/tickets/:id", supporter, d.Tickets.Get)
		v1.POST("/tickets/:id/assign", supporter, d.Tickets.Assign)
		v1.POST("/tickets/:id/release", supporter, d.Tickets.Release)
		v1.PUT("/tickets/:id/status", supporter, d.Tickets.UpdateStatus)

		v1.GET("/sessions/:session_id", d.Sessions.Get)
		v1.GET("/sessions/:session_id/messages", d.Sessions.Messages)
		v1.GET("/sessions/:session_id/presence", d.Sessions.Presence)
	}

	ws := r.Group("/ws/support")
	{
		ws.GET("/user/:session_id", d.Sessions.UserWS)
		ws.GET("/supporter/:session_id", supporter, d.Sessions.SupporterWS)
	}

	return r
}
