package http

import (
	"context"
	"net/http"
	"os"

	"github.com/dkeye/callrelay/internal/adapters/signal"
	"github.com/dkeye/callrelay/internal/app"
	"github.com/dkeye/callrelay/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

const clientTokenKey = "ct"

// ClientTokenMiddleware gives every browser a stable token kept in the
// session cookie. It only correlates log lines; it is not an identity.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		token, _ := session.Get(clientTokenKey).(string)
		if token == "" {
			token = uuid.NewString()
			session.Set(clientTokenKey, token)
			if err := session.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
			}
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, router *app.Router) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions("CallRelaySessions", store))
	r.Use(ClientTokenMiddleware())

	if st, err := os.Stat(cfg.StaticPath); err == nil && st.IsDir() {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
		log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("serving static assets")
	}

	ctrl := signal.NewSignalWSController(router, cfg)
	r.GET(cfg.WSPath, func(c *gin.Context) {
		ctrl.HandleSignal(ctx, c)
	})

	api := r.Group("/api")
	api.GET("/health", handleHealth)
	api.GET("/stats", handleStats(router.Registry))

	log.Info().Str("module", "adapters.http").Str("ws_path", cfg.WSPath).Msg("router setup")
	return r
}

// NewHandler wraps the gin engine with CORS for browser clients hosted on
// another origin.
func NewHandler(ctx context.Context, cfg *config.Config, router *app.Router) http.Handler {
	c := cors.New(cors.Options{
		AllowOriginFunc:  cfg.OriginAllowed,
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowCredentials: true,
	})
	return c.Handler(SetupRouter(ctx, cfg, router))
}
