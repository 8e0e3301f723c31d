package httpserver

import (
	"time"

	"cartservice/internal/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// buildRouter wires routes for the API.
func buildRouter(log *zap.Logger, deps Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(logger.GinMiddleware(log), logger.Recovery(log))

	origins := deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	router.GET("/healthz", healthHandler)
	router.GET("/readyz", readyHandler(deps.Checks))

	h := &cartHandlers{svc: deps.CartSvc}
	cart := router.Group("/cart")
	cart.GET("/:userId", h.getCart)
	cart.POST("", h.addToCart)
	cart.POST("/add", h.addToCart)
	cart.PUT("/quantity", h.setQuantity)
	cart.DELETE("/:userId/items/:productId", h.removeItem)

	internal := router.Group("/internal")
	internal.GET("/carts/user/:userId", h.getByUserID)
	internal.GET("/users/:userId", h.getUser)
	internal.DELETE("/carts/:id", h.deleteCart)

	return router
}
