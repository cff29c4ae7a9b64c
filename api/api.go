/*
Copyright 2024 Hamlet Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/hamletgame/hamlet"
	"github.com/hamletgame/hamlet/api/middleware"
	"github.com/hamletgame/hamlet/config"
	"github.com/hamletgame/hamlet/internal/apierror"
)

type Api struct {
	hamlet *hamlet.Hamlet
	router *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router

	router.POST("/villages", a.CreateVillage)
	router.GET("/villages/:id", a.GetVillage)
	router.GET("/villages/:id/balance", a.GetBalance)

	router.POST("/villages/:id/actions", a.ScheduleAction)
	router.POST("/villages/:id/build", a.StartBuildingUpgrade)
	router.GET("/villages/:id/actions", a.ListVillageActions)
	router.GET("/actions/:id", a.GetAction)

	return a.router
}

func NewAPI(h *hamlet.Hamlet) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(otelgin.Middleware(conf.ProjectName))
	r.Use(middleware.RateLimitMiddleware(conf))

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return &Api{hamlet: h, router: r}
}

// respondWithError writes err with the status matching its apierror code.
func respondWithError(c *gin.Context, err error) {
	c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
}
